package cron

import (
	"context"
	"testing"

	"github.com/sysg-dev/sysg/internal/config"
	"github.com/sysg-dev/sysg/internal/supervisor"
)

func TestServiceExecutorRunsRegisteredService(t *testing.T) {
	launcher := &supervisor.Launcher{StateDir: t.TempDir()}
	exec := NewServiceExecutor(launcher, discardLogger())

	spec := &config.ServiceSpec{Name: "cron-ok", Kind: config.KindCron, Command: []string{"true"}}
	if err := exec.Register(spec); err != nil {
		t.Fatalf("Register: %v", err)
	}

	code, err := exec.Execute(context.Background(), "cron-ok")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if code != 0 {
		t.Fatalf("code = %d, want 0", code)
	}
}

func TestServiceExecutorReportsNonZeroExit(t *testing.T) {
	launcher := &supervisor.Launcher{StateDir: t.TempDir()}
	exec := NewServiceExecutor(launcher, discardLogger())

	spec := &config.ServiceSpec{Name: "cron-fail", Kind: config.KindCron, Command: []string{"false"}}
	if err := exec.Register(spec); err != nil {
		t.Fatalf("Register: %v", err)
	}

	code, err := exec.Execute(context.Background(), "cron-fail")
	if err == nil {
		t.Fatal("expected an error for a non-zero exit")
	}
	if code != 1 {
		t.Fatalf("code = %d, want 1", code)
	}
}

func TestServiceExecutorRejectsUnregisteredService(t *testing.T) {
	launcher := &supervisor.Launcher{StateDir: t.TempDir()}
	exec := NewServiceExecutor(launcher, discardLogger())

	if _, err := exec.Execute(context.Background(), "nope"); err == nil {
		t.Fatal("expected an error for an unregistered service")
	}
}
