package cron

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"
)

type fakeExecutor struct {
	exitCode int
	err      error
	delay    time.Duration
	calls    int
}

func (f *fakeExecutor) Execute(ctx context.Context, name string) (int, error) {
	f.calls++
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return -1, ctx.Err()
		}
	}
	return f.exitCode, f.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(testWriter{}, nil))
}

type testWriter struct{}

func (testWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestScheduledJobTriggerSyncReportsExitCode(t *testing.T) {
	exec := &fakeExecutor{exitCode: 0}
	job, err := NewScheduledJob("nightly", "0 0 3 * * *", "", 10, exec, discardLogger())
	if err != nil {
		t.Fatalf("NewScheduledJob: %v", err)
	}

	code, err := job.TriggerSync(context.Background())
	if err != nil {
		t.Fatalf("TriggerSync: %v", err)
	}
	if code != 0 {
		t.Fatalf("code = %d, want 0", code)
	}
	if job.GetState() != JobStateIdle {
		t.Fatalf("state = %v, want idle after completion", job.GetState())
	}
}

func TestScheduledJobOverlapSkipsAndCallsHook(t *testing.T) {
	exec := &fakeExecutor{exitCode: 0, delay: 100 * time.Millisecond}
	job, err := NewScheduledJob("slow", "0 0 3 * * *", "", 10, exec, discardLogger())
	if err != nil {
		t.Fatalf("NewScheduledJob: %v", err)
	}
	skipped := make(chan string, 1)
	job.OnOverlapSkipped = func(name string) { skipped <- name }

	go job.execute(context.Background(), "schedule")
	time.Sleep(10 * time.Millisecond) // let it enter Executing

	if err := job.Trigger(context.Background()); err == nil {
		t.Fatal("expected Trigger to reject an overlapping run")
	}

	select {
	case name := <-skipped:
		if name != "slow" {
			t.Fatalf("skipped name = %q, want slow", name)
		}
	case <-time.After(time.Second):
		t.Fatal("OnOverlapSkipped was not called")
	}
}

func TestScheduledJobPauseRejectsTrigger(t *testing.T) {
	exec := &fakeExecutor{exitCode: 0}
	job, err := NewScheduledJob("paused", "0 0 3 * * *", "", 10, exec, discardLogger())
	if err != nil {
		t.Fatalf("NewScheduledJob: %v", err)
	}
	if err := job.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if err := job.Trigger(context.Background()); err == nil {
		t.Fatal("expected Trigger to reject a paused job")
	}
}

func TestScheduledJobRejectsInvalidExpression(t *testing.T) {
	_, err := NewScheduledJob("bad", "not a cron expr", "", 10, &fakeExecutor{}, discardLogger())
	if err == nil {
		t.Fatal("expected an error for an invalid 6-field expression")
	}
}

func TestScheduledJobExecutionErrorRecordedInHistory(t *testing.T) {
	exec := &fakeExecutor{exitCode: 1, err: errors.New("boom")}
	job, err := NewScheduledJob("flaky", "0 0 3 * * *", "", 10, exec, discardLogger())
	if err != nil {
		t.Fatalf("NewScheduledJob: %v", err)
	}
	_, _ = job.TriggerSync(context.Background())

	last, ok := job.History.GetLast()
	if !ok {
		t.Fatal("expected a history entry")
	}
	if last.Success {
		t.Fatal("expected Success=false for non-zero exit")
	}
	if last.Error != "boom" {
		t.Fatalf("Error = %q, want boom", last.Error)
	}
}
