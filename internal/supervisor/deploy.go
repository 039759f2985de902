package supervisor

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"time"

	"github.com/sysg-dev/sysg/internal/config"
)

// DeploymentError wraps the reason a deployment was rolled back.
type DeploymentError struct {
	Cause error
}

func (e *DeploymentError) Error() string { return fmt.Sprintf("deployment failed: %v", e.Cause) }
func (e *DeploymentError) Unwrap() error { return e.Cause }

var (
	ErrReadinessFailed   = errors.New("replacement exited before readiness window elapsed")
	ErrHealthCheckFailed = errors.New("health check failed")
)

// Deployer implements the Immediate and Rolling strategies of spec.md §4.6.
type Deployer struct {
	Launcher *Launcher
	Global   config.Global
}

// StopHandle sends SIGTERM to h's process group, waits up to grace for
// exit, then escalates to SIGKILL. It returns once the exit has been
// observed on h.Exit.
func StopHandle(ctx context.Context, h *ProcessHandle, grace time.Duration) ExitResult {
	_ = h.Signal(syscall.SIGTERM)

	select {
	case res := <-h.Exit:
		return res
	case <-time.After(grace):
		_ = h.Signal(syscall.SIGKILL)
		return <-h.Exit
	case <-ctx.Done():
		_ = h.Signal(syscall.SIGKILL)
		return <-h.Exit
	}
}

// Immediate stops the current handle (if any), waits for exit, then
// launches the replacement. Brief downtime, per spec.md §4.6.
func (d *Deployer) Immediate(ctx context.Context, spec *config.ServiceSpec, priv PrivilegeContext, current *ProcessHandle, grace time.Duration) (*ProcessHandle, error) {
	if current != nil {
		StopHandle(ctx, current, grace)
	}
	return d.Launcher.Launch(ctx, spec, priv, PrimaryRun)
}

// Rolling launches a replacement alongside the current handle, health
// gates the cutover, and only tears down the old handle once the new one
// is healthy. Any failure after the replacement is launched stops the
// replacement and leaves the caller's current handle untouched.
func (d *Deployer) Rolling(ctx context.Context, spec *config.ServiceSpec, priv PrivilegeContext, current *ProcessHandle) (*ProcessHandle, error) {
	replacement, err := d.Launcher.Launch(ctx, spec, priv, RollingReplacement)
	if err != nil {
		return nil, &DeploymentError{Cause: err}
	}

	readiness := spec.Readiness(d.Global)
	select {
	case res := <-replacement.Exit:
		return nil, &DeploymentError{Cause: fmt.Errorf("%w: exit code=%d signal=%d", ErrReadinessFailed, res.Code, res.Signal)}
	case <-time.After(readiness):
	}

	if spec.Deploy.Health != nil {
		if err := ProbeHealth(ctx, spec.Deploy.Health); err != nil {
			StopHandle(ctx, replacement, spec.Deploy.GracePeriod)
			return nil, &DeploymentError{Cause: fmt.Errorf("%w: %v", ErrHealthCheckFailed, err)}
		}
	}

	if spec.Deploy.GracePeriod > 0 {
		time.Sleep(spec.Deploy.GracePeriod)
	}

	if current != nil {
		StopHandle(ctx, current, spec.Deploy.GracePeriod)
	}

	return replacement, nil
}

// Deploy dispatches to the strategy spec declares.
func (d *Deployer) Deploy(ctx context.Context, spec *config.ServiceSpec, priv PrivilegeContext, current *ProcessHandle, grace time.Duration) (*ProcessHandle, error) {
	switch spec.Deploy.Strategy {
	case config.DeployRolling:
		return d.Rolling(ctx, spec, priv, current)
	default:
		return d.Immediate(ctx, spec, priv, current, grace)
	}
}
