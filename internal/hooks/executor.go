// Package hooks fires the declarative (stage, outcome) hook table a
// ServiceSpec carries. Dispatch happens at known state transitions inside
// the monitor loop; hooks are fire-and-forget and never influence service
// state (spec.md §4.11, §9).
package hooks

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/sysg-dev/sysg/internal/config"
)

// Runner executes a single hook invocation: a shell, the service's merged
// environment, and a timeout that escalates to SIGKILL.
type Runner struct {
	Logger *slog.Logger
}

// Run fires hook for service's (stage, outcome) transition. It never
// returns an error to the caller — per spec.md §7, HookError is logged,
// never surfaced — but Run itself blocks until the hook exits or its
// timeout fires, since callers decide whether to await it or detach it
// into a goroutine for true fire-and-forget semantics.
func (r *Runner) Run(ctx context.Context, service string, stage config.HookStage, outcome config.HookOutcome, hook config.Hook) {
	if len(hook.Command) == 0 {
		return
	}

	attempts := hook.Retry + 1
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 && hook.RetryDelay > 0 {
			select {
			case <-time.After(hook.RetryDelay):
			case <-ctx.Done():
				return
			}
		}
		if err := r.runOnce(ctx, service, stage, outcome, hook); err != nil {
			lastErr = err
			r.log().Warn("hook attempt failed",
				"service", service, "stage", stage, "outcome", outcome, "attempt", attempt+1, "error", err)
			continue
		}
		return
	}
	if lastErr != nil {
		r.log().Error("hook failed, all retries exhausted",
			"service", service, "stage", stage, "outcome", outcome, "error", lastErr)
	}
}

func (r *Runner) runOnce(ctx context.Context, service string, stage config.HookStage, outcome config.HookOutcome, hook config.Hook) error {
	runCtx := ctx
	var cancel context.CancelFunc
	if hook.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, hook.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, "sh", "-c", strings.Join(hook.Command, " "))
	if hook.WorkingDir != "" {
		cmd.Dir = hook.WorkingDir
	}
	cmd.Env = os.Environ()
	for k, v := range hook.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	output, err := cmd.CombinedOutput()
	prefix := fmt.Sprintf("[%s/%s/%s]", service, stage, outcome)
	if len(output) > 0 {
		r.log().Debug("hook output", "prefix", prefix, "output", string(output))
	}

	if err != nil {
		if hook.ContinueOnError {
			r.log().Warn("hook failed, continuing due to continue_on_error", "prefix", prefix, "error", err)
			return nil
		}
		return fmt.Errorf("%s: %w", prefix, err)
	}
	return nil
}

func (r *Runner) log() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}
