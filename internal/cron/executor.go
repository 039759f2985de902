package cron

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"syscall"

	"github.com/sysg-dev/sysg/internal/config"
	"github.com/sysg-dev/sysg/internal/supervisor"
)

// registration pairs a cron-kind ServiceSpec with its resolved privilege
// context so Execute never has to re-resolve user/group lookups per tick.
type registration struct {
	spec *config.ServiceSpec
	priv supervisor.PrivilegeContext
}

// ServiceExecutor adapts the supervisor's process launcher to the
// JobExecutor interface ScheduledJob expects: spawn the service's
// command, wait for it to exit, report the result.
type ServiceExecutor struct {
	Launcher *supervisor.Launcher
	logger   *slog.Logger

	mu    sync.RWMutex
	regs  map[string]registration
}

// NewServiceExecutor creates a ServiceExecutor over the given launcher.
func NewServiceExecutor(launcher *supervisor.Launcher, logger *slog.Logger) *ServiceExecutor {
	return &ServiceExecutor{
		Launcher: launcher,
		logger:   logger.With("component", "cron_executor"),
		regs:     make(map[string]registration),
	}
}

// Register makes spec executable by name. Called once per cron service at
// daemon startup or on config reload.
func (e *ServiceExecutor) Register(spec *config.ServiceSpec) error {
	priv, err := supervisor.ResolveCredentials(spec.Privilege)
	if err != nil {
		return fmt.Errorf("resolve credentials for %s: %w", spec.Name, err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.regs[spec.Name] = registration{spec: spec, priv: priv}
	return nil
}

// Unregister removes a service from the executor, e.g. on config reload.
func (e *ServiceExecutor) Unregister(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.regs, name)
}

// Execute runs the named service's command to completion and returns its
// exit code. It implements JobExecutor.
func (e *ServiceExecutor) Execute(ctx context.Context, name string) (int, error) {
	e.mu.RLock()
	reg, ok := e.regs[name]
	e.mu.RUnlock()
	if !ok {
		return -1, fmt.Errorf("service %q not registered with cron executor", name)
	}

	handle, err := e.Launcher.Launch(ctx, reg.spec, reg.priv, supervisor.CronInvocation)
	if err != nil {
		if errors.Is(err, supervisor.ErrSkipConditionMet) {
			e.logger.Debug("cron invocation skipped by skip_probe condition", "service", name)
			return 0, nil
		}
		return -1, fmt.Errorf("launch %s: %w", name, err)
	}

	select {
	case res := <-handle.Exit:
		if res.Signal != 0 {
			return -1, fmt.Errorf("%s killed by signal %d", name, res.Signal)
		}
		if res.Code != 0 {
			return res.Code, fmt.Errorf("%s exited with code %d", name, res.Code)
		}
		return 0, nil
	case <-ctx.Done():
		_ = handle.Signal(syscall.SIGKILL)
		res := <-handle.Exit
		return res.Code, ctx.Err()
	}
}
