package daemon

import (
	"context"
	"syscall"
	"time"

	"github.com/sysg-dev/sysg/internal/config"
	"github.com/sysg-dev/sysg/internal/metrics"
	"github.com/sysg-dev/sysg/internal/supervisor"
)

// monitorInstance blocks until handle exits, then either relaunches the
// instance under the service's restart policy or settles it into a
// terminal state. One goroutine runs per live instance; the daemon lock
// serializes its state mutations against concurrent control requests.
// Every mutation below is immediately followed by a persistence sync so
// state.json/pid.json never lag a reap by more than this one critical
// section, satisfying spec.md §3's "rewritten atomically after every
// state change" and the stale-pid-within-one-iteration invariant.
func (d *Daemon) monitorInstance(name string, instance int, handle *supervisor.ProcessHandle) {
	res := <-handle.Exit

	d.mu.Lock()
	rt, ok := d.services[name]
	if !ok {
		d.mu.Unlock()
		return
	}

	if rt.stopping {
		delete(rt.instances, instance)
		if len(rt.instances) == 0 {
			if rt.cascaded {
				rt.state = supervisor.ExitedWithError
				rt.exit = &supervisor.ExitReason{Cascaded: true, Reason: "cascaded"}
				rt.reason = "cascaded"
			} else {
				rt.state = supervisor.Stopped
			}
			rt.since = time.Now()
		}
		d.syncPersistenceLocked()
		d.mu.Unlock()
		metrics.RecordServiceStop(name, instanceLabel(instance), res.Code)
		return
	}

	ir := rt.instances[instance]
	exit := &supervisor.ExitReason{Code: res.Code, Signal: res.Signal}
	rt.exit = exit
	rt.state = terminalState(exit)
	rt.since = time.Now()
	d.syncPersistenceLocked()
	if res.Signal != 0 {
		d.audit.LogServiceCrash(name, handle.Pid, res.Code, signalName(res.Signal))
	}
	metrics.RecordServiceStop(name, instanceLabel(instance), res.Code)

	policy := supervisor.NewRestartPolicy(rt.spec)
	shouldRestart := rt.spec.Kind != config.KindOneshot && policy.ShouldRestart(res.Code, ir.restarts)
	backoff := policy.Backoff()
	spec := rt.spec
	restarts := ir.restarts
	d.mu.Unlock()

	if !shouldRestart {
		d.fireHook(name, config.StageStop, outcomeFor(exit), spec)
		d.settleTerminal(name, instance, exit)
		return
	}

	select {
	case <-time.After(backoff):
	case <-d.shutdownCh:
		return
	}

	d.mu.Lock()
	rt, ok = d.services[name]
	if !ok || rt.stopping {
		d.mu.Unlock()
		return
	}
	d.mu.Unlock()

	metrics.RecordServiceRestart(name, restartReason(exit))
	if err := d.launchInstance(context.Background(), name, instance, restarts+1, config.StageRestart); err != nil {
		d.logger.Warn("restart attempt did not settle successfully", "service", name, "instance", instance, "error", err)
	}
}

// settleTerminal marks a service with no remaining live instances and no
// restart forthcoming, and cascades the stop to anything declared as
// depending on it: a dependency that will never come back up leaves its
// dependents unable to run correctly, so they are stopped too rather than
// left running against a dead peer. A dependent that is actually running
// settles into ExitedWithError{reason:"cascaded"} via stopService's
// cascaded flag, not Stopped, per spec.md §4.5.
func (d *Daemon) settleTerminal(name string, instance int, exit *supervisor.ExitReason) {
	d.mu.Lock()
	rt, ok := d.services[name]
	if !ok {
		d.mu.Unlock()
		return
	}
	delete(rt.instances, instance)
	if len(rt.instances) == 0 {
		rt.state = terminalState(exit)
		rt.since = time.Now()
	}
	d.syncPersistenceLocked()
	dependents := d.graph.Dependents(name)
	d.mu.Unlock()

	for _, dep := range dependents {
		d.stopService(context.Background(), dep, "dependency "+name+" will not restart", true)
	}
}

// terminalState classifies an exit: a signal kill is Crashed, a plain
// nonzero exit code is ExitedWithError, anything else ExitedSuccessfully.
func terminalState(exit *supervisor.ExitReason) supervisor.State {
	switch {
	case exit.Signal != 0:
		return supervisor.Crashed
	case exit.Code != 0:
		return supervisor.ExitedWithError
	default:
		return supervisor.ExitedSuccessfully
	}
}

func signalName(sig int) string {
	if sig == 0 {
		return ""
	}
	return syscall.Signal(sig).String()
}

func outcomeFor(exit *supervisor.ExitReason) config.HookOutcome {
	if exit.Code == 0 && exit.Signal == 0 {
		return config.OutcomeSuccess
	}
	return config.OutcomeError
}

func restartReason(exit *supervisor.ExitReason) string {
	if exit.Code == 0 && exit.Signal == 0 {
		return "normal_exit"
	}
	return "crash"
}
