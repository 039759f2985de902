package daemon

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/sysg-dev/sysg/internal/config"
	"github.com/sysg-dev/sysg/internal/depgraph"
	"github.com/sysg-dev/sysg/internal/metrics"
	"github.com/sysg-dev/sysg/internal/supervisor"
)

// ReloadConfig diffs newCfg against the running configuration and applies
// the difference: removed services are stopped, new ones are started,
// changed ones are stopped and relaunched under their new spec. Adapted
// from the teacher's process.Manager.ReloadConfig, generalized from its
// single-pass process map to the dependency-ordered, multi-kind service
// model this daemon runs.
func (d *Daemon) ReloadConfig(ctx context.Context, newCfg *config.Config) error {
	graph := depgraph.FromConfig(newCfg.Services)
	if err := graph.Validate(); err != nil {
		return fmt.Errorf("validate new config: %w", err)
	}
	if has, cycle := graph.HasCycle(); has {
		return fmt.Errorf("new config has circular dependency: %v", cycle)
	}
	order, err := graph.TopologicalSort()
	if err != nil {
		return fmt.Errorf("order new config: %w", err)
	}

	var toStop, toStart, toUpdate []string
	d.mu.Lock()
	for name := range d.cfg.Services {
		if _, ok := newCfg.Services[name]; !ok {
			toStop = append(toStop, name)
		}
	}
	for name, spec := range newCfg.Services {
		if old, ok := d.cfg.Services[name]; ok {
			if !reflect.DeepEqual(old, spec) {
				toUpdate = append(toUpdate, name)
			}
		} else {
			toStart = append(toStart, name)
		}
	}
	d.mu.Unlock()

	d.logger.Info("reloading configuration",
		"to_stop", toStop, "to_start", toStart, "to_update", toUpdate)

	for _, name := range toStop {
		d.stopService(ctx, name, "removed from config", false)
		d.mu.Lock()
		delete(d.services, name)
		d.mu.Unlock()
		if spec := d.cfg.Services[name]; spec != nil && spec.Kind == config.KindCron {
			d.stopCronService(name)
		}
	}

	for _, name := range toUpdate {
		d.stopService(ctx, name, "config changed", false)
		if spec := d.cfg.Services[name]; spec != nil && spec.Kind == config.KindCron {
			d.stopCronService(name)
		}
		d.mu.Lock()
		delete(d.services, name)
		d.mu.Unlock()
	}

	d.mu.Lock()
	d.cfg = newCfg
	d.graph = graph
	d.order = order
	d.mu.Unlock()

	toLaunch := append(append([]string{}, toStart...), toUpdate...)
	launchSet := make(map[string]bool, len(toLaunch))
	for _, name := range toLaunch {
		launchSet[name] = true
	}
	for _, name := range order {
		if !launchSet[name] {
			continue
		}
		if err := d.startOne(ctx, name); err != nil {
			d.logger.Error("failed to start service during reload", "service", name, "error", err)
			d.audit.LogSystemError(name, err.Error())
		}
	}

	d.mu.Lock()
	d.syncPersistenceLocked()
	d.mu.Unlock()
	d.audit.LogConfigReload("")
	return nil
}

// startOne registers and launches a single service the way Start
// does for one entry of its loop. It takes d.mu only around bookkeeping
// and the dependency gate; launchInstance manages its own locking around
// the readiness wait, since ReloadConfig processes services one at a
// time rather than under one long-held lock.
func (d *Daemon) startOne(ctx context.Context, name string) error {
	d.mu.Lock()
	spec := d.cfg.Services[name]
	priv, err := supervisor.ResolveCredentials(spec.Privilege)
	if err != nil {
		d.mu.Unlock()
		return fmt.Errorf("resolve credentials for %s: %w", name, err)
	}

	rt := &serviceRuntime{
		spec:      spec,
		priv:      priv,
		state:     supervisor.Stopped,
		instances: make(map[int]*instanceRuntime),
	}
	d.services[name] = rt
	metrics.SetDesiredScale(name, spec.Scale)

	if ok, failedDep := d.dependenciesSatisfiedLocked(name); !ok {
		rt.state = supervisor.Skipped
		rt.reason = fmt.Sprintf("dependency %s failed", failedDep)
		rt.since = time.Now()
		d.syncPersistenceLocked()
		d.mu.Unlock()
		d.audit.LogServiceSkipped(name)
		return nil
	}

	if spec.Kind == config.KindCron {
		err := d.startCronService(spec)
		d.mu.Unlock()
		return err
	}
	d.mu.Unlock()

	scale := spec.Scale
	if scale <= 0 {
		scale = 1
	}
	for i := 0; i < scale; i++ {
		if err := d.launchInstance(ctx, name, i, 0, config.StageStart); err != nil {
			return fmt.Errorf("launch %s instance %d: %w", name, i, err)
		}
	}
	return nil
}

// stopCronService removes name's schedule and registration from the
// scheduler and executor, the cron-kind analogue of stopService.
func (d *Daemon) stopCronService(name string) {
	_ = d.scheduler.RemoveJob(name)
	d.cronExecutor.Unregister(name)
	d.mu.Lock()
	delete(d.heartbeats, name)
	d.mu.Unlock()
}
