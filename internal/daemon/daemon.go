// Package daemon is the façade that composes every other subsystem into
// the running supervisor: dependency-ordered startup, the per-instance
// monitor loop that applies restart policy, rolling/immediate deployment,
// the cron scheduler, dynamic spawn authorization, and persistence of the
// pid map, state map, and cron history. It implements control.Handler so
// the control endpoint can drive it from outside.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sysg-dev/sysg/internal/audit"
	"github.com/sysg-dev/sysg/internal/config"
	"github.com/sysg-dev/sysg/internal/cron"
	"github.com/sysg-dev/sysg/internal/depgraph"
	"github.com/sysg-dev/sysg/internal/hooks"
	"github.com/sysg-dev/sysg/internal/metrics"
	"github.com/sysg-dev/sysg/internal/persistence"
	"github.com/sysg-dev/sysg/internal/spawn"
	"github.com/sysg-dev/sysg/internal/supervisor"
	"github.com/sysg-dev/sysg/internal/tracing"
)

// instanceRuntime is the live state of one running instance of a service
// (a static service may run Scale > 1 of these concurrently).
type instanceRuntime struct {
	handle   *supervisor.ProcessHandle
	restarts int
}

// serviceRuntime is the daemon's live bookkeeping for one declared
// service, independent of config.ServiceSpec which stays immutable.
type serviceRuntime struct {
	spec *config.ServiceSpec
	priv supervisor.PrivilegeContext

	state  supervisor.State
	since  time.Time
	exit   *supervisor.ExitReason
	reason string

	instances map[int]*instanceRuntime
	stopping  bool // true once a deliberate Stop is in flight; suppresses auto-restart
	cascaded  bool // true when stopping was triggered by a dependency settling terminal

	spawnRoot uuid.UUID // forest root ID when spec.SpawnMode == SpawnDynamic, else uuid.Nil
}

// Daemon owns every running service, the dependency graph that ordered
// their startup, the cron scheduler, and the dynamic spawn forest. All
// mutation of its runtime maps happens under mu, the single daemon lock
// spec.md's design calls for: concurrent control requests and concurrent
// instance exits all serialize through it.
type Daemon struct {
	mu sync.Mutex

	cfg    *config.Config
	dir    string
	logger *slog.Logger

	launcher *supervisor.Launcher
	deployer *supervisor.Deployer

	graph    *depgraph.Graph
	order    []string
	services map[string]*serviceRuntime

	hookRunner *hooks.Runner
	audit      *audit.Logger

	forest     *spawn.Forest
	authorizer *spawn.Authorizer

	scheduler    *cron.Scheduler
	cronExecutor *cron.ServiceExecutor
	heartbeats   map[string]*cron.HeartbeatClient

	startedAt    time.Time
	shutdown     bool
	shutdownCh   chan struct{}
	shutdownOnce sync.Once
}

// New builds a Daemon over cfg. dir is the state directory persistence
// reads and writes under (typically setup.GetRuntimeDir()'s result).
func New(cfg *config.Config, dir string, logger *slog.Logger, auditLogger *audit.Logger) *Daemon {
	launcher := &supervisor.Launcher{StateDir: dir, Logger: logger}
	d := &Daemon{
		cfg:        cfg,
		dir:        dir,
		logger:     logger.With("component", "daemon"),
		launcher:   launcher,
		deployer:   &supervisor.Deployer{Launcher: launcher, Global: cfg.Global},
		graph:      depgraph.FromConfig(cfg.Services),
		services:   make(map[string]*serviceRuntime),
		hookRunner: &hooks.Runner{Logger: logger},
		audit:      auditLogger,
		forest:     spawn.NewForest(),
		heartbeats: make(map[string]*cron.HeartbeatClient),
		shutdownCh: make(chan struct{}),
	}
	d.authorizer = spawn.NewAuthorizer(d.forest)
	d.cronExecutor = cron.NewServiceExecutor(launcher, logger)
	d.scheduler = cron.NewScheduler(d.wrapCronExecutor(), logger)
	return d
}

// Start brings up every declared service in dependency order, then starts
// the cron scheduler. Each service's launch blocks out its readiness
// window before the next one in the order is considered, so a dependent
// never sees its prerequisite in anything but a settled state: Running,
// ExitedSuccessfully, or a failure that gates the dependent into Skipped.
func (d *Daemon) Start(ctx context.Context) error {
	ctx, span := tracing.StartDaemonSpan(ctx, "start")
	defer span.End()

	d.mu.Lock()
	if err := d.graph.Validate(); err != nil {
		d.mu.Unlock()
		return fmt.Errorf("validate dependency graph: %w", err)
	}
	order, err := d.graph.TopologicalSort()
	if err != nil {
		d.mu.Unlock()
		return fmt.Errorf("compute startup order: %w", err)
	}
	d.order = order
	d.startedAt = time.Now()
	metrics.SetDaemonServiceCount(len(d.cfg.Services))
	metrics.SetDaemonStartTime(float64(d.startedAt.Unix()))
	d.audit.LogSystemStart("")
	d.mu.Unlock()

	for _, name := range order {
		spec := d.cfg.Services[name]
		priv, err := supervisor.ResolveCredentials(spec.Privilege)
		if err != nil {
			tracing.RecordError(span, err, "resolve credentials")
			d.logger.Error("resolve credentials failed", "service", name, "error", err)
			continue
		}

		d.mu.Lock()
		rt := &serviceRuntime{
			spec:      spec,
			priv:      priv,
			state:     supervisor.Stopped,
			instances: make(map[int]*instanceRuntime),
		}
		d.services[name] = rt
		metrics.SetDesiredScale(name, spec.Scale)

		if spec.SpawnMode == config.SpawnDynamic {
			node := d.forest.Add(uuid.Nil, name, 0)
			rt.spawnRoot = node.ID
		}

		if ok, failedDep := d.dependenciesSatisfiedLocked(name); !ok {
			rt.state = supervisor.Skipped
			rt.reason = fmt.Sprintf("dependency %s failed", failedDep)
			rt.since = time.Now()
			d.syncPersistenceLocked()
			d.mu.Unlock()
			d.audit.LogServiceSkipped(name)
			continue
		}
		d.mu.Unlock()

		switch spec.Kind {
		case config.KindCron:
			d.mu.Lock()
			err := d.startCronService(spec)
			d.mu.Unlock()
			if err != nil {
				d.logger.Error("register cron service failed", "service", name, "error", err)
			}
		case config.KindOneshot:
			if err := d.launchInstance(ctx, name, 0, 0, config.StageStart); err != nil {
				d.logger.Warn("oneshot did not settle successfully", "service", name, "error", err)
			}
		default:
			scale := spec.Scale
			if scale <= 0 {
				scale = 1
			}
			for i := 0; i < scale; i++ {
				if err := d.launchInstance(ctx, name, i, 0, config.StageStart); err != nil {
					d.logger.Warn("instance did not survive its readiness window", "service", name, "instance", i, "error", err)
				}
			}
		}
	}

	d.scheduler.Start()
	d.mu.Lock()
	d.syncPersistenceLocked()
	d.mu.Unlock()
	tracing.RecordSuccess(span)
	return nil
}

// dependenciesSatisfiedLocked reports whether every service name depends
// on has already settled into Running or ExitedSuccessfully — the gate
// spec.md §4.5 requires before a dependent is allowed to leave Stopped.
// A prerequisite that never reached that state (Skipped, Crashed,
// ExitedWithError, or simply undeclared) fails the gate, and the caller
// is expected to mark name Skipped rather than launch it. Caller must
// hold d.mu.
func (d *Daemon) dependenciesSatisfiedLocked(name string) (ok bool, failedDep string) {
	spec, exists := d.cfg.Services[name]
	if !exists {
		return true, ""
	}
	for _, dep := range spec.DependsOn {
		drt, ok := d.services[dep]
		if !ok {
			return false, dep
		}
		switch drt.state {
		case supervisor.Running, supervisor.ExitedSuccessfully:
			continue
		default:
			return false, dep
		}
	}
	return true, ""
}

// startCronService resolves credentials, registers spec with the shared
// cron executor, and adds its schedule to the scheduler. The scheduler
// itself is started once, after every service has been registered.
func (d *Daemon) startCronService(spec *config.ServiceSpec) error {
	if err := d.cronExecutor.Register(spec); err != nil {
		return err
	}
	if spec.Heartbeat != nil {
		d.heartbeats[spec.Name] = cron.NewHeartbeatClient(spec.Heartbeat, d.logger)
	}
	if spec.Cron == nil {
		return fmt.Errorf("service %s has kind=cron but no schedule", spec.Name)
	}
	return d.scheduler.AddJobWithOptions(spec.Name, spec.Cron.Expression, spec.Cron.Timezone, cron.JobOptions{
		OnOverlapSkipped: func(name string) {
			d.audit.LogCronOverlapSkipped(name)
			metrics.RecordCronRun(name, "overlap_skipped")
		},
	})
}

// launchInstance launches instance of name, waits out its readiness
// window (spec.md §4.3), and only then either hands it off to
// monitorInstance as Running or settles it terminal if it exited first.
// restarts is the instance's prior restart count, carried through so a
// crash-triggered relaunch still contributes to the restart budget; stage
// selects whether a successful/failed settle fires on_start or
// on_restart hooks. Unlike the old caller-holds-the-lock contract, this
// method takes d.mu itself and only for the brief critical sections
// around each state mutation, so the readiness wait never blocks
// concurrent control requests for its full duration.
func (d *Daemon) launchInstance(ctx context.Context, name string, instance int, restarts int, stage config.HookStage) error {
	d.mu.Lock()
	rt, ok := d.services[name]
	if !ok || rt.stopping {
		d.mu.Unlock()
		return nil
	}
	spec := rt.spec
	priv := rt.priv
	global := d.cfg.Global
	d.mu.Unlock()

	ctx, span := tracing.StartServiceSpan(ctx, name, "launch", instance)
	defer span.End()

	handle, err := d.launcher.Launch(ctx, spec, priv, supervisor.PrimaryRun)
	if err != nil {
		tracing.RecordError(span, err, "launch failed")
		d.mu.Lock()
		if rt, ok := d.services[name]; ok {
			rt.state = supervisor.Skipped
			rt.reason = err.Error()
			rt.since = time.Now()
			d.syncPersistenceLocked()
		}
		d.mu.Unlock()
		d.audit.LogServiceSkipped(name)
		return err
	}

	if spec.SpawnMode == config.SpawnDynamic && instance == 0 {
		d.mu.Lock()
		if rt, ok := d.services[name]; ok {
			d.forest.SetPid(rt.spawnRoot, handle.Pid)
		}
		d.mu.Unlock()
	}

	d.mu.Lock()
	rt, ok = d.services[name]
	if !ok || rt.stopping {
		d.mu.Unlock()
		supervisor.StopHandle(ctx, handle, spec.Deploy.GracePeriod)
		return nil
	}
	rt.instances[instance] = &instanceRuntime{handle: handle, restarts: restarts}
	rt.state = supervisor.Starting
	rt.since = handle.StartedAt
	d.syncPersistenceLocked()
	d.mu.Unlock()

	metrics.RecordServiceStart(name, instanceLabel(instance), float64(handle.StartedAt.Unix()))
	d.audit.LogServiceStart(name, handle.Pid, instance)

	readiness := spec.Readiness(global)
	select {
	case res := <-handle.Exit:
		err := d.settleStartingExit(name, instance, spec, priv, restarts, stage, res)
		tracing.RecordError(span, err, "exited during readiness window")
		return err

	case <-time.After(readiness):
		d.mu.Lock()
		rt, ok = d.services[name]
		if !ok {
			d.mu.Unlock()
			return nil
		}
		rt.state = supervisor.Running
		rt.since = handle.StartedAt
		d.syncPersistenceLocked()
		d.mu.Unlock()

		d.fireHook(name, stage, config.OutcomeSuccess, spec)
		tracing.RecordSuccess(span)
		go d.monitorInstance(name, instance, handle)
		return nil
	}
}

// settleStartingExit handles an instance that exited before its readiness
// window elapsed: a one-shot exiting 0 is success, anything else settles
// terminal and — if the restart policy allows it — schedules a relaunch
// that re-enters Starting from scratch, exactly as a post-Running crash
// does in monitorInstance.
func (d *Daemon) settleStartingExit(name string, instance int, spec *config.ServiceSpec, priv supervisor.PrivilegeContext, restarts int, stage config.HookStage, res supervisor.ExitResult) error {
	exit := &supervisor.ExitReason{Code: res.Code, Signal: res.Signal}
	if res.Signal != 0 {
		d.audit.LogServiceCrash(name, 0, res.Code, signalName(res.Signal))
	}
	metrics.RecordServiceStop(name, instanceLabel(instance), res.Code)

	oneShotSuccess := spec.Kind == config.KindOneshot && exit.Code == 0 && exit.Signal == 0

	d.mu.Lock()
	rt, ok := d.services[name]
	if !ok {
		d.mu.Unlock()
		return fmt.Errorf("instance exited before settling: code=%d signal=%d", exit.Code, exit.Signal)
	}
	delete(rt.instances, instance)
	rt.exit = exit
	if oneShotSuccess {
		rt.state = supervisor.ExitedSuccessfully
	} else {
		rt.state = terminalState(exit)
	}
	rt.since = time.Now()
	d.syncPersistenceLocked()
	d.mu.Unlock()

	if oneShotSuccess {
		d.fireHook(name, stage, config.OutcomeSuccess, spec)
		return nil
	}

	d.fireHook(name, stage, config.OutcomeError, spec)

	policy := supervisor.NewRestartPolicy(spec)
	if spec.Kind != config.KindOneshot && policy.ShouldRestart(exit.Code, restarts) {
		go d.retryLaunch(name, instance, restarts, policy.Backoff())
	}
	return fmt.Errorf("instance exited during readiness window: code=%d signal=%d", exit.Code, exit.Signal)
}

// retryLaunch waits out the restart backoff, then relaunches through the
// same launchInstance path a crash-triggered restart from monitorInstance
// uses, firing on_restart hooks rather than on_start.
func (d *Daemon) retryLaunch(name string, instance int, restarts int, backoff time.Duration) {
	select {
	case <-time.After(backoff):
	case <-d.shutdownCh:
		return
	}

	d.mu.Lock()
	rt, ok := d.services[name]
	if !ok || rt.stopping {
		d.mu.Unlock()
		return
	}
	d.mu.Unlock()

	metrics.RecordServiceRestart(name, "crash")
	if err := d.launchInstance(context.Background(), name, instance, restarts+1, config.StageRestart); err != nil {
		d.logger.Warn("restart attempt did not settle successfully", "service", name, "instance", instance, "error", err)
	}
}

func instanceLabel(instance int) string { return fmt.Sprintf("%d", instance) }

func (d *Daemon) fireHook(service string, stage config.HookStage, outcome config.HookOutcome, spec *config.ServiceSpec) {
	hook, ok := spec.Hooks[config.HookKey{Stage: stage, Outcome: outcome}]
	if !ok {
		return
	}
	// The hook sees the service's env with its own entries layered on top.
	env := make(map[string]string, len(spec.Env)+len(hook.Env))
	for k, v := range spec.Env {
		env[k] = v
	}
	for k, v := range hook.Env {
		env[k] = v
	}
	hook.Env = env
	go func() {
		start := time.Now()
		d.hookRunner.Run(context.Background(), service, stage, outcome, hook)
		metrics.RecordHookExecution(service, string(stage), time.Since(start).Seconds(), true)
	}()
}

// Stop gracefully stops every running service in reverse dependency
// order, stops the cron scheduler, and syncs final state to disk.
func (d *Daemon) Stop(ctx context.Context) error {
	start := time.Now()
	ctx, span := tracing.StartDaemonSpan(ctx, "stop")
	defer span.End()

	d.mu.Lock()
	d.shutdown = true
	order := reversed(d.order)
	d.mu.Unlock()
	d.shutdownOnce.Do(func() { close(d.shutdownCh) })

	<-d.scheduler.Stop().Done()

	for _, name := range order {
		d.stopService(ctx, name, "daemon shutdown", false)
	}

	d.mu.Lock()
	d.syncPersistenceLocked()
	d.mu.Unlock()

	d.audit.LogSystemShutdown("requested", true)
	metrics.RecordShutdownDuration(time.Since(start).Seconds())
	tracing.RecordSuccess(span)
	return nil
}

// stopService signals every running instance of name and waits for its
// monitor goroutine to observe the exit before returning, so dependency
// order during shutdown is actually respected rather than racing.
// cascaded marks a stop triggered by a prerequisite settling terminal
// rather than a deliberate user/shutdown request: spec.md §4.5 requires
// the dependent land in ExitedWithError{reason:"cascaded"}, not Stopped.
func (d *Daemon) stopService(ctx context.Context, name, reason string, cascaded bool) {
	d.mu.Lock()
	rt, ok := d.services[name]
	if !ok || rt.state == supervisor.Stopped {
		d.mu.Unlock()
		return
	}
	rt.stopping = true
	rt.cascaded = cascaded
	grace := d.cfg.Global.ShutdownGrace
	handles := make([]*supervisor.ProcessHandle, 0, len(rt.instances))
	for _, ir := range rt.instances {
		handles = append(handles, ir.handle)
	}
	d.mu.Unlock()

	for _, h := range handles {
		supervisor.StopHandle(ctx, h, grace)
	}

	d.audit.LogServiceStop(name, 0, reason)
	d.fireHook(name, config.StageStop, config.OutcomeSuccess, rt.spec)
}

// reversed returns a new slice with order's elements reversed.
func reversed(order []string) []string {
	out := make([]string, len(order))
	for i, v := range order {
		out[len(order)-1-i] = v
	}
	return out
}

// syncPersistenceLocked writes the pid map and state map to disk. Caller
// must hold d.mu.
func (d *Daemon) syncPersistenceLocked() {
	pm := persistence.PidMap{Services: make(map[string]int)}
	sm := make(persistence.StateMap)

	for name, rt := range d.services {
		for _, ir := range rt.instances {
			pm.Services[name] = ir.handle.Pid
		}
		entry := persistence.StateEntry{Kind: rt.state.String(), Since: rt.since, Reason: rt.reason}
		if len(rt.instances) > 0 {
			for _, ir := range rt.instances {
				entry.Pid = ir.handle.Pid
				break
			}
		}
		sm[name] = entry
	}

	if err := persistence.WithPidMapLock(d.dir, func() error {
		return persistence.SavePidMap(d.dir, pm)
	}); err != nil {
		d.logger.Error("persist pid map failed", "error", err)
		d.audit.LogSystemError("persistence", err.Error())
	}
	if err := persistence.SaveStateMap(d.dir, sm); err != nil {
		d.logger.Error("persist state map failed", "error", err)
		d.audit.LogSystemError("persistence", err.Error())
	}
}

// serviceNames returns every declared service name, sorted, for Status
// responses that should not depend on map iteration order.
func (d *Daemon) serviceNames() []string {
	names := make([]string, 0, len(d.services))
	for name := range d.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
