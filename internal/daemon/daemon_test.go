package daemon

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/sysg-dev/sysg/internal/audit"
	"github.com/sysg-dev/sysg/internal/config"
	"github.com/sysg-dev/sysg/internal/control"
	"github.com/sysg-dev/sysg/internal/supervisor"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testDaemon(t *testing.T, cfg *config.Config) *Daemon {
	t.Helper()
	cfg.SetDefaults()
	return New(cfg, t.TempDir(), discardLogger(), audit.NewLogger(discardLogger(), false))
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func (d *Daemon) stateOf(name string) supervisor.State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.services[name].state
}

func (d *Daemon) reasonOf(name string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.services[name].reason
}

func (d *Daemon) restartsOf(name string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return sumRestarts(d.services[name])
}

// TestDaemonStartDependencyOrder checks that a service only starts after
// the one it depends on, and that Status reports both running.
func TestDaemonStartDependencyOrder(t *testing.T) {
	cfg := &config.Config{
		Services: map[string]*config.ServiceSpec{
			"db": {
				Kind:    config.KindStatic,
				Command: []string{"sh", "-c", "sleep 5"},
				Restart: config.RestartNever,
			},
			"web": {
				Kind:      config.KindStatic,
				Command:   []string{"sh", "-c", "sleep 5"},
				Restart:   config.RestartNever,
				DependsOn: []string{"db"},
			},
		},
	}
	d := testDaemon(t, cfg)

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer d.Stop(context.Background())

	if got := d.order; len(got) != 2 || got[0] != "db" || got[1] != "web" {
		t.Fatalf("start order = %v, want [db web]", got)
	}

	resp := d.handleStatus("")
	if len(resp.Services) != 2 {
		t.Fatalf("Status returned %d services, want 2", len(resp.Services))
	}
	for _, s := range resp.Services {
		if s.Kind != supervisor.Running.String() {
			t.Errorf("service %s state = %s, want running", s.Name, s.Kind)
		}
	}
}

// TestDaemonRestartOnCrash exercises the monitor goroutine's restart path:
// a restart=always service that exits immediately should be relaunched,
// incrementing its restart count.
func TestDaemonRestartOnCrash(t *testing.T) {
	cfg := &config.Config{
		Services: map[string]*config.ServiceSpec{
			"flaky": {
				Kind:    config.KindStatic,
				Command: []string{"sh", "-c", "exit 1"},
				Restart: config.RestartAlways,
				Backoff: 10 * time.Millisecond,
			},
		},
	}
	d := testDaemon(t, cfg)

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer d.Stop(context.Background())

	waitFor(t, 2*time.Second, func() bool { return d.restartsOf("flaky") >= 2 })
}

// TestDaemonRestartNeverSettlesTerminal checks that a restart=never
// service that exits lands in a terminal state instead of looping.
func TestDaemonRestartNeverSettlesTerminal(t *testing.T) {
	cfg := &config.Config{
		Services: map[string]*config.ServiceSpec{
			"once": {
				Kind:    config.KindStatic,
				Command: []string{"sh", "-c", "exit 0"},
				Restart: config.RestartNever,
			},
		},
	}
	d := testDaemon(t, cfg)

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer d.Stop(context.Background())

	waitFor(t, 2*time.Second, func() bool {
		s := d.stateOf("once")
		return s == supervisor.ExitedSuccessfully || s == supervisor.Stopped
	})
}

// TestDaemonSkipsDependentOfFailedPrerequisite checks that a dependent
// never even reaches Starting when its prerequisite fails to come up:
// spec.md §8 scenario 1. Start() processes services in topological
// order and each launch blocks out its readiness window, so by the time
// web's turn comes db has already settled into ExitedWithError.
func TestDaemonSkipsDependentOfFailedPrerequisite(t *testing.T) {
	cfg := &config.Config{
		Services: map[string]*config.ServiceSpec{
			"db": {
				Kind:    config.KindStatic,
				Command: []string{"sh", "-c", "exit 1"},
				Restart: config.RestartNever,
			},
			"web": {
				Kind:      config.KindStatic,
				Command:   []string{"sh", "-c", "sleep 5"},
				Restart:   config.RestartNever,
				DependsOn: []string{"db"},
			},
		},
	}
	d := testDaemon(t, cfg)

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer d.Stop(context.Background())

	if got := d.stateOf("db"); got != supervisor.ExitedWithError {
		t.Fatalf("db state = %v, want ExitedWithError", got)
	}
	if got := d.stateOf("web"); got != supervisor.Skipped {
		t.Fatalf("web state = %v, want Skipped", got)
	}
}

// TestDaemonCascadesRunningDependentOnCrash checks the other half of
// spec.md §4.5: a prerequisite that crashes after having been Running
// stops its already-running dependents, landing them in
// ExitedWithError{reason:"cascaded"} rather than plain Stopped.
func TestDaemonCascadesRunningDependentOnCrash(t *testing.T) {
	cfg := &config.Config{
		Services: map[string]*config.ServiceSpec{
			"db": {
				Kind:            config.KindStatic,
				Command:         []string{"sh", "-c", "sleep 1"},
				Restart:         config.RestartNever,
				ReadinessWindow: time.Millisecond,
			},
			"web": {
				Kind:      config.KindStatic,
				Command:   []string{"sh", "-c", "sleep 5"},
				Restart:   config.RestartNever,
				DependsOn: []string{"db"},
			},
		},
	}
	d := testDaemon(t, cfg)

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer d.Stop(context.Background())

	waitFor(t, time.Second, func() bool { return d.stateOf("web") == supervisor.Running })

	waitFor(t, 2*time.Second, func() bool {
		return d.stateOf("web") == supervisor.ExitedWithError
	})
	if got := d.reasonOf("web"); got != "cascaded" {
		t.Errorf("web reason = %q, want cascaded", got)
	}
}

// TestHandleStopAndRestart exercises the control-request paths directly.
func TestHandleStopAndRestart(t *testing.T) {
	cfg := &config.Config{
		Services: map[string]*config.ServiceSpec{
			"web": {
				Kind:    config.KindStatic,
				Command: []string{"sh", "-c", "sleep 5"},
				Restart: config.RestartNever,
			},
		},
	}
	d := testDaemon(t, cfg)
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer d.Stop(context.Background())

	if resp := d.Handle(context.Background(), control.Request{Kind: control.RequestStop, Service: "web"}); resp.Kind != control.ResponseOK {
		t.Fatalf("Stop = %+v", resp)
	}
	waitFor(t, time.Second, func() bool { return d.stateOf("web") == supervisor.Stopped })

	if resp := d.Handle(context.Background(), control.Request{Kind: control.RequestStart, Service: "web"}); resp.Kind != control.ResponseOK {
		t.Fatalf("Start = %+v", resp)
	}
	waitFor(t, time.Second, func() bool { return d.stateOf("web") == supervisor.Running })

	if resp := d.Handle(context.Background(), control.Request{Kind: control.RequestStop, Service: "missing"}); resp.Kind != control.ResponseError || resp.Code != control.ErrUnknownService {
		t.Fatalf("Stop missing = %+v", resp)
	}
}

// TestHandlePurgeClearsTerminalState checks that Purge resets a
// crashed/exited service with no live instances back to Stopped.
func TestHandlePurgeClearsTerminalState(t *testing.T) {
	cfg := &config.Config{
		Services: map[string]*config.ServiceSpec{
			"once": {
				Kind:    config.KindOneshot,
				Command: []string{"sh", "-c", "exit 1"},
				Restart: config.RestartNever,
			},
		},
	}
	d := testDaemon(t, cfg)
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer d.Stop(context.Background())

	waitFor(t, 2*time.Second, func() bool { return d.stateOf("once") == supervisor.ExitedWithError })

	resp := d.Handle(context.Background(), control.Request{Kind: control.RequestPurge})
	if resp.Kind != control.ResponseOK {
		t.Fatalf("Purge = %+v", resp)
	}
	if got := d.stateOf("once"); got != supervisor.Stopped {
		t.Errorf("state after purge = %v, want Stopped", got)
	}
}

// TestSpawnDeniedWhenNotDynamic checks that a spawn request against a
// statically-moded service is rejected before any command runs.
func TestSpawnDeniedWhenNotDynamic(t *testing.T) {
	cfg := &config.Config{
		Services: map[string]*config.ServiceSpec{
			"worker": {
				Kind:    config.KindStatic,
				Command: []string{"sh", "-c", "sleep 5"},
				Restart: config.RestartNever,
			},
		},
	}
	d := testDaemon(t, cfg)
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer d.Stop(context.Background())

	resp := d.Handle(context.Background(), control.Request{
		Kind:    control.RequestSpawn,
		Service: "worker",
		Name:    "child",
		Command: []string{"sh", "-c", "true"},
	})
	if resp.Kind != control.ResponseError || resp.Code != control.ErrSpawnDenied {
		t.Fatalf("Spawn = %+v, want spawn_denied", resp)
	}
}

// TestSpawnAuthorizedAndLimited checks the happy path and the
// max_children limit on a dynamic-mode parent.
func TestSpawnAuthorizedAndLimited(t *testing.T) {
	cfg := &config.Config{
		Services: map[string]*config.ServiceSpec{
			"orchestrator": {
				Kind:        config.KindStatic,
				Command:     []string{"sh", "-c", "sleep 5"},
				Restart:     config.RestartNever,
				SpawnMode:   config.SpawnDynamic,
				SpawnLimits: config.SpawnLimits{MaxChildren: 1},
			},
		},
	}
	d := testDaemon(t, cfg)
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer d.Stop(context.Background())

	req := control.Request{
		Kind:    control.RequestSpawn,
		Service: "orchestrator",
		Name:    "child-1",
		Command: []string{"sh", "-c", "sleep 2"},
	}
	resp := d.Handle(context.Background(), req)
	if resp.Kind != control.ResponseSpawn || resp.SpawnedPid == 0 {
		t.Fatalf("first spawn = %+v", resp)
	}

	req.Name = "child-2"
	resp = d.Handle(context.Background(), req)
	if resp.Kind != control.ResponseError || resp.Code != control.ErrSpawnDenied {
		t.Fatalf("second spawn = %+v, want spawn_denied (max_children)", resp)
	}
}

// TestSpawnResolvesParentByPidWalk checks spec.md §8 scenario 4: a
// grandchild spawn request names no parent service at all, only the pid
// of an already-spawned child, and the daemon must walk up to find that
// child's forest node to authorize against the same root's limits.
func TestSpawnResolvesParentByPidWalk(t *testing.T) {
	cfg := &config.Config{
		Services: map[string]*config.ServiceSpec{
			"orchestrator": {
				Kind:        config.KindStatic,
				Command:     []string{"sh", "-c", "sleep 5"},
				Restart:     config.RestartNever,
				SpawnMode:   config.SpawnDynamic,
				SpawnLimits: config.SpawnLimits{MaxDepth: 5, MaxChildren: 5, MaxDescendants: 5},
			},
		},
	}
	d := testDaemon(t, cfg)
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer d.Stop(context.Background())

	resp := d.Handle(context.Background(), control.Request{
		Kind:    control.RequestSpawn,
		Service: "orchestrator",
		Name:    "child",
		Command: []string{"sh", "-c", "sleep 2"},
	})
	if resp.Kind != control.ResponseSpawn || resp.SpawnedPid == 0 {
		t.Fatalf("root spawn = %+v", resp)
	}

	resp = d.Handle(context.Background(), control.Request{
		Kind:      control.RequestSpawn,
		ParentPid: resp.SpawnedPid,
		Name:      "grandchild",
		Command:   []string{"sh", "-c", "true"},
	})
	if resp.Kind != control.ResponseSpawn || resp.SpawnedPid == 0 {
		t.Fatalf("grandchild spawn = %+v, want success resolving parent by pid walk", resp)
	}
}

// TestHandleLogsMissingFileReturnsEmpty checks that Logs on a service
// with no captured output yet returns an empty result, not an error.
func TestHandleLogsMissingFileReturnsEmpty(t *testing.T) {
	cfg := &config.Config{
		Services: map[string]*config.ServiceSpec{
			"web": {Kind: config.KindStatic, Command: []string{"sh", "-c", "sleep 5"}, Restart: config.RestartNever},
		},
	}
	d := testDaemon(t, cfg)

	resp := d.Handle(context.Background(), control.Request{Kind: control.RequestLogs, Service: "web", LogKind: control.LogStderr, Lines: 10})
	if resp.Kind != control.ResponseLogs || resp.LogLines != nil {
		t.Fatalf("Logs = %+v, want empty ResponseLogs", resp)
	}
}

// TestHandleInspectRequiresName checks that Inspect rejects an empty
// service name instead of silently behaving like a full Status.
func TestHandleInspectRequiresName(t *testing.T) {
	d := testDaemon(t, &config.Config{Services: map[string]*config.ServiceSpec{}})
	resp := d.Handle(context.Background(), control.Request{Kind: control.RequestInspect})
	if resp.Kind != control.ResponseError || resp.Code != control.ErrConfigInvalid {
		t.Fatalf("Inspect with no name = %+v", resp)
	}
}
