package daemon

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sysg-dev/sysg/internal/config"
	"github.com/sysg-dev/sysg/internal/control"
	"github.com/sysg-dev/sysg/internal/supervisor"
)

// Handle implements control.Handler, dispatching a decoded control
// request to the matching daemon operation. It is called once per
// request from the control server's per-connection goroutine; every
// branch below takes d.mu itself rather than relying on a caller-held
// lock, since requests arrive from arbitrary connections concurrently.
func (d *Daemon) Handle(ctx context.Context, req control.Request) control.Response {
	switch req.Kind {
	case control.RequestStart:
		return d.handleStart(ctx, req.Service)
	case control.RequestStop:
		return d.handleStop(req.Service)
	case control.RequestRestart:
		return d.handleRestart(ctx, req.Service)
	case control.RequestStatus:
		return d.handleStatus(req.Service)
	case control.RequestInspect:
		return d.handleInspect(req.Service)
	case control.RequestLogs:
		return d.handleLogs(req)
	case control.RequestSpawn:
		return d.spawnChild(ctx, req.Service, req)
	case control.RequestShutdown:
		go func() { _ = d.Stop(context.Background()) }()
		return control.NewOKResponse()
	case control.RequestPurge:
		return d.handlePurge()
	default:
		return control.NewErrorResponse(control.ErrConfigInvalid, "unknown request kind: "+string(req.Kind))
	}
}

func (d *Daemon) handleStart(ctx context.Context, name string) control.Response {
	d.mu.Lock()
	rt, ok := d.services[name]
	if !ok {
		d.mu.Unlock()
		return control.NewErrorResponse(control.ErrUnknownService, "unknown service: "+name)
	}
	if rt.state.IsAlive() {
		d.mu.Unlock()
		return control.NewErrorResponse(control.ErrAlreadyRunning, name+" is already running")
	}
	rt.stopping = false
	rt.cascaded = false
	scale := rt.spec.Scale
	if scale <= 0 {
		scale = 1
	}
	d.mu.Unlock()

	for i := 0; i < scale; i++ {
		if err := d.launchInstance(ctx, name, i, 0, config.StageStart); err != nil {
			return control.NewErrorResponse(control.ErrDependencyFail, fmt.Sprintf("start %s: %v", name, err))
		}
	}
	return control.NewOKResponse()
}

func (d *Daemon) handleStop(name string) control.Response {
	d.mu.Lock()
	rt, ok := d.services[name]
	if !ok {
		d.mu.Unlock()
		return control.NewErrorResponse(control.ErrUnknownService, "unknown service: "+name)
	}
	if !rt.state.IsAlive() {
		d.mu.Unlock()
		return control.NewErrorResponse(control.ErrNotRunning, name+" is not running")
	}
	d.mu.Unlock()

	d.stopService(context.Background(), name, "control request", false)
	return control.NewOKResponse()
}

func (d *Daemon) handleRestart(ctx context.Context, name string) control.Response {
	d.mu.Lock()
	rt, ok := d.services[name]
	d.mu.Unlock()
	if !ok {
		return control.NewErrorResponse(control.ErrUnknownService, "unknown service: "+name)
	}

	if rt.state.IsAlive() {
		d.stopService(ctx, name, "restart requested", false)
	}
	return d.handleStart(ctx, name)
}

func (d *Daemon) handleStatus(name string) control.Response {
	d.mu.Lock()
	defer d.mu.Unlock()

	names := []string{name}
	if name == "" {
		names = d.serviceNames()
	}

	out := make([]control.ServiceStatus, 0, len(names))
	for _, n := range names {
		rt, ok := d.services[n]
		if !ok {
			continue
		}
		status := control.ServiceStatus{
			Name:     n,
			Kind:     rt.state.String(),
			Since:    rt.since.Format("2006-01-02T15:04:05Z07:00"),
			Reason:   rt.reason,
			Restarts: sumRestarts(rt),
		}
		for _, ir := range rt.instances {
			status.Pid = ir.handle.Pid
			break
		}
		out = append(out, status)
	}
	if len(out) == 0 && name != "" {
		return control.NewErrorResponse(control.ErrUnknownService, "unknown service: "+name)
	}
	return control.Response{Kind: control.ResponseStatus, Services: out}
}

func sumRestarts(rt *serviceRuntime) int {
	total := 0
	for _, ir := range rt.instances {
		total += ir.restarts
	}
	return total
}

// handleInspect is Status narrowed to exactly one service, required by
// construction (name must be non-empty); it exists as its own request
// kind so a CLI can request a single rich record without paying for the
// whole fleet's snapshot.
func (d *Daemon) handleInspect(name string) control.Response {
	if name == "" {
		return control.NewErrorResponse(control.ErrConfigInvalid, "inspect requires a service name")
	}
	return d.handleStatus(name)
}

// handlePurge clears the terminal-state record of every service with no
// live instances back to Stopped, so a crashed one-shot or a permanently
// failed service doesn't linger in Status output until the next restart.
func (d *Daemon) handlePurge() control.Response {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, rt := range d.services {
		if len(rt.instances) != 0 {
			continue
		}
		switch rt.state {
		case supervisor.Crashed, supervisor.ExitedSuccessfully, supervisor.ExitedWithError:
			rt.state = supervisor.Stopped
			rt.reason = ""
		}
	}
	d.syncPersistenceLocked()
	return control.NewOKResponse()
}

func (d *Daemon) handleLogs(req control.Request) control.Response {
	if req.Service == "" {
		return control.NewErrorResponse(control.ErrConfigInvalid, "logs requires a service name")
	}
	stream := "stdout"
	switch req.LogKind {
	case control.LogStderr:
		stream = "stderr"
	case control.LogSupervisor:
		return control.Response{Kind: control.ResponseLogs, LogLines: []string{"supervisor log stream not separately captured; see daemon process logs"}}
	}

	path := filepath.Join(d.dir, "logs", fmt.Sprintf("%s_%s.log", req.Service, stream))
	lines, err := tailLines(path, req.Lines)
	if err != nil {
		if os.IsNotExist(err) {
			return control.Response{Kind: control.ResponseLogs, LogLines: nil}
		}
		return control.NewErrorResponse(control.ErrInternal, fmt.Sprintf("read log: %v", err))
	}
	return control.Response{Kind: control.ResponseLogs, LogLines: lines}
}

// tailLines returns the last n lines of path (all lines if n <= 0). It
// reads the whole file rather than seeking from the end: service log
// files are not rotated (logwriter's explicit Non-goal), so they stay
// small enough for a daemon-local tail to just scan.
func tailLines(path string, n int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if n > 0 && len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines, nil
}
