package daemon

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/sysg-dev/sysg/internal/config"
	"github.com/sysg-dev/sysg/internal/control"
	"github.com/sysg-dev/sysg/internal/metrics"
	"github.com/sysg-dev/sysg/internal/spawn"
	"github.com/sysg-dev/sysg/internal/tracing"
)

// maxAncestorHops bounds the process-tree walk in resolveSpawnParent so a
// pid that never reaches a registered node (or a pid cycle reported by a
// confused /proc) can't loop the control goroutine forever.
const maxAncestorHops = 64

// resolveSpawnParent finds the forest node that should own a new spawn
// request, per spec.md §4.8 step 1: an explicit req.ParentPid or
// req.Service wins outright; absent both, the pid of whatever process
// opened the control connection is walked up the OS process tree until a
// node already registered in the forest is found.
func (d *Daemon) resolveSpawnParent(parentName string, requesterPid int) (name string, parentID uuid.UUID, rt *serviceRuntime, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if parentName != "" {
		rt, ok := d.services[parentName]
		if !ok {
			return "", uuid.Nil, nil, fmt.Errorf("unknown parent service: %s", parentName)
		}
		return parentName, rt.spawnRoot, rt, nil
	}

	if requesterPid == 0 {
		return "", uuid.Nil, nil, fmt.Errorf("no parent service, parent_pid, or requester pid given")
	}

	pid := requesterPid
	for hop := 0; hop < maxAncestorHops; hop++ {
		if node, ok := d.forest.FindByPid(pid); ok {
			root := d.rootOf(node.ID)
			if svc, ok := d.serviceBySpawnRootLocked(root); ok {
				return svc.spec.Name, node.ID, svc, nil
			}
			return "", uuid.Nil, nil, fmt.Errorf("spawn node %s has no owning service", node.Name)
		}
		proc, perr := process.NewProcess(int32(pid))
		if perr != nil {
			break
		}
		ppid, perr := proc.Ppid()
		if perr != nil || ppid == 0 || int(ppid) == pid {
			break
		}
		pid = int(ppid)
	}
	return "", uuid.Nil, nil, fmt.Errorf("no dynamic-spawn ancestor found walking from pid %d", requesterPid)
}

// serviceBySpawnRootLocked finds the declared service whose spawn forest
// root is rootID. Caller must hold d.mu.
func (d *Daemon) serviceBySpawnRootLocked(rootID uuid.UUID) (*serviceRuntime, bool) {
	for _, rt := range d.services {
		if rt.spawnRoot == rootID {
			return rt, true
		}
	}
	return nil, false
}

// spawnChild runs req's command as a detached dynamic child of the
// service resolved by resolveSpawnParent, once the authorizer clears it
// against that service's declared limits. Unlike a declared service, a
// spawned child has no restart policy and no log redaction of its own —
// it inherits the parent's identity for accounting only.
func (d *Daemon) spawnChild(ctx context.Context, parentName string, req control.Request) control.Response {
	ctx, span := tracing.StartSpawnSpan(ctx, parentName)
	defer span.End()

	requesterPid := req.ParentPid
	if requesterPid == 0 {
		requesterPid = control.PeerPid(ctx)
	}
	resolvedName, parentID, rt, err := d.resolveSpawnParent(parentName, requesterPid)
	if err != nil {
		return control.NewErrorResponse(control.ErrUnknownService, err.Error())
	}
	parentName = resolvedName

	d.mu.Lock()
	if rt.spec.SpawnMode != config.SpawnDynamic {
		d.mu.Unlock()
		return control.NewErrorResponse(control.ErrSpawnDenied, parentName+" is not declared spawn_mode=dynamic")
	}
	limits := rt.spec.SpawnLimits
	d.mu.Unlock()

	if err := d.authorizer.Authorize(parentID, limits); err != nil {
		metrics.RecordSpawnAuthorization(parentName, denialDecision(err))
		d.audit.LogSpawnDenied(parentName, err.Error())
		tracing.RecordError(span, err, "spawn denied")
		return control.NewErrorResponse(control.ErrSpawnDenied, err.Error())
	}

	if len(req.Command) == 0 {
		return control.NewErrorResponse(control.ErrConfigInvalid, "spawn request has no command")
	}

	depth := d.forest.Depth(parentID) + 1
	cmd := exec.CommandContext(ctx, req.Command[0], req.Command[1:]...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if req.Env != nil {
		cmd.Env = envSlice(req.Env)
	} else {
		cmd.Env = os.Environ()
	}
	cmd.Env = append(cmd.Env,
		"SPAWN_DEPTH="+strconv.Itoa(depth),
		"SPAWN_PARENT_PID="+strconv.Itoa(requesterPid))
	if err := cmd.Start(); err != nil {
		tracing.RecordError(span, err, "spawn exec failed")
		return control.NewErrorResponse(control.ErrInternal, fmt.Sprintf("spawn failed: %v", err))
	}

	node := d.forest.Add(parentID, req.Name, cmd.Process.Pid)
	metrics.RecordSpawnAuthorization(parentName, "allowed")
	metrics.SetSpawnActiveNodes(parentName, len(d.forest.Descendants(d.rootOf(parentID)))+1)
	d.audit.LogSpawnAuthorized(parentName, req.Name, d.forest.Depth(node.ID), cmd.Process.Pid)

	go func() {
		_ = cmd.Wait()
		_ = d.forest.Remove(node.ID)
	}()

	if req.TTL != "" {
		if ttl, err := time.ParseDuration(req.TTL); err == nil {
			go func() {
				select {
				case <-time.After(ttl):
					_, _ = d.terminateSpawnNode(node.ID, rt.spec.TerminationPolicy)
				case <-d.shutdownCh:
				}
			}()
		}
	}

	tracing.RecordSuccess(span)
	return control.Response{Kind: control.ResponseSpawn, SpawnedPid: cmd.Process.Pid}
}

func (d *Daemon) rootOf(id uuid.UUID) uuid.UUID {
	for {
		n, ok := d.forest.Get(id)
		if !ok || n.ParentID == uuid.Nil {
			return id
		}
		id = n.ParentID
	}
}

// terminateSpawnNode applies policy to the subtree rooted at id.
func (d *Daemon) terminateSpawnNode(id uuid.UUID, policy config.TerminationPolicy) ([]uuid.UUID, error) {
	node, ok := d.forest.Get(id)
	if !ok {
		return nil, nil
	}
	removed, err := spawn.Terminate(d.forest, node, policy, killPid)
	metrics.RecordSpawnTermination(string(policy))
	d.audit.LogSpawnTerminated(node.Name, string(policy), len(removed))
	return removed, err
}

func envSlice(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}

func denialDecision(err error) string {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "max_depth"):
		return "denied_depth"
	case strings.Contains(msg, "max_children"):
		return "denied_children"
	case strings.Contains(msg, "max_descendants"):
		return "denied_descendants"
	case strings.Contains(msg, "rate limit"):
		return "denied_rate"
	default:
		return "denied"
	}
}

// killPid is the injected signal func spawn.Terminate uses to tear down
// individual spawned processes; dynamic children run in their own
// process group (Setpgid in spawnChild) so a negative pid targets the
// whole group the same way ProcessHandle.Signal does for declared
// services.
func killPid(pid int) error {
	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil && err != syscall.ESRCH {
		return err
	}
	return nil
}
