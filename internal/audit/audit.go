// Package audit emits structured, machine-parseable records of the
// decisions a daemon makes about the services it owns: lifecycle
// transitions, deployment rollbacks, cron firings and overlap skips, and
// spawn authorization outcomes. Audit events never gate behavior — they
// are a side channel, logged through slog alongside everything else.
package audit

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// EventType categorizes an audit event.
type EventType string

const (
	EventServiceStart   EventType = "service.start"
	EventServiceStop    EventType = "service.stop"
	EventServiceRestart EventType = "service.restart"
	EventServiceCrash   EventType = "service.crash"
	EventServiceSkipped EventType = "service.skipped"

	EventDeployStart    EventType = "deploy.start"
	EventDeployRollback EventType = "deploy.rollback"

	EventCronFire           EventType = "cron.fire"
	EventCronOverlapSkipped EventType = "cron.overlap_skipped"

	EventSpawnAuthorized EventType = "spawn.authorized"
	EventSpawnDenied     EventType = "spawn.denied"
	EventSpawnTerminated EventType = "spawn.terminated"

	EventHookFailed EventType = "hook.failed"

	EventConfigLoad   EventType = "config.load"
	EventConfigReload EventType = "config.reload"

	EventSystemStart    EventType = "system.start"
	EventSystemShutdown EventType = "system.shutdown"
	EventSystemError    EventType = "system.error"
)

// Status represents the outcome of an audited action.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
	StatusError   Status = "error"
)

// Actor represents who or what performed the action.
type Actor struct {
	Type string `json:"type"` // "system", "control", "cron", "spawn"
	ID   string `json:"id"`
}

// Resource represents what the action affected.
type Resource struct {
	Type string `json:"type"` // "service", "config", "system"
	ID   string `json:"id"`
}

// Event is a single audit log entry.
type Event struct {
	Timestamp time.Time              `json:"timestamp"`
	EventType EventType              `json:"event_type"`
	Actor     Actor                  `json:"actor"`
	Action    string                 `json:"action"`
	Resource  Resource               `json:"resource"`
	Status    Status                 `json:"status"`
	Message   string                 `json:"message"`
	Context   map[string]interface{} `json:"context,omitempty"`
}

// Logger provides structured audit logging over slog.
type Logger struct {
	logger  *slog.Logger
	enabled bool
}

// NewLogger creates an audit logger. When enabled is false, Log is a no-op.
func NewLogger(log *slog.Logger, enabled bool) *Logger {
	return &Logger{
		logger:  log.With("subsystem", "audit"),
		enabled: enabled,
	}
}

// Log records an audit event.
func (l *Logger) Log(event Event) {
	if !l.enabled {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	eventJSON, _ := json.Marshal(event)
	attrs := []any{
		"event_type", event.EventType,
		"actor", event.Actor.ID,
		"action", event.Action,
		"resource", event.Resource.ID,
		"status", event.Status,
		"message", event.Message,
		"event_json", string(eventJSON),
	}

	switch event.Status {
	case StatusFailure, StatusError:
		l.logger.Error("audit_event", attrs...)
	default:
		l.logger.Info("audit_event", attrs...)
	}
}

// LogServiceStart records a service entering Running.
func (l *Logger) LogServiceStart(service string, pid int, instance int) {
	l.Log(Event{
		EventType: EventServiceStart,
		Actor:     Actor{Type: "system", ID: "daemon"},
		Action:    "start",
		Resource:  Resource{Type: "service", ID: service},
		Status:    StatusSuccess,
		Message:   "service started",
		Context:   map[string]interface{}{"pid": pid, "instance": instance},
	})
}

// LogServiceStop records a deliberate stop (control request or cascade).
func (l *Logger) LogServiceStop(service string, pid int, reason string) {
	l.Log(Event{
		EventType: EventServiceStop,
		Actor:     Actor{Type: "system", ID: "daemon"},
		Action:    "stop",
		Resource:  Resource{Type: "service", ID: service},
		Status:    StatusSuccess,
		Message:   "service stopped",
		Context:   map[string]interface{}{"pid": pid, "reason": reason},
	})
}

// LogServiceCrash records an unexpected, non-zero exit.
func (l *Logger) LogServiceCrash(service string, pid, exitCode int, signal string) {
	l.Log(Event{
		EventType: EventServiceCrash,
		Actor:     Actor{Type: "system", ID: "daemon"},
		Action:    "crash",
		Resource:  Resource{Type: "service", ID: service},
		Status:    StatusError,
		Message:   "service crashed",
		Context:   map[string]interface{}{"pid": pid, "exit_code": exitCode, "signal": signal},
	})
}

// LogServiceRestart records a restart, automatic or requested.
func (l *Logger) LogServiceRestart(service string, oldPID, newPID int, reason string) {
	l.Log(Event{
		EventType: EventServiceRestart,
		Actor:     Actor{Type: "system", ID: "daemon"},
		Action:    "restart",
		Resource:  Resource{Type: "service", ID: service},
		Status:    StatusSuccess,
		Message:   "service restarted",
		Context:   map[string]interface{}{"old_pid": oldPID, "new_pid": newPID, "reason": reason},
	})
}

// LogServiceSkipped records a skip-condition probe suppressing a launch.
func (l *Logger) LogServiceSkipped(service string) {
	l.Log(Event{
		EventType: EventServiceSkipped,
		Actor:     Actor{Type: "system", ID: "daemon"},
		Action:    "skip",
		Resource:  Resource{Type: "service", ID: service},
		Status:    StatusSuccess,
		Message:   "skip condition met, launch suppressed",
	})
}

// LogDeployRollback records a rolling deployment that rolled back.
func (l *Logger) LogDeployRollback(service string, cause error) {
	l.Log(Event{
		EventType: EventDeployRollback,
		Actor:     Actor{Type: "system", ID: "daemon"},
		Action:    "rollback",
		Resource:  Resource{Type: "service", ID: service},
		Status:    StatusError,
		Message:   fmt.Sprintf("deployment rolled back: %v", cause),
	})
}

// LogCronFire records a cron invocation starting.
func (l *Logger) LogCronFire(service, executionID string) {
	l.Log(Event{
		EventType: EventCronFire,
		Actor:     Actor{Type: "cron", ID: "scheduler"},
		Action:    "fire",
		Resource:  Resource{Type: "service", ID: service},
		Status:    StatusSuccess,
		Message:   "cron fired",
		Context:   map[string]interface{}{"execution_id": executionID},
	})
}

// LogCronOverlapSkipped records a tick skipped because the previous
// invocation was still running.
func (l *Logger) LogCronOverlapSkipped(service string) {
	l.Log(Event{
		EventType: EventCronOverlapSkipped,
		Actor:     Actor{Type: "cron", ID: "scheduler"},
		Action:    "skip",
		Resource:  Resource{Type: "service", ID: service},
		Status:    StatusFailure,
		Message:   "overlapping invocation skipped, previous run still in flight",
	})
}

// LogSpawnAuthorized records a dynamic spawn request that passed all
// depth/fanout/rate checks.
func (l *Logger) LogSpawnAuthorized(parent, child string, depth int, pid int) {
	l.Log(Event{
		EventType: EventSpawnAuthorized,
		Actor:     Actor{Type: "spawn", ID: parent},
		Action:    "authorize",
		Resource:  Resource{Type: "service", ID: child},
		Status:    StatusSuccess,
		Message:   "spawn authorized",
		Context:   map[string]interface{}{"depth": depth, "pid": pid},
	})
}

// LogSpawnDenied records a dynamic spawn request rejected by a limit.
func (l *Logger) LogSpawnDenied(parent, reason string) {
	l.Log(Event{
		EventType: EventSpawnDenied,
		Actor:     Actor{Type: "spawn", ID: parent},
		Action:    "deny",
		Resource:  Resource{Type: "service", ID: parent},
		Status:    StatusFailure,
		Message:   reason,
	})
}

// LogSpawnTerminated records a spawned subtree torn down under a
// termination policy (cascade, orphan, or reparent).
func (l *Logger) LogSpawnTerminated(service, policy string, affected int) {
	l.Log(Event{
		EventType: EventSpawnTerminated,
		Actor:     Actor{Type: "spawn", ID: "daemon"},
		Action:    "terminate",
		Resource:  Resource{Type: "service", ID: service},
		Status:    StatusSuccess,
		Message:   fmt.Sprintf("spawned subtree terminated under %s policy", policy),
		Context:   map[string]interface{}{"affected": affected},
	})
}

// LogHookFailed records a lifecycle hook that failed after exhausting
// its retries. Hooks never influence service state, so this is purely
// informational.
func (l *Logger) LogHookFailed(service, stage, outcome string, err error) {
	l.Log(Event{
		EventType: EventHookFailed,
		Actor:     Actor{Type: "system", ID: "daemon"},
		Action:    "hook",
		Resource:  Resource{Type: "service", ID: service},
		Status:    StatusError,
		Message:   fmt.Sprintf("hook failed: %v", err),
		Context:   map[string]interface{}{"stage": stage, "outcome": outcome},
	})
}

// LogConfigLoad records a successful config load at startup or reload.
func (l *Logger) LogConfigLoad(configFile string, serviceCount int) {
	l.Log(Event{
		EventType: EventConfigLoad,
		Actor:     Actor{Type: "system", ID: "config_loader"},
		Action:    "load",
		Resource:  Resource{Type: "config", ID: configFile},
		Status:    StatusSuccess,
		Message:   "configuration loaded",
		Context:   map[string]interface{}{"service_count": serviceCount},
	})
}

// LogConfigReload records a hot reload triggered by a filesystem watch.
func (l *Logger) LogConfigReload(configFile string) {
	l.Log(Event{
		EventType: EventConfigReload,
		Actor:     Actor{Type: "system", ID: "watcher"},
		Action:    "reload",
		Resource:  Resource{Type: "config", ID: configFile},
		Status:    StatusSuccess,
		Message:   "configuration reloaded",
	})
}

// LogSystemStart records daemon startup.
func (l *Logger) LogSystemStart(version string) {
	l.Log(Event{
		EventType: EventSystemStart,
		Actor:     Actor{Type: "system", ID: "sysg"},
		Action:    "start",
		Resource:  Resource{Type: "system", ID: "sysg"},
		Status:    StatusSuccess,
		Message:   "daemon started",
		Context:   map[string]interface{}{"version": version},
	})
}

// LogSystemShutdown records daemon shutdown, graceful or forced.
func (l *Logger) LogSystemShutdown(reason string, graceful bool) {
	status := StatusSuccess
	if !graceful {
		status = StatusError
	}
	l.Log(Event{
		EventType: EventSystemShutdown,
		Actor:     Actor{Type: "system", ID: "sysg"},
		Action:    "shutdown",
		Resource:  Resource{Type: "system", ID: "sysg"},
		Status:    status,
		Message:   "daemon shutdown",
		Context:   map[string]interface{}{"reason": reason, "graceful": graceful},
	})
}

// LogSystemError records a component-level error outside the service
// lifecycle (persistence failure, control socket error, and so on).
func (l *Logger) LogSystemError(component, errorMsg string) {
	l.Log(Event{
		EventType: EventSystemError,
		Actor:     Actor{Type: "system", ID: component},
		Action:    "error",
		Resource:  Resource{Type: "system", ID: component},
		Status:    StatusError,
		Message:   errorMsg,
	})
}
