// Package config holds the data model the supervisor core consumes.
//
// The core never parses configuration itself: it receives a validated
// Config with dependencies already acyclic, durations already parsed, and
// ${VAR} references already expanded. Load and Validate (loader.go) are the
// external collaborator that produces that value; the daemon composes
// with them but does not depend on them for its own correctness.
package config

import "time"

// RestartPolicy controls whether a service is relaunched after exit.
type RestartPolicy string

const (
	RestartAlways    RestartPolicy = "always"
	RestartOnFailure RestartPolicy = "on-failure"
	RestartNever     RestartPolicy = "never"
)

// ServiceKind distinguishes a long-running service from a scheduled one-shot.
type ServiceKind string

const (
	KindStatic  ServiceKind = "static"  // long-running, supervised
	KindOneshot ServiceKind = "oneshot" // launched once, no restart accounting
	KindCron    ServiceKind = "cron"    // launched by the cron scheduler
)

// SpawnMode controls whether a service may dynamically spawn children.
type SpawnMode string

const (
	SpawnStatic  SpawnMode = "static"
	SpawnDynamic SpawnMode = "dynamic"
)

// TerminationPolicy governs what happens to a dynamic subtree when its
// root exits.
type TerminationPolicy string

const (
	TerminationCascade  TerminationPolicy = "cascade"
	TerminationOrphan   TerminationPolicy = "orphan"
	TerminationReparent TerminationPolicy = "reparent"
)

// DeployStrategyKind selects how a running service is replaced.
type DeployStrategyKind string

const (
	DeployImmediate DeployStrategyKind = "immediate"
	DeployRolling   DeployStrategyKind = "rolling"
)

// HookStage names the point in a service's life a hook is bound to.
type HookStage string

const (
	StageStart   HookStage = "start"
	StageStop    HookStage = "stop"
	StageRestart HookStage = "restart"
)

// HookOutcome names the result a hook is conditioned on.
type HookOutcome string

const (
	OutcomeSuccess HookOutcome = "success"
	OutcomeError   HookOutcome = "error"
)

// HookKey indexes Hooks on a ServiceSpec.
type HookKey struct {
	Stage   HookStage
	Outcome HookOutcome
}

// Hook is a command fired for a (stage, outcome) pair. Its exit code is
// logged but never influences service state.
type Hook struct {
	Command         []string
	Timeout         time.Duration // 0 = no timeout
	Retry           int
	RetryDelay      time.Duration
	ContinueOnError bool
	Env             map[string]string
	WorkingDir      string
}

// HealthCheck probes a running replacement during a rolling deployment.
type HealthCheck struct {
	URL              string
	Timeout          time.Duration
	Retries          int
	ExpectedStatus   int // 0 (unset) = any 2xx counts healthy; else exact match
}

// DeploySpec configures how a service is replaced on restart/redeploy.
type DeploySpec struct {
	Strategy    DeployStrategyKind
	PreStart    []string
	Health      *HealthCheck
	GracePeriod time.Duration
}

// CronSpec carries the schedule for a Kind==KindCron service.
type CronSpec struct {
	Expression string // 6-field: sec min hour dom month dow
	Timezone   string // IANA name; "" = system local
}

// SpawnLimits bounds a dynamic-mode service's spawn tree.
type SpawnLimits struct {
	MaxChildren    int
	MaxDepth       int
	MaxDescendants int
}

// PrivilegeSpec describes the pre-exec privilege transition applied to a
// launched child. The core treats it as an opaque applier; see
// internal/supervisor.PrivilegeContext.
type PrivilegeSpec struct {
	User  string
	Group string
}

// ServiceSpec is the declarative definition of one managed unit. Created
// by configuration load; immutable thereafter within a supervisor
// generation.
type ServiceSpec struct {
	Name string

	Kind    ServiceKind
	Command []string
	Env     map[string]string
	Dir     string

	Restart      RestartPolicy
	Backoff      time.Duration
	MaxRestarts  int // 0 = unbounded
	DependsOn    []string
	Scale        int

	Deploy DeploySpec
	Cron   *CronSpec

	Hooks map[HookKey]Hook

	SkipProbe []string // shell expression; exit 0 means "do not start"

	SpawnMode         SpawnMode
	SpawnLimits       SpawnLimits
	TerminationPolicy TerminationPolicy

	Privilege *PrivilegeSpec

	ReadinessWindow time.Duration // extension field; 0 => package default

	Heartbeat *HeartbeatSpec
	Redact    []RedactPattern
}

// HeartbeatSpec pings an external URL after each cron execution.
type HeartbeatSpec struct {
	SuccessURL string
	FailureURL string
	Timeout    time.Duration
	Headers    map[string]string
}

// RedactPattern scrubs matches from a service's captured log lines.
type RedactPattern struct {
	Pattern     string
	Replacement string
}

// Global holds daemon-wide defaults and surface toggles.
type Global struct {
	StateDir            string
	ShutdownGrace        time.Duration
	DefaultReadiness     time.Duration
	MetricsEnabled       bool
	MetricsAddr          string
	TracingEnabled       bool
	TracingExporter      string // "stdout" | "otlp-grpc"
	TracingOTLPEndpoint  string
}

// Config is the fully resolved input the Daemon façade is built from.
type Config struct {
	Global   Global
	Services map[string]*ServiceSpec
}

const defaultReadinessWindow = 300 * time.Millisecond

// Readiness returns the effective readiness window for a service.
func (s *ServiceSpec) Readiness(global Global) time.Duration {
	if s.ReadinessWindow > 0 {
		return s.ReadinessWindow
	}
	if global.DefaultReadiness > 0 {
		return global.DefaultReadiness
	}
	return defaultReadinessWindow
}

// SetDefaults fills in zero-valued fields with the supervisor's defaults.
// Mirrors the shape of the original Process/Config default pass, adapted
// to the ServiceSpec model.
func (c *Config) SetDefaults() {
	if c.Global.ShutdownGrace == 0 {
		c.Global.ShutdownGrace = 10 * time.Second
	}
	if c.Global.DefaultReadiness == 0 {
		c.Global.DefaultReadiness = defaultReadinessWindow
	}
	if c.Global.MetricsAddr == "" {
		c.Global.MetricsAddr = "127.0.0.1:9090"
	}

	for name, svc := range c.Services {
		svc.Name = name
		if svc.Kind == "" {
			svc.Kind = KindStatic
		}
		if svc.Restart == "" {
			svc.Restart = RestartAlways
		}
		if svc.Scale == 0 {
			svc.Scale = 1
		}
		if svc.Deploy.Strategy == "" {
			svc.Deploy.Strategy = DeployImmediate
		}
		if svc.Deploy.Health != nil {
			hc := svc.Deploy.Health
			if hc.Timeout == 0 {
				hc.Timeout = 2 * time.Second
			}
			if hc.Retries == 0 {
				hc.Retries = 3
			}
		}
		if svc.SpawnMode == "" {
			svc.SpawnMode = SpawnStatic
		}
		if svc.TerminationPolicy == "" {
			svc.TerminationPolicy = TerminationCascade
		}
	}
}
