package config

import (
	"fmt"
	"os"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/sysg-dev/sysg/internal/depgraph"
)

var cronParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// yamlDoc mirrors the on-disk schema; it is converted into the core's
// Config (distinct field types: time.Duration, HookKey-keyed maps) after
// unmarshaling and env expansion.
type yamlDoc struct {
	Global struct {
		StateDir        string `yaml:"state_dir"`
		ShutdownGrace   string `yaml:"shutdown_grace"`
		DefaultReadiness string `yaml:"default_readiness"`
		MetricsEnabled  bool   `yaml:"metrics_enabled"`
		MetricsAddr     string `yaml:"metrics_addr"`
		TracingEnabled  bool   `yaml:"tracing_enabled"`
		TracingExporter string `yaml:"tracing_exporter"`
		TracingOTLPEndpoint string `yaml:"tracing_otlp_endpoint"`
	} `yaml:"global"`
	Services map[string]yamlService `yaml:"services"`
}

type yamlHook struct {
	Command         []string          `yaml:"command"`
	Timeout         string            `yaml:"timeout"`
	Retry           int               `yaml:"retry"`
	RetryDelay      string            `yaml:"retry_delay"`
	ContinueOnError bool              `yaml:"continue_on_error"`
	Env             map[string]string `yaml:"env"`
	WorkingDir      string            `yaml:"working_dir"`
}

type yamlService struct {
	Kind      string            `yaml:"kind"`
	Command   []string          `yaml:"command"`
	Env       map[string]string `yaml:"env"`
	Dir       string            `yaml:"dir"`
	Restart   string            `yaml:"restart"`
	Backoff   string            `yaml:"backoff"`
	MaxRestarts int             `yaml:"max_restarts"`
	DependsOn []string          `yaml:"depends_on"`
	Scale     int               `yaml:"scale"`

	Deploy struct {
		Strategy string `yaml:"strategy"`
		PreStart []string `yaml:"pre_start"`
		Health   *struct {
			URL            string `yaml:"url"`
			Timeout        string `yaml:"timeout"`
			Retries        int    `yaml:"retries"`
			ExpectedStatus int    `yaml:"expected_status"`
		} `yaml:"health_check"`
		GracePeriod string `yaml:"grace_period"`
	} `yaml:"deploy"`

	Cron *struct {
		Expression string `yaml:"expression"`
		Timezone   string `yaml:"timezone"`
	} `yaml:"cron"`

	Hooks struct {
		OnStart   *yamlHook `yaml:"on_start"`
		OnStartErr *yamlHook `yaml:"on_start_error"`
		OnStop    *yamlHook `yaml:"on_stop"`
		OnStopErr *yamlHook `yaml:"on_stop_error"`
		OnRestart *yamlHook `yaml:"on_restart"`
		OnRestartErr *yamlHook `yaml:"on_restart_error"`
	} `yaml:"hooks"`

	SkipProbe []string `yaml:"skip_probe"`

	Spawn struct {
		Mode              string `yaml:"mode"`
		MaxChildren       int    `yaml:"max_children"`
		MaxDepth          int    `yaml:"max_depth"`
		MaxDescendants    int    `yaml:"max_descendants"`
		TerminationPolicy string `yaml:"termination_policy"`
	} `yaml:"spawn"`

	Privilege *struct {
		User  string `yaml:"user"`
		Group string `yaml:"group"`
	} `yaml:"privilege"`

	ReadinessWindow string `yaml:"readiness_window"`

	Heartbeat *struct {
		SuccessURL string            `yaml:"success_url"`
		FailureURL string            `yaml:"failure_url"`
		Timeout    string            `yaml:"timeout"`
		Headers    map[string]string `yaml:"headers"`
	} `yaml:"heartbeat"`

	Redact []struct {
		Pattern     string `yaml:"pattern"`
		Replacement string `yaml:"replacement"`
	} `yaml:"redact"`
}

// Load reads path, expands ${VAR} references, and returns a validated
// Config ready for a daemon.Daemon.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var doc yamlDoc
	if err := yaml.Unmarshal([]byte(ExpandEnv(string(raw))), &doc); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg, err := convert(&doc)
	if err != nil {
		return nil, err
	}

	cfg.SetDefaults()
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func convert(doc *yamlDoc) (*Config, error) {
	cfg := &Config{
		Global: Global{
			StateDir:            doc.Global.StateDir,
			MetricsEnabled:      doc.Global.MetricsEnabled,
			MetricsAddr:         doc.Global.MetricsAddr,
			TracingEnabled:      doc.Global.TracingEnabled,
			TracingExporter:     doc.Global.TracingExporter,
			TracingOTLPEndpoint: doc.Global.TracingOTLPEndpoint,
		},
		Services: make(map[string]*ServiceSpec, len(doc.Services)),
	}

	var err error
	if cfg.Global.ShutdownGrace, err = parseDuration(doc.Global.ShutdownGrace); err != nil {
		return nil, fmt.Errorf("global.shutdown_grace: %w", err)
	}
	if cfg.Global.DefaultReadiness, err = parseDuration(doc.Global.DefaultReadiness); err != nil {
		return nil, fmt.Errorf("global.default_readiness: %w", err)
	}

	for name, ys := range doc.Services {
		svc, err := convertService(name, ys)
		if err != nil {
			return nil, fmt.Errorf("service %q: %w", name, err)
		}
		cfg.Services[name] = svc
	}
	return cfg, nil
}

func convertService(name string, ys yamlService) (*ServiceSpec, error) {
	svc := &ServiceSpec{
		Name:      name,
		Kind:      ServiceKind(ys.Kind),
		Command:   ys.Command,
		Env:       ys.Env,
		Dir:       ys.Dir,
		Restart:   RestartPolicy(ys.Restart),
		DependsOn: ys.DependsOn,
		Scale:     ys.Scale,
		SkipProbe: ys.SkipProbe,
	}

	var err error
	if svc.Backoff, err = parseDuration(ys.Backoff); err != nil {
		return nil, fmt.Errorf("backoff: %w", err)
	}
	svc.MaxRestarts = ys.MaxRestarts

	svc.Deploy.Strategy = DeployStrategyKind(ys.Deploy.Strategy)
	svc.Deploy.PreStart = ys.Deploy.PreStart
	if svc.Deploy.GracePeriod, err = parseDuration(ys.Deploy.GracePeriod); err != nil {
		return nil, fmt.Errorf("deploy.grace_period: %w", err)
	}
	if ys.Deploy.Health != nil {
		hc := &HealthCheck{
			URL:            ys.Deploy.Health.URL,
			Retries:        ys.Deploy.Health.Retries,
			ExpectedStatus: ys.Deploy.Health.ExpectedStatus,
		}
		if hc.Timeout, err = parseDuration(ys.Deploy.Health.Timeout); err != nil {
			return nil, fmt.Errorf("deploy.health_check.timeout: %w", err)
		}
		svc.Deploy.Health = hc
	}

	if ys.Cron != nil {
		svc.Cron = &CronSpec{Expression: ys.Cron.Expression, Timezone: ys.Cron.Timezone}
	}

	hooks := map[HookKey]Hook{}
	add := func(stage HookStage, outcome HookOutcome, h *yamlHook) error {
		if h == nil {
			return nil
		}
		hook := Hook{
			Command:         h.Command,
			Retry:           h.Retry,
			ContinueOnError: h.ContinueOnError,
			Env:             h.Env,
			WorkingDir:      h.WorkingDir,
		}
		var err error
		if hook.Timeout, err = parseDuration(h.Timeout); err != nil {
			return err
		}
		if hook.RetryDelay, err = parseDuration(h.RetryDelay); err != nil {
			return err
		}
		hooks[HookKey{Stage: stage, Outcome: outcome}] = hook
		return nil
	}
	for _, e := range []struct {
		stage   HookStage
		outcome HookOutcome
		h       *yamlHook
	}{
		{StageStart, OutcomeSuccess, ys.Hooks.OnStart},
		{StageStart, OutcomeError, ys.Hooks.OnStartErr},
		{StageStop, OutcomeSuccess, ys.Hooks.OnStop},
		{StageStop, OutcomeError, ys.Hooks.OnStopErr},
		{StageRestart, OutcomeSuccess, ys.Hooks.OnRestart},
		{StageRestart, OutcomeError, ys.Hooks.OnRestartErr},
	} {
		if err := add(e.stage, e.outcome, e.h); err != nil {
			return nil, fmt.Errorf("hooks: %w", err)
		}
	}
	svc.Hooks = hooks

	svc.SpawnMode = SpawnMode(ys.Spawn.Mode)
	svc.SpawnLimits = SpawnLimits{
		MaxChildren:    ys.Spawn.MaxChildren,
		MaxDepth:       ys.Spawn.MaxDepth,
		MaxDescendants: ys.Spawn.MaxDescendants,
	}
	svc.TerminationPolicy = TerminationPolicy(ys.Spawn.TerminationPolicy)

	if ys.Privilege != nil {
		svc.Privilege = &PrivilegeSpec{User: ys.Privilege.User, Group: ys.Privilege.Group}
	}

	if svc.ReadinessWindow, err = parseDuration(ys.ReadinessWindow); err != nil {
		return nil, fmt.Errorf("readiness_window: %w", err)
	}

	if ys.Heartbeat != nil {
		hb := &HeartbeatSpec{
			SuccessURL: ys.Heartbeat.SuccessURL,
			FailureURL: ys.Heartbeat.FailureURL,
			Headers:    ys.Heartbeat.Headers,
		}
		if hb.Timeout, err = parseDuration(ys.Heartbeat.Timeout); err != nil {
			return nil, fmt.Errorf("heartbeat.timeout: %w", err)
		}
		svc.Heartbeat = hb
	}

	for _, r := range ys.Redact {
		svc.Redact = append(svc.Redact, RedactPattern{Pattern: r.Pattern, Replacement: r.Replacement})
	}

	return svc, nil
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

// Validate checks invariants the core assumes hold on any Config it is
// handed: acyclic dependencies, mutually-exclusive command/cron roles,
// and a well-formed cron expression where present.
func Validate(cfg *Config) error {
	g := depgraph.FromConfig(cfg.Services)
	if err := g.Validate(); err != nil {
		return err
	}
	if has, cycle := g.HasCycle(); has {
		return fmt.Errorf("circular dependency: %v", cycle)
	}

	for name, svc := range cfg.Services {
		if svc.Kind == KindCron && svc.Cron == nil {
			return fmt.Errorf("service %q: kind cron requires a cron spec", name)
		}
		if svc.Kind != KindCron && svc.Cron != nil {
			return fmt.Errorf("service %q: cron spec set on a non-cron service", name)
		}
		if svc.Kind == KindCron && len(svc.Command) == 0 {
			return fmt.Errorf("service %q: cron service has no command", name)
		}
		if svc.Cron != nil {
			if _, err := cronParser.Parse(svc.Cron.Expression); err != nil {
				return fmt.Errorf("service %q: invalid cron expression %q: %w", name, svc.Cron.Expression, err)
			}
		}
		if svc.SpawnMode == SpawnDynamic {
			if svc.SpawnLimits.MaxChildren <= 0 || svc.SpawnLimits.MaxDepth <= 0 || svc.SpawnLimits.MaxDescendants <= 0 {
				return fmt.Errorf("service %q: dynamic spawn mode requires positive max_children/max_depth/max_descendants", name)
			}
		}
	}
	return nil
}
