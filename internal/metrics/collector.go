package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Service metrics
	ServiceUp = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sysg_service_up",
			Help: "Service status (1=running, 0=stopped)",
		},
		[]string{"name", "instance"},
	)

	ServiceRestarts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sysg_service_restarts_total",
			Help: "Total number of service restarts",
		},
		[]string{"name", "reason"}, // reason: crash, normal_exit
	)

	ServiceStartTime = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sysg_service_start_time_seconds",
			Help: "Unix timestamp when service started",
		},
		[]string{"name", "instance"},
	)

	ServiceExitCode = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sysg_service_last_exit_code",
			Help: "Last exit code of service",
		},
		[]string{"name", "instance"},
	)

	// Health check metrics
	HealthCheckStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sysg_health_check_status",
			Help: "Health check status (1=healthy, 0=unhealthy)",
		},
		[]string{"name", "type"},
	)

	HealthCheckDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sysg_health_check_duration_seconds",
			Help:    "Health check duration in seconds",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
		},
		[]string{"name", "type"},
	)

	HealthCheckTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sysg_health_check_total",
			Help: "Total number of health checks performed",
		},
		[]string{"name", "type", "status"}, // status: success, failure
	)

	HealthCheckConsecutiveFails = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sysg_health_check_consecutive_fails",
			Help: "Current consecutive health check failures",
		},
		[]string{"name"},
	)

	// Scaling metrics
	ServiceDesiredScale = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sysg_service_desired_scale",
			Help: "Desired number of service instances",
		},
		[]string{"name"},
	)

	ServiceCurrentScale = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sysg_service_current_scale",
			Help: "Current number of running instances",
		},
		[]string{"name"},
	)

	// Deployment metrics
	DeployRollbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sysg_deploy_rollbacks_total",
			Help: "Total number of deployment rollbacks triggered by a failed health probe",
		},
		[]string{"name", "strategy"}, // strategy: rolling, immediate
	)

	DeployDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sysg_deploy_duration_seconds",
			Help:    "Deployment duration in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
		},
		[]string{"name", "strategy"},
	)

	// Daemon metrics
	DaemonUptime = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sysg_daemon_uptime_seconds",
			Help: "Daemon uptime in seconds",
		},
		[]string{"name"},
	)

	// Lifecycle hook metrics
	HookExecutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sysg_hook_executions_total",
			Help: "Total number of hook executions",
		},
		[]string{"name", "type", "status"}, // type: hook stage (start, stop, restart); status: success, failure
	)

	HookDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sysg_hook_duration_seconds",
			Help:    "Hook execution duration in seconds",
			Buckets: []float64{0.1, 0.5, 1.0, 5.0, 10.0, 30.0, 60.0, 120.0},
		},
		[]string{"name", "type"},
	)

	// Daemon-wide metrics
	DaemonServiceCount = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sysg_daemon_service_count",
			Help: "Total number of managed services",
		},
	)

	DaemonStartTime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sysg_daemon_start_time_seconds",
			Help: "Unix timestamp when the daemon started",
		},
	)

	ShutdownDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sysg_shutdown_duration_seconds",
			Help:    "Duration of graceful shutdown in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 180, 300},
		},
	)

	// Build info
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sysg_build_info",
			Help: "sysg build information",
		},
		[]string{"version", "go_version"},
	)

	// Cron job metrics
	CronRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sysg_cron_runs_total",
			Help: "Total number of cron job runs",
		},
		[]string{"name", "status"}, // status: success, failed, overlap_skipped
	)

	CronDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sysg_cron_duration_seconds",
			Help:    "Cron job execution duration in seconds",
			Buckets: []float64{0.1, 0.5, 1.0, 5.0, 10.0, 30.0, 60.0, 300.0, 600.0},
		},
		[]string{"name"},
	)

	CronLastRun = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sysg_cron_last_run_seconds",
			Help: "Unix timestamp of last cron job run",
		},
		[]string{"name"},
	)

	CronNextRun = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sysg_cron_next_run_seconds",
			Help: "Unix timestamp of next scheduled cron job run",
		},
		[]string{"name"},
	)

	CronLastExitCode = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sysg_cron_last_exit_code",
			Help: "Last exit code of cron job",
		},
		[]string{"name"},
	)

	// Dynamic spawn metrics
	SpawnAuthorizations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sysg_spawn_authorizations_total",
			Help: "Total number of dynamic spawn authorization decisions",
		},
		[]string{"parent", "decision"}, // decision: allowed, denied_depth, denied_children, denied_descendants, denied_rate
	)

	SpawnActiveNodes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sysg_spawn_active_nodes",
			Help: "Currently tracked nodes in a dynamic spawn tree",
		},
		[]string{"root"},
	)

	SpawnTerminations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sysg_spawn_terminations_total",
			Help: "Total number of dynamic spawn subtree terminations",
		},
		[]string{"policy"}, // policy: cascade, orphan, reparent
	)
)

// RecordServiceStart records a service start event
func RecordServiceStart(serviceName, instanceID string, startTime float64) {
	ServiceUp.WithLabelValues(serviceName, instanceID).Set(1)
	ServiceStartTime.WithLabelValues(serviceName, instanceID).Set(startTime)
	ServiceCurrentScale.WithLabelValues(serviceName).Inc()
}

// RecordServiceStop records a service stop event
func RecordServiceStop(serviceName, instanceID string, exitCode int) {
	ServiceUp.WithLabelValues(serviceName, instanceID).Set(0)
	ServiceExitCode.WithLabelValues(serviceName, instanceID).Set(float64(exitCode))
	ServiceCurrentScale.WithLabelValues(serviceName).Dec()
}

// RecordServiceRestart records a service restart
func RecordServiceRestart(serviceName, reason string) {
	ServiceRestarts.WithLabelValues(serviceName, reason).Inc()
}

// RecordHealthCheck records a health check result
func RecordHealthCheck(serviceName, checkType string, duration float64, healthy bool) {
	status := "success"
	statusValue := 1.0
	if !healthy {
		status = "failure"
		statusValue = 0.0
	}

	HealthCheckStatus.WithLabelValues(serviceName, checkType).Set(statusValue)
	HealthCheckDuration.WithLabelValues(serviceName, checkType).Observe(duration)
	HealthCheckTotal.WithLabelValues(serviceName, checkType, status).Inc()
}

// RecordHealthCheckFailures records consecutive health check failures
func RecordHealthCheckFailures(serviceName string, consecutiveFails int) {
	HealthCheckConsecutiveFails.WithLabelValues(serviceName).Set(float64(consecutiveFails))
}

// RecordHookExecution records a hook execution
func RecordHookExecution(serviceName, hookType string, duration float64, success bool) {
	status := "success"
	if !success {
		status = "failure"
	}

	HookExecutions.WithLabelValues(serviceName, hookType, status).Inc()
	HookDuration.WithLabelValues(serviceName, hookType).Observe(duration)
}

// RecordDeployRollback records a deployment rollback
func RecordDeployRollback(serviceName, strategy string) {
	DeployRollbacks.WithLabelValues(serviceName, strategy).Inc()
}

// RecordDeployDuration records deployment duration
func RecordDeployDuration(serviceName, strategy string, duration float64) {
	DeployDuration.WithLabelValues(serviceName, strategy).Observe(duration)
}

// SetDesiredScale sets the desired service scale
func SetDesiredScale(serviceName string, scale int) {
	ServiceDesiredScale.WithLabelValues(serviceName).Set(float64(scale))
}

// SetDaemonServiceCount sets the total number of managed services
func SetDaemonServiceCount(count int) {
	DaemonServiceCount.Set(float64(count))
}

// SetDaemonStartTime sets the daemon start time
func SetDaemonStartTime(startTime float64) {
	DaemonStartTime.Set(startTime)
}

// SetBuildInfo sets build information
func SetBuildInfo(version, goVersion string) {
	BuildInfo.WithLabelValues(version, goVersion).Set(1)
}

// RecordCronRun records a cron job run with status
func RecordCronRun(name, status string) {
	CronRuns.WithLabelValues(name, status).Inc()
}

// RecordCronDuration records cron job execution duration
func RecordCronDuration(name string, duration float64) {
	CronDuration.WithLabelValues(name).Observe(duration)
}

// RecordCronLastRun records the timestamp of last cron job run
func RecordCronLastRun(name string, timestamp float64) {
	CronLastRun.WithLabelValues(name).Set(timestamp)
}

// RecordCronNextRun records the timestamp of next cron job run
func RecordCronNextRun(name string, timestamp float64) {
	CronNextRun.WithLabelValues(name).Set(timestamp)
}

// RecordCronLastExitCode records the last exit code of a cron job
func RecordCronLastExitCode(name string, exitCode int) {
	CronLastExitCode.WithLabelValues(name).Set(float64(exitCode))
}

// RecordShutdownDuration records the duration of graceful shutdown
func RecordShutdownDuration(duration float64) {
	ShutdownDuration.Observe(duration)
}

// RecordSpawnAuthorization records a dynamic spawn authorization decision.
func RecordSpawnAuthorization(parentName, decision string) {
	SpawnAuthorizations.WithLabelValues(parentName, decision).Inc()
}

// SetSpawnActiveNodes sets the current node count of a spawn tree.
func SetSpawnActiveNodes(rootName string, count int) {
	SpawnActiveNodes.WithLabelValues(rootName).Set(float64(count))
}

// RecordSpawnTermination records a spawn subtree termination.
func RecordSpawnTermination(policy string) {
	SpawnTerminations.WithLabelValues(policy).Inc()
}
