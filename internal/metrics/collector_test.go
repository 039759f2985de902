package metrics

import (
	"testing"
	"time"
)

func TestRecordServiceStart(t *testing.T) {
	tests := []struct {
		name        string
		serviceName string
		instanceID  string
		startTime   float64
	}{
		{name: "record web start", serviceName: "web", instanceID: "web-0", startTime: float64(time.Now().Unix())},
		{name: "record worker start", serviceName: "worker", instanceID: "worker-1", startTime: 1234567890.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			RecordServiceStart(tt.serviceName, tt.instanceID, tt.startTime)
		})
	}
}

func TestRecordServiceStop(t *testing.T) {
	tests := []struct {
		name        string
		serviceName string
		instanceID  string
		exitCode    int
	}{
		{name: "normal exit", serviceName: "web", instanceID: "web-0", exitCode: 0},
		{name: "error exit", serviceName: "db", instanceID: "db-0", exitCode: 1},
		{name: "signal exit", serviceName: "worker", instanceID: "worker-2", exitCode: 137},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			RecordServiceStop(tt.serviceName, tt.instanceID, tt.exitCode)
		})
	}
}

func TestRecordServiceRestart(t *testing.T) {
	tests := []struct {
		name        string
		serviceName string
		reason      string
	}{
		{name: "health check restart", serviceName: "web", reason: "health_check"},
		{name: "crash restart", serviceName: "db", reason: "crash"},
		{name: "manual restart", serviceName: "worker", reason: "manual"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			RecordServiceRestart(tt.serviceName, tt.reason)
		})
	}
}

func TestRecordHealthCheck(t *testing.T) {
	tests := []struct {
		name        string
		serviceName string
		checkType   string
		duration    float64
		healthy     bool
	}{
		{name: "healthy tcp check", serviceName: "web", checkType: "tcp", duration: 0.005, healthy: true},
		{name: "unhealthy http check", serviceName: "db", checkType: "http", duration: 1.5, healthy: false},
		{name: "healthy exec check", serviceName: "worker", checkType: "exec", duration: 0.1, healthy: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			RecordHealthCheck(tt.serviceName, tt.checkType, tt.duration, tt.healthy)
		})
	}
}

func TestRecordHealthCheckFailures(t *testing.T) {
	tests := []struct {
		name             string
		serviceName      string
		consecutiveFails int
	}{
		{name: "no failures", serviceName: "web", consecutiveFails: 0},
		{name: "one failure", serviceName: "db", consecutiveFails: 1},
		{name: "multiple failures", serviceName: "worker", consecutiveFails: 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			RecordHealthCheckFailures(tt.serviceName, tt.consecutiveFails)
		})
	}
}

func TestRecordHookExecution(t *testing.T) {
	tests := []struct {
		name        string
		serviceName string
		hookType    string
		duration    float64
		success     bool
	}{
		{name: "successful pre_start hook", serviceName: "setup", hookType: "pre_start", duration: 0.5, success: true},
		{name: "failed post_stop hook", serviceName: "cleanup", hookType: "post_stop", duration: 2.0, success: false},
		{name: "successful pre_stop hook", serviceName: "graceful-shutdown", hookType: "pre_stop", duration: 5.0, success: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			RecordHookExecution(tt.serviceName, tt.hookType, tt.duration, tt.success)
		})
	}
}

func TestSetDesiredScale(t *testing.T) {
	tests := []struct {
		name        string
		serviceName string
		scale       int
	}{
		{name: "scale to 1", serviceName: "web", scale: 1},
		{name: "scale to 5", serviceName: "worker", scale: 5},
		{name: "scale to 0", serviceName: "disabled", scale: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			SetDesiredScale(tt.serviceName, tt.scale)
		})
	}
}

func TestSetDaemonServiceCount(t *testing.T) {
	tests := []struct {
		name  string
		count int
	}{
		{name: "single service", count: 1},
		{name: "multiple services", count: 5},
		{name: "no services", count: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			SetDaemonServiceCount(tt.count)
		})
	}
}

func TestSetDaemonStartTime(t *testing.T) {
	tests := []struct {
		name      string
		startTime float64
	}{
		{name: "current time", startTime: float64(time.Now().Unix())},
		{name: "past time", startTime: 1234567890.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			SetDaemonStartTime(tt.startTime)
		})
	}
}

func TestSetBuildInfo(t *testing.T) {
	tests := []struct {
		name      string
		version   string
		goVersion string
	}{
		{name: "v1.0.0 with go1.21", version: "1.0.0", goVersion: "go1.21.0"},
		{name: "dev version", version: "dev", goVersion: "go1.22.0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			SetBuildInfo(tt.version, tt.goVersion)
		})
	}
}

func TestRecordShutdownDuration(t *testing.T) {
	tests := []struct {
		name     string
		duration float64
	}{
		{name: "fast shutdown", duration: 1.5},
		{name: "slow shutdown", duration: 25.0},
		{name: "timeout shutdown", duration: 60.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			RecordShutdownDuration(tt.duration)
		})
	}
}

func TestRecordDeployRollback(t *testing.T) {
	RecordDeployRollback("web", "rolling")
	RecordDeployDuration("web", "rolling", 12.5)
}

func TestRecordCronRun(t *testing.T) {
	RecordCronRun("nightly-backup", "success")
	RecordCronDuration("nightly-backup", 4.2)
	RecordCronLastRun("nightly-backup", float64(time.Now().Unix()))
	RecordCronNextRun("nightly-backup", float64(time.Now().Add(time.Hour).Unix()))
	RecordCronLastExitCode("nightly-backup", 0)
}

func TestRecordSpawnAuthorization(t *testing.T) {
	RecordSpawnAuthorization("worker-pool", "allowed")
	RecordSpawnAuthorization("worker-pool", "denied_depth")
	SetSpawnActiveNodes("worker-pool", 3)
	RecordSpawnTermination("cascade")
}

func TestMetricsIntegration(t *testing.T) {
	serviceName := "integration-test"
	instanceID := "test-0"
	startTime := float64(time.Now().Unix())

	RecordServiceStart(serviceName, instanceID, startTime)
	SetDesiredScale(serviceName, 2)

	RecordHealthCheck(serviceName, "tcp", 0.01, true)
	RecordHealthCheck(serviceName, "tcp", 0.02, true)
	RecordHealthCheck(serviceName, "tcp", 0.5, false)
	RecordHealthCheckFailures(serviceName, 1)

	RecordServiceRestart(serviceName, "health_check")
	RecordHookExecution("pre-stop", "pre_stop", 1.0, true)

	RecordServiceStop(serviceName, instanceID, 0)
}

func TestMetricsConcurrency(t *testing.T) {
	done := make(chan bool, 3)

	go func() {
		for i := 0; i < 100; i++ {
			RecordServiceStart("svc1", "inst-0", float64(time.Now().Unix()))
			time.Sleep(time.Microsecond)
		}
		done <- true
	}()

	go func() {
		for i := 0; i < 100; i++ {
			RecordHealthCheck("svc2", "tcp", 0.01, i%2 == 0)
			time.Sleep(time.Microsecond)
		}
		done <- true
	}()

	go func() {
		for i := 0; i < 100; i++ {
			RecordServiceRestart("svc3", "crash")
			time.Sleep(time.Microsecond)
		}
		done <- true
	}()

	<-done
	<-done
	<-done
}
