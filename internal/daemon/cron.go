package daemon

import (
	"context"
	"time"

	"github.com/sysg-dev/sysg/internal/cron"
	"github.com/sysg-dev/sysg/internal/metrics"
	"github.com/sysg-dev/sysg/internal/persistence"
	"github.com/sysg-dev/sysg/internal/tracing"
)

// cronExecutorAdapter wraps the shared cron.ServiceExecutor with the
// daemon-level concerns a bare JobExecutor doesn't know about: tracing,
// metrics, heartbeat pings, audit logging, and persisted execution
// history. The scheduler only ever sees this adapter.
type cronExecutorAdapter struct {
	d *Daemon
}

func (d *Daemon) wrapCronExecutor() cron.JobExecutor {
	return &cronExecutorAdapter{d: d}
}

func (a *cronExecutorAdapter) Execute(ctx context.Context, name string) (int, error) {
	d := a.d
	ctx, span := tracing.StartCronSpan(ctx, name)
	defer span.End()

	d.audit.LogCronFire(name, "")
	start := time.Now()

	code, err := d.cronExecutor.Execute(ctx, name)

	duration := time.Since(start)
	metrics.RecordCronDuration(name, duration.Seconds())
	metrics.RecordCronLastRun(name, float64(start.Unix()))
	metrics.RecordCronLastExitCode(name, code)

	status := "success"
	if err != nil {
		status = "failed"
		tracing.RecordError(span, err, "cron execution failed")
	} else {
		tracing.RecordSuccess(span)
	}
	metrics.RecordCronRun(name, status)

	d.mu.Lock()
	hb := d.heartbeats[name]
	d.mu.Unlock()
	if err != nil {
		hb.PingFailure(ctx, err.Error())
	} else {
		hb.PingSuccess(ctx)
	}

	d.recordCronHistory(name, start, duration, code, err)
	return code, err
}

// recordCronHistory persists one execution to cron_state.json, trimmed to
// the same ring-buffer bound the in-memory ScheduledJob.History keeps.
func (d *Daemon) recordCronHistory(name string, start time.Time, duration time.Duration, code int, execErr error) {
	const historyCap = 10

	cs, err := persistence.LoadCronState(d.dir)
	if err != nil {
		d.logger.Warn("load cron state for history append failed", "job", name, "error", err)
		cs = make(persistence.CronState)
	}

	outcome := persistence.CronOutcome{Kind: "Ok", Code: code}
	if execErr != nil {
		outcome.Kind = "Err"
	}
	finished := start.Add(duration)
	record := persistence.CronExecutionRecord{
		ScheduledFor: start,
		StartedAt:    start,
		FinishedAt:   &finished,
		Outcome:      outcome,
	}

	job := cs[name]
	job.History = append(job.History, record)
	if len(job.History) > historyCap {
		job.History = job.History[len(job.History)-historyCap:]
	}
	cs[name] = job

	if err := persistence.SaveCronState(d.dir, cs); err != nil {
		d.logger.Warn("save cron state failed", "job", name, "error", err)
	}
}
