package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	instrumentationName = "sysg"
)

// StartDaemonSpan creates a span for top-level daemon operations: start,
// shutdown, config reload, control-command dispatch.
func StartDaemonSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.Tracer(instrumentationName)
	return tracer.Start(ctx, "daemon."+operation, trace.WithAttributes(attrs...))
}

// StartServiceSpan creates a span for an individual service's lifecycle
// transitions (launch, stop, restart).
func StartServiceSpan(ctx context.Context, serviceName, operation string, instance int, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.Tracer(instrumentationName)
	attrs = append(attrs,
		attribute.String("service.name", serviceName),
		attribute.String("service.operation", operation),
		attribute.Int("service.instance", instance),
	)
	return tracer.Start(ctx, "service."+operation, trace.WithAttributes(attrs...))
}

// StartDeploySpan creates a span for a rolling or immediate deployment.
func StartDeploySpan(ctx context.Context, serviceName, strategy string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.Tracer(instrumentationName)
	attrs = append(attrs,
		attribute.String("deploy.service_name", serviceName),
		attribute.String("deploy.strategy", strategy),
	)
	return tracer.Start(ctx, "deploy."+strategy, trace.WithAttributes(attrs...))
}

// StartCronSpan creates a span for a single cron job invocation.
func StartCronSpan(ctx context.Context, jobName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.Tracer(instrumentationName)
	attrs = append(attrs, attribute.String("cron.job_name", jobName))
	return tracer.Start(ctx, "cron.execute", trace.WithAttributes(attrs...))
}

// StartSpawnSpan creates a span for a dynamic spawn authorization decision.
func StartSpawnSpan(ctx context.Context, parentName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.Tracer(instrumentationName)
	attrs = append(attrs, attribute.String("spawn.parent_name", parentName))
	return tracer.Start(ctx, "spawn.authorize", trace.WithAttributes(attrs...))
}

// StartHealthCheckSpan creates a span for health check operations
func StartHealthCheckSpan(ctx context.Context, processName, checkType string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.Tracer(instrumentationName)
	attrs = append(attrs,
		attribute.String("health_check.process_name", processName),
		attribute.String("health_check.type", checkType),
	)
	return tracer.Start(ctx, "health_check.execute", trace.WithAttributes(attrs...))
}

// RecordError records an error on the span
func RecordError(span trace.Span, err error, description string) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err, trace.WithAttributes(
		attribute.String("error.description", description),
	))
	span.SetStatus(codes.Error, description)
}

// RecordSuccess marks the span as successful
func RecordSuccess(span trace.Span) {
	if span == nil {
		return
	}
	span.SetStatus(codes.Ok, "")
}

// AddEvent adds an event to the span
func AddEvent(span trace.Span, name string, attrs ...attribute.KeyValue) {
	if span == nil {
		return
	}
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// SetAttributes sets additional attributes on the span
func SetAttributes(span trace.Span, attrs ...attribute.KeyValue) {
	if span == nil {
		return
	}
	span.SetAttributes(attrs...)
}
