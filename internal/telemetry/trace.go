package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/felixgeelhaar/flagsync"

// Span names for the reconciliation pipeline stages.
const (
	SpanScan             = "scan"
	SpanExtractBatch     = "extract.batch"
	SpanAnalyze          = "analyze"
	SpanPlanBuild        = "plan.build"
	SpanPlanValidate     = "plan.validate"
	SpanConsistencyPre   = "consistency.pre"
	SpanConsistencyPost  = "consistency.post"
	SpanExecuteOperation = "execute.operation"
)

// StartSpan starts a pipeline-stage span.
//
// Usage:
//
//	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanScan,
//	    attribute.String("root", root),
//	)
//	defer span.End()
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := GetTracerProvider().Tracer(tracerName).Start(ctx, name)
	span.SetAttributes(attrs...)
	return ctx, span
}

// StartRemoteSpan creates a span for a flag service call.
func StartRemoteSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	return StartSpan(ctx, "remote."+operation,
		attribute.String("operation", operation),
		attribute.String("component", "remote"),
	)
}

// StartCommandSpan creates the root span for a CLI command.
func StartCommandSpan(ctx context.Context, command string) (context.Context, trace.Span) {
	return StartSpan(ctx, "command."+command,
		attribute.String("command", command),
		attribute.String("component", "cli"),
	)
}

// RecordSuccess marks a span as successful with optional result attributes.
func RecordSuccess(span trace.Span, attrs ...attribute.KeyValue) {
	span.SetAttributes(attrs...)
	span.SetStatus(codes.Ok, "")
}

// RecordError records an error in a span and sets error status.
// A nil error is ignored.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.SetAttributes(
		attribute.Bool("error", true),
	)
}

// End records err (if any) and ends the span. Handy with named returns:
//
//	defer func() { telemetry.End(span, err) }()
func End(span trace.Span, err error) {
	if err != nil {
		RecordError(span, err)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
