package telemetry

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// setupTestTracer installs an in-memory exporter as the global provider
func setupTestTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()

	exporter := tracetest.NewInMemoryExporter()
	res, err := createResource(DefaultConfig())
	if err != nil {
		t.Fatalf("createResource failed: %v", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(sdktrace.NewSimpleSpanProcessor(exporter)),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	SetTracerProvider(tp)
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		SetTracerProvider(nil)
	})

	return exporter
}

func TestStartSpan(t *testing.T) {
	exporter := setupTestTracer(t)

	ctx := context.Background()
	spanCtx, span := StartSpan(ctx, SpanScan, attribute.String("root", "/repo"))
	if spanCtx == ctx {
		t.Error("expected new context with span, got same context")
	}
	span.End()

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Name != "scan" {
		t.Errorf("span name = %q, want scan", spans[0].Name)
	}

	found := false
	for _, attr := range spans[0].Attributes {
		if attr.Key == "root" && attr.Value.AsString() == "/repo" {
			found = true
		}
	}
	if !found {
		t.Error("expected root attribute on span")
	}
}

func TestStartRemoteSpan(t *testing.T) {
	exporter := setupTestTracer(t)

	_, span := StartRemoteSpan(context.Background(), "list_flags")
	span.End()

	spans := exporter.GetSpans()
	if len(spans) != 1 || spans[0].Name != "remote.list_flags" {
		t.Fatalf("unexpected spans: %+v", spans)
	}
}

func TestStartCommandSpan(t *testing.T) {
	exporter := setupTestTracer(t)

	_, span := StartCommandSpan(context.Background(), "plan.apply")
	span.End()

	spans := exporter.GetSpans()
	if len(spans) != 1 || spans[0].Name != "command.plan.apply" {
		t.Fatalf("unexpected spans: %+v", spans)
	}
}

func TestEndRecordsStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want codes.Code
	}{
		{"success", nil, codes.Ok},
		{"failure", errors.New("boom"), codes.Error},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exporter := setupTestTracer(t)

			_, span := StartSpan(context.Background(), SpanAnalyze)
			End(span, tt.err)

			spans := exporter.GetSpans()
			if len(spans) != 1 {
				t.Fatalf("expected 1 span, got %d", len(spans))
			}
			if spans[0].Status.Code != tt.want {
				t.Errorf("status = %v, want %v", spans[0].Status.Code, tt.want)
			}
			if tt.err != nil && len(spans[0].Events) == 0 {
				t.Error("expected an exception event for the recorded error")
			}
		})
	}
}

func TestRecordErrorIgnoresNil(t *testing.T) {
	exporter := setupTestTracer(t)

	_, span := StartSpan(context.Background(), SpanPlanBuild)
	RecordError(span, nil)
	RecordSuccess(span, attribute.Int("operations", 3))
	span.End()

	spans := exporter.GetSpans()
	if spans[0].Status.Code != codes.Ok {
		t.Errorf("status = %v, want Ok", spans[0].Status.Code)
	}
}
