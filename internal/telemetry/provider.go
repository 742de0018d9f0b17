// Package telemetry wires OpenTelemetry tracing for flagsync runs. Tracing is
// off unless enabled; spans then go to an OTLP/HTTP collector when an
// endpoint is set and are otherwise only sampled in process.
package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Config selects where spans go.
type Config struct {
	ServiceName    string
	ServiceVersion string
	// Environment is "ci" inside CI jobs, "local" otherwise.
	Environment string
	Enabled     bool
	// Endpoint is the collector host:port. Empty keeps spans in process.
	Endpoint string
	Insecure bool
	// Headers are sent with every export, typically collector credentials.
	Headers map[string]string
	// RunID tags every span of one CLI invocation.
	RunID      string
	SampleRate float64
}

// DefaultConfig has tracing disabled.
func DefaultConfig() Config {
	return Config{
		ServiceName:    "flagsync",
		ServiceVersion: "dev",
		Environment:    "local",
		SampleRate:     1.0,
	}
}

var (
	mu       sync.RWMutex
	provider trace.TracerProvider
)

// retryableExporter retries a failed export with exponential backoff so a
// flapping collector does not drop a CI run's spans.
type retryableExporter struct {
	sdktrace.SpanExporter
	newBackOff func() backoff.BackOff
}

func newRetryableExporter(exporter sdktrace.SpanExporter) *retryableExporter {
	return &retryableExporter{
		SpanExporter: exporter,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 100 * time.Millisecond
			b.MaxInterval = 2 * time.Second
			b.MaxElapsedTime = 10 * time.Second
			return backoff.WithMaxRetries(b, 3)
		},
	}
}

func (re *retryableExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	attempts := 0
	err := backoff.Retry(func() error {
		attempts++
		return re.SpanExporter.ExportSpans(ctx, spans)
	}, backoff.WithContext(re.newBackOff(), ctx))
	if err != nil {
		return fmt.Errorf("export of %d span(s) failed after %d attempt(s): %w", len(spans), attempts, err)
	}
	return nil
}

func newResource(cfg Config) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{
		semconv.ServiceNameKey.String(cfg.ServiceName),
		semconv.ServiceVersionKey.String(cfg.ServiceVersion),
		semconv.DeploymentEnvironmentKey.String(cfg.Environment),
	}
	if cfg.RunID != "" {
		attrs = append(attrs, attribute.String("flagsync.run_id", cfg.RunID))
	}
	return resource.New(context.Background(), resource.WithAttributes(attrs...), resource.WithTelemetrySDK())
}

func sampler(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1:
		return sdktrace.AlwaysSample()
	case rate <= 0:
		return sdktrace.NeverSample()
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))
}

// InitProvider installs the tracer provider described by cfg and returns the
// function that flushes and stops it. A disabled config installs a no-op
// provider whose shutdown does nothing.
func InitProvider(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	if !cfg.Enabled {
		SetTracerProvider(noop.NewTracerProvider())
		return func(context.Context) error { return nil }, nil
	}

	res, err := newResource(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace resource: %w", err)
	}
	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg.SampleRate)),
	}

	if cfg.Endpoint != "" {
		exporterOpts := []otlptracehttp.Option{
			otlptracehttp.WithEndpoint(cfg.Endpoint),
			otlptracehttp.WithCompression(otlptracehttp.GzipCompression),
		}
		if cfg.Insecure {
			exporterOpts = append(exporterOpts, otlptracehttp.WithInsecure())
		}
		if len(cfg.Headers) > 0 {
			exporterOpts = append(exporterOpts, otlptracehttp.WithHeaders(cfg.Headers))
		}
		exporter, err := otlptracehttp.New(ctx, exporterOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP exporter for %s: %w", cfg.Endpoint, err)
		}
		opts = append(opts, sdktrace.WithBatcher(newRetryableExporter(exporter),
			sdktrace.WithBatchTimeout(5*time.Second)))
	}

	tp := sdktrace.NewTracerProvider(opts...)
	SetTracerProvider(tp)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

// SetTracerProvider replaces the provider spans are started on. Nil restores
// the no-op default.
func SetTracerProvider(tp trace.TracerProvider) {
	mu.Lock()
	defer mu.Unlock()
	provider = tp
}

// GetTracerProvider returns the installed provider, or a no-op one.
func GetTracerProvider() trace.TracerProvider {
	mu.RLock()
	defer mu.RUnlock()
	if provider != nil {
		return provider
	}
	return noop.NewTracerProvider()
}
