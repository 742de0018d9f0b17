package remote

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/felixgeelhaar/flagsync/internal/log"
	"github.com/felixgeelhaar/flagsync/internal/metrics"
	"github.com/felixgeelhaar/flagsync/internal/telemetry"
)

// Instrumented decorates a Client with spans, metrics and debug logs.
type Instrumented struct {
	next    Client
	metrics *metrics.Metrics
	logger  *log.Logger
}

// Instrument wraps c. A nil m disables metrics.
func Instrument(c Client, m *metrics.Metrics, logger *log.Logger) *Instrumented {
	return &Instrumented{
		next:    c,
		metrics: m,
		logger:  log.OrDefault(logger).WithComponent("remote"),
	}
}

func (i *Instrumented) observe(ctx context.Context, op string, call func(context.Context) error) error {
	ctx, span := telemetry.StartRemoteSpan(ctx, op)
	start := time.Now()
	err := call(ctx)
	d := time.Since(start)

	i.metrics.RecordRemoteCall(op, err, d)
	if err != nil {
		span.SetAttributes(attribute.Bool("retryable", IsRetryable(err)))
		i.logger.Warn("flag service call failed", "op", op, "duration_ms", d.Milliseconds(), "error", err)
	} else {
		i.logger.Debug("flag service call", "op", op, "duration_ms", d.Milliseconds())
	}
	telemetry.End(span, err)
	return err
}

func (i *Instrumented) ListFlags(ctx context.Context) ([]RemoteFlag, error) {
	var flags []RemoteFlag
	err := i.observe(ctx, "list_flags", func(ctx context.Context) error {
		var err error
		flags, err = i.next.ListFlags(ctx)
		return err
	})
	return flags, err
}

func (i *Instrumented) GetEnvironmentStatus(ctx context.Context, flagKey, envKey string) (EnvironmentStatus, error) {
	var st EnvironmentStatus
	err := i.observe(ctx, "get_environment_status", func(ctx context.Context) error {
		var err error
		st, err = i.next.GetEnvironmentStatus(ctx, flagKey, envKey)
		return err
	})
	return st, err
}

func (i *Instrumented) ArchiveFlags(ctx context.Context, keys []string) ([]KeyResult, error) {
	var res []KeyResult
	err := i.observe(ctx, "archive_flags", func(ctx context.Context) error {
		var err error
		res, err = i.next.ArchiveFlags(ctx, keys)
		return err
	})
	return res, err
}

func (i *Instrumented) UnarchiveFlags(ctx context.Context, keys []string) ([]KeyResult, error) {
	var res []KeyResult
	err := i.observe(ctx, "unarchive_flags", func(ctx context.Context) error {
		var err error
		res, err = i.next.UnarchiveFlags(ctx, keys)
		return err
	})
	return res, err
}
