package consistency

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/felixgeelhaar/flagsync/internal/log"
	"github.com/felixgeelhaar/flagsync/internal/metrics"
	"github.com/felixgeelhaar/flagsync/internal/remote"
	"github.com/felixgeelhaar/flagsync/internal/telemetry"
)

// DefaultFailedCheckRatio is the share of failed checks above which a
// rollback is recommended even without blocking issues.
const DefaultFailedCheckRatio = 0.3

// DefaultCheckTimeout bounds a single check.
const DefaultCheckTimeout = 10 * time.Second

// Options configure a Validator.
type Options struct {
	// DeepValidation adds the per-environment remote check to the pre battery.
	DeepValidation bool
	Environment    string
	// AutoRollback forces a rollback recommendation whenever the post
	// battery fails.
	AutoRollback     bool
	FailedCheckRatio float64
	CheckTimeout     time.Duration
}

// DefaultOptions returns shallow validation without auto-rollback.
func DefaultOptions() Options {
	return Options{
		FailedCheckRatio: DefaultFailedCheckRatio,
		CheckTimeout:     DefaultCheckTimeout,
	}
}

// Validator runs the pre and post batteries against live flag state.
type Validator struct {
	client  remote.Client
	opts    Options
	pre     []Checker
	post    []Checker
	metrics *metrics.Metrics
	logger  *log.Logger
	now     func() time.Time
}

// NewValidator creates a validator reading flag state from client.
func NewValidator(client remote.Client, opts Options, m *metrics.Metrics, logger *log.Logger) *Validator {
	if opts.FailedCheckRatio <= 0 {
		opts.FailedCheckRatio = DefaultFailedCheckRatio
	}
	if opts.CheckTimeout <= 0 {
		opts.CheckTimeout = DefaultCheckTimeout
	}
	return &Validator{
		client:  client,
		opts:    opts,
		pre:     PreChecks(client, opts.Environment, opts.DeepValidation),
		post:    PostChecks(),
		metrics: m,
		logger:  log.OrDefault(logger).WithComponent("consistency"),
		now:     time.Now,
	}
}

// PreCheck reads the flag's current state into in.Before and runs the pre
// battery.
func (v *Validator) PreCheck(ctx context.Context, in Input) *Report {
	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanConsistencyPre,
		attribute.String("flag", in.Operation.FlagKey),
		attribute.String("operation", string(in.Operation.Type)),
	)
	defer span.End()

	in.Before, in.BeforeErr = v.read(ctx, in.Operation.FlagKey)
	r := v.run(ctx, PhasePre, v.pre, &in)
	r.Observed, r.ObserveErr = in.Before, in.BeforeErr

	v.finish(span, r)
	return r
}

// PostCheck reads the flag's state after the operation into in.After and
// runs the post battery. in.Before should carry the pre-check observation.
func (v *Validator) PostCheck(ctx context.Context, in Input) *Report {
	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanConsistencyPost,
		attribute.String("flag", in.Operation.FlagKey),
		attribute.String("operation", string(in.Operation.Type)),
	)
	defer span.End()

	in.After, in.AfterErr = v.read(ctx, in.Operation.FlagKey)
	r := v.run(ctx, PhasePost, v.post, &in)
	r.Observed, r.ObserveErr = in.After, in.AfterErr

	if v.opts.AutoRollback && !r.Passed {
		r.RollbackRecommended = true
	}

	v.finish(span, r)
	return r
}

func (v *Validator) read(ctx context.Context, key string) (*remote.RemoteFlag, error) {
	if v.client == nil {
		return nil, nil
	}
	f, found, err := remote.FindFlag(ctx, v.client, key)
	if err != nil || !found {
		return nil, err
	}
	return &f, nil
}

// Run executes checks in order against in and aggregates the results.
func Run(ctx context.Context, phase Phase, checks []Checker, in *Input, ratio float64, timeout time.Duration) *Report {
	start := time.Now()
	r := &Report{
		Phase:       phase,
		OperationID: in.Operation.ID,
		FlagKey:     in.Operation.FlagKey,
		Checks:      make([]CheckResult, 0, len(checks)),
		TotalChecks: len(checks),
		CheckedAt:   in.Now,
	}

	for _, c := range checks {
		r.Checks = append(r.Checks, runOne(ctx, c, in, timeout))
	}

	for _, c := range r.Checks {
		if !c.Passed {
			r.FailedChecks++
		}
		for _, i := range c.Issues {
			if i.Severity.Blocking() {
				r.BlockingIssues++
			}
		}
	}

	r.Passed = r.BlockingIssues == 0 && r.FailedChecks == 0
	r.RollbackRecommended = r.BlockingIssues > 0 ||
		float64(r.FailedChecks) > ratio*float64(r.TotalChecks)
	r.DurationMs = time.Since(start).Milliseconds()
	return r
}

func runOne(ctx context.Context, c Checker, in *Input, timeout time.Duration) CheckResult {
	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	issues, err := c.Check(checkCtx, in)
	res := CheckResult{
		CheckID:     c.ID(),
		Description: c.Description(),
		Issues:      issues,
		DurationMs:  time.Since(start).Milliseconds(),
	}
	if err != nil {
		res.Issues = append(res.Issues, Issue{
			Type:       "state_unknown",
			Severity:   SeverityMedium,
			Message:    "flag state unknown: " + err.Error(),
			Resolution: "re-run once the flag service is reachable",
		})
	}
	if res.Issues == nil {
		res.Issues = []Issue{}
	}

	res.Passed = err == nil
	for _, i := range res.Issues {
		if i.Severity.Blocking() {
			res.Passed = false
		}
	}
	return res
}

func (v *Validator) run(ctx context.Context, phase Phase, checks []Checker, in *Input) *Report {
	if in.Now.IsZero() {
		in.Now = v.now().UTC()
	}
	return Run(ctx, phase, checks, in, v.opts.FailedCheckRatio, v.opts.CheckTimeout)
}

func (v *Validator) finish(span trace.Span, r *Report) {
	span.SetAttributes(
		attribute.Bool("passed", r.Passed),
		attribute.Int("failed_checks", r.FailedChecks),
		attribute.Int("blocking_issues", r.BlockingIssues),
		attribute.Bool("rollback_recommended", r.RollbackRecommended),
	)
	if !r.Passed {
		telemetry.RecordError(span, r.Err())
	}
	v.metrics.RecordConsistency(string(r.Phase), r.Passed)

	kv := []any{
		"phase", r.Phase,
		"operation_id", r.OperationID,
		"flag", r.FlagKey,
		"passed", r.Passed,
		"failed_checks", r.FailedChecks,
		"blocking_issues", r.BlockingIssues,
		"rollback_recommended", r.RollbackRecommended,
	}
	if r.Passed {
		v.logger.Debug("consistency check passed", kv...)
		return
	}
	v.logger.Warn("consistency check failed", append(kv, "issues", r.Messages())...)
}
