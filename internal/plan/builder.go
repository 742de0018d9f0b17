package plan

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/felixgeelhaar/flagsync/internal/drift"
	"github.com/felixgeelhaar/flagsync/internal/errors"
	"github.com/felixgeelhaar/flagsync/internal/log"
	"github.com/felixgeelhaar/flagsync/internal/metrics"
	"github.com/felixgeelhaar/flagsync/internal/telemetry"
)

// NetworkRoundTrip is added to every operation that calls the flag service.
const NetworkRoundTrip = 500 * time.Millisecond

var operationCost = map[OperationType]time.Duration{
	OpArchive:  2 * time.Second,
	OpEnable:   2 * time.Second,
	OpNoAction: 0,
}

// EstimateDuration returns the expected wall time of one operation. It does
// not depend on risk.
func EstimateDuration(t OperationType) time.Duration {
	cost := operationCost[t]
	if cost == 0 {
		return 0
	}
	return cost + NetworkRoundTrip
}

// phaseOrder fixes the execution order of risk phases.
var phaseOrder = []drift.RiskLevel{drift.RiskLow, drift.RiskMedium, drift.RiskHigh, drift.RiskCritical}

// PhaseName returns the phase name for a risk level.
func PhaseName(r drift.RiskLevel) string {
	return string(r) + "_risk_operations"
}

// Builder creates cleanup plans from an analysis.
type Builder struct {
	opts    Options
	metrics *metrics.Metrics
	logger  *log.Logger
	now     func() time.Time
	newID   func() string
}

// NewBuilder validates opts and returns a Builder. A nil m disables metrics.
func NewBuilder(opts Options, m *metrics.Metrics, logger *log.Logger) (*Builder, error) {
	if opts.MaxFlagsPerPlan < 1 {
		return nil, errors.New(errors.ErrCodePlanOptions, fmt.Sprintf("maxFlagsPerPlan must be at least 1, got %d", opts.MaxFlagsPerPlan))
	}
	if !opts.RiskTolerance.Valid() {
		return nil, errors.New(errors.ErrCodePlanOptions, fmt.Sprintf("unknown risk tolerance %q", opts.RiskTolerance)).
			WithSuggestion("Use one of: low, medium, high")
	}
	return &Builder{
		opts:    opts,
		metrics: m,
		logger:  log.OrDefault(logger).WithComponent("plan"),
		now:     time.Now,
		newID:   uuid.NewString,
	}, nil
}

// Build generates one operation per actionable difference, orders them into
// risk phases and validates the result. Operations over the size limit are
// kept; the validator reports them.
func (b *Builder) Build(ctx context.Context, a *drift.Analysis) (*Plan, error) {
	if a == nil {
		return nil, errors.New(errors.ErrCodePlanOptions, "cannot build a plan without an analysis")
	}

	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanPlanBuild,
		attribute.Int("differences", len(a.Differences)),
	)

	now := b.opts.Now
	if now.IsZero() {
		now = b.now()
	}

	p := &Plan{
		ID:        b.newID(),
		CreatedAt: now.UTC(),
		Status:    StatusDraft,
		Options:   b.opts,
		Summary:   a.Summary,
		Degraded:  a.Degraded,
	}
	p.Options.Now = now

	for _, d := range a.Differences {
		op, ok := operationFor(d)
		if !ok {
			continue
		}
		op.ID = fmt.Sprintf("op-%03d", len(p.Operations)+1)
		p.Operations = append(p.Operations, op)
		p.EstimatedDurationMs += op.EstimatedDurationMs
		b.metrics.RecordPlanOperation(string(op.Type), string(op.RiskLevel))
	}
	if p.Operations == nil {
		p.Operations = []Operation{}
	}

	p.ExecutionOrder = orderByRisk(p.Operations)
	p.RiskAssessment = assessRisk(p.Operations)
	if b.opts.EnablePreview {
		p.Preview = buildPreview(p.Operations)
	}

	span.SetAttributes(attribute.String("plan_id", p.ID), attribute.Int("operations", len(p.Operations)))
	span.End()

	b.Validate(ctx, p)

	b.logger.Info("cleanup plan built",
		"plan_id", p.ID,
		"operations", len(p.Operations),
		"phases", len(p.ExecutionOrder.Phases),
		"overall_risk", p.RiskAssessment.OverallRisk,
		"valid", p.Validation.IsValid,
	)
	return p, nil
}

// Validate recomputes p.Validation.
func (b *Builder) Validate(ctx context.Context, p *Plan) Validation {
	_, span := telemetry.StartSpan(ctx, telemetry.SpanPlanValidate, attribute.String("plan_id", p.ID))

	opts := p.Options
	if opts.Now.IsZero() {
		opts.Now = b.now()
	}
	v := ValidatePlan(p.Operations, opts)
	if p.Degraded {
		v.Warnings = append(v.Warnings, "plan is based on a degraded flag snapshot; remote state may be stale")
	}
	p.Validation = v

	b.metrics.RecordPlanValidation(v.IsValid)
	for _, e := range v.Errors {
		b.logger.Warn("plan validation error", "plan_id", p.ID, "error", e)
	}
	span.SetAttributes(
		attribute.Bool("valid", v.IsValid),
		attribute.Int("errors", len(v.Errors)),
		attribute.Int("warnings", len(v.Warnings)),
	)
	span.End()
	return v
}

// operationFor maps a difference to an operation. Consistent flags produce none.
func operationFor(d drift.Difference) (Operation, bool) {
	op := Operation{
		FlagKey:        d.FlagKey,
		DifferenceType: d.Type,
		RiskLevel:      d.RiskLevel,
		Reason:         d.Description,
		CurrentFlag:    d.RemoteFlag,
		Status:         OpPending,
	}
	if d.RemoteFlag != nil {
		op.Dependencies = d.RemoteFlag.Dependencies
	}

	switch d.Type {
	case drift.OrphanedInRemote:
		op.Type = OpArchive
	case drift.ArchivedButUsed:
		op.Type = OpEnable
	case drift.MissingInRemote, drift.ActiveButUnused:
		op.Type = OpNoAction
	default:
		return Operation{}, false
	}

	op.RollbackInfo = rollbackFor(op)
	op.EstimatedDurationMs = EstimateDuration(op.Type).Milliseconds()
	return op, true
}

// rollbackFor describes the compensating action. Without a captured remote
// state there is nothing to restore to.
func rollbackFor(op Operation) RollbackInfo {
	if op.Type == OpNoAction {
		return RollbackInfo{Supported: true, Instructions: "No remote change is made"}
	}
	if op.CurrentFlag == nil {
		return RollbackInfo{Supported: false, Instructions: "Remote state was not captured"}
	}

	prev := &FlagState{Archived: op.CurrentFlag.Archived, UpdatedTime: op.CurrentFlag.UpdatedTime}
	switch op.Type {
	case OpArchive:
		return RollbackInfo{
			Supported:     true,
			Operation:     OpEnable,
			PreviousState: prev,
			Instructions:  fmt.Sprintf("Unarchive flag %s to restore it", op.FlagKey),
		}
	case OpEnable:
		return RollbackInfo{
			Supported:     true,
			Operation:     OpArchive,
			PreviousState: prev,
			Instructions:  fmt.Sprintf("Archive flag %s again to restore it", op.FlagKey),
		}
	}
	return RollbackInfo{Supported: false}
}

// orderByRisk groups operations into phases, lowest risk first. Empty phases
// are omitted; operations keep their relative order within a phase.
func orderByRisk(ops []Operation) ExecutionOrder {
	order := ExecutionOrder{Strategy: StrategyRiskBased, Phases: []Phase{}}
	for _, level := range phaseOrder {
		var ids []string
		for _, op := range ops {
			if normalizeRisk(op.RiskLevel) == level {
				ids = append(ids, op.ID)
			}
		}
		if len(ids) > 0 {
			order.Phases = append(order.Phases, Phase{Name: PhaseName(level), RiskLevel: level, OperationIDs: ids})
		}
	}
	return order
}

// normalizeRisk maps unknown levels to critical so they run last.
func normalizeRisk(r drift.RiskLevel) drift.RiskLevel {
	switch r {
	case drift.RiskLow, drift.RiskMedium, drift.RiskHigh:
		return r
	}
	return drift.RiskCritical
}

func assessRisk(ops []Operation) RiskAssessment {
	ra := RiskAssessment{OverallRisk: drift.RiskLow}
	for _, op := range ops {
		switch normalizeRisk(op.RiskLevel) {
		case drift.RiskLow:
			ra.Counts.Low++
		case drift.RiskMedium:
			ra.Counts.Medium++
		case drift.RiskHigh:
			ra.Counts.High++
		case drift.RiskCritical:
			ra.Counts.Critical++
		}
		if !op.Mutates() {
			continue
		}
		if op.RiskLevel.Rank() > ra.OverallRisk.Rank() {
			ra.OverallRisk = normalizeRisk(op.RiskLevel)
		}
		if op.RiskLevel.Rank() >= drift.RiskHigh.Rank() {
			ra.HighRiskFlags = append(ra.HighRiskFlags, op.FlagKey)
		}
	}

	if n := len(ra.HighRiskFlags); n > 0 {
		ra.Recommendations = append(ra.Recommendations,
			fmt.Sprintf("Review %d high risk operation(s) manually before applying", n))
	}
	if ra.Counts.Low > 0 && ra.Counts.Low < len(ops) {
		ra.Recommendations = append(ra.Recommendations,
			"Verify low risk operations in production before later phases run")
	}
	return ra
}

func buildPreview(ops []Operation) *Preview {
	pv := &Preview{Archive: []string{}, Enable: []string{}, NoAction: []string{}}
	for _, op := range ops {
		switch op.Type {
		case OpArchive:
			pv.Archive = append(pv.Archive, op.FlagKey)
		case OpEnable:
			pv.Enable = append(pv.Enable, op.FlagKey)
		default:
			pv.NoAction = append(pv.NoAction, op.FlagKey)
		}
	}
	return pv
}
