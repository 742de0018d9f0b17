// Package executor applies a validated cleanup plan to the flag service.
//
// Every write is bracketed by consistency checks. The post-operation check
// re-reads the flag, so an operation only counts as done once the flag
// service shows the new state.
package executor

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/felixgeelhaar/flagsync/internal/approval"
	"github.com/felixgeelhaar/flagsync/internal/audit"
	"github.com/felixgeelhaar/flagsync/internal/consistency"
	"github.com/felixgeelhaar/flagsync/internal/errors"
	"github.com/felixgeelhaar/flagsync/internal/extract"
	"github.com/felixgeelhaar/flagsync/internal/log"
	"github.com/felixgeelhaar/flagsync/internal/plan"
	"github.com/felixgeelhaar/flagsync/internal/remote"
	"github.com/felixgeelhaar/flagsync/internal/telemetry"
)

// Options control a run.
type Options struct {
	// DryRun runs checks and confirmations but makes no writes.
	DryRun bool
	// AutoRollback issues the compensating call when a post-check
	// recommends rollback.
	AutoRollback bool
	// ContinueOnFailure keeps going after a failed operation. Operations
	// depending on a failed flag are skipped either way.
	ContinueOnFailure bool
}

// DefaultOptions is a dry run.
func DefaultOptions() Options {
	return Options{DryRun: true}
}

// Report summarizes a run.
type Report struct {
	PlanID     string                 `json:"planId"`
	DryRun     bool                   `json:"dryRun"`
	Status     plan.Status            `json:"status"`
	Total      int                    `json:"total"`
	Succeeded  int                    `json:"succeeded"`
	Failed     int                    `json:"failed"`
	Skipped    int                    `json:"skipped"`
	RolledBack int                    `json:"rolledBack"`
	Results    []plan.OperationResult `json:"results"`
	StartTime  time.Time              `json:"startTime"`
	EndTime    time.Time              `json:"endTime"`
}

// Err returns a VALIDATE error when any operation failed.
func (r *Report) Err() error {
	if r.Failed == 0 {
		return nil
	}
	code := errors.ErrCodeConsistencyFailed
	if r.RolledBack > 0 {
		code = errors.ErrCodeRollbackAdvised
	}
	err := errors.New(code, fmt.Sprintf("%d of %d operation(s) in plan %s failed", r.Failed, r.Total, r.PlanID))
	for _, res := range r.Results {
		if !res.Success && !res.Skipped {
			err.WithSuggestion(fmt.Sprintf("%s (%s): %s", res.OperationID, res.FlagKey, res.Error))
		}
	}
	return err
}

// Executor runs plans.
type Executor struct {
	client    remote.Client
	validator *consistency.Validator
	gate      *approval.Gate
	audit     audit.Sink
	opts      Options
	logger    *log.Logger
	now       func() time.Time
}

// New creates an executor. A nil gate requires nothing; a nil sink drops
// audit events.
func New(client remote.Client, validator *consistency.Validator, gate *approval.Gate, sink audit.Sink, opts Options, logger *log.Logger) *Executor {
	logger = log.OrDefault(logger)
	if gate == nil {
		gate = approval.NewGate(approval.Config{}, nil, nil, logger)
	}
	if sink == nil {
		sink = audit.Discard()
	}
	return &Executor{
		client:    client,
		validator: validator,
		gate:      gate,
		audit:     sink,
		opts:      opts,
		logger:    logger.WithComponent("executor"),
		now:       time.Now,
	}
}

// Execute runs p's phases in order. It refuses invalid plans and plans that
// are not in draft. The returned report is nil only together with an error;
// failed operations are reported through Report.Err.
func (e *Executor) Execute(ctx context.Context, p *plan.Plan, usages extract.UsageMap) (*Report, error) {
	if p == nil {
		return nil, errors.New(errors.ErrCodePlanOptions, "plan is required")
	}
	if !p.Validation.IsValid {
		return nil, errors.NewPlanInvalidError(p.ID, p.Validation.Errors)
	}
	if p.Status != plan.StatusDraft && p.Status != "" {
		return nil, errors.New(errors.ErrCodePlanInvalid,
			fmt.Sprintf("plan %s is %s; only draft plans can be applied", p.ID, p.Status)).
			WithSuggestion("Run 'flagsync plan create' to build a fresh plan")
	}
	if err := p.CheckStructure(); err != nil {
		return nil, err
	}

	r := &Report{
		PlanID:    p.ID,
		DryRun:    e.opts.DryRun,
		Total:     len(p.Operations),
		Results:   make([]plan.OperationResult, 0, len(p.Operations)),
		StartTime: e.now().UTC(),
	}

	if !e.opts.DryRun {
		p.Status = plan.StatusInProgress
	}
	e.audit.Record(audit.NewEvent(audit.EventTypePlanStart, "applying cleanup plan").
		WithPlan(p.ID).
		WithDryRun(e.opts.DryRun).
		WithData("operations", len(p.Operations)))

	e.logger.Info("applying plan", "plan_id", p.ID, "operations", len(p.Operations), "dry_run", e.opts.DryRun)

	failedFlags := make(map[string]bool)
	halted := false

	for _, phase := range p.ExecutionOrder.Phases {
		for _, id := range phase.OperationIDs {
			op, _ := p.Operation(id) // CheckStructure guarantees presence

			if err := ctx.Err(); err != nil {
				if !e.opts.DryRun {
					p.Status = plan.StatusFailed
					p.Results = r.Results
				}
				return nil, errors.Wrap(errors.ErrCodePlanRejected, "plan execution interrupted", err)
			}

			var res plan.OperationResult
			switch {
			case halted:
				res = skipped(*op, "an earlier operation failed")
			case dependsOnFailed(*op, failedFlags):
				res = skipped(*op, "a dependency failed")
			default:
				res = e.runOperation(ctx, p, *op, usages[op.FlagKey])
			}

			e.apply(op, &res)
			r.Results = append(r.Results, res)
			r.count(res)

			if !res.Success && !res.Skipped {
				failedFlags[op.FlagKey] = true
				if !e.opts.ContinueOnFailure {
					halted = true
				}
			}
		}
	}

	r.EndTime = e.now().UTC()
	r.Status = finalStatus(r)
	if !e.opts.DryRun {
		p.Status = r.Status
		p.Results = r.Results
	}

	e.audit.Record(audit.NewEvent(audit.EventTypePlanComplete, "cleanup plan finished").
		WithPlan(p.ID).
		WithDryRun(e.opts.DryRun).
		WithDuration(r.EndTime.Sub(r.StartTime)).
		WithData("status", r.Status).
		WithData("succeeded", r.Succeeded).
		WithData("failed", r.Failed).
		WithData("skipped", r.Skipped).
		WithData("rolled_back", r.RolledBack))

	e.logger.Info("plan finished",
		"plan_id", p.ID,
		"status", r.Status,
		"succeeded", r.Succeeded,
		"failed", r.Failed,
		"skipped", r.Skipped,
		"rolled_back", r.RolledBack,
	)
	return r, nil
}

func (e *Executor) runOperation(ctx context.Context, p *plan.Plan, op plan.Operation, usages []extract.FlagUsage) (res plan.OperationResult) {
	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanExecuteOperation,
		attribute.String("plan_id", p.ID),
		attribute.String("operation_id", op.ID),
		attribute.String("flag", op.FlagKey),
		attribute.String("type", string(op.Type)),
		attribute.String("risk", string(op.RiskLevel)),
		attribute.Bool("dry_run", e.opts.DryRun),
	)
	start := e.now()
	defer func() {
		res.DurationMs = e.now().Sub(start).Milliseconds()
		span.SetAttributes(attribute.Bool("success", res.Success), attribute.Bool("skipped", res.Skipped))
		var err error
		if res.Error != "" && !res.Skipped {
			err = fmt.Errorf("%s", res.Error)
		}
		telemetry.End(span, err)
	}()

	res = plan.OperationResult{
		OperationID: op.ID,
		FlagKey:     op.FlagKey,
		Type:        op.Type,
		DryRun:      e.opts.DryRun,
	}

	if !op.Mutates() {
		res.Success = true
		res.Skipped = true
		res.PrePassed = true
		res.PostPassed = true
		return res
	}

	e.audit.Record(audit.NewEvent(audit.EventTypeOperationStart, fmt.Sprintf("%s %s", op.Type, op.FlagKey)).
		WithPlan(p.ID).
		WithOperation(op.ID, op.FlagKey).
		WithDryRun(e.opts.DryRun))

	in := consistency.Input{Plan: p, Operation: op, Usages: usages}
	pre := e.validator.PreCheck(ctx, in)
	res.PrePassed = pre.Passed
	e.recordConsistency(p.ID, op, pre)
	if !pre.Passed {
		res.Issues = pre.Messages()
		res.Error = pre.Err().Error()
		e.recordFailure(p.ID, op, pre.Err())
		return res
	}

	decision := e.gate.Decide(ctx, approval.Request{
		PlanID:      p.ID,
		OperationID: op.ID,
		FlagKey:     op.FlagKey,
		Action:      string(op.Type),
		RiskLevel:   op.RiskLevel,
		Reason:      op.Reason,
	})
	res.Confirmation = string(decision.Outcome)
	if decision.Outcome != approval.OutcomeNotRequired {
		e.audit.Record(audit.NewEvent(audit.EventTypeConfirmation, "confirmation "+string(decision.Outcome)).
			WithPlan(p.ID).
			WithOperation(op.ID, op.FlagKey).
			WithData("outcome", decision.Outcome).
			WithData("reason", decision.Reason))
	}
	if !decision.Confirmed {
		res.Skipped = true
		res.Error = decision.Reason
		e.audit.Record(audit.NewEvent(audit.EventTypeOperationSkip, "operation not confirmed").
			WithPlan(p.ID).
			WithOperation(op.ID, op.FlagKey))
		return res
	}

	if e.opts.DryRun {
		res.Success = true
		res.Issues = pre.Messages()
		return res
	}

	kr, callErr := e.write(ctx, op.Type, op.FlagKey)
	in.Before = pre.Observed
	in.Result = &kr
	post := e.validator.PostCheck(ctx, in)
	res.PostPassed = post.Passed
	res.Issues = append(pre.Messages(), post.Messages()...)
	e.recordConsistency(p.ID, op, post)

	if callErr == nil && post.Passed {
		res.Success = true
		e.audit.Record(audit.NewEvent(audit.EventTypeOperationComplete, fmt.Sprintf("%s %s confirmed", op.Type, op.FlagKey)).
			WithPlan(p.ID).
			WithOperation(op.ID, op.FlagKey))
		return res
	}

	failure := e.failureFor(op, callErr, post)
	res.Error = failure.Error()
	e.recordFailure(p.ID, op, failure)

	if e.opts.AutoRollback && post.RollbackRecommended && landed(op, post.Observed) {
		if err := e.rollback(ctx, op); err != nil {
			res.Issues = append(res.Issues, "rollback failed: "+err.Error())
			e.audit.Record(audit.NewEvent(audit.EventTypeRollback, "rollback failed").
				WithPlan(p.ID).
				WithOperation(op.ID, op.FlagKey).
				WithError(err))
		} else {
			res.RolledBack = true
			e.audit.Record(audit.NewEvent(audit.EventTypeRollback, fmt.Sprintf("%s %s rolled back", op.Type, op.FlagKey)).
				WithPlan(p.ID).
				WithOperation(op.ID, op.FlagKey).
				WithData("compensating_operation", op.RollbackInfo.Operation))
		}
	}
	return res
}

// write issues the single-key call for t and extracts the key's result.
func (e *Executor) write(ctx context.Context, t plan.OperationType, key string) (remote.KeyResult, error) {
	keys := []string{key}

	var (
		results []remote.KeyResult
		err     error
	)
	switch t {
	case plan.OpArchive:
		results, err = e.client.ArchiveFlags(ctx, keys)
	case plan.OpEnable:
		results, err = e.client.UnarchiveFlags(ctx, keys)
	default:
		return remote.KeyResult{Key: key}, fmt.Errorf("operation type %q makes no remote call", t)
	}
	if err != nil {
		return remote.KeyResult{Key: key, Error: err.Error()}, err
	}
	for _, r := range results {
		if r.Key == key {
			return r, nil
		}
	}
	return remote.KeyResult{Key: key, Error: "key missing from response"}, nil
}

// failureFor picks the error that best explains a failed operation.
func (e *Executor) failureFor(op plan.Operation, callErr error, post *consistency.Report) error {
	switch {
	case callErr != nil && remote.IsAuth(callErr):
		return errors.NewRemoteAuthError(callErr)
	case callErr != nil:
		return errors.NewRemoteUnavailableError(string(op.Type), callErr)
	case post.ObserveErr != nil || !landed(op, post.Observed):
		err := errors.New(errors.ErrCodeRemoteUnconfirmed,
			fmt.Sprintf("%s of flag %s was not confirmed by a follow-up read", op.Type, op.FlagKey)).
			WithSuggestion("Treat the flag's state as unknown and inspect it in the flag service")
		if post.ObserveErr != nil {
			err.Cause = post.ObserveErr
		}
		return err
	default:
		return post.Err()
	}
}

// landed reports whether the observed flag shows op's target state.
func landed(op plan.Operation, f *remote.RemoteFlag) bool {
	if f == nil {
		return false
	}
	return f.Archived == (op.Type == plan.OpArchive)
}

// rollback issues the compensating call and confirms it with a read.
func (e *Executor) rollback(ctx context.Context, op plan.Operation) error {
	info := op.RollbackInfo
	if !info.Supported || !op.Mutates() {
		return fmt.Errorf("operation %s has no rollback", op.ID)
	}

	kr, err := e.write(ctx, info.Operation, op.FlagKey)
	if err != nil {
		return err
	}
	if !kr.OK {
		return fmt.Errorf("compensating %s rejected: %s", info.Operation, kr.Error)
	}

	f, found, err := remote.FindFlag(ctx, e.client, op.FlagKey)
	if err != nil {
		return fmt.Errorf("confirming rollback: %w", err)
	}
	want := info.Operation == plan.OpArchive
	if !found || f.Archived != want {
		return fmt.Errorf("rollback of %s not confirmed by a follow-up read", op.FlagKey)
	}
	return nil
}

func (e *Executor) recordConsistency(planID string, op plan.Operation, r *consistency.Report) {
	ev := audit.NewEvent(audit.EventTypeConsistency, fmt.Sprintf("%s-operation check", r.Phase)).
		WithPlan(planID).
		WithOperation(op.ID, op.FlagKey).
		WithData("phase", r.Phase).
		WithData("passed", r.Passed).
		WithData("rollback_recommended", r.RollbackRecommended).
		WithData("failed_checks", r.FailedChecks)
	if !r.Passed {
		ev.WithLevel("warning").WithData("issues", r.Messages())
	}
	e.audit.Record(ev)
}

func (e *Executor) recordFailure(planID string, op plan.Operation, err error) {
	e.audit.Record(audit.NewEvent(audit.EventTypeOperationFail, fmt.Sprintf("%s %s failed", op.Type, op.FlagKey)).
		WithPlan(planID).
		WithOperation(op.ID, op.FlagKey).
		WithError(err))
	e.logger.WithOperation(planID, op.ID, op.FlagKey).WithError(err).Warn("operation failed")
}

// apply copies a result onto the plan's operation status. Dry runs leave
// operations pending.
func (e *Executor) apply(op *plan.Operation, res *plan.OperationResult) {
	if e.opts.DryRun {
		return
	}
	switch {
	case res.RolledBack:
		op.Status = plan.OpRolledBack
	case res.Skipped:
		op.Status = plan.OpSkipped
	case res.Success:
		op.Status = plan.OpCompleted
	default:
		op.Status = plan.OpFailed
	}
}

func (r *Report) count(res plan.OperationResult) {
	switch {
	case res.Skipped:
		r.Skipped++
	case res.Success:
		r.Succeeded++
	default:
		r.Failed++
	}
	if res.RolledBack {
		r.RolledBack++
	}
}

func finalStatus(r *Report) plan.Status {
	switch {
	case r.RolledBack > 0:
		return plan.StatusRolledBack
	case r.Failed > 0:
		return plan.StatusFailed
	default:
		return plan.StatusCompleted
	}
}

func skipped(op plan.Operation, reason string) plan.OperationResult {
	return plan.OperationResult{
		OperationID: op.ID,
		FlagKey:     op.FlagKey,
		Type:        op.Type,
		Skipped:     true,
		Error:       reason,
	}
}

func dependsOnFailed(op plan.Operation, failed map[string]bool) bool {
	for _, dep := range op.Dependencies {
		if failed[dep] {
			return true
		}
	}
	return false
}
