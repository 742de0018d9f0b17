package consistency

import (
	"context"
	"fmt"
	"slices"

	"github.com/felixgeelhaar/flagsync/internal/drift"
	"github.com/felixgeelhaar/flagsync/internal/plan"
	"github.com/felixgeelhaar/flagsync/internal/remote"
)

// PreChecks is the battery run before an operation. deep adds a per
// environment read against the flag service.
func PreChecks(client remote.Client, environment string, deep bool) []Checker {
	checks := []Checker{
		NewChecker(CheckFlagStateExistence, "flag exists in the flag service in the state the plan expects", checkStateExistence),
		NewChecker(CheckOperationPrerequisites, "flag state allows the operation", checkPrerequisites),
		NewChecker(CheckCrossReference, "code references agree with the operation", checkCrossReference),
		NewChecker(CheckRiskAssessment, "planned risk still matches the flag's current state", checkRiskAssessment),
	}
	if deep && client != nil && environment != "" {
		checks = append(checks, NewChecker(CheckDeepRemote,
			fmt.Sprintf("flag is safe to change in environment %s", environment),
			deepRemoteCheck(client, environment)))
	}
	return checks
}

// PostChecks is the battery run after an operation.
func PostChecks() []Checker {
	return []Checker{
		NewChecker(CheckOperationResult, "flag service accepted the operation", checkOperationResult),
		NewChecker(CheckStateTransition, "flag moved to the state the operation promises", checkStateTransition),
		NewChecker(CheckPostCrossReference, "code references agree with the new flag state", checkPostCrossReference),
		NewChecker(CheckDataIntegrity, "flag metadata survived the operation", checkDataIntegrity),
	}
}

func checkStateExistence(_ context.Context, in *Input) ([]Issue, error) {
	if in.BeforeErr != nil {
		return nil, in.BeforeErr
	}
	if in.Operation.Type == plan.OpNoAction || in.Before != nil {
		return nil, nil
	}
	return []Issue{{
		Type:       "flag_missing",
		Severity:   SeverityHigh,
		Message:    fmt.Sprintf("flag %s no longer exists in the flag service", in.Operation.FlagKey),
		Resolution: "re-run analysis and rebuild the plan",
	}}, nil
}

func checkPrerequisites(_ context.Context, in *Input) ([]Issue, error) {
	op := in.Operation
	switch op.Type {
	case plan.OpArchive, plan.OpEnable, plan.OpNoAction:
	default:
		return []Issue{{
			Type:     "unknown_operation",
			Severity: SeverityCritical,
			Message:  fmt.Sprintf("operation %s has unknown type %q", op.ID, op.Type),
		}}, nil
	}

	f := in.Before
	if f == nil {
		return nil, nil
	}

	var issues []Issue
	switch op.Type {
	case plan.OpArchive:
		if f.Archived {
			issues = append(issues, Issue{
				Type:       "already_archived",
				Severity:   SeverityMedium,
				Message:    fmt.Sprintf("flag %s is already archived", f.Key),
				Resolution: "skip the operation",
			})
		}
		if f.Permanent {
			issues = append(issues, Issue{
				Type:       "permanent_flag",
				Severity:   SeverityHigh,
				Message:    fmt.Sprintf("flag %s is marked permanent and must not be archived", f.Key),
				Resolution: "remove the operation from the plan",
			})
		}
	case plan.OpEnable:
		if !f.Archived {
			issues = append(issues, Issue{
				Type:       "already_active",
				Severity:   SeverityMedium,
				Message:    fmt.Sprintf("flag %s is already active", f.Key),
				Resolution: "skip the operation",
			})
		}
	}
	return issues, nil
}

func checkCrossReference(_ context.Context, in *Input) ([]Issue, error) {
	op := in.Operation
	n := len(in.Usages)
	switch {
	case op.Type == plan.OpArchive && n > 0:
		return []Issue{{
			Type:       "referenced_flag",
			Severity:   SeverityHigh,
			Message:    fmt.Sprintf("flag %s has %d code reference(s); archiving breaks callers", op.FlagKey, n),
			Resolution: "remove the references or rebuild the plan from a fresh scan",
		}}, nil
	case op.Type == plan.OpEnable && n == 0:
		return []Issue{{
			Type:       "unreferenced_flag",
			Severity:   SeverityMedium,
			Message:    fmt.Sprintf("flag %s has no code references; unarchiving is unnecessary", op.FlagKey),
			Resolution: "rebuild the plan from a fresh scan",
		}}, nil
	}
	return nil, nil
}

func checkRiskAssessment(_ context.Context, in *Input) ([]Issue, error) {
	op := in.Operation
	var issues []Issue

	if op.RiskLevel == drift.RiskCritical {
		issues = append(issues, Issue{
			Type:       "critical_risk",
			Severity:   SeverityCritical,
			Message:    fmt.Sprintf("operation %s on flag %s is critical risk", op.ID, op.FlagKey),
			Resolution: "apply the change manually",
		})
	}

	if in.Before == nil || !op.Mutates() {
		return issues, nil
	}

	current := drift.RiskFor(in.Before.UpdatedTime, in.Now)
	if current.Rank() <= op.RiskLevel.Rank() {
		return issues, nil
	}

	sev := SeverityMedium
	if in.Plan != nil && current.Rank() > drift.RiskLevel(in.Plan.Options.RiskTolerance).Rank() {
		sev = SeverityHigh
	}
	issues = append(issues, Issue{
		Type:       "risk_increased",
		Severity:   sev,
		Message:    fmt.Sprintf("risk for flag %s rose from %s to %s since the plan was built", op.FlagKey, op.RiskLevel, current),
		Resolution: "rebuild the plan",
	})
	return issues, nil
}

func deepRemoteCheck(client remote.Client, environment string) func(context.Context, *Input) ([]Issue, error) {
	return func(ctx context.Context, in *Input) ([]Issue, error) {
		op := in.Operation
		if op.Type != plan.OpArchive || in.Before == nil {
			return nil, nil
		}
		status, err := client.GetEnvironmentStatus(ctx, op.FlagKey, environment)
		if err != nil {
			return nil, err
		}
		if status.Enabled {
			return []Issue{{
				Type:       "live_flag",
				Severity:   SeverityHigh,
				Message:    fmt.Sprintf("flag %s is enabled in %s; archiving changes live behavior", op.FlagKey, environment),
				Resolution: "disable the flag in every environment first",
			}}, nil
		}
		return nil, nil
	}
}

func checkOperationResult(_ context.Context, in *Input) ([]Issue, error) {
	op := in.Operation
	if !op.Mutates() {
		return nil, nil
	}
	if in.Result == nil {
		return []Issue{{
			Type:     "no_result",
			Severity: SeverityHigh,
			Message:  fmt.Sprintf("no result reported for flag %s", op.FlagKey),
		}}, nil
	}
	if !in.Result.OK {
		return []Issue{{
			Type:       "operation_rejected",
			Severity:   SeverityHigh,
			Message:    fmt.Sprintf("flag service rejected %s of %s: %s", op.Type, op.FlagKey, in.Result.Error),
			Resolution: "inspect the flag in the flag service",
		}}, nil
	}
	return nil, nil
}

func checkStateTransition(_ context.Context, in *Input) ([]Issue, error) {
	if in.AfterErr != nil {
		return nil, in.AfterErr
	}
	op := in.Operation
	if in.After == nil {
		if op.Type == plan.OpNoAction {
			return nil, nil
		}
		return []Issue{{
			Type:     "flag_missing",
			Severity: SeverityHigh,
			Message:  fmt.Sprintf("flag %s not found after %s", op.FlagKey, op.Type),
		}}, nil
	}

	var issues []Issue
	mismatch := func(when string, want, got bool) {
		issues = append(issues, Issue{
			Type:       "unexpected_state",
			Severity:   SeverityHigh,
			Message:    fmt.Sprintf("expected archived=%t %s %s of %s, observed %t", want, when, op.Type, op.FlagKey, got),
			Resolution: "inspect the flag in the flag service",
		})
	}

	switch op.Type {
	case plan.OpArchive, plan.OpEnable:
		// archive flips false to true, enable flips true to false.
		from := op.Type == plan.OpEnable
		if in.Before == nil || in.Before.Archived != from {
			got := in.Before != nil && in.Before.Archived
			mismatch("before", from, got)
		}
		if in.After.Archived != !from {
			mismatch("after", !from, in.After.Archived)
		}
	case plan.OpNoAction:
		if in.Before != nil && in.Before.Archived != in.After.Archived {
			issues = append(issues, Issue{
				Type:     "unexpected_change",
				Severity: SeverityMedium,
				Message:  fmt.Sprintf("flag %s changed archived state during a no-op", op.FlagKey),
			})
		}
	}
	return issues, nil
}

func checkPostCrossReference(_ context.Context, in *Input) ([]Issue, error) {
	if in.After == nil {
		return nil, nil
	}
	n := len(in.Usages)
	switch {
	case in.After.Archived && n > 0:
		return []Issue{{
			Type:       "archived_but_referenced",
			Severity:   SeverityHigh,
			Message:    fmt.Sprintf("archived flag %s is still referenced %d time(s)", in.After.Key, n),
			Resolution: "unarchive the flag or remove the references",
		}}, nil
	case !in.After.Archived && n == 0 && in.Operation.Type == plan.OpEnable:
		return []Issue{{
			Type:     "active_but_unreferenced",
			Severity: SeverityLow,
			Message:  fmt.Sprintf("flag %s is active without code references", in.After.Key),
		}}, nil
	}
	return nil, nil
}

func checkDataIntegrity(_ context.Context, in *Input) ([]Issue, error) {
	before, after := in.Before, in.After
	if before == nil || after == nil {
		return nil, nil
	}

	var issues []Issue
	if before.Key != after.Key {
		issues = append(issues, Issue{
			Type:     "key_changed",
			Severity: SeverityCritical,
			Message:  fmt.Sprintf("flag key changed from %s to %s", before.Key, after.Key),
		})
	}
	if !after.UpdatedTime.IsZero() && after.UpdatedTime.Before(before.UpdatedTime) {
		issues = append(issues, Issue{
			Type:     "stale_read",
			Severity: SeverityMedium,
			Message:  fmt.Sprintf("flag %s update time went backwards; the read may be stale", after.Key),
		})
	}
	if before.Name != after.Name {
		issues = append(issues, Issue{
			Type:     "name_changed",
			Severity: SeverityLow,
			Message:  fmt.Sprintf("flag %s was renamed from %q to %q", after.Key, before.Name, after.Name),
		})
	}
	if !slices.Equal(before.Dependencies, after.Dependencies) {
		issues = append(issues, Issue{
			Type:     "dependencies_changed",
			Severity: SeverityLow,
			Message:  fmt.Sprintf("flag %s dependencies changed", after.Key),
		})
	}
	return issues, nil
}
