// Package consistency re-checks flag and codebase alignment around a single
// cleanup operation.
//
// The package follows the health check pattern:
//   - Checker interface for pluggable named checks
//   - CheckResult with pass/fail, issues and latency
//   - Report aggregating a battery of checks into one verdict
//
// Two batteries exist. The pre battery runs before an operation touches the
// flag service; the post battery runs after and doubles as the confirming
// read of the write.
//
// Example usage:
//
//	v := consistency.NewValidator(client, consistency.DefaultOptions(), m, logger)
//	pre := v.PreCheck(ctx, consistency.Input{Plan: p, Operation: op, Usages: usages})
//	if !pre.Passed {
//	    return pre.Err()
//	}
package consistency

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/felixgeelhaar/flagsync/internal/errors"
	"github.com/felixgeelhaar/flagsync/internal/extract"
	"github.com/felixgeelhaar/flagsync/internal/plan"
	"github.com/felixgeelhaar/flagsync/internal/remote"
)

// Phase says when a battery runs relative to the operation.
type Phase string

const (
	PhasePre  Phase = "pre"
	PhasePost Phase = "post"
)

// Severity grades an issue. Only high and critical block.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Blocking reports whether the severity fails a check.
func (s Severity) Blocking() bool {
	return s == SeverityHigh || s == SeverityCritical
}

// Issue is one finding of a check.
type Issue struct {
	Type       string   `json:"type"`
	Severity   Severity `json:"severity"`
	Message    string   `json:"message"`
	Resolution string   `json:"resolution,omitempty"`
}

// Check IDs of the built-in batteries.
const (
	CheckFlagStateExistence     = "flag-state-existence"
	CheckOperationPrerequisites = "operation-prerequisites"
	CheckCrossReference         = "cross-reference-alignment"
	CheckRiskAssessment         = "risk-assessment"
	CheckDeepRemote             = "deep-remote-validation"
	CheckOperationResult        = "operation-result"
	CheckStateTransition        = "state-transition"
	CheckPostCrossReference     = "post-cross-reference-alignment"
	CheckDataIntegrity          = "data-integrity"
)

// CheckResult is the outcome of one named check.
type CheckResult struct {
	Passed      bool    `json:"passed"`
	CheckID     string  `json:"checkId"`
	Description string  `json:"description"`
	Issues      []Issue `json:"issues"`
	DurationMs  int64   `json:"durationMs"`
}

// Input is everything a check may look at. Before and After are filled in by
// the validator from live reads; a nil flag with a nil read error means the
// flag does not exist.
type Input struct {
	Plan      *plan.Plan
	Operation plan.Operation
	Usages    []extract.FlagUsage

	Before    *remote.RemoteFlag
	BeforeErr error
	After     *remote.RemoteFlag
	AfterErr  error

	// Result is the flag service's answer to the write, if one was made.
	Result *remote.KeyResult

	Now time.Time
}

// Checker is a single named consistency assertion.
type Checker interface {
	// ID is stable and hyphenated (e.g., "state-transition").
	ID() string
	Description() string
	// Check returns the issues found. An error means the check could not
	// decide, which counts as a failed check.
	Check(ctx context.Context, in *Input) ([]Issue, error)
}

type checkFunc struct {
	id   string
	desc string
	fn   func(ctx context.Context, in *Input) ([]Issue, error)
}

func (c checkFunc) ID() string          { return c.id }
func (c checkFunc) Description() string { return c.desc }

func (c checkFunc) Check(ctx context.Context, in *Input) ([]Issue, error) {
	return c.fn(ctx, in)
}

// NewChecker builds a Checker from a function.
func NewChecker(id, description string, fn func(ctx context.Context, in *Input) ([]Issue, error)) Checker {
	return checkFunc{id: id, desc: description, fn: fn}
}

// Report aggregates a battery.
type Report struct {
	Phase               Phase         `json:"phase"`
	OperationID         string        `json:"operationId"`
	FlagKey             string        `json:"flagKey"`
	Passed              bool          `json:"passed"`
	Checks              []CheckResult `json:"checks"`
	TotalChecks         int           `json:"totalChecks"`
	FailedChecks        int           `json:"failedChecks"`
	BlockingIssues      int           `json:"blockingIssues"`
	RollbackRecommended bool          `json:"rollbackRecommended"`
	CheckedAt           time.Time     `json:"checkedAt"`
	DurationMs          int64         `json:"durationMs"`

	// Observed is the flag state read for this battery; nil when the flag
	// is absent or the read failed.
	Observed *remote.RemoteFlag `json:"observed,omitempty"`
	// ObserveErr is the failed read, if any.
	ObserveErr error `json:"-"`
}

// Issues returns every issue in check order.
func (r *Report) Issues() []Issue {
	var out []Issue
	for _, c := range r.Checks {
		out = append(out, c.Issues...)
	}
	return out
}

// Messages formats the issues as "severity: message" lines.
func (r *Report) Messages() []string {
	issues := r.Issues()
	out := make([]string, 0, len(issues))
	for _, i := range issues {
		out = append(out, fmt.Sprintf("%s: %s", i.Severity, i.Message))
	}
	return out
}

// Err returns nil for a passing report and a VALIDATE error otherwise.
func (r *Report) Err() error {
	if r.Passed {
		return nil
	}
	var failed []string
	for _, c := range r.Checks {
		if !c.Passed {
			failed = append(failed, c.CheckID)
		}
	}

	code := errors.ErrCodeConsistencyFailed
	if r.RollbackRecommended {
		code = errors.ErrCodeRollbackAdvised
	}
	err := errors.New(code, fmt.Sprintf("%s-operation consistency check failed for flag %s (%s)",
		r.Phase, r.FlagKey, strings.Join(failed, ", ")))
	for _, m := range r.Messages() {
		err.WithSuggestion(m)
	}
	return err
}
