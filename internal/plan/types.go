// Package plan turns a reconciliation analysis into a risk-ordered cleanup
// plan and validates it before anything touches the flag service.
package plan

import (
	"time"

	"github.com/felixgeelhaar/flagsync/internal/drift"
	"github.com/felixgeelhaar/flagsync/internal/remote"
)

// OperationType is the action an operation performs on the flag service.
type OperationType string

const (
	OpArchive  OperationType = "archive"
	OpEnable   OperationType = "enable"
	OpNoAction OperationType = "no_action"
)

// Status tracks a plan through execution.
type Status string

const (
	StatusDraft      Status = "draft"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusRolledBack Status = "rolled_back"
)

// OperationStatus tracks a single operation.
type OperationStatus string

const (
	OpPending    OperationStatus = "pending"
	OpCompleted  OperationStatus = "completed"
	OpFailed     OperationStatus = "failed"
	OpSkipped    OperationStatus = "skipped"
	OpRolledBack OperationStatus = "rolled_back"
)

// RiskTolerance selects which risk warnings escalate to errors.
type RiskTolerance string

const (
	ToleranceLow    RiskTolerance = "low"
	ToleranceMedium RiskTolerance = "medium"
	ToleranceHigh   RiskTolerance = "high"
)

// Valid reports whether t is a known tolerance.
func (t RiskTolerance) Valid() bool {
	switch t {
	case ToleranceLow, ToleranceMedium, ToleranceHigh:
		return true
	}
	return false
}

// StrategyRiskBased runs low risk phases before higher ones.
const StrategyRiskBased = "risk_based"

// SafetyChecks toggles the optional validation rules.
type SafetyChecks struct {
	DependencyCheck  bool `json:"dependencyCheck" yaml:"dependency_check" mapstructure:"dependency_check"`
	RecentUsageCheck bool `json:"recentUsageCheck" yaml:"recent_usage_check" mapstructure:"recent_usage_check"`
	RequireRollback  bool `json:"requireRollback" yaml:"require_rollback" mapstructure:"require_rollback"`
}

// Options are the plan build options.
type Options struct {
	MaxFlagsPerPlan int           `json:"maxFlagsPerPlan" yaml:"max_flags_per_plan" mapstructure:"max_flags_per_plan"`
	RiskTolerance   RiskTolerance `json:"riskTolerance" yaml:"risk_tolerance" mapstructure:"risk_tolerance"`
	EnablePreview   bool          `json:"enablePreview" yaml:"enable_preview" mapstructure:"enable_preview"`
	SafetyChecks    SafetyChecks  `json:"safetyChecks" yaml:"safety_checks" mapstructure:"safety_checks"`

	// Now anchors the recent-usage window. Zero means time.Now.
	Now time.Time `json:"-" yaml:"-" mapstructure:"-"`
}

// DefaultOptions returns conservative defaults with every safety check on.
func DefaultOptions() Options {
	return Options{
		MaxFlagsPerPlan: 50,
		RiskTolerance:   ToleranceMedium,
		EnablePreview:   true,
		SafetyChecks: SafetyChecks{
			DependencyCheck:  true,
			RecentUsageCheck: true,
			RequireRollback:  true,
		},
	}
}

// FlagState is the remote state captured before an operation.
type FlagState struct {
	Archived    bool      `json:"archived" yaml:"archived"`
	UpdatedTime time.Time `json:"updatedTime,omitempty" yaml:"updatedTime,omitempty"`
}

// RollbackInfo describes how to restore a flag after an operation.
type RollbackInfo struct {
	Supported     bool          `json:"supported" yaml:"supported"`
	Operation     OperationType `json:"operation,omitempty" yaml:"operation,omitempty"`
	PreviousState *FlagState    `json:"previousState,omitempty" yaml:"previousState,omitempty"`
	Instructions  string        `json:"instructions,omitempty" yaml:"instructions,omitempty"`
}

// Operation is one proposed change.
type Operation struct {
	ID                  string               `json:"id" yaml:"id"`
	Type                OperationType        `json:"type" yaml:"type"`
	FlagKey             string               `json:"flagKey" yaml:"flagKey"`
	DifferenceType      drift.DifferenceType `json:"differenceType" yaml:"differenceType"`
	RiskLevel           drift.RiskLevel      `json:"riskLevel" yaml:"riskLevel"`
	Reason              string               `json:"reason" yaml:"reason"`
	CurrentFlag         *remote.RemoteFlag   `json:"currentFlag,omitempty" yaml:"currentFlag,omitempty"`
	Dependencies        []string             `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	RollbackInfo        RollbackInfo         `json:"rollbackInfo" yaml:"rollbackInfo"`
	EstimatedDurationMs int64                `json:"estimatedDurationMs" yaml:"estimatedDurationMs"`
	Status              OperationStatus      `json:"status" yaml:"status"`
}

// Mutates reports whether the operation changes remote state.
func (o Operation) Mutates() bool {
	return o.Type == OpArchive || o.Type == OpEnable
}

// Phase is a named group of operations that share a risk level.
type Phase struct {
	Name         string          `json:"name" yaml:"name"`
	RiskLevel    drift.RiskLevel `json:"riskLevel" yaml:"riskLevel"`
	OperationIDs []string        `json:"operationIds" yaml:"operationIds"`
}

// ExecutionOrder lists phases in the order they run.
type ExecutionOrder struct {
	Strategy string  `json:"strategy" yaml:"strategy"`
	Phases   []Phase `json:"phases" yaml:"phases"`
}

// RiskCounts counts operations per risk level.
type RiskCounts struct {
	Low      int `json:"low" yaml:"low"`
	Medium   int `json:"medium" yaml:"medium"`
	High     int `json:"high" yaml:"high"`
	Critical int `json:"critical" yaml:"critical"`
}

// RiskAssessment summarizes the plan's risk.
type RiskAssessment struct {
	OverallRisk     drift.RiskLevel `json:"overallRisk" yaml:"overallRisk"`
	Counts          RiskCounts      `json:"counts" yaml:"counts"`
	HighRiskFlags   []string        `json:"highRiskFlags,omitempty" yaml:"highRiskFlags,omitempty"`
	Recommendations []string        `json:"recommendations,omitempty" yaml:"recommendations,omitempty"`
}

// Validation is the verdict of ValidatePlan. IsValid is true iff Errors is empty.
type Validation struct {
	IsValid  bool     `json:"isValid" yaml:"isValid"`
	Errors   []string `json:"errors" yaml:"errors"`
	Warnings []string `json:"warnings" yaml:"warnings"`
}

// Preview lists what the plan would change, grouped by action.
type Preview struct {
	Archive  []string `json:"archive" yaml:"archive"`
	Enable   []string `json:"enable" yaml:"enable"`
	NoAction []string `json:"noAction" yaml:"noAction"`
}

// OperationResult records what happened when an operation ran.
type OperationResult struct {
	OperationID  string        `json:"operationId" yaml:"operationId"`
	FlagKey      string        `json:"flagKey" yaml:"flagKey"`
	Type         OperationType `json:"type" yaml:"type"`
	Success      bool          `json:"success" yaml:"success"`
	DryRun       bool          `json:"dryRun" yaml:"dryRun"`
	Skipped      bool          `json:"skipped,omitempty" yaml:"skipped,omitempty"`
	Confirmation string        `json:"confirmation,omitempty" yaml:"confirmation,omitempty"`
	PrePassed    bool          `json:"prePassed" yaml:"prePassed"`
	PostPassed   bool          `json:"postPassed" yaml:"postPassed"`
	RolledBack   bool          `json:"rolledBack,omitempty" yaml:"rolledBack,omitempty"`
	Issues       []string      `json:"issues,omitempty" yaml:"issues,omitempty"`
	Error        string        `json:"error,omitempty" yaml:"error,omitempty"`
	DurationMs   int64         `json:"durationMs" yaml:"durationMs"`
}

// Plan is an ordered, validated batch of cleanup operations.
type Plan struct {
	ID                  string            `json:"id" yaml:"id"`
	CreatedAt           time.Time         `json:"createdAt" yaml:"createdAt"`
	Status              Status            `json:"status" yaml:"status"`
	Options             Options           `json:"options" yaml:"options"`
	Operations          []Operation       `json:"operations" yaml:"operations"`
	ExecutionOrder      ExecutionOrder    `json:"executionOrder" yaml:"executionOrder"`
	RiskAssessment      RiskAssessment    `json:"riskAssessment" yaml:"riskAssessment"`
	EstimatedDurationMs int64             `json:"estimatedDurationMs" yaml:"estimatedDurationMs"`
	Validation          Validation        `json:"validation" yaml:"validation"`
	Preview             *Preview          `json:"preview,omitempty" yaml:"preview,omitempty"`
	Summary             drift.Summary     `json:"analysisSummary" yaml:"analysisSummary"`
	Degraded            bool              `json:"degraded,omitempty" yaml:"degraded,omitempty"`
	Results             []OperationResult `json:"results,omitempty" yaml:"results,omitempty"`
}

// Operation returns the operation with the given ID.
func (p *Plan) Operation(id string) (*Operation, bool) {
	for i := range p.Operations {
		if p.Operations[i].ID == id {
			return &p.Operations[i], true
		}
	}
	return nil, false
}
