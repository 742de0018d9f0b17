package drift

import (
	"time"

	"github.com/felixgeelhaar/flagsync/internal/extract"
	"github.com/felixgeelhaar/flagsync/internal/remote"
)

// DifferenceType classifies how a flag's remote state relates to its code usage.
type DifferenceType string

const (
	MissingInRemote  DifferenceType = "missing_in_optimizely"
	OrphanedInRemote DifferenceType = "orphaned_in_optimizely"
	ArchivedButUsed  DifferenceType = "archived_but_used"
	ActiveButUnused  DifferenceType = "active_but_unused"
	Consistent       DifferenceType = "consistent"
)

// Severity grades a difference for reporting.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// RiskLevel estimates the blast radius of acting on a flag.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Rank orders risk levels from low (0) to critical (3). Unknown levels rank
// as critical.
func (r RiskLevel) Rank() int {
	switch r {
	case RiskLow:
		return 0
	case RiskMedium:
		return 1
	case RiskHigh:
		return 2
	default:
		return 3
	}
}

// Action is the remediation recommended for a difference.
type Action string

const (
	ActionCreateFlag    Action = "create_flag"
	ActionArchiveFlag   Action = "archive_flag"
	ActionUnarchiveFlag Action = "unarchive_flag"
	ActionReviewFlag    Action = "review_flag"
	ActionNone          Action = "none"
)

// Difference is the classification of one flag key.
type Difference struct {
	FlagKey           string              `json:"flagKey" yaml:"flagKey"`
	Type              DifferenceType      `json:"type" yaml:"type"`
	Severity          Severity            `json:"severity" yaml:"severity"`
	RiskLevel         RiskLevel           `json:"riskLevel" yaml:"riskLevel"`
	RecommendedAction Action              `json:"recommendedAction" yaml:"recommendedAction"`
	Description       string              `json:"description" yaml:"description"`
	UsageCount        int                 `json:"usageCount" yaml:"usageCount"`
	Usages            []extract.FlagUsage `json:"usages,omitempty" yaml:"usages,omitempty"`
	RemoteFlag        *remote.RemoteFlag  `json:"remoteFlag,omitempty" yaml:"remoteFlag,omitempty"`
}

// Summary counts differences by type. The counters always sum to TotalFlags.
type Summary struct {
	TotalFlags      int `json:"totalFlags" yaml:"totalFlags"`
	OrphanedFlags   int `json:"orphanedFlags" yaml:"orphanedFlags"`
	MissingFlags    int `json:"missingFlags" yaml:"missingFlags"`
	ArchivedButUsed int `json:"archivedButUsed" yaml:"archivedButUsed"`
	ActiveButUnused int `json:"activeButUnused" yaml:"activeButUnused"`
	ConsistentFlags int `json:"consistentFlags" yaml:"consistentFlags"`
}

// Analysis is the full reconciliation result.
type Analysis struct {
	Differences []Difference `json:"differences" yaml:"differences"`
	Summary     Summary      `json:"summary" yaml:"summary"`
	AnalyzedAt  time.Time    `json:"analyzedAt" yaml:"analyzedAt"`
	// Degraded is set when the remote flag list came from a fallback copy.
	Degraded       bool   `json:"degraded,omitempty" yaml:"degraded,omitempty"`
	DegradedReason string `json:"degradedReason,omitempty" yaml:"degradedReason,omitempty"`
}

// Drifted returns the differences that are not consistent.
func (a *Analysis) Drifted() []Difference {
	var out []Difference
	for _, d := range a.Differences {
		if d.Type != Consistent {
			out = append(out, d)
		}
	}
	return out
}

// HasDrift reports whether any flag is out of sync.
func (a *Analysis) HasDrift() bool {
	return a.Summary.ConsistentFlags != a.Summary.TotalFlags
}

// Lookup finds the difference for a flag key.
func (a *Analysis) Lookup(key string) (Difference, bool) {
	for _, d := range a.Differences {
		if d.FlagKey == key {
			return d, true
		}
	}
	return Difference{}, false
}
