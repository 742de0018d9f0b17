// Package drift reconciles the remote flag list against code usage and
// classifies every flag key into exactly one difference type.
package drift

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/felixgeelhaar/flagsync/internal/extract"
	"github.com/felixgeelhaar/flagsync/internal/log"
	"github.com/felixgeelhaar/flagsync/internal/metrics"
	"github.com/felixgeelhaar/flagsync/internal/remote"
	"github.com/felixgeelhaar/flagsync/internal/telemetry"
)

// Recency windows for time-based risk.
const (
	HighRiskWindow   = 7 * 24 * time.Hour
	MediumRiskWindow = 30 * 24 * time.Hour
)

// Options tunes classification.
type Options struct {
	// Protected keys are never proposed for archival even when unused.
	Protected []string
	// Now anchors risk windows. Zero means time.Now.
	Now time.Time
}

// RiskFor returns the time-based risk of touching a flag last updated at
// updated. An unknown or future timestamp is treated as recent.
func RiskFor(updated, now time.Time) RiskLevel {
	if updated.IsZero() {
		return RiskHigh
	}
	age := now.Sub(updated)
	switch {
	case age <= HighRiskWindow:
		return RiskHigh
	case age <= MediumRiskWindow:
		return RiskMedium
	default:
		return RiskLow
	}
}

// Analyze classifies every key in flags ∪ usages. Rules are evaluated in
// order and the first match wins:
//
//  1. usages, no remote flag          -> missing_in_optimizely
//  2. remote archived, usages         -> archived_but_used
//  3. remote active, no usages, protected -> active_but_unused
//  4. remote active, no usages        -> orphaned_in_optimizely
//  5. otherwise                       -> consistent
//
// Usage-map keys with an empty usage list carry no evidence and are ignored.
// Duplicate remote keys keep their first occurrence. The result is sorted by
// flag key and depends only on its inputs.
func Analyze(flags []remote.RemoteFlag, usages extract.UsageMap, opts Options) *Analysis {
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	protected := make(map[string]bool, len(opts.Protected))
	for _, k := range opts.Protected {
		protected[k] = true
	}

	byKey := make(map[string]remote.RemoteFlag, len(flags))
	for _, f := range flags {
		if _, dup := byKey[f.Key]; !dup {
			byKey[f.Key] = f
		}
	}

	keys := make([]string, 0, len(byKey)+len(usages))
	for k := range byKey {
		keys = append(keys, k)
	}
	for k, u := range usages {
		if _, ok := byKey[k]; !ok && len(u) > 0 {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	a := &Analysis{
		Differences: make([]Difference, 0, len(keys)),
		AnalyzedAt:  now.UTC(),
	}
	for _, key := range keys {
		var rf *remote.RemoteFlag
		if f, ok := byKey[key]; ok {
			rf = &f
		}
		d := classify(key, rf, usages[key], protected[key] || (rf != nil && rf.Permanent), now)
		a.Differences = append(a.Differences, d)
		a.Summary.count(d.Type)
	}
	a.Summary.TotalFlags = len(a.Differences)
	return a
}

func classify(key string, rf *remote.RemoteFlag, usages []extract.FlagUsage, protected bool, now time.Time) Difference {
	d := Difference{
		FlagKey:    key,
		UsageCount: len(usages),
		Usages:     usages,
		RemoteFlag: rf,
	}
	used := len(usages) > 0

	if rf == nil {
		d.Type = MissingInRemote
		d.Severity = SeverityHigh
		d.RiskLevel = RiskLow
		d.RecommendedAction = ActionCreateFlag
		d.Description = fmt.Sprintf("Flag %q is referenced %d time(s) in code but does not exist in the flag service", key, len(usages))
		return d
	}

	d.RiskLevel = RiskFor(rf.UpdatedTime, now)
	switch {
	case rf.Archived && used:
		d.Type = ArchivedButUsed
		d.Severity = SeverityHigh
		d.RecommendedAction = ActionUnarchiveFlag
		d.Description = fmt.Sprintf("Flag %q is archived but still referenced %d time(s) in code", key, len(usages))
	case !rf.Archived && !used && protected:
		d.Type = ActiveButUnused
		d.Severity = SeverityLow
		d.RecommendedAction = ActionReviewFlag
		d.Description = fmt.Sprintf("Flag %q is active and unreferenced but protected from archival", key)
	case !rf.Archived && !used:
		d.Type = OrphanedInRemote
		d.Severity = SeverityMedium
		d.RecommendedAction = ActionArchiveFlag
		d.Description = fmt.Sprintf("Flag %q is active in the flag service but not referenced in code", key)
	default:
		d.Type = Consistent
		d.Severity = SeverityLow
		d.RecommendedAction = ActionNone
		if rf.Archived {
			d.Description = fmt.Sprintf("Flag %q is archived and unreferenced", key)
		} else {
			d.Description = fmt.Sprintf("Flag %q is active and referenced %d time(s)", key, len(usages))
		}
	}
	return d
}

func (s *Summary) count(t DifferenceType) {
	switch t {
	case MissingInRemote:
		s.MissingFlags++
	case OrphanedInRemote:
		s.OrphanedFlags++
	case ArchivedButUsed:
		s.ArchivedButUsed++
	case ActiveButUnused:
		s.ActiveButUnused++
	case Consistent:
		s.ConsistentFlags++
	}
}

// Detector wraps Analyze with tracing, metrics and logging.
type Detector struct {
	opts    Options
	metrics *metrics.Metrics
	logger  *log.Logger
}

// NewDetector creates a Detector. A nil m disables metrics.
func NewDetector(opts Options, m *metrics.Metrics, logger *log.Logger) *Detector {
	return &Detector{
		opts:    opts,
		metrics: m,
		logger:  log.OrDefault(logger).WithComponent("drift"),
	}
}

// Detect analyzes a remote snapshot against usages. A degraded snapshot
// marks the analysis degraded.
func (d *Detector) Detect(ctx context.Context, snap remote.Snapshot, usages extract.UsageMap) *Analysis {
	_, span := telemetry.StartSpan(ctx, telemetry.SpanAnalyze,
		attribute.Int("remote_flags", len(snap.Flags)),
		attribute.Int("used_keys", len(usages)),
	)

	a := Analyze(snap.Flags, usages, d.opts)
	a.Degraded = snap.Degraded
	a.DegradedReason = snap.Reason

	for _, diff := range a.Differences {
		d.metrics.RecordDifference(string(diff.Type))
	}
	if a.Degraded {
		d.logger.Warn("analysis based on degraded flag snapshot", "reason", a.DegradedReason)
	}
	d.logger.Info("analysis complete",
		"total", a.Summary.TotalFlags,
		"orphaned", a.Summary.OrphanedFlags,
		"missing", a.Summary.MissingFlags,
		"archived_but_used", a.Summary.ArchivedButUsed,
		"active_but_unused", a.Summary.ActiveButUnused,
		"consistent", a.Summary.ConsistentFlags,
	)

	telemetry.RecordSuccess(span,
		attribute.Int("differences", len(a.Drifted())),
		attribute.Bool("degraded", a.Degraded),
	)
	span.End()
	return a
}
