package plan

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/felixgeelhaar/flagsync/internal/drift"
	"github.com/felixgeelhaar/flagsync/internal/errors"
	"github.com/felixgeelhaar/flagsync/internal/extract"
	"github.com/felixgeelhaar/flagsync/internal/log"
	"github.com/felixgeelhaar/flagsync/internal/metrics"
	"github.com/felixgeelhaar/flagsync/internal/remote"
)

var now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func daysAgo(n int) time.Time {
	return now.Add(-time.Duration(n) * 24 * time.Hour)
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.Now = now
	return opts
}

func newTestBuilder(t *testing.T, opts Options) *Builder {
	t.Helper()
	b, err := NewBuilder(opts, nil, log.Discard())
	require.NoError(t, err)
	return b
}

func analyze(flags []remote.RemoteFlag, usages extract.UsageMap) *drift.Analysis {
	return drift.Analyze(flags, usages, drift.Options{Now: now})
}

func TestBuildMapsDifferencesToOperations(t *testing.T) {
	a := analyze(
		[]remote.RemoteFlag{
			{Key: "orphan", UpdatedTime: daysAgo(60)},
			{Key: "revived", Archived: true, UpdatedTime: daysAgo(60)},
			{Key: "live", UpdatedTime: daysAgo(60)},
			{Key: "kill_switch", Permanent: true, UpdatedTime: daysAgo(60)},
		},
		extract.UsageMap{
			"revived": {{File: "a.go", Line: 1}},
			"live":    {{File: "b.go", Line: 2}},
			"missing": {{File: "c.go", Line: 3}},
		},
	)

	p, err := newTestBuilder(t, testOptions()).Build(context.Background(), a)
	require.NoError(t, err)

	types := make(map[string]OperationType)
	for _, op := range p.Operations {
		types[op.FlagKey] = op.Type
		assert.Equal(t, OpPending, op.Status)
	}
	assert.Equal(t, map[string]OperationType{
		"kill_switch": OpNoAction,
		"missing":     OpNoAction,
		"orphan":      OpArchive,
		"revived":     OpEnable,
	}, types)

	assert.Equal(t, StatusDraft, p.Status)
	assert.NotEmpty(t, p.ID)
	assert.True(t, p.Validation.IsValid, "%v", p.Validation.Errors)
	assert.Equal(t, a.Summary, p.Summary)
	require.NotNil(t, p.Preview)
	assert.Equal(t, []string{"orphan"}, p.Preview.Archive)
	assert.Equal(t, []string{"revived"}, p.Preview.Enable)
	assert.Equal(t, []string{"kill_switch", "missing"}, p.Preview.NoAction)
	require.NoError(t, p.CheckStructure())
}

func TestBuildRollbackInfo(t *testing.T) {
	a := analyze(
		[]remote.RemoteFlag{
			{Key: "orphan", UpdatedTime: daysAgo(1)},
			{Key: "revived", Archived: true, UpdatedTime: daysAgo(1)},
		},
		extract.UsageMap{"revived": {{File: "a.go", Line: 1}}},
	)

	p, err := newTestBuilder(t, testOptions()).Build(context.Background(), a)
	require.NoError(t, err)
	require.Len(t, p.Operations, 2)

	archive := p.Operations[0]
	assert.Equal(t, OpArchive, archive.Type)
	assert.Equal(t, drift.RiskHigh, archive.RiskLevel)
	assert.True(t, archive.RollbackInfo.Supported)
	assert.Equal(t, OpEnable, archive.RollbackInfo.Operation)
	require.NotNil(t, archive.RollbackInfo.PreviousState)
	assert.False(t, archive.RollbackInfo.PreviousState.Archived)

	enable := p.Operations[1]
	assert.Equal(t, OpArchive, enable.RollbackInfo.Operation)
	assert.True(t, enable.RollbackInfo.PreviousState.Archived)
}

// Ten unused flags against a limit of five fail validation.
func TestBuildOverSizeLimit(t *testing.T) {
	var flags []remote.RemoteFlag
	for i := 0; i < 10; i++ {
		flags = append(flags, remote.RemoteFlag{Key: fmt.Sprintf("unused_%02d", i), UpdatedTime: daysAgo(90)})
	}
	opts := testOptions()
	opts.MaxFlagsPerPlan = 5

	p, err := newTestBuilder(t, opts).Build(context.Background(), analyze(flags, nil))
	require.NoError(t, err)

	assert.Len(t, p.Operations, 10)
	assert.False(t, p.Validation.IsValid)
	require.NotEmpty(t, p.Validation.Errors)
	assert.Contains(t, p.Validation.Errors[0], "exceeding maximum")
}

func TestBuildEmptyAnalysis(t *testing.T) {
	a := analyze(nil, nil)
	assert.Equal(t, drift.Summary{}, a.Summary)

	p, err := newTestBuilder(t, testOptions()).Build(context.Background(), a)
	require.NoError(t, err)
	assert.Empty(t, p.Operations)
	assert.NotNil(t, p.Operations)
	assert.Empty(t, p.ExecutionOrder.Phases)
	assert.True(t, p.Validation.IsValid)
	assert.Zero(t, p.EstimatedDurationMs)
	assert.Equal(t, drift.RiskLow, p.RiskAssessment.OverallRisk)
}

func TestBuildPhasesFollowRisk(t *testing.T) {
	a := analyze([]remote.RemoteFlag{
		{Key: "a_recent", UpdatedTime: daysAgo(1)},
		{Key: "b_old", UpdatedTime: daysAgo(90)},
		{Key: "c_mid", UpdatedTime: daysAgo(14)},
		{Key: "d_old", UpdatedTime: daysAgo(45)},
	}, nil)

	p, err := newTestBuilder(t, testOptions()).Build(context.Background(), a)
	require.NoError(t, err)

	require.Len(t, p.ExecutionOrder.Phases, 3)
	assert.Equal(t, StrategyRiskBased, p.ExecutionOrder.Strategy)
	assert.Equal(t, "low_risk_operations", p.ExecutionOrder.Phases[0].Name)
	assert.Equal(t, "medium_risk_operations", p.ExecutionOrder.Phases[1].Name)
	assert.Equal(t, "high_risk_operations", p.ExecutionOrder.Phases[2].Name)
	assert.Len(t, p.ExecutionOrder.Phases[0].OperationIDs, 2)

	assert.Equal(t, drift.RiskHigh, p.RiskAssessment.OverallRisk)
	assert.Equal(t, RiskCounts{Low: 2, Medium: 1, High: 1}, p.RiskAssessment.Counts)
	assert.Equal(t, []string{"a_recent"}, p.RiskAssessment.HighRiskFlags)
}

func TestLowRiskPhaseAlwaysPrecedesHighRisk(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 20).Draw(t, "n")
		var flags []remote.RemoteFlag
		for i := 0; i < n; i++ {
			flags = append(flags, remote.RemoteFlag{
				Key:         fmt.Sprintf("flag_%02d", i),
				UpdatedTime: daysAgo(rapid.IntRange(0, 100).Draw(t, "age")),
			})
		}

		b, err := NewBuilder(testOptions(), nil, log.Discard())
		if err != nil {
			t.Fatal(err)
		}
		p, err := b.Build(context.Background(), analyze(flags, nil))
		if err != nil {
			t.Fatal(err)
		}

		low, high := phaseIndex(p, "low_risk_operations"), phaseIndex(p, "high_risk_operations")
		if low >= 0 && high >= 0 && low >= high {
			t.Fatalf("low risk phase at %d, high risk phase at %d", low, high)
		}

		scheduled := 0
		for _, ph := range p.ExecutionOrder.Phases {
			scheduled += len(ph.OperationIDs)
		}
		if scheduled != len(p.Operations) {
			t.Fatalf("%d operations scheduled, %d built", scheduled, len(p.Operations))
		}
	})
}

func TestEstimatedDuration(t *testing.T) {
	a := analyze(
		[]remote.RemoteFlag{
			{Key: "orphan", UpdatedTime: daysAgo(60)},
			{Key: "recent_orphan", UpdatedTime: daysAgo(1)},
		},
		extract.UsageMap{"missing": {{File: "a.go", Line: 1}}},
	)
	p, err := newTestBuilder(t, testOptions()).Build(context.Background(), a)
	require.NoError(t, err)

	per := EstimateDuration(OpArchive).Milliseconds()
	assert.Equal(t, int64(2500), per)
	assert.Equal(t, 2*per, p.EstimatedDurationMs)
	assert.Zero(t, EstimateDuration(OpNoAction))
}

func TestBuildDegradedAnalysisWarns(t *testing.T) {
	a := analyze([]remote.RemoteFlag{{Key: "orphan", UpdatedTime: daysAgo(60)}}, nil)
	a.Degraded = true

	p, err := newTestBuilder(t, testOptions()).Build(context.Background(), a)
	require.NoError(t, err)
	assert.True(t, p.Degraded)
	assert.True(t, p.Validation.IsValid)
	assert.Contains(t, p.Validation.Warnings[len(p.Validation.Warnings)-1], "degraded")
}

func TestBuildRecordsMetrics(t *testing.T) {
	m := metrics.NewMetrics(prometheus.NewRegistry())
	b, err := NewBuilder(testOptions(), m, log.Discard())
	require.NoError(t, err)

	_, err = b.Build(context.Background(), analyze([]remote.RemoteFlag{{Key: "orphan", UpdatedTime: daysAgo(60)}}, nil))
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.PlanOperations.WithLabelValues("archive", "low")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PlanValidations.WithLabelValues("true")))
}

func TestNewBuilderValidation(t *testing.T) {
	opts := testOptions()
	opts.MaxFlagsPerPlan = 0
	_, err := NewBuilder(opts, nil, nil)
	assert.True(t, errors.HasCode(err, errors.ErrCodePlanOptions))

	opts = testOptions()
	opts.RiskTolerance = "extreme"
	_, err = NewBuilder(opts, nil, nil)
	assert.True(t, errors.HasCode(err, errors.ErrCodePlanOptions))

	_, err = newTestBuilder(t, testOptions()).Build(context.Background(), nil)
	assert.True(t, errors.HasCode(err, errors.ErrCodePlanOptions))
}

func phaseIndex(p *Plan, name string) int {
	for i, ph := range p.ExecutionOrder.Phases {
		if ph.Name == name {
			return i
		}
	}
	return -1
}
