package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for flagsync
type Metrics struct {
	// Scan metrics
	Scans           *prometheus.CounterVec
	ScanDuration    *prometheus.HistogramVec
	FilesProcessed  prometheus.Counter
	ScanErrors      prometheus.Counter
	FlagReferences  prometheus.Counter
	SmartFiltered   prometheus.Counter
	CacheInvalidate *prometheus.CounterVec

	// Analysis metrics
	Differences *prometheus.CounterVec

	// Plan metrics
	PlanOperations  *prometheus.CounterVec
	PlanValidations *prometheus.CounterVec

	// Consistency metrics
	ConsistencyChecks *prometheus.CounterVec

	// Confirmation metrics
	Confirmations *prometheus.CounterVec

	// Remote flag service metrics
	RemoteCalls   *prometheus.CounterVec
	RemoteLatency *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance with all metrics registered
func NewMetrics(registry prometheus.Registerer) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		Scans: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flagsync_scans_total",
				Help: "Total number of codebase scans",
			},
			[]string{"mode", "cache"},
		),
		ScanDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "flagsync_scan_duration_seconds",
				Help:    "Codebase scan duration in seconds",
				Buckets: []float64{0.05, 0.1, 0.5, 1.0, 5.0, 15.0, 60.0, 300.0},
			},
			[]string{"mode"},
		),
		FilesProcessed: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "flagsync_files_processed_total",
				Help: "Total number of files read by the extractor",
			},
		),
		ScanErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "flagsync_scan_errors_total",
				Help: "Total number of per-file or per-directory scan errors",
			},
		),
		FlagReferences: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "flagsync_flag_references_total",
				Help: "Total number of flag references found",
			},
		),
		SmartFiltered: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "flagsync_smart_filter_activations_total",
				Help: "Number of scans whose file set was reduced by smart filtering",
			},
		),
		CacheInvalidate: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flagsync_cache_invalidations_total",
				Help: "File index cache invalidations by reason",
			},
			[]string{"reason"},
		),

		Differences: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flagsync_differences_total",
				Help: "Flag differences found by type",
			},
			[]string{"type"},
		),

		PlanOperations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flagsync_plan_operations_total",
				Help: "Cleanup plan operations generated by type and risk",
			},
			[]string{"type", "risk"},
		),
		PlanValidations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flagsync_plan_validations_total",
				Help: "Cleanup plan validations by outcome",
			},
			[]string{"valid"},
		),

		ConsistencyChecks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flagsync_consistency_checks_total",
				Help: "Consistency validations by phase and outcome",
			},
			[]string{"phase", "passed"},
		),

		Confirmations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flagsync_confirmations_total",
				Help: "Confirmation gate outcomes",
			},
			[]string{"outcome"},
		),

		RemoteCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flagsync_remote_calls_total",
				Help: "Flag service calls by operation and outcome",
			},
			[]string{"op", "outcome"},
		),
		RemoteLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "flagsync_remote_latency_seconds",
				Help:    "Flag service call latency in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"op"},
		),
	}
}

// The Record helpers are nil-safe so components can run without metrics.

// RecordScan records one completed scan.
func (m *Metrics) RecordScan(mode string, cacheUsed bool, d time.Duration, files, references, errs int) {
	if m == nil {
		return
	}
	cache := "miss"
	if cacheUsed {
		cache = "hit"
	}
	m.Scans.WithLabelValues(mode, cache).Inc()
	m.ScanDuration.WithLabelValues(mode).Observe(d.Seconds())
	m.FilesProcessed.Add(float64(files))
	m.FlagReferences.Add(float64(references))
	m.ScanErrors.Add(float64(errs))
}

// RecordSmartFilter records a smart-filter activation.
func (m *Metrics) RecordSmartFilter() {
	if m == nil {
		return
	}
	m.SmartFiltered.Inc()
}

// RecordCacheInvalidation records why a cached index was not reused.
func (m *Metrics) RecordCacheInvalidation(reason string) {
	if m == nil {
		return
	}
	m.CacheInvalidate.WithLabelValues(reason).Inc()
}

// RecordDifference records one classified difference.
func (m *Metrics) RecordDifference(kind string) {
	if m == nil {
		return
	}
	m.Differences.WithLabelValues(kind).Inc()
}

// RecordPlanOperation records one generated operation.
func (m *Metrics) RecordPlanOperation(kind, risk string) {
	if m == nil {
		return
	}
	m.PlanOperations.WithLabelValues(kind, risk).Inc()
}

// RecordPlanValidation records a validation verdict.
func (m *Metrics) RecordPlanValidation(valid bool) {
	if m == nil {
		return
	}
	m.PlanValidations.WithLabelValues(strconv.FormatBool(valid)).Inc()
}

// RecordConsistency records a pre or post consistency verdict.
func (m *Metrics) RecordConsistency(phase string, passed bool) {
	if m == nil {
		return
	}
	m.ConsistencyChecks.WithLabelValues(phase, strconv.FormatBool(passed)).Inc()
}

// RecordConfirmation records a confirmation gate outcome.
func (m *Metrics) RecordConfirmation(outcome string) {
	if m == nil {
		return
	}
	m.Confirmations.WithLabelValues(outcome).Inc()
}

// RecordRemoteCall records one flag service call.
func (m *Metrics) RecordRemoteCall(op string, err error, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.RemoteCalls.WithLabelValues(op, outcome).Inc()
	m.RemoteLatency.WithLabelValues(op).Observe(d.Seconds())
}
