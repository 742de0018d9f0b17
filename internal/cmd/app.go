package cmd

import (
	"context"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/flagsync/internal/audit"
	"github.com/felixgeelhaar/flagsync/internal/codebase"
	"github.com/felixgeelhaar/flagsync/internal/config"
	"github.com/felixgeelhaar/flagsync/internal/drift"
	"github.com/felixgeelhaar/flagsync/internal/errors"
	"github.com/felixgeelhaar/flagsync/internal/log"
	"github.com/felixgeelhaar/flagsync/internal/metrics"
	"github.com/felixgeelhaar/flagsync/internal/remote"
	"github.com/felixgeelhaar/flagsync/internal/telemetry"
	"github.com/felixgeelhaar/flagsync/internal/version"
)

// app holds what every command needs: configuration, logger, metrics and
// tracing. Commands build one with newApp and close it when done.
type app struct {
	cfg      *config.Config
	root     string
	runID    string
	progress *scanIndicator
	logger   *log.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	shutdown func(context.Context) error
}

func newApp(cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}

	if workspace != "" {
		cfg.Analysis.WorkspaceRoot = workspace
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if logFormat != "" {
		cfg.Logging.Format = logFormat
	}
	if metricsFile != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.TextfilePath = metricsFile
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	root, err := filepath.Abs(cfg.Analysis.WorkspaceRoot)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeScanRootMissing, "failed to resolve workspace root", err)
	}

	lc := cfg.Log()
	lc.Output = log.NewOutput(cmd.ErrOrStderr())
	lc.ServiceVersion = version.GetInfo().Version
	logger := log.New(lc)
	log.SetDefaultLogger(logger)

	a := &app{cfg: cfg, root: root, runID: uuid.NewString(), progress: newScanIndicator(cmd.ErrOrStderr())}
	a.logger = logger.With("run_id", a.runID)
	if cfg.Metrics.Enabled {
		a.registry, a.metrics = metrics.NewRegistry()
	}

	tc := cfg.Tracing(version.GetInfo().Version)
	tc.RunID = a.runID
	shutdown, err := telemetry.InitProvider(cmd.Context(), tc)
	if err != nil {
		logger.WithError(err).Warn("tracing disabled")
	} else {
		a.shutdown = shutdown
	}

	return a, nil
}

// close flushes metrics and traces. Failures are logged, never returned, so
// they cannot mask the command's own result.
func (a *app) close() {
	if a.registry != nil && a.cfg.Metrics.TextfilePath != "" {
		if err := metrics.WriteTextfile(a.registry, a.cfg.Metrics.TextfilePath); err != nil {
			a.logger.WithError(err).Warn("failed to write metrics textfile", "path", a.cfg.Metrics.TextfilePath)
		}
	}
	if a.shutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.shutdown(ctx); err != nil {
			a.logger.WithError(err).Warn("failed to flush traces")
		}
	}
}

// client builds the flag service client: a JSON file when remote.flags_file
// is set, otherwise the HTTP API behind a snapshot fallback.
func (a *app) client() (remote.Client, error) {
	rc := a.cfg.Remote

	switch {
	case rc.FlagsFile != "":
		fc, err := remote.NewFileClient(rc.FlagsFile)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeFileReadFailed, "failed to load flags file", err).
				WithSuggestion("Check remote.flags_file points to a JSON flag export")
		}
		a.logger.Debug("using file flag source", "path", rc.FlagsFile)
		return remote.Instrument(fc, a.metrics, a.logger), nil

	case rc.BaseURL != "":
		hc, err := remote.NewHTTPClient(a.cfg.HTTP(), a.logger)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeConfigInvalid, "invalid remote configuration", err)
		}
		instrumented := remote.Instrument(hc, a.metrics, a.logger)
		return remote.NewFallbackClient(instrumented, remote.SnapshotPath(a.root), rc.SnapshotMaxAge, a.logger), nil
	}

	return nil, errors.NewConfigInvalidError("remote", "no flag source configured").
		WithSuggestion("Set remote.base_url and remote.project_id, or remote.flags_file for offline runs")
}

// analyzer builds the codebase analyzer. useCache=false bypasses the file
// index even when analysis.use_cache is on.
func (a *app) analyzer(useCache bool) (*codebase.Analyzer, error) {
	cc := a.cfg.CodeAnalysis()
	cc.WorkspaceRoot = a.root
	cc.UseCache = cc.UseCache && useCache

	return codebase.NewAnalyzer(cc,
		codebase.WithLogger(a.logger),
		codebase.WithMetrics(a.metrics),
		codebase.WithProgress(func(p codebase.Progress) {
			a.progress.Update(p)
			a.logger.Debug("scan progress",
				"batch", p.Batch,
				"batches", p.Batches,
				"processed_files", p.ProcessedFiles,
				"total_files", p.TotalFiles,
			)
		}),
	)
}

// auditLog opens the audit trail under the workspace.
func (a *app) auditLog() *audit.Logger {
	cfg := audit.DefaultConfig(a.root)
	cfg.RunID = a.runID
	cfg.Enabled = a.cfg.Audit.Enabled
	l, err := audit.New(cfg, a.logger)
	if err != nil {
		a.logger.WithError(err).Warn("audit trail disabled")
		return audit.Discard()
	}
	return l
}

// remoteErr turns a flag service failure into a coded error.
func remoteErr(op string, err error) error {
	if remote.IsAuth(err) {
		return errors.NewRemoteAuthError(err)
	}
	return errors.NewRemoteUnavailableError(op, err)
}

// analysisRun is everything one analysis pass produced.
type analysisRun struct {
	snapshot remote.Snapshot
	scan     codebase.ScanResult
	analysis *drift.Analysis
}

// analyze runs the full reconciliation: read the remote flag list, discover
// references in code, search the workspace for every known key and classify
// the result.
func (a *app) analyze(ctx context.Context, client remote.Client, useCache bool) (*analysisRun, error) {
	snap, err := remote.Fetch(ctx, client)
	if err != nil {
		return nil, remoteErr("list_flags", err)
	}

	an, err := a.analyzer(useCache)
	if err != nil {
		return nil, err
	}

	refs, err := an.Scan(ctx)
	a.progress.Done()
	if err != nil {
		return nil, err
	}

	res, err := an.FindUsages(ctx, knownKeys(snap, refs))
	a.progress.Done()
	if err != nil {
		return nil, err
	}
	res.Partial = res.Partial || refs.Partial
	res.SmartFiltered = res.SmartFiltered || refs.SmartFiltered
	res.Errors = append(res.Errors, refs.Errors...)
	res.Warnings = append(res.Warnings, refs.Warnings...)

	for _, w := range res.Warnings {
		a.logger.Warn("scan warning", "warning", w)
	}
	for _, e := range res.Errors {
		a.logger.Warn("scan error", "error", e)
	}

	det := drift.NewDetector(drift.Options{Protected: a.cfg.Analysis.ProtectedFlags}, a.metrics, a.logger)
	analysis := det.Detect(ctx, snap, res.FlagUsages)

	return &analysisRun{snapshot: snap, scan: res, analysis: analysis}, nil
}

// knownKeys is the union of remote keys and keys discovered in code.
func knownKeys(snap remote.Snapshot, refs codebase.ScanResult) []string {
	seen := make(map[string]bool)
	var keys []string
	for _, k := range snap.Keys() {
		if k != "" && !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	for _, r := range refs.FlagReferences {
		if r.Flag != "" && !seen[r.Flag] {
			seen[r.Flag] = true
			keys = append(keys, r.Flag)
		}
	}
	sort.Strings(keys)
	return keys
}
