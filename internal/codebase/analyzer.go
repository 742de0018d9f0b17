// Package codebase runs the scanner and extractor over a workspace with
// bounded concurrency, batching and the persisted file index.
package codebase

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/felixgeelhaar/flagsync/internal/errors"
	"github.com/felixgeelhaar/flagsync/internal/extract"
	"github.com/felixgeelhaar/flagsync/internal/index"
	"github.com/felixgeelhaar/flagsync/internal/log"
	"github.com/felixgeelhaar/flagsync/internal/metrics"
	"github.com/felixgeelhaar/flagsync/internal/scanner"
	"github.com/felixgeelhaar/flagsync/internal/telemetry"
)

// DefaultConcurrency is used when Config.ConcurrencyLimit is zero.
const DefaultConcurrency = 10

// Config is the code analysis configuration.
type Config struct {
	WorkspaceRoot    string
	ExcludePatterns  []string
	IncludePatterns  []string
	Languages        []string
	ConcurrencyLimit int
	MaxFileSize      int64
	// UseCache enables the file index for exact-key scans.
	UseCache bool
	// SmartFilterThreshold reduces trees larger than this many files to
	// high-value extensions. Zero disables smart filtering.
	SmartFilterThreshold int
	MinConfidence        float64
}

// ScanResult summarises one scan invocation. It is never mutated after
// being returned.
type ScanResult struct {
	TotalFiles       int                     `json:"totalFiles"`
	ProcessedFiles   int                     `json:"processedFiles"`
	FlagReferences   []extract.FlagReference `json:"flagReferences"`
	FlagUsages       extract.UsageMap        `json:"flagUsages,omitempty"`
	Errors           []string                `json:"errors"`
	Warnings         []string                `json:"warnings"`
	ProcessingTimeMs int64                   `json:"processingTimeMs"`
	CacheUsed        bool                    `json:"cacheUsed"`
	SmartFiltered    bool                    `json:"smartFiltered"`
	// Partial is set when the scan was interrupted before every file was read.
	Partial bool `json:"partial"`
}

// Progress reports batch completion.
type Progress struct {
	Batch          int
	Batches        int
	ProcessedFiles int
	TotalFiles     int
}

// ProgressFunc receives progress after every batch. It is called from the
// scanning goroutine, never concurrently.
type ProgressFunc func(Progress)

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(a *Analyzer) { a.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Analyzer) { a.metrics = m }
}

// WithProgress sets the progress callback.
func WithProgress(fn ProgressFunc) Option {
	return func(a *Analyzer) { a.progress = fn }
}

// Analyzer scans a workspace for flag usages and references.
type Analyzer struct {
	cfg       Config
	scanner   *scanner.Scanner
	extractor *extract.Extractor
	store     *index.Store
	logger    *log.Logger
	metrics   *metrics.Metrics
	progress  ProgressFunc

	// fileHook, when set, runs inside every permit-holding extraction.
	fileHook func()
}

// NewAnalyzer validates the configuration. Unknown languages, malformed
// globs and a negative concurrency limit are rejected here.
func NewAnalyzer(cfg Config, opts ...Option) (*Analyzer, error) {
	if cfg.ConcurrencyLimit < 0 {
		return nil, errors.NewConfigInvalidError("analysis.concurrency_limit",
			fmt.Sprintf("must be positive, got %d", cfg.ConcurrencyLimit))
	}
	if cfg.ConcurrencyLimit == 0 {
		cfg.ConcurrencyLimit = DefaultConcurrency
	}
	if cfg.WorkspaceRoot == "" {
		cfg.WorkspaceRoot = "."
	}

	a := &Analyzer{cfg: cfg}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = log.OrDefault(a.logger).WithComponent("codebase")

	ext, err := extract.NewExtractor(extract.Options{
		Languages:     cfg.Languages,
		MinConfidence: cfg.MinConfidence,
	})
	if err != nil {
		return nil, err
	}
	a.extractor = ext

	sc, err := scanner.New(cfg.WorkspaceRoot, scanner.Options{
		ExcludePatterns: cfg.ExcludePatterns,
		IncludePatterns: cfg.IncludePatterns,
		MaxFileSize:     cfg.MaxFileSize,
	}, a.logger)
	if err != nil {
		return nil, err
	}
	a.scanner = sc
	a.store = index.NewStore(sc.Root(), a.logger)

	return a, nil
}

// Root returns the absolute workspace root.
func (a *Analyzer) Root() string {
	return a.scanner.Root()
}

// Store returns the file index store for this workspace.
func (a *Analyzer) Store() *index.Store {
	return a.store
}

// FindUsages searches the workspace for exact occurrences of keys and returns
// the merged usage map. With UseCache, an unchanged tree and key set reuse the
// previous run's usages.
//
// Cancellation yields a partial result whose Errors record the interruption.
func (a *Analyzer) FindUsages(ctx context.Context, keys []string) (ScanResult, error) {
	matcher, err := extract.NewKeyMatcher(keys)
	if err != nil {
		return ScanResult{}, err
	}

	start := time.Now()
	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanScan,
		attribute.String("mode", "usages"),
		attribute.Int("keys", len(matcher.Keys())),
	)

	files, res := a.collect(ctx)

	var entries []index.FileEntry
	if a.cfg.UseCache && ctx.Err() == nil {
		entries = index.Snapshot(a.Root(), files)
		if cached, ok := a.cachedIndex(entries, matcher.Keys()); ok {
			res.FlagUsages = cached.FlagUsages
			if res.FlagUsages == nil {
				res.FlagUsages = make(extract.UsageMap)
			}
			res.ProcessedFiles = cached.ProcessedFiles
			res.CacheUsed = true
			a.finish(&res, start, "usages")
			span.SetAttributes(attribute.Bool("cache_used", true))
			telemetry.End(span, nil)
			return res, nil
		}
	}

	usages := make(extract.UsageMap)
	var mu sync.Mutex

	processed, runErr := a.run(ctx, files, func(path string) error {
		found, err := a.extractor.FindKeys(path, matcher)
		if err != nil {
			return err
		}
		rel := a.rel(path)
		for _, list := range found {
			for i := range list {
				list[i].File = rel
			}
		}
		mu.Lock()
		defer mu.Unlock()
		usages.Merge(found)
		return nil
	}, &res)

	usages.Sort()
	res.FlagUsages = usages
	res.ProcessedFiles = processed

	if runErr != nil {
		res.Errors = append(res.Errors, runErr.Error())
		res.Partial = true
	} else if a.cfg.UseCache && len(res.Errors) > 0 {
		// Unread files have no usages on record. A cached result would hide
		// both the usages and the errors on the next run.
		a.logger.Debug("file index not saved", "errors", len(res.Errors))
	} else if a.cfg.UseCache && !res.SmartFiltered && !res.Partial {
		idx := index.New(a.Root(), entries, matcher.Keys(), usages)
		idx.ProcessedFiles = processed
		if err := a.store.Save(idx); err != nil {
			a.logger.WithError(err).Warn("could not persist file index")
			res.Warnings = append(res.Warnings, err.Error())
		}
	}

	a.finish(&res, start, "usages")
	telemetry.End(span, runErr)
	return res, nil
}

// Scan discovers flag references through the language pattern tables.
func (a *Analyzer) Scan(ctx context.Context) (ScanResult, error) {
	start := time.Now()
	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanScan, attribute.String("mode", "references"))

	files, res := a.collect(ctx)

	var (
		mu       sync.Mutex
		refs     []extract.FlagReference
		lowCount int
	)

	processed, runErr := a.run(ctx, files, func(path string) error {
		fr, err := a.extractor.ExtractReferences(path)
		if err != nil {
			return err
		}
		rel := a.rel(path)
		mu.Lock()
		defer mu.Unlock()
		for _, ref := range fr.References {
			ref.File = rel
			refs = append(refs, ref)
		}
		lowCount += fr.LowConfidence
		return nil
	}, &res)

	sortReferences(refs)
	res.FlagReferences = refs
	res.ProcessedFiles = processed
	if lowCount > 0 {
		res.Warnings = append(res.Warnings,
			fmt.Sprintf("%d low-confidence reference(s) below %.2f were ignored", lowCount, a.cfg.MinConfidence))
	}
	if runErr != nil {
		res.Errors = append(res.Errors, runErr.Error())
		res.Partial = true
	}

	a.finish(&res, start, "references")
	telemetry.End(span, runErr)
	return res, nil
}

// collect enumerates candidate files and applies smart filtering.
func (a *Analyzer) collect(ctx context.Context) ([]string, ScanResult) {
	res := ScanResult{Errors: []string{}, Warnings: []string{}}

	walked, err := a.scanner.Scan(ctx)
	for _, skipped := range walked.Skipped {
		res.Errors = append(res.Errors, "unreadable directory "+skipped.String())
	}
	if err != nil {
		res.Errors = append(res.Errors, err.Error())
		res.Partial = true
	}

	files := make([]string, 0, len(walked.Files))
	for _, f := range walked.Files {
		if a.extractor.Supports(f) {
			files = append(files, f)
		}
	}
	res.TotalFiles = len(files)

	if a.cfg.SmartFilterThreshold > 0 && len(files) > a.cfg.SmartFilterThreshold {
		kept := smartFilter(a.Root(), files, a.cfg.SmartFilterThreshold)
		msg := fmt.Sprintf("smart filter reduced %d files to %d high-value files; results may be incomplete",
			len(files), len(kept))
		a.logger.Warn("smart filter applied", "total_files", len(files), "kept_files", len(kept),
			"threshold", a.cfg.SmartFilterThreshold)
		a.metrics.RecordSmartFilter()
		res.Warnings = append(res.Warnings, msg)
		res.SmartFiltered = true
		files = kept
	}

	return files, res
}

func (a *Analyzer) cachedIndex(entries []index.FileEntry, keys []string) (*index.Index, bool) {
	cached, err := a.store.Load()
	if err != nil {
		a.logger.WithError(err).Info("file index invalidated")
		a.metrics.RecordCacheInvalidation(string(errors.CodeOf(err)))
		return nil, false
	}
	if cached == nil {
		a.metrics.RecordCacheInvalidation("absent")
		return nil, false
	}
	if !cached.Matches(entries, keys) {
		a.logger.Debug("file index stale, rescanning", "cached_files", len(cached.Files), "files", len(entries))
		a.metrics.RecordCacheInvalidation("changed")
		return nil, false
	}

	a.logger.Debug("file index reused", "files", len(entries), "processed", cached.ProcessedFiles)
	return cached, true
}

// run processes files in batches. At most ConcurrencyLimit files are read at
// any instant; permits are handed out in FIFO order and always released.
// Per-file errors are recorded in res and do not stop the scan.
func (a *Analyzer) run(ctx context.Context, files []string, fn func(string) error, res *ScanResult) (int, error) {
	limit := a.cfg.ConcurrencyLimit
	sem := semaphore.NewWeighted(int64(limit))
	batches := Batches(files, BatchSize(len(files), limit))

	var (
		mu        sync.Mutex
		processed int
	)

	for i, batch := range batches {
		if err := ctx.Err(); err != nil {
			return processed, errors.Wrap(errors.ErrCodeScanInterrupted, "scan interrupted", err)
		}

		bctx, span := telemetry.StartSpan(ctx, telemetry.SpanExtractBatch,
			attribute.Int("batch", i+1),
			attribute.Int("files", len(batch)),
		)

		g, gctx := errgroup.WithContext(bctx)
		for _, path := range batch {
			g.Go(func() error {
				if err := sem.Acquire(gctx, 1); err != nil {
					return err
				}
				defer sem.Release(1)

				if a.fileHook != nil {
					a.fileHook()
				}

				err := fn(path)

				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					a.logger.Warn("failed to read file", "path", path, "error", err)
					res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", a.rel(path), err))
					return nil
				}
				processed++
				return nil
			})
		}

		waitErr := g.Wait()
		telemetry.End(span, waitErr)
		if waitErr != nil {
			return processed, errors.Wrap(errors.ErrCodeScanInterrupted, "scan interrupted", waitErr)
		}

		if a.progress != nil {
			a.progress(Progress{
				Batch:          i + 1,
				Batches:        len(batches),
				ProcessedFiles: processed,
				TotalFiles:     len(files),
			})
		}
	}

	return processed, nil
}

func (a *Analyzer) finish(res *ScanResult, start time.Time, mode string) {
	elapsed := time.Since(start)
	res.ProcessingTimeMs = elapsed.Milliseconds()
	sort.Strings(res.Errors)

	refs := len(res.FlagReferences)
	for _, key := range res.FlagUsages.Keys() {
		refs += res.FlagUsages.Count(key)
	}

	a.metrics.RecordScan(mode, res.CacheUsed, elapsed, res.ProcessedFiles, refs, len(res.Errors))
	a.logger.Info("scan complete",
		"mode", mode,
		"total_files", res.TotalFiles,
		"processed_files", res.ProcessedFiles,
		"references", refs,
		"errors", len(res.Errors),
		"cache_used", res.CacheUsed,
		"duration_ms", res.ProcessingTimeMs,
	)
}

func (a *Analyzer) rel(path string) string {
	if rel, err := filepath.Rel(a.Root(), path); err == nil {
		return filepath.ToSlash(rel)
	}
	return path
}

func sortReferences(refs []extract.FlagReference) {
	sort.Slice(refs, func(i, j int) bool {
		a, b := refs[i], refs[j]
		if a.File != b.File {
			return a.File < b.File
		}
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		if a.Column != b.Column {
			return a.Column < b.Column
		}
		return a.Flag < b.Flag
	})
}
