// Package scanner enumerates candidate source files under a workspace root.
package scanner

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/felixgeelhaar/flagsync/internal/errors"
	"github.com/felixgeelhaar/flagsync/internal/log"
)

// Options configures file enumeration.
type Options struct {
	// ExcludePatterns are doublestar globs matched against slash-separated
	// paths relative to the root. A matching directory prunes its subtree.
	ExcludePatterns []string
	// IncludePatterns, when non-empty, keep only files matching at least one glob.
	IncludePatterns []string
	// MaxFileSize drops files larger than this many bytes. Zero disables the cutoff.
	MaxFileSize int64
}

// DirError records a directory that could not be read and was skipped.
type DirError struct {
	Path string `json:"path"`
	Err  string `json:"error"`
}

func (e DirError) String() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Err)
}

// Result is the outcome of one walk.
type Result struct {
	// Files holds absolute paths in lexical walk order.
	Files []string
	// Skipped holds directories that could not be read.
	Skipped []DirError
	// Oversized counts files dropped by the size cutoff.
	Oversized int
}

// Scanner walks a root directory applying glob and size rules.
type Scanner struct {
	root    string
	exclude []string
	include []string
	maxSize int64
	logger  *log.Logger
}

// New validates the root and every pattern. Malformed globs are rejected up
// front rather than silently matching nothing.
func New(root string, opts Options, logger *log.Logger) (*Scanner, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeScanRootMissing, "cannot resolve workspace root", err)
	}
	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		return nil, errors.New(errors.ErrCodeScanRootMissing, fmt.Sprintf("workspace root is not a directory: %s", abs)).
			WithSuggestion("Set analysis.workspace_root or pass --root")
	}

	exclude, err := normalizePatterns(opts.ExcludePatterns)
	if err != nil {
		return nil, err
	}
	include, err := normalizePatterns(opts.IncludePatterns)
	if err != nil {
		return nil, err
	}

	return &Scanner{
		root:    abs,
		exclude: exclude,
		include: include,
		maxSize: opts.MaxFileSize,
		logger:  log.OrDefault(logger).WithComponent("scanner"),
	}, nil
}

func normalizePatterns(patterns []string) ([]string, error) {
	out := make([]string, 0, len(patterns))
	for _, p := range patterns {
		p = strings.TrimPrefix(filepath.ToSlash(strings.TrimSpace(p)), "./")
		if p == "" {
			continue
		}
		if !doublestar.ValidatePattern(p) {
			return nil, errors.NewBadPatternError(p, doublestar.ErrBadPattern)
		}
		out = append(out, p)
	}
	return out, nil
}

// Root returns the absolute workspace root.
func (s *Scanner) Root() string {
	return s.root
}

// Scan walks the tree. Unreadable directories are logged and skipped. The
// only error returned is context cancellation, alongside the files found so far.
func (s *Scanner) Scan(ctx context.Context) (Result, error) {
	var res Result

	walkErr := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		if err != nil {
			if d == nil || d.IsDir() {
				s.logger.Warn("skipping unreadable directory", "path", path, "error", err)
				res.Skipped = append(res.Skipped, DirError{Path: path, Err: err.Error()})
				if path == s.root {
					return err
				}
				return filepath.SkipDir
			}
			s.logger.Debug("skipping unreadable entry", "path", path, "error", err)
			return nil
		}

		if path == s.root {
			return nil
		}

		rel, relErr := filepath.Rel(s.root, path)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if s.excludedDir(rel) {
				return filepath.SkipDir
			}
			return nil
		}

		if !d.Type().IsRegular() {
			return nil
		}
		if s.excludedFile(rel) || !s.included(rel) {
			return nil
		}
		if s.maxSize > 0 {
			// Unknown size is kept.
			if info, infoErr := d.Info(); infoErr == nil && info.Size() > s.maxSize {
				res.Oversized++
				return nil
			}
		}

		res.Files = append(res.Files, path)
		return nil
	})

	if walkErr != nil {
		if ctx.Err() != nil {
			return res, errors.Wrap(errors.ErrCodeScanInterrupted, "scan interrupted", walkErr)
		}
		// The root itself was unreadable; already recorded in Skipped.
		s.logger.Warn("workspace root unreadable", "root", s.root, "error", walkErr)
	}

	return res, nil
}

func (s *Scanner) excludedDir(rel string) bool {
	for _, p := range s.exclude {
		if match(p, rel) || match(p, rel+"/") {
			return true
		}
		if trimmed := strings.TrimSuffix(p, "/**"); trimmed != p && match(trimmed, rel) {
			return true
		}
	}
	return false
}

func (s *Scanner) excludedFile(rel string) bool {
	for _, p := range s.exclude {
		if match(p, rel) {
			return true
		}
	}
	return false
}

func (s *Scanner) included(rel string) bool {
	if len(s.include) == 0 {
		return true
	}
	for _, p := range s.include {
		if match(p, rel) {
			return true
		}
	}
	return false
}

// match ignores the error: patterns are validated in New.
func match(pattern, rel string) bool {
	ok, _ := doublestar.Match(pattern, rel)
	return ok
}
