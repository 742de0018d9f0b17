// Package extract finds feature-flag references in source files.
//
// Detection is line-oriented: every line is first stripped of comments by a
// per-language state machine (see CommentStyle.Strip) and only the remaining
// code is matched. Two modes are offered:
//
//   - exact-key search (FindKeys) for a known list of flag keys, used to build
//     the usage map that the difference analyzer consumes
//   - pattern extraction (ExtractReferences) that discovers references through
//     accessor-call, assignment and naming-convention patterns and scores each
//     with a heuristic confidence
package extract

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/felixgeelhaar/flagsync/internal/errors"
)

// DefaultMinConfidence separates valid references from low-confidence noise.
const DefaultMinConfidence = 0.3

const (
	maxContextLen = 200
	maxLineBytes  = 4 * 1024 * 1024
)

// FlagUsage is one match of a flag key on a non-comment line.
type FlagUsage struct {
	File    string `json:"file"`
	Line    int    `json:"line"`
	Context string `json:"context"`
}

// FlagReference is a pattern-discovered reference with a confidence score.
type FlagReference struct {
	Flag       string      `json:"flag"`
	File       string      `json:"file"`
	Line       int         `json:"line"`
	Column     int         `json:"column"`
	Context    string      `json:"context"`
	Confidence float64     `json:"confidence"`
	Pattern    PatternKind `json:"pattern"`
	Language   Language    `json:"language"`
}

// UsageMap maps a flag key to its usages, ordered by file then line.
type UsageMap map[string][]FlagUsage

// Keys returns the flag keys in sorted order.
func (m UsageMap) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Merge appends other's usages into m. Call Sort once merging is done.
func (m UsageMap) Merge(other UsageMap) {
	for key, usages := range other {
		m[key] = append(m[key], usages...)
	}
}

// Sort orders every usage list by file then line.
func (m UsageMap) Sort() {
	for _, usages := range m {
		sort.SliceStable(usages, func(i, j int) bool {
			if usages[i].File != usages[j].File {
				return usages[i].File < usages[j].File
			}
			return usages[i].Line < usages[j].Line
		})
	}
}

// Count returns the number of usages recorded for key.
func (m UsageMap) Count(key string) int {
	return len(m[key])
}

// Confidence scores a candidate flag name.
//
// The score starts at 0.5: +0.2 when the name contains "_flag" or "feature_"
// (matched case-sensitively), +0.3 when it came from a known accessor call,
// +0.1 when it is a plain identifier, -0.2 when shorter than 3 or longer than
// 50 characters. The result is clamped to [0,1].
func Confidence(name string, accessor bool) float64 {
	score := 0.5

	if strings.Contains(name, "_flag") || strings.Contains(name, "feature_") {
		score += 0.2
	}
	if accessor {
		score += 0.3
	}
	if identifierRe.MatchString(name) {
		score += 0.1
	}
	if len(name) < 3 || len(name) > 50 {
		score -= 0.2
	}

	score = math.Max(0, math.Min(1, score))
	return math.Round(score*100) / 100
}

var identifierRe = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_-]*$`)

// Options configures an Extractor.
type Options struct {
	// Languages restricts extraction to these languages; empty means all.
	Languages []string
	// MinConfidence drops pattern references scoring below it.
	MinConfidence float64
}

// Extractor reads files and reports flag usages and references.
// It is safe for concurrent use.
type Extractor struct {
	index         extensionIndex
	minConfidence float64
}

// NewExtractor validates the language list and builds an Extractor.
func NewExtractor(opts Options) (*Extractor, error) {
	idx, err := newExtensionIndex(opts.Languages)
	if err != nil {
		return nil, err
	}
	if opts.MinConfidence < 0 || opts.MinConfidence > 1 {
		return nil, errors.New(errors.ErrCodeExtractBadPattern,
			fmt.Sprintf("min confidence must be within [0,1], got %v", opts.MinConfidence))
	}
	return &Extractor{index: idx, minConfidence: opts.MinConfidence}, nil
}

// Supports reports whether the file's extension maps to a configured language.
func (e *Extractor) Supports(path string) bool {
	_, ok := e.index.forPath(path)
	return ok
}

// FileReferences is the pattern-extraction outcome for one file.
type FileReferences struct {
	References []FlagReference
	// LowConfidence counts references dropped by the confidence threshold.
	LowConfidence int
}

// ExtractReferences applies the file's language patterns to every code line.
// Files with unrecognised extensions yield an empty result, not an error.
func (e *Extractor) ExtractReferences(path string) (FileReferences, error) {
	spec, ok := e.index.forPath(path)
	if !ok {
		return FileReferences{}, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return FileReferences{}, err
	}
	defer f.Close() //nolint:errcheck // read-only

	return e.referencesFrom(f, path, spec)
}

func (e *Extractor) referencesFrom(r io.Reader, path string, spec LanguageSpec) (FileReferences, error) {
	var out FileReferences

	err := walkCode(r, spec.Comments, func(lineNo int, code, raw string) {
		type hit struct {
			line, col int
			flag      string
		}
		best := make(map[hit]int)

		for _, p := range spec.Patterns {
			for _, m := range p.re.FindAllStringSubmatchIndex(code, -1) {
				if len(m) < 4 || m[2] < 0 {
					continue
				}
				name := code[m[2]:m[3]]
				conf := Confidence(name, p.Kind == KindAccessor)
				if conf < e.minConfidence {
					out.LowConfidence++
					continue
				}

				ref := FlagReference{
					Flag:       name,
					File:       path,
					Line:       lineNo,
					Column:     m[2] + 1,
					Context:    snippet(raw),
					Confidence: conf,
					Pattern:    p.Kind,
					Language:   spec.Name,
				}

				key := hit{lineNo, ref.Column, name}
				if i, seen := best[key]; seen {
					if conf > out.References[i].Confidence {
						out.References[i] = ref
					}
					continue
				}
				best[key] = len(out.References)
				out.References = append(out.References, ref)
			}
		}
	})

	return out, err
}

// FindKeys searches a file for exact, word-bounded occurrences of the
// matcher's keys outside comments. Unrecognised extensions yield no usages.
func (e *Extractor) FindKeys(path string, m *KeyMatcher) (UsageMap, error) {
	spec, ok := e.index.forPath(path)
	if !ok {
		return UsageMap{}, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close() //nolint:errcheck // read-only

	return findKeysFrom(f, path, spec.Comments, m)
}

func findKeysFrom(r io.Reader, path string, style CommentStyle, m *KeyMatcher) (UsageMap, error) {
	usages := make(UsageMap)
	err := walkCode(r, style, func(lineNo int, code, raw string) {
		for _, key := range m.Match(code) {
			usages[key] = append(usages[key], FlagUsage{
				File:    path,
				Line:    lineNo,
				Context: snippet(raw),
			})
		}
	})
	return usages, err
}

// walkCode streams lines, threading the block-comment state from one line to
// the next, and calls fn with the code portion of every line that has any.
func walkCode(r io.Reader, style CommentStyle, fn func(lineNo int, code, raw string)) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)

	var state BlockState
	lineNo := 0
	for sc.Scan() {
		lineNo++
		raw := sc.Text()

		var code string
		var commentOnly bool
		code, commentOnly, state = style.Strip(raw, state)
		if commentOnly || strings.TrimSpace(code) == "" {
			continue
		}
		fn(lineNo, code, raw)
	}
	return sc.Err()
}

func snippet(line string) string {
	s := strings.TrimSpace(line)
	if len(s) > maxContextLen {
		s = s[:maxContextLen] + "..."
	}
	return s
}

// KeyMatcher tests code lines against a fixed set of flag keys using
// word-boundary anchored literal matches.
type KeyMatcher struct {
	keys []string
	res  []*regexp.Regexp
}

// NewKeyMatcher compiles one matcher per distinct key. An empty key is a
// programming error and is rejected.
func NewKeyMatcher(keys []string) (*KeyMatcher, error) {
	seen := make(map[string]bool, len(keys))
	m := &KeyMatcher{}

	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)

	for _, key := range sorted {
		if strings.TrimSpace(key) == "" {
			return nil, errors.NewEmptyFlagKeyError()
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		m.keys = append(m.keys, key)
		m.res = append(m.res, regexp.MustCompile(`\b`+regexp.QuoteMeta(key)+`\b`))
	}
	return m, nil
}

// Keys returns the distinct keys in sorted order.
func (m *KeyMatcher) Keys() []string {
	return append([]string(nil), m.keys...)
}

// Match returns the keys that occur in code, in sorted order.
func (m *KeyMatcher) Match(code string) []string {
	var found []string
	for i, key := range m.keys {
		if !strings.Contains(code, key) {
			continue
		}
		if m.res[i].MatchString(code) {
			found = append(found, key)
		}
	}
	return found
}
