package codebase

import (
	"path/filepath"
	"sort"
	"strings"
)

// BatchSize returns how many files one batch holds for a set of n files at
// the given concurrency limit. Batching bounds peak memory and paces progress
// reporting; it never changes the result.
func BatchSize(n, limit int) int {
	if limit < 1 {
		limit = 1
	}
	switch {
	case n > 10000:
		return max(limit*10, 100)
	case n > 5000:
		return max(limit*20, 200)
	case n > 1000:
		return max(limit*50, 500)
	default:
		return max(n, 1)
	}
}

// Batches splits files into consecutive chunks of at most size entries.
func Batches(files []string, size int) [][]string {
	if len(files) == 0 {
		return nil
	}
	if size < 1 {
		size = len(files)
	}
	out := make([][]string, 0, (len(files)+size-1)/size)
	for start := 0; start < len(files); start += size {
		end := min(start+size, len(files))
		out = append(out, files[start:end])
	}
	return out
}

// extensionPriority ranks extensions for smart filtering; lower is kept first.
var extensionPriority = map[string]int{
	".ts":   0,
	".tsx":  0,
	".js":   1,
	".jsx":  1,
	".go":   1,
	".py":   2,
	".java": 2,
	".kt":   2,
	".cs":   2,
	".php":  3,
	".mjs":  3,
	".cjs":  3,
}

// lowValueMarkers are path fragments deprioritised by the smart filter.
var lowValueMarkers = []string{"test", "spec", "mock", "fixture", "example", "generated", ".min."}

// smartFilter keeps the limit highest-value files. Source files outside test
// and fixture trees win; ties keep walk order so the selection is stable.
func smartFilter(root string, files []string, limit int) []string {
	type ranked struct {
		path  string
		score int
		order int
	}

	rs := make([]ranked, len(files))
	for i, f := range files {
		score, ok := extensionPriority[strings.ToLower(filepath.Ext(f))]
		if !ok {
			score = 5
		}
		rel, err := filepath.Rel(root, f)
		if err != nil {
			rel = f
		}
		lower := strings.ToLower(filepath.ToSlash(rel))
		for _, marker := range lowValueMarkers {
			if strings.Contains(lower, marker) {
				score += 10
				break
			}
		}
		rs[i] = ranked{path: f, score: score, order: i}
	}

	sort.SliceStable(rs, func(i, j int) bool { return rs[i].score < rs[j].score })
	if len(rs) > limit {
		rs = rs[:limit]
	}
	sort.Slice(rs, func(i, j int) bool { return rs[i].order < rs[j].order })

	kept := make([]string, len(rs))
	for i, r := range rs {
		kept[i] = r.path
	}
	return kept
}
