package scanner

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/flagsync/internal/errors"
	"github.com/felixgeelhaar/flagsync/internal/log"
)

func buildTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return root
}

func relFiles(t *testing.T, root string, files []string) []string {
	t.Helper()
	out := make([]string, 0, len(files))
	for _, f := range files {
		assert.True(t, filepath.IsAbs(f), "expected absolute path, got %s", f)
		rel, err := filepath.Rel(root, f)
		require.NoError(t, err)
		out = append(out, filepath.ToSlash(rel))
	}
	return out
}

func TestScanExcludesSubtrees(t *testing.T) {
	root := buildTree(t, map[string]string{
		"main.go":                   "package main",
		"pkg/flags.go":              "package pkg",
		"node_modules/lib/index.js": "x",
		"web/node_modules/dep/a.js": "x",
		"vendor/github.com/x/y.go":  "package y",
		"web/src/app.ts":            "x",
		".flagsync/file-index.json": "{}",
		"web/src/app.generated.ts":  "x",
	})

	s, err := New(root, Options{
		ExcludePatterns: []string{"**/node_modules/**", "vendor/**", "**/.flagsync/**", "**/*.generated.ts"},
	}, log.Discard())
	require.NoError(t, err)

	res, err := s.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"main.go", "pkg/flags.go", "web/src/app.ts"}, relFiles(t, s.Root(), res.Files))
}

func TestScanIncludePatterns(t *testing.T) {
	root := buildTree(t, map[string]string{
		"a.go":          "",
		"b.py":          "",
		"deep/er/c.go":  "",
		"deep/er/d.txt": "",
	})

	s, err := New(root, Options{IncludePatterns: []string{"**/*.go"}}, log.Discard())
	require.NoError(t, err)

	res, err := s.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a.go", "deep/er/c.go"}, relFiles(t, s.Root(), res.Files))
}

func TestScanMaxFileSize(t *testing.T) {
	root := buildTree(t, map[string]string{
		"small.go": "package a",
		"big.go":   strings.Repeat("x", 2048),
		"edge.go":  strings.Repeat("y", 1024),
	})

	s, err := New(root, Options{MaxFileSize: 1024}, log.Discard())
	require.NoError(t, err)

	res, err := s.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"edge.go", "small.go"}, relFiles(t, s.Root(), res.Files))
	assert.Equal(t, 1, res.Oversized)
}

func TestScanSkipsUnreadableDirectory(t *testing.T) {
	if runtime.GOOS == "windows" || os.Geteuid() == 0 {
		t.Skip("permission bits are not enforced")
	}

	root := buildTree(t, map[string]string{
		"ok/a.go":     "",
		"locked/b.go": "",
	})
	locked := filepath.Join(root, "locked")
	require.NoError(t, os.Chmod(locked, 0o000))
	t.Cleanup(func() { _ = os.Chmod(locked, 0o755) })

	s, err := New(root, Options{}, log.Discard())
	require.NoError(t, err)

	res, err := s.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"ok/a.go"}, relFiles(t, s.Root(), res.Files))
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, locked, res.Skipped[0].Path)
}

func TestScanCancelled(t *testing.T) {
	root := buildTree(t, map[string]string{"a.go": ""})
	s, err := New(root, Options{}, log.Discard())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = s.Scan(ctx)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeScanInterrupted))
}

func TestNewValidation(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "missing"), Options{}, log.Discard())
	assert.True(t, errors.HasCode(err, errors.ErrCodeScanRootMissing))

	_, err = New(t.TempDir(), Options{ExcludePatterns: []string{"src/[a-"}}, log.Discard())
	assert.True(t, errors.HasCode(err, errors.ErrCodeScanBadPattern))
}

func TestMatchGlobs(t *testing.T) {
	tests := []struct {
		pattern string
		path    string
		want    bool
	}{
		{"**/node_modules/**", "a/node_modules/b/c.js", true},
		{"**/*.go", "main.go", true},
		{"src/**/*.ts", "src/x/y.ts", true},
		{"*.go", "pkg/a.go", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, match(tt.pattern, tt.path), "%s vs %s", tt.pattern, tt.path)
	}
}
