package codebase

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestBatchSize(t *testing.T) {
	tests := []struct {
		files int
		limit int
		want  int
	}{
		{20000, 5, 100},
		{20000, 20, 200},
		{6000, 5, 200},
		{6000, 20, 400},
		{2000, 5, 500},
		{2000, 20, 1000},
		{1000, 10, 1000},
		{10, 4, 10},
		{0, 4, 1},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d files limit %d", tt.files, tt.limit), func(t *testing.T) {
			assert.Equal(t, tt.want, BatchSize(tt.files, tt.limit))
		})
	}
}

// Batching only paces the work: concatenating the batches gives back the input.
func TestBatchesPreserveOrder(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		files := rapid.SliceOf(rapid.StringMatching(`[a-z]{1,5}\.go`)).Draw(t, "files")
		size := rapid.IntRange(1, 50).Draw(t, "size")

		var joined []string
		for _, b := range Batches(files, size) {
			if len(b) == 0 || len(b) > size {
				t.Fatalf("batch of %d files with size %d", len(b), size)
			}
			joined = append(joined, b...)
		}
		if len(joined) != len(files) {
			t.Fatalf("got %d files back, want %d", len(joined), len(files))
		}
		for i := range files {
			if joined[i] != files[i] {
				t.Fatalf("order changed at %d", i)
			}
		}
	})
}

func TestSmartFilterPrefersSourceFiles(t *testing.T) {
	files := []string{
		"/r/test/a_test.go",
		"/r/src/app.ts",
		"/r/docs/tool.php",
		"/r/src/handler.go",
		"/r/src/app.min.js",
	}

	assert.Equal(t, []string{"/r/src/app.ts", "/r/src/handler.go"}, smartFilter("/r", files, 2))
	assert.Equal(t, []string{"/r/src/app.ts", "/r/docs/tool.php", "/r/src/handler.go"}, smartFilter("/r", files, 3))
	assert.Len(t, smartFilter("/r", files, 10), 5)
}
