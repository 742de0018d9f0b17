package index

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/flagsync/internal/errors"
	"github.com/felixgeelhaar/flagsync/internal/extract"
	"github.com/felixgeelhaar/flagsync/internal/log"
)

func writeFiles(t *testing.T, root string, names ...string) []string {
	t.Helper()
	paths := make([]string, 0, len(names))
	for _, name := range names {
		p := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(name), 0o644))
		paths = append(paths, p)
	}
	return paths
}

func TestSnapshotIsSortedAndRelative(t *testing.T) {
	root := t.TempDir()
	files := writeFiles(t, root, "z.go", "a/b.go")

	entries := Snapshot(root, files)
	require.Len(t, entries, 2)
	assert.Equal(t, "a/b.go", entries[0].Path)
	assert.Equal(t, "z.go", entries[1].Path)
	assert.Equal(t, int64(len("z.go")), entries[1].Size)
	assert.False(t, entries[1].ModifiedTime.IsZero())
}

func TestSnapshotRecordsVanishedFiles(t *testing.T) {
	root := t.TempDir()
	entries := Snapshot(root, []string{filepath.Join(root, "gone.go")})
	require.Len(t, entries, 1)
	assert.Equal(t, int64(-1), entries[0].Size)
}

func TestMatches(t *testing.T) {
	root := t.TempDir()
	files := writeFiles(t, root, "a.go", "b.go")
	entries := Snapshot(root, files)
	keys := []string{"feature_b", "feature_a"}

	idx := New(root, entries, keys, extract.UsageMap{})
	assert.True(t, idx.Matches(entries, []string{"feature_a", "feature_b", "feature_a"}))

	t.Run("different key set", func(t *testing.T) {
		assert.False(t, idx.Matches(entries, []string{"feature_a"}))
	})

	t.Run("file added", func(t *testing.T) {
		more := Snapshot(root, append(files, writeFiles(t, root, "c.go")...))
		assert.False(t, idx.Matches(more, keys))
	})

	t.Run("file removed", func(t *testing.T) {
		assert.False(t, idx.Matches(entries[:1], keys))
	})

	t.Run("mtime changed", func(t *testing.T) {
		later := time.Now().Add(time.Hour)
		require.NoError(t, os.Chtimes(files[0], later, later))
		assert.False(t, idx.Matches(Snapshot(root, files), keys))
	})

	t.Run("old version", func(t *testing.T) {
		stale := *idx
		stale.Version = 1
		assert.False(t, stale.Matches(entries, keys))
	})

	t.Run("nil index", func(t *testing.T) {
		var none *Index
		assert.False(t, none.Matches(entries, keys))
	})
}

func TestStoreRoundTrip(t *testing.T) {
	root := t.TempDir()
	files := writeFiles(t, root, "main.go")
	entries := Snapshot(root, files)
	usages := extract.UsageMap{"feature_a": {{File: files[0], Line: 3, Context: `IsEnabled("feature_a")`}}}

	store := NewStore(root, log.Discard())
	assert.Equal(t, filepath.Join(root, ".flagsync", "file-index.json"), store.Path())

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Nil(t, loaded)

	require.NoError(t, store.Save(New(root, entries, []string{"feature_a"}, usages)))

	loaded, err = store.Load()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.True(t, loaded.Matches(entries, []string{"feature_a"}))
	assert.Equal(t, usages, loaded.FlagUsages)

	require.NoError(t, store.Clear())
	require.NoError(t, store.Clear())
	loaded, err = store.Load()
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestStoreLoadInvalidates(t *testing.T) {
	tests := []struct {
		name    string
		content string
		code    errors.ErrorCode
	}{
		{"corrupt", "{not json", errors.ErrCodeCacheCorrupt},
		{"legacy schema", `{"version":1,"files":{}}`, errors.ErrCodeCacheVersion},
		{"future schema", `{"version":99}`, errors.ErrCodeCacheVersion},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			store := NewStore(root, log.Discard())
			require.NoError(t, os.MkdirAll(filepath.Dir(store.Path()), 0o755))
			require.NoError(t, os.WriteFile(store.Path(), []byte(tt.content), 0o644))

			idx, err := store.Load()
			assert.Nil(t, idx)
			assert.True(t, errors.HasCode(err, tt.code), "got %v", err)
		})
	}
}

func TestFingerprintChangesWithContent(t *testing.T) {
	ts := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	a := []FileEntry{{Path: "a.go", Size: 10, ModifiedTime: ts}}
	b := []FileEntry{{Path: "a.go", Size: 11, ModifiedTime: ts}}

	assert.Equal(t, Fingerprint(a), Fingerprint(a))
	assert.NotEqual(t, Fingerprint(a), Fingerprint(b))
	assert.Len(t, Fingerprint(nil), 64)
}
