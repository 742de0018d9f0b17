// Package index persists the file-metadata cache that lets a repeat scan of
// an unchanged tree reuse the previous usage map.
package index

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/zeebo/blake3"

	"github.com/felixgeelhaar/flagsync/internal/errors"
	"github.com/felixgeelhaar/flagsync/internal/extract"
	"github.com/felixgeelhaar/flagsync/internal/log"
)

const (
	// CurrentVersion is the on-disk schema version. Files written with any
	// other version are invalidated, never migrated in place.
	CurrentVersion = 3

	// DirName is the workspace dot-directory holding flagsync state.
	DirName = ".flagsync"
	// FileName is the index file inside DirName.
	FileName = "file-index.json"
)

// FileEntry is the metadata recorded for one scanned file.
type FileEntry struct {
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	ModifiedTime time.Time `json:"modifiedTime"`
}

// Index is the persisted cache document.
type Index struct {
	Version     int              `json:"version"`
	Timestamp   time.Time        `json:"timestamp"`
	Root        string           `json:"root"`
	Fingerprint string           `json:"fingerprint"`
	Files       []FileEntry      `json:"files"`
	Keys        []string         `json:"keys,omitempty"`
	FlagUsages  extract.UsageMap `json:"flagUsages,omitempty"`
	// ProcessedFiles is the number of files the recorded scan actually read.
	ProcessedFiles int `json:"processedFiles"`
}

// Matches reports whether the index can be reused for the current tree and
// key set. Reuse requires the same file count, the same file list and an
// identical modification time for every file.
func (idx *Index) Matches(entries []FileEntry, keys []string) bool {
	if idx == nil || idx.Version != CurrentVersion {
		return false
	}
	if len(idx.Files) != len(entries) {
		return false
	}
	if idx.Fingerprint != Fingerprint(entries) {
		return false
	}
	for i, e := range entries {
		cached := idx.Files[i]
		if cached.Path != e.Path || !cached.ModifiedTime.Equal(e.ModifiedTime) {
			return false
		}
	}
	return slices.Equal(idx.Keys, normalizeKeys(keys))
}

// New builds an index document for a completed scan.
func New(root string, entries []FileEntry, keys []string, usages extract.UsageMap) *Index {
	return &Index{
		Version:     CurrentVersion,
		Timestamp:   time.Now().UTC(),
		Root:        root,
		Fingerprint: Fingerprint(entries),
		Files:       entries,
		Keys:        normalizeKeys(keys),
		FlagUsages:  usages,
	}
}

func normalizeKeys(keys []string) []string {
	if len(keys) == 0 {
		return nil
	}
	out := slices.Clone(keys)
	sort.Strings(out)
	return slices.Compact(out)
}

// Snapshot stats every file and returns entries keyed by slash-separated
// paths relative to root, sorted by path. Files that vanished between the
// walk and the stat are recorded with size -1 so the next run sees a change.
func Snapshot(root string, files []string) []FileEntry {
	entries := make([]FileEntry, 0, len(files))
	for _, f := range files {
		rel, err := filepath.Rel(root, f)
		if err != nil {
			rel = f
		}
		entry := FileEntry{Path: filepath.ToSlash(rel), Size: -1}
		if info, err := os.Stat(f); err == nil {
			entry.Size = info.Size()
			entry.ModifiedTime = info.ModTime().UTC()
		}
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries
}

// Fingerprint hashes the ordered file list with BLAKE3.
func Fingerprint(entries []FileEntry) string {
	h := blake3.New()
	buf := make([]byte, 0, 128)
	for _, e := range entries {
		buf = buf[:0]
		buf = append(buf, e.Path...)
		buf = append(buf, 0)
		buf = strconv.AppendInt(buf, e.Size, 10)
		buf = append(buf, 0)
		buf = strconv.AppendInt(buf, e.ModifiedTime.UnixNano(), 10)
		buf = append(buf, '\n')
		_, _ = h.Write(buf)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Store reads and writes the index for one workspace root. Concurrent scans
// of the same root are not coordinated across processes.
type Store struct {
	mu     sync.Mutex
	path   string
	logger *log.Logger
}

// NewStore returns a store for root's index file.
func NewStore(root string, logger *log.Logger) *Store {
	return &Store{
		path:   filepath.Join(root, DirName, FileName),
		logger: log.OrDefault(logger).WithComponent("index"),
	}
}

// Path returns the index file location.
func (s *Store) Path() string {
	return s.path
}

// Load reads the index. A missing file yields (nil, nil). A file with another
// schema version yields a CACHE-002 error and a corrupt file CACHE-001; callers
// treat both as a cache miss.
func (s *Store) Load() (*Index, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(errors.ErrCodeFileReadFailed, "read file index", err)
	}

	var probe struct {
		Version int `json:"version"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, errors.Wrap(errors.ErrCodeCacheCorrupt, "file index is not valid JSON", err).
			WithSuggestion("Run 'flagsync cache clear'")
	}
	if probe.Version != CurrentVersion {
		return nil, errors.New(errors.ErrCodeCacheVersion,
			fmt.Sprintf("file index schema v%d is not supported (want v%d)", probe.Version, CurrentVersion))
	}

	var idx Index
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, errors.Wrap(errors.ErrCodeCacheCorrupt, "decode file index", err).
			WithSuggestion("Run 'flagsync cache clear'")
	}
	return &idx, nil
}

// Save writes the index atomically via a temp file and rename.
func (s *Store) Save(idx *Index) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return errors.Wrap(errors.ErrCodeCacheWrite, "create index directory", err)
	}

	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return errors.Wrap(errors.ErrCodeFileMarshal, "marshal file index", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrap(errors.ErrCodeCacheWrite, "write file index", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return errors.Wrap(errors.ErrCodeCacheWrite, "replace file index", err)
	}

	s.logger.Debug("file index saved", "path", s.path, "files", len(idx.Files), "keys", len(idx.Keys))
	return nil
}

// Clear removes the index file. Clearing an absent index is not an error.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(errors.ErrCodeCacheWrite, "remove file index", err)
	}
	return nil
}
