package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/felixgeelhaar/flagsync/internal/log"
)

// SnapshotFileName is the last-good flag list kept next to the file index.
const SnapshotFileName = "remote-snapshot.json"

// FallbackClient wraps a Client and keeps the last successful flag list on
// disk. When a live read fails the saved copy is served with Degraded set;
// stale data is never returned without that mark. Writes always go to the
// wrapped client.
type FallbackClient struct {
	Client
	path   string
	maxAge time.Duration
	logger *log.Logger
	now    func() time.Time
}

// NewFallbackClient stores snapshots at path. A maxAge of zero accepts any
// saved snapshot.
func NewFallbackClient(c Client, path string, maxAge time.Duration, logger *log.Logger) *FallbackClient {
	return &FallbackClient{
		Client: c,
		path:   path,
		maxAge: maxAge,
		logger: log.OrDefault(logger).WithComponent("remote"),
		now:    time.Now,
	}
}

// SnapshotPath returns the default snapshot location under a workspace root.
func SnapshotPath(root string) string {
	return filepath.Join(root, ".flagsync", SnapshotFileName)
}

// Fetch reads the live flag list, falling back to the saved snapshot.
func (f *FallbackClient) Fetch(ctx context.Context) (Snapshot, error) {
	flags, err := f.Client.ListFlags(ctx)
	if err == nil {
		snap := Snapshot{Flags: flags, FetchedAt: f.now().UTC(), Source: "live"}
		if serr := f.save(snap); serr != nil {
			f.logger.Warn("failed to persist flag snapshot", "path", f.path, "error", serr)
		}
		return snap, nil
	}

	if IsAuth(err) {
		return Snapshot{}, err
	}

	saved, lerr := f.load()
	if lerr != nil {
		f.logger.Debug("no usable flag snapshot", "path", f.path, "error", lerr)
		return Snapshot{}, err
	}
	if f.maxAge > 0 && f.now().Sub(saved.FetchedAt) > f.maxAge {
		f.logger.Warn("flag snapshot too old to serve", "path", f.path, "fetched_at", saved.FetchedAt)
		return Snapshot{}, err
	}

	saved.Source = "snapshot"
	saved.Degraded = true
	saved.Reason = fmt.Sprintf("live read failed: %v", err)
	f.logger.Warn("serving degraded flag snapshot", "fetched_at", saved.FetchedAt, "flags", len(saved.Flags), "error", err)
	return saved, nil
}

func (f *FallbackClient) save(s Snapshot) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return err
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, f.path)
}

func (f *FallbackClient) load() (Snapshot, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return Snapshot{}, err
	}
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return Snapshot{}, fmt.Errorf("parse %s: %w", f.path, err)
	}
	return s, nil
}
