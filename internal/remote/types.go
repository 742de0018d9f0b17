// Package remote talks to the flag-management service that owns the
// authoritative flag list.
//
// Every call either returns data or a typed *Error; callers must treat a
// failure as "flag state unknown" and never assume a write succeeded without
// a confirming read.
package remote

import (
	"context"
	"sort"
	"time"
)

// RemoteFlag is a flag as declared in the flag service. It is read-only to
// the reconciliation engine.
type RemoteFlag struct {
	Key          string    `json:"key" yaml:"key"`
	Name         string    `json:"name,omitempty" yaml:"name,omitempty"`
	Description  string    `json:"description,omitempty" yaml:"description,omitempty"`
	Archived     bool      `json:"archived" yaml:"archived"`
	CreatedTime  time.Time `json:"created_time,omitempty" yaml:"created_time,omitempty"`
	UpdatedTime  time.Time `json:"updated_time,omitempty" yaml:"updated_time,omitempty"`
	Dependencies []string  `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	// Permanent marks long-lived flags (kill switches, ops toggles) that must
	// never be proposed for archival.
	Permanent bool `json:"permanent,omitempty" yaml:"permanent,omitempty"`
}

// EnvironmentStatus is a flag's state in one environment.
type EnvironmentStatus struct {
	FlagKey        string    `json:"flag_key"`
	EnvironmentKey string    `json:"environment_key"`
	Enabled        bool      `json:"enabled"`
	Status         string    `json:"status"`
	UpdatedTime    time.Time `json:"updated_time,omitempty"`
}

// KeyResult is the per-key outcome of a bulk write.
type KeyResult struct {
	Key   string `json:"key"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// Client is the flag service contract.
type Client interface {
	ListFlags(ctx context.Context) ([]RemoteFlag, error)
	GetEnvironmentStatus(ctx context.Context, flagKey, envKey string) (EnvironmentStatus, error)
	ArchiveFlags(ctx context.Context, keys []string) ([]KeyResult, error)
	UnarchiveFlags(ctx context.Context, keys []string) ([]KeyResult, error)
}

// Snapshot is the flag list as of one read. Degraded is set when the list was
// served from a fallback copy because the live read failed.
type Snapshot struct {
	Flags     []RemoteFlag `json:"flags"`
	FetchedAt time.Time    `json:"fetched_at"`
	Source    string       `json:"source"`
	Degraded  bool         `json:"degraded"`
	// Reason explains why a degraded snapshot was used.
	Reason string `json:"reason,omitempty"`
}

// Keys returns the snapshot's flag keys, sorted.
func (s Snapshot) Keys() []string {
	keys := make([]string, 0, len(s.Flags))
	for _, f := range s.Flags {
		keys = append(keys, f.Key)
	}
	sort.Strings(keys)
	return keys
}

// Lookup finds a flag by key.
func (s Snapshot) Lookup(key string) (RemoteFlag, bool) {
	for _, f := range s.Flags {
		if f.Key == key {
			return f, true
		}
	}
	return RemoteFlag{}, false
}

// Fetcher produces snapshots. FallbackClient implements it; plain clients
// are adapted by Fetch.
type Fetcher interface {
	Fetch(ctx context.Context) (Snapshot, error)
}

// Fetch reads a snapshot from c, using its own Fetch when it has one.
func Fetch(ctx context.Context, c Client) (Snapshot, error) {
	if f, ok := c.(Fetcher); ok {
		return f.Fetch(ctx)
	}
	flags, err := c.ListFlags(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Flags: flags, FetchedAt: time.Now().UTC(), Source: "live"}, nil
}

// FindFlag reads the current state of one flag. It is the confirming read
// used after a write.
func FindFlag(ctx context.Context, c Client, key string) (RemoteFlag, bool, error) {
	flags, err := c.ListFlags(ctx)
	if err != nil {
		return RemoteFlag{}, false, err
	}
	for _, f := range flags {
		if f.Key == key {
			return f, true, nil
		}
	}
	return RemoteFlag{}, false, nil
}
