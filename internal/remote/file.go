package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"
)

// fileDocument is the on-disk shape accepted by FileClient. A bare JSON array
// of flags is also accepted.
type fileDocument struct {
	Flags []RemoteFlag `json:"flags"`
	// Environments maps flag key to environment key to state.
	Environments map[string]map[string]EnvironmentStatus `json:"environments,omitempty"`
}

// FileClient serves flags from a JSON export. Writes only change the
// in-memory copy, which makes it usable for CI dry runs and tests.
type FileClient struct {
	mu    sync.RWMutex
	path  string
	flags map[string]RemoteFlag
	envs  map[string]map[string]EnvironmentStatus
	now   func() time.Time

	archived   []string
	unarchived []string
}

// NewFileClient loads path.
func NewFileClient(path string) (*FileClient, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{Op: "load_flags_file", Kind: NonRetryable, Err: err}
	}

	var doc fileDocument
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		err = json.Unmarshal(trimmed, &doc.Flags)
	} else {
		err = json.Unmarshal(trimmed, &doc)
	}
	if err != nil {
		return nil, &Error{Op: "load_flags_file", Kind: NonRetryable, Err: fmt.Errorf("parse %s: %w", path, err)}
	}

	c := NewMemoryClient(doc.Flags...)
	c.path = path
	for flagKey, envs := range doc.Environments {
		for envKey, st := range envs {
			c.SetEnvironmentStatus(flagKey, envKey, st)
		}
	}
	return c, nil
}

// NewMemoryClient builds a FileClient over flags without touching disk.
func NewMemoryClient(flags ...RemoteFlag) *FileClient {
	c := &FileClient{
		flags: make(map[string]RemoteFlag, len(flags)),
		envs:  make(map[string]map[string]EnvironmentStatus),
		now:   time.Now,
	}
	for _, f := range flags {
		c.flags[f.Key] = f
	}
	return c
}

// SetEnvironmentStatus records a flag's state in one environment.
func (c *FileClient) SetEnvironmentStatus(flagKey, envKey string, st EnvironmentStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st.FlagKey = flagKey
	st.EnvironmentKey = envKey
	if c.envs[flagKey] == nil {
		c.envs[flagKey] = make(map[string]EnvironmentStatus)
	}
	c.envs[flagKey][envKey] = st
}

// Path returns the file the client was loaded from, or "" for memory clients.
func (c *FileClient) Path() string {
	return c.path
}

// ListFlags returns all flags sorted by key.
func (c *FileClient) ListFlags(ctx context.Context) ([]RemoteFlag, error) {
	if err := ctx.Err(); err != nil {
		return nil, &Error{Op: "list_flags", Kind: NonRetryable, Err: err}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	flags := make([]RemoteFlag, 0, len(c.flags))
	for _, f := range c.flags {
		flags = append(flags, f)
	}
	sort.Slice(flags, func(i, j int) bool { return flags[i].Key < flags[j].Key })
	return flags, nil
}

// GetEnvironmentStatus returns the recorded state, or a 404-classified error.
func (c *FileClient) GetEnvironmentStatus(ctx context.Context, flagKey, envKey string) (EnvironmentStatus, error) {
	const op = "get_environment_status"
	if err := ctx.Err(); err != nil {
		return EnvironmentStatus{}, &Error{Op: op, Kind: NonRetryable, Err: err}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	if _, ok := c.flags[flagKey]; !ok {
		return EnvironmentStatus{}, &Error{Op: op, Kind: NonRetryable, StatusCode: 404, Err: fmt.Errorf("flag %s not found", flagKey)}
	}
	st, ok := c.envs[flagKey][envKey]
	if !ok {
		return EnvironmentStatus{}, &Error{Op: op, Kind: NonRetryable, StatusCode: 404, Err: fmt.Errorf("environment %s not found for flag %s", envKey, flagKey)}
	}
	return st, nil
}

// ArchiveFlags marks keys archived.
func (c *FileClient) ArchiveFlags(ctx context.Context, keys []string) ([]KeyResult, error) {
	return c.setArchived(ctx, "archive_flags", keys, true)
}

// UnarchiveFlags marks keys active.
func (c *FileClient) UnarchiveFlags(ctx context.Context, keys []string) ([]KeyResult, error) {
	return c.setArchived(ctx, "unarchive_flags", keys, false)
}

func (c *FileClient) setArchived(ctx context.Context, op string, keys []string, archived bool) ([]KeyResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, &Error{Op: op, Kind: NonRetryable, Err: err}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	results := make([]KeyResult, 0, len(keys))
	for _, key := range keys {
		f, ok := c.flags[key]
		if !ok {
			results = append(results, KeyResult{Key: key, Error: "flag not found"})
			continue
		}
		f.Archived = archived
		f.UpdatedTime = c.now().UTC()
		c.flags[key] = f
		if archived {
			c.archived = append(c.archived, key)
		} else {
			c.unarchived = append(c.unarchived, key)
		}
		results = append(results, KeyResult{Key: key, OK: true})
	}
	return results, nil
}

// Archived returns the keys archived through this client, in call order.
func (c *FileClient) Archived() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.archived...)
}

// Unarchived returns the keys restored through this client, in call order.
func (c *FileClient) Unarchived() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.unarchived...)
}
