package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/felixgeelhaar/flagsync/internal/log"
	"github.com/felixgeelhaar/flagsync/internal/version"
)

const (
	defaultPageSize   = 100
	maxErrorBodyBytes = 4096
)

// HTTPConfig configures an HTTPClient.
type HTTPConfig struct {
	BaseURL    string
	ProjectID  string
	Token      string
	Timeout    time.Duration
	MaxRetries int
}

// HTTPClient speaks the Optimizely Feature Experimentation flags REST API.
type HTTPClient struct {
	baseURL    string
	projectID  string
	token      string
	maxRetries int
	httpClient *http.Client
	logger     *log.Logger

	// newBackOff returns a fresh policy per call; BackOff values are stateful.
	newBackOff func() backoff.BackOff
}

// NewHTTPClient validates cfg and builds a client.
func NewHTTPClient(cfg HTTPConfig, logger *log.Logger) (*HTTPClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("remote base URL not configured")
	}
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("remote project ID not configured")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid remote base URL: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	c := &HTTPClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		projectID:  cfg.ProjectID,
		token:      cfg.Token,
		maxRetries: cfg.MaxRetries,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     log.OrDefault(logger).WithComponent("remote"),
	}
	c.newBackOff = func() backoff.BackOff {
		bo := backoff.NewExponentialBackOff()
		bo.InitialInterval = 250 * time.Millisecond
		bo.MaxElapsedTime = 2 * time.Minute
		return backoff.WithMaxRetries(bo, uint64(c.maxRetries))
	}
	return c, nil
}

type wireFlag struct {
	Key          string    `json:"key"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	Archived     bool      `json:"archived"`
	CreatedTime  time.Time `json:"created_time"`
	UpdatedTime  time.Time `json:"updated_time"`
	Dependencies []string  `json:"dependencies,omitempty"`
	Permanent    bool      `json:"permanent,omitempty"`
}

func (w wireFlag) toRemote() RemoteFlag {
	return RemoteFlag{
		Key:          w.Key,
		Name:         w.Name,
		Description:  w.Description,
		Archived:     w.Archived,
		CreatedTime:  w.CreatedTime,
		UpdatedTime:  w.UpdatedTime,
		Dependencies: w.Dependencies,
		Permanent:    w.Permanent,
	}
}

type flagPage struct {
	Items   []wireFlag `json:"items"`
	NextURL string     `json:"next_url"`
}

type wireRuleset struct {
	Enabled     bool      `json:"enabled"`
	Status      string    `json:"status"`
	UpdatedTime time.Time `json:"updated_time"`
}

func (c *HTTPClient) projectPath(parts ...string) string {
	escaped := make([]string, len(parts))
	for i, p := range parts {
		escaped[i] = url.PathEscape(p)
	}
	return c.baseURL + "/flags/v1/projects/" + url.PathEscape(c.projectID) + "/" + strings.Join(escaped, "/")
}

// ListFlags follows next_url pagination until the last page. Flags are
// returned sorted by key.
func (c *HTTPClient) ListFlags(ctx context.Context) ([]RemoteFlag, error) {
	const op = "list_flags"

	next := c.projectPath("flags") + fmt.Sprintf("?per_page=%d", defaultPageSize)
	seen := make(map[string]bool)
	var flags []RemoteFlag

	for next != "" {
		if seen[next] {
			return nil, &Error{Op: op, Kind: NonRetryable, Err: fmt.Errorf("pagination loop at %s", next)}
		}
		seen[next] = true

		var page flagPage
		if err := c.do(ctx, op, http.MethodGet, next, nil, &page); err != nil {
			return nil, err
		}
		for _, w := range page.Items {
			flags = append(flags, w.toRemote())
		}

		nextURL, err := c.resolve(page.NextURL)
		if err != nil {
			return nil, &Error{Op: op, Kind: NonRetryable, Err: err}
		}
		next = nextURL
	}

	sort.Slice(flags, func(i, j int) bool { return flags[i].Key < flags[j].Key })
	return flags, nil
}

// resolve turns a next_url, which may be relative, into an absolute URL.
func (c *HTTPClient) resolve(next string) (string, error) {
	if next == "" {
		return "", nil
	}
	base, err := url.Parse(c.baseURL + "/")
	if err != nil {
		return "", err
	}
	ref, err := url.Parse(next)
	if err != nil {
		return "", fmt.Errorf("invalid next_url %q: %w", next, err)
	}
	return base.ResolveReference(ref).String(), nil
}

// GetEnvironmentStatus reads the flag's ruleset in one environment.
func (c *HTTPClient) GetEnvironmentStatus(ctx context.Context, flagKey, envKey string) (EnvironmentStatus, error) {
	var rs wireRuleset
	endpoint := c.projectPath("flags", flagKey, "environments", envKey, "ruleset")
	if err := c.do(ctx, "get_environment_status", http.MethodGet, endpoint, nil, &rs); err != nil {
		return EnvironmentStatus{}, err
	}

	status := rs.Status
	if status == "" {
		status = "paused"
		if rs.Enabled {
			status = "running"
		}
	}
	return EnvironmentStatus{
		FlagKey:        flagKey,
		EnvironmentKey: envKey,
		Enabled:        rs.Enabled,
		Status:         status,
		UpdatedTime:    rs.UpdatedTime,
	}, nil
}

// ArchiveFlags archives keys in one request. A key is reported OK only when
// the response echoes it back archived.
func (c *HTTPClient) ArchiveFlags(ctx context.Context, keys []string) ([]KeyResult, error) {
	return c.bulk(ctx, "archive_flags", "archive", keys, true)
}

// UnarchiveFlags restores archived keys.
func (c *HTTPClient) UnarchiveFlags(ctx context.Context, keys []string) ([]KeyResult, error) {
	return c.bulk(ctx, "unarchive_flags", "unarchive", keys, false)
}

func (c *HTTPClient) bulk(ctx context.Context, op, action string, keys []string, wantArchived bool) ([]KeyResult, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	body := struct {
		Keys []string `json:"keys"`
	}{Keys: keys}

	resp := make(map[string]wireFlag)
	if err := c.do(ctx, op, http.MethodPost, c.projectPath("flags", action), body, &resp); err != nil {
		return nil, err
	}

	results := make([]KeyResult, 0, len(keys))
	for _, key := range keys {
		flag, ok := resp[key]
		switch {
		case !ok:
			results = append(results, KeyResult{Key: key, Error: "key missing from response"})
		case flag.Archived != wantArchived:
			results = append(results, KeyResult{Key: key, Error: fmt.Sprintf("flag reports archived=%t", flag.Archived)})
		default:
			results = append(results, KeyResult{Key: key, OK: true})
		}
	}
	return results, nil
}

// do performs one JSON request with retry. Retryable failures are retried
// with exponential backoff; everything else stops immediately.
func (c *HTTPClient) do(ctx context.Context, op, method, endpoint string, in, out any) error {
	var payload []byte
	if in != nil {
		var err error
		if payload, err = json.Marshal(in); err != nil {
			return &Error{Op: op, Kind: NonRetryable, Err: err}
		}
	}

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		err := c.once(ctx, op, method, endpoint, payload, out)
		if err == nil {
			return nil
		}
		if IsRetryable(err) {
			c.logger.Debug("retrying flag service call", "op", op, "attempt", attempt, "error", err)
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(c.newBackOff(), ctx))

	if err == nil {
		return nil
	}
	var re *Error
	if errors.As(err, &re) {
		return re
	}
	// The context ended while waiting between attempts.
	return &Error{Op: op, Kind: classifyTransport(err), Err: err}
}

func (c *HTTPClient) once(ctx context.Context, op, method, endpoint string, payload []byte, out any) error {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return &Error{Op: op, Kind: NonRetryable, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.GetInfo().UserAgent())
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &Error{Op: op, Kind: classifyTransport(err), Err: err}
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return &Error{
			Op:         op,
			Kind:       classifyStatus(resp.StatusCode),
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("%s %s: %s", method, req.URL.Path, strings.TrimSpace(string(msg))),
		}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &Error{Op: op, Kind: NonRetryable, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
