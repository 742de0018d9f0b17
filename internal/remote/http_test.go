package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/flagsync/internal/log"
)

func newTestHTTPClient(t *testing.T, handler http.Handler, retries int) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewHTTPClient(HTTPConfig{BaseURL: srv.URL, ProjectID: "42", Token: "secret", MaxRetries: retries}, log.Discard())
	require.NoError(t, err)
	c.newBackOff = func() backoff.BackOff {
		return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, uint64(retries))
	}
	return c
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func TestListFlagsPaginates(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/flags/v1/projects/42/flags", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		if r.URL.Query().Get("page_token") == "" {
			writeJSON(t, w, map[string]any{
				"items": []map[string]any{
					{"key": "zeta", "archived": false, "updated_time": "2024-01-02T00:00:00Z"},
					{"key": "alpha", "archived": true},
				},
				"next_url": "/flags/v1/projects/42/flags?page_token=p2",
			})
			return
		}
		writeJSON(t, w, map[string]any{
			"items": []map[string]any{{"key": "mid", "dependencies": []string{"alpha"}}},
		})
	})

	c := newTestHTTPClient(t, mux, 0)
	flags, err := c.ListFlags(context.Background())
	require.NoError(t, err)

	require.Len(t, flags, 3)
	assert.Equal(t, "alpha", flags[0].Key)
	assert.True(t, flags[0].Archived)
	assert.Equal(t, "mid", flags[1].Key)
	assert.Equal(t, []string{"alpha"}, flags[1].Dependencies)
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), flags[2].UpdatedTime)
}

func TestListFlagsDetectsPaginationLoop(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/flags/v1/projects/42/flags", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{"items": []any{}, "next_url": "/flags/v1/projects/42/flags?page_token=same"})
	})

	_, err := newTestHTTPClient(t, mux, 0).ListFlags(context.Background())
	require.Error(t, err)
	assert.False(t, IsRetryable(err))
}

func TestRetryClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantCalls int32
		retryable bool
		auth      bool
	}{
		{"server error is retried", http.StatusBadGateway, 3, true, false},
		{"rate limit is retried", http.StatusTooManyRequests, 3, true, false},
		{"not found is final", http.StatusNotFound, 1, false, false},
		{"unauthorized is final", http.StatusUnauthorized, 1, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			c := newTestHTTPClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				http.Error(w, "nope", tt.status)
			}), 2)

			_, err := c.ListFlags(context.Background())
			require.Error(t, err)

			var re *Error
			require.ErrorAs(t, err, &re)
			assert.Equal(t, tt.status, re.StatusCode)
			assert.Equal(t, "list_flags", re.Op)
			assert.Equal(t, tt.retryable, IsRetryable(err))
			assert.Equal(t, tt.auth, IsAuth(err))
			assert.Equal(t, tt.wantCalls, calls.Load())
		})
	}
}

func TestRetryRecovers(t *testing.T) {
	var calls atomic.Int32
	c := newTestHTTPClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		writeJSON(t, w, map[string]any{"items": []map[string]any{{"key": "f"}}})
	}), 3)

	flags, err := c.ListFlags(context.Background())
	require.NoError(t, err)
	assert.Len(t, flags, 1)
	assert.Equal(t, int32(3), calls.Load())
}

func TestMalformedBodyIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	c := newTestHTTPClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte("{not json"))
	}), 3)

	_, err := c.ListFlags(context.Background())
	require.Error(t, err)
	assert.False(t, IsRetryable(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestGetEnvironmentStatus(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/flags/v1/projects/42/flags/checkout/environments/production/ruleset", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{"enabled": true})
	})

	st, err := newTestHTTPClient(t, mux, 0).GetEnvironmentStatus(context.Background(), "checkout", "production")
	require.NoError(t, err)
	assert.Equal(t, EnvironmentStatus{FlagKey: "checkout", EnvironmentKey: "production", Enabled: true, Status: "running"}, st)
}

func TestArchiveFlagsPerKeyResults(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/flags/v1/projects/42/flags/archive", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body struct {
			Keys []string `json:"keys"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, []string{"a", "b", "c"}, body.Keys)

		writeJSON(t, w, map[string]any{
			"a": map[string]any{"key": "a", "archived": true},
			"b": map[string]any{"key": "b", "archived": false},
		})
	})

	res, err := newTestHTTPClient(t, mux, 0).ArchiveFlags(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, res, 3)
	assert.True(t, res[0].OK)
	assert.False(t, res[1].OK)
	assert.Contains(t, res[1].Error, "archived=false")
	assert.False(t, res[2].OK)
	assert.Contains(t, res[2].Error, "missing")
}

func TestUnarchiveEmptyKeysSkipsRequest(t *testing.T) {
	c := newTestHTTPClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("unexpected request")
	}), 0)

	res, err := c.UnarchiveFlags(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, res)
}

func TestCancelledContextIsNotRetryable(t *testing.T) {
	c := newTestHTTPClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{"items": []any{}})
	}), 3)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.ListFlags(ctx)
	require.Error(t, err)
	assert.False(t, IsRetryable(err))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewHTTPClientValidation(t *testing.T) {
	_, err := NewHTTPClient(HTTPConfig{ProjectID: "1"}, nil)
	assert.Error(t, err)

	_, err = NewHTTPClient(HTTPConfig{BaseURL: "https://api.example.com"}, nil)
	assert.Error(t, err)
}
