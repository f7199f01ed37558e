// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package restclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestClient_TestAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/auth.test", r.URL.Path)
		require.Equal(t, "Bearer xoxb-test", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(map[string]any{"ok": true, "team_id": "T1", "team": "Acme"})
	}))
	defer srv.Close()

	c := New("xoxb-test", WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))
	teamID, teamName, err := c.TestAuth(context.Background())
	require.NoError(t, err)
	require.Equal(t, "T1", teamID)
	require.Equal(t, "Acme", teamName)
}

func TestClient_TestAuthFailureIsTerminal(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := New("bad-token", WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))
	_, _, err := c.TestAuth(context.Background())
	require.ErrorIs(t, err, ErrAuth)
	require.Equal(t, int32(1), calls.Load(), "auth failures must not be retried")
}

func TestClient_RetriesTransientServerError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if n < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"ok": true, "team_id": "T1", "team": "Acme"})
	}))
	defer srv.Close()

	c := New("xoxb-test", WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))
	teamID, _, err := c.TestAuth(context.Background())
	require.NoError(t, err)
	require.Equal(t, "T1", teamID)
	require.Equal(t, int32(3), calls.Load())
}

func TestClient_RateLimitRespectsRetryAfter(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if n == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"ok": true, "team_id": "T1", "team": "Acme"})
	}))
	defer srv.Close()

	c := New("xoxb-test", WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))
	_, _, err := c.TestAuth(context.Background())
	require.NoError(t, err)
	require.Equal(t, int32(2), calls.Load())
}

func TestClient_RateLimitDetectedFromBodyOnOKStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if n == 1 {
			w.WriteHeader(http.StatusOK)
			json.NewEncoder(w).Encode(map[string]any{"ok": false, "error": "ratelimited"})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"ok": true, "team_id": "T1", "team": "Acme"})
	}))
	defer srv.Close()

	c := New("xoxb-test", WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))
	teamID, _, err := c.TestAuth(context.Background())
	require.NoError(t, err)
	require.Equal(t, "T1", teamID)
	require.Equal(t, int32(2), calls.Load(), "body-level rate limit on a 200 must still be retried")
}

func TestClient_GetUsersCachedCollapsesConcurrentMisses(t *testing.T) {
	var listCalls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/users.list" {
			listCalls.Add(1)
			json.NewEncoder(w).Encode(map[string]any{
				"members": []map[string]string{{"id": "U1", "name": "ada"}},
			})
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New("xoxb-test", WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))

	const n = 10
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			_, err := c.GetUsersCached(context.Background())
			results <- err
		}()
	}
	for i := 0; i < n; i++ {
		require.NoError(t, <-results)
	}
	require.Equal(t, int32(1), listCalls.Load(), "concurrent misses should collapse into one fetch")

	users, err := c.GetUsersCached(context.Background())
	require.NoError(t, err)
	require.Equal(t, "ada", users["U1"].Name)
}

func TestClient_UploadFileSingleRequest(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		require.Equal(t, "a note", r.FormValue("initial_comment"))
		json.NewEncoder(w).Encode(map[string]any{
			"ok":   true,
			"file": map[string]string{"id": "F1", "name": "notes.txt"},
		})
	}))
	defer srv.Close()

	c := New("xoxb-test", WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))
	f, err := c.UploadFile(context.Background(), "C1", "notes.txt", "a note", strings.NewReader("hello"))
	require.NoError(t, err)
	require.Equal(t, "F1", f.ID)
	require.Equal(t, int32(1), calls.Load())
}

func TestClient_DisabledRateLimitSkipsWait(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		json.NewEncoder(w).Encode(map[string]any{"ok": true, "team_id": "T1", "team": "Acme"})
	}))
	defer srv.Close()

	c := New("xoxb-test", WithBaseURL(srv.URL), WithHTTPClient(srv.Client()), WithRateLimit(nil))
	for i := 0; i < 10; i++ {
		_, _, err := c.TestAuth(context.Background())
		require.NoError(t, err)
	}
	require.Equal(t, int32(10), calls.Load())
}

func TestClient_RateLimitPacesBeyondBurst(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"ok": true, "team_id": "T1", "team": "Acme"})
	}))
	defer srv.Close()

	c := New("xoxb-test", WithBaseURL(srv.URL), WithHTTPClient(srv.Client()),
		WithRateLimit(rate.NewLimiter(rate.Limit(1000), 1)))

	_, _, err := c.TestAuth(context.Background())
	require.NoError(t, err)
	_, _, err = c.TestAuth(context.Background())
	require.NoError(t, err)
}
