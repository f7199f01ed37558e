// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package restclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/kaelindev/driftline/internal/model"
)

// userCacheTTL is how long a fetched user directory is trusted before
// the next lookup triggers a refresh.
const userCacheTTL = 10 * time.Minute

// userCache implements the double-checked-lock TTL cache: a read-lock
// fast path for the common case, and a single in-flight refresh (via
// singleflight) shared by every caller that misses at the same time.
type userCache struct {
	client *Client

	mu        sync.RWMutex
	users     map[string]model.User
	updatedAt time.Time

	group singleflight.Group
}

func newUserCache(c *Client) *userCache {
	return &userCache{client: c, users: make(map[string]model.User)}
}

func (uc *userCache) fresh() bool {
	return !uc.updatedAt.IsZero() && time.Since(uc.updatedAt) < userCacheTTL
}

// snapshot returns the cached user directory without triggering a
// refresh, for the fast path.
func (uc *userCache) snapshot() (map[string]model.User, bool) {
	uc.mu.RLock()
	defer uc.mu.RUnlock()
	if !uc.fresh() {
		return nil, false
	}
	out := make(map[string]model.User, len(uc.users))
	for k, v := range uc.users {
		out[k] = v
	}
	return out, true
}

// GetUsersCached returns the workspace's user directory, refreshing it
// at most once per TTL window. Concurrent misses collapse into one
// in-flight ListUsers call via singleflight; every caller receives that
// call's result.
func (uc *userCache) GetUsersCached(ctx context.Context) (map[string]model.User, error) {
	if users, ok := uc.snapshot(); ok {
		return users, nil
	}

	v, err, _ := uc.group.Do("refresh", func() (interface{}, error) {
		// Re-check freshness now that we hold the refresh slot: another
		// goroutine may have completed a refresh while we were queued.
		if users, ok := uc.snapshot(); ok {
			return users, nil
		}

		fetched, err := uc.client.ListUsers(ctx)
		if err != nil {
			return nil, err
		}

		byID := make(map[string]model.User, len(fetched))
		for _, u := range fetched {
			byID[u.ID] = u
		}

		uc.mu.Lock()
		uc.users = byID
		uc.updatedAt = time.Now()
		uc.mu.Unlock()

		return byID, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(map[string]model.User), nil
}

// ListUsers fetches the full user directory from the API, bypassing the
// cache. Most callers want GetUsersCached instead.
func (c *Client) ListUsers(ctx context.Context) ([]model.User, error) {
	var out struct {
		Members []model.User `json:"members"`
	}
	if err := c.getJSON(ctx, "/users.list", nil, &out); err != nil {
		return nil, err
	}
	return out.Members, nil
}

// GetUsersCached returns the cached user directory, refreshing at most
// once per TTL.
func (c *Client) GetUsersCached(ctx context.Context) (map[string]model.User, error) {
	return c.cache.GetUsersCached(ctx)
}

// TestAuth verifies the bound token and returns the authenticated
// workspace's team ID and name.
func (c *Client) TestAuth(ctx context.Context) (teamID, teamName string, err error) {
	var out struct {
		OK     bool   `json:"ok"`
		TeamID string `json:"team_id"`
		Team   string `json:"team"`
	}
	if err := c.postJSON(ctx, "/auth.test", nil, &out); err != nil {
		return "", "", err
	}
	if !out.OK {
		return "", "", ErrAuth
	}
	return out.TeamID, out.Team, nil
}

// getJSON issues a GET with query params and decodes a JSON response.
func (c *Client) getJSON(ctx context.Context, path string, query map[string]string, out interface{}) error {
	resp, err := c.doWithRetry(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return nil, err
		}
		q := req.URL.Query()
		for k, v := range query {
			q.Set(k, v)
		}
		req.URL.RawQuery = q.Encode()
		return req, nil
	})
	if err != nil {
		return err
	}
	body, err := readBody(resp)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}

// postJSON issues a POST with a JSON body and decodes a JSON response.
func (c *Client) postJSON(ctx context.Context, path string, payload interface{}, out interface{}) error {
	var bodyBytes []byte
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("restclient: marshal request: %w", err)
		}
		bodyBytes = b
	}

	resp, err := c.doWithRetry(ctx, func() (*http.Request, error) {
		return newJSONRequest(ctx, http.MethodPost, c.baseURL+path, bodyBytes)
	})
	if err != nil {
		return err
	}
	body, err := readBody(resp)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}
