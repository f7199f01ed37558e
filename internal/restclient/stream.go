// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package restclient

import (
	"context"
)

// OpenStreamURL requests a fresh, one-shot WebSocket URL for the event
// stream. The URL is valid for a single connection attempt and expires
// quickly, so EventStream must call this again on every reconnect
// rather than reusing a cached URL.
func (c *Client) OpenStreamURL(ctx context.Context) (string, error) {
	var out struct {
		OK  bool   `json:"ok"`
		URL string `json:"url"`
	}
	if err := c.postJSON(ctx, "/apps.connections.open", nil, &out); err != nil {
		return "", err
	}
	if !out.OK {
		return "", ErrValidation
	}
	return out.URL, nil
}
