// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package restclient

import (
	"context"
	"fmt"
	"strconv"

	"github.com/kaelindev/driftline/internal/model"
)

// ListChannels returns the channels, groups, and DMs the bound token has
// joined, excluding archived ones. The API returns every channel the
// token can merely see; ListChannels filters that down to IsMember.
func (c *Client) ListChannels(ctx context.Context) ([]model.Channel, error) {
	var out struct {
		OK       bool            `json:"ok"`
		Error    string          `json:"error"`
		Channels []model.Channel `json:"channels"`
	}
	query := map[string]string{
		"types":            "public_channel,private_channel,mpim,im",
		"exclude_archived": "true",
	}
	if err := c.getJSON(ctx, "/conversations.list", query, &out); err != nil {
		return nil, err
	}
	if !out.OK {
		return nil, fmt.Errorf("restclient: conversations.list: %s", out.Error)
	}

	joined := make([]model.Channel, 0, len(out.Channels))
	for _, ch := range out.Channels {
		if ch.IsMember {
			joined = append(joined, ch)
		}
	}
	return joined, nil
}

// GetHistory fetches the most recent messages in channelID, enriched
// with sender display names resolved from the cached user directory.
func (c *Client) GetHistory(ctx context.Context, channelID string, limit int) ([]model.Message, error) {
	if limit <= 0 {
		limit = 50
	}

	var raw struct {
		Messages []rawMessage `json:"messages"`
	}
	query := map[string]string{
		"channel": channelID,
		"limit":   strconv.Itoa(limit),
	}
	if err := c.getJSON(ctx, "/conversations.history", query, &raw); err != nil {
		return nil, err
	}

	users, err := c.GetUsersCached(ctx)
	if err != nil {
		// History is still useful without display names; degrade rather
		// than fail the whole call.
		users = nil
	}

	out := make([]model.Message, 0, len(raw.Messages))
	for _, m := range raw.Messages {
		out = append(out, m.toMessage(channelID, users))
	}
	return out, nil
}

// GetThreadReplies fetches every reply under a thread's root message,
// including the root itself as the first element.
func (c *Client) GetThreadReplies(ctx context.Context, channelID, threadTS string) ([]model.Message, error) {
	var raw struct {
		Messages []rawMessage `json:"messages"`
	}
	query := map[string]string{
		"channel": channelID,
		"ts":      threadTS,
	}
	if err := c.getJSON(ctx, "/conversations.replies", query, &raw); err != nil {
		return nil, err
	}

	users, _ := c.GetUsersCached(ctx)

	out := make([]model.Message, 0, len(raw.Messages))
	for _, m := range raw.Messages {
		out = append(out, m.toMessage(channelID, users))
	}
	return out, nil
}
