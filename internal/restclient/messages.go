// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package restclient

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/kaelindev/driftline/internal/model"
)

// rawMessage is the wire shape returned by the history/replies endpoints,
// decoded separately from model.Message so parsing logic (timestamp
// conversion, edited/deleted detection, username resolution) stays out
// of the domain type.
type rawMessage struct {
	TS         string           `json:"ts"`
	User       string           `json:"user"`
	Text       string           `json:"text"`
	ThreadTS   string           `json:"thread_ts,omitempty"`
	ReplyCount int              `json:"reply_count,omitempty"`
	Subtype    string           `json:"subtype,omitempty"`
	Edited     *struct{}        `json:"edited,omitempty"`
	Reactions  []model.Reaction `json:"reactions,omitempty"`
	Files      []model.File     `json:"files,omitempty"`
}

func (m rawMessage) toMessage(channelID string, users map[string]model.User) model.Message {
	username := m.User
	if u, ok := users[m.User]; ok {
		username = u.PreferredName()
	}

	return model.Message{
		Timestamp:  m.TS,
		ChannelID:  channelID,
		UserID:     m.User,
		Username:   username,
		Text:       m.Text,
		ThreadTS:   m.ThreadTS,
		SentAt:     parseSlackTS(m.TS),
		Edited:     m.Edited != nil,
		Deleted:    m.Subtype == "tombstone" || m.Subtype == "message_deleted",
		Reactions:  m.Reactions,
		Files:      m.Files,
		ReplyCount: m.ReplyCount,
	}
}

// parseSlackTS converts a "1234567890.123456" channel timestamp to time.Time.
func parseSlackTS(ts string) time.Time {
	parts := strings.SplitN(ts, ".", 2)
	secs, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return time.Time{}
	}
	var nsecs int64
	if len(parts) == 2 {
		frac, err := strconv.ParseInt(parts[1], 10, 64)
		if err == nil {
			nsecs = frac * 1000
		}
	}
	return time.Unix(secs, nsecs)
}

// SendMessage posts text to channelID and returns the new message's
// timestamp, which doubles as its ID.
func (c *Client) SendMessage(ctx context.Context, channelID, text string) (ts string, err error) {
	return c.sendMessage(ctx, channelID, text, "")
}

// SendMessageToThread posts text as a reply under threadTS in channelID.
func (c *Client) SendMessageToThread(ctx context.Context, channelID, threadTS, text string) (ts string, err error) {
	return c.sendMessage(ctx, channelID, text, threadTS)
}

func (c *Client) sendMessage(ctx context.Context, channelID, text, threadTS string) (string, error) {
	payload := map[string]string{"channel": channelID, "text": text}
	if threadTS != "" {
		payload["thread_ts"] = threadTS
	}
	var out struct {
		OK bool   `json:"ok"`
		TS string `json:"ts"`
	}
	if err := c.postJSON(ctx, "/chat.postMessage", payload, &out); err != nil {
		return "", err
	}
	if !out.OK {
		return "", ErrValidation
	}
	return out.TS, nil
}

// UpdateMessage edits the text of the message at ts in channelID.
func (c *Client) UpdateMessage(ctx context.Context, channelID, ts, text string) error {
	payload := map[string]string{"channel": channelID, "ts": ts, "text": text}
	var out struct {
		OK bool `json:"ok"`
	}
	if err := c.postJSON(ctx, "/chat.update", payload, &out); err != nil {
		return err
	}
	if !out.OK {
		return ErrValidation
	}
	return nil
}

// DeleteMessage removes the message at ts in channelID.
func (c *Client) DeleteMessage(ctx context.Context, channelID, ts string) error {
	payload := map[string]string{"channel": channelID, "ts": ts}
	var out struct {
		OK bool `json:"ok"`
	}
	if err := c.postJSON(ctx, "/chat.delete", payload, &out); err != nil {
		return err
	}
	if !out.OK {
		return ErrValidation
	}
	return nil
}

// AddReaction attaches an emoji reaction to the message at ts.
func (c *Client) AddReaction(ctx context.Context, channelID, ts, emojiName string) error {
	return c.reaction(ctx, "/reactions.add", channelID, ts, emojiName)
}

// RemoveReaction removes a previously added emoji reaction.
func (c *Client) RemoveReaction(ctx context.Context, channelID, ts, emojiName string) error {
	return c.reaction(ctx, "/reactions.remove", channelID, ts, emojiName)
}

func (c *Client) reaction(ctx context.Context, path, channelID, ts, emojiName string) error {
	payload := map[string]string{"channel": channelID, "timestamp": ts, "name": emojiName}
	var out struct {
		OK bool `json:"ok"`
	}
	if err := c.postJSON(ctx, path, payload, &out); err != nil {
		return err
	}
	if !out.OK {
		return ErrValidation
	}
	return nil
}
