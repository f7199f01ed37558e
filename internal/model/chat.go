// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import "time"

// Channel is a conversation surface: a public/private channel, group, or
// direct message.
type Channel struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	IsDM      bool   `json:"is_dm"`
	IsGroup   bool   `json:"is_group"`
	IsPrivate bool   `json:"is_private"`
	Purpose   string `json:"purpose,omitempty"`
	Topic     string `json:"topic,omitempty"`
	// IsMember reports whether the bound token's user has joined this
	// channel. ListChannels filters to IsMember == true; the field is
	// kept so the raw API response stays inspectable.
	IsMember bool `json:"is_member"`
	// LastRead is the timestamp of the last message marked read in this
	// channel, in the same format as Message.Timestamp. Empty means
	// nothing has been read yet.
	LastRead    string `json:"last_read,omitempty"`
	UnreadCount int    `json:"unread_count"`
	// PeerUserID is set for DMs: the other participant's user ID.
	PeerUserID string `json:"peer_user_id,omitempty"`
}

// DisplayName returns the name to render in the channel list. DMs are
// shown by their peer's display name once resolved by the caller, so
// this just exposes the stored name otherwise.
func (c Channel) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return c.ID
}

// User is a workspace member, as returned by the user-directory endpoint
// and cached by RestClient.
type User struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"display_name,omitempty"`
	RealName    string `json:"real_name,omitempty"`
	Email       string `json:"email,omitempty"`
}

// PreferredName returns the best available label for u: display name,
// falling back to real name, falling back to the account name.
func (u User) PreferredName() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	if u.RealName != "" {
		return u.RealName
	}
	return u.Name
}

// Reaction is an emoji reaction attached to a message.
type Reaction struct {
	Name    string   `json:"name"`
	Count   int      `json:"count"`
	UserIDs []string `json:"user_ids"`
}

// File is an attachment referenced by a message.
type File struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Mimetype   string `json:"mimetype"`
	URLPrivate string `json:"url_private"`
	Size       int64  `json:"size"`
}

// Message is a single chat message, enriched with the sender's display
// name resolved via the cached user directory.
type Message struct {
	Timestamp   string     `json:"ts"`
	ChannelID   string     `json:"channel_id"`
	UserID      string     `json:"user_id"`
	Username    string     `json:"username"`
	Text        string     `json:"text"`
	ThreadTS    string     `json:"thread_ts,omitempty"`
	SentAt      time.Time  `json:"sent_at"`
	FromAgent   bool       `json:"from_agent"`
	Edited      bool       `json:"edited"`
	Deleted     bool       `json:"deleted"`
	Reactions   []Reaction `json:"reactions,omitempty"`
	Files       []File     `json:"files,omitempty"`
	ReplyCount  int        `json:"reply_count,omitempty"`
}

// IsThreadReply reports whether the message is a reply within a thread
// rather than its root.
func (m Message) IsThreadReply() bool {
	return m.ThreadTS != "" && m.ThreadTS != m.Timestamp
}

// Thread collects the root message and replies under one ThreadTS.
type Thread struct {
	ParentTS     string    `json:"parent_ts"`
	ChannelID    string    `json:"channel_id"`
	Replies      []Message `json:"replies"`
	IsCollapsed  bool      `json:"is_collapsed"`
}

// NewThread returns a thread collapsed by default.
func NewThread(channelID, parentTS string) *Thread {
	return &Thread{ChannelID: channelID, ParentTS: parentTS, IsCollapsed: true}
}

// ToggleCollapse flips the thread's expand/collapse state.
func (t *Thread) ToggleCollapse() {
	t.IsCollapsed = !t.IsCollapsed
}
