// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package coordinator

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/kaelindev/driftline/internal/eventstream"
)

// StreamEventMsg wraps one eventstream.Event for delivery through the
// UI's Update loop.
type StreamEventMsg struct {
	Event eventstream.Event
}

// TaskCompletedMsg reports the outcome of work started by Dispatch.
type TaskCompletedMsg struct {
	CorrelationID string
	Result        interface{}
	Err           error
}

// AssistantRepliedMsg reports the outcome of an assistant gateway
// dispatch, distinct from TaskCompletedMsg so the UI can append it to
// the assistant log without inspecting Result's dynamic type.
type AssistantRepliedMsg struct {
	Command  string
	Response string
	Err      error
}

// ChannelUpdatedMsg notifies subscribers that channelID's message
// history changed and should be re-rendered.
type ChannelUpdatedMsg struct {
	ChannelID string
}

// AssistantLogUpdatedMsg notifies subscribers that a new entry was
// appended to the assistant response log.
type AssistantLogUpdatedMsg struct{}

// SessionUpdatedMsg notifies subscribers that the session (workspace
// list or assistant bearer) changed.
type SessionUpdatedMsg struct{}

// Update applies msg to the coordinator's state, returning a tea.Cmd
// for any follow-up work (e.g. re-arming the stream listener). It is
// safe to call from bubbletea's single-threaded Update method; all
// mutation is additionally guarded by the internal mutex so read
// accessors remain safe from other goroutines.
func (c *Coordinator) Update(msg tea.Msg) tea.Cmd {
	switch m := msg.(type) {
	case StreamEventMsg:
		if channelID := c.applyStreamEvent(m.Event); channelID != "" {
			c.notify(ChannelUpdatedMsg{ChannelID: channelID})
		}
	case TaskCompletedMsg:
		c.mu.Lock()
		delete(c.loading, m.CorrelationID)
		c.mu.Unlock()
	case AssistantRepliedMsg:
		c.mu.Lock()
		c.appendAssistantEntry(AssistantEntry{
			Command:  m.Command,
			Response: m.Response,
			Err:      m.Err,
		})
		c.mu.Unlock()
		c.notify(AssistantLogUpdatedMsg{})
	}
	return nil
}

// applyStreamEvent mutates state for ev and returns the channel ID that
// changed, or "" if ev required no mutation.
func (c *Coordinator) applyStreamEvent(ev eventstream.Event) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch ev.Kind {
	case eventstream.EventMessage:
		isNew := c.appendMessage(ev.ChannelID, ev.Message)
		if isNew && ev.ChannelID != c.activeChannel {
			c.bumpUnread(ev.ChannelID)
		}
		return ev.ChannelID
	case eventstream.EventMessageUpdated, eventstream.EventMessageDeleted:
		c.appendMessage(ev.ChannelID, ev.Message)
		return ev.ChannelID
	case eventstream.EventReactionAdded:
		c.applyReaction(ev.ChannelID, ev.Message, true)
		return ev.ChannelID
	case eventstream.EventReactionRemoved:
		c.applyReaction(ev.ChannelID, ev.Message, false)
		return ev.ChannelID
	case eventstream.EventUserTyping:
		c.setTyping(ev.ChannelID, ev.UserID)
		return ev.ChannelID
	case eventstream.EventChannelJoined:
		c.markJoined(ev.ChannelID)
		return ev.ChannelID
	}
	return ""
}
