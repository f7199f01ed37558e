// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package coordinator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kaelindev/driftline/internal/eventstream"
	"github.com/kaelindev/driftline/internal/model"
)

func TestAppendMessage_EvictsOldestPastBound(t *testing.T) {
	c := New(&model.Session{})

	for i := 0; i < maxMessagesPerChannel+10; i++ {
		c.appendMessage("C1", model.Message{Text: "m"})
	}

	require.Len(t, c.Messages("C1"), maxMessagesPerChannel)
}

func TestAppendAssistantEntry_EvictsOldestPastBound(t *testing.T) {
	c := New(&model.Session{})

	for i := 0; i < maxAssistantLogEntries+5; i++ {
		c.appendAssistantEntry(AssistantEntry{Command: "resume"})
	}

	require.Len(t, c.AssistantLog(), maxAssistantLogEntries)
}

func TestUpdate_StreamEventAppendsMessage(t *testing.T) {
	c := New(&model.Session{})

	c.Update(StreamEventMsg{Event: eventstream.Event{
		Kind:      eventstream.EventMessage,
		ChannelID: "C1",
		Message:   model.Message{Text: "hello"},
	}})

	msgs := c.Messages("C1")
	require.Len(t, msgs, 1)
	require.Equal(t, "hello", msgs[0].Text)
}

func TestUpdate_UserTypingDoesNotAppendMessage(t *testing.T) {
	c := New(&model.Session{})

	c.Update(StreamEventMsg{Event: eventstream.Event{
		Kind:      eventstream.EventUserTyping,
		ChannelID: "C1",
		UserID:    "U1",
	}})

	require.Empty(t, c.Messages("C1"))
	require.Equal(t, []string{"U1"}, c.TypingUsers("C1"))
}

func TestUpdate_MessageOnInactiveChannelBumpsUnread(t *testing.T) {
	c := New(&model.Session{})
	c.SetChannels([]model.Channel{{ID: "C1"}, {ID: "C2"}})
	c.SetActiveChannel("C1")

	c.Update(StreamEventMsg{Event: eventstream.Event{
		Kind:      eventstream.EventMessage,
		ChannelID: "C2",
		Message:   model.Message{Timestamp: "1"},
	}})
	c.Update(StreamEventMsg{Event: eventstream.Event{
		Kind:      eventstream.EventMessage,
		ChannelID: "C2",
		Message:   model.Message{Timestamp: "2"},
	}})

	channels := c.Channels()
	var c2 model.Channel
	for _, ch := range channels {
		if ch.ID == "C2" {
			c2 = ch
		}
	}
	require.Equal(t, 2, c2.UnreadCount)
}

func TestUpdate_MessageOnActiveChannelDoesNotBumpUnread(t *testing.T) {
	c := New(&model.Session{})
	c.SetChannels([]model.Channel{{ID: "C1"}})
	c.SetActiveChannel("C1")

	c.Update(StreamEventMsg{Event: eventstream.Event{
		Kind:      eventstream.EventMessage,
		ChannelID: "C1",
		Message:   model.Message{Timestamp: "1"},
	}})

	channels := c.Channels()
	require.Equal(t, 0, channels[0].UnreadCount)
}

func TestUpdate_DuplicateMessageDeliveryDoesNotDoubleCountUnread(t *testing.T) {
	c := New(&model.Session{})
	c.SetChannels([]model.Channel{{ID: "C1"}, {ID: "C2"}})
	c.SetActiveChannel("C1")

	ev := StreamEventMsg{Event: eventstream.Event{
		Kind:      eventstream.EventMessage,
		ChannelID: "C2",
		Message:   model.Message{Timestamp: "1", Text: "hi"},
	}}
	c.Update(ev)
	c.Update(ev)

	channels := c.Channels()
	var c2 model.Channel
	for _, ch := range channels {
		if ch.ID == "C2" {
			c2 = ch
		}
	}
	require.Equal(t, 1, c2.UnreadCount)
}

func TestSetActiveChannel_ResetsUnreadAndAdvancesLastRead(t *testing.T) {
	c := New(&model.Session{})
	c.SetChannels([]model.Channel{{ID: "C1"}})

	c.Update(StreamEventMsg{Event: eventstream.Event{
		Kind:      eventstream.EventMessage,
		ChannelID: "C1",
		Message:   model.Message{Timestamp: "5"},
	}})

	c.SetActiveChannel("C1")

	channels := c.Channels()
	require.Equal(t, 0, channels[0].UnreadCount)
	require.Equal(t, "5", channels[0].LastRead)
}

func TestUpdate_ReactionAddedThenRemoved(t *testing.T) {
	c := New(&model.Session{})
	c.Update(StreamEventMsg{Event: eventstream.Event{
		Kind:      eventstream.EventMessage,
		ChannelID: "C1",
		Message:   model.Message{Timestamp: "1", Text: "hi"},
	}})

	c.Update(StreamEventMsg{Event: eventstream.Event{
		Kind:      eventstream.EventReactionAdded,
		ChannelID: "C1",
		UserID:    "U1",
		Message: model.Message{
			Timestamp: "1",
			Reactions: []model.Reaction{{Name: "tada", UserIDs: []string{"U1"}}},
		},
	}})

	msgs := c.Messages("C1")
	require.Len(t, msgs[0].Reactions, 1)
	require.Equal(t, 1, msgs[0].Reactions[0].Count)

	c.Update(StreamEventMsg{Event: eventstream.Event{
		Kind:      eventstream.EventReactionRemoved,
		ChannelID: "C1",
		UserID:    "U1",
		Message: model.Message{
			Timestamp: "1",
			Reactions: []model.Reaction{{Name: "tada", UserIDs: []string{"U1"}}},
		},
	}})

	msgs = c.Messages("C1")
	require.Empty(t, msgs[0].Reactions)
}

func TestUpdate_ChannelJoinedMarksMembership(t *testing.T) {
	c := New(&model.Session{})

	c.Update(StreamEventMsg{Event: eventstream.Event{
		Kind:      eventstream.EventChannelJoined,
		ChannelID: "C3",
		UserID:    "U1",
	}})

	channels := c.Channels()
	require.Len(t, channels, 1)
	require.True(t, channels[0].IsMember)
}

func TestDispatch_MarksLoadingThenClearsOnCompletion(t *testing.T) {
	c := New(&model.Session{})

	cmd := c.Dispatch(context.Background(), "sending message", func(ctx context.Context) (interface{}, error) {
		return "ok", nil
	})

	msg := cmd().(TaskCompletedMsg)
	gotID := msg.CorrelationID

	require.True(t, c.IsLoading(gotID))
	c.Update(msg)
	require.False(t, c.IsLoading(gotID))
}

func TestDispatch_PropagatesTaskError(t *testing.T) {
	c := New(&model.Session{})

	cmd := c.Dispatch(context.Background(), "failing task", func(ctx context.Context) (interface{}, error) {
		return nil, errors.New("boom")
	})
	msg := cmd().(TaskCompletedMsg)
	require.Error(t, msg.Err)
}

func TestDispatch_RecoversPanic(t *testing.T) {
	c := New(&model.Session{})

	cmd := c.Dispatch(context.Background(), "panicking task", func(ctx context.Context) (interface{}, error) {
		panic("boom")
	})
	msg := cmd().(TaskCompletedMsg)
	require.Error(t, msg.Err)
}

func TestLoadingLabel_ReportsLabelWhileInFlight(t *testing.T) {
	c := New(&model.Session{})

	cmd := c.Dispatch(context.Background(), "resume summary", func(ctx context.Context) (interface{}, error) {
		return nil, nil
	})
	msg := cmd().(TaskCompletedMsg)

	label, _, ok := c.LoadingLabel(msg.CorrelationID)
	require.True(t, ok)
	require.Equal(t, "resume summary", label)

	c.Update(msg)
	_, _, ok = c.LoadingLabel(msg.CorrelationID)
	require.False(t, ok)
}

func TestUpdate_AssistantRepliedAppendsLogEntry(t *testing.T) {
	c := New(&model.Session{})

	c.Update(AssistantRepliedMsg{Command: "resume", Response: "summary"})

	entries := c.AssistantLog()
	require.Len(t, entries, 1)
	require.Equal(t, "resume", entries[0].Command)
	require.Equal(t, "summary", entries[0].Response)
}

func TestSetChannelsAndActiveChannel(t *testing.T) {
	c := New(&model.Session{})

	c.SetChannels([]model.Channel{{ID: "C1", Name: "general"}, {ID: "C2", Name: "random"}})
	require.Len(t, c.Channels(), 2)

	c.SetActiveChannel("C2")
	require.Equal(t, "C2", c.ActiveChannel())
}

func TestSubscribe_ReceivesNotificationOnStreamEvent(t *testing.T) {
	c := New(&model.Session{})
	sub := c.Subscribe()

	c.Update(StreamEventMsg{Event: eventstream.Event{
		Kind:      eventstream.EventMessage,
		ChannelID: "C1",
		Message:   model.Message{Text: "hi"},
	}})

	select {
	case msg := <-sub:
		updated, ok := msg.(ChannelUpdatedMsg)
		require.True(t, ok)
		require.Equal(t, "C1", updated.ChannelID)
	default:
		t.Fatal("expected a notification on the subscriber channel")
	}
}

func TestSetSession_NotifiesSubscribers(t *testing.T) {
	c := New(&model.Session{})
	sub := c.Subscribe()

	sess := &model.Session{AssistantBearer: "B"}
	c.SetSession(sess)

	require.Same(t, sess, c.Session())

	select {
	case msg := <-sub:
		_, ok := msg.(SessionUpdatedMsg)
		require.True(t, ok)
	default:
		t.Fatal("expected a SessionUpdatedMsg notification")
	}
}

func TestSetHistory_TruncatesToBound(t *testing.T) {
	c := New(&model.Session{})

	msgs := make([]model.Message, maxMessagesPerChannel+20)
	c.SetHistory("C1", msgs)

	require.Len(t, c.Messages("C1"), maxMessagesPerChannel)
}
