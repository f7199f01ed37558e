// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package eventstream

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestStream() *Stream {
	return New(nil)
}

func TestHandlePayload_PlainMessage(t *testing.T) {
	s := newTestStream()
	payload := []byte(`{"event":{"type":"message","channel":"C1","user":"U1","text":"hi","ts":"1.1"}}`)

	require.NoError(t, s.handlePayload(payload))

	ev := <-s.events
	require.Equal(t, EventMessage, ev.Kind)
	require.Equal(t, "C1", ev.ChannelID)
	require.Equal(t, "hi", ev.Message.Text)
}

func TestHandlePayload_EditAndDeleteSubtypesAreDistinct(t *testing.T) {
	s := newTestStream()

	require.NoError(t, s.handlePayload([]byte(`{"event":{"type":"message","subtype":"message_changed","channel":"C1","user":"U1"}}`)))
	require.Equal(t, EventMessageUpdated, (<-s.events).Kind)

	require.NoError(t, s.handlePayload([]byte(`{"event":{"type":"message","subtype":"message_deleted","channel":"C1","ts":"2.2"}}`)))
	require.Equal(t, EventMessageDeleted, (<-s.events).Kind)
}

func TestHandlePayload_TypingAndReactions(t *testing.T) {
	s := newTestStream()

	require.NoError(t, s.handlePayload([]byte(`{"event":{"type":"user_typing","channel":"C1","user":"U1"}}`)))
	require.Equal(t, EventUserTyping, (<-s.events).Kind)

	require.NoError(t, s.handlePayload([]byte(`{"event":{"type":"reaction_added","channel":"C1","user":"U1","ts":"9.1","reaction":"tada"}}`)))
	added := <-s.events
	require.Equal(t, EventReactionAdded, added.Kind)
	require.Equal(t, "9.1", added.Message.Timestamp)
	require.Equal(t, "tada", added.Message.Reactions[0].Name)
	require.Equal(t, []string{"U1"}, added.Message.Reactions[0].UserIDs)

	require.NoError(t, s.handlePayload([]byte(`{"event":{"type":"reaction_removed","channel":"C1","user":"U1","ts":"9.1","reaction":"tada"}}`)))
	require.Equal(t, EventReactionRemoved, (<-s.events).Kind)
}

func TestHandlePayload_UnknownTypeIsUnhandled(t *testing.T) {
	s := newTestStream()
	require.NoError(t, s.handlePayload([]byte(`{"event":{"type":"some_future_event"}}`)))

	ev := <-s.events
	require.Equal(t, EventUnhandled, ev.Kind)
	require.Equal(t, "some_future_event", ev.Raw)
}
