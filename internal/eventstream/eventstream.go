// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package eventstream consumes the chat service's WebSocket event feed:
// connect to a one-shot URL, acknowledge enveloped frames, emit typed
// events, and reconnect with backoff on any disconnect.
package eventstream

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fasthttp/websocket"

	"github.com/kaelindev/driftline/internal/logging"
	"github.com/kaelindev/driftline/internal/model"
)

// EventKind identifies which domain event a Frame carries.
type EventKind int

const (
	EventConnected EventKind = iota
	EventDisconnected
	EventMessage
	EventMessageUpdated
	EventMessageDeleted
	EventReactionAdded
	EventReactionRemoved
	EventUserTyping
	EventChannelJoined
	EventUnhandled
)

// Event is one item emitted onto the EventStream's output channel.
type Event struct {
	Kind      EventKind
	Message   model.Message
	ChannelID string
	UserID    string
	Raw       string // populated only for EventUnhandled, for diagnostics
}

// URLFetcher returns a fresh one-shot WebSocket URL. Implemented by
// restclient.Client.OpenStreamURL; kept as an interface here so the
// stream doesn't import restclient directly.
type URLFetcher func(ctx context.Context) (string, error)

const (
	minReconnectDelay = time.Second
	maxReconnectDelay = 30 * time.Second
	idleReadTimeout   = 60 * time.Second
)

// Stream owns one long-lived connection to the event feed, reconnecting
// transparently on disconnect or idle timeout.
type Stream struct {
	fetchURL URLFetcher
	events   chan Event
	log      *logging.Logger

	dialer *websocket.Dialer
}

// New constructs a Stream. Call Run to start the connect/reconnect loop;
// Events returns the channel events are delivered on.
func New(fetchURL URLFetcher, opts ...Option) *Stream {
	s := &Stream{
		fetchURL: fetchURL,
		events:   make(chan Event, 64),
		log:      logging.Default("eventstream"),
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Option configures a Stream.
type Option func(*Stream)

// WithLogger overrides the default logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Stream) { s.log = l }
}

// Events returns the channel Run delivers events on. It is closed when
// Run returns.
func (s *Stream) Events() <-chan Event {
	return s.events
}

// Run connects and reconnects until ctx is canceled, then closes the
// events channel. Reconnect backoff starts at 1s and doubles up to a
// 30s cap, resetting to 1s after any connection that delivered at
// least one frame.
func (s *Stream) Run(ctx context.Context) {
	defer close(s.events)

	delay := minReconnectDelay
	for {
		if ctx.Err() != nil {
			return
		}

		sawFrame, err := s.connectAndListen(ctx)
		if err != nil {
			s.log.Warn("connection ended: %v", err)
		}

		if ctx.Err() != nil {
			return
		}

		s.emit(Event{Kind: EventDisconnected})

		if sawFrame {
			delay = minReconnectDelay
		} else {
			delay *= 2
			if delay > maxReconnectDelay {
				delay = maxReconnectDelay
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// connectAndListen fetches a fresh URL, connects, and reads frames until
// the connection closes. It returns whether at least one frame was
// successfully processed, used to decide whether to reset backoff.
func (s *Stream) connectAndListen(ctx context.Context) (bool, error) {
	url, err := s.fetchURL(ctx)
	if err != nil {
		return false, fmt.Errorf("fetch stream url: %w", err)
	}
	s.log.Info("connecting: %s", logging.RedactedURL(url))

	conn, _, err := s.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	s.emit(Event{Kind: EventConnected})

	sawFrame := false
	for {
		if ctx.Err() != nil {
			return sawFrame, ctx.Err()
		}

		conn.SetReadDeadline(time.Now().Add(idleReadTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			return sawFrame, fmt.Errorf("read: %w", err)
		}

		if err := s.handleFrame(conn, data); err != nil {
			if err == errDisconnectRequested {
				return sawFrame, nil
			}
			s.log.Warn("frame handling error: %v", err)
			continue
		}
		sawFrame = true
	}
}

var errDisconnectRequested = fmt.Errorf("eventstream: server requested disconnect")

// envelope is the outer wrapper every frame may carry; envelope_id must
// be acknowledged immediately, before the payload is otherwise processed.
type envelope struct {
	EnvelopeID string          `json:"envelope_id,omitempty"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

type ackMsg struct {
	EnvelopeID string `json:"envelope_id"`
}

func (s *Stream) handleFrame(conn *websocket.Conn, data []byte) error {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("decode envelope: %w", err)
	}

	if env.EnvelopeID != "" {
		ack, _ := json.Marshal(ackMsg{EnvelopeID: env.EnvelopeID})
		if err := conn.WriteMessage(websocket.TextMessage, ack); err != nil {
			return fmt.Errorf("ack envelope: %w", err)
		}
	}

	switch env.Type {
	case "hello":
		return nil
	case "disconnect":
		return errDisconnectRequested
	case "events_api", "event_callback":
		return s.handlePayload(env.Payload)
	default:
		s.emit(Event{Kind: EventUnhandled, Raw: env.Type})
		return nil
	}
}

type payloadEnvelope struct {
	Event json.RawMessage `json:"event"`
}

type rawEvent struct {
	Type     string `json:"type"`
	Subtype  string `json:"subtype,omitempty"`
	Channel  string `json:"channel"`
	User     string `json:"user"`
	Text     string `json:"text"`
	TS       string `json:"ts"`
	ThreadTS string `json:"thread_ts,omitempty"`
	Reaction string `json:"reaction,omitempty"`
}

func (s *Stream) handlePayload(payload json.RawMessage) error {
	var wrapper payloadEnvelope
	if err := json.Unmarshal(payload, &wrapper); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}

	var ev rawEvent
	if err := json.Unmarshal(wrapper.Event, &ev); err != nil {
		return fmt.Errorf("decode event: %w", err)
	}

	switch {
	case ev.Type == "message" && ev.Subtype == "":
		s.emit(Event{Kind: EventMessage, ChannelID: ev.Channel, UserID: ev.User, Message: model.Message{
			Timestamp: ev.TS, ChannelID: ev.Channel, UserID: ev.User, Text: ev.Text, ThreadTS: ev.ThreadTS,
		}})
	case ev.Type == "message" && ev.Subtype == "message_changed":
		s.emit(Event{Kind: EventMessageUpdated, ChannelID: ev.Channel, UserID: ev.User})
	case ev.Type == "message" && ev.Subtype == "message_deleted":
		s.emit(Event{Kind: EventMessageDeleted, ChannelID: ev.Channel, UserID: ev.User, Message: model.Message{Timestamp: ev.TS}})
	case ev.Type == "reaction_added":
		s.emit(Event{Kind: EventReactionAdded, ChannelID: ev.Channel, UserID: ev.User, Message: model.Message{
			Timestamp: ev.TS, ChannelID: ev.Channel,
			Reactions: []model.Reaction{{Name: ev.Reaction, UserIDs: []string{ev.User}}},
		}})
	case ev.Type == "reaction_removed":
		s.emit(Event{Kind: EventReactionRemoved, ChannelID: ev.Channel, UserID: ev.User, Message: model.Message{
			Timestamp: ev.TS, ChannelID: ev.Channel,
			Reactions: []model.Reaction{{Name: ev.Reaction, UserIDs: []string{ev.User}}},
		}})
	case ev.Type == "user_typing":
		s.emit(Event{Kind: EventUserTyping, ChannelID: ev.Channel, UserID: ev.User})
	case ev.Type == "member_joined_channel":
		s.emit(Event{Kind: EventChannelJoined, ChannelID: ev.Channel, UserID: ev.User})
	default:
		s.emit(Event{Kind: EventUnhandled, Raw: ev.Type})
	}
	return nil
}

// emit delivers ev, dropping it rather than blocking forever if the
// consumer has stopped draining (the channel is buffered; this is a
// last-resort guard against a wedged consumer).
func (s *Stream) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		s.log.Warn("event channel full, dropping %v", ev.Kind)
	}
}
