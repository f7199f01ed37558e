// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"

	"github.com/kaelindev/driftline/internal/model"
)

// maxMessagesPerChannel and maxAssistantLogEntries bound the in-memory
// history kept per channel / for the assistant, oldest evicted first.
const (
	maxMessagesPerChannel  = 500
	maxAssistantLogEntries = 100
)

// typingTTL is how long a user_typing event keeps a user listed as
// currently typing; the chat service re-sends the event every few
// seconds while typing continues, so a missed refresh past this window
// means they stopped.
const typingTTL = 6 * time.Second

// Task is a unit of background work dispatched by the coordinator; it
// runs on its own goroutine and reports back via a TaskCompletedMsg.
type Task func(ctx context.Context) (interface{}, error)

// Coordinator is the single owner of chat-client state: workspaces,
// channels, per-channel message history, and the assistant response
// log. All mutation happens inside Update, called from the UI's main
// loop with messages drained from the event stream, background tasks,
// and user input.
type Coordinator struct {
	mu sync.Mutex

	session       *model.Session
	channels      map[string]model.Channel
	messages      map[string][]model.Message // channelID -> bounded, ts-ordered history
	assistantLog  []AssistantEntry
	loading       map[string]loadingEntry // correlation ID -> in-flight task
	activeChannel string
	typing        map[string]map[string]time.Time // channelID -> userID -> last typing event

	subscribers []chan tea.Msg
}

// AssistantEntry is one exchange recorded in the assistant response log.
type AssistantEntry struct {
	Command  string
	Response string
	Err      error
}

// loadingEntry records when a dispatched task started and the label the
// UI should render alongside its spinner.
type loadingEntry struct {
	Label     string
	StartedAt time.Time
}

// New constructs an empty Coordinator for sess.
func New(sess *model.Session) *Coordinator {
	return &Coordinator{
		session:  sess,
		channels: make(map[string]model.Channel),
		messages: make(map[string][]model.Message),
		loading:  make(map[string]loadingEntry),
		typing:   make(map[string]map[string]time.Time),
	}
}

// Session returns the coordinator's current session, including its
// workspace list and assistant bearer token.
func (c *Coordinator) Session() *model.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// SetSession replaces the coordinator's session wholesale, e.g. after
// onboarding a new workspace or completing an OAuth exchange.
func (c *Coordinator) SetSession(sess *model.Session) {
	c.mu.Lock()
	c.session = sess
	c.mu.Unlock()
	c.notify(SessionUpdatedMsg{})
}

// Messages returns a snapshot of channelID's message history, oldest
// first.
func (c *Coordinator) Messages(channelID string) []model.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.Message, len(c.messages[channelID]))
	copy(out, c.messages[channelID])
	return out
}

// Channels returns a snapshot of every known channel.
func (c *Coordinator) Channels() []model.Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.Channel, 0, len(c.channels))
	for _, ch := range c.channels {
		out = append(out, ch)
	}
	return out
}

// ActiveChannel returns the currently selected channel ID.
func (c *Coordinator) ActiveChannel() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeChannel
}

// SetActiveChannel changes the selected channel and marks it read: its
// unread counter resets to zero and LastRead advances to its newest
// known message.
func (c *Coordinator) SetActiveChannel(channelID string) {
	c.mu.Lock()
	c.activeChannel = channelID
	c.resetUnread(channelID)
	c.mu.Unlock()
}

// TypingUsers returns the user IDs currently typing in channelID: those
// whose most recent typing event arrived within typingTTL. Entries past
// the TTL are pruned as a side effect of the read.
func (c *Coordinator) TypingUsers(channelID string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	byUser := c.typing[channelID]
	if len(byUser) == 0 {
		return nil
	}
	now := time.Now()
	out := make([]string, 0, len(byUser))
	for userID, seen := range byUser {
		if now.Sub(seen) > typingTTL {
			delete(byUser, userID)
			continue
		}
		out = append(out, userID)
	}
	return out
}

// IsLoading reports whether the task identified by correlationID is
// still in flight.
func (c *Coordinator) IsLoading(correlationID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.loading[correlationID]
	return ok
}

// LoadingLabel reports the label and elapsed time for correlationID's
// in-flight task, for rendering a spinner. ok is false once the task's
// completion has been applied.
func (c *Coordinator) LoadingLabel(correlationID string) (label string, elapsed time.Duration, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, found := c.loading[correlationID]
	if !found {
		return "", 0, false
	}
	return entry.Label, time.Since(entry.StartedAt), true
}

// AssistantLog returns a snapshot of recorded assistant exchanges,
// oldest first.
func (c *Coordinator) AssistantLog() []AssistantEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]AssistantEntry, len(c.assistantLog))
	copy(out, c.assistantLog)
	return out
}

// appendMessage inserts m into channelID's history in server (ts) order.
// A message sharing an existing entry's Timestamp replaces it in place
// rather than appearing twice, so a duplicate delivery after reconnect
// cannot double-count as two messages; the newest delivery wins. The
// history is then evicted from the front once it exceeds the bound.
// isNew reports whether m was a genuinely new timestamp rather than a
// replacement, which callers use to decide whether it should count
// toward a channel's unread total.
func (c *Coordinator) appendMessage(channelID string, m model.Message) (isNew bool) {
	hist := c.messages[channelID]

	for i, existing := range hist {
		if existing.Timestamp == m.Timestamp {
			hist[i] = m
			c.messages[channelID] = hist
			return false
		}
	}

	insertAt := len(hist)
	for i, existing := range hist {
		if m.Timestamp < existing.Timestamp {
			insertAt = i
			break
		}
	}
	hist = append(hist, model.Message{})
	copy(hist[insertAt+1:], hist[insertAt:])
	hist[insertAt] = m

	if len(hist) > maxMessagesPerChannel {
		hist = hist[len(hist)-maxMessagesPerChannel:]
	}
	c.messages[channelID] = hist
	return true
}

// resetUnread zeroes channelID's unread counter and advances LastRead to
// its newest known message. Unexported: callers reach it through
// SetActiveChannel, the only place "the user looked at this channel"
// is currently observable.
func (c *Coordinator) resetUnread(channelID string) {
	ch, ok := c.channels[channelID]
	if !ok {
		return
	}
	if hist := c.messages[channelID]; len(hist) > 0 {
		ch.LastRead = hist[len(hist)-1].Timestamp
	}
	ch.UnreadCount = 0
	c.channels[channelID] = ch
}

// bumpUnread increments channelID's unread counter for a message that
// arrived while it was not the active channel. Counts only move forward
// between resetUnread calls, matching the monotone-non-decreasing
// contract on model.Channel.UnreadCount.
func (c *Coordinator) bumpUnread(channelID string) {
	ch, ok := c.channels[channelID]
	if !ok {
		ch = model.Channel{ID: channelID}
	}
	ch.UnreadCount++
	c.channels[channelID] = ch
}

// markJoined records that the bound user has joined channelID,
// inserting a minimal channel entry if none was known yet (the stream
// can report a join before the next ListChannels call catches up).
func (c *Coordinator) markJoined(channelID string) {
	ch, ok := c.channels[channelID]
	if !ok {
		ch = model.Channel{ID: channelID}
	}
	ch.IsMember = true
	c.channels[channelID] = ch
}

// setTyping records that userID was typing in channelID just now.
// TypingUsers prunes entries older than typingTTL.
func (c *Coordinator) setTyping(channelID, userID string) {
	if userID == "" {
		return
	}
	byUser := c.typing[channelID]
	if byUser == nil {
		byUser = make(map[string]time.Time)
		c.typing[channelID] = byUser
	}
	byUser[userID] = time.Now()
}

// applyReaction adds or removes the single reaction carried by delta
// (as populated by eventstream for EventReactionAdded/Removed) on the
// history entry matching delta.Timestamp. A reaction event for a
// message not yet in history (e.g. outside the retained window) is
// dropped; there is nothing to attach it to.
func (c *Coordinator) applyReaction(channelID string, delta model.Message, add bool) {
	if len(delta.Reactions) == 0 {
		return
	}
	hist := c.messages[channelID]
	for i, m := range hist {
		if m.Timestamp != delta.Timestamp {
			continue
		}
		hist[i].Reactions = mergeReaction(m.Reactions, delta.Reactions[0], add)
		return
	}
}

// mergeReaction applies delta (one user's reaction of a given name) onto
// existing, adding a new entry, incrementing/decrementing an existing
// one's count, or dropping it once its count reaches zero.
func mergeReaction(existing []model.Reaction, delta model.Reaction, add bool) []model.Reaction {
	userID := ""
	if len(delta.UserIDs) > 0 {
		userID = delta.UserIDs[0]
	}

	for i, r := range existing {
		if r.Name != delta.Name {
			continue
		}
		if add {
			if !containsUserID(r.UserIDs, userID) {
				existing[i].UserIDs = append(existing[i].UserIDs, userID)
				existing[i].Count++
			}
			return existing
		}
		existing[i].UserIDs = removeUserID(existing[i].UserIDs, userID)
		existing[i].Count--
		if existing[i].Count <= 0 {
			return append(existing[:i], existing[i+1:]...)
		}
		return existing
	}

	if add {
		return append(existing, model.Reaction{Name: delta.Name, Count: 1, UserIDs: delta.UserIDs})
	}
	return existing
}

func containsUserID(ids []string, userID string) bool {
	for _, id := range ids {
		if id == userID {
			return true
		}
	}
	return false
}

func removeUserID(ids []string, userID string) []string {
	out := ids[:0]
	for _, id := range ids {
		if id != userID {
			out = append(out, id)
		}
	}
	return out
}

func (c *Coordinator) appendAssistantEntry(e AssistantEntry) {
	c.assistantLog = append(c.assistantLog, e)
	if len(c.assistantLog) > maxAssistantLogEntries {
		c.assistantLog = c.assistantLog[len(c.assistantLog)-maxAssistantLogEntries:]
	}
}

// SetChannels replaces the known channel list, e.g. after a successful
// ListChannels call.
func (c *Coordinator) SetChannels(channels []model.Channel) {
	c.mu.Lock()
	c.channels = make(map[string]model.Channel, len(channels))
	for _, ch := range channels {
		c.channels[ch.ID] = ch
	}
	c.mu.Unlock()
	c.notify(ChannelUpdatedMsg{})
}

// SetHistory replaces channelID's message history wholesale, e.g. after
// a GetHistory call, truncating to the history bound.
func (c *Coordinator) SetHistory(channelID string, msgs []model.Message) {
	c.mu.Lock()
	if len(msgs) > maxMessagesPerChannel {
		msgs = msgs[len(msgs)-maxMessagesPerChannel:]
	}
	c.messages[channelID] = msgs
	c.mu.Unlock()
	c.notify(ChannelUpdatedMsg{ChannelID: channelID})
}

// Subscribe registers a new output channel that receives a tea.Msg
// every time Update changes state the UI layer would need to redraw
// for. The channel is buffered and non-blocking on the sending side:
// a slow subscriber drops notifications rather than stalling the
// coordinator. Callers outside this module own rendering; Coordinator
// only ever produces these messages, never consumes its own output.
func (c *Coordinator) Subscribe() <-chan tea.Msg {
	ch := make(chan tea.Msg, 16)
	c.mu.Lock()
	c.subscribers = append(c.subscribers, ch)
	c.mu.Unlock()
	return ch
}

// notify fans msg out to every subscriber registered via Subscribe,
// dropping it for any subscriber whose buffer is full.
func (c *Coordinator) notify(msg tea.Msg) {
	for _, ch := range c.subscribers {
		select {
		case ch <- msg:
		default:
		}
	}
}

// Dispatch runs task on its own goroutine and returns a tea.Cmd that
// delivers a TaskCompletedMsg carrying a fresh correlation ID once it
// finishes. label is shown by the UI next to the loading indicator
// (e.g. "sending message", "resume summary") until the completion
// message is processed by Update, so the indicator clears symmetrically
// whether the task succeeds, errors, or panics.
func (c *Coordinator) Dispatch(ctx context.Context, label string, task Task) tea.Cmd {
	id := uuid.NewString()

	c.mu.Lock()
	c.loading[id] = loadingEntry{Label: label, StartedAt: time.Now()}
	c.mu.Unlock()

	return func() tea.Msg {
		result, err := runRecovered(ctx, task)
		return TaskCompletedMsg{CorrelationID: id, Result: result, Err: err}
	}
}

// runRecovered invokes task, converting a panic into an error instead of
// letting it cross the goroutine boundary uncaught.
func runRecovered(ctx context.Context, task Task) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return task(ctx)
}
