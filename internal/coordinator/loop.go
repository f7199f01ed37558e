// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package coordinator

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/kaelindev/driftline/internal/eventstream"
)

// Run drains userInput, the given streams, and task completions into a
// single mailbox, applying each one via Update in receive order. This
// is the one goroutine that ever calls Update, so state mutation never
// races with itself even though tasks and streams post from many
// goroutines concurrently. Run returns when ctx is cancelled.
//
// streams holds one EventStream per active workspace; losing a
// workspace's connection does not stop the loop for the others.
func (c *Coordinator) Run(ctx context.Context, userInput <-chan tea.Msg, streams []*eventstream.Stream, completions <-chan tea.Msg) {
	mailbox := make(chan tea.Msg, 64)

	for _, s := range streams {
		go forwardStreamEvents(ctx, s, mailbox)
	}
	go forward(ctx, userInput, mailbox)
	go forward(ctx, completions, mailbox)

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-mailbox:
			c.Update(msg)
		}
	}
}

// forwardStreamEvents relays one stream's events into mailbox, wrapped
// as StreamEventMsg, until the stream closes its channel or ctx ends.
func forwardStreamEvents(ctx context.Context, s *eventstream.Stream, mailbox chan<- tea.Msg) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-s.Events():
			if !ok {
				return
			}
			select {
			case mailbox <- StreamEventMsg{Event: ev}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// forward relays src into dst until src closes or ctx ends.
func forward(ctx context.Context, src <-chan tea.Msg, dst chan<- tea.Msg) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-src:
			if !ok {
				return
			}
			select {
			case dst <- msg:
			case <-ctx.Done():
				return
			}
		}
	}
}
