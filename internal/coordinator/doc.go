// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package coordinator owns all mutable chat-client state and is the
// single point where UI input, event-stream frames, and background-task
// completions are applied. Nothing else in this codebase mutates a
// Channel, Message, or Workspace directly.
//
// Run drains those three sources into one mailbox and applies each
// message in receive order, so state mutation never races with itself
// even though many goroutines post into the mailbox concurrently.
// Subscribe hands callers a read-only feed of the resulting changes, in
// the same tea.Msg shape the rendering layer already consumes elsewhere
// in this codebase.
package coordinator
