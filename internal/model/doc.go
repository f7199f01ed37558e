// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures shared across the chat
// client: workspaces, channels, messages, users, and threads.
//
// # Key Types
//
//   - Session: the full on-disk identity (workspaces plus the assistant bearer)
//   - Workspace: one team's credentials and active-channel selection
//   - Channel, Message, User, Thread, Reaction, File: the chat domain model
//   - AgentCommand: a parsed "/command" line destined for the assistant
package model
