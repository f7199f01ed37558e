// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package commands parses slash commands and @mentions typed into a
// channel, turning them into webhook payloads for the assistant
// gateway. See ProcessCommand, Classify, and ToWebhookPayload.
package commands
