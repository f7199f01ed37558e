// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package commands parses "/command" lines and @mentions typed into a
// channel into AgentCommand values destined for the assistant gateway.
package commands

import (
	"strings"

	"github.com/kaelindev/driftline/internal/model"
)

// ParseResult is the outcome of parsing one line of user input.
type ParseResult struct {
	Kind model.AgentCommandKind
	Args []string
}

// ProcessCommand splits a leading "/verb arg..." line into its verb and
// arguments. It returns ok=false for anything not starting with "/".
func ProcessCommand(text string) (verb string, args []string, ok bool) {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "/") {
		return "", nil, false
	}
	fields := strings.Fields(trimmed[1:])
	if len(fields) == 0 {
		return "", nil, false
	}
	return strings.ToLower(fields[0]), fields[1:], true
}

// IsAgentMention reports whether text contains an @-mention of the
// assistant, under either its full name or its short alias.
func IsAgentMention(text string) bool {
	lower := strings.ToLower(text)
	return strings.Contains(lower, "@assistant") || strings.Contains(lower, "@asst")
}

// verbAliases maps every recognized spelling, including localized
// variants, to its canonical AgentCommandKind.
var verbAliases = map[string]model.AgentCommandKind{
	"resume":    model.AgentCommandResume,
	"résume":    model.AgentCommandResume,
	"summarize": model.AgentCommandResume,
	"draft":     model.AgentCommandDraft,
	"search":    model.AgentCommandSearch,
	"cherche":   model.AgentCommandSearch,
}

// Classify maps a parsed verb onto an AgentCommandKind, defaulting to
// AgentCommandUnknown for anything not recognized.
func Classify(verb string, args []string) ParseResult {
	kind, ok := verbAliases[verb]
	if !ok {
		kind = model.AgentCommandUnknown
	}
	return ParseResult{Kind: kind, Args: args}
}

// ToWebhookPayload builds the JSON-ready payload for a classified
// command. activeChannel is used for Resume when no channel argument
// was given.
func ToWebhookPayload(result ParseResult, activeChannel, user string) model.WebhookPayload {
	payload := model.WebhookPayload{
		Command: string(result.Kind),
		User:    user,
		Channel: activeChannel,
	}

	switch result.Kind {
	case model.AgentCommandResume:
		if len(result.Args) > 0 {
			payload.Channel = result.Args[0]
		}
	case model.AgentCommandDraft, model.AgentCommandSearch:
		payload.Message = strings.Join(result.Args, " ")
	}

	return payload
}
