// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config loads driftline's TOML configuration file: chat
// service OAuth credentials, assistant gateway spawn settings, and the
// LLM provider the gateway pairs with.
//
// Secrets (chat_service.client_secret, llm.api_key) may instead be
// supplied via DRIFTLINE_CLIENT_SECRET and DRIFTLINE_LLM_API_KEY so
// they never need to sit in the config file alongside non-secret
// settings.
//
//	cfg, err := config.Load("")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
