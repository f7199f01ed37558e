// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package oauthlogin

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAuthCodeURL_IncludesClientIDAndState(t *testing.T) {
	e := NewExchanger("client-123", "secret", 3000, []string{"channels:read"})

	url, state, err := e.AuthCodeURL()
	require.NoError(t, err)
	require.NotEmpty(t, state)
	require.Contains(t, url, "client_id=client-123")
	require.Contains(t, url, "state="+state)
}

func TestAuthCodeURL_StateVariesPerCall(t *testing.T) {
	e := NewExchanger("client-123", "secret", 3000, nil)

	_, state1, err := e.AuthCodeURL()
	require.NoError(t, err)
	_, state2, err := e.AuthCodeURL()
	require.NoError(t, err)

	require.NotEqual(t, state1, state2)
}
