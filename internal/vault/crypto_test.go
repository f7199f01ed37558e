// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package vault

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCryptor_RoundTrip(t *testing.T) {
	key, err := generateMasterKey()
	require.NoError(t, err)

	c, err := newCryptor(key)
	require.NoError(t, err)

	plaintext := []byte("hello, workspace")
	sealed, err := c.seal(plaintext)
	require.NoError(t, err)
	require.Greater(t, len(sealed), NonceSize)

	opened, err := c.open(sealed)
	require.NoError(t, err)
	require.Equal(t, plaintext, opened)
}

func TestCryptor_NonceVaries(t *testing.T) {
	key, err := generateMasterKey()
	require.NoError(t, err)
	c, err := newCryptor(key)
	require.NoError(t, err)

	a, err := c.seal([]byte("same message"))
	require.NoError(t, err)
	b, err := c.seal([]byte("same message"))
	require.NoError(t, err)

	require.False(t, bytes.Equal(a[:NonceSize], b[:NonceSize]), "nonces should differ across calls")
	require.NotEqual(t, a, b)
}

func TestCryptor_TamperedCiphertextFails(t *testing.T) {
	key, err := generateMasterKey()
	require.NoError(t, err)
	c, err := newCryptor(key)
	require.NoError(t, err)

	sealed, err := c.seal([]byte("do not modify"))
	require.NoError(t, err)

	sealed[len(sealed)-1] ^= 0xFF

	_, err = c.open(sealed)
	require.ErrorIs(t, err, ErrCorrupted)
}

func TestCryptor_ShortCiphertextFails(t *testing.T) {
	key, err := generateMasterKey()
	require.NoError(t, err)
	c, err := newCryptor(key)
	require.NoError(t, err)

	_, err = c.open([]byte{1, 2, 3})
	require.Error(t, err)
}

func TestCryptor_WrongKeyFails(t *testing.T) {
	key1, err := generateMasterKey()
	require.NoError(t, err)
	key2, err := generateMasterKey()
	require.NoError(t, err)

	c1, err := newCryptor(key1)
	require.NoError(t, err)
	c2, err := newCryptor(key2)
	require.NoError(t, err)

	sealed, err := c1.seal([]byte("secret"))
	require.NoError(t, err)

	_, err = c2.open(sealed)
	require.ErrorIs(t, err, ErrCorrupted)
}
