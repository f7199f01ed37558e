// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package vault provides authenticated encryption-at-rest for the stored
// session: workspace tokens, the assistant bearer, and related secrets.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/kaelindev/driftline/internal/util"
)

// NonceSize is the AES-GCM nonce length in bytes.
const NonceSize = 12

// KeySize is the AES-256 key length in bytes.
const KeySize = 32

var (
	// ErrNotFound indicates no session file exists on disk.
	ErrNotFound = errors.New("vault: no session found")
	// ErrCorrupted indicates the stored session failed decryption or parsing.
	ErrCorrupted = errors.New("vault: session data is corrupted")

	errNotInitialized    = errors.New("vault: encryption key not loaded")
	errInvalidCiphertext = errors.New("vault: ciphertext too short")
)

// zeroBytes overwrites key material before it is dropped.
func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// cryptor wraps an AES-256-GCM cipher bound to the vault's master key.
type cryptor struct {
	mu     sync.RWMutex
	cipher cipher.AEAD
}

func newCryptor(key []byte) (*cryptor, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("vault: create AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("vault: create GCM cipher: %w", err)
	}
	return &cryptor{cipher: gcm}, nil
}

// seal encrypts plaintext, returning nonce||ciphertext||tag.
func (c *cryptor) seal(plaintext []byte) ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.cipher == nil {
		return nil, errNotInitialized
	}
	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("vault: generate nonce: %w", err)
	}
	return c.cipher.Seal(nonce, nonce, plaintext, nil), nil
}

// open decrypts a nonce||ciphertext||tag blob produced by seal.
func (c *cryptor) open(blob []byte) ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.cipher == nil {
		return nil, errNotInitialized
	}
	if len(blob) < NonceSize {
		return nil, errInvalidCiphertext
	}
	nonce, ciphertext := blob[:NonceSize], blob[NonceSize:]
	plaintext, err := c.cipher.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	return plaintext, nil
}

// generateMasterKey returns a fresh random 32-byte AES-256 key.
func generateMasterKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("vault: generate master key: %w", err)
	}
	return key, nil
}

// loadOrCreateCryptor retrieves the master key from store, generating and
// persisting a new one on first use.
func loadOrCreateCryptor(store KeyStore) (*cryptor, error) {
	if store.Exists() {
		key, err := store.Retrieve()
		if err != nil {
			return nil, fmt.Errorf("vault: retrieve master key: %w", err)
		}
		defer zeroBytes(key)
		return newCryptor(key)
	}

	key, err := generateMasterKey()
	if err != nil {
		return nil, err
	}
	defer zeroBytes(key)

	if err := store.Store(key); err != nil {
		return nil, fmt.Errorf("vault: persist master key: %w", err)
	}
	return newCryptor(key)
}

// defaultSessionPath returns the path to the encrypted session file.
func defaultSessionPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".driftline", "session.enc")
	}
	return filepath.Join(home, ".driftline", "session.enc")
}

// writeSecure is the atomic, restricted-permission write used for the
// encrypted session blob.
func writeSecure(path string, data []byte) error {
	return util.AtomicWriteFileWithDir(path, data, 0600, 0700)
}
