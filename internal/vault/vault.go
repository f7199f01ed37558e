// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package vault

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/kaelindev/driftline/internal/model"
)

// SessionVault reads and writes the encrypted session file: the list of
// known workspaces and the assistant pairing bearer. Encryption uses
// AES-256-GCM with a random master key held by KeyStore; on-disk layout
// is nonce||ciphertext||tag, written atomically.
type SessionVault struct {
	path    string
	store   KeyStore
	crypt   *cryptor
}

// Option configures a SessionVault.
type Option func(*SessionVault)

// WithPath overrides the default session file location.
func WithPath(path string) Option {
	return func(v *SessionVault) { v.path = path }
}

// WithKeyStore overrides the default platform key store (tests use this
// to inject an in-memory or temp-dir store).
func WithKeyStore(store KeyStore) Option {
	return func(v *SessionVault) { v.store = store }
}

// Open constructs a SessionVault, loading or generating its master key.
// The key store and session file are not required to exist yet; Load
// will return ErrNotFound until Save is first called.
func Open(opts ...Option) (*SessionVault, error) {
	v := &SessionVault{path: defaultSessionPath()}
	for _, opt := range opts {
		opt(v)
	}
	if v.store == nil {
		v.store = NewKeyStore()
	}

	crypt, err := loadOrCreateCryptor(v.store)
	if err != nil {
		return nil, err
	}
	v.crypt = crypt
	return v, nil
}

// Load decrypts and parses the stored session. It returns ErrNotFound if
// no session file exists yet, or ErrCorrupted if the file exists but
// cannot be authenticated or parsed.
func (v *SessionVault) Load() (*model.Session, error) {
	blob, err := os.ReadFile(v.path)
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("vault: read session file: %w", err)
	}

	plaintext, err := v.crypt.open(blob)
	if err != nil {
		return nil, err
	}

	var sess model.Session
	if err := json.Unmarshal(plaintext, &sess); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	return &sess, nil
}

// Save serializes and encrypts sess, writing it atomically. A crash or
// power loss partway through a Save leaves either the previous complete
// file or the new complete file on disk, never a partial write.
func (v *SessionVault) Save(sess *model.Session) error {
	plaintext, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("vault: marshal session: %w", err)
	}

	ciphertext, err := v.crypt.seal(plaintext)
	if err != nil {
		return err
	}

	if err := writeSecure(v.path, ciphertext); err != nil {
		return fmt.Errorf("vault: write session file: %w", err)
	}
	return nil
}

// Purge removes the session file and the master key from disk. A
// subsequent Load returns ErrNotFound; a subsequent Save generates a
// fresh master key.
func (v *SessionVault) Purge() error {
	if err := os.Remove(v.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("vault: remove session file: %w", err)
	}
	if err := v.store.Delete(); err != nil {
		return fmt.Errorf("vault: delete master key: %w", err)
	}

	crypt, err := loadOrCreateCryptor(v.store)
	if err != nil {
		return err
	}
	v.crypt = crypt
	return nil
}
