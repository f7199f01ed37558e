// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package vault

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/kaelindev/driftline/internal/util"
)

// KeyStore defines the interface for secure master-key storage.
// Implementations provide platform-specific secure storage: DPAPI on
// Windows, a restricted-permission file on Unix.
type KeyStore interface {
	// Store persists the master key.
	Store(key []byte) error
	// Retrieve reads the master key back from storage.
	Retrieve() ([]byte, error)
	// Delete removes the stored key, if any.
	Delete() error
	// Exists reports whether a key has been stored.
	Exists() bool
}

// FileKeyStore is a plain file-based KeyStore with restricted permissions.
// It backs the platform-specific stores on Unix and serves as the
// fallback implementation everywhere else.
type FileKeyStore struct {
	path string
}

// NewFileKeyStore creates a file-based key store at path.
func NewFileKeyStore(path string) *FileKeyStore {
	return &FileKeyStore{path: path}
}

func (f *FileKeyStore) Store(key []byte) error {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create key directory: %w", err)
	}
	if err := util.AtomicWriteFile(f.path, key, 0600); err != nil {
		return fmt.Errorf("write key file: %w", err)
	}
	return nil
}

func (f *FileKeyStore) Retrieve() ([]byte, error) {
	key, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	return key, nil
}

func (f *FileKeyStore) Delete() error {
	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete key file: %w", err)
	}
	return nil
}

func (f *FileKeyStore) Exists() bool {
	_, err := os.Stat(f.path)
	return err == nil
}

// defaultKeyStorePath returns the default path for the master key file.
func defaultKeyStorePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".driftline", "master.key")
	}
	return filepath.Join(home, ".driftline", "master.key")
}
