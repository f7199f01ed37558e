// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

//go:build windows
// +build windows

package vault

import (
	"fmt"
	"os"
	"path/filepath"
	"unsafe"

	"golang.org/x/sys/windows"
)

// WindowsKeyStore binds the master key to the current Windows login via
// DPAPI before it ever touches disk: no password of its own, no
// plaintext key file, and nothing to rotate if the user's password
// changes (DPAPI tracks that internally).
type WindowsKeyStore struct {
	path string
}

// NewKeyStore returns the platform key store for Windows.
func NewKeyStore() KeyStore {
	return &WindowsKeyStore{path: defaultKeyStorePath()}
}

func (w *WindowsKeyStore) Store(key []byte) error {
	sealed, err := dpapiSeal(key)
	if err != nil {
		return fmt.Errorf("dpapi seal: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(w.path), 0700); err != nil {
		return fmt.Errorf("create key directory: %w", err)
	}
	if err := os.WriteFile(w.path, sealed, 0600); err != nil {
		return fmt.Errorf("write key file: %w", err)
	}
	return nil
}

func (w *WindowsKeyStore) Retrieve() ([]byte, error) {
	sealed, err := os.ReadFile(w.path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	key, err := dpapiOpen(sealed)
	if err != nil {
		return nil, fmt.Errorf("dpapi open: %w", err)
	}
	return key, nil
}

func (w *WindowsKeyStore) Delete() error {
	if err := os.Remove(w.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete key file: %w", err)
	}
	return nil
}

func (w *WindowsKeyStore) Exists() bool {
	_, err := os.Stat(w.path)
	return err == nil
}

// cryptBlob mirrors the Win32 DATA_BLOB layout expected by the
// CryptProtectData / CryptUnprotectData calling convention.
type cryptBlob struct {
	size uint32
	data *byte
}

var (
	modCrypt32 = windows.NewLazySystemDLL("crypt32.dll")
	modKernel  = windows.NewLazySystemDLL("kernel32.dll")

	procSeal = modCrypt32.NewProc("CryptProtectData")
	procOpen = modCrypt32.NewProc("CryptUnprotectData")
	procFree = modKernel.NewProc("LocalFree")
)

// noUIPrompt tells DPAPI never to raise a credential prompt; this store
// runs headless and would otherwise hang waiting on a dialog nobody can
// answer.
const noUIPrompt = 0x01

func dpapiCall(proc *windows.LazyProc, in []byte) ([]byte, error) {
	if len(in) == 0 {
		return nil, fmt.Errorf("empty input")
	}

	inBlob := cryptBlob{size: uint32(len(in)), data: &in[0]}
	var outBlob cryptBlob

	ret, _, callErr := proc.Call(
		uintptr(unsafe.Pointer(&inBlob)),
		0, 0, 0, 0,
		noUIPrompt,
		uintptr(unsafe.Pointer(&outBlob)),
	)
	if ret == 0 {
		return nil, callErr
	}
	defer procFree.Call(uintptr(unsafe.Pointer(outBlob.data)))

	out := make([]byte, outBlob.size)
	copy(out, unsafe.Slice(outBlob.data, outBlob.size))
	return out, nil
}

func dpapiSeal(plaintext []byte) ([]byte, error) {
	return dpapiCall(procSeal, plaintext)
}

func dpapiOpen(sealed []byte) ([]byte, error) {
	return dpapiCall(procOpen, sealed)
}
