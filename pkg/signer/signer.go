// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

// Package signer implements the engine attestation primitive: a keyed,
// deterministic signature over arbitrary tokens. The key is derived once per
// process and never leaves the Signer.
package signer

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"golang.org/x/crypto/hkdf"
)

const (
	// KeySize is the size of the derived signing key.
	KeySize = 32

	// MinMasterSize is the minimum accepted master secret length.
	MinMasterSize = 16

	infoPrefix = "nhook:attest:"
)

var (
	ErrWeakMaster = errors.New("signer: master secret too short")
	ErrWiped      = errors.New("signer: key material wiped")
)

// Signer computes HMAC-SHA256 signatures with a key that is fixed for the
// lifetime of the value.
type Signer struct {
	mu  sync.RWMutex
	key []byte
}

// New derives a signing key from master using HKDF-SHA256. salt binds the key
// to an engine identity and label separates signing domains.
func New(master, salt []byte, label string) (*Signer, error) {
	if len(master) < MinMasterSize {
		return nil, fmt.Errorf("%w: %d bytes, need %d", ErrWeakMaster, len(master), MinMasterSize)
	}

	r := hkdf.New(sha256.New, master, salt, []byte(infoPrefix+label))
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return &Signer{key: key}, nil
}

// NewRandom derives a key from a fresh random master secret, so signatures
// are only reproducible within the current process.
func NewRandom(salt []byte, label string) (*Signer, error) {
	master := make([]byte, KeySize)
	if _, err := rand.Read(master); err != nil {
		return nil, fmt.Errorf("read entropy: %w", err)
	}
	defer wipe(master)
	return New(master, salt, label)
}

// NewFromFile reads the master secret from path. Used when signatures have to
// stay stable across restarts.
func NewFromFile(path string, salt []byte, label string) (*Signer, error) {
	master, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read master secret: %w", err)
	}
	defer wipe(master)
	return New(master, salt, label)
}

// Sign returns the lowercase hex HMAC of token. Runs in O(len(token)).
func (s *Signer) Sign(token string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.key == nil {
		return "", ErrWiped
	}

	mac := hmac.New(sha256.New, s.key)
	io.WriteString(mac, token)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Verify reports whether sig is the signature of token, in constant time.
func (s *Signer) Verify(token, sig string) bool {
	want, err := s.Sign(token)
	if err != nil {
		return false
	}
	return hmac.Equal([]byte(want), []byte(sig))
}

// Wipe zeroes the key. Later Sign calls fail with ErrWiped.
func (s *Signer) Wipe() {
	s.mu.Lock()
	defer s.mu.Unlock()
	wipe(s.key)
	s.key = nil
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
