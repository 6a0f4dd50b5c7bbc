// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package auth manages the locally stored session credential and the
// identity claims derived from it.
package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jeranaias/kbchat-tui/internal/util"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrNotLoggedIn indicates no credential is stored.
	ErrNotLoggedIn = errors.New("not logged in")
)

// =============================================================================
// CREDENTIAL
// =============================================================================

// Credential is the persisted login state. The token is the bearer token
// returned by the login endpoint; user fields are kept so the UI can show
// who is signed in without a network round trip.
type Credential struct {
	Token    string    `json:"token"`
	UserID   int64     `json:"userId"`
	Username string    `json:"username"`
	Role     string    `json:"role"`
	SavedAt  time.Time `json:"savedAt"`
}

// =============================================================================
// STORE
// =============================================================================

// Store reads and writes the credential file under the kbchat data
// directory. All methods are safe for concurrent use.
type Store struct {
	mu   sync.RWMutex
	path string

	// cached credential; nil until first load
	cred *Credential
}

// NewStore creates a store rooted at dir. The credential lives in
// dir/credentials.json with owner-only permissions.
func NewStore(dir string) *Store {
	return &Store{path: filepath.Join(dir, "credentials.json")}
}

// DefaultDir returns the kbchat data directory (~/.kbchat).
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, ".kbchat"), nil
}

// Save persists the credential atomically.
func (s *Store) Save(cred Credential) error {
	if cred.SavedAt.IsZero() {
		cred.SavedAt = time.Now()
	}

	data, err := json.MarshalIndent(cred, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal credential: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := util.AtomicWriteFile(s.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write credential file: %w", err)
	}
	s.cred = &cred
	return nil
}

// Load returns the stored credential, reading from disk on first use.
// Returns ErrNotLoggedIn when no credential file exists.
func (s *Store) Load() (Credential, error) {
	s.mu.RLock()
	if s.cred != nil {
		cred := *s.cred
		s.mu.RUnlock()
		return cred, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cred != nil {
		return *s.cred, nil
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Credential{}, ErrNotLoggedIn
		}
		return Credential{}, fmt.Errorf("failed to read credential file: %w", err)
	}

	var cred Credential
	if err := json.Unmarshal(data, &cred); err != nil {
		return Credential{}, fmt.Errorf("failed to parse credential file: %w", err)
	}
	if strings.TrimSpace(cred.Token) == "" {
		return Credential{}, ErrNotLoggedIn
	}

	s.cred = &cred
	return cred, nil
}

// Token returns the stored bearer token, or "" when not logged in.
// Shaped to plug directly into the API client's token source.
func (s *Store) Token() string {
	cred, err := s.Load()
	if err != nil {
		return ""
	}
	return cred.Token
}

// Clear removes the stored credential. Missing file is not an error.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cred = nil
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove credential file: %w", err)
	}
	return nil
}
