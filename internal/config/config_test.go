// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// =============================================================================
// DEFAULTS AND VALIDATION TESTS
// =============================================================================

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Errorf("defaults must validate: %v", err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Default()
	cfg.Server.BaseURL = "not a url"
	cfg.Server.TimeoutSecs = 0
	cfg.UI.Theme = "neon"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation errors")
	}
	errs, ok := err.(ValidateErrors)
	if !ok {
		t.Fatalf("expected ValidateErrors, got %T", err)
	}
	if len(errs) != 3 {
		t.Errorf("expected 3 errors, got %d: %v", len(errs), errs)
	}
}

func TestValidateWSURL(t *testing.T) {
	cfg := Default()
	cfg.Server.WSURL = "http://wrong-scheme"
	if cfg.Validate() == nil {
		t.Error("http scheme should be rejected for ws_url")
	}
	cfg.Server.WSURL = "wss://host/ws/documents"
	if err := cfg.Validate(); err != nil {
		t.Errorf("wss URL rejected: %v", err)
	}
}

// =============================================================================
// LOAD / SAVE TESTS
// =============================================================================

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg := Default()
	cfg.Server.BaseURL = "https://kb.example.com/api"
	cfg.Chat.DeepThinking = true
	cfg.UI.Theme = "dark"

	if err := SaveTo(cfg, path); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	got, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if got.Server.BaseURL != "https://kb.example.com/api" {
		t.Errorf("base url lost: %q", got.Server.BaseURL)
	}
	if !got.Chat.DeepThinking || got.UI.Theme != "dark" {
		t.Errorf("fields lost: %+v", got)
	}

	info, _ := os.Stat(path)
	if info.Mode().Perm() != 0600 {
		t.Errorf("config file should be owner-only, got %v", info.Mode().Perm())
	}
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := "[server]\nbase_url = \"http://10.0.0.5:8080/api\"\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	got, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if got.Server.BaseURL != "http://10.0.0.5:8080/api" {
		t.Errorf("override lost: %q", got.Server.BaseURL)
	}
	if got.Server.TimeoutSecs != 30 {
		t.Errorf("default timeout lost: %d", got.Server.TimeoutSecs)
	}
	if !got.UI.Markdown {
		t.Error("default markdown setting lost")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("KBCHAT_BASE_URL", "http://env-host/api")
	t.Setenv("KBCHAT_DEBUG", "true")
	t.Setenv("KBCHAT_THEME", "light")

	cfg := Default()
	cfg.ApplyEnvOverrides()

	if cfg.Server.BaseURL != "http://env-host/api" {
		t.Errorf("base url override missed: %q", cfg.Server.BaseURL)
	}
	if !cfg.Logging.Debug {
		t.Error("debug override missed")
	}
	if cfg.UI.Theme != "light" {
		t.Errorf("theme override missed: %q", cfg.UI.Theme)
	}
}

// =============================================================================
// DERIVED VALUE TESTS
// =============================================================================

func TestProgressURLDerivation(t *testing.T) {
	cfg := Default()
	cfg.Server.BaseURL = "http://localhost:8080/api"
	if got := cfg.ProgressURL(); got != "ws://localhost:8080/ws/documents" {
		t.Errorf("derived ws url wrong: %q", got)
	}

	cfg.Server.BaseURL = "https://kb.example.com/api"
	if got := cfg.ProgressURL(); got != "wss://kb.example.com/ws/documents" {
		t.Errorf("derived wss url wrong: %q", got)
	}

	cfg.Server.WSURL = "wss://other/ws"
	if got := cfg.ProgressURL(); got != "wss://other/ws" {
		t.Errorf("explicit ws url not preferred: %q", got)
	}
}

// =============================================================================
// GLOBAL AND WATCHER TESTS
// =============================================================================

func TestSetGlobal(t *testing.T) {
	ResetGlobalForTesting()
	defer ResetGlobalForTesting()

	cfg := Default()
	cfg.UI.Theme = "dark"
	SetGlobal(cfg)

	if Global().UI.Theme != "dark" {
		t.Error("SetGlobal not visible through Global")
	}
}

func TestWatcherReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := SaveTo(Default(), path); err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	var reloaded *Config
	w, err := NewWatcher(path, func(c *Config) {
		mu.Lock()
		reloaded = c
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("watcher create failed: %v", err)
	}
	w.debounce = 20 * time.Millisecond
	defer w.Close()

	if err := w.Watch(); err != nil {
		t.Fatalf("watch failed: %v", err)
	}

	next := Default()
	next.UI.Theme = "dark"
	if err := SaveTo(next, path); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		done := reloaded != nil
		mu.Unlock()
		if done {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if reloaded == nil {
		t.Fatal("reload callback never fired")
	}
	if reloaded.UI.Theme != "dark" {
		t.Errorf("reloaded config stale: %q", reloaded.UI.Theme)
	}
}

func TestWatcherIgnoresInvalidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := SaveTo(Default(), path); err != nil {
		t.Fatal(err)
	}

	fired := make(chan struct{}, 1)
	w, err := NewWatcher(path, func(*Config) { fired <- struct{}{} })
	if err != nil {
		t.Fatal(err)
	}
	w.debounce = 20 * time.Millisecond
	defer w.Close()
	if err := w.Watch(); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(path, []byte("this is { not toml"), 0600); err != nil {
		t.Fatal(err)
	}

	select {
	case <-fired:
		t.Error("invalid file must not trigger a reload")
	case <-time.After(300 * time.Millisecond):
	}
}
