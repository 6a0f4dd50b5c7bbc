// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/jeranaias/kbchat-tui/internal/model"
)

func openTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("failed to open cache: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestSaveLoadTranscript(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()

	msgs := []model.Message{
		{ID: "u1", Role: model.RoleUser, Content: "年假政策是什么？", Timestamp: time.Now()},
		{ID: "a1", Role: model.RoleAssistant, Content: "年假为15天。", Timestamp: time.Now(),
			Sources: []model.SourceCitation{{FileName: "员工手册.pdf", Page: "3"}}},
	}
	if err := c.SaveTranscript(ctx, 42, "HR questions", msgs); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	got, err := c.LoadTranscript(ctx, 42)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(got))
	}
	if got[0].Role != model.RoleUser || got[0].Content != "年假政策是什么？" {
		t.Errorf("user message wrong: %+v", got[0])
	}
	if got[1].Content != "年假为15天。" {
		t.Errorf("assistant message wrong: %+v", got[1])
	}
	if len(got[1].Sources) != 1 || got[1].Sources[0].FileName != "员工手册.pdf" {
		t.Errorf("sources lost: %+v", got[1].Sources)
	}
}

func TestSaveSkipsOpenMessages(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()

	msgs := []model.Message{
		{ID: "u1", Role: model.RoleUser, Content: "hi", Timestamp: time.Now()},
		{ID: "a1", Role: model.RoleAssistant, Content: "partial", IsStreaming: true, Timestamp: time.Now()},
	}
	if err := c.SaveTranscript(ctx, 1, "t", msgs); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	got, err := c.LoadTranscript(ctx, 1)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != "u1" {
		t.Errorf("open message should not be cached: %+v", got)
	}
}

func TestSaveReplacesPrevious(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()

	first := []model.Message{{ID: "a", Role: model.RoleUser, Content: "one", Timestamp: time.Now()}}
	if err := c.SaveTranscript(ctx, 1, "old title", first); err != nil {
		t.Fatal(err)
	}

	second := []model.Message{
		{ID: "a", Role: model.RoleUser, Content: "one", Timestamp: time.Now()},
		{ID: "b", Role: model.RoleAssistant, Content: "two", Timestamp: time.Now()},
	}
	if err := c.SaveTranscript(ctx, 1, "new title", second); err != nil {
		t.Fatal(err)
	}

	got, err := c.LoadTranscript(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Errorf("expected replacement, got %d messages", len(got))
	}

	convs, err := c.ListConversations(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(convs) != 1 || convs[0].Title != "new title" {
		t.Errorf("conversation row not updated: %+v", convs)
	}
}

func TestLoadMissingConversation(t *testing.T) {
	c := openTestCache(t)
	if _, err := c.LoadTranscript(context.Background(), 999); !errors.Is(err, ErrNotCached) {
		t.Errorf("expected ErrNotCached, got %v", err)
	}
}

func TestDeleteConversation(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()

	msgs := []model.Message{{ID: "a", Role: model.RoleUser, Content: "x", Timestamp: time.Now()}}
	if err := c.SaveTranscript(ctx, 7, "t", msgs); err != nil {
		t.Fatal(err)
	}
	if err := c.DeleteConversation(ctx, 7); err != nil {
		t.Fatal(err)
	}
	if _, err := c.LoadTranscript(ctx, 7); !errors.Is(err, ErrNotCached) {
		t.Errorf("expected ErrNotCached after delete, got %v", err)
	}
	// Deleting a missing conversation is not an error.
	if err := c.DeleteConversation(ctx, 7); err != nil {
		t.Errorf("second delete errored: %v", err)
	}
}
