// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides the local transcript cache, so recently viewed
// conversations re-open instantly and survive offline starts.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/jeranaias/kbchat-tui/internal/model"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrNotCached indicates no transcript is cached for the conversation.
	ErrNotCached = errors.New("conversation not cached")
)

// =============================================================================
// SCHEMA
// =============================================================================

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
	id        INTEGER PRIMARY KEY,
	title     TEXT NOT NULL DEFAULT '',
	cached_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	conversation_id INTEGER NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
	position        INTEGER NOT NULL,
	id              TEXT NOT NULL,
	role            TEXT NOT NULL,
	content         TEXT NOT NULL,
	sources         TEXT NOT NULL DEFAULT '[]',
	created_at      TIMESTAMP NOT NULL,
	PRIMARY KEY (conversation_id, position)
);
`

// =============================================================================
// CACHE
// =============================================================================

// CachedConversation is one row of the local conversation listing.
type CachedConversation struct {
	ID       int64
	Title    string
	CachedAt time.Time
}

// Cache is the SQLite-backed transcript cache. Safe for concurrent use;
// the connection pool is limited to one writer as SQLite requires.
type Cache struct {
	db *sql.DB
}

// Open opens (creating if needed) the cache database at path.
func Open(path string) (*Cache, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}

	// SQLite supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Cache{db: db}, nil
}

// Close releases the database handle.
func (c *Cache) Close() error {
	return c.db.Close()
}

// SaveTranscript replaces the cached transcript for one conversation.
// Open (still-streaming) messages are skipped; only finalized turns are
// worth persisting.
func (c *Cache) SaveTranscript(ctx context.Context, conversationID int64, title string, msgs []model.Message) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO conversations (id, title, cached_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET title = excluded.title, cached_at = excluded.cached_at`,
		conversationID, title, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to upsert conversation: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM messages WHERE conversation_id = ?", conversationID); err != nil {
		return fmt.Errorf("failed to clear old messages: %w", err)
	}

	pos := 0
	for _, msg := range msgs {
		if msg.IsStreaming {
			continue
		}
		sources, err := json.Marshal(msg.Sources)
		if err != nil {
			return fmt.Errorf("failed to encode sources: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO messages (conversation_id, position, id, role, content, sources, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			conversationID, pos, msg.ID, string(msg.Role), msg.Content, string(sources), msg.Timestamp.UTC()); err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}
		pos++
	}

	return tx.Commit()
}

// LoadTranscript returns the cached transcript for a conversation in
// original order. Returns ErrNotCached when nothing is stored.
func (c *Cache) LoadTranscript(ctx context.Context, conversationID int64) ([]model.Message, error) {
	var exists int
	err := c.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM conversations WHERE id = ?", conversationID).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversation: %w", err)
	}
	if exists == 0 {
		return nil, ErrNotCached
	}

	rows, err := c.db.QueryContext(ctx,
		`SELECT id, role, content, sources, created_at FROM messages
		 WHERE conversation_id = ? ORDER BY position`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var msgs []model.Message
	for rows.Next() {
		var (
			msg     model.Message
			role    string
			sources string
		)
		if err := rows.Scan(&msg.ID, &role, &msg.Content, &sources, &msg.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msg.Role = model.Role(role)
		if err := json.Unmarshal([]byte(sources), &msg.Sources); err != nil {
			// Tolerate a corrupt sources column; the text still renders.
			msg.Sources = nil
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read messages: %w", err)
	}
	return msgs, nil
}

// ListConversations returns cached conversations, most recently cached
// first.
func (c *Cache) ListConversations(ctx context.Context) ([]CachedConversation, error) {
	rows, err := c.db.QueryContext(ctx,
		"SELECT id, title, cached_at FROM conversations ORDER BY cached_at DESC")
	if err != nil {
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	defer rows.Close()

	var out []CachedConversation
	for rows.Next() {
		var conv CachedConversation
		if err := rows.Scan(&conv.ID, &conv.Title, &conv.CachedAt); err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		out = append(out, conv)
	}
	return out, rows.Err()
}

// DeleteConversation removes a cached conversation and its messages.
func (c *Cache) DeleteConversation(ctx context.Context, conversationID int64) error {
	if _, err := c.db.ExecContext(ctx,
		"DELETE FROM conversations WHERE id = ?", conversationID); err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	return nil
}
