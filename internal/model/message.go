// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for chat transcripts, source
// citations, and document ingestion progress.
package model

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleAssistant:
		return "Assistant"
	default:
		return string(r)
	}
}

// =============================================================================
// SOURCE CITATIONS
// =============================================================================

// MaxCitations caps the number of citations attached to a single assistant
// message. The backend may send more; only the first unique five are shown.
const MaxCitations = 5

// UnknownSourceName is the sentinel file name used when the backend omits
// source metadata for a citation.
const UnknownSourceName = "未知文档"

// UnknownPageLabel is the placeholder page marker used when the backend
// omits a page location for a citation.
const UnknownPageLabel = "-"

// SourceCitation is a reference to a retrieved document chunk that backs
// part of an assistant answer. Immutable once attached to a message.
type SourceCitation struct {
	FileName string `json:"fileName"`
	Page     string `json:"page"`
}

// DedupCitations removes duplicate (file name, page) pairs, preserving
// first-seen order, and truncates the result to MaxCitations entries.
func DedupCitations(in []SourceCitation) []SourceCitation {
	if len(in) == 0 {
		return nil
	}

	seen := make(map[SourceCitation]bool, len(in))
	out := make([]SourceCitation, 0, len(in))
	for _, c := range in {
		if seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
		if len(out) == MaxCitations {
			break
		}
	}
	return out
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message represents a single turn in a conversation transcript.
//
// Messages are treated as values: the transcript hands out immutable
// snapshots, and every mutation produces a fresh copy. An assistant message
// with IsStreaming set is the single "open" message still receiving deltas;
// all other messages are final.
type Message struct {
	// Identity. Locally generated for messages created by this client,
	// stable for the lifetime of the transcript.
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Timestamp time.Time `json:"timestamp"`

	// Content. Append-only while streaming, frozen once closed.
	Content string `json:"content"`

	// Sources cited by an assistant answer, already de-duplicated and
	// capped. Nil until a sources event arrives.
	Sources []SourceCitation `json:"sources,omitempty"`

	// IsStreaming marks the open assistant message. Never persisted.
	IsStreaming bool `json:"-"`
}

// NewUserMessage creates a finalized user message with a local identity and
// the current timestamp.
func NewUserMessage(content string) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      RoleUser,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// NewAssistantPlaceholder creates an empty, open assistant message to be
// filled incrementally by stream deltas.
func NewAssistantPlaceholder() Message {
	return Message{
		ID:          uuid.NewString(),
		Role:        RoleAssistant,
		Timestamp:   time.Now(),
		IsStreaming: true,
	}
}

// IsOpen reports whether the message is still receiving stream deltas.
func (m Message) IsOpen() bool {
	return m.Role == RoleAssistant && m.IsStreaming
}

// HasContent reports whether any content has accumulated.
func (m Message) HasContent() bool {
	return m.Content != ""
}
