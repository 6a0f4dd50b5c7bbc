// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"sync"
	"time"
)

// =============================================================================
// TRANSCRIPT
// =============================================================================

// Transcript is the ordered message list for one conversation.
//
// Mutations are copy-on-write: every change builds a fresh message slice and
// swaps it in, so a snapshot handed out by Messages() is never modified
// afterward. Readers on the render loop can therefore hold a snapshot across
// a frame without observing a partially-applied update.
//
// The currently-open assistant message is tracked by id, never by position,
// so display-side filtering or reordering cannot misdirect a delta.
type Transcript struct {
	mu     sync.RWMutex
	msgs   []Message
	openID string
}

// NewTranscript creates an empty transcript.
func NewTranscript() *Transcript {
	return &Transcript{}
}

// Messages returns the current snapshot. The returned slice must not be
// modified by the caller.
func (t *Transcript) Messages() []Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.msgs
}

// Len returns the number of messages.
func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.msgs)
}

// Last returns the most recent message, if any.
func (t *Transcript) Last() (Message, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.msgs) == 0 {
		return Message{}, false
	}
	return t.msgs[len(t.msgs)-1], true
}

// OpenID returns the id of the open assistant message, or "" when no stream
// is in flight.
func (t *Transcript) OpenID() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.openID
}

// Replace swaps the whole transcript, discarding any open message. Used when
// the user switches conversations.
func (t *Transcript) Replace(msgs []Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	next := make([]Message, len(msgs))
	copy(next, msgs)
	t.msgs = next
	t.openID = ""
}

// Clear removes all messages.
func (t *Transcript) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.msgs = nil
	t.openID = ""
}

// =============================================================================
// SEND-SIDE MUTATIONS
// =============================================================================

// AppendUser appends a finalized user message and returns it.
func (t *Transcript) AppendUser(content string) Message {
	msg := NewUserMessage(content)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.msgs = appendCopy(t.msgs, msg)
	return msg
}

// OpenAssistant ensures there is exactly one open assistant placeholder and
// returns its id.
//
// When the last message is already an open, empty assistant message (the
// welcome-message case) it is adopted instead of appending a second
// placeholder.
func (t *Transcript) OpenAssistant() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	if n := len(t.msgs); n > 0 {
		last := t.msgs[n-1]
		if last.IsOpen() && !last.HasContent() {
			t.openID = last.ID
			return last.ID
		}
	}

	msg := NewAssistantPlaceholder()
	t.msgs = appendCopy(t.msgs, msg)
	t.openID = msg.ID
	return msg.ID
}

// BeginExchange appends the user message and ensures an open assistant
// placeholder directly after it, returning the placeholder id. When the
// transcript already ends with an open, empty assistant message (the welcome
// placeholder) that message is reused and moved after the user turn instead
// of appending a second placeholder.
func (t *Transcript) BeginExchange(content string) string {
	user := NewUserMessage(content)

	t.mu.Lock()
	defer t.mu.Unlock()

	n := len(t.msgs)
	if n > 0 {
		last := t.msgs[n-1]
		if last.IsOpen() && !last.HasContent() {
			next := make([]Message, n-1, n+1)
			copy(next, t.msgs[:n-1])
			t.msgs = append(next, user, last)
			t.openID = last.ID
			return last.ID
		}
	}

	placeholder := NewAssistantPlaceholder()
	next := make([]Message, n, n+2)
	copy(next, t.msgs)
	t.msgs = append(next, user, placeholder)
	t.openID = placeholder.ID
	return placeholder.ID
}

// =============================================================================
// STREAM-SIDE MUTATIONS
// =============================================================================

// AppendDelta appends a text fragment to the open assistant message.
// Fragments are concatenated verbatim in arrival order; content is never
// reordered or rewritten. A delta with no open message is dropped.
func (t *Transcript) AppendDelta(delta string) {
	if delta == "" {
		return
	}
	t.mutateOpen(func(m *Message) {
		m.Content += delta
	})
}

// AttachSources replaces the citation list on the open assistant message.
func (t *Transcript) AttachSources(sources []SourceCitation) {
	t.mutateOpen(func(m *Message) {
		m.Sources = sources
	})
}

// HasOpenContent reports whether the open assistant message has accumulated
// any content.
func (t *Transcript) HasOpenContent() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	i := t.openIndexLocked()
	return i >= 0 && t.msgs[i].HasContent()
}

// CloseOpen finalizes the open assistant message with whatever content and
// sources were accumulated. No-op when nothing is open.
func (t *Transcript) CloseOpen() {
	t.mu.Lock()
	defer t.mu.Unlock()
	i := t.openIndexLocked()
	if i < 0 {
		t.openID = ""
		return
	}
	next := make([]Message, len(t.msgs))
	copy(next, t.msgs)
	next[i].IsStreaming = false
	t.msgs = next
	t.openID = ""
}

// FailOpen replaces the open placeholder's content with an error description
// and closes it. Used when a stream fails before any delta arrived.
func (t *Transcript) FailOpen(content string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	i := t.openIndexLocked()
	if i < 0 {
		t.openID = ""
		return
	}
	next := make([]Message, len(t.msgs))
	copy(next, t.msgs)
	next[i].Content = content
	next[i].Sources = nil
	next[i].IsStreaming = false
	next[i].Timestamp = time.Now()
	t.msgs = next
	t.openID = ""
}

// =============================================================================
// INTERNALS
// =============================================================================

// mutateOpen applies fn to a copy of the open assistant message and swaps in
// the new snapshot. No-op when no message is open.
func (t *Transcript) mutateOpen(fn func(*Message)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	i := t.openIndexLocked()
	if i < 0 {
		return
	}
	next := make([]Message, len(t.msgs))
	copy(next, t.msgs)
	fn(&next[i])
	t.msgs = next
}

// openIndexLocked resolves the open message id to an index. Caller must hold
// the lock. Returns -1 when no message is open.
func (t *Transcript) openIndexLocked() int {
	if t.openID == "" {
		return -1
	}
	for i := len(t.msgs) - 1; i >= 0; i-- {
		if t.msgs[i].ID == t.openID {
			return i
		}
	}
	return -1
}

// appendCopy appends to a fresh copy of msgs so earlier snapshots stay valid.
func appendCopy(msgs []Message, msg Message) []Message {
	next := make([]Message, len(msgs), len(msgs)+1)
	copy(next, msgs)
	return append(next, msg)
}
