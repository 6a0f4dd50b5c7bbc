// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat provides the streaming chat view for the TUI.
//
// This file defines the Bubble Tea message types used by the chat view.
// Stream progress arrives out-of-band from the session controller's consumer
// goroutine; the program forwards it into the update loop as SessionEventMsg.
package chat

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/kbchat-tui/internal/model"
	"github.com/jeranaias/kbchat-tui/internal/session"
)

// =============================================================================
// STREAMING MESSAGES
// =============================================================================

// SessionEventMsg wraps a controller event for the update loop.
type SessionEventMsg session.Event

// SendStartedMsg signals that the stream opened and deltas are on the way.
type SendStartedMsg struct {
	MessageID string
}

// SendFailedMsg signals that the stream could not be opened. The transcript
// already carries the inline error message.
type SendFailedMsg struct {
	Err error
}

// RenderTickMsg paces transcript re-renders during streaming so a fast token
// stream cannot force a redraw per delta.
type RenderTickMsg struct {
	Time time.Time
}

// =============================================================================
// CONVERSATION MESSAGES
// =============================================================================

// ConversationReadyMsg confirms that a server-side conversation exists and
// carries its identity.
type ConversationReadyMsg struct {
	ID    int64
	Title string
	Err   error
}

// HistoryLoadedMsg delivers the persisted messages of a conversation. When
// the fetch failed Err is set and Messages may hold an offline cache copy
// instead (FromCache is then true).
type HistoryLoadedMsg struct {
	ID        int64
	Title     string
	Messages  []model.Message
	FromCache bool
	Err       error
}

// CacheSavedMsg confirms a background transcript save. Cache writes are best
// effort; failures are reported but never interrupt the session.
type CacheSavedMsg struct {
	Err error
}

// =============================================================================
// COMMANDS
// =============================================================================

// waitForSessionEvent blocks on the controller event channel and forwards the
// next event into the program. Re-issued after every delivery.
func waitForSessionEvent(events <-chan session.Event) tea.Cmd {
	return func() tea.Msg {
		return SessionEventMsg(<-events)
	}
}

// renderTickCmd schedules the next streaming render frame.
func renderTickCmd() tea.Cmd {
	return tea.Tick(33*time.Millisecond, func(t time.Time) tea.Msg {
		return RenderTickMsg{Time: t}
	})
}
