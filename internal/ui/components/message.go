// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package components

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/kbchat-tui/internal/model"
	"github.com/jeranaias/kbchat-tui/internal/ui/styles"
)

// =============================================================================
// MESSAGE BUBBLE COMPONENT
// =============================================================================

// MessageBubble renders one transcript message as a styled bubble: user
// messages right-aligned in blue, assistant replies left-aligned in purple
// with a citation footer.
type MessageBubble struct {
	Message       model.Message
	Width         int
	ShowTimestamp bool
	theme         *styles.Theme
}

// NewMessageBubble creates a bubble for msg.
func NewMessageBubble(msg model.Message, theme *styles.Theme) *MessageBubble {
	return &MessageBubble{
		Message:       msg,
		Width:         80,
		ShowTimestamp: true,
		theme:         theme,
	}
}

// SetWidth sets the total render width.
func (b *MessageBubble) SetWidth(width int) {
	b.Width = width
}

// View renders the message bubble.
func (b *MessageBubble) View() string {
	if b.Message.Role == model.RoleUser {
		return b.renderUserBubble()
	}
	return b.renderAssistantBubble()
}

// ==========================================================================
// USER BUBBLE - Blue tones, right-aligned
// ==========================================================================

func (b *MessageBubble) renderUserBubble() string {
	content := b.Message.Content
	if content == "" {
		content = "..."
	}

	maxContentWidth := b.Width - 12
	if maxContentWidth < 20 {
		maxContentWidth = 20
	}
	wrapped := wordWrap(content, maxContentWidth)
	contentWidth := minInt(maxLineWidth(wrapped)+4, b.Width-8)

	bubble := b.theme.UserBubble.Width(contentWidth).Render(wrapped)

	header := b.renderHeader(strings.ToLower(b.Message.Role.DisplayName()))

	leftMargin := b.Width - contentWidth - 4
	if leftMargin < 0 {
		leftMargin = 0
	}
	marginStyle := lipgloss.NewStyle().MarginLeft(leftMargin)

	return lipgloss.JoinVertical(lipgloss.Right,
		marginStyle.Render(header),
		marginStyle.Render(bubble),
	)
}

// ==========================================================================
// ASSISTANT BUBBLE - Purple tones, left-aligned, citation footer
// ==========================================================================

func (b *MessageBubble) renderAssistantBubble() string {
	content := b.Message.Content
	if b.Message.IsStreaming {
		content += "▍"
	}
	if content == "" {
		content = "..."
	}

	maxContentWidth := b.Width - 12
	if maxContentWidth < 20 {
		maxContentWidth = 20
	}
	wrapped := wordWrap(content, maxContentWidth)
	contentWidth := minInt(maxLineWidth(wrapped)+4, b.Width-8)

	bubble := b.theme.AssistantBubble.Width(contentWidth).Render(wrapped)

	header := b.renderHeader(strings.ToLower(b.Message.Role.DisplayName()))

	result := lipgloss.JoinVertical(lipgloss.Left, header, bubble)
	if footer := b.renderCitations(); footer != "" {
		result = lipgloss.JoinVertical(lipgloss.Left, result, footer)
	}
	return result
}

// renderCitations renders the source citation footer under a completed
// assistant reply.
func (b *MessageBubble) renderCitations() string {
	if b.Message.IsStreaming || len(b.Message.Sources) == 0 {
		return ""
	}

	parts := make([]string, 0, len(b.Message.Sources))
	for _, c := range b.Message.Sources {
		parts = append(parts, c.FileName+" (p."+c.Page+")")
	}
	return b.theme.CitationFooter.Render("来源: " + strings.Join(parts, ", "))
}

func (b *MessageBubble) renderHeader(role string) string {
	roleStyle := lipgloss.NewStyle().
		Foreground(styles.TextMuted).
		Italic(true)
	header := roleStyle.Render(role)

	if b.ShowTimestamp && !b.Message.Timestamp.IsZero() {
		header += " " + b.theme.MessageTime.Render(b.Message.Timestamp.Format("15:04"))
	}
	return header
}

// =============================================================================
// SYSTEM NOTICE
// =============================================================================

// RenderNotice renders a centered amber notice line (timeout notices, hints).
func RenderNotice(theme *styles.Theme, width int, text string) string {
	bubble := theme.SystemBubble.Render(text)
	return lipgloss.NewStyle().Width(width).Align(lipgloss.Center).Render(bubble)
}
