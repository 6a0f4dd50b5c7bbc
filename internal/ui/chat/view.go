// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"strings"

	"github.com/charmbracelet/glamour"

	"github.com/jeranaias/kbchat-tui/internal/model"
	"github.com/jeranaias/kbchat-tui/internal/ui/components"
)

// =============================================================================
// LAYOUT
// =============================================================================

// applySize recomputes the layout after a terminal resize.
func (m *Model) applySize(width, height int) {
	m.width = width
	m.height = height
	m.theme.Resize(width, height)

	// Header, spinner line, input box, and status bar surround the viewport.
	const reserved = 6
	vpHeight := height - reserved
	if vpHeight < 1 {
		vpHeight = 1
	}
	m.viewport.Width = width
	m.viewport.Height = vpHeight

	m.input.Width = width - 6

	m.rebuildMarkdown()
	m.ready = true
	m.refreshTranscript()
}

// rebuildMarkdown recreates the glamour renderer for the current width.
// Markdown rendering is optional; when disabled or unavailable, fenced code
// blocks are still highlighted directly.
func (m *Model) rebuildMarkdown() {
	m.markdown = nil
	if !m.cfg.UI.Markdown {
		return
	}
	wrap := m.contentWidth() - 2
	if wrap < 20 {
		wrap = 20
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(wrap),
	)
	if err == nil {
		m.markdown = r
	}
}

// contentWidth is the width available to a message bubble.
func (m *Model) contentWidth() int {
	w := m.width - 2
	if w < 20 {
		w = 20
	}
	return w
}

// =============================================================================
// TRANSCRIPT RENDERING
// =============================================================================

// refreshTranscript re-renders the transcript snapshot into the viewport and
// pins the view to the newest message.
func (m *Model) refreshTranscript() {
	m.transcriptDirty = false
	if !m.ready {
		return
	}
	m.viewport.SetContent(m.renderTranscript())
	m.viewport.GotoBottom()
}

// renderTranscript renders every message of the current snapshot.
func (m *Model) renderTranscript() string {
	msgs := m.controller.Transcript().Messages()
	if len(msgs) == 0 {
		return components.RenderNotice(m.theme, m.contentWidth(), m.cfg.Chat.WelcomeMessage)
	}

	parts := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		parts = append(parts, m.renderMessage(msg))
	}
	return strings.Join(parts, "\n\n")
}

// renderMessage renders one message bubble. The idle welcome placeholder is
// shown with the configured greeting; finished assistant answers get markdown
// or code-block treatment.
func (m *Model) renderMessage(msg model.Message) string {
	if msg.IsOpen() && !msg.HasContent() && !m.controller.IsStreaming() {
		msg.Content = m.cfg.Chat.WelcomeMessage
		msg.IsStreaming = false
	}

	if msg.Role == model.RoleAssistant && !msg.IsStreaming && msg.HasContent() {
		msg.Content = m.renderBody(msg.Content)
	}

	bubble := components.NewMessageBubble(msg, m.theme)
	bubble.SetWidth(m.contentWidth())
	return bubble.View()
}

// renderBody formats a finished assistant answer for display.
func (m *Model) renderBody(content string) string {
	if m.markdown != nil {
		if out, err := m.markdown.Render(content); err == nil {
			return strings.TrimRight(out, "\n")
		}
	}
	return components.ParseCodeBlocks(content, m.contentWidth(), m.cfg.UI.SyntaxStyle)
}

// =============================================================================
// VIEW
// =============================================================================

// View implements tea.Model.
func (m *Model) View() string {
	if !m.ready {
		return "加载中..."
	}

	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteString("\n")
	b.WriteString(m.viewport.View())
	b.WriteString("\n")

	if sp := m.spinner.View(); sp != "" {
		b.WriteString(sp)
	}
	b.WriteString("\n")

	b.WriteString(m.theme.InputContainer.Width(m.contentWidth()).Render(m.input.View()))
	b.WriteString("\n")

	if toasts := m.toasts.View(); toasts != "" {
		b.WriteString(toasts)
		b.WriteString("\n")
	}

	b.WriteString(m.renderStatusBar())
	return b.String()
}

// renderHeader renders the title line.
func (m *Model) renderHeader() string {
	title := "知识库助手"
	if m.conversationTitle != "" {
		title += " · " + m.conversationTitle
	}
	if m.deepThinking {
		title += "  [深度思考]"
	}
	return m.theme.Header.Width(m.width).Render(title)
}

// renderStatusBar renders the shortcut hints.
func (m *Model) renderStatusBar() string {
	hints := []string{
		m.theme.ShortcutKey.Render("enter") + m.theme.ShortcutDesc.Render(" 发送"),
		m.theme.ShortcutKey.Render("esc") + m.theme.ShortcutDesc.Render(" 停止回复"),
		m.theme.ShortcutKey.Render("ctrl+d") + m.theme.ShortcutDesc.Render(" 深度思考"),
		m.theme.ShortcutKey.Render("ctrl+n") + m.theme.ShortcutDesc.Render(" 新会话"),
		m.theme.ShortcutKey.Render("ctrl+c") + m.theme.ShortcutDesc.Render(" 退出"),
	}
	return m.theme.StatusBar.Width(m.width).Render(strings.Join(hints, "  "))
}
