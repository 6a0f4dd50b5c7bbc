// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package documents provides the document management view: the knowledge
// base listing merged with live ingestion progress.
package documents

import (
	"context"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/kbchat-tui/internal/api"
	"github.com/jeranaias/kbchat-tui/internal/model"
	"github.com/jeranaias/kbchat-tui/internal/ui/components"
	"github.com/jeranaias/kbchat-tui/internal/ui/styles"
	"github.com/jeranaias/kbchat-tui/internal/util"
)

// requestTimeout bounds the REST calls issued by the view.
const requestTimeout = 15 * time.Second

// pollInterval paces re-renders so live progress records show up without a
// push into the Bubble Tea loop.
const pollInterval = time.Second

// ProgressSource supplies live ingestion progress keyed by document id.
// Satisfied by *progress.Channel.
type ProgressSource interface {
	GetProgress(documentID string) (model.DocumentProgressRecord, bool)
	ClearProgress(documentID string)
}

// =============================================================================
// MESSAGES
// =============================================================================

// DocumentsLoadedMsg delivers the document listing.
type DocumentsLoadedMsg struct {
	Docs []api.DocumentDto
	Err  error
}

// DocumentDeletedMsg confirms a delete request.
type DocumentDeletedMsg struct {
	ID  string
	Err error
}

// pollMsg triggers a periodic re-render with fresh progress records.
type pollMsg struct{}

func pollCmd() tea.Cmd {
	return tea.Tick(pollInterval, func(time.Time) tea.Msg {
		return pollMsg{}
	})
}

// =============================================================================
// MODEL
// =============================================================================

// Model is the Bubble Tea model for the document list view.
type Model struct {
	client   *api.Client
	progress ProgressSource
	theme    *styles.Theme

	docs     []api.DocumentDto
	selected int
	loading  bool
	loadErr  error

	width  int
	height int
	ready  bool
}

// New creates the document view. progress may be nil when the live channel
// is unavailable; the listing then shows the last persisted status only.
func New(client *api.Client, progress ProgressSource, theme *styles.Theme) *Model {
	return &Model{
		client:   client,
		progress: progress,
		theme:    theme,
		loading:  true,
	}
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.loadCmd(), pollCmd())
}

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ready = true

	case tea.KeyMsg:
		return m, m.handleKey(msg)

	case DocumentsLoadedMsg:
		m.loading = false
		m.loadErr = msg.Err
		if msg.Err == nil {
			m.docs = msg.Docs
			m.clampSelection()
		}

	case DocumentDeletedMsg:
		if msg.Err == nil {
			m.removeDoc(msg.ID)
			if m.progress != nil {
				m.progress.ClearProgress(msg.ID)
			}
		}

	case pollMsg:
		return m, pollCmd()
	}

	return m, nil
}

func (m *Model) handleKey(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "up", "k":
		if m.selected > 0 {
			m.selected--
		}
	case "down", "j":
		if m.selected < len(m.docs)-1 {
			m.selected++
		}
	case "r":
		m.loading = true
		return m.loadCmd()
	case "d":
		if doc, ok := m.selectedDoc(); ok {
			return m.deleteCmd(doc.ID)
		}
	case "c":
		// Dismiss the live progress record for a finished document.
		if doc, ok := m.selectedDoc(); ok && m.progress != nil {
			m.progress.ClearProgress(doc.ID)
		}
	}
	return nil
}

// =============================================================================
// COMMANDS
// =============================================================================

func (m *Model) loadCmd() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		docs, err := m.client.ListDocuments(ctx)
		return DocumentsLoadedMsg{Docs: docs, Err: err}
	}
}

func (m *Model) deleteCmd(id string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		return DocumentDeletedMsg{ID: id, Err: m.client.DeleteDocument(ctx, id)}
	}
}

// =============================================================================
// STATE HELPERS
// =============================================================================

func (m *Model) selectedDoc() (api.DocumentDto, bool) {
	if m.selected < 0 || m.selected >= len(m.docs) {
		return api.DocumentDto{}, false
	}
	return m.docs[m.selected], true
}

func (m *Model) removeDoc(id string) {
	for i, d := range m.docs {
		if d.ID == id {
			m.docs = append(m.docs[:i], m.docs[i+1:]...)
			break
		}
	}
	m.clampSelection()
}

func (m *Model) clampSelection() {
	if m.selected >= len(m.docs) {
		m.selected = len(m.docs) - 1
	}
	if m.selected < 0 {
		m.selected = 0
	}
}

// displayRecord merges the persisted listing entry with the live progress
// record. Live records win: they are newer than the listing snapshot.
func (m *Model) displayRecord(doc api.DocumentDto) model.DocumentProgressRecord {
	if m.progress != nil {
		if rec, ok := m.progress.GetProgress(doc.ID); ok {
			return rec
		}
	}
	return model.DocumentProgressRecord{
		DocumentID:   doc.ID,
		Status:       doc.Status,
		Progress:     doc.Progress,
		ErrorMessage: doc.ErrorMessage,
	}
}

// =============================================================================
// VIEW
// =============================================================================

// View implements tea.Model.
func (m *Model) View() string {
	if !m.ready || m.loading {
		return "加载文档列表..."
	}
	if m.loadErr != nil {
		return styles.RenderError("加载失败: " + m.loadErr.Error())
	}
	if len(m.docs) == 0 {
		return m.theme.DocListHeader.Render("知识库文档") + "\n\n暂无文档"
	}

	nameWidth := m.width / 3
	if nameWidth < 16 {
		nameWidth = 16
	}
	barWidth := 20

	var b strings.Builder
	b.WriteString(m.theme.DocListHeader.Width(m.width).Render("知识库文档"))
	b.WriteString("\n")

	bar := components.NewProgressBar(barWidth, m.theme)
	for i, doc := range m.docs {
		rec := m.displayRecord(doc)

		row := util.TruncateWidth(doc.Name, nameWidth) + "  " + bar.Render(rec)
		if rec.Status == model.StatusFailed && rec.ErrorMessage != "" {
			row += "  " + m.theme.StatusFailed.Render(rec.ErrorMessage)
		}

		style := m.theme.DocRow
		prefix := "  "
		if i == m.selected {
			style = m.theme.DocRowSelected
			prefix = "> "
		}
		b.WriteString(style.Render(prefix + row))
		b.WriteString("\n")
	}

	hints := []string{
		m.theme.ShortcutKey.Render("r") + m.theme.ShortcutDesc.Render(" 刷新"),
		m.theme.ShortcutKey.Render("d") + m.theme.ShortcutDesc.Render(" 删除"),
		m.theme.ShortcutKey.Render("c") + m.theme.ShortcutDesc.Render(" 清除进度"),
	}
	b.WriteString("\n")
	b.WriteString(m.theme.StatusBar.Width(m.width).Render(strings.Join(hints, "  ")))
	return b.String()
}
