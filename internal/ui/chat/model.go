// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"

	"github.com/jeranaias/kbchat-tui/internal/api"
	"github.com/jeranaias/kbchat-tui/internal/config"
	"github.com/jeranaias/kbchat-tui/internal/model"
	"github.com/jeranaias/kbchat-tui/internal/session"
	"github.com/jeranaias/kbchat-tui/internal/storage"
	"github.com/jeranaias/kbchat-tui/internal/ui/components"
	"github.com/jeranaias/kbchat-tui/internal/ui/styles"
	"github.com/jeranaias/kbchat-tui/internal/util"
)

// maxTitleRunes caps the auto-derived conversation title length.
const maxTitleRunes = 20

// requestTimeout bounds the non-streaming REST calls issued by the view.
const requestTimeout = 15 * time.Second

// =============================================================================
// MODEL
// =============================================================================

// Model is the Bubble Tea model for the streaming chat view.
//
// The session controller owns the transcript and mutates it from its consumer
// goroutine; this model only ever reads snapshots. Controller events are
// forwarded into the update loop through the events channel.
type Model struct {
	client     *api.Client
	controller *session.Controller
	cache      *storage.Cache
	cfg        *config.Config
	theme      *styles.Theme

	viewport viewport.Model
	input    textinput.Model
	spinner  components.Spinner
	toasts   *components.ToastManager

	events chan session.Event

	conversationID    int64
	conversationTitle string
	deepThinking      bool

	// pending holds the message text while the first send waits for the
	// conversation to be created server-side.
	pending string

	markdown *glamour.TermRenderer

	width  int
	height int
	ready  bool

	// transcriptDirty marks deltas that arrived since the last render frame.
	transcriptDirty bool
}

// New creates the chat view. cache may be nil when offline caching is
// disabled. conversationID selects an existing conversation to resume; pass 0
// to start fresh.
func New(client *api.Client, cache *storage.Cache, cfg *config.Config, theme *styles.Theme, conversationID int64) *Model {
	ti := textinput.New()
	ti.Placeholder = "输入消息，回车发送"
	ti.Prompt = "> "
	ti.PromptStyle = theme.InputPrompt
	ti.PlaceholderStyle = theme.InputPlaceholder
	ti.Focus()

	m := &Model{
		client:         client,
		cache:          cache,
		cfg:            cfg,
		theme:          theme,
		viewport:       viewport.New(80, 20),
		input:          ti,
		spinner:        components.NewSpinner(theme),
		toasts:         components.NewToastManager(theme),
		events:         make(chan session.Event, 64),
		conversationID: conversationID,
		deepThinking:   cfg.Chat.DeepThinking,
	}

	transcript := model.NewTranscript()
	if conversationID == 0 {
		// A fresh conversation opens with the welcome placeholder; the first
		// send adopts it instead of appending a second assistant message.
		transcript.Replace([]model.Message{model.NewAssistantPlaceholder()})
	}

	m.controller = session.NewController(client, transcript, func(ev session.Event) {
		m.events <- ev
	})
	return m
}

// Controller exposes the session controller, mainly for the program shutdown
// path to cancel an in-flight stream.
func (m *Model) Controller() *session.Controller {
	return m.controller
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	cmds := []tea.Cmd{textinput.Blink, waitForSessionEvent(m.events)}
	if m.conversationID != 0 {
		cmds = append(cmds, m.loadHistoryCmd(m.conversationID))
	}
	return tea.Batch(cmds...)
}

// =============================================================================
// UPDATE
// =============================================================================

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.applySize(msg.Width, msg.Height)

	case tea.KeyMsg:
		cmd := m.handleKey(msg)
		if cmd != nil {
			cmds = append(cmds, cmd)
		}

	case SessionEventMsg:
		cmds = append(cmds, m.handleSessionEvent(session.Event(msg))...)

	case SendStartedMsg:
		m.refreshTranscript()
		cmds = append(cmds, m.spinner.Start("思考中"), renderTickCmd())

	case SendFailedMsg:
		m.spinner.Stop()
		m.refreshTranscript()

	case RenderTickMsg:
		if m.controller.IsStreaming() {
			if m.transcriptDirty {
				m.refreshTranscript()
			}
			cmds = append(cmds, renderTickCmd())
		}

	case ConversationReadyMsg:
		cmds = append(cmds, m.handleConversationReady(msg)...)

	case HistoryLoadedMsg:
		m.handleHistoryLoaded(msg)

	case CacheSavedMsg:
		if msg.Err != nil {
			m.toasts.AddError("离线缓存写入失败")
		}
	}

	if cmd := m.spinner.Update(msg); cmd != nil {
		cmds = append(cmds, cmd)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	if cmd != nil {
		cmds = append(cmds, cmd)
	}
	m.viewport, cmd = m.viewport.Update(msg)
	if cmd != nil {
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

// handleKey processes key presses that are not plain text input.
func (m *Model) handleKey(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "ctrl+c":
		m.controller.Cancel()
		return tea.Quit

	case "esc":
		// Abort the in-flight reply; accumulated content stays.
		m.controller.Cancel()
		return nil

	case "enter":
		return m.submit()

	case "ctrl+d":
		m.deepThinking = !m.deepThinking
		if m.deepThinking {
			m.toasts.AddInfo("深度思考已开启")
		} else {
			m.toasts.AddInfo("深度思考已关闭")
		}
		return nil

	case "ctrl+n":
		return m.startNewConversation()
	}
	return nil
}

// handleSessionEvent applies one controller event to the view.
func (m *Model) handleSessionEvent(ev session.Event) []tea.Cmd {
	cmds := []tea.Cmd{waitForSessionEvent(m.events)}

	switch ev.Kind {
	case session.EventDelta, session.EventSources:
		// Rendering is paced by RenderTickMsg while streaming.
		m.transcriptDirty = true

	case session.EventCompleted:
		m.spinner.Stop()
		m.refreshTranscript()
		if cmd := m.saveCacheCmd(); cmd != nil {
			cmds = append(cmds, cmd)
		}

	case session.EventSlow:
		m.spinner.Stop()
		m.refreshTranscript()
		m.toasts.AddInfo("服务器处理时间较长")

	case session.EventFailed:
		m.spinner.Stop()
		m.refreshTranscript()
		if ev.Err != nil {
			m.toasts.AddError("请求失败: " + ev.Err.Error())
		}

	case session.EventCancelled:
		m.spinner.Stop()
		m.refreshTranscript()
	}

	return cmds
}

// handleConversationReady finishes the deferred first send once the
// conversation exists.
func (m *Model) handleConversationReady(msg ConversationReadyMsg) []tea.Cmd {
	if msg.Err != nil {
		m.pending = ""
		m.toasts.AddError("创建会话失败: " + msg.Err.Error())
		return nil
	}

	m.conversationID = msg.ID
	m.conversationTitle = msg.Title

	if m.pending == "" {
		return nil
	}
	text := m.pending
	m.pending = ""
	return []tea.Cmd{m.sendCmd(text)}
}

// handleHistoryLoaded swaps in a loaded conversation history.
func (m *Model) handleHistoryLoaded(msg HistoryLoadedMsg) {
	if msg.Err != nil && len(msg.Messages) == 0 {
		m.toasts.AddError("加载会话失败: " + msg.Err.Error())
		return
	}
	m.conversationID = msg.ID
	m.conversationTitle = msg.Title
	m.controller.Transcript().Replace(msg.Messages)
	if msg.FromCache {
		m.toasts.AddInfo("已加载离线缓存")
	}
	m.refreshTranscript()
}

// =============================================================================
// SEND FLOW
// =============================================================================

// submit validates the input line and starts the exchange. The first send of
// a fresh session creates the conversation before streaming.
func (m *Model) submit() tea.Cmd {
	text := strings.TrimSpace(m.input.Value())
	if err := session.ValidateMessage(text); err != nil {
		m.toasts.AddError("请输入有效的问题")
		return nil
	}
	if m.controller.IsStreaming() {
		m.toasts.AddInfo("回复生成中，请稍候")
		return nil
	}

	m.input.Reset()

	if m.conversationID == 0 {
		m.pending = text
		return m.createConversationCmd(deriveTitle(text))
	}
	return m.sendCmd(text)
}

// sendCmd opens the chat stream off the update loop.
func (m *Model) sendCmd(text string) tea.Cmd {
	return func() tea.Msg {
		err := m.controller.SendMessage(context.Background(), m.conversationID, text, session.SendOptions{
			DeepThinking: m.deepThinking,
		})
		if err != nil {
			return SendFailedMsg{Err: err}
		}
		return SendStartedMsg{MessageID: m.controller.Transcript().OpenID()}
	}
}

// startNewConversation resets the view to a fresh session.
func (m *Model) startNewConversation() tea.Cmd {
	if m.controller.IsStreaming() {
		m.toasts.AddInfo("回复生成中，请稍候")
		return nil
	}
	m.conversationID = 0
	m.conversationTitle = ""
	m.pending = ""
	m.controller.Transcript().Replace([]model.Message{model.NewAssistantPlaceholder()})
	m.refreshTranscript()
	return nil
}

// =============================================================================
// COMMANDS
// =============================================================================

// createConversationCmd creates the server-side conversation.
func (m *Model) createConversationCmd(title string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		conv, err := m.client.CreateConversation(ctx, api.ConversationCreateRequest{Title: title})
		if err != nil {
			return ConversationReadyMsg{Err: err}
		}
		return ConversationReadyMsg{ID: conv.ID, Title: conv.Title}
	}
}

// loadHistoryCmd fetches the persisted messages of a conversation, falling
// back to the offline cache when the backend is unreachable.
func (m *Model) loadHistoryCmd(id int64) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		dtos, err := m.client.ConversationMessages(ctx, id)
		if err == nil {
			return HistoryLoadedMsg{ID: id, Messages: mapHistory(dtos)}
		}

		if m.cache != nil {
			if msgs, cacheErr := m.cache.LoadTranscript(ctx, id); cacheErr == nil {
				return HistoryLoadedMsg{ID: id, Messages: msgs, FromCache: true, Err: err}
			}
		}
		return HistoryLoadedMsg{ID: id, Err: err}
	}
}

// saveCacheCmd persists the finished transcript to the offline cache.
func (m *Model) saveCacheCmd() tea.Cmd {
	if m.cache == nil || m.conversationID == 0 {
		return nil
	}
	id := m.conversationID
	title := m.conversationTitle
	msgs := m.controller.Transcript().Messages()
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		return CacheSavedMsg{Err: m.cache.SaveTranscript(ctx, id, title, msgs)}
	}
}

// =============================================================================
// HELPERS
// =============================================================================

// deriveTitle builds a conversation title from the first message.
func deriveTitle(text string) string {
	return util.TruncateRunes(strings.TrimSpace(text), maxTitleRunes)
}

// mapHistory converts persisted history DTOs into transcript messages.
func mapHistory(dtos []api.ChatMessageDto) []model.Message {
	msgs := make([]model.Message, 0, len(dtos))
	for _, d := range dtos {
		role := model.RoleAssistant
		if strings.EqualFold(d.Role, string(model.RoleUser)) {
			role = model.RoleUser
		}
		msg := model.Message{
			ID:      util.Int64ToString(d.ID),
			Role:    role,
			Content: d.Content,
		}
		if ts, err := time.Parse(time.RFC3339, d.CreatedAt); err == nil {
			msg.Timestamp = ts
		}
		msgs = append(msgs, msg)
	}
	return msgs
}
