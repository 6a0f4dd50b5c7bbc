// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the plain-terminal surfaces: the interactive REPL
// chat mode, the one-shot ask command, and the login flow. Used when a full
// TUI is unwanted (pipes, scripts, minimal terminals).
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/peterh/liner"

	"github.com/jeranaias/kbchat-tui/internal/api"
	"github.com/jeranaias/kbchat-tui/internal/config"
	"github.com/jeranaias/kbchat-tui/internal/model"
	"github.com/jeranaias/kbchat-tui/internal/session"
	"github.com/jeranaias/kbchat-tui/internal/ui/styles"
	"github.com/jeranaias/kbchat-tui/internal/util"
)

// =============================================================================
// STYLES
// =============================================================================

var (
	promptStyle = lipgloss.NewStyle().
			Foreground(styles.Cyan).
			Bold(true)

	welcomeStyle = lipgloss.NewStyle().
			Foreground(styles.Purple).
			Bold(true)

	infoStyle = lipgloss.NewStyle().
			Foreground(styles.TextSecondary)

	commandStyle = lipgloss.NewStyle().
			Foreground(styles.Emerald)

	warningStyle = lipgloss.NewStyle().
			Foreground(styles.Amber)

	errorStyle = lipgloss.NewStyle().
			Foreground(styles.Rose).
			Bold(true)

	citationStyle = lipgloss.NewStyle().
			Foreground(styles.TextMuted).
			Italic(true)
)

// =============================================================================
// INPUT HISTORY
// =============================================================================

// ChatCLI provides input history and line editing for the REPL.
type ChatCLI struct {
	line        *liner.State
	historyFile string
}

// NewChatCLI creates a line reader with persistent input history.
func NewChatCLI() *ChatCLI {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	configDir, err := config.ConfigDir()
	if err != nil {
		configDir = os.TempDir()
	}

	c := &ChatCLI{
		line:        line,
		historyFile: filepath.Join(configDir, "chat_history"),
	}
	c.LoadHistory()
	return c
}

// LoadHistory loads input history from file.
func (c *ChatCLI) LoadHistory() {
	if f, err := os.Open(c.historyFile); err == nil {
		c.line.ReadHistory(f)
		f.Close()
	}
}

// ReadInput reads one line with history navigation.
func (c *ChatCLI) ReadInput(prompt string) (string, error) {
	input, err := c.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		c.line.AppendHistory(input)
	}
	return input, nil
}

// SaveHistory persists input history with owner-only permissions.
func (c *ChatCLI) SaveHistory() {
	if err := config.EnsureConfigDir(); err != nil {
		return
	}
	f, err := os.OpenFile(c.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return
	}
	defer f.Close()
	c.line.WriteHistory(f)
}

// Close saves history and releases the terminal.
func (c *ChatCLI) Close() {
	c.SaveHistory()
	c.line.Close()
}

// =============================================================================
// SESSION STATE
// =============================================================================

// Session holds the state of one interactive REPL chat.
type Session struct {
	Client *api.Client
	Config *config.Config
	Input  *ChatCLI

	ConversationID int64
	DeepThinking   bool
	Quiet          bool

	// CancelFunc aborts the in-flight stream. Set while streaming only.
	CancelFunc context.CancelFunc
}

// NewSession creates a REPL session.
func NewSession(client *api.Client, cfg *config.Config, quiet bool) *Session {
	return &Session{
		Client:       client,
		Config:       cfg,
		Input:        NewChatCLI(),
		DeepThinking: cfg.Chat.DeepThinking,
		Quiet:        quiet,
	}
}

// =============================================================================
// REPL LOOP
// =============================================================================

// RunChat runs the interactive REPL until the user exits.
func RunChat(client *api.Client, cfg *config.Config, quiet bool) error {
	s := NewSession(client, cfg, quiet)
	defer s.Input.Close()

	if !s.Quiet {
		printWelcome(s)
	}

	// First Ctrl+C during a stream cancels it; at the prompt liner turns it
	// into ErrPromptAborted.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		for range sigChan {
			if s.CancelFunc != nil {
				s.CancelFunc()
				s.CancelFunc = nil
				fmt.Fprintln(os.Stderr, "\n"+warningStyle.Render("[已取消]"))
			}
		}
	}()

	for {
		input, err := s.Input.ReadInput(promptStyle.Render("kbchat> "))
		if err != nil {
			// Ctrl+C at the prompt, Ctrl+D, or a closed terminal.
			fmt.Println()
			return nil
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			keepGoing, err := s.handleSlashCommand(input)
			if err != nil {
				fmt.Fprintf(os.Stderr, "%s %v\n", errorStyle.Render("[错误]"), err)
			}
			if !keepGoing {
				return nil
			}
			continue
		}

		if strings.EqualFold(input, "exit") || strings.EqualFold(input, "quit") {
			return nil
		}

		if err := s.processMessage(input); err != nil {
			fmt.Fprintf(os.Stderr, "%s %v\n", errorStyle.Render("[错误]"), err)
		}
	}
}

func printWelcome(s *Session) {
	fmt.Println(welcomeStyle.Render("知识库助手"))
	fmt.Println(infoStyle.Render(s.Config.Chat.WelcomeMessage))
	fmt.Println(infoStyle.Render("输入 /help 查看命令，exit 退出。"))
	fmt.Println()
}

// =============================================================================
// MESSAGE PROCESSING
// =============================================================================

// processMessage streams one exchange to stdout. The error contract matches
// the TUI: cancellation is silent, a timeout degrades to a notice, and
// partial output is never followed by a hard failure.
func (s *Session) processMessage(text string) error {
	if err := session.ValidateMessage(text); err != nil {
		return errors.New("请输入有效的问题")
	}

	if s.ConversationID == 0 {
		if err := s.createConversation(text); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.CancelFunc = cancel
	defer func() {
		s.CancelFunc = nil
		cancel()
	}()

	events, err := s.Client.OpenChatStream(ctx, s.ConversationID, api.ChatRequest{
		Message:         text,
		UseDeepThinking: s.DeepThinking,
	})
	if err != nil {
		// Ctrl+C while the request is still connecting is a deliberate
		// abort, not an error; a timeout gets the same soft notice as a
		// mid-stream one.
		switch {
		case errors.Is(err, context.Canceled):
			return nil
		case api.IsTimeout(err):
			fmt.Println(warningStyle.Render("处理时间较长，请稍后查看回复。"))
			return nil
		}
		return err
	}

	var (
		citations  []model.SourceCitation
		gotContent bool
	)
	for ev := range events {
		switch ev.Type {
		case api.EventDelta:
			fmt.Print(ev.Delta)
			gotContent = true

		case api.EventSources:
			cits := make([]model.SourceCitation, 0, len(ev.Sources))
			for _, src := range ev.Sources {
				cits = append(cits, src.Citation())
			}
			citations = model.DedupCitations(cits)

		case api.EventDone:
			// fall through to the footer

		case api.EventError:
			fmt.Println()
			switch {
			case errors.Is(ev.Err, context.Canceled):
				return nil
			case api.IsTimeout(ev.Err):
				fmt.Println(warningStyle.Render("处理时间较长，请稍后查看回复。"))
				return nil
			case gotContent:
				// Keep the partial answer; report the fault out-of-band.
				fmt.Fprintf(os.Stderr, "%s %v\n", errorStyle.Render("[错误]"), ev.Err)
				return nil
			default:
				return ev.Err
			}
		}
	}

	fmt.Println()
	printCitations(citations)
	return nil
}

func printCitations(citations []model.SourceCitation) {
	if len(citations) == 0 {
		return
	}
	parts := make([]string, 0, len(citations))
	for _, c := range citations {
		parts = append(parts, c.FileName+" (p."+c.Page+")")
	}
	fmt.Println(citationStyle.Render("来源: " + strings.Join(parts, ", ")))
}

func (s *Session) createConversation(firstMessage string) error {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	conv, err := s.Client.CreateConversation(ctx, api.ConversationCreateRequest{
		Title: util.TruncateRunes(strings.TrimSpace(firstMessage), 20),
	})
	if err != nil {
		return fmt.Errorf("创建会话失败: %w", err)
	}
	s.ConversationID = conv.ID
	if !s.Quiet {
		fmt.Println(infoStyle.Render("已创建会话 #" + util.Int64ToString(conv.ID)))
	}
	return nil
}
