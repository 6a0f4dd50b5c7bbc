// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"golang.org/x/term"

	"github.com/jeranaias/kbchat-tui/internal/api"
	"github.com/jeranaias/kbchat-tui/internal/config"
	"github.com/jeranaias/kbchat-tui/internal/model"
	"github.com/jeranaias/kbchat-tui/internal/session"
)

// =============================================================================
// MARKDOWN RENDERING
// =============================================================================

// markdownRenderer is the shared glamour renderer for one-shot answers.
var markdownRenderer *glamour.TermRenderer

func init() {
	var err error
	markdownRenderer, err = glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(80),
	)
	if err != nil {
		// renderMarkdown falls back to raw output.
		markdownRenderer = nil
	}
}

// renderMarkdown renders markdown for terminal display, falling back to the
// raw content when rendering fails.
func renderMarkdown(content string) string {
	if markdownRenderer == nil {
		return content
	}
	rendered, err := markdownRenderer.Render(content)
	if err != nil {
		return content
	}
	return rendered
}

// =============================================================================
// ONE-SHOT ASK
// =============================================================================

// RunAsk asks a single question and prints the complete answer. The stream
// is collected rather than echoed token by token so the final output can be
// markdown-rendered; piped output stays plain.
func RunAsk(client *api.Client, cfg *config.Config, question string) error {
	if err := session.ValidateMessage(question); err != nil {
		return errors.New("请输入有效的问题")
	}

	ctx := context.Background()

	conv, err := client.CreateConversation(ctx, api.ConversationCreateRequest{Title: "快速提问"})
	if err != nil {
		return fmt.Errorf("创建会话失败: %w", err)
	}

	events, err := client.OpenChatStream(ctx, conv.ID, api.ChatRequest{
		Message:         question,
		UseDeepThinking: cfg.Chat.DeepThinking,
	})
	if err != nil {
		return err
	}

	var (
		answer    strings.Builder
		citations []model.SourceCitation
	)
	for ev := range events {
		switch ev.Type {
		case api.EventDelta:
			answer.WriteString(ev.Delta)

		case api.EventSources:
			cits := make([]model.SourceCitation, 0, len(ev.Sources))
			for _, src := range ev.Sources {
				cits = append(cits, src.Citation())
			}
			citations = model.DedupCitations(cits)

		case api.EventError:
			if api.IsTimeout(ev.Err) && answer.Len() == 0 {
				fmt.Println(warningStyle.Render("处理时间较长，请稍后查看回复。"))
				return nil
			}
			if answer.Len() > 0 {
				// Partial answer: print it, then report the fault.
				printAnswer(answer.String())
				fmt.Fprintf(os.Stderr, "%s %v\n", errorStyle.Render("[错误]"), ev.Err)
				return nil
			}
			return ev.Err
		}
	}

	printAnswer(answer.String())
	printCitations(citations)
	return nil
}

// printAnswer renders markdown only when stdout is a terminal, keeping piped
// output machine-readable.
func printAnswer(content string) {
	if term.IsTerminal(int(os.Stdout.Fd())) {
		fmt.Print(renderMarkdown(content))
		return
	}
	fmt.Println(content)
}
