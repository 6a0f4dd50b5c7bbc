// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jeranaias/kbchat-tui/internal/api"
	"github.com/jeranaias/kbchat-tui/internal/util"
)

// requestTimeout bounds the non-streaming REST calls of the REPL.
const requestTimeout = 15 * time.Second

// =============================================================================
// SLASH COMMANDS
// =============================================================================

// handleSlashCommand dispatches one /command line. Returns false when the
// REPL should exit.
func (s *Session) handleSlashCommand(input string) (bool, error) {
	fields := strings.Fields(input)
	cmd := strings.ToLower(fields[0])
	args := fields[1:]

	switch cmd {
	case "/help":
		printHelp()
		return true, nil

	case "/exit", "/quit":
		return false, nil

	case "/new":
		s.ConversationID = 0
		fmt.Println(infoStyle.Render("已开始新会话。"))
		return true, nil

	case "/deep":
		s.DeepThinking = !s.DeepThinking
		if s.DeepThinking {
			fmt.Println(infoStyle.Render("深度思考已开启。"))
		} else {
			fmt.Println(infoStyle.Render("深度思考已关闭。"))
		}
		return true, nil

	case "/list":
		return true, s.listConversations()

	case "/open":
		if len(args) != 1 {
			return true, fmt.Errorf("用法: /open <会话ID>")
		}
		return true, s.openConversation(args[0])

	case "/docs":
		return true, s.listDocuments()

	case "/upload":
		if len(args) != 1 {
			return true, fmt.Errorf("用法: /upload <文件路径>")
		}
		return true, s.uploadDocument(args[0])

	default:
		return true, fmt.Errorf("未知命令 %s，输入 /help 查看命令", cmd)
	}
}

func printHelp() {
	rows := [][2]string{
		{"/new", "开始新会话"},
		{"/list", "列出历史会话"},
		{"/open <ID>", "继续指定会话"},
		{"/docs", "列出知识库文档"},
		{"/upload <路径>", "上传文档"},
		{"/deep", "切换深度思考模式"},
		{"/help", "显示本帮助"},
		{"/exit", "退出"},
	}
	for _, r := range rows {
		fmt.Printf("  %s  %s\n", commandStyle.Render(fmt.Sprintf("%-16s", r[0])), infoStyle.Render(r[1]))
	}
}

// =============================================================================
// COMMAND IMPLEMENTATIONS
// =============================================================================

func (s *Session) listConversations() error {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	convs, err := s.Client.ListConversations(ctx)
	if err != nil {
		return err
	}
	if len(convs) == 0 {
		fmt.Println(infoStyle.Render("暂无历史会话。"))
		return nil
	}
	for _, c := range convs {
		marker := " "
		if c.ID == s.ConversationID {
			marker = "*"
		}
		fmt.Printf("%s #%d  %s\n", marker, c.ID, c.Title)
	}
	return nil
}

func (s *Session) openConversation(arg string) error {
	id, err := util.ParseInt64(arg)
	if err != nil {
		return fmt.Errorf("无效的会话ID: %s", arg)
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	msgs, err := s.Client.ConversationMessages(ctx, id)
	if err != nil {
		return err
	}
	s.ConversationID = id

	for _, m := range msgs {
		label := "助手"
		if strings.EqualFold(m.Role, "user") {
			label = "我"
		}
		fmt.Printf("%s %s\n", commandStyle.Render("["+label+"]"), m.Content)
	}
	return nil
}

func (s *Session) listDocuments() error {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	docs, err := s.Client.ListDocuments(ctx)
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		fmt.Println(infoStyle.Render("知识库暂无文档。"))
		return nil
	}
	for _, d := range docs {
		fmt.Printf("  %-40s %s\n", util.TruncateWidth(d.Name, 40), statusLabel(d))
	}
	return nil
}

func statusLabel(d api.DocumentDto) string {
	switch {
	case d.ErrorMessage != "":
		return errorStyle.Render("处理失败: " + d.ErrorMessage)
	case d.Progress > 0 && d.Progress < 100:
		return infoStyle.Render(fmt.Sprintf("处理中 %d%%", d.Progress))
	default:
		return infoStyle.Render(string(d.Status))
	}
}

func (s *Session) uploadDocument(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	resp, err := s.Client.UploadDocument(ctx, filepath.Base(path), f, "", false)
	if err != nil {
		return err
	}
	fmt.Println(infoStyle.Render("已上传，文档ID: " + resp.DocumentID))
	return nil
}
