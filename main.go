// kbchat TUI - a terminal client for the knowledge base chat service.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/kbchat-tui/internal/api"
	"github.com/jeranaias/kbchat-tui/internal/auth"
	"github.com/jeranaias/kbchat-tui/internal/cli"
	"github.com/jeranaias/kbchat-tui/internal/config"
	"github.com/jeranaias/kbchat-tui/internal/progress"
	"github.com/jeranaias/kbchat-tui/internal/storage"
	"github.com/jeranaias/kbchat-tui/internal/ui/chat"
	"github.com/jeranaias/kbchat-tui/internal/ui/documents"
	"github.com/jeranaias/kbchat-tui/internal/ui/styles"
	"github.com/jeranaias/kbchat-tui/internal/util"
)

// Version information (set at build time).
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

const usage = `kbchat - 知识库助手终端客户端

用法:
  kbchat [flags]                  打开交互界面
  kbchat login [用户名]           登录并保存凭证
  kbchat logout                   清除已保存的凭证
  kbchat whoami                   显示当前登录用户
  kbchat chat                     纯文本对话模式
  kbchat ask <问题>               单次提问
  kbchat version                  显示版本

flags:
  -conversation <ID>   打开指定会话
  -quiet               减少输出
`

func main() {
	var (
		conversationID int64
		quiet          bool
	)
	flag.Int64Var(&conversationID, "conversation", 0, "conversation id to resume")
	flag.BoolVar(&quiet, "quiet", false, "suppress informational output")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "配置加载失败: %v\n", err)
		os.Exit(1)
	}
	config.SetGlobal(cfg)
	setupLogging(cfg)

	credDir, err := auth.DefaultDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "无法确定配置目录: %v\n", err)
		os.Exit(1)
	}
	store := auth.NewStore(credDir)
	client := api.NewClient(cfg.Server.BaseURL, store.Token)

	args := flag.Args()
	cmd := ""
	if len(args) > 0 {
		cmd = args[0]
	}

	switch cmd {
	case "login":
		username := ""
		if len(args) > 1 {
			username = args[1]
		}
		exitOn(cli.RunLogin(client, store, username))

	case "logout":
		exitOn(cli.RunLogout(store))

	case "whoami":
		exitOn(cli.RunWhoAmI(client))

	case "chat":
		requireLogin(store)
		exitOn(cli.RunChat(client, cfg, quiet))

	case "ask":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "用法: kbchat ask <问题>")
			os.Exit(2)
		}
		requireLogin(store)
		exitOn(cli.RunAsk(client, cfg, strings.Join(args[1:], " ")))

	case "version":
		fmt.Printf("kbchat %s (%s, %s)\n", Version, GitCommit, BuildDate)

	case "":
		requireLogin(store)
		runTUI(client, store, cfg, conversationID)

	default:
		fmt.Fprintf(os.Stderr, "未知命令: %s\n\n%s", cmd, usage)
		os.Exit(2)
	}
}

// =============================================================================
// TUI
// =============================================================================

// runTUI wires the full-screen interface: the chat view, the document view,
// the live progress channel, and the offline cache.
func runTUI(client *api.Client, store *auth.Store, cfg *config.Config, conversationID int64) {
	theme := styles.NewTheme(cfg.UI.Theme)

	var cache *storage.Cache
	if cfg.Storage.CacheEnabled {
		if path, err := cfg.CachePath(); err == nil {
			if c, err := storage.Open(path); err == nil {
				cache = c
				defer c.Close()
			} else {
				log.Printf("offline cache unavailable: %v", err)
			}
		}
	}

	// Live document progress over the reconnecting websocket channel. The
	// user id comes from the saved credential, with a JWT claim fallback
	// inside the channel.
	channel := progress.NewChannel(cfg.ProgressURL(), store.Token)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	userID := ""
	if cred, err := store.Load(); err == nil && cred.UserID > 0 {
		userID = util.Int64ToString(cred.UserID)
	}
	channel.Open(ctx, userID)
	defer channel.Close()

	// Reload config-derived state when the file changes on disk.
	if cfgPath, err := config.ConfigPath(); err == nil {
		if watcher, err := config.NewWatcher(cfgPath, func(*config.Config) {
			log.Printf("configuration reloaded")
		}); err == nil {
			watcher.Watch()
			defer watcher.Close()
		}
	}

	app := newApp(
		chat.New(client, cache, cfg, theme, conversationID),
		documents.New(client, channel, theme),
	)

	p := tea.NewProgram(app, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "界面启动失败: %v\n", err)
		os.Exit(1)
	}
}

// =============================================================================
// APP MODEL
// =============================================================================

type appView int

const (
	viewChat appView = iota
	viewDocuments
)

// app is the root Bubble Tea model: two tabs sharing the terminal.
type app struct {
	chat   *chat.Model
	docs   *documents.Model
	active appView
}

func newApp(chatModel *chat.Model, docsModel *documents.Model) *app {
	return &app{chat: chatModel, docs: docsModel}
}

func (a *app) Init() tea.Cmd {
	return tea.Batch(a.chat.Init(), a.docs.Init())
}

func (a *app) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	// Tab switches views; every other key goes to the active view only.
	if key, ok := msg.(tea.KeyMsg); ok {
		if key.String() == "tab" {
			if a.active == viewChat {
				a.active = viewDocuments
			} else {
				a.active = viewChat
			}
			return a, nil
		}
		return a, a.updateActive(msg)
	}

	// Sizes and background results fan out to both views.
	var cmds []tea.Cmd
	if _, cmd := a.chat.Update(msg); cmd != nil {
		cmds = append(cmds, cmd)
	}
	if _, cmd := a.docs.Update(msg); cmd != nil {
		cmds = append(cmds, cmd)
	}
	return a, tea.Batch(cmds...)
}

func (a *app) updateActive(msg tea.Msg) tea.Cmd {
	if a.active == viewChat {
		_, cmd := a.chat.Update(msg)
		return cmd
	}
	_, cmd := a.docs.Update(msg)
	return cmd
}

func (a *app) View() string {
	if a.active == viewChat {
		return a.chat.View()
	}
	return a.docs.View()
}

// =============================================================================
// HELPERS
// =============================================================================

// setupLogging routes the standard logger to the configured file. Logging to
// stdout would corrupt the TUI.
func setupLogging(cfg *config.Config) {
	if !cfg.Logging.Debug {
		log.SetOutput(nopWriter{})
		return
	}
	path, err := cfg.LogPath()
	if err != nil {
		log.SetOutput(os.Stderr)
		return
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		log.SetOutput(os.Stderr)
		return
	}
	log.SetOutput(f)
	log.SetFlags(log.LstdFlags | log.Lshortfile)
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

// requireLogin exits with a hint when no credential is saved.
func requireLogin(store *auth.Store) {
	if _, err := store.Load(); err != nil {
		fmt.Fprintln(os.Stderr, "尚未登录，请先运行: kbchat login")
		os.Exit(1)
	}
}

func exitOn(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}
