// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jeranaias/kbchat-tui/internal/api"
	"github.com/jeranaias/kbchat-tui/internal/config"
	"github.com/jeranaias/kbchat-tui/internal/model"
)

func testSession() *Session {
	return &Session{
		Client: api.NewClient("http://localhost:8080/api", nil),
		Config: config.Default(),
	}
}

func TestSlashNewResetsConversation(t *testing.T) {
	s := testSession()
	s.ConversationID = 12

	keepGoing, err := s.handleSlashCommand("/new")
	if err != nil || !keepGoing {
		t.Fatalf("unexpected result: %v %v", keepGoing, err)
	}
	if s.ConversationID != 0 {
		t.Error("conversation id not reset")
	}
}

func TestSlashDeepToggles(t *testing.T) {
	s := testSession()

	s.handleSlashCommand("/deep")
	if !s.DeepThinking {
		t.Error("deep thinking should toggle on")
	}
	s.handleSlashCommand("/deep")
	if s.DeepThinking {
		t.Error("deep thinking should toggle off")
	}
}

func TestSlashExitStopsLoop(t *testing.T) {
	s := testSession()
	for _, cmd := range []string{"/exit", "/quit"} {
		keepGoing, err := s.handleSlashCommand(cmd)
		if err != nil {
			t.Errorf("%s: unexpected error: %v", cmd, err)
		}
		if keepGoing {
			t.Errorf("%s should stop the loop", cmd)
		}
	}
}

func TestSlashUnknownReportsError(t *testing.T) {
	s := testSession()
	keepGoing, err := s.handleSlashCommand("/bogus")
	if !keepGoing {
		t.Error("unknown command must not exit the loop")
	}
	if err == nil {
		t.Error("unknown command should error")
	}
}

func TestSlashOpenRequiresArgument(t *testing.T) {
	s := testSession()
	if _, err := s.handleSlashCommand("/open"); err == nil {
		t.Error("missing argument should error")
	}
	if _, err := s.handleSlashCommand("/open abc"); err == nil {
		t.Error("non-numeric id should error")
	}
}

func TestProcessMessageRejectsMeaningless(t *testing.T) {
	s := testSession()
	if err := s.processMessage("！！！。。。"); err == nil {
		t.Error("punctuation-only input must be rejected before any network call")
	}
	if s.ConversationID != 0 {
		t.Error("no conversation should be created for rejected input")
	}
}

func TestProcessMessageCancelDuringOpenIsSilent(t *testing.T) {
	gotStream := make(chan struct{})
	mux := http.NewServeMux()
	mux.HandleFunc("/conversations", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":1,"title":"t"}`)
	})
	mux.HandleFunc("/conversations/1/chat/stream", func(w http.ResponseWriter, r *http.Request) {
		// Hold the open until the client gives up, like a backend that has
		// not sent response headers yet. Drain the body first so the server
		// background-reads the connection and can notice the client's
		// disconnect; otherwise r.Context() never fires and srv.Close hangs.
		io.Copy(io.Discard, r.Body)
		close(gotStream)
		<-r.Context().Done()
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	s := &Session{
		Client: api.NewClient(srv.URL, nil),
		Config: config.Default(),
		Quiet:  true,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.processMessage("年假政策是什么？")
	}()

	<-gotStream
	s.CancelFunc()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("cancelled open must stay silent, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("processMessage did not return after cancel")
	}
}

func TestRenderMarkdownFallsBackWithoutRenderer(t *testing.T) {
	saved := markdownRenderer
	markdownRenderer = nil
	defer func() { markdownRenderer = saved }()

	const content = "# 标题\n正文"
	if got := renderMarkdown(content); got != content {
		t.Errorf("expected raw passthrough, got %q", got)
	}
}

func TestStatusLabel(t *testing.T) {
	failed := statusLabel(api.DocumentDto{Status: model.StatusFailed, ErrorMessage: "解析失败"})
	if !strings.Contains(failed, "解析失败") {
		t.Errorf("error message missing: %q", failed)
	}

	working := statusLabel(api.DocumentDto{Status: model.StatusProcessing, Progress: 40})
	if !strings.Contains(working, "40%") {
		t.Errorf("progress missing: %q", working)
	}
}
