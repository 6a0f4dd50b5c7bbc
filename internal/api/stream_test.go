// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// sseHandler writes a fixed SSE script to each stream request.
func sseHandler(t *testing.T, script string) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, script)
	}
}

// collect drains the event channel with a safety timeout.
func collect(t *testing.T, events <-chan StreamEvent) []StreamEvent {
	t.Helper()
	var out []StreamEvent
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatal("timed out draining stream events")
		}
	}
}

// =============================================================================
// CHAT STREAM TESTS
// =============================================================================

func TestOpenChatStreamDeltaSourcesDone(t *testing.T) {
	script := "event: delta\ndata: 年假\n\n" +
		"event: delta\ndata: 为15天。\n\n" +
		"event: sources\ndata: [{\"documentId\":\"d1\",\"metadata\":{\"source\":\"员工手册.pdf\",\"page\":3}}]\n\n" +
		"data: [DONE]\n\n"
	srv := httptest.NewServer(sseHandler(t, script))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	events, err := c.OpenChatStream(context.Background(), 42, ChatRequest{Message: "年假政策是什么？"})
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}

	got := collect(t, events)
	if len(got) != 4 {
		t.Fatalf("expected 4 events, got %d: %+v", len(got), got)
	}
	if got[0].Type != EventDelta || got[0].Delta != "年假" {
		t.Errorf("first delta wrong: %+v", got[0])
	}
	if got[1].Type != EventDelta || got[1].Delta != "为15天。" {
		t.Errorf("second delta wrong: %+v", got[1])
	}
	if got[2].Type != EventSources || len(got[2].Sources) != 1 {
		t.Fatalf("sources event wrong: %+v", got[2])
	}
	cit := got[2].Sources[0].Citation()
	if cit.FileName != "员工手册.pdf" || cit.Page != "3" {
		t.Errorf("citation mapping wrong: %+v", cit)
	}
	if got[3].Type != EventDone {
		t.Errorf("expected terminal done, got %+v", got[3])
	}
}

func TestOpenChatStreamNormalClosure(t *testing.T) {
	// Stream ends without the [DONE] sentinel; EOF is a normal end.
	srv := httptest.NewServer(sseHandler(t, "event: delta\ndata: hi\n\n"))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	events, err := c.OpenChatStream(context.Background(), 1, ChatRequest{Message: "hi"})
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}

	got := collect(t, events)
	last := got[len(got)-1]
	if last.Type != EventDone {
		t.Errorf("expected done on EOF, got %+v", last)
	}
}

func TestOpenChatStreamIgnoresUnknownEvents(t *testing.T) {
	script := "event: heartbeat\ndata: {}\n\nevent: delta\ndata: ok\n\ndata: [DONE]\n\n"
	srv := httptest.NewServer(sseHandler(t, script))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	events, err := c.OpenChatStream(context.Background(), 1, ChatRequest{Message: "hi"})
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}

	got := collect(t, events)
	if len(got) != 2 {
		t.Fatalf("unknown event not ignored: %+v", got)
	}
	if got[0].Delta != "ok" {
		t.Errorf("expected delta 'ok', got %+v", got[0])
	}
}

func TestOpenChatStreamDropsMalformedSources(t *testing.T) {
	script := "event: sources\ndata: not-json\n\nevent: delta\ndata: still-here\n\ndata: [DONE]\n\n"
	srv := httptest.NewServer(sseHandler(t, script))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	events, err := c.OpenChatStream(context.Background(), 1, ChatRequest{Message: "hi"})
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}

	got := collect(t, events)
	for _, ev := range got {
		if ev.Type == EventSources {
			t.Errorf("malformed sources payload was not dropped: %+v", ev)
		}
		if ev.Type == EventError {
			t.Errorf("malformed sources payload raised an error: %v", ev.Err)
		}
	}
	if got[0].Type != EventDelta || got[0].Delta != "still-here" {
		t.Errorf("stream did not continue past malformed payload: %+v", got)
	}
}

func TestOpenChatStreamNonOKResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"conversation not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	_, err := c.OpenChatStream(context.Background(), 99, ChatRequest{Message: "hi"})
	if err == nil {
		t.Fatal("expected error for non-OK open")
	}
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestOpenChatStreamCancellation(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: delta\ndata: first\n\n")
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-release // hold the stream open
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	c := NewClient(srv.URL, nil)
	events, err := c.OpenChatStream(ctx, 1, ChatRequest{Message: "hi"})
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}

	// Consume the first delta, then cancel mid-stream.
	ev := <-events
	if ev.Type != EventDelta {
		t.Fatalf("expected first delta, got %+v", ev)
	}
	cancel()

	got := collect(t, events)
	last := got[len(got)-1]
	if last.Type != EventError {
		t.Fatalf("expected terminal error event, got %+v", last)
	}
	if !errors.Is(last.Err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", last.Err)
	}
}

func TestOpenChatStreamSendsBearerToken(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	c := NewClient(srv.URL, func() string { return "tok123" })
	events, err := c.OpenChatStream(context.Background(), 1, ChatRequest{Message: "hi"})
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	collect(t, events)

	if gotAuth != "Bearer tok123" {
		t.Errorf("expected bearer header, got %q", gotAuth)
	}
}

func TestIsTimeout(t *testing.T) {
	if !IsTimeout(ErrStreamTimeout) {
		t.Error("ErrStreamTimeout should classify as timeout")
	}
	if !IsTimeout(context.DeadlineExceeded) {
		t.Error("deadline exceeded should classify as timeout")
	}
	if IsTimeout(errors.New("boom")) {
		t.Error("generic error should not classify as timeout")
	}
	if IsTimeout(context.Canceled) {
		t.Error("cancellation is not a timeout")
	}
}
