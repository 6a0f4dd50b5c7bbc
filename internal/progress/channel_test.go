// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package progress

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"

	"github.com/jeranaias/kbchat-tui/internal/model"
)

// =============================================================================
// RECORD MAP TESTS
// =============================================================================

func TestHandleMessageUpsert(t *testing.T) {
	c := NewChannel("ws://unused", nil)

	c.handleMessage([]byte(`{"documentId":"doc1","status":"PROCESSING","progress":40}`))
	c.handleMessage([]byte(`{"documentId":"doc1","status":"COMPLETED","progress":100}`))

	rec, ok := c.GetProgress("doc1")
	if !ok {
		t.Fatal("record missing")
	}
	if rec.Status != model.StatusCompleted || rec.Progress != 100 {
		t.Errorf("last write did not win: %+v", rec)
	}
}

func TestHandleMessageMalformedDropped(t *testing.T) {
	c := NewChannel("ws://unused", nil)
	c.handleMessage([]byte(`{"documentId":"doc1","status":"PENDING","progress":0}`))

	c.handleMessage([]byte(`not-json`))
	c.handleMessage([]byte(`{"documentId":"","status":"PENDING"}`))
	c.handleMessage([]byte(`{"documentId":"doc2","status":"EXPLODED"}`))

	rec, ok := c.GetProgress("doc1")
	if !ok || rec.Status != model.StatusPending {
		t.Errorf("existing record disturbed by malformed payloads: %+v", rec)
	}
	if _, ok := c.GetProgress("doc2"); ok {
		t.Error("invalid status should not be stored")
	}
	if len(c.Snapshot()) != 1 {
		t.Errorf("expected exactly one record, got %d", len(c.Snapshot()))
	}
}

func TestClearProgress(t *testing.T) {
	c := NewChannel("ws://unused", nil)
	c.handleMessage([]byte(`{"documentId":"a","status":"COMPLETED","progress":100}`))
	c.handleMessage([]byte(`{"documentId":"b","status":"FAILED","progress":0,"errorMessage":"boom"}`))

	c.ClearProgress("a")
	if _, ok := c.GetProgress("a"); ok {
		t.Error("cleared record still present")
	}
	if _, ok := c.GetProgress("b"); !ok {
		t.Error("unrelated record removed")
	}

	c.ClearAll()
	if len(c.Snapshot()) != 0 {
		t.Error("ClearAll left records behind")
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	c := NewChannel("ws://unused", nil)
	c.handleMessage([]byte(`{"documentId":"a","status":"PENDING","progress":0}`))

	snap := c.Snapshot()
	delete(snap, "a")

	if _, ok := c.GetProgress("a"); !ok {
		t.Error("mutating a snapshot reached internal state")
	}
}

// =============================================================================
// IDENTITY RESOLUTION TESTS
// =============================================================================

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("k"))
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}
	return tok
}

func TestResolveUserPrefersExplicitID(t *testing.T) {
	c := NewChannel("ws://unused", func() string {
		return signToken(t, jwt.MapClaims{"userId": float64(9)})
	})
	if got := c.resolveUser("42"); got != "42" {
		t.Errorf("explicit id not preferred: %q", got)
	}
}

func TestResolveUserFallsBackToToken(t *testing.T) {
	c := NewChannel("ws://unused", func() string {
		return signToken(t, jwt.MapClaims{"sub": "alice"})
	})
	if got := c.resolveUser(""); got != "alice" {
		t.Errorf("token fallback failed: %q", got)
	}
}

func TestOpenWithoutIdentityIsNoOp(t *testing.T) {
	c := NewChannel("ws://unused", nil)
	c.Open(context.Background(), "")
	// Nothing opened; Close must still be safe.
	c.Close()

	c2 := NewChannel("ws://unused", func() string { return "" })
	c2.Open(context.Background(), "")
	c2.Close()
}

// =============================================================================
// CONNECTION TESTS
// =============================================================================

var upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

// progressServer accepts websocket subscriptions and pushes scripted records.
func progressServer(t *testing.T, fn func(conn *websocket.Conn, sub subscribeFrame)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var sub subscribeFrame
		if err := conn.ReadJSON(&sub); err != nil {
			t.Errorf("subscribe frame missing: %v", err)
			return
		}
		fn(conn, sub)
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestChannelReceivesRecords(t *testing.T) {
	var gotDest atomic.Value
	srv := progressServer(t, func(conn *websocket.Conn, sub subscribeFrame) {
		gotDest.Store(sub.Destination)
		push := func(v any) {
			data, _ := json.Marshal(v)
			conn.WriteMessage(websocket.TextMessage, data)
		}
		push(model.DocumentProgressRecord{DocumentID: "doc1", Status: model.StatusProcessing, Progress: 40})
		push(model.DocumentProgressRecord{DocumentID: "doc1", Status: model.StatusCompleted, Progress: 100})
		// Hold the connection open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer srv.Close()

	c := NewChannel(wsURL(srv), func() string { return "tok" })
	c.Open(context.Background(), "7")
	defer c.Close()

	waitFor(t, func() bool {
		rec, ok := c.GetProgress("doc1")
		return ok && rec.Status == model.StatusCompleted
	}, "completed record never arrived")

	if dest := gotDest.Load(); dest != "/user/7/queue/document-updates" {
		t.Errorf("subscribed to wrong destination: %v", dest)
	}
}

func TestChannelSendsBearerOnConnect(t *testing.T) {
	var gotAuth atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth.Store(r.Header.Get("Authorization"))
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	c := NewChannel(wsURL(srv), func() string { return "tok123" })
	c.Open(context.Background(), "1")
	defer c.Close()

	waitFor(t, func() bool { return gotAuth.Load() != nil }, "connect never reached the server")
	if gotAuth.Load() != "Bearer tok123" {
		t.Errorf("bearer header missing on connect: %v", gotAuth.Load())
	}
}

func TestChannelReconnects(t *testing.T) {
	var conns atomic.Int32
	srv := progressServer(t, func(conn *websocket.Conn, sub subscribeFrame) {
		n := conns.Add(1)
		if n == 1 {
			// Drop the first connection right after subscribe.
			return
		}
		data, _ := json.Marshal(model.DocumentProgressRecord{
			DocumentID: "doc1", Status: model.StatusCompleted, Progress: 100,
		})
		conn.WriteMessage(websocket.TextMessage, data)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer srv.Close()

	c := NewChannel(wsURL(srv), nil)
	c.reconnectDelay = 20 * time.Millisecond
	c.Open(context.Background(), "7")
	defer c.Close()

	waitFor(t, func() bool {
		_, ok := c.GetProgress("doc1")
		return ok
	}, "record never arrived after reconnect")

	if conns.Load() < 2 {
		t.Errorf("expected a reconnect, saw %d connections", conns.Load())
	}
}

func TestCloseIdempotent(t *testing.T) {
	srv := progressServer(t, func(conn *websocket.Conn, sub subscribeFrame) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer srv.Close()

	c := NewChannel(wsURL(srv), nil)
	c.Open(context.Background(), "7")
	c.Close()
	c.Close() // safe to call again

	// Never-opened channel.
	NewChannel("ws://unused", nil).Close()
}
