// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package progress maintains a live view of asynchronous document-ingestion
// status over a reconnecting push channel, so the UI never polls.
package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jeranaias/kbchat-tui/internal/auth"
	"github.com/jeranaias/kbchat-tui/internal/model"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// ReconnectDelay is the fixed backoff between reconnect attempts.
	ReconnectDelay = 5 * time.Second

	// HeartbeatInterval is the outgoing ping cadence; the read deadline
	// allows two missed heartbeats before the connection is considered
	// half-open and torn down for a reconnect.
	HeartbeatInterval = 4 * time.Second

	writeWait = 5 * time.Second
)

// destination returns the per-user queue the channel subscribes to.
func destination(userID string) string {
	return fmt.Sprintf("/user/%s/queue/document-updates", userID)
}

// subscribeFrame is the first message sent after connecting.
type subscribeFrame struct {
	Action      string `json:"action"`
	Destination string `json:"destination"`
}

// =============================================================================
// CHANNEL
// =============================================================================

// DialFunc opens the underlying websocket. Swappable in tests.
type DialFunc func(ctx context.Context, url string, header http.Header) (*websocket.Conn, *http.Response, error)

// Channel is the document progress channel: one subscription per user,
// a last-write-wins map of the latest known record per document. Safe for
// concurrent use; readers get copies, never internal state.
//
// Reconnection is transparent: no notifications are replayed for the gap,
// and consumers must tolerate missing intermediate states (PENDING observed,
// then directly COMPLETED after a reconnect).
type Channel struct {
	mu      sync.RWMutex
	records map[string]model.DocumentProgressRecord

	url   string
	token func() string
	dial  DialFunc

	reconnectDelay time.Duration
	heartbeat      time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// NewChannel creates a closed channel addressing the given websocket URL.
// token supplies the bearer credential for the connect handshake; it may be
// nil when the endpoint is unauthenticated.
func NewChannel(url string, token func() string) *Channel {
	return &Channel{
		records:        make(map[string]model.DocumentProgressRecord),
		url:            url,
		token:          token,
		dial:           defaultDial,
		reconnectDelay: ReconnectDelay,
		heartbeat:      HeartbeatInterval,
	}
}

func defaultDial(ctx context.Context, url string, header http.Header) (*websocket.Conn, *http.Response, error) {
	return websocket.DefaultDialer.DialContext(ctx, url, header)
}

// Open starts the subscription loop for userID. When userID is empty the id
// is recovered from the stored credential's claims; when no identity can be
// resolved at all, Open is a silent no-op — progress simply will not update.
//
// The loop runs until Close is called or ctx is cancelled, reconnecting with
// a fixed delay on any transport drop. Calling Open on an already-open
// channel is a no-op.
func (c *Channel) Open(ctx context.Context, userID string) {
	uid := c.resolveUser(userID)
	if uid == "" {
		return
	}

	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	done := c.done
	c.mu.Unlock()

	go func() {
		defer close(done)
		c.run(runCtx, uid)
	}()
}

// Close tears down the subscription and waits for the loop to exit.
// Idempotent; safe to call when never opened.
func (c *Channel) Close() {
	c.mu.Lock()
	cancel := c.cancel
	done := c.done
	c.cancel = nil
	c.done = nil
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// GetProgress returns the latest record for documentID. Never blocks.
func (c *Channel) GetProgress(documentID string) (model.DocumentProgressRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, ok := c.records[documentID]
	return rec, ok
}

// Snapshot returns a copy of all current records.
func (c *Channel) Snapshot() map[string]model.DocumentProgressRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]model.DocumentProgressRecord, len(c.records))
	for k, v := range c.records {
		out[k] = v
	}
	return out
}

// ClearProgress removes the record for one document. Used by consumers after
// a terminal status has been surfaced to the user.
func (c *Channel) ClearProgress(documentID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.records, documentID)
}

// ClearAll removes every record.
func (c *Channel) ClearAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = make(map[string]model.DocumentProgressRecord)
}

// =============================================================================
// CONNECTION LOOP
// =============================================================================

// resolveUser prefers the explicit id and falls back to the unverified
// claims of the stored token. The id only routes the subscription; it is
// never an authorization decision.
func (c *Channel) resolveUser(userID string) string {
	if strings.TrimSpace(userID) != "" {
		return userID
	}
	if c.token == nil {
		return ""
	}
	tok := c.token()
	if tok == "" {
		return ""
	}
	uid, err := auth.UserIDFromToken(tok)
	if err != nil {
		return ""
	}
	return uid
}

// run dials, subscribes, and pumps messages, reconnecting with a fixed
// delay until ctx is cancelled.
func (c *Channel) run(ctx context.Context, userID string) {
	for {
		if err := c.connectOnce(ctx, userID); err != nil && ctx.Err() != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.reconnectDelay):
		}
	}
}

// connectOnce runs a single connection to exhaustion: dial, subscribe,
// heartbeat, read until error. Returns the error that ended the connection.
func (c *Channel) connectOnce(ctx context.Context, userID string) error {
	header := http.Header{}
	if c.token != nil {
		if tok := c.token(); tok != "" {
			header.Set("Authorization", "Bearer "+tok)
		}
	}

	conn, resp, err := c.dial(ctx, c.url, header)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return err
	}
	defer conn.Close()

	// Tear the connection down promptly when the channel is closed.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	sub := subscribeFrame{Action: "subscribe", Destination: destination(userID)}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(sub); err != nil {
		return err
	}

	// Heartbeats: ping on a fixed cadence, extend the read deadline on each
	// pong. Two missed beats end the connection.
	deadline := 2*c.heartbeat + writeWait
	conn.SetReadDeadline(time.Now().Add(deadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(deadline))
	})

	pinger := time.NewTicker(c.heartbeat)
	defer pinger.Stop()
	go func() {
		for {
			select {
			case <-pinger.C:
				conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			case <-stop:
				return
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		c.handleMessage(data)
	}
}

// handleMessage upserts one notification into the record map. Malformed
// payloads are dropped; the channel keeps running and existing records are
// untouched.
func (c *Channel) handleMessage(data []byte) {
	var rec model.DocumentProgressRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return
	}
	if rec.DocumentID == "" || !rec.Status.Valid() {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.records[rec.DocumentID] = rec
}
