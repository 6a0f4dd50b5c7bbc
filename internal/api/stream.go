// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
)

// =============================================================================
// STREAM EVENTS
// =============================================================================

// doneSentinel is the raw data payload that terminates the chat stream.
var doneSentinel = []byte("[DONE]")

// StreamEventType identifies one typed event of a chat stream.
type StreamEventType int

const (
	// EventDelta carries a verbatim text fragment of the assistant reply.
	EventDelta StreamEventType = iota
	// EventSources carries the parsed citation batch for the reply.
	EventSources
	// EventDone marks normal end of stream.
	EventDone
	// EventError marks a transport failure; the stream is over.
	EventError
)

// StreamEvent is one demultiplexed event of a chat stream. Exactly one of
// the payload fields is meaningful, selected by Type. A stream yields any
// number of Delta/Sources events followed by exactly one Done or Error.
type StreamEvent struct {
	Type    StreamEventType
	Delta   string
	Sources []SourceInfo
	Err     error
}

// ErrStreamTimeout distinguishes a transport timeout from other stream
// failures. Timeouts get a soft user-facing notice instead of a hard error,
// since the backend may still be working.
var ErrStreamTimeout = errors.New("stream timed out")

// IsTimeout reports whether a stream error represents a timeout.
func IsTimeout(err error) bool {
	if errors.Is(err, ErrStreamTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}

// =============================================================================
// CHAT STREAM
// =============================================================================

// OpenChatStream posts a user message to a conversation's stream endpoint
// and returns a channel of typed events.
//
// The request is opened synchronously: a non-OK response or connection
// failure is returned as an error and no channel is created. Once open, the
// returned channel delivers events in wire order and is closed after the
// terminal Done or Error event. Cancelling ctx stops consumption and yields
// an Error event carrying ctx.Err().
func (c *Client) OpenChatStream(ctx context.Context, conversationID int64, chatReq ChatRequest) (<-chan StreamEvent, error) {
	raw, err := json.Marshal(chatReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/conversations/%d/chat/stream", c.baseURL, conversationID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("stream request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
		resp.Body.Close()
		return nil, parseErrorResponse(resp.StatusCode, body)
	}

	events := make(chan StreamEvent, 64)
	go func() {
		defer close(events)
		defer resp.Body.Close()
		c.consumeStream(ctx, resp.Body, events)
	}()
	return events, nil
}

// consumeStream reads SSE events from body and forwards typed events until a
// terminal condition. It always emits exactly one Done or Error event last.
func (c *Client) consumeStream(ctx context.Context, body io.Reader, events chan<- StreamEvent) {
	reader := NewSSEReader(body)

	for {
		select {
		case <-ctx.Done():
			events <- StreamEvent{Type: EventError, Err: ctx.Err()}
			return
		default:
		}

		name, data, err := reader.ReadEvent()
		if err != nil {
			if err == io.EOF {
				events <- StreamEvent{Type: EventDone}
				return
			}
			// Cancellation surfaces as a read error on the response body.
			if ctx.Err() != nil {
				events <- StreamEvent{Type: EventError, Err: ctx.Err()}
				return
			}
			events <- StreamEvent{Type: EventError, Err: classifyStreamError(err)}
			return
		}

		// Termination sentinel arrives as raw data outside named framing.
		if name == "" && bytes.Equal(bytes.TrimSpace(data), doneSentinel) {
			events <- StreamEvent{Type: EventDone}
			return
		}

		switch name {
		case "delta":
			if !send(ctx, events, StreamEvent{Type: EventDelta, Delta: string(data)}) {
				return
			}
		case "sources":
			var infos []SourceInfo
			if err := json.Unmarshal(data, &infos); err != nil {
				// Malformed sources payloads are dropped; the stream
				// keeps going.
				continue
			}
			if !send(ctx, events, StreamEvent{Type: EventSources, Sources: infos}) {
				return
			}
		default:
			// Unrecognized event types are ignored.
		}
	}
}

// send forwards an event unless the context is cancelled first. A false
// return means the consumer is gone and the terminal error event was sent.
func send(ctx context.Context, events chan<- StreamEvent, ev StreamEvent) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		events <- StreamEvent{Type: EventError, Err: ctx.Err()}
		return false
	}
}

// classifyStreamError maps transport timeouts onto ErrStreamTimeout so the
// caller can choose the soft-degradation path.
func classifyStreamError(err error) error {
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return fmt.Errorf("%w: %v", ErrStreamTimeout, err)
	}
	return err
}
