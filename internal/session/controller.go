// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session owns the lifecycle of one "send message, receive streamed
// answer" exchange: it validates input, maintains the transcript, consumes
// the typed event stream, and defines the error and cancellation contract.
package session

import (
	"context"
	"errors"
	"regexp"
	"sync"

	"github.com/jeranaias/kbchat-tui/internal/api"
	"github.com/jeranaias/kbchat-tui/internal/model"
)

// =============================================================================
// ERRORS AND USER-FACING TEXT
// =============================================================================

var (
	// ErrEmptyMessage indicates the input contained nothing but whitespace
	// and punctuation. No network call is made.
	ErrEmptyMessage = errors.New("message is empty or punctuation only")

	// ErrBusy indicates a stream is already in flight for this controller.
	// Callers serialize sends; this component never queues.
	ErrBusy = errors.New("a reply is already streaming")
)

const (
	// errorPrefix heads the inline transcript message shown when a stream
	// fails before producing any content.
	errorPrefix = "错误: "

	// timeoutNotice replaces an empty placeholder when the transport times
	// out. A soft notice, not an error: the backend may still be working.
	timeoutNotice = "处理时间较长，请稍后查看回复。"
)

// meaningless matches runs of Unicode whitespace and punctuation. Input that
// is empty after removing these is rejected before any network activity.
var meaningless = regexp.MustCompile(`[\s\pP]+`)

// ValidateMessage reports whether text carries at least one meaningful
// character.
func ValidateMessage(text string) error {
	if meaningless.ReplaceAllString(text, "") == "" {
		return ErrEmptyMessage
	}
	return nil
}

// =============================================================================
// CONTROLLER EVENTS
// =============================================================================

// EventKind identifies a controller notification.
type EventKind int

const (
	// EventDelta fires after a text fragment was appended to the open
	// assistant message.
	EventDelta EventKind = iota
	// EventSources fires after citations were attached to the open message.
	EventSources
	// EventCompleted fires when a stream ends normally.
	EventCompleted
	// EventSlow fires when the transport timed out; accumulated content is
	// preserved and the message is closed softly.
	EventSlow
	// EventFailed fires on a transport fault. When partial content exists it
	// is preserved and the error is report-only; otherwise the placeholder
	// was rewritten to an inline error message.
	EventFailed
	// EventCancelled fires when the caller aborted the stream. Never an
	// error; nothing error-shaped is written to the transcript.
	EventCancelled
)

// Event is a controller notification delivered to the notify callback from
// the stream-consumer goroutine.
type Event struct {
	Kind      EventKind
	MessageID string
	Err       error // set for EventFailed only
}

// =============================================================================
// CONTROLLER
// =============================================================================

// StreamOpener opens the chat event stream. Satisfied by *api.Client;
// narrowed to an interface so tests can script streams.
type StreamOpener interface {
	OpenChatStream(ctx context.Context, conversationID int64, req api.ChatRequest) (<-chan api.StreamEvent, error)
}

// SendOptions carries per-send flags.
type SendOptions struct {
	// DeepThinking asks the backend for its slower reasoning mode.
	DeepThinking bool
}

// Controller drives the transcript for one conversation session. At most one
// stream is active at a time; a second SendMessage while one is in flight is
// rejected with ErrBusy.
type Controller struct {
	mu sync.Mutex

	opener     StreamOpener
	transcript *model.Transcript
	notify     func(Event) // may be nil

	streaming bool
	cancel    context.CancelFunc
}

// NewController creates a controller over transcript. notify, when non-nil,
// receives controller events from the consumer goroutine; implementations
// must be safe to call from there (Bubble Tea programs forward to Send).
func NewController(opener StreamOpener, transcript *model.Transcript, notify func(Event)) *Controller {
	return &Controller{
		opener:     opener,
		transcript: transcript,
		notify:     notify,
	}
}

// Transcript returns the transcript this controller mutates.
func (c *Controller) Transcript() *model.Transcript {
	return c.transcript
}

// IsStreaming reports whether a stream is in flight. The loading guard for
// callers that serialize sends.
func (c *Controller) IsStreaming() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streaming
}

// SendMessage validates text, appends the user message and an open assistant
// placeholder, and opens the event stream for conversationID. The stream is
// consumed on a background goroutine; progress is observable through the
// transcript and the notify callback. Returns synchronously once the stream
// is open.
//
// Errors: ErrEmptyMessage before any transcript mutation or network call;
// ErrBusy while another stream is in flight; transport errors from the open
// itself, resolved into the transcript under the same contract as stream
// faults (a cancelled open stays silent, a timeout leaves the soft notice,
// anything else leaves an inline error message).
func (c *Controller) SendMessage(ctx context.Context, conversationID int64, text string, opts SendOptions) error {
	if err := ValidateMessage(text); err != nil {
		return err
	}

	c.mu.Lock()
	if c.streaming {
		c.mu.Unlock()
		return ErrBusy
	}
	streamCtx, cancel := context.WithCancel(ctx)
	c.streaming = true
	c.cancel = cancel
	c.mu.Unlock()

	openID := c.transcript.BeginExchange(text)

	events, err := c.opener.OpenChatStream(streamCtx, conversationID, api.ChatRequest{
		Message:         text,
		UseDeepThinking: opts.DeepThinking,
	})
	if err != nil {
		// The open itself is a suspension point: a Cancel landing here must
		// stay silent, and a timeout degrades softly. Same contract as
		// mid-stream faults.
		c.fail(openID, err)
		return err
	}

	go c.consume(openID, events)
	return nil
}

// Cancel aborts the in-flight stream, if any. Safe to call at any time.
// A deliberate abort: partial content stays, no error is recorded.
func (c *Controller) Cancel() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// =============================================================================
// STREAM CONSUMPTION
// =============================================================================

// consume is the single-owner event loop for one stream. It applies events
// to the transcript in arrival order and emits exactly one terminal
// controller event.
func (c *Controller) consume(openID string, events <-chan api.StreamEvent) {
	for ev := range events {
		switch ev.Type {
		case api.EventDelta:
			c.transcript.AppendDelta(ev.Delta)
			c.emit(Event{Kind: EventDelta, MessageID: openID})

		case api.EventSources:
			c.transcript.AttachSources(mapCitations(ev.Sources))
			c.emit(Event{Kind: EventSources, MessageID: openID})

		case api.EventDone:
			c.transcript.CloseOpen()
			c.finish()
			c.emit(Event{Kind: EventCompleted, MessageID: openID})
			return

		case api.EventError:
			c.fail(openID, ev.Err)
			return
		}
	}

	// Channel closed without a terminal event; treat as a normal end.
	c.transcript.CloseOpen()
	c.finish()
	c.emit(Event{Kind: EventCompleted, MessageID: openID})
}

// fail resolves a transport fault into the transcript per the error
// contract: cancellation is silent, timeouts degrade to a soft notice, and
// partial content is never replaced by an error string.
func (c *Controller) fail(openID string, err error) {
	defer c.finish()

	switch {
	case errors.Is(err, context.Canceled):
		c.transcript.CloseOpen()
		c.emit(Event{Kind: EventCancelled, MessageID: openID})

	case api.IsTimeout(err):
		if c.transcript.HasOpenContent() {
			c.transcript.CloseOpen()
		} else {
			c.transcript.FailOpen(timeoutNotice)
		}
		c.emit(Event{Kind: EventSlow, MessageID: openID})

	default:
		if c.transcript.HasOpenContent() {
			// Partial success: keep what arrived, surface the fault
			// out-of-band only.
			c.transcript.CloseOpen()
		} else {
			c.transcript.FailOpen(errorPrefix + err.Error())
		}
		c.emit(Event{Kind: EventFailed, MessageID: openID, Err: err})
	}
}

// finish returns the controller to the idle state.
func (c *Controller) finish() {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.streaming = false
	c.mu.Unlock()
}

// emit delivers a controller event to the notify callback.
func (c *Controller) emit(ev Event) {
	if c.notify != nil {
		c.notify(ev)
	}
}

// mapCitations converts wire-level source entries into display citations,
// de-duplicated by (name, page) in first-seen order and capped.
func mapCitations(sources []api.SourceInfo) []model.SourceCitation {
	cits := make([]model.SourceCitation, 0, len(sources))
	for _, s := range sources {
		cits = append(cits, s.Citation())
	}
	return model.DedupCitations(cits)
}
