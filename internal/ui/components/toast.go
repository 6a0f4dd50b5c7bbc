// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package components

import (
	"sync"
	"time"

	"github.com/jeranaias/kbchat-tui/internal/ui/styles"
)

// =============================================================================
// TOAST NOTIFICATIONS
// =============================================================================

// ToastKind selects the toast styling.
type ToastKind int

const (
	ToastInfo ToastKind = iota
	ToastError
)

// Toast is one transient notification (stream failures with partial
// content, upload results, connection notices).
type Toast struct {
	Kind      ToastKind
	Message   string
	CreatedAt time.Time
	TTL       time.Duration
}

// Expired reports whether the toast should no longer be shown.
func (t Toast) Expired() bool {
	return time.Since(t.CreatedAt) >= t.TTL
}

// ToastManager holds the active toasts. Safe for concurrent use; stream
// events arrive from outside the UI loop.
type ToastManager struct {
	mu     sync.Mutex
	toasts []Toast
	theme  *styles.Theme
}

// NewToastManager creates an empty manager.
func NewToastManager(theme *styles.Theme) *ToastManager {
	return &ToastManager{theme: theme}
}

// AddInfo queues an informational toast.
func (m *ToastManager) AddInfo(message string) {
	m.add(Toast{Kind: ToastInfo, Message: message, CreatedAt: time.Now(), TTL: 4 * time.Second})
}

// AddError queues an error toast.
func (m *ToastManager) AddError(message string) {
	m.add(Toast{Kind: ToastError, Message: message, CreatedAt: time.Now(), TTL: 6 * time.Second})
}

func (m *ToastManager) add(t Toast) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.toasts = append(m.toasts, t)
}

// Active returns the non-expired toasts, pruning expired ones.
func (m *ToastManager) Active() []Toast {
	m.mu.Lock()
	defer m.mu.Unlock()

	live := m.toasts[:0]
	for _, t := range m.toasts {
		if !t.Expired() {
			live = append(live, t)
		}
	}
	m.toasts = live

	out := make([]Toast, len(live))
	copy(out, live)
	return out
}

// View renders the active toasts, one per line.
func (m *ToastManager) View() string {
	var out string
	for _, t := range m.Active() {
		style := m.theme.ToastInfo
		if t.Kind == ToastError {
			style = m.theme.ToastError
		}
		if out != "" {
			out += "\n"
		}
		out += style.Render(t.Message)
	}
	return out
}
