// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package components

import (
	"strings"

	"github.com/jeranaias/kbchat-tui/internal/model"
	"github.com/jeranaias/kbchat-tui/internal/ui/styles"
	"github.com/jeranaias/kbchat-tui/internal/util"
)

// =============================================================================
// DOCUMENT PROGRESS BAR
// =============================================================================

// ProgressBar renders ingestion progress for one document as a fixed-width
// bar plus a status label.
type ProgressBar struct {
	Width int
	theme *styles.Theme
}

// NewProgressBar creates a bar of the given inner width.
func NewProgressBar(width int, theme *styles.Theme) ProgressBar {
	if width < 4 {
		width = 4
	}
	return ProgressBar{Width: width, theme: theme}
}

// Render renders the bar for a progress record.
func (p ProgressBar) Render(rec model.DocumentProgressRecord) string {
	percent := rec.Progress
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	if rec.Status == model.StatusCompleted {
		percent = 100
	}

	filled := p.Width * percent / 100
	bar := p.theme.ProgressFilled.Render(strings.Repeat("█", filled)) +
		p.theme.ProgressEmpty.Render(strings.Repeat("░", p.Width-filled))

	return bar + " " + util.IntToString(percent) + "% " + StatusBadge(p.theme, rec.Status)
}

// StatusBadge renders a colored status label for a document.
func StatusBadge(theme *styles.Theme, status model.DocumentStatus) string {
	switch status {
	case model.StatusPending:
		return theme.StatusPending.Render("等待处理")
	case model.StatusProcessing:
		return theme.StatusWorking.Render("处理中")
	case model.StatusCompleted:
		return theme.StatusCompleted.Render("已完成")
	case model.StatusFailed:
		return theme.StatusFailed.Render("处理失败")
	default:
		return theme.StatusPending.Render(string(status))
	}
}
