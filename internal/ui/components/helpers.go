// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package components provides the visual UI components for the kbchat TUI.
package components

import (
	"strings"

	"github.com/jeranaias/kbchat-tui/internal/util"
)

// wordWrap wraps text to the given display width, preserving existing line
// breaks. Width-aware so CJK text wraps correctly.
func wordWrap(text string, width int) string {
	if width <= 0 {
		return text
	}

	var out []string
	for _, line := range strings.Split(text, "\n") {
		out = append(out, wrapLine(line, width)...)
	}
	return strings.Join(out, "\n")
}

func wrapLine(line string, width int) []string {
	if util.StringWidth(line) <= width {
		return []string{line}
	}

	var (
		wrapped []string
		current strings.Builder
		cw      int
	)
	flush := func() {
		wrapped = append(wrapped, current.String())
		current.Reset()
		cw = 0
	}

	for _, word := range strings.Split(line, " ") {
		ww := util.StringWidth(word)

		// A single word wider than the line is broken by runes.
		for ww > width {
			if cw > 0 {
				flush()
			}
			runes := []rune(word)
			cut := 0
			w := 0
			for i, r := range runes {
				rw := util.StringWidth(string(r))
				if w+rw > width {
					break
				}
				w += rw
				cut = i + 1
			}
			wrapped = append(wrapped, string(runes[:cut]))
			word = string(runes[cut:])
			ww = util.StringWidth(word)
		}

		sep := 0
		if cw > 0 {
			sep = 1
		}
		if cw+sep+ww > width {
			flush()
			sep = 0
		}
		if sep == 1 {
			current.WriteByte(' ')
			cw++
		}
		current.WriteString(word)
		cw += ww
	}
	if current.Len() > 0 || len(wrapped) == 0 {
		flush()
	}
	return wrapped
}

// maxLineWidth returns the display width of the widest line.
func maxLineWidth(text string) int {
	max := 0
	for _, line := range strings.Split(text, "\n") {
		if w := util.StringWidth(line); w > max {
			max = w
		}
	}
	return max
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
