// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package styles

import (
	"strings"
	"testing"
)

func TestNewThemeModes(t *testing.T) {
	dark := NewTheme("dark")
	if !dark.IsDark {
		t.Error("dark mode not forced")
	}
	light := NewTheme("light")
	if light.IsDark {
		t.Error("light mode not forced")
	}
	// auto must not panic and must produce initialized styles
	auto := NewTheme("auto")
	if auto.UserBubble.GetPaddingLeft() != 1 {
		t.Error("styles not initialized")
	}
}

func TestThemeResize(t *testing.T) {
	th := NewTheme("dark")
	th.Resize(120, 40)
	if th.Width != 120 || th.Height != 40 {
		t.Errorf("resize not recorded: %dx%d", th.Width, th.Height)
	}
}

func TestStatusRenderersIncludeIndicator(t *testing.T) {
	if !strings.Contains(RenderSuccess("done"), StatusIndicators.Success) {
		t.Error("success indicator missing")
	}
	if !strings.Contains(RenderError("boom"), StatusIndicators.Error) {
		t.Error("error indicator missing")
	}
	if !strings.Contains(RenderWarning("careful"), StatusIndicators.Warning) {
		t.Error("warning indicator missing")
	}
	if !strings.Contains(RenderInfo("note"), StatusIndicators.Info) {
		t.Error("info indicator missing")
	}
}
