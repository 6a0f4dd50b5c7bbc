// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package documents

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/kbchat-tui/internal/api"
	"github.com/jeranaias/kbchat-tui/internal/model"
	"github.com/jeranaias/kbchat-tui/internal/ui/styles"
)

// fakeProgress is an in-memory ProgressSource.
type fakeProgress struct {
	records map[string]model.DocumentProgressRecord
	cleared []string
}

func (f *fakeProgress) GetProgress(id string) (model.DocumentProgressRecord, bool) {
	rec, ok := f.records[id]
	return rec, ok
}

func (f *fakeProgress) ClearProgress(id string) {
	delete(f.records, id)
	f.cleared = append(f.cleared, id)
}

func testDocsModel(progress ProgressSource) *Model {
	client := api.NewClient("http://localhost:8080/api", nil)
	m := New(client, progress, styles.NewTheme("dark"))
	m.width = 100
	m.height = 30
	m.ready = true
	return m
}

func TestDisplayRecordPrefersLiveProgress(t *testing.T) {
	live := &fakeProgress{records: map[string]model.DocumentProgressRecord{
		"d1": {DocumentID: "d1", Status: model.StatusProcessing, Progress: 80},
	}}
	m := testDocsModel(live)

	doc := api.DocumentDto{ID: "d1", Name: "员工手册.pdf", Status: model.StatusPending, Progress: 0}
	rec := m.displayRecord(doc)
	if rec.Status != model.StatusProcessing || rec.Progress != 80 {
		t.Errorf("live record should win: %+v", rec)
	}
}

func TestDisplayRecordFallsBackToListing(t *testing.T) {
	m := testDocsModel(&fakeProgress{records: map[string]model.DocumentProgressRecord{}})

	doc := api.DocumentDto{ID: "d2", Name: "a.pdf", Status: model.StatusCompleted, Progress: 100}
	rec := m.displayRecord(doc)
	if rec.Status != model.StatusCompleted {
		t.Errorf("listing status should be used without a live record: %+v", rec)
	}
}

func TestDisplayRecordNilSource(t *testing.T) {
	m := testDocsModel(nil)
	doc := api.DocumentDto{ID: "d3", Status: model.StatusFailed, ErrorMessage: "解析失败"}
	rec := m.displayRecord(doc)
	if rec.Status != model.StatusFailed || rec.ErrorMessage != "解析失败" {
		t.Errorf("nil source should fall back to the listing: %+v", rec)
	}
}

func TestDocumentsLoadedPopulatesList(t *testing.T) {
	m := testDocsModel(nil)

	m.Update(DocumentsLoadedMsg{Docs: []api.DocumentDto{
		{ID: "d1", Name: "a.pdf"},
		{ID: "d2", Name: "b.pdf"},
	}})

	if m.loading {
		t.Error("loading flag should clear")
	}
	if len(m.docs) != 2 {
		t.Fatalf("expected 2 docs, got %d", len(m.docs))
	}
}

func TestDeleteRemovesDocAndClearsProgress(t *testing.T) {
	live := &fakeProgress{records: map[string]model.DocumentProgressRecord{
		"d1": {DocumentID: "d1", Status: model.StatusCompleted, Progress: 100},
	}}
	m := testDocsModel(live)
	m.docs = []api.DocumentDto{{ID: "d1", Name: "a.pdf"}, {ID: "d2", Name: "b.pdf"}}

	m.Update(DocumentDeletedMsg{ID: "d1"})

	if len(m.docs) != 1 || m.docs[0].ID != "d2" {
		t.Errorf("doc not removed: %+v", m.docs)
	}
	if len(live.cleared) != 1 || live.cleared[0] != "d1" {
		t.Error("progress record not cleared on delete")
	}
}

func TestSelectionNavigationClamps(t *testing.T) {
	m := testDocsModel(nil)
	m.docs = []api.DocumentDto{{ID: "d1"}, {ID: "d2"}}

	m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("k")})
	if m.selected != 0 {
		t.Error("selection must not go above the first row")
	}

	m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("j")})
	m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("j")})
	if m.selected != 1 {
		t.Errorf("selection must clamp to the last row, got %d", m.selected)
	}
}

func TestViewShowsFailureMessage(t *testing.T) {
	m := testDocsModel(nil)
	m.loading = false
	m.docs = []api.DocumentDto{{
		ID: "d1", Name: "bad.pdf", Status: model.StatusFailed, ErrorMessage: "解析失败",
	}}

	view := m.View()
	if !strings.Contains(view, "解析失败") {
		t.Error("failed document should show its error message")
	}
	if !strings.Contains(view, "处理失败") {
		t.Error("failed status badge missing")
	}
}

func TestViewEmptyList(t *testing.T) {
	m := testDocsModel(nil)
	m.loading = false

	if !strings.Contains(m.View(), "暂无文档") {
		t.Error("empty listing should say so")
	}
}
