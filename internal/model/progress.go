// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

// =============================================================================
// DOCUMENT STATUS
// =============================================================================

// DocumentStatus is the ingestion state of an uploaded document as reported
// by the processing pipeline.
type DocumentStatus string

const (
	StatusPending    DocumentStatus = "PENDING"
	StatusProcessing DocumentStatus = "PROCESSING"
	StatusCompleted  DocumentStatus = "COMPLETED"
	StatusFailed     DocumentStatus = "FAILED"
)

// IsTerminal reports whether no further updates are expected for this status.
func (s DocumentStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether the status is one of the known pipeline states.
func (s DocumentStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// =============================================================================
// PROGRESS RECORD
// =============================================================================

// DocumentProgressRecord is the latest known ingestion status for one
// document. Records are last-write-wins: a new notification for the same
// document id fully replaces the previous record.
//
// Consumers must tolerate missing intermediate states; after a reconnect gap
// a document may go from PENDING straight to COMPLETED.
type DocumentProgressRecord struct {
	DocumentID   string         `json:"documentId"`
	Status       DocumentStatus `json:"status"`
	Progress     int            `json:"progress"`
	ErrorMessage string         `json:"errorMessage,omitempty"`
}
