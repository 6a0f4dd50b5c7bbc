// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"strconv"

	"github.com/jeranaias/kbchat-tui/internal/model"
)

// =============================================================================
// AUTH TYPES
// =============================================================================

// UserResponse is returned by login, register, and /auth/me.
type UserResponse struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
	Role     string `json:"role"`
	Token    string `json:"token,omitempty"`
}

// LoginRequest is the body for /auth/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// RegisterRequest is the body for /auth/register.
type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Email    string `json:"email"`
}

// ChangePasswordRequest is the body for PUT /auth/password.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

// =============================================================================
// DOCUMENT TYPES
// =============================================================================

// DocumentDto is one entry of the document listing.
type DocumentDto struct {
	ID           string               `json:"id"`
	Name         string               `json:"name"`
	Category     string               `json:"category,omitempty"`
	Status       model.DocumentStatus `json:"status"`
	Progress     int                  `json:"progress,omitempty"`
	ErrorMessage string               `json:"errorMessage,omitempty"`
	UserID       int64                `json:"userId"`
	IsPublic     bool                 `json:"isPublic"`
	UploadedAt   string               `json:"uploadedAt"`
}

// UploadResponse is returned by /upload and /ingest-url.
type UploadResponse struct {
	DocumentID string `json:"documentId"`
	Message    string `json:"message"`
	IsPublic   bool   `json:"isPublic"`
}

// IngestURLRequest is the body for /ingest-url.
type IngestURLRequest struct {
	URL      string `json:"url"`
	IsPublic bool   `json:"isPublic,omitempty"`
	Category string `json:"category,omitempty"`
}

// =============================================================================
// CONVERSATION TYPES
// =============================================================================

// ConversationResponse describes one conversation.
type ConversationResponse struct {
	ID         int64  `json:"id"`
	Title      string `json:"title"`
	TemplateID int64  `json:"templateId,omitempty"`
	UserID     int64  `json:"userId,omitempty"`
	Username   string `json:"username,omitempty"`
	IsPublic   bool   `json:"isPublic,omitempty"`
	CreatedAt  string `json:"createdAt,omitempty"`
	UpdatedAt  string `json:"updatedAt,omitempty"`
}

// ConversationCreateRequest is the body for POST /conversations.
type ConversationCreateRequest struct {
	Title       string   `json:"title"`
	TemplateID  int64    `json:"templateId,omitempty"`
	DocumentIDs []string `json:"documentIds,omitempty"`
	IsPublic    bool     `json:"isPublic"`
}

// ChatMessageDto is one persisted message of a conversation history.
type ChatMessageDto struct {
	ID        int64  `json:"id"`
	Role      string `json:"role"` // "USER" or "ASSISTANT"
	Content   string `json:"content"`
	CreatedAt string `json:"createdAt"`
}

// ChatRequest is the body for the chat stream endpoint.
type ChatRequest struct {
	Message         string `json:"message"`
	UseDeepThinking bool   `json:"useDeepThinking,omitempty"`
}

// =============================================================================
// TEMPLATE TYPES
// =============================================================================

// TemplateDto describes a conversation template.
type TemplateDto struct {
	ID            int64    `json:"id"`
	Name          string   `json:"name"`
	Description   string   `json:"description,omitempty"`
	Icon          string   `json:"icon,omitempty"`
	DocumentCount int      `json:"documentCount,omitempty"`
	VisibleGroups []int64  `json:"visibleGroups,omitempty"`
	DocumentIDs   []string `json:"documentIds,omitempty"`
	Public        bool     `json:"public,omitempty"`
	CreatedAt     string   `json:"createdAt,omitempty"`
}

// TemplateCreateRequest is the body for template create/update.
type TemplateCreateRequest struct {
	Name            string   `json:"name"`
	Description     string   `json:"description,omitempty"`
	DocumentIDs     []string `json:"documentIds"`
	VisibleGroupIDs []int64  `json:"visibleGroupIds,omitempty"`
	IsPublic        bool     `json:"isPublic,omitempty"`
}

// =============================================================================
// GROUP AND ADMIN TYPES
// =============================================================================

// UserGroupDto describes a user group used for template access control.
type UserGroupDto struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	Description   string `json:"description,omitempty"`
	MemberCount   int    `json:"memberCount,omitempty"`
	TemplateCount int    `json:"templateCount,omitempty"`
	CreatedAt     string `json:"createdAt,omitempty"`
}

// GroupCreateRequest is the body for group create/update.
type GroupCreateRequest struct {
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	UserIDs     []int64 `json:"userIds"`
}

// AdminUserResponse describes a user as seen by an administrator.
type AdminUserResponse struct {
	ID              int64   `json:"id"`
	Username        string  `json:"username"`
	Email           string  `json:"email"`
	Role            string  `json:"role"`
	GroupIDs        []int64 `json:"groupIds,omitempty"`
	InitialPassword string  `json:"initialPassword,omitempty"`
	CreatedAt       string  `json:"createdAt,omitempty"`
}

// CreateUserRequest is the body for admin user create/update.
type CreateUserRequest struct {
	Username string  `json:"username"`
	Email    string  `json:"email"`
	Role     string  `json:"role"`
	GroupIDs []int64 `json:"groupIds"`
}

// ResetPasswordResponse is returned by the admin password reset endpoint.
type ResetPasswordResponse struct {
	NewPassword string `json:"newPassword"`
}

// =============================================================================
// STREAM WIRE TYPES
// =============================================================================

// SourceInfo is the wire form of one entry in a "sources" stream event.
type SourceInfo struct {
	ID         string  `json:"id"`
	DocumentID string  `json:"documentId"`
	Score      float64 `json:"score"`
	Metadata   struct {
		Source   string `json:"source,omitempty"`
		Page     any    `json:"page,omitempty"` // string or number on the wire
		Elements string `json:"elements,omitempty"`
	} `json:"metadata"`
}

// Citation maps the wire entry to a display citation, falling back to the
// unknown-document sentinel and the placeholder page marker when metadata is
// absent.
func (s SourceInfo) Citation() model.SourceCitation {
	c := model.SourceCitation{
		FileName: s.Metadata.Source,
		Page:     pageLabel(s.Metadata.Page),
	}
	if c.FileName == "" {
		c.FileName = model.UnknownSourceName
	}
	return c
}

// pageLabel renders the wire page value, which may arrive as a JSON string
// or number.
func pageLabel(v any) string {
	switch p := v.(type) {
	case string:
		if p != "" {
			return p
		}
	case float64:
		return strconv.FormatFloat(p, 'f', -1, 64)
	case int:
		return strconv.Itoa(p)
	}
	return model.UnknownPageLabel
}
