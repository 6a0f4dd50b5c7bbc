// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// =============================================================================
// CLIENT CONSTANTS
// =============================================================================

const (
	// DefaultBaseURL is the default API root of the knowledge-base service.
	DefaultBaseURL = "http://localhost:8080/api"

	// DefaultTimeout bounds plain request/response calls. Streaming calls
	// are context-controlled and bypass this.
	DefaultTimeout = 30 * time.Second

	// MaxResponseSize is the maximum allowed response body size.
	MaxResponseSize = 10 * 1024 * 1024 // 10MB
)

var (
	// sharedHTTPClient serves request/response calls with connection pooling.
	sharedHTTPClient = &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
		},
		Timeout: DefaultTimeout,
	}

	// sharedStreamingClient serves SSE requests. No client timeout; the
	// caller's context bounds the stream lifetime.
	sharedStreamingClient = &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
		},
	}
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrUnauthorized indicates the bearer credential was missing, invalid,
	// or expired.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotFound indicates the addressed resource does not exist.
	ErrNotFound = errors.New("not found")

	// ErrRateLimited indicates too many requests were made.
	ErrRateLimited = errors.New("rate limited")
)

// APIError represents a non-OK response from the service.
type APIError struct {
	Status  int
	Message string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api error (HTTP %d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("api error (HTTP %d)", e.Status)
}

// Is maps well-known status codes onto sentinel errors.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden
	case ErrNotFound:
		return e.Status == http.StatusNotFound
	case ErrRateLimited:
		return e.Status == http.StatusTooManyRequests
	}
	return false
}

// errorBody is the JSON error envelope the service returns.
type errorBody struct {
	Message string `json:"message"`
}

// =============================================================================
// CLIENT
// =============================================================================

// TokenSource supplies the current bearer credential, or "" when the user is
// not authenticated.
type TokenSource func() string

// Client is the HTTP client for the knowledge-base service.
type Client struct {
	baseURL      string
	token        TokenSource
	httpClient   *http.Client
	streamClient *http.Client

	// limiter smooths bursts of CRUD calls from UI refreshes.
	limiter *rate.Limiter
}

// NewClient creates a client for the given API root. The token source may be
// nil for unauthenticated use (login, register).
func NewClient(baseURL string, token TokenSource) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if token == nil {
		token = func() string { return "" }
	}
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		token:        token,
		httpClient:   sharedHTTPClient,
		streamClient: sharedStreamingClient,
		limiter:      rate.NewLimiter(rate.Limit(10), 20),
	}
}

// BaseURL returns the configured API root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// setHeaders attaches the standard headers, including the bearer credential
// when one is available.
func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if tok := c.token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
}

// do performs a JSON request/response call. out may be nil for calls with an
// empty or ignored response body.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return parseErrorResponse(resp.StatusCode, raw)
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// parseErrorResponse builds an APIError from a non-OK response body.
func parseErrorResponse(status int, raw []byte) error {
	var eb errorBody
	if err := json.Unmarshal(raw, &eb); err == nil && eb.Message != "" {
		return &APIError{Status: status, Message: eb.Message}
	}
	return &APIError{Status: status, Message: strings.TrimSpace(string(raw))}
}

// =============================================================================
// AUTH
// =============================================================================

// Login authenticates and returns the user including a fresh bearer token.
func (c *Client) Login(ctx context.Context, username, password string) (*UserResponse, error) {
	var out UserResponse
	err := c.do(ctx, http.MethodPost, "/auth/login", LoginRequest{Username: username, Password: password}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Register creates a new account.
func (c *Client) Register(ctx context.Context, username, password, email string) (*UserResponse, error) {
	var out UserResponse
	err := c.do(ctx, http.MethodPost, "/auth/register", RegisterRequest{Username: username, Password: password, Email: email}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// CurrentUser fetches the authenticated user.
func (c *Client) CurrentUser(ctx context.Context) (*UserResponse, error) {
	var out UserResponse
	if err := c.do(ctx, http.MethodGet, "/auth/me", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ChangePassword updates the authenticated user's password.
func (c *Client) ChangePassword(ctx context.Context, current, next string) error {
	return c.do(ctx, http.MethodPut, "/auth/password", ChangePasswordRequest{CurrentPassword: current, NewPassword: next}, nil)
}

// =============================================================================
// CONVERSATIONS
// =============================================================================

// ListConversations returns the user's conversations.
func (c *Client) ListConversations(ctx context.Context) ([]ConversationResponse, error) {
	var out []ConversationResponse
	if err := c.do(ctx, http.MethodGet, "/conversations", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateConversation creates a conversation, optionally scoped to a template.
func (c *Client) CreateConversation(ctx context.Context, req ConversationCreateRequest) (*ConversationResponse, error) {
	var out ConversationResponse
	if err := c.do(ctx, http.MethodPost, "/conversations", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteConversation removes a conversation.
func (c *Client) DeleteConversation(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/conversations/%d", id), nil, nil)
}

// ConversationMessages returns the persisted history of a conversation.
func (c *Client) ConversationMessages(ctx context.Context, id int64) ([]ChatMessageDto, error) {
	var out []ChatMessageDto
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/conversations/%d/messages", id), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// TeamConversations lists public conversations for team audit.
func (c *Client) TeamConversations(ctx context.Context) ([]ConversationResponse, error) {
	var out []ConversationResponse
	if err := c.do(ctx, http.MethodGet, "/conversations/public", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// TeamConversationMessages returns the history of a public conversation.
func (c *Client) TeamConversationMessages(ctx context.Context, id int64) ([]ChatMessageDto, error) {
	var out []ChatMessageDto
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/conversations/%d/public/messages", id), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// =============================================================================
// DOCUMENTS
// =============================================================================

// ListDocuments returns the document library.
func (c *Client) ListDocuments(ctx context.Context) ([]DocumentDto, error) {
	var out []DocumentDto
	if err := c.do(ctx, http.MethodGet, "/documents", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteDocument removes a document.
func (c *Client) DeleteDocument(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/documents/"+url.PathEscape(id), nil, nil)
}

// UploadDocument uploads file content into a category. The name is used as
// the stored file name.
func (c *Client) UploadDocument(ctx context.Context, name string, content io.Reader, category string, isPublic bool) (*UploadResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return nil, fmt.Errorf("failed to build upload form: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return nil, fmt.Errorf("failed to read upload content: %w", err)
	}
	if err := mw.WriteField("category", category); err != nil {
		return nil, fmt.Errorf("failed to build upload form: %w", err)
	}
	if err := mw.WriteField("isPublic", fmt.Sprintf("%t", isPublic)); err != nil {
		return nil, fmt.Errorf("failed to build upload form: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize upload form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload", &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if tok := c.token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upload failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, parseErrorResponse(resp.StatusCode, raw)
	}

	var out UploadResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &out, nil
}

// IngestURL asks the service to fetch and ingest a web page as a document.
func (c *Client) IngestURL(ctx context.Context, req IngestURLRequest) (*UploadResponse, error) {
	var out UploadResponse
	if err := c.do(ctx, http.MethodPost, "/ingest-url", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// =============================================================================
// TEMPLATES
// =============================================================================

// ListTemplates returns templates visible to the user.
func (c *Client) ListTemplates(ctx context.Context) ([]TemplateDto, error) {
	var out []TemplateDto
	if err := c.do(ctx, http.MethodGet, "/templates", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateTemplate creates a conversation template.
func (c *Client) CreateTemplate(ctx context.Context, req TemplateCreateRequest) (*TemplateDto, error) {
	var out TemplateDto
	if err := c.do(ctx, http.MethodPost, "/templates", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateTemplate updates a template.
func (c *Client) UpdateTemplate(ctx context.Context, id int64, req TemplateCreateRequest) (*TemplateDto, error) {
	var out TemplateDto
	if err := c.do(ctx, http.MethodPut, fmt.Sprintf("/templates/%d", id), req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteTemplate removes a template.
func (c *Client) DeleteTemplate(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/templates/%d", id), nil, nil)
}

// =============================================================================
// GROUPS
// =============================================================================

// ListGroups returns all user groups.
func (c *Client) ListGroups(ctx context.Context) ([]UserGroupDto, error) {
	var out []UserGroupDto
	if err := c.do(ctx, http.MethodGet, "/groups", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GroupMembers returns the member user ids of a group.
func (c *Client) GroupMembers(ctx context.Context, id int64) ([]int64, error) {
	var out []int64
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/groups/%d/members", id), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateGroup creates a user group.
func (c *Client) CreateGroup(ctx context.Context, req GroupCreateRequest) (*UserGroupDto, error) {
	var out UserGroupDto
	if err := c.do(ctx, http.MethodPost, "/groups", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateGroup updates a user group.
func (c *Client) UpdateGroup(ctx context.Context, id int64, req GroupCreateRequest) (*UserGroupDto, error) {
	var out UserGroupDto
	if err := c.do(ctx, http.MethodPut, fmt.Sprintf("/groups/%d", id), req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteGroup removes a user group.
func (c *Client) DeleteGroup(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/groups/%d", id), nil, nil)
}

// =============================================================================
// ADMIN USERS
// =============================================================================

// ListUsers returns all users. Requires the ADMIN role.
func (c *Client) ListUsers(ctx context.Context) ([]AdminUserResponse, error) {
	var out []AdminUserResponse
	if err := c.do(ctx, http.MethodGet, "/admin/users", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateUser creates a user with group assignments.
func (c *Client) CreateUser(ctx context.Context, req CreateUserRequest) (*AdminUserResponse, error) {
	var out AdminUserResponse
	if err := c.do(ctx, http.MethodPost, "/admin/users", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateUser updates a user.
func (c *Client) UpdateUser(ctx context.Context, id int64, req CreateUserRequest) (*AdminUserResponse, error) {
	var out AdminUserResponse
	if err := c.do(ctx, http.MethodPut, fmt.Sprintf("/admin/users/%d", id), req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteUser removes a user.
func (c *Client) DeleteUser(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/admin/users/%d", id), nil, nil)
}

// ResetPassword resets a user's password and returns the generated one.
func (c *Client) ResetPassword(ctx context.Context, id int64) (*ResetPasswordResponse, error) {
	var out ResetPasswordResponse
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/admin/users/%d/reset-password", id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
