// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package api implements the HTTP client for the knowledge-base chat
// service.
//
// It covers the REST surface (auth, conversations, documents, templates,
// groups, admin users) and the server-sent-events chat stream. REST calls
// attach a bearer credential when one is available; the stream endpoint is
// consumed as a channel of typed events (delta, sources, done, error) so the
// session controller can run a single-owner event loop instead of re-entrant
// callbacks.
package api
