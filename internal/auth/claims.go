// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package auth

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrNoUserClaim indicates the token carries neither a userId nor a
	// sub claim the client can use to address per-user channels.
	ErrNoUserClaim = errors.New("token has no user identity claim")
)

// UserIDFromToken extracts the user identity from a bearer token without
// verifying the signature. The server is the authority on token validity;
// the client only needs the identity to subscribe to its own progress
// queue. Prefers the userId claim, falls back to the standard sub claim.
func UserIDFromToken(token string) (string, error) {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return "", fmt.Errorf("failed to decode token: %w", err)
	}

	if id := claimString(claims, "userId"); id != "" {
		return id, nil
	}
	if id := claimString(claims, "sub"); id != "" {
		return id, nil
	}
	return "", ErrNoUserClaim
}

// claimString renders a claim value as a string. Numeric claims decode
// as float64 from JSON and are formatted without a fraction.
func claimString(claims jwt.MapClaims, key string) string {
	v, ok := claims[key]
	if !ok {
		return ""
	}
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatInt(int64(val), 10)
	case int64:
		return strconv.FormatInt(val, 10)
	default:
		return ""
	}
}
