// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package restclient

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by Client methods. Callers should use
// errors.Is/As rather than string matching.
var (
	ErrAuth       = errors.New("restclient: authentication failed")
	ErrValidation = errors.New("restclient: request was rejected as invalid")
	ErrServer     = errors.New("restclient: server error")
	ErrTimeout    = errors.New("restclient: request timed out")
	ErrNetwork    = errors.New("restclient: network error")
)

// RateLimitedError indicates the server asked the client to back off for
// a specific duration before retrying.
type RateLimitedError struct {
	RetryAfterSeconds int
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("restclient: rate limited, retry after %ds", e.RetryAfterSeconds)
}

// UserMessage returns a short, user-facing description of err, matching
// the fixed strings each error kind produces regardless of the
// underlying transport detail.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var rl *RateLimitedError
	switch {
	case errors.As(err, &rl):
		return "Rate limited. Please slow down."
	case errors.Is(err, ErrAuth):
		return "Authentication failed. Please re-authenticate."
	case errors.Is(err, ErrTimeout):
		return "Request timed out. Press R to retry."
	case errors.Is(err, ErrNetwork):
		return "Network error. Press R to retry."
	case errors.Is(err, ErrValidation):
		return "Request was rejected: " + err.Error()
	default:
		return "Something went wrong: " + err.Error()
	}
}

// isRetryable reports whether err represents a transient condition worth
// retrying: rate limiting, network failures, and timeouts. Validation
// and auth failures are terminal.
func isRetryable(err error) bool {
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		return true
	}
	return errors.Is(err, ErrNetwork) || errors.Is(err, ErrTimeout) || errors.Is(err, ErrServer)
}
