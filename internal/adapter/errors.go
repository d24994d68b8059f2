// LeadSync - Resumable Batch Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

package adapter

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrAlreadyExists marks a duplicate entity; callers treat it as success.
	ErrAlreadyExists = errors.New("adapter: already exists")

	// ErrInvalidData marks a record the destination rejected as malformed.
	ErrInvalidData = errors.New("adapter: invalid data")

	// ErrRateLimited is returned when retries on HTTP 429 are exhausted.
	ErrRateLimited = errors.New("adapter: rate limited")

	// ErrUnauthorized marks rejected credentials.
	ErrUnauthorized = errors.New("adapter: unauthorized")

	// ErrNotConfigured marks missing credentials or endpoints.
	ErrNotConfigured = errors.New("adapter: not configured")
)

// HTTPError is a non-2xx upstream response.
type HTTPError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: HTTP %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: HTTP %d: %s", e.Op, e.StatusCode, e.Body)
}

// Unwrap maps the status code onto the sentinel errors.
func (e *HTTPError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusConflict:
		return ErrAlreadyExists
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return ErrInvalidData
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrUnauthorized
	case http.StatusTooManyRequests:
		return ErrRateLimited
	}
	return nil
}

// Retryable reports whether err may succeed on a later attempt.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrAlreadyExists) || errors.Is(err, ErrInvalidData) ||
		errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrNotConfigured) {
		return false
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == http.StatusTooManyRequests || httpErr.StatusCode >= 500
	}
	return true
}
