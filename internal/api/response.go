// LeadSync - Resumable Batch Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/goccy/go-json"

	"github.com/tomtom215/leadsync/internal/adapter"
	"github.com/tomtom215/leadsync/internal/csvimport"
	"github.com/tomtom215/leadsync/internal/engine"
	"github.com/tomtom215/leadsync/internal/gate"
	"github.com/tomtom215/leadsync/internal/logging"
	"github.com/tomtom215/leadsync/internal/queue"
	"github.com/tomtom215/leadsync/internal/store"
	"github.com/tomtom215/leadsync/internal/validation"
)

// maxBodyBytes bounds request bodies; imports carry raw rows.
const maxBodyBytes = 32 << 20

// Response is the envelope of every endpoint.
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
	Error   *APIError   `json:"error,omitempty"`
}

// APIError is the machine readable part of a failed response.
type APIError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// Error codes.
const (
	CodeValidation       = "VALIDATION_ERROR"
	CodeInvalidBody      = "INVALID_BODY"
	CodeNotFound         = "NOT_FOUND"
	CodeConflict         = "CONFLICT"
	CodeNotConfigured    = "NOT_CONFIGURED"
	CodeUpstream         = "UPSTREAM_ERROR"
	CodeUnavailable      = "SERVICE_UNAVAILABLE"
	CodeInternal         = "INTERNAL_ERROR"
	CodeNoRows           = "NO_ROWS"
	CodeStartIndexBounds = "START_INDEX_OUT_OF_RANGE"
)

// sanitizeLogValue escapes control characters so request data cannot forge
// log lines.
func sanitizeLogValue(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r < 0x20 || r == 0x7F {
			fmt.Fprintf(&b, "\\x%02x", r)
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func respondJSON(w http.ResponseWriter, status int, resp *Response) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")

	data, err := json.Marshal(resp)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		logging.Debug().Err(err).Msg("Failed to write JSON response")
	}
}

func respondOK(w http.ResponseWriter, status int, message string, data interface{}) {
	respondJSON(w, status, &Response{Success: true, Message: message, Data: data})
}

func respondError(w http.ResponseWriter, r *http.Request, status int, code, message string, err error) {
	if err != nil {
		ev := logging.Ctx(r.Context()).Warn()
		if status >= http.StatusInternalServerError {
			ev = logging.Ctx(r.Context()).Error()
		}
		ev.Str("code", code).Str("path", r.URL.Path).Str("error", sanitizeLogValue(err.Error())).Msg("API error")
	}
	respondJSON(w, status, &Response{
		Success: false,
		Message: message,
		Error:   &APIError{Code: code, Message: message},
	})
}

func respondValidation(w http.ResponseWriter, verr *validation.RequestValidationError) {
	respondJSON(w, http.StatusBadRequest, &Response{
		Success: false,
		Message: verr.Error(),
		Error:   &APIError{Code: CodeValidation, Message: verr.Error(), Details: verr.Fields},
	})
}

// classify maps a domain error to a status and code: client errors for
// bad input and state conflicts, server errors for store, upstream and
// configuration failures.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, engine.ErrImportRowsRequired):
		return http.StatusBadRequest, CodeNoRows
	case errors.Is(err, engine.ErrStartIndexOutOfRange):
		return http.StatusBadRequest, CodeStartIndexBounds
	case errors.Is(err, gate.ErrInvalidInterval),
		errors.Is(err, csvimport.ErrUnknownPlatform):
		return http.StatusBadRequest, CodeValidation
	case errors.Is(err, engine.ErrJobNotActive),
		errors.Is(err, engine.ErrPriorJobRunning),
		errors.Is(err, store.ErrAlreadyExists):
		return http.StatusConflict, CodeConflict
	case errors.Is(err, adapter.ErrNotConfigured):
		return http.StatusServiceUnavailable, CodeNotConfigured
	case errors.Is(err, queue.ErrNotRunning):
		return http.StatusServiceUnavailable, CodeUnavailable
	case errors.Is(err, adapter.ErrUnauthorized),
		errors.Is(err, adapter.ErrRateLimited):
		return http.StatusBadGateway, CodeUpstream
	default:
		var httpErr *adapter.HTTPError
		if errors.As(err, &httpErr) {
			return http.StatusBadGateway, CodeUpstream
		}
		return http.StatusInternalServerError, CodeInternal
	}
}

func respondDomainError(w http.ResponseWriter, r *http.Request, message string, err error) {
	status, code := classify(err)
	if status < http.StatusInternalServerError {
		message = message + ": " + err.Error()
	}
	respondError(w, r, status, code, message, err)
}

// decodeJSON reads the body into v. An empty body leaves v untouched when
// allowEmpty is set.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}, allowEmpty bool) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return true
		}
		respondError(w, r, http.StatusBadRequest, CodeInvalidBody, "Invalid JSON body: "+err.Error(), nil)
		return false
	}
	return true
}
