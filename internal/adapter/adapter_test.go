// LeadSync - Resumable Batch Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

package adapter

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestValidEmail(t *testing.T) {
	tests := []struct {
		email string
		want  bool
	}{
		{"ana@example.com", true},
		{"  ana@example.com ", true},
		{"not-an-email", false},
		{"", false},
		{"ana@", false},
		{"@example.com", false},
	}
	for _, tt := range tests {
		if got := ValidEmail(tt.email); got != tt.want {
			t.Errorf("ValidEmail(%q) = %v, want %v", tt.email, got, tt.want)
		}
	}
}

func TestHTTPErrorClassification(t *testing.T) {
	tests := []struct {
		status    int
		sentinel  error
		retryable bool
	}{
		{409, ErrAlreadyExists, false},
		{400, ErrInvalidData, false},
		{422, ErrInvalidData, false},
		{401, ErrUnauthorized, false},
		{403, ErrUnauthorized, false},
		{429, ErrRateLimited, true},
		{500, nil, true},
		{503, nil, true},
		{404, nil, false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.status), func(t *testing.T) {
			err := fmt.Errorf("wrapped: %w", &HTTPError{Op: "upsert", StatusCode: tt.status})
			if tt.sentinel != nil && !errors.Is(err, tt.sentinel) {
				t.Errorf("errors.Is(%d, %v) = false", tt.status, tt.sentinel)
			}
			if got := Retryable(err); got != tt.retryable {
				t.Errorf("Retryable(%d) = %v, want %v", tt.status, got, tt.retryable)
			}
		})
	}
}

func TestRetryable_NetworkErrors(t *testing.T) {
	if !Retryable(context.DeadlineExceeded) {
		t.Error("timeouts should be retryable")
	}
	if Retryable(nil) {
		t.Error("nil is not retryable")
	}
	if Retryable(ErrNotConfigured) {
		t.Error("configuration errors are not retryable")
	}
}

func TestIdentifier(t *testing.T) {
	if got := (SourceRecord{Key: "k", TransactionID: "tx"}).Identifier(); got != "tx" {
		t.Errorf("Identifier() = %q, want tx", got)
	}
	if got := (SourceRecord{Key: "k", Email: "a@b.co"}).Identifier(); got != "a@b.co" {
		t.Errorf("Identifier() = %q", got)
	}
}
