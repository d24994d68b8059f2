// LeadSync - Resumable Batch Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

// Package adapter defines the contracts between the engine and the external
// systems it moves records between, plus the shared error taxonomy.
package adapter

import (
	"context"
	"time"

	"github.com/tomtom215/leadsync/internal/validation"
)

// SourceRecord is one normalized row pulled from a source system.
type SourceRecord struct {
	// Key is the external transaction or lead id, used for diagnostics.
	Key   string `json:"key,omitempty"`
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
	Phone string `json:"phone,omitempty"`
	// TransactionID is set for rows that come from a sales platform export.
	TransactionID string     `json:"transactionId,omitempty"`
	Address       *Address   `json:"address,omitempty"`
	Labels        []string   `json:"labels,omitempty"`
	CreatedAt     *time.Time `json:"createdAt,omitempty"`
}

// Address is an optional postal address.
type Address struct {
	Street     string `json:"street,omitempty"`
	Number     string `json:"number,omitempty"`
	District   string `json:"district,omitempty"`
	City       string `json:"city,omitempty"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postalCode,omitempty"`
	Country    string `json:"country,omitempty"`
}

// Identifier returns the best human identifier for logs and error samples.
func (r SourceRecord) Identifier() string {
	switch {
	case r.Email != "":
		return r.Email
	case r.TransactionID != "":
		return r.TransactionID
	default:
		return r.Key
	}
}

// Source is a paginated pull-source.
type Source interface {
	// Count returns the number of records created at or after since; a nil
	// since counts everything.
	Count(ctx context.Context, since *time.Time) (int64, error)
	// FetchPage returns up to size records starting at offset. A short page
	// signals the end of the data.
	FetchPage(ctx context.Context, offset, size int, since *time.Time) ([]SourceRecord, error)
}

// UpsertResult distinguishes a new destination entity from an existing one.
// Both are successful outcomes.
type UpsertResult string

const (
	Created       UpsertResult = "created"
	AlreadyExists UpsertResult = "already-exists"
)

// Upserted is the destination's answer to an upsert.
type Upserted struct {
	ID     string
	Result UpsertResult
}

// Reference is a labeled destination entity such as a tag.
type Reference struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Destination is an idempotent push-destination with labeled references.
type Destination interface {
	Upsert(ctx context.Context, rec SourceRecord) (Upserted, error)
	// EnsureReference returns the id for label, creating it if needed. A
	// concurrent duplicate creation must resolve to the existing id.
	EnsureReference(ctx context.Context, label string) (string, error)
	ListReferences(ctx context.Context) ([]Reference, error)
	AttachReferences(ctx context.Context, targetID string, referenceIDs []string) error
}

// ValidEmail reports whether email is a usable identity key.
func ValidEmail(email string) bool {
	return validation.Email(email)
}
