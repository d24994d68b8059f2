// LeadSync - Resumable Batch Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

// Package rowsource serves a pre-parsed row list through adapter.Source so
// CSV imports run through the same engine loop as API pulls.
package rowsource

import (
	"context"
	"time"

	"github.com/tomtom215/leadsync/internal/adapter"
)

// Source is an immutable in-memory record list. The since filter is ignored;
// imports resume by index.
type Source struct {
	rows []adapter.SourceRecord
}

var _ adapter.Source = (*Source)(nil)

// New wraps rows. The slice is not copied and must not be modified afterwards.
func New(rows []adapter.SourceRecord) *Source {
	return &Source{rows: rows}
}

// Count returns the number of rows.
func (s *Source) Count(ctx context.Context, _ *time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return int64(len(s.rows)), nil
}

// FetchPage returns rows[offset:offset+size], clamped.
func (s *Source) FetchPage(ctx context.Context, offset, size int, _ *time.Time) ([]adapter.SourceRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if offset < 0 {
		offset = 0
	}
	if offset >= len(s.rows) || size <= 0 {
		return nil, nil
	}
	end := offset + size
	if end > len(s.rows) {
		end = len(s.rows)
	}
	return s.rows[offset:end], nil
}

// Rows returns the underlying list.
func (s *Source) Rows() []adapter.SourceRecord {
	return s.rows
}
