// LeadSync - Resumable Batch Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

package engine

import (
	"context"
	"errors"
	"strings"

	"github.com/tomtom215/leadsync/internal/adapter"
	"github.com/tomtom215/leadsync/internal/logging"
	"github.com/tomtom215/leadsync/internal/refcache"
)

// RowOutcome is the counter a delivered row lands in.
type RowOutcome string

const (
	Succeeded RowOutcome = "succeeded"
	Failed    RowOutcome = "failed"
	Skipped   RowOutcome = "skipped"
)

// RowResult describes one delivery attempt.
type RowResult struct {
	Outcome RowOutcome
	// Upsert is set for succeeded rows.
	Upsert adapter.UpsertResult
	Err    error
	// Overflow marks failures of the invalid-data class, which are kept in
	// the separate overflow list instead of the bounded error samples.
	Overflow bool
	// Called reports whether the destination was contacted.
	Called bool
}

// Retryable reports whether a failed row may succeed if attempted again.
func (r RowResult) Retryable() bool {
	return r.Outcome == Failed && adapter.Retryable(r.Err)
}

// Deliverer applies the per-row delivery policy shared by the sequential
// run loop and the queue workers.
type Deliverer struct {
	dest         adapter.Destination
	refs         *refcache.Cache
	staticLabels []string
}

// NewDeliverer creates a Deliverer. refs must be scoped to one run.
func NewDeliverer(dest adapter.Destination, refs *refcache.Cache, staticLabels []string) *Deliverer {
	return &Deliverer{dest: dest, refs: refs, staticLabels: staticLabels}
}

// References exposes the run's reference cache.
func (d *Deliverer) References() *refcache.Cache {
	return d.refs
}

// Deliver skips rows without a usable email, resolves labels, upserts the
// record and attaches its references. "Already exists" is a success and a
// failed attach does not fail the row.
func (d *Deliverer) Deliver(ctx context.Context, rec adapter.SourceRecord) RowResult {
	if !adapter.ValidEmail(rec.Email) {
		return RowResult{Outcome: Skipped}
	}
	rec.Email = strings.TrimSpace(rec.Email)

	labels := make([]string, 0, len(rec.Labels)+len(d.staticLabels))
	labels = append(labels, rec.Labels...)
	labels = append(labels, d.staticLabels...)
	refIDs, refErr := d.refs.ResolveAll(ctx, labels)
	if refErr != nil {
		logging.Ctx(ctx).Warn().Err(refErr).Str("record", logging.MaskEmail(rec.Email)).Msg("Some labels could not be resolved")
	}

	up, err := d.dest.Upsert(ctx, rec)
	switch {
	case err == nil:
	case errors.Is(err, adapter.ErrAlreadyExists):
		up.Result = adapter.AlreadyExists
	default:
		return RowResult{
			Outcome:  Failed,
			Err:      err,
			Overflow: errors.Is(err, adapter.ErrInvalidData),
			Called:   true,
		}
	}

	if len(refIDs) > 0 && up.ID != "" {
		if err := d.dest.AttachReferences(ctx, up.ID, refIDs); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Str("record", logging.MaskEmail(rec.Email)).Msg("Attaching references failed")
		}
	}
	return RowResult{Outcome: Succeeded, Upsert: up.Result, Called: true}
}
