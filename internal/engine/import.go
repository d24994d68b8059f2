// LeadSync - Resumable Batch Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

package engine

import (
	"context"
	"fmt"

	"github.com/tomtom215/leadsync/internal/adapter"
	"github.com/tomtom215/leadsync/internal/adapter/rowsource"
	"github.com/tomtom215/leadsync/internal/logging"
	"github.com/tomtom215/leadsync/internal/store"
)

// ImportOptions describes a CSV import. Rows are already normalized and
// filtered.
type ImportOptions struct {
	Rows []adapter.SourceRecord
	// Source names the origin platform, e.g. "hotmart".
	Source string
}

// StartImport creates a csv-import job over rows. Imports are not gated by
// the scheduler.
func (e *Engine) StartImport(ctx context.Context, opts ImportOptions) (*Run, error) {
	if len(opts.Rows) == 0 {
		return nil, ErrImportRowsRequired
	}
	if e.dest == nil {
		return nil, fmt.Errorf("import: %w", adapter.ErrNotConfigured)
	}
	job, err := e.createJob(ctx, &store.Job{
		Kind:        store.KindCSVImport,
		Status:      store.StatusRunning,
		Source:      opts.Source,
		Total:       int64(len(opts.Rows)),
		LastMessage: "initializing",
	})
	if err != nil {
		return nil, err
	}
	logging.Ctx(ctx).Info().Str("job_id", job.ID).Int("rows", len(opts.Rows)).Str("source", opts.Source).Msg("Import job created")
	return e.newRun(job, rowsource.New(opts.Rows), nil, false), nil
}

// RunImport runs an import to completion in the caller's goroutine.
func (e *Engine) RunImport(ctx context.Context, opts ImportOptions) (*Outcome, error) {
	run, err := e.StartImport(ctx, opts)
	if err != nil {
		return nil, err
	}
	return run.Execute(ctx)
}

// ResumeOptions continues a prior import.
type ResumeOptions struct {
	PriorJobID string
	Rows       []adapter.SourceRecord
	// StartIndex is the first row to process. A negative value means the
	// prior job's cursor.
	StartIndex int
}

// StartResume creates a continuation job: a new record pointing at the prior
// one, seeded with its counters and error samples, positioned at the start
// index. The prior record is left untouched.
func (e *Engine) StartResume(ctx context.Context, opts ResumeOptions) (*Run, error) {
	if len(opts.Rows) == 0 {
		return nil, ErrImportRowsRequired
	}
	if e.dest == nil {
		return nil, fmt.Errorf("resume: %w", adapter.ErrNotConfigured)
	}
	prior, err := e.jobs.GetJob(ctx, opts.PriorJobID)
	if err != nil {
		return nil, fmt.Errorf("read job %s: %w", opts.PriorJobID, err)
	}
	if prior.Status == store.StatusRunning || prior.Status == store.StatusQueued {
		return nil, fmt.Errorf("%w: %s", ErrPriorJobRunning, prior.ID)
	}

	start := int64(opts.StartIndex)
	if start < 0 {
		start = prior.Cursor
	}
	if start > int64(len(opts.Rows)) {
		return nil, fmt.Errorf("%w: %d > %d rows", ErrStartIndexOutOfRange, start, len(opts.Rows))
	}

	job, err := e.createJob(ctx, &store.Job{
		Kind:         store.KindCSVImport,
		Status:       store.StatusRunning,
		Source:       prior.Source,
		ResumedFrom:  prior.ID,
		Total:        int64(len(opts.Rows)),
		Cursor:       start,
		Counters:     prior.Counters,
		ErrorSamples: prior.ErrorSamples,
		LastMessage:  fmt.Sprintf("resuming from row %d", start),
	})
	if err != nil {
		return nil, err
	}
	logging.Ctx(ctx).Info().
		Str("job_id", job.ID).
		Str("resumed_from", prior.ID).
		Int64("start_index", start).
		Msg("Import resume job created")
	return e.newRun(job, rowsource.New(opts.Rows), nil, false), nil
}

// Resume runs a continuation to completion in the caller's goroutine.
func (e *Engine) Resume(ctx context.Context, opts ResumeOptions) (*Outcome, error) {
	run, err := e.StartResume(ctx, opts)
	if err != nil {
		return nil, err
	}
	return run.Execute(ctx)
}
