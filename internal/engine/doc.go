// LeadSync - Resumable Batch Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

/*
Package engine drives resumable, rate-limited synchronization runs from a
paginated source into an idempotent destination.

# Run lifecycle

A scheduled or manual sync goes through:

	Initializing  acquire the gate, create the job record (status running)
	Counting      count source records since lastRunFinishedAt (or the
	              bootstrap window on the first run)
	Preloading    fill the per-run reference cache from the destination
	Delivering    page through the source; per row: skip invalid identity,
	              resolve labels, upsert, attach, pace, flush, check cancel
	Finalizing    write completed or paused, release the gate

Progress is flushed on the first row and every FlushEvery rows. The job record
is re-read every CancelCheckEvery rows; a cancelled or deleted record stops the
loop without a final write. Any failure marks the job failed and releases the
gate with success=false, including panics.

# CSV imports

StartImport runs the same loop over an in-memory row list without touching
the gate. StartResume creates a continuation record seeded from a prior job
and positioned at a start index, so the prior record is never rewritten.

# Concurrency

A Run is owned by the goroutine executing it. The gate is the only mutual
exclusion between runs; the engine adds none of its own.
*/
package engine
