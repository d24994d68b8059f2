// LeadSync - Resumable Batch Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/tomtom215/leadsync/internal/adapter"
	"github.com/tomtom215/leadsync/internal/gate"
	"github.com/tomtom215/leadsync/internal/logging"
	"github.com/tomtom215/leadsync/internal/metrics"
	"github.com/tomtom215/leadsync/internal/store"
)

// StopReason explains a run that ended without writing a final status.
type StopReason string

const (
	StopCancelled   StopReason = "cancelled"
	StopVanished    StopReason = "vanished"
	StopInterrupted StopReason = "interrupted"
)

// maxMessageLen bounds error text stored on a job.
const maxMessageLen = 500

// Outcome summarizes a finished run.
type Outcome struct {
	Decision gate.Decision `json:"decision"`
	Job      *store.Job    `json:"job,omitempty"`
	Stop     StopReason    `json:"stop,omitempty"`
}

// errTerminal aborts a final status write on a job that already ended.
var errTerminal = errors.New("job already terminal")

// Run is one started job. Its counters are owned by the goroutine that
// calls Execute; no other writer touches them.
type Run struct {
	e         *Engine
	decision  gate.Decision
	job       *store.Job
	src       adapter.Source
	since     *time.Time
	gated     bool
	deliverer *Deliverer

	counters store.Counters
	cursor   int64
	total    int64
	samples  []store.ErrorSample
	overflow []store.ErrorSample
	rows     int
	started  time.Time
	status   store.JobStatus
	executed atomic.Bool
}

// ID returns the job id.
func (r *Run) ID() string {
	return r.job.ID
}

// Job returns a snapshot of the job record as last written.
func (r *Run) Job() *store.Job {
	return r.job.Clone()
}

// Execute runs the state machine: counting, reference preload, the
// fetch/deliver loop and finalization. Panics are converted into a failed
// job and a released gate.
func (r *Run) Execute(ctx context.Context) (out *Outcome, err error) {
	if !r.executed.CompareAndSwap(false, true) {
		return nil, ErrRunStarted
	}
	ctx = logging.ContextWithJobID(ctx, r.job.ID)
	out = &Outcome{Decision: r.decision}

	metrics.SyncActiveRuns.Inc()
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("sync run %s panicked: %v", r.job.ID, p)
			logging.Ctx(ctx).Error().
				Interface("panic", p).
				Str("stack", string(debug.Stack())).
				Msg("Sync run panicked")
			r.fail(ctx, err)
		}
		metrics.SyncActiveRuns.Dec()
		metrics.RecordRun(string(r.job.Kind), string(r.status), r.e.clock.Now().Sub(r.started))
		out.Job = r.job.Clone()
	}()

	out.Stop, err = r.execute(ctx)
	return out, err
}

func (r *Run) execute(ctx context.Context) (StopReason, error) {
	log := logging.Ctx(ctx)
	log.Info().
		Str("kind", string(r.job.Kind)).
		Bool("gated", r.gated).
		Int64("cursor", r.cursor).
		Msg("Sync run started")

	total, err := r.src.Count(ctx, r.since)
	if err != nil {
		err = fmt.Errorf("count source records: %w", err)
		r.fail(ctx, err)
		return "", err
	}
	r.total = total

	if total == 0 {
		r.finish(ctx, store.StatusCompleted, "no new records")
		r.release(ctx, true)
		return "", nil
	}

	refs := r.deliverer.References().Preload(ctx)
	r.patch(ctx, store.JobPatch{
		Total:       &r.total,
		LastMessage: ptr(fmt.Sprintf("syncing %d records", total)),
	})
	log.Info().Int64("total", total).Int("references", refs).Msg("Counting complete")

	stop, err := r.loop(ctx)
	switch {
	case err != nil && ctx.Err() != nil:
		r.finish(ctx, store.StatusPaused, fmt.Sprintf("interrupted at %d of %d: %v", r.cursor, r.total, ctx.Err()))
		r.release(ctx, false)
		return StopInterrupted, nil
	case err != nil:
		r.fail(ctx, err)
		return "", err
	case stop != "":
		r.status = store.JobStatus(stop)
		log.Info().Str("stop", string(stop)).Int64("cursor", r.cursor).Msg("Sync run stopped by external change")
		r.release(ctx, false)
		return stop, nil
	}

	if r.cursor >= r.total {
		r.finish(ctx, store.StatusCompleted, fmt.Sprintf("completed: %d succeeded, %d failed, %d skipped", r.counters.Succeeded, r.counters.Failed, r.counters.Skipped))
	} else {
		r.finish(ctx, store.StatusPaused, fmt.Sprintf("paused at %d of %d", r.cursor, r.total))
	}
	r.release(ctx, true)
	return "", nil
}

// loop pages through the source from the cursor until the expected rows are
// consumed, a page comes back short, or the job is cancelled or deleted.
func (r *Run) loop(ctx context.Context) (StopReason, error) {
	cfg := r.e.cfg
	for r.cursor < r.total {
		page, err := r.src.FetchPage(ctx, int(r.cursor), cfg.PageSize, r.since)
		if err != nil {
			return "", fmt.Errorf("fetch page at offset %d: %w", r.cursor, err)
		}
		if len(page) == 0 {
			return "", nil
		}

		for i := range page {
			if r.cursor >= r.total {
				return "", nil
			}
			if err := ctx.Err(); err != nil {
				return "", err
			}

			res := r.deliverer.Deliver(ctx, page[i])
			r.record(page[i], res)
			if res.Called {
				if err := r.e.pacer.Wait(ctx); err != nil {
					return "", err
				}
			}

			r.rows++
			if r.rows == 1 || r.rows%cfg.FlushEvery == 0 {
				if stop := r.flush(ctx); stop != "" {
					return stop, nil
				}
			}
			if r.rows%cfg.CancelCheckEvery == 0 {
				if stop := r.checkCancelled(ctx); stop != "" {
					return stop, nil
				}
			}
		}

		if len(page) < cfg.PageSize {
			return "", nil
		}
	}
	return "", nil
}

func (r *Run) record(rec adapter.SourceRecord, res RowResult) {
	r.counters.Processed++
	r.cursor++
	switch res.Outcome {
	case Succeeded:
		r.counters.Succeeded++
	case Skipped:
		r.counters.Skipped++
	default:
		r.counters.Failed++
		sample := store.ErrorSample{
			Identifier: rec.Identifier(),
			Error:      logging.Truncate(res.Err.Error(), maxMessageLen),
			At:         r.e.clock.Now(),
		}
		if res.Overflow {
			r.overflow = append(r.overflow, sample)
		} else {
			r.samples = store.AppendSample(r.samples, sample, r.e.cfg.ErrorSampleCap)
		}
	}
	metrics.RecordRow(string(r.job.Kind), string(res.Outcome))
}

// flush writes coalesced progress. Write failures are tolerated; a missing
// record stops the run.
func (r *Run) flush(ctx context.Context) StopReason {
	if r.flushOverflow(ctx) {
		metrics.ProgressFlushes.WithLabelValues("vanished").Inc()
		return StopVanished
	}

	counters := r.counters
	cursor := r.cursor
	job, err := r.e.jobs.PatchJob(ctx, r.job.ID, store.JobPatch{
		Counters:     &counters,
		Cursor:       &cursor,
		LastMessage:  ptr(fmt.Sprintf("processed %d of %d", cursor, r.total)),
		ErrorSamples: r.samples,
	})
	switch {
	case errors.Is(err, store.ErrNotFound):
		metrics.ProgressFlushes.WithLabelValues("vanished").Inc()
		return StopVanished
	case err != nil:
		metrics.ProgressFlushes.WithLabelValues("error").Inc()
		logging.Ctx(ctx).Warn().Err(err).Int64("cursor", cursor).Msg("Progress flush failed, continuing")
		return ""
	}

	metrics.ProgressFlushes.WithLabelValues("ok").Inc()
	r.job = job
	r.e.publish(job)
	if r.gated {
		if err := r.e.gate.Heartbeat(ctx, r.job.ID); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Msg("Gate heartbeat failed")
		}
	}
	return ""
}

// flushOverflow appends pending invalid-data errors. It reports whether the
// job no longer exists; other failures keep the buffer for the next flush.
func (r *Run) flushOverflow(ctx context.Context) bool {
	if len(r.overflow) == 0 {
		return false
	}
	err := r.e.jobs.AppendOverflowErrors(ctx, r.job.ID, r.overflow)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return true
	case err != nil:
		logging.Ctx(ctx).Warn().Err(err).Int("pending", len(r.overflow)).Msg("Overflow error flush failed")
		return false
	}
	r.overflow = r.overflow[:0]
	return false
}

func (r *Run) checkCancelled(ctx context.Context) StopReason {
	job, err := r.e.jobs.GetJob(ctx, r.job.ID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return StopVanished
	case err != nil:
		logging.Ctx(ctx).Warn().Err(err).Msg("Cancellation check failed, continuing")
		return ""
	case job.Status == store.StatusCancelled:
		r.job.Status = store.StatusCancelled
		return StopCancelled
	}
	return ""
}

// patch is a best-effort intermediate write.
func (r *Run) patch(ctx context.Context, p store.JobPatch) {
	job, err := r.e.jobs.PatchJob(ctx, r.job.ID, p)
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Msg("Job update failed")
		return
	}
	r.job = job
	r.e.publish(job)
}

// finish writes the final counters and status unless the job was already
// ended externally. Failures are logged and swallowed: the side effects at
// the destination have happened either way.
func (r *Run) finish(ctx context.Context, status store.JobStatus, message string) {
	ctx = context.WithoutCancel(ctx)
	r.flushOverflow(ctx)
	r.status = status

	var current store.JobStatus
	job, err := r.e.jobs.UpdateJob(ctx, r.job.ID, func(j *store.Job) error {
		current = j.Status
		if j.Status.Terminal() {
			return errTerminal
		}
		j.Status = status
		j.Total = r.total
		j.Cursor = r.cursor
		j.Counters = r.counters
		j.LastMessage = message
		j.ErrorSamples = append([]store.ErrorSample(nil), r.samples...)
		return nil
	})

	log := logging.Ctx(ctx)
	switch {
	case errors.Is(err, errTerminal):
		r.status = current
		r.job.Status = current
		log.Info().Str("status", string(current)).Msg("Job already ended, final status kept")
	case errors.Is(err, store.ErrNotFound):
		r.status = StatusVanished
		log.Warn().Msg("Job record vanished before the final write")
	case err != nil:
		r.job.Status = status
		r.job.Counters = r.counters
		r.job.Cursor = r.cursor
		log.Error().Err(err).Str("status", string(status)).Msg("Final job status write failed")
	default:
		r.job = job
		log.Info().
			Str("status", string(status)).
			Int64("processed", job.Processed).
			Int64("succeeded", job.Succeeded).
			Int64("failed", job.Failed).
			Int64("skipped", job.Skipped).
			Msg(message)
	}
	r.e.publish(r.job)
}

func (r *Run) fail(ctx context.Context, err error) {
	r.finish(ctx, store.StatusFailed, logging.Truncate(err.Error(), maxMessageLen))
	r.release(ctx, false)
}

func (r *Run) release(ctx context.Context, success bool) {
	if r.gated {
		r.e.release(ctx, success)
	}
}

// StatusVanished labels metrics for runs whose record was deleted.
const StatusVanished store.JobStatus = "vanished"

func ptr[T any](v T) *T {
	return &v
}
