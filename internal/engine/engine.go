// LeadSync - Resumable Batch Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/leadsync/internal/adapter"
	"github.com/tomtom215/leadsync/internal/clock"
	"github.com/tomtom215/leadsync/internal/gate"
	"github.com/tomtom215/leadsync/internal/logging"
	"github.com/tomtom215/leadsync/internal/ratelimit"
	"github.com/tomtom215/leadsync/internal/refcache"
	"github.com/tomtom215/leadsync/internal/store"
)

var (
	// ErrImportRowsRequired is returned when an import has no rows.
	ErrImportRowsRequired = errors.New("engine: import requires at least one row")

	// ErrJobNotActive is returned when cancelling a job that already ended.
	ErrJobNotActive = errors.New("engine: job is not active")

	// ErrPriorJobRunning is returned when resuming a job that is still running.
	ErrPriorJobRunning = errors.New("engine: prior job is still running")

	// ErrStartIndexOutOfRange is returned for a resume index past the rows.
	ErrStartIndexOutOfRange = errors.New("engine: start index out of range")

	// ErrRunStarted is returned when Execute is called twice on a Run.
	ErrRunStarted = errors.New("engine: run already executed")
)

// Config tunes the run loop.
type Config struct {
	PageSize         int
	FlushEvery       int
	CancelCheckEvery int
	InterCallDelay   time.Duration
	BootstrapWindow  time.Duration
	ErrorSampleCap   int
	StaticLabels     []string
	// RunTimeout bounds runs started in the background.
	RunTimeout time.Duration
	// SourceName is recorded on sync jobs.
	SourceName string
}

// DefaultConfig returns the production cadence.
func DefaultConfig() Config {
	return Config{
		PageSize:         100,
		FlushEvery:       10,
		CancelCheckEvery: 50,
		InterCallDelay:   time.Second,
		BootstrapWindow:  time.Hour,
		ErrorSampleCap:   store.MaxErrorSamples,
		RunTimeout:       6 * time.Hour,
		SourceName:       "datacrazy",
	}
}

// ProgressPublisher receives job snapshots at every flush and at the end of
// a run.
type ProgressPublisher interface {
	PublishProgress(job *store.Job)
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the clock.
func WithClock(clk clock.Clock) Option {
	return func(e *Engine) { e.clock = clk }
}

// WithProgress registers a progress observer.
func WithProgress(p ProgressPublisher) Option {
	return func(e *Engine) { e.progress = p }
}

// WithIDGenerator overrides job id generation.
func WithIDGenerator(fn func() string) Option {
	return func(e *Engine) { e.newID = fn }
}

// WithBaseContext sets the parent of background runs. Cancelling it
// interrupts them.
func WithBaseContext(ctx context.Context) Option {
	return func(e *Engine) { e.base = ctx }
}

// Engine drives synchronization runs. Source and destination may be nil when
// unconfigured; runs then fail with adapter.ErrNotConfigured.
//
// A run walks the source from the job cursor one page at a time and delivers
// each row through a Deliverer. Within the loop:
//   - the first row and every FlushEvery rows flush counters, the cursor and
//     pending overflow errors, and heartbeat the gate for scheduled runs
//   - every CancelCheckEvery rows the stored status is re-read so an
//     operator cancel or a deleted job stops the run
//   - every destination call is followed by the fixed inter-call delay
//
// A run that consumes every expected row completes. One whose source runs dry
// early or whose context ends is paused so it can be resumed from its cursor.
//
// Usage:
//
//	e := engine.New(jobs, g, src, dest, engine.DefaultConfig(),
//		engine.WithClock(clk), engine.WithProgress(hub))
//	decision, job, err := e.Trigger(ctx, engine.RunOptions{Manual: true})
type Engine struct {
	jobs     store.JobStore
	gate     *gate.Gate
	source   adapter.Source
	dest     adapter.Destination
	pacer    *ratelimit.Pacer
	clock    clock.Clock
	cfg      Config
	progress ProgressPublisher
	newID    func() string
	base     context.Context
	wg       sync.WaitGroup
}

// New creates an Engine.
func New(jobs store.JobStore, g *gate.Gate, src adapter.Source, dest adapter.Destination, cfg Config, opts ...Option) *Engine {
	def := DefaultConfig()
	if cfg.PageSize <= 0 {
		cfg.PageSize = def.PageSize
	}
	if cfg.FlushEvery <= 0 {
		cfg.FlushEvery = def.FlushEvery
	}
	if cfg.CancelCheckEvery <= 0 {
		cfg.CancelCheckEvery = def.CancelCheckEvery
	}
	if cfg.BootstrapWindow <= 0 {
		cfg.BootstrapWindow = def.BootstrapWindow
	}
	if cfg.ErrorSampleCap <= 0 {
		cfg.ErrorSampleCap = def.ErrorSampleCap
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = def.RunTimeout
	}
	if cfg.SourceName == "" {
		cfg.SourceName = def.SourceName
	}

	e := &Engine{
		jobs:   jobs,
		gate:   g,
		source: src,
		dest:   dest,
		clock:  clock.New(),
		cfg:    cfg,
		newID:  uuid.NewString,
		base:   context.Background(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.pacer = ratelimit.NewPacer(cfg.InterCallDelay, e.clock)
	return e
}

// Config returns the effective configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// RunOptions selects how a sync run starts.
type RunOptions struct {
	// Manual bypasses the schedule checks of the gate.
	Manual bool
	// Kind is incremental (default) or full. Full runs ignore the since
	// filter.
	Kind store.JobKind
}

// Start acquires the gate and creates the job record. A denied acquire
// returns a nil Run and a nil error; the decision explains the denial.
func (e *Engine) Start(ctx context.Context, opts RunOptions) (*Run, gate.Decision, error) {
	if opts.Kind == "" {
		opts.Kind = store.KindIncremental
	}
	if opts.Kind != store.KindIncremental && opts.Kind != store.KindFull {
		return nil, gate.Decision{}, fmt.Errorf("unsupported sync kind %q", opts.Kind)
	}

	d, err := e.gate.TryAcquire(ctx, opts.Manual)
	if err != nil {
		return nil, d, err
	}
	if !d.Granted {
		logging.Ctx(ctx).Info().Str("reason", string(d.Reason)).Msg(d.Message)
		return nil, d, nil
	}

	if e.source == nil || e.dest == nil {
		e.release(ctx, false)
		return nil, d, fmt.Errorf("sync run: %w", adapter.ErrNotConfigured)
	}

	var since *time.Time
	if opts.Kind == store.KindIncremental {
		if d.Since != nil {
			since = d.Since
		} else {
			s := e.clock.Now().Add(-e.cfg.BootstrapWindow)
			since = &s
		}
	}

	job, err := e.createJob(ctx, &store.Job{
		Kind:        opts.Kind,
		Status:      store.StatusRunning,
		Source:      e.cfg.SourceName,
		LastMessage: "initializing",
	})
	if err != nil {
		e.release(ctx, false)
		return nil, d, err
	}
	if err := e.gate.Bind(ctx, job.ID); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("job_id", job.ID).Msg("Failed to bind gate to job")
	}

	run := e.newRun(job, e.source, since, true)
	run.decision = d
	return run, d, nil
}

// RunSync runs a gated sync to completion in the caller's goroutine.
func (e *Engine) RunSync(ctx context.Context, opts RunOptions) (*Outcome, error) {
	run, d, err := e.Start(ctx, opts)
	if err != nil {
		return &Outcome{Decision: d}, err
	}
	if run == nil {
		return &Outcome{Decision: d}, nil
	}
	return run.Execute(ctx)
}

// Trigger starts a gated sync and executes it in the background. The
// returned job is the freshly created record; it is nil when denied.
func (e *Engine) Trigger(ctx context.Context, opts RunOptions) (gate.Decision, *store.Job, error) {
	run, d, err := e.Start(ctx, opts)
	if err != nil || run == nil {
		return d, nil, err
	}
	job := run.Job()
	e.Background(run)
	return d, job, nil
}

// Background executes run on its own goroutine under the engine's base
// context and RunTimeout.
func (e *Engine) Background(run *Run) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ctx, cancel := context.WithTimeout(e.base, e.cfg.RunTimeout)
		defer cancel()
		if _, err := run.Execute(ctx); err != nil {
			logging.Error().Err(err).Str("job_id", run.ID()).Msg("Background run failed")
		}
	}()
}

// Wait blocks until every background run has returned.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// ToggleSchedule updates the gate. Turning the schedule on fires one manual
// run in the background without waiting for it.
func (e *Engine) ToggleSchedule(ctx context.Context, enabled bool, intervalMinutes int) (*store.Gate, bool, error) {
	snapshot, turnedOn, err := e.gate.Toggle(ctx, enabled, intervalMinutes)
	if err != nil {
		return nil, false, err
	}
	if turnedOn {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			runCtx, cancel := context.WithTimeout(e.base, e.cfg.RunTimeout)
			defer cancel()
			runCtx = logging.ContextWithNewCorrelationID(runCtx)
			out, err := e.RunSync(runCtx, RunOptions{Manual: true, Kind: store.KindIncremental})
			if err != nil {
				logging.Ctx(runCtx).Error().Err(err).Msg("First run after enabling the schedule failed")
				return
			}
			if !out.Decision.Granted {
				logging.Ctx(runCtx).Warn().Str("reason", string(out.Decision.Reason)).Msg("First run after enabling the schedule was denied")
			}
		}()
	}
	return snapshot, turnedOn, nil
}

// Cancel requests cancellation of a queued or running job. The run observes
// it at its next cancellation check.
func (e *Engine) Cancel(ctx context.Context, id string) (*store.Job, error) {
	job, err := e.jobs.UpdateJob(ctx, id, func(j *store.Job) error {
		if j.Status.Terminal() {
			return fmt.Errorf("%w: status is %s", ErrJobNotActive, j.Status)
		}
		j.Status = store.StatusCancelled
		j.LastMessage = "cancelled by request"
		return nil
	})
	if err != nil {
		return nil, err
	}
	logging.Ctx(ctx).Info().Str("job_id", id).Msg("Job cancellation requested")
	return job, nil
}

func (e *Engine) createJob(ctx context.Context, job *store.Job) (*store.Job, error) {
	now := e.clock.Now()
	job.ID = e.newID()
	job.CreatedAt = now
	job.UpdatedAt = now
	if err := e.jobs.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	return job.Clone(), nil
}

func (e *Engine) newRun(job *store.Job, src adapter.Source, since *time.Time, gated bool) *Run {
	return &Run{
		e:         e,
		job:       job,
		src:       src,
		since:     since,
		gated:     gated,
		deliverer: NewDeliverer(e.dest, refcache.New(e.dest), e.cfg.StaticLabels),
		counters:  job.Counters,
		cursor:    job.Cursor,
		total:     job.Total,
		samples:   append([]store.ErrorSample(nil), job.ErrorSamples...),
		started:   e.clock.Now(),
	}
}

func (e *Engine) release(ctx context.Context, success bool) {
	// Finalize logs its own failures at error level.
	_ = e.gate.Finalize(ctx, success)
}

func (e *Engine) publish(job *store.Job) {
	if e.progress != nil && job != nil {
		e.progress.PublishProgress(job.Clone())
	}
}
