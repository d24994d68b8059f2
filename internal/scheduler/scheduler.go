// LeadSync - Resumable Batch Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

// Package scheduler drives the non-manual sync trigger from a cron spec.
//
// The tick itself is cheap: the gate decides whether a run is due, so a
// frequent spec such as "@every 1m" is expected. Overlapping ticks are
// skipped rather than queued.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/tomtom215/leadsync/internal/engine"
	"github.com/tomtom215/leadsync/internal/gate"
	"github.com/tomtom215/leadsync/internal/logging"
	"github.com/tomtom215/leadsync/internal/store"
)

// ErrAlreadyStarted is returned by Start on a running Runner.
var ErrAlreadyStarted = errors.New("scheduler: already started")

// Triggerer starts a gated run. *engine.Engine implements it.
type Triggerer interface {
	Trigger(ctx context.Context, opts engine.RunOptions) (gate.Decision, *store.Job, error)
}

// Runner ticks the trigger on a cron schedule.
type Runner struct {
	trigger Triggerer
	spec    string
	kind    store.JobKind
	logger  zerolog.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	baseCtx context.Context
}

// New validates spec and returns a stopped Runner.
func New(trigger Triggerer, spec string) (*Runner, error) {
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", spec, err)
	}
	return &Runner{
		trigger: trigger,
		spec:    spec,
		kind:    store.KindIncremental,
		logger:  logging.WithComponent("scheduler"),
	}, nil
}

// Start registers the tick and starts the cron loop. Ticks run under ctx.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cron != nil {
		return ErrAlreadyStarted
	}

	cl := cronLogger{logger: r.logger}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	r.baseCtx = ctx
	if _, err := c.AddFunc(r.spec, r.Tick); err != nil {
		return fmt.Errorf("register tick: %w", err)
	}
	c.Start()
	r.cron = c
	r.logger.Info().Str("spec", r.spec).Msg("Scheduler started")
	return nil
}

// Stop halts the cron loop and waits for a tick in progress.
func (r *Runner) Stop() error {
	r.mu.Lock()
	c := r.cron
	r.cron = nil
	r.mu.Unlock()
	if c == nil {
		return nil
	}
	<-c.Stop().Done()
	r.logger.Info().Msg("Scheduler stopped")
	return nil
}

// Tick asks the gate for a non-manual run. Denials are normal and logged at
// debug level.
func (r *Runner) Tick() {
	r.mu.Lock()
	ctx := r.baseCtx
	r.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	if ctx.Err() != nil {
		return
	}
	ctx = logging.ContextWithNewCorrelationID(ctx)

	d, job, err := r.trigger.Trigger(ctx, engine.RunOptions{Manual: false, Kind: r.kind})
	switch {
	case err != nil:
		r.logger.Error().Err(err).Msg("Scheduled sync could not start")
	case !d.Granted:
		r.logger.Debug().Str("reason", string(d.Reason)).Msg(d.Message)
	default:
		r.logger.Info().Str("job_id", job.ID).Bool("self_healed", d.SelfHealed).Msg("Scheduled sync started")
	}
}

// String implements fmt.Stringer for supervisor logs.
func (r *Runner) String() string {
	return "scheduler"
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
