// LeadSync - Resumable Batch Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

// Package gate implements the singleton scheduler gate: an enable switch, a
// run interval and a heartbeat-guarded running flag that admits at most one
// synchronization run at a time.
package gate

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/tomtom215/leadsync/internal/clock"
	"github.com/tomtom215/leadsync/internal/logging"
	"github.com/tomtom215/leadsync/internal/metrics"
	"github.com/tomtom215/leadsync/internal/store"
)

// Reason explains a denied acquire.
type Reason string

const (
	ReasonAlreadyRunning   Reason = "already_running"
	ReasonDisabled         Reason = "disabled"
	ReasonNotYetDue        Reason = "not_yet_due"
	ReasonAwaitingFirstRun Reason = "awaiting_first_run"
)

// Status is the derived state reported by Status.
type Status string

const (
	StatusDisabled         Status = "disabled"
	StatusAwaitingFirstRun Status = "awaiting-first-run"
	StatusIdle             Status = "idle"
	StatusRunning          Status = "running"
	StatusStuck            Status = "stuck"
)

// ErrInvalidInterval is returned by Toggle for a negative interval.
var ErrInvalidInterval = errors.New("gate: interval must be a positive number of minutes")

// Config tunes the gate.
type Config struct {
	// StuckThreshold is the heartbeat age after which a running flag is stale.
	StuckThreshold time.Duration
	// AwaitingFirstRunTimeout bounds how long scheduled ticks wait for the
	// run fired by a toggle-on before the gate is treated as due.
	AwaitingFirstRunTimeout time.Duration
	// DefaultIntervalMinutes applies when a toggle does not name an interval.
	DefaultIntervalMinutes int
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{
		StuckThreshold:          30 * time.Minute,
		AwaitingFirstRunTimeout: 30 * time.Minute,
		DefaultIntervalMinutes:  15,
	}
}

// Decision is the outcome of TryAcquire.
type Decision struct {
	Granted          bool          `json:"granted"`
	Reason           Reason        `json:"denyReason,omitempty"`
	Message          string        `json:"message"`
	Remaining        time.Duration `json:"-"`
	RemainingMinutes int           `json:"remainingMinutes,omitempty"`
	SelfHealed       bool          `json:"selfHealed,omitempty"`
	// Since is lastRunFinishedAt as seen at acquire time, nil before the first
	// successful run.
	Since *time.Time `json:"since,omitempty"`
}

// Gate coordinates runs through a store.GateStore.
//
// Every transition is a single read-modify-write on the gate document, so
// two processes sharing a store can never both be granted a run.
//
// Lifecycle of one run:
//  1. TryAcquire grants or denies; a grant sets the running flag and clears
//     a stale flag whose heartbeat is older than the stuck threshold.
//  2. Bind records the job id once the job exists.
//  3. Heartbeat refreshes the flag on every progress flush.
//  4. Finalize clears the flag and, while enabled, schedules nextEligibleAt
//     one interval after the finish time. Only a successful run moves
//     lastRunFinishedAt.
//
// Toggle and Status may be called at any point and never touch the running
// flag.
type Gate struct {
	store store.GateStore
	clock clock.Clock
	cfg   Config
}

// New creates a Gate. Zero config values fall back to DefaultConfig.
func New(st store.GateStore, clk clock.Clock, cfg Config) *Gate {
	def := DefaultConfig()
	if cfg.StuckThreshold <= 0 {
		cfg.StuckThreshold = def.StuckThreshold
	}
	if cfg.AwaitingFirstRunTimeout <= 0 {
		cfg.AwaitingFirstRunTimeout = def.AwaitingFirstRunTimeout
	}
	if cfg.DefaultIntervalMinutes <= 0 {
		cfg.DefaultIntervalMinutes = def.DefaultIntervalMinutes
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Gate{store: st, clock: clk, cfg: cfg}
}

// Toggle sets enabled and intervalMinutes. It never computes nextEligibleAt.
// turnedOn reports a disabled to enabled transition; the caller is expected
// to fire one run without waiting for it. An interval of 0 keeps the current
// interval.
func (g *Gate) Toggle(ctx context.Context, enabled bool, intervalMinutes int) (snapshot *store.Gate, turnedOn bool, err error) {
	if intervalMinutes < 0 {
		return nil, false, ErrInvalidInterval
	}
	now := g.clock.Now()
	snapshot, err = g.store.UpdateGate(ctx, func(doc *store.Gate) (bool, error) {
		turnedOn = enabled && !doc.Enabled
		doc.Enabled = enabled
		switch {
		case intervalMinutes > 0:
			doc.IntervalMinutes = intervalMinutes
		case doc.IntervalMinutes <= 0:
			doc.IntervalMinutes = g.cfg.DefaultIntervalMinutes
		}
		switch {
		case turnedOn:
			doc.AwaitingFirstRunSince = &now
		case !enabled:
			doc.AwaitingFirstRunSince = nil
		}
		return true, nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("toggle gate: %w", err)
	}

	logging.Info().
		Bool("enabled", snapshot.Enabled).
		Int("interval_minutes", snapshot.IntervalMinutes).
		Bool("turned_on", turnedOn).
		Msg("Scheduler gate toggled")
	return snapshot, turnedOn, nil
}

// TryAcquire grants the run lock or explains why not. Manual acquires bypass
// the schedule checks but never a live running flag.
func (g *Gate) TryAcquire(ctx context.Context, manual bool) (Decision, error) {
	var d Decision
	now := g.clock.Now()

	_, err := g.store.UpdateGate(ctx, func(doc *store.Gate) (bool, error) {
		d = Decision{}
		healed := false

		if doc.Running {
			age, known := g.heartbeatAge(doc, now)
			if known && age < g.cfg.StuckThreshold {
				d.Reason = ReasonAlreadyRunning
				d.Message = "a sync run is already in progress"
				return false, nil
			}
			doc.Running = false
			doc.CurrentJobID = ""
			healed = true
			d.SelfHealed = true
		}

		if !manual {
			if reason, msg, remaining := g.scheduleCheck(doc, now); reason != "" {
				d.Reason = reason
				d.Message = msg
				d.Remaining = remaining
				if remaining > 0 {
					d.RemainingMinutes = ceilMinutes(remaining)
				}
				return healed, nil
			}
		}

		doc.Running = true
		doc.CurrentJobID = ""
		doc.LastHeartbeat = &now
		d.Granted = true
		d.Message = "sync run granted"
		if doc.LastRunFinishedAt != nil {
			since := *doc.LastRunFinishedAt
			d.Since = &since
		}
		return true, nil
	})
	if err != nil {
		return Decision{}, fmt.Errorf("acquire gate: %w", err)
	}

	if d.SelfHealed {
		metrics.GateSelfHeals.Inc()
		logging.Warn().
			Dur("stuck_threshold", g.cfg.StuckThreshold).
			Msg("Cleared stale running flag left by an abandoned run")
	}
	metrics.RecordGateDecision(d.Granted, string(d.Reason))
	logging.Debug().
		Bool("manual", manual).
		Bool("granted", d.Granted).
		Str("reason", string(d.Reason)).
		Msg("Gate acquire evaluated")
	return d, nil
}

// scheduleCheck applies the non-manual rules. An empty reason means due.
func (g *Gate) scheduleCheck(doc *store.Gate, now time.Time) (Reason, string, time.Duration) {
	if !doc.Enabled {
		return ReasonDisabled, "scheduled sync is disabled", 0
	}

	if since, awaiting := awaitingSince(doc); awaiting {
		waited := now.Sub(since)
		if waited < g.cfg.AwaitingFirstRunTimeout {
			return ReasonAwaitingFirstRun, "awaiting the first run to complete", 0
		}
		logging.Warn().
			Time("awaiting_since", since).
			Dur("waited", waited).
			Msg("First run after enabling never finalized, treating gate as due")
		return "", "", 0
	}

	if now.Before(*doc.NextEligibleAt) {
		remaining := doc.NextEligibleAt.Sub(now)
		return ReasonNotYetDue, fmt.Sprintf("next sync in %d min(s) remaining", ceilMinutes(remaining)), remaining
	}
	return "", "", 0
}

// awaitingSince reports whether an enabled gate has no schedule yet. A gate
// without the explicit marker falls back to its last update time.
func awaitingSince(doc *store.Gate) (time.Time, bool) {
	if doc.AwaitingFirstRunSince != nil {
		return *doc.AwaitingFirstRunSince, true
	}
	if doc.NextEligibleAt == nil {
		return doc.UpdatedAt, true
	}
	return time.Time{}, false
}

func (g *Gate) heartbeatAge(doc *store.Gate, now time.Time) (time.Duration, bool) {
	if doc.LastHeartbeat == nil {
		return 0, false
	}
	return now.Sub(*doc.LastHeartbeat), true
}

// Bind records the job that holds the lock.
func (g *Gate) Bind(ctx context.Context, jobID string) error {
	now := g.clock.Now()
	_, err := g.store.UpdateGate(ctx, func(doc *store.Gate) (bool, error) {
		if !doc.Running {
			return false, nil
		}
		doc.CurrentJobID = jobID
		doc.LastHeartbeat = &now
		return true, nil
	})
	if err != nil {
		return fmt.Errorf("bind gate to job %s: %w", jobID, err)
	}
	return nil
}

// Heartbeat refreshes lastHeartbeat while jobID holds the lock.
func (g *Gate) Heartbeat(ctx context.Context, jobID string) error {
	now := g.clock.Now()
	_, err := g.store.UpdateGate(ctx, func(doc *store.Gate) (bool, error) {
		if !doc.Running || (doc.CurrentJobID != "" && doc.CurrentJobID != jobID) {
			return false, nil
		}
		doc.LastHeartbeat = &now
		return true, nil
	})
	if err != nil {
		return fmt.Errorf("gate heartbeat: %w", err)
	}
	return nil
}

// Finalize releases the lock and schedules the next run from the current
// enabled/interval values. On success lastRunFinishedAt becomes now, which is
// the since filter of the next incremental pull. A failed write is retried
// once clearing only the running flag; if that fails too the gate stays
// locked until stuck detection clears it.
func (g *Gate) Finalize(ctx context.Context, success bool) error {
	ctx = context.WithoutCancel(ctx)
	now := g.clock.Now()

	_, err := g.store.UpdateGate(ctx, func(doc *store.Gate) (bool, error) {
		doc.Running = false
		doc.CurrentJobID = ""
		if doc.Enabled {
			interval := doc.IntervalMinutes
			if interval <= 0 {
				interval = g.cfg.DefaultIntervalMinutes
			}
			next := now.Add(time.Duration(interval) * time.Minute)
			doc.NextEligibleAt = &next
		} else {
			doc.NextEligibleAt = nil
		}
		if success {
			doc.LastRunFinishedAt = &now
		}
		doc.AwaitingFirstRunSince = nil
		return true, nil
	})
	if err == nil {
		logging.Info().Bool("success", success).Msg("Scheduler gate released")
		return nil
	}

	metrics.GateFinalizeFailures.WithLabelValues("full").Inc()
	logging.Warn().Err(err).Msg("Gate finalize failed, retrying with minimal payload")

	_, retryErr := g.store.UpdateGate(ctx, func(doc *store.Gate) (bool, error) {
		doc.Running = false
		doc.CurrentJobID = ""
		return true, nil
	})
	if retryErr == nil {
		return nil
	}

	metrics.GateFinalizeFailures.WithLabelValues("minimal").Inc()
	logging.Error().
		Err(retryErr).
		AnErr("first_error", err).
		Dur("recovers_after", g.cfg.StuckThreshold).
		Msg("Gate finalize failed twice, gate remains locked until stuck detection")
	return fmt.Errorf("finalize gate: %w", errors.Join(err, retryErr))
}

// Report is the gate document plus its derived status.
type Report struct {
	store.Gate
	Status           Status `json:"status"`
	RemainingMinutes int    `json:"remainingMinutes,omitempty"`
}

// Status reads the gate. A gate that was never written reports disabled.
func (g *Gate) Status(ctx context.Context) (*Report, error) {
	doc, err := g.store.GetGate(ctx)
	if errors.Is(err, store.ErrNotFound) {
		doc = &store.Gate{}
	} else if err != nil {
		return nil, fmt.Errorf("read gate: %w", err)
	}

	now := g.clock.Now()
	r := &Report{Gate: *doc}
	switch {
	case doc.Running:
		r.Status = StatusRunning
		if age, known := g.heartbeatAge(doc, now); !known || age >= g.cfg.StuckThreshold {
			r.Status = StatusStuck
		}
	case !doc.Enabled:
		r.Status = StatusDisabled
	default:
		if _, awaiting := awaitingSince(doc); awaiting {
			r.Status = StatusAwaitingFirstRun
		} else {
			r.Status = StatusIdle
			if now.Before(*doc.NextEligibleAt) {
				r.RemainingMinutes = ceilMinutes(doc.NextEligibleAt.Sub(now))
			}
		}
	}
	return r, nil
}

// ceilMinutes rounds a positive duration up to whole minutes.
func ceilMinutes(d time.Duration) int {
	return int(math.Ceil(d.Minutes()))
}
