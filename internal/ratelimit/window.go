// LeadSync - Resumable Batch Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/tomtom215/leadsync/internal/clock"
	"github.com/tomtom215/leadsync/internal/logging"
	"github.com/tomtom215/leadsync/internal/metrics"
)

// Limiter is implemented by anything that can gate an outbound call.
type Limiter interface {
	Acquire(ctx context.Context) error
}

// Unlimited never blocks.
type Unlimited struct{}

// Acquire returns immediately unless ctx is already done.
func (Unlimited) Acquire(ctx context.Context) error { return ctx.Err() }

// WindowConfig configures a fixed-window limiter.
type WindowConfig struct {
	// Name labels metrics and logs.
	Name string
	// Limit is the maximum number of calls admitted per window.
	Limit int
	// Window is the length of one counting window.
	Window time.Duration
	// Margin is added to the remaining window time when the limit is hit.
	Margin time.Duration
}

// DefaultWindowConfig stays below a documented 60 requests per minute.
func DefaultWindowConfig() WindowConfig {
	return WindowConfig{
		Name:   "destination",
		Limit:  55,
		Window: time.Minute,
		Margin: 2 * time.Second,
	}
}

// Window is a mutex-guarded fixed-window call counter.
type Window struct {
	cfg   WindowConfig
	clock clock.Clock

	// waitLog throttles the exhausted-window notice while a backlog drains.
	waitLog rate.Sometimes

	mu      sync.Mutex
	count   int
	started time.Time
}

// NewWindow creates a fixed-window limiter. A nil clock uses the system clock.
func NewWindow(cfg WindowConfig, clk clock.Clock) (*Window, error) {
	if cfg.Limit <= 0 {
		return nil, fmt.Errorf("rate limit must be positive, got %d", cfg.Limit)
	}
	if cfg.Window <= 0 {
		return nil, fmt.Errorf("rate limit window must be positive, got %s", cfg.Window)
	}
	if cfg.Margin < 0 {
		return nil, fmt.Errorf("rate limit margin must not be negative, got %s", cfg.Margin)
	}
	if cfg.Name == "" {
		cfg.Name = "default"
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Window{
		cfg:     cfg,
		clock:   clk,
		started: clk.Now(),
		waitLog: rate.Sometimes{First: 1, Interval: 30 * time.Second},
	}, nil
}

// Acquire admits one call, blocking while the current window is exhausted.
func (w *Window) Acquire(ctx context.Context) error {
	for {
		wait, ok := w.tryAdmit()
		if ok {
			return nil
		}

		w.waitLog.Do(func() {
			logging.Info().
				Str("limiter", w.cfg.Name).
				Dur("wait", wait).
				Int("limit", w.cfg.Limit).
				Msg("rate limit window exhausted, waiting")
		})
		metrics.RateLimitWaits.WithLabelValues(w.cfg.Name).Inc()
		metrics.RateLimitWaitDuration.WithLabelValues(w.cfg.Name).Observe(wait.Seconds())

		if err := w.clock.Sleep(ctx, wait); err != nil {
			return fmt.Errorf("rate limiter %s: %w", w.cfg.Name, err)
		}
		w.reset()
	}
}

// tryAdmit counts the call if the window has room. Otherwise it reports how
// long the caller must wait before the window can be reset.
func (w *Window) tryAdmit() (time.Duration, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.clock.Now()
	elapsed := now.Sub(w.started)
	if elapsed >= w.cfg.Window {
		w.count = 0
		w.started = now
		elapsed = 0
	}

	if w.count < w.cfg.Limit {
		w.count++
		return 0, true
	}
	return w.cfg.Window - elapsed + w.cfg.Margin, false
}

// reset starts a new window after a caller waited out the previous one.
// Another waiter may already have reset it, in which case the newer window
// is kept.
func (w *Window) reset() {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.clock.Now()
	if now.Sub(w.started) >= w.cfg.Window {
		w.count = 0
		w.started = now
	}
}

// Count returns the number of calls admitted in the current window.
func (w *Window) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}
