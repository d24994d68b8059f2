// LeadSync - Resumable Batch Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

package ratelimit

import (
	"context"
	"time"

	"github.com/tomtom215/leadsync/internal/clock"
)

// Pacer inserts a fixed delay after every destination delivery.
//
// The pause is unconditional: a slow call does not shorten it, and the first
// delivery of a run is followed by a full delay like every other one.
type Pacer struct {
	delay time.Duration
	clock clock.Clock
}

// NewPacer creates a pacer. A zero or negative delay disables pacing. A nil
// clock uses the system clock.
func NewPacer(delay time.Duration, clk clock.Clock) *Pacer {
	if delay < 0 {
		delay = 0
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Pacer{delay: delay, clock: clk}
}

// Wait sleeps for the configured delay, returning early only when ctx ends.
func (p *Pacer) Wait(ctx context.Context) error {
	if p.delay == 0 {
		return ctx.Err()
	}
	return p.clock.Sleep(ctx, p.delay)
}

// Delay returns the configured spacing.
func (p *Pacer) Delay() time.Duration {
	return p.delay
}
