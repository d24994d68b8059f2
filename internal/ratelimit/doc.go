// LeadSync - Resumable Batch Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

/*
Package ratelimit bounds the rate of outbound calls to the source and
destination APIs.

Two controls are applied together:

  - Window is a fixed-window counter shared by every adapter in the process.
    It admits at most Limit calls per Window (55 of the destination's 60 per
    minute by default). When the ceiling is reached it blocks the caller until
    the window ends plus a safety margin, then starts a fresh window. It is the
    safety net.

  - Pacer sleeps a fixed delay (1s by default) after every destination call,
    the first call of a run included. It is the steady-state pace-setter and
    is applied by the engine once per delivered row.

Window is safe for concurrent use by the queue worker pool.

Usage:

	window := ratelimit.NewWindow(ratelimit.WindowConfig{Limit: 55, Window: time.Minute, Margin: 2 * time.Second}, clock.New())
	if err := window.Acquire(ctx); err != nil {
	    return err
	}
*/
package ratelimit
