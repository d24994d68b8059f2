// LeadSync - Resumable Batch Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

package store

import (
	"context"
	"fmt"

	"github.com/tomtom215/leadsync/internal/clock"
	"github.com/tomtom215/leadsync/internal/logging"
)

// Backend selects the Store implementation.
type Backend string

const (
	BackendBadger Backend = "badger"
	BackendRedis  Backend = "redis"
	BackendMemory Backend = "memory"
)

// Options configures Open.
type Options struct {
	Backend    Backend
	BadgerPath string
	Redis      RedisOptions
}

// Open creates the configured backend.
func Open(ctx context.Context, opts Options, clk clock.Clock) (Store, error) {
	switch opts.Backend {
	case BackendBadger, "":
		s, err := OpenBadger(opts.BadgerPath, clk)
		if err != nil {
			return nil, err
		}
		logging.Info().Str("backend", "badger").Str("path", opts.BadgerPath).Msg("job store opened")
		return s, nil
	case BackendRedis:
		s, err := NewRedisStore(ctx, opts.Redis, clk)
		if err != nil {
			return nil, err
		}
		logging.Info().Str("backend", "redis").Str("addr", opts.Redis.Addr).Msg("job store opened")
		return s, nil
	case BackendMemory:
		logging.Warn().Str("backend", "memory").Msg("job store is not persistent, jobs and gate are lost on restart")
		return NewMemoryStore(clk), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", opts.Backend)
	}
}
