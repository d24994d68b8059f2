// LeadSync - Resumable Batch Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

package services

import (
	"context"
	"time"

	"github.com/tomtom215/leadsync/internal/logging"
)

// GarbageCollector is satisfied by *store.BadgerStore.
type GarbageCollector interface {
	RunGC(discardRatio float64) error
}

const defaultDiscardRatio = 0.5

// StoreGCService reclaims value log space on an interval.
type StoreGCService struct {
	gc       GarbageCollector
	interval time.Duration
}

// NewStoreGCService creates the service. A non-positive interval means 10m.
func NewStoreGCService(gc GarbageCollector, interval time.Duration) *StoreGCService {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &StoreGCService{gc: gc, interval: interval}
}

// Serve implements suture.Service. GC failures are logged, never fatal.
func (s *StoreGCService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			start := time.Now()
			if err := s.gc.RunGC(defaultDiscardRatio); err != nil {
				logging.Warn().Err(err).Msg("store value log GC failed")
				continue
			}
			logging.Debug().Dur("took", time.Since(start)).Msg("store value log GC finished")
		}
	}
}

func (s *StoreGCService) String() string {
	return "store-gc"
}
