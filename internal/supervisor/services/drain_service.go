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

// Waiter is satisfied by *engine.Engine.
type Waiter interface {
	Wait()
}

// RunDrainService holds shutdown until background runs have returned. The
// runs observe the cancelled base context, finalize their job as paused and
// release the gate; this service only waits for that to happen.
type RunDrainService struct {
	runs    Waiter
	timeout time.Duration
}

// NewRunDrainService creates the service. A non-positive timeout means 30s.
func NewRunDrainService(runs Waiter, timeout time.Duration) *RunDrainService {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &RunDrainService{runs: runs, timeout: timeout}
}

// Serve implements suture.Service.
func (s *RunDrainService) Serve(ctx context.Context) error {
	<-ctx.Done()
	done := make(chan struct{})
	go func() {
		s.runs.Wait()
		close(done)
	}()
	select {
	case <-done:
		logging.Info().Msg("background runs drained")
	case <-time.After(s.timeout):
		logging.Warn().Dur("timeout", s.timeout).Msg("background runs still active at shutdown")
	}
	return ctx.Err()
}

func (s *RunDrainService) String() string {
	return "run-drain"
}
