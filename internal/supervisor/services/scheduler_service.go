// LeadSync - Resumable Batch Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

package services

import (
	"context"
	"fmt"
)

// StartStopper is satisfied by *scheduler.Runner.
type StartStopper interface {
	Start(ctx context.Context) error
	Stop() error
}

// SchedulerService adapts the cron runner's Start/Stop lifecycle to
// suture's Serve.
type SchedulerService struct {
	runner StartStopper
}

// NewSchedulerService wraps runner.
func NewSchedulerService(runner StartStopper) *SchedulerService {
	return &SchedulerService{runner: runner}
}

// Serve implements suture.Service.
func (s *SchedulerService) Serve(ctx context.Context) error {
	if err := s.runner.Start(ctx); err != nil {
		return fmt.Errorf("scheduler start failed: %w", err)
	}
	<-ctx.Done()
	if err := s.runner.Stop(); err != nil {
		return fmt.Errorf("scheduler stop failed: %w", err)
	}
	return ctx.Err()
}

func (s *SchedulerService) String() string {
	return "sync-scheduler"
}
