// LeadSync - Resumable Batch Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

package services

import "context"

// ContextHub is satisfied by *websocket.Hub.
type ContextHub interface {
	RunWithContext(ctx context.Context) error
}

// ProgressHubService runs the progress fan-out hub.
type ProgressHubService struct {
	hub ContextHub
}

// NewProgressHubService wraps hub.
func NewProgressHubService(hub ContextHub) *ProgressHubService {
	return &ProgressHubService{hub: hub}
}

// Serve implements suture.Service.
func (s *ProgressHubService) Serve(ctx context.Context) error {
	return s.hub.RunWithContext(ctx)
}

func (s *ProgressHubService) String() string {
	return "progress-hub"
}
