// LeadSync - Resumable Batch Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

package services

import (
	"context"
	"fmt"

	"github.com/thejerf/suture/v4"

	"github.com/tomtom215/leadsync/internal/logging"
)

// RowProcessor is satisfied by *queue.Processor.
type RowProcessor interface {
	Run(ctx context.Context) error
	Close() error
}

// QueueProcessorService runs the import row consumers. A watermill router
// cannot be started twice, so an unexpected stop is reported with
// suture.ErrDoNotRestart instead of looping on a dead router.
type QueueProcessorService struct {
	processor RowProcessor
}

// NewQueueProcessorService wraps processor.
func NewQueueProcessorService(processor RowProcessor) *QueueProcessorService {
	return &QueueProcessorService{processor: processor}
}

// Serve implements suture.Service.
func (s *QueueProcessorService) Serve(ctx context.Context) error {
	runErr := s.processor.Run(ctx)
	closeErr := s.processor.Close()
	if closeErr != nil {
		logging.Warn().Err(closeErr).Msg("queue transport close failed")
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if runErr != nil {
		return fmt.Errorf("import row router stopped: %w: %w", runErr, suture.ErrDoNotRestart)
	}
	return fmt.Errorf("import row router stopped: %w", suture.ErrDoNotRestart)
}

func (s *QueueProcessorService) String() string {
	return "import-queue"
}
