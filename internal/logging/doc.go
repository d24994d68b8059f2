// LeadSync - Resumable Batch Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

/*
Package logging provides centralized zerolog-based logging for LeadSync.

Initialize once from main and log through the package functions:

	logging.Init(logging.Config{Level: "info", Format: "json"})
	logging.Info().Str("job_id", id).Msg("run started")
	logging.Error().Err(err).Msg("gate finalize failed")

Context-aware logging picks up the request ID set by the HTTP middleware,
the correlation ID, and the job ID of the run being executed:

	ctx = logging.ContextWithJobID(ctx, job.ID)
	logging.Ctx(ctx).Warn().Err(err).Msg("progress flush failed")

Adapters route third-party loggers into the same sink:

  - NewSlogLogger / SlogHandler for sutureslog supervisor events.
  - NewWatermillAdapter for the queue router.

Lead emails and API credentials must be passed through MaskEmail and
MaskToken before they are logged.

Always terminate log chains with .Msg() or .Send(); an unterminated event is
never written.
*/
package logging
