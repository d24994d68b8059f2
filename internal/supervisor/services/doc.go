// LeadSync - Resumable Batch Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

/*
Package services adapts LeadSync components to suture.Service.

Each wrapper translates one lifecycle pattern into Serve(ctx) error:

	HTTPServerService      ListenAndServe / Shutdown
	ProgressHubService     RunWithContext
	QueueProcessorService  watermill router Run / Close
	SchedulerService       cron Start / Stop
	StoreGCService         periodic badger value log GC
	RunDrainService        waits for background runs at shutdown

Wrappers return ctx.Err() on a requested shutdown so the supervisor does
not count it as a failure.
*/
package services
