// LeadSync - Resumable Batch Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

/*
Package supervisor runs the long-lived LeadSync services under a suture v4
tree.

	leadsync
	├── data-layer
	│   └── StoreGCService (badger backend only)
	├── sync-layer
	│   ├── ProgressHubService
	│   ├── QueueProcessorService (queue imports enabled)
	│   ├── SchedulerService (scheduler.enabled)
	│   └── RunDrainService
	└── api-layer
	    └── HTTPServerService

Crashed services restart with backoff. Supervisor events go through the
sutureslog hook into the zerolog-backed slog logger, so restarts appear in
the same structured log as everything else.

Usage:

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	if err != nil {
	    return err
	}
	tree.AddSyncService(services.NewProgressHubService(hub))
	tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))
	return tree.Serve(ctx)
*/
package supervisor
