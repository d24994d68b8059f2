// LeadSync - Resumable Batch Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

/*
Package main is the entry point for the LeadSync server.

LeadSync copies lead records from a DataCrazy CRM account into a SwipeOne
workspace. Runs are triggered by HTTP, by the built-in cron scheduler or by
an external pinger hitting /api/v1/sync/tick, and are serialized by a
persisted gate. Exported CSV files can be imported inline or fanned out to a
row queue, and interrupted imports resume from their persisted cursor.

# Application Architecture

	RootSupervisor ("leadsync")
	├── DataSupervisor ("data-layer")
	│   └── Store GC (badger backend only)
	├── SyncSupervisor ("sync-layer")
	│   ├── Progress hub (websocket fan-out)
	│   ├── Import queue (watermill router, optional)
	│   ├── Sync scheduler (robfig/cron, optional)
	│   └── Run drain (waits for background runs on shutdown)
	└── APISupervisor ("api-layer")
	    └── HTTP Server

Component initialization order:

 1. Configuration: koanf v2 with defaults, YAML file and environment
 2. Logging: zerolog with JSON or console output
 3. Store: badger, redis or in-memory job and gate documents
 4. Adapters: DataCrazy source and SwipeOne destination sharing one window limiter
 5. Gate and engine
 6. Import queue: in-process gochannel or NATS JetStream, optionally embedded
 7. Scheduler
 8. Supervisor tree and HTTP server

An adapter whose credentials are missing is left unset. The server still
starts and runs that need it fail with NOT_CONFIGURED after releasing the
gate.

# Signals

SIGINT and SIGTERM cancel the root context. The HTTP server drains, the
scheduler stops, the queue router closes, and in-flight background runs are
given the drain timeout to persist their last flush before the store closes.

# Configuration

See internal/config for every key. The most common environment variables:

	DATACRAZY_BASE_URL, DATACRAZY_TOKEN
	SWIPEONE_BASE_URL, SWIPEONE_API_KEY, SWIPEONE_WORKSPACE_ID
	STORE_BACKEND=badger|redis|memory
	QUEUE_TRANSPORT=gochannel|nats, NATS_URL, NATS_EMBEDDED
	SCHEDULER_ENABLED, SCHEDULER_SPEC
	HTTP_HOST, HTTP_PORT
*/
package main
