// LeadSync - Resumable Batch Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

/*
Package websocket streams live job progress to observers.

Each websocket client watches exactly one job id. The Hub receives job
snapshots from the sequential engine and the queue workers through
PublishProgress and fans every snapshot out to the clients watching that
job.

	engine / queue ──PublishProgress──► Hub ──► Client (job A)
	                                        └─► Client (job A)
	                                        └─► Client (job B)

Message Types:

  - progress: a job snapshot while the job is still running
  - finished: the last snapshot, sent once the job reaches a terminal status
  - ping / pong: application level keepalive initiated by the client

Publishing never blocks the run loop: when the hub's queue is full the
snapshot is dropped and the next flush supersedes it. Slow clients whose
send buffer fills up are disconnected.

Each client runs a readPump and a writePump goroutine. The hub runs under
suture supervision through RunWithContext and closes every client when
its context ends.
*/
package websocket
