// LeadSync - Resumable Batch Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

/*
Package queue implements the queue-backed variant of the CSV import.

Instead of one sequential loop, the rows of an import are published to N
shard topics and consumed by N router handlers, so at most N rows are in
flight at once. A router-level throttle enforces the global delivery rate
and every row goes through the same delivery policy as the sequential
engine (engine.Deliverer).

# Message Flow

	Dispatch ──► <prefix>.0 ──┐
	         ──► <prefix>.1 ──┼──► settle ─► Recoverer ─► Throttle ─► Retry ─► handleRow
	         ──► <prefix>.N ──┘

handleRow returns an error only for retryable delivery failures, which the
Retry middleware re-attempts up to Config.MaxRetries. When the retries are
exhausted the settle middleware records the row as failed with an error
sample and acknowledges the message.

# Counters

Workers never read-modify-write the job. Each settled row is applied with
store.JobStore.IncrementJob, which is atomic in every backend and creates
the job lazily if a worker gets there first. The worker whose increment
brings processed up to total marks the job completed with a conditional
update that never overwrites a terminal status.

Rows of jobs that were cancelled, failed or deleted are dropped without
contacting the destination.

# Transports

NewGoChannelTransport runs everything in-process. NewNATSTransport uses
JetStream through watermill-nats with one durable consumer per shard bound
to a single stream; StartEmbeddedNATS starts a broker inside the process
for single-node deployments.
*/
package queue
