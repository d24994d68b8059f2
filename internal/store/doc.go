// LeadSync - Resumable Batch Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

/*
Package store persists the two shared documents of the synchronization
engine: one Job record per run and the singleton scheduler Gate.

Three backends implement Store:

  - BadgerStore (default): embedded BadgerDB. Every read-modify-write runs in
    a single Badger transaction and is retried on transaction conflicts, which
    gives per-document atomic merge-update and atomic counter increments.
  - RedisStore: for deployments where several processes share one gate.
    Counters live in hash fields updated with HINCRBY, error samples in a
    capped list, and gate/job merges use WATCH-based optimistic transactions.
  - MemoryStore: process-local maps, used by tests and the "memory" backend.

Contract highlights:

  - PatchJob merges only the fields set in the patch and returns ErrNotFound
    for a missing job, so a run can detect that an operator deleted its record.
  - IncrementJob is atomic and creates the job lazily when it does not exist
    yet, closing the startup race of the queue-backed import.
  - Overflow errors are stored under separate keys so that high-volume bad
    data cannot grow the main job document without bound.
*/
package store
