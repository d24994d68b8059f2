// LeadSync - Resumable Batch Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

/*
Package metrics provides Prometheus metrics collection and export for observability.

Collectors are registered globally with promauto and exposed at /metrics:

	curl http://localhost:8080/metrics

# Available Metrics

Runs and rows:
  - leadsync_runs_total{kind,status}
  - leadsync_run_duration_seconds{kind}
  - leadsync_rows_total{kind,outcome}
  - leadsync_active_runs

Scheduler gate:
  - leadsync_gate_decisions_total{result,reason}
  - leadsync_gate_self_heals_total
  - leadsync_gate_finalize_failures_total{attempt}

Rate limiting and upstream calls:
  - leadsync_ratelimit_waits_total{limiter}
  - leadsync_ratelimit_wait_seconds{limiter}
  - leadsync_upstream_requests_total{adapter,operation,status}
  - circuit_breaker_state{name}

Storage and queue:
  - leadsync_store_write_errors_total{operation}
  - leadsync_progress_flushes_total{result}
  - leadsync_queue_messages_total{outcome}

HTTP:
  - api_requests_total{method,endpoint,status}
  - api_request_duration_seconds{method,endpoint}
*/
package metrics
