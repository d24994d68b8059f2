// LeadSync - Resumable Batch Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Run Metrics
	SyncRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadsync_runs_total",
			Help: "Total number of synchronization runs by kind and final status",
		},
		[]string{"kind", "status"}, // status: completed, paused, failed, cancelled
	)

	SyncRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "leadsync_run_duration_seconds",
			Help:    "Wall-clock duration of synchronization runs",
			Buckets: []float64{1, 5, 15, 30, 60, 300, 900, 1800, 3600, 7200},
		},
		[]string{"kind"},
	)

	SyncRowsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadsync_rows_total",
			Help: "Total number of rows processed by outcome",
		},
		[]string{"kind", "outcome"}, // outcome: succeeded, failed, skipped
	)

	SyncActiveRuns = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "leadsync_active_runs",
			Help: "Number of runs currently executing in this process",
		},
	)

	// Gate Metrics
	GateDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadsync_gate_decisions_total",
			Help: "Scheduler gate acquire decisions",
		},
		[]string{"result", "reason"}, // result: granted, denied
	)

	GateSelfHeals = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "leadsync_gate_self_heals_total",
			Help: "Stale running flags cleared by stuck-run detection",
		},
	)

	GateFinalizeFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadsync_gate_finalize_failures_total",
			Help: "Gate finalize write failures by attempt (full, minimal)",
		},
		[]string{"attempt"},
	)

	// Rate Limiter Metrics
	RateLimitWaits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadsync_ratelimit_waits_total",
			Help: "Number of times a caller blocked on an exhausted rate limit window",
		},
		[]string{"limiter"},
	)

	RateLimitWaitDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "leadsync_ratelimit_wait_seconds",
			Help:    "Time spent waiting for a rate limit window to reset",
			Buckets: []float64{0.5, 1, 5, 15, 30, 45, 60, 90},
		},
		[]string{"limiter"},
	)

	// Store Metrics
	StoreWriteErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadsync_store_write_errors_total",
			Help: "Job store write failures by operation",
		},
		[]string{"operation"},
	)

	ProgressFlushes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadsync_progress_flushes_total",
			Help: "Coalesced job progress flushes by result",
		},
		[]string{"result"}, // result: ok, error
	)

	// Upstream Metrics
	UpstreamRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadsync_upstream_requests_total",
			Help: "Requests sent to source and destination APIs",
		},
		[]string{"adapter", "operation", "status"},
	)

	UpstreamRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "leadsync_upstream_request_duration_seconds",
			Help:    "Latency of source and destination API requests",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"adapter", "operation"},
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker",
		},
		[]string{"name", "result"}, // result: "success", "failure", "rejected"
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	// Queue Metrics
	QueueMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadsync_queue_messages_total",
			Help: "Import row messages by outcome",
		},
		[]string{"outcome"}, // outcome: published, succeeded, failed, skipped, dropped, exhausted
	)

	// API Endpoint Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "api_active_requests",
			Help: "Current number of active API requests",
		},
	)

	// WebSocket Metrics
	WSConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "websocket_connections_active",
			Help: "Current number of active WebSocket connections",
		},
	)
)

// RecordRun records the outcome of a finished run.
func RecordRun(kind, status string, duration time.Duration) {
	SyncRunsTotal.WithLabelValues(kind, status).Inc()
	SyncRunDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordRow records the outcome of one delivered row.
func RecordRow(kind, outcome string) {
	SyncRowsTotal.WithLabelValues(kind, outcome).Inc()
}

// RecordGateDecision records a gate acquire result. reason is empty on grant.
func RecordGateDecision(granted bool, reason string) {
	result := "denied"
	if granted {
		result = "granted"
		reason = "none"
	}
	GateDecisions.WithLabelValues(result, reason).Inc()
}

// RecordUpstreamRequest records one source or destination API call.
func RecordUpstreamRequest(adapter, operation, status string, duration time.Duration) {
	UpstreamRequests.WithLabelValues(adapter, operation, status).Inc()
	UpstreamRequestDuration.WithLabelValues(adapter, operation).Observe(duration.Seconds())
}

// RecordAPIRequest records an API request metric
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// TrackActiveRequest tracks active API requests
func TrackActiveRequest(inc bool) {
	if inc {
		APIActiveRequests.Inc()
	} else {
		APIActiveRequests.Dec()
	}
}
