// LeadSync - Resumable Batch Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

/*
Package api serves the HTTP trigger surface of LeadSync.

Every JSON endpoint answers with the same envelope:

	{"success": bool, "message": string, "data": any, "error": {"code", "message"}}

A sync trigger acquires the gate inside the request so the caller learns
whether it was granted. A granted trigger returns 202 with the new job id
while the run continues on a background goroutine. A denied trigger is not
an error: it returns 200 with success=false and the deny reason.

Routes:

	POST /api/v1/sync/trigger         start-or-check-gate, body {"manual": bool, "kind": "incremental"|"full"}
	POST /api/v1/sync/tick            start-or-check-gate with manual=false
	GET  /api/v1/sync/gate            gate document and derived status
	PUT  /api/v1/sync/gate            toggle, body {"enabled": bool, "intervalMinutes": int}
	GET  /api/v1/jobs                 recent jobs, ?limit=
	GET  /api/v1/jobs/{id}            job record
	POST /api/v1/jobs/{id}/cancel     request cancellation
	GET  /api/v1/jobs/{id}/errors     error sample and overflow list
	GET  /api/v1/jobs/{id}/stream     websocket progress stream
	POST /api/v1/imports              CSV import, inline or queued
	POST /api/v1/imports/{id}/resume  continuation of a prior import
	GET  /health                      liveness
	GET  /metrics                     Prometheus exposition

The /api/v1 group is rate limited per client IP with go-chi/httprate.
Responses are never cached.
*/
package api
