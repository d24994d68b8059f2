// LeadSync - Resumable Batch Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

package api

import (
	"net/http"
	"time"

	"github.com/tomtom215/leadsync/internal/engine"
	"github.com/tomtom215/leadsync/internal/gate"
	"github.com/tomtom215/leadsync/internal/logging"
	"github.com/tomtom215/leadsync/internal/store"
	"github.com/tomtom215/leadsync/internal/validation"
)

// TriggerRequest is the body of POST /api/v1/sync/trigger.
type TriggerRequest struct {
	Manual bool   `json:"manual"`
	Kind   string `json:"kind" validate:"omitempty,oneof=incremental full"`
}

// TriggerResult reports a gate decision and the job it started.
type TriggerResult struct {
	gate.Decision
	JobID string     `json:"jobId,omitempty"`
	Job   *store.Job `json:"job,omitempty"`
}

// ToggleRequest is the body of PUT /api/v1/sync/gate.
type ToggleRequest struct {
	Enabled         *bool `json:"enabled" validate:"required"`
	IntervalMinutes int   `json:"intervalMinutes" validate:"gte=0,lte=10080"`
}

// ToggleResult is the gate after a toggle.
type ToggleResult struct {
	Gate     *store.Gate `json:"gate"`
	TurnedOn bool        `json:"turnedOn"`
}

// SyncTrigger acquires the gate synchronously and runs the sync in the
// background. A denial is a successful request with success=false.
func (h *Handler) SyncTrigger(w http.ResponseWriter, r *http.Request) {
	var req TriggerRequest
	if !decodeJSON(w, r, &req, true) {
		return
	}
	if verr := validation.ValidateStruct(&req); verr != nil {
		respondValidation(w, verr)
		return
	}
	h.trigger(w, r, engine.RunOptions{Manual: req.Manual, Kind: store.JobKind(req.Kind)})
}

// SyncTick is the non-manual trigger for external cron callers.
func (h *Handler) SyncTick(w http.ResponseWriter, r *http.Request) {
	h.trigger(w, r, engine.RunOptions{Manual: false, Kind: store.KindIncremental})
}

func (h *Handler) trigger(w http.ResponseWriter, r *http.Request, opts engine.RunOptions) {
	d, job, err := h.deps.Engine.Trigger(r.Context(), opts)
	if err != nil {
		respondDomainError(w, r, "Sync could not start", err)
		return
	}
	if !d.Granted {
		logging.Ctx(r.Context()).Debug().Str("reason", string(d.Reason)).Bool("manual", opts.Manual).Msg("Sync trigger denied")
		respondJSON(w, http.StatusOK, &Response{
			Success: false,
			Message: d.Message,
			Data:    TriggerResult{Decision: d},
		})
		return
	}
	respondOK(w, http.StatusAccepted, "Sync started", TriggerResult{Decision: d, JobID: job.ID, Job: job})
}

// GateStatus returns the gate with its derived status.
func (h *Handler) GateStatus(w http.ResponseWriter, r *http.Request) {
	report, err := h.deps.Gate.Status(r.Context())
	if err != nil {
		respondDomainError(w, r, "Failed to read gate", err)
		return
	}
	respondOK(w, http.StatusOK, string(report.Status), report)
}

// GateToggle enables or disables the schedule. Enabling a disabled gate
// fires one manual run in the background.
func (h *Handler) GateToggle(w http.ResponseWriter, r *http.Request) {
	var req ToggleRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	if verr := validation.ValidateStruct(&req); verr != nil {
		respondValidation(w, verr)
		return
	}
	snapshot, turnedOn, err := h.deps.Engine.ToggleSchedule(r.Context(), *req.Enabled, req.IntervalMinutes)
	if err != nil {
		respondDomainError(w, r, "Failed to update gate", err)
		return
	}
	msg := "Schedule disabled"
	switch {
	case turnedOn:
		msg = "Schedule enabled, first run started"
	case snapshot.Enabled:
		msg = "Schedule updated"
	}
	respondOK(w, http.StatusOK, msg, ToggleResult{Gate: snapshot, TurnedOn: turnedOn})
}

// HealthResponse is the liveness payload.
type HealthResponse struct {
	Status    string  `json:"status"`
	Uptime    float64 `json:"uptimeSeconds"`
	Watchers  int     `json:"watchers"`
	Timestamp string  `json:"timestamp"`
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	watchers := 0
	if h.deps.Hub != nil {
		watchers = h.deps.Hub.GetClientCount()
	}
	respondOK(w, http.StatusOK, "ok", HealthResponse{
		Status:    "healthy",
		Uptime:    time.Since(h.startTime).Seconds(),
		Watchers:  watchers,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}
