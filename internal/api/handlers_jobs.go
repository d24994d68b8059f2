// LeadSync - Resumable Batch Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/leadsync/internal/logging"
	"github.com/tomtom215/leadsync/internal/store"
	"github.com/tomtom215/leadsync/internal/websocket"
)

const (
	defaultJobListLimit = 20
	maxJobListLimit     = 200
)

// JobErrors lists both error classes of a job.
type JobErrors struct {
	JobID    string              `json:"jobId"`
	Samples  []store.ErrorSample `json:"samples"`
	Overflow []store.ErrorSample `json:"overflow"`
}

// getIntParam reads a query integer, returning defaultValue when absent or
// malformed.
func getIntParam(r *http.Request, key string, defaultValue int) int {
	value := r.URL.Query().Get(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return n
}

// JobList returns the most recent jobs, newest first.
func (h *Handler) JobList(w http.ResponseWriter, r *http.Request) {
	limit := getIntParam(r, "limit", defaultJobListLimit)
	if limit <= 0 || limit > maxJobListLimit {
		respondError(w, r, http.StatusBadRequest, CodeValidation,
			"limit must be between 1 and "+strconv.Itoa(maxJobListLimit), nil)
		return
	}
	jobs, err := h.deps.Jobs.ListJobs(r.Context(), limit)
	if err != nil {
		respondDomainError(w, r, "Failed to list jobs", err)
		return
	}
	respondOK(w, http.StatusOK, strconv.Itoa(len(jobs))+" job(s)", jobs)
}

// JobGet returns one job record.
func (h *Handler) JobGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := h.deps.Jobs.GetJob(r.Context(), id)
	if err != nil {
		respondDomainError(w, r, "Job not found", err)
		return
	}
	respondOK(w, http.StatusOK, string(job.Status), job)
}

// JobCancel requests cancellation of a queued or running job.
func (h *Handler) JobCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := h.deps.Engine.Cancel(r.Context(), id)
	if err != nil {
		respondDomainError(w, r, "Job could not be cancelled", err)
		return
	}
	if h.deps.Hub != nil {
		h.deps.Hub.PublishProgress(job)
	}
	respondOK(w, http.StatusOK, "Cancellation requested", job)
}

// JobErrors returns the job's error sample plus its overflow list.
func (h *Handler) JobErrors(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := h.deps.Jobs.GetJob(r.Context(), id)
	if err != nil {
		respondDomainError(w, r, "Job not found", err)
		return
	}
	overflow, err := h.deps.Jobs.ListOverflowErrors(r.Context(), id)
	if err != nil {
		respondDomainError(w, r, "Failed to read overflow errors", err)
		return
	}
	if overflow == nil {
		overflow = []store.ErrorSample{}
	}
	samples := job.ErrorSamples
	if samples == nil {
		samples = []store.ErrorSample{}
	}
	respondOK(w, http.StatusOK, strconv.Itoa(len(samples)+len(overflow))+" error(s)",
		JobErrors{JobID: id, Samples: samples, Overflow: overflow})
}

// JobStream upgrades to a websocket that receives the job's snapshots. The
// current snapshot is sent first so late observers start from a known state.
func (h *Handler) JobStream(w http.ResponseWriter, r *http.Request) {
	if h.deps.Hub == nil {
		respondError(w, r, http.StatusServiceUnavailable, CodeUnavailable, "Progress stream is not enabled", nil)
		return
	}
	id := chi.URLParam(r, "id")
	job, err := h.deps.Jobs.GetJob(r.Context(), id)
	if err != nil {
		respondDomainError(w, r, "Job not found", err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		logging.Ctx(r.Context()).Debug().Err(err).Str("job_id", id).Msg("websocket upgrade failed")
		return
	}
	client := websocket.NewClient(h.deps.Hub, conn, id)
	client.Enqueue(websocket.MessageFor(job))
	h.deps.Hub.Register <- client
	client.Start()
}
