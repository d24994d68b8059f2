// LeadSync - Resumable Batch Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/leadsync/internal/csvimport"
	"github.com/tomtom215/leadsync/internal/engine"
	"github.com/tomtom215/leadsync/internal/logging"
	"github.com/tomtom215/leadsync/internal/store"
	"github.com/tomtom215/leadsync/internal/validation"
)

// Import modes.
const (
	ImportModeInline = "inline"
	ImportModeQueue  = "queue"
)

// ImportRequest is the body of POST /api/v1/imports. Rows map header names
// to cell values as exported by the platform.
type ImportRequest struct {
	Platform string              `json:"platform" validate:"required,max=32"`
	Mode     string              `json:"mode" validate:"omitempty,oneof=inline queue"`
	Rows     []map[string]string `json:"rows" validate:"required,min=1,max=100000"`
	Labels   []string            `json:"labels" validate:"omitempty,max=20,dive,min=1,max=100"`
}

// ResumeRequest is the body of POST /api/v1/imports/{id}/resume. A nil
// StartIndex resumes at the prior job's cursor. An empty Platform reuses
// the prior job's platform.
type ResumeRequest struct {
	Platform   string              `json:"platform" validate:"omitempty,max=32"`
	Rows       []map[string]string `json:"rows" validate:"required,min=1,max=100000"`
	StartIndex *int                `json:"startIndex" validate:"omitempty,gte=0"`
	Labels     []string            `json:"labels" validate:"omitempty,max=20,dive,min=1,max=100"`
}

// ImportResult reports the created job and the rows dropped by the status
// filter.
type ImportResult struct {
	JobID    string     `json:"jobId"`
	Mode     string     `json:"mode"`
	Filtered int        `json:"filtered"`
	Job      *store.Job `json:"job"`
}

// ImportStart normalizes the rows and starts an import job, inline on the
// run loop or fanned out to the queue.
func (h *Handler) ImportStart(w http.ResponseWriter, r *http.Request) {
	var req ImportRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	if verr := validation.ValidateStruct(&req); verr != nil {
		respondValidation(w, verr)
		return
	}
	platform, err := csvimport.ParsePlatform(req.Platform)
	if err != nil {
		respondDomainError(w, r, "Invalid platform", err)
		return
	}
	mode := req.Mode
	if mode == "" {
		mode = ImportModeInline
	}

	norm := csvimport.Normalize(platform, req.Rows, req.Labels)
	if len(norm.Records) == 0 {
		respondDomainError(w, r, fmt.Sprintf("No approved rows (%d filtered)", norm.Filtered), engine.ErrImportRowsRequired)
		return
	}
	opts := engine.ImportOptions{Rows: norm.Records, Source: string(platform)}

	var job *store.Job
	switch mode {
	case ImportModeQueue:
		if h.deps.Queue == nil {
			respondError(w, r, http.StatusServiceUnavailable, CodeUnavailable, "Queued imports are not enabled", nil)
			return
		}
		job, err = h.deps.Queue.Dispatch(r.Context(), opts)
		if err != nil {
			respondDomainError(w, r, "Import could not be queued", err)
			return
		}
	default:
		run, err := h.deps.Engine.StartImport(r.Context(), opts)
		if err != nil {
			respondDomainError(w, r, "Import could not start", err)
			return
		}
		job = run.Job()
		h.deps.Engine.Background(run)
	}

	logging.Ctx(r.Context()).Info().
		Str("job_id", job.ID).
		Str("platform", string(platform)).
		Str("mode", mode).
		Int("rows", len(norm.Records)).
		Int("filtered", norm.Filtered).
		Msg("Import accepted")
	respondOK(w, http.StatusAccepted, "Import started", ImportResult{
		JobID:    job.ID,
		Mode:     mode,
		Filtered: norm.Filtered,
		Job:      job,
	})
}

// ImportResume continues a prior import over a re-uploaded file. The rows
// must be the same file in the same order.
func (h *Handler) ImportResume(w http.ResponseWriter, r *http.Request) {
	priorID := chi.URLParam(r, "id")
	var req ResumeRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	if verr := validation.ValidateStruct(&req); verr != nil {
		respondValidation(w, verr)
		return
	}

	name := req.Platform
	if name == "" {
		prior, err := h.deps.Jobs.GetJob(r.Context(), priorID)
		if err != nil {
			respondDomainError(w, r, "Job not found", err)
			return
		}
		name = prior.Source
	}
	platform, err := csvimport.ParsePlatform(name)
	if err != nil {
		respondDomainError(w, r, "Invalid platform", err)
		return
	}

	norm := csvimport.Normalize(platform, req.Rows, req.Labels)
	start := -1
	if req.StartIndex != nil {
		start = *req.StartIndex
	}
	run, err := h.deps.Engine.StartResume(r.Context(), engine.ResumeOptions{
		PriorJobID: priorID,
		Rows:       norm.Records,
		StartIndex: start,
	})
	if err != nil {
		respondDomainError(w, r, "Import could not resume", err)
		return
	}
	job := run.Job()
	h.deps.Engine.Background(run)

	respondOK(w, http.StatusAccepted, fmt.Sprintf("Import resumed from row %d", job.Cursor), ImportResult{
		JobID:    job.ID,
		Mode:     ImportModeInline,
		Filtered: norm.Filtered,
		Job:      job,
	})
}
