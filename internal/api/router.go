// LeadSync - Resumable Batch Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	gorillaws "github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/leadsync/internal/engine"
	"github.com/tomtom215/leadsync/internal/gate"
	"github.com/tomtom215/leadsync/internal/middleware"
	"github.com/tomtom215/leadsync/internal/store"
	"github.com/tomtom215/leadsync/internal/websocket"
)

// SyncEngine is the part of *engine.Engine the handlers drive.
type SyncEngine interface {
	Trigger(ctx context.Context, opts engine.RunOptions) (gate.Decision, *store.Job, error)
	ToggleSchedule(ctx context.Context, enabled bool, intervalMinutes int) (*store.Gate, bool, error)
	Cancel(ctx context.Context, id string) (*store.Job, error)
	StartImport(ctx context.Context, opts engine.ImportOptions) (*engine.Run, error)
	StartResume(ctx context.Context, opts engine.ResumeOptions) (*engine.Run, error)
	Background(run *engine.Run)
}

// GateReporter reports the gate document with its derived status.
type GateReporter interface {
	Status(ctx context.Context) (*gate.Report, error)
}

// ImportDispatcher fans an import out to the row queue.
type ImportDispatcher interface {
	Dispatch(ctx context.Context, opts engine.ImportOptions) (*store.Job, error)
}

// Dependencies wires the handlers. Queue and Hub are optional.
type Dependencies struct {
	Engine SyncEngine
	Gate   GateReporter
	Jobs   store.JobStore
	Queue  ImportDispatcher
	Hub    *websocket.Hub
}

// Handler serves the HTTP surface.
type Handler struct {
	deps      Dependencies
	startTime time.Time
	upgrader  gorillaws.Upgrader
}

// Router binds handlers and middleware.
type Router struct {
	handler       *Handler
	chiMiddleware *ChiMiddleware
}

// NewRouter creates the router. A nil middleware config uses the defaults.
func NewRouter(deps Dependencies, mwConfig *ChiMiddlewareConfig) *Router {
	mw := NewChiMiddleware(mwConfig)
	h := &Handler{
		deps:      deps,
		startTime: time.Now(),
		upgrader: gorillaws.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return mw.AllowsOrigin(r.Header.Get("Origin"))
			},
		},
	}
	return &Router{handler: h, chiMiddleware: mw}
}

// SetupChi builds the chi handler tree.
func (router *Router) SetupChi() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(router.chiMiddleware.CORS())
	r.Use(middleware.PrometheusMetrics)

	r.Get("/health", router.handler.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(router.chiMiddleware.RateLimit())
		r.Use(APISecurityHeaders())

		r.Route("/sync", func(r chi.Router) {
			r.Post("/trigger", router.handler.SyncTrigger)
			r.Post("/tick", router.handler.SyncTick)
			r.Get("/gate", router.handler.GateStatus)
			r.Put("/gate", router.handler.GateToggle)
		})

		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", router.handler.JobList)
			r.Get("/{id}", router.handler.JobGet)
			r.Post("/{id}/cancel", router.handler.JobCancel)
			r.Get("/{id}/errors", router.handler.JobErrors)
			r.Get("/{id}/stream", router.handler.JobStream)
		})

		r.Route("/imports", func(r chi.Router) {
			r.Post("/", router.handler.ImportStart)
			r.Post("/{id}/resume", router.handler.ImportResume)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, r, http.StatusNotFound, CodeNotFound, "Route not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, r, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})
	return r
}
