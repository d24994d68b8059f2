// LeadSync - Resumable Batch Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tomtom215/leadsync/internal/api"
	"github.com/tomtom215/leadsync/internal/clock"
	"github.com/tomtom215/leadsync/internal/config"
	"github.com/tomtom215/leadsync/internal/engine"
	"github.com/tomtom215/leadsync/internal/gate"
	"github.com/tomtom215/leadsync/internal/logging"
	"github.com/tomtom215/leadsync/internal/ratelimit"
	"github.com/tomtom215/leadsync/internal/scheduler"
	"github.com/tomtom215/leadsync/internal/store"
	"github.com/tomtom215/leadsync/internal/supervisor"
	"github.com/tomtom215/leadsync/internal/supervisor/services"
	"github.com/tomtom215/leadsync/internal/websocket"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Logging is not configured yet.
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logging.Info().
		Str("store", cfg.Store.Backend).
		Str("queue", cfg.Queue.Transport).
		Bool("scheduler", cfg.Scheduler.Enabled).
		Msg("Starting LeadSync")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clk := clock.New()

	st, err := store.Open(ctx, storeOptions(cfg), clk)
	if err != nil {
		logging.Fatal().Err(err).Str("backend", cfg.Store.Backend).Msg("Failed to open store")
	}
	defer func() {
		if err := st.Close(); err != nil {
			logging.Error().Err(err).Msg("Failed to close store")
		}
	}()
	logging.Info().Str("backend", cfg.Store.Backend).Msg("Store opened")

	limiter, err := ratelimit.NewWindow(ratelimit.WindowConfig{
		Name:   "outbound",
		Limit:  cfg.RateLimit.Limit,
		Window: cfg.RateLimit.Window,
		Margin: cfg.RateLimit.Margin,
	}, clk)
	if err != nil {
		logging.Fatal().Err(err).Msg("Invalid outbound rate limit")
	}

	src, dest, err := buildAdapters(cfg, limiter, clk)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create adapters")
	}

	syncGate := gate.New(st, clk, gateConfig(cfg))
	hub := websocket.NewHub()
	eng := engine.New(st, syncGate, src, dest, engineConfig(cfg),
		engine.WithClock(clk),
		engine.WithProgress(hub),
		engine.WithBaseContext(ctx),
	)

	qc, err := buildQueue(ctx, cfg, st, dest, hub)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize import queue")
	}
	defer qc.shutdown(context.Background())

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		FailureThreshold: 5,
		FailureDecay:     30,
		FailureBackoff:   15 * time.Second,
		// Leaves room for the drain and HTTP services to use their full timeout.
		ShutdownTimeout: cfg.Server.ShutdownTimeout + 5*time.Second,
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create supervisor tree")
	}

	deps := api.Dependencies{
		Engine: eng,
		Gate:   syncGate,
		Jobs:   st,
		Hub:    hub,
	}
	if qc != nil {
		deps.Queue = qc.processor
	}
	router := api.NewRouter(deps, middlewareConfig(cfg))

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router.SetupChi(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// === ADD SERVICES TO SUPERVISOR TREE ===

	if bs, ok := st.(*store.BadgerStore); ok {
		tree.AddDataService(services.NewStoreGCService(bs, cfg.Store.GCInterval))
		logging.Info().Dur("interval", cfg.Store.GCInterval).Msg("Badger value log GC added to supervisor tree")
	}

	tree.AddSyncService(services.NewProgressHubService(hub))
	if qc != nil {
		tree.AddSyncService(services.NewQueueProcessorService(qc.processor))
	}
	if cfg.Scheduler.Enabled {
		runner, err := scheduler.New(eng, cfg.Scheduler.Spec)
		if err != nil {
			logging.Fatal().Err(err).Str("spec", cfg.Scheduler.Spec).Msg("Invalid scheduler spec")
		}
		tree.AddSyncService(services.NewSchedulerService(runner))
		logging.Info().Str("spec", cfg.Scheduler.Spec).Msg("Sync scheduler added to supervisor tree")
	}
	tree.AddSyncService(services.NewRunDrainService(eng, cfg.Server.ShutdownTimeout))

	tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))
	logging.Info().Str("addr", server.Addr).Msg("HTTP server service added")

	// === START SUPERVISOR TREE ===

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("Starting supervisor tree...")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish...")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	if len(unstopped) > 0 {
		logging.Warn().Int("count", len(unstopped)).Msg("Services failed to stop within timeout")
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("Service failed to stop")
		}
	}

	logging.Info().Msg("LeadSync stopped")
}
