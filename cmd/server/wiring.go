// LeadSync - Resumable Batch Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/tomtom215/leadsync/internal/adapter"
	"github.com/tomtom215/leadsync/internal/adapter/datacrazy"
	"github.com/tomtom215/leadsync/internal/adapter/swipeone"
	"github.com/tomtom215/leadsync/internal/api"
	"github.com/tomtom215/leadsync/internal/clock"
	"github.com/tomtom215/leadsync/internal/config"
	"github.com/tomtom215/leadsync/internal/engine"
	"github.com/tomtom215/leadsync/internal/gate"
	"github.com/tomtom215/leadsync/internal/logging"
	"github.com/tomtom215/leadsync/internal/queue"
	"github.com/tomtom215/leadsync/internal/ratelimit"
	"github.com/tomtom215/leadsync/internal/store"
)

func storeOptions(cfg *config.Config) store.Options {
	return store.Options{
		Backend:    store.Backend(cfg.Store.Backend),
		BadgerPath: cfg.Store.BadgerPath,
		Redis: store.RedisOptions{
			Addr:     cfg.Store.RedisAddr,
			Password: cfg.Store.RedisPass,
			DB:       cfg.Store.RedisDB,
			Prefix:   cfg.Store.KeyPrefix,
		},
	}
}

func gateConfig(cfg *config.Config) gate.Config {
	return gate.Config{
		StuckThreshold:          cfg.Gate.StuckThreshold,
		AwaitingFirstRunTimeout: cfg.Gate.AwaitingFirstRunTimeout,
		DefaultIntervalMinutes:  cfg.Gate.DefaultIntervalMinutes,
	}
}

func engineConfig(cfg *config.Config) engine.Config {
	ec := engine.DefaultConfig()
	ec.PageSize = cfg.Engine.PageSize
	ec.FlushEvery = cfg.Engine.FlushEvery
	ec.CancelCheckEvery = cfg.Engine.CancelCheckEvery
	ec.InterCallDelay = cfg.Engine.InterCallDelay
	ec.BootstrapWindow = cfg.Engine.BootstrapWindow
	ec.ErrorSampleCap = cfg.Engine.ErrorSampleCap
	ec.StaticLabels = cfg.Engine.StaticLabels
	if cfg.Server.RunTimeout > 0 {
		ec.RunTimeout = cfg.Server.RunTimeout
	}
	return ec
}

func queueConfig(cfg *config.Config) queue.Config {
	qc := queue.DefaultConfig()
	qc.Concurrency = cfg.Queue.Concurrency
	qc.MaxRetries = cfg.Queue.MaxRetries
	qc.RetryInterval = cfg.Queue.RetryInterval
	qc.ThrottlePerSecond = cfg.Queue.ThrottlePerSecond
	qc.TopicPrefix = cfg.Queue.TopicPrefix
	if cfg.Queue.CloseTimeout > 0 {
		qc.CloseTimeout = cfg.Queue.CloseTimeout
	}
	qc.ErrorSampleCap = cfg.Engine.ErrorSampleCap
	qc.StaticLabels = cfg.Engine.StaticLabels
	return qc
}

func middlewareConfig(cfg *config.Config) *api.ChiMiddlewareConfig {
	mw := api.DefaultChiMiddlewareConfig()
	if len(cfg.Security.CORSOrigins) > 0 {
		mw.CORSAllowedOrigins = cfg.Security.CORSOrigins
	}
	mw.RateLimitRequests = cfg.Security.RateLimitReqs
	mw.RateLimitWindow = cfg.Security.RateLimitWindow
	mw.RateLimitDisabled = cfg.Security.RateLimitDisabled
	return mw
}

// buildAdapters returns nil for an adapter whose credentials are missing so
// the engine reports NOT_CONFIGURED per run instead of refusing to boot. Both
// adapters acquire the same window limiter.
func buildAdapters(cfg *config.Config, limiter ratelimit.Limiter, clk clock.Clock) (adapter.Source, adapter.Destination, error) {
	var (
		src  adapter.Source
		dest adapter.Destination
	)

	dc, err := datacrazy.New(datacrazy.Config{
		BaseURL:    cfg.Source.BaseURL,
		Token:      cfg.Source.Token,
		Timeout:    cfg.Source.Timeout,
		MaxRetries: cfg.Source.MaxRetries,
		Limiter:    limiter,
		Clock:      clk,
	})
	switch {
	case err == nil:
		src = dc
	case errors.Is(err, adapter.ErrNotConfigured):
		logging.Warn().Msg("Source adapter not configured (DATACRAZY_BASE_URL, DATACRAZY_TOKEN); sync runs will fail")
	default:
		return nil, nil, fmt.Errorf("source adapter: %w", err)
	}

	so, err := swipeone.New(swipeone.Config{
		BaseURL:     cfg.Destination.BaseURL,
		APIKey:      cfg.Destination.APIKey,
		WorkspaceID: cfg.Destination.WorkspaceID,
		Timeout:     cfg.Destination.Timeout,
		MaxRetries:  cfg.Destination.MaxRetries,
		Limiter:     limiter,
		Clock:       clk,
	})
	switch {
	case err == nil:
		dest = so
	case errors.Is(err, adapter.ErrNotConfigured):
		logging.Warn().Msg("Destination adapter not configured (SWIPEONE_API_KEY, SWIPEONE_WORKSPACE_ID); runs and imports will fail")
	default:
		return nil, nil, fmt.Errorf("destination adapter: %w", err)
	}
	return src, dest, nil
}

// queueComponents holds the transport-side resources main must release.
type queueComponents struct {
	processor *queue.Processor
	embedded  *queue.EmbeddedNATS
}

func (q *queueComponents) shutdown(ctx context.Context) {
	if q == nil || q.embedded == nil {
		return
	}
	if err := q.embedded.Shutdown(ctx); err != nil {
		logging.Warn().Err(err).Msg("Embedded NATS shutdown error")
	}
}

// buildQueue creates the row queue over the configured transport. With no
// destination there is nothing to deliver to, so the queue is skipped.
func buildQueue(ctx context.Context, cfg *config.Config, jobs store.JobStore, dest adapter.Destination, progress engine.ProgressPublisher) (*queueComponents, error) {
	if dest == nil {
		logging.Info().Msg("Import queue disabled: destination adapter not configured")
		return nil, nil
	}

	logger := logging.NewWatermillAdapter()
	qc := &queueComponents{}

	var transport *queue.Transport
	switch cfg.Queue.Transport {
	case "nats":
		natsCfg := queue.DefaultNATSConfig()
		natsCfg.URL = cfg.NATS.URL
		natsCfg.TopicPrefix = cfg.Queue.TopicPrefix
		natsCfg.DurablePrefix = cfg.NATS.DurablePrefix
		natsCfg.QueueGroup = cfg.NATS.QueueGroup
		if cfg.NATS.EmbeddedServer {
			srv, err := queue.StartEmbeddedNATS(queue.EmbeddedConfig{
				Host:     "127.0.0.1",
				Port:     -1,
				StoreDir: cfg.NATS.StoreDir,
			})
			if err != nil {
				return nil, fmt.Errorf("start embedded NATS: %w", err)
			}
			qc.embedded = srv
			natsCfg.URL = srv.ClientURL()
			logging.Info().Str("url", natsCfg.URL).Msg("Embedded NATS server started")
		}
		t, err := queue.NewNATSTransport(ctx, natsCfg, logger)
		if err != nil {
			qc.shutdown(ctx)
			return nil, fmt.Errorf("NATS transport: %w", err)
		}
		transport = t
	default:
		transport = queue.NewGoChannelTransport(logger)
	}

	p, err := queue.New(jobs, dest, transport, queueConfig(cfg), logger, queue.WithProgress(progress))
	if err != nil {
		_ = transport.Close()
		qc.shutdown(ctx)
		return nil, fmt.Errorf("import queue: %w", err)
	}
	qc.processor = p
	logging.Info().
		Str("transport", cfg.Queue.Transport).
		Int("concurrency", cfg.Queue.Concurrency).
		Msg("Import queue initialized")
	return qc, nil
}
