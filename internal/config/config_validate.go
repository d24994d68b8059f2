// LeadSync - Resumable Batch Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Validate checks ranges and enumerations. Missing source or destination
// credentials are not rejected here: they surface as configuration errors
// when a run starts.
func (c *Config) Validate() error {
	validators := []func() error{
		c.validateServer,
		c.validateLogging,
		c.validateStore,
		c.validateGate,
		c.validateEngine,
		c.validateRateLimit,
		c.validateUpstreams,
		c.validateQueue,
		c.validateScheduler,
		c.validateSecurity,
	}
	for _, v := range validators {
		if err := v(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("HTTP_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.RunTimeout <= 0 {
		return fmt.Errorf("RUN_TIMEOUT must be positive, got %s", c.Server.RunTimeout)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch strings.ToLower(c.Logging.Level) {
	case "trace", "debug", "info", "warn", "warning", "error", "fatal", "panic", "disabled":
	default:
		return fmt.Errorf("LOG_LEVEL must be one of trace, debug, info, warn, error, fatal, panic, disabled; got %q", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "console":
	default:
		return fmt.Errorf("LOG_FORMAT must be json or console, got %q", c.Logging.Format)
	}
	return nil
}

func (c *Config) validateStore() error {
	switch c.Store.Backend {
	case "badger":
		if c.Store.BadgerPath == "" {
			return fmt.Errorf("BADGER_PATH is required when STORE_BACKEND=badger")
		}
	case "redis":
		if c.Store.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required when STORE_BACKEND=redis")
		}
	case "memory":
	default:
		return fmt.Errorf("STORE_BACKEND must be badger, redis or memory, got %q", c.Store.Backend)
	}
	return nil
}

func (c *Config) validateGate() error {
	if c.Gate.StuckThreshold < time.Minute {
		return fmt.Errorf("GATE_STUCK_THRESHOLD must be at least 1m, got %s", c.Gate.StuckThreshold)
	}
	if c.Gate.AwaitingFirstRunTimeout < time.Minute {
		return fmt.Errorf("GATE_AWAITING_FIRST_RUN_TIMEOUT must be at least 1m, got %s", c.Gate.AwaitingFirstRunTimeout)
	}
	if c.Gate.DefaultIntervalMinutes < 1 {
		return fmt.Errorf("GATE_DEFAULT_INTERVAL_MINUTES must be at least 1, got %d", c.Gate.DefaultIntervalMinutes)
	}
	return nil
}

func (c *Config) validateEngine() error {
	e := c.Engine
	if e.PageSize < 1 || e.PageSize > 1000 {
		return fmt.Errorf("SYNC_PAGE_SIZE must be between 1 and 1000, got %d", e.PageSize)
	}
	if e.FlushEvery < 1 {
		return fmt.Errorf("SYNC_FLUSH_EVERY must be at least 1, got %d", e.FlushEvery)
	}
	if e.CancelCheckEvery < 1 {
		return fmt.Errorf("SYNC_CANCEL_CHECK_EVERY must be at least 1, got %d", e.CancelCheckEvery)
	}
	if e.InterCallDelay < 0 {
		return fmt.Errorf("SYNC_INTER_CALL_DELAY must not be negative, got %s", e.InterCallDelay)
	}
	if e.BootstrapWindow <= 0 {
		return fmt.Errorf("SYNC_BOOTSTRAP_WINDOW must be positive, got %s", e.BootstrapWindow)
	}
	if e.ErrorSampleCap < 1 {
		return fmt.Errorf("SYNC_ERROR_SAMPLE_CAP must be at least 1, got %d", e.ErrorSampleCap)
	}
	return nil
}

func (c *Config) validateRateLimit() error {
	if c.RateLimit.Limit < 1 {
		return fmt.Errorf("DESTINATION_RATE_LIMIT must be at least 1, got %d", c.RateLimit.Limit)
	}
	if c.RateLimit.Window <= 0 {
		return fmt.Errorf("DESTINATION_RATE_LIMIT_WINDOW must be positive, got %s", c.RateLimit.Window)
	}
	if c.RateLimit.Margin < 0 {
		return fmt.Errorf("DESTINATION_RATE_LIMIT_MARGIN must not be negative, got %s", c.RateLimit.Margin)
	}
	return nil
}

func (c *Config) validateUpstreams() error {
	if c.Source.BaseURL != "" {
		if err := validateHTTPURL(c.Source.BaseURL, "DATACRAZY_BASE_URL"); err != nil {
			return err
		}
	}
	if c.Destination.BaseURL != "" {
		if err := validateHTTPURL(c.Destination.BaseURL, "SWIPEONE_BASE_URL"); err != nil {
			return err
		}
	}
	if c.Source.MaxRetries < 0 || c.Destination.MaxRetries < 0 {
		return fmt.Errorf("upstream max retries must not be negative")
	}
	return nil
}

func (c *Config) validateQueue() error {
	switch c.Queue.Transport {
	case "gochannel":
	case "nats":
		if err := validateNATSURL(c.NATS.URL); err != nil {
			return fmt.Errorf("NATS_URL is invalid: %w", err)
		}
	default:
		return fmt.Errorf("QUEUE_TRANSPORT must be gochannel or nats, got %q", c.Queue.Transport)
	}
	if c.Queue.Concurrency < 1 || c.Queue.Concurrency > 32 {
		return fmt.Errorf("QUEUE_CONCURRENCY must be between 1 and 32, got %d", c.Queue.Concurrency)
	}
	if c.Queue.MaxRetries < 0 || c.Queue.MaxRetries > 10 {
		return fmt.Errorf("QUEUE_MAX_RETRIES must be between 0 and 10, got %d", c.Queue.MaxRetries)
	}
	if c.Queue.ThrottlePerSecond < 0 {
		return fmt.Errorf("QUEUE_THROTTLE_PER_SECOND must not be negative, got %d", c.Queue.ThrottlePerSecond)
	}
	if c.Queue.TopicPrefix == "" {
		return fmt.Errorf("QUEUE_TOPIC_PREFIX is required")
	}
	return nil
}

func (c *Config) validateScheduler() error {
	if !c.Scheduler.Enabled {
		return nil
	}
	if _, err := cron.ParseStandard(c.Scheduler.Spec); err != nil {
		return fmt.Errorf("SCHEDULER_SPEC %q is invalid: %w", c.Scheduler.Spec, err)
	}
	return nil
}

func (c *Config) validateSecurity() error {
	if c.Security.RateLimitDisabled {
		return nil
	}
	if c.Security.RateLimitReqs < 1 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must be at least 1, got %d", c.Security.RateLimitReqs)
	}
	if c.Security.RateLimitWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be positive, got %s", c.Security.RateLimitWindow)
	}
	return nil
}
