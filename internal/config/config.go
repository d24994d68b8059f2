// LeadSync - Resumable Batch Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

package config

import "time"

// Config is the complete service configuration.
type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Logging     LoggingConfig     `koanf:"logging"`
	Store       StoreConfig       `koanf:"store"`
	Gate        GateConfig        `koanf:"gate"`
	Engine      EngineConfig      `koanf:"engine"`
	RateLimit   RateLimitConfig   `koanf:"rate_limit"`
	Source      SourceConfig      `koanf:"source"`
	Destination DestinationConfig `koanf:"destination"`
	Queue       QueueConfig       `koanf:"queue"`
	NATS        NATSConfig        `koanf:"nats"`
	Scheduler   SchedulerConfig   `koanf:"scheduler"`
	Security    SecurityConfig    `koanf:"security"`
}

// ServerConfig configures the HTTP trigger surface.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	// RunTimeout bounds a background run started from an HTTP trigger.
	RunTimeout time.Duration `koanf:"run_timeout"`
}

// LoggingConfig mirrors logging.Config.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// StoreConfig selects the job/gate persistence backend.
type StoreConfig struct {
	Backend    string        `koanf:"backend"` // badger, redis, memory
	BadgerPath string        `koanf:"badger_path"`
	GCInterval time.Duration `koanf:"gc_interval"`
	RedisAddr  string        `koanf:"redis_addr"`
	RedisPass  string        `koanf:"redis_password"`
	RedisDB    int           `koanf:"redis_db"`
	KeyPrefix  string        `koanf:"key_prefix"`
}

// GateConfig tunes the scheduler gate.
type GateConfig struct {
	StuckThreshold          time.Duration `koanf:"stuck_threshold"`
	AwaitingFirstRunTimeout time.Duration `koanf:"awaiting_first_run_timeout"`
	DefaultIntervalMinutes  int           `koanf:"default_interval_minutes"`
}

// EngineConfig tunes the run loop.
type EngineConfig struct {
	PageSize         int           `koanf:"page_size"`
	FlushEvery       int           `koanf:"flush_every"`
	CancelCheckEvery int           `koanf:"cancel_check_every"`
	InterCallDelay   time.Duration `koanf:"inter_call_delay"`
	BootstrapWindow  time.Duration `koanf:"bootstrap_window"`
	ErrorSampleCap   int           `koanf:"error_sample_cap"`
	// StaticLabels are attached to every delivered record, e.g. "datacrazy-sync".
	StaticLabels []string `koanf:"static_labels"`
}

// RateLimitConfig configures the process-wide window limiter.
type RateLimitConfig struct {
	Limit  int           `koanf:"limit"`
	Window time.Duration `koanf:"window"`
	Margin time.Duration `koanf:"margin"`
}

// SourceConfig configures the DataCrazy pull-source.
type SourceConfig struct {
	BaseURL    string        `koanf:"base_url"`
	Token      string        `koanf:"token"`
	Timeout    time.Duration `koanf:"timeout"`
	MaxRetries int           `koanf:"max_retries"`
}

// DestinationConfig configures the SwipeOne push-destination.
type DestinationConfig struct {
	BaseURL     string        `koanf:"base_url"`
	APIKey      string        `koanf:"api_key"`
	WorkspaceID string        `koanf:"workspace_id"`
	Timeout     time.Duration `koanf:"timeout"`
	MaxRetries  int           `koanf:"max_retries"`
}

// QueueConfig configures the queue-backed import variant.
type QueueConfig struct {
	Transport         string        `koanf:"transport"` // gochannel, nats
	Concurrency       int           `koanf:"concurrency"`
	MaxRetries        int           `koanf:"max_retries"`
	RetryInterval     time.Duration `koanf:"retry_interval"`
	ThrottlePerSecond int64         `koanf:"throttle_per_second"`
	TopicPrefix       string        `koanf:"topic_prefix"`
	CloseTimeout      time.Duration `koanf:"close_timeout"`
}

// NATSConfig configures the JetStream transport.
type NATSConfig struct {
	URL            string `koanf:"url"`
	EmbeddedServer bool   `koanf:"embedded_server"`
	StoreDir       string `koanf:"store_dir"`
	DurablePrefix  string `koanf:"durable_prefix"`
	QueueGroup     string `koanf:"queue_group"`
}

// SchedulerConfig configures the recurring tick.
type SchedulerConfig struct {
	Enabled bool   `koanf:"enabled"`
	Spec    string `koanf:"spec"`
}

// SecurityConfig configures the HTTP edge.
type SecurityConfig struct {
	CORSOrigins       []string      `koanf:"cors_origins"`
	RateLimitReqs     int           `koanf:"rate_limit_reqs"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`
}

// SourceConfigured reports whether DataCrazy credentials are present.
func (c *Config) SourceConfigured() bool {
	return c.Source.BaseURL != "" && c.Source.Token != ""
}

// DestinationConfigured reports whether SwipeOne credentials are present.
func (c *Config) DestinationConfigured() bool {
	return c.Destination.BaseURL != "" && c.Destination.APIKey != "" && c.Destination.WorkspaceID != ""
}
