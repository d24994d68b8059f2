// LeadSync - Resumable Batch Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths are searched in order when CONFIG_PATH is unset.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/leadsync/config.yaml",
	"/etc/leadsync/config.yml",
}

// ConfigPathEnvVar overrides the config file location.
const ConfigPathEnvVar = "CONFIG_PATH"

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			RunTimeout:      6 * time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Store: StoreConfig{
			Backend:    "badger",
			BadgerPath: "/data/leadsync",
			GCInterval: 10 * time.Minute,
			RedisAddr:  "127.0.0.1:6379",
			KeyPrefix:  "leadsync:",
		},
		Gate: GateConfig{
			StuckThreshold:          30 * time.Minute,
			AwaitingFirstRunTimeout: 30 * time.Minute,
			DefaultIntervalMinutes:  15,
		},
		Engine: EngineConfig{
			PageSize:         100,
			FlushEvery:       10,
			CancelCheckEvery: 50,
			InterCallDelay:   time.Second,
			BootstrapWindow:  time.Hour,
			ErrorSampleCap:   50,
			StaticLabels:     []string{},
		},
		RateLimit: RateLimitConfig{
			Limit:  55,
			Window: time.Minute,
			Margin: 2 * time.Second,
		},
		Source: SourceConfig{
			BaseURL:    "https://api.g1.datacrazy.io",
			Timeout:    30 * time.Second,
			MaxRetries: 3,
		},
		Destination: DestinationConfig{
			BaseURL:    "https://api.swipeone.com",
			Timeout:    30 * time.Second,
			MaxRetries: 3,
		},
		Queue: QueueConfig{
			Transport:         "gochannel",
			Concurrency:       3,
			MaxRetries:        3,
			RetryInterval:     2 * time.Second,
			ThrottlePerSecond: 1,
			TopicPrefix:       "leadsync.import.rows",
			CloseTimeout:      30 * time.Second,
		},
		NATS: NATSConfig{
			URL:            "nats://127.0.0.1:4222",
			EmbeddedServer: false,
			StoreDir:       "/data/nats",
			DurablePrefix:  "leadsync-import",
			QueueGroup:     "leadsync-workers",
		},
		Scheduler: SchedulerConfig{
			Enabled: true,
			Spec:    "@every 1m",
		},
		Security: SecurityConfig{
			CORSOrigins:     []string{"*"},
			RateLimitReqs:   60,
			RateLimitWindow: time.Minute,
		},
	}
}

// Load reads configuration from defaults, an optional YAML file and the
// environment, in increasing order of precedence.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// sliceConfigPaths accept comma separated strings from the environment.
var sliceConfigPaths = []string{
	"engine.static_labels",
	"security.cors_origins",
}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// envMappings maps environment variable names to koanf paths. Variables not
// listed here are ignored.
var envMappings = map[string]string{
	"http_host":             "server.host",
	"http_port":             "server.port",
	"http_read_timeout":     "server.read_timeout",
	"http_write_timeout":    "server.write_timeout",
	"http_shutdown_timeout": "server.shutdown_timeout",
	"run_timeout":           "server.run_timeout",

	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",

	"store_backend":     "store.backend",
	"badger_path":       "store.badger_path",
	"store_gc_interval": "store.gc_interval",
	"redis_addr":        "store.redis_addr",
	"redis_password":    "store.redis_password",
	"redis_db":          "store.redis_db",
	"store_key_prefix":  "store.key_prefix",

	"gate_stuck_threshold":            "gate.stuck_threshold",
	"gate_awaiting_first_run_timeout": "gate.awaiting_first_run_timeout",
	"gate_default_interval_minutes":   "gate.default_interval_minutes",
	"sync_page_size":                  "engine.page_size",
	"sync_flush_every":                "engine.flush_every",
	"sync_cancel_check_every":         "engine.cancel_check_every",
	"sync_inter_call_delay":           "engine.inter_call_delay",
	"sync_bootstrap_window":           "engine.bootstrap_window",
	"sync_error_sample_cap":           "engine.error_sample_cap",
	"sync_static_labels":              "engine.static_labels",
	"destination_rate_limit":          "rate_limit.limit",
	"destination_rate_limit_window":   "rate_limit.window",
	"destination_rate_limit_margin":   "rate_limit.margin",
	"datacrazy_base_url":              "source.base_url",
	"datacrazy_token":                 "source.token",
	"datacrazy_timeout":               "source.timeout",
	"datacrazy_max_retries":           "source.max_retries",
	"swipeone_base_url":               "destination.base_url",
	"swipeone_api_key":                "destination.api_key",
	"swipeone_workspace_id":           "destination.workspace_id",
	"swipeone_timeout":                "destination.timeout",
	"swipeone_max_retries":            "destination.max_retries",
	"queue_transport":                 "queue.transport",
	"queue_concurrency":               "queue.concurrency",
	"queue_max_retries":               "queue.max_retries",
	"queue_retry_interval":            "queue.retry_interval",
	"queue_throttle_per_second":       "queue.throttle_per_second",
	"queue_topic_prefix":              "queue.topic_prefix",
	"queue_close_timeout":             "queue.close_timeout",
	"nats_url":                        "nats.url",
	"nats_embedded":                   "nats.embedded_server",
	"nats_store_dir":                  "nats.store_dir",
	"nats_durable_prefix":             "nats.durable_prefix",
	"nats_queue_group":                "nats.queue_group",
	"scheduler_enabled":               "scheduler.enabled",
	"scheduler_spec":                  "scheduler.spec",
	"cors_origins":                    "security.cors_origins",
	"rate_limit_requests":             "security.rate_limit_reqs",
	"rate_limit_window":               "security.rate_limit_window",
	"disable_rate_limit":              "security.rate_limit_disabled",
}

// envTransformFunc returns "" for unknown variables so koanf skips them.
func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}
