// LeadSync - Resumable Batch Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// isolate points CONFIG_PATH at a file that does not exist and moves the
// working directory so that no stray config.yaml is picked up.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv(ConfigPathEnvVar, filepath.Join(dir, "missing.yaml"))
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
	return dir
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults do not validate: %v", err)
	}
	if cfg.Engine.PageSize != 100 || cfg.Engine.FlushEvery != 10 || cfg.Engine.CancelCheckEvery != 50 {
		t.Errorf("engine cadence = %d/%d/%d, want 100/10/50", cfg.Engine.PageSize, cfg.Engine.FlushEvery, cfg.Engine.CancelCheckEvery)
	}
	if cfg.Engine.InterCallDelay != time.Second {
		t.Errorf("InterCallDelay = %v, want 1s", cfg.Engine.InterCallDelay)
	}
	if cfg.Gate.StuckThreshold != 30*time.Minute {
		t.Errorf("StuckThreshold = %v, want 30m", cfg.Gate.StuckThreshold)
	}
	if cfg.RateLimit.Limit != 55 || cfg.RateLimit.Window != time.Minute {
		t.Errorf("rate limit = %d/%v, want 55/1m", cfg.RateLimit.Limit, cfg.RateLimit.Window)
	}
	if cfg.SourceConfigured() || cfg.DestinationConfigured() {
		t.Error("credentials should be empty by default")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("SYNC_INTER_CALL_DELAY", "250ms")
	t.Setenv("SYNC_STATIC_LABELS", "datacrazy-sync, crm ")
	t.Setenv("SWIPEONE_API_KEY", "key")
	t.Setenv("SWIPEONE_WORKSPACE_ID", "ws")
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("UNRELATED_VARIABLE", "ignored")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Engine.InterCallDelay != 250*time.Millisecond {
		t.Errorf("InterCallDelay = %v", cfg.Engine.InterCallDelay)
	}
	if len(cfg.Engine.StaticLabels) != 2 || cfg.Engine.StaticLabels[1] != "crm" {
		t.Errorf("StaticLabels = %v", cfg.Engine.StaticLabels)
	}
	if !cfg.DestinationConfigured() {
		t.Error("DestinationConfigured() = false")
	}
	if cfg.Store.Backend != "memory" {
		t.Errorf("Store.Backend = %q", cfg.Store.Backend)
	}
}

func TestLoad_YAMLFile(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "leadsync.yaml")
	content := `
engine:
  page_size: 50
queue:
  transport: gochannel
  concurrency: 5
gate:
  stuck_threshold: 45m
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("QUEUE_CONCURRENCY", "2")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Engine.PageSize != 50 {
		t.Errorf("PageSize = %d, want 50", cfg.Engine.PageSize)
	}
	if cfg.Gate.StuckThreshold != 45*time.Minute {
		t.Errorf("StuckThreshold = %v", cfg.Gate.StuckThreshold)
	}
	if cfg.Queue.Concurrency != 2 {
		t.Errorf("env should override file: Concurrency = %d", cfg.Queue.Concurrency)
	}
	if cfg.Engine.FlushEvery != 10 {
		t.Errorf("unset file value lost default: FlushEvery = %d", cfg.Engine.FlushEvery)
	}
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "HTTP_PORT"},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }, "LOG_LEVEL"},
		{"bad backend", func(c *Config) { c.Store.Backend = "postgres" }, "STORE_BACKEND"},
		{"short stuck threshold", func(c *Config) { c.Gate.StuckThreshold = time.Second }, "GATE_STUCK_THRESHOLD"},
		{"zero page size", func(c *Config) { c.Engine.PageSize = 0 }, "SYNC_PAGE_SIZE"},
		{"zero flush cadence", func(c *Config) { c.Engine.FlushEvery = 0 }, "SYNC_FLUSH_EVERY"},
		{"negative delay", func(c *Config) { c.Engine.InterCallDelay = -time.Second }, "SYNC_INTER_CALL_DELAY"},
		{"zero rate limit", func(c *Config) { c.RateLimit.Limit = 0 }, "DESTINATION_RATE_LIMIT"},
		{"bad source url", func(c *Config) { c.Source.BaseURL = "ftp://x" }, "DATACRAZY_BASE_URL"},
		{"bad transport", func(c *Config) { c.Queue.Transport = "kafka" }, "QUEUE_TRANSPORT"},
		{"nats without url", func(c *Config) { c.Queue.Transport = "nats"; c.NATS.URL = "http://x" }, "NATS_URL"},
		{"too much concurrency", func(c *Config) { c.Queue.Concurrency = 100 }, "QUEUE_CONCURRENCY"},
		{"bad cron spec", func(c *Config) { c.Scheduler.Spec = "every minute" }, "SCHEDULER_SPEC"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() = nil, want error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %v, want mention of %s", err, tt.want)
			}
		})
	}
}

func TestValidate_SchedulerDisabledSkipsSpec(t *testing.T) {
	cfg := defaultConfig()
	cfg.Scheduler.Enabled = false
	cfg.Scheduler.Spec = "garbage"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}
