// LeadSync - Resumable Batch Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

/*
Package config loads LeadSync configuration with koanf.

Sources, lowest precedence first:

 1. Built-in defaults (defaultConfig)
 2. YAML file from CONFIG_PATH, or config.yaml / /etc/leadsync/config.yaml
 3. Environment variables listed in envMappings

Example config.yaml:

	store:
	  backend: badger
	  badger_path: /data/leadsync
	engine:
	  page_size: 100
	  inter_call_delay: 1s
	destination:
	  api_key: sk_live_...
	  workspace_id: ws_123

Durations use Go syntax (30s, 15m). Comma separated environment values are
accepted for list settings such as SYNC_STATIC_LABELS and CORS_ORIGINS.
*/
package config
