// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for codehelper.
//
// Supports TOML and JSON configuration files, with defaults, environment
// variable overrides, validation and live reload.
//
// # Key Types
//
//   - Config: main configuration structure
//   - ProviderConfig: Gemini API key, model and endpoint
//   - RelayConfig: listen address, auth token, CORS and rate limits
//   - ClientConfig: where front ends find the relay
//   - IdentityConfig: external identity provider (Supabase) settings
//   - Live: atomically swappable current configuration
//   - Watcher: reloads a Live from disk when the file changes
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (GOOGLE_API_KEY, CODEHELPER_*, SUPABASE_*)
//   - ~/.codehelper/config.toml
//   - ~/.codehelper/config.json
//   - Built-in defaults
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	live := config.NewLive(cfg)
//	w, err := config.NewWatcher(path, live, 250*time.Millisecond)
package config
