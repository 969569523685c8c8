// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"sync/atomic"
)

// Live holds the current configuration and lets it be swapped while other
// goroutines read it. Readers must treat the returned *Config as read-only;
// writers publish a fresh value with Set.
type Live struct {
	v       atomic.Pointer[Config]
	reloads atomic.Int64
}

// NewLive creates a holder for cfg.
func NewLive(cfg *Config) *Live {
	l := &Live{}
	l.v.Store(cfg)
	return l
}

// Get returns the current configuration.
func (l *Live) Get() *Config {
	return l.v.Load()
}

// Set publishes cfg as the current configuration.
func (l *Live) Set(cfg *Config) {
	l.v.Store(cfg)
	l.reloads.Add(1)
}

// Reloads returns how many times Set has been called.
func (l *Live) Reloads() int64 {
	return l.reloads.Load()
}
