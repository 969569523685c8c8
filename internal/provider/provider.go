// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package provider wraps the hosted model behind a small streaming interface.
package provider

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"iter"
	"strings"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// PlaceholderKey is the sample value shipped in example configuration.
	// It is treated exactly like a missing key.
	PlaceholderKey = "your-google-api-key-here"

	// DefaultModel is the upstream model used for every request.
	DefaultModel = "gemini-2.0-flash-exp"

	// SystemPrompt is the fixed system instruction sent with every prompt.
	SystemPrompt = "You are CodeHelper, an expert programming assistant. " +
		"Help users with coding questions, debugging, and development guidance. " +
		"Be concise but thorough."

	// SetupHint tells an operator how to supply credentials.
	SetupHint = "⚠️ Google API key not configured. Please add your GOOGLE_API_KEY " +
		"to the environment or set provider.api_key in ~/.codehelper/config.toml " +
		"(get a key at https://aistudio.google.com/apikey)."
)

// ErrNotConfigured is returned when no usable API key is available.
var ErrNotConfigured = errors.New("provider API key not configured")

// =============================================================================
// INTERFACES
// =============================================================================

// Provider streams a completion for a single prompt.
type Provider interface {
	// Name identifies the backend in logs and health output.
	Name() string

	// Model returns the upstream model identifier.
	Model() string

	// Stream yields text fragments in the order the upstream produces them.
	// The first non-nil error ends the sequence. Each call is stateless:
	// no earlier prompt is sent along.
	Stream(ctx context.Context, prompt string) iter.Seq2[string, error]
}

// Source resolves the provider to use for one request.
//
// Provider returns ErrNotConfigured, without touching the network, when
// the credential is missing or a placeholder.
type Source interface {
	Provider(ctx context.Context) (Provider, error)
}

// Settings is the provider configuration read at resolution time.
type Settings struct {
	APIKey       string
	Model        string
	BaseURL      string
	SystemPrompt string
}

// =============================================================================
// HELPERS
// =============================================================================

// IsPlaceholderKey reports whether key is empty, blank, or the shipped
// placeholder.
func IsPlaceholderKey(key string) bool {
	key = strings.TrimSpace(key)
	return key == "" || key == PlaceholderKey
}

// Fingerprint returns a short, non-reversible identifier for a secret,
// suitable for logs.
func Fingerprint(secret string) string {
	if secret == "" {
		return "none"
	}
	sum := sha256.Sum256([]byte(secret))
	return "sha256:" + hex.EncodeToString(sum[:4])
}
