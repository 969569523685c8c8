// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package relay

import (
	"errors"
	"net/http"
)

// ============================================================================
// ERROR TAXONOMY
// ============================================================================

// ValidationError is a malformed or incomplete chat request.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// StatusCode returns 400.
func (e *ValidationError) StatusCode() int { return http.StatusBadRequest }

// ConfigurationError means the relay cannot reach the provider because a
// credential is missing. It is detected before any upstream call.
type ConfigurationError struct {
	Message string
	Err     error
}

func (e *ConfigurationError) Error() string { return e.Message }

// Unwrap returns the underlying error.
func (e *ConfigurationError) Unwrap() error { return e.Err }

// StatusCode returns 500.
func (e *ConfigurationError) StatusCode() int { return http.StatusInternalServerError }

// ProviderError carries a failure reported by the upstream model. Message is
// the provider's own text and is passed to the client as is.
type ProviderError struct {
	Message string
	Err     error
}

func (e *ProviderError) Error() string { return e.Message }

// Unwrap returns the underlying error.
func (e *ProviderError) Unwrap() error { return e.Err }

// StatusCode returns 500.
func (e *ProviderError) StatusCode() int { return http.StatusInternalServerError }

// statusCoder is implemented by errors that map to an HTTP status.
type statusCoder interface {
	StatusCode() int
}

// statusFor returns the HTTP status for err, defaulting to 500.
func statusFor(err error) int {
	var sc statusCoder
	if errors.As(err, &sc) {
		return sc.StatusCode()
	}
	return http.StatusInternalServerError
}
