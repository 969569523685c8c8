// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/jeranaias/codehelper/internal/client"
	"github.com/jeranaias/codehelper/internal/config"
	"github.com/jeranaias/codehelper/internal/identity"
	"github.com/jeranaias/codehelper/internal/model"
	"github.com/jeranaias/codehelper/internal/provider"
	"github.com/jeranaias/codehelper/internal/ui/styles"
)

// =============================================================================
// EXIT CODES
// =============================================================================

const (
	// ExitSuccess indicates successful execution
	ExitSuccess = 0
	// ExitGeneralError indicates a general/unknown error
	ExitGeneralError = 1
	// ExitUsageError indicates invalid command usage or arguments
	ExitUsageError = 2
	// ExitConfigError indicates configuration file or settings error
	ExitConfigError = 3
	// ExitAuthError indicates authentication or authorization failure
	ExitAuthError = 4
	// ExitNetworkError indicates network or connectivity error
	ExitNetworkError = 5
	// ExitInterrupted indicates the user cancelled with Ctrl+C
	ExitInterrupted = 130
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// UsageError reports invalid command usage.
type UsageError struct {
	Command string
	Reason  string
	Example string
}

func (e *UsageError) Error() string {
	msg := e.Reason
	if e.Command != "" {
		msg = e.Command + ": " + msg
	}
	if e.Example != "" {
		msg += "\nExample: " + e.Example
	}
	return msg
}

// ReplyError reports a provider failure delivered inside the reply stream.
type ReplyError struct {
	Text string
}

func (e *ReplyError) Error() string {
	return "provider error: " + e.Text
}

// =============================================================================
// EXIT CODE MAPPING
// =============================================================================

// GetExitCode determines the exit code for an error.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var usageErr *UsageError
	var cfgErrs config.ValidateErrors
	var cfgErr config.ValidationError
	var relayErr *client.RelayError
	var transportErr *client.TransportError

	switch {
	case errors.Is(err, context.Canceled):
		return ExitInterrupted
	case errors.As(err, &usageErr), errors.Is(err, model.ErrUnknownModel):
		return ExitUsageError
	case errors.As(err, &cfgErrs), errors.As(err, &cfgErr), errors.Is(err, provider.ErrNotConfigured):
		return ExitConfigError
	case errors.Is(err, identity.ErrNoUser):
		return ExitAuthError
	case errors.As(err, &relayErr):
		if relayErr.Message == provider.SetupHint {
			return ExitConfigError
		}
		switch relayErr.Status {
		case http.StatusUnauthorized, http.StatusForbidden:
			return ExitAuthError
		case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return ExitNetworkError
		}
		return ExitGeneralError
	case errors.As(err, &transportErr):
		return ExitNetworkError
	}
	return ExitGeneralError
}

// =============================================================================
// DISPLAY
// =============================================================================

// DisplayError writes err in the CLI's error format.
func DisplayError(w io.Writer, err error, jsonMode bool) {
	if err == nil {
		return
	}
	if jsonMode {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		_ = enc.Encode(map[string]interface{}{
			"error":     err.Error(),
			"exit_code": GetExitCode(err),
			"success":   false,
		})
		return
	}
	if errors.Is(err, context.Canceled) {
		fmt.Fprintln(w, styles.RenderWarning("Cancelled"))
		return
	}
	fmt.Fprintln(w, styles.RenderError(err.Error()))
}
