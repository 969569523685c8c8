// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package client talks to the relay and feeds streamed replies into the
// conversation store.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

// Configuration constants for the relay client.
const (
	// DefaultRelayURL is the base URL of a locally running relay.
	DefaultRelayURL = "http://127.0.0.1:3000"

	// ChatPath is appended to the base URL.
	ChatPath = "/api/chat"

	// MaxErrorBodySize bounds how much of a non-200 body is read.
	MaxErrorBodySize = 64 * 1024
)

// sharedStreamingClient has no overall timeout; streamed replies are
// bounded by the request context instead.
var sharedStreamingClient = &http.Client{
	Transport: &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        16,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	},
}

// =============================================================================
// ERRORS
// =============================================================================

// RelayError is a non-200 answer from the relay. Message is the relay's
// own error text when it sent one.
type RelayError struct {
	Status  int
	Message string
}

// Error implements the error interface.
func (e *RelayError) Error() string {
	return e.Message
}

// TransportError is a failure to reach the relay or to read its response.
type TransportError struct {
	Op  string
	Err error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// =============================================================================
// RELAY CLIENT
// =============================================================================

// RelayClient opens streamed chat replies from the relay.
type RelayClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewRelayClient creates a client for the relay at baseURL.
func NewRelayClient(baseURL string) *RelayClient {
	if baseURL == "" {
		baseURL = DefaultRelayURL
	}
	return &RelayClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: sharedStreamingClient,
	}
}

// WithToken sets the bearer token sent with every request.
func (c *RelayClient) WithToken(token string) *RelayClient {
	c.token = token
	return c
}

// WithHTTPClient replaces the HTTP client.
func (c *RelayClient) WithHTTPClient(hc *http.Client) *RelayClient {
	c.httpClient = hc
	return c
}

// URL returns the chat endpoint.
func (c *RelayClient) URL() string {
	return c.baseURL + ChatPath
}

type chatRequest struct {
	Message string `json:"message"`
}

// Open posts prompt and returns the streamed response body. The caller must
// close it.
func (c *RelayClient) Open(ctx context.Context, prompt string) (io.ReadCloser, error) {
	body, err := json.Marshal(chatRequest{Message: prompt})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Op: "request failed", Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, handleErrorResponse(resp)
	}
	if resp.Body == nil || resp.Body == http.NoBody {
		return nil, &TransportError{Op: "read response", Err: errors.New("response has no body")}
	}
	return resp.Body, nil
}

// handleErrorResponse converts a non-200 response into a RelayError.
func handleErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, MaxErrorBodySize))

	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		return &RelayError{Status: resp.StatusCode, Message: payload.Error}
	}

	log.Printf("RELAY_ERROR_UNPARSED | status=%d bytes=%d", resp.StatusCode, len(body))
	return &RelayError{Status: resp.StatusCode, Message: fmt.Sprintf("Server error: %d", resp.StatusCode)}
}
