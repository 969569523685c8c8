// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log"
	"net/http"
	"sync"

	"google.golang.org/genai"
)

// =============================================================================
// GEMINI SOURCE
// =============================================================================

// GeminiSource resolves a Gemini provider from settings read on every call,
// so a rotated key takes effect on the next request. The SDK client is
// reused while the key and endpoint stay the same.
type GeminiSource struct {
	settings   func() Settings
	httpClient *http.Client

	mu       sync.Mutex
	cacheKey string
	cached   *genai.Client
}

// NewGeminiSource creates a source that reads its settings from fn.
func NewGeminiSource(fn func() Settings) *GeminiSource {
	return &GeminiSource{settings: fn}
}

// WithHTTPClient sets the HTTP client handed to the SDK.
// Streaming responses must not be cut short, so the client should carry no
// overall timeout.
func (s *GeminiSource) WithHTTPClient(c *http.Client) *GeminiSource {
	s.httpClient = c
	return s
}

// Configured reports whether a usable key is present.
func (s *GeminiSource) Configured() bool {
	return !IsPlaceholderKey(s.settings().APIKey)
}

// Provider implements Source.
func (s *GeminiSource) Provider(ctx context.Context) (Provider, error) {
	cfg := s.settings()
	if IsPlaceholderKey(cfg.APIKey) {
		return nil, ErrNotConfigured
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = SystemPrompt
	}

	client, err := s.client(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Gemini{client: client, model: cfg.Model, system: cfg.SystemPrompt}, nil
}

func (s *GeminiSource) client(ctx context.Context, cfg Settings) (*genai.Client, error) {
	key := Fingerprint(cfg.APIKey) + "|" + cfg.BaseURL

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cached != nil && s.cacheKey == key {
		return s.cached, nil
	}

	cc := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: s.httpClient,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}

	client, err := genai.NewClient(context.WithoutCancel(ctx), cc)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	log.Printf("PROVIDER_CLIENT_CREATED | provider=gemini model=%s key=%s", cfg.Model, Fingerprint(cfg.APIKey))
	s.cached = client
	s.cacheKey = key
	return client, nil
}

// =============================================================================
// GEMINI PROVIDER
// =============================================================================

// Gemini streams completions from the Gemini API.
type Gemini struct {
	client *genai.Client
	model  string
	system string
}

// Name implements Provider.
func (g *Gemini) Name() string { return "gemini" }

// Model implements Provider.
func (g *Gemini) Model() string { return g.model }

// Stream implements Provider. The prompt is sent as the only user turn, with
// the system instruction attached.
func (g *Gemini) Stream(ctx context.Context, prompt string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		config := &genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(g.system, genai.RoleUser),
		}

		for resp, err := range g.client.Models.GenerateContentStream(ctx, g.model, genai.Text(prompt), config) {
			if err != nil {
				yield("", fmt.Errorf("gemini stream: %w", err))
				return
			}
			text := resp.Text()
			if text == "" {
				continue
			}
			if !yield(text, nil) {
				return
			}
		}
	}
}

// ErrorText extracts the provider's own message from err, falling back to
// the full error string.
func ErrorText(err error) string {
	if err == nil {
		return ""
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr.Message != "" {
		return apiErrPtr.Message
	}
	return err.Error()
}
