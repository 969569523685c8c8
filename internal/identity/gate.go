// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package identity decides whether a signed-in user is present before the
// front ends allow chatting. Sign-in itself is handled by the external
// identity provider.
package identity

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/jeranaias/codehelper/internal/config"
	"github.com/jeranaias/codehelper/internal/provider"
)

// ErrNoUser is returned by Require when no user is signed in.
var ErrNoUser = errors.New("not signed in: set SUPABASE_ACCESS_TOKEN or identity.access_token")

// Gate reports whether a user is present.
type Gate interface {
	UserPresent(ctx context.Context) (bool, error)
}

// Require returns ErrNoUser when gate reports no user.
func Require(ctx context.Context, gate Gate) error {
	ok, err := gate.UserPresent(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNoUser
	}
	return nil
}

// FromConfig returns a SupabaseGate when an identity provider is
// configured and AllowAll otherwise.
func FromConfig(cfg config.IdentityConfig) Gate {
	if !cfg.Enabled() {
		return AllowAll{}
	}
	return NewSupabaseGate(cfg.URL, cfg.AnonKey, cfg.AccessToken)
}

// =============================================================================
// ALLOW ALL
// =============================================================================

// AllowAll is used when no identity provider is configured.
type AllowAll struct{}

// UserPresent always reports true.
func (AllowAll) UserPresent(context.Context) (bool, error) { return true, nil }

// =============================================================================
// SUPABASE
// =============================================================================

// SupabaseGate validates an access token against GET {url}/auth/v1/user.
type SupabaseGate struct {
	baseURL     string
	anonKey     string
	accessToken string
	httpClient  *http.Client
}

// NewSupabaseGate creates a gate for the project at baseURL.
func NewSupabaseGate(baseURL, anonKey, accessToken string) *SupabaseGate {
	return &SupabaseGate{
		baseURL:     strings.TrimRight(baseURL, "/"),
		anonKey:     anonKey,
		accessToken: strings.TrimSpace(accessToken),
		httpClient:  &http.Client{Timeout: 10 * time.Second},
	}
}

// WithHTTPClient replaces the HTTP client.
func (g *SupabaseGate) WithHTTPClient(hc *http.Client) *SupabaseGate {
	g.httpClient = hc
	return g
}

// UserPresent reports true when the provider accepts the access token.
// 401 and 403 mean no user; other statuses are errors.
func (g *SupabaseGate) UserPresent(ctx context.Context) (bool, error) {
	if g.accessToken == "" {
		return false, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/auth/v1/user", nil)
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("apikey", g.anonKey)
	req.Header.Set("Authorization", "Bearer "+g.accessToken)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("identity check failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusUnauthorized, http.StatusForbidden:
		log.Printf("IDENTITY_REJECTED | status=%d token=%s", resp.StatusCode, provider.Fingerprint(g.accessToken))
		return false, nil
	default:
		return false, fmt.Errorf("identity check failed: HTTP %d", resp.StatusCode)
	}
}
