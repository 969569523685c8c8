// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package identity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/codehelper/internal/config"
)

func TestSupabaseGate(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		want    bool
		wantErr bool
	}{
		{"valid session", http.StatusOK, true, false},
		{"expired token", http.StatusUnauthorized, false, false},
		{"forbidden", http.StatusForbidden, false, false},
		{"provider down", http.StatusServiceUnavailable, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/auth/v1/user", r.URL.Path)
				assert.Equal(t, "anon", r.Header.Get("apikey"))
				assert.Equal(t, "Bearer jwt", r.Header.Get("Authorization"))
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			got, err := NewSupabaseGate(srv.URL+"/", "anon", "jwt").UserPresent(context.Background())
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSupabaseGate_NoTokenSkipsRequest(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
	}))
	defer srv.Close()

	got, err := NewSupabaseGate(srv.URL, "anon", " ").UserPresent(context.Background())
	require.NoError(t, err)
	assert.False(t, got)
	assert.Zero(t, hits)
}

func TestFromConfig(t *testing.T) {
	_, ok := FromConfig(config.IdentityConfig{}).(AllowAll)
	assert.True(t, ok)

	_, ok = FromConfig(config.IdentityConfig{URL: "https://x.supabase.co"}).(*SupabaseGate)
	assert.True(t, ok)
}

func TestRequire(t *testing.T) {
	assert.NoError(t, Require(context.Background(), AllowAll{}))
	assert.ErrorIs(t, Require(context.Background(), NewSupabaseGate("http://unused", "", "")), ErrNoUser)
}
