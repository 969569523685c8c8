// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsPlaceholderKey(t *testing.T) {
	tests := []struct {
		key  string
		want bool
	}{
		{"", true},
		{"   ", true},
		{PlaceholderKey, true},
		{" " + PlaceholderKey + "\n", true},
		{"AIzaSyExample", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, IsPlaceholderKey(tt.key), "key %q", tt.key)
	}
}

func TestFingerprint(t *testing.T) {
	fp := Fingerprint("AIzaSySecretValue")
	assert.True(t, strings.HasPrefix(fp, "sha256:"))
	assert.NotContains(t, fp, "Secret")
	assert.Equal(t, fp, Fingerprint("AIzaSySecretValue"))
	assert.NotEqual(t, fp, Fingerprint("other"))
	assert.Equal(t, "none", Fingerprint(""))
}

func TestGeminiSource_NotConfigured(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	for _, key := range []string{"", PlaceholderKey} {
		src := NewGeminiSource(func() Settings {
			return Settings{APIKey: key, BaseURL: srv.URL}
		})

		p, err := src.Provider(context.Background())
		assert.Nil(t, p)
		assert.True(t, errors.Is(err, ErrNotConfigured))
		assert.False(t, src.Configured())
	}
	assert.Zero(t, hits.Load())
}

// geminiStub serves the streamGenerateContent endpoint with fixed fragments.
func geminiStub(t *testing.T, fragments []string, captured chan<- string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		select {
		case captured <- string(body):
		default:
		}
		if !strings.Contains(r.URL.Path, ":streamGenerateContent") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, f := range fragments {
			fmt.Fprintf(w, "data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":%q}],\"role\":\"model\"}}]}\n\n", f)
		}
	}))
}

func TestGemini_StreamYieldsFragmentsInOrder(t *testing.T) {
	bodies := make(chan string, 1)
	srv := geminiStub(t, []string{"Hel", "lo", " world"}, bodies)
	defer srv.Close()

	src := NewGeminiSource(func() Settings {
		return Settings{APIKey: "test-key", BaseURL: srv.URL}
	})
	p, err := src.Provider(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "gemini", p.Name())
	assert.Equal(t, DefaultModel, p.Model())

	var got []string
	for text, err := range p.Stream(context.Background(), "Say hello") {
		require.NoError(t, err)
		got = append(got, text)
	}

	assert.Equal(t, []string{"Hel", "lo", " world"}, got)
	body := <-bodies
	assert.Contains(t, body, "Say hello")
	assert.Contains(t, body, "You are CodeHelper")
}

func TestGemini_UpstreamErrorCarriesProviderText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"error":{"code":400,"message":"API key not valid. Please pass a valid API key.","status":"INVALID_ARGUMENT"}}`)
	}))
	defer srv.Close()

	src := NewGeminiSource(func() Settings {
		return Settings{APIKey: "bad-key", BaseURL: srv.URL}
	})
	p, err := src.Provider(context.Background())
	require.NoError(t, err)

	var streamErr error
	for _, err := range p.Stream(context.Background(), "hi") {
		if err != nil {
			streamErr = err
		}
	}

	require.Error(t, streamErr)
	assert.Contains(t, ErrorText(streamErr), "API key not valid")
}

func TestGeminiSource_ReusesClientPerKey(t *testing.T) {
	key := "key-one"
	src := NewGeminiSource(func() Settings {
		return Settings{APIKey: key, BaseURL: "http://127.0.0.1:1"}
	})

	p1, err := src.Provider(context.Background())
	require.NoError(t, err)
	p2, err := src.Provider(context.Background())
	require.NoError(t, err)
	assert.Same(t, p1.(*Gemini).client, p2.(*Gemini).client)

	key = "key-two"
	p3, err := src.Provider(context.Background())
	require.NoError(t, err)
	assert.NotSame(t, p1.(*Gemini).client, p3.(*Gemini).client)

	key = PlaceholderKey
	_, err = src.Provider(context.Background())
	assert.True(t, errors.Is(err, ErrNotConfigured))
}

func TestErrorText(t *testing.T) {
	assert.Equal(t, "", ErrorText(nil))
	assert.Equal(t, "wrapped: boom", ErrorText(fmt.Errorf("wrapped: %w", errors.New("boom"))))
}
