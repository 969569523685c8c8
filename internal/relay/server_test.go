// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package relay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"iter"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/codehelper/internal/config"
	"github.com/jeranaias/codehelper/internal/provider"
	"github.com/jeranaias/codehelper/internal/stream"
)

// =============================================================================
// FAKES
// =============================================================================

// fakeProvider yields fragments, then failAt's error if failAt >= 0.
type fakeProvider struct {
	fragments []string
	failAt    int
	err       error
	prompts   chan string
}

func (f *fakeProvider) Name() string  { return "fake" }
func (f *fakeProvider) Model() string { return "fake-1" }

func (f *fakeProvider) Stream(ctx context.Context, prompt string) iter.Seq2[string, error] {
	if f.prompts != nil {
		f.prompts <- prompt
	}
	return func(yield func(string, error) bool) {
		for i, frag := range f.fragments {
			if i == f.failAt {
				yield("", f.err)
				return
			}
			if !yield(frag, nil) {
				return
			}
		}
		if f.failAt == len(f.fragments) {
			yield("", f.err)
		}
	}
}

type fakeSource struct {
	p     provider.Provider
	err   error
	calls atomic.Int32
}

func (s *fakeSource) Provider(ctx context.Context) (provider.Provider, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	return s.p, nil
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Relay.RateLimit = 0
	return cfg
}

func newTestServer(t *testing.T, src provider.Source) *Server {
	t.Helper()
	return NewServer(config.NewLive(testConfig()), src)
}

func postChat(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, ChatPath, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func errorBody(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return resp.Error
}

// parseFrames runs a response body through the client-side parser.
func parseFrames(t *testing.T, body string) ([]stream.Event, bool) {
	t.Helper()
	p := stream.NewParser()
	var events []stream.Event
	for _, r := range append(p.Feed(body), p.Close()...) {
		require.NoError(t, r.Err)
		if !r.Done {
			events = append(events, r.Event)
		}
	}
	return events, p.Done()
}

// =============================================================================
// CHAT: VALIDATION
// =============================================================================

func TestChat_RejectsBadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"invalid json", `{"message":`, "Invalid request body"},
		{"wrong type", `{"message": 42}`, "Invalid request body"},
		{"missing message", `{}`, "Message is required"},
		{"empty message", `{"message": ""}`, "Message is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &fakeSource{p: &fakeProvider{failAt: -1}}
			s := newTestServer(t, src)

			rec := postChat(t, s.Handler(), tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.want, errorBody(t, rec))
			assert.Zero(t, src.calls.Load(), "provider must not be resolved")
		})
	}
}

func TestChat_PromptTooLong(t *testing.T) {
	cfg := testConfig()
	cfg.Relay.MaxPromptRunes = 5
	s := NewServer(config.NewLive(cfg), &fakeSource{p: &fakeProvider{failAt: -1}})

	rec := postChat(t, s.Handler(), `{"message":"héllo!"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, errorBody(t, rec), "maximum length of 5")

	rec = postChat(t, s.Handler(), `{"message":"héllo"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestChat_BodyTooLarge(t *testing.T) {
	s := newTestServer(t, &fakeSource{p: &fakeProvider{failAt: -1}})

	big := `{"message":"` + strings.Repeat("a", MaxRequestBodySize+1) + `"}`
	rec := postChat(t, s.Handler(), big)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

// =============================================================================
// CHAT: CONFIGURATION
// =============================================================================

func TestChat_NotConfigured(t *testing.T) {
	var hits atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer upstream.Close()

	cfg := testConfig()
	cfg.Provider.APIKey = provider.PlaceholderKey
	cfg.Provider.BaseURL = upstream.URL
	live := config.NewLive(cfg)
	src := provider.NewGeminiSource(func() provider.Settings { return live.Get().ProviderSettings() })
	s := NewServer(live, src)

	rec := postChat(t, s.Handler(), `{"message":"Hello"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, provider.SetupHint, errorBody(t, rec))
	assert.Zero(t, hits.Load())
	assert.EqualValues(t, 1, s.Stats().Snapshot().ConfigErrors)
}

// =============================================================================
// CHAT: STREAMING
// =============================================================================

func TestChat_WhitespaceMessageIsForwarded(t *testing.T) {
	prompts := make(chan string, 1)
	src := &fakeSource{p: &fakeProvider{fragments: []string{"ok"}, failAt: -1, prompts: prompts}}
	s := newTestServer(t, src)

	rec := postChat(t, s.Handler(), `{"message":"   "}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "   ", <-prompts)
}

func TestChat_StreamsFragments(t *testing.T) {
	prompts := make(chan string, 1)
	src := &fakeSource{p: &fakeProvider{fragments: []string{"Hi", " there", "!"}, failAt: -1, prompts: prompts}}
	s := newTestServer(t, src)

	rec := postChat(t, s.Handler(), `{"message":"Hello"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Hello", <-prompts)
	assert.Equal(t, stream.ContentType, rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.Equal(t, stream.ProtocolVersion, rec.Header().Get(stream.ProtocolHeader))
	assert.True(t, rec.Flushed)

	body := rec.Body.String()
	for _, line := range strings.Split(body, "\n") {
		if line != "" {
			assert.True(t, strings.HasPrefix(line, stream.DataPrefix), "line %q", line)
		}
	}
	assert.True(t, strings.HasSuffix(body, "data: [DONE]\n\n"))

	events, done := parseFrames(t, body)
	require.True(t, done)

	var text strings.Builder
	var types []stream.EventType
	for _, ev := range events {
		types = append(types, ev.Type)
		if ev.IsTextDelta() {
			text.WriteString(ev.Delta)
		}
	}
	assert.Equal(t, "Hi there!", text.String())
	assert.Equal(t, []stream.EventType{
		stream.TypeStart, stream.TypeTextStart,
		stream.TypeTextDelta, stream.TypeTextDelta, stream.TypeTextDelta,
		stream.TypeTextEnd, stream.TypeFinish,
	}, types)

	snap := s.Stats().Snapshot()
	assert.EqualValues(t, 1, snap.Streamed)
	assert.EqualValues(t, 3, snap.Fragments)
}

func TestChat_EmptyReply(t *testing.T) {
	s := newTestServer(t, &fakeSource{p: &fakeProvider{failAt: -1}})

	rec := postChat(t, s.Handler(), `{"message":"Hello"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	events, done := parseFrames(t, rec.Body.String())
	assert.True(t, done)
	for _, ev := range events {
		assert.False(t, ev.IsTextDelta())
	}
}

func TestChat_UpstreamFailsBeforeFirstFragment(t *testing.T) {
	p := &fakeProvider{fragments: []string{"never"}, failAt: 0, err: errors.New("API key not valid. Please pass a valid API key.")}
	s := newTestServer(t, &fakeSource{p: p})

	rec := postChat(t, s.Handler(), `{"message":"Hello"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "API key not valid. Please pass a valid API key.", errorBody(t, rec))
	assert.EqualValues(t, 1, s.Stats().Snapshot().ProviderErrors)
}

func TestChat_UpstreamFailsMidStream(t *testing.T) {
	p := &fakeProvider{fragments: []string{"Par", "tial"}, failAt: 2, err: errors.New("quota exceeded")}
	s := newTestServer(t, &fakeSource{p: p})

	rec := postChat(t, s.Handler(), `{"message":"Hello"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	events, done := parseFrames(t, rec.Body.String())
	require.True(t, done)
	require.NotEmpty(t, events)

	last := events[len(events)-1]
	assert.True(t, last.IsError())
	assert.Equal(t, "quota exceeded", last.ErrorText)

	var text strings.Builder
	for _, ev := range events {
		if ev.IsTextDelta() {
			text.WriteString(ev.Delta)
		}
	}
	assert.Equal(t, "Partial", text.String())
}

func TestChat_SourceError(t *testing.T) {
	s := newTestServer(t, &fakeSource{err: errors.New("client init failed")})

	rec := postChat(t, s.Handler(), `{"message":"Hello"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "client init failed", errorBody(t, rec))
}

func TestChat_MethodNotAllowed(t *testing.T) {
	s := newTestServer(t, &fakeSource{p: &fakeProvider{failAt: -1}})

	req := httptest.NewRequest(http.MethodGet, ChatPath, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

// Streams through a real listener so the middleware chain's Flush
// passthrough is exercised end to end.
func TestChat_OverHTTP(t *testing.T) {
	s := newTestServer(t, &fakeSource{p: &fakeProvider{fragments: []string{"a", "b"}, failAt: -1}})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+ChatPath, "application/json", strings.NewReader(`{"message":"x"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	events, done := parseFrames(t, string(body))
	assert.True(t, done)
	assert.Len(t, events, 6)
}

// =============================================================================
// INFO ROUTES
// =============================================================================

func TestHealth(t *testing.T) {
	cfg := testConfig()
	cfg.Provider.APIKey = "AIzaSyExample"
	s := NewServer(config.NewLive(cfg), &fakeSource{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, Version, resp.Version)
	assert.Equal(t, provider.DefaultModel, resp.Model)
	assert.True(t, resp.ProviderConfigured)
}

func TestServer_ServeAndShutdown(t *testing.T) {
	s := newTestServer(t, &fakeSource{})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- s.Serve(ln) }()

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get("http://" + ln.Addr().String() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after Shutdown")
	}
}

func TestModels(t *testing.T) {
	s := newTestServer(t, &fakeSource{})

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp ModelsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "list", resp.Object)
	require.Len(t, resp.Data, 4)
	assert.Equal(t, "grok", resp.Data[0].ID)
	assert.Equal(t, provider.DefaultModel, resp.UpstreamModel)
}

func TestStats(t *testing.T) {
	s := newTestServer(t, &fakeSource{p: &fakeProvider{fragments: []string{"x"}, failAt: -1}})
	postChat(t, s.Handler(), `{"message":"Hello"}`)
	postChat(t, s.Handler(), `{}`)

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	var snap StatsSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.EqualValues(t, 2, snap.TotalRequests)
	assert.EqualValues(t, 1, snap.Streamed)
	assert.EqualValues(t, 1, snap.ValidationErrors)
}
