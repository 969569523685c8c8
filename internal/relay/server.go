// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/jeranaias/codehelper/internal/config"
	"github.com/jeranaias/codehelper/internal/model"
	"github.com/jeranaias/codehelper/internal/provider"
	"github.com/jeranaias/codehelper/internal/stream"
	"github.com/jeranaias/codehelper/internal/util"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// MaxRequestBodySize is the maximum size for a chat request body (1MB).
	MaxRequestBodySize = 1 * 1024 * 1024

	// Version is the relay version.
	Version = "1.0.0"

	// ChatPath is the chat endpoint path.
	ChatPath = "/api/chat"
)

// ============================================================================
// SERVER STATS
// ============================================================================

// Stats tracks relay usage.
type Stats struct {
	totalRequests    atomic.Int64
	streamed         atomic.Int64
	validationErrors atomic.Int64
	configErrors     atomic.Int64
	providerErrors   atomic.Int64
	fragments        atomic.Int64
	startTime        time.Time
}

// StatsSnapshot is the JSON form of Stats.
type StatsSnapshot struct {
	TotalRequests    int64     `json:"total_requests"`
	Streamed         int64     `json:"streamed"`
	ValidationErrors int64     `json:"validation_errors"`
	ConfigErrors     int64     `json:"config_errors"`
	ProviderErrors   int64     `json:"provider_errors"`
	Fragments        int64     `json:"fragments"`
	StartTime        time.Time `json:"start_time"`
	UptimeSeconds    int64     `json:"uptime_seconds"`
}

// NewStats creates a new Stats instance.
func NewStats() *Stats {
	return &Stats{startTime: time.Now()}
}

// Snapshot returns the current counters.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		TotalRequests:    s.totalRequests.Load(),
		Streamed:         s.streamed.Load(),
		ValidationErrors: s.validationErrors.Load(),
		ConfigErrors:     s.configErrors.Load(),
		ProviderErrors:   s.providerErrors.Load(),
		Fragments:        s.fragments.Load(),
		StartTime:        s.startTime,
		UptimeSeconds:    int64(s.Uptime().Seconds()),
	}
}

// Uptime returns the server uptime duration.
func (s *Stats) Uptime() time.Duration {
	return time.Since(s.startTime)
}

func (s *Stats) recordFailure(err error) {
	var verr *ValidationError
	var cerr *ConfigurationError
	switch {
	case errors.As(err, &verr):
		s.validationErrors.Add(1)
	case errors.As(err, &cerr):
		s.configErrors.Add(1)
	default:
		s.providerErrors.Add(1)
	}
}

// ============================================================================
// SERVER
// ============================================================================

// Server is the relay HTTP server.
type Server struct {
	router *http.ServeMux
	server *http.Server

	live    *config.Live
	source  provider.Source
	stats   *Stats
	auth    *AuthConfig
	cors    *CORSConfig
	limiter *RateLimiter

	mu sync.RWMutex
}

// NewServer creates a relay reading its settings from live and resolving
// the upstream provider from source on every chat request.
func NewServer(live *config.Live, source provider.Source) *Server {
	cfg := live.Get()

	s := &Server{
		router: http.NewServeMux(),
		live:   live,
		source: source,
		stats:  NewStats(),
		auth:   &AuthConfig{Enabled: cfg.Relay.AuthToken != "", BearerToken: cfg.Relay.AuthToken},
		cors:   DefaultCORSConfig(),
	}
	if len(cfg.Relay.AllowedOrigins) > 0 {
		s.cors.AllowedOrigins = cfg.Relay.AllowedOrigins
	}
	if cfg.Relay.RateLimit > 0 {
		s.limiter = NewRateLimiter(cfg.Relay.RateLimit, cfg.Relay.RateBurst)
	}

	s.setupRoutes()
	return s
}

// WithAuth sets the authentication configuration.
func (s *Server) WithAuth(auth *AuthConfig) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.auth = auth
	return s
}

// WithCORS sets the CORS configuration.
func (s *Server) WithCORS(cors *CORSConfig) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cors = cors
	return s
}

// WithRateLimiter replaces the rate limiter; nil disables rate limiting.
func (s *Server) WithRateLimiter(rl *RateLimiter) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.limiter != nil && s.limiter != rl {
		s.limiter.Stop()
	}
	s.limiter = rl
	return s
}

// Stats returns the server counters.
func (s *Server) Stats() *Stats {
	return s.stats
}

// ============================================================================
// ROUTES
// ============================================================================

func (s *Server) setupRoutes() {
	s.router.HandleFunc("POST "+ChatPath, s.handleChat)
	s.router.HandleFunc("GET /v1/models", s.handleModels)
	s.router.HandleFunc("GET /health", s.handleHealth)
	s.router.HandleFunc("GET /stats", s.handleStats)
}

// Handler returns the router wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	s.mu.RLock()
	defer s.mu.RUnlock()

	middlewares := []func(http.Handler) http.Handler{
		RecoveryMiddleware(),
		SecurityHeadersMiddleware(),
		LoggingMiddleware(log.Default()),
		CORSMiddleware(s.cors),
	}
	if s.limiter != nil {
		middlewares = append(middlewares, RateLimitMiddleware(s.limiter))
	}
	if s.auth != nil && s.auth.Enabled {
		middlewares = append(middlewares, AuthMiddleware(s.auth))
	}
	return Chain(middlewares...)(s.router)
}

// ============================================================================
// CHAT HANDLER
// ============================================================================

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Message string `json:"message"`
}

// ErrorResponse is the body of every non-streamed failure.
type ErrorResponse struct {
	Error string `json:"error"`
}

// handleChat handles POST /api/chat.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	s.stats.totalRequests.Add(1)
	ctx := r.Context()

	prompt, err := s.parseChatRequest(w, r)
	if err != nil {
		if errors.Is(err, errBodyTooLarge) {
			s.writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("Request body exceeds maximum size of %d bytes", MaxRequestBodySize))
			return
		}
		s.fail(w, err)
		return
	}

	p, err := s.source.Provider(ctx)
	if err != nil {
		if errors.Is(err, provider.ErrNotConfigured) {
			log.Printf("RELAY_NOT_CONFIGURED | client_ip=%s", GetClientIP(r))
			s.fail(w, &ConfigurationError{Message: provider.SetupHint, Err: err})
			return
		}
		s.fail(w, &ProviderError{Message: err.Error(), Err: err})
		return
	}

	s.relay(ctx, w, r, p, prompt)
}

var errBodyTooLarge = errors.New("request body too large")

func (s *Server) parseChatRequest(w http.ResponseWriter, r *http.Request) (string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return "", errBodyTooLarge
		}
		log.Printf("RELAY_BAD_REQUEST | client_ip=%s error=%v", GetClientIP(r), err)
		return "", &ValidationError{Message: "Invalid request body"}
	}

	if req.Message == "" {
		return "", &ValidationError{Message: "Message is required"}
	}

	limit := s.live.Get().Relay.MaxPromptRunes
	if limit > 0 && utf8.RuneCountInString(req.Message) > limit {
		return "", &ValidationError{Message: fmt.Sprintf("Message exceeds maximum length of %d characters", limit)}
	}
	return req.Message, nil
}

// relay streams the provider's reply. The first fragment is awaited before
// any header is written so an immediate upstream failure can still be
// reported as a plain 500.
func (s *Server) relay(ctx context.Context, w http.ResponseWriter, r *http.Request, p provider.Provider, prompt string) {
	start := time.Now()
	next, stop := iter.Pull2(p.Stream(ctx, prompt))
	defer stop()

	first, err, ok := next()
	if ok && err != nil {
		log.Printf("RELAY_UPSTREAM_ERROR | provider=%s model=%s stage=open error=%v", p.Name(), p.Model(), err)
		s.fail(w, &ProviderError{Message: provider.ErrorText(err), Err: err})
		return
	}

	if _, canFlush := w.(http.Flusher); !canFlush {
		s.writeError(w, http.StatusInternalServerError, "Streaming not supported")
		return
	}

	w.Header().Set("Content-Type", stream.ContentType)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.Header().Set(stream.ProtocolHeader, stream.ProtocolVersion)
	w.WriteHeader(http.StatusOK)
	s.stats.streamed.Add(1)

	sw := stream.NewWriter(w, uuid.NewString())
	fragments := 0

	emit := func(text string) bool {
		if err := sw.Delta(text); err != nil {
			log.Printf("RELAY_CLIENT_GONE | client_ip=%s fragments=%d error=%v", GetClientIP(r), fragments, err)
			return false
		}
		fragments++
		s.stats.fragments.Add(1)
		return true
	}

	if err := sw.Start(uuid.NewString()); err != nil {
		log.Printf("RELAY_CLIENT_GONE | client_ip=%s fragments=0 error=%v", GetClientIP(r), err)
		return
	}
	if ok && !emit(first) {
		return
	}

	for ok {
		var text string
		text, err, ok = next()
		if !ok {
			break
		}
		if err != nil {
			s.stats.providerErrors.Add(1)
			log.Printf("RELAY_STREAM_ERROR | provider=%s fragments=%d error=%v", p.Name(), fragments, err)
			if werr := sw.Fail(provider.ErrorText(err)); werr != nil {
				log.Printf("RELAY_CLIENT_GONE | client_ip=%s error=%v", GetClientIP(r), werr)
			}
			return
		}
		if !emit(text) {
			return
		}
	}

	if err := sw.Finish(); err != nil {
		log.Printf("RELAY_CLIENT_GONE | client_ip=%s error=%v", GetClientIP(r), err)
		return
	}
	log.Printf("RELAY_COMPLETE | provider=%s model=%s prompt=%q fragments=%d latency=%dms",
		p.Name(), p.Model(), util.TruncateRunes(prompt, 40), fragments, time.Since(start).Milliseconds())
}

// fail writes err as a JSON error with its mapped status.
func (s *Server) fail(w http.ResponseWriter, err error) {
	s.stats.recordFailure(err)
	s.writeError(w, statusFor(err), err.Error())
}

// ============================================================================
// INFO HANDLERS
// ============================================================================

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status             string `json:"status"`
	Version            string `json:"version"`
	Provider           string `json:"provider"`
	Model              string `json:"model"`
	ProviderConfigured bool   `json:"provider_configured"`
	UptimeSeconds      int64  `json:"uptime_seconds"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	cfg := s.live.Get()
	configured := cfg.HasProviderKey()
	if c, ok := s.source.(interface{ Configured() bool }); ok {
		configured = c.Configured()
	}

	s.writeJSON(w, http.StatusOK, HealthResponse{
		Status:             "ok",
		Version:            Version,
		Provider:           "gemini",
		Model:              cfg.Provider.Model,
		ProviderConfigured: configured,
		UptimeSeconds:      int64(s.stats.Uptime().Seconds()),
	})
}

// ModelsResponse is the body of GET /v1/models.
type ModelsResponse struct {
	Object        string            `json:"object"`
	Data          []model.ModelInfo `json:"data"`
	UpstreamModel string            `json:"upstream_model"`
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, ModelsResponse{
		Object:        "list",
		Data:          model.Models,
		UpstreamModel: s.live.Get().Provider.Model,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.stats.Snapshot())
}

// ============================================================================
// SERVER LIFECYCLE
// ============================================================================

// Start listens on the configured address and serves until Shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.live.Get().Relay.Addr())
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return s.Serve(ln)
}

// Serve serves on an existing listener.
func (s *Server) Serve(ln net.Listener) error {
	// Handler takes the read lock itself.
	handler := s.Handler()

	s.mu.Lock()
	s.server = &http.Server{
		Handler:     handler,
		ReadTimeout: 30 * time.Second,
		// Replies stream for as long as the provider keeps producing.
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}
	srv := s.server
	s.mu.Unlock()

	log.Printf("SERVER_START | addr=%s version=%s provider_configured=%t", ln.Addr(), Version, s.live.Get().HasProviderKey())
	err := srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	limiter := s.limiter
	s.mu.Unlock()

	if limiter != nil {
		limiter.Stop()
	}
	if srv == nil {
		return nil
	}

	log.Printf("SERVER_SHUTDOWN | starting graceful shutdown")
	snap := s.stats.Snapshot()
	log.Printf("SERVER_STATS | requests=%d streamed=%d fragments=%d", snap.TotalRequests, snap.Streamed, snap.Fragments)
	return srv.Shutdown(ctx)
}

// ============================================================================
// HELPERS
// ============================================================================

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, ErrorResponse{Error: message})
}
