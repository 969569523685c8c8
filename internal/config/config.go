// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"

	"github.com/jeranaias/codehelper/internal/provider"
	"github.com/jeranaias/codehelper/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete codehelper configuration.
type Config struct {
	Version string `toml:"version" json:"version"`

	// Provider is the upstream model configuration, used by the relay.
	Provider ProviderConfig `toml:"provider" json:"provider"`

	// Relay is the HTTP relay server configuration.
	Relay RelayConfig `toml:"relay" json:"relay"`

	// Client configures the front ends.
	Client ClientConfig `toml:"client" json:"client"`

	// Identity is the external identity provider.
	Identity IdentityConfig `toml:"identity" json:"identity"`

	UI UIConfig `toml:"ui" json:"ui"`
}

// ProviderConfig contains the Gemini settings.
type ProviderConfig struct {
	// APIKey is the Google AI Studio key. Empty or the placeholder value
	// means the relay answers every chat request with a setup error.
	APIKey string `toml:"api_key" json:"api_key"`
	// Model is the upstream model identifier
	Model string `toml:"model" json:"model"`
	// BaseURL overrides the Gemini API endpoint (proxies, tests)
	BaseURL string `toml:"base_url" json:"base_url,omitempty"`
	// SystemPrompt overrides the built-in system instruction
	SystemPrompt string `toml:"system_prompt" json:"system_prompt,omitempty"`
}

// RelayConfig contains the relay server settings.
type RelayConfig struct {
	Host string `toml:"host" json:"host"`
	Port int    `toml:"port" json:"port"`
	// AuthToken, when set, is required as a bearer token on /api/chat
	AuthToken string `toml:"auth_token" json:"auth_token,omitempty"`
	// AllowedOrigins lists CORS origins; "*" allows any
	AllowedOrigins []string `toml:"allowed_origins" json:"allowed_origins"`
	// RateLimit is the sustained requests per second per client IP (0 disables)
	RateLimit float64 `toml:"rate_limit" json:"rate_limit"`
	// RateBurst is the burst size for RateLimit
	RateBurst int `toml:"rate_burst" json:"rate_burst"`
	// MaxPromptRunes bounds the prompt length
	MaxPromptRunes int `toml:"max_prompt_runes" json:"max_prompt_runes"`
	// WatchConfig reloads the config file while serving
	WatchConfig bool `toml:"watch_config" json:"watch_config"`
}

// Addr returns the listen address.
func (r RelayConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// ClientConfig contains the front-end settings.
type ClientConfig struct {
	// RelayURL is the base URL of the relay (without /api/chat)
	RelayURL string `toml:"relay_url" json:"relay_url"`
	// AuthToken is sent as a bearer token to the relay
	AuthToken string `toml:"auth_token" json:"auth_token,omitempty"`
}

// IdentityConfig contains the external identity provider settings.
// Leaving URL empty disables the identity gate.
type IdentityConfig struct {
	URL         string `toml:"url" json:"url,omitempty"`
	AnonKey     string `toml:"anon_key" json:"anon_key,omitempty"`
	AccessToken string `toml:"access_token" json:"access_token,omitempty"`
}

// Enabled reports whether an identity provider is configured.
func (i IdentityConfig) Enabled() bool {
	return strings.TrimSpace(i.URL) != ""
}

// UIConfig contains UI configuration.
type UIConfig struct {
	// Theme is the UI theme: "dark", "light", "auto"
	Theme string `toml:"theme" json:"theme"`
	// WordWrap is the markdown wrap width
	WordWrap int `toml:"word_wrap" json:"word_wrap"`
	// Markdown renders assistant replies as markdown when on a terminal
	Markdown bool `toml:"markdown" json:"markdown"`
}

// =============================================================================
// DEFAULT CONFIGURATION
// =============================================================================

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Version: "1.0.0",

		Provider: ProviderConfig{
			Model: provider.DefaultModel,
		},

		Relay: RelayConfig{
			Host:           "127.0.0.1",
			Port:           3000,
			AllowedOrigins: []string{"http://localhost:3000"},
			RateLimit:      2,
			RateBurst:      10,
			MaxPromptRunes: 100000,
		},

		Client: ClientConfig{
			RelayURL: "http://127.0.0.1:3000",
		},

		UI: UIConfig{
			Theme:    "auto",
			WordWrap: 80,
			Markdown: true,
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the codehelper configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".codehelper"), nil
}

// ConfigPathTOML returns the path to the TOML config file.
func ConfigPathTOML() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ConfigPathJSON returns the path to the JSON config file.
func ConfigPathJSON() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// ensureSecurePermissions tightens config files to 0600; they hold API keys.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode != 0600 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load loads configuration from the default location.
// TOML is tried first, then JSON, then built-in defaults. Environment
// overrides are applied last.
func Load() (*Config, error) {
	for _, pathFn := range []func() (string, error){ConfigPathTOML, ConfigPathJSON} {
		path, err := pathFn()
		if err != nil {
			continue
		}
		if _, statErr := os.Stat(path); statErr == nil {
			return LoadFromPath(path)
		}
	}

	cfg := Default()
	return finish(cfg)
}

// LoadFromPath loads configuration from a specific file. The format is
// chosen by extension; anything but .json is read as TOML.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	if strings.HasSuffix(path, ".json") {
		if err := LoadJSON(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load JSON config from %s: %w", path, err)
		}
	} else {
		if err := LoadTOML(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load TOML config from %s: %w", path, err)
		}
	}

	return finish(cfg)
}

// LoadTOML decodes a TOML file over cfg.
func LoadTOML(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	return nil
}

// LoadJSON decodes a JSON file over cfg.
func LoadJSON(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read JSON file: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to decode JSON file: %w", err)
	}
	return nil
}

func finish(cfg *Config) (*Config, error) {
	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// SetDefaults fills zero values that must never be empty.
func (c *Config) SetDefaults() {
	defaults := Default()

	if c.Version == "" {
		c.Version = defaults.Version
	}
	if c.Provider.Model == "" {
		c.Provider.Model = defaults.Provider.Model
	}
	if c.Relay.Host == "" {
		c.Relay.Host = defaults.Relay.Host
	}
	if c.Relay.Port == 0 {
		c.Relay.Port = defaults.Relay.Port
	}
	if c.Relay.MaxPromptRunes == 0 {
		c.Relay.MaxPromptRunes = defaults.Relay.MaxPromptRunes
	}
	if c.Relay.RateLimit > 0 && c.Relay.RateBurst == 0 {
		c.Relay.RateBurst = defaults.Relay.RateBurst
	}
	if c.Client.RelayURL == "" {
		c.Client.RelayURL = defaults.Client.RelayURL
	}
	if c.UI.Theme == "" {
		c.UI.Theme = defaults.UI.Theme
	}
	if c.UI.WordWrap == 0 {
		c.UI.WordWrap = defaults.UI.WordWrap
	}
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save saves the configuration to the default TOML file.
func Save(cfg *Config) error {
	path, err := ConfigPathTOML()
	if err != nil {
		return err
	}
	return SaveTOML(cfg, path)
}

// SaveTOML writes the configuration atomically with 0600 permissions.
func SaveTOML(cfg *Config, path string) error {
	var buf bytes.Buffer
	fmt.Fprintln(&buf, "# codehelper configuration file")
	fmt.Fprintln(&buf, "# Environment variables (GOOGLE_API_KEY, CODEHELPER_*, SUPABASE_*) override these values.")
	fmt.Fprintln(&buf, "")

	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate validates the configuration and returns any errors.
// A missing API key is not an error here: the relay reports it per request.
func (c *Config) Validate() error {
	var errs ValidateErrors

	if strings.TrimSpace(c.Provider.Model) == "" {
		errs = append(errs, ValidationError{Field: "provider.model", Message: "must not be empty"})
	}
	if c.Provider.BaseURL != "" {
		if err := validateHTTPURL(c.Provider.BaseURL); err != nil {
			errs = append(errs, ValidationError{Field: "provider.base_url", Message: err.Error()})
		}
	}

	if c.Relay.Port < 1 || c.Relay.Port > 65535 {
		errs = append(errs, ValidationError{
			Field:   "relay.port",
			Message: fmt.Sprintf("invalid port %d, must be between 1 and 65535", c.Relay.Port),
		})
	}
	if c.Relay.RateLimit < 0 {
		errs = append(errs, ValidationError{Field: "relay.rate_limit", Message: "cannot be negative"})
	}
	if c.Relay.RateBurst < 0 {
		errs = append(errs, ValidationError{Field: "relay.rate_burst", Message: "cannot be negative"})
	}
	if c.Relay.MaxPromptRunes < 0 {
		errs = append(errs, ValidationError{Field: "relay.max_prompt_runes", Message: "cannot be negative"})
	}
	for _, origin := range c.Relay.AllowedOrigins {
		if origin == "*" {
			continue
		}
		if err := validateHTTPURL(origin); err != nil {
			errs = append(errs, ValidationError{
				Field:   "relay.allowed_origins",
				Message: fmt.Sprintf("%q: %v", origin, err),
			})
		}
	}

	if err := validateHTTPURL(c.Client.RelayURL); err != nil {
		errs = append(errs, ValidationError{Field: "client.relay_url", Message: err.Error()})
	}

	if c.Identity.Enabled() {
		if err := validateHTTPURL(c.Identity.URL); err != nil {
			errs = append(errs, ValidationError{Field: "identity.url", Message: err.Error()})
		}
		if c.Identity.AnonKey == "" {
			errs = append(errs, ValidationError{Field: "identity.anon_key", Message: "required when identity.url is set"})
		}
	}

	switch strings.ToLower(c.UI.Theme) {
	case "auto", "dark", "light":
	default:
		errs = append(errs, ValidationError{
			Field:   "ui.theme",
			Message: fmt.Sprintf("invalid theme '%s', must be one of: auto, dark, light", c.UI.Theme),
		})
	}
	if c.UI.WordWrap < 0 {
		errs = append(errs, ValidationError{Field: "ui.word_wrap", Message: "cannot be negative"})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid URL %q: scheme must be http or https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid URL %q: missing host", raw)
	}
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides.
//
// Supported variables:
//   - GOOGLE_API_KEY: overrides provider.api_key
//   - CODEHELPER_MODEL: overrides provider.model
//   - CODEHELPER_RELAY_URL: overrides client.relay_url
//   - CODEHELPER_PORT: overrides relay.port
//   - CODEHELPER_AUTH_TOKEN: overrides relay.auth_token and client.auth_token
//   - SUPABASE_URL, SUPABASE_ANON_KEY, SUPABASE_ACCESS_TOKEN: identity.*
func (c *Config) ApplyEnvOverrides() {
	if key := os.Getenv("GOOGLE_API_KEY"); key != "" {
		c.Provider.APIKey = key
	}
	if model := os.Getenv("CODEHELPER_MODEL"); model != "" {
		c.Provider.Model = model
	}
	if relayURL := os.Getenv("CODEHELPER_RELAY_URL"); relayURL != "" {
		c.Client.RelayURL = relayURL
	}
	if port := os.Getenv("CODEHELPER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Relay.Port = p
		} else {
			fmt.Fprintf(os.Stderr, "Warning: ignoring invalid CODEHELPER_PORT %q\n", port)
		}
	}
	if token := os.Getenv("CODEHELPER_AUTH_TOKEN"); token != "" {
		c.Relay.AuthToken = token
		c.Client.AuthToken = token
	}
	if u := os.Getenv("SUPABASE_URL"); u != "" {
		c.Identity.URL = u
	}
	if key := os.Getenv("SUPABASE_ANON_KEY"); key != "" {
		c.Identity.AnonKey = key
	}
	if token := os.Getenv("SUPABASE_ACCESS_TOKEN"); token != "" {
		c.Identity.AccessToken = token
	}
}

// HasProviderKey reports whether a usable (non-placeholder) API key is set.
func (c *Config) HasProviderKey() bool {
	return !provider.IsPlaceholderKey(c.Provider.APIKey)
}

// ProviderSettings converts the provider section for provider.GeminiSource.
func (c *Config) ProviderSettings() provider.Settings {
	return provider.Settings{
		APIKey:       c.Provider.APIKey,
		Model:        c.Provider.Model,
		BaseURL:      c.Provider.BaseURL,
		SystemPrompt: c.Provider.SystemPrompt,
	}
}

// =============================================================================
// GET/SET HELPERS (DOT NOTATION)
// =============================================================================

// Get retrieves a value by its dotted TOML key (e.g. "provider.model").
func (c *Config) Get(key string) (interface{}, error) {
	field, err := c.lookup(key)
	if err != nil {
		return nil, err
	}
	return field.Interface(), nil
}

// Set assigns a value by its dotted TOML key. String values are converted
// to the field's type; list fields take a comma-separated string.
func (c *Config) Set(key string, value interface{}) error {
	field, err := c.lookup(key)
	if err != nil {
		return err
	}
	if !field.CanSet() {
		return fmt.Errorf("cannot set field: %s", key)
	}
	return setFieldValue(field, value)
}

func (c *Config) lookup(key string) (reflect.Value, error) {
	parts := strings.Split(key, ".")
	if key == "" {
		return reflect.Value{}, errors.New("empty key")
	}

	v := reflect.ValueOf(c).Elem()
	for i, part := range parts {
		field, ok := fieldByTag(v, part)
		if !ok {
			return reflect.Value{}, fmt.Errorf("unknown field: %s", strings.Join(parts[:i+1], "."))
		}
		if i == len(parts)-1 {
			if field.Kind() == reflect.Struct {
				return reflect.Value{}, fmt.Errorf("field '%s' is a section, not a value", key)
			}
			return field, nil
		}
		if field.Kind() != reflect.Struct {
			return reflect.Value{}, fmt.Errorf("field '%s' is not a section", strings.Join(parts[:i+1], "."))
		}
		v = field
	}
	return reflect.Value{}, fmt.Errorf("invalid key: %s", key)
}

func fieldByTag(v reflect.Value, name string) (reflect.Value, bool) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		tag, _, _ := strings.Cut(t.Field(i).Tag.Get("toml"), ",")
		if strings.EqualFold(tag, name) {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}

// setFieldValue sets a reflect.Value from an interface{} value with type conversion.
func setFieldValue(field reflect.Value, value interface{}) error {
	if strVal, ok := value.(string); ok {
		switch field.Kind() {
		case reflect.String:
			field.SetString(strVal)
			return nil
		case reflect.Int, reflect.Int64:
			intVal, err := strconv.ParseInt(strVal, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer value: %v", err)
			}
			field.SetInt(intVal)
			return nil
		case reflect.Float64:
			floatVal, err := strconv.ParseFloat(strVal, 64)
			if err != nil {
				return fmt.Errorf("invalid float value: %v", err)
			}
			field.SetFloat(floatVal)
			return nil
		case reflect.Bool:
			boolVal, err := strconv.ParseBool(strings.ToLower(strVal))
			if err != nil {
				boolVal = strings.EqualFold(strVal, "yes")
			}
			field.SetBool(boolVal)
			return nil
		case reflect.Slice:
			if field.Type().Elem().Kind() == reflect.String {
				var items []string
				for _, item := range strings.Split(strVal, ",") {
					if item = strings.TrimSpace(item); item != "" {
						items = append(items, item)
					}
				}
				field.Set(reflect.ValueOf(items))
				return nil
			}
		}
	}

	val := reflect.ValueOf(value)
	if val.Type().AssignableTo(field.Type()) {
		field.Set(val)
		return nil
	}
	if val.Type().ConvertibleTo(field.Type()) {
		field.Set(val.Convert(field.Type()))
		return nil
	}
	return fmt.Errorf("cannot assign %T to %s", value, field.Type())
}

// Keys returns every settable key in dot notation.
func Keys() []string {
	var keys []string
	var walk func(prefix string, t reflect.Type)
	walk = func(prefix string, t reflect.Type) {
		for i := 0; i < t.NumField(); i++ {
			tag, _, _ := strings.Cut(t.Field(i).Tag.Get("toml"), ",")
			if tag == "" {
				continue
			}
			if t.Field(i).Type.Kind() == reflect.Struct {
				walk(prefix+tag+".", t.Field(i).Type)
				continue
			}
			keys = append(keys, prefix+tag)
		}
	}
	walk("", reflect.TypeOf(Config{}))
	return keys
}

// =============================================================================
// CLONE / STRING
// =============================================================================

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	if c.Relay.AllowedOrigins != nil {
		clone.Relay.AllowedOrigins = append([]string(nil), c.Relay.AllowedOrigins...)
	}
	return &clone
}

// Redacted returns a copy with every secret replaced by "[REDACTED]".
func (c *Config) Redacted() *Config {
	safe := c.Clone()
	redact := func(s *string) {
		if *s != "" {
			*s = "[REDACTED]"
		}
	}
	redact(&safe.Provider.APIKey)
	redact(&safe.Relay.AuthToken)
	redact(&safe.Client.AuthToken)
	redact(&safe.Identity.AnonKey)
	redact(&safe.Identity.AccessToken)
	return safe
}

// String returns a TOML rendering with secrets redacted. It is safe to log.
func (c *Config) String() string {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c.Redacted()); err != nil {
		return fmt.Sprintf("<config: %v>", err)
	}
	return buf.String()
}

// =============================================================================
// SINGLETON PATTERN (THREAD-SAFE)
// =============================================================================

var (
	globalConfig     *Config
	globalConfigOnce sync.Once
	globalConfigMu   sync.RWMutex
)

// Global returns the global configuration, loading it on first access.
// Load errors fall back to defaults with a warning.
func Global() *Config {
	globalConfigOnce.Do(func() {
		cfg, err := Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v (using defaults)\n", err)
			cfg = Default()
			cfg.ApplyEnvOverrides()
			cfg.SetDefaults()
		}
		globalConfigMu.Lock()
		globalConfig = cfg
		globalConfigMu.Unlock()
	})

	globalConfigMu.RLock()
	defer globalConfigMu.RUnlock()
	return globalConfig
}

// SetGlobal sets the global configuration instance. Thread-safe.
func SetGlobal(cfg *Config) {
	globalConfigOnce.Do(func() {})
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = cfg
}

// ResetGlobalForTesting resets the global config state for testing.
func ResetGlobalForTesting() {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = nil
	globalConfigOnce = sync.Once{}
}
