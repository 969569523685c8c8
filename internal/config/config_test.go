// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/codehelper/internal/provider"
)

// clearEnv blanks every variable ApplyEnvOverrides reads.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"GOOGLE_API_KEY", "CODEHELPER_MODEL", "CODEHELPER_RELAY_URL", "CODEHELPER_PORT",
		"CODEHELPER_AUTH_TOKEN", "SUPABASE_URL", "SUPABASE_ANON_KEY", "SUPABASE_ACCESS_TOKEN",
	} {
		t.Setenv(name, "")
	}
}

func writeConfig(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
}

// =============================================================================
// DEFAULTS AND LOADING
// =============================================================================

func TestConfig_Default(t *testing.T) {
	cfg := Default()

	assert.Equal(t, provider.DefaultModel, cfg.Provider.Model)
	assert.Equal(t, 3000, cfg.Relay.Port)
	assert.Equal(t, 100000, cfg.Relay.MaxPromptRunes)
	assert.Equal(t, "http://127.0.0.1:3000", cfg.Client.RelayURL)
	assert.False(t, cfg.HasProviderKey())
	assert.False(t, cfg.Identity.Enabled())
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromPath_TOML(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	writeConfig(t, path, `
[provider]
api_key = "AIzaFromFile"
model = "gemini-1.5-flash"

[relay]
port = 8080
allowed_origins = ["*"]
`)

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)

	assert.Equal(t, "AIzaFromFile", cfg.Provider.APIKey)
	assert.Equal(t, "gemini-1.5-flash", cfg.Provider.Model)
	assert.Equal(t, 8080, cfg.Relay.Port)
	assert.Equal(t, []string{"*"}, cfg.Relay.AllowedOrigins)
	// Untouched sections keep their defaults.
	assert.Equal(t, "http://127.0.0.1:3000", cfg.Client.RelayURL)
	assert.True(t, cfg.UI.Markdown)
	assert.True(t, cfg.HasProviderKey())
}

func TestLoadFromPath_JSON(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.json")
	writeConfig(t, path, `{"provider":{"model":"gemini-exp"},"ui":{"theme":"light"}}`)

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, "gemini-exp", cfg.Provider.Model)
	assert.Equal(t, "light", cfg.UI.Theme)
}

func TestLoadFromPath_FixesPermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permissions are not enforced on Windows")
	}
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("version = \"1.0.0\"\n"), 0644))

	_, err := LoadFromPath(path)
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestLoadFromPath_Invalid(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	writeConfig(t, path, "[relay]\nport = 70000\n")

	_, err := LoadFromPath(path)
	require.Error(t, err)

	var verrs ValidateErrors
	require.True(t, errors.As(err, &verrs))
	assert.Equal(t, "relay.port", verrs[0].Field)
}

func TestPlaceholderKeyCountsAsAbsent(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	writeConfig(t, path, "[provider]\napi_key = \"your-google-api-key-here\"\n")

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.False(t, cfg.HasProviderKey())
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

func TestApplyEnvOverrides_WinOverFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("GOOGLE_API_KEY", "AIzaFromEnv")
	t.Setenv("CODEHELPER_MODEL", "gemini-env")
	t.Setenv("CODEHELPER_PORT", "4000")
	t.Setenv("CODEHELPER_RELAY_URL", "https://relay.example.com")
	t.Setenv("CODEHELPER_AUTH_TOKEN", "shared-token")
	t.Setenv("SUPABASE_URL", "https://abc.supabase.co")
	t.Setenv("SUPABASE_ANON_KEY", "anon")
	t.Setenv("SUPABASE_ACCESS_TOKEN", "jwt")

	path := filepath.Join(t.TempDir(), "config.toml")
	writeConfig(t, path, "[provider]\napi_key = \"AIzaFromFile\"\nmodel = \"gemini-file\"\n")

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)

	assert.Equal(t, "AIzaFromEnv", cfg.Provider.APIKey)
	assert.Equal(t, "gemini-env", cfg.Provider.Model)
	assert.Equal(t, 4000, cfg.Relay.Port)
	assert.Equal(t, "https://relay.example.com", cfg.Client.RelayURL)
	assert.Equal(t, "shared-token", cfg.Relay.AuthToken)
	assert.Equal(t, "shared-token", cfg.Client.AuthToken)
	assert.True(t, cfg.Identity.Enabled())
	assert.Equal(t, "anon", cfg.Identity.AnonKey)
	assert.Equal(t, "jwt", cfg.Identity.AccessToken)
}

func TestApplyEnvOverrides_InvalidPortIgnored(t *testing.T) {
	clearEnv(t)
	t.Setenv("CODEHELPER_PORT", "not-a-port")

	cfg := Default()
	cfg.ApplyEnvOverrides()
	assert.Equal(t, 3000, cfg.Relay.Port)
}

// =============================================================================
// VALIDATION
// =============================================================================

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantField string
	}{
		{"defaults are valid", func(c *Config) {}, ""},
		{"bad port", func(c *Config) { c.Relay.Port = 0 }, "relay.port"},
		{"negative rate", func(c *Config) { c.Relay.RateLimit = -1 }, "relay.rate_limit"},
		{"bad relay url", func(c *Config) { c.Client.RelayURL = "ftp://x" }, "client.relay_url"},
		{"bad origin", func(c *Config) { c.Relay.AllowedOrigins = []string{"localhost"} }, "relay.allowed_origins"},
		{"wildcard origin", func(c *Config) { c.Relay.AllowedOrigins = []string{"*"} }, ""},
		{"bad theme", func(c *Config) { c.UI.Theme = "neon" }, "ui.theme"},
		{"identity without anon key", func(c *Config) { c.Identity.URL = "https://x.supabase.co" }, "identity.anon_key"},
		{"bad base url", func(c *Config) { c.Provider.BaseURL = "::" }, "provider.base_url"},
		{"empty model", func(c *Config) { c.Provider.Model = " " }, "provider.model"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()

			if tt.wantField == "" {
				assert.NoError(t, err)
				return
			}
			var verrs ValidateErrors
			require.True(t, errors.As(err, &verrs), "expected ValidateErrors, got %v", err)
			fields := make([]string, len(verrs))
			for i, v := range verrs {
				fields[i] = v.Field
			}
			assert.Contains(t, fields, tt.wantField)
		})
	}
}

// =============================================================================
// GET / SET / STRING
// =============================================================================

func TestConfig_GetSet(t *testing.T) {
	cfg := Default()

	require.NoError(t, cfg.Set("provider.model", "gemini-1.5-pro"))
	v, err := cfg.Get("provider.model")
	require.NoError(t, err)
	assert.Equal(t, "gemini-1.5-pro", v)

	require.NoError(t, cfg.Set("relay.port", "9000"))
	assert.Equal(t, 9000, cfg.Relay.Port)

	require.NoError(t, cfg.Set("relay.rate_limit", "0.5"))
	assert.Equal(t, 0.5, cfg.Relay.RateLimit)

	require.NoError(t, cfg.Set("ui.markdown", "false"))
	assert.False(t, cfg.UI.Markdown)

	require.NoError(t, cfg.Set("relay.allowed_origins", "http://a.test, http://b.test"))
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.Relay.AllowedOrigins)

	assert.Error(t, cfg.Set("relay.port", "abc"))
	assert.Error(t, cfg.Set("relay.nope", "1"))
	_, err = cfg.Get("relay")
	assert.Error(t, err)
}

func TestKeys(t *testing.T) {
	keys := Keys()
	assert.Contains(t, keys, "provider.api_key")
	assert.Contains(t, keys, "relay.port")
	assert.Contains(t, keys, "identity.access_token")

	cfg := Default()
	for _, key := range keys {
		_, err := cfg.Get(key)
		assert.NoError(t, err, key)
	}
}

func TestConfig_StringRedactsSecrets(t *testing.T) {
	cfg := Default()
	cfg.Provider.APIKey = "AIzaSuperSecret"
	cfg.Relay.AuthToken = "relay-secret"
	cfg.Identity.AnonKey = "anon-secret"
	cfg.Identity.AccessToken = "jwt-secret"

	s := cfg.String()
	for _, secret := range []string{"AIzaSuperSecret", "relay-secret", "anon-secret", "jwt-secret"} {
		assert.NotContains(t, s, secret)
	}
	assert.Contains(t, s, "[REDACTED]")
	assert.Contains(t, s, provider.DefaultModel)

	// The original is untouched.
	assert.Equal(t, "AIzaSuperSecret", cfg.Provider.APIKey)
}

func TestSaveTOML_RoundTrip(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "nested", "config.toml")

	cfg := Default()
	cfg.Provider.APIKey = "AIzaSaved"
	cfg.Relay.Port = 3100
	require.NoError(t, SaveTOML(cfg, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "# codehelper configuration file"))

	loaded, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, "AIzaSaved", loaded.Provider.APIKey)
	assert.Equal(t, 3100, loaded.Relay.Port)
}

// =============================================================================
// GLOBAL AND LIVE
// =============================================================================

func TestConfig_ConcurrentAccess(t *testing.T) {
	ResetGlobalForTesting()
	defer ResetGlobalForTesting()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			SetGlobal(Default())
		}()
		go func() {
			defer wg.Done()
			if Global() == nil {
				t.Error("Global() returned nil")
			}
		}()
	}
	wg.Wait()
}

func TestLive_SetAndGet(t *testing.T) {
	first := Default()
	live := NewLive(first)
	assert.Same(t, first, live.Get())

	second := Default()
	second.Provider.Model = "gemini-next"
	live.Set(second)

	assert.Equal(t, "gemini-next", live.Get().Provider.Model)
	assert.Equal(t, int64(1), live.Reloads())
}

func TestWatcher_ReloadsOnChange(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	writeConfig(t, path, "[provider]\nmodel = \"gemini-before\"\n")

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)
	live := NewLive(cfg)

	w, err := NewWatcher(path, live, 20*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, w.Start())
	defer w.Close()

	after := Default()
	after.Provider.Model = "gemini-after"
	after.Provider.APIKey = "AIzaRotated"
	require.NoError(t, SaveTOML(after, path))

	require.Eventually(t, func() bool {
		return live.Get().Provider.Model == "gemini-after"
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, "AIzaRotated", live.Get().Provider.APIKey)
}

func TestWatcher_KeepsConfigOnInvalidFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	writeConfig(t, path, "[provider]\nmodel = \"gemini-good\"\n")

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)
	live := NewLive(cfg)

	w, err := NewWatcher(path, live, 20*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, w.Start())
	defer w.Close()

	writeConfig(t, path, "[relay]\nport = -1\n")
	time.Sleep(300 * time.Millisecond)

	assert.Equal(t, "gemini-good", live.Get().Provider.Model)
	assert.Equal(t, int64(0), live.Reloads())
}
