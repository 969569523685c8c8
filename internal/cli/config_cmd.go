// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jeranaias/codehelper/internal/config"
	"github.com/jeranaias/codehelper/internal/ui/styles"
)

// secretKeys are printed redacted by config get.
var secretKeys = map[string]bool{
	"provider.api_key":      true,
	"relay.auth_token":      true,
	"client.auth_token":     true,
	"identity.anon_key":     true,
	"identity.access_token": true,
}

// ConfigPath returns args.ConfigPath or the default config file path.
func ConfigPath(args Args) (string, error) {
	if args.ConfigPath != "" {
		return args.ConfigPath, nil
	}
	return config.ConfigPathTOML()
}

// LoadConfig loads the effective configuration: the file (if any),
// environment overrides and defaults.
func LoadConfig(args Args) (*config.Config, error) {
	if args.ConfigPath != "" {
		return config.LoadFromPath(args.ConfigPath)
	}
	return config.Load()
}

// loadFileOnly reads the config file without environment overrides, so
// saving it back does not persist values that came from the environment.
func loadFileOnly(path string) (*config.Config, error) {
	cfg := config.Default()
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err := config.LoadTOML(cfg, path); err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", path, err)
	}
	cfg.SetDefaults()
	return cfg, nil
}

// HandleConfig runs the config subcommands.
func HandleConfig(args Args, out io.Writer) error {
	path, err := ConfigPath(args)
	if err != nil {
		return err
	}

	switch args.Subcommand {
	case "", "show":
		cfg, err := LoadConfig(args)
		if err != nil {
			return err
		}
		if args.JSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(cfg.Redacted())
		}
		fmt.Fprintf(out, "# %s\n", path)
		fmt.Fprint(out, cfg.String())
		if !cfg.HasProviderKey() {
			fmt.Fprintln(out)
			fmt.Fprintln(out, styles.RenderWarning("provider.api_key is not set; the relay will answer with setup instructions"))
		}
		return nil

	case "path":
		fmt.Fprintln(out, path)
		return nil

	case "init":
		if _, err := os.Stat(path); err == nil && !args.Force {
			return &UsageError{Command: "config init", Reason: path + " already exists", Example: "codehelper config init --force"}
		}
		if err := config.SaveTOML(config.Default(), path); err != nil {
			return err
		}
		fmt.Fprintln(out, styles.RenderSuccess("Wrote "+path))
		return nil

	case "keys":
		for _, k := range config.Keys() {
			fmt.Fprintln(out, k)
		}
		return nil

	case "get":
		if args.ConfigKey == "" {
			return &UsageError{Command: "config get", Reason: "a key is required", Example: "codehelper config get provider.model"}
		}
		cfg, err := LoadConfig(args)
		if err != nil {
			return err
		}
		val, err := cfg.Get(args.ConfigKey)
		if err != nil {
			return &UsageError{Command: "config get", Reason: err.Error(), Example: "codehelper config keys"}
		}
		fmt.Fprintln(out, formatValue(args.ConfigKey, val))
		return nil

	case "set":
		if args.ConfigKey == "" || args.ConfigVal == "" {
			return &UsageError{Command: "config set", Reason: "a key and a value are required", Example: "codehelper config set relay.port 8080"}
		}
		cfg, err := loadFileOnly(path)
		if err != nil {
			return err
		}
		if err := cfg.Set(args.ConfigKey, args.ConfigVal); err != nil {
			return &UsageError{Command: "config set", Reason: err.Error(), Example: "codehelper config keys"}
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		if err := config.SaveTOML(cfg, path); err != nil {
			return err
		}
		val, _ := cfg.Get(args.ConfigKey)
		fmt.Fprintln(out, styles.RenderSuccess(fmt.Sprintf("%s = %s", strings.ToLower(args.ConfigKey), formatValue(args.ConfigKey, val))))
		return nil
	}

	return &UsageError{Command: "config", Reason: fmt.Sprintf("unknown subcommand %q", args.Subcommand), Example: "codehelper config show"}
}

func formatValue(key string, val interface{}) string {
	if secretKeys[strings.ToLower(key)] {
		if s, _ := val.(string); s != "" {
			return "[REDACTED]"
		}
	}
	if list, ok := val.([]string); ok {
		return strings.Join(list, ",")
	}
	return fmt.Sprint(val)
}
