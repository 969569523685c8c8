// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"time"

	"github.com/jeranaias/codehelper/internal/config"
	"github.com/jeranaias/codehelper/internal/provider"
	"github.com/jeranaias/codehelper/internal/relay"
)

const (
	// shutdownTimeout bounds how long in-flight replies may take to finish.
	shutdownTimeout = 10 * time.Second

	// reloadDebounce coalesces editor write bursts into one reload.
	reloadDebounce = 250 * time.Millisecond
)

// RunServe runs the relay until ctx is cancelled. configPath is the file
// to watch when reloading is enabled; it may be empty.
func RunServe(ctx context.Context, cfg *config.Config, configPath string, args Args) error {
	if args.Host != "" {
		cfg.Relay.Host = args.Host
	}
	if args.Port != 0 {
		cfg.Relay.Port = args.Port
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	live := config.NewLive(cfg)
	source := provider.NewGeminiSource(func() provider.Settings {
		return live.Get().ProviderSettings()
	})
	srv := relay.NewServer(live, source)

	if !cfg.HasProviderKey() {
		log.Printf("SERVER_WARNING | provider key not configured; chat requests will return setup instructions")
	}

	if cfg.Relay.WatchConfig || args.Watch {
		w, err := startWatcher(configPath, live)
		if err != nil {
			log.Printf("CONFIG_WATCH_DISABLED | error=%v", err)
		} else {
			defer w.Close()
		}
	}

	ln, err := net.Listen("tcp", cfg.Relay.Addr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.Relay.Addr(), err)
	}
	return serveUntilDone(ctx, srv, ln)
}

// serveUntilDone serves on ln and shuts the server down gracefully when
// ctx ends.
func serveUntilDone(ctx context.Context, srv *relay.Server, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	// Serve may not have installed its server yet.
	_ = ln.Close()

	if err := <-errCh; err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

func startWatcher(path string, live *config.Live) (*config.Watcher, error) {
	if path == "" {
		p, err := config.ConfigPathTOML()
		if err != nil {
			return nil, err
		}
		path = p
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("no config file at %s (run: codehelper config init)", path)
		}
		return nil, err
	}

	w, err := config.NewWatcher(path, live, reloadDebounce)
	if err != nil {
		return nil, err
	}
	if err := w.Start(); err != nil {
		w.Close()
		return nil, err
	}
	return w, nil
}
