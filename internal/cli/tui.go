// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/codehelper/internal/config"
	"github.com/jeranaias/codehelper/internal/identity"
	"github.com/jeranaias/codehelper/internal/ui/chat"
)

// RunTUI starts the full-screen chat interface.
func RunTUI(ctx context.Context, cfg *config.Config, args Args) error {
	if err := identity.Require(ctx, identity.FromConfig(cfg.Identity)); err != nil {
		return err
	}
	s, err := newSession(cfg, args)
	if err != nil {
		return err
	}

	// The standard logger would draw over the alternate screen.
	if dir, err := config.ConfigDir(); err == nil && os.MkdirAll(dir, 0700) == nil {
		if f, err := tea.LogToFile(filepath.Join(dir, "tui.log"), "codehelper"); err == nil {
			defer f.Close()
		}
	} else {
		log.SetOutput(io.Discard)
	}

	// Replies still streaming when the UI exits are cancelled.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m := chat.New(ctx, s.store, s.consumer, chat.Options{
		Markdown: cfg.UI.Markdown && !args.Plain,
		Theme:    cfg.UI.Theme,
	})

	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	stop := chat.Forward(s.store, p.Send)
	defer stop()

	if _, err := p.Run(); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("run TUI: %w", err)
	}
	return nil
}
