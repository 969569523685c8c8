// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"strings"

	"github.com/charmbracelet/glamour"

	"github.com/jeranaias/codehelper/internal/client"
	"github.com/jeranaias/codehelper/internal/config"
	"github.com/jeranaias/codehelper/internal/model"
	"github.com/jeranaias/codehelper/internal/ui/styles"
)

// session holds the chat pieces shared by ask, repl and the TUI.
type session struct {
	cfg      *config.Config
	store    *model.Store
	relay    *client.RelayClient
	consumer *client.Consumer
}

// newSession connects a fresh conversation store to the configured relay.
func newSession(cfg *config.Config, args Args) (*session, error) {
	url := cfg.Client.RelayURL
	if args.RelayURL != "" {
		url = args.RelayURL
	}
	rc := client.NewRelayClient(url).WithToken(cfg.Client.AuthToken)

	store := model.NewStore()
	if args.Model != "" {
		if err := store.SetModel(store.Active().ID, args.Model); err != nil {
			return nil, err
		}
	}

	return &session{
		cfg:      cfg,
		store:    store,
		relay:    rc,
		consumer: client.NewConsumer(store, rc),
	}, nil
}

// =============================================================================
// MARKDOWN RENDERING
// =============================================================================

// newMarkdownRenderer returns a glamour renderer for the configured theme,
// or nil if one cannot be built.
func newMarkdownRenderer(cfg *config.Config) *glamour.TermRenderer {
	width := cfg.UI.WordWrap
	if width <= 0 {
		width = GetTerminalWidth() - 2
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(styles.GlamourStyle(cfg.UI.Theme)),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return nil
	}
	return r
}

// renderMarkdown renders content, returning it unchanged if rendering
// fails or r is nil.
func renderMarkdown(r *glamour.TermRenderer, content string) string {
	if r == nil {
		return content
	}
	out, err := r.Render(content)
	if err != nil {
		return content
	}
	return strings.TrimRight(out, "\n") + "\n"
}

// failedReply returns the assistant message appended when a turn failed,
// if the conversation ends with one.
func failedReply(store *model.Store, conversationID string) (string, bool) {
	conv, ok := store.Conversation(conversationID)
	if !ok {
		return "", false
	}
	last, ok := conv.LastMessage()
	if !ok || !last.IsAssistant() || last.Content != model.ErrorReply {
		return "", false
	}
	return last.Content, true
}
