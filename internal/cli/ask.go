// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/jeranaias/codehelper/internal/config"
	"github.com/jeranaias/codehelper/internal/identity"
	"github.com/jeranaias/codehelper/internal/model"
)

// AskResult is the --json output of ask.
type AskResult struct {
	ConversationID string `json:"conversation_id"`
	Model          string `json:"model"`
	Reply          string `json:"reply"`
	Error          string `json:"error,omitempty"`
}

// RunAsk sends args.Query as a one-message conversation and writes the
// reply to out.
//
// Fragments are written as they arrive unless the reply is rendered as
// markdown, which needs the whole text and only happens when out is a
// terminal.
func RunAsk(ctx context.Context, cfg *config.Config, args Args, out io.Writer) error {
	if strings.TrimSpace(args.Query) == "" {
		return &UsageError{Command: "ask", Reason: "a question is required"}
	}
	if err := identity.Require(ctx, identity.FromConfig(cfg.Identity)); err != nil {
		return err
	}

	s, err := newSession(cfg, args)
	if err != nil {
		return err
	}

	markdown := cfg.UI.Markdown && !args.Plain && !args.JSON && isTerminalWriter(out)
	streamed := false
	if !markdown && !args.JSON {
		s.consumer.WithFragmentHook(func(_, fragment string) {
			fmt.Fprint(out, fragment)
			streamed = true
		})
	}

	conv := s.store.Active()
	reply, err := s.consumer.Send(ctx, conv.ID, args.Query)

	if args.JSON {
		return writeAskJSON(out, conv, reply, err)
	}

	if err != nil {
		if streamed {
			fmt.Fprintln(out)
		}
		if text, ok := failedReply(s.store, conv.ID); ok && !errors.Is(err, context.Canceled) {
			fmt.Fprintln(out, text)
		}
		return err
	}

	switch {
	case markdown:
		fmt.Fprint(out, renderMarkdown(newMarkdownRenderer(cfg), reply.Content))
	case streamed && !strings.HasSuffix(reply.Content, "\n"):
		fmt.Fprintln(out)
	}

	if reply.HasError() {
		return &ReplyError{Text: reply.ErrorText}
	}
	return nil
}

func writeAskJSON(out io.Writer, conv model.Conversation, reply model.Message, sendErr error) error {
	result := AskResult{
		ConversationID: conv.ID,
		Model:          conv.Model,
		Reply:          reply.Content,
	}
	switch {
	case sendErr != nil:
		result.Error = sendErr.Error()
	case reply.HasError():
		result.Error = reply.ErrorText
		sendErr = &ReplyError{Text: reply.ErrorText}
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return err
	}
	return sendErr
}
