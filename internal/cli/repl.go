// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/peterh/liner"

	"github.com/jeranaias/codehelper/internal/config"
	"github.com/jeranaias/codehelper/internal/export"
	"github.com/jeranaias/codehelper/internal/identity"
	"github.com/jeranaias/codehelper/internal/model"
	"github.com/jeranaias/codehelper/internal/ui/styles"
	"github.com/jeranaias/codehelper/internal/util"
)

// =============================================================================
// STYLES
// =============================================================================

var (
	welcomeStyle = lipgloss.NewStyle().
			Foreground(styles.Purple).
			Bold(true)

	infoStyle = lipgloss.NewStyle().
			Foreground(styles.TextSecondary)

	commandStyle = lipgloss.NewStyle().
			Foreground(styles.Emerald)

	userLabelStyle = lipgloss.NewStyle().
			Foreground(styles.Cyan).
			Bold(true)

	assistantLabelStyle = lipgloss.NewStyle().
				Foreground(styles.Purple).
				Bold(true)
)

const replPrompt = "you> "

// =============================================================================
// INPUT HISTORY
// =============================================================================

// ChatCLI provides line editing and persistent input history.
type ChatCLI struct {
	line        *liner.State
	historyFile string
}

// NewChatCLI creates a ChatCLI with history loaded from the config
// directory.
func NewChatCLI() *ChatCLI {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	configDir, err := config.ConfigDir()
	if err != nil {
		configDir = os.TempDir()
	}

	c := &ChatCLI{
		line:        line,
		historyFile: filepath.Join(configDir, "repl_history"),
	}
	c.LoadHistory()
	return c
}

// LoadHistory loads input history from the history file.
func (c *ChatCLI) LoadHistory() {
	if f, err := os.Open(c.historyFile); err == nil {
		_, _ = c.line.ReadHistory(f)
		f.Close()
	}
}

// ReadInput reads one line. Non-blank lines are added to the history.
func (c *ChatCLI) ReadInput(prompt string) (string, error) {
	input, err := c.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		c.line.AppendHistory(input)
	}
	return input, nil
}

// SaveHistory writes the history file with owner-only permissions.
func (c *ChatCLI) SaveHistory() {
	if err := os.MkdirAll(filepath.Dir(c.historyFile), 0700); err != nil {
		return
	}
	f, err := os.OpenFile(c.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return
	}
	defer f.Close()
	_, _ = c.line.WriteHistory(f)
}

// Close saves history and restores the terminal.
func (c *ChatCLI) Close() {
	c.SaveHistory()
	c.line.Close()
}

// =============================================================================
// REPL
// =============================================================================

// REPL runs chat turns and slash commands against one session.
type REPL struct {
	s        *session
	out      io.Writer
	markdown *glamour.TermRenderer
	streamed bool
}

func newREPL(s *session, out io.Writer, markdown *glamour.TermRenderer) *REPL {
	r := &REPL{s: s, out: out, markdown: markdown}
	if markdown == nil {
		s.consumer.WithFragmentHook(func(_, fragment string) {
			fmt.Fprint(r.out, fragment)
			r.streamed = true
		})
	}
	return r
}

// RunREPL starts the interactive line-based chat.
func RunREPL(ctx context.Context, cfg *config.Config, args Args) error {
	if err := identity.Require(ctx, identity.FromConfig(cfg.Identity)); err != nil {
		return err
	}
	s, err := newSession(cfg, args)
	if err != nil {
		return err
	}

	var md *glamour.TermRenderer
	if cfg.UI.Markdown && !args.Plain && IsStdoutTTY() {
		md = newMarkdownRenderer(cfg)
	}
	repl := newREPL(s, os.Stdout, md)

	if !args.Quiet {
		repl.printWelcome()
	}

	input := NewChatCLI()
	defer input.Close()

	for {
		line, err := input.ReadInput(replPrompt)
		switch {
		case errors.Is(err, liner.ErrPromptAborted):
			fmt.Fprintln(os.Stdout, infoStyle.Render("(use /quit or Ctrl+D to exit)"))
			continue
		case errors.Is(err, io.EOF):
			fmt.Fprintln(os.Stdout)
			return nil
		case err != nil:
			return err
		}

		quit, err := repl.Handle(ctx, line)
		if err != nil {
			DisplayError(os.Stdout, err, false)
		}
		if quit || ctx.Err() != nil {
			return nil
		}
	}
}

// Handle processes one line of input. quit is true when the user asked to
// leave.
func (r *REPL) Handle(ctx context.Context, input string) (quit bool, err error) {
	line := strings.TrimSpace(input)
	if line == "" {
		return false, nil
	}
	if strings.HasPrefix(line, "/") {
		return r.command(line)
	}
	return false, r.turn(ctx, line)
}

// turn sends content and prints the reply. Ctrl+C cancels the request and
// keeps whatever arrived.
func (r *REPL) turn(ctx context.Context, content string) error {
	turnCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	conv := r.s.store.Active()
	fmt.Fprintln(r.out, assistantLabelStyle.Render(model.RoleAssistant.DisplayName()+":"))

	r.streamed = false
	reply, err := r.s.consumer.Send(turnCtx, conv.ID, content)
	if r.streamed && !strings.HasSuffix(reply.Content, "\n") {
		fmt.Fprintln(r.out)
	}

	if err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() == nil {
			fmt.Fprintln(r.out, infoStyle.Render("[cancelled]"))
			return nil
		}
		if text, ok := failedReply(r.s.store, conv.ID); ok {
			fmt.Fprintln(r.out, text)
		}
		return err
	}

	if r.markdown != nil {
		fmt.Fprint(r.out, renderMarkdown(r.markdown, reply.Content))
	}
	if reply.HasError() {
		return &ReplyError{Text: reply.ErrorText}
	}
	return nil
}

// =============================================================================
// SLASH COMMANDS
// =============================================================================

func (r *REPL) command(line string) (bool, error) {
	fields := strings.Fields(line)
	name := strings.ToLower(fields[0])
	rest := fields[1:]

	switch name {
	case "/quit", "/exit", "/q":
		return true, nil

	case "/help", "/h":
		r.printHelp()

	case "/new", "/clear":
		r.s.store.NewConversation()
		fmt.Fprintln(r.out, infoStyle.Render("Started a new conversation."))

	case "/model", "/m":
		return false, r.model(rest)

	case "/history":
		r.printHistory()

	case "/export":
		return false, r.export(rest)

	default:
		return false, &UsageError{Reason: fmt.Sprintf("unknown command %s", name), Example: "/help"}
	}
	return false, nil
}

func (r *REPL) model(args []string) error {
	conv := r.s.store.Active()
	if len(args) == 0 {
		for _, m := range model.Models {
			marker := "  "
			if m.ID == conv.Model {
				marker = "* "
			}
			fmt.Fprintf(r.out, "%s%-8s %s (%s)\n", marker, m.ID, util.PadRight(m.DisplayName(), 14), m.Provider)
		}
		return nil
	}

	if err := r.s.store.SetModel(conv.ID, args[0]); err != nil {
		return err
	}
	info, _ := model.GetModelInfo(args[0])
	msg := "Model: " + info.DisplayName()
	if !info.Wired {
		msg += " (replies still come from Gemini)"
	}
	fmt.Fprintln(r.out, infoStyle.Render(msg))
	return nil
}

// export writes the active conversation to a file: /export [md|json] [dir].
func (r *REPL) export(args []string) error {
	format := "md"
	opts := export.DefaultOptions()
	if len(args) > 0 {
		format = args[0]
	}
	if len(args) > 1 {
		opts.OutputDir = args[1]
	}

	exporter, err := export.ForFormat(format, opts)
	if err != nil {
		return &UsageError{Reason: err.Error(), Example: "/export json ./transcripts"}
	}
	path, err := export.ToFile(r.s.store.Active(), exporter, opts)
	if errors.Is(err, export.ErrEmptyConversation) {
		fmt.Fprintln(r.out, infoStyle.Render("Nothing to export yet."))
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(r.out, styles.RenderSuccess("Exported to "+path))
	return nil
}

func (r *REPL) printHistory() {
	conv := r.s.store.Active()
	if conv.IsEmpty() {
		fmt.Fprintln(r.out, infoStyle.Render("No messages yet."))
		return
	}
	for _, msg := range conv.Messages {
		label := userLabelStyle.Render(msg.Role.DisplayName() + ":")
		if msg.IsAssistant() {
			label = assistantLabelStyle.Render(msg.Role.DisplayName() + ":")
		}
		fmt.Fprintf(r.out, "%s %s\n", label, msg.Content)
		if msg.HasError() {
			fmt.Fprintln(r.out, styles.RenderError(msg.ErrorText))
		}
	}
}

func (r *REPL) printWelcome() {
	fmt.Fprintln(r.out, welcomeStyle.Render("CodeHelper")+" "+infoStyle.Render("relay "+r.s.relay.URL()))
	fmt.Fprintln(r.out, infoStyle.Render("Type a question, /help for commands, Ctrl+D to exit."))
}

func (r *REPL) printHelp() {
	cmds := []struct{ name, desc string }{
		{"/new", "Start a new conversation"},
		{"/model [ID]", "Show or change the conversation model"},
		{"/history", "Show the conversation so far"},
		{"/export [FMT]", "Save the conversation as md or json"},
		{"/help", "Show this help"},
		{"/quit", "Exit (also Ctrl+D)"},
		{"Ctrl+C", "Cancel the reply being streamed"},
	}
	for _, c := range cmds {
		fmt.Fprintf(r.out, "  %s %s\n", commandStyle.Render(util.PadRight(c.name, 14)), c.desc)
	}
}
