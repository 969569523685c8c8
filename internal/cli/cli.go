// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli provides command-line parsing and the non-TUI commands.
//
// Commands:
//   - ask: one question, reply streamed to stdout
//   - repl (alias chat): line-based chat with history
//   - serve: the relay HTTP server
//   - config: show and edit ~/.codehelper/config.toml
//
// Running without a command starts the TUI.
package cli

import (
	"fmt"
	"io"
	"runtime"
	"strings"
)

// Version information (can be overridden at build time)
var (
	Version   = "1.0.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Command represents the CLI command to execute.
type Command int

const (
	CmdTUI Command = iota
	CmdAsk
	CmdREPL
	CmdServe
	CmdConfig
	CmdVersion
	CmdHelp
)

// String returns the command name.
func (c Command) String() string {
	switch c {
	case CmdTUI:
		return "tui"
	case CmdAsk:
		return "ask"
	case CmdREPL:
		return "repl"
	case CmdServe:
		return "serve"
	case CmdConfig:
		return "config"
	case CmdVersion:
		return "version"
	case CmdHelp:
		return "help"
	default:
		return "unknown"
	}
}

// Args holds parsed CLI arguments.
type Args struct {
	// Global flags
	ConfigPath string // --config: alternate config file
	RelayURL   string // --relay: overrides client.relay_url
	Model      string // --model: conversation model tag
	Plain      bool   // --plain: no markdown rendering
	JSON       bool
	Quiet      bool

	// ask
	Query string

	// serve
	Host  string
	Port  int
	Watch bool

	// config
	Subcommand string
	ConfigKey  string
	ConfigVal  string
	Force      bool

	// Raw holds the arguments after the command name.
	Raw []string
}

const usageText = `codehelper - Gemini coding assistant

Usage:
  codehelper                       Start the chat TUI (default)
  codehelper ask "question"        Ask a single question
  codehelper repl                  Line-based interactive chat (alias: chat)
  codehelper serve                 Run the relay server
  codehelper config [subcommand]   Show or edit configuration
  codehelper version               Show version information
  codehelper help                  Show this help

Global flags:
  --config PATH     Use an alternate config file
  --relay URL       Relay base URL (default from client.relay_url)
  --model ID        Conversation model: grok, openai, gemini, chatgpt
  --plain           Print replies without markdown rendering
  --json            Machine-readable output (ask, config show)
  -q, --quiet       Less output

Serve flags:
  --host HOST       Listen host (default from relay.host)
  --port N          Listen port (default from relay.port)
  --watch           Reload the config file when it changes

Config subcommands:
  show              Print the configuration (secrets redacted)
  path              Print the config file path
  init [--force]    Write a default config file
  get KEY           Print one value, e.g. provider.model
  set KEY VALUE     Change one value and save
  keys              List settable keys

REPL commands:
  /new              Start a new conversation
  /model [ID]       Show or change the conversation model
  /history          Show the conversation so far
  /help             Show REPL commands
  /quit             Exit (also Ctrl+D)
  Ctrl+C            Cancel the reply being streamed

Environment:
  GOOGLE_API_KEY          Gemini API key used by the relay
  CODEHELPER_RELAY_URL    Relay base URL for the front ends
  CODEHELPER_AUTH_TOKEN   Bearer token shared by relay and front ends
  SUPABASE_URL, SUPABASE_ANON_KEY, SUPABASE_ACCESS_TOKEN
                          Identity provider used to check sign-in
`

// PrintUsage writes the usage text.
func PrintUsage(w io.Writer) {
	fmt.Fprint(w, usageText)
}

// PrintVersion writes version information.
func PrintVersion(w io.Writer) {
	fmt.Fprintf(w, "codehelper %s\n", Version)
	fmt.Fprintf(w, "  Commit:  %s\n", GitCommit)
	fmt.Fprintf(w, "  Built:   %s\n", BuildDate)
	fmt.Fprintf(w, "  Go:      %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// =============================================================================
// PARSING
// =============================================================================

// Parse parses command-line arguments (without the program name).
func Parse(argv []string) (Command, Args, error) {
	p := NewArgParser(argv)

	args := Args{
		ConfigPath: p.Flag("config"),
		RelayURL:   p.Flag("relay"),
		Model:      p.Flag("model", "m"),
		Plain:      p.BoolFlag("plain"),
		JSON:       p.BoolFlag("json"),
		Quiet:      p.BoolFlag("quiet", "q"),
	}

	if p.BoolFlag("help", "h") {
		return CmdHelp, args, nil
	}
	if p.BoolFlag("version") {
		return CmdVersion, args, nil
	}

	if p.PositionalCount() == 0 {
		return CmdTUI, args, nil
	}

	name := strings.ToLower(p.Positional(0))
	rest := p.PositionalFrom(1)
	args.Raw = rest

	switch name {
	case "tui":
		return CmdTUI, args, nil

	case "ask":
		args.Query = strings.TrimSpace(strings.Join(rest, " "))
		if args.Query == "" {
			return CmdAsk, args, &UsageError{Command: "ask", Reason: "a question is required", Example: `codehelper ask "How do I reverse a slice?"`}
		}
		return CmdAsk, args, nil

	case "repl", "chat":
		return CmdREPL, args, nil

	case "serve", "server":
		args.Host = p.Flag("host")
		args.Watch = p.BoolFlag("watch")
		if p.HasFlag("port") {
			port, err := p.FlagInt("port")
			if err != nil || port < 1 || port > 65535 {
				return CmdServe, args, &UsageError{Command: "serve", Reason: fmt.Sprintf("invalid port %q", p.Flag("port")), Example: "codehelper serve --port 3000"}
			}
			args.Port = port
		}
		return CmdServe, args, nil

	case "config":
		args.Subcommand = "show"
		args.Force = p.BoolFlag("force")
		if len(rest) > 0 {
			args.Subcommand = strings.ToLower(rest[0])
		}
		if len(rest) > 1 {
			args.ConfigKey = rest[1]
		}
		if len(rest) > 2 {
			args.ConfigVal = strings.Join(rest[2:], " ")
		}
		return CmdConfig, args, nil

	case "version":
		return CmdVersion, args, nil

	case "help":
		return CmdHelp, args, nil
	}

	return CmdHelp, args, &UsageError{Reason: fmt.Sprintf("unknown command %q", name), Example: "codehelper help"}
}
