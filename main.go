// codehelper - a Gemini coding assistant with a streaming relay, a TUI and
// a line-based REPL.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/codehelper/internal/cli"
	"github.com/jeranaias/codehelper/internal/config"
)

// Version information (set at build time)
var (
	Version   = "1.0.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func init() {
	cli.Version = Version
	cli.GitCommit = GitCommit
	cli.BuildDate = BuildDate
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(argv []string) int {
	cmd, args, err := cli.Parse(argv)
	if err != nil {
		cli.DisplayError(os.Stderr, err, args.JSON)
		return cli.GetExitCode(err)
	}

	if cmd != cli.CmdTUI {
		lipgloss.SetColorProfile(cli.GetColorProfile())
	}

	switch cmd {
	case cli.CmdHelp:
		cli.PrintUsage(os.Stdout)
		return cli.ExitSuccess
	case cli.CmdVersion:
		cli.PrintVersion(os.Stdout)
		return cli.ExitSuccess
	case cli.CmdConfig:
		return exitWith(cli.HandleConfig(args, os.Stdout), args)
	}

	cfg, err := cli.LoadConfig(args)
	if err != nil {
		return exitWith(err, args)
	}
	config.SetGlobal(cfg)

	// The REPL handles Ctrl+C per turn; everything else stops on it.
	signals := []os.Signal{syscall.SIGTERM}
	if cmd != cli.CmdREPL {
		signals = append(signals, os.Interrupt)
	}
	ctx, stop := signal.NotifyContext(context.Background(), signals...)
	defer stop()

	switch cmd {
	case cli.CmdAsk:
		err = cli.RunAsk(ctx, cfg, args, os.Stdout)
	case cli.CmdREPL:
		err = cli.RunREPL(ctx, cfg, args)
	case cli.CmdServe:
		path, _ := cli.ConfigPath(args)
		err = cli.RunServe(ctx, cfg, path, args)
	default:
		err = cli.RunTUI(ctx, cfg, args)
	}
	return exitWith(err, args)
}

func exitWith(err error, args cli.Args) int {
	if err != nil {
		cli.DisplayError(os.Stderr, err, args.JSON)
	}
	return cli.GetExitCode(err)
}
