// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Command scribe reads, edits, and executes Jupyter notebooks through
// the server's real-time collaboration room.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/bureau-foundation/scribe/cmd/scribe/cli"
	"github.com/bureau-foundation/scribe/cmd/scribe/commands"
)

func main() {
	if err := run(); err != nil {
		// Commands that report their own outcome (exec, run) return an
		// ExitError; don't print a redundant "error:" line for those.
		if coder, ok := err.(interface{ ExitCode() int }); ok {
			os.Exit(coder.ExitCode())
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	level := new(slog.LevelVar)
	logger := cli.NewCommandLogger(level)
	streams := commands.Streams{In: os.Stdin, Out: os.Stdout, Err: os.Stderr}
	return commands.Root(streams, level).Execute(ctx, os.Args[1:], logger)
}
