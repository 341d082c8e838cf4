// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands builds the scribe command tree. Every notebook
// command is one-shot: it loads configuration, opens the sessions it
// needs, performs its operation, and closes everything before
// returning.
package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bureau-foundation/scribe/cmd/scribe/cli"
	"github.com/bureau-foundation/scribe/lib/version"
)

// Root builds the complete command tree. level is raised or lowered to
// the configured log level once a command loads its configuration.
func Root(streams Streams, level *slog.LevelVar) *cli.Command {
	e := &env{streams: streams, level: level}
	return &cli.Command{
		Name: "scribe",
		Description: `scribe: collaborative Jupyter notebook access for agents.

Edits go through the server's real-time collaboration room, so they
appear live to everyone with the notebook open, and cell executions
stream their outputs into the shared document.`,
		Help: streams.Err,
		Subcommands: []*cli.Command{
			openCommand(e),
			listCommand(e),
			cellsCommand(e),
			insertCommand(e),
			deleteCommand(e),
			setCommand(e),
			editCommand(e),
			execCommand(e),
			runCommand(e),
			restartCommand(e),
			watchCommand(e),
			spillCommand(e),
			sealTokenCommand(e),
			{
				Name:    "version",
				Summary: "Print version information",
				Run: func(_ context.Context, _ []string, _ *slog.Logger) error {
					fmt.Fprintf(streams.Out, "scribe %s\n", version.Full())
					return nil
				},
			},
		},
	}
}
