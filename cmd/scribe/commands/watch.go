// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"log/slog"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/scribe"
	"github.com/bureau-foundation/scribe/cmd/scribe/cli"
)

func watchCommand(e *env) *cli.Command {
	var g globals
	var duration time.Duration
	return &cli.Command{
		Name:    "watch",
		Summary: "Print document changes as they happen",
		Description: `Stay connected to a notebook and print one line per committed
change, local or remote, until interrupted. With --json each change is
a JSON object on its own line.`,
		Usage: "scribe watch <path> [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("watch", pflag.ContinueOnError)
			g.bind(flagSet)
			flagSet.DurationVar(&duration, "for", 0, "stop after this long (0 watches until interrupted)")
			return flagSet
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			path, err := requirePath(args)
			if err != nil {
				return err
			}
			if duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, duration)
				defer cancel()
			}
			return e.withService(ctx, &g, logger, func(service *scribe.Service) error {
				var writeErr error
				err := service.Watch(ctx, path, func(event scribe.WatchEvent) {
					if writeErr != nil {
						return
					}
					if g.outputJSON {
						writeErr = cli.WriteJSON(e.streams.Out, event)
						return
					}
					e.printf("%s  %s  %d ops, %d cells, digest %s\n",
						event.Path, event.Origin, event.Ops, event.Cells, shortDigest(event.Digest))
				})
				if err != nil {
					return err
				}
				return writeErr
			})
		},
	}
}
