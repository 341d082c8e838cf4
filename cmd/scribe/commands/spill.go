// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"errors"
	"log/slog"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/scribe"
	"github.com/bureau-foundation/scribe/cmd/scribe/cli"
)

func spillCommand(e *env) *cli.Command {
	var g globals
	return &cli.Command{
		Name:    "spill",
		Summary: "Print the full value behind a truncation reference",
		Usage:   "scribe spill <ref> [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("spill", pflag.ContinueOnError)
			g.bind(flagSet)
			return flagSet
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) != 1 {
				return errors.New("expected exactly one spill reference")
			}
			return e.withService(ctx, &g, logger, func(service *scribe.Service) error {
				data, err := service.Spill(args[0])
				if err != nil {
					return err
				}
				_, err = e.streams.Out.Write(data)
				return err
			})
		},
	}
}
