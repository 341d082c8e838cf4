// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/scribe/cmd/scribe/cli"
	"github.com/bureau-foundation/scribe/lib/sealed"
)

func sealTokenCommand(e *env) *cli.Command {
	var recipients []string
	return &cli.Command{
		Name:    "seal-token",
		Summary: "Encrypt a server token for server.sealed_token_file",
		Description: `Read a Jupyter server token from stdin and write it to stdout
encrypted to the given age recipients. Point server.sealed_token_file at
the result and server.identity_file at a matching identity.`,
		Usage: "scribe seal-token --recipient <age1...> < token > token.age",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("seal-token", pflag.ContinueOnError)
			flagSet.StringArrayVar(&recipients, "recipient", nil, "age recipient public key (repeatable)")
			return flagSet
		},
		Run: func(_ context.Context, args []string, logger *slog.Logger) error {
			if len(args) != 0 {
				return fmt.Errorf("unexpected argument %q", args[0])
			}
			token, err := io.ReadAll(e.streams.In)
			if err != nil {
				return fmt.Errorf("reading token: %w", err)
			}
			token = bytes.TrimSpace(token)
			if len(token) == 0 {
				return errors.New("empty token on stdin")
			}
			ciphertext, err := sealed.Encrypt(token, recipients)
			if err != nil {
				return err
			}
			logger.Debug("sealed token", "recipients", len(recipients))
			_, err = e.streams.Out.Write(ciphertext)
			return err
		},
	}
}
