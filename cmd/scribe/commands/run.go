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
	"github.com/bureau-foundation/scribe/execute"
)

func execCommand(e *env) *cli.Command {
	var g globals
	var cell int
	var code string
	return &cli.Command{
		Name:    "exec",
		Summary: "Execute one code cell or an ad-hoc snippet",
		Description: `Execute one code cell, streaming its outputs into the shared
notebook, or run an ad-hoc snippet against the notebook's kernel
without touching the document.

Exits 1 when the code raised or timed out.`,
		Usage: "scribe exec <path> (--cell <n> | --code <text|->) [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("exec", pflag.ContinueOnError)
			g.bind(flagSet)
			flagSet.IntVar(&cell, "cell", -1, "code cell index")
			flagSet.StringVar(&code, "code", "", `ad-hoc code ("-" reads stdin)`)
			return flagSet
		},
		Examples: []cli.Example{
			{Description: "Run the third cell", Command: "scribe exec analysis.ipynb --cell 2"},
			{Description: "Inspect a variable without editing the notebook", Command: "scribe exec analysis.ipynb --code 'df.shape'"},
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			path, err := requirePath(args)
			if err != nil {
				return err
			}
			var request scribe.ExecuteRequest
			switch {
			case cell >= 0 && code != "":
				return errors.New("--cell and --code are mutually exclusive")
			case cell >= 0:
				request.Cell = &cell
			case code != "":
				if request.Code, err = e.readText(code); err != nil {
					return err
				}
			default:
				return errors.New("one of --cell or --code is required")
			}

			return e.withService(ctx, &g, logger, func(service *scribe.Service) error {
				result, err := service.Execute(ctx, path, request)
				if err != nil {
					return err
				}
				if done, err := e.emit(&g, result); !done {
					e.printResult(result.Result)
				} else if err != nil {
					return err
				}
				return exitStatus(result.Status)
			})
		},
	}
}

func runCommand(e *env) *cli.Command {
	var g globals
	var start, end int
	return &cli.Command{
		Name:    "run",
		Summary: "Execute a range of cells in order",
		Description: `Execute the code cells in [start, end) in notebook order. A failing
cell does not stop the batch. Exits 1 when any cell failed.`,
		Usage: "scribe run <path> [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("run", pflag.ContinueOnError)
			g.bind(flagSet)
			flagSet.IntVar(&start, "start", 0, "first cell index")
			flagSet.IntVar(&end, "end", -1, "end cell index, exclusive (-1 for the last cell)")
			return flagSet
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			path, err := requirePath(args)
			if err != nil {
				return err
			}
			return e.withService(ctx, &g, logger, func(service *scribe.Service) error {
				batch, err := service.ExecuteCells(ctx, path, start, end)
				if err != nil {
					return err
				}
				if done, err := e.emit(&g, batch); !done {
					e.printBatch(batch)
				} else if err != nil {
					return err
				}
				if batch.Failed > 0 {
					return &cli.ExitError{Code: 1}
				}
				return nil
			})
		},
	}
}

func restartCommand(e *env) *cli.Command {
	var g globals
	var options scribe.RestartOptions
	return &cli.Command{
		Name:    "restart",
		Summary: "Restart or switch the notebook's kernel",
		Usage:   "scribe restart <path> [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("restart", pflag.ContinueOnError)
			g.bind(flagSet)
			flagSet.StringVar(&options.KernelName, "kernel", "", "switch to this kernel (default: restart the current one)")
			flagSet.BoolVar(&options.ClearOutputs, "clear", false, "clear every output after the restart")
			flagSet.BoolVar(&options.ReExecute, "re-execute", false, "run every code cell after the restart")
			return flagSet
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			path, err := requirePath(args)
			if err != nil {
				return err
			}
			return e.withService(ctx, &g, logger, func(service *scribe.Service) error {
				result, err := service.RestartKernel(ctx, path, options)
				if err != nil {
					return err
				}
				if done, err := e.emit(&g, result); done {
					return err
				}
				e.printf("kernel %s (%s) restarted\n", result.Kernel.ID, result.Kernel.Name)
				if result.Executed != nil {
					e.printBatch(*result.Executed)
				}
				return nil
			})
		},
	}
}

func (e *env) printResult(result execute.Result) {
	renderer := e.renderer()
	for _, output := range result.Outputs {
		if rendered := renderer.Output(output); rendered != "" {
			e.printf("%s\n", rendered)
		}
	}
	if result.Truncated {
		for _, field := range result.Spilled {
			if field.Ref != "" {
				e.printf("%s truncated from %d characters: scribe spill %s\n", field.Field, field.OriginalLength, field.Ref)
			}
		}
	}
	if result.Status != execute.StatusOK {
		e.printf("status: %s\n", result.Status)
	}
}

func (e *env) printBatch(batch scribe.BatchResult) {
	for _, item := range batch.Items {
		switch {
		case item.Skipped:
			continue
		case item.Error != nil:
			e.printf("cell %d: %s: %s\n", item.Index, item.Error.Kind, item.Error.Message)
		case item.Result != nil:
			e.printf("cell %d: %s\n", item.Index, item.Result.Status)
		}
	}
	e.printf("%d executed, %d failed\n", batch.Executed, batch.Failed)
}

// exitStatus maps an execution status to the command's exit: a cell
// that raised is a reported outcome, not a command error.
func exitStatus(status string) error {
	if status == execute.StatusOK {
		return nil
	}
	return &cli.ExitError{Code: 1}
}
