// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/scribe"
	"github.com/bureau-foundation/scribe/cmd/scribe/cli"
	"github.com/bureau-foundation/scribe/notebook"
)

func openCommand(e *env) *cli.Command {
	var g globals
	return &cli.Command{
		Name:    "open",
		Summary: "Connect to a notebook and report its state",
		Usage:   "scribe open <path> [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("open", pflag.ContinueOnError)
			g.bind(flagSet)
			return flagSet
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			path, err := requirePath(args)
			if err != nil {
				return err
			}
			return e.withService(ctx, &g, logger, func(service *scribe.Service) error {
				summary, err := service.OpenSession(ctx, path)
				if err != nil {
					return err
				}
				if done, err := e.emit(&g, summary); done {
					return err
				}
				e.printf("%s: %s, %d cells, digest %s\n", summary.Path, summary.State, summary.Cells, shortDigest(summary.Digest))
				if summary.KernelID != "" {
					e.printf("kernel: %s\n", summary.KernelID)
				}
				return nil
			})
		},
	}
}

func listCommand(e *env) *cli.Command {
	var g globals
	var root string
	return &cli.Command{
		Name:    "list",
		Summary: "Open several notebooks and tabulate their sessions",
		Usage:   "scribe list <path>... [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("list", pflag.ContinueOnError)
			g.bind(flagSet)
			flagSet.StringVar(&root, "root", "", "only list notebooks under this directory")
			return flagSet
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) == 0 {
				return errors.New("expected at least one notebook path")
			}
			return e.withService(ctx, &g, logger, func(service *scribe.Service) error {
				for _, path := range args {
					if _, err := service.OpenSession(ctx, path); err != nil {
						return err
					}
				}
				sessions := service.ListSessions(root)
				if done, err := e.emit(&g, sessions); done {
					return err
				}
				tw := tabwriter.NewWriter(e.streams.Out, 2, 0, 2, ' ', 0)
				fmt.Fprintf(tw, "PATH\tSTATE\tCELLS\tKERNEL\tDIGEST\n")
				for _, summary := range sessions {
					kernel := summary.KernelID
					if kernel == "" {
						kernel = "-"
					}
					fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n",
						summary.Path, summary.State, summary.Cells, kernel, shortDigest(summary.Digest))
				}
				return tw.Flush()
			})
		},
	}
}

func cellsCommand(e *env) *cli.Command {
	var g globals
	var start, end int
	return &cli.Command{
		Name:    "cells",
		Summary: "Show a range of cells with their outputs",
		Usage:   "scribe cells <path> [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("cells", pflag.ContinueOnError)
			g.bind(flagSet)
			flagSet.IntVar(&start, "start", 0, "first cell index")
			flagSet.IntVar(&end, "end", -1, "end cell index, exclusive (-1 for the last cell)")
			return flagSet
		},
		Examples: []cli.Example{
			{Description: "Show the whole notebook", Command: "scribe cells analysis.ipynb"},
			{Description: "Cells 3 and 4 as nbformat JSON", Command: "scribe cells analysis.ipynb --start 3 --end 5 --json"},
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			path, err := requirePath(args)
			if err != nil {
				return err
			}
			return e.withService(ctx, &g, logger, func(service *scribe.Service) error {
				view, err := service.ReadCells(ctx, path, start, end)
				if err != nil {
					return err
				}
				if done, err := e.emit(&g, view); done {
					return err
				}
				renderer := e.renderer()
				for _, cell := range view.Cells {
					e.printf("%s\n", renderer.Cell(cell.Index, cellOf(cell)))
				}
				if view.Truncated {
					e.printf("(outputs truncated from %d characters; use --json for spill references)\n", view.OriginalSize)
				}
				e.printf("%d of %d cells, digest %s\n", len(view.Cells), view.Total, shortDigest(view.Digest))
				return nil
			})
		},
	}
}

func cellOf(view scribe.CellView) notebook.Cell {
	return notebook.Cell{
		ID:             view.ID,
		Type:           view.CellType,
		Source:         view.Source,
		Outputs:        view.Outputs,
		ExecutionCount: view.ExecutionCount,
		ExecutionState: notebook.ExecutionState(view.ExecutionState),
	}
}

func insertCommand(e *env) *cli.Command {
	var g globals
	var request scribe.InsertRequest
	var source string
	return &cli.Command{
		Name:    "insert",
		Summary: "Insert a new cell, optionally running it",
		Description: `Insert a new cell. With --exec the new code cell is executed once
it is in the notebook, and the command exits 1 when the code raised or
timed out.`,
		Usage: "scribe insert <path> --source <text|-> [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("insert", pflag.ContinueOnError)
			g.bind(flagSet)
			flagSet.IntVar(&request.Index, "at", -1, "index to insert at (-1 appends)")
			flagSet.StringVar(&request.CellType, "type", string(notebook.Code), "cell type: code, markdown, or raw")
			flagSet.StringVar(&source, "source", "", `cell source ("-" reads stdin)`)
			flagSet.BoolVar(&request.Exec, "exec", false, "execute the new code cell")
			return flagSet
		},
		Examples: []cli.Example{
			{Description: "Prepend a cell and run it", Command: "scribe insert analysis.ipynb --at 0 --source 'print(1)' --exec"},
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			path, err := requirePath(args)
			if err != nil {
				return err
			}
			if request.Source, err = e.readText(source); err != nil {
				return err
			}
			return e.withService(ctx, &g, logger, func(service *scribe.Service) error {
				result, err := service.InsertCell(ctx, path, request)
				if err != nil {
					return err
				}
				if done, err := e.emit(&g, result); !done {
					e.printf("inserted cell %d (%s)\n", result.Index, result.ID)
					if result.Execution != nil {
						e.printResult(result.Execution.Result)
					}
				} else if err != nil {
					return err
				}
				if result.Execution != nil {
					return exitStatus(result.Execution.Status)
				}
				return nil
			})
		},
	}
}

func deleteCommand(e *env) *cli.Command {
	var g globals
	var start, end int
	return &cli.Command{
		Name:    "delete",
		Summary: "Delete a range of cells",
		Usage:   "scribe delete <path> --start <n> [--end <m>] [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("delete", pflag.ContinueOnError)
			g.bind(flagSet)
			flagSet.IntVar(&start, "start", 0, "first cell to delete")
			flagSet.IntVar(&end, "end", -1, "end index, exclusive (default start+1)")
			return flagSet
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			path, err := requirePath(args)
			if err != nil {
				return err
			}
			if end < 0 {
				end = start + 1
			}
			return e.withService(ctx, &g, logger, func(service *scribe.Service) error {
				ids, err := service.DeleteCells(ctx, path, start, end)
				if err != nil {
					return err
				}
				if done, err := e.emit(&g, ids); done {
					return err
				}
				e.printf("deleted %d cells\n", len(ids))
				return nil
			})
		},
	}
}

func setCommand(e *env) *cli.Command {
	var g globals
	var cell int
	var source string
	return &cli.Command{
		Name:    "set",
		Summary: "Replace a cell's source",
		Usage:   "scribe set <path> --cell <n> --source <text|-> [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("set", pflag.ContinueOnError)
			g.bind(flagSet)
			flagSet.IntVar(&cell, "cell", -1, "cell index")
			flagSet.StringVar(&source, "source", "", `new source ("-" reads stdin)`)
			return flagSet
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			path, err := requirePath(args)
			if err != nil {
				return err
			}
			text, err := e.readText(source)
			if err != nil {
				return err
			}
			return e.withService(ctx, &g, logger, func(service *scribe.Service) error {
				ref, err := service.SetCellSource(ctx, path, cell, text)
				if err != nil {
					return err
				}
				return e.reportCell(&g, "updated", ref)
			})
		},
	}
}

func editCommand(e *env) *cli.Command {
	var g globals
	var cell, offset, length int
	var text string
	return &cli.Command{
		Name:    "edit",
		Summary: "Splice text into a cell's source",
		Description: `Splice text into a cell's source at a character offset.

With --length 0 the text is inserted; with an empty --text the range is
deleted; otherwise the range is replaced. Offsets count characters, not
bytes.`,
		Usage: "scribe edit <path> --cell <n> --offset <o> [--length <l>] [--text <t>] [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("edit", pflag.ContinueOnError)
			g.bind(flagSet)
			flagSet.IntVar(&cell, "cell", -1, "cell index")
			flagSet.IntVar(&offset, "offset", 0, "character offset into the source")
			flagSet.IntVar(&length, "length", 0, "characters to remove at offset")
			flagSet.StringVar(&text, "text", "", `text to insert ("-" reads stdin)`)
			return flagSet
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			path, err := requirePath(args)
			if err != nil {
				return err
			}
			insert, err := e.readText(text)
			if err != nil {
				return err
			}
			return e.withService(ctx, &g, logger, func(service *scribe.Service) error {
				var ref scribe.CellRef
				switch {
				case length == 0:
					ref, err = service.InsertText(ctx, path, cell, offset, insert)
				case insert == "":
					ref, err = service.DeleteText(ctx, path, cell, offset, length)
				default:
					ref, err = service.ReplaceText(ctx, path, cell, offset, length, insert)
				}
				if err != nil {
					return err
				}
				return e.reportCell(&g, "edited", ref)
			})
		},
	}
}

func (e *env) reportCell(g *globals, verb string, ref scribe.CellRef) error {
	if done, err := e.emit(g, ref); done {
		return err
	}
	e.printf("%s cell %d (%s)\n", verb, ref.Index, ref.ID)
	return nil
}

func shortDigest(digest string) string {
	if len(digest) > 12 {
		return digest[:12]
	}
	return digest
}
