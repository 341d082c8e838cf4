// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package execute

import (
	"context"

	"github.com/bureau-foundation/scribe/jupyter"
	"github.com/bureau-foundation/scribe/notebook"
)

// Kernel runs code. A session's kernel binding satisfies it.
type Kernel interface {
	Execute(ctx context.Context, code string, handle func(jupyter.Message)) (jupyter.ExecuteReply, error)
	Interrupt(ctx context.Context) error
}

// Target receives an execution's progress. Output indexes refer to the
// outputs the target has been given since Begin.
type Target interface {
	// Begin clears previous outputs and the execution count and marks
	// the target running.
	Begin() error
	Append(output notebook.Output) error
	Replace(index int, output notebook.Output) error
	Clear() error
	SetExecutionCount(count int) error
	// Finish marks the target idle. It is called exactly once per
	// Begin, whatever the outcome.
	Finish() error
}

// Discard is a Target that records nothing. Ad-hoc code runs against
// it; the outputs are only returned in the Result.
type Discard struct{}

func (Discard) Begin() error { return nil }
func (Discard) Append(notebook.Output) error { return nil }
func (Discard) Replace(int, notebook.Output) error { return nil }
func (Discard) Clear() error { return nil }
func (Discard) SetExecutionCount(int) error { return nil }
func (Discard) Finish() error { return nil }
