// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package scribe

import (
	"context"
	"errors"

	"github.com/bureau-foundation/scribe/execute"
	"github.com/bureau-foundation/scribe/notebook"
	"github.com/bureau-foundation/scribe/session"
)

// ExecuteRequest selects what to run: the code cell at Cell, or Code
// as an ad-hoc snippet whose outputs are returned but never written to
// the notebook. Exactly one must be set.
type ExecuteRequest struct {
	Cell *int   `json:"cell,omitempty"`
	Code string `json:"code,omitempty"`
}

// ExecuteResult is the outcome of running one cell or snippet.
type ExecuteResult struct {
	// Cell is nil for ad-hoc code.
	Cell *CellRef `json:"cell,omitempty"`
	execute.Result
}

// ErrorInfo is the serializable form of an OpError.
type ErrorInfo struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

func errorInfo(err error) *ErrorInfo {
	if err == nil {
		return nil
	}
	var opErr *OpError
	if errors.As(err, &opErr) {
		return &ErrorInfo{Kind: opErr.Kind, Message: opErr.Error()}
	}
	return &ErrorInfo{Kind: kindOf(err), Message: err.Error()}
}

// BatchItem is one cell of a batch execution.
type BatchItem struct {
	CellRef

	// Skipped is set for non-code cells.
	Skipped bool            `json:"skipped,omitempty"`
	Result  *execute.Result `json:"result,omitempty"`
	Error   *ErrorInfo      `json:"error,omitempty"`
}

// BatchResult is the outcome of ExecuteCells.
type BatchResult struct {
	Items     []BatchItem `json:"items"`
	Executed  int         `json:"executed"`
	Failed    int         `json:"failed"`
	Truncated bool        `json:"truncated"`
}

// classifyRun is classify for engine errors: anything not otherwise
// recognized is an execution failure.
func classifyRun(op string, err error) error {
	if err == nil {
		return nil
	}
	if kindOf(err) == KindInternal {
		return &OpError{Op: op, Kind: KindExecution, Err: err}
	}
	return classify(op, err)
}

// Execute runs a code cell or an ad-hoc snippet on the notebook's
// kernel. The returned error is non-nil only when the engine failed;
// the result then still describes what was captured.
func (s *Service) Execute(ctx context.Context, path string, request ExecuteRequest) (ExecuteResult, error) {
	const op = "execute"
	if (request.Cell == nil) == (request.Code == "") {
		return ExecuteResult{}, validation(op, "exactly one of cell and code is required")
	}
	sess, err := s.open(ctx, op, path)
	if err != nil {
		return ExecuteResult{}, err
	}
	kernel, err := sess.Kernel()
	if err != nil {
		return ExecuteResult{}, classify(op, err)
	}

	if request.Cell == nil {
		result, err := s.engine.Run(ctx, kernel, execute.Discard{}, request.Code)
		return ExecuteResult{Result: result}, classifyRun(op, err)
	}

	index := *request.Cell
	target, err := sess.CellTarget(index)
	if err != nil {
		return ExecuteResult{}, classify(op, err)
	}
	if target.Type() != notebook.Code {
		return ExecuteResult{}, validation(op, "%s is a %s cell", describeCell(index, target.ID()), target.Type())
	}
	result, err := s.engine.Run(ctx, kernel, target, target.Source())
	return ExecuteResult{Cell: &CellRef{Index: index, ID: target.ID()}, Result: result}, classifyRun(op, err)
}

// ExecuteCells runs the code cells in [start, end) in order. An end of
// -1 runs to the last cell. The range is resolved to cell ids up front;
// a failing cell is recorded and the batch continues.
func (s *Service) ExecuteCells(ctx context.Context, path string, start, end int) (BatchResult, error) {
	const op = "execute_cells"
	sess, err := s.open(ctx, op, path)
	if err != nil {
		return BatchResult{}, err
	}
	if end == -1 {
		end = sess.Len()
	}
	if err := checkRange(op, start, end); err != nil {
		return BatchResult{}, err
	}
	return s.executeCells(ctx, op, sess, start, end)
}

func (s *Service) executeCells(ctx context.Context, op string, sess *session.Session, start, end int) (BatchResult, error) {
	kernel, err := sess.Kernel()
	if err != nil {
		return BatchResult{}, classify(op, err)
	}
	ids, err := sess.ResolveIDs(start, end)
	if err != nil {
		return BatchResult{}, classify(op, err)
	}

	batch := BatchResult{Items: make([]BatchItem, 0, len(ids))}
	for offset, id := range ids {
		item := BatchItem{CellRef: CellRef{Index: start + offset, ID: id}}
		target, err := sess.CellTargetByID(id)
		switch {
		case err != nil:
			item.Error = errorInfo(classify(op, err))
		case target.Type() != notebook.Code:
			item.Skipped = true
		default:
			result, runErr := s.engine.Run(ctx, kernel, target, target.Source())
			item.Result = &result
			item.Error = errorInfo(classifyRun(op, runErr))
			batch.Executed++
			batch.Truncated = batch.Truncated || result.Truncated
		}
		if item.Error != nil {
			batch.Failed++
			s.logger.Info("batch item failed", "path", sess.Path(), "cell_id", id, "kind", item.Error.Kind)
		}
		batch.Items = append(batch.Items, item)
	}
	return batch, nil
}

// RestartOptions configures RestartKernel.
type RestartOptions struct {
	// KernelName switches to a different kernel type. Empty restarts
	// the current kernel in place.
	KernelName string `json:"kernel_name,omitempty"`

	// ClearOutputs removes every output and execution count after the
	// restart.
	ClearOutputs bool `json:"clear_outputs,omitempty"`

	// ReExecute runs every code cell after the restart.
	ReExecute bool `json:"re_execute,omitempty"`
}

// RestartResult is the outcome of RestartKernel.
type RestartResult struct {
	Kernel   KernelSummary `json:"kernel"`
	Executed *BatchResult  `json:"executed,omitempty"`
}

// RestartKernel restarts (or switches) the notebook's kernel and
// reconnects the session.
func (s *Service) RestartKernel(ctx context.Context, path string, options RestartOptions) (RestartResult, error) {
	const op = "restart_kernel"
	sess, err := s.open(ctx, op, path)
	if err != nil {
		return RestartResult{}, err
	}
	kernel, err := sess.RestartKernel(ctx, options.KernelName, options.ClearOutputs)
	if err != nil {
		return RestartResult{}, classify(op, err)
	}
	result := RestartResult{Kernel: kernelSummary(kernel)}
	s.logger.Info("kernel restarted", "path", sess.Path(), "kernel_id", kernel.ID, "kernel_name", kernel.Name)

	if options.ReExecute {
		batch, err := s.executeCells(ctx, op, sess, 0, sess.Len())
		if err != nil {
			return result, err
		}
		result.Executed = &batch
	}
	return result, nil
}
