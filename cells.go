// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package scribe

import (
	"context"

	"github.com/bureau-foundation/scribe/execute"
	"github.com/bureau-foundation/scribe/notebook"
)

// CellRef identifies a cell touched by an operation.
type CellRef struct {
	Index int    `json:"index"`
	ID    string `json:"id"`
}

// CellView is a cell in nbformat v4 shape.
type CellView struct {
	Index          int               `json:"index"`
	ID             string            `json:"id"`
	CellType       notebook.CellType `json:"cell_type"`
	Source         string            `json:"source"`
	Metadata       map[string]any    `json:"metadata"`
	ExecutionCount *int              `json:"execution_count,omitempty"`
	Outputs        []notebook.Output `json:"outputs,omitempty"`
	ExecutionState string            `json:"execution_state,omitempty"`
}

// CellsView is a window of a notebook's cells.
type CellsView struct {
	Path  string     `json:"path"`
	Total int        `json:"total"`
	Start int        `json:"start"`
	End   int        `json:"end"`
	Cells []CellView `json:"cells"`

	// Digest identifies the document content the view was read from.
	Digest string `json:"digest"`

	// Truncated reports whether any output value in the view was cut;
	// OriginalSize is the total length of the output values before.
	Truncated    bool `json:"truncated"`
	OriginalSize int  `json:"original_size"`
}

// ReadCells returns cells [start, end) of the notebook at path. An end
// of -1 or past the last cell reads to the end. Output values are
// truncated to the engine's limit.
func (s *Service) ReadCells(ctx context.Context, path string, start, end int) (CellsView, error) {
	const op = "read_cells"
	sess, err := s.open(ctx, op, path)
	if err != nil {
		return CellsView{}, err
	}

	cells := sess.Cells()
	digest := sess.Digest()
	if end < 0 || end > len(cells) {
		end = len(cells)
	}
	if start < 0 || start > end {
		return CellsView{}, validation(op, "invalid cell range [%d, %d) of %d cells", start, end, len(cells))
	}

	view := CellsView{
		Path:   sess.Path(),
		Total:  len(cells),
		Start:  start,
		End:    end,
		Digest: digest,
		Cells:  make([]CellView, 0, end-start),
	}
	for index := start; index < end; index++ {
		cell := cells[index]
		metadata := cell.Metadata
		if metadata == nil {
			metadata = map[string]any{}
		}
		cellView := CellView{
			Index:    index,
			ID:       cell.ID,
			CellType: cell.Type,
			Source:   cell.Source,
			Metadata: metadata,
		}
		if cell.Type == notebook.Code {
			truncation := execute.Truncate(cell.Outputs, s.engine.MaxOutputLength())
			cellView.Outputs = truncation.Outputs
			cellView.ExecutionCount = cell.ExecutionCount
			cellView.ExecutionState = string(cell.ExecutionState)
			view.Truncated = view.Truncated || truncation.Truncated
			view.OriginalSize += truncation.OriginalSize
		}
		view.Cells = append(view.Cells, cellView)
	}
	return view, nil
}

// InsertRequest describes a cell to insert.
type InsertRequest struct {
	// Index is the insert position; -1 appends.
	Index    int    `json:"index"`
	CellType string `json:"cell_type"`
	Source   string `json:"source"`

	// Exec runs the new cell once it is in the document. Only code
	// cells can be executed.
	Exec bool `json:"exec,omitempty"`
}

// InsertResult is the outcome of InsertCell. Execution is set when the
// request asked for it.
type InsertResult struct {
	CellRef
	Execution *ExecuteResult `json:"execution,omitempty"`
}

// InsertCell inserts a cell and, with Exec, runs it. The run addresses
// the new cell by id, so cells inserted concurrently by collaborators
// do not redirect it. As with Execute, a non-nil error after a run
// means the engine failed and Execution still describes what was
// captured.
func (s *Service) InsertCell(ctx context.Context, path string, request InsertRequest) (InsertResult, error) {
	const op = "insert_cell"
	parsed, err := notebook.ParseCellType(request.CellType)
	if err != nil {
		return InsertResult{}, &OpError{Op: op, Kind: KindValidation, Err: err}
	}
	if request.Exec && parsed != notebook.Code {
		return InsertResult{}, validation(op, "cannot execute a %s cell", parsed)
	}
	sess, err := s.open(ctx, op, path)
	if err != nil {
		return InsertResult{}, err
	}
	index := request.Index
	if index == -1 {
		index = sess.Len()
	}
	cell, err := sess.InsertCell(index, parsed, request.Source)
	if err != nil {
		return InsertResult{}, classify(op, err)
	}
	result := InsertResult{CellRef: CellRef{Index: index, ID: cell.ID}}
	if !request.Exec {
		return result, nil
	}

	kernel, err := sess.Kernel()
	if err != nil {
		return result, classify(op, err)
	}
	target, err := sess.CellTargetByID(cell.ID)
	if err != nil {
		return result, classify(op, err)
	}
	run, err := s.engine.Run(ctx, kernel, target, target.Source())
	ref := result.CellRef
	result.Execution = &ExecuteResult{Cell: &ref, Result: run}
	return result, classifyRun(op, err)
}

// DeleteCells removes cells [start, end) in one transaction.
func (s *Service) DeleteCells(ctx context.Context, path string, start, end int) ([]string, error) {
	const op = "delete_cells"
	if err := checkRange(op, start, end); err != nil {
		return nil, err
	}
	sess, err := s.open(ctx, op, path)
	if err != nil {
		return nil, err
	}
	ids, err := sess.DeleteCells(start, end)
	return ids, classify(op, err)
}

// SetCellSource replaces the source of the cell at index.
func (s *Service) SetCellSource(ctx context.Context, path string, index int, source string) (CellRef, error) {
	return s.edit(ctx, "set_cell_source", path, index, func(sess editor) (string, error) {
		return sess.SetCellSource(index, source)
	})
}

// InsertText inserts text at a character offset of the cell at index.
func (s *Service) InsertText(ctx context.Context, path string, index, offset int, text string) (CellRef, error) {
	return s.edit(ctx, "insert_text", path, index, func(sess editor) (string, error) {
		return sess.InsertText(index, offset, text)
	})
}

// DeleteText removes length characters at offset of the cell at index.
func (s *Service) DeleteText(ctx context.Context, path string, index, offset, length int) (CellRef, error) {
	return s.edit(ctx, "delete_text", path, index, func(sess editor) (string, error) {
		return sess.DeleteText(index, offset, length)
	})
}

// ReplaceText replaces length characters at offset of the cell at
// index with text.
func (s *Service) ReplaceText(ctx context.Context, path string, index, offset, length int, text string) (CellRef, error) {
	return s.edit(ctx, "replace_text", path, index, func(sess editor) (string, error) {
		return sess.ReplaceText(index, offset, length, text)
	})
}

// editor is the slice of session.Session the text edits use.
type editor interface {
	SetCellSource(index int, source string) (string, error)
	InsertText(index, offset int, text string) (string, error)
	DeleteText(index, offset, length int) (string, error)
	ReplaceText(index, offset, length int, text string) (string, error)
}

func (s *Service) edit(ctx context.Context, op, path string, index int, apply func(editor) (string, error)) (CellRef, error) {
	if index < 0 {
		return CellRef{}, validation(op, "cell index %d is negative", index)
	}
	sess, err := s.open(ctx, op, path)
	if err != nil {
		return CellRef{}, err
	}
	id, err := apply(sess)
	if err != nil {
		return CellRef{}, classify(op, err)
	}
	return CellRef{Index: index, ID: id}, nil
}
