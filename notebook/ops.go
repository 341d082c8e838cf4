// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package notebook

import (
	"errors"
	"fmt"
)

var (
	// ErrCellNotFound is returned when an id names no cell.
	ErrCellNotFound = errors.New("notebook: cell not found")

	// ErrIndexOutOfRange is returned for a position outside the
	// notebook or outside a cell's outputs.
	ErrIndexOutOfRange = errors.New("notebook: index out of range")

	// ErrOffsetOutOfRange is returned for a text range outside a cell's
	// source.
	ErrOffsetOutOfRange = errors.New("notebook: text offset out of range")
)

// OpKind names a document operation.
type OpKind string

const (
	OpInsertCell        OpKind = "insert_cell"
	OpDeleteCell        OpKind = "delete_cell"
	OpSetSource         OpKind = "set_source"
	OpEditSource        OpKind = "edit_source"
	OpSetOutputs        OpKind = "set_outputs"
	OpAppendOutput      OpKind = "append_output"
	OpReplaceOutput     OpKind = "replace_output"
	OpSetExecutionCount OpKind = "set_execution_count"
	OpSetExecutionState OpKind = "set_execution_state"
)

// Op is one change to a document. Text offsets and lengths count
// characters (runes), not bytes.
type Op struct {
	Kind    OpKind         `json:"op"`
	CellID  string         `json:"cell_id,omitempty"`
	Index   int            `json:"index,omitempty"`
	Offset  int            `json:"offset,omitempty"`
	Length  int            `json:"length,omitempty"`
	Text    string         `json:"text,omitempty"`
	Cell    *Cell          `json:"cell,omitempty"`
	Output  *Output        `json:"output,omitempty"`
	Outputs []Output       `json:"outputs,omitempty"`
	Count   *int           `json:"count,omitempty"`
	State   ExecutionState `json:"state,omitempty"`
}

// Origin says where an Update came from.
type Origin string

const (
	// OriginLocal updates were made by this process and must be sent
	// to the collaboration server.
	OriginLocal Origin = "local"
	// OriginRemote updates arrived from the collaboration server.
	OriginRemote Origin = "remote"
	// OriginSnapshot marks a full replacement by Load.
	OriginSnapshot Origin = "snapshot"
	// OriginOffline updates were made by this process while the
	// document was detached. They are held until the next Load, which
	// reapplies them and publishes them again as OriginLocal.
	OriginOffline Origin = "offline"
)

// Update is the unit observers receive: the ops of one committed
// transaction, in order.
type Update struct {
	Origin Origin
	Ops    []Op
}

func indexOf(cells []Cell, id string) int {
	for i := range cells {
		if cells[i].ID == id {
			return i
		}
	}
	return -1
}

func findCell(cells []Cell, id string) (int, error) {
	index := indexOf(cells, id)
	if index < 0 {
		return -1, fmt.Errorf("%w: %s", ErrCellNotFound, id)
	}
	return index, nil
}

// applyOp applies op to cells in place where possible and returns the
// resulting slice.
func applyOp(cells []Cell, op Op) ([]Cell, error) {
	if op.Kind == OpInsertCell {
		if op.Cell == nil {
			return cells, fmt.Errorf("notebook: insert_cell without a cell")
		}
		if op.Index < 0 || op.Index > len(cells) {
			return cells, fmt.Errorf("%w: insert at %d in %d cells", ErrIndexOutOfRange, op.Index, len(cells))
		}
		if indexOf(cells, op.Cell.ID) >= 0 {
			return cells, fmt.Errorf("notebook: duplicate cell id %s", op.Cell.ID)
		}
		cells = append(cells, Cell{})
		copy(cells[op.Index+1:], cells[op.Index:])
		cells[op.Index] = op.Cell.Clone()
		return cells, nil
	}

	index, err := findCell(cells, op.CellID)
	if err != nil {
		return cells, err
	}
	cell := &cells[index]

	switch op.Kind {
	case OpDeleteCell:
		return append(cells[:index], cells[index+1:]...), nil

	case OpSetSource:
		cell.Source = op.Text

	case OpEditSource:
		source := []rune(cell.Source)
		if op.Offset < 0 || op.Length < 0 || op.Offset+op.Length > len(source) {
			return cells, fmt.Errorf("%w: [%d,%d) in %d characters of cell %s",
				ErrOffsetOutOfRange, op.Offset, op.Offset+op.Length, len(source), cell.ID)
		}
		edited := make([]rune, 0, len(source)-op.Length+len(op.Text))
		edited = append(edited, source[:op.Offset]...)
		edited = append(edited, []rune(op.Text)...)
		edited = append(edited, source[op.Offset+op.Length:]...)
		cell.Source = string(edited)

	case OpSetOutputs:
		cell.Outputs = nil
		for _, output := range op.Outputs {
			cell.Outputs = append(cell.Outputs, output.Clone())
		}

	case OpAppendOutput:
		if op.Output == nil {
			return cells, fmt.Errorf("notebook: append_output without an output")
		}
		cell.Outputs = append(cell.Outputs, op.Output.Clone())

	case OpReplaceOutput:
		if op.Output == nil {
			return cells, fmt.Errorf("notebook: replace_output without an output")
		}
		if op.Index < 0 || op.Index >= len(cell.Outputs) {
			return cells, fmt.Errorf("%w: output %d of %d in cell %s",
				ErrIndexOutOfRange, op.Index, len(cell.Outputs), cell.ID)
		}
		cell.Outputs[op.Index] = op.Output.Clone()

	case OpSetExecutionCount:
		if op.Count == nil {
			cell.ExecutionCount = nil
		} else {
			count := *op.Count
			cell.ExecutionCount = &count
		}

	case OpSetExecutionState:
		cell.ExecutionState = op.State

	default:
		return cells, fmt.Errorf("notebook: unknown op %q", op.Kind)
	}
	return cells, nil
}
