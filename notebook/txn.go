// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package notebook

import "fmt"

// Txn is the working copy handed to a [Document.Transact] callback.
// Reads see the transaction's own earlier edits.
type Txn struct {
	cells []Cell
	ops   []Op
}

func (t *Txn) apply(op Op) error {
	cells, err := applyOp(t.cells, op)
	if err != nil {
		return err
	}
	t.cells = cells
	t.ops = append(t.ops, op)
	return nil
}

// Len returns the number of cells.
func (t *Txn) Len() int { return len(t.cells) }

// IDAt resolves a position to the id of the cell currently there.
func (t *Txn) IDAt(index int) (string, error) {
	if index < 0 || index >= len(t.cells) {
		return "", fmt.Errorf("%w: cell %d of %d", ErrIndexOutOfRange, index, len(t.cells))
	}
	return t.cells[index].ID, nil
}

// IDsIn resolves the half-open position range [start, end) to ids.
func (t *Txn) IDsIn(start, end int) ([]string, error) {
	if start < 0 || end > len(t.cells) || start > end {
		return nil, fmt.Errorf("%w: range [%d,%d) of %d cells", ErrIndexOutOfRange, start, end, len(t.cells))
	}
	ids := make([]string, 0, end-start)
	for _, cell := range t.cells[start:end] {
		ids = append(ids, cell.ID)
	}
	return ids, nil
}

// Cell returns a copy of the cell with the given id.
func (t *Txn) Cell(id string) (Cell, error) {
	index, err := findCell(t.cells, id)
	if err != nil {
		return Cell{}, err
	}
	return t.cells[index].Clone(), nil
}

// InsertCell inserts cell at index; index == Len appends.
func (t *Txn) InsertCell(index int, cell Cell) error {
	return t.apply(Op{Kind: OpInsertCell, Index: index, Cell: &cell})
}

// DeleteCell removes the cell with the given id.
func (t *Txn) DeleteCell(id string) error {
	return t.apply(Op{Kind: OpDeleteCell, CellID: id})
}

// SetSource replaces a cell's whole source.
func (t *Txn) SetSource(id, source string) error {
	return t.apply(Op{Kind: OpSetSource, CellID: id, Text: source})
}

// InsertText inserts text at a character offset in a cell's source.
func (t *Txn) InsertText(id string, offset int, text string) error {
	return t.apply(Op{Kind: OpEditSource, CellID: id, Offset: offset, Text: text})
}

// DeleteText removes length characters at offset.
func (t *Txn) DeleteText(id string, offset, length int) error {
	return t.apply(Op{Kind: OpEditSource, CellID: id, Offset: offset, Length: length})
}

// ReplaceText replaces length characters at offset with text.
func (t *Txn) ReplaceText(id string, offset, length int, text string) error {
	return t.apply(Op{Kind: OpEditSource, CellID: id, Offset: offset, Length: length, Text: text})
}

// SetOutputs replaces a cell's outputs; nil clears them.
func (t *Txn) SetOutputs(id string, outputs []Output) error {
	return t.apply(Op{Kind: OpSetOutputs, CellID: id, Outputs: outputs})
}

// AppendOutput adds one output to the end of a cell's outputs.
func (t *Txn) AppendOutput(id string, output Output) error {
	return t.apply(Op{Kind: OpAppendOutput, CellID: id, Output: &output})
}

// ReplaceOutput overwrites the output at index.
func (t *Txn) ReplaceOutput(id string, index int, output Output) error {
	return t.apply(Op{Kind: OpReplaceOutput, CellID: id, Index: index, Output: &output})
}

// SetExecutionCount sets or (with nil) clears a cell's execution count.
func (t *Txn) SetExecutionCount(id string, count *int) error {
	return t.apply(Op{Kind: OpSetExecutionCount, CellID: id, Count: count})
}

// SetExecutionState sets a cell's execution indicator.
func (t *Txn) SetExecutionState(id string, state ExecutionState) error {
	return t.apply(Op{Kind: OpSetExecutionState, CellID: id, State: state})
}
