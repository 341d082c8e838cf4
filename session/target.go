// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"errors"
	"fmt"

	"github.com/bureau-foundation/scribe/lib/watchdog"
	"github.com/bureau-foundation/scribe/notebook"
)

// CellTarget writes one execution's progress into a code cell. Each
// method is one document transaction addressed by the cell's id, so
// collaborators inserting or moving cells during the run do not
// redirect the outputs.
type CellTarget struct {
	session *Session
	cell    notebook.Cell
}

// CellTarget resolves the cell at index for execution.
func (s *Session) CellTarget(index int) (*CellTarget, error) {
	var cell notebook.Cell
	err := s.transact(func(txn *notebook.Txn) error {
		id, err := txn.IDAt(index)
		if err != nil {
			return err
		}
		cell, err = txn.Cell(id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &CellTarget{session: s, cell: cell}, nil
}

// CellTargetByID resolves a cell by id for execution.
func (s *Session) CellTargetByID(id string) (*CellTarget, error) {
	cell, err := s.document.Cell(id)
	if err != nil {
		return nil, err
	}
	return &CellTarget{session: s, cell: cell}, nil
}

// ID returns the cell id.
func (t *CellTarget) ID() string { return t.cell.ID }

// Type returns the cell type at resolution time.
func (t *CellTarget) Type() notebook.CellType { return t.cell.Type }

// Source returns the cell source at resolution time.
func (t *CellTarget) Source() string { return t.cell.Source }

// Begin records the execution in the watchdog, clears the cell's
// outputs and count, and marks it running.
func (t *CellTarget) Begin() error {
	s := t.session
	if s.watchdog != nil {
		marker := watchdog.Marker{Path: s.path, CellID: t.cell.ID, Started: s.clock.Now()}
		if s.kernel != nil {
			if kernel, ok := s.kernel.Bound(); ok {
				marker.KernelID = kernel.ID
			}
		}
		if err := s.watchdog.Write(marker); err != nil {
			s.logger.Warn("recording execution marker", "cell_id", t.cell.ID, "error", err)
		}
	}
	return s.transact(func(txn *notebook.Txn) error {
		if err := txn.SetOutputs(t.cell.ID, nil); err != nil {
			return err
		}
		if err := txn.SetExecutionCount(t.cell.ID, nil); err != nil {
			return err
		}
		return txn.SetExecutionState(t.cell.ID, notebook.Running)
	})
}

// Append adds an output.
func (t *CellTarget) Append(output notebook.Output) error {
	return t.session.transact(func(txn *notebook.Txn) error {
		return txn.AppendOutput(t.cell.ID, output)
	})
}

// Replace overwrites the output at index.
func (t *CellTarget) Replace(index int, output notebook.Output) error {
	return t.session.transact(func(txn *notebook.Txn) error {
		return txn.ReplaceOutput(t.cell.ID, index, output)
	})
}

// Clear removes all outputs.
func (t *CellTarget) Clear() error {
	return t.session.transact(func(txn *notebook.Txn) error {
		return txn.SetOutputs(t.cell.ID, nil)
	})
}

// SetExecutionCount records the kernel's execution counter.
func (t *CellTarget) SetExecutionCount(count int) error {
	return t.session.transact(func(txn *notebook.Txn) error {
		return txn.SetExecutionCount(t.cell.ID, &count)
	})
}

// Finish marks the cell idle and clears the watchdog marker.
func (t *CellTarget) Finish() error {
	s := t.session
	if s.watchdog != nil {
		if err := s.watchdog.Clear(s.path); err != nil {
			s.logger.Warn("clearing execution marker", "cell_id", t.cell.ID, "error", err)
		}
	}
	return s.transact(func(txn *notebook.Txn) error {
		return txn.SetExecutionState(t.cell.ID, notebook.Idle)
	})
}

// RecoverInterruptedExecution resets a cell left running by a process
// that died mid-execution, as recorded by the watchdog. It reports
// whether a marker was found.
func (s *Session) RecoverInterruptedExecution() (bool, error) {
	if s.watchdog == nil {
		return false, nil
	}
	marker, found, err := s.watchdog.Read(s.path)
	if err != nil {
		return false, fmt.Errorf("session: reading execution marker: %w", err)
	}
	if !found {
		return false, nil
	}

	err = s.transact(func(txn *notebook.Txn) error {
		cell, err := txn.Cell(marker.CellID)
		if errors.Is(err, notebook.ErrCellNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if cell.ExecutionState != notebook.Running {
			return nil
		}
		return txn.SetExecutionState(marker.CellID, notebook.Idle)
	})
	if err != nil {
		return true, fmt.Errorf("session: resetting interrupted cell %s: %w", marker.CellID, err)
	}
	s.logger.Warn("reset cell left running by an interrupted execution",
		"cell_id", marker.CellID,
		"kernel_id", marker.KernelID,
		"started", marker.Started,
	)
	if err := s.watchdog.Clear(s.path); err != nil {
		return true, fmt.Errorf("session: clearing execution marker: %w", err)
	}
	return true, nil
}
