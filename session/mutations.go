// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"github.com/bureau-foundation/scribe/notebook"
)

// transact runs fn as one document transaction after checking that the
// session is open and has been synchronized at least once. Changes made
// while the link is down are held by the document and reapplied when
// the next link synchronizes.
func (s *Session) transact(fn func(*notebook.Txn) error) error {
	s.mu.Lock()
	closed := s.state == Closed
	everSynced := s.everSynced
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if !everSynced {
		return ErrNotSynchronized
	}
	s.touch()
	return s.document.Transact(fn)
}

// Cells returns a copy of the document's cells.
func (s *Session) Cells() []notebook.Cell { return s.document.Cells() }

// Cell returns a copy of the cell with the given id.
func (s *Session) Cell(id string) (notebook.Cell, error) { return s.document.Cell(id) }

// Len returns the number of cells.
func (s *Session) Len() int { return s.document.Len() }

// Digest returns the document content hash.
func (s *Session) Digest() string { return s.document.Digest() }

// Observe registers fn for every committed document update, local or
// remote. See [notebook.Document.Observe].
func (s *Session) Observe(fn func(notebook.Update)) (cancel func()) {
	return s.document.Observe(fn)
}

// ResolveIDs maps the position range [start, end) to cell ids as the
// document stands now.
func (s *Session) ResolveIDs(start, end int) ([]string, error) {
	var ids []string
	err := s.transact(func(txn *notebook.Txn) error {
		var err error
		ids, err = txn.IDsIn(start, end)
		return err
	})
	return ids, err
}

// InsertCell inserts a new cell at index (Len appends) and returns it.
func (s *Session) InsertCell(index int, cellType notebook.CellType, source string) (notebook.Cell, error) {
	cell := notebook.NewCell(cellType, source)
	err := s.transact(func(txn *notebook.Txn) error {
		return txn.InsertCell(index, cell)
	})
	if err != nil {
		return notebook.Cell{}, err
	}
	return cell, nil
}

// DeleteCells removes the cells at positions [start, end) and returns
// their ids.
func (s *Session) DeleteCells(start, end int) ([]string, error) {
	var ids []string
	err := s.transact(func(txn *notebook.Txn) error {
		var err error
		if ids, err = txn.IDsIn(start, end); err != nil {
			return err
		}
		for _, id := range ids {
			if err := txn.DeleteCell(id); err != nil {
				return err
			}
		}
		return nil
	})
	return ids, err
}

// SetCellSource replaces the source of the cell at index and returns
// its id.
func (s *Session) SetCellSource(index int, source string) (string, error) {
	return s.editAt(index, func(txn *notebook.Txn, id string) error {
		return txn.SetSource(id, source)
	})
}

// InsertText inserts text at a character offset in the cell at index.
func (s *Session) InsertText(index, offset int, text string) (string, error) {
	return s.editAt(index, func(txn *notebook.Txn, id string) error {
		return txn.InsertText(id, offset, text)
	})
}

// DeleteText removes length characters at offset in the cell at index.
func (s *Session) DeleteText(index, offset, length int) (string, error) {
	return s.editAt(index, func(txn *notebook.Txn, id string) error {
		return txn.DeleteText(id, offset, length)
	})
}

// ReplaceText replaces length characters at offset in the cell at
// index with text.
func (s *Session) ReplaceText(index, offset, length int, text string) (string, error) {
	return s.editAt(index, func(txn *notebook.Txn, id string) error {
		return txn.ReplaceText(id, offset, length, text)
	})
}

// ClearOutputs removes outputs and execution counts from every code
// cell in [start, end) in one transaction.
func (s *Session) ClearOutputs(start, end int) error {
	return s.transact(func(txn *notebook.Txn) error {
		ids, err := txn.IDsIn(start, end)
		if err != nil {
			return err
		}
		for _, id := range ids {
			cell, err := txn.Cell(id)
			if err != nil {
				return err
			}
			if cell.Type != notebook.Code || (len(cell.Outputs) == 0 && cell.ExecutionCount == nil) {
				continue
			}
			if err := txn.SetOutputs(id, nil); err != nil {
				return err
			}
			if err := txn.SetExecutionCount(id, nil); err != nil {
				return err
			}
		}
		return nil
	})
}

// editAt resolves index to an id and applies edit in the same
// transaction.
func (s *Session) editAt(index int, edit func(*notebook.Txn, string) error) (string, error) {
	var id string
	err := s.transact(func(txn *notebook.Txn) error {
		var err error
		if id, err = txn.IDAt(index); err != nil {
			return err
		}
		return edit(txn, id)
	})
	return id, err
}
