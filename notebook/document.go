// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package notebook

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/zeebo/blake3"
)

// digestKey separates document digests from other BLAKE3 uses.
var digestKey = [32]byte{
	's', 'c', 'r', 'i', 'b', 'e', '.', 'n', 'o', 't', 'e', 'b', 'o', 'o', 'k', '.',
	'd', 'i', 'g', 'e', 's', 't',
}

// Document is a replica of one notebook. Safe for concurrent use.
type Document struct {
	// commitMu serializes commits so observers see updates in the
	// order they were applied.
	commitMu sync.Mutex

	mu      sync.RWMutex
	cells   []Cell
	version uint64

	// detached and unsent are guarded by commitMu.
	detached bool
	unsent   []Op

	observersMu  sync.Mutex
	observers    map[int]func(Update)
	nextObserver int
}

// New returns an empty document.
func New() *Document {
	return &Document{observers: make(map[int]func(Update))}
}

// Observe registers fn to receive every committed update. fn runs
// synchronously after the commit, outside the document lock, and must
// not start another transaction on the same document. The returned
// function removes the observer.
func (d *Document) Observe(fn func(Update)) (cancel func()) {
	d.observersMu.Lock()
	id := d.nextObserver
	d.nextObserver++
	d.observers[id] = fn
	d.observersMu.Unlock()
	return func() {
		d.observersMu.Lock()
		delete(d.observers, id)
		d.observersMu.Unlock()
	}
}

func (d *Document) publish(update Update) {
	d.observersMu.Lock()
	observers := make([]func(Update), 0, len(d.observers))
	for _, fn := range d.observers {
		observers = append(observers, fn)
	}
	d.observersMu.Unlock()
	for _, fn := range observers {
		fn(update)
	}
}

// Detach marks the document as cut off from the server. Local
// transactions committed from now until the next Load are published
// as OriginOffline and kept for Load to reapply.
func (d *Document) Detach() {
	d.commitMu.Lock()
	d.detached = true
	d.commitMu.Unlock()
}

// Detached reports whether local changes are being held for the next
// Load.
func (d *Document) Detached() bool {
	d.commitMu.Lock()
	defer d.commitMu.Unlock()
	return d.detached
}

// Load replaces the whole document with cells and reattaches it. Local
// changes held since Detach are reapplied on top of the new cells one
// op at a time: insert positions are clamped to the new length, and an
// op whose cell no longer exists (or whose cell already exists, for an
// insert) is dropped. The reapplied ops are published as one
// OriginLocal update after the snapshot. Load returns the number of
// dropped ops.
func (d *Document) Load(cells []Cell) int {
	d.commitMu.Lock()
	defer d.commitMu.Unlock()

	working := cloneCells(cells)
	var replayed []Op
	dropped := 0
	for _, op := range d.unsent {
		if op.Kind == OpInsertCell && op.Index > len(working) {
			op.Index = len(working)
		}
		next, err := applyOp(working, op)
		if err != nil {
			dropped++
			continue
		}
		working = next
		replayed = append(replayed, op)
	}
	d.unsent = nil
	d.detached = false

	d.mu.Lock()
	d.cells = working
	d.version++
	d.mu.Unlock()
	d.publish(Update{Origin: OriginSnapshot})
	if len(replayed) > 0 {
		d.publish(Update{Origin: OriginLocal, Ops: replayed})
	}
	return dropped
}

// Transact runs fn against a working copy of the cells. If fn returns
// nil and made changes, the copy becomes the document and the ops are
// published as one local Update (OriginOffline while detached). If fn
// returns an error nothing changes.
func (d *Document) Transact(fn func(*Txn) error) error {
	d.commitMu.Lock()
	defer d.commitMu.Unlock()

	d.mu.RLock()
	txn := &Txn{cells: cloneCells(d.cells)}
	d.mu.RUnlock()

	if err := fn(txn); err != nil {
		return err
	}
	if len(txn.ops) == 0 {
		return nil
	}

	d.mu.Lock()
	d.cells = txn.cells
	d.version++
	d.mu.Unlock()
	origin := OriginLocal
	if d.detached {
		origin = OriginOffline
		for _, op := range txn.ops {
			d.unsent = append(d.unsent, cloneOp(op))
		}
	}
	d.publish(Update{Origin: origin, Ops: txn.ops})
	return nil
}

// ApplyUpdate applies ops received from another replica. The update is
// atomic: if any op fails the document is unchanged.
func (d *Document) ApplyUpdate(ops []Op) error {
	if len(ops) == 0 {
		return nil
	}
	d.commitMu.Lock()
	defer d.commitMu.Unlock()

	d.mu.RLock()
	working := cloneCells(d.cells)
	d.mu.RUnlock()

	var err error
	for _, op := range ops {
		if working, err = applyOp(working, op); err != nil {
			return fmt.Errorf("applying remote %s: %w", op.Kind, err)
		}
	}

	d.mu.Lock()
	d.cells = working
	d.version++
	d.mu.Unlock()
	d.publish(Update{Origin: OriginRemote, Ops: ops})
	return nil
}

// Cells returns a copy of every cell in order.
func (d *Document) Cells() []Cell {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return cloneCells(d.cells)
}

// Len returns the number of cells.
func (d *Document) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.cells)
}

// Cell returns a copy of the cell with the given id.
func (d *Document) Cell(id string) (Cell, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	index, err := findCell(d.cells, id)
	if err != nil {
		return Cell{}, err
	}
	return d.cells[index].Clone(), nil
}

// Version counts committed changes, including loads.
func (d *Document) Version() uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.version
}

// Digest returns a hex BLAKE3 hash of the notebook content: ids, types,
// sources, metadata, outputs, and execution counts. Execution state is
// excluded, so a cell starting to run does not change the digest.
func (d *Document) Digest() string {
	d.mu.RLock()
	content := make([]Cell, len(d.cells))
	for i, cell := range d.cells {
		content[i] = cell
		content[i].ExecutionState = ""
	}
	encoded, err := json.Marshal(content)
	d.mu.RUnlock()
	if err != nil {
		panic("notebook: encoding cells for digest: " + err.Error())
	}

	hasher, err := blake3.NewKeyed(digestKey[:])
	if err != nil {
		panic("notebook: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(encoded)
	return hex.EncodeToString(hasher.Sum(nil))
}

// cloneOp copies the cell and outputs an op carries so the journal does
// not share them with observers.
func cloneOp(op Op) Op {
	if op.Cell != nil {
		cell := op.Cell.Clone()
		op.Cell = &cell
	}
	if op.Output != nil {
		output := op.Output.Clone()
		op.Output = &output
	}
	if op.Outputs != nil {
		outputs := make([]Output, len(op.Outputs))
		for i, output := range op.Outputs {
			outputs[i] = output.Clone()
		}
		op.Outputs = outputs
	}
	if op.Count != nil {
		count := *op.Count
		op.Count = &count
	}
	return op
}

func cloneCells(cells []Cell) []Cell {
	clone := make([]Cell, len(cells))
	for i, cell := range cells {
		clone[i] = cell.Clone()
	}
	return clone
}
