// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/bureau-foundation/scribe/lib/testutil"
	"github.com/bureau-foundation/scribe/lib/watchdog"
	"github.com/bureau-foundation/scribe/notebook"
)

func codeCellWithOutput(source string) notebook.Cell {
	cell := notebook.NewCell(notebook.Code, source)
	count := 3
	cell.ExecutionCount = &count
	cell.Outputs = []notebook.Output{{OutputType: notebook.OutputStream, Name: "stdout", Text: "old\n"}}
	return cell
}

func TestMutationBeforeSync(t *testing.T) {
	h := newHarness(t, nil)

	if _, err := h.session.InsertCell(0, notebook.Code, "x"); !errors.Is(err, ErrNotSynchronized) {
		t.Fatalf("InsertCell error = %v, want ErrNotSynchronized", err)
	}
	if _, err := h.session.SetCellSource(0, "x"); !errors.Is(err, ErrNotSynchronized) {
		t.Fatalf("SetCellSource error = %v, want ErrNotSynchronized", err)
	}
	if _, err := h.session.CellTarget(0); !errors.Is(err, ErrNotSynchronized) {
		t.Fatalf("CellTarget error = %v, want ErrNotSynchronized", err)
	}
}

func TestCellMutations(t *testing.T) {
	h := newHarness(t, nil)
	first := notebook.NewCell(notebook.Markdown, "# Title")
	second := notebook.NewCell(notebook.Code, "print('hi')")
	h.connect(t, first, second)
	s := h.session

	inserted, err := s.InsertCell(1, notebook.Code, "x = 1")
	if err != nil {
		t.Fatalf("InsertCell: %v", err)
	}
	ids, _ := s.ResolveIDs(0, s.Len())
	if want := []string{first.ID, inserted.ID, second.ID}; !slices.Equal(ids, want) {
		t.Fatalf("ids = %v, want %v", ids, want)
	}

	id, err := s.SetCellSource(1, "x = 2")
	if err != nil || id != inserted.ID {
		t.Fatalf("SetCellSource = %q, %v; want %q", id, err, inserted.ID)
	}
	if _, err := s.InsertText(1, 5, "0"); err != nil {
		t.Fatalf("InsertText: %v", err)
	}
	if _, err := s.ReplaceText(1, 0, 1, "y"); err != nil {
		t.Fatalf("ReplaceText: %v", err)
	}
	if _, err := s.DeleteText(1, 1, 1); err != nil {
		t.Fatalf("DeleteText: %v", err)
	}
	cell, _ := s.Cell(inserted.ID)
	if cell.Source != "y= 20" {
		t.Fatalf("source = %q, want %q", cell.Source, "y= 20")
	}

	deleted, err := s.DeleteCells(0, 2)
	if err != nil {
		t.Fatalf("DeleteCells: %v", err)
	}
	if !slices.Equal(deleted, []string{first.ID, inserted.ID}) {
		t.Fatalf("deleted = %v", deleted)
	}
	if s.Len() != 1 {
		t.Fatalf("Len = %d, want 1", s.Len())
	}

	if _, err := s.SetCellSource(5, "nope"); !errors.Is(err, notebook.ErrIndexOutOfRange) {
		t.Fatalf("SetCellSource out of range = %v, want ErrIndexOutOfRange", err)
	}
	if _, err := s.DeleteCells(0, 9); !errors.Is(err, notebook.ErrIndexOutOfRange) {
		t.Fatalf("DeleteCells out of range = %v, want ErrIndexOutOfRange", err)
	}
	if s.Len() != 1 {
		t.Fatal("failed DeleteCells changed the document")
	}
}

func TestClearOutputs(t *testing.T) {
	h := newHarness(t, nil)
	code := codeCellWithOutput("print('old')")
	markdown := notebook.NewCell(notebook.Markdown, "text")
	h.connect(t, code, markdown)

	if err := h.session.ClearOutputs(0, h.session.Len()); err != nil {
		t.Fatalf("ClearOutputs: %v", err)
	}
	cell, _ := h.session.Cell(code.ID)
	if len(cell.Outputs) != 0 || cell.ExecutionCount != nil {
		t.Fatalf("cell after clear = %+v", cell)
	}
	if cell.Source != "print('old')" {
		t.Fatalf("ClearOutputs changed source to %q", cell.Source)
	}
}

func TestKernelBindingLazyResolveAndRedial(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.KernelName = "python3" })
	h.connect(t)

	binding, err := h.session.Kernel()
	if err != nil {
		t.Fatalf("Kernel: %v", err)
	}
	if _, ok := binding.Bound(); ok {
		t.Fatal("kernel bound before first use")
	}
	if err := binding.Interrupt(context.Background()); err != nil {
		t.Fatalf("Interrupt with no kernel: %v", err)
	}

	if _, err := binding.Execute(context.Background(), "1", nil); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if _, err := binding.Execute(context.Background(), "2", nil); err != nil {
		t.Fatalf("second Execute: %v", err)
	}
	if calls := h.kernels.callLog(); !slices.Equal(calls, []string{"ensure python3", "dial kernel-1"}) {
		t.Fatalf("calls = %v", calls)
	}

	// A dropped connection is redialed on next use.
	h.kernels.conns[0].Close()
	if _, err := binding.Execute(context.Background(), "3", nil); err != nil {
		t.Fatalf("Execute after drop: %v", err)
	}
	if len(h.kernels.conns) != 2 {
		t.Fatalf("connections dialed = %d, want 2", len(h.kernels.conns))
	}

	if err := binding.Interrupt(context.Background()); err != nil {
		t.Fatalf("Interrupt: %v", err)
	}
	h.session.Close()
	if _, err := binding.Execute(context.Background(), "4", nil); !errors.Is(err, ErrClosed) {
		t.Fatalf("Execute after Close = %v, want ErrClosed", err)
	}
	if !h.kernels.conns[1].closed.Load() {
		t.Fatal("Close did not drop the kernel connection")
	}
}

func TestDocumentOnlySessionHasNoKernel(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.Kernels = nil })
	if _, err := h.session.Kernel(); !errors.Is(err, ErrNoKernel) {
		t.Fatalf("Kernel error = %v, want ErrNoKernel", err)
	}
}

func restartAsync(h *sessionHarness, name string, clear bool) <-chan error {
	errs := make(chan error, 1)
	go func() {
		_, err := h.session.RestartKernel(context.Background(), name, clear)
		errs <- err
	}()
	return errs
}

func TestRestartKernelInPlace(t *testing.T) {
	h := newHarness(t, nil)
	cell := codeCellWithOutput("x")
	first := h.connect(t, cell)

	errs := restartAsync(h, "", true)
	link := h.opener.next(t)
	link.establish()
	link.sync(cell)
	if err := testutil.RequireReceive(t, errs, 5*time.Second, "RestartKernel"); err != nil {
		t.Fatalf("RestartKernel: %v", err)
	}

	if calls := h.kernels.callLog(); !slices.Equal(calls, []string{"ensure python3", "restart kernel-1"}) {
		t.Fatalf("calls = %v", calls)
	}
	if first.closes.Load() != 1 {
		t.Fatal("restart did not replace the room link")
	}
	got, _ := h.session.Cell(cell.ID)
	if len(got.Outputs) != 0 || got.ExecutionCount != nil {
		t.Fatalf("outputs not cleared: %+v", got)
	}
}

func TestRestartKernelSwitchesType(t *testing.T) {
	h := newHarness(t, nil)
	h.connect(t)

	errs := restartAsync(h, "julia", false)
	link := h.opener.next(t)
	link.establish()
	link.sync()
	if err := testutil.RequireReceive(t, errs, 5*time.Second, "RestartKernel"); err != nil {
		t.Fatalf("RestartKernel: %v", err)
	}
	binding, _ := h.session.Kernel()
	kernel, ok := binding.Bound()
	if !ok || kernel.Name != "julia" {
		t.Fatalf("bound kernel = %+v, %v; want julia", kernel, ok)
	}
	if calls := h.kernels.callLog(); !slices.Contains(calls, "switch julia") {
		t.Fatalf("calls = %v, want a switch", calls)
	}
}

func TestCellTargetLifecycle(t *testing.T) {
	store, err := watchdog.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	h := newHarness(t, func(c *Config) { c.Watchdog = store })
	cell := codeCellWithOutput("print(1)")
	h.connect(t, cell)

	target, err := h.session.CellTarget(0)
	if err != nil {
		t.Fatalf("CellTarget: %v", err)
	}
	if target.ID() != cell.ID || target.Source() != "print(1)" || target.Type() != notebook.Code {
		t.Fatalf("target = %s %q %s", target.ID(), target.Source(), target.Type())
	}

	if err := target.Begin(); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	running, _ := h.session.Cell(cell.ID)
	if running.ExecutionState != notebook.Running || len(running.Outputs) != 0 || running.ExecutionCount != nil {
		t.Fatalf("cell after Begin = %+v", running)
	}
	marker, found, err := store.Read(h.session.Path())
	if err != nil || !found || marker.CellID != cell.ID || !marker.Started.Equal(epoch) {
		t.Fatalf("marker = %+v, found=%v, err=%v", marker, found, err)
	}

	// Outputs track the cell by id even when a collaborator inserts
	// a cell above it mid-run.
	if _, err := h.session.InsertCell(0, notebook.Markdown, "note"); err != nil {
		t.Fatalf("InsertCell: %v", err)
	}
	if err := target.SetExecutionCount(1); err != nil {
		t.Fatalf("SetExecutionCount: %v", err)
	}
	if err := target.Append(notebook.Output{OutputType: notebook.OutputStream, Name: "stdout", Text: "1"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := target.Replace(0, notebook.Output{OutputType: notebook.OutputStream, Name: "stdout", Text: "1\n"}); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	if err := target.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	done, _ := h.session.Cell(cell.ID)
	if done.ExecutionState != notebook.Idle {
		t.Fatalf("state after Finish = %s, want idle", done.ExecutionState)
	}
	if done.ExecutionCount == nil || *done.ExecutionCount != 1 {
		t.Fatalf("execution count = %v, want 1", done.ExecutionCount)
	}
	if len(done.Outputs) != 1 || done.Outputs[0].Text != "1\n" {
		t.Fatalf("outputs = %+v", done.Outputs)
	}
	if _, found, _ := store.Read(h.session.Path()); found {
		t.Fatal("marker not cleared by Finish")
	}
}

func TestRecoverInterruptedExecution(t *testing.T) {
	store, err := watchdog.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	h := newHarness(t, func(c *Config) { c.Watchdog = store })

	stuck := notebook.NewCell(notebook.Code, "while True: pass")
	stuck.ExecutionState = notebook.Running
	h.connect(t, stuck)

	if err := store.Write(watchdog.Marker{Path: h.session.Path(), CellID: stuck.ID, KernelID: "kernel-1", Started: epoch}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	recovered, err := h.session.RecoverInterruptedExecution()
	if err != nil || !recovered {
		t.Fatalf("RecoverInterruptedExecution = %v, %v; want true, nil", recovered, err)
	}
	cell, _ := h.session.Cell(stuck.ID)
	if cell.ExecutionState != notebook.Idle {
		t.Fatalf("state = %s, want idle", cell.ExecutionState)
	}
	if _, found, _ := store.Read(h.session.Path()); found {
		t.Fatal("marker not cleared")
	}

	recovered, err = h.session.RecoverInterruptedExecution()
	if err != nil || recovered {
		t.Fatalf("second recovery = %v, %v; want false, nil", recovered, err)
	}
}

var _ KernelManager = (*fakeKernels)(nil)
var _ Server = (*fakeServer)(nil)
