// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bureau-foundation/scribe/collab"
	"github.com/bureau-foundation/scribe/jupyter"
	"github.com/bureau-foundation/scribe/lib/backoff"
	"github.com/bureau-foundation/scribe/lib/clock"
	"github.com/bureau-foundation/scribe/lib/testutil"
	"github.com/bureau-foundation/scribe/notebook"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

var testRoom = jupyter.Room{Format: "json", Type: "notebook", FileID: "file-1", SessionID: "s-1"}

// fakeLink is a room link driven entirely by the test goroutine.
type fakeLink struct {
	document *notebook.Document
	events   collab.Events
	closes   atomic.Int32
}

func (l *fakeLink) Close() error {
	l.closes.Add(1)
	return nil
}

func (l *fakeLink) establish() { l.events.OnEstablished() }

func (l *fakeLink) sync(cells ...notebook.Cell) {
	l.document.Load(cells)
	l.events.OnSynced()
}

func (l *fakeLink) fail(err error) { l.events.OnClosed(err) }

// fakeOpener records every link it opens. Open never fires events.
type fakeOpener struct {
	mu     sync.Mutex
	links  []*fakeLink
	opened chan *fakeLink
}

func newFakeOpener() *fakeOpener {
	return &fakeOpener{opened: make(chan *fakeLink, 64)}
}

func (o *fakeOpener) Open(room jupyter.Room, document *notebook.Document, events collab.Events) collab.Link {
	link := &fakeLink{document: document, events: events}
	o.mu.Lock()
	o.links = append(o.links, link)
	o.mu.Unlock()
	o.opened <- link
	return link
}

func (o *fakeOpener) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.links)
}

func (o *fakeOpener) next(t *testing.T) *fakeLink {
	t.Helper()
	return testutil.RequireReceive(t, o.opened, 5*time.Second, "waiting for a room link to open")
}

// fakeConn is a kernel connection that answers every execution with an
// ok reply.
type fakeConn struct {
	done   chan struct{}
	closed atomic.Bool
}

func (c *fakeConn) Execute(ctx context.Context, code string, handle func(jupyter.Message)) (jupyter.ExecuteReply, error) {
	return jupyter.ExecuteReply{Status: "ok", ExecutionCount: 1}, nil
}

func (c *fakeConn) Done() <-chan struct{} { return c.done }

func (c *fakeConn) Close() error {
	if c.closed.CompareAndSwap(false, true) {
		close(c.done)
	}
	return nil
}

// fakeKernels records kernel manager calls.
type fakeKernels struct {
	mu       sync.Mutex
	calls    []string
	kernel   jupyter.Kernel
	conns    []*fakeConn
	restarts int
}

func newFakeKernels() *fakeKernels {
	return &fakeKernels{kernel: jupyter.Kernel{ID: "kernel-1", Name: "python3"}}
}

func (k *fakeKernels) record(call string) {
	k.mu.Lock()
	k.calls = append(k.calls, call)
	k.mu.Unlock()
}

func (k *fakeKernels) EnsureKernel(ctx context.Context, notebookPath, kernelName string) (jupyter.Kernel, error) {
	k.record("ensure " + kernelName)
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.kernel, nil
}

func (k *fakeKernels) SwitchKernel(ctx context.Context, notebookPath, kernelName string) (jupyter.Kernel, error) {
	k.record("switch " + kernelName)
	k.mu.Lock()
	defer k.mu.Unlock()
	k.kernel = jupyter.Kernel{ID: "kernel-" + kernelName, Name: kernelName}
	return k.kernel, nil
}

func (k *fakeKernels) RestartKernel(ctx context.Context, kernelID string) (jupyter.Kernel, error) {
	k.record("restart " + kernelID)
	k.mu.Lock()
	defer k.mu.Unlock()
	k.restarts++
	return k.kernel, nil
}

func (k *fakeKernels) InterruptKernel(ctx context.Context, kernelID string) error {
	k.record("interrupt " + kernelID)
	return nil
}

func (k *fakeKernels) DialKernel(ctx context.Context, kernelID string) (KernelConn, error) {
	k.record("dial " + kernelID)
	conn := &fakeConn{done: make(chan struct{})}
	k.mu.Lock()
	k.conns = append(k.conns, conn)
	k.mu.Unlock()
	return conn, nil
}

func (k *fakeKernels) callLog() []string {
	k.mu.Lock()
	defer k.mu.Unlock()
	return append([]string(nil), k.calls...)
}

// fakeServer combines the fakes behind the Server interface.
type fakeServer struct {
	*fakeOpener
	*fakeKernels
	requests atomic.Int32
}

func (s *fakeServer) RequestSession(ctx context.Context, path string) (jupyter.Room, error) {
	s.requests.Add(1)
	return jupyter.Room{Format: "json", Type: "notebook", FileID: "file-" + path, SessionID: "s"}, nil
}

var testPolicy = backoff.Policy{Base: time.Second, Max: 4 * time.Second, MaxAttempts: 3}

type sessionHarness struct {
	session *Session
	opener  *fakeOpener
	kernels *fakeKernels
	clock   *clock.FakeClock
}

func newHarness(t *testing.T, modify func(*Config)) *sessionHarness {
	t.Helper()
	harness := &sessionHarness{
		opener:  newFakeOpener(),
		kernels: newFakeKernels(),
		clock:   clock.Fake(epoch),
	}
	config := Config{
		Path:        "work/analysis.ipynb",
		Room:        testRoom,
		Opener:      harness.opener,
		Kernels:     harness.kernels,
		Backoff:     testPolicy,
		SyncTimeout: 30 * time.Second,
		Clock:       harness.clock,
	}
	if modify != nil {
		modify(&config)
	}
	s, err := New(config)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(s.Close)
	harness.session = s
	return harness
}

// connect drives a Connect call through establish and sync and returns
// the link that carried it.
func (h *sessionHarness) connect(t *testing.T, cells ...notebook.Cell) *fakeLink {
	t.Helper()
	errs := make(chan error, 1)
	go func() { errs <- h.session.Connect(context.Background()) }()
	link := h.opener.next(t)
	link.establish()
	link.sync(cells...)
	if err := testutil.RequireReceive(t, errs, 5*time.Second, "waiting for Connect"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	return link
}
