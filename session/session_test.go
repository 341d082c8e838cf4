// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/scribe/lib/testutil"
	"github.com/bureau-foundation/scribe/notebook"
)

var errLinkDropped = errors.New("link dropped")

func TestConnectLifecycle(t *testing.T) {
	h := newHarness(t, nil)
	s := h.session

	if s.State() != Disconnected {
		t.Fatalf("initial state = %s, want disconnected", s.State())
	}

	errs := make(chan error, 1)
	go func() { errs <- s.Connect(context.Background()) }()
	link := h.opener.next(t)
	if s.State() != Connecting {
		t.Fatalf("state after open = %s, want connecting", s.State())
	}

	link.establish()
	if s.State() != ConnectedUnsynced {
		t.Fatalf("state after establish = %s, want connected", s.State())
	}
	if !s.Connected() || s.Synced() {
		t.Fatalf("established: connected=%v synced=%v, want true/false", s.Connected(), s.Synced())
	}
	select {
	case err := <-errs:
		t.Fatalf("Connect returned before sync: %v", err)
	default:
	}

	link.sync(notebook.NewCell(notebook.Code, "x = 1"))
	if err := testutil.RequireReceive(t, errs, 5*time.Second, "Connect"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if !s.Synced() || !s.Connected() {
		t.Fatalf("synced: connected=%v synced=%v, want true/true", s.Connected(), s.Synced())
	}
	if s.Len() != 1 {
		t.Fatalf("Len = %d, want 1", s.Len())
	}

	// Already synced: no new link.
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("second Connect: %v", err)
	}
	if h.opener.count() != 1 {
		t.Fatalf("links opened = %d, want 1", h.opener.count())
	}
	if h.clock.PendingCount() != 0 {
		t.Fatalf("pending timers = %d, want 0", h.clock.PendingCount())
	}
}

func TestSyncedImpliesConnected(t *testing.T) {
	h := newHarness(t, nil)
	s := h.session

	errs := make(chan error, 1)
	go func() { errs <- s.Connect(context.Background()) }()
	link := h.opener.next(t)

	// A link that reports synced without a separate established event
	// still passes through the connected state.
	link.sync()
	if err := testutil.RequireReceive(t, errs, 5*time.Second, "Connect"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	state := s.State()
	if state != Synced || !state.Connected() {
		t.Fatalf("state = %s, want synced and connected", state)
	}
}

func TestConcurrentConnectOpensOneLink(t *testing.T) {
	h := newHarness(t, nil)
	const callers = 8

	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- h.session.Connect(context.Background())
		}()
	}

	link := h.opener.next(t)
	link.establish()
	link.sync()
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Errorf("Connect: %v", err)
		}
	}
	if h.opener.count() != 1 {
		t.Fatalf("links opened = %d, want 1", h.opener.count())
	}
}

func TestConnectFailsWhenLinkClosesBeforeSync(t *testing.T) {
	h := newHarness(t, nil)

	errs := make(chan error, 1)
	go func() { errs <- h.session.Connect(context.Background()) }()
	link := h.opener.next(t)
	link.fail(errLinkDropped)

	err := testutil.RequireReceive(t, errs, 5*time.Second, "Connect")
	if !errors.Is(err, errLinkDropped) {
		t.Fatalf("Connect error = %v, want %v", err, errLinkDropped)
	}
	if h.session.State() != Disconnected {
		t.Fatalf("state = %s, want disconnected", h.session.State())
	}
	if h.clock.PendingCount() != 0 {
		t.Fatalf("pending timers = %d, want 0 (no reconnect for a failed Connect)", h.clock.PendingCount())
	}
}

func TestConnectSyncTimeout(t *testing.T) {
	h := newHarness(t, nil)

	errs := make(chan error, 1)
	go func() { errs <- h.session.Connect(context.Background()) }()
	link := h.opener.next(t)
	link.establish()

	h.clock.WaitForTimers(1)
	h.clock.Advance(30 * time.Second)
	err := testutil.RequireReceive(t, errs, 5*time.Second, "Connect")
	if !errors.Is(err, ErrSyncTimeout) {
		t.Fatalf("Connect error = %v, want ErrSyncTimeout", err)
	}

	// The timeout fails the call, not the session: a late sync still
	// lands.
	link.sync()
	if !h.session.Synced() {
		t.Fatalf("state after late sync = %s, want synced", h.session.State())
	}
}

func TestDisconnectFailsPendingConnect(t *testing.T) {
	h := newHarness(t, nil)

	errs := make(chan error, 1)
	go func() { errs <- h.session.Connect(context.Background()) }()
	link := h.opener.next(t)

	h.session.Disconnect()
	err := testutil.RequireReceive(t, errs, 5*time.Second, "Connect")
	if !errors.Is(err, ErrDisconnected) {
		t.Fatalf("Connect error = %v, want ErrDisconnected", err)
	}
	if link.closes.Load() != 1 {
		t.Fatalf("link closed %d times, want 1", link.closes.Load())
	}

	// Events from the dropped link are ignored.
	link.establish()
	link.sync()
	if h.session.State() != Disconnected {
		t.Fatalf("state after stale events = %s, want disconnected", h.session.State())
	}

	// Disconnect is idempotent.
	h.session.Disconnect()
}

func TestReconnectAfterLinkLoss(t *testing.T) {
	h := newHarness(t, nil)
	first := h.connect(t)

	first.fail(errLinkDropped)
	if h.session.State() != Reconnecting {
		t.Fatalf("state = %s, want reconnecting", h.session.State())
	}
	if h.session.ReconnectAttempts() != 1 {
		t.Fatalf("attempts = %d, want 1", h.session.ReconnectAttempts())
	}

	h.clock.Advance(time.Second)
	second := h.opener.next(t)
	second.establish()
	if h.session.ReconnectAttempts() != 0 {
		t.Fatalf("attempts after establish = %d, want 0", h.session.ReconnectAttempts())
	}
	second.sync()
	if !h.session.Synced() {
		t.Fatalf("state = %s, want synced", h.session.State())
	}
	if first.closes.Load() != 1 {
		t.Fatalf("old link closed %d times, want 1", first.closes.Load())
	}
}

func TestBackoffResetsOnEstablish(t *testing.T) {
	h := newHarness(t, nil)
	link := h.connect(t)

	// Two failed attempts before one establishes.
	link.fail(errLinkDropped)
	h.clock.Advance(time.Second)
	link = h.opener.next(t)
	link.fail(errLinkDropped)
	if h.session.ReconnectAttempts() != 2 {
		t.Fatalf("attempts = %d, want 2", h.session.ReconnectAttempts())
	}

	// The second delay is doubled: one second is not enough.
	h.clock.Advance(time.Second)
	if h.opener.count() != 2 {
		t.Fatalf("links opened after 1s = %d, want 2", h.opener.count())
	}
	h.clock.Advance(time.Second)
	link = h.opener.next(t)
	link.establish()
	if h.session.ReconnectAttempts() != 0 {
		t.Fatalf("attempts after establish = %d, want 0", h.session.ReconnectAttempts())
	}

	// After the reset the next loss starts from the base delay again.
	link.sync()
	link.fail(errLinkDropped)
	h.clock.Advance(time.Second)
	h.opener.next(t)
}

func TestReconnectExhaustion(t *testing.T) {
	h := newHarness(t, nil)
	link := h.connect(t)

	for attempt := 1; attempt <= testPolicy.MaxAttempts; attempt++ {
		link.fail(errLinkDropped)
		if h.session.State() != Reconnecting {
			t.Fatalf("attempt %d: state = %s, want reconnecting", attempt, h.session.State())
		}
		h.clock.Advance(testPolicy.Delay(attempt))
		link = h.opener.next(t)
	}
	link.fail(errLinkDropped)

	if h.session.State() != Disconnected {
		t.Fatalf("state = %s, want disconnected", h.session.State())
	}
	if pending := h.clock.PendingCount(); pending != 0 {
		t.Fatalf("pending timers = %d, want 0", pending)
	}
	opened := h.opener.count()
	h.clock.Advance(time.Hour)
	if h.opener.count() != opened {
		t.Fatalf("links opened after exhaustion = %d, want %d", h.opener.count(), opened)
	}

	// The document keeps its last synchronized content and stays
	// editable locally.
	if _, err := h.session.InsertCell(0, notebook.Markdown, "# offline"); err != nil {
		t.Fatalf("InsertCell after exhaustion: %v", err)
	}
}

func TestNoReconnectAfterClose(t *testing.T) {
	h := newHarness(t, nil)
	link := h.connect(t)

	link.fail(errLinkDropped)
	if h.clock.PendingCount() != 1 {
		t.Fatalf("pending timers = %d, want 1", h.clock.PendingCount())
	}
	h.session.Close()
	if h.clock.PendingCount() != 0 {
		t.Fatalf("pending timers after Close = %d, want 0", h.clock.PendingCount())
	}

	h.clock.Advance(time.Hour)
	if h.opener.count() != 1 {
		t.Fatalf("links opened = %d, want 1", h.opener.count())
	}

	link.sync()
	if h.session.State() != Closed {
		t.Fatalf("state = %s, want closed", h.session.State())
	}
	if err := h.session.Connect(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("Connect after Close = %v, want ErrClosed", err)
	}
	if _, err := h.session.InsertCell(0, notebook.Code, ""); !errors.Is(err, ErrClosed) {
		t.Fatalf("InsertCell after Close = %v, want ErrClosed", err)
	}
}

func TestEnsureSynchronized(t *testing.T) {
	t.Run("synced", func(t *testing.T) {
		h := newHarness(t, nil)
		h.connect(t)
		if err := h.session.EnsureSynchronized(context.Background()); err != nil {
			t.Fatalf("EnsureSynchronized: %v", err)
		}
	})

	t.Run("waits for in-flight sync", func(t *testing.T) {
		h := newHarness(t, nil)
		link := h.connect(t)
		link.fail(errLinkDropped)
		h.clock.Advance(time.Second)
		link = h.opener.next(t)
		link.establish()

		errs := make(chan error, 1)
		go func() { errs <- h.session.EnsureSynchronized(context.Background()) }()
		h.clock.WaitForTimers(1)
		link.sync()
		if err := testutil.RequireReceive(t, errs, 5*time.Second, "EnsureSynchronized"); err != nil {
			t.Fatalf("EnsureSynchronized: %v", err)
		}
	})

	t.Run("timeout", func(t *testing.T) {
		h := newHarness(t, nil)
		link := h.connect(t)
		link.fail(errLinkDropped)
		h.clock.Advance(time.Second)
		h.opener.next(t).establish()

		errs := make(chan error, 1)
		go func() { errs <- h.session.EnsureSynchronized(context.Background()) }()
		h.clock.WaitForTimers(1)
		h.clock.Advance(30 * time.Second)
		err := testutil.RequireReceive(t, errs, 5*time.Second, "EnsureSynchronized")
		if !errors.Is(err, ErrSyncTimeout) {
			t.Fatalf("error = %v, want ErrSyncTimeout", err)
		}
		if h.session.State() != ConnectedUnsynced {
			t.Fatalf("state = %s, want connected", h.session.State())
		}
	})

	t.Run("reconnects when disconnected", func(t *testing.T) {
		h := newHarness(t, nil)
		h.connect(t)
		h.session.Disconnect()

		errs := make(chan error, 1)
		go func() { errs <- h.session.EnsureSynchronized(context.Background()) }()
		link := h.opener.next(t)
		link.establish()
		link.sync()
		if err := testutil.RequireReceive(t, errs, 5*time.Second, "EnsureSynchronized"); err != nil {
			t.Fatalf("EnsureSynchronized: %v", err)
		}
		if h.opener.count() != 2 {
			t.Fatalf("links opened = %d, want 2", h.opener.count())
		}
	})

	t.Run("closed", func(t *testing.T) {
		h := newHarness(t, nil)
		h.session.Close()
		if err := h.session.EnsureSynchronized(context.Background()); !errors.Is(err, ErrClosed) {
			t.Fatalf("error = %v, want ErrClosed", err)
		}
	})
}

func TestNewValidation(t *testing.T) {
	if _, err := New(Config{Room: testRoom}); err == nil {
		t.Error("New without Opener succeeded")
	}
	if _, err := New(Config{Opener: newFakeOpener()}); err == nil {
		t.Error("New with an empty room succeeded")
	}
}

func TestChangesDuringReconnectSurviveResync(t *testing.T) {
	h := newHarness(t, nil)
	server := notebook.NewCell(notebook.Code, "a = 1")
	first := h.connect(t, server)

	first.fail(errLinkDropped)
	inserted, err := h.session.InsertCell(1, notebook.Code, "b = 2")
	if err != nil {
		t.Fatalf("InsertCell while reconnecting: %v", err)
	}

	var origins []notebook.Origin
	cancel := h.session.Observe(func(update notebook.Update) { origins = append(origins, update.Origin) })
	defer cancel()

	h.clock.Advance(time.Second)
	second := h.opener.next(t)
	second.establish()
	remote := notebook.NewCell(notebook.Markdown, "# from a collaborator")
	second.sync(server, remote)

	if _, err := h.session.Cell(inserted.ID); err != nil {
		t.Fatalf("inserted cell lost after resync: %v", err)
	}
	ids, _ := h.session.ResolveIDs(0, h.session.Len())
	if want := []string{server.ID, inserted.ID, remote.ID}; !slices.Equal(ids, want) {
		t.Fatalf("ids = %v, want %v", ids, want)
	}
	// The held insert goes out as a local change on the new link.
	if want := []notebook.Origin{notebook.OriginSnapshot, notebook.OriginLocal}; !slices.Equal(origins, want) {
		t.Fatalf("origins = %v, want %v", origins, want)
	}
}
