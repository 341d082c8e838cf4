// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bureau-foundation/scribe/collab"
	"github.com/bureau-foundation/scribe/jupyter"
	"github.com/bureau-foundation/scribe/lib/backoff"
	"github.com/bureau-foundation/scribe/lib/clock"
	"github.com/bureau-foundation/scribe/lib/metrics"
	"github.com/bureau-foundation/scribe/lib/watchdog"
	"github.com/bureau-foundation/scribe/notebook"
)

// DefaultSyncTimeout bounds each wait for document synchronization.
const DefaultSyncTimeout = 30 * time.Second

// Config holds everything a Session needs. Room and Opener are
// required.
type Config struct {
	// Path is the notebook path the session serves.
	Path string

	// Room is the negotiated collaboration room.
	Room jupyter.Room

	// Opener creates room links.
	Opener collab.Opener

	// Kernels enables the kernel capability. Nil means the session is
	// document-only.
	Kernels KernelManager

	// KernelName is started when the notebook has no kernel yet.
	KernelName string

	// Backoff is the reconnect schedule. Zero means backoff.DefaultPolicy.
	Backoff backoff.Policy

	// SyncTimeout bounds synchronization waits. Zero means
	// DefaultSyncTimeout.
	SyncTimeout time.Duration

	// Watchdog records in-progress executions. May be nil.
	Watchdog *watchdog.Store

	// OnActivity is called by every content or execution operation.
	// May be nil.
	OnActivity func()

	// Clock schedules reconnects and sync timeouts. Nil means the real
	// clock.
	Clock clock.Clock

	// Metrics may be nil.
	Metrics *metrics.Metrics

	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// pendingConnect is the completion shared by every Connect caller
// waiting on the same link.
type pendingConnect struct {
	done chan struct{}
	err  error
}

func (p *pendingConnect) complete(err error) {
	p.err = err
	close(p.done)
}

// Session is a supervised connection between one notebook replica and
// its collaboration room.
type Session struct {
	path        string
	room        jupyter.Room
	opener      collab.Opener
	document    *notebook.Document
	kernel      *KernelBinding
	watchdog    *watchdog.Store
	syncTimeout time.Duration
	onActivity  func()
	clock       clock.Clock
	metrics     *metrics.Metrics
	logger      *slog.Logger

	mu             sync.Mutex
	state          State
	link           collab.Link
	generation     uint64
	everSynced     bool
	pending        *pendingConnect
	attempts       *backoff.Controller
	reconnectTimer *clock.Timer
	// changed is closed and replaced on every state transition.
	changed chan struct{}
}

// New creates a disconnected Session.
func New(config Config) (*Session, error) {
	if config.Opener == nil {
		return nil, fmt.Errorf("session: Opener is required")
	}
	if err := config.Room.Validate(); err != nil {
		return nil, err
	}
	policy := config.Backoff
	if policy == (backoff.Policy{}) {
		policy = backoff.DefaultPolicy()
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	syncTimeout := config.SyncTimeout
	if syncTimeout <= 0 {
		syncTimeout = DefaultSyncTimeout
	}
	sessionClock := config.Clock
	if sessionClock == nil {
		sessionClock = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("path", config.Path, "room", config.Room.Name())

	s := &Session{
		path:        config.Path,
		room:        config.Room,
		opener:      config.Opener,
		document:    notebook.New(),
		watchdog:    config.Watchdog,
		syncTimeout: syncTimeout,
		onActivity:  config.OnActivity,
		clock:       sessionClock,
		metrics:     config.Metrics,
		logger:      logger,
		attempts:    backoff.NewController(policy),
		changed:     make(chan struct{}),
	}
	if config.Kernels != nil {
		s.kernel = newKernelBinding(config.Kernels, config.Path, config.KernelName, logger)
	}
	return s, nil
}

// Path returns the notebook path.
func (s *Session) Path() string { return s.path }

// Room returns the collaboration room descriptor.
func (s *Session) Room() jupyter.Room { return s.room }

// State returns the current connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connected reports whether the room link is established.
func (s *Session) Connected() bool { return s.State().Connected() }

// Synced reports whether the document is synchronized.
func (s *Session) Synced() bool { return s.State() == Synced }

// ReconnectAttempts returns the failed attempts since the last
// established link.
func (s *Session) ReconnectAttempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts.Attempts()
}

func (s *Session) touch() {
	if s.onActivity != nil {
		s.onActivity()
	}
}

// setStateLocked records a transition and wakes waiters.
func (s *Session) setStateLocked(next State) {
	if s.state == next {
		return
	}
	s.logger.Debug("session state", "from", s.state.String(), "to", next.String())
	s.state = next
	close(s.changed)
	s.changed = make(chan struct{})
}

// openLocked starts a new link. The caller has already dropped any
// previous link.
func (s *Session) openLocked(kind string) {
	s.generation++
	generation := s.generation
	s.metrics.ConnectAttempt(kind)
	s.logger.Debug("opening room link", "kind", kind, "attempt", s.attempts.Attempts())
	s.link = s.opener.Open(s.room, s.document, collab.Events{
		OnEstablished: func() { s.handleEstablished(generation) },
		OnSynced:      func() { s.handleSynced(generation) },
		OnClosed:      func(err error) { s.handleClosed(generation, err) },
	})
}

// Connect brings the session to Synced. It returns immediately when
// already synced and joins an in-flight connection otherwise. The wait
// is bounded by the sync timeout.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case Closed:
		s.mu.Unlock()
		return ErrClosed
	case Synced:
		s.mu.Unlock()
		return nil
	}
	if s.pending == nil {
		s.pending = &pendingConnect{done: make(chan struct{})}
		if s.link == nil {
			s.reconnectTimer.Stop()
			s.reconnectTimer = nil
			s.setStateLocked(Connecting)
			s.openLocked(metrics.AttemptInitial)
		}
	}
	pending := s.pending
	s.mu.Unlock()

	timeout, stop := s.syncDeadline()
	defer stop()
	select {
	case <-pending.done:
		return pending.err
	case <-ctx.Done():
		return ctx.Err()
	case <-timeout:
		s.metrics.SyncTimeout()
		return fmt.Errorf("%w after %s", ErrSyncTimeout, s.syncTimeout)
	}
}

// syncDeadline returns a channel closed after the sync timeout and a
// function that cancels it. Cancelling leaves no timer behind.
func (s *Session) syncDeadline() (<-chan struct{}, func()) {
	expired := make(chan struct{})
	timer := s.clock.AfterFunc(s.syncTimeout, func() { close(expired) })
	return expired, func() { timer.Stop() }
}

// Disconnect drops the link, cancels any scheduled reconnect, and fails
// a pending Connect. It always succeeds.
func (s *Session) Disconnect() {
	s.mu.Lock()
	if s.state == Closed {
		s.mu.Unlock()
		return
	}
	link := s.detachLocked(ErrDisconnected)
	s.setStateLocked(Disconnected)
	s.mu.Unlock()

	if link != nil {
		link.Close()
	}
}

// detachLocked invalidates the current link generation and returns the
// link for the caller to close outside the lock.
func (s *Session) detachLocked(pendingErr error) collab.Link {
	s.generation++
	s.reconnectTimer.Stop()
	s.reconnectTimer = nil
	link := s.link
	s.link = nil
	s.document.Detach()
	if s.pending != nil {
		s.pending.complete(pendingErr)
		s.pending = nil
	}
	return link
}

// Reconnect drops the current link and connects again.
func (s *Session) Reconnect(ctx context.Context) error {
	s.Disconnect()
	return s.Connect(ctx)
}

// Close disconnects permanently and disposes the kernel binding.
// Idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	if s.state == Closed {
		s.mu.Unlock()
		return
	}
	link := s.detachLocked(ErrClosed)
	s.setStateLocked(Closed)
	s.mu.Unlock()

	if link != nil {
		link.Close()
	}
	if s.kernel != nil {
		s.kernel.Dispose()
	}
	s.logger.Info("session closed")
}

func (s *Session) handleEstablished(generation uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if generation != s.generation {
		return
	}
	s.establishLocked()
}

func (s *Session) establishLocked() {
	if s.attempts.Attempts() > 0 {
		s.logger.Info("room link re-established", "attempt", s.attempts.Attempts())
	}
	s.attempts.Reset()
	s.setStateLocked(ConnectedUnsynced)
}

func (s *Session) handleSynced(generation uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if generation != s.generation {
		return
	}
	if !s.state.Connected() {
		// A link reports established before synced; pass through the
		// connected state so the two never appear out of order.
		s.establishLocked()
	}
	s.everSynced = true
	s.setStateLocked(Synced)
	if s.pending != nil {
		s.pending.complete(nil)
		s.pending = nil
	}
}

func (s *Session) handleClosed(generation uint64, reason error) {
	s.mu.Lock()
	if generation != s.generation {
		s.mu.Unlock()
		return
	}
	s.generation++
	link := s.link
	s.link = nil
	s.document.Detach()
	wasConnected := s.state.Connected()

	if s.pending != nil {
		s.pending.complete(fmt.Errorf("session: room link closed: %w", reason))
		s.pending = nil
		s.setStateLocked(Disconnected)
		s.mu.Unlock()
		if link != nil {
			link.Close()
		}
		return
	}

	if wasConnected {
		s.logger.Warn("room link lost", "error", reason)
	}
	s.scheduleReconnectLocked(reason)
	s.mu.Unlock()
	if link != nil {
		link.Close()
	}
}

// scheduleReconnectLocked arms the next backoff attempt, or gives up.
func (s *Session) scheduleReconnectLocked(reason error) {
	delay, ok := s.attempts.Next()
	if !ok {
		s.setStateLocked(Disconnected)
		s.metrics.ReconnectExhausted()
		s.logger.Error("giving up on room link",
			"error", fmt.Errorf("%w: %w", ErrReconnectExhausted, reason),
			"attempts", s.attempts.Attempts(),
		)
		return
	}
	s.setStateLocked(Reconnecting)
	generation := s.generation
	attempt := s.attempts.Attempts()
	s.logger.Info("scheduling reconnect", "attempt", attempt, "delay", delay)
	s.reconnectTimer = s.clock.AfterFunc(delay, func() { s.fireReconnect(generation) })
}

func (s *Session) fireReconnect(generation uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if generation != s.generation || s.state != Reconnecting || s.link != nil {
		return
	}
	s.reconnectTimer = nil
	s.openLocked(metrics.AttemptReconnect)
}
