// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/bureau-foundation/scribe/lib/backoff"
	"github.com/bureau-foundation/scribe/lib/clock"
	"github.com/bureau-foundation/scribe/lib/metrics"
	"github.com/bureau-foundation/scribe/lib/watchdog"
)

// DefaultIdleTimeout is how long a session may go without an operation
// before the registry closes it.
const DefaultIdleTimeout = 10 * time.Minute

// RegistryConfig configures a Registry. NewServer is required.
type RegistryConfig struct {
	// NewServer returns the server connection for one new session.
	// It is called once per session so that sessions never share an
	// auth context.
	NewServer func() Server

	// Backoff, SyncTimeout, KernelName, and Watchdog are passed to
	// every Session.
	Backoff     backoff.Policy
	SyncTimeout time.Duration
	KernelName  string
	Watchdog    *watchdog.Store

	// IdleTimeout closes sessions that see no operations for this
	// long. Zero means DefaultIdleTimeout.
	IdleTimeout time.Duration

	Clock   clock.Clock
	Metrics *metrics.Metrics

	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Info describes one registered session.
type Info struct {
	Path      string `json:"path"`
	State     string `json:"state"`
	Connected bool   `json:"connected"`
	Synced    bool   `json:"synced"`
	Cells     int    `json:"cells"`
	Digest    string `json:"digest"`
	KernelID  string `json:"kernel_id,omitempty"`
}

type registryEntry struct {
	session *Session
	timer   *clock.Timer
	// token identifies the armed idle timer. A timer whose token no
	// longer matches has been superseded and does nothing.
	token uint64
}

// Registry owns the live sessions of one process, keyed by notebook
// path.
type Registry struct {
	config RegistryConfig
	clock  clock.Clock
	logger *slog.Logger
	flight singleflight.Group

	mu       sync.Mutex
	sessions map[string]*registryEntry
}

// NewRegistry creates an empty Registry.
func NewRegistry(config RegistryConfig) (*Registry, error) {
	if config.NewServer == nil {
		return nil, errors.New("session: RegistryConfig.NewServer is required")
	}
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = DefaultIdleTimeout
	}
	registryClock := config.Clock
	if registryClock == nil {
		registryClock = clock.Real()
		config.Clock = registryClock
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		config:   config,
		clock:    registryClock,
		logger:   logger,
		sessions: make(map[string]*registryEntry),
	}, nil
}

// NormalizePath returns the registry key for a notebook path: cleaned,
// slash-separated, without a leading slash.
func NormalizePath(notebookPath string) string {
	cleaned := path.Clean("/" + strings.ReplaceAll(notebookPath, "\\", "/"))
	return strings.TrimPrefix(cleaned, "/")
}

// Open returns the synchronized session for notebookPath, creating it
// if needed. Concurrent opens of the same path share one creation and
// observe the same Session. A new session is registered only after it
// has synchronized.
func (r *Registry) Open(ctx context.Context, notebookPath string) (*Session, error) {
	key := NormalizePath(notebookPath)
	if key == "" {
		return nil, errors.New("session: empty notebook path")
	}

	if existing := r.Get(key); existing != nil {
		if err := existing.EnsureSynchronized(ctx); err != nil {
			return nil, err
		}
		r.Touch(key)
		return existing, nil
	}

	// The creation outlives a cancelled caller so that other callers
	// joined on the same flight are not failed by it.
	results := r.flight.DoChan(key, func() (any, error) {
		return r.create(context.WithoutCancel(ctx), key)
	})
	select {
	case result := <-results:
		if result.Err != nil {
			return nil, result.Err
		}
		return result.Val.(*Session), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *Registry) create(ctx context.Context, key string) (*Session, error) {
	if existing := r.Get(key); existing != nil {
		return existing, nil
	}

	server := r.config.NewServer()
	room, err := server.RequestSession(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("session: negotiating room for %s: %w", key, err)
	}

	config := Config{
		Path:        key,
		Room:        room,
		Opener:      server,
		KernelName:  r.config.KernelName,
		Backoff:     r.config.Backoff,
		SyncTimeout: r.config.SyncTimeout,
		Watchdog:    r.config.Watchdog,
		OnActivity:  func() { r.Touch(key) },
		Clock:       r.clock,
		Metrics:     r.config.Metrics,
		Logger:      r.logger,
	}
	if room.Type == "notebook" {
		config.Kernels = server
	}
	s, err := New(config)
	if err != nil {
		return nil, err
	}

	if err := s.Connect(ctx); err != nil {
		s.Close()
		return nil, err
	}
	if err := s.EnsureSynchronized(ctx); err != nil {
		s.Close()
		return nil, err
	}
	if _, err := s.RecoverInterruptedExecution(); err != nil {
		s.logger.Warn("recovering interrupted execution", "error", err)
	}

	r.mu.Lock()
	entry := &registryEntry{session: s}
	r.sessions[key] = entry
	r.armLocked(key, entry)
	r.mu.Unlock()

	r.config.Metrics.SessionOpened()
	s.logger.Info("session opened", "file_id", room.FileID)
	return s, nil
}

// Get returns the registered session for a path, or nil.
func (r *Registry) Get(notebookPath string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.sessions[NormalizePath(notebookPath)]
	if !ok {
		return nil
	}
	return entry.session
}

// Touch re-arms the idle timer for a path. Unknown paths are ignored.
func (r *Registry) Touch(notebookPath string) {
	key := NormalizePath(notebookPath)
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.sessions[key]; ok {
		r.armLocked(key, entry)
	}
}

func (r *Registry) armLocked(key string, entry *registryEntry) {
	entry.timer.Stop()
	entry.token++
	token := entry.token
	entry.timer = r.clock.AfterFunc(r.config.IdleTimeout, func() { r.expire(key, token) })
}

func (r *Registry) expire(key string, token uint64) {
	r.mu.Lock()
	entry, ok := r.sessions[key]
	if !ok || entry.token != token {
		r.mu.Unlock()
		return
	}
	delete(r.sessions, key)
	entry.timer = nil
	r.mu.Unlock()

	entry.session.logger.Info("closing idle session", "idle_timeout", r.config.IdleTimeout)
	r.config.Metrics.IdleEviction()
	r.dispose(entry)
}

// Close removes and closes the session for a path. It reports whether
// a session was registered; closing an unknown path is not an error.
func (r *Registry) Close(notebookPath string) bool {
	key := NormalizePath(notebookPath)
	r.mu.Lock()
	entry, ok := r.sessions[key]
	if ok {
		delete(r.sessions, key)
		entry.timer.Stop()
		entry.timer = nil
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	r.dispose(entry)
	return true
}

func (r *Registry) dispose(entry *registryEntry) {
	entry.session.Close()
	r.config.Metrics.SessionClosed()
}

// CloseAll closes every registered session concurrently and waits for
// all of them. Closing never blocks on the network, so every session is
// closed whatever the state of ctx.
func (r *Registry) CloseAll(ctx context.Context) error {
	r.mu.Lock()
	entries := make([]*registryEntry, 0, len(r.sessions))
	for key, entry := range r.sessions {
		entry.timer.Stop()
		entry.timer = nil
		entries = append(entries, entry)
		delete(r.sessions, key)
	}
	r.mu.Unlock()

	var group errgroup.Group
	for _, entry := range entries {
		group.Go(func() error {
			r.dispose(entry)
			return nil
		})
	}
	group.Wait()
	if len(entries) > 0 {
		r.logger.InfoContext(ctx, "closed all sessions", "count", len(entries))
	}
	return nil
}

// List describes the registered sessions whose path lies under root,
// sorted by path. An empty root lists everything.
func (r *Registry) List(root string) []Info {
	prefix := NormalizePath(root)
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for key, entry := range r.sessions {
		if prefix != "" && key != prefix && !strings.HasPrefix(key, prefix+"/") {
			continue
		}
		sessions = append(sessions, entry.session)
	}
	r.mu.Unlock()

	infos := make([]Info, 0, len(sessions))
	for _, s := range sessions {
		state := s.State()
		info := Info{
			Path:      s.Path(),
			State:     state.String(),
			Connected: state.Connected(),
			Synced:    state == Synced,
			Cells:     s.Len(),
			Digest:    s.Digest(),
		}
		if s.kernel != nil {
			if kernel, ok := s.kernel.Bound(); ok {
				info.KernelID = kernel.ID
			}
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Path < infos[j].Path })
	return infos
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
