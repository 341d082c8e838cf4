// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package scribe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bureau-foundation/scribe/execute"
	"github.com/bureau-foundation/scribe/jupyter"
	"github.com/bureau-foundation/scribe/lib/spill"
	"github.com/bureau-foundation/scribe/notebook"
	"github.com/bureau-foundation/scribe/session"
)

// Config holds the parts a Service is built from. Registry and Engine
// are required.
type Config struct {
	Registry *session.Registry
	Engine   *execute.Engine

	// Spill serves Service.Spill. May be nil.
	Spill *spill.Store

	// Closers run in order after every session is closed by
	// Service.Close.
	Closers []func() error

	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Service is the notebook API exposed to agents.
type Service struct {
	registry *session.Registry
	engine   *execute.Engine
	spill    *spill.Store
	closers  []func() error
	logger   *slog.Logger
}

// New creates a Service.
func New(config Config) (*Service, error) {
	if config.Registry == nil {
		return nil, errors.New("scribe: Registry is required")
	}
	if config.Engine == nil {
		return nil, errors.New("scribe: Engine is required")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		registry: config.Registry,
		engine:   config.Engine,
		spill:    config.Spill,
		closers:  config.Closers,
		logger:   logger,
	}, nil
}

// SessionSummary describes an open session.
type SessionSummary = session.Info

// open returns the synchronized session for path, creating it if
// needed.
func (s *Service) open(ctx context.Context, op, path string) (*session.Session, error) {
	if session.NormalizePath(path) == "" {
		return nil, validation(op, "notebook path is required")
	}
	sess, err := s.registry.Open(ctx, path)
	if err != nil {
		s.logger.Debug("opening session failed", "op", op, "path", path, "error", err)
		return nil, classify(op, err)
	}
	return sess, nil
}

func summarize(sess *session.Session) SessionSummary {
	state := sess.State()
	summary := SessionSummary{
		Path:      sess.Path(),
		State:     state.String(),
		Connected: state.Connected(),
		Synced:    state == session.Synced,
		Cells:     sess.Len(),
		Digest:    sess.Digest(),
	}
	if binding, err := sess.Kernel(); err == nil {
		if kernel, ok := binding.Bound(); ok {
			summary.KernelID = kernel.ID
		}
	}
	return summary
}

// OpenSession opens (or reuses) the session for path and waits for it
// to synchronize.
func (s *Service) OpenSession(ctx context.Context, path string) (SessionSummary, error) {
	sess, err := s.open(ctx, "open_session", path)
	if err != nil {
		return SessionSummary{}, err
	}
	return summarize(sess), nil
}

// CloseSession closes the session for path. It reports whether one was
// open; closing an unknown path succeeds.
func (s *Service) CloseSession(path string) (bool, error) {
	if session.NormalizePath(path) == "" {
		return false, validation("close_session", "notebook path is required")
	}
	return s.registry.Close(path), nil
}

// CloseAll closes every session concurrently.
func (s *Service) CloseAll(ctx context.Context) error {
	return classify("close_all", s.registry.CloseAll(ctx))
}

// ListSessions describes the open sessions under root.
func (s *Service) ListSessions(root string) []SessionSummary {
	return s.registry.List(root)
}

// EnsureSynchronized returns once the session for path is synchronized.
func (s *Service) EnsureSynchronized(ctx context.Context, path string) error {
	sess, err := s.open(ctx, "ensure_synchronized", path)
	if err != nil {
		return err
	}
	return classify("ensure_synchronized", sess.EnsureSynchronized(ctx))
}

// Close closes every session and releases the Service's resources.
func (s *Service) Close(ctx context.Context) error {
	errs := []error{s.CloseAll(ctx)}
	for _, closer := range s.closers {
		errs = append(errs, closer())
	}
	return errors.Join(errs...)
}

// Spill returns the full value behind a truncation reference.
func (s *Service) Spill(ref string) ([]byte, error) {
	if s.spill == nil {
		return nil, &OpError{Op: "spill", Kind: KindNotFound, Err: errors.New("no spill store configured")}
	}
	data, err := s.spill.Get(spill.Ref(ref))
	if err != nil {
		if errors.Is(err, spill.ErrNotFound) {
			return nil, classify("spill", err)
		}
		return nil, &OpError{Op: "spill", Kind: KindValidation, Err: err}
	}
	return data, nil
}

// Watch calls fn for every change to the document at path until ctx
// ends. It returns nil when ctx ends.
func (s *Service) Watch(ctx context.Context, path string, fn func(WatchEvent)) error {
	sess, err := s.open(ctx, "watch", path)
	if err != nil {
		return err
	}
	events := make(chan notebook.Update, 64)
	cancel := sess.Observe(func(update notebook.Update) {
		select {
		case events <- update:
		default:
			s.logger.Warn("watch consumer is behind, dropping update", "path", sess.Path())
		}
	})
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case update := <-events:
			fn(WatchEvent{
				Path:   sess.Path(),
				Origin: string(update.Origin),
				Ops:    len(update.Ops),
				Cells:  sess.Len(),
				Digest: sess.Digest(),
			})
			// Idle eviction would otherwise close a watched session.
			s.registry.Touch(sess.Path())
		}
	}
}

// WatchEvent describes one committed document change.
type WatchEvent struct {
	Path   string `json:"path"`
	Origin string `json:"origin"`
	Ops    int    `json:"ops"`
	Cells  int    `json:"cells"`
	Digest string `json:"digest"`
}

// KernelSummary describes a kernel bound to a session.
type KernelSummary struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func kernelSummary(kernel jupyter.Kernel) KernelSummary {
	return KernelSummary{ID: kernel.ID, Name: kernel.Name}
}

func checkRange(op string, start, end int) error {
	if start < 0 || end < start {
		return validation(op, "invalid cell range [%d, %d)", start, end)
	}
	return nil
}

func describeCell(index int, id string) string {
	return fmt.Sprintf("cell %d (%s)", index, id)
}
