// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bureau-foundation/scribe/jupyter"
)

// KernelManager is the slice of the Jupyter kernel API a session uses.
type KernelManager interface {
	EnsureKernel(ctx context.Context, notebookPath, kernelName string) (jupyter.Kernel, error)
	SwitchKernel(ctx context.Context, notebookPath, kernelName string) (jupyter.Kernel, error)
	RestartKernel(ctx context.Context, kernelID string) (jupyter.Kernel, error)
	InterruptKernel(ctx context.Context, kernelID string) error
	DialKernel(ctx context.Context, kernelID string) (KernelConn, error)
}

// KernelConn is an open connection to a kernel's channels.
type KernelConn interface {
	Execute(ctx context.Context, code string, handle func(jupyter.Message)) (jupyter.ExecuteReply, error)
	Done() <-chan struct{}
	Close() error
}

// KernelBinding is a notebook session's association with a running
// kernel. The kernel is resolved on first use and the channel
// connection is dialed lazily and redialed after it drops.
type KernelBinding struct {
	manager     KernelManager
	path        string
	defaultName string
	logger      *slog.Logger

	mu       sync.Mutex
	kernel   *jupyter.Kernel
	conn     KernelConn
	disposed bool
}

func newKernelBinding(manager KernelManager, path, defaultName string, logger *slog.Logger) *KernelBinding {
	if defaultName == "" {
		defaultName = "python3"
	}
	return &KernelBinding{
		manager:     manager,
		path:        path,
		defaultName: defaultName,
		logger:      logger,
	}
}

// Kernel returns the session's kernel binding, or ErrNoKernel for a
// document-only session.
func (s *Session) Kernel() (*KernelBinding, error) {
	if s.kernel == nil {
		return nil, ErrNoKernel
	}
	return s.kernel, nil
}

// Bound returns the kernel if one has been resolved.
func (b *KernelBinding) Bound() (jupyter.Kernel, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.kernel == nil {
		return jupyter.Kernel{}, false
	}
	return *b.kernel, true
}

// Resolve returns the bound kernel, finding or starting one first if
// needed.
func (b *KernelBinding) Resolve(ctx context.Context) (jupyter.Kernel, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.resolveLocked(ctx)
}

func (b *KernelBinding) resolveLocked(ctx context.Context) (jupyter.Kernel, error) {
	if b.disposed {
		return jupyter.Kernel{}, ErrClosed
	}
	if b.kernel != nil {
		return *b.kernel, nil
	}
	kernel, err := b.manager.EnsureKernel(ctx, b.path, b.defaultName)
	if err != nil {
		return jupyter.Kernel{}, fmt.Errorf("session: acquiring kernel for %s: %w", b.path, err)
	}
	b.kernel = &kernel
	b.logger.Info("kernel bound", "kernel_id", kernel.ID, "kernel_name", kernel.Name)
	return kernel, nil
}

func (b *KernelBinding) connLocked(ctx context.Context) (KernelConn, error) {
	kernel, err := b.resolveLocked(ctx)
	if err != nil {
		return nil, err
	}
	if b.conn != nil {
		select {
		case <-b.conn.Done():
			b.conn = nil
		default:
			return b.conn, nil
		}
	}
	conn, err := b.manager.DialKernel(ctx, kernel.ID)
	if err != nil {
		return nil, fmt.Errorf("session: connecting to kernel %s: %w", kernel.ID, err)
	}
	b.conn = conn
	return conn, nil
}

// Execute runs code on the bound kernel. See [jupyter.KernelChannel.Execute].
func (b *KernelBinding) Execute(ctx context.Context, code string, handle func(jupyter.Message)) (jupyter.ExecuteReply, error) {
	b.mu.Lock()
	conn, err := b.connLocked(ctx)
	b.mu.Unlock()
	if err != nil {
		return jupyter.ExecuteReply{}, err
	}

	reply, err := conn.Execute(ctx, code, handle)
	if err != nil && errors.Is(err, jupyter.ErrChannelClosed) {
		b.mu.Lock()
		if b.conn == conn {
			b.conn = nil
		}
		b.mu.Unlock()
	}
	return reply, err
}

// Interrupt interrupts the bound kernel. With no kernel bound it does
// nothing.
func (b *KernelBinding) Interrupt(ctx context.Context) error {
	kernel, ok := b.Bound()
	if !ok {
		return nil
	}
	if err := b.manager.InterruptKernel(ctx, kernel.ID); err != nil {
		return fmt.Errorf("session: interrupting kernel %s: %w", kernel.ID, err)
	}
	return nil
}

// Restart restarts the kernel in place, or switches to a new kernel of
// kernelName when it names a different kernel type. The channel
// connection is dropped and redialed on next use.
func (b *KernelBinding) Restart(ctx context.Context, kernelName string) (jupyter.Kernel, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	current, err := b.resolveLocked(ctx)
	if err != nil {
		return jupyter.Kernel{}, err
	}

	var next jupyter.Kernel
	if kernelName != "" && kernelName != current.Name {
		next, err = b.manager.SwitchKernel(ctx, b.path, kernelName)
		if err != nil {
			return jupyter.Kernel{}, fmt.Errorf("session: switching %s to %s: %w", b.path, kernelName, err)
		}
	} else {
		next, err = b.manager.RestartKernel(ctx, current.ID)
		if err != nil {
			return jupyter.Kernel{}, fmt.Errorf("session: restarting kernel %s: %w", current.ID, err)
		}
		if next.ID == "" {
			next.ID = current.ID
		}
		if next.Name == "" {
			next.Name = current.Name
		}
	}

	b.closeConnLocked()
	b.kernel = &next
	b.logger.Info("kernel restarted", "kernel_id", next.ID, "kernel_name", next.Name, "previous_kernel_id", current.ID)
	return next, nil
}

func (b *KernelBinding) closeConnLocked() {
	if b.conn == nil {
		return
	}
	if err := b.conn.Close(); err != nil {
		b.logger.Debug("closing kernel connection", "error", err)
	}
	b.conn = nil
}

// Dispose drops the binding and its connection. The kernel keeps
// running on the server. Idempotent.
func (b *KernelBinding) Dispose() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closeConnLocked()
	b.kernel = nil
	b.disposed = true
}

// RestartKernel restarts (or switches) the kernel, then reconnects the
// room link so the document reflects the server's state after the
// restart. With clearOutputs every code cell's outputs and execution
// count are removed in one transaction.
func (s *Session) RestartKernel(ctx context.Context, kernelName string, clearOutputs bool) (jupyter.Kernel, error) {
	binding, err := s.Kernel()
	if err != nil {
		return jupyter.Kernel{}, err
	}
	s.touch()
	kernel, err := binding.Restart(ctx, kernelName)
	if err != nil {
		return jupyter.Kernel{}, err
	}
	if err := s.Reconnect(ctx); err != nil {
		return kernel, fmt.Errorf("session: reconnecting after kernel restart: %w", err)
	}
	if clearOutputs {
		if err := s.ClearOutputs(0, s.Len()); err != nil {
			return kernel, err
		}
	}
	return kernel, nil
}
