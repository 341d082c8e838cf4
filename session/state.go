// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import "errors"

// State is the connection status of a Session.
type State int

const (
	// Disconnected has no link and no reconnect scheduled.
	Disconnected State = iota
	// Connecting has a link in flight on behalf of a Connect caller.
	Connecting
	// ConnectedUnsynced has an established link whose initial document
	// state has not arrived yet.
	ConnectedUnsynced
	// Synced has an established link and a loaded document.
	Synced
	// Reconnecting is waiting for, or running, a backoff-scheduled
	// attempt after losing a link.
	Reconnecting
	// Closed is terminal.
	Closed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case ConnectedUnsynced:
		return "connected"
	case Synced:
		return "synced"
	case Reconnecting:
		return "reconnecting"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Connected reports whether the transport is established. Synced
// implies Connected.
func (s State) Connected() bool { return s == ConnectedUnsynced || s == Synced }

var (
	// ErrClosed is returned by every operation on a closed Session.
	ErrClosed = errors.New("session: closed")

	// ErrNotSynchronized is returned by content mutations on a
	// document that has never received its initial state.
	ErrNotSynchronized = errors.New("session: document has not been synchronized")

	// ErrSyncTimeout is returned when the document does not
	// synchronize within the sync timeout.
	ErrSyncTimeout = errors.New("session: timed out waiting for document synchronization")

	// ErrNotConnected is returned by EnsureSynchronized when a forced
	// reconnect still leaves the session without a link.
	ErrNotConnected = errors.New("session: not connected")

	// ErrReconnectExhausted is the failure recorded when the reconnect
	// attempt budget runs out.
	ErrReconnectExhausted = errors.New("session: reconnect attempts exhausted")

	// ErrDisconnected fails a pending Connect that was interrupted by
	// Disconnect.
	ErrDisconnected = errors.New("session: disconnected while connecting")

	// ErrNoKernel is returned for kernel operations on a session
	// without the kernel capability.
	ErrNoKernel = errors.New("session: no kernel capability")
)
