// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"fmt"
)

// EnsureSynchronized returns once the document is synchronized. A link
// in flight is waited on for at most the sync timeout; a timeout fails
// this call only and leaves the session running. A session with no
// link at all is reconnected once before giving up.
func (s *Session) EnsureSynchronized(ctx context.Context) error {
	var timeout <-chan struct{}
	reconnected := false
	for {
		s.mu.Lock()
		state := s.state
		inFlight := s.link != nil
		changed := s.changed
		s.mu.Unlock()

		switch {
		case state == Closed:
			return ErrClosed
		case state == Synced:
			return nil
		case inFlight:
			if timeout == nil {
				expired, stop := s.syncDeadline()
				defer stop()
				timeout = expired
			}
			select {
			case <-changed:
			case <-timeout:
				s.metrics.SyncTimeout()
				return fmt.Errorf("%w after %s", ErrSyncTimeout, s.syncTimeout)
			case <-ctx.Done():
				return ctx.Err()
			}
		default:
			if reconnected {
				return ErrNotConnected
			}
			reconnected = true
			s.logger.Info("session not connected, reconnecting", "state", state.String())
			if err := s.Reconnect(ctx); err != nil {
				return fmt.Errorf("session: reconnecting %s: %w", s.path, err)
			}
		}
	}
}
