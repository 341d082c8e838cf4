// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package collab connects a [notebook.Document] replica to its
// collaboration room on the Jupyter server.
//
// An [Opener] returns a [Link] immediately and does all network work on
// the link's own goroutines. Progress is reported through three
// [Events], always asynchronously and never from inside Open or Close:
//
//   - OnEstablished: the WebSocket handshake completed.
//   - OnSynced: the server's full document state has been loaded into
//     the replica. Always preceded by OnEstablished on the same link.
//   - OnClosed: the link ended, with the reason. Delivered at most once
//     and never followed by another event.
//
// While open, the link forwards every local update committed to the
// document and applies every remote update it receives.
//
// Frames are JSON text messages:
//
//	{"type":"sync","cells":[...]}        server -> client, full state
//	{"type":"update","ops":[...]}        both directions
//	{"type":"sync_request"}              client -> server
package collab

import (
	"github.com/bureau-foundation/scribe/jupyter"
	"github.com/bureau-foundation/scribe/notebook"
)

// Events are the link lifecycle callbacks. Nil fields are ignored.
type Events struct {
	OnEstablished func()
	OnSynced      func()
	OnClosed      func(err error)
}

// Link is one connection attempt to a room. Close is idempotent and
// does not wait for the link's goroutines.
type Link interface {
	Close() error
}

// Opener creates links. Implementations must not call any event from
// within Open.
type Opener interface {
	Open(room jupyter.Room, document *notebook.Document, events Events) Link
}
