// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package collab

import "github.com/bureau-foundation/scribe/notebook"

// Frame types.
const (
	FrameSync        = "sync"
	FrameUpdate      = "update"
	FrameSyncRequest = "sync_request"
)

// Frame is one message on a room WebSocket.
type Frame struct {
	Type  string          `json:"type"`
	Cells []notebook.Cell `json:"cells,omitempty"`
	Ops   []notebook.Op   `json:"ops,omitempty"`
}
