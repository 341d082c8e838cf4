// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil holds the HTTP and WebSocket I/O helpers shared by
// scribe's Jupyter REST client, the collaboration room transport, and
// the kernel channel connection.
//
// Response bodies from the server are read through [ReadResponse] so a
// misbehaving endpoint cannot exhaust memory. [IsExpectedCloseError]
// separates routine connection teardown from failures worth logging.
package netutil

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"

	"github.com/gorilla/websocket"
)

// MaxResponseSize bounds REST response reads: 64 MB. Notebook contents
// with embedded images are the largest legitimate payloads.
const MaxResponseSize int64 = 64 << 20

// ReadResponse reads a response body up to MaxResponseSize bytes.
func ReadResponse(body io.Reader) ([]byte, error) {
	return io.ReadAll(io.LimitReader(body, MaxResponseSize))
}

// DecodeResponse reads a bounded response body and JSON-decodes it
// into v.
func DecodeResponse(body io.Reader, v any) error {
	data, err := ReadResponse(body)
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}
	return json.Unmarshal(data, v)
}

// ErrorBody returns as much of an error response body as can be read,
// for inclusion in diagnostics. Read failures yield whatever was read.
func ErrorBody(body io.Reader) string {
	data, _ := ReadResponse(body)
	return string(data)
}

// IsExpectedCloseError reports whether err is an ordinary end of a
// connection: EOF, use of a closed connection, a reset or broken pipe
// from the peer, or a WebSocket close frame with a normal or going-away
// status. Anything else is an unexpected transport failure.
func IsExpectedCloseError(err error) bool {
	if err == nil {
		return false
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EPIPE || errno == syscall.ECONNRESET
	}
	return false
}
