// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package scribe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/bureau-foundation/scribe/collab"
	"github.com/bureau-foundation/scribe/execute"
	"github.com/bureau-foundation/scribe/jupyter"
	"github.com/bureau-foundation/scribe/lib/spill"
	"github.com/bureau-foundation/scribe/notebook"
	"github.com/bureau-foundation/scribe/session"
)

// ErrorKind classifies operation failures so callers can decide
// whether to retry, fix their input, or report.
type ErrorKind string

const (
	// KindTransport is a lost or failed connection to the server.
	// Retrying later may succeed.
	KindTransport ErrorKind = "transport"

	// KindSyncTimeout means the document did not synchronize in time.
	// The session keeps trying in the background.
	KindSyncTimeout ErrorKind = "sync_timeout"

	// KindNegotiation is a REST error from the server, carrying the
	// server's message. It is not retried.
	KindNegotiation ErrorKind = "negotiation"

	// KindExecution is an engine failure while running code. Errors
	// raised by the code itself are outputs, not failures.
	KindExecution ErrorKind = "execution"

	// KindInvariant is an operation the document cannot accept: a
	// mutation before the first sync, or an unknown cell id or index.
	KindInvariant ErrorKind = "invariant"

	// KindValidation is malformed input.
	KindValidation ErrorKind = "validation"

	// KindNotFound is a missing server resource or spill entry.
	KindNotFound ErrorKind = "not_found"

	// KindClosed is an operation on a closed session.
	KindClosed ErrorKind = "closed"

	// KindInternal is anything else.
	KindInternal ErrorKind = "internal"
)

// OpError is the error returned by every Service operation.
type OpError struct {
	// Op names the failed operation, such as "insert_cell".
	Op   string
	Kind ErrorKind
	Err  error
}

func (e *OpError) Error() string { return e.Op + ": " + e.Err.Error() }

func (e *OpError) Unwrap() error { return e.Err }

func validation(op, format string, args ...any) *OpError {
	return &OpError{Op: op, Kind: KindValidation, Err: fmt.Errorf(format, args...)}
}

// classify wraps err in an OpError for op. A nil err stays nil and an
// existing OpError is returned unchanged.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var opErr *OpError
	if errors.As(err, &opErr) {
		return opErr
	}
	return &OpError{Op: op, Kind: kindOf(err), Err: err}
}

func kindOf(err error) ErrorKind {
	var serverErr *jupyter.ServerError
	var netErr net.Error
	switch {
	case errors.Is(err, session.ErrClosed):
		return KindClosed
	case errors.Is(err, session.ErrSyncTimeout):
		return KindSyncTimeout
	case errors.Is(err, session.ErrNotSynchronized),
		errors.Is(err, notebook.ErrCellNotFound),
		errors.Is(err, notebook.ErrIndexOutOfRange),
		errors.Is(err, notebook.ErrOffsetOutOfRange):
		return KindInvariant
	case errors.Is(err, session.ErrNoKernel):
		return KindValidation
	case errors.Is(err, execute.ErrTimeout):
		return KindExecution
	case errors.Is(err, spill.ErrNotFound):
		return KindNotFound
	case errors.As(err, &serverErr):
		if serverErr.StatusCode == http.StatusNotFound {
			return KindNotFound
		}
		return KindNegotiation
	case errors.Is(err, jupyter.ErrChannelClosed),
		errors.Is(err, collab.ErrLinkClosed),
		errors.Is(err, collab.ErrSendQueueFull),
		errors.Is(err, session.ErrNotConnected),
		errors.Is(err, session.ErrDisconnected),
		errors.Is(err, session.ErrReconnectExhausted),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled),
		errors.As(err, &netErr):
		return KindTransport
	default:
		return KindInternal
	}
}
