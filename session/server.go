// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"log/slog"

	"github.com/bureau-foundation/scribe/collab"
	"github.com/bureau-foundation/scribe/jupyter"
	"github.com/bureau-foundation/scribe/notebook"
)

// Server is everything a session needs from the Jupyter server: room
// negotiation, room links, and kernels.
type Server interface {
	RequestSession(ctx context.Context, path string) (jupyter.Room, error)
	collab.Opener
	KernelManager
}

// jupyterServer adapts a jupyter.Client and its WebSocket opener.
type jupyterServer struct {
	*jupyter.Client
	opener *collab.WebSocketOpener
}

// NewServer returns a Server backed by client. Each call should get a
// client with its own auth context so sessions never share cookies.
func NewServer(client *jupyter.Client, logger *slog.Logger) Server {
	return &jupyterServer{
		Client: client,
		opener: collab.NewWebSocketOpener(client, logger),
	}
}

func (s *jupyterServer) Open(room jupyter.Room, document *notebook.Document, events collab.Events) collab.Link {
	return s.opener.Open(room, document, events)
}

func (s *jupyterServer) DialKernel(ctx context.Context, kernelID string) (KernelConn, error) {
	channel, err := s.Client.DialKernel(ctx, kernelID)
	if err != nil {
		return nil, err
	}
	return channel, nil
}
