// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package collab

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bureau-foundation/scribe/jupyter"
	"github.com/bureau-foundation/scribe/lib/netutil"
	"github.com/bureau-foundation/scribe/notebook"
)

// ErrLinkClosed is the OnClosed reason after Close.
var ErrLinkClosed = errors.New("collab: link closed")

// ErrSendQueueFull closes a link whose server stopped reading.
var ErrSendQueueFull = errors.New("collab: outbound queue full")

const (
	// sendQueueSize bounds updates waiting for the writer goroutine.
	sendQueueSize = 1024

	// pingInterval is how often the link pings the server; a link that
	// hears nothing for pongWait is considered dead.
	pingInterval = 30 * time.Second
	pongWait     = 75 * time.Second
	writeWait    = 10 * time.Second
)

// WebSocketOpener dials rooms on a Jupyter server.
type WebSocketOpener struct {
	client *jupyter.Client
	logger *slog.Logger
}

// NewWebSocketOpener returns an Opener that dials rooms through client,
// using its dialer and auth context. logger may be nil.
func NewWebSocketOpener(client *jupyter.Client, logger *slog.Logger) *WebSocketOpener {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocketOpener{client: client, logger: logger}
}

type websocketLink struct {
	opener   *WebSocketOpener
	room     jupyter.Room
	document *notebook.Document
	events   Events
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	outbound chan Frame

	mu          sync.Mutex
	conn        *websocket.Conn
	closeOnce   sync.Once
	closeReason error
	reported    bool
}

// Open starts connecting to room. See [Opener].
func (o *WebSocketOpener) Open(room jupyter.Room, document *notebook.Document, events Events) Link {
	ctx, cancel := context.WithCancel(context.Background())
	link := &websocketLink{
		opener:   o,
		room:     room,
		document: document,
		events:   events,
		logger:   o.logger.With("room", room.Name()),
		ctx:      ctx,
		cancel:   cancel,
		outbound: make(chan Frame, sendQueueSize),
	}
	go link.run()
	return link
}

func (l *websocketLink) run() {
	conn, response, err := l.opener.client.Dialer().DialContext(l.ctx, l.opener.client.RoomURL(l.room), l.opener.client.Auth().Header())
	if err != nil {
		if l.ctx.Err() != nil {
			l.finish(l.reason())
			return
		}
		if response != nil {
			err = &jupyter.ServerError{
				StatusCode: response.StatusCode,
				Body:       netutil.ErrorBody(response.Body),
				Method:     http.MethodGet,
				Path:       "/api/collaboration/room/" + l.room.Name(),
			}
			response.Body.Close()
		} else {
			err = fmt.Errorf("collab: dialing room: %w", err)
		}
		l.finish(err)
		return
	}
	l.opener.client.Auth().Observe(response)

	l.mu.Lock()
	if l.ctx.Err() != nil {
		l.mu.Unlock()
		conn.Close()
		l.finish(l.reason())
		return
	}
	l.conn = conn
	l.mu.Unlock()

	if l.events.OnEstablished != nil {
		l.events.OnEstablished()
	}

	stopObserving := l.document.Observe(func(update notebook.Update) {
		if update.Origin != notebook.OriginLocal {
			return
		}
		l.enqueue(Frame{Type: FrameUpdate, Ops: update.Ops})
	})
	defer stopObserving()

	l.enqueue(Frame{Type: FrameSyncRequest})
	go l.writeLoop(conn)
	l.finish(l.readLoop(conn))
}

func (l *websocketLink) enqueue(frame Frame) {
	select {
	case l.outbound <- frame:
	default:
		l.logger.Warn("collaboration send queue full, dropping link")
		go l.closeWith(ErrSendQueueFull)
	}
}

func (l *websocketLink) readLoop(conn *websocket.Conn) error {
	conn.SetReadDeadline(time.Now().Add(pongWait)) //nolint:realclock network deadline
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait)) //nolint:realclock network deadline
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if l.ctx.Err() != nil {
				return l.reason()
			}
			if !netutil.IsExpectedCloseError(err) {
				l.logger.Warn("collaboration read failed", "error", err)
			}
			return fmt.Errorf("collab: reading room: %w", err)
		}
		conn.SetReadDeadline(time.Now().Add(pongWait)) //nolint:realclock network deadline

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			l.logger.Warn("discarding malformed collaboration frame", "error", err)
			continue
		}
		switch frame.Type {
		case FrameSync:
			if dropped := l.document.Load(frame.Cells); dropped > 0 {
				l.logger.Warn("local changes no longer apply after resync", "dropped_ops", dropped)
			}
			if l.events.OnSynced != nil {
				l.events.OnSynced()
			}
		case FrameUpdate:
			if err := l.document.ApplyUpdate(frame.Ops); err != nil {
				l.logger.Warn("remote update does not apply, requesting full state", "error", err)
				l.enqueue(Frame{Type: FrameSyncRequest})
			}
		default:
			l.logger.Debug("ignoring collaboration frame", "type", frame.Type)
		}
	}
}

func (l *websocketLink) writeLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval) //nolint:realclock keepalive
	defer ticker.Stop()
	for {
		select {
		case <-l.ctx.Done():
			return
		case frame := <-l.outbound:
			data, err := json.Marshal(frame)
			if err != nil {
				l.logger.Error("encoding collaboration frame", "error", err)
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:realclock network deadline
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				l.closeWith(fmt.Errorf("collab: writing room: %w", err))
				return
			}
		case <-ticker.C:
			deadline := time.Now().Add(writeWait) //nolint:realclock network deadline
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				l.closeWith(fmt.Errorf("collab: ping: %w", err))
				return
			}
		}
	}
}

// finish reports the end of the link exactly once.
func (l *websocketLink) finish(reason error) {
	l.cancel()
	l.mu.Lock()
	if l.reported {
		l.mu.Unlock()
		return
	}
	l.reported = true
	l.mu.Unlock()
	if l.events.OnClosed != nil {
		l.events.OnClosed(reason)
	}
}

// closeWith tears the connection down; the read loop then reports
// reason through finish.
func (l *websocketLink) closeWith(reason error) {
	l.closeOnce.Do(func() {
		l.logger.Debug("closing collaboration link", "reason", reason)
		l.mu.Lock()
		l.closeReason = reason
		conn := l.conn
		l.mu.Unlock()
		l.cancel()
		if conn != nil {
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second)) //nolint:realclock network deadline
			conn.Close()
		}
	})
}

func (l *websocketLink) reason() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closeReason != nil {
		return l.closeReason
	}
	return ErrLinkClosed
}

// Close ends the link without waiting for its goroutines.
func (l *websocketLink) Close() error {
	l.closeWith(ErrLinkClosed)
	return nil
}
