// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package jupyter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/bureau-foundation/scribe/lib/netutil"
)

// ErrChannelClosed is returned by Execute when the kernel connection
// closes before the request completes.
var ErrChannelClosed = errors.New("jupyter: kernel channel closed")

// KernelChannel is a WebSocket connection to one kernel's channels
// endpoint. Execute may be called concurrently; each request gets its
// own messages.
type KernelChannel struct {
	kernelID  string
	sessionID string
	conn      *websocket.Conn
	logger    *slog.Logger
	now       func() time.Time

	writeMu sync.Mutex

	mu       sync.Mutex
	requests map[string]*pendingRequest
	closed   bool
	closeErr error
	done     chan struct{}
}

// pendingRequest tracks one execute_request until both its reply and
// the kernel's return to idle have been observed.
type pendingRequest struct {
	mu        sync.Mutex
	handle    func(Message)
	replied   bool
	idle      bool
	reply     ExecuteReply
	cancelled bool
	done      chan struct{}
}

// DialKernel connects to the channels endpoint of kernelID.
func (c *Client) DialKernel(ctx context.Context, kernelID string) (*KernelChannel, error) {
	sessionID := uuid.NewString()
	query := url.Values{"session_id": {sessionID}}
	endpoint := c.WebSocketURL("/api/kernels/"+url.PathEscape(kernelID)+"/channels", query)

	conn, response, err := c.dialer.DialContext(ctx, endpoint, c.auth.Header())
	if err != nil {
		if response != nil {
			defer response.Body.Close()
			return nil, &ServerError{
				StatusCode: response.StatusCode,
				Body:       netutil.ErrorBody(response.Body),
				Method:     http.MethodGet,
				Path:       "/api/kernels/" + kernelID + "/channels",
			}
		}
		return nil, fmt.Errorf("jupyter: dialing kernel %s: %w", kernelID, err)
	}
	c.auth.Observe(response)

	channel := &KernelChannel{
		kernelID:  kernelID,
		sessionID: sessionID,
		conn:      conn,
		logger:    c.logger.With("kernel_id", kernelID),
		now:       time.Now, //nolint:realclock message header timestamps only
		requests:  make(map[string]*pendingRequest),
		done:      make(chan struct{}),
	}
	go channel.readLoop()
	return channel, nil
}

// KernelID returns the id of the connected kernel.
func (k *KernelChannel) KernelID() string { return k.kernelID }

// Done is closed when the connection has ended.
func (k *KernelChannel) Done() <-chan struct{} { return k.done }

// Err returns why the connection ended, or nil while it is open.
func (k *KernelChannel) Err() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.closeErr
}

// Execute sends code to the kernel and calls handle, in arrival order,
// for every iopub message produced by the request. It returns the
// execute_reply once the kernel has also reported idle. handle runs on
// the connection's read goroutine and must not call back into the
// channel. When ctx ends first, Execute returns the context error and
// handle is not called again.
func (k *KernelChannel) Execute(ctx context.Context, code string, handle func(Message)) (ExecuteReply, error) {
	msgID := uuid.NewString()
	request := &pendingRequest{handle: handle, done: make(chan struct{})}

	k.mu.Lock()
	if k.closed {
		err := k.closeErr
		k.mu.Unlock()
		return ExecuteReply{}, err
	}
	k.requests[msgID] = request
	k.mu.Unlock()

	content, err := json.Marshal(ExecuteRequest{
		Code:            code,
		StoreHistory:    true,
		UserExpressions: map[string]any{},
		StopOnError:     true,
	})
	if err != nil {
		k.forget(msgID)
		return ExecuteReply{}, fmt.Errorf("jupyter: encoding execute_request: %w", err)
	}
	message := Message{
		Channel: "shell",
		Header: Header{
			MsgID:    msgID,
			MsgType:  MsgExecuteRequest,
			Session:  k.sessionID,
			Username: "scribe",
			Date:     k.now().UTC().Format(time.RFC3339Nano),
			Version:  protocolVersion,
		},
		Metadata: map[string]any{},
		Content:  content,
	}
	if err := k.send(message); err != nil {
		k.forget(msgID)
		return ExecuteReply{}, err
	}

	select {
	case <-request.done:
		return request.reply, nil
	case <-k.done:
		request.cancel()
		return ExecuteReply{}, k.Err()
	case <-ctx.Done():
		request.cancel()
		k.forget(msgID)
		return ExecuteReply{}, ctx.Err()
	}
}

func (k *KernelChannel) send(message Message) error {
	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("jupyter: encoding %s: %w", message.Header.MsgType, err)
	}
	k.writeMu.Lock()
	defer k.writeMu.Unlock()
	if err := k.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("jupyter: sending %s: %w", message.Header.MsgType, err)
	}
	return nil
}

func (k *KernelChannel) forget(msgID string) {
	k.mu.Lock()
	delete(k.requests, msgID)
	k.mu.Unlock()
}

func (r *pendingRequest) cancel() {
	r.mu.Lock()
	r.cancelled = true
	r.mu.Unlock()
}

// deliver hands one message to the request. It reports whether the
// request is complete.
func (r *pendingRequest) deliver(message Message) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancelled {
		return true
	}

	switch {
	case message.Channel == "shell" && message.Type() == MsgExecuteReply:
		if err := message.Decode(&r.reply); err != nil {
			r.reply = ExecuteReply{Status: "error", EName: "ProtocolError", EValue: err.Error()}
		}
		r.replied = true
	case message.Channel == "iopub":
		if message.Type() == MsgStatus {
			var status Status
			if message.Decode(&status) == nil && status.ExecutionState == "idle" {
				r.idle = true
			}
		}
		if r.handle != nil {
			r.handle(message)
		}
	}

	if r.replied && r.idle {
		close(r.done)
		return true
	}
	return false
}

func (k *KernelChannel) readLoop() {
	var readErr error
	for {
		_, data, err := k.conn.ReadMessage()
		if err != nil {
			readErr = err
			break
		}
		var message Message
		if err := json.Unmarshal(data, &message); err != nil {
			k.logger.Warn("discarding malformed kernel message", "error", err)
			continue
		}
		parentID := message.ParentHeader.MsgID
		if parentID == "" {
			continue
		}
		k.mu.Lock()
		request := k.requests[parentID]
		k.mu.Unlock()
		if request == nil {
			continue
		}
		if request.deliver(message) {
			k.forget(parentID)
		}
	}

	if !netutil.IsExpectedCloseError(readErr) {
		k.logger.Warn("kernel channel read failed", "error", readErr)
	}
	k.shutdown(fmt.Errorf("%w: %v", ErrChannelClosed, readErr))
}

func (k *KernelChannel) shutdown(reason error) {
	k.mu.Lock()
	if k.closed {
		k.mu.Unlock()
		return
	}
	k.closed = true
	k.closeErr = reason
	k.requests = make(map[string]*pendingRequest)
	k.mu.Unlock()
	close(k.done)
}

// Close ends the connection. Pending Execute calls return
// ErrChannelClosed. The kernel itself keeps running.
func (k *KernelChannel) Close() error {
	k.writeMu.Lock()
	deadline := k.now().Add(time.Second)
	_ = k.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	k.writeMu.Unlock()
	err := k.conn.Close()
	k.shutdown(ErrChannelClosed)
	return err
}
