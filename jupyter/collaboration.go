// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package jupyter

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

// Room identifies one collaboration room. It is obtained once per
// document from [Client.RequestSession] and never changes.
type Room struct {
	Format    string `json:"format"`
	Type      string `json:"type"`
	FileID    string `json:"fileId"`
	SessionID string `json:"sessionId"`
}

// Name returns the room name used on the wire: format:type:fileId.
func (r Room) Name() string {
	return r.Format + ":" + r.Type + ":" + r.FileID
}

// Validate checks that every field the transport needs is present.
func (r Room) Validate() error {
	if r.Format == "" || r.Type == "" || r.FileID == "" {
		return fmt.Errorf("jupyter: incomplete room descriptor %+v", r)
	}
	return nil
}

// RequestSession negotiates a collaboration session for the document at
// path and returns the room to connect to.
func (c *Client) RequestSession(ctx context.Context, path string) (Room, error) {
	request := map[string]string{"format": "json", "type": "notebook"}
	var room Room
	if err := c.doRequest(ctx, http.MethodPut, "/api/collaboration/session/"+escapePath(path), request, &room); err != nil {
		return Room{}, err
	}
	if err := room.Validate(); err != nil {
		return Room{}, err
	}
	c.logger.Debug("collaboration session negotiated",
		"path", path,
		"room", room.Name(),
	)
	return room, nil
}

// RoomURL returns the WebSocket URL of a collaboration room.
func (c *Client) RoomURL(room Room) string {
	query := url.Values{}
	if room.SessionID != "" {
		query.Set("sessionId", room.SessionID)
	}
	return c.WebSocketURL("/api/collaboration/room/"+url.PathEscape(room.Name()), query)
}
