// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package jupyter

import (
	"errors"
	"fmt"
	"net/http"
)

// ServerError is a non-2xx response from the Jupyter server. Callers
// extract it with errors.As:
//
//	var serverErr *jupyter.ServerError
//	if errors.As(err, &serverErr) && serverErr.StatusCode == http.StatusNotFound { ... }
type ServerError struct {
	// StatusCode is the HTTP status of the response.
	StatusCode int `json:"-"`
	// Message is the server's "message" field, if the body was JSON
	// and carried one.
	Message string `json:"message"`
	// Reason is the server's "reason" field, if present.
	Reason string `json:"reason"`
	// Body is the raw response body.
	Body string `json:"-"`
	// Method and Path identify the failed request.
	Method string `json:"-"`
	Path   string `json:"-"`
}

func (e *ServerError) Error() string {
	detail := e.Message
	if detail == "" {
		detail = e.Body
	}
	if detail == "" {
		detail = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("jupyter: %s %s: %d: %s", e.Method, e.Path, e.StatusCode, detail)
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var serverErr *ServerError
	if errors.As(err, &serverErr) {
		return serverErr.StatusCode == http.StatusNotFound
	}
	return false
}
