// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package jupyter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bureau-foundation/scribe/auth"
	"github.com/bureau-foundation/scribe/lib/netutil"
)

// ClientConfig holds configuration for creating a Client.
type ClientConfig struct {
	// ServerURL is the base URL of the Jupyter server
	// (e.g., "http://localhost:8888"). A base path such as
	// "/user/alice" is preserved.
	ServerURL string
	// Auth supplies the token, headers, and cookies for every request.
	// If nil, requests are unauthenticated.
	Auth *auth.Context
	// HTTPClient is used for all requests. If nil, http.DefaultClient is used.
	HTTPClient *http.Client
	// DialTimeout bounds WebSocket handshakes. Zero means 10 seconds.
	DialTimeout time.Duration
	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Client talks to one Jupyter server.
type Client struct {
	baseURL    string
	auth       *auth.Context
	httpClient *http.Client
	dialer     *websocket.Dialer
	logger     *slog.Logger
}

// NewClient creates a Client.
func NewClient(config ClientConfig) (*Client, error) {
	if config.ServerURL == "" {
		return nil, fmt.Errorf("jupyter: ServerURL is required")
	}
	parsed, err := url.Parse(config.ServerURL)
	if err != nil {
		return nil, fmt.Errorf("jupyter: invalid ServerURL %q: %w", config.ServerURL, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("jupyter: ServerURL %q must use http or https", config.ServerURL)
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	authContext := config.Auth
	if authContext == nil {
		authContext = auth.New(nil, nil)
	}
	dialTimeout := config.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 10 * time.Second
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:    strings.TrimRight(config.ServerURL, "/"),
		auth:       authContext,
		httpClient: httpClient,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: dialTimeout,
		},
		logger: logger,
	}, nil
}

// Auth returns the credentials this client attaches to requests.
func (c *Client) Auth() *auth.Context { return c.auth }

// WithAuth returns a Client sharing this one's transport but sending
// the given credentials.
func (c *Client) WithAuth(authContext *auth.Context) *Client {
	clone := *c
	clone.auth = authContext
	return &clone
}

// Dialer returns the WebSocket dialer shared by kernel channels and the
// collaboration transport.
func (c *Client) Dialer() *websocket.Dialer { return c.dialer }

// WebSocketURL returns the ws:// or wss:// URL for an API path.
func (c *Client) WebSocketURL(path string, query url.Values) string {
	base := c.baseURL
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	result := base + path
	if len(query) > 0 {
		result += "?" + query.Encode()
	}
	return result
}

// escapePath escapes each segment of a notebook path for use in a URL
// while keeping the separators.
func escapePath(path string) string {
	segments := strings.Split(strings.TrimLeft(path, "/"), "/")
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	return strings.Join(segments, "/")
}

// doRequest performs a JSON request against the server and decodes a
// 2xx response into responseBody (which may be nil). Non-2xx responses
// return a *ServerError.
func (c *Client) doRequest(ctx context.Context, method, path string, requestBody, responseBody any) error {
	var bodyReader io.Reader
	if requestBody != nil {
		encoded, err := json.Marshal(requestBody)
		if err != nil {
			return fmt.Errorf("jupyter: failed to encode request body: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("jupyter: failed to create request: %w", err)
	}
	if requestBody != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	c.auth.Apply(request)

	response, err := c.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("jupyter: request to %s %s failed: %w", method, path, err)
	}
	defer response.Body.Close()
	c.auth.Observe(response)

	data, err := netutil.ReadResponse(response.Body)
	if err != nil {
		return fmt.Errorf("jupyter: failed to read response body: %w", err)
	}

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		serverErr := &ServerError{
			StatusCode: response.StatusCode,
			Body:       strings.TrimSpace(string(data)),
			Method:     method,
			Path:       path,
		}
		// Non-JSON bodies (proxies, HTML error pages) leave Message
		// empty and Error() falls back to the raw body.
		_ = json.Unmarshal(data, serverErr)
		return serverErr
	}

	if responseBody == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, responseBody); err != nil {
		return fmt.Errorf("jupyter: decoding %s %s response: %w", method, path, err)
	}
	return nil
}
