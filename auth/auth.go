// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package auth carries the credentials scribe attaches to every request
// it makes to a Jupyter server.
//
// A [Context] is an explicit value: each Session, REST client, and
// WebSocket dialer receives one at construction and nothing reads
// process-wide cookie or header state. Cookies the server sets (the
// _xsrf cookie in particular) are recorded on the Context that
// received them, so two sessions with different contexts never see
// each other's cookies.
package auth

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/bureau-foundation/scribe/lib/config"
	"github.com/bureau-foundation/scribe/lib/sealed"
	"github.com/bureau-foundation/scribe/lib/secret"
)

// xsrfCookie is the cookie Jupyter Server uses for XSRF protection.
// Its value must be echoed in the X-XSRFToken header on unsafe methods
// when cookie authentication is in use.
const xsrfCookie = "_xsrf"

// Context holds a token, static headers, and the cookies collected for
// one logical client. Safe for concurrent use.
type Context struct {
	token   *secret.Buffer
	headers http.Header

	mu      sync.Mutex
	cookies map[string]*http.Cookie
}

// New returns a Context. token may be nil for servers without token
// authentication. The Context takes ownership of token.
func New(token *secret.Buffer, headers map[string]string) *Context {
	context := &Context{
		token:   token,
		headers: make(http.Header),
		cookies: make(map[string]*http.Cookie),
	}
	for name, value := range headers {
		context.headers.Set(name, value)
	}
	return context
}

// FromConfig builds a Context from server configuration, loading the
// token from whichever source is configured.
func FromConfig(server config.ServerConfig) (*Context, error) {
	token, err := loadToken(server)
	if err != nil {
		return nil, err
	}
	return New(token, server.Headers), nil
}

func loadToken(server config.ServerConfig) (*secret.Buffer, error) {
	switch {
	case server.SealedTokenFile != "":
		token, err := sealed.DecryptFile(server.SealedTokenFile, server.IdentityFile)
		if err != nil {
			return nil, fmt.Errorf("auth: decrypting sealed token: %w", err)
		}
		return token, nil
	case server.TokenFile != "":
		token, err := secret.ReadFile(server.TokenFile)
		if err != nil {
			return nil, fmt.Errorf("auth: reading token file: %w", err)
		}
		return token, nil
	case server.Token != "":
		token, err := secret.NewFromBytes([]byte(server.Token))
		if err != nil {
			return nil, fmt.Errorf("auth: protecting token: %w", err)
		}
		return token, nil
	default:
		return nil, nil
	}
}

// Clone returns a Context with the same token and headers and a copy of
// the current cookies. The clone does not own the token: Close it only
// on the original.
func (c *Context) Clone() *Context {
	clone := &Context{
		token:   c.token,
		headers: c.headers.Clone(),
		cookies: make(map[string]*http.Cookie),
	}
	c.mu.Lock()
	for name, cookie := range c.cookies {
		copied := *cookie
		clone.cookies[name] = &copied
	}
	c.mu.Unlock()
	return clone
}

// Apply attaches credentials to an outgoing request.
func (c *Context) Apply(request *http.Request) {
	for name, values := range c.Header() {
		for _, value := range values {
			request.Header.Add(name, value)
		}
	}
}

// Header returns the full header set for a request or WebSocket
// handshake: static headers, Authorization, Cookie, and X-XSRFToken.
func (c *Context) Header() http.Header {
	header := c.headers.Clone()
	if c.token != nil && c.token.Len() > 0 {
		header.Set("Authorization", "token "+c.token.String())
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.cookies) == 0 {
		return header
	}
	var cookieHeader string
	for _, cookie := range c.cookies {
		if cookieHeader != "" {
			cookieHeader += "; "
		}
		cookieHeader += cookie.Name + "=" + cookie.Value
	}
	header.Set("Cookie", cookieHeader)
	if xsrf, ok := c.cookies[xsrfCookie]; ok {
		header.Set("X-XSRFToken", xsrf.Value)
	}
	return header
}

// Observe records cookies set by a server response.
func (c *Context) Observe(response *http.Response) {
	cookies := response.Cookies()
	if len(cookies) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, cookie := range cookies {
		if cookie.MaxAge < 0 {
			delete(c.cookies, cookie.Name)
			continue
		}
		c.cookies[cookie.Name] = cookie
	}
}

// Close releases the token buffer.
func (c *Context) Close() error {
	if c.token == nil {
		return nil
	}
	return c.token.Close()
}
