// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package jupyter

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bureau-foundation/scribe/auth"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := NewClient(ClientConfig{ServerURL: server.URL})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client
}

func TestNewClientValidation(t *testing.T) {
	for _, serverURL := range []string{"", "ftp://host", "://bad"} {
		if _, err := NewClient(ClientConfig{ServerURL: serverURL}); err == nil {
			t.Errorf("NewClient(%q) succeeded, want error", serverURL)
		}
	}
}

func TestRequestSession(t *testing.T) {
	var gotPath, gotMethod string
	var gotBody map[string]string
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		gotMethod = r.Method
		json.NewDecoder(r.Body).Decode(&gotBody)
		io.WriteString(w, `{"format":"json","type":"notebook","fileId":"f-1","sessionId":"s-1"}`)
	}))

	room, err := client.RequestSession(context.Background(), "dir/my notebook.ipynb")
	if err != nil {
		t.Fatalf("RequestSession: %v", err)
	}
	if gotMethod != http.MethodPut {
		t.Errorf("method = %s, want PUT", gotMethod)
	}
	if gotPath != "/api/collaboration/session/dir/my%20notebook.ipynb" {
		t.Errorf("path = %s", gotPath)
	}
	if gotBody["format"] != "json" || gotBody["type"] != "notebook" {
		t.Errorf("body = %v", gotBody)
	}
	if room.Name() != "json:notebook:f-1" || room.SessionID != "s-1" {
		t.Errorf("room = %+v", room)
	}
	if got := client.RoomURL(room); !strings.HasPrefix(got, "ws://") ||
		!strings.HasSuffix(got, "/api/collaboration/room/json:notebook:f-1?sessionId=s-1") {
		t.Errorf("RoomURL = %s", got)
	}
}

func TestRequestSessionErrors(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		wantMessage string
	}{
		{"server message", http.StatusForbidden, `{"message":"Permission denied","reason":"xsrf"}`, "Permission denied"},
		{"raw body", http.StatusBadGateway, "upstream exploded", "upstream exploded"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(test.status)
				io.WriteString(w, test.body)
			}))
			_, err := client.RequestSession(context.Background(), "x.ipynb")
			var serverErr *ServerError
			if !errors.As(err, &serverErr) {
				t.Fatalf("error %v is not a *ServerError", err)
			}
			if serverErr.StatusCode != test.status {
				t.Errorf("status = %d", serverErr.StatusCode)
			}
			if !strings.Contains(err.Error(), test.wantMessage) {
				t.Errorf("error %q does not contain %q", err, test.wantMessage)
			}
		})
	}
}

func TestIncompleteRoomRejected(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"format":"json","type":"notebook"}`)
	}))
	if _, err := client.RequestSession(context.Background(), "x.ipynb"); err == nil {
		t.Fatal("expected error for descriptor without fileId")
	}
}

func TestRequestsCarryAuth(t *testing.T) {
	var gotHeader string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("X-Agent")
		io.WriteString(w, `[]`)
	}))
	defer server.Close()
	client, err := NewClient(ClientConfig{
		ServerURL: server.URL,
		Auth:      auth.New(nil, map[string]string{"X-Agent": "scribe"}),
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := client.ListSessions(context.Background()); err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if gotHeader != "scribe" {
		t.Errorf("X-Agent = %q", gotHeader)
	}
}

func TestEnsureKernel(t *testing.T) {
	var started int
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/api/sessions":
			io.WriteString(w, `[{"id":"sess-a","path":"a.ipynb","kernel":{"id":"k-a","name":"python3"}}]`)
		case r.Method == http.MethodPost && r.URL.Path == "/api/sessions":
			started++
			var request map[string]any
			json.NewDecoder(r.Body).Decode(&request)
			kernel := request["kernel"].(map[string]any)
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(SessionModel{
				ID: "sess-b", Path: request["path"].(string),
				Kernel: &Kernel{ID: "k-b", Name: kernel["name"].(string)},
			})
		default:
			http.NotFound(w, r)
		}
	}))

	existing, err := client.EnsureKernel(context.Background(), "a.ipynb", "python3")
	if err != nil {
		t.Fatalf("EnsureKernel existing: %v", err)
	}
	if existing.ID != "k-a" || started != 0 {
		t.Errorf("existing kernel = %+v, started = %d", existing, started)
	}

	created, err := client.EnsureKernel(context.Background(), "b.ipynb", "julia")
	if err != nil {
		t.Fatalf("EnsureKernel new: %v", err)
	}
	if created.ID != "k-b" || created.Name != "julia" || started != 1 {
		t.Errorf("created kernel = %+v, started = %d", created, started)
	}
}

func TestSwitchKernel(t *testing.T) {
	var patched string
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/api/sessions":
			io.WriteString(w, `[{"id":"sess-a","path":"a.ipynb","kernel":{"id":"k-a","name":"python3"}}]`)
		case r.Method == http.MethodPatch && r.URL.Path == "/api/sessions/sess-a":
			patched = r.URL.Path
			io.WriteString(w, `{"id":"sess-a","path":"a.ipynb","kernel":{"id":"k-r","name":"ir"}}`)
		default:
			http.NotFound(w, r)
		}
	}))

	kernel, err := client.SwitchKernel(context.Background(), "a.ipynb", "ir")
	if err != nil {
		t.Fatalf("SwitchKernel: %v", err)
	}
	if patched == "" || kernel.ID != "k-r" || kernel.Name != "ir" {
		t.Errorf("kernel = %+v, patched = %q", kernel, patched)
	}
}

func TestRestartAndInterrupt(t *testing.T) {
	var calls []string
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.Method+" "+r.URL.Path)
		switch r.URL.Path {
		case "/api/kernels/k-1/restart":
			io.WriteString(w, `{"id":"k-1","name":"python3","execution_state":"restarting"}`)
		case "/api/kernels/k-1/interrupt":
			w.WriteHeader(http.StatusNoContent)
		case "/api/kernels/missing":
			w.WriteHeader(http.StatusNotFound)
			io.WriteString(w, `{"message":"Kernel does not exist: missing"}`)
		}
	}))

	kernel, err := client.RestartKernel(context.Background(), "k-1")
	if err != nil || kernel.ExecutionState != "restarting" {
		t.Fatalf("RestartKernel = %+v, %v", kernel, err)
	}
	if err := client.InterruptKernel(context.Background(), "k-1"); err != nil {
		t.Fatalf("InterruptKernel: %v", err)
	}
	if _, err := client.GetKernel(context.Background(), "missing"); !IsNotFound(err) {
		t.Fatalf("GetKernel missing: %v, want not found", err)
	}
	want := []string{"POST /api/kernels/k-1/restart", "POST /api/kernels/k-1/interrupt", "GET /api/kernels/missing"}
	if strings.Join(calls, ",") != strings.Join(want, ",") {
		t.Errorf("calls = %v", calls)
	}
}

func TestKernelSpecs(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"default":"python3","kernelspecs":{
			"python3":{"name":"python3","spec":{"display_name":"Python 3","language":"python"}},
			"ir":{"name":"ir","spec":{"display_name":"R","language":"R"}}}}`)
	}))
	specs, defaultName, err := client.KernelSpecs(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if defaultName != "python3" || len(specs) != 2 || specs[0].Name != "ir" || specs[1].DisplayName != "Python 3" {
		t.Errorf("specs = %+v default = %s", specs, defaultName)
	}
}
