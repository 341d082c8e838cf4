// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package jupyter

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"sort"
)

// Kernel describes a running kernel.
type Kernel struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	ExecutionState string `json:"execution_state,omitempty"`
	LastActivity   string `json:"last_activity,omitempty"`
}

// SessionModel is an entry from the sessions API: the association of
// a notebook path with a kernel.
type SessionModel struct {
	ID     string  `json:"id"`
	Path   string  `json:"path"`
	Name   string  `json:"name"`
	Type   string  `json:"type"`
	Kernel *Kernel `json:"kernel"`
}

// KernelSpec is one installed kernel type.
type KernelSpec struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Language    string `json:"language"`
}

type kernelSpecsResponse struct {
	Default     string `json:"default"`
	KernelSpecs map[string]struct {
		Name string `json:"name"`
		Spec struct {
			DisplayName string `json:"display_name"`
			Language    string `json:"language"`
		} `json:"spec"`
	} `json:"kernelspecs"`
}

// ListSessions returns every session known to the server.
func (c *Client) ListSessions(ctx context.Context) ([]SessionModel, error) {
	var sessions []SessionModel
	if err := c.doRequest(ctx, http.MethodGet, "/api/sessions", nil, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

// FindSession returns the session for notebookPath, or nil if none.
func (c *Client) FindSession(ctx context.Context, notebookPath string) (*SessionModel, error) {
	sessions, err := c.ListSessions(ctx)
	if err != nil {
		return nil, err
	}
	for index := range sessions {
		if sessions[index].Path == notebookPath && sessions[index].Kernel != nil {
			return &sessions[index], nil
		}
	}
	return nil, nil
}

// StartSession creates a session (and a kernel of kernelName) for
// notebookPath. The server reuses an existing session for the same
// path.
func (c *Client) StartSession(ctx context.Context, notebookPath, kernelName string) (*SessionModel, error) {
	request := map[string]any{
		"path":   notebookPath,
		"name":   path.Base(notebookPath),
		"type":   "notebook",
		"kernel": map[string]string{"name": kernelName},
	}
	var session SessionModel
	if err := c.doRequest(ctx, http.MethodPost, "/api/sessions", request, &session); err != nil {
		return nil, err
	}
	if session.Kernel == nil {
		return nil, fmt.Errorf("jupyter: session for %s has no kernel", notebookPath)
	}
	c.logger.Info("kernel session started",
		"path", notebookPath,
		"kernel_id", session.Kernel.ID,
		"kernel_name", session.Kernel.Name,
	)
	return &session, nil
}

// EnsureKernel returns the kernel attached to notebookPath, starting a
// kernelName kernel if the notebook has none.
func (c *Client) EnsureKernel(ctx context.Context, notebookPath, kernelName string) (Kernel, error) {
	existing, err := c.FindSession(ctx, notebookPath)
	if err != nil {
		return Kernel{}, err
	}
	if existing != nil {
		return *existing.Kernel, nil
	}
	started, err := c.StartSession(ctx, notebookPath, kernelName)
	if err != nil {
		return Kernel{}, err
	}
	return *started.Kernel, nil
}

// SwitchKernel replaces the kernel of notebookPath's session with a new
// kernel of kernelName, creating the session if needed.
func (c *Client) SwitchKernel(ctx context.Context, notebookPath, kernelName string) (Kernel, error) {
	existing, err := c.FindSession(ctx, notebookPath)
	if err != nil {
		return Kernel{}, err
	}
	if existing == nil {
		started, err := c.StartSession(ctx, notebookPath, kernelName)
		if err != nil {
			return Kernel{}, err
		}
		return *started.Kernel, nil
	}
	request := map[string]any{"kernel": map[string]string{"name": kernelName}}
	var updated SessionModel
	if err := c.doRequest(ctx, http.MethodPatch, "/api/sessions/"+url.PathEscape(existing.ID), request, &updated); err != nil {
		return Kernel{}, err
	}
	if updated.Kernel == nil {
		return Kernel{}, fmt.Errorf("jupyter: session %s has no kernel after switch", existing.ID)
	}
	c.logger.Info("kernel switched",
		"path", notebookPath,
		"kernel_id", updated.Kernel.ID,
		"kernel_name", updated.Kernel.Name,
	)
	return *updated.Kernel, nil
}

// GetKernel returns the current model of a kernel.
func (c *Client) GetKernel(ctx context.Context, kernelID string) (Kernel, error) {
	var kernel Kernel
	err := c.doRequest(ctx, http.MethodGet, "/api/kernels/"+url.PathEscape(kernelID), nil, &kernel)
	return kernel, err
}

// RestartKernel restarts a kernel in place. Its id is unchanged.
func (c *Client) RestartKernel(ctx context.Context, kernelID string) (Kernel, error) {
	var kernel Kernel
	err := c.doRequest(ctx, http.MethodPost, "/api/kernels/"+url.PathEscape(kernelID)+"/restart", nil, &kernel)
	return kernel, err
}

// InterruptKernel sends an interrupt to a kernel.
func (c *Client) InterruptKernel(ctx context.Context, kernelID string) error {
	return c.doRequest(ctx, http.MethodPost, "/api/kernels/"+url.PathEscape(kernelID)+"/interrupt", nil, nil)
}

// KernelSpecs lists installed kernel types sorted by name, and the
// server's default.
func (c *Client) KernelSpecs(ctx context.Context) ([]KernelSpec, string, error) {
	var response kernelSpecsResponse
	if err := c.doRequest(ctx, http.MethodGet, "/api/kernelspecs", nil, &response); err != nil {
		return nil, "", err
	}
	specs := make([]KernelSpec, 0, len(response.KernelSpecs))
	for name, entry := range response.KernelSpecs {
		specs = append(specs, KernelSpec{
			Name:        name,
			DisplayName: entry.Spec.DisplayName,
			Language:    entry.Spec.Language,
		})
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs, response.Default, nil
}
