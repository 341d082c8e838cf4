// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package scribe

import (
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bureau-foundation/scribe/auth"
	"github.com/bureau-foundation/scribe/execute"
	"github.com/bureau-foundation/scribe/jupyter"
	"github.com/bureau-foundation/scribe/lib/backoff"
	"github.com/bureau-foundation/scribe/lib/config"
	"github.com/bureau-foundation/scribe/lib/metrics"
	"github.com/bureau-foundation/scribe/lib/spill"
	"github.com/bureau-foundation/scribe/lib/watchdog"
	"github.com/bureau-foundation/scribe/session"
)

// requestTimeout bounds each REST call to the Jupyter server.
const requestTimeout = time.Minute

// BuildOptions supplies the process-level dependencies of
// NewFromConfig.
type BuildOptions struct {
	// Registerer receives scribe's metrics. Nil disables metrics.
	Registerer prometheus.Registerer

	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// NewFromConfig assembles a Service from configuration. The Service
// owns the auth context and the spill store; Service.Close releases
// them.
func NewFromConfig(cfg *config.Config, options BuildOptions) (*Service, error) {
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.EnsurePaths(); err != nil {
		return nil, fmt.Errorf("scribe: %w", err)
	}

	authContext, err := auth.FromConfig(cfg.Server)
	if err != nil {
		return nil, fmt.Errorf("scribe: loading credentials: %w", err)
	}
	client, err := jupyter.NewClient(jupyter.ClientConfig{
		ServerURL:   cfg.Server.URL,
		Auth:        authContext,
		HTTPClient:  &http.Client{Timeout: requestTimeout},
		DialTimeout: cfg.Session.DialTimeout.Std(),
		Logger:      logger,
	})
	if err != nil {
		authContext.Close()
		return nil, err
	}

	spillStore, err := spill.Open(cfg.Paths.Spill)
	if err != nil {
		authContext.Close()
		return nil, err
	}
	watchdogStore, err := watchdog.NewStore(filepath.Join(cfg.Paths.State, "executions"))
	if err != nil {
		spillStore.Close()
		authContext.Close()
		return nil, err
	}

	var processMetrics *metrics.Metrics
	if options.Registerer != nil {
		processMetrics = metrics.New(options.Registerer)
	}

	registry, err := session.NewRegistry(session.RegistryConfig{
		// Each session gets its own copy of the auth context so that
		// cookies set on one room never leak into another.
		NewServer: func() session.Server {
			return session.NewServer(client.WithAuth(client.Auth().Clone()), logger)
		},
		Backoff: backoff.Policy{
			Base:        cfg.Session.Backoff.Base.Std(),
			Max:         cfg.Session.Backoff.Max.Std(),
			MaxAttempts: cfg.Session.Backoff.MaxAttempts,
		},
		SyncTimeout: cfg.Session.SyncTimeout.Std(),
		IdleTimeout: cfg.Session.IdleTimeout.Std(),
		KernelName:  cfg.Execution.KernelName,
		Watchdog:    watchdogStore,
		Metrics:     processMetrics,
		Logger:      logger,
	})
	if err != nil {
		spillStore.Close()
		authContext.Close()
		return nil, err
	}

	engine := execute.NewEngine(execute.Config{
		Timeout:         cfg.Execution.Timeout.Std(),
		MaxOutputLength: cfg.Execution.MaxOutputLength,
		Spill:           spillStore,
		Metrics:         processMetrics,
		Logger:          logger,
	})

	return New(Config{
		Registry: registry,
		Engine:   engine,
		Spill:    spillStore,
		Closers:  []func() error{spillStore.Close, authContext.Close},
		Logger:   logger,
	})
}
