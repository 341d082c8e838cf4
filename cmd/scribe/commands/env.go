// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/muesli/termenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"

	"github.com/bureau-foundation/scribe"
	"github.com/bureau-foundation/scribe/cmd/scribe/cli"
	"github.com/bureau-foundation/scribe/lib/config"
	"github.com/bureau-foundation/scribe/lib/metrics"
	"github.com/bureau-foundation/scribe/lib/render"
)

// closeTimeout bounds the session teardown at the end of a command.
const closeTimeout = 10 * time.Second

// Streams are the standard streams commands read from and write to.
type Streams struct {
	In  io.Reader
	Out io.Writer
	Err io.Writer
}

// env is shared by every command in one tree.
type env struct {
	streams Streams
	level   *slog.LevelVar
}

// globals are the flags every notebook command accepts.
type globals struct {
	configPath    string
	outputJSON    bool
	metricsListen string
}

func (g *globals) bind(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&g.configPath, "config", "", "config file (default: $SCRIBE_CONFIG, else built-in defaults)")
	flagSet.BoolVar(&g.outputJSON, "json", false, "output as JSON")
	flagSet.StringVar(&g.metricsListen, "metrics-listen", "", "serve Prometheus metrics on this address while the command runs")
}

func (g *globals) loadConfig() (*config.Config, error) {
	var cfg *config.Config
	var err error
	switch {
	case g.configPath != "":
		cfg, err = config.LoadFile(g.configPath)
	case os.Getenv("SCRIBE_CONFIG") != "":
		cfg, err = config.Load()
	default:
		cfg = config.Default()
	}
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if g.metricsListen != "" {
		cfg.Metrics.Listen = g.metricsListen
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// withService builds a Service from configuration, runs fn, and closes
// every session fn opened.
func (e *env) withService(ctx context.Context, g *globals, logger *slog.Logger, fn func(*scribe.Service) error) error {
	cfg, err := g.loadConfig()
	if err != nil {
		return err
	}
	if level, err := cfg.Log.SlogLevel(); err == nil && e.level != nil {
		e.level.Set(level)
	}

	options := scribe.BuildOptions{Logger: logger}
	if cfg.Metrics.Listen != "" {
		registry := prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		options.Registerer = registry
		stop, err := serveMetrics(cfg.Metrics.Listen, registry, logger)
		if err != nil {
			return err
		}
		defer stop()
	}

	service, err := scribe.NewFromConfig(cfg, options)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
		defer cancel()
		if err := service.Close(closeCtx); err != nil {
			logger.Warn("closing sessions", "error", err)
		}
	}()
	return fn(service)
}

func serveMetrics(address string, gatherer prometheus.Gatherer, logger *slog.Logger) (func(), error) {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(gatherer))
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server stopped", "error", err)
		}
	}()
	logger.Debug("serving metrics", "address", listener.Addr().String())
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}, nil
}

// emit writes value as JSON when --json is set and reports whether it
// did.
func (e *env) emit(g *globals, value any) (bool, error) {
	if !g.outputJSON {
		return false, nil
	}
	return true, cli.WriteJSON(e.streams.Out, value)
}

func (e *env) printf(format string, args ...any) {
	fmt.Fprintf(e.streams.Out, format, args...)
}

// renderer styles output for stdout: colored when stdout is a
// terminal, plain otherwise.
func (e *env) renderer() *render.Renderer {
	profile := termenv.Ascii
	width := render.DefaultWidth
	if file, ok := e.streams.Out.(*os.File); ok {
		profile = termenv.NewOutput(file).ColorProfile()
		width = cli.TerminalWidth(file, render.DefaultWidth)
	}
	return render.New(e.streams.Out, render.Options{Width: width, Profile: profile})
}

// readText resolves a text flag value; "-" reads all of stdin.
func (e *env) readText(value string) (string, error) {
	if value != "-" {
		return value, nil
	}
	data, err := io.ReadAll(e.streams.In)
	if err != nil {
		return "", fmt.Errorf("reading stdin: %w", err)
	}
	return string(data), nil
}

func requirePath(args []string) (string, error) {
	if len(args) != 1 {
		return "", errors.New("expected exactly one notebook path")
	}
	if strings.TrimSpace(args[0]) == "" {
		return "", errors.New("notebook path is empty")
	}
	return args[0], nil
}
