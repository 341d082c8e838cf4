// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that reads Go duration strings from
// both YAML and JSON.
type Duration time.Duration

// UnmarshalText parses a duration string such as "30s".
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText formats the duration the way time.Duration prints it.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the complete scribe configuration.
type Config struct {
	// Server identifies the Jupyter server and how to authenticate.
	Server ServerConfig `yaml:"server" json:"server"`

	// Session tunes connection supervision.
	Session SessionConfig `yaml:"session" json:"session"`

	// Execution tunes the execution engine.
	Execution ExecutionConfig `yaml:"execution" json:"execution"`

	// Paths configures on-disk locations.
	Paths PathsConfig `yaml:"paths" json:"paths"`

	// Metrics configures the Prometheus endpoint.
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`

	// Log configures the process logger.
	Log LogConfig `yaml:"log" json:"log"`
}

// ServerConfig identifies the Jupyter server.
type ServerConfig struct {
	// URL is the server base URL, e.g. http://localhost:8888.
	URL string `yaml:"url" json:"url"`

	// Token is an inline API token. Prefer TokenFile or SealedTokenFile.
	Token string `yaml:"token" json:"token"`

	// TokenFile is a file whose trimmed contents are the token.
	TokenFile string `yaml:"token_file" json:"token_file"`

	// SealedTokenFile is an age-encrypted token file, decrypted with
	// IdentityFile.
	SealedTokenFile string `yaml:"sealed_token_file" json:"sealed_token_file"`

	// IdentityFile holds the age identity for SealedTokenFile.
	IdentityFile string `yaml:"identity_file" json:"identity_file"`

	// Headers are attached to every request and WebSocket handshake.
	Headers map[string]string `yaml:"headers" json:"headers"`
}

// SessionConfig tunes session supervision.
type SessionConfig struct {
	// SyncTimeout bounds each wait for document synchronization.
	// Default: 30s
	SyncTimeout Duration `yaml:"sync_timeout" json:"sync_timeout"`

	// DialTimeout bounds each WebSocket handshake.
	// Default: 10s
	DialTimeout Duration `yaml:"dial_timeout" json:"dial_timeout"`

	// IdleTimeout evicts sessions with no activity for this long.
	// Default: 10m
	IdleTimeout Duration `yaml:"idle_timeout" json:"idle_timeout"`

	// Backoff is the reconnect policy.
	Backoff BackoffConfig `yaml:"backoff" json:"backoff"`
}

// BackoffConfig is the reconnect policy.
type BackoffConfig struct {
	// Base is the delay before the first reconnect attempt. Default: 1s
	Base Duration `yaml:"base" json:"base"`

	// Max caps the delay. Default: 30s
	Max Duration `yaml:"max" json:"max"`

	// MaxAttempts bounds consecutive failed attempts. Default: 10
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts"`
}

// ExecutionConfig tunes the execution engine.
type ExecutionConfig struct {
	// Timeout bounds one cell execution; the kernel is interrupted
	// when it elapses. Default: 5m
	Timeout Duration `yaml:"timeout" json:"timeout"`

	// MaxOutputLength is the longest textual output field returned to
	// callers before truncation. Default: 10000
	MaxOutputLength int `yaml:"max_output_length" json:"max_output_length"`

	// KernelName is the kernel started for notebooks with none running.
	// Default: python3
	KernelName string `yaml:"kernel_name" json:"kernel_name"`
}

// PathsConfig configures on-disk locations.
type PathsConfig struct {
	// State holds execution watchdog markers.
	State string `yaml:"state" json:"state"`

	// Spill holds the full text of truncated outputs.
	Spill string `yaml:"spill" json:"spill"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Listen is the address for /metrics. Empty disables it.
	Listen string `yaml:"listen" json:"listen"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is one of debug, info, warn, error. Default: info
	Level string `yaml:"level" json:"level"`
}

// Default returns the configuration used before any file is applied.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	defaultState := filepath.Join(homeDir, ".local", "state", "scribe")

	return &Config{
		Server: ServerConfig{
			URL: "http://localhost:8888",
		},
		Session: SessionConfig{
			SyncTimeout: Duration(30 * time.Second),
			DialTimeout: Duration(10 * time.Second),
			IdleTimeout: Duration(10 * time.Minute),
			Backoff: BackoffConfig{
				Base:        Duration(time.Second),
				Max:         Duration(30 * time.Second),
				MaxAttempts: 10,
			},
		},
		Execution: ExecutionConfig{
			Timeout:         Duration(5 * time.Minute),
			MaxOutputLength: 10000,
			KernelName:      "python3",
		},
		Paths: PathsConfig{
			State: defaultState,
			Spill: filepath.Join(defaultState, "spill"),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from the file named by SCRIBE_CONFIG.
func Load() (*Config, error) {
	configPath := os.Getenv("SCRIBE_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("SCRIBE_CONFIG environment variable not set; " +
			"set it to the path of your scribe.yaml config file, or use --config flag")
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path, on top of
// [Default].
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}
	cfg.expandVariables()
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		if err := json.Unmarshal(jsonc.ToJSON(data), c); err != nil {
			return fmt.Errorf("parsing %s: %w", path, err)
		}
	default:
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("parsing %s: %w", path, err)
		}
	}
	return nil
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}

	c.Paths.State = expandVars(c.Paths.State, vars)
	vars["SCRIBE_STATE"] = c.Paths.State

	c.Paths.Spill = expandVars(c.Paths.Spill, vars)
	c.Server.TokenFile = expandVars(c.Server.TokenFile, vars)
	c.Server.SealedTokenFile = expandVars(c.Server.SealedTokenFile, vars)
	c.Server.IdentityFile = expandVars(c.Server.IdentityFile, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.URL == "" {
		errs = append(errs, fmt.Errorf("server.url is required"))
	} else if parsed, err := url.Parse(c.Server.URL); err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		errs = append(errs, fmt.Errorf("server.url must be an http or https URL, got %q", c.Server.URL))
	}

	tokenSources := 0
	for _, source := range []string{c.Server.Token, c.Server.TokenFile, c.Server.SealedTokenFile} {
		if source != "" {
			tokenSources++
		}
	}
	if tokenSources > 1 {
		errs = append(errs, fmt.Errorf("server: at most one of token, token_file, sealed_token_file may be set"))
	}
	if c.Server.SealedTokenFile != "" && c.Server.IdentityFile == "" {
		errs = append(errs, fmt.Errorf("server.identity_file is required with sealed_token_file"))
	}

	if c.Session.SyncTimeout <= 0 {
		errs = append(errs, fmt.Errorf("session.sync_timeout must be positive"))
	}
	if c.Session.DialTimeout <= 0 {
		errs = append(errs, fmt.Errorf("session.dial_timeout must be positive"))
	}
	if c.Session.IdleTimeout <= 0 {
		errs = append(errs, fmt.Errorf("session.idle_timeout must be positive"))
	}
	if c.Session.Backoff.Base <= 0 {
		errs = append(errs, fmt.Errorf("session.backoff.base must be positive"))
	}
	if c.Session.Backoff.Max < c.Session.Backoff.Base {
		errs = append(errs, fmt.Errorf("session.backoff.max must be at least session.backoff.base"))
	}
	if c.Session.Backoff.MaxAttempts <= 0 {
		errs = append(errs, fmt.Errorf("session.backoff.max_attempts must be positive"))
	}

	if c.Execution.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("execution.timeout must be positive"))
	}
	if c.Execution.MaxOutputLength <= 0 {
		errs = append(errs, fmt.Errorf("execution.max_output_length must be positive"))
	}
	if c.Execution.KernelName == "" {
		errs = append(errs, fmt.Errorf("execution.kernel_name is required"))
	}

	if _, err := c.Log.SlogLevel(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// SlogLevel maps the configured level name to a slog.Level.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("log.level must be one of debug, info, warn, error, got %q", l.Level)
	}
}

// EnsurePaths creates the state and spill directories.
func (c *Config) EnsurePaths() error {
	for _, path := range []string{c.Paths.State, c.Paths.Spill} {
		if path == "" {
			continue
		}
		if err := os.MkdirAll(path, 0700); err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
	}
	return nil
}
