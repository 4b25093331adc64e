// Package config loads buildlog CLI configuration.
//
// Configuration comes from, in increasing precedence: built-in defaults,
// one YAML or JSONC file (named by --config or BUILDLOG_CONFIG), and
// BUILDLOG_* environment variables. Command-line flags are applied last by
// the CLI itself.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Environment variables understood by Load and ApplyEnv.
const (
	EnvConfig         = "BUILDLOG_CONFIG"
	EnvEngine         = "BUILDLOG_ENGINE"
	EnvLogLevel       = "BUILDLOG_LOG_LEVEL"
	EnvLogFormat      = "BUILDLOG_LOG_FORMAT"
	EnvRequestTimeout = "BUILDLOG_REQUEST_TIMEOUT"
	EnvReadyTimeout   = "BUILDLOG_READY_TIMEOUT"
	EnvTraceWire      = "BUILDLOG_TRACE_WIRE"
)

// Config is the CLI configuration.
type Config struct {
	// Engine configures the engine child process.
	Engine EngineConfig `yaml:"engine" json:"engine"`

	// Session configures each engine session.
	Session SessionConfig `yaml:"session" json:"session"`

	// Log configures diagnostic logging.
	Log LogConfig `yaml:"log" json:"log"`
}

// EngineConfig configures the engine child process.
type EngineConfig struct {
	// Binary is the engine executable name or path.
	// Default: buildlog-engine
	Binary string `yaml:"binary" json:"binary"`

	// Args are passed to the engine before the log path.
	Args []string `yaml:"args,omitempty" json:"args,omitempty"`

	// Env holds extra environment variables for the engine.
	Env map[string]string `yaml:"env,omitempty" json:"env,omitempty"`

	// GracePeriod is the SIGTERM to SIGKILL delay, as a Go duration.
	// Default: 5s
	GracePeriod string `yaml:"grace_period" json:"grace_period"`
}

// SessionConfig configures each engine session.
type SessionConfig struct {
	// RequestTimeout bounds each request. Empty or "0" waits indefinitely.
	// Default: 30s
	RequestTimeout string `yaml:"request_timeout" json:"request_timeout"`

	// ReadyTimeout bounds the wait for the engine's ready event.
	// Default: 30s
	ReadyTimeout string `yaml:"ready_timeout" json:"ready_timeout"`

	// MaxMessageSize bounds a single engine message in bytes. Zero means
	// the library default.
	MaxMessageSize int `yaml:"max_message_size,omitempty" json:"max_message_size,omitempty"`

	// TraceWire logs all wire traffic at debug level.
	TraceWire bool `yaml:"trace_wire" json:"trace_wire"`
}

// LogConfig configures diagnostic logging.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	// Default: warn
	Level string `yaml:"level" json:"level"`

	// Format is text or json.
	// Default: text
	Format string `yaml:"format" json:"format"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			Binary:      "buildlog-engine",
			GracePeriod: "5s",
		},
		Session: SessionConfig{
			RequestTimeout: "30s",
			ReadyTimeout:   "30s",
		},
		Log: LogConfig{
			Level:  "warn",
			Format: "text",
		},
	}
}

// Load returns the defaults overlaid with the file at path (or the file
// named by BUILDLOG_CONFIG when path is empty) and then the environment.
// No file at all is fine; a named file that cannot be read is an error.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvConfig)
	}
	cfg := Default()
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile loads configuration from path without consulting the
// environment. Files ending in .json or .jsonc are JSON with comments and
// trailing commas; anything else is YAML. Unknown keys are errors.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFile merges the file at path into c.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		dec := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
		dec.DisallowUnknownFields()
		err = dec.Decode(c)
	default:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		err = dec.Decode(c)
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("config: %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides c from BUILDLOG_* variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str(EnvEngine, &c.Engine.Binary)
	str(EnvLogLevel, &c.Log.Level)
	str(EnvLogFormat, &c.Log.Format)
	str(EnvRequestTimeout, &c.Session.RequestTimeout)
	str(EnvReadyTimeout, &c.Session.ReadyTimeout)
	if v, ok := lookup(EnvTraceWire); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: %s: %w", EnvTraceWire, err)
		}
		c.Session.TraceWire = b
	}
	return nil
}

// Validate checks durations, log settings and the engine binary.
func (c *Config) Validate() error {
	var errs []error
	if c.Engine.Binary == "" {
		errs = append(errs, errors.New("engine.binary is empty"))
	}
	for name, v := range map[string]string{
		"engine.grace_period":     c.Engine.GracePeriod,
		"session.request_timeout": c.Session.RequestTimeout,
		"session.ready_timeout":   c.Session.ReadyTimeout,
	} {
		if _, err := parseDuration(v); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	if c.Session.MaxMessageSize < 0 {
		errs = append(errs, fmt.Errorf("session.max_message_size: negative value %d", c.Session.MaxMessageSize))
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level: unknown level %q", c.Log.Level))
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format: unknown format %q", c.Log.Format))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// GracePeriod returns engine.grace_period. Call after Validate.
func (c *Config) GracePeriod() time.Duration {
	d, _ := parseDuration(c.Engine.GracePeriod)
	return d
}

// RequestTimeout returns session.request_timeout. Call after Validate.
func (c *Config) RequestTimeout() time.Duration {
	d, _ := parseDuration(c.Session.RequestTimeout)
	return d
}

// ReadyTimeout returns session.ready_timeout. Call after Validate.
func (c *Config) ReadyTimeout() time.Duration {
	d, _ := parseDuration(c.Session.ReadyTimeout)
	return d
}

// parseDuration accepts Go durations, with empty meaning zero.
func parseDuration(s string) (time.Duration, error) {
	if s == "" || s == "0" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", s)
	}
	return d, nil
}
