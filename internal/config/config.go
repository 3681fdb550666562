// Package config loads the loopsched configuration file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/loopsched/internal/target"
)

// Config is the configuration file (~/.config/loopsched/config.yaml).
// Pointer fields distinguish "not set" from zero values.
type Config struct {
	// Hardware target
	TargetName *string `yaml:"target"`
	MaxThreads *int    `yaml:"max_threads"`
	MaxBlocks  *int    `yaml:"max_blocks"`

	// Exploration
	Rules     []string `yaml:"rules"`
	Workers   *int     `yaml:"workers"`
	MaxStates *int     `yaml:"max_states"`

	// Persistence
	StorePath string `yaml:"store_path"`

	// Output
	LogLevel string `yaml:"log_level"`
}

// DefaultPath returns the per-user config file path, or "" when the user
// config directory is unknown.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "loopsched", "config.yaml")
}

// Load reads the config file at path. A missing file yields a zero Config;
// a file that exists but does not parse is an error.
func Load(path string) (Config, error) {
	if path == "" {
		return Config{}, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Config{}, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes a config document. Unknown keys are rejected.
func Parse(data []byte) (Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks set fields for out-of-range values.
func (c Config) Validate() error {
	if err := c.Target().Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.Workers != nil && *c.Workers <= 0 {
		return fmt.Errorf("config: workers must be positive, got %d", *c.Workers)
	}
	if c.MaxStates != nil && *c.MaxStates <= 0 {
		return fmt.Errorf("config: max_states must be positive, got %d", *c.MaxStates)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Target returns target.DefaultNVGPU() with the configured overrides.
func (c Config) Target() target.Target {
	t := target.DefaultNVGPU()
	if c.TargetName != nil {
		t.Name = *c.TargetName
	}
	if c.MaxThreads != nil {
		t.MaxThreads = *c.MaxThreads
	}
	if c.MaxBlocks != nil {
		t.MaxBlocks = *c.MaxBlocks
	}
	return t
}

// WorkersOr returns the configured worker count, or def when unset.
func (c Config) WorkersOr(def int) int {
	if c.Workers != nil {
		return *c.Workers
	}
	return def
}

// MaxStatesOr returns the configured frontier bound, or def when unset.
func (c Config) MaxStatesOr(def int) int {
	if c.MaxStates != nil {
		return *c.MaxStates
	}
	return def
}

// Level parses LogLevel. An empty level is slog.LevelWarn.
func (c Config) Level() (slog.Level, error) {
	switch strings.ToLower(c.LogLevel) {
	case "":
		return slog.LevelWarn, nil
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("config: unknown log_level %q", c.LogLevel)
}
