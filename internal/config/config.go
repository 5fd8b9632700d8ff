// Package config loads the controller and CLI front-end's on-disk
// settings, following the teacher's YAML-config convention.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/monarch-project/dbgmesh/internal/wire"
)

// Config holds settings shared by cmd/dbgctl and cmd/dbgcli, persisted at
// ~/.config/dbgmesh/config.yaml.
type Config struct {
	// Addr is used when MONARCH_DEBUG_SERVER_ADDR is unset. The
	// environment variable always takes precedence — see ResolveAddr.
	Addr string `yaml:"addr,omitempty"`

	// LogLevel is one of "debug", "info", "warn", "error".
	LogLevel string `yaml:"log_level,omitempty"`

	// LogFile names an additional file sink for structured logs, on top of
	// stderr. The binaries do not read it from the config: dbgctl takes its
	// log file from the --log-file flag only.
	LogFile string `yaml:"log_file,omitempty"`

	// HistoryFile names a readline history path for the console. The
	// console does not read it: LocalStdio always keeps its history under
	// the user cache directory.
	HistoryFile string `yaml:"history_file,omitempty"`
}

// DefaultPath returns ~/.config/dbgmesh/config.yaml.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("config: resolve user config dir: %w", err)
	}
	return filepath.Join(dir, "dbgmesh", "config.yaml"), nil
}

// Load reads and parses path. A missing file returns a zero-value Config,
// not an error — every field has a sensible default.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Config{}, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg to path as YAML, creating parent directories as needed.
func Save(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: mkdir for %s: %w", path, err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

// ResolveAddr picks the controller address: MONARCH_DEBUG_SERVER_ADDR if
// set, else cfg.Addr if set, else wire.DefaultAddr.
func (c Config) ResolveAddr() (wire.Addr, error) {
	if os.Getenv(wire.EnvAddr) == "" && c.Addr != "" {
		return wire.ParseAddr(c.Addr)
	}
	return wire.Resolve()
}
