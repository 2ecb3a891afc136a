// Copyright ©2025 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package config provides the bluno configuration file format.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lucasb-eyer/go-colorful"
	"github.com/mcuadros/go-defaults"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	LogLevel  string `yaml:"log_level" default:"info"`
	LogFormat string `yaml:"log_format" default:"text"` // "text" or "json"
	// Demo selects the simulated transport.
	Demo  bool        `yaml:"demo" default:"false"`
	Chart ChartConfig `yaml:"chart"`
	BLE   BLEConfig   `yaml:"ble"`
}

// ChartConfig holds chart rendering settings.
type ChartConfig struct {
	Width       int    `yaml:"width" default:"600"`
	Height      int    `yaml:"height" default:"300"`
	Color       string `yaml:"color" default:"#0ad"`
	SnapshotDir string `yaml:"snapshot_dir"`
}

// BLEConfig holds Bluetooth settings.
type BLEConfig struct {
	ConnectTimeout time.Duration `yaml:"connect_timeout" default:"10s"`
	// ScanTimeout is how long headless scans run.
	ScanTimeout time.Duration `yaml:"scan_timeout" default:"5s"`
}

// DefaultPath returns the default config file path.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "bluno", "config.yaml")
}

// Default returns a Config holding default values.
func Default() *Config {
	var cfg Config
	defaults.SetDefaults(&cfg)
	return &cfg
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults. If path is empty or names the default path and the
// file does not exist, the defaults are returned.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = DefaultPath()
		if path == "" {
			return cfg, nil
		}
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	err = yaml.Unmarshal(data, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	cfg.Chart.SnapshotDir = expandTilde(cfg.Chart.SnapshotDir)
	return cfg, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	var errs []error
	_, err := ParseLevel(c.LogLevel)
	if err != nil {
		errs = append(errs, err)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log_format must be \"text\" or \"json\", got %q", c.LogFormat))
	}
	// The chart needs room for at least one sample
	// below its label headroom.
	if c.Chart.Width < 2 {
		errs = append(errs, fmt.Errorf("chart.width must be at least 2, got %d", c.Chart.Width))
	}
	if c.Chart.Height <= 10 {
		errs = append(errs, fmt.Errorf("chart.height must be greater than 10, got %d", c.Chart.Height))
	}
	if _, err := colorful.Hex(c.Chart.Color); err != nil {
		errs = append(errs, fmt.Errorf("chart.color must be a #rgb or #rrggbb color, got %q", c.Chart.Color))
	}
	if c.BLE.ConnectTimeout <= 0 {
		errs = append(errs, fmt.Errorf("ble.connect_timeout must be > 0, got %v", c.BLE.ConnectTimeout))
	}
	if c.BLE.ScanTimeout <= 0 {
		errs = append(errs, fmt.Errorf("ble.scan_timeout must be > 0, got %v", c.BLE.ScanTimeout))
	}
	return errors.Join(errs...)
}

// ParseLevel returns the slog.Level for the named level.
func ParseLevel(name string) (slog.Level, error) {
	var l slog.Level
	switch strings.ToLower(name) {
	case "debug":
		l = slog.LevelDebug
	case "info":
		l = slog.LevelInfo
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		return l, fmt.Errorf("log_level must be debug, info, warn, or error, got %q", name)
	}
	return l, nil
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
