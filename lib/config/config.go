// Copyright 2026 The Driftline Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the agent configuration.
type Config struct {
	// Server identifies the control plane and this device.
	Server ServerConfig `yaml:"server"`

	// Polling configures the cycle timing.
	Polling PollingConfig `yaml:"polling"`

	// Download configures artifact placement.
	Download DownloadConfig `yaml:"download"`
}

// ServerConfig identifies the control plane and the device.
type ServerConfig struct {
	// URL is the control plane base URL (e.g., "http://localhost:8000").
	// All DDI endpoints are built from it.
	URL string `yaml:"url"`

	// ControllerID is the identifier this device presents to the
	// control plane. Typically a serial number or provisioning ID.
	ControllerID string `yaml:"controller_id"`
}

// PollingConfig configures the cycle timing. Durations are strings in
// Go duration syntax ("10s", "1m30s").
type PollingConfig struct {
	// Interval is the wait between polling cycles.
	// Default: 10s
	Interval string `yaml:"interval"`

	// RequestTimeout bounds each individual HTTP request.
	// Default: 30s
	RequestTimeout string `yaml:"request_timeout"`
}

// DownloadConfig configures artifact placement.
type DownloadConfig struct {
	// Path is where the downloaded artifact is written. The file is
	// truncated and overwritten on every download.
	// Default: downloaded_firmware.bin
	Path string `yaml:"path"`
}

// Default returns the default configuration. The defaults mirror a
// development control plane on localhost; production deployments load a
// file over them.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			URL:          "http://localhost:8000",
			ControllerID: "device001",
		},
		Polling: PollingConfig{
			Interval:       "10s",
			RequestTimeout: "30s",
		},
		Download: DownloadConfig{
			Path: "downloaded_firmware.bin",
		},
	}
}

// Load loads configuration from the file named by the DRIFTLINE_CONFIG
// environment variable, or returns the defaults when it is unset.
func Load() (*Config, error) {
	configPath := os.Getenv("DRIFTLINE_CONFIG")
	if configPath == "" {
		return Default(), nil
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path, merging the
// file over the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	// Expand ${HOME} and similar variables in the download path.
	cfg.Download.Path = expandVars(cfg.Download.Path)

	return cfg, nil
}

// varPattern matches ${VAR} and ${VAR:-default}.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		if len(parts) >= 3 {
			return parts[2]
		}
		return ""
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.URL == "" {
		errs = append(errs, fmt.Errorf("server.url is required"))
	} else if _, err := url.Parse(c.Server.URL); err != nil {
		errs = append(errs, fmt.Errorf("server.url %q: %w", c.Server.URL, err))
	}

	if c.Server.ControllerID == "" {
		errs = append(errs, fmt.Errorf("server.controller_id is required"))
	}

	if _, err := parsePositiveDuration(c.Polling.Interval); err != nil {
		errs = append(errs, fmt.Errorf("polling.interval: %w", err))
	}
	if _, err := parsePositiveDuration(c.Polling.RequestTimeout); err != nil {
		errs = append(errs, fmt.Errorf("polling.request_timeout: %w", err))
	}

	if c.Download.Path == "" {
		errs = append(errs, fmt.Errorf("download.path is required"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// PollInterval returns the parsed polling.interval. Call Validate first;
// an unparseable value here falls back to the default.
func (c *Config) PollInterval() time.Duration {
	return durationOr(c.Polling.Interval, 10*time.Second)
}

// RequestTimeout returns the parsed polling.request_timeout. Call
// Validate first; an unparseable value here falls back to the default.
func (c *Config) RequestTimeout() time.Duration {
	return durationOr(c.Polling.RequestTimeout, 30*time.Second)
}

func parsePositiveDuration(s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration %q must be positive", s)
	}
	return d, nil
}

func durationOr(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
