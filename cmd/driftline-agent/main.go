// Copyright 2026 The Driftline Authors
// SPDX-License-Identifier: Apache-2.0

// driftline-agent is the device-side deployment agent. It polls the
// control plane for pending deployments, downloads assigned artifacts,
// and reports outcomes, in an endless sequential loop until SIGINT or
// SIGTERM.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/driftline/driftline/agent"
	"github.com/driftline/driftline/ddi"
	"github.com/driftline/driftline/lib/config"
	"github.com/driftline/driftline/lib/process"
	"github.com/driftline/driftline/lib/version"
	"github.com/driftline/driftline/transport"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	flags := pflag.NewFlagSet("driftline-agent", pflag.ContinueOnError)
	configPath := flags.String("config", "", "path to YAML config file (defaults to $DRIFTLINE_CONFIG)")
	serverURL := flags.String("server", "", "control plane base URL (overrides config)")
	controllerID := flags.String("controller-id", "", "device controller ID (overrides config)")
	downloadPath := flags.String("download-path", "", "local artifact path (overrides config)")
	pollInterval := flags.Duration("poll-interval", 0, "wait between polling cycles (overrides config)")
	requestTimeout := flags.Duration("request-timeout", 0, "per-request HTTP timeout (overrides config)")
	logLevel := flags.String("log-level", "info", "log level: debug, info, warn, error")
	showVersion := flags.Bool("version", false, "print version information and exit")

	if err := flags.Parse(os.Args[1:]); err != nil {
		return err
	}

	if *showVersion {
		version.Print("driftline-agent")
		return nil
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	applyOverrides(cfg, *serverURL, *controllerID, *downloadPath, *pollInterval, *requestTimeout)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := newLogger(*logLevel)
	if err != nil {
		return err
	}

	identity, err := ddi.NewIdentity(cfg.Server.URL, cfg.Server.ControllerID)
	if err != nil {
		return err
	}

	deploymentAgent, err := agent.New(agent.Config{
		Identity: identity,
		Transport: transport.New(transport.Config{
			RequestTimeout: cfg.RequestTimeout(),
			Logger:         logger,
		}),
		DownloadPath: cfg.Download.Path,
		PollInterval: cfg.PollInterval(),
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deploymentAgent.Run(ctx)
	return nil
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}

// applyOverrides layers non-zero command-line flags over the loaded
// configuration. Flags win over the file, the file wins over defaults.
func applyOverrides(cfg *config.Config, serverURL, controllerID, downloadPath string, pollInterval, requestTimeout time.Duration) {
	if serverURL != "" {
		cfg.Server.URL = serverURL
	}
	if controllerID != "" {
		cfg.Server.ControllerID = controllerID
	}
	if downloadPath != "" {
		cfg.Download.Path = downloadPath
	}
	if pollInterval > 0 {
		cfg.Polling.Interval = pollInterval.String()
	}
	if requestTimeout > 0 {
		cfg.Polling.RequestTimeout = requestTimeout.String()
	}
}

func newLogger(level string) (*slog.Logger, error) {
	var slogLevel slog.Level
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "info":
		slogLevel = slog.LevelInfo
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level %q", level)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slogLevel})), nil
}
