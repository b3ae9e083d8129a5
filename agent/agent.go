// Copyright 2026 The Driftline Authors
// SPDX-License-Identifier: Apache-2.0

// Package agent drives the deployment polling loop: ask the control
// plane whether work is pending, download the assigned artifact,
// report the outcome, wait, repeat. One agent, one loop, strictly
// sequential cycles — transport calls are never concurrent within an
// instance.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/driftline/driftline/ddi"
	"github.com/driftline/driftline/lib/clock"
	"github.com/driftline/driftline/observe"
	"github.com/driftline/driftline/transport"
)

// DefaultPollInterval is the wait between polling cycles when Config
// leaves PollInterval unset.
const DefaultPollInterval = 10 * time.Second

// DefaultDownloadPath is where artifacts land when Config leaves
// DownloadPath unset. The file is overwritten on every download.
const DefaultDownloadPath = "downloaded_firmware.bin"

// Cycle states, logged as the orchestrator moves through one pass.
// A cycle runs polling → (downloading → reporting) → idle; NoUpdate
// short-circuits back to idle after polling.
const (
	stateIdle        = "idle"
	statePolling     = "polling"
	stateDownloading = "downloading"
	stateReporting   = "reporting"
)

// outcome classifies how one polling cycle ended.
type outcome int

const (
	// outcomeNoUpdate: nothing to do — no deployment pending, a
	// non-200 poll, or a transport failure (indistinguishable by
	// design).
	outcomeNoUpdate outcome = iota

	// outcomeCompleted: a deployment was downloaded and SUCCESS
	// reported.
	outcomeCompleted

	// outcomeFailed: a deployment was found but the download failed;
	// FAILURE reported.
	outcomeFailed

	// outcomeFault: the cycle panicked and was recovered at the cycle
	// boundary.
	outcomeFault
)

func (o outcome) String() string {
	switch o {
	case outcomeNoUpdate:
		return "no-update"
	case outcomeCompleted:
		return "completed"
	case outcomeFailed:
		return "failed"
	case outcomeFault:
		return "fault"
	}
	return "unknown"
}

// Transport is what the agent needs from the HTTP layer. The concrete
// *transport.Client satisfies it; tests substitute fault-injecting
// implementations.
type Transport interface {
	Get(ctx context.Context, url string) transport.Response
	Post(ctx context.Context, url string, body []byte, contentType string) transport.Response
	DownloadToFile(ctx context.Context, url, localPath string) (transport.DownloadResult, error)
}

// Config holds configuration for creating an Agent.
type Config struct {
	// Identity is the device's protocol identity. Required.
	Identity ddi.Identity

	// Transport performs the HTTP work. Required.
	Transport Transport

	// DownloadPath is the local artifact path. If empty,
	// DefaultDownloadPath is used.
	DownloadPath string

	// PollInterval is the wait between cycles. If zero,
	// DefaultPollInterval is used.
	PollInterval time.Duration

	// Clock drives the inter-cycle wait and report timestamps. If
	// nil, the real clock is used.
	Clock clock.Clock

	// Sink receives human-readable progress notices. If nil, events
	// go to the Logger.
	Sink observe.Sink

	// Logger is used for structured logging. If nil, slog.Default()
	// is used.
	Logger *slog.Logger
}

// Agent owns the orchestration loop. Create one with New and run it
// with Run; it has no other entry points and no shared mutable state.
type Agent struct {
	identity     ddi.Identity
	transport    Transport
	downloadPath string
	pollInterval time.Duration
	clock        clock.Clock
	sink         observe.Sink
	logger       *slog.Logger
}

// New creates an Agent.
func New(config Config) (*Agent, error) {
	if config.Transport == nil {
		return nil, fmt.Errorf("agent: Transport is required")
	}
	if config.Identity.ControllerID() == "" {
		return nil, fmt.Errorf("agent: Identity is required")
	}

	downloadPath := config.DownloadPath
	if downloadPath == "" {
		downloadPath = DefaultDownloadPath
	}

	pollInterval := config.PollInterval
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}

	agentClock := config.Clock
	if agentClock == nil {
		agentClock = clock.Real()
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	sink := config.Sink
	if sink == nil {
		sink = observe.NewLogSink(logger)
	}

	return &Agent{
		identity:     config.Identity,
		transport:    config.Transport,
		downloadPath: downloadPath,
		pollInterval: pollInterval,
		clock:        agentClock,
		sink:         sink,
		logger:       logger,
	}, nil
}

// Run executes polling cycles until ctx is cancelled. Cancellation is
// checked at the top of each cycle and honored during the inter-cycle
// wait; a cycle already talking to the network finishes its current
// transport call first (bounded by the transport timeout).
//
// A cycle can never stop the loop. Transport failures, protocol
// failures, parse failures, and panics all stay inside their cycle.
func (a *Agent) Run(ctx context.Context) {
	a.logger.Info("agent started",
		"server", a.identity.ServerURL(),
		"controller_id", a.identity.ControllerID(),
		"poll_interval", a.pollInterval,
		"download_path", a.downloadPath,
	)
	a.sink.Event(fmt.Sprintf("starting polling loop for controller %s against %s",
		a.identity.ControllerID(), a.identity.ServerURL()))

	for {
		if ctx.Err() != nil {
			a.logger.Info("agent stopped", "reason", ctx.Err())
			return
		}

		a.cycle(ctx)

		select {
		case <-ctx.Done():
			a.logger.Info("agent stopped", "reason", ctx.Err())
			return
		case <-a.clock.After(a.pollInterval):
		}
	}
}

// cycle runs one poll → evaluate → download → report pass. The named
// return lets the deferred recover record a fault outcome: anything
// that escapes the cycle body — including a panic — is caught here,
// surfaced to the sink, and the loop carries on.
func (a *Agent) cycle(ctx context.Context) (result outcome) {
	cycleID := uuid.NewString()
	logger := a.logger.With("cycle_id", cycleID)

	defer func() {
		if recovered := recover(); recovered != nil {
			result = outcomeFault
			logger.Error("polling cycle fault", "panic", recovered)
			a.sink.Event(fmt.Sprintf("error in polling cycle: %v", recovered))
		}
		logger.Debug("cycle finished", "outcome", result, "state", stateIdle)
	}()

	a.sink.Event("polling for updates")
	logger.Debug("polling", "state", statePolling, "url", a.identity.PollingURL())

	response := a.transport.Get(ctx, a.identity.PollingURL())
	if response.StatusCode != http.StatusOK {
		// Transport failure (status 0) and protocol failure are not
		// distinguished here: both mean nothing to do this cycle.
		a.sink.Event(fmt.Sprintf("poll failed with status %d", response.StatusCode))
		logger.Info("poll returned no update", "status", response.StatusCode)
		return outcomeNoUpdate
	}

	deployment := ddi.Parse(string(response.Body))
	if !deployment.HasDeployment {
		a.sink.Event("no updates available")
		logger.Info("no deployment pending")
		return outcomeNoUpdate
	}

	a.sink.Event(fmt.Sprintf("new deployment found: %s", deployment.ID))
	logger.Info("deployment found",
		"deployment_id", deployment.ID,
		"download_url", deployment.DownloadURL,
		"declared_size", deployment.Size,
	)

	succeeded := a.download(ctx, logger, deployment)
	a.report(ctx, logger, deployment, succeeded)

	if succeeded {
		return outcomeCompleted
	}
	return outcomeFailed
}

// download fetches the deployment's artifact to the fixed local path
// and returns whether it succeeded. The declared size and the recorded
// digest are logged, never checked — integrity verification is the
// control plane's problem until the protocol grows one.
func (a *Agent) download(ctx context.Context, logger *slog.Logger, deployment ddi.Deployment) bool {
	logger.Debug("downloading", "state", stateDownloading, "url", deployment.DownloadURL)
	a.sink.Event(fmt.Sprintf("downloading artifact from %s", deployment.DownloadURL))

	result, err := a.transport.DownloadToFile(ctx, deployment.DownloadURL, a.downloadPath)
	if err != nil {
		logger.Error("artifact download failed", "error", err)
		a.sink.Event("artifact download failed")
		return false
	}

	logger.Info("artifact downloaded",
		"path", a.downloadPath,
		"bytes", result.Bytes,
		"declared_size", deployment.Size,
		"blake3", result.Digest,
	)
	a.sink.Event(fmt.Sprintf("artifact downloaded to %s (%d bytes)", a.downloadPath, result.Bytes))
	return true
}

// report POSTs the deployment outcome to the status endpoint. A failed
// report is observed and forgotten — it is never retried, and it does
// not change what the next cycle does.
func (a *Agent) report(ctx context.Context, logger *slog.Logger, deployment ddi.Deployment, succeeded bool) {
	logger.Debug("reporting", "state", stateReporting)

	statusReport := ddi.NewStatusReport(deployment.ID, a.clock.Now(), succeeded)
	body, err := json.Marshal(statusReport)
	if err != nil {
		// StatusReport is plain strings; this cannot happen outside a
		// programming error.
		logger.Error("encoding status report failed", "error", err)
		return
	}

	response := a.transport.Post(ctx, a.identity.StatusURL(deployment.ID), body, "application/json")
	if response.StatusCode == http.StatusOK {
		logger.Info("status reported",
			"deployment_id", deployment.ID,
			"status", statusReport.Status,
		)
		a.sink.Event(fmt.Sprintf("status %s reported for deployment %s", statusReport.Status, deployment.ID))
		return
	}

	logger.Warn("status report failed",
		"deployment_id", deployment.ID,
		"status", response.StatusCode,
	)
	a.sink.Event(fmt.Sprintf("status report failed with status %d", response.StatusCode))
}
