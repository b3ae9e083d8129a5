// Copyright 2026 The Driftline Authors
// SPDX-License-Identifier: Apache-2.0

package ddi

import (
	"fmt"
	"net/url"
	"strings"
)

// Identity is the device's protocol identity: the control plane base
// URL and the controller ID this device presents. It is immutable for
// the process lifetime and used only to build endpoint URLs.
type Identity struct {
	serverURL    string
	controllerID string
}

// NewIdentity validates and constructs an Identity. The server URL is
// stored with any trailing slash stripped; endpoint URLs are built by
// direct concatenation.
func NewIdentity(serverURL, controllerID string) (Identity, error) {
	if serverURL == "" {
		return Identity{}, fmt.Errorf("ddi: server URL is required")
	}
	if _, err := url.Parse(serverURL); err != nil {
		return Identity{}, fmt.Errorf("ddi: invalid server URL %q: %w", serverURL, err)
	}
	if controllerID == "" {
		return Identity{}, fmt.Errorf("ddi: controller ID is required")
	}
	return Identity{
		serverURL:    strings.TrimRight(serverURL, "/"),
		controllerID: controllerID,
	}, nil
}

// ServerURL returns the control plane base URL.
func (id Identity) ServerURL() string { return id.serverURL }

// ControllerID returns the device's controller identifier.
func (id Identity) ControllerID() string { return id.controllerID }

// PollingURL returns the endpoint polled for pending deployments.
func (id Identity) PollingURL() string {
	return id.serverURL + "/rest/v1/ddi/v1/controller/device/" + id.controllerID
}

// StatusURL returns the endpoint a deployment outcome is reported to.
func (id Identity) StatusURL(deploymentID string) string {
	return id.PollingURL() + "/deploymentBase/" + deploymentID
}
