// Copyright 2026 The Driftline Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for the driftline agent.
//
// Configuration is loaded from a single YAML file specified by:
//   - the DRIFTLINE_CONFIG environment variable, or
//   - the --config flag passed to the agent
//
// The file is optional: every field has a working default, so the agent
// runs bare against a local control plane with no configuration at all.
// When a file is present it is the single source of truth; environment
// variables do not override file values. The only expansion performed
// is ${HOME} and similar path variables for portability.
package config
