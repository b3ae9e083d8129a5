// Copyright 2026 The Driftline Authors
// SPDX-License-Identifier: Apache-2.0

// Package ddi implements the device side of a minimal Direct Device
// Integration deployment protocol: the URL scheme a device uses to ask
// the control plane for work, the tolerant extraction of a deployment
// descriptor from a poll response, and the status report posted back
// after a download attempt.
//
// The package holds no I/O — it is pure protocol. The transport and
// agent packages do the talking.
package ddi
