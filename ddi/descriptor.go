// Copyright 2026 The Driftline Authors
// SPDX-License-Identifier: Apache-2.0

package ddi

// Deployment describes one unit of work the control plane has assigned
// to this device: a single artifact to download. It is constructed
// fresh by Parse on every poll, never mutated afterwards, and discarded
// after one cycle — never cached or persisted.
type Deployment struct {
	// ID is the opaque deployment identifier. Empty means absent.
	ID string

	// DownloadURL is the absolute URL of the artifact. Empty means
	// absent.
	DownloadURL string

	// Size is the artifact size in bytes as declared by the control
	// plane. Informational only: it is never checked against the
	// actual download.
	Size uint64

	// HasDeployment is true iff both ID and DownloadURL are non-empty.
	// No other combination is valid.
	HasDeployment bool
}
