// Copyright 2026 The Driftline Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport performs the agent's HTTP work: blocking GET,
// POST-with-body, and streamed file download. It knows nothing about
// the deployment protocol.
//
// Get and Post normalize their result into a Response. Transport-level
// failures (DNS, connect, TLS, timeout) are collapsed into a Response
// with StatusCode 0 — the orchestration layer treats them identically
// to "the server said no", so they never surface as errors. Status 0
// is reserved for this and is never a real protocol status.
//
// DownloadToFile streams the response body straight to disk without
// buffering the whole payload, and does return an error: the caller
// must distinguish success from failure to report the deployment
// outcome.
//
// No retries happen at this layer — a single attempt per call.
package transport
