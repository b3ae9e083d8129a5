// Copyright 2026 The Driftline Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts time operations so the agent's polling loop
// and report timestamps can be driven deterministically in tests.
// Production code injects Real(); tests inject Fake() and advance it
// explicitly.
package clock
