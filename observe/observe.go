// Copyright 2026 The Driftline Authors
// SPDX-License-Identifier: Apache-2.0

// Package observe defines the agent's observability collaborator: a
// sink that receives human-readable progress and error notices from the
// polling loop. The agent does not depend on any particular logging
// framework — anything with an Event method can observe it.
package observe

import (
	"log/slog"
	"sync"
)

// Sink receives one human-readable notice per notable agent action:
// poll result, download result, report result, per-cycle faults.
type Sink interface {
	Event(message string)
}

// LogSink writes events to a slog.Logger at info level.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a LogSink. A nil logger means slog.Default().
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

// Event logs the message.
func (s *LogSink) Event(message string) {
	s.logger.Info(message)
}

// Recorder captures events in memory. For tests.
//
// Recorder is safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	events []string
}

// Event appends the message to the recorded sequence.
func (r *Recorder) Event(message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, message)
}

// Events returns a copy of the recorded sequence in arrival order.
func (r *Recorder) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}
