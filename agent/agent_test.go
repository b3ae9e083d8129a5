// Copyright 2026 The Driftline Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/driftline/driftline/ddi"
	"github.com/driftline/driftline/lib/clock"
	"github.com/driftline/driftline/observe"
	"github.com/driftline/driftline/transport"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// controlPlane is an httptest-backed fake control plane. It serves the
// polling endpoint, the artifact, and records status reports.
type controlPlane struct {
	mu           sync.Mutex
	pollStatus   int
	pollBody     string
	artifact     []byte
	artifactGone bool

	pollCount     int
	downloadCount int
	reports       []ddi.StatusReport

	server *httptest.Server
}

func newControlPlane(t *testing.T) *controlPlane {
	t.Helper()
	plane := &controlPlane{pollStatus: http.StatusOK, pollBody: "{}"}

	mux := http.NewServeMux()
	mux.HandleFunc("/rest/v1/ddi/v1/controller/device/device001", func(writer http.ResponseWriter, request *http.Request) {
		plane.mu.Lock()
		defer plane.mu.Unlock()
		plane.pollCount++
		writer.WriteHeader(plane.pollStatus)
		io.WriteString(writer, plane.pollBody)
	})
	mux.HandleFunc("/files/firmware.bin", func(writer http.ResponseWriter, request *http.Request) {
		plane.mu.Lock()
		defer plane.mu.Unlock()
		plane.downloadCount++
		if plane.artifactGone {
			http.Error(writer, "gone", http.StatusNotFound)
			return
		}
		writer.Write(plane.artifact)
	})
	mux.HandleFunc("/rest/v1/ddi/v1/controller/device/device001/deploymentBase/", func(writer http.ResponseWriter, request *http.Request) {
		plane.mu.Lock()
		defer plane.mu.Unlock()
		if got := request.Header.Get("Content-Type"); got != "application/json" {
			t.Errorf("report Content-Type = %q", got)
		}
		var report ddi.StatusReport
		if err := json.NewDecoder(request.Body).Decode(&report); err != nil {
			t.Errorf("decoding status report: %v", err)
		}
		plane.reports = append(plane.reports, report)
		writer.WriteHeader(http.StatusOK)
	})

	plane.server = httptest.NewServer(mux)
	t.Cleanup(plane.server.Close)
	return plane
}

// announceDeployment makes the next polls offer a deployment whose
// artifact is served by the control plane itself.
func (p *controlPlane) announceDeployment(id string, artifact []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.artifact = artifact
	p.pollBody = fmt.Sprintf(
		`{"deploymentBase":{"id":%q,"download":{"links":{"firmware":{"href":%q,"size":%d}}}}}`,
		id, p.server.URL+"/files/firmware.bin", len(artifact))
}

func (p *controlPlane) counts() (polls, downloads, reports int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pollCount, p.downloadCount, len(p.reports)
}

func (p *controlPlane) lastReport(t *testing.T) ddi.StatusReport {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.reports) == 0 {
		t.Fatal("no status report received")
	}
	return p.reports[len(p.reports)-1]
}

// newTestAgent wires an Agent against the fake control plane with a
// fake clock and a recording sink.
func newTestAgent(t *testing.T, plane *controlPlane) (*Agent, *clock.FakeClock, *observe.Recorder, string) {
	t.Helper()

	identity, err := ddi.NewIdentity(plane.server.URL, "device001")
	if err != nil {
		t.Fatalf("NewIdentity failed: %v", err)
	}

	fakeClock := clock.Fake(time.Date(2026, 8, 24, 9, 30, 0, 0, time.UTC))
	recorder := &observe.Recorder{}
	downloadPath := filepath.Join(t.TempDir(), "firmware.bin")

	testAgent, err := New(Config{
		Identity:     identity,
		Transport:    transport.New(transport.Config{Logger: discardLogger()}),
		DownloadPath: downloadPath,
		PollInterval: 10 * time.Second,
		Clock:        fakeClock,
		Sink:         recorder,
		Logger:       discardLogger(),
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return testAgent, fakeClock, recorder, downloadPath
}

func TestCycleNoUpdate(t *testing.T) {
	plane := newControlPlane(t)
	testAgent, _, recorder, _ := newTestAgent(t, plane)

	if got := testAgent.cycle(context.Background()); got != outcomeNoUpdate {
		t.Errorf("cycle outcome = %v, want no-update", got)
	}

	polls, downloads, reports := plane.counts()
	if polls != 1 || downloads != 0 || reports != 0 {
		t.Errorf("requests = %d polls, %d downloads, %d reports; want 1, 0, 0", polls, downloads, reports)
	}

	events := recorder.Events()
	if len(events) == 0 || events[len(events)-1] != "no updates available" {
		t.Errorf("events = %v", events)
	}
}

func TestCycleNon200PollHasNoSideEffects(t *testing.T) {
	plane := newControlPlane(t)
	// Even with a deployment staged, a failed poll must trigger
	// nothing.
	plane.announceDeployment("12345", []byte("firmware"))
	plane.pollStatus = http.StatusInternalServerError

	testAgent, _, _, downloadPath := newTestAgent(t, plane)

	if got := testAgent.cycle(context.Background()); got != outcomeNoUpdate {
		t.Errorf("cycle outcome = %v, want no-update", got)
	}

	_, downloads, reports := plane.counts()
	if downloads != 0 || reports != 0 {
		t.Errorf("non-200 poll caused %d downloads and %d reports", downloads, reports)
	}
	if _, err := os.Stat(downloadPath); !os.IsNotExist(err) {
		t.Error("non-200 poll left a downloaded file behind")
	}
}

func TestCycleDownloadsAndReportsSuccess(t *testing.T) {
	plane := newControlPlane(t)
	artifact := []byte("firmware image bytes")
	plane.announceDeployment("12345", artifact)

	testAgent, fakeClock, recorder, downloadPath := newTestAgent(t, plane)

	if got := testAgent.cycle(context.Background()); got != outcomeCompleted {
		t.Errorf("cycle outcome = %v, want completed", got)
	}

	written, err := os.ReadFile(downloadPath)
	if err != nil {
		t.Fatalf("reading downloaded artifact: %v", err)
	}
	if string(written) != string(artifact) {
		t.Errorf("artifact = %q, want %q", written, artifact)
	}

	want := ddi.NewStatusReport("12345", fakeClock.Now(), true)
	if diff := cmp.Diff(want, plane.lastReport(t)); diff != "" {
		t.Errorf("status report mismatch (-want +got):\n%s", diff)
	}

	joined := strings.Join(recorder.Events(), "\n")
	if !strings.Contains(joined, "new deployment found: 12345") {
		t.Errorf("events missing deployment notice:\n%s", joined)
	}
	if !strings.Contains(joined, "status SUCCESS reported") {
		t.Errorf("events missing report notice:\n%s", joined)
	}
}

func TestCycleDownloadFailureReportsFailure(t *testing.T) {
	plane := newControlPlane(t)
	plane.announceDeployment("12345", []byte("firmware"))
	plane.artifactGone = true

	testAgent, _, recorder, _ := newTestAgent(t, plane)

	if got := testAgent.cycle(context.Background()); got != outcomeFailed {
		t.Errorf("cycle outcome = %v, want failed", got)
	}

	report := plane.lastReport(t)
	if report.Status != ddi.StatusFailure {
		t.Errorf("reported status = %q, want FAILURE", report.Status)
	}
	if report.ID != "12345" {
		t.Errorf("reported id = %q", report.ID)
	}

	joined := strings.Join(recorder.Events(), "\n")
	if !strings.Contains(joined, "artifact download failed") {
		t.Errorf("events missing download failure notice:\n%s", joined)
	}
}

func TestCycleTransportFailureIsNoUpdate(t *testing.T) {
	plane := newControlPlane(t)
	testAgent, _, _, _ := newTestAgent(t, plane)
	plane.server.Close()

	if got := testAgent.cycle(context.Background()); got != outcomeNoUpdate {
		t.Errorf("cycle outcome = %v, want no-update on transport failure", got)
	}
}

func TestCycleIdempotentWithoutServerChange(t *testing.T) {
	plane := newControlPlane(t)
	testAgent, _, _, _ := newTestAgent(t, plane)

	first := testAgent.cycle(context.Background())
	second := testAgent.cycle(context.Background())
	if first != second {
		t.Errorf("outcomes differ across unchanged polls: %v then %v", first, second)
	}
}

// faultTransport panics on Get a configurable number of times, then
// behaves as "no update". It counts every Get.
type faultTransport struct {
	gets   atomic.Int64
	panics int64
}

func (f *faultTransport) Get(ctx context.Context, url string) transport.Response {
	count := f.gets.Add(1)
	if count <= f.panics {
		panic(fmt.Sprintf("injected fault on poll %d", count))
	}
	return transport.Response{StatusCode: http.StatusOK, Body: []byte("{}")}
}

func (f *faultTransport) Post(ctx context.Context, url string, body []byte, contentType string) transport.Response {
	return transport.Response{StatusCode: http.StatusOK}
}

func (f *faultTransport) DownloadToFile(ctx context.Context, url, localPath string) (transport.DownloadResult, error) {
	return transport.DownloadResult{}, fmt.Errorf("not used")
}

func newLoopAgent(t *testing.T, faulty *faultTransport, fakeClock *clock.FakeClock, recorder *observe.Recorder) *Agent {
	t.Helper()
	identity, err := ddi.NewIdentity("http://control-plane.invalid", "device001")
	if err != nil {
		t.Fatalf("NewIdentity failed: %v", err)
	}
	loopAgent, err := New(Config{
		Identity:     identity,
		Transport:    faulty,
		DownloadPath: filepath.Join(t.TempDir(), "firmware.bin"),
		PollInterval: 10 * time.Second,
		Clock:        fakeClock,
		Sink:         recorder,
		Logger:       discardLogger(),
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return loopAgent
}

func TestRunSurvivesCyclePanics(t *testing.T) {
	faulty := &faultTransport{panics: 2}
	fakeClock := clock.Fake(time.Unix(0, 0))
	recorder := &observe.Recorder{}
	loopAgent := newLoopAgent(t, faulty, fakeClock, recorder)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		loopAgent.Run(ctx)
		close(done)
	}()

	// Three cycles: two faulting, one clean. Each inter-cycle wait
	// registers exactly one timer on the fake clock.
	for i := 0; i < 3; i++ {
		fakeClock.WaitForTimers(1)
		fakeClock.Advance(10 * time.Second)
	}
	fakeClock.WaitForTimers(1)

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancellation")
	}

	if got := faulty.gets.Load(); got < 3 {
		t.Errorf("poll count = %d, want at least 3 — the loop died with a cycle", got)
	}

	joined := strings.Join(recorder.Events(), "\n")
	if !strings.Contains(joined, "error in polling cycle: injected fault on poll 1") {
		t.Errorf("events missing recovered fault notice:\n%s", joined)
	}
	if !strings.Contains(joined, "no updates available") {
		t.Errorf("events missing the clean cycle after the faults:\n%s", joined)
	}
}

func TestRunStopsDuringWait(t *testing.T) {
	faulty := &faultTransport{}
	fakeClock := clock.Fake(time.Unix(0, 0))
	loopAgent := newLoopAgent(t, faulty, fakeClock, &observe.Recorder{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		loopAgent.Run(ctx)
		close(done)
	}()

	// First cycle completes, then the loop parks in the inter-cycle
	// wait. Cancellation must end it without another poll.
	fakeClock.WaitForTimers(1)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not honor cancellation during the wait")
	}
	if got := faulty.gets.Load(); got != 1 {
		t.Errorf("poll count = %d, want exactly 1", got)
	}
}

func TestNewValidation(t *testing.T) {
	identity, err := ddi.NewIdentity("http://localhost:8000", "device001")
	if err != nil {
		t.Fatalf("NewIdentity failed: %v", err)
	}

	if _, err := New(Config{Identity: identity}); err == nil {
		t.Error("New accepted a nil Transport")
	}
	if _, err := New(Config{Transport: &faultTransport{}}); err == nil {
		t.Error("New accepted a zero Identity")
	}
}

func TestNewDefaults(t *testing.T) {
	identity, err := ddi.NewIdentity("http://localhost:8000", "device001")
	if err != nil {
		t.Fatalf("NewIdentity failed: %v", err)
	}
	testAgent, err := New(Config{
		Identity:  identity,
		Transport: &faultTransport{},
		Logger:    discardLogger(),
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if testAgent.pollInterval != DefaultPollInterval {
		t.Errorf("pollInterval = %v, want %v", testAgent.pollInterval, DefaultPollInterval)
	}
	if testAgent.downloadPath != DefaultDownloadPath {
		t.Errorf("downloadPath = %q, want %q", testAgent.downloadPath, DefaultDownloadPath)
	}
}
