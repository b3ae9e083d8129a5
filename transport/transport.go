// Copyright 2026 The Driftline Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/zeebo/blake3"
)

// DefaultRequestTimeout bounds each HTTP request when Config leaves
// RequestTimeout unset.
const DefaultRequestTimeout = 30 * time.Second

// maxResponseSize is the bound on in-memory response body reads: 64 MB.
// It exists solely to keep a pathological poll response from exhausting
// device memory; legitimate DDI responses are orders of magnitude
// smaller. Downloads are not subject to it — they stream to disk.
const maxResponseSize int64 = 64 << 20

// Config holds configuration for creating a Client.
type Config struct {
	// RequestTimeout bounds each individual request, including the
	// full body transfer. If zero, DefaultRequestTimeout is used.
	RequestTimeout time.Duration

	// Logger is used for structured logging. If nil, slog.Default()
	// is used.
	Logger *slog.Logger
}

// Response is the normalized result of a Get or Post.
type Response struct {
	// StatusCode is the server's status, or 0 when the request failed
	// at the transport level and no response exists.
	StatusCode int

	// Body is the raw response payload. Empty on transport failure.
	Body []byte

	// Headers maps header name to value. Duplicate names are
	// last-write-wins; order is irrelevant.
	Headers map[string]string
}

// DownloadResult describes a completed artifact download.
type DownloadResult struct {
	// Bytes is the number of bytes written to the local file.
	Bytes int64

	// Digest is the hex-encoded BLAKE3 hash of the streamed bytes.
	// Recorded for observability only — nothing verifies it.
	Digest string
}

// Client performs HTTP requests with a fixed timeout. It holds two
// http.Clients over one shared connection pool: GET and downloads
// follow redirects, POST does not (the control plane protocol never
// redirects status reports, and the original behavior is preserved).
//
// A Client is safe for sequential reuse; the agent's one-loop model
// never calls it concurrently.
type Client struct {
	getClient  *http.Client
	postClient *http.Client
	logger     *slog.Logger
}

// New creates a Client. Construction is explicit — there is no ambient
// global transport state — and multiple Clients coexist safely, each
// with its own connection pool.
func New(config Config) *Client {
	timeout := config.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	pool := http.DefaultTransport.(*http.Transport).Clone()

	return &Client{
		getClient: &http.Client{
			Timeout:   timeout,
			Transport: pool,
		},
		postClient: &http.Client{
			Timeout:   timeout,
			Transport: pool,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger: logger,
	}
}

// Get performs a blocking GET, following redirects. Any transport-level
// failure yields a Response with StatusCode 0 and an empty body; the
// underlying error is logged, never returned.
func (c *Client) Get(ctx context.Context, url string) Response {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		c.logger.Debug("building GET request failed", "url", url, "error", err)
		return Response{}
	}
	return c.do(c.getClient, request)
}

// Post performs a blocking POST with the given body and Content-Type
// header. An empty contentType defaults to "application/json".
// Redirects are not followed — a 3xx response is returned as-is. The
// failure convention matches Get.
func (c *Client) Post(ctx context.Context, url string, body []byte, contentType string) Response {
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		c.logger.Debug("building POST request failed", "url", url, "error", err)
		return Response{}
	}
	if contentType == "" {
		contentType = "application/json"
	}
	request.Header.Set("Content-Type", contentType)
	return c.do(c.postClient, request)
}

// do executes the request and normalizes the result. The body is
// accumulated incrementally from the wire, bounded at maxResponseSize.
func (c *Client) do(client *http.Client, request *http.Request) Response {
	response, err := client.Do(request)
	if err != nil {
		c.logger.Debug("request failed",
			"method", request.Method,
			"url", request.URL.String(),
			"error", err,
		)
		return Response{}
	}
	defer response.Body.Close()

	var body bytes.Buffer
	if _, err := io.Copy(&body, io.LimitReader(response.Body, maxResponseSize)); err != nil {
		// A body that dies mid-read is a transport failure, not a
		// usable response.
		c.logger.Debug("reading response body failed",
			"method", request.Method,
			"url", request.URL.String(),
			"error", err,
		)
		return Response{}
	}

	return Response{
		StatusCode: response.StatusCode,
		Body:       body.Bytes(),
		Headers:    flattenHeaders(response.Header),
	}
}

// flattenHeaders collapses a multi-value header map into name → value,
// last value wins for duplicate names.
func flattenHeaders(header http.Header) map[string]string {
	headers := make(map[string]string, len(header))
	for name, values := range header {
		if len(values) > 0 {
			headers[name] = values[len(values)-1]
		}
	}
	return headers
}

// DownloadToFile streams the response body for url into the file at
// localPath. The file is opened in truncate/overwrite mode before the
// request is issued, matching the protocol's fixed-artifact-path model.
// Bytes flow straight from the wire to disk through a BLAKE3 hasher;
// the whole payload is never held in memory.
//
// An error is returned when the file cannot be opened, the request
// fails at the transport level, or the final status is anything but
// 200. No file handle survives any exit path; a failed download leaves
// at most a truncated or partially written file, never an open one.
func (c *Client) DownloadToFile(ctx context.Context, url, localPath string) (DownloadResult, error) {
	file, err := os.OpenFile(localPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return DownloadResult{}, fmt.Errorf("opening %s: %w", localPath, err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		file.Close()
		return DownloadResult{}, fmt.Errorf("building download request: %w", err)
	}

	response, err := c.getClient.Do(request)
	if err != nil {
		file.Close()
		return DownloadResult{}, fmt.Errorf("download request to %s failed: %w", url, err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		file.Close()
		return DownloadResult{}, fmt.Errorf("download of %s returned status %d", url, response.StatusCode)
	}

	hasher := blake3.New()
	written, err := io.Copy(io.MultiWriter(file, hasher), response.Body)
	if err != nil {
		file.Close()
		return DownloadResult{}, fmt.Errorf("streaming download to %s: %w", localPath, err)
	}

	// Sync before close so a power cut right after "SUCCESS" is
	// reported cannot leave a hole in the artifact.
	if err := file.Sync(); err != nil {
		file.Close()
		return DownloadResult{}, fmt.Errorf("syncing %s: %w", localPath, err)
	}
	if err := file.Close(); err != nil {
		return DownloadResult{}, fmt.Errorf("closing %s: %w", localPath, err)
	}

	return DownloadResult{
		Bytes:  written,
		Digest: hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// CloseIdleConnections drops idle pooled connections. Call after a
// network disruption to force fresh TCP connections instead of reusing
// a poisoned one.
func (c *Client) CloseIdleConnections() {
	c.getClient.CloseIdleConnections()
}
