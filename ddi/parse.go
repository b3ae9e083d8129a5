// Copyright 2026 The Driftline Authors
// SPDX-License-Identifier: Apache-2.0

package ddi

import (
	"strconv"
	"strings"
)

// Markers and field keys scanned for in the poll response body.
const (
	deploymentMarker = `"deploymentBase"`
	idField          = `"id":`
	hrefField        = `"href":`
	sizeField        = `"size":`
)

// Parse extracts a Deployment from a raw poll response body.
//
// This is a deliberate string scan, not JSON decoding: the extracted
// values are the literal substrings between their JSON delimiters, and
// arbitrarily malformed input degrades to "no deployment" instead of
// an error. Parse never fails.
//
// The id is searched after the "deploymentBase" marker; the download
// link and size are searched over the whole body, so field order does
// not matter. A malformed size leaves Size at 0 without aborting the
// other fields.
func Parse(body string) Deployment {
	var deployment Deployment

	markerPos := strings.Index(body, deploymentMarker)
	if markerPos < 0 {
		return deployment
	}

	deployment.ID = extractString(body[markerPos:], idField)
	deployment.DownloadURL = extractString(body, hrefField)
	deployment.Size = extractSize(body)

	deployment.HasDeployment = deployment.ID != "" && deployment.DownloadURL != ""
	return deployment
}

// extractString finds the first occurrence of field in body and returns
// the quoted string value that follows it. Returns "" when the field,
// its opening quote, or its closing quote is missing.
func extractString(body, field string) string {
	fieldPos := strings.Index(body, field)
	if fieldPos < 0 {
		return ""
	}

	rest := body[fieldPos+len(field):]
	openQuote := strings.IndexByte(rest, '"')
	if openQuote < 0 {
		return ""
	}

	value := rest[openQuote+1:]
	closeQuote := strings.IndexByte(value, '"')
	if closeQuote < 0 {
		return ""
	}
	return value[:closeQuote]
}

// extractSize finds the size field and parses its numeric value.
// Any parse failure yields 0.
func extractSize(body string) uint64 {
	fieldPos := strings.Index(body, sizeField)
	if fieldPos < 0 {
		return 0
	}

	rest := body[fieldPos+len(sizeField):]
	end := strings.IndexAny(rest, ",}")
	if end < 0 {
		end = len(rest)
	}

	size, err := strconv.ParseUint(strings.TrimSpace(rest[:end]), 10, 64)
	if err != nil {
		return 0
	}
	return size
}
