// Copyright 2026 The Driftline Authors
// SPDX-License-Identifier: Apache-2.0

package ddi

import "time"

// Deployment outcome values reported to the control plane.
const (
	StatusSuccess = "SUCCESS"
	StatusFailure = "FAILURE"
)

// StatusReport is the JSON body POSTed to the deploymentBase status
// endpoint after a download attempt.
type StatusReport struct {
	// ID is the deployment this report is about.
	ID string `json:"id"`

	// Time is a human-readable timestamp of the report, in ANSI C
	// asctime format ("Mon Jan  2 15:04:05 2006").
	Time string `json:"time"`

	// Status is StatusSuccess or StatusFailure.
	Status string `json:"status"`

	// Details carries optional detail messages. Always present in the
	// JSON, as an empty list when there is nothing to say.
	Details []string `json:"details"`
}

// NewStatusReport builds the report for a deployment's download
// outcome. Details is initialized empty (never nil) so it marshals as
// [] rather than null.
func NewStatusReport(deploymentID string, now time.Time, succeeded bool) StatusReport {
	status := StatusFailure
	if succeeded {
		status = StatusSuccess
	}
	return StatusReport{
		ID:      deploymentID,
		Time:    now.Format(time.ANSIC),
		Status:  status,
		Details: []string{},
	}
}
