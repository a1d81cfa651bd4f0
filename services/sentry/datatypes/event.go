// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType tags the variant carried by an Event.
type EventType string

const (
	EventCommit         EventType = "commit"
	EventAlert          EventType = "alert"
	EventWorkflowResult EventType = "workflow_result"
	EventKeepalive      EventType = "keepalive"
)

// WorkflowStatus is the state of a remediation workflow execution.
type WorkflowStatus string

const (
	WorkflowRunning WorkflowStatus = "RUNNING"
	WorkflowSuccess WorkflowStatus = "SUCCESS"
	WorkflowFailed  WorkflowStatus = "FAILED"

	// WorkflowUnresolved is reported when the workflow engine could not be
	// reached or did not finish within the maximum wait.
	WorkflowUnresolved WorkflowStatus = "UNRESOLVED"
)

// Terminal reports whether no further polling is needed.
func (s WorkflowStatus) Terminal() bool {
	return s == WorkflowSuccess || s == WorkflowFailed || s == WorkflowUnresolved
}

// Event is the tagged union delivered to streaming clients.
//
// # Description
//
// Exactly one variant's fields are populated, selected by Type:
//   - commit: CommitInfo and Result
//   - alert: Message
//   - workflow_result: ExecutionId, Status and CommitInfo
//   - keepalive: nothing
type Event struct {
	Type        EventType             `json:"type"`
	Id          string                `json:"id,omitempty"`
	CreatedAt   int64                 `json:"created_at,omitempty"`
	CommitInfo  *CommitInfo           `json:"commit_info,omitempty"`
	Result      *ClassificationResult `json:"result,omitempty"`
	Message     string                `json:"message,omitempty"`
	ExecutionId string                `json:"execution_id,omitempty"`
	Status      WorkflowStatus        `json:"status,omitempty"`
}

func newEvent(t EventType) Event {
	return Event{
		Type:      t,
		Id:        uuid.New().String(),
		CreatedAt: time.Now().UnixMilli(),
	}
}

// NewCommitEvent wraps a verdict for one record.
func NewCommitEvent(info CommitInfo, result ClassificationResult) Event {
	ev := newEvent(EventCommit)
	ev.CommitInfo = &info
	ev.Result = &result
	return ev
}

// NewAlertEvent wraps a human-readable alert.
func NewAlertEvent(text string) Event {
	ev := newEvent(EventAlert)
	ev.Message = text
	return ev
}

// NewWorkflowResultEvent reports the outcome of a remediation workflow.
func NewWorkflowResultEvent(executionID string, status WorkflowStatus, info CommitInfo) Event {
	ev := newEvent(EventWorkflowResult)
	ev.ExecutionId = executionID
	ev.Status = status
	ev.CommitInfo = &info
	return ev
}

// NewKeepaliveEvent is emitted when a consumer waited a full window with no
// real event.
func NewKeepaliveEvent() Event {
	return Event{Type: EventKeepalive, CreatedAt: time.Now().UnixMilli()}
}

// UnusualCommitAlert formats the alert text for an unusual-hour commit.
func UnusualCommitAlert(info CommitInfo) string {
	return fmt.Sprintf("Unusual commit detected at %s by %s in %s",
		info.Timestamp, info.Author, info.Repo)
}

// VulnerabilityAlert formats the alert text for a vulnerable commit.
func VulnerabilityAlert(info CommitInfo) string {
	return fmt.Sprintf("Potential vulnerability detected in commit at %s by %s in %s",
		info.Timestamp, info.Author, info.Repo)
}
