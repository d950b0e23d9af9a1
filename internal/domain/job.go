package domain

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the lifecycle state of a job.
type JobStatus string

// Job status values. Accepted is the only initial state; successful,
// failed and dismissed are terminal and never overwritten.
const (
	JobStatusAccepted   JobStatus = "accepted"
	JobStatusRunning    JobStatus = "running"
	JobStatusSuccessful JobStatus = "successful"
	JobStatusFailed     JobStatus = "failed"
	JobStatusDismissed  JobStatus = "dismissed"
)

// Terminal reports whether s is a terminal state.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusSuccessful, JobStatusFailed, JobStatusDismissed:
		return true
	}
	return false
}

// CanTransitionTo reports whether the state machine permits moving from
// s to next. Statuses are monotonic: a terminal state admits no further
// transitions, and a job never moves backwards.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	switch s {
	case JobStatusAccepted:
		return next == JobStatusRunning || next == JobStatusFailed || next == JobStatusDismissed
	case JobStatusRunning:
		return next == JobStatusSuccessful || next == JobStatusFailed || next == JobStatusDismissed
	default:
		return false
	}
}

// JobRecord tracks a single unit of asynchronous execution. It is
// created by the job manager, mutated by the worker execution handler,
// and readable by any caller holding the job ID. Records expire from
// the job store by TTL; there is no explicit delete path.
type JobRecord struct {
	ID               string    `json:"job_id"`
	ProcessID        string    `json:"process_id"`
	Status           JobStatus `json:"status"`
	Fingerprint      string    `json:"fingerprint"`
	RequestedOutputs []string  `json:"requested_outputs,omitempty"`

	Created  time.Time  `json:"created"`
	Updated  time.Time  `json:"updated"`
	Started  *time.Time `json:"started,omitempty"`
	Finished *time.Time `json:"finished,omitempty"`

	// Progress is a percentage in [0, 100].
	Progress int    `json:"progress"`
	Message  string `json:"message,omitempty"`

	ErrorKind   ErrorKind `json:"error_kind,omitempty"`
	ErrorDetail string    `json:"error_detail,omitempty"`
}

// NewJobRecord returns a job record in the accepted state with a fresh
// globally unique identifier.
func NewJobRecord(processID, fingerprint string, requestedOutputs []string) *JobRecord {
	now := time.Now().UTC()
	return &JobRecord{
		ID:               uuid.NewString(),
		ProcessID:        processID,
		Status:           JobStatusAccepted,
		Fingerprint:      fingerprint,
		RequestedOutputs: requestedOutputs,
		Created:          now,
		Updated:          now,
	}
}
