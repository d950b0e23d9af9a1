package api

import (
	"time"

	"github.com/tilegrid/procserve/internal/domain"
	"github.com/tilegrid/procserve/internal/process"
)

// Link is an OGC API hypermedia link.
type Link struct {
	Href string `json:"href"`
	Rel  string `json:"rel"`
	Type string `json:"type,omitempty"`
}

// Landing is the API landing page document.
type Landing struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Links       []Link `json:"links"`
}

// Conformance declares the conformance classes the API implements.
type Conformance struct {
	ConformsTo []string `json:"conformsTo"`
}

// ProcessList wraps the process summaries for the listing endpoint.
type ProcessList struct {
	Processes []process.Description `json:"processes"`
	Links     []Link                `json:"links"`
}

// ExecRequest is the body of an execution request.
type ExecRequest struct {
	Inputs  map[string]any `json:"inputs"             validate:"required"`
	Outputs []string       `json:"outputs,omitempty"`
	Mode    string         `json:"mode,omitempty"     validate:"omitempty,oneof=sync async"`
}

// JobStatusInfo is the OGC job status document.
type JobStatusInfo struct {
	JobID     string     `json:"jobID"`
	Status    string     `json:"status"`
	Type      string     `json:"type"`
	ProcessID string     `json:"processID,omitempty"`
	Message   string     `json:"message,omitempty"`
	Created   time.Time  `json:"created"`
	Started   *time.Time `json:"started,omitempty"`
	Finished  *time.Time `json:"finished,omitempty"`
	Updated   time.Time  `json:"updated"`
	Progress  int        `json:"progress"`
	Links     []Link     `json:"links,omitempty"`
}

// JobList wraps job status documents for the listing endpoint.
type JobList struct {
	Jobs  []JobStatusInfo `json:"jobs"`
	Links []Link          `json:"links"`
}

// jobToStatusInfo converts a job record to its API document.
func jobToStatusInfo(record *domain.JobRecord) JobStatusInfo {
	message := record.Message
	if record.ErrorDetail != "" {
		message = record.ErrorDetail
	}
	return JobStatusInfo{
		JobID:     record.ID,
		Status:    string(record.Status),
		Type:      "process",
		ProcessID: record.ProcessID,
		Message:   message,
		Created:   record.Created,
		Started:   record.Started,
		Finished:  record.Finished,
		Updated:   record.Updated,
		Progress:  record.Progress,
		Links: []Link{
			{Href: "/jobs/" + record.ID, Rel: "self", Type: "application/json"},
			{Href: "/jobs/" + record.ID + "/results", Rel: "results", Type: "application/json"},
		},
	}
}
