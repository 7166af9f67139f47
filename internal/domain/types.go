package domain

import "encoding/json"

// JobStatus tracks the server-side lifecycle of a transcription job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// Terminal reports whether the status permits no further mutation.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// Known reports whether the status is one the client understands.
func (s JobStatus) Known() bool {
	switch s {
	case JobStatusPending, JobStatusProcessing, JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// Settings contains user-editable client configuration.
type Settings struct {
	APIBase      string `json:"apiBase"`
	RealtimeBase string `json:"realtimeBase"`
	OutputDir    string `json:"outputDir"`
	TokenFile    string `json:"tokenFile"`
}

// Job stores the observed identity, lifecycle status, and outcome of one
// transcription job. ResultSummary is opaque to this client; it is handed
// unchanged to whatever renders the transcript.
type Job struct {
	ID            string          `json:"id"`
	Status        JobStatus       `json:"status"`
	Progress      int             `json:"progress"`
	ResultSummary json.RawMessage `json:"resultSummary,omitempty"`
	ErrorMessage  string          `json:"errorMessage,omitempty"`
}

// ProgressFact is one observed update about a job, regardless of whether it
// arrived over the realtime channel or a polling cycle. Facts are folded
// into a Job record and not retained.
type ProgressFact struct {
	JobID    string          `json:"job_id"`
	Status   JobStatus       `json:"status"`
	Progress int             `json:"progress"`
	Stage    string          `json:"stage,omitempty"`
	Message  string          `json:"message,omitempty"`
	Error    string          `json:"error,omitempty"`
	Result   json.RawMessage `json:"result,omitempty"`
}
