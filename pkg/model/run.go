package model

import "time"

// Run statuses.
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// Run represents one execution of a render job.
type Run struct {
	ID           int64      `json:"id"`
	JobName      string     `json:"job_name"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	Status       string     `json:"status"`
	ErrorText    string     `json:"error_text,omitempty"`
	ArtifactPath string     `json:"artifact_path,omitempty"`
	FileURL      string     `json:"file_url,omitempty"`
	Notified     bool       `json:"notified"`
	Bytes        int64      `json:"bytes"`
	CreatedAt    time.Time  `json:"created_at"`
}
