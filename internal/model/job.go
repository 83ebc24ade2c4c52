package model

import "time"

// Job is the persisted record of one render request
type Job struct {
	ID            string       `json:"job_id"`
	Status        JobStatus    `json:"status"`
	Progress      int          `json:"progress"`
	CurrentStep   string       `json:"current_step,omitempty"`
	Config        RenderConfig `json:"config"`
	CreatedAt     time.Time    `json:"created_at"`
	StartedAt     *time.Time   `json:"started_at,omitempty"`
	CompletedAt   *time.Time   `json:"completed_at,omitempty"`
	OutputPath    string       `json:"output_path,omitempty"`
	FileSize      int64        `json:"file_size,omitempty"`
	DownloadURL   string       `json:"download_url,omitempty"`
	Error         string       `json:"error,omitempty"`
	ErrorKind     ErrorKind    `json:"error_kind,omitempty"`
	FailedSegment *int         `json:"failed_segment,omitempty"`
}

// Clone returns a deep copy safe to hand out to readers.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	out := *j
	out.Config = j.Config.Clone()
	if j.StartedAt != nil {
		t := *j.StartedAt
		out.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		out.CompletedAt = &t
	}
	if j.FailedSegment != nil {
		i := *j.FailedSegment
		out.FailedSegment = &i
	}
	return &out
}

// SubmitResponse is returned by POST /jobs
type SubmitResponse struct {
	JobID   string    `json:"job_id"`
	Status  JobStatus `json:"status"`
	Message string    `json:"message"`
}

// MessageResponse carries a plain confirmation message
type MessageResponse struct {
	Message string `json:"message"`
}

// HealthResponse is returned by GET /health
type HealthResponse struct {
	Status     string          `json:"status"`
	Timestamp  time.Time       `json:"timestamp"`
	ActiveJobs int             `json:"active_jobs"`
	TotalJobs  int             `json:"total_jobs"`
	Services   map[string]bool `json:"services,omitempty"`
}
