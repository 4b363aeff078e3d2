package model

import "time"

// JobStatus is the state of a locally tracked asynchronous pipeline run.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

// SessionJob is the record kept for an asynchronous pipeline run.
type SessionJob struct {
	ID          string         `json:"id"`
	ClientID    string         `json:"clientId,omitempty"`
	Status      JobStatus      `json:"status"`
	Progress    int            `json:"progress"`
	CurrentStep string         `json:"currentStep,omitempty"`
	PollAttempt int            `json:"pollAttempt,omitempty"`
	Error       *JobError      `json:"error,omitempty"`
	Result      *SessionResult `json:"result,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
	StartedAt   *time.Time     `json:"startedAt,omitempty"`
	CompletedAt *time.Time     `json:"completedAt,omitempty"`
}

// JobError carries the normalized pipeline failure of a job.
type JobError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// SessionResult is the pipeline output: transcript and note are always set together.
type SessionResult struct {
	TranscriptID       string      `json:"transcriptId"`
	Transcript         *Transcript `json:"transcript"`
	RenderedTranscript string      `json:"renderedTranscript"`
	Note               string      `json:"note"`
	PromptVersion      string      `json:"promptVersion"`
	GeneratedAt        time.Time   `json:"generatedAt"`
}

// SessionStartResponse is returned when an asynchronous run is queued.
type SessionStartResponse struct {
	JobID     string    `json:"jobId"`
	Status    JobStatus `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// SessionStatusResponse reports progress of an asynchronous run.
type SessionStatusResponse struct {
	JobID       string     `json:"jobId"`
	Status      JobStatus  `json:"status"`
	Progress    int        `json:"progress"`
	CurrentStep string     `json:"currentStep,omitempty"`
	PollAttempt int        `json:"pollAttempt,omitempty"`
	Error       *JobError  `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// SessionJobPayload is the asynq task body for a queued run. The audio is
// staged separately under the job id.
type SessionJobPayload struct {
	JobID string `json:"jobId"`
}
