package model

// WebSocket message types
const (
	WSMessageTypeProgress = "progress"
	WSMessageTypeComplete = "complete"
	WSMessageTypeError    = "error"
	WSMessageTypePing     = "ping"
	WSMessageTypePong     = "pong"
)

// WSMessage represents a generic WebSocket message
type WSMessage struct {
	Type string `json:"type"`
}

// WSProgressMessage represents a progress update
type WSProgressMessage struct {
	Type        string    `json:"type"`
	JobID       string    `json:"jobId"`
	Progress    int       `json:"progress"`
	Status      JobStatus `json:"status"`
	CurrentStep string    `json:"currentStep,omitempty"`
	PollAttempt int       `json:"pollAttempt,omitempty"`
}

// WSCompleteMessage represents job completion
type WSCompleteMessage struct {
	Type   string         `json:"type"`
	JobID  string         `json:"jobId"`
	Result *SessionResult `json:"result"`
}

// WSErrorMessage represents an error
type WSErrorMessage struct {
	Type  string   `json:"type"`
	JobID string   `json:"jobId"`
	Error JobError `json:"error"`
}
