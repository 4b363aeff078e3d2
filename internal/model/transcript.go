package model

// TranscriptStatus mirrors the remote transcription job state machine.
type TranscriptStatus string

const (
	TranscriptStatusQueued     TranscriptStatus = "queued"
	TranscriptStatusProcessing TranscriptStatus = "processing"
	TranscriptStatusCompleted  TranscriptStatus = "completed"
	TranscriptStatusError      TranscriptStatus = "error"
)

// IsTerminal reports whether the remote service will not change the status again.
func (s TranscriptStatus) IsTerminal() bool {
	return s == TranscriptStatusCompleted || s == TranscriptStatusError
}

// AudioPayload is a finalized recording handed over by the capture side.
type AudioPayload struct {
	Data        []byte
	ContentType string
}

// TranscriptOptions are sent along with a transcription job submission.
type TranscriptOptions struct {
	SpeakerLabels bool
}

// Utterance is one diarized segment. Start and End are milliseconds from the
// beginning of the recording.
type Utterance struct {
	Speaker    string  `json:"speaker"`
	Text       string  `json:"text"`
	Start      int64   `json:"start"`
	End        int64   `json:"end"`
	Confidence float64 `json:"confidence,omitempty"`
}

// Transcript is the completed result of a transcription job. A nil
// Utterances slice means the service omitted the field entirely.
type Transcript struct {
	ID            string           `json:"id"`
	Status        TranscriptStatus `json:"status"`
	AudioURL      string           `json:"audioUrl"`
	Text          string           `json:"text,omitempty"`
	AudioDuration float64          `json:"audioDuration,omitempty"`
	Utterances    []Utterance      `json:"utterances"`
}

// TranscriptionJob is a read-only snapshot of the remote job as observed by one poll.
type TranscriptionJob struct {
	ID         string
	Status     TranscriptStatus
	Error      string
	Transcript *Transcript
}
