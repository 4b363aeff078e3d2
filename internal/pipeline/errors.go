package pipeline

import (
	"errors"
	"fmt"

	"github.com/sessionscribe/api/internal/client"
)

// Category is the stable prefix a caller can switch on to render a failure.
type Category string

const (
	CategoryAuth                 Category = "AuthError"
	CategoryTransport            Category = "TransportError"
	CategoryTranscriptionFailed  Category = "TranscriptionFailed"
	CategoryTranscriptionTimeout Category = "TranscriptionTimeout"
	CategoryInvalidTranscript    Category = "InvalidTranscript"
	CategoryGenerationFailed     Category = "GenerationFailed"
	CategoryInvalidAudio         Category = "InvalidAudio"
)

// Stage names one step of a run.
type Stage string

const (
	StageUpload   Stage = "upload"
	StageSubmit   Stage = "submit"
	StagePoll     Stage = "poll"
	StageRender   Stage = "render"
	StageGenerate Stage = "generate"
)

var (
	ErrEmptyAudio           = errors.New("audio payload is empty")
	ErrTranscriptionFailed  = errors.New("transcription failed")
	ErrTranscriptionTimeout = errors.New("transcription did not complete in time")
	ErrInvalidTranscript    = errors.New("transcript is malformed")
	ErrGenerationFailed     = errors.New("note generation returned no usable text")
)

// Error is the single failure value a run returns.
type Error struct {
	Category Category
	Stage    Stage
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Category, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Normalize classifies a stage failure. Errors that are already normalized
// pass through untouched.
func Normalize(stage Stage, err error) error {
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	return &Error{Category: categorize(stage, err), Stage: stage, Err: err}
}

func categorize(stage Stage, err error) Category {
	switch {
	case errors.Is(err, ErrEmptyAudio):
		return CategoryInvalidAudio
	case errors.Is(err, client.ErrAuth):
		return CategoryAuth
	case errors.Is(err, ErrTranscriptionFailed):
		return CategoryTranscriptionFailed
	case errors.Is(err, ErrTranscriptionTimeout):
		return CategoryTranscriptionTimeout
	case errors.Is(err, ErrInvalidTranscript):
		return CategoryInvalidTranscript
	case errors.Is(err, ErrGenerationFailed):
		return CategoryGenerationFailed
	case errors.Is(err, client.ErrMalformedResponse):
		switch stage {
		case StagePoll, StageRender:
			return CategoryInvalidTranscript
		case StageGenerate:
			return CategoryGenerationFailed
		}
		return CategoryTransport
	}
	// network failures, non-2xx responses and cancellation
	return CategoryTransport
}

// CategoryOf returns the category of a normalized error, or "" for any other error.
func CategoryOf(err error) Category {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Category
	}
	return ""
}
