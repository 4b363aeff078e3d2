package pipeline

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/sessionscribe/api/internal/client"
	"github.com/sessionscribe/api/internal/model"
)

// pollStep is one scripted answer to a status query.
type pollStep struct {
	job *model.TranscriptionJob
	err error
}

type fakeSpeech struct {
	mu sync.Mutex

	uploadURL string
	uploadErr error
	jobID     string
	submitErr error
	steps     []pollStep

	uploads     int
	submits     int
	polls       int
	uploadBody  []byte
	uploadType  string
	submitURL   string
	submitOpts  model.TranscriptOptions
	polledJobID string
}

func (f *fakeSpeech) Upload(ctx context.Context, audio io.Reader, contentType string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads++
	f.uploadBody, _ = io.ReadAll(audio)
	f.uploadType = contentType
	if f.uploadErr != nil {
		return "", f.uploadErr
	}
	return f.uploadURL, nil
}

func (f *fakeSpeech) SubmitTranscript(ctx context.Context, audioURL string, opts model.TranscriptOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits++
	f.submitURL = audioURL
	f.submitOpts = opts
	if f.submitErr != nil {
		return "", f.submitErr
	}
	return f.jobID, nil
}

func (f *fakeSpeech) GetTranscript(ctx context.Context, id string) (*model.TranscriptionJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	f.polledJobID = id
	idx := f.polls - 1
	if idx >= len(f.steps) {
		idx = len(f.steps) - 1
	}
	step := f.steps[idx]
	return step.job, step.err
}

type fakeGenerator struct {
	note  string
	err   error
	calls int

	transcriptID string
	prompt       string
	finalModel   string
}

func (g *fakeGenerator) GenerateNote(ctx context.Context, transcriptID, prompt, finalModel string) (string, error) {
	g.calls++
	g.transcriptID = transcriptID
	g.prompt = prompt
	g.finalModel = finalModel
	return g.note, g.err
}

// countingSleep records waits without blocking.
type countingSleep struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (s *countingSleep) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.waits = append(s.waits, d)
	s.mu.Unlock()
	return ctx.Err()
}

func status(s model.TranscriptStatus) pollStep {
	return pollStep{job: &model.TranscriptionJob{ID: "j1", Status: s}}
}

func completed(utterances ...model.Utterance) pollStep {
	if utterances == nil {
		utterances = []model.Utterance{}
	}
	return pollStep{job: &model.TranscriptionJob{
		ID:     "j1",
		Status: model.TranscriptStatusCompleted,
		Transcript: &model.Transcript{
			ID:         "j1",
			Status:     model.TranscriptStatusCompleted,
			AudioURL:   "r1",
			Utterances: utterances,
		},
	}}
}

func failedJob(reason string) pollStep {
	return pollStep{job: &model.TranscriptionJob{ID: "j1", Status: model.TranscriptStatusError, Error: reason}}
}

func apiErr(status int) error {
	return &client.APIError{Service: "assemblyai", StatusCode: status, Message: "remote says no"}
}
