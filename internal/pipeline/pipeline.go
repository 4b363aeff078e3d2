package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/sessionscribe/api/internal/config"
	"github.com/sessionscribe/api/internal/model"
)

// SpeechAPI is the remote speech service: binary upload plus the transcription job endpoints.
type SpeechAPI interface {
	StatusFetcher
	Upload(ctx context.Context, audio io.Reader, contentType string) (string, error)
	SubmitTranscript(ctx context.Context, audioURL string, opts model.TranscriptOptions) (string, error)
}

// NoteGenerator turns a rendered prompt into a clinical note.
type NoteGenerator interface {
	GenerateNote(ctx context.Context, transcriptID, prompt, finalModel string) (string, error)
}

// Options are the named constants of a run.
type Options struct {
	PollInterval             time.Duration
	MaxPollAttempts          int
	SpeakerLabels            bool
	RetryPollTransportErrors bool
	FinalModel               string
}

// DefaultOptions returns the production defaults: 3s between polls, 10 polls,
// diarization on, transport errors while polling are fatal.
func DefaultOptions() Options {
	return Options{
		PollInterval:    3 * time.Second,
		MaxPollAttempts: 10,
		SpeakerLabels:   true,
		FinalModel:      "anthropic/claude-3-5-sonnet",
	}
}

// OptionsFromConfig maps loaded configuration onto run options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		PollInterval:             cfg.Pipeline.PollInterval(),
		MaxPollAttempts:          cfg.Pipeline.MaxPollAttempts,
		SpeakerLabels:            cfg.Pipeline.SpeakerLabels,
		RetryPollTransportErrors: cfg.Pipeline.RetryPollTransportErrors,
		FinalModel:               cfg.Generation.FinalModel,
	}
}

// Progress is reported as a run moves through its stages.
type Progress struct {
	Stage       Stage
	Percent     int
	Step        string
	PollAttempt int
	JobStatus   model.TranscriptStatus
}

// ProgressFunc receives progress updates. It is called synchronously from the run.
type ProgressFunc func(Progress)

// Result is the output of a successful run.
type Result struct {
	TranscriptID       string
	Transcript         *model.Transcript
	RenderedTranscript string
	Prompt             string
	Note               string
	PollAttempts       int
}

// Pipeline sequences upload, job submission, polling, prompt rendering and
// note generation. It keeps no state between runs.
type Pipeline struct {
	speech    SpeechAPI
	generator NoteGenerator
	poller    *Poller
	opts      Options
}

// New creates a pipeline over the given speech service and note generator.
func New(speech SpeechAPI, generator NoteGenerator, opts Options) *Pipeline {
	return &Pipeline{
		speech:    speech,
		generator: generator,
		poller:    NewPoller(speech, opts.PollInterval, opts.MaxPollAttempts, opts.RetryPollTransportErrors),
		opts:      opts,
	}
}

// WithSleep returns a copy of the pipeline whose poller waits with fn.
func (p *Pipeline) WithSleep(fn SleepFunc) *Pipeline {
	cp := *p
	cp.poller = p.poller.WithSleep(fn)
	return &cp
}

// Options returns the options the pipeline was built with.
func (p *Pipeline) Options() Options {
	return p.opts
}

// Run executes every stage in order. The first failing stage aborts the run
// and its failure is returned as a *Error; no partial result is returned.
func (p *Pipeline) Run(ctx context.Context, audio model.AudioPayload, progress ProgressFunc) (*Result, error) {
	report := func(pr Progress) {
		if progress != nil {
			progress(pr)
		}
	}

	if len(audio.Data) == 0 {
		return nil, Normalize(StageUpload, ErrEmptyAudio)
	}
	contentType := audio.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	report(Progress{Stage: StageUpload, Percent: 5, Step: "Uploading audio..."})
	audioURL, err := p.speech.Upload(ctx, bytes.NewReader(audio.Data), contentType)
	if err != nil {
		return nil, Normalize(StageUpload, err)
	}

	report(Progress{Stage: StageSubmit, Percent: 15, Step: "Submitting transcription job..."})
	transcriptID, err := p.speech.SubmitTranscript(ctx, audioURL, model.TranscriptOptions{SpeakerLabels: p.opts.SpeakerLabels})
	if err != nil {
		return nil, Normalize(StageSubmit, err)
	}
	log.Printf("[Pipeline] transcription job %s submitted", transcriptID)

	report(Progress{Stage: StagePoll, Percent: 20, Step: "Waiting for transcription..."})
	transcript, attempts, err := p.poller.Poll(ctx, transcriptID, func(attempt int, status model.TranscriptStatus) {
		report(Progress{
			Stage:       StagePoll,
			Percent:     20 + attempt*50/p.poller.maxAttempts,
			Step:        fmt.Sprintf("Transcription %s (check %d of %d)", status, attempt, p.poller.maxAttempts),
			PollAttempt: attempt,
			JobStatus:   status,
		})
	})
	if err != nil {
		return nil, Normalize(StagePoll, err)
	}

	report(Progress{Stage: StageRender, Percent: 75, Step: "Preparing note prompt..."})
	rendered, err := RenderTranscript(transcript)
	if err != nil {
		return nil, Normalize(StageRender, err)
	}
	prompt := BuildPrompt(rendered)

	report(Progress{Stage: StageGenerate, Percent: 80, Step: "Generating clinical note..."})
	note, err := p.generator.GenerateNote(ctx, transcriptID, prompt, p.opts.FinalModel)
	if err != nil {
		return nil, Normalize(StageGenerate, err)
	}
	if strings.TrimSpace(note) == "" {
		return nil, Normalize(StageGenerate, fmt.Errorf("%w for transcript %s", ErrGenerationFailed, transcriptID))
	}

	report(Progress{Stage: StageGenerate, Percent: 100, Step: "Note ready"})
	return &Result{
		TranscriptID:       transcriptID,
		Transcript:         transcript,
		RenderedTranscript: rendered,
		Prompt:             prompt,
		Note:               note,
		PollAttempts:       attempts,
	}, nil
}
