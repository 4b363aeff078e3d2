package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/sessionscribe/api/internal/client"
	"github.com/sessionscribe/api/internal/model"
)

// StatusFetcher reads the current state of a remote transcription job.
type StatusFetcher interface {
	GetTranscript(ctx context.Context, id string) (*model.TranscriptionJob, error)
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// PollObserver is told about every status the poller sees.
type PollObserver func(attempt int, status model.TranscriptStatus)

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Poller mirrors a remote job until it reaches a terminal state or the
// attempt budget runs out. A Poller holds no per-job state, so one value can
// serve concurrent runs.
type Poller struct {
	fetcher        StatusFetcher
	interval       time.Duration
	maxAttempts    int
	retryTransport bool
	sleep          SleepFunc
}

// NewPoller creates a poller that waits interval before each of at most maxAttempts queries.
func NewPoller(fetcher StatusFetcher, interval time.Duration, maxAttempts int, retryTransport bool) *Poller {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Poller{
		fetcher:        fetcher,
		interval:       interval,
		maxAttempts:    maxAttempts,
		retryTransport: retryTransport,
		sleep:          sleepContext,
	}
}

// WithSleep replaces the inter-poll wait, mainly so tests need not wait on real timers.
func (p *Poller) WithSleep(fn SleepFunc) *Poller {
	cp := *p
	cp.sleep = fn
	return &cp
}

// Poll returns the completed transcript and the number of status queries made.
//
// Every attempt is preceded by the fixed delay. An explicit "error" status
// stops immediately; "queued" and "processing" continue until the last
// attempt, after which ErrTranscriptionTimeout is returned.
func (p *Poller) Poll(ctx context.Context, jobID string, observe PollObserver) (*model.Transcript, int, error) {
	var (
		lastStatus model.TranscriptStatus
		lastErr    error
	)

	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		if err := p.sleep(ctx, p.interval); err != nil {
			return nil, attempt - 1, err
		}

		job, err := p.fetcher.GetTranscript(ctx, jobID)
		if err != nil {
			if !p.retryable(ctx, err) {
				log.Printf("[Pipeline] poll #%d (job=%s) — error: %v", attempt, jobID, err)
				return nil, attempt, err
			}
			log.Printf("[Pipeline] poll #%d (job=%s) — transient error, retrying: %v", attempt, jobID, err)
			lastErr = err
			continue
		}

		lastStatus = job.Status
		lastErr = nil
		log.Printf("[Pipeline] poll #%d (job=%s) — status: %s", attempt, jobID, job.Status)
		if observe != nil {
			observe(attempt, job.Status)
		}

		switch job.Status {
		case model.TranscriptStatusCompleted:
			if job.Transcript == nil {
				return nil, attempt, fmt.Errorf("%w: job %s completed without a transcript", ErrInvalidTranscript, jobID)
			}
			return job.Transcript, attempt, nil
		case model.TranscriptStatusError:
			reason := job.Error
			if reason == "" {
				reason = "no reason reported by the speech service"
			}
			return nil, attempt, fmt.Errorf("%w: %s", ErrTranscriptionFailed, reason)
		}
		// queued, processing and any status the service adds later keep polling
	}

	if lastErr != nil {
		return nil, p.maxAttempts, fmt.Errorf("%w: job %s not reached after %d polling attempts (last error: %v); please try again",
			ErrTranscriptionTimeout, jobID, p.maxAttempts, lastErr)
	}
	return nil, p.maxAttempts, fmt.Errorf("%w: job %s still %s after %d polling attempts; please try again",
		ErrTranscriptionTimeout, jobID, lastStatus, p.maxAttempts)
}

// retryable reports whether a failed status query may consume an attempt
// instead of ending the run. Credential rejections never are.
func (p *Poller) retryable(ctx context.Context, err error) bool {
	if !p.retryTransport || ctx.Err() != nil {
		return false
	}
	return errors.Is(err, client.ErrTransport) && !errors.Is(err, client.ErrAuth)
}
