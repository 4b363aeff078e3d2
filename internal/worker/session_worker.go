package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/hibiken/asynq"

	"github.com/sessionscribe/api/internal/model"
	"github.com/sessionscribe/api/internal/pipeline"
	"github.com/sessionscribe/api/internal/service"
	"github.com/sessionscribe/api/pkg/response"
)

// Broadcaster pushes job events to live subscribers. *websocket.Hub satisfies it.
type Broadcaster interface {
	BroadcastProgress(jobID string, progress int, status model.JobStatus, step string, pollAttempt int)
	BroadcastComplete(jobID string, result *model.SessionResult)
	BroadcastError(jobID string, jobErr model.JobError)
}

// SessionWorker processes queued session jobs
type SessionWorker struct {
	sessionService *service.SessionService
	hub            Broadcaster
}

// NewSessionWorker creates a new session worker
func NewSessionWorker(sessionService *service.SessionService, hub Broadcaster) *SessionWorker {
	return &SessionWorker{
		sessionService: sessionService,
		hub:            hub,
	}
}

// ProcessTask runs the pipeline for one queued job. Failures are recorded on
// the job and never handed back to asynq for a retry. The job's final status
// is written even when ctx has been cancelled.
func (w *SessionWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload model.SessionJobPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %v: %w", err, asynq.SkipRetry)
	}

	jobID := payload.JobID
	log.Printf("[Worker] starting session job %s", jobID)

	result, err := w.sessionService.RunJob(ctx, jobID, func(p pipeline.Progress) {
		w.updateProgress(ctx, jobID, p)
	})
	if err != nil {
		w.failJob(ctx, jobID, service.ToJobError(err))
		return fmt.Errorf("session job %s: %v: %w", jobID, err, asynq.SkipRetry)
	}

	if err := w.sessionService.CompleteJob(ctx, jobID, result); err != nil {
		w.failJob(ctx, jobID, model.JobError{Code: response.CodeServiceError, Message: "Failed to save result"})
		return fmt.Errorf("session job %s: save result: %v: %w", jobID, err, asynq.SkipRetry)
	}

	w.hub.BroadcastComplete(jobID, result)
	log.Printf("[Worker] session job %s completed", jobID)
	return nil
}

func (w *SessionWorker) updateProgress(ctx context.Context, jobID string, p pipeline.Progress) {
	if err := w.sessionService.UpdateProgress(ctx, jobID, p.Percent, p.Step, p.PollAttempt); err != nil {
		log.Printf("[Worker] failed to update progress for job %s: %v", jobID, err)
	}
	w.hub.BroadcastProgress(jobID, p.Percent, model.JobStatusRunning, p.Step, p.PollAttempt)
}

func (w *SessionWorker) failJob(ctx context.Context, jobID string, jobErr model.JobError) {
	if err := w.sessionService.FailJob(ctx, jobID, jobErr); err != nil {
		log.Printf("[Worker] failed to mark job %s as failed: %v", jobID, err)
	}
	w.hub.BroadcastError(jobID, jobErr)
	log.Printf("[Worker] session job %s failed: %s", jobID, jobErr.Message)
}
