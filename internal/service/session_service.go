package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/sessionscribe/api/internal/model"
	"github.com/sessionscribe/api/internal/pipeline"
	"github.com/sessionscribe/api/pkg/response"
)

const (
	TaskTypeSession = "session:process"
	QueueSessions   = "sessions"

	jobTTL          = 24 * time.Hour
	stagedAudioTTL  = time.Hour
	finalizeTimeout = 10 * time.Second
)

var (
	ErrJobNotFound   = errors.New("job not found")
	ErrJobNotReady   = errors.New("job not completed")
	ErrAudioNotFound = errors.New("staged audio not found or expired")
)

// JobFailedError is returned when the result of a failed job is requested.
type JobFailedError struct {
	JobError model.JobError
}

func (e *JobFailedError) Error() string {
	return e.JobError.Message
}

// Runner executes the transcription and note pipeline.
type Runner interface {
	Run(ctx context.Context, audio model.AudioPayload, progress pipeline.ProgressFunc) (*pipeline.Result, error)
}

// JobStore persists asynchronous session job records and the audio staged
// for a queued job until the worker has consumed it.
type JobStore interface {
	SaveJob(ctx context.Context, job *model.SessionJob) error
	GetJob(ctx context.Context, jobID string) (*model.SessionJob, error)
	StageAudio(ctx context.Context, jobID string, audio model.AudioPayload, ttl time.Duration) error
	LoadAudio(ctx context.Context, jobID string) (*model.AudioPayload, error)
	DeleteAudio(ctx context.Context, jobID string) error
}

// TaskEnqueuer is satisfied by *asynq.Client.
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// RedisJobStore keeps job records as JSON under session-job:<id> and staged
// audio as a hash under session-audio:<id>.
type RedisJobStore struct {
	redis *redis.Client
}

func NewRedisJobStore(redisClient *redis.Client) *RedisJobStore {
	return &RedisJobStore{redis: redisClient}
}

func (s *RedisJobStore) SaveJob(ctx context.Context, job *model.SessionJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, jobKey(job.ID), data, jobTTL).Err()
}

func (s *RedisJobStore) GetJob(ctx context.Context, jobID string) (*model.SessionJob, error) {
	data, err := s.redis.Get(ctx, jobKey(jobID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrJobNotFound
		}
		return nil, err
	}

	var job model.SessionJob
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (s *RedisJobStore) StageAudio(ctx context.Context, jobID string, audio model.AudioPayload, ttl time.Duration) error {
	key := audioKey(jobID)
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, "contentType", audio.ContentType, "data", audio.Data)
		pipe.Expire(ctx, key, ttl)
		return nil
	})
	return err
}

func (s *RedisJobStore) LoadAudio(ctx context.Context, jobID string) (*model.AudioPayload, error) {
	vals, err := s.redis.HGetAll(ctx, audioKey(jobID)).Result()
	if err != nil {
		return nil, err
	}
	data, ok := vals["data"]
	if !ok {
		return nil, ErrAudioNotFound
	}
	return &model.AudioPayload{Data: []byte(data), ContentType: vals["contentType"]}, nil
}

func (s *RedisJobStore) DeleteAudio(ctx context.Context, jobID string) error {
	return s.redis.Del(ctx, audioKey(jobID)).Err()
}

func jobKey(jobID string) string {
	return fmt.Sprintf("session-job:%s", jobID)
}

func audioKey(jobID string) string {
	return fmt.Sprintf("session-audio:%s", jobID)
}

// SessionService runs the pipeline synchronously or through the job queue.
type SessionService struct {
	runner Runner
	store  JobStore
	queue  TaskEnqueuer
	now    func() time.Time
}

func NewSessionService(runner Runner, store JobStore, queue TaskEnqueuer) *SessionService {
	return &SessionService{
		runner: runner,
		store:  store,
		queue:  queue,
		now:    time.Now,
	}
}

// Transcribe runs the whole pipeline in the caller's goroutine.
func (s *SessionService) Transcribe(ctx context.Context, audio model.AudioPayload, progress pipeline.ProgressFunc) (*model.SessionResult, error) {
	if len(audio.Data) == 0 {
		return nil, pipeline.Normalize(pipeline.StageUpload, pipeline.ErrEmptyAudio)
	}

	res, err := s.runner.Run(ctx, audio, progress)
	if err != nil {
		return nil, err
	}

	return &model.SessionResult{
		TranscriptID:       res.TranscriptID,
		Transcript:         res.Transcript,
		RenderedTranscript: res.RenderedTranscript,
		Note:               res.Note,
		PromptVersion:      pipeline.PromptVersion,
		GeneratedAt:        s.now().UTC(),
	}, nil
}

// RunJob runs the pipeline over the audio staged for jobID. The staged audio
// is deleted once the run ends, whatever the outcome.
func (s *SessionService) RunJob(ctx context.Context, jobID string, progress pipeline.ProgressFunc) (*model.SessionResult, error) {
	defer s.releaseAudio(ctx, jobID)

	audio, err := s.store.LoadAudio(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to load audio for job %s: %w", jobID, err)
	}
	return s.Transcribe(ctx, *audio, progress)
}

func (s *SessionService) releaseAudio(ctx context.Context, jobID string) {
	ctx, cancel := finalizeContext(ctx)
	defer cancel()
	if err := s.store.DeleteAudio(ctx, jobID); err != nil {
		log.Printf("[Sessions] failed to delete staged audio for job %s: %v", jobID, err)
	}
}

// finalizeContext outlives the cancellation of ctx so that final writes land
// even when the task deadline has passed.
func finalizeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
}

// StartSession records a queued job, stages its audio and enqueues a task
// that carries only the job id.
func (s *SessionService) StartSession(ctx context.Context, audio model.AudioPayload, clientID string) (*model.SessionStartResponse, error) {
	if len(audio.Data) == 0 {
		return nil, pipeline.Normalize(pipeline.StageUpload, pipeline.ErrEmptyAudio)
	}

	jobID := uuid.New().String()
	now := s.now().UTC()

	job := &model.SessionJob{
		ID:        jobID,
		ClientID:  clientID,
		Status:    model.JobStatusQueued,
		CreatedAt: now,
	}
	if err := s.store.SaveJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to save job: %w", err)
	}

	if err := s.store.StageAudio(ctx, jobID, audio, stagedAudioTTL); err != nil {
		return nil, fmt.Errorf("failed to stage audio: %w", err)
	}

	task, err := newSessionTask(&model.SessionJobPayload{JobID: jobID})
	if err != nil {
		s.abandon(ctx, jobID, err)
		return nil, fmt.Errorf("failed to create task: %w", err)
	}

	// One upload and one submission per run, so the queue never retries.
	_, err = s.queue.EnqueueContext(ctx, task,
		asynq.Queue(QueueSessions),
		asynq.MaxRetry(0),
		asynq.Retention(jobTTL),
	)
	if err != nil {
		s.abandon(ctx, jobID, err)
		return nil, fmt.Errorf("failed to enqueue task: %w", err)
	}

	log.Printf("[Sessions] job %s queued (%d bytes, %s)", jobID, len(audio.Data), audio.ContentType)

	return &model.SessionStartResponse{
		JobID:     jobID,
		Status:    model.JobStatusQueued,
		CreatedAt: now,
	}, nil
}

// abandon drops the staged audio of a job that never reached the queue.
func (s *SessionService) abandon(ctx context.Context, jobID string, cause error) {
	s.releaseAudio(ctx, jobID)
	jobErr := model.JobError{Code: response.CodeServiceError, Message: "Failed to queue session"}
	if err := s.FailJob(ctx, jobID, jobErr); err != nil {
		log.Printf("[Sessions] failed to mark job %s as failed after %v: %v", jobID, cause, err)
	}
}

// GetStatus returns the current status of a session job
func (s *SessionService) GetStatus(ctx context.Context, jobID string) (*model.SessionStatusResponse, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	return &model.SessionStatusResponse{
		JobID:       job.ID,
		Status:      job.Status,
		Progress:    job.Progress,
		CurrentStep: job.CurrentStep,
		PollAttempt: job.PollAttempt,
		Error:       job.Error,
		CreatedAt:   job.CreatedAt,
		StartedAt:   job.StartedAt,
		CompletedAt: job.CompletedAt,
	}, nil
}

// GetResult returns transcript and note of a succeeded job.
func (s *SessionService) GetResult(ctx context.Context, jobID string) (*model.SessionResult, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	switch job.Status {
	case model.JobStatusSucceeded:
		if job.Result == nil {
			return nil, fmt.Errorf("job %s has no stored result", jobID)
		}
		return job.Result, nil
	case model.JobStatusFailed:
		jobErr := model.JobError{Code: response.CodeJobFailed, Message: "job failed"}
		if job.Error != nil {
			jobErr = *job.Error
		}
		return nil, &JobFailedError{JobError: jobErr}
	default:
		return nil, ErrJobNotReady
	}
}

// UpdateProgress updates job progress (called by worker)
func (s *SessionService) UpdateProgress(ctx context.Context, jobID string, progress int, step string, pollAttempt int) error {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}

	job.Progress = progress
	job.CurrentStep = step
	if pollAttempt > 0 {
		job.PollAttempt = pollAttempt
	}

	if job.Status == model.JobStatusQueued {
		job.Status = model.JobStatusRunning
		now := s.now().UTC()
		job.StartedAt = &now
	}

	return s.store.SaveJob(ctx, job)
}

// CompleteJob stores transcript and note together (called by worker)
func (s *SessionService) CompleteJob(ctx context.Context, jobID string, result *model.SessionResult) error {
	ctx, cancel := finalizeContext(ctx)
	defer cancel()

	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}

	job.Status = model.JobStatusSucceeded
	job.Progress = 100
	job.CurrentStep = ""
	job.Result = result
	job.Error = nil
	now := s.now().UTC()
	job.CompletedAt = &now

	return s.store.SaveJob(ctx, job)
}

// FailJob marks job as failed (called by worker)
func (s *SessionService) FailJob(ctx context.Context, jobID string, jobErr model.JobError) error {
	ctx, cancel := finalizeContext(ctx)
	defer cancel()

	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}

	job.Status = model.JobStatusFailed
	job.Error = &jobErr
	job.Result = nil
	now := s.now().UTC()
	job.CompletedAt = &now

	return s.store.SaveJob(ctx, job)
}

// ToJobError maps a run failure onto the code clients switch on. The message
// keeps the category prefix of pipeline errors.
func ToJobError(err error) model.JobError {
	code := response.CodeServiceError
	switch pipeline.CategoryOf(err) {
	case pipeline.CategoryAuth:
		code = response.CodeAuthError
	case pipeline.CategoryTransport:
		code = response.CodeTransportError
	case pipeline.CategoryTranscriptionFailed:
		code = response.CodeTranscriptionFailed
	case pipeline.CategoryTranscriptionTimeout:
		code = response.CodeTranscriptionTimeout
	case pipeline.CategoryInvalidTranscript:
		code = response.CodeInvalidTranscript
	case pipeline.CategoryGenerationFailed:
		code = response.CodeGenerationFailed
	case pipeline.CategoryInvalidAudio:
		code = response.CodeInvalidAudio
	}
	return model.JobError{Code: code, Message: err.Error()}
}

func newSessionTask(payload *model.SessionJobPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeSession, data), nil
}
