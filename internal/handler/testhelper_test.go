package handler_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/hibiken/asynq"

	"github.com/sessionscribe/api/internal/client"
	"github.com/sessionscribe/api/internal/config"
	"github.com/sessionscribe/api/internal/handler"
	"github.com/sessionscribe/api/internal/middleware"
	"github.com/sessionscribe/api/internal/model"
	"github.com/sessionscribe/api/internal/pipeline"
	"github.com/sessionscribe/api/internal/service"
)

const testAPIKey = "test-assemblyai-key"

// fakeSpeechAPI scripts the remote speech service endpoints.
type fakeSpeechAPI struct {
	mu sync.Mutex

	uploadStatus int
	statuses     []string
	utterances   string
	note         string

	calls speechCalls
}

type speechCalls struct {
	uploads    int
	submits    int
	polls      int
	lemurCalls int
	authSeen   []string
}

func (f *fakeSpeechAPI) snapshot() speechCalls {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.calls
	c.authSeen = append([]string(nil), f.calls.authSeen...)
	return c
}

func (f *fakeSpeechAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls.authSeen = append(f.calls.authSeen, r.Header.Get("Authorization"))
	w.Header().Set("Content-Type", "application/json")

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/v2/upload":
		f.calls.uploads++
		if f.uploadStatus != 0 {
			w.WriteHeader(f.uploadStatus)
			io.WriteString(w, `{"error":"Authentication error, API token missing/invalid"}`)
			return
		}
		io.WriteString(w, `{"upload_url":"r1"}`)

	case r.Method == http.MethodPost && r.URL.Path == "/v2/transcript":
		f.calls.submits++
		io.WriteString(w, `{"id":"j1","status":"queued"}`)

	case r.Method == http.MethodGet && r.URL.Path == "/v2/transcript/j1":
		idx := f.calls.polls
		if idx >= len(f.statuses) {
			idx = len(f.statuses) - 1
		}
		f.calls.polls++
		status := f.statuses[idx]
		if status == "completed" {
			io.WriteString(w, `{"id":"j1","status":"completed","audio_url":"r1","utterances":`+f.utterances+`}`)
			return
		}
		io.WriteString(w, `{"id":"j1","status":"`+status+`"}`)

	case r.Method == http.MethodPost && r.URL.Path == "/lemur/v3/generate/task":
		f.calls.lemurCalls++
		json.NewEncoder(w).Encode(map[string]string{"request_id": "l1", "response": f.note})

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

type memoryJobStore struct {
	mu    sync.Mutex
	jobs  map[string]model.SessionJob
	audio map[string]model.AudioPayload
}

func (m *memoryJobStore) SaveJob(ctx context.Context, job *model.SessionJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = *job
	return nil
}

func (m *memoryJobStore) GetJob(ctx context.Context, jobID string) (*model.SessionJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return nil, service.ErrJobNotFound
	}
	return &job, nil
}

func (m *memoryJobStore) StageAudio(ctx context.Context, jobID string, audio model.AudioPayload, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audio[jobID] = audio
	return nil
}

func (m *memoryJobStore) LoadAudio(ctx context.Context, jobID string) (*model.AudioPayload, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	audio, ok := m.audio[jobID]
	if !ok {
		return nil, service.ErrAudioNotFound
	}
	return &audio, nil
}

func (m *memoryJobStore) DeleteAudio(ctx context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.audio, jobID)
	return nil
}

func (m *memoryJobStore) stagedAudio() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.audio)
}

type memoryQueue struct {
	mu    sync.Mutex
	tasks []*asynq.Task
}

func (q *memoryQueue) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, task)
	return &asynq.TaskInfo{ID: task.Type()}, nil
}

type memoryCounter struct {
	mu     sync.Mutex
	counts map[string]int64
}

func (m *memoryCounter) Hit(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[key]++
	return m.counts[key], window, nil
}

type memoryStorage struct {
	objects map[string]string
}

func (s *memoryStorage) Upload(ctx context.Context, key string, body io.Reader, contentType string) (string, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	s.objects[key] = string(data)
	return "https://notes.example.test/" + key, nil
}

func (s *memoryStorage) GetSignedURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	return "https://notes.example.test/" + key + "?signed=1", nil
}

type testApp struct {
	app      *fiber.App
	speech   *fakeSpeechAPI
	sessions *service.SessionService
	jobs     *memoryJobStore
	queue    *memoryQueue
	storage  *memoryStorage
}

type appOptions struct {
	withStorage     bool
	sessionsPerHour int
}

// setupApp wires the real handlers, services, pipeline and speech client
// against an in-process fake of the speech service.
func setupApp(t *testing.T, speech *fakeSpeechAPI, opts appOptions) *testApp {
	t.Helper()

	srv := httptest.NewServer(speech)
	t.Cleanup(srv.Close)

	speechClient := client.NewAssemblyAIClient(&config.SpeechConfig{
		APIKey:  testAPIKey,
		BaseURL: srv.URL,
		Timeout: 5,
	})
	popts := pipeline.DefaultOptions()
	popts.PollInterval = 0
	runner := pipeline.New(speechClient, speechClient, popts)

	queue := &memoryQueue{}
	jobs := &memoryJobStore{jobs: make(map[string]model.SessionJob), audio: make(map[string]model.AudioPayload)}
	sessions := service.NewSessionService(runner, jobs, queue)

	var storage *memoryStorage
	var notes *service.NoteService
	if opts.withStorage {
		storage = &memoryStorage{objects: make(map[string]string)}
		notes = service.NewNoteService(storage)
	} else {
		notes = service.NewNoteService(nil)
	}

	limits := config.RateLimitConfig{SessionsPerHour: 100, ExportsPerHour: 100}
	if opts.sessionsPerHour > 0 {
		limits.SessionsPerHour = opts.sessionsPerHour
	}

	app := fiber.New(fiber.Config{BodyLimit: 10 * 1024 * 1024})
	handler.SetupRoutes(app, handler.Routes{
		Sessions:    handler.NewSessionHandler(sessions),
		Notes:       handler.NewNoteHandler(notes, validator.New()),
		RateLimiter: middleware.NewRateLimiter(&memoryCounter{counts: make(map[string]int64)}),
		Limits:      limits,
	})

	return &testApp{app: app, speech: speech, sessions: sessions, jobs: jobs, queue: queue, storage: storage}
}

// doRequest is a helper to perform HTTP requests against the test app.
func doRequest(app *fiber.App, method, path string, body io.Reader, headers map[string]string) (*http.Response, error) {
	req, err := http.NewRequest(method, path, body)
	if err != nil {
		return nil, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return app.Test(req, -1)
}

func doJSON(app *fiber.App, method, path, body string) (*http.Response, error) {
	var r io.Reader
	headers := map[string]string{}
	if body != "" {
		r = strings.NewReader(body)
		headers["Content-Type"] = "application/json"
	}
	return doRequest(app, method, path, r, headers)
}

// readBody reads and returns the response body as a string.
func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	return string(b)
}

// parseJSON parses response body into a map.
func parseJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	body := readBody(t, resp)
	var result map[string]interface{}
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		t.Fatalf("failed to parse JSON: %v\nbody: %s", err, body)
	}
	return result
}

// assertStatus checks the HTTP status code.
func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status %d, got %d", expected, resp.StatusCode)
	}
}

func errorCode(t *testing.T, body map[string]interface{}) string {
	t.Helper()
	e, ok := body["error"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected error envelope, got %v", body)
	}
	code, _ := e["code"].(string)
	return code
}
