package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/sessionscribe/api/internal/config"
	"github.com/sessionscribe/api/internal/model"
)

const assemblyAIService = "assemblyai"

// AssemblyAIClient talks to the upload, transcript and LeMUR endpoints of the speech API.
type AssemblyAIClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

type uploadResponse struct {
	UploadURL string `json:"upload_url"`
}

type transcriptRequest struct {
	AudioURL      string `json:"audio_url"`
	SpeakerLabels bool   `json:"speaker_labels"`
}

type transcriptResponse struct {
	ID            string              `json:"id"`
	Status        string              `json:"status"`
	AudioURL      string              `json:"audio_url"`
	Text          string              `json:"text"`
	AudioDuration float64             `json:"audio_duration"`
	Error         string              `json:"error"`
	Utterances    []utteranceResponse `json:"utterances"`
}

type utteranceResponse struct {
	Speaker    string  `json:"speaker"`
	Text       string  `json:"text"`
	Start      int64   `json:"start"`
	End        int64   `json:"end"`
	Confidence float64 `json:"confidence"`
}

type lemurTaskRequest struct {
	TranscriptIDs []string `json:"transcript_ids"`
	Prompt        string   `json:"prompt"`
	FinalModel    string   `json:"final_model"`
}

type lemurTaskResponse struct {
	RequestID string `json:"request_id"`
	Response  string `json:"response"`
}

// NewAssemblyAIClient creates a new speech API client
func NewAssemblyAIClient(cfg *config.SpeechConfig) *AssemblyAIClient {
	return &AssemblyAIClient{
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.Timeout) * time.Second,
		},
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
	}
}

// Upload sends the raw audio bytes and returns the URL of the stored audio.
func (c *AssemblyAIClient) Upload(ctx context.Context, audio io.Reader, contentType string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v2/upload", audio)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	var result uploadResponse
	if err := c.doRequest(req, &result); err != nil {
		return "", err
	}
	if result.UploadURL == "" {
		return "", malformedError(assemblyAIService, "upload response has no upload_url", nil)
	}
	return result.UploadURL, nil
}

// SubmitTranscript starts a transcription job for previously uploaded audio.
func (c *AssemblyAIClient) SubmitTranscript(ctx context.Context, audioURL string, opts model.TranscriptOptions) (string, error) {
	var result transcriptResponse
	body := transcriptRequest{AudioURL: audioURL, SpeakerLabels: opts.SpeakerLabels}
	if err := c.postJSON(ctx, "/v2/transcript", body, &result); err != nil {
		return "", err
	}
	if result.ID == "" {
		return "", malformedError(assemblyAIService, "transcript response has no id", nil)
	}
	return result.ID, nil
}

// GetTranscript fetches the current state of a transcription job.
func (c *AssemblyAIClient) GetTranscript(ctx context.Context, id string) (*model.TranscriptionJob, error) {
	endpoint := "/v2/transcript/" + url.PathEscape(id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	var result transcriptResponse
	if err := c.doRequest(req, &result); err != nil {
		return nil, err
	}
	if result.Status == "" {
		return nil, malformedError(assemblyAIService, "transcript response has no status", nil)
	}

	job := &model.TranscriptionJob{
		ID:     result.ID,
		Status: model.TranscriptStatus(result.Status),
		Error:  result.Error,
	}
	if job.Status == model.TranscriptStatusCompleted {
		job.Transcript = result.toTranscript()
	}
	return job, nil
}

// GenerateNote runs a LeMUR task over the transcript and returns its free-text response.
func (c *AssemblyAIClient) GenerateNote(ctx context.Context, transcriptID, prompt, finalModel string) (string, error) {
	body := lemurTaskRequest{
		TranscriptIDs: []string{transcriptID},
		Prompt:        prompt,
		FinalModel:    finalModel,
	}
	var result lemurTaskResponse
	if err := c.postJSON(ctx, "/lemur/v3/generate/task", body, &result); err != nil {
		return "", err
	}
	return result.Response, nil
}

// IsConfigured returns true if the client has valid configuration
func (c *AssemblyAIClient) IsConfigured() bool {
	return c.apiKey != ""
}

func (r *transcriptResponse) toTranscript() *model.Transcript {
	t := &model.Transcript{
		ID:            r.ID,
		Status:        model.TranscriptStatus(r.Status),
		AudioURL:      r.AudioURL,
		Text:          r.Text,
		AudioDuration: r.AudioDuration,
	}
	// keep nil distinct from empty: a missing field is a malformed transcript
	if r.Utterances != nil {
		t.Utterances = make([]model.Utterance, 0, len(r.Utterances))
		for _, u := range r.Utterances {
			t.Utterances = append(t.Utterances, model.Utterance{
				Speaker:    u.Speaker,
				Text:       u.Text,
				Start:      u.Start,
				End:        u.End,
				Confidence: u.Confidence,
			})
		}
	}
	return t
}

// postJSON sends a POST request with JSON body
func (c *AssemblyAIClient) postJSON(ctx context.Context, endpoint string, body interface{}, result interface{}) error {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.doRequest(req, result)
}

// doRequest executes an HTTP request and parses the response. Headers are
// never logged so the credential stays out of the logs.
func (c *AssemblyAIClient) doRequest(req *http.Request, result interface{}) error {
	req.Header.Set("Authorization", c.apiKey)

	log.Printf("[AssemblyAI] → %s %s", req.Method, req.URL.Path)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Printf("[AssemblyAI] ✗ %s %s — request failed: %v", req.Method, req.URL.Path, err)
		return transportError(assemblyAIService, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Printf("[AssemblyAI] ✗ %s %s — failed to read response: %v", req.Method, req.URL.Path, err)
		return transportError(assemblyAIService, err)
	}

	log.Printf("[AssemblyAI] ← %d %s %s (%d bytes)", resp.StatusCode, req.Method, req.URL.Path, len(respBody))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return newAPIError(assemblyAIService, resp.StatusCode, respBody)
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		log.Printf("[AssemblyAI] ✗ unmarshal error for %s %s: %v", req.Method, req.URL.Path, err)
		return malformedError(assemblyAIService, "failed to unmarshal response", err)
	}

	return nil
}
