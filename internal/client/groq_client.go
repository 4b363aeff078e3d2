package client

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/sessionscribe/api/internal/config"
)

const (
	groqService = "groq"

	defaultGroqTimeout = 120 * time.Second
)

const noteSystemPrompt = "You are a clinical documentation assistant writing psychotherapy notes for a licensed therapist."

// GroqClient generates notes through Groq's OpenAI-compatible chat API.
type GroqClient struct {
	client *openai.Client
	apiKey string
	model  string
}

// NewGroqClient creates a new Groq API client
func NewGroqClient(cfg *config.GroqConfig) *GroqClient {
	aiCfg := openai.DefaultConfig(cfg.APIKey)
	aiCfg.BaseURL = cfg.BaseURL
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = defaultGroqTimeout
	}
	aiCfg.HTTPClient = &http.Client{Timeout: timeout}

	return &GroqClient{
		client: openai.NewClientWithConfig(aiCfg),
		apiKey: cfg.APIKey,
		model:  cfg.Model,
	}
}

// GenerateNote sends the rendered prompt as a single chat turn. Groq has no
// access to the speech service, so the transcript id is only logged and the
// configured Groq model replaces finalModel.
func (c *GroqClient) GenerateNote(ctx context.Context, transcriptID, prompt, finalModel string) (string, error) {
	log.Printf("[Groq API] → chat completion (transcript=%s, model=%s)", transcriptID, c.model)

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: noteSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: 0.4,
		MaxTokens:   4096,
	})
	if err != nil {
		log.Printf("[Groq API] ✗ chat completion failed: %v", err)
		return "", classifyOpenAIError(err)
	}

	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

// IsConfigured returns true if the client has valid configuration
func (c *GroqClient) IsConfigured() bool {
	return c.apiKey != ""
}

func classifyOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &APIError{Service: groqService, StatusCode: apiErr.HTTPStatusCode, Message: apiErr.Message}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		msg := ""
		if reqErr.Err != nil {
			msg = reqErr.Err.Error()
		}
		return &APIError{Service: groqService, StatusCode: reqErr.HTTPStatusCode, Message: msg}
	}
	return transportError(groqService, err)
}
