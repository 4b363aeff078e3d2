package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrAuth marks a credential rejected by a remote API (401/403).
	ErrAuth = errors.New("credential rejected")
	// ErrTransport marks a network failure or any other non-2xx response.
	ErrTransport = errors.New("transport failure")
	// ErrMalformedResponse marks a 2xx response whose body could not be used.
	ErrMalformedResponse = errors.New("malformed response")
)

// APIError is a non-2xx response from a remote API.
type APIError struct {
	Service    string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s API error (status %d)", e.Service, e.StatusCode)
	}
	return fmt.Sprintf("%s API error (status %d): %s", e.Service, e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	if e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden {
		return ErrAuth
	}
	return ErrTransport
}

const maxErrorBody = 200

// newAPIError builds an APIError, preferring the "error" field of a JSON body.
func newAPIError(service string, status int, body []byte) *APIError {
	var payload struct {
		Error string `json:"error"`
	}
	msg := ""
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		msg = payload.Error
	} else {
		msg = strings.TrimSpace(string(body))
		if len(msg) > maxErrorBody {
			msg = msg[:maxErrorBody] + "..."
		}
	}
	return &APIError{Service: service, StatusCode: status, Message: msg}
}

func transportError(service string, err error) error {
	return fmt.Errorf("%s request failed: %w: %w", service, ErrTransport, err)
}

func malformedError(service, what string, err error) error {
	if err == nil {
		return fmt.Errorf("%s: %w: %s", service, ErrMalformedResponse, what)
	}
	return fmt.Errorf("%s: %w: %s: %w", service, ErrMalformedResponse, what, err)
}
