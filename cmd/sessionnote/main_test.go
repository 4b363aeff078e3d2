package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

// speechServer fakes the speech and Groq endpoints one CLI run touches.
type speechServer struct {
	mu sync.Mutex

	uploadStatus int
	uploadTypes  []string
	lemurCalls   int
	groqCalls    int
}

type serverCalls struct {
	uploadTypes []string
	lemurCalls  int
	groqCalls   int
}

func (s *speechServer) snapshot() serverCalls {
	s.mu.Lock()
	defer s.mu.Unlock()
	return serverCalls{
		uploadTypes: append([]string(nil), s.uploadTypes...),
		lemurCalls:  s.lemurCalls,
		groqCalls:   s.groqCalls,
	}
}

func (s *speechServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/v2/upload":
		s.uploadTypes = append(s.uploadTypes, r.Header.Get("Content-Type"))
		if s.uploadStatus != 0 {
			w.WriteHeader(s.uploadStatus)
			io.WriteString(w, `{"error":"Authentication error, API token missing/invalid"}`)
			return
		}
		io.WriteString(w, `{"upload_url":"r1"}`)

	case r.Method == http.MethodPost && r.URL.Path == "/v2/transcript":
		io.WriteString(w, `{"id":"j1","status":"queued"}`)

	case r.Method == http.MethodGet && r.URL.Path == "/v2/transcript/j1":
		io.WriteString(w, `{"id":"j1","status":"completed","utterances":[{"speaker":"A","text":"Hello","start":0,"end":500},{"speaker":"B","text":"Hi","start":600,"end":900}]}`)

	case r.Method == http.MethodPost && r.URL.Path == "/lemur/v3/generate/task":
		s.lemurCalls++
		json.NewEncoder(w).Encode(map[string]string{"request_id": "l1", "response": "LEMUR NOTE"})

	case r.Method == http.MethodPost && r.URL.Path == "/chat/completions":
		s.groqCalls++
		io.WriteString(w, `{"id":"c1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"GROQ NOTE"},"finish_reason":"stop"}]}`)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// setupRun points the configuration at a fresh fake server and returns a
// directory holding nothing but the files a test writes.
func setupRun(t *testing.T, srv *speechServer) string {
	t.Helper()
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	dir := t.TempDir()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(prev) })

	t.Setenv("ASSEMBLYAI_API_KEY", "test-key")
	t.Setenv("ASSEMBLYAI_BASE_URL", ts.URL)
	t.Setenv("GROQ_API_KEY", "gsk-test")
	t.Setenv("GROQ_BASE_URL", ts.URL)
	t.Setenv("POLL_INTERVAL_MS", "0")
	t.Setenv("GENERATION_PROVIDER", "lemur")
	return dir
}

func writeAudio(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("fake-audio"), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestContentTypeFor(t *testing.T) {
	tests := []struct {
		path  string
		want  string
		known bool
	}{
		{"session.webm", "audio/webm", true},
		{"SESSION.WEBM", "audio/webm", true},
		{"a/b/session.ogg", "audio/ogg", true},
		{"session.opus", "audio/ogg", true},
		{"session.wav", "audio/wav", true},
		{"session.mp3", "audio/mpeg", true},
		{"session.m4a", "audio/mp4", true},
		{"session.flac", "audio/flac", true},
		{"session.bin", "application/octet-stream", false},
		{"session", "application/octet-stream", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, known := contentTypeFor(tt.path)
			if got != tt.want || known != tt.known {
				t.Errorf("contentTypeFor(%q) = %q, %v; want %q, %v", tt.path, got, known, tt.want, tt.known)
			}
		})
	}
}

func TestRunPrintsTranscriptAndWritesNote(t *testing.T) {
	srv := &speechServer{}
	dir := setupRun(t, srv)
	in := writeAudio(t, dir, "session.webm")
	notePath := filepath.Join(dir, "note.md")

	var stdout, stderr bytes.Buffer
	if code := run([]string{"-in", in, "-out", notePath}, &stdout, &stderr); code != 0 {
		t.Fatalf("expected exit 0, got %d\nstderr: %s", code, stderr.String())
	}

	want := "## Transcript\n\nSpeaker A: Hello\nSpeaker B: Hi\n\n## Note\n\nLEMUR NOTE\n"
	if stdout.String() != want {
		t.Errorf("unexpected stdout:\n%q\nwant:\n%q", stdout.String(), want)
	}
	note, err := os.ReadFile(notePath)
	if err != nil {
		t.Fatalf("expected note file: %v", err)
	}
	if string(note) != "LEMUR NOTE\n" {
		t.Errorf("unexpected note file %q", note)
	}
	if calls := srv.snapshot(); len(calls.uploadTypes) != 1 || calls.uploadTypes[0] != "audio/webm" {
		t.Errorf("expected audio/webm upload, got %v", calls.uploadTypes)
	}
	if strings.Contains(stderr.String(), "test-key") {
		t.Error("credential leaked into output")
	}
}

func TestRunUnknownExtensionFallsBack(t *testing.T) {
	srv := &speechServer{}
	dir := setupRun(t, srv)
	in := writeAudio(t, dir, "session.bin")

	var stdout, stderr bytes.Buffer
	if code := run([]string{"-in", in}, &stdout, &stderr); code != 0 {
		t.Fatalf("expected exit 0, got %d\nstderr: %s", code, stderr.String())
	}
	if !strings.Contains(stderr.String(), "[warn]") || !strings.Contains(stderr.String(), "application/octet-stream") {
		t.Errorf("expected fallback warning, got %s", stderr.String())
	}
	if calls := srv.snapshot(); len(calls.uploadTypes) != 1 || calls.uploadTypes[0] != "application/octet-stream" {
		t.Errorf("expected octet-stream upload, got %v", calls.uploadTypes)
	}
}

func TestRunExplicitTypeWins(t *testing.T) {
	srv := &speechServer{}
	dir := setupRun(t, srv)
	in := writeAudio(t, dir, "session.bin")

	var stdout, stderr bytes.Buffer
	if code := run([]string{"-in", in, "-type", "audio/ogg"}, &stdout, &stderr); code != 0 {
		t.Fatalf("expected exit 0, got %d\nstderr: %s", code, stderr.String())
	}
	if strings.Contains(stderr.String(), "[warn]") {
		t.Errorf("expected no warning with -type, got %s", stderr.String())
	}
	if calls := srv.snapshot(); len(calls.uploadTypes) != 1 || calls.uploadTypes[0] != "audio/ogg" {
		t.Errorf("expected audio/ogg upload, got %v", calls.uploadTypes)
	}
}

func TestRunProviderOverride(t *testing.T) {
	srv := &speechServer{}
	dir := setupRun(t, srv)
	in := writeAudio(t, dir, "session.webm")

	var stdout, stderr bytes.Buffer
	if code := run([]string{"-in", in, "-provider", "GROQ"}, &stdout, &stderr); code != 0 {
		t.Fatalf("expected exit 0, got %d\nstderr: %s", code, stderr.String())
	}
	if calls := srv.snapshot(); calls.groqCalls != 1 || calls.lemurCalls != 0 {
		t.Errorf("expected the groq generator, got groq=%d lemur=%d", calls.groqCalls, calls.lemurCalls)
	}
	if !strings.HasSuffix(stdout.String(), "GROQ NOTE\n") {
		t.Errorf("unexpected stdout %q", stdout.String())
	}
}

func TestRunUsageErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing input", nil, "missing -in"},
		{"unknown provider", []string{"-in", "session.webm", "-provider", "openai"}, "generation.provider"},
		{"unknown flag", []string{"-bogus"}, "bogus"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := &speechServer{}
			setupRun(t, srv)

			var stdout, stderr bytes.Buffer
			if code := run(tt.args, &stdout, &stderr); code != 2 {
				t.Errorf("expected exit 2, got %d", code)
			}
			if !strings.Contains(stderr.String(), tt.want) {
				t.Errorf("expected %q in stderr, got %s", tt.want, stderr.String())
			}
			if len(srv.snapshot().uploadTypes) != 0 {
				t.Error("expected no upload")
			}
		})
	}
}

func TestRunFailureReportsCategory(t *testing.T) {
	srv := &speechServer{uploadStatus: http.StatusUnauthorized}
	dir := setupRun(t, srv)
	in := writeAudio(t, dir, "session.webm")
	notePath := filepath.Join(dir, "note.md")

	var stdout, stderr bytes.Buffer
	if code := run([]string{"-in", in, "-out", notePath}, &stdout, &stderr); code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if !strings.Contains(stderr.String(), "[error] "+colorReset+"AuthError: ") {
		t.Errorf("expected categorized failure, got %s", stderr.String())
	}
	if stdout.Len() != 0 {
		t.Errorf("expected nothing on stdout, got %q", stdout.String())
	}
	if _, err := os.Stat(notePath); !os.IsNotExist(err) {
		t.Error("expected no note file after a failed run")
	}
}

func TestRunMissingFile(t *testing.T) {
	setupRun(t, &speechServer{})

	var stdout, stderr bytes.Buffer
	if code := run([]string{"-in", "does-not-exist.webm"}, &stdout, &stderr); code != 1 {
		t.Errorf("expected exit 1, got %d", code)
	}
	if !strings.Contains(stderr.String(), "read audio") {
		t.Errorf("unexpected stderr %s", stderr.String())
	}
}
