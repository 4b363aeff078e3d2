package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sessionscribe/api/internal/client"
	"github.com/sessionscribe/api/internal/model"
)

const signedURLExpiry = 24 * time.Hour

var (
	ErrClientNotFound       = errors.New("client not found")
	ErrNoteNotFound         = errors.New("note not found")
	ErrStorageNotConfigured = errors.New("note storage is not configured")
)

// NoteService keeps clients and saved notes for the lifetime of the process.
// Notes are append-only.
type NoteService struct {
	mu      sync.RWMutex
	clients map[string]*model.Client
	notes   []*model.SessionNote

	storage client.StorageClient
	now     func() time.Time
}

// NewNoteService creates the store. storage may be nil, which disables exports.
func NewNoteService(storage client.StorageClient) *NoteService {
	return &NoteService{
		clients: make(map[string]*model.Client),
		storage: storage,
		now:     time.Now,
	}
}

// CreateClient adds a client under a fresh id.
func (s *NoteService) CreateClient(name string) (*model.Client, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("client name is required")
	}

	c := &model.Client{
		ID:        uuid.New().String(),
		Name:      name,
		CreatedAt: s.now().UTC(),
	}

	s.mu.Lock()
	s.clients[c.ID] = c
	s.mu.Unlock()

	return c, nil
}

// ListClients returns clients sorted by name.
func (s *NoteService) ListClients() []model.Client {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Client, 0, len(s.clients))
	for _, c := range s.clients {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name == out[j].Name {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
	})
	return out
}

func (s *NoteService) GetClient(id string) (*model.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.clients[id]
	if !ok {
		return nil, ErrClientNotFound
	}
	cp := *c
	return &cp, nil
}

// SaveNote appends a note for an existing client. The note is named after
// the client and the save time.
func (s *NoteService) SaveNote(req *model.SaveNoteRequest) (*model.SessionNote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.clients[req.ClientID]
	if !ok {
		return nil, ErrClientNotFound
	}

	now := s.now().UTC()
	note := &model.SessionNote{
		ID:        uuid.New().String(),
		ClientID:  c.ID,
		Name:      fmt.Sprintf("%s - %s", c.Name, now.Format("2006-01-02 15:04")),
		Content:   req.Content,
		Timestamp: now,
	}
	s.notes = append(s.notes, note)

	return note, nil
}

// ListNotes returns notes newest first, optionally restricted to one client.
func (s *NoteService) ListNotes(clientID string) []model.SessionNote {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.SessionNote, 0, len(s.notes))
	for i := len(s.notes) - 1; i >= 0; i-- {
		n := s.notes[i]
		if clientID != "" && n.ClientID != clientID {
			continue
		}
		out = append(out, *n)
	}
	return out
}

func (s *NoteService) GetNote(id string) (*model.SessionNote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, n := range s.notes {
		if n.ID == id {
			cp := *n
			return &cp, nil
		}
	}
	return nil, ErrNoteNotFound
}

// ExportNote uploads the note as markdown and returns where to fetch it.
func (s *NoteService) ExportNote(ctx context.Context, noteID string) (*model.NoteExportResponse, error) {
	if s.storage == nil {
		return nil, ErrStorageNotConfigured
	}

	note, err := s.GetNote(noteID)
	if err != nil {
		return nil, err
	}
	clientName := ""
	if c, err := s.GetClient(note.ClientID); err == nil {
		clientName = c.Name
	}

	key := fmt.Sprintf("notes/%s/%s.md", note.ClientID, note.ID)
	body := RenderNoteMarkdown(note, clientName)

	fileURL, err := s.storage.Upload(ctx, key, strings.NewReader(body), "text/markdown; charset=utf-8")
	if err != nil {
		return nil, fmt.Errorf("failed to upload note: %w", err)
	}

	signedURL, err := s.storage.GetSignedURL(ctx, key, signedURLExpiry)
	if err != nil {
		return nil, fmt.Errorf("failed to sign note url: %w", err)
	}

	log.Printf("[Notes] note %s exported to %s", note.ID, key)

	return &model.NoteExportResponse{
		NoteID:    note.ID,
		Key:       key,
		FileURL:   fileURL,
		SignedURL: signedURL,
		ExpiresAt: s.now().UTC().Add(signedURLExpiry),
	}, nil
}

// RenderNoteMarkdown formats a saved note as a standalone markdown document.
func RenderNoteMarkdown(note *model.SessionNote, clientName string) string {
	var b strings.Builder

	if note.Name != "" {
		fmt.Fprintf(&b, "# %s\n\n", note.Name)
	} else {
		b.WriteString("# Session Note\n\n")
	}
	if clientName != "" {
		fmt.Fprintf(&b, "- Client: %s\n", clientName)
	}
	fmt.Fprintf(&b, "- Client ID: `%s`\n", note.ClientID)
	fmt.Fprintf(&b, "- Saved: %s\n", note.Timestamp.UTC().Format(time.RFC3339))
	b.WriteString("\n---\n\n")

	b.WriteString(strings.TrimSpace(note.Content))
	b.WriteString("\n")
	return b.String()
}
