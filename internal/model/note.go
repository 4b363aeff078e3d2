package model

import "time"

// Client is a therapy client the operator records sessions for.
type Client struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

type CreateClientRequest struct {
	Name string `json:"name" validate:"required,min=1,max=120"`
}

// SessionNote is a clinical note the operator confirmed saving.
type SessionNote struct {
	ID        string    `json:"id"`
	ClientID  string    `json:"clientId"`
	Name      string    `json:"name"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

type SaveNoteRequest struct {
	ClientID string `json:"clientId" validate:"required"`
	Content  string `json:"content" validate:"required"`
}

// NoteExportResponse describes a note exported to object storage.
type NoteExportResponse struct {
	NoteID    string    `json:"noteId"`
	Key       string    `json:"key"`
	FileURL   string    `json:"fileUrl"`
	SignedURL string    `json:"signedUrl"`
	ExpiresAt time.Time `json:"expiresAt"`
}
