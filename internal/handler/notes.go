package handler

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/sessionscribe/api/internal/model"
	"github.com/sessionscribe/api/internal/service"
	"github.com/sessionscribe/api/pkg/response"
)

type NoteHandler struct {
	service   *service.NoteService
	validator *validator.Validate
}

func NewNoteHandler(svc *service.NoteService, v *validator.Validate) *NoteHandler {
	return &NoteHandler{
		service:   svc,
		validator: v,
	}
}

// ListClients handles GET /api/clients
func (h *NoteHandler) ListClients(c *fiber.Ctx) error {
	return response.OK(c, fiber.Map{"clients": h.service.ListClients()})
}

// CreateClient handles POST /api/clients
func (h *NoteHandler) CreateClient(c *fiber.Ctx) error {
	var req model.CreateClientRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	req.Name = strings.TrimSpace(req.Name)

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	client, err := h.service.CreateClient(req.Name)
	if err != nil {
		return response.ValidationError(c, err.Error(), nil)
	}

	return response.Created(c, client)
}

// SaveNote handles POST /api/notes
func (h *NoteHandler) SaveNote(c *fiber.Ctx) error {
	var req model.SaveNoteRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	if strings.TrimSpace(req.Content) == "" {
		req.Content = ""
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	note, err := h.service.SaveNote(&req)
	if err != nil {
		if errors.Is(err, service.ErrClientNotFound) {
			return response.NotFound(c, "Client not found")
		}
		return response.ServiceError(c, err.Error())
	}

	return response.Created(c, note)
}

// ListNotes handles GET /api/notes?clientId=
func (h *NoteHandler) ListNotes(c *fiber.Ctx) error {
	return response.OK(c, fiber.Map{"notes": h.service.ListNotes(c.Query("clientId"))})
}

// GetNote handles GET /api/notes/:id
func (h *NoteHandler) GetNote(c *fiber.Ctx) error {
	note, err := h.service.GetNote(c.Params("id"))
	if err != nil {
		if errors.Is(err, service.ErrNoteNotFound) {
			return response.NotFound(c, "Note not found")
		}
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, note)
}

// Export handles POST /api/notes/:id/export
func (h *NoteHandler) Export(c *fiber.Ctx) error {
	result, err := h.service.ExportNote(c.Context(), c.Params("id"))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrNoteNotFound):
			return response.NotFound(c, "Note not found")
		case errors.Is(err, service.ErrStorageNotConfigured):
			return response.StorageUnavailable(c, "Note export storage is not configured")
		}
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, result)
}

func formatValidationErrors(err error) interface{} {
	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		errors := make(map[string]string)
		for _, e := range validationErrors {
			errors[e.Field()] = e.Tag()
		}
		return errors
	}
	return nil
}
