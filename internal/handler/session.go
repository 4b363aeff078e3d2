package handler

import (
	"errors"
	"io"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/sessionscribe/api/internal/model"
	"github.com/sessionscribe/api/internal/service"
	"github.com/sessionscribe/api/pkg/response"
)

var validAudioTypes = map[string]bool{
	"audio/webm":               true,
	"video/webm":               true,
	"audio/ogg":                true,
	"audio/wav":                true,
	"audio/x-wav":              true,
	"audio/wave":               true,
	"audio/mpeg":               true,
	"audio/mp3":                true,
	"audio/mp4":                true,
	"audio/x-m4a":              true,
	"audio/aac":                true,
	"audio/flac":               true,
	"application/octet-stream": true,
}

type SessionHandler struct {
	service *service.SessionService
}

func NewSessionHandler(svc *service.SessionService) *SessionHandler {
	return &SessionHandler{service: svc}
}

// Transcribe handles POST /api/sessions/transcribe
// Runs the whole pipeline and answers with transcript and note.
func (h *SessionHandler) Transcribe(c *fiber.Ctx) error {
	audio, err := readAudio(c)
	if err != nil {
		return response.ValidationError(c, err.Error(), nil)
	}

	result, err := h.service.Transcribe(c.Context(), audio, nil)
	if err != nil {
		jobErr := service.ToJobError(err)
		return response.PipelineError(c, jobErr.Code, jobErr.Message)
	}

	return response.OK(c, result)
}

// Start handles POST /api/sessions/start
func (h *SessionHandler) Start(c *fiber.Ctx) error {
	audio, err := readAudio(c)
	if err != nil {
		return response.ValidationError(c, err.Error(), nil)
	}

	clientID := c.FormValue("clientId")
	if clientID == "" {
		clientID = c.Query("clientId")
	}

	result, err := h.service.StartSession(c.Context(), audio, clientID)
	if err != nil {
		return response.ServiceError(c, err.Error())
	}

	return response.Accepted(c, result)
}

// Status handles GET /api/sessions/status/:jobId
func (h *SessionHandler) Status(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	result, err := h.service.GetStatus(c.Context(), jobID)
	if err != nil {
		if errors.Is(err, service.ErrJobNotFound) {
			return response.NotFound(c, "Job not found")
		}
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, result)
}

// Result handles GET /api/sessions/result/:jobId
func (h *SessionHandler) Result(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	result, err := h.service.GetResult(c.Context(), jobID)
	if err != nil {
		var failed *service.JobFailedError
		switch {
		case errors.Is(err, service.ErrJobNotFound):
			return response.NotFound(c, "Job not found")
		case errors.Is(err, service.ErrJobNotReady):
			return response.JobNotReady(c, "Job not completed yet")
		case errors.As(err, &failed):
			return response.PipelineError(c, failed.JobError.Code, failed.JobError.Message)
		}
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, result)
}

// readAudio accepts either a multipart "file" field or a raw body whose
// Content-Type names the audio format.
func readAudio(c *fiber.Ctx) (model.AudioPayload, error) {
	if strings.HasPrefix(c.Get(fiber.HeaderContentType), fiber.MIMEMultipartForm) {
		file, err := c.FormFile("file")
		if err != nil {
			return model.AudioPayload{}, errors.New("File is required")
		}
		contentType := mediaType(file.Header.Get(fiber.HeaderContentType))
		if !validAudioTypes[contentType] {
			return model.AudioPayload{}, errors.New("Unsupported audio type: " + contentType)
		}
		f, err := file.Open()
		if err != nil {
			return model.AudioPayload{}, errors.New("Failed to read file")
		}
		defer f.Close()
		data, err := io.ReadAll(f)
		if err != nil {
			return model.AudioPayload{}, errors.New("Failed to read file")
		}
		if len(data) == 0 {
			return model.AudioPayload{}, errors.New("Audio file is empty")
		}
		return model.AudioPayload{Data: data, ContentType: contentType}, nil
	}

	contentType := mediaType(c.Get(fiber.HeaderContentType))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if !validAudioTypes[contentType] {
		return model.AudioPayload{}, errors.New("Unsupported audio type: " + contentType)
	}
	body := c.Body()
	if len(body) == 0 {
		return model.AudioPayload{}, errors.New("Audio body is empty")
	}
	// fasthttp reuses the request buffer after the handler returns
	data := make([]byte, len(body))
	copy(data, body)
	return model.AudioPayload{Data: data, ContentType: contentType}, nil
}

// mediaType drops parameters such as ";codecs=opus".
func mediaType(v string) string {
	if i := strings.IndexByte(v, ';'); i >= 0 {
		v = v[:i]
	}
	return strings.ToLower(strings.TrimSpace(v))
}
