package response

import "github.com/gofiber/fiber/v2"

// Error codes
const (
	CodeValidationError = "VALIDATION_ERROR"
	CodeNotFound        = "NOT_FOUND"
	CodeRateLimited     = "RATE_LIMITED"
	CodeJobNotReady     = "JOB_NOT_READY"
	CodeJobFailed       = "JOB_FAILED"
	CodeServiceError    = "SERVICE_ERROR"

	CodeAuthError            = "AUTH_ERROR"
	CodeTransportError       = "TRANSPORT_ERROR"
	CodeTranscriptionFailed  = "TRANSCRIPTION_FAILED"
	CodeTranscriptionTimeout = "TRANSCRIPTION_TIMEOUT"
	CodeInvalidTranscript    = "INVALID_TRANSCRIPT"
	CodeGenerationFailed     = "GENERATION_FAILED"
	CodeInvalidAudio         = "INVALID_AUDIO"
	CodeStorageUnavailable   = "STORAGE_UNAVAILABLE"
)

// upstream failures are reported as gateway errors; the speech credential
// belongs to the server, so a rejected key is not the caller's 401.
var pipelineStatus = map[string]int{
	CodeAuthError:            fiber.StatusBadGateway,
	CodeTransportError:       fiber.StatusBadGateway,
	CodeTranscriptionFailed:  fiber.StatusUnprocessableEntity,
	CodeTranscriptionTimeout: fiber.StatusGatewayTimeout,
	CodeInvalidTranscript:    fiber.StatusBadGateway,
	CodeGenerationFailed:     fiber.StatusBadGateway,
	CodeInvalidAudio:         fiber.StatusBadRequest,
}

type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func Error(c *fiber.Ctx, status int, code, message string, details interface{}) error {
	return c.Status(status).JSON(ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

func ValidationError(c *fiber.Ctx, message string, details interface{}) error {
	return Error(c, fiber.StatusBadRequest, CodeValidationError, message, details)
}

func NotFound(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusNotFound, CodeNotFound, message, nil)
}

func RateLimited(c *fiber.Ctx) error {
	return Error(c, fiber.StatusTooManyRequests, CodeRateLimited, "Rate limit exceeded", nil)
}

func ServiceError(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusInternalServerError, CodeServiceError, message, nil)
}

func JobNotReady(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusConflict, CodeJobNotReady, message, nil)
}

func StorageUnavailable(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusServiceUnavailable, CodeStorageUnavailable, message, nil)
}

// PipelineError writes a failed run. Unknown codes fall back to 500.
func PipelineError(c *fiber.Ctx, code, message string) error {
	status, ok := pipelineStatus[code]
	if !ok {
		status = fiber.StatusInternalServerError
	}
	return Error(c, status, code, message, nil)
}

// StatusForCode returns the HTTP status PipelineError would use for code.
func StatusForCode(code string) int {
	if status, ok := pipelineStatus[code]; ok {
		return status
	}
	return fiber.StatusInternalServerError
}

func OK(c *fiber.Ctx, data interface{}) error {
	return c.JSON(data)
}

func Created(c *fiber.Ctx, data interface{}) error {
	return c.Status(fiber.StatusCreated).JSON(data)
}

func Accepted(c *fiber.Ctx, data interface{}) error {
	return c.Status(fiber.StatusAccepted).JSON(data)
}
