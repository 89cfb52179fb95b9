package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	domainerrors "github.com/stars-service/stars_service/internal/domain/errors"
)

// Error codes for consistent error responses across handlers
const (
	ErrCodeUnauthorized      = "UNAUTHORIZED"
	ErrCodeInvalidRequest    = "INVALID_REQUEST"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeAlreadyExists     = "ALREADY_EXISTS"
	ErrCodeConflict          = "CONFLICT"
	ErrCodeInvalidTransition = "INVALID_TRANSITION"
	ErrCodeInsufficientStars = "INSUFFICIENT_STARS"
	ErrCodeUnmatched         = "UNMATCHED"
	ErrCodeInternalError     = "INTERNAL_ERROR"
)

// ErrorResponse is the uniform error body
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id,omitempty"`
}

// RespondError maps a domain error to an HTTP status and writes the uniform
// error body. Internal errors never leak details to the client.
func RespondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	code := ErrCodeInternalError
	message := "internal error"

	switch {
	case errors.Is(err, domainerrors.ErrNotFound):
		status, code, message = http.StatusNotFound, ErrCodeNotFound, err.Error()
	case errors.Is(err, domainerrors.ErrInvalidInput):
		status, code, message = http.StatusBadRequest, ErrCodeInvalidRequest, err.Error()
	case errors.Is(err, domainerrors.ErrUnauthorized):
		status, code, message = http.StatusUnauthorized, ErrCodeUnauthorized, "unauthorized"
	case errors.Is(err, domainerrors.ErrInsufficientStars):
		status, code, message = http.StatusUnprocessableEntity, ErrCodeInsufficientStars, err.Error()
	case errors.Is(err, domainerrors.ErrInvalidTransition):
		status, code, message = http.StatusConflict, ErrCodeInvalidTransition, err.Error()
	case errors.Is(err, domainerrors.ErrAlreadyExists):
		status, code, message = http.StatusConflict, ErrCodeAlreadyExists, err.Error()
	case errors.Is(err, domainerrors.ErrConflict):
		status, code, message = http.StatusConflict, ErrCodeConflict, err.Error()
	case errors.Is(err, domainerrors.ErrUnmatched):
		status, code, message = http.StatusUnprocessableEntity, ErrCodeUnmatched, err.Error()
	}

	c.JSON(status, ErrorResponse{
		Error:     message,
		Code:      code,
		RequestID: c.GetString("request_id"),
	})
}

// RespondValidationError writes a 400 for malformed request payloads
func RespondValidationError(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, ErrorResponse{
		Error:     err.Error(),
		Code:      ErrCodeInvalidRequest,
		RequestID: c.GetString("request_id"),
	})
}
