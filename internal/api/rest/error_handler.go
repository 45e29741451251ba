package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/davidleathers/fraud-signal-service/internal/domain/errors"
)

const malformedJSONMessage = "Invalid JSON format. Please check your request body."

// ErrorBody is the JSON document returned for every failed request
type ErrorBody struct {
	Timestamp time.Time `json:"timestamp"`
	Status    int       `json:"status"`
	Error     string    `json:"error"`
	Code      string    `json:"code"`
	Messages  []string  `json:"messages"`
	Path      string    `json:"path"`
}

// ValidationError carries one "<field>: <message>" entry per failed constraint
type ValidationError struct {
	Message string
	Fields  []string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Message, strings.Join(e.Fields, "; "))
}

// ErrorHandler maps an error to status, machine code, title and messages
type ErrorHandler interface {
	HandleError(err error) (status int, code, title string, messages []string)
}

// DefaultErrorHandler handles the errors produced by the handlers in this package
type DefaultErrorHandler struct{}

// NewErrorHandler creates the default error handler
func NewErrorHandler() ErrorHandler {
	return &DefaultErrorHandler{}
}

func (h *DefaultErrorHandler) HandleError(err error) (int, string, string, []string) {
	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		return http.StatusBadRequest, "VALIDATION_FAILED", "Validation Failed", validationErr.Fields
	}

	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		return http.StatusRequestEntityTooLarge, "REQUEST_TOO_LARGE", "Payload Too Large",
			[]string{fmt.Sprintf("Request body too large (max %d bytes)", maxBytesErr.Limit)}
	}

	if isMalformedJSON(err) {
		return http.StatusBadRequest, "MALFORMED_REQUEST", "Malformed JSON Request", []string{malformedJSONMessage}
	}

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		switch appErr.Type {
		case apperrors.ErrorTypeMalformed:
			return appErr.StatusCode, appErr.Code, "Malformed JSON Request", []string{appErr.Message}
		case apperrors.ErrorTypeInternal:
			return http.StatusInternalServerError, appErr.Code, "Internal Server Error", []string{"An unexpected error occurred"}
		default:
			return appErr.StatusCode, appErr.Code, http.StatusText(appErr.StatusCode), []string{appErr.Message}
		}
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return http.StatusServiceUnavailable, "REQUEST_CANCELLED", "Service Unavailable", []string{"The request did not complete in time"}
	}

	return http.StatusInternalServerError, "INTERNAL_ERROR", "Internal Server Error", []string{"An unexpected error occurred"}
}

func isMalformedJSON(err error) bool {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &syntaxErr) ||
		errors.As(err, &typeErr) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF)
}

// writeErrorBody writes an ErrorBody with the given status
func writeErrorBody(w http.ResponseWriter, r *http.Request, status int, code, title string, messages []string) {
	if messages == nil {
		messages = []string{}
	}
	writeJSON(w, status, ErrorBody{
		Timestamp: time.Now().UTC(),
		Status:    status,
		Error:     title,
		Code:      code,
		Messages:  messages,
		Path:      r.URL.Path,
	})
}
