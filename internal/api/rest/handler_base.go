package rest

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
	"github.com/shopspring/decimal"

	apperrors "github.com/davidleathers/fraud-signal-service/internal/domain/errors"
)

// DefaultMaxBodyBytes bounds request bodies when no limit is configured
const DefaultMaxBodyBytes int64 = 1 << 20

// BaseHandler provides decoding, validation and error rendering for handlers
type BaseHandler struct {
	validator    *validator.Validate
	errorHandler ErrorHandler
	maxBodyBytes int64
}

// NewBaseHandler creates a base handler. A non-positive limit selects the default.
func NewBaseHandler(maxBodyBytes int64) *BaseHandler {
	if maxBodyBytes <= 0 {
		maxBodyBytes = DefaultMaxBodyBytes
	}
	return &BaseHandler{
		validator:    NewValidator(),
		errorHandler: NewErrorHandler(),
		maxBodyBytes: maxBodyBytes,
	}
}

// NewValidator returns a validator that reports JSON field names, supports the
// notblank tag and compares decimal amounts numerically.
func NewValidator() *validator.Validate {
	v := validator.New()

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})

	// only fails if the tag name is already taken
	if err := v.RegisterValidation("notblank", validators.NotBlank); err != nil {
		panic(err)
	}

	return v
}

// DecodeAndValidate reads a JSON body into v and validates it
func (h *BaseHandler) DecodeAndValidate(w http.ResponseWriter, r *http.Request, v interface{}) error {
	if err := requireJSON(r); err != nil {
		return err
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)

	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return maxBytesErr
		}
		return apperrors.NewMalformedRequestError(malformedJSONMessage).WithCause(err)
	}
	if dec.More() {
		return apperrors.NewMalformedRequestError(malformedJSONMessage)
	}

	return h.Validate(v)
}

// Validate runs struct validation and formats failures
func (h *BaseHandler) Validate(v interface{}) error {
	if err := h.validator.Struct(v); err != nil {
		return formatValidationError(err)
	}
	return nil
}

func requireJSON(r *http.Request) error {
	ct := r.Header.Get("Content-Type")
	if ct == "" {
		return apperrors.NewMalformedRequestError(malformedJSONMessage)
	}
	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil || mediaType != "application/json" {
		return apperrors.NewMalformedRequestError(malformedJSONMessage)
	}
	return nil
}

// formatValidationError converts validator errors to "<json.path>: <message>" entries
func formatValidationError(err error) error {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return &ValidationError{Message: "Validation failed", Fields: []string{err.Error()}}
	}

	fields := make([]string, 0, len(validationErrors))
	for _, fe := range validationErrors {
		var msg string
		switch fe.Tag() {
		case "required", "notblank":
			msg = "is required"
		case "gt":
			if fe.Param() == "0" {
				msg = "must be greater than zero"
			} else {
				msg = fmt.Sprintf("must be greater than %s", fe.Param())
			}
		case "min":
			msg = fmt.Sprintf("must contain at least %s entries", fe.Param())
		case "ip":
			msg = "must be a valid IP address"
		default:
			msg = fmt.Sprintf("failed %s validation", fe.Tag())
		}
		fields = append(fields, fmt.Sprintf("%s: %s", fieldPath(fe.Namespace()), msg))
	}

	return &ValidationError{Message: "Validation failed", Fields: fields}
}

// fieldPath drops the root struct name from a validator namespace
func fieldPath(namespace string) string {
	if i := strings.IndexByte(namespace, '.'); i >= 0 {
		return namespace[i+1:]
	}
	return namespace
}

// writeError renders err through the error handler. Server errors are logged.
func (h *BaseHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, title, messages := h.errorHandler.HandleError(err)
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "request failed",
			"path", r.URL.Path,
			"code", code,
			"error", err)
	}
	writeErrorBody(w, r, status, code, title, messages)
}

// writeJSON writes a JSON response with the given status
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
	}
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
