package errors

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
)

// APIError is an error that carries the HTTP status and the message shown
// to the caller. Internal keeps the original cause for logging only.
type APIError struct {
	Status   int               `json:"-"`
	Message  string            `json:"error"`
	Fields   map[string]string `json:"fields,omitempty"`
	Internal error             `json:"-"`
}

func (e *APIError) Error() string {
	if e.Internal != nil {
		return e.Message + ": " + e.Internal.Error()
	}
	return e.Message
}

func (e *APIError) Unwrap() error {
	return e.Internal
}

// WithMessage returns a copy of the APIError with a custom message
func (e *APIError) WithMessage(msg string) *APIError {
	return &APIError{
		Status:   e.Status,
		Message:  msg,
		Fields:   e.Fields,
		Internal: e.Internal,
	}
}

func New(status int, message string, err error) *APIError {
	return &APIError{
		Status:   status,
		Message:  message,
		Internal: err,
	}
}

func BadRequest(message string, err error) *APIError {
	return New(http.StatusBadRequest, message, err)
}

func Unauthorized(message string, err error) *APIError {
	return New(http.StatusUnauthorized, message, err)
}

func Forbidden(message string, err error) *APIError {
	return New(http.StatusForbidden, message, err)
}

func NotFound(message string, err error) *APIError {
	return New(http.StatusNotFound, message, err)
}

func Conflict(message string, err error) *APIError {
	return New(http.StatusConflict, message, err)
}

func UnprocessableEntity(message string, err error) *APIError {
	return New(http.StatusUnprocessableEntity, message, err)
}

// BadGateway is used when an upstream language model call fails and the
// endpoint has nothing else to return.
func BadGateway(message string, err error) *APIError {
	return New(http.StatusBadGateway, message, err)
}

func Internal(err error) *APIError {
	return New(http.StatusInternalServerError, "Internal server error", err)
}

// NewValidationError converts a binding error into a 422 with one message
// per invalid field.
func NewValidationError(err error) *APIError {
	apiErr := UnprocessableEntity("Validation failed", err)

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		apiErr.Fields = make(map[string]string, len(verrs))
		for _, fe := range verrs {
			apiErr.Fields[fe.Field()] = fieldMessage(fe)
		}
	}
	return apiErr
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	case "email":
		return "must be a valid email"
	default:
		return fmt.Sprintf("failed on %s", fe.Tag())
	}
}

// Status returns the HTTP status of err, or 500 for errors that are not
// APIErrors.
func Status(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return http.StatusInternalServerError
}

// IsNotFound reports whether err is an APIError with status 404.
func IsNotFound(err error) bool {
	return Status(err) == http.StatusNotFound
}
