package http

import (
	"fmt"
	"net/http"
)

// AppError is an error whose code and message are safe to show the client. Err is kept for
// logs and never serialized.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
	Status  int    `json:"-"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Err }

// WithField names the request field the error is about.
func (e *AppError) WithField(field string) *AppError {
	e.Field = field
	return e
}

// WithError attaches the underlying cause.
func (e *AppError) WithError(err error) *AppError {
	e.Err = err
	return e
}

func newAppError(status int, code, message string) *AppError {
	return &AppError{Code: code, Message: message, Status: status}
}

// BadRequestError is a 400: the input can never succeed as sent.
func BadRequestError(message string) *AppError {
	return newAppError(http.StatusBadRequest, "ERR_BAD_REQUEST", message)
}

// UnprocessableError is a 422: the input is well formed but the model cannot score it.
func UnprocessableError(message string) *AppError {
	return newAppError(http.StatusUnprocessableEntity, "ERR_UNPROCESSABLE", message)
}

// ServiceUnavailableError is a 503: retrying later may succeed.
func ServiceUnavailableError(message string) *AppError {
	return newAppError(http.StatusServiceUnavailable, "ERR_UNAVAILABLE", message)
}
