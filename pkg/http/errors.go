package http

import (
	"fmt"
	"net/http"
)

// AppError is an application-level failure with a status code attached. It
// renders inside the standard envelope as {code, message, field}.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
	Status  int    `json:"-"`
}

func (e *AppError) Error() string { return e.Message }

// NewAppError builds an AppError. field may be empty when the failure is
// not tied to one input.
func NewAppError(code, field, message string, status int) *AppError {
	return &AppError{Code: code, Message: message, Field: field, Status: status}
}

// NotFoundErrorf builds an ERR_NOT_FOUND error with a formatted message.
func NotFoundErrorf(format string, a ...interface{}) *AppError {
	return NewAppError("ERR_NOT_FOUND", "", fmt.Sprintf(format, a...), http.StatusNotFound)
}
