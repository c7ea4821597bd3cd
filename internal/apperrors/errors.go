package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes for the achievement service.
const (
	CodeNotFound    = "NOT_FOUND"
	CodeConflict    = "CONFLICT"
	CodeBadRequest  = "BAD_REQUEST"
	CodeForbidden   = "FORBIDDEN"
	CodeUnavailable = "UNAVAILABLE"
	CodeInternal    = "INTERNAL"
)

// Error is a typed application error. Field is set on CONFLICT to name the
// unique column that was violated.
type Error struct {
	Code    string
	Message string
	Field   string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NotFound(what string) *Error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf("%s not found", what)}
}

func Conflict(field string) *Error {
	return &Error{
		Code:    CodeConflict,
		Message: fmt.Sprintf("an achievement with this %s already exists", field),
		Field:   field,
	}
}

func BadRequest(message string) *Error {
	return &Error{Code: CodeBadRequest, Message: message}
}

func Forbidden(message string) *Error {
	return &Error{Code: CodeForbidden, Message: message}
}

func Unavailable(what string, err error) *Error {
	return &Error{
		Code:    CodeUnavailable,
		Message: fmt.Sprintf("%s is unavailable", what),
		Err:     err,
	}
}

func Internal(operation string, err error) *Error {
	return &Error{
		Code:    CodeInternal,
		Message: fmt.Sprintf("internal error during %s", operation),
		Err:     err,
	}
}

// CodeOf returns the application error code, or CodeInternal for errors that
// did not come out of this package.
func CodeOf(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeInternal
}

// HTTPStatus maps an error to the status the handlers respond with.
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	case CodeBadRequest:
		return http.StatusBadRequest
	case CodeForbidden:
		return http.StatusForbidden
	case CodeUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
