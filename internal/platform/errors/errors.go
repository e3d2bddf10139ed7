// Package errors provides typed application errors that map onto HTTP responses.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType classifies an error for logging and response rendering.
type ErrorType string

const (
	TypeValidation   ErrorType = "validation"
	TypeNotFound     ErrorType = "not_found"
	TypeUnauthorized ErrorType = "unauthorized"
	TypeInternal     ErrorType = "internal"
	// TypeUnavailable marks failures of an upstream dependency (Twitch, storage backends).
	TypeUnavailable ErrorType = "unavailable"
)

type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Fields  map[string]any
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Type, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// HTTPStatus maps the error type to a response status code.
func (e *Error) HTTPStatus() int {
	switch e.Type {
	case TypeValidation:
		return http.StatusBadRequest
	case TypeNotFound:
		return http.StatusNotFound
	case TypeUnauthorized:
		return http.StatusUnauthorized
	case TypeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func newError(t ErrorType, message string, cause error) *Error {
	return &Error{Type: t, Message: message, Cause: cause, Fields: map[string]any{}}
}

func Validation(message string) *Error { return newError(TypeValidation, message, nil) }

func NotFound(message string) *Error { return newError(TypeNotFound, message, nil) }

func Unauthorized(message string) *Error { return newError(TypeUnauthorized, message, nil) }

func Internal(message string, cause error) *Error { return newError(TypeInternal, message, cause) }

func Unavailable(message string, cause error) *Error {
	return newError(TypeUnavailable, message, cause)
}

// WithField attaches a key/value that is logged and rendered with the error.
func (e *Error) WithField(key string, value any) *Error {
	if e.Fields == nil {
		e.Fields = map[string]any{}
	}
	e.Fields[key] = value
	return e
}

// Response is the JSON body written for a failed request.
type Response struct {
	Error  string         `json:"error"`
	Type   ErrorType      `json:"type"`
	Fields map[string]any `json:"fields,omitempty"`
}

func (e *Error) ToResponse() Response {
	return Response{Error: e.Message, Type: e.Type, Fields: e.Fields}
}

// From returns err as a structured error, wrapping unknown errors as internal.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	if structured, ok := errors.AsType[*Error](err); ok {
		return structured
	}
	return Internal("internal server error", err)
}
