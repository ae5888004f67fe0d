package domain

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrTaskNotFound is returned when a task id is unknown.
	ErrTaskNotFound = errors.New("task not found")

	// ErrInvalidTransition is returned when a task status change would move
	// backwards or leave a terminal state.
	ErrInvalidTransition = errors.New("invalid task status transition")

	// ErrNoFramesAnalyzed is returned when every frame pipeline of a clip failed.
	ErrNoFramesAnalyzed = errors.New("no frames analyzed")

	// ErrClipNotFound is returned when the clip reference does not resolve to a file.
	ErrClipNotFound = errors.New("video not found")

	// ErrNoFrames is returned when frame extraction produced nothing.
	ErrNoFrames = errors.New("could not extract frames")
)

// ErrorType represents the category of an inference failure.
type ErrorType string

const (
	ErrorTypeInvalidRequest    ErrorType = "invalid_request"
	ErrorTypeAuthentication    ErrorType = "authentication"
	ErrorTypePermission        ErrorType = "permission"
	ErrorTypeNotFound          ErrorType = "not_found"
	ErrorTypeRateLimit         ErrorType = "rate_limit"
	ErrorTypeOverloaded        ErrorType = "overloaded"
	ErrorTypeServer            ErrorType = "server"
	ErrorTypeTimeout           ErrorType = "timeout"
	ErrorTypeMalformedResponse ErrorType = "malformed_response"
)

// InferenceError is a failed call against one model target.
type InferenceError struct {
	// Type is the category of error
	Type ErrorType `json:"type"`

	// Code is the provider status string, e.g. RESOURCE_EXHAUSTED.
	Code string `json:"code,omitempty"`

	// Message is the human-readable error message
	Message string `json:"message"`

	// Model is the target the call was made against.
	Model string `json:"model,omitempty"`

	// StatusCode is the upstream HTTP status, when there was one.
	StatusCode int `json:"-"`
}

// Error implements the error interface.
func (e *InferenceError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Type, e.Message)
	if e.Code != "" {
		msg = fmt.Sprintf("%s (%s): %s", e.Type, e.Code, e.Message)
	}
	if e.Model != "" {
		return msg + " [model " + e.Model + "]"
	}
	return msg
}

// HTTPStatusCode returns the upstream status or a default for the type.
func (e *InferenceError) HTTPStatusCode() int {
	if e.StatusCode != 0 {
		return e.StatusCode
	}

	switch e.Type {
	case ErrorTypeInvalidRequest:
		return http.StatusBadRequest
	case ErrorTypeAuthentication:
		return http.StatusUnauthorized
	case ErrorTypePermission:
		return http.StatusForbidden
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeRateLimit:
		return http.StatusTooManyRequests
	case ErrorTypeOverloaded:
		return http.StatusServiceUnavailable
	case ErrorTypeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

// NewInferenceError creates a new inference error.
func NewInferenceError(errType ErrorType, message string) *InferenceError {
	return &InferenceError{
		Type:    errType,
		Message: message,
	}
}

// WithCode adds a provider status code to the error.
func (e *InferenceError) WithCode(code string) *InferenceError {
	e.Code = code
	return e
}

// WithModel records the model target.
func (e *InferenceError) WithModel(model string) *InferenceError {
	e.Model = model
	return e
}

// WithStatusCode sets the upstream HTTP status.
func (e *InferenceError) WithStatusCode(code int) *InferenceError {
	e.StatusCode = code
	return e
}

// ErrTimeout creates a timeout error for a single attempt.
func ErrTimeout(message string) *InferenceError {
	return NewInferenceError(ErrorTypeTimeout, message)
}

// ErrMalformedResponse creates an error for a response that is not a JSON object.
func ErrMalformedResponse(message string) *InferenceError {
	return NewInferenceError(ErrorTypeMalformedResponse, message)
}

// FallbackError is returned when every model target of a fallback chain failed.
// Only the last failure is kept; earlier ones are logged and discarded.
type FallbackError struct {
	// Model is the last target attempted.
	Model string
	// Attempts is the number of targets tried.
	Attempts int
	// Err is the failure of the last target.
	Err error
}

func (e *FallbackError) Error() string {
	if e.Err == nil {
		return "no model targets configured"
	}
	return fmt.Sprintf("all models failed. Last error: %v", e.Err)
}

func (e *FallbackError) Unwrap() error {
	return e.Err
}

// IsFallbackExhausted reports whether err came from an exhausted fallback chain.
func IsFallbackExhausted(err error) bool {
	var fe *FallbackError
	return errors.As(err, &fe)
}
