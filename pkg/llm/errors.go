package llm

import (
	"fmt"
	"strings"
)

// ErrorType represents different categories of model errors for retry logic.
type ErrorType int8

const (
	// Retryable error types.

	// ErrorTypeRateLimit represents rate limiting errors (429, quota exceeded).
	ErrorTypeRateLimit ErrorType = iota
	// ErrorTypeTransient represents transient errors (5xx, EOF, connection reset, timeout).
	ErrorTypeTransient
	// ErrorTypeEmptyResponse represents HTTP 200 but no content errors.
	ErrorTypeEmptyResponse

	// Non-retryable error types.

	// ErrorTypeAuth represents authentication errors (401/403, bad API key).
	ErrorTypeAuth
	// ErrorTypeBadPrompt represents malformed request errors (too long, violates policy).
	ErrorTypeBadPrompt
	// ErrorTypeUnknown represents default for unclassified errors.
	ErrorTypeUnknown
)

// String returns the string representation of the error type.
func (et ErrorType) String() string {
	switch et {
	case ErrorTypeRateLimit:
		return "rate_limit"
	case ErrorTypeTransient:
		return "transient"
	case ErrorTypeEmptyResponse:
		return "empty_response"
	case ErrorTypeAuth:
		return "auth"
	case ErrorTypeBadPrompt:
		return "bad_prompt"
	case ErrorTypeUnknown:
		return "unknown"
	default:
		return "invalid"
	}
}

// Error is a classified model error.
type Error struct {
	Type    ErrorType
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("llm %s error: %s", e.Type, e.Message)
}

// ShouldRetry reports whether this error class is worth retrying.
func (e *Error) ShouldRetry() bool {
	switch e.Type {
	case ErrorTypeRateLimit, ErrorTypeTransient, ErrorTypeEmptyResponse:
		return true
	default:
		return false
	}
}

// NewError creates a classified model error.
func NewError(t ErrorType, message string) *Error {
	return &Error{Type: t, Message: message}
}

// ClassifyError maps a raw provider error onto an ErrorType by message
// inspection. Providers that expose typed errors should classify directly.
func ClassifyError(err error) *Error {
	if err == nil {
		return nil
	}
	if typed, ok := err.(*Error); ok {
		return typed
	}

	msg := err.Error()
	lower := strings.ToLower(msg)

	switch {
	case strings.Contains(lower, "429") || strings.Contains(lower, "rate limit") || strings.Contains(lower, "quota"):
		return NewError(ErrorTypeRateLimit, msg)
	case strings.Contains(lower, "401") || strings.Contains(lower, "403") ||
		strings.Contains(lower, "api key") || strings.Contains(lower, "unauthorized"):
		return NewError(ErrorTypeAuth, msg)
	case strings.Contains(lower, "500") || strings.Contains(lower, "502") ||
		strings.Contains(lower, "503") || strings.Contains(lower, "504") ||
		strings.Contains(lower, "timeout") || strings.Contains(lower, "connection") ||
		strings.Contains(lower, "eof") || strings.Contains(lower, "temporarily"):
		return NewError(ErrorTypeTransient, msg)
	case strings.Contains(lower, "empty response") || strings.Contains(lower, "no content"):
		return NewError(ErrorTypeEmptyResponse, msg)
	case strings.Contains(lower, "400") || strings.Contains(lower, "context length") ||
		strings.Contains(lower, "too long"):
		return NewError(ErrorTypeBadPrompt, msg)
	default:
		return NewError(ErrorTypeUnknown, msg)
	}
}
