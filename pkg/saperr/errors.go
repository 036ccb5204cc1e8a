// Package saperr provides structured error classification for the query pipeline.
package saperr

import (
	"errors"
	"fmt"
	"strings"
)

// Code identifies the category of a pipeline error.
type Code string

const (
	// CodeConnection represents Service Layer connectivity failures.
	CodeConnection Code = "CONNECTION_ERROR"
	// CodeAuth represents login/session failures (401, expired session).
	CodeAuth Code = "AUTHENTICATION_ERROR"
	// CodeQueryConstruction represents failures building an OData URL.
	CodeQueryConstruction Code = "QUERY_CONSTRUCTION_ERROR"
	// CodeQueryExecution represents Service Layer request failures.
	CodeQueryExecution Code = "QUERY_EXECUTION_ERROR"
	// CodeValidation represents URL validation failures.
	CodeValidation Code = "VALIDATION_ERROR"
	// CodeUnderstanding represents NL understanding failures.
	CodeUnderstanding Code = "UNDERSTANDING_ERROR"
	// CodeIntent represents intent recognition failures.
	CodeIntent Code = "INTENT_ERROR"
	// CodeLLM represents model completion failures.
	CodeLLM Code = "LLM_ERROR"
	// CodeTimeout represents request timeouts.
	CodeTimeout Code = "TIMEOUT_ERROR"
	// CodeUnknown is the default for unclassified errors.
	CodeUnknown Code = "UNKNOWN_ERROR"
)

// Sentinel errors for errors.Is checks across packages.
var (
	ErrSessionExpired   = errors.New("service layer session expired")
	ErrEntityNotFound   = errors.New("entity type not found in registry")
	ErrNoCorrection     = errors.New("no correction rule matched")
	ErrRetriesExhausted = errors.New("correction retries exhausted")
	ErrEmptyCompletion  = errors.New("empty completion from model")
)

// Error is a classified pipeline error carrying user-facing context.
type Error struct {
	Code        Code
	Stage       string // Pipeline stage where the error occurred
	Message     string // Technical message for logs
	Details     map[string]any
	Suggestions []string
	Retryable   bool
	Underlying  error
}

func (e *Error) Error() string {
	if e.Stage != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Stage, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Underlying
}

// New creates a classified error.
func New(code Code, stage, message string) *Error {
	return &Error{
		Code:    code,
		Stage:   stage,
		Message: message,
		Details: make(map[string]any),
	}
}

// Wrap classifies an existing error.
func Wrap(code Code, stage string, err error) *Error {
	return &Error{
		Code:       code,
		Stage:      stage,
		Message:    err.Error(),
		Details:    make(map[string]any),
		Underlying: err,
	}
}

// WithDetail attaches a detail key/value and returns the error for chaining.
func (e *Error) WithDetail(key string, value any) *Error {
	e.Details[key] = value
	return e
}

// WithSuggestions attaches remediation suggestions.
func (e *Error) WithSuggestions(suggestions ...string) *Error {
	e.Suggestions = append(e.Suggestions, suggestions...)
	return e
}

// AsRetryable marks the error as retryable.
func (e *Error) AsRetryable() *Error {
	e.Retryable = true
	return e
}

// CodeOf extracts the Code from any error, defaulting to CodeUnknown.
func CodeOf(err error) Code {
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return CodeUnknown
}

// IsRetryable reports whether the error is worth retrying.
func IsRetryable(err error) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Retryable
	}
	// Conservative default for transient-looking errors.
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "timeout") || strings.Contains(msg, "connection")
}

// stageMessages maps pipeline stages to user-facing explanations.
//
//nolint:gochecknoglobals // Static message table
var stageMessages = map[string]string{
	"intent":      "I could not work out what kind of request this is. Try rephrasing, for example \"show me open orders for ACME\".",
	"understand":  "I could not extract a structured query from your question. Try naming the document type (orders, invoices...) explicitly.",
	"orchestrate": "I could not match your request to a known query pattern.",
	"construct":   "I could not build a valid SAP query from your request.",
	"parameters":  "Some required values are missing. Please provide the document number or customer name.",
	"execute":     "SAP did not accept the query. I tried automatic corrections but none worked.",
	"login":       "I could not sign in to the SAP Service Layer. Check the connection settings and credentials.",
	"format":      "The query succeeded but I could not format the results.",
}

// UserMessage returns a friendly message for end users, preferring
// stage-specific phrasing and appending suggestions when present.
func UserMessage(err error) string {
	var se *Error
	if !errors.As(err, &se) {
		return "Something went wrong while processing your request. Please try again."
	}

	msg, ok := stageMessages[se.Stage]
	if !ok {
		switch se.Code {
		case CodeConnection:
			msg = "I could not reach the SAP Service Layer. Is the server running?"
		case CodeAuth:
			msg = "SAP rejected the session. Please check the configured credentials."
		case CodeTimeout:
			msg = "SAP took too long to answer. Please try again or narrow the query."
		default:
			msg = "Something went wrong while processing your request."
		}
	}

	if len(se.Suggestions) > 0 {
		msg += " Suggestions: " + strings.Join(se.Suggestions, "; ") + "."
	}
	return msg
}
