package saperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorFormat(t *testing.T) {
	err := New(CodeQueryExecution, "execute", "boom")
	assert.Equal(t, "[QUERY_EXECUTION_ERROR] execute: boom", err.Error())

	err = New(CodeUnknown, "", "boom")
	assert.Equal(t, "[UNKNOWN_ERROR] boom", err.Error())
}

func TestWrapPreservesUnderlying(t *testing.T) {
	underlying := errors.New("low level")
	err := Wrap(CodeConnection, "login", underlying)

	assert.ErrorIs(t, err, underlying)
	assert.Equal(t, "low level", err.Message)
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, CodeAuth, CodeOf(New(CodeAuth, "login", "denied")))
	assert.Equal(t, CodeUnknown, CodeOf(errors.New("plain")))

	// Works through wrapping layers.
	wrapped := fmt.Errorf("outer: %w", New(CodeValidation, "parameters", "missing"))
	assert.Equal(t, CodeValidation, CodeOf(wrapped))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(New(CodeConnection, "login", "refused").AsRetryable()))
	assert.False(t, IsRetryable(New(CodeAuth, "login", "denied")))

	// Plain errors fall back to message sniffing.
	assert.True(t, IsRetryable(errors.New("dial tcp: connection refused")))
	assert.True(t, IsRetryable(errors.New("request timeout")))
	assert.False(t, IsRetryable(errors.New("invalid field")))
}

func TestDetailsAndSuggestions(t *testing.T) {
	err := New(CodeQueryExecution, "execute", "rejected").
		WithDetail("status", 400).
		WithDetail("url", "/Orders").
		WithSuggestions("rephrase the question")

	assert.Equal(t, 400, err.Details["status"])
	assert.Equal(t, []string{"rephrase the question"}, err.Suggestions)
}

func TestUserMessage(t *testing.T) {
	t.Run("stage specific", func(t *testing.T) {
		msg := UserMessage(New(CodeQueryExecution, "execute", "rejected"))
		assert.Contains(t, msg, "SAP did not accept the query")
	})

	t.Run("code fallback", func(t *testing.T) {
		msg := UserMessage(New(CodeConnection, "somewhere", "refused"))
		assert.Contains(t, msg, "could not reach the SAP Service Layer")
	})

	t.Run("suggestions appended", func(t *testing.T) {
		err := New(CodeValidation, "parameters", "missing").
			WithSuggestions("include the document number")
		msg := UserMessage(err)
		assert.Contains(t, msg, "Suggestions: include the document number.")
	})

	t.Run("plain error", func(t *testing.T) {
		msg := UserMessage(errors.New("anything"))
		require.Contains(t, msg, "Something went wrong")
	})
}
