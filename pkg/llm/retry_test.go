package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyClient fails a fixed number of times before succeeding.
type flakyClient struct {
	failures int
	err      error
	calls    int
}

func (f *flakyClient) ModelName() string { return "flaky" }

func (f *flakyClient) Complete(_ context.Context, _ CompletionRequest) (CompletionResponse, error) {
	f.calls++
	if f.calls <= f.failures {
		return CompletionResponse{}, f.err
	}
	return CompletionResponse{Content: "ok"}, nil
}

func fastRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    3,
		InitialDelay:  time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
		BackoffFactor: 2.0,
	}
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	inner := &flakyClient{failures: 2, err: NewError(ErrorTypeTransient, "connection reset")}
	c := NewRetryableClient(inner, fastRetryConfig())

	resp, err := c.Complete(context.Background(), NewCompletionRequest([]CompletionMessage{NewUserMessage("hi")}))
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, 3, inner.calls)
}

func TestRetryStopsOnNonRetryable(t *testing.T) {
	underlying := NewError(ErrorTypeAuth, "bad api key")
	inner := &flakyClient{failures: 10, err: underlying}
	c := NewRetryableClient(inner, fastRetryConfig())

	_, err := c.Complete(context.Background(), NewCompletionRequest(nil))
	require.Error(t, err)
	assert.ErrorIs(t, err, underlying)
	assert.Equal(t, 1, inner.calls)
}

func TestRetryGivesUpAfterMaxRetries(t *testing.T) {
	inner := &flakyClient{failures: 10, err: NewError(ErrorTypeRateLimit, "429")}
	c := NewRetryableClient(inner, fastRetryConfig())

	_, err := c.Complete(context.Background(), NewCompletionRequest(nil))
	require.Error(t, err)
	assert.Equal(t, 4, inner.calls)
	assert.Contains(t, err.Error(), "failed after 3 retries")
}

func TestRetryHonorsContextCancellation(t *testing.T) {
	inner := &flakyClient{failures: 10, err: NewError(ErrorTypeTransient, "503")}
	c := NewRetryableClient(inner, RetryConfig{
		MaxRetries:    3,
		InitialDelay:  time.Hour,
		MaxDelay:      time.Hour,
		BackoffFactor: 2.0,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := c.Complete(ctx, NewCompletionRequest(nil))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, inner.calls)
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		msg  string
		want ErrorType
	}{
		{"HTTP 429 rate limit exceeded", ErrorTypeRateLimit},
		{"monthly quota used up", ErrorTypeRateLimit},
		{"401 unauthorized", ErrorTypeAuth},
		{"invalid api key", ErrorTypeAuth},
		{"502 bad gateway", ErrorTypeTransient},
		{"unexpected EOF", ErrorTypeTransient},
		{"request timeout", ErrorTypeTransient},
		{"empty response from model", ErrorTypeEmptyResponse},
		{"prompt too long", ErrorTypeBadPrompt},
		{"something odd", ErrorTypeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			got := ClassifyError(errors.New(tt.msg))
			assert.Equal(t, tt.want, got.Type)
		})
	}

	// Typed errors pass through unchanged.
	typed := NewError(ErrorTypeAuth, "nope")
	assert.Same(t, typed, ClassifyError(typed))
	assert.Nil(t, ClassifyError(nil))
}

func TestShouldRetry(t *testing.T) {
	assert.True(t, NewError(ErrorTypeRateLimit, "").ShouldRetry())
	assert.True(t, NewError(ErrorTypeTransient, "").ShouldRetry())
	assert.True(t, NewError(ErrorTypeEmptyResponse, "").ShouldRetry())
	assert.False(t, NewError(ErrorTypeAuth, "").ShouldRetry())
	assert.False(t, NewError(ErrorTypeBadPrompt, "").ShouldRetry())
	assert.False(t, NewError(ErrorTypeUnknown, "").ShouldRetry())
}

func TestMockClientScriptedResponses(t *testing.T) {
	mock := NewMockClient("default").RespondWith("orders", "scripted")

	resp, err := mock.Complete(context.Background(), NewCompletionRequest([]CompletionMessage{
		NewUserMessage("show me orders"),
	}))
	require.NoError(t, err)
	assert.Equal(t, "scripted", resp.Content)

	resp, err = mock.Complete(context.Background(), NewCompletionRequest([]CompletionMessage{
		NewUserMessage("something else"),
	}))
	require.NoError(t, err)
	assert.Equal(t, "default", resp.Content)
	assert.Len(t, mock.Calls(), 2)
}
