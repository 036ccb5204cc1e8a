package llm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedRequest struct {
	model            string
	stage            string
	promptTokens     int
	completionTokens int
	success          bool
}

type fakeObserver struct {
	records []recordedRequest
}

func (f *fakeObserver) ObserveLLMRequest(model, stage string, promptTokens, completionTokens int, success bool, _ time.Duration) {
	f.records = append(f.records, recordedRequest{model, stage, promptTokens, completionTokens, success})
}

func TestMeteredClientRecordsSuccess(t *testing.T) {
	obs := &fakeObserver{}
	c := NewMeteredClient(NewMockClient("fine"), "understand", obs)

	resp, err := c.Complete(context.Background(), NewCompletionRequest([]CompletionMessage{NewUserMessage("show open orders")}))
	require.NoError(t, err)
	assert.Equal(t, "fine", resp.Content)

	require.Len(t, obs.records, 1)
	rec := obs.records[0]
	assert.Equal(t, "understand", rec.stage)
	assert.Equal(t, c.ModelName(), rec.model)
	assert.Positive(t, rec.promptTokens)
	assert.True(t, rec.success)
}

func TestMeteredClientRecordsFailure(t *testing.T) {
	obs := &fakeObserver{}
	mock := NewMockClient("")
	mock.FailWith(assert.AnError)
	c := NewMeteredClient(mock, "intent", obs)

	_, err := c.Complete(context.Background(), NewCompletionRequest(nil))
	require.Error(t, err)

	require.Len(t, obs.records, 1)
	assert.False(t, obs.records[0].success)
}
