package llm

import (
	"context"
	"time"
)

// RequestObserver receives one record per model call.
type RequestObserver interface {
	ObserveLLMRequest(model, stage string, promptTokens, completionTokens int, success bool, duration time.Duration)
}

// MeteredClient wraps a Client and reports every completion to an observer,
// labelled with the pipeline stage that issued it.
type MeteredClient struct {
	inner Client
	stage string
	obs   RequestObserver
}

// NewMeteredClient wraps client so every completion is observed under stage.
func NewMeteredClient(client Client, stage string, obs RequestObserver) *MeteredClient {
	return &MeteredClient{inner: client, stage: stage, obs: obs}
}

// ModelName returns the wrapped client's model identifier.
func (m *MeteredClient) ModelName() string {
	return m.inner.ModelName()
}

// Complete delegates to the wrapped client and records the outcome.
func (m *MeteredClient) Complete(ctx context.Context, in CompletionRequest) (CompletionResponse, error) {
	start := time.Now()
	resp, err := m.inner.Complete(ctx, in)
	m.obs.ObserveLLMRequest(m.inner.ModelName(), m.stage, resp.PromptTokens, resp.CompletionTokens, err == nil, time.Since(start))
	return resp, err
}
