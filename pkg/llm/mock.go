package llm

import (
	"context"
	"strings"
	"sync"
)

// MockClient is a scripted Client for tests and demo mode.
// Responses are matched by substring against the last user message; a
// catch-all default is returned when nothing matches.
type MockClient struct {
	mu        sync.Mutex
	responses map[string]string
	def       string
	calls     []CompletionRequest
	err       error
}

// NewMockClient creates a mock client with a default response.
func NewMockClient(defaultResponse string) *MockClient {
	return &MockClient{
		responses: make(map[string]string),
		def:       defaultResponse,
	}
}

// ModelName implements Client.
func (m *MockClient) ModelName() string {
	return "mock"
}

// RespondWith registers a scripted response for prompts containing substr.
func (m *MockClient) RespondWith(substr, response string) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[substr] = response
	return m
}

// FailWith makes every Complete call return err.
func (m *MockClient) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Calls returns all requests seen so far.
func (m *MockClient) Calls() []CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]CompletionRequest{}, m.calls...)
}

// Complete implements the Client interface.
//
//nolint:gocritic // CompletionRequest passed by value matches interface
func (m *MockClient) Complete(_ context.Context, in CompletionRequest) (CompletionResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, in)

	if m.err != nil {
		return CompletionResponse{}, m.err
	}

	var lastUser string
	for i := range in.Messages {
		if in.Messages[i].Role == RoleUser {
			lastUser = in.Messages[i].Content
		}
	}

	for substr, response := range m.responses {
		if strings.Contains(lastUser, substr) {
			return CompletionResponse{Content: response, PromptTokens: len(lastUser) / 4}, nil
		}
	}

	return CompletionResponse{Content: m.def, PromptTokens: len(lastUser) / 4}, nil
}
