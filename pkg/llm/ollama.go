package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/ollama/ollama/api"
)

// OllamaClient wraps the Ollama API client to implement the Client interface.
// Ollama is a local LLM runtime for running open-source models.
type OllamaClient struct {
	client *api.Client
	model  string
}

// NewOllamaClient creates a new Ollama client.
// hostURL should be the Ollama server URL (e.g. "http://localhost:11434").
func NewOllamaClient(hostURL, model string) Client {
	parsedURL, err := url.Parse(hostURL)
	if err != nil {
		parsedURL, _ = url.Parse("http://localhost:11434")
	}

	return &OllamaClient{
		client: api.NewClient(parsedURL, http.DefaultClient),
		model:  model,
	}
}

// ModelName implements Client.
func (o *OllamaClient) ModelName() string {
	return o.model
}

// Complete implements the Client interface.
//
//nolint:gocritic // CompletionRequest passed by value matches interface
func (o *OllamaClient) Complete(ctx context.Context, in CompletionRequest) (CompletionResponse, error) {
	if len(in.Messages) == 0 {
		return CompletionResponse{}, NewError(ErrorTypeBadPrompt, "message list cannot be empty")
	}

	messages := make([]api.Message, 0, len(in.Messages))
	for i := range in.Messages {
		msg := &in.Messages[i]
		messages = append(messages, api.Message{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}

	stream := false
	req := &api.ChatRequest{
		Model:    o.model,
		Messages: messages,
		Stream:   &stream,
		Options: map[string]any{
			"temperature": in.Temperature,
			"num_predict": in.MaxTokens,
		},
	}

	var response api.ChatResponse
	err := o.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		response = resp
		return nil
	})
	if err != nil {
		return CompletionResponse{}, ClassifyError(fmt.Errorf("ollama chat failed: %w", err))
	}

	if response.Message.Content == "" {
		return CompletionResponse{}, NewError(ErrorTypeEmptyResponse, "empty response from Ollama")
	}

	return CompletionResponse{
		Content:          response.Message.Content,
		PromptTokens:     response.PromptEvalCount,
		CompletionTokens: response.EvalCount,
	}, nil
}
