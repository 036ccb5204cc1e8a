package llm

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// GeminiClient wraps the Google GenAI client to implement the Client interface.
type GeminiClient struct {
	client *genai.Client
	apiKey string
	model  string
}

// NewGeminiClient creates a new Gemini client with the given model.
// Client creation requires a context, so it is deferred to the first Complete.
func NewGeminiClient(apiKey, model string) Client {
	return &GeminiClient{
		client: nil,
		apiKey: apiKey,
		model:  model,
	}
}

// ModelName implements Client.
func (g *GeminiClient) ModelName() string {
	return g.model
}

// Complete implements the Client interface.
//
//nolint:gocritic // CompletionRequest passed by value matches interface
func (g *GeminiClient) Complete(ctx context.Context, in CompletionRequest) (CompletionResponse, error) {
	if g.client == nil {
		client, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  g.apiKey,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			return CompletionResponse{}, ClassifyError(fmt.Errorf("failed to create Gemini client: %w", err))
		}
		g.client = client
	}

	var systemParts []string
	var contents []*genai.Content

	for i := range in.Messages {
		msg := &in.Messages[i]
		switch msg.Role {
		case RoleSystem:
			systemParts = append(systemParts, msg.Content)
		case RoleAssistant:
			contents = append(contents, &genai.Content{
				Role:  genai.RoleModel,
				Parts: []*genai.Part{{Text: msg.Content}},
			})
		default:
			contents = append(contents, &genai.Content{
				Role:  genai.RoleUser,
				Parts: []*genai.Part{{Text: msg.Content}},
			})
		}
	}

	if len(contents) == 0 {
		return CompletionResponse{}, NewError(ErrorTypeBadPrompt, "must have at least one non-system message")
	}

	//nolint:gosec // MaxTokens validated at higher layer, overflow acceptable
	maxTokens := int32(in.MaxTokens)
	cfg := &genai.GenerateContentConfig{
		Temperature:     &in.Temperature,
		MaxOutputTokens: maxTokens,
	}

	if len(systemParts) > 0 {
		cfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: strings.Join(systemParts, "\n\n")}},
		}
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, cfg)
	if err != nil {
		return CompletionResponse{}, ClassifyError(err)
	}

	text := resp.Text()
	if text == "" {
		return CompletionResponse{}, NewError(ErrorTypeEmptyResponse, "empty response from Gemini")
	}

	out := CompletionResponse{Content: text}
	if resp.UsageMetadata != nil {
		out.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
		out.CompletionTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	return out, nil
}
