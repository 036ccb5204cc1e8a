package llm

import (
	"context"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIClient wraps the official OpenAI Go client to implement the Client interface.
type OpenAIClient struct {
	client openai.Client
	model  string
}

// NewOpenAIClient creates a new OpenAI client with the given model.
func NewOpenAIClient(apiKey, model string) Client {
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return &OpenAIClient{
		client: client,
		model:  model,
	}
}

// ModelName implements Client.
func (o *OpenAIClient) ModelName() string {
	return o.model
}

// Complete implements the Client interface using the Chat Completions API.
//
//nolint:gocritic // CompletionRequest passed by value matches interface
func (o *OpenAIClient) Complete(ctx context.Context, in CompletionRequest) (CompletionResponse, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(in.Messages))
	for i := range in.Messages {
		msg := &in.Messages[i]
		switch msg.Role {
		case RoleSystem:
			messages = append(messages, openai.SystemMessage(msg.Content))
		case RoleAssistant:
			messages = append(messages, openai.AssistantMessage(msg.Content))
		default:
			messages = append(messages, openai.UserMessage(msg.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:               o.model,
		Messages:            messages,
		MaxCompletionTokens: openai.Int(int64(in.MaxTokens)),
		Temperature:         openai.Float(float64(in.Temperature)),
	}

	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return CompletionResponse{}, ClassifyError(err)
	}

	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return CompletionResponse{}, NewError(ErrorTypeEmptyResponse, "no choices in OpenAI response")
	}

	return CompletionResponse{
		Content:          resp.Choices[0].Message.Content,
		PromptTokens:     int(resp.Usage.PromptTokens),
		CompletionTokens: int(resp.Usage.CompletionTokens),
	}, nil
}
