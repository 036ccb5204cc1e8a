package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// ClaudeClient wraps the Anthropic API client to implement the Client interface.
type ClaudeClient struct {
	client anthropic.Client
	model  anthropic.Model
}

// NewClaudeClient creates a new Claude client with the given model.
func NewClaudeClient(apiKey, model string) Client {
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &ClaudeClient{
		client: client,
		model:  anthropic.Model(model),
	}
}

// ModelName implements Client.
func (c *ClaudeClient) ModelName() string {
	return string(c.model)
}

// ensureAlternation prepares messages for Anthropic API requirements:
// system messages move to the top-level system parameter, consecutive user
// messages are merged, and the sequence must end with a user message.
func ensureAlternation(messages []CompletionMessage) (systemPrompt string, alternating []CompletionMessage, err error) {
	if len(messages) == 0 {
		return "", nil, fmt.Errorf("message list cannot be empty")
	}

	var systemParts []string
	var rest []CompletionMessage

	for i := range messages {
		msg := &messages[i]
		if msg.Role == RoleSystem {
			systemParts = append(systemParts, msg.Content)
		} else {
			rest = append(rest, *msg)
		}
	}

	systemPrompt = strings.Join(systemParts, "\n\n")

	if len(rest) == 0 {
		return "", nil, fmt.Errorf("must have at least one non-system message")
	}

	var merged []CompletionMessage
	var userParts []string

	for i := range rest {
		msg := &rest[i]
		if msg.Role == RoleAssistant {
			if len(userParts) > 0 {
				merged = append(merged, CompletionMessage{
					Role:    RoleUser,
					Content: strings.Join(userParts, "\n\n"),
				})
				userParts = nil
			}
			merged = append(merged, *msg)
		} else {
			userParts = append(userParts, msg.Content)
		}
	}

	if len(userParts) > 0 {
		merged = append(merged, CompletionMessage{
			Role:    RoleUser,
			Content: strings.Join(userParts, "\n\n"),
		})
	}

	for i := range merged {
		if i > 0 && merged[i].Role == merged[i-1].Role {
			return "", nil, fmt.Errorf("alternation violation at index %d: consecutive %s messages", i, merged[i].Role)
		}
	}

	if merged[0].Role != RoleUser {
		return "", nil, fmt.Errorf("first message must be user role, got: %s", merged[0].Role)
	}
	if merged[len(merged)-1].Role != RoleUser {
		return "", nil, fmt.Errorf("last message must be user role, got: %s", merged[len(merged)-1].Role)
	}

	return systemPrompt, merged, nil
}

// Complete implements the Client interface.
//
//nolint:gocritic // CompletionRequest passed by value matches interface
func (c *ClaudeClient) Complete(ctx context.Context, in CompletionRequest) (CompletionResponse, error) {
	systemPrompt, alternating, err := ensureAlternation(in.Messages)
	if err != nil {
		return CompletionResponse{}, NewError(ErrorTypeBadPrompt, fmt.Sprintf("message alternation error: %v", err))
	}

	messages := make([]anthropic.MessageParam, 0, len(alternating))
	for i := range alternating {
		msg := &alternating[i]
		messages = append(messages, anthropic.MessageParam{
			Role:    anthropic.MessageParamRole(msg.Role),
			Content: []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(msg.Content)},
		})
	}

	params := anthropic.MessageNewParams{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   int64(in.MaxTokens),
		Temperature: anthropic.Float(float64(in.Temperature)),
	}

	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{
			Text: systemPrompt,
			Type: "text",
		}}
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return CompletionResponse{}, ClassifyError(err)
	}

	var content strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}

	if content.Len() == 0 {
		return CompletionResponse{}, NewError(ErrorTypeEmptyResponse, "no text content in Claude response")
	}

	return CompletionResponse{
		Content:          content.String(),
		PromptTokens:     int(resp.Usage.InputTokens),
		CompletionTokens: int(resp.Usage.OutputTokens),
	}, nil
}
