package llm

import (
	"fmt"

	"sapassist/pkg/config"
)

// NewFromConfig builds a retry-wrapped Client for the configured provider.
// API keys are resolved through the config secrets layer.
func NewFromConfig(cfg *config.LLMConfig) (Client, error) {
	var raw Client

	switch cfg.Provider {
	case config.ProviderAnthropic:
		key, err := config.GetSecret(config.SecretAnthropicKey)
		if err != nil {
			return nil, fmt.Errorf("anthropic provider selected: %w", err)
		}
		raw = NewClaudeClient(key, cfg.Model)
	case config.ProviderOpenAI:
		key, err := config.GetSecret(config.SecretOpenAIKey)
		if err != nil {
			return nil, fmt.Errorf("openai provider selected: %w", err)
		}
		raw = NewOpenAIClient(key, cfg.Model)
	case config.ProviderGoogle:
		key, err := config.GetSecret(config.SecretGeminiKey)
		if err != nil {
			return nil, fmt.Errorf("google provider selected: %w", err)
		}
		raw = NewGeminiClient(key, cfg.Model)
	case config.ProviderOllama:
		raw = NewOllamaClient(cfg.OllamaHost, cfg.Model)
	case config.ProviderMock:
		raw = NewMockClient("{}")
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}

	return NewRetryableClient(raw, DefaultRetryConfig), nil
}
