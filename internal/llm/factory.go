package llm

import (
	"context"
	"fmt"

	"github.com/hyperjump/text2sql/internal/config"
)

// New creates the generator selected by cfg.Provider.
func New(ctx context.Context, cfg config.LLMConfig) (Generator, error) {
	switch cfg.Provider {
	case config.ProviderOllama, "":
		return NewOllamaClient(cfg.BaseURL, cfg.Model, cfg.Temperature, cfg.MaxTokens, cfg.Timeout), nil
	case config.ProviderGenAI:
		return NewGenAIClient(ctx, cfg.APIKey, cfg.Model, cfg.Temperature, cfg.MaxTokens)
	default:
		return nil, fmt.Errorf("unknown LLM provider: %q", cfg.Provider)
	}
}
