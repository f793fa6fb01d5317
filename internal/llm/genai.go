package llm

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	apperrors "github.com/hyperjump/text2sql/internal/errors"
)

// GenAIClient generates text with Google's Gemini API.
type GenAIClient struct {
	client      *genai.Client
	model       string
	temperature float32
	maxTokens   int32
}

// NewGenAIClient creates a Gemini client.
func NewGenAIClient(ctx context.Context, apiKey, model string, temperature float64, maxTokens int) (*GenAIClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GenAI API key is required")
	}
	if model == "" {
		model = "gemini-2.5-flash"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GenAIClient{client: client, model: model, temperature: float32(temperature), maxTokens: int32(maxTokens)}, nil
}

// Model returns the model name.
func (c *GenAIClient) Model() string { return c.model }

// Generate sends prompt as a single user turn.
func (c *GenAIClient) Generate(ctx context.Context, prompt string) (string, error) {
	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr[float32](c.temperature),
	}
	if c.maxTokens > 0 {
		cfg.MaxOutputTokens = c.maxTokens
	}
	resp, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(prompt), cfg)
	if err != nil {
		return "", &apperrors.GenerationError{Err: fmt.Errorf("GenAI generate failed: %w", err)}
	}
	text := resp.Text()
	if text == "" {
		return "", &apperrors.GenerationError{Err: fmt.Errorf("GenAI returned an empty response")}
	}
	return text, nil
}
