package inference

import (
	"context"
)

//go:generate mockgen -source=interface.go -destination=../mocks/inference/mock_client.go -package=mock_inference

// Client interface defines the text generation call used to produce study content
type Client interface {
	Generate(ctx context.Context, prompt Prompt) (string, error)
	// Model returns the model name configured for this client
	Model() string
}

// Prompt is a single generation request.
type Prompt struct {
	System string
	User   string
	// Schema is a JSON schema of the expected output. Providers that
	// support structured output use it as a hint; callers still validate.
	Schema      map[string]any
	MaxTokens   int
	Temperature float64
}
