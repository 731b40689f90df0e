// Package provider builds the configured inference client.
package provider

import (
	"context"
	"fmt"

	"github.com/at-ishikawa/studycore/internal/config"
	"github.com/at-ishikawa/studycore/internal/inference"
	"github.com/at-ishikawa/studycore/internal/inference/anthropic"
	"github.com/at-ishikawa/studycore/internal/inference/gemini"
	"github.com/at-ishikawa/studycore/internal/inference/openai"
	"github.com/at-ishikawa/studycore/internal/inference/openrouter"
)

// New returns a client for cfg.Provider. Every request it sends is bounded
// by cfg.Timeout.
func New(ctx context.Context, cfg config.LLMConfig) (inference.Client, error) {
	settings := cfg.ProviderSettings()

	var (
		client inference.Client
		err    error
	)
	switch cfg.Provider {
	case "openai", "":
		if settings.APIKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is not set")
		}
		client = openai.NewClient(settings.APIKey, settings.Model, settings.BaseURL, cfg.Timeout)
	case "anthropic":
		client, err = unwrap(anthropic.NewClient(settings.APIKey, settings.Model, settings.BaseURL, cfg.Timeout))
	case "gemini":
		client, err = unwrap(gemini.NewClient(ctx, settings.APIKey, settings.Model, settings.BaseURL, cfg.Timeout))
	case "openrouter":
		client, err = unwrap(openrouter.NewClient(settings.APIKey, settings.Model, settings.BaseURL, cfg.Timeout))
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s client > %w", cfg.Provider, err)
	}
	return client, nil
}

// unwrap keeps a failed constructor from returning a typed nil client.
func unwrap[C inference.Client](c C, err error) (inference.Client, error) {
	if err != nil {
		return nil, err
	}
	return c, nil
}
