package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/at-ishikawa/studycore/internal/config"
	"github.com/at-ishikawa/studycore/internal/inference"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name      string
		cfg       config.LLMConfig
		wantModel string
		wantErr   bool
	}{
		{
			name:      "openai",
			cfg:       config.LLMConfig{Provider: "openai", OpenAI: config.ProviderConfig{APIKey: "k", Model: "gpt-4o-mini"}},
			wantModel: "gpt-4o-mini",
		},
		{
			name:    "openai without key",
			cfg:     config.LLMConfig{Provider: "openai", OpenAI: config.ProviderConfig{Model: "gpt-4o-mini"}},
			wantErr: true,
		},
		{
			name:      "anthropic resolves friendly name",
			cfg:       config.LLMConfig{Provider: "anthropic", Anthropic: config.ProviderConfig{APIKey: "k", Model: "claude-sonnet"}},
			wantModel: "claude-sonnet-4-20250514",
		},
		{
			name:      "gemini",
			cfg:       config.LLMConfig{Provider: "gemini", Gemini: config.ProviderConfig{APIKey: "k", Model: "gemini-flash"}},
			wantModel: "gemini-2.0-flash",
		},
		{
			name:      "openrouter",
			cfg:       config.LLMConfig{Provider: "openrouter", OpenRouter: config.ProviderConfig{APIKey: "k", Model: "openai/gpt-4o-mini"}},
			wantModel: "openai/gpt-4o-mini",
		},
		{
			name:    "openrouter without key",
			cfg:     config.LLMConfig{Provider: "openrouter"},
			wantErr: true,
		},
		{
			name:    "unknown provider",
			cfg:     config.LLMConfig{Provider: "llama"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := New(context.Background(), tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantModel, client.Model())
		})
	}
}

func TestNew_RequestTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer server.Close()

	settings := func(key string) config.ProviderConfig {
		return config.ProviderConfig{APIKey: key, Model: "m", BaseURL: server.URL}
	}
	tests := []struct {
		name string
		cfg  config.LLMConfig
	}{
		{name: "openai", cfg: config.LLMConfig{Provider: "openai", OpenAI: settings("k")}},
		{name: "anthropic", cfg: config.LLMConfig{Provider: "anthropic", Anthropic: settings("k")}},
		{name: "gemini", cfg: config.LLMConfig{Provider: "gemini", Gemini: settings("k")}},
		{name: "openrouter", cfg: config.LLMConfig{Provider: "openrouter", OpenRouter: settings("k")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.cfg.Timeout = 200 * time.Millisecond
			client, err := New(context.Background(), tt.cfg)
			require.NoError(t, err)

			start := time.Now()
			_, err = client.Generate(context.Background(), inference.Prompt{User: "Topic: cells", MaxTokens: 16})
			elapsed := time.Since(start)

			require.Error(t, err)
			assert.Less(t, elapsed, 3*time.Second)
			assert.True(t, inference.IsRetryable(err), "timeout should be retryable: %v", err)
		})
	}
}
