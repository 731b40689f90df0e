package openai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"resty.dev/v3"

	"github.com/at-ishikawa/studycore/internal/inference"
)

const (
	providerName   = "openai"
	defaultBaseURL = "https://api.openai.com/v1"
)

type Client struct {
	httpClient *resty.Client
	model      string
}

// NewClient builds a client whose requests give up after timeout. A zero
// timeout leaves requests bounded only by their context.
func NewClient(apiKey, model, baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	client := resty.New()
	client.SetBaseURL(baseURL)
	client.SetHeader("Authorization", "Bearer "+apiKey)
	client.SetHeader("Content-Type", "application/json")
	if timeout > 0 {
		client.SetTimeout(timeout)
	}

	return &Client{
		httpClient: client,
		model:      model,
	}
}

func (client Client) Close() error {
	return client.httpClient.Close()
}

// Model returns the model name configured for this client
func (client Client) Model() string {
	return client.model
}

type ChatCompletionRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	Temperature    float64         `json:"temperature,omitempty"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`
}

type ResponseFormat struct {
	Type string `json:"type"`
}

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type ChatCompletionResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
}

type Choice struct {
	Index        int           `json:"index"`
	Message      ChoiceMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

type ChoiceMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func (client *Client) getRequestBody(prompt inference.Prompt) ChatCompletionRequest {
	var messages []Message
	if prompt.System != "" {
		messages = append(messages, Message{Role: RoleSystem, Content: prompt.System})
	}
	messages = append(messages, Message{Role: RoleUser, Content: prompt.User})

	body := ChatCompletionRequest{
		Model:       client.model,
		Messages:    messages,
		Temperature: prompt.Temperature,
		MaxTokens:   prompt.MaxTokens,
	}
	if prompt.Schema != nil {
		body.ResponseFormat = &ResponseFormat{Type: "json_object"}
	}
	return body
}

// Generate implements the inference.Client interface
func (client *Client) Generate(ctx context.Context, prompt inference.Prompt) (string, error) {
	requestBody := client.getRequestBody(prompt)

	response, err := client.httpClient.R().
		SetContext(ctx).
		SetBody(requestBody).
		SetResult(&ChatCompletionResponse{}).
		Post("/chat/completions")
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", inference.NewProviderError(providerName, 0, fmt.Errorf("httpClient.Post > %w", err))
	}
	if response.IsError() {
		return "", inference.NewProviderError(providerName, response.StatusCode(),
			fmt.Errorf("response error %d: %s", response.StatusCode(), response.String()))
	}

	responseBody := response.Result().(*ChatCompletionResponse)
	if responseBody == nil || len(responseBody.Choices) == 0 {
		return "", &inference.MalformedOutputError{
			Output: response.String(),
			Err:    errors.New("empty response body or choices"),
		}
	}

	content := responseBody.Choices[0].Message.Content
	if content == "" {
		return "", &inference.MalformedOutputError{
			Output: response.String(),
			Err:    errors.New("empty response content"),
		}
	}
	slog.Default().Debug("openai response content",
		"model", client.model,
		"finish_reason", responseBody.Choices[0].FinishReason,
		"total_tokens", responseBody.Usage.TotalTokens,
	)
	return content, nil
}
