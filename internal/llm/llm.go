// Package llm wraps an optional text-generation client used for
// human-readable summaries (Maestro) and anomaly explanations (Watchdog).
// Every call carries a short deadline and a deterministic fallback;
// generated text is advisory only, never authoritative.
package llm

import (
	"context"
	"time"

	"go.uber.org/zap"

	openai "github.com/sashabaranov/go-openai"
)

const defaultDeadline = 2 * time.Second

// Client is the consumed-contract interface: generate(prompt, deadline) ->
// text with graceful failure.
type Client interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// OpenAIClient adapts an OpenAI-compatible chat completion endpoint.
type OpenAIClient struct {
	client *openai.Client
	model  string
	logger *zap.Logger
}

// NewOpenAIClient constructs a client for the given API key and model.
func NewOpenAIClient(apiKey, model string, logger *zap.Logger) *OpenAIClient {
	return &OpenAIClient{client: openai.NewClient(apiKey), model: model, logger: logger}
}

// Generate calls the chat completion endpoint with a 2s deadline.
func (c *OpenAIClient) Generate(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultDeadline)
	defer cancel()

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		MaxTokens: 200,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

// GenerateOrFallback calls client.Generate and returns fallback() if the
// client is nil, the call errors, or the deadline expires.
func GenerateOrFallback(ctx context.Context, client Client, logger *zap.Logger, prompt string, fallback func() string) string {
	if client == nil {
		return fallback()
	}
	text, err := client.Generate(ctx, prompt)
	if err != nil || text == "" {
		if err != nil {
			logger.Warn("llm generate failed, using deterministic fallback", zap.Error(err))
		}
		return fallback()
	}
	return text
}
