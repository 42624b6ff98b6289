// Package brain implements the two-stage LLM loop that watches chat: stage
// one classifies the unread tail of the history buffer into an action, stage
// two carries the chosen action out.
package brain

import (
	"context"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// Llm is the chat-completion capability the loop consumes
type Llm interface {
	Complete(ctx context.Context, messages []openai.ChatCompletionMessage, maxTokens int, temperature float32) (string, error)
}

// OpenAiClient adapts an OpenAI-compatible chat-completion endpoint to the
// Llm interface
type OpenAiClient struct {
	c       *openai.Client
	model   string
	timeout time.Duration
}

// NewOpenAiClient connects to the configured completion endpoint; baseUrl may
// point at any OpenAI-compatible server (e.g. a local inference daemon)
func NewOpenAiClient(token string, baseUrl string, model string, timeout time.Duration) *OpenAiClient {
	config := openai.DefaultConfig(token)
	if baseUrl != "" {
		config.BaseURL = baseUrl
	}
	return &OpenAiClient{
		c:       openai.NewClientWithConfig(config),
		model:   model,
		timeout: timeout,
	}
}

func (c *OpenAiClient) Complete(ctx context.Context, messages []openai.ChatCompletionMessage, maxTokens int, temperature float32) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	res, err := c.c.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: temperature,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(res.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	return res.Choices[0].Message.Content, nil
}
