package chat

import (
	"context"
	"fmt"

	"github.com/sashabaranov/go-openai"
)

// OpenAIClient interface for testability
type OpenAIClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Completer answers a visitor message that no FAQ entry covered. The
// generative service is treated as an opaque request/response black box.
type Completer interface {
	Complete(ctx context.Context, persona, message string) (string, error)
}

// OpenAICompleter implements Completer over the OpenAI chat completion API.
type OpenAICompleter struct {
	client OpenAIClient
	model  string
}

// NewOpenAICompleter creates a completer with a default client.
func NewOpenAICompleter(apiKey, model string) *OpenAICompleter {
	return NewOpenAICompleterWithClient(openai.NewClient(apiKey), model)
}

// NewOpenAICompleterWithClient creates a completer with a custom client
// (useful for testing).
func NewOpenAICompleterWithClient(client OpenAIClient, model string) *OpenAICompleter {
	return &OpenAICompleter{client: client, model: model}
}

// Complete asks the generative service for a reply in the profile owner's
// voice.
func (c *OpenAICompleter) Complete(ctx context.Context, persona, message string) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: "system", Content: persona},
			{Role: "user", Content: message},
		},
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}
	return resp.Choices[0].Message.Content, nil
}
