package agent

import (
	"context"

	"github.com/sashabaranov/go-openai"
)

// ChunkReader yields streamed completion chunks until io.EOF.
type ChunkReader interface {
	Recv() (openai.ChatCompletionStreamResponse, error)
	Close() error
}

// Provider opens streaming chat completions.
type Provider interface {
	Stream(ctx context.Context, req openai.ChatCompletionRequest) (ChunkReader, error)
}

// OpenAIProvider talks to OpenAI or any OpenAI-compatible endpoint.
type OpenAIProvider struct {
	Client *openai.Client
}

// NewOpenAIProvider builds a provider; an empty baseURL keeps the default.
func NewOpenAIProvider(apiKey, baseURL string) *OpenAIProvider {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIProvider{Client: openai.NewClientWithConfig(cfg)}
}

// Stream implements Provider.
func (p *OpenAIProvider) Stream(ctx context.Context, req openai.ChatCompletionRequest) (ChunkReader, error) {
	st, err := p.Client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, err
	}
	return st, nil
}
