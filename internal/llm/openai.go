package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
)

type OpenAIClient struct {
	client         *openai.Client
	model          string
	embeddingModel string
	dimensions     int
}

type OpenAIConfig struct {
	APIKey         string
	BaseURL        string
	Model          string
	EmbeddingModel string
	// Dimensions is forwarded to embedding models that accept a target size.
	Dimensions int
}

func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	return &OpenAIClient{
		client:         openai.NewClientWithConfig(clientConfig),
		model:          cfg.Model,
		embeddingModel: cfg.EmbeddingModel,
		dimensions:     cfg.Dimensions,
	}
}

func (c *OpenAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	req := openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(c.embeddingModel),
	}
	// text-embedding-ada-002 rejects the dimensions parameter.
	if c.dimensions > 0 && c.embeddingModel != string(openai.AdaEmbeddingV2) {
		req.Dimensions = c.dimensions
	}

	resp, err := c.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("openai embedding request failed: %w", err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, errors.New("no embedding data received from openai")
	}
	return resp.Data[0].Embedding, nil
}

func (c *OpenAIClient) Complete(ctx context.Context, messages []Message, opts CompletionOptions) (string, error) {
	if len(messages) == 0 {
		return "", errors.New("no messages for chat completion")
	}

	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    make([]openai.ChatCompletionMessage, 0, len(messages)),
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("openai chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

func (c *OpenAIClient) Close() error { return nil }
