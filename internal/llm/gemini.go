package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/option"
)

type GeminiClient struct {
	client         *genai.Client
	model          string
	embeddingModel string
}

func NewGeminiClient(ctx context.Context, apiKey, model, embeddingModel string) (*GeminiClient, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GeminiClient{client: client, model: model, embeddingModel: embeddingModel}, nil
}

func (c *GeminiClient) Close() error {
	if c.client == nil {
		return nil
	}
	if err := c.client.Close(); err != nil {
		return fmt.Errorf("error closing GenAI client: %w", err)
	}
	log.Debug().Msg("GenAI client closed")
	return nil
}

func (c *GeminiClient) Embed(ctx context.Context, text string) ([]float32, error) {
	em := c.client.EmbeddingModel(c.embeddingModel)
	res, err := em.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, fmt.Errorf("gemini embedding request failed: %w", err)
	}
	if res.Embedding == nil || len(res.Embedding.Values) == 0 {
		return nil, errors.New("no embedding data received from gemini")
	}
	return res.Embedding.Values, nil
}

// Complete maps system messages onto the model's system instruction, replays
// the rest as chat history and sends the final user turn.
func (c *GeminiClient) Complete(ctx context.Context, messages []Message, opts CompletionOptions) (string, error) {
	model := c.client.GenerativeModel(c.model)

	temp := opts.Temperature
	maxTokens := int32(opts.MaxTokens)
	model.GenerationConfig = genai.GenerationConfig{
		Temperature:     &temp,
		MaxOutputTokens: &maxTokens,
	}

	var system []string
	var history []*genai.Content
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			system = append(system, m.Content)
		case RoleAssistant:
			history = append(history, &genai.Content{Role: "model", Parts: []genai.Part{genai.Text(m.Content)}})
		default:
			history = append(history, &genai.Content{Role: "user", Parts: []genai.Part{genai.Text(m.Content)}})
		}
	}
	if len(system) > 0 {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(strings.Join(system, "\n\n"))}}
	}

	if len(history) == 0 {
		return "", errors.New("prompt history is empty for chat completion")
	}
	last := history[len(history)-1]
	if last.Role != "user" {
		return "", errors.New("last message is not from 'user', cannot proceed with chat completion")
	}

	session := model.StartChat()
	session.History = history[:len(history)-1]

	resp, err := session.SendMessage(ctx, last.Parts...)
	if err != nil {
		return "", fmt.Errorf("gemini chat SendMessage failed: %w", err)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", errors.New("gemini response was empty or had no candidates")
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			text.WriteString(string(txt))
		} else {
			log.Debug().Str("part_type", fmt.Sprintf("%T", part)).Msg("Skipping non-text Gemini response part")
		}
	}
	if text.Len() == 0 {
		return "", errors.New("gemini response contained no text")
	}
	return text.String(), nil
}
