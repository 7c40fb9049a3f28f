package llm

import (
	"context"
	"fmt"

	"gwi.com/docqa/internal/config"
)

// NewProvider builds the client selected by cfg.LLMProvider.
func NewProvider(ctx context.Context, cfg *config.Config) (Provider, error) {
	switch cfg.LLMProvider {
	case "openai":
		return NewOpenAIClient(OpenAIConfig{
			APIKey:         cfg.OpenAIAPIKey,
			BaseURL:        cfg.OpenAIBaseURL,
			Model:          cfg.OpenAIModel,
			EmbeddingModel: cfg.OpenAIEmbeddingModel,
			Dimensions:     cfg.EmbeddingDimension,
		}), nil
	case "gemini":
		return NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, cfg.GeminiEmbeddingModel)
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", cfg.LLMProvider)
	}
}
