package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/rs/zerolog/log"

	"gwi.com/docqa/internal/llm"
	"gwi.com/docqa/internal/metrics"
)

// MaxEmbeddingInputChars caps the text submitted to the embedding provider.
const MaxEmbeddingInputChars = 8000

// EmbeddingGateway fronts the embedding provider: it truncates input,
// short-circuits blank text to a zero vector, checks the returned dimension
// and caches results.
type EmbeddingGateway struct {
	embedder  llm.Embedder
	dimension int
	timeout   time.Duration
	cache     *lru.Cache // nil when disabled
}

func NewEmbeddingGateway(embedder llm.Embedder, dimension, cacheSize int, timeout time.Duration) (*EmbeddingGateway, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("embedding dimension must be positive, got %d", dimension)
	}
	g := &EmbeddingGateway{embedder: embedder, dimension: dimension, timeout: timeout}
	if cacheSize > 0 {
		cache, err := lru.New(cacheSize)
		if err != nil {
			return nil, fmt.Errorf("failed to create embedding cache: %w", err)
		}
		g.cache = cache
	}
	return g, nil
}

func (g *EmbeddingGateway) Dimension() int { return g.dimension }

func (g *EmbeddingGateway) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return make([]float32, g.dimension), nil
	}
	text = truncate(text, MaxEmbeddingInputChars)

	if g.cache != nil {
		if cached, ok := g.cache.Get(text); ok {
			metrics.RecordEmbeddingCache(true)
			return append([]float32(nil), cached.([]float32)...), nil
		}
		metrics.RecordEmbeddingCache(false)
	}

	callCtx := ctx
	if g.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	start := time.Now()
	vector, err := g.embedder.Embed(callCtx, text)
	metrics.RecordEmbedding(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	if len(vector) != g.dimension {
		return nil, fmt.Errorf("embedding has %d dimensions, expected %d", len(vector), g.dimension)
	}

	if g.cache != nil {
		g.cache.Add(text, append([]float32(nil), vector...))
	}
	log.Debug().Int("chars", len(text)).Dur("took", time.Since(start)).Msg("Embedded text")
	return vector, nil
}
