package core

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbedBlankReturnsZeroVector(t *testing.T) {
	embedder := &fakeEmbedder{dim: 4}
	g, err := NewEmbeddingGateway(embedder, 4, 0, 0)
	require.NoError(t, err)

	for _, text := range []string{"", "   ", "\n\t"} {
		vec, err := g.Embed(context.Background(), text)
		require.NoError(t, err)
		assert.Equal(t, make([]float32, 4), vec)
	}
	assert.Zero(t, embedder.calls)
}

func TestEmbedTruncatesLongInput(t *testing.T) {
	embedder := &fakeEmbedder{dim: 2}
	g, err := NewEmbeddingGateway(embedder, 2, 0, 0)
	require.NoError(t, err)

	_, err = g.Embed(context.Background(), strings.Repeat("é", MaxEmbeddingInputChars+50))
	require.NoError(t, err)
	require.Len(t, embedder.inputs, 1)
	assert.Equal(t, MaxEmbeddingInputChars, utf8.RuneCountInString(embedder.inputs[0]))
}

func TestEmbedPropagatesProviderError(t *testing.T) {
	g, err := NewEmbeddingGateway(&fakeEmbedder{dim: 2, err: errBoom}, 2, 16, 0)
	require.NoError(t, err)

	_, err = g.Embed(context.Background(), "hello")
	assert.ErrorIs(t, err, errBoom)
}

func TestEmbedRejectsWrongDimension(t *testing.T) {
	g, err := NewEmbeddingGateway(&fakeEmbedder{dim: 3}, 2, 0, 0)
	require.NoError(t, err)

	_, err = g.Embed(context.Background(), "hello")
	assert.ErrorContains(t, err, "expected 2")
}

func TestEmbedCachesResults(t *testing.T) {
	embedder := &fakeEmbedder{dim: 2}
	g, err := NewEmbeddingGateway(embedder, 2, 8, 0)
	require.NoError(t, err)

	first, err := g.Embed(context.Background(), "hello")
	require.NoError(t, err)
	first[0] = 42 // callers may not corrupt the cache

	second, err := g.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, 1, embedder.calls)
	assert.Equal(t, []float32{1, 1}, second)

	uncached, err := NewEmbeddingGateway(embedder, 2, 0, 0)
	require.NoError(t, err)
	_, _ = uncached.Embed(context.Background(), "hello")
	_, _ = uncached.Embed(context.Background(), "hello")
	assert.Equal(t, 3, embedder.calls)
}

func TestNewEmbeddingGatewayRejectsBadDimension(t *testing.T) {
	_, err := NewEmbeddingGateway(&fakeEmbedder{}, 0, 0, 0)
	assert.Error(t, err)
}
