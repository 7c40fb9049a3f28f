package core

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"gwi.com/docqa/internal/llm"
	"gwi.com/docqa/internal/metrics"
	"gwi.com/docqa/internal/store"
)

// ContextItem is a retrieved chunk with its score and the media its
// metadata cross-references.
type ContextItem struct {
	Chunk         store.Chunk
	Score         float64
	RelatedImages []store.Image
	RelatedTables []store.Table
}

// MediaStore resolves image and table descriptors.
type MediaStore interface {
	GetImagesByIDs(ctx context.Context, ids []int64) ([]store.Image, error)
	GetTablesByIDs(ctx context.Context, ids []int64) ([]store.Table, error)
	ListImagesByDocument(ctx context.Context, documentID int64, limit int) ([]store.Image, error)
	ListTablesByDocument(ctx context.Context, documentID int64, limit int) ([]store.Table, error)
	ListImagesByPage(ctx context.Context, documentID int64, page, limit int) ([]store.Image, error)
	ListTablesByPage(ctx context.Context, documentID int64, page, limit int) ([]store.Table, error)
}

// Limits for media taken from a chunk's own page when none of its
// cross-referenced ids resolve.
const (
	pageImageFallback = 3
	pageTableFallback = 2
)

type ContextSearcher struct {
	embedder llm.Embedder
	index    store.ChunkIndex
	media    MediaStore
}

func NewContextSearcher(embedder llm.Embedder, index store.ChunkIndex, media MediaStore) *ContextSearcher {
	return &ContextSearcher{embedder: embedder, index: index, media: media}
}

// Search returns up to k context items by descending similarity. A failing
// vector query degrades to an empty result; a failing query embedding does not.
func (s *ContextSearcher) Search(ctx context.Context, query string, documentID *int64, k int) ([]ContextItem, error) {
	queryEmbedding, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get query embedding: %w", err)
	}

	start := time.Now()
	results, err := s.index.SearchChunks(ctx, queryEmbedding, documentID, k)
	metrics.RecordVectorSearch(time.Since(start).Seconds())
	if err != nil {
		log.Error().Err(err).Msg("Vector search failed, continuing without context")
		return []ContextItem{}, nil
	}

	items := make([]ContextItem, 0, len(results))
	for _, r := range results {
		item := ContextItem{Chunk: r.Chunk, Score: r.Score}
		s.resolveMedia(ctx, &item)
		items = append(items, item)
	}
	log.Debug().Int("retrieved", len(items)).Int("k", k).Msg("Retrieved context")
	return items, nil
}

// resolveMedia attaches the chunk's cross-referenced media. When none of a
// kind resolves, media from the chunk's own page stand in. A failed id
// lookup leaves both lists empty; a failed page lookup only its own kind.
func (s *ContextSearcher) resolveMedia(ctx context.Context, item *ContextItem) {
	chunk := item.Chunk

	if ids := chunk.Metadata.RelatedImages; len(ids) > 0 {
		images, err := s.media.GetImagesByIDs(ctx, ids)
		if err != nil {
			log.Warn().Err(err).Int64("chunk_id", chunk.ID).Msg("Failed to resolve related images")
			return
		}
		item.RelatedImages = images
	}
	if len(item.RelatedImages) == 0 && chunk.PageNumber > 0 {
		images, err := s.media.ListImagesByPage(ctx, chunk.DocumentID, chunk.PageNumber, pageImageFallback)
		if err != nil {
			log.Warn().Err(err).Int64("chunk_id", chunk.ID).Msg("Failed to list images on chunk page")
		} else {
			item.RelatedImages = images
		}
	}

	if ids := chunk.Metadata.RelatedTables; len(ids) > 0 {
		tables, err := s.media.GetTablesByIDs(ctx, ids)
		if err != nil {
			log.Warn().Err(err).Int64("chunk_id", chunk.ID).Msg("Failed to resolve related tables")
			item.RelatedImages = nil
			return
		}
		item.RelatedTables = tables
	}
	if len(item.RelatedTables) == 0 && chunk.PageNumber > 0 {
		tables, err := s.media.ListTablesByPage(ctx, chunk.DocumentID, chunk.PageNumber, pageTableFallback)
		if err != nil {
			log.Warn().Err(err).Int64("chunk_id", chunk.ID).Msg("Failed to list tables on chunk page")
		} else {
			item.RelatedTables = tables
		}
	}
}
