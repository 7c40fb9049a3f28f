package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gwi.com/docqa/internal/store"
)

func scored(id int64, score float64, meta store.ChunkMetadata) store.ScoredChunk {
	return store.ScoredChunk{
		Chunk: store.Chunk{ID: id, DocumentID: 1, Content: "chunk", PageNumber: 1, ChunkIndex: int(id), Metadata: meta},
		Score: score,
	}
}

func TestSearchResolvesRelatedMediaPerItem(t *testing.T) {
	index := &fakeIndex{results: []store.ScoredChunk{
		scored(1, 0.9, store.ChunkMetadata{RelatedImages: []int64{2, 1}, RelatedTables: []int64{5}}),
		scored(2, 0.7, store.ChunkMetadata{RelatedImages: []int64{1, 99}}),
	}}
	media := &fakeMediaStore{images: images(1, 1, 2), tables: tables(1, 5)}
	searcher := NewContextSearcher(&fakeEmbedder{dim: 2}, index, media)

	docID := int64(1)
	items, err := searcher.Search(context.Background(), "query", &docID, 5)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, &docID, index.lastDocID)
	assert.Equal(t, 5, index.lastK)

	require.Len(t, items[0].RelatedImages, 2)
	assert.Equal(t, int64(2), items[0].RelatedImages[0].ID)
	assert.Equal(t, int64(1), items[0].RelatedImages[1].ID)
	require.Len(t, items[0].RelatedTables, 1)

	// Not deduplicated across items at this stage.
	require.Len(t, items[1].RelatedImages, 1)
	assert.Equal(t, int64(1), items[1].RelatedImages[0].ID)
	assert.Empty(t, items[1].RelatedTables)
}

func TestSearchDegradesOnVectorQueryFailure(t *testing.T) {
	searcher := NewContextSearcher(&fakeEmbedder{dim: 2}, &fakeIndex{err: errBoom}, &fakeMediaStore{})

	items, err := searcher.Search(context.Background(), "query", nil, 5)
	require.NoError(t, err)
	assert.NotNil(t, items)
	assert.Empty(t, items)
}

func TestSearchFailsOnEmbeddingFailure(t *testing.T) {
	index := &fakeIndex{}
	searcher := NewContextSearcher(&fakeEmbedder{err: errBoom}, index, &fakeMediaStore{})

	_, err := searcher.Search(context.Background(), "query", nil, 5)
	assert.ErrorIs(t, err, errBoom)
	assert.Zero(t, index.lastK, "index must not be queried")
}

func TestSearchLeavesMediaEmptyWhenResolutionFails(t *testing.T) {
	index := &fakeIndex{results: []store.ScoredChunk{
		scored(1, 0.9, store.ChunkMetadata{RelatedImages: []int64{1}, RelatedTables: []int64{1}}),
	}}
	searcher := NewContextSearcher(&fakeEmbedder{dim: 2}, index, &fakeMediaStore{lookupErr: errBoom})

	items, err := searcher.Search(context.Background(), "query", nil, 5)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Empty(t, items[0].RelatedImages)
	assert.Empty(t, items[0].RelatedTables)
	assert.InDelta(t, 0.9, items[0].Score, 1e-9)
}

func TestSearchFallsBackToMediaOnChunkPage(t *testing.T) {
	pageMedia := func(id int64, page int) store.Image {
		return store.Image{ID: id, DocumentID: 1, PageNumber: page, FilePath: "uploads/images/p.png"}
	}
	media := &fakeMediaStore{
		images: []store.Image{pageMedia(10, 1), pageMedia(11, 1), pageMedia(12, 1), pageMedia(13, 1), pageMedia(14, 2)},
		tables: []store.Table{
			{ID: 20, DocumentID: 1, PageNumber: 1},
			{ID: 21, DocumentID: 1, PageNumber: 1},
			{ID: 22, DocumentID: 1, PageNumber: 1},
			{ID: 23, DocumentID: 2, PageNumber: 1},
		},
	}
	index := &fakeIndex{results: []store.ScoredChunk{
		// stale ids that no longer resolve
		scored(1, 0.9, store.ChunkMetadata{RelatedImages: []int64{99}, RelatedTables: []int64{98}}),
		// no cross-references at all
		scored(2, 0.8, store.ChunkMetadata{}),
		// resolved ids win over the page fallback
		scored(3, 0.7, store.ChunkMetadata{RelatedImages: []int64{14}}),
	}}
	searcher := NewContextSearcher(&fakeEmbedder{dim: 2}, index, media)

	items, err := searcher.Search(context.Background(), "query", nil, 5)
	require.NoError(t, err)
	require.Len(t, items, 3)

	for _, item := range items[:2] {
		assert.Equal(t, []int64{10, 11, 12}, imageIDs(Media{Images: item.RelatedImages}))
		assert.Equal(t, []int64{20, 21}, tableIDs(Media{Tables: item.RelatedTables}))
	}
	assert.Equal(t, []int64{14}, imageIDs(Media{Images: items[2].RelatedImages}))
	assert.Equal(t, []int64{20, 21}, tableIDs(Media{Tables: items[2].RelatedTables}))
}

func TestSearchPageFallbackFailureOnlyEmptiesItsKind(t *testing.T) {
	index := &fakeIndex{results: []store.ScoredChunk{
		scored(1, 0.9, store.ChunkMetadata{RelatedImages: []int64{1}}),
	}}
	media := &fakeMediaStore{images: images(1, 1), pageErr: errBoom}
	searcher := NewContextSearcher(&fakeEmbedder{dim: 2}, index, media)

	items, err := searcher.Search(context.Background(), "query", nil, 5)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, []int64{1}, imageIDs(Media{Images: items[0].RelatedImages}))
	assert.Empty(t, items[0].RelatedTables)
}
