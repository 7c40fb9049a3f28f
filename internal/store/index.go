package store

import "context"

// ChunkIndex persists chunks with their embeddings and answers
// nearest-neighbour queries over them.
type ChunkIndex interface {
	InsertChunk(ctx context.Context, chunk *Chunk) error
	GetChunk(ctx context.Context, id int64) (*Chunk, error)
	// SearchChunks returns at most k chunks ordered by descending similarity.
	// A nil documentID searches every document.
	SearchChunks(ctx context.Context, vector []float32, documentID *int64, k int) ([]ScoredChunk, error)
	DeleteDocumentChunks(ctx context.Context, documentID int64) (int64, error)
	CountDocumentChunks(ctx context.Context, documentID int64) (int, error)
}

var (
	_ ChunkIndex = (*SQLiteStore)(nil)
	_ ChunkIndex = (*PgVectorIndex)(nil)
)
