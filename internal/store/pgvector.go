package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog/log"
)

// PgVectorIndex keeps chunks in Postgres and delegates nearest-neighbour
// ranking to the pgvector cosine distance operator.
type PgVectorIndex struct {
	pool      *pgxpool.Pool
	dimension int
}

func NewPgVectorIndex(ctx context.Context, dsn string, dimension int) (*PgVectorIndex, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	idx := &PgVectorIndex{pool: pool, dimension: dimension}
	if err := idx.initSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize pgvector schema: %w", err)
	}
	return idx, nil
}

func (p *PgVectorIndex) Close() {
	p.pool.Close()
}

func (p *PgVectorIndex) initSchema(ctx context.Context) error {
	statements := []string{
		"CREATE EXTENSION IF NOT EXISTS vector",
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS document_chunks (
            id BIGSERIAL PRIMARY KEY,
            document_id BIGINT NOT NULL,
            content TEXT NOT NULL,
            embedding vector(%d),
            page_number INT NOT NULL DEFAULT 1,
            chunk_index INT NOT NULL,
            metadata JSONB NOT NULL DEFAULT '{}',
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            UNIQUE (document_id, chunk_index)
        )`, p.dimension),
		"CREATE INDEX IF NOT EXISTS idx_document_chunks_document ON document_chunks (document_id)",
		"CREATE INDEX IF NOT EXISTS idx_document_chunks_embedding ON document_chunks USING hnsw (embedding vector_cosine_ops)",
	}
	for _, stmt := range statements {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (p *PgVectorIndex) InsertChunk(ctx context.Context, chunk *Chunk) error {
	if len(chunk.Embedding) != p.dimension {
		return fmt.Errorf("embedding has %d dimensions, index expects %d", len(chunk.Embedding), p.dimension)
	}
	metadata, err := json.Marshal(chunk.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal chunk metadata: %w", err)
	}

	err = p.pool.QueryRow(ctx, `
        INSERT INTO document_chunks (document_id, content, embedding, page_number, chunk_index, metadata)
        VALUES ($1, $2, $3::vector, $4, $5, $6)
        RETURNING id, created_at
    `, chunk.DocumentID, chunk.Content, pgvector.NewVector(chunk.Embedding).String(),
		chunk.PageNumber, chunk.ChunkIndex, metadata).Scan(&chunk.ID, &chunk.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert chunk: %w", err)
	}
	return nil
}

func (p *PgVectorIndex) GetChunk(ctx context.Context, id int64) (*Chunk, error) {
	var chunk Chunk
	var embedding pgvector.Vector
	var metadata []byte
	err := p.pool.QueryRow(ctx, `
        SELECT id, document_id, content, embedding::text, page_number, chunk_index, metadata, created_at
        FROM document_chunks WHERE id = $1
    `, id).Scan(&chunk.ID, &chunk.DocumentID, &chunk.Content, &embedding,
		&chunk.PageNumber, &chunk.ChunkIndex, &metadata, &chunk.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("failed to get chunk: %w", err)
	}
	chunk.Embedding = embedding.Slice()
	if err := json.Unmarshal(metadata, &chunk.Metadata); err != nil {
		log.Warn().Err(err).Int64("chunk_id", chunk.ID).Msg("Failed to unmarshal chunk metadata")
	}
	return &chunk, nil
}

// SearchChunks ranks by cosine distance; the returned score is 1 - distance.
func (p *PgVectorIndex) SearchChunks(ctx context.Context, vector []float32, documentID *int64, k int) ([]ScoredChunk, error) {
	if k <= 0 {
		return []ScoredChunk{}, nil
	}

	rows, err := p.pool.Query(ctx, `
        SELECT id, document_id, content, page_number, chunk_index, metadata, created_at,
               1 - (embedding <=> $1::vector) AS similarity
        FROM document_chunks
        WHERE embedding IS NOT NULL
          AND ($2::bigint IS NULL OR document_id = $2)
        ORDER BY embedding <=> $1::vector
        LIMIT $3
    `, pgvector.NewVector(vector).String(), documentID, k)
	if err != nil {
		return nil, fmt.Errorf("failed to search chunks: %w", err)
	}
	defer rows.Close()

	results := []ScoredChunk{}
	for rows.Next() {
		var sc ScoredChunk
		var metadata []byte
		if err := rows.Scan(&sc.Chunk.ID, &sc.Chunk.DocumentID, &sc.Chunk.Content, &sc.Chunk.PageNumber,
			&sc.Chunk.ChunkIndex, &metadata, &sc.Chunk.CreatedAt, &sc.Score); err != nil {
			return nil, fmt.Errorf("failed to scan chunk row: %w", err)
		}
		if err := json.Unmarshal(metadata, &sc.Chunk.Metadata); err != nil {
			log.Warn().Err(err).Int64("chunk_id", sc.Chunk.ID).Msg("Failed to unmarshal chunk metadata")
		}
		results = append(results, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate chunks: %w", err)
	}
	return results, nil
}

func (p *PgVectorIndex) DeleteDocumentChunks(ctx context.Context, documentID int64) (int64, error) {
	tag, err := p.pool.Exec(ctx, "DELETE FROM document_chunks WHERE document_id = $1", documentID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete chunks: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (p *PgVectorIndex) CountDocumentChunks(ctx context.Context, documentID int64) (int, error) {
	var n int
	if err := p.pool.QueryRow(ctx, "SELECT COUNT(*) FROM document_chunks WHERE document_id = $1", documentID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return n, nil
}
