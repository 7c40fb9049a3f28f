package store

import (
	"encoding/json"
	"path/filepath"
	"time"
)

const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusError      = "error"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Document struct {
	ID               int64     `json:"id"`
	Filename         string    `json:"filename"`
	FilePath         string    `json:"-"`
	ProcessingStatus string    `json:"processing_status"`
	ErrorMessage     *string   `json:"error_message,omitempty"`
	TotalPages       int       `json:"total_pages"`
	TextChunksCount  int       `json:"text_chunks_count"`
	ImagesCount      int       `json:"images_count"`
	TablesCount      int       `json:"tables_count"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// ChunkMetadata holds the cross-references discovered at extraction time.
type ChunkMetadata struct {
	RelatedImages []int64 `json:"related_images,omitempty"`
	RelatedTables []int64 `json:"related_tables,omitempty"`
	CharCount     int     `json:"char_count"`
}

type Chunk struct {
	ID         int64         `json:"id"`
	DocumentID int64         `json:"document_id"`
	Content    string        `json:"content"`
	Embedding  []float32     `json:"-"`
	PageNumber int           `json:"page_number"` // estimate, not authoritative
	ChunkIndex int           `json:"chunk_index"`
	Metadata   ChunkMetadata `json:"metadata"`
	CreatedAt  time.Time     `json:"created_at"`
}

// ScoredChunk is a chunk returned by a nearest-neighbour query.
// Score is 1 - cosine distance; higher is closer.
type ScoredChunk struct {
	Chunk Chunk
	Score float64
}

type Image struct {
	ID         int64     `json:"id"`
	DocumentID int64     `json:"document_id"`
	PageNumber int       `json:"page"`
	Caption    string    `json:"caption"`
	FilePath   string    `json:"-"`
	Width      int       `json:"width"`
	Height     int       `json:"height"`
	CreatedAt  time.Time `json:"created_at"`
}

func (i Image) URL() string {
	return "/uploads/images/" + filepath.Base(i.FilePath)
}

type Table struct {
	ID         int64           `json:"id"`
	DocumentID int64           `json:"document_id"`
	PageNumber int             `json:"page"`
	Caption    string          `json:"caption"`
	ImagePath  string          `json:"-"`
	Data       json.RawMessage `json:"data,omitempty"`
	Rows       int             `json:"rows"`
	Columns    int             `json:"columns"`
	CreatedAt  time.Time       `json:"created_at"`
}

func (t Table) URL() string {
	return "/uploads/tables/" + filepath.Base(t.ImagePath)
}

type Conversation struct {
	ID         int64     `json:"id"`
	Title      string    `json:"title"`
	DocumentID *int64    `json:"document_id"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ConversationSummary is a list entry for the conversations view.
type ConversationSummary struct {
	Conversation
	MessageCount int `json:"message_count"`
}

type Message struct {
	ID             int64           `json:"id"`
	ConversationID int64           `json:"-"`
	Role           string          `json:"role"` // "user" or "assistant"
	Content        string          `json:"content"`
	Sources        json.RawMessage `json:"sources,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}
