package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"github.com/rs/zerolog/log"

	"gwi.com/docqa/internal/utils"
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection serialises writers and keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)
	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err = store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS documents (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        filename TEXT NOT NULL,
        file_path TEXT NOT NULL,
        processing_status TEXT NOT NULL DEFAULT 'pending',
        error_message TEXT,
        total_pages INTEGER NOT NULL DEFAULT 0,
        text_chunks_count INTEGER NOT NULL DEFAULT 0,
        images_count INTEGER NOT NULL DEFAULT 0,
        tables_count INTEGER NOT NULL DEFAULT 0,
        created_at DATETIME NOT NULL,
        updated_at DATETIME NOT NULL
    );

    CREATE TABLE IF NOT EXISTS document_chunks (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        document_id INTEGER NOT NULL,
        content TEXT NOT NULL,
        embedding_json TEXT, -- JSON array of float32
        page_number INTEGER NOT NULL DEFAULT 1,
        chunk_index INTEGER NOT NULL,
        metadata TEXT NOT NULL DEFAULT '{}',
        created_at DATETIME NOT NULL,
        UNIQUE (document_id, chunk_index)
    );
    CREATE INDEX IF NOT EXISTS idx_chunks_document ON document_chunks (document_id);

    CREATE TABLE IF NOT EXISTS document_images (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        document_id INTEGER NOT NULL,
        file_path TEXT NOT NULL,
        page_number INTEGER NOT NULL,
        caption TEXT NOT NULL DEFAULT '',
        width INTEGER NOT NULL DEFAULT 0,
        height INTEGER NOT NULL DEFAULT 0,
        created_at DATETIME NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_images_document ON document_images (document_id);

    CREATE TABLE IF NOT EXISTS document_tables (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        document_id INTEGER NOT NULL,
        image_path TEXT NOT NULL,
        data TEXT,
        page_number INTEGER NOT NULL,
        caption TEXT NOT NULL DEFAULT '',
        row_count INTEGER NOT NULL DEFAULT 0,
        column_count INTEGER NOT NULL DEFAULT 0,
        created_at DATETIME NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_tables_document ON document_tables (document_id);

    CREATE TABLE IF NOT EXISTS conversations (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        title TEXT NOT NULL DEFAULT '',
        document_id INTEGER,
        created_at DATETIME NOT NULL,
        updated_at DATETIME NOT NULL
    );

    CREATE TABLE IF NOT EXISTS messages (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        conversation_id INTEGER NOT NULL,
        role TEXT NOT NULL CHECK (role IN ('user', 'assistant')),
        content TEXT NOT NULL,
        sources TEXT,
        created_at DATETIME NOT NULL,
        FOREIGN KEY (conversation_id) REFERENCES conversations (id)
    );
    CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages (conversation_id, created_at);
    `
	_, err := s.db.Exec(schema)
	return err
}

// Document methods
func (s *SQLiteStore) CreateDocument(ctx context.Context, doc *Document) error {
	now := time.Now().UTC()
	if doc.ProcessingStatus == "" {
		doc.ProcessingStatus = StatusPending
	}
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO documents (filename, file_path, processing_status, created_at, updated_at) VALUES (?, ?, ?, ?, ?)",
		doc.Filename, doc.FilePath, doc.ProcessingStatus, now, now)
	if err != nil {
		return fmt.Errorf("failed to insert document: %w", err)
	}
	doc.ID, _ = res.LastInsertId()
	doc.CreatedAt = now
	doc.UpdatedAt = now
	return nil
}

const documentColumns = "id, filename, file_path, processing_status, error_message, total_pages, text_chunks_count, images_count, tables_count, created_at, updated_at"

func scanDocument(row interface{ Scan(...any) error }) (*Document, error) {
	var doc Document
	var errMsg sql.NullString
	if err := row.Scan(&doc.ID, &doc.Filename, &doc.FilePath, &doc.ProcessingStatus, &errMsg,
		&doc.TotalPages, &doc.TextChunksCount, &doc.ImagesCount, &doc.TablesCount,
		&doc.CreatedAt, &doc.UpdatedAt); err != nil {
		return nil, err
	}
	if errMsg.Valid {
		doc.ErrorMessage = &errMsg.String
	}
	return &doc, nil
}

func (s *SQLiteStore) GetDocument(ctx context.Context, id int64) (*Document, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+documentColumns+" FROM documents WHERE id = ?", id)
	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return doc, nil
}

func (s *SQLiteStore) ListDocuments(ctx context.Context) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+documentColumns+" FROM documents ORDER BY created_at DESC, id DESC")
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	docs := []Document{}
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document row: %w", err)
		}
		docs = append(docs, *doc)
	}
	return docs, rows.Err()
}

func (s *SQLiteStore) UpdateDocumentStatus(ctx context.Context, id int64, status string, errorMessage *string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE documents SET processing_status = ?, error_message = ?, updated_at = ? WHERE id = ?",
		status, errorMessage, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update document status: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("document %d not found, status not updated", id)
	}
	return nil
}

// ClaimDocumentForProcessing moves a document into processing unless it is
// already there. It reports false when the document is missing or busy.
func (s *SQLiteStore) ClaimDocumentForProcessing(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET processing_status = ?, error_message = NULL, updated_at = ?
		 WHERE id = ? AND processing_status <> ?`,
		StatusProcessing, time.Now().UTC(), id, StatusProcessing)
	if err != nil {
		return false, fmt.Errorf("failed to claim document: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to claim document: %w", err)
	}
	return affected == 1, nil
}

// CompleteDocument marks a document ready for querying and records its extraction counts.
func (s *SQLiteStore) CompleteDocument(ctx context.Context, id int64, totalPages, chunks, images, tables int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE documents SET processing_status = ?, error_message = NULL, total_pages = ?,
		 text_chunks_count = ?, images_count = ?, tables_count = ?, updated_at = ? WHERE id = ?`,
		StatusCompleted, totalPages, chunks, images, tables, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to complete document: %w", err)
	}
	return nil
}

// DeleteDocument removes the document row and its media. Chunks live in the
// ChunkIndex and are removed through it.
func (s *SQLiteStore) DeleteDocument(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, q := range []string{
		"DELETE FROM document_images WHERE document_id = ?",
		"DELETE FROM document_tables WHERE document_id = ?",
		"DELETE FROM documents WHERE id = ?",
	} {
		if _, err := tx.ExecContext(ctx, q, id); err != nil {
			return fmt.Errorf("failed to delete document %d: %w", id, err)
		}
	}
	return tx.Commit()
}

// DeleteDocumentMedia removes every image and table row of a document.
func (s *SQLiteStore) DeleteDocumentMedia(ctx context.Context, documentID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM document_images WHERE document_id = ?", documentID); err != nil {
		return fmt.Errorf("failed to delete images: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM document_tables WHERE document_id = ?", documentID); err != nil {
		return fmt.Errorf("failed to delete tables: %w", err)
	}
	return tx.Commit()
}

// Image and table methods
func (s *SQLiteStore) CreateImage(ctx context.Context, img *Image) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO document_images (document_id, file_path, page_number, caption, width, height, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
		img.DocumentID, img.FilePath, img.PageNumber, img.Caption, img.Width, img.Height, now)
	if err != nil {
		return fmt.Errorf("failed to insert image: %w", err)
	}
	img.ID, _ = res.LastInsertId()
	img.CreatedAt = now
	return nil
}

func (s *SQLiteStore) CreateTable(ctx context.Context, tbl *Table) error {
	now := time.Now().UTC()
	var data any
	if len(tbl.Data) > 0 {
		data = string(tbl.Data)
	}
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO document_tables (document_id, image_path, data, page_number, caption, row_count, column_count, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		tbl.DocumentID, tbl.ImagePath, data, tbl.PageNumber, tbl.Caption, tbl.Rows, tbl.Columns, now)
	if err != nil {
		return fmt.Errorf("failed to insert table: %w", err)
	}
	tbl.ID, _ = res.LastInsertId()
	tbl.CreatedAt = now
	return nil
}

const (
	imageColumns = "id, document_id, file_path, page_number, caption, width, height, created_at"
	tableColumns = "id, document_id, image_path, data, page_number, caption, row_count, column_count, created_at"
)

func (s *SQLiteStore) queryImages(ctx context.Context, query string, args ...any) ([]Image, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query images: %w", err)
	}
	defer rows.Close()

	var images []Image
	for rows.Next() {
		var img Image
		if err := rows.Scan(&img.ID, &img.DocumentID, &img.FilePath, &img.PageNumber, &img.Caption, &img.Width, &img.Height, &img.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan image row: %w", err)
		}
		images = append(images, img)
	}
	return images, rows.Err()
}

func (s *SQLiteStore) queryTables(ctx context.Context, query string, args ...any) ([]Table, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tables: %w", err)
	}
	defer rows.Close()

	var tables []Table
	for rows.Next() {
		var tbl Table
		var data sql.NullString
		if err := rows.Scan(&tbl.ID, &tbl.DocumentID, &tbl.ImagePath, &data, &tbl.PageNumber, &tbl.Caption, &tbl.Rows, &tbl.Columns, &tbl.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan table row: %w", err)
		}
		if data.Valid && data.String != "" {
			tbl.Data = json.RawMessage(data.String)
		}
		tables = append(tables, tbl)
	}
	return tables, rows.Err()
}

// GetImagesByIDs returns the images in the order of ids; unknown ids are skipped.
func (s *SQLiteStore) GetImagesByIDs(ctx context.Context, ids []int64) ([]Image, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query, args := inClause("SELECT "+imageColumns+" FROM document_images WHERE id IN ", ids)
	images, err := s.queryImages(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]Image, len(images))
	for _, img := range images {
		byID[img.ID] = img
	}
	ordered := make([]Image, 0, len(images))
	for _, id := range ids {
		if img, ok := byID[id]; ok {
			ordered = append(ordered, img)
			delete(byID, id)
		}
	}
	return ordered, nil
}

// GetTablesByIDs returns the tables in the order of ids; unknown ids are skipped.
func (s *SQLiteStore) GetTablesByIDs(ctx context.Context, ids []int64) ([]Table, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query, args := inClause("SELECT "+tableColumns+" FROM document_tables WHERE id IN ", ids)
	tables, err := s.queryTables(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]Table, len(tables))
	for _, tbl := range tables {
		byID[tbl.ID] = tbl
	}
	ordered := make([]Table, 0, len(tables))
	for _, id := range ids {
		if tbl, ok := byID[id]; ok {
			ordered = append(ordered, tbl)
			delete(byID, id)
		}
	}
	return ordered, nil
}

func (s *SQLiteStore) ListImagesByDocument(ctx context.Context, documentID int64, limit int) ([]Image, error) {
	return s.queryImages(ctx, "SELECT "+imageColumns+" FROM document_images WHERE document_id = ? ORDER BY id LIMIT ?", documentID, limit)
}

func (s *SQLiteStore) ListTablesByDocument(ctx context.Context, documentID int64, limit int) ([]Table, error) {
	return s.queryTables(ctx, "SELECT "+tableColumns+" FROM document_tables WHERE document_id = ? ORDER BY id LIMIT ?", documentID, limit)
}

func (s *SQLiteStore) ListImagesByPage(ctx context.Context, documentID int64, page, limit int) ([]Image, error) {
	return s.queryImages(ctx, "SELECT "+imageColumns+" FROM document_images WHERE document_id = ? AND page_number = ? ORDER BY id LIMIT ?", documentID, page, limit)
}

func (s *SQLiteStore) ListTablesByPage(ctx context.Context, documentID int64, page, limit int) ([]Table, error) {
	return s.queryTables(ctx, "SELECT "+tableColumns+" FROM document_tables WHERE document_id = ? AND page_number = ? ORDER BY id LIMIT ?", documentID, page, limit)
}

func inClause(prefix string, ids []int64) (string, []any) {
	args := make([]any, len(ids))
	placeholders := make([]byte, 0, len(ids)*2)
	for i, id := range ids {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
		args[i] = id
	}
	return prefix + "(" + string(placeholders) + ")", args
}

// Chunk methods (ChunkIndex)
func (s *SQLiteStore) InsertChunk(ctx context.Context, chunk *Chunk) error {
	embeddingBytes, err := json.Marshal(chunk.Embedding)
	if err != nil {
		return fmt.Errorf("failed to marshal embedding: %w", err)
	}
	metadataBytes, err := json.Marshal(chunk.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal chunk metadata: %w", err)
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO document_chunks (document_id, content, embedding_json, page_number, chunk_index, metadata, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
		chunk.DocumentID, chunk.Content, string(embeddingBytes), chunk.PageNumber, chunk.ChunkIndex, string(metadataBytes), now)
	if err != nil {
		return fmt.Errorf("failed to insert chunk: %w", err)
	}
	chunk.ID, _ = res.LastInsertId()
	chunk.CreatedAt = now
	return nil
}

const chunkColumns = "id, document_id, content, embedding_json, page_number, chunk_index, metadata, created_at"

func scanChunk(row interface{ Scan(...any) error }) (*Chunk, error) {
	var chunk Chunk
	var embeddingJSON sql.NullString
	var metadataJSON string
	if err := row.Scan(&chunk.ID, &chunk.DocumentID, &chunk.Content, &embeddingJSON,
		&chunk.PageNumber, &chunk.ChunkIndex, &metadataJSON, &chunk.CreatedAt); err != nil {
		return nil, err
	}
	if embeddingJSON.Valid && embeddingJSON.String != "" {
		if err := json.Unmarshal([]byte(embeddingJSON.String), &chunk.Embedding); err != nil {
			log.Warn().Err(err).Int64("chunk_id", chunk.ID).Msg("Failed to unmarshal chunk embedding; embedding will be empty")
			chunk.Embedding = nil
		}
	}
	if metadataJSON != "" {
		if err := json.Unmarshal([]byte(metadataJSON), &chunk.Metadata); err != nil {
			log.Warn().Err(err).Int64("chunk_id", chunk.ID).Msg("Failed to unmarshal chunk metadata")
		}
	}
	return &chunk, nil
}

func (s *SQLiteStore) GetChunk(ctx context.Context, id int64) (*Chunk, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+chunkColumns+" FROM document_chunks WHERE id = ?", id)
	chunk, err := scanChunk(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("failed to get chunk: %w", err)
	}
	return chunk, nil
}

// SearchChunks scores every candidate chunk by cosine similarity in process.
func (s *SQLiteStore) SearchChunks(ctx context.Context, vector []float32, documentID *int64, k int) ([]ScoredChunk, error) {
	if k <= 0 {
		return []ScoredChunk{}, nil
	}

	query := "SELECT " + chunkColumns + " FROM document_chunks"
	var args []any
	if documentID != nil {
		query += " WHERE document_id = ?"
		args = append(args, *documentID)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	var scored []ScoredChunk
	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chunk row: %w", err)
		}
		if len(chunk.Embedding) == 0 {
			log.Debug().Int64("chunk_id", chunk.ID).Msg("Skipping chunk with missing embedding")
			continue
		}
		similarity, err := utils.CosineSimilarity(vector, chunk.Embedding)
		if err != nil {
			log.Warn().Err(err).Int64("chunk_id", chunk.ID).Msg("Skipping chunk, similarity could not be computed")
			continue
		}
		chunk.Embedding = nil // not needed past scoring
		scored = append(scored, ScoredChunk{Chunk: *chunk, Score: similarity})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate chunks: %w", err)
	}

	// Sort by similarity in descending order; ties keep extraction order.
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

func (s *SQLiteStore) DeleteDocumentChunks(ctx context.Context, documentID int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM document_chunks WHERE document_id = ?", documentID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete chunks: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) CountDocumentChunks(ctx context.Context, documentID int64) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM document_chunks WHERE document_id = ?", documentID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return n, nil
}

// Conversation methods
func (s *SQLiteStore) CreateConversation(ctx context.Context, title string, documentID *int64) (*Conversation, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO conversations (title, document_id, created_at, updated_at) VALUES (?, ?, ?, ?)",
		title, documentID, now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to insert conversation: %w", err)
	}
	id, _ := res.LastInsertId()
	return &Conversation{ID: id, Title: title, DocumentID: documentID, CreatedAt: now, UpdatedAt: now}, nil
}

func (s *SQLiteStore) GetConversation(ctx context.Context, id int64) (*Conversation, error) {
	var conv Conversation
	var documentID sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		"SELECT id, title, document_id, created_at, updated_at FROM conversations WHERE id = ?", id).
		Scan(&conv.ID, &conv.Title, &documentID, &conv.CreatedAt, &conv.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	if documentID.Valid {
		conv.DocumentID = &documentID.Int64
	}
	return &conv, nil
}

// ListConversations returns a page of conversations, most recently updated
// first, and the total number of conversations.
func (s *SQLiteStore) ListConversations(ctx context.Context, skip, limit int) ([]ConversationSummary, int, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT c.id, c.title, c.document_id, c.created_at, c.updated_at, COUNT(m.id)
        FROM conversations c
        LEFT JOIN messages m ON m.conversation_id = c.id
        GROUP BY c.id
        ORDER BY c.updated_at DESC, c.id DESC
        LIMIT ? OFFSET ?
    `, limit, skip)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query conversations: %w", err)
	}

	conversations := []ConversationSummary{}
	for rows.Next() {
		var conv ConversationSummary
		var documentID sql.NullInt64
		if err := rows.Scan(&conv.ID, &conv.Title, &documentID, &conv.CreatedAt, &conv.UpdatedAt, &conv.MessageCount); err != nil {
			rows.Close()
			return nil, 0, fmt.Errorf("failed to scan conversation row: %w", err)
		}
		if documentID.Valid {
			id := documentID.Int64
			conv.DocumentID = &id
		}
		conversations = append(conversations, conv)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate conversations: %w", err)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM conversations").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count conversations: %w", err)
	}
	return conversations, total, nil
}

func (s *SQLiteStore) TouchConversation(ctx context.Context, id int64, updatedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, "UPDATE conversations SET updated_at = ? WHERE id = ?", updatedAt.UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update conversation timestamp: %w", err)
	}
	return nil
}

// DeleteConversation removes a conversation and its messages. It reports
// false when the conversation does not exist.
func (s *SQLiteStore) DeleteConversation(ctx context.Context, id int64) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE conversation_id = ?", id); err != nil {
		return false, fmt.Errorf("failed to delete messages: %w", err)
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM conversations WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("failed to delete conversation: %w", err)
	}
	affected, _ := res.RowsAffected()
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit conversation delete: %w", err)
	}
	return affected > 0, nil
}

// Message methods
func (s *SQLiteStore) CreateMessage(ctx context.Context, msg *Message) error {
	msg.CreatedAt = time.Now().UTC()

	var sources any
	if len(msg.Sources) > 0 {
		sources = string(msg.Sources)
	}
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO messages (conversation_id, role, content, sources, created_at) VALUES (?, ?, ?, ?, ?)",
		msg.ConversationID, msg.Role, msg.Content, sources, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	msg.ID, _ = res.LastInsertId()
	return nil
}

func (s *SQLiteStore) queryMessages(ctx context.Context, query string, args ...any) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	messages := []Message{}
	for rows.Next() {
		var msg Message
		var sources sql.NullString
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Role, &msg.Content, &sources, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		if sources.Valid && sources.String != "" {
			msg.Sources = json.RawMessage(sources.String)
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// GetMessagesByConversationID returns every message of a conversation, oldest first.
func (s *SQLiteStore) GetMessagesByConversationID(ctx context.Context, conversationID int64) ([]Message, error) {
	return s.queryMessages(ctx, `
        SELECT id, conversation_id, role, content, sources, created_at
        FROM messages
        WHERE conversation_id = ?
        ORDER BY created_at ASC, id ASC
    `, conversationID)
}

// GetLastNMessagesByConversationID returns up to n messages, newest first.
func (s *SQLiteStore) GetLastNMessagesByConversationID(ctx context.Context, conversationID int64, n int) ([]Message, error) {
	return s.queryMessages(ctx, `
        SELECT id, conversation_id, role, content, sources, created_at
        FROM messages
        WHERE conversation_id = ?
        ORDER BY created_at DESC, id DESC
        LIMIT ?
    `, conversationID, n)
}
