package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"gwi.com/docqa/internal/ingest"
	"gwi.com/docqa/internal/store"
	"gwi.com/docqa/internal/utils"
)

// allMedia lists every row; SQLite treats a negative LIMIT as unbounded.
const allMedia = -1

type DocumentStore interface {
	CreateDocument(ctx context.Context, doc *store.Document) error
	GetDocument(ctx context.Context, id int64) (*store.Document, error)
	ListDocuments(ctx context.Context) ([]store.Document, error)
	ClaimDocumentForProcessing(ctx context.Context, id int64) (bool, error)
	DeleteDocument(ctx context.Context, id int64) error
	ListImagesByDocument(ctx context.Context, documentID int64, limit int) ([]store.Image, error)
	ListTablesByDocument(ctx context.Context, documentID int64, limit int) ([]store.Table, error)
}

// IngestionStarter runs an ingestion in the background.
type IngestionStarter interface {
	Start(documentID int64, doc *ingest.ExtractedDocument)
}

type DocumentService struct {
	dbStore     DocumentStore
	index       store.ChunkIndex
	ingestion   IngestionStarter
	uploadDir   string
	// extractionDir is the only place submitted extractions may read media from.
	extractionDir string
	maxFileSize   int64
}

func NewDocumentService(db DocumentStore, index store.ChunkIndex, ingestion IngestionStarter, uploadDir, extractionDir string, maxFileSize int64) *DocumentService {
	return &DocumentService{
		dbStore:       db,
		index:         index,
		ingestion:     ingestion,
		uploadDir:     uploadDir,
		extractionDir: extractionDir,
		maxFileSize:   maxFileSize,
	}
}

// Register stores an uploaded PDF and creates its pending document record.
func (s *DocumentService) Register(ctx context.Context, filename string, r io.Reader) (*store.Document, error) {
	if !strings.EqualFold(filepath.Ext(filename), ".pdf") {
		return nil, ErrUnsupportedFile
	}

	dir := filepath.Join(s.uploadDir, "documents")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}
	path := filepath.Join(dir, uuid.NewString()+".pdf")

	written, err := writeLimited(path, r, s.maxFileSize)
	if err != nil {
		os.Remove(path)
		return nil, err
	}

	doc := &store.Document{Filename: filepath.Base(filename), FilePath: path, ProcessingStatus: store.StatusPending}
	if err := s.dbStore.CreateDocument(ctx, doc); err != nil {
		os.Remove(path)
		return nil, err
	}
	log.Info().Int64("document_id", doc.ID).Str("filename", doc.Filename).Int64("bytes", written).Msg("Document uploaded")
	return doc, nil
}

func writeLimited(path string, r io.Reader, limit int64) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("failed to create upload file: %w", err)
	}
	written, err := io.Copy(f, io.LimitReader(r, limit+1))
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return written, fmt.Errorf("failed to save upload: %w", err)
	}
	if written > limit {
		return written, ErrFileTooLarge
	}
	return written, nil
}

func (s *DocumentService) List(ctx context.Context) ([]store.Document, error) {
	return s.dbStore.ListDocuments(ctx)
}

func (s *DocumentService) Get(ctx context.Context, id int64) (*store.Document, error) {
	doc, err := s.dbStore.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, ErrDocumentNotFound
	}
	return doc, nil
}

// Delete removes a document with its chunks, media records and stored files.
func (s *DocumentService) Delete(ctx context.Context, id int64) error {
	doc, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if doc.ProcessingStatus == store.StatusProcessing {
		return ErrDocumentBusy
	}

	files := []string{doc.FilePath}
	images, err := s.dbStore.ListImagesByDocument(ctx, id, allMedia)
	if err != nil {
		return err
	}
	for _, img := range images {
		files = append(files, img.FilePath)
	}
	tables, err := s.dbStore.ListTablesByDocument(ctx, id, allMedia)
	if err != nil {
		return err
	}
	for _, tbl := range tables {
		files = append(files, tbl.ImagePath)
	}

	if _, err := s.index.DeleteDocumentChunks(ctx, id); err != nil {
		return err
	}
	if err := s.dbStore.DeleteDocument(ctx, id); err != nil {
		return err
	}

	for _, f := range files {
		if f == "" {
			continue
		}
		if !utils.WithinDir(s.uploadDir, f) {
			log.Warn().Str("path", f).Msg("Keeping document file outside the upload directory")
			continue
		}
		if err := os.Remove(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warn().Err(err).Str("path", f).Msg("Failed to remove document file")
		}
	}
	log.Info().Int64("document_id", id).Msg("Document deleted")
	return nil
}

// SubmitExtraction hands a converted document to background ingestion.
// Media paths are confined to the extraction directory, and only one
// ingestion per document may run at a time.
func (s *DocumentService) SubmitExtraction(ctx context.Context, id int64, extracted *ingest.ExtractedDocument) (*store.Document, error) {
	doc, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := extracted.ConfineMediaPaths(s.extractionDir); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidExtraction, err)
	}

	claimed, err := s.dbStore.ClaimDocumentForProcessing(ctx, id)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, ErrDocumentBusy
	}
	doc.ProcessingStatus = store.StatusProcessing
	doc.ErrorMessage = nil

	s.ingestion.Start(id, extracted)
	return doc, nil
}
