package core

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gwi.com/docqa/internal/ingest"
	"gwi.com/docqa/internal/store"
)

type recordingStarter struct {
	mu      sync.Mutex
	started []int64
}

func (r *recordingStarter) Start(documentID int64, _ *ingest.ExtractedDocument) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, documentID)
}

func newDocumentFixture(t *testing.T, maxSize int64) (*store.SQLiteStore, *recordingStarter, *DocumentService, string) {
	t.Helper()
	db, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	dir := t.TempDir()
	starter := &recordingStarter{}
	return db, starter, NewDocumentService(db, db, starter, dir, filepath.Join(dir, "extractions"), maxSize), dir
}

func TestRegisterDocument(t *testing.T) {
	ctx := context.Background()
	_, _, svc, dir := newDocumentFixture(t, 1024)

	doc, err := svc.Register(ctx, "paper.PDF", bytes.NewReader([]byte("%PDF-1.4 test")))
	require.NoError(t, err)
	assert.Equal(t, store.StatusPending, doc.ProcessingStatus)
	assert.Equal(t, "paper.PDF", doc.Filename)
	assert.Equal(t, filepath.Join(dir, "documents"), filepath.Dir(doc.FilePath))

	content, err := os.ReadFile(doc.FilePath)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4 test", string(content))

	docs, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestRegisterRejectsInvalidUploads(t *testing.T) {
	ctx := context.Background()
	_, _, svc, dir := newDocumentFixture(t, 4)

	_, err := svc.Register(ctx, "notes.txt", bytes.NewReader([]byte("x")))
	assert.ErrorIs(t, err, ErrUnsupportedFile)

	_, err = svc.Register(ctx, "big.pdf", bytes.NewReader([]byte("0123456789")))
	assert.ErrorIs(t, err, ErrFileTooLarge)

	entries, err := os.ReadDir(filepath.Join(dir, "documents"))
	require.NoError(t, err)
	assert.Empty(t, entries, "rejected uploads must not be kept")
}

func TestSubmitExtraction(t *testing.T) {
	ctx := context.Background()
	db, starter, svc, _ := newDocumentFixture(t, 1024)

	_, err := svc.SubmitExtraction(ctx, 99, &ingest.ExtractedDocument{})
	assert.ErrorIs(t, err, ErrDocumentNotFound)

	doc, err := svc.Register(ctx, "a.pdf", bytes.NewReader([]byte("pdf")))
	require.NoError(t, err)

	updated, err := svc.SubmitExtraction(ctx, doc.ID, &ingest.ExtractedDocument{Markdown: "text"})
	require.NoError(t, err)
	assert.Equal(t, store.StatusProcessing, updated.ProcessingStatus)
	assert.Equal(t, []int64{doc.ID}, starter.started)

	stored, err := db.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusProcessing, stored.ProcessingStatus)

	_, err = svc.SubmitExtraction(ctx, doc.ID, &ingest.ExtractedDocument{})
	assert.ErrorIs(t, err, ErrDocumentBusy)
	assert.ErrorIs(t, svc.Delete(ctx, doc.ID), ErrDocumentBusy)
}

func TestDeleteDocumentRemovesEverything(t *testing.T) {
	ctx := context.Background()
	db, _, svc, dir := newDocumentFixture(t, 1024)

	doc, err := svc.Register(ctx, "a.pdf", bytes.NewReader([]byte("pdf")))
	require.NoError(t, err)

	imgPath := filepath.Join(dir, "images", "1_img.png")
	require.NoError(t, os.MkdirAll(filepath.Dir(imgPath), 0o755))
	require.NoError(t, os.WriteFile(imgPath, []byte("png"), 0o644))
	require.NoError(t, db.CreateImage(ctx, &store.Image{DocumentID: doc.ID, FilePath: imgPath, PageNumber: 1}))
	require.NoError(t, db.InsertChunk(ctx, &store.Chunk{DocumentID: doc.ID, Content: "c", Embedding: []float32{1}, ChunkIndex: 0}))
	require.NoError(t, db.CompleteDocument(ctx, doc.ID, 1, 1, 1, 0))

	require.NoError(t, svc.Delete(ctx, doc.ID))

	_, err = svc.Get(ctx, doc.ID)
	assert.ErrorIs(t, err, ErrDocumentNotFound)
	n, err := db.CountDocumentChunks(ctx, doc.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoFileExists(t, imgPath)
	assert.NoFileExists(t, doc.FilePath)

	assert.ErrorIs(t, svc.Delete(ctx, doc.ID), ErrDocumentNotFound)
}

func TestSubmitExtractionConfinesMediaPaths(t *testing.T) {
	ctx := context.Background()
	db, starter, svc, dir := newDocumentFixture(t, 1024)

	extractionDir := filepath.Join(dir, "extractions")
	require.NoError(t, os.MkdirAll(extractionDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(extractionDir, "fig.png"), []byte("png"), 0o644))
	secret := filepath.Join(t.TempDir(), "server.env")
	require.NoError(t, os.WriteFile(secret, []byte("OPENAI_API_KEY=sk-secret"), 0o600))

	doc, err := svc.Register(ctx, "a.pdf", bytes.NewReader([]byte("pdf")))
	require.NoError(t, err)

	for _, p := range []string{secret, "../" + filepath.Base(secret)} {
		_, err := svc.SubmitExtraction(ctx, doc.ID, &ingest.ExtractedDocument{
			Images: []ingest.ExtractedImage{{Page: 1, FilePath: p}},
		})
		assert.ErrorIs(t, err, ErrInvalidExtraction)
		assert.ErrorIs(t, err, ingest.ErrInvalidMediaPath)
	}
	assert.Empty(t, starter.started)
	stored, err := db.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusPending, stored.ProcessingStatus)

	_, err = svc.SubmitExtraction(ctx, doc.ID, &ingest.ExtractedDocument{
		Images: []ingest.ExtractedImage{{Page: 1, FilePath: "fig.png"}},
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{doc.ID}, starter.started)
}

func TestSubmitExtractionClaimsDocumentOnce(t *testing.T) {
	ctx := context.Background()
	_, starter, svc, _ := newDocumentFixture(t, 1024)

	doc, err := svc.Register(ctx, "a.pdf", bytes.NewReader([]byte("pdf")))
	require.NoError(t, err)

	const submitters = 8
	errs := make(chan error, submitters)
	var wg sync.WaitGroup
	for range submitters {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.SubmitExtraction(ctx, doc.ID, &ingest.ExtractedDocument{Markdown: "text"})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var ok, busy int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrDocumentBusy):
			busy++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, submitters-1, busy)
	assert.Equal(t, []int64{doc.ID}, starter.started)
}

func TestDeleteKeepsFilesOutsideUploadDir(t *testing.T) {
	ctx := context.Background()
	db, _, svc, _ := newDocumentFixture(t, 1024)

	doc, err := svc.Register(ctx, "a.pdf", bytes.NewReader([]byte("pdf")))
	require.NoError(t, err)
	foreign := filepath.Join(t.TempDir(), "keep.png")
	require.NoError(t, os.WriteFile(foreign, []byte("png"), 0o644))
	require.NoError(t, db.CreateImage(ctx, &store.Image{DocumentID: doc.ID, FilePath: foreign, PageNumber: 1}))

	require.NoError(t, svc.Delete(ctx, doc.ID))
	assert.FileExists(t, foreign)
	assert.NoFileExists(t, doc.FilePath)
}
