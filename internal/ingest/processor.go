package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"gwi.com/docqa/internal/llm"
	"gwi.com/docqa/internal/metrics"
	"gwi.com/docqa/internal/store"
)

const (
	chunksPerPageEstimate = 3
	maxRelatedImages      = 3
	maxRelatedTables      = 2
)

type DocumentStore interface {
	UpdateDocumentStatus(ctx context.Context, id int64, status string, errorMessage *string) error
	CompleteDocument(ctx context.Context, id int64, totalPages, chunks, images, tables int) error
	CreateImage(ctx context.Context, img *store.Image) error
	CreateTable(ctx context.Context, tbl *store.Table) error
	DeleteDocumentMedia(ctx context.Context, documentID int64) error
}

type Processor struct {
	store    DocumentStore
	index    store.ChunkIndex
	embedder llm.Embedder
	splitter *Splitter
	mediaDir string
	interval time.Duration
}

type ProcessorConfig struct {
	ChunkSize    int
	ChunkOverlap int
	// MediaDir receives images/ and tables/ subdirectories served under /uploads.
	MediaDir string
	// Interval paces embedding calls; zero disables pacing.
	Interval time.Duration
}

func NewProcessor(docs DocumentStore, index store.ChunkIndex, embedder llm.Embedder, cfg ProcessorConfig) *Processor {
	return &Processor{
		store:    docs,
		index:    index,
		embedder: embedder,
		splitter: NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap),
		mediaDir: cfg.MediaDir,
		interval: cfg.Interval,
	}
}

// Stats summarises one ingestion run.
type Stats struct {
	Images int
	Tables int
	Chunks int
	Failed int
}

// Process stores the media and embedded chunks of an extracted document and
// marks it completed. Earlier chunks and media of the document are replaced.
// On a fatal error the document is marked with status error.
func (p *Processor) Process(ctx context.Context, documentID int64, doc *ExtractedDocument) (Stats, error) {
	var stats Stats
	if err := p.store.UpdateDocumentStatus(ctx, documentID, store.StatusProcessing, nil); err != nil {
		return stats, p.fail(ctx, documentID, err)
	}

	if _, err := p.index.DeleteDocumentChunks(ctx, documentID); err != nil {
		return stats, p.fail(ctx, documentID, fmt.Errorf("failed to clear existing chunks: %w", err))
	}
	if err := p.store.DeleteDocumentMedia(ctx, documentID); err != nil {
		return stats, p.fail(ctx, documentID, fmt.Errorf("failed to clear existing media: %w", err))
	}

	pageImages := p.saveImages(ctx, documentID, doc.Images)
	pageTables := p.saveTables(ctx, documentID, doc.Tables)
	for _, ids := range pageImages {
		stats.Images += len(ids)
	}
	for _, ids := range pageTables {
		stats.Tables += len(ids)
	}

	chunks := p.buildChunks(documentID, doc.Markdown, pageImages, pageTables)
	log.Info().Int64("document_id", documentID).Int("chunks", len(chunks)).Msg("Generated chunks, now embedding")

	var ticker *time.Ticker
	if p.interval > 0 {
		ticker = time.NewTicker(p.interval) // keep under provider rate limits
		defer ticker.Stop()
	}

	for i := range chunks {
		if ticker != nil {
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return stats, p.fail(ctx, documentID, fmt.Errorf("ingestion interrupted: %w", ctx.Err()))
			}
		} else if err := ctx.Err(); err != nil {
			return stats, p.fail(ctx, documentID, fmt.Errorf("ingestion interrupted: %w", err))
		}

		chunk := &chunks[i]
		embedding, err := p.embedder.Embed(ctx, chunk.Content)
		if err != nil {
			log.Warn().Err(err).Int("chunk_index", chunk.ChunkIndex).Msg("Failed to embed chunk, skipping")
			metrics.RecordIngestedChunk("failed")
			stats.Failed++
			continue
		}
		chunk.Embedding = embedding

		if err := p.index.InsertChunk(ctx, chunk); err != nil {
			log.Warn().Err(err).Int("chunk_index", chunk.ChunkIndex).Msg("Failed to store chunk, skipping")
			metrics.RecordIngestedChunk("failed")
			stats.Failed++
			continue
		}
		metrics.RecordIngestedChunk("stored")
		stats.Chunks++
	}

	if err := p.store.CompleteDocument(ctx, documentID, doc.TotalPages, stats.Chunks, stats.Images, stats.Tables); err != nil {
		return stats, p.fail(ctx, documentID, err)
	}
	metrics.RecordIngestion(store.StatusCompleted)
	log.Info().
		Int64("document_id", documentID).
		Int("chunks", stats.Chunks).
		Int("failed_chunks", stats.Failed).
		Int("images", stats.Images).
		Int("tables", stats.Tables).
		Msg("Document ingestion complete")
	return stats, nil
}

func (p *Processor) fail(ctx context.Context, documentID int64, cause error) error {
	metrics.RecordIngestion(store.StatusError)
	msg := cause.Error()
	if err := p.store.UpdateDocumentStatus(context.WithoutCancel(ctx), documentID, store.StatusError, &msg); err != nil {
		log.Error().Err(err).Int64("document_id", documentID).Msg("Failed to record ingestion error")
	}
	return cause
}

// saveImages persists image descriptors and returns their ids by page.
func (p *Processor) saveImages(ctx context.Context, documentID int64, images []ExtractedImage) map[int][]int64 {
	byPage := make(map[int][]int64)
	for idx, ext := range images {
		caption := ext.Caption
		if caption == "" {
			caption = fmt.Sprintf("Image %d from page %d", idx+1, ext.Page)
		}
		img := &store.Image{
			DocumentID: documentID,
			PageNumber: ext.Page,
			Caption:    caption,
			Width:      ext.Width,
			Height:     ext.Height,
		}
		path, err := p.placeMedia(ext.FilePath, "images", documentID)
		if err != nil {
			log.Warn().Err(err).Str("src", ext.FilePath).Msg("Failed to copy image into upload directory, skipping")
			continue
		}
		img.FilePath = path
		if err := p.store.CreateImage(ctx, img); err != nil {
			log.Warn().Err(err).Int("page", ext.Page).Msg("Failed to save image, skipping")
			continue
		}
		byPage[ext.Page] = append(byPage[ext.Page], img.ID)
	}
	return byPage
}

// saveTables persists table descriptors and returns their ids by page.
func (p *Processor) saveTables(ctx context.Context, documentID int64, tables []ExtractedTable) map[int][]int64 {
	byPage := make(map[int][]int64)
	for idx, ext := range tables {
		caption := ext.Caption
		if caption == "" {
			caption = fmt.Sprintf("Table %d from page %d", idx+1, ext.Page)
		}
		rows, columns := tableShape(ext.Data)
		tbl := &store.Table{
			DocumentID: documentID,
			PageNumber: ext.Page,
			Caption:    caption,
			Data:       ext.Data,
			Rows:       rows,
			Columns:    columns,
		}
		path, err := p.placeMedia(ext.ImagePath, "tables", documentID)
		if err != nil {
			log.Warn().Err(err).Str("src", ext.ImagePath).Msg("Failed to copy table image into upload directory, skipping")
			continue
		}
		tbl.ImagePath = path
		if err := p.store.CreateTable(ctx, tbl); err != nil {
			log.Warn().Err(err).Int("page", ext.Page).Msg("Failed to save table, skipping")
			continue
		}
		byPage[ext.Page] = append(byPage[ext.Page], tbl.ID)
	}
	return byPage
}

// buildChunks splits the text and attaches the media of neighbouring pages.
// Chunk pages are estimated from the ordinal; the converter does not report
// where each span of markdown came from.
func (p *Processor) buildChunks(documentID int64, text string, pageImages, pageTables map[int][]int64) []store.Chunk {
	maxPage := 1
	if len(pageImages) > 0 {
		maxPage = 0
		for page := range pageImages {
			maxPage = max(maxPage, page)
		}
	}

	pieces := p.splitter.Split(text)
	chunks := make([]store.Chunk, 0, len(pieces))
	for idx, content := range pieces {
		page := min(idx/chunksPerPageEstimate+1, maxPage)

		var relatedImages, relatedTables []int64
		for pg := max(1, page-1); pg <= page+1; pg++ {
			relatedImages = append(relatedImages, pageImages[pg]...)
			relatedTables = append(relatedTables, pageTables[pg]...)
		}
		if len(relatedImages) > maxRelatedImages {
			relatedImages = relatedImages[:maxRelatedImages]
		}
		if len(relatedTables) > maxRelatedTables {
			relatedTables = relatedTables[:maxRelatedTables]
		}

		chunks = append(chunks, store.Chunk{
			DocumentID: documentID,
			Content:    content,
			PageNumber: page,
			ChunkIndex: idx,
			Metadata: store.ChunkMetadata{
				RelatedImages: relatedImages,
				RelatedTables: relatedTables,
				CharCount:     runeLen(content),
			},
		})
	}
	return chunks
}

// placeMedia copies a rendered file into the served media directory unless
// it already lives there, and returns the stored path.
func (p *Processor) placeMedia(src, kind string, documentID int64) (string, error) {
	if src == "" || p.mediaDir == "" {
		return src, nil
	}
	dir := filepath.Join(p.mediaDir, kind)
	if filepath.Clean(filepath.Dir(src)) == filepath.Clean(dir) {
		return src, nil
	}

	ext := filepath.Ext(src)
	if ext == "" {
		ext = ".png"
	}
	dst := filepath.Join(dir, fmt.Sprintf("%d_%s%s", documentID, uuid.NewString(), ext))
	if err := copyFile(src, dst); err != nil {
		os.Remove(dst)
		return "", err
	}
	return dst, nil
}

func copyFile(src, dst string) (err error) {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, out.Close())
	}()
	_, err = io.Copy(out, in)
	return err
}
