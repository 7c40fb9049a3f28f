package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"gwi.com/docqa/internal/api"
	"gwi.com/docqa/internal/config"
	"gwi.com/docqa/internal/core"
	"gwi.com/docqa/internal/ingest"
	"gwi.com/docqa/internal/llm"
	"gwi.com/docqa/internal/logger"
	"gwi.com/docqa/internal/store"
)

func main() {
	// Command line flags for offline ingestion
	ingestFile := flag.String("ingest", "", "Ingest an extraction JSON file into -document and exit")
	documentID := flag.Int64("document", 0, "Document id the -ingest file belongs to")
	flag.Parse()

	// Load configuration
	if err := config.LoadConfig(); err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	cfg := &config.AppConfig

	// Setup logging
	if err := logger.Init(cfg.LogLevel, cfg.LogFormat); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize logger")
	}

	ctx := context.Background()

	// Initialize database store
	dbStore, err := store.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer dbStore.Close()

	index, closeIndex, err := openIndex(ctx, cfg, dbStore)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize vector index")
	}
	defer closeIndex()

	// Initialize LLM provider
	provider, err := llm.NewProvider(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize LLM provider")
	}
	defer provider.Close()

	gateway, err := core.NewEmbeddingGateway(provider, cfg.EmbeddingDimension, cfg.EmbeddingCacheSize, cfg.ModelTimeout)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize embedding gateway")
	}

	processor := ingest.NewProcessor(dbStore, index, gateway, ingest.ProcessorConfig{
		ChunkSize:    cfg.ChunkSize,
		ChunkOverlap: cfg.ChunkOverlap,
		MediaDir:     cfg.UploadDir,
		Interval:     cfg.IngestInterval,
	})

	// Handle offline ingestion if the flag is set
	if *ingestFile != "" {
		if err := runIngest(ctx, processor, *ingestFile, *documentID); err != nil {
			log.Error().Err(err).Msg("Ingestion failed")
			os.Exit(1)
		}
		return
	}

	orchestrator := core.NewOrchestrator(
		core.NewHistoryLoader(dbStore),
		core.NewContextSearcher(gateway, index, dbStore),
		core.NewMediaLinker(dbStore),
		core.NewResponseComposer(provider, cfg.ModelTimeout),
		core.OrchestratorConfig{
			TopK:              cfg.TopKResults,
			HistoryLimit:      cfg.HistoryLimit,
			ParallelRetrieval: true,
		},
	)

	runner := ingest.NewRunner(processor)
	chatService := core.NewChatService(dbStore, orchestrator)
	documentService := core.NewDocumentService(dbStore, index, runner, cfg.UploadDir, cfg.ExtractionDir, cfg.MaxFileSize)

	// Initialize API Handler and Router
	apiHandler := api.NewAPIHandler(chatService, documentService, cfg.MaxFileSize)
	router := api.NewRouter(apiHandler, cfg.UploadDir)

	serverAddr := fmt.Sprintf(":%s", cfg.HTTPPort)
	srv := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  60 * time.Second, // uploads can be large
		WriteTimeout: cfg.ModelTimeout*2 + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("addr", serverAddr).
			Str("llm_provider", cfg.LLMProvider).
			Str("vector_backend", cfg.VectorBackend).
			Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Str("addr", serverAddr).Msg("Could not listen")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	if err := runner.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Background ingestion interrupted")
	}

	log.Info().Msg("Server exiting gracefully")
}

// openIndex returns the chunk index selected by VECTOR_BACKEND and its closer.
func openIndex(ctx context.Context, cfg *config.Config, dbStore *store.SQLiteStore) (store.ChunkIndex, func(), error) {
	if cfg.VectorBackend != "pgvector" {
		return dbStore, func() {}, nil
	}
	pg, err := store.NewPgVectorIndex(ctx, cfg.PgVectorDSN, cfg.EmbeddingDimension)
	if err != nil {
		return nil, nil, err
	}
	return pg, pg.Close, nil
}

func runIngest(ctx context.Context, processor *ingest.Processor, path string, documentID int64) error {
	if documentID <= 0 {
		return errors.New("-document must name an existing document id")
	}
	extracted, err := ingest.LoadExtraction(path)
	if err != nil {
		return err
	}

	log.Info().Str("file", path).Int64("document_id", documentID).Msg("Starting ingestion")
	stats, err := processor.Process(ctx, documentID, extracted)
	if err != nil {
		return err
	}
	log.Info().
		Int("chunks", stats.Chunks).
		Int("failed", stats.Failed).
		Int("images", stats.Images).
		Int("tables", stats.Tables).
		Msg("Ingestion complete")
	return nil
}
