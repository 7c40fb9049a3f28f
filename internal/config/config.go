package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

type Config struct {
	HTTPPort    string `env:"HTTP_PORT" envDefault:"8080"`
	DatabaseURL string `env:"DATABASE_URL" envDefault:"docqa.db"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat   string `env:"LOG_FORMAT" envDefault:"console"`

	// "openai" or "gemini"; the same provider serves embeddings and completions.
	LLMProvider          string `env:"LLM_PROVIDER" envDefault:"openai"`
	OpenAIAPIKey         string `env:"OPENAI_API_KEY"`
	OpenAIBaseURL        string `env:"OPENAI_BASE_URL"`
	OpenAIModel          string `env:"OPENAI_MODEL" envDefault:"gpt-4o-mini"`
	OpenAIEmbeddingModel string `env:"OPENAI_EMBEDDING_MODEL" envDefault:"text-embedding-3-small"`
	GeminiAPIKey         string `env:"GEMINI_API_KEY"`
	GeminiModel          string `env:"GEMINI_MODEL" envDefault:"gemini-1.5-flash-latest"`
	GeminiEmbeddingModel string `env:"GEMINI_EMBEDDING_MODEL" envDefault:"text-embedding-004"`

	// Zero selects the dimension of the configured embedding model.
	EmbeddingDimension int           `env:"EMBEDDING_DIMENSION"`
	EmbeddingCacheSize int           `env:"EMBEDDING_CACHE_SIZE" envDefault:"1024"`
	ModelTimeout       time.Duration `env:"MODEL_TIMEOUT" envDefault:"60s"`

	// "sqlite" keeps vectors next to the relational data; "pgvector" moves
	// chunk storage and nearest-neighbour queries to Postgres.
	VectorBackend string `env:"VECTOR_BACKEND" envDefault:"sqlite"`
	PgVectorDSN   string `env:"PGVECTOR_DSN"`

	TopKResults  int `env:"TOP_K_RESULTS" envDefault:"5"`
	HistoryLimit int `env:"HISTORY_LIMIT" envDefault:"5"`

	UploadDir      string        `env:"UPLOAD_DIR" envDefault:"uploads"`
	// Submitted extractions may only reference media files under this directory.
	ExtractionDir  string        `env:"EXTRACTION_DIR" envDefault:"extractions"`
	MaxFileSize    int64         `env:"MAX_FILE_SIZE" envDefault:"52428800"`
	ChunkSize      int           `env:"CHUNK_SIZE" envDefault:"1000"`
	ChunkOverlap   int           `env:"CHUNK_OVERLAP" envDefault:"200"`
	IngestInterval time.Duration `env:"INGEST_INTERVAL" envDefault:"40ms"`
}

const defaultOpenAIEmbeddingDimension = 1536

// geminiEmbeddingDimensions lists the fixed output sizes of Gemini embedding
// models; the client cannot request another size.
var geminiEmbeddingDimensions = map[string]int{
	"embedding-001":        768,
	"text-embedding-004":   768,
	"gemini-embedding-001": 3072,
}

var AppConfig Config

// LoadConfig reads .env (if present) and the process environment into AppConfig.
func LoadConfig() error {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("No .env file found, relying on environment variables")
	}

	cfg, err := Parse()
	if err != nil {
		return err
	}
	AppConfig = *cfg
	return nil
}

// Parse builds a Config from the current environment without touching .env.
func Parse() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	cfg.LLMProvider = strings.ToLower(strings.TrimSpace(cfg.LLMProvider))
	cfg.VectorBackend = strings.ToLower(strings.TrimSpace(cfg.VectorBackend))
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	cfg.LogFormat = strings.ToLower(strings.TrimSpace(cfg.LogFormat))
	cfg.applyEmbeddingDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEmbeddingDefaults() {
	if c.EmbeddingDimension != 0 {
		return
	}
	switch c.LLMProvider {
	case "gemini":
		if dim, ok := geminiEmbeddingDimensions[geminiModelName(c.GeminiEmbeddingModel)]; ok {
			c.EmbeddingDimension = dim
		}
	case "openai":
		c.EmbeddingDimension = defaultOpenAIEmbeddingDimension
	}
}

func geminiModelName(model string) string {
	return strings.TrimPrefix(strings.TrimSpace(model), "models/")
}

func (c *Config) Validate() error {
	switch c.LLMProvider {
	case "openai":
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY environment variable is required")
		}
	case "gemini":
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY environment variable is required")
		}
	default:
		return fmt.Errorf("unknown LLM_PROVIDER %q", c.LLMProvider)
	}

	switch c.VectorBackend {
	case "sqlite":
	case "pgvector":
		if c.PgVectorDSN == "" {
			return fmt.Errorf("PGVECTOR_DSN is required when VECTOR_BACKEND=pgvector")
		}
	default:
		return fmt.Errorf("unknown VECTOR_BACKEND %q", c.VectorBackend)
	}

	if c.EmbeddingDimension <= 0 {
		return fmt.Errorf("EMBEDDING_DIMENSION must be positive")
	}
	if c.LLMProvider == "gemini" {
		model := geminiModelName(c.GeminiEmbeddingModel)
		if dim, ok := geminiEmbeddingDimensions[model]; ok && dim != c.EmbeddingDimension {
			return fmt.Errorf("EMBEDDING_DIMENSION=%d does not match %s, which returns %d dimensions",
				c.EmbeddingDimension, model, dim)
		}
	}
	if c.TopKResults <= 0 {
		return fmt.Errorf("TOP_K_RESULTS must be positive")
	}
	if c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("CHUNK_OVERLAP (%d) must be smaller than CHUNK_SIZE (%d)", c.ChunkOverlap, c.ChunkSize)
	}
	return nil
}
