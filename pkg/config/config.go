package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port      string
	JWTSecret string

	LogLevel  string
	LogFormat string

	// Database
	DatabaseURL       string
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration

	// EncryptionKey seals provider tokens at rest (hex or base64, 32 bytes)
	EncryptionKey string

	// Mail providers
	ProviderBaseURL string
	ProviderTimeout time.Duration

	// Sync
	SyncPollInterval    time.Duration
	SyncPollMaxAttempts int
	SyncInterval        time.Duration
	SyncConcurrency     int
	SyncDaysWithin      int
	FolderPageSize      int

	// AI
	AIProvider           string
	GeminiAPIKey         string
	GeminiModel          string
	GeminiEmbeddingModel string
	OllamaBaseURL        string
	OllamaModel          string
	OllamaEmbeddingModel string

	// Embedding worker
	EmbeddingWorkers   int
	EmbeddingQueueSize int
	BackfillBatchSize  int

	// Chroma mirror, disabled when ChromaURL is empty.
	// VectorBackend "chroma" also answers searches from it instead of pgvector.
	ChromaURL        string
	ChromaAPIKey     string
	ChromaTenant     string
	ChromaDatabase   string
	ChromaCollection string
	VectorBackend    string
}

func Load() *Config {
	// Load .env file if it exists
	_ = godotenv.Load()

	return &Config{
		Port:      getEnv("PORT", "8080"),
		JWTSecret: getEnv("JWT_SECRET", "your-secret-key-change-in-production"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),

		DatabaseURL:       getEnv("DATABASE_URL", "host=localhost user=postgres password=postgres dbname=mail port=5432 sslmode=disable"),
		DBMaxOpenConns:    getInt("DB_MAX_OPEN_CONNS", 20),
		DBMaxIdleConns:    getInt("DB_MAX_IDLE_CONNS", 5),
		DBConnMaxLifetime: getDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),

		EncryptionKey: getEnv("ENCRYPTION_KEY", ""),

		ProviderBaseURL: getEnv("PROVIDER_BASE_URL", "https://api.nylas.com/v3"),
		ProviderTimeout: getDuration("PROVIDER_TIMEOUT", 30*time.Second),

		SyncPollInterval:    getDuration("SYNC_POLL_INTERVAL", 2*time.Second),
		SyncPollMaxAttempts: getInt("SYNC_POLL_MAX_ATTEMPTS", 30),
		SyncInterval:        getDuration("SYNC_INTERVAL", 5*time.Minute),
		SyncConcurrency:     getInt("SYNC_CONCURRENCY", 5),
		SyncDaysWithin:      getInt("SYNC_DAYS_WITHIN", 30),
		FolderPageSize:      getInt("FOLDER_PAGE_SIZE", 50),

		AIProvider:           getEnv("AI_PROVIDER", "auto"),
		GeminiAPIKey:         getEnv("GEMINI_API_KEY", ""),
		GeminiModel:          getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
		GeminiEmbeddingModel: getEnv("GEMINI_EMBEDDING_MODEL", "text-embedding-004"),
		OllamaBaseURL:        getEnv("OLLAMA_BASE_URL", "http://localhost:11434"),
		OllamaModel:          getEnv("OLLAMA_MODEL", "llama3"),
		OllamaEmbeddingModel: getEnv("OLLAMA_EMBEDDING_MODEL", "nomic-embed-text"),

		EmbeddingWorkers:   getInt("EMBEDDING_WORKERS", 3),
		EmbeddingQueueSize: getInt("EMBEDDING_QUEUE_SIZE", 500),
		BackfillBatchSize:  getInt("BACKFILL_BATCH_SIZE", 50),

		ChromaURL:        getEnv("CHROMA_URL", ""),
		ChromaAPIKey:     getEnv("CHROMA_API_KEY", ""),
		ChromaTenant:     getEnv("CHROMA_TENANT", ""),
		ChromaDatabase:   getEnv("CHROMA_DATABASE", ""),
		ChromaCollection: getEnv("CHROMA_COLLECTION", "emails"),
		VectorBackend:    getEnv("VECTOR_BACKEND", "pgvector"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
			return parsed
		}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
