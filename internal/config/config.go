package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	// HTTP
	Port        string
	GinMode     string
	CORSOrigins []string
	MaxFileSize int64

	// Mongo (documents, chunks, chat sessions/messages, workspaces, quotas)
	MongoURI string
	DBName   string

	// Redis (queue backend, rate limits, status bus, token revocation)
	RedisURL      string
	RedisPassword string
	RedisDB       int

	// MinIO blob store (PDFs, figures, tables, parsed markdown)
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool

	// Qdrant vector index
	QdrantURL        string
	QdrantCollection string
	VectorDim        int

	// Embedding service (remote visual-text model)
	EmbedServiceURL    string
	EmbedBatchSize     int
	EmbedWarmupTimeout int // seconds to wait for lazy model load
	QueryEncodeTimeout int // seconds per query encode
	TableEmbedMaxChars int // table text truncation before embedding
	EmbedCacheDir      string

	// Generators
	GeminiAPIKey     string
	GeminiModel      string
	OpenAIAPIKey     string
	OpenAIBaseURL    string
	OpenAIModel      string
	LLMTimeout       int // seconds per generation call
	DefaultGenerator string
	DefaultRetriever string
	HybridAlpha      float64
	DefaultTopK      int
	ContextChunks    int // document chunks per prompt
	MaxRefImages     int // reference images attached per prompt

	// Skimming highlight service (remote model, optional)
	SkimServiceURL string

	// Auth
	AccessSecret    string
	AnonymousUserID string

	// Quotas and rate limits
	DailyTokenLimit int
	RateLimitReqs   int
	RateLimitWindow int

	// Local scratch layout
	DataDir          string
	TempChatImageDir string

	// Telemetry
	OTLPEndpoint   string
	TracingEnabled bool
}

func LoadConfig() (*Config, error) {
	// Load .env file if exists
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("error loading .env file: %v", err)
		}
	}

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		GinMode:     getEnv("GIN_MODE", "debug"),
		CORSOrigins: strings.Split(getEnv("CORS_ORIGINS", "http://localhost:3000,http://localhost:8080"), ","),
		MaxFileSize: getEnvInt64("MAX_FILE_SIZE", 104857600), // 100MB

		MongoURI: getEnv("MONGO_URI", "mongodb://localhost:27017/paperreader"),
		DBName:   getEnv("DB_NAME", "paperreader"),

		RedisURL:      getEnv("REDIS_URL", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		MinioEndpoint:  getEnv("MINIO_ENDPOINT", "localhost:9000"),
		MinioAccessKey: getEnv("MINIO_ACCESS_KEY", "minioadmin"),
		MinioSecretKey: getEnv("MINIO_SECRET_KEY", "minioadmin"),
		MinioBucket:    getEnv("MINIO_BUCKET", "paperreader"),
		MinioUseSSL:    getEnvBool("MINIO_USE_SSL", false),

		QdrantURL:        getEnv("QDRANT_URL", "localhost:6334"),
		QdrantCollection: getEnv("QDRANT_COLLECTION", "paper_chunks"),
		VectorDim:        getEnvInt("VECTOR_DIM", 1024),

		EmbedServiceURL:    getEnv("EMBED_SERVICE_URL", "http://localhost:8001"),
		EmbedBatchSize:     getEnvInt("EMBED_BATCH_SIZE", 8),
		EmbedWarmupTimeout: getEnvInt("EMBED_WARMUP_TIMEOUT", 300),
		QueryEncodeTimeout: getEnvInt("QUERY_ENCODE_TIMEOUT", 20),
		TableEmbedMaxChars: getEnvInt("TABLE_EMBED_MAX_CHARS", 4000),
		EmbedCacheDir:      getEnv("EMBED_CACHE_DIR", "./storage/embed_cache"),

		GeminiAPIKey:     getEnv("GEMINI_API_KEY", ""),
		GeminiModel:      getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
		OpenAIAPIKey:     getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:    getEnv("OPENAI_BASE_URL", ""),
		OpenAIModel:      getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		LLMTimeout:       getEnvInt("LLM_TIMEOUT", 60),
		DefaultGenerator: getEnv("DEFAULT_GENERATOR", "gemini"),
		DefaultRetriever: getEnv("DEFAULT_RETRIEVER", "hybrid"),
		HybridAlpha:      getEnvFloat64("HYBRID_ALPHA", 0.5),
		DefaultTopK:      getEnvInt("DEFAULT_TOP_K", 5),
		ContextChunks:    getEnvInt("CONTEXT_CHUNKS", 6),
		MaxRefImages:     getEnvInt("MAX_REF_IMAGES", 4),

		SkimServiceURL: getEnv("SKIM_SERVICE_URL", ""),

		AccessSecret:    getEnv("ACCESS_SECRET", ""),
		AnonymousUserID: getEnv("ANONYMOUS_USER_ID", "anonymous"),

		DailyTokenLimit: getEnvInt("DAILY_TOKEN_LIMIT", 100000),
		RateLimitReqs:   getEnvInt("RATE_LIMIT_REQUESTS", 100),
		RateLimitWindow: getEnvInt("RATE_LIMIT_WINDOW", 60),

		DataDir:          getEnv("DATA_DIR", "./storage/data"),
		TempChatImageDir: getEnv("TEMP_CHAT_IMAGE_DIR", "./storage/temp_chat_images"),

		OTLPEndpoint:   getEnv("OTLP_ENDPOINT", "localhost:4317"),
		TracingEnabled: getEnvBool("TRACING_ENABLED", false),
	}

	// Validate required fields
	if cfg.AccessSecret == "" {
		return nil, fmt.Errorf("ACCESS_SECRET is required - set it in .env file")
	}
	if len(cfg.AccessSecret) < 32 {
		return nil, fmt.Errorf("ACCESS_SECRET must be at least 32 characters")
	}
	if cfg.VectorDim <= 0 {
		return nil, fmt.Errorf("VECTOR_DIM must be positive")
	}

	return cfg, nil
}
