// Package config loads and validates application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	MaxRequestBodyBytes int64

	// Vector index settings. Backend is "local", "qdrant", or "postgres".
	IndexBackend     string
	IndexPath        string // Local backend: path to the sqlite database file.
	QdrantURL        string
	QdrantAPIKey     string
	QdrantCollection string
	DatabaseURL      string // Postgres backend DSN.

	// Embedding provider settings.
	EmbeddingProvider   string // "auto", "ollama", "openai", or "hash"
	EmbeddingDimensions int    // Vector dimensions; must match the chosen model's output.
	EmbeddingModel      string
	OpenAIAPIKey        string
	OllamaURL           string
	OllamaModel         string

	// Policy evaluation settings.
	OPAPath       string // Path to the opa binary; empty means auto-discover.
	PolicyTimeout time.Duration

	// Dispatch settings.
	DispatchTimeout  time.Duration // Transport connect+read timeout per source.
	PerSourceTimeout time.Duration // Broker-level deadline per source; zero disables.
	MaxFanout        int           // Upper bound on concurrent source dispatches.

	// Governance settings.
	GovernanceDebug bool // Surface blocked candidates as BLOCKED_BY_POLICY results.

	// Rate limiting. Zero RPS disables the limiter.
	RateLimitRPS   float64
	RateLimitBurst int

	// OTEL settings.
	OTELEndpoint string
	OTELInsecure bool
	ServiceName  string

	// Operational settings.
	LogLevel string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (Config, error) {
	cfg := Config{
		Port:                envInt("CATALOG_PORT", 8080),
		ReadTimeout:         envDuration("CATALOG_READ_TIMEOUT", 30*time.Second),
		WriteTimeout:        envDuration("CATALOG_WRITE_TIMEOUT", 120*time.Second),
		MaxRequestBodyBytes: int64(envInt("CATALOG_MAX_REQUEST_BODY_BYTES", 1*1024*1024)), // 1 MB default
		IndexBackend:        envStr("CATALOG_INDEX_BACKEND", "local"),
		IndexPath:           envStr("CATALOG_INDEX_PATH", "data/catalog.db"),
		QdrantURL:           envStr("QDRANT_URL", ""),
		QdrantAPIKey:        envStr("QDRANT_API_KEY", ""),
		QdrantCollection:    envStr("QDRANT_COLLECTION", "sources"),
		DatabaseURL:         envStr("DATABASE_URL", ""),
		EmbeddingProvider:   envStr("CATALOG_EMBEDDING_PROVIDER", "auto"),
		EmbeddingDimensions: envInt("CATALOG_EMBEDDING_DIMENSIONS", 384),
		EmbeddingModel:      envStr("CATALOG_EMBEDDING_MODEL", "text-embedding-3-small"),
		OpenAIAPIKey:        envStr("OPENAI_API_KEY", ""),
		OllamaURL:           envStr("OLLAMA_URL", "http://localhost:11434"),
		OllamaModel:         envStr("OLLAMA_MODEL", "all-minilm"),
		OPAPath:             envStr("CATALOG_OPA_PATH", ""),
		PolicyTimeout:       envDuration("CATALOG_POLICY_TIMEOUT", 5*time.Second),
		DispatchTimeout:     envDuration("CATALOG_DISPATCH_TIMEOUT", 30*time.Second),
		PerSourceTimeout:    envDuration("CATALOG_PER_SOURCE_TIMEOUT", 0),
		MaxFanout:           envInt("CATALOG_MAX_FANOUT", 16),
		GovernanceDebug:     envBool("CATALOG_GOVERNANCE_DEBUG", false),
		RateLimitRPS:        envFloat("CATALOG_RATELIMIT_RPS", 0),
		RateLimitBurst:      envInt("CATALOG_RATELIMIT_BURST", 20),
		OTELEndpoint:        envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTELInsecure:        envBool("OTEL_EXPORTER_OTLP_INSECURE", false),
		ServiceName:         envStr("OTEL_SERVICE_NAME", "coreason-catalog"),
		LogLevel:            envStr("CATALOG_LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that required configuration is present and coherent.
func (c Config) Validate() error {
	switch c.IndexBackend {
	case "local":
		if c.IndexPath == "" {
			return fmt.Errorf("config: CATALOG_INDEX_PATH is required for the local backend")
		}
	case "qdrant":
		if c.QdrantURL == "" {
			return fmt.Errorf("config: QDRANT_URL is required for the qdrant backend")
		}
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("config: DATABASE_URL is required for the postgres backend")
		}
	default:
		return fmt.Errorf("config: unknown CATALOG_INDEX_BACKEND %q (want local, qdrant, or postgres)", c.IndexBackend)
	}
	if c.EmbeddingDimensions <= 0 {
		return fmt.Errorf("config: CATALOG_EMBEDDING_DIMENSIONS must be positive")
	}
	if c.MaxRequestBodyBytes <= 0 {
		return fmt.Errorf("config: CATALOG_MAX_REQUEST_BODY_BYTES must be positive")
	}
	if c.MaxFanout <= 0 {
		return fmt.Errorf("config: CATALOG_MAX_FANOUT must be positive")
	}
	if c.PolicyTimeout <= 0 {
		return fmt.Errorf("config: CATALOG_POLICY_TIMEOUT must be positive")
	}
	if c.RateLimitRPS > 0 && c.RateLimitBurst <= 0 {
		return fmt.Errorf("config: CATALOG_RATELIMIT_BURST must be positive when rate limiting is enabled")
	}
	return nil
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func envFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}
