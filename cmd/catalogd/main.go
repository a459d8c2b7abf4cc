package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/coreason-ai/catalog/internal/broker"
	"github.com/coreason-ai/catalog/internal/config"
	"github.com/coreason-ai/catalog/internal/dispatch"
	"github.com/coreason-ai/catalog/internal/embedding"
	"github.com/coreason-ai/catalog/internal/index"
	"github.com/coreason-ai/catalog/internal/mcp"
	"github.com/coreason-ai/catalog/internal/policy"
	"github.com/coreason-ai/catalog/internal/provenance"
	"github.com/coreason-ai/catalog/internal/ratelimit"
	"github.com/coreason-ai/catalog/internal/registry"
	"github.com/coreason-ai/catalog/internal/server"
	"github.com/coreason-ai/catalog/internal/telemetry"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	level := slog.LevelInfo
	if os.Getenv("CATALOG_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger) error {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("catalog starting", "version", version, "port", cfg.Port, "index", cfg.IndexBackend)

	// Initialize OpenTelemetry.
	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	// Create embedding provider.
	embedder := newEmbeddingProvider(cfg, logger)

	// Create the vector index backend.
	idx, err := newIndex(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = idx.Close() }()

	// Create broker metrics (no-op unless OTEL is configured).
	metrics, err := telemetry.NewBrokerMetrics("catalog/broker")
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// Wire the pipeline.
	reg := registry.New(idx, embedder, logger)
	gate := policy.NewEvaluator(cfg.OPAPath, logger)
	dispatcher := dispatch.New(logger, dispatch.WithTimeout(cfg.DispatchTimeout))
	defer dispatcher.Close()

	brk := broker.New(embedder, idx, gate, dispatcher, provenance.New(), metrics, logger, broker.Options{
		PolicyTimeout:    cfg.PolicyTimeout,
		PerSourceTimeout: cfg.PerSourceTimeout,
		MaxFanout:        cfg.MaxFanout,
		GovernanceDebug:  cfg.GovernanceDebug,
	})

	// Create MCP server (mounted at /mcp).
	mcpSrv := mcp.New(brk, reg, version, logger)

	// Rate limiter (per client IP). Disabled when RPS is zero.
	var limiter ratelimit.Limiter
	if cfg.RateLimitRPS > 0 {
		mem := ratelimit.NewMemoryLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
		defer func() { _ = mem.Close() }()
		limiter = mem
		logger.Info("rate limiting enabled", "rps", cfg.RateLimitRPS, "burst", cfg.RateLimitBurst)
	}

	srv := server.New(server.Config{
		Broker:              brk,
		Registry:            reg,
		Health:              idx,
		Logger:              logger,
		MCPServer:           mcpSrv.MCPServer(),
		RateLimiter:         limiter,
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})

	// Start HTTP server in background.
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for shutdown signal or server error.
	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	slog.Info("catalog shutting down")

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer httpCancel()
	if err := srv.Shutdown(httpCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}

	slog.Info("catalog stopped")
	return nil
}

// newIndex creates the configured vector index backend.
func newIndex(ctx context.Context, cfg config.Config, logger *slog.Logger) (index.Index, error) {
	switch cfg.IndexBackend {
	case "qdrant":
		qdrantIndex, err := index.NewQdrantIndex(index.QdrantConfig{
			URL:        cfg.QdrantURL,
			APIKey:     cfg.QdrantAPIKey,
			Collection: cfg.QdrantCollection,
			Dims:       uint64(cfg.EmbeddingDimensions), //nolint:gosec // validated positive in config.Validate
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("qdrant: %w", err)
		}
		if err := qdrantIndex.EnsureCollection(ctx); err != nil {
			_ = qdrantIndex.Close()
			return nil, fmt.Errorf("qdrant ensure collection: %w", err)
		}
		logger.Info("index: qdrant", "collection", cfg.QdrantCollection)
		return qdrantIndex, nil

	case "postgres":
		pgIndex, err := index.NewPostgresIndex(ctx, cfg.DatabaseURL, cfg.EmbeddingDimensions, logger)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		logger.Info("index: postgres")
		return pgIndex, nil

	default:
		localIndex, err := index.NewLocalIndex(cfg.IndexPath, cfg.EmbeddingDimensions)
		if err != nil {
			return nil, fmt.Errorf("local index: %w", err)
		}
		logger.Info("index: local", "path", cfg.IndexPath)
		return localIndex, nil
	}
}

// newEmbeddingProvider creates an embedding provider based on configuration.
// Provider selection: "ollama", "openai", "hash", or "auto" (default).
// Auto mode tries Ollama if reachable, then OpenAI if key present, else the
// deterministic hash provider. Ollama is preferred: embeddings stay
// on-premises with no external API costs.
func newEmbeddingProvider(cfg config.Config, logger *slog.Logger) embedding.Provider {
	dims := cfg.EmbeddingDimensions

	switch cfg.EmbeddingProvider {
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			logger.Error("OPENAI_API_KEY required when CATALOG_EMBEDDING_PROVIDER=openai")
			return embedding.NewHashProvider(dims)
		}
		logger.Info("embedding provider: openai", "model", cfg.EmbeddingModel, "dimensions", dims)
		return embedding.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.EmbeddingModel, dims)

	case "ollama":
		logger.Info("embedding provider: ollama", "url", cfg.OllamaURL, "model", cfg.OllamaModel, "dimensions", dims)
		return embedding.NewOllamaProvider(cfg.OllamaURL, cfg.OllamaModel, dims)

	case "hash":
		logger.Info("embedding provider: hash (deterministic, lexical matching only)")
		return embedding.NewHashProvider(dims)

	case "auto":
		fallthrough
	default:
		if ollamaReachable(cfg.OllamaURL) {
			logger.Info("embedding provider: ollama (auto-detected)", "url", cfg.OllamaURL, "model", cfg.OllamaModel, "dimensions", dims)
			return embedding.NewOllamaProvider(cfg.OllamaURL, cfg.OllamaModel, dims)
		}
		if cfg.OpenAIAPIKey != "" {
			logger.Info("embedding provider: openai (auto-detected)", "model", cfg.EmbeddingModel, "dimensions", dims)
			return embedding.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.EmbeddingModel, dims)
		}
		logger.Warn("no embedding model available, using hash provider (lexical matching only)")
		return embedding.NewHashProvider(dims)
	}
}

// ollamaReachable checks if an Ollama server is responding.
func ollamaReachable(baseURL string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
