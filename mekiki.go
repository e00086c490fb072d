// Package mekiki is the public API for embedding the Mekiki matching server.
//
// Consumers import this package to construct and run the server without
// forking it:
//
//	app, err := mekiki.New(
//	    mekiki.WithVersion(version),
//	    mekiki.WithLogger(logger),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// The import graph enforces a strict no-cycle rule: mekiki (root) imports
// internal/*, but internal/* never imports mekiki (root). Public interfaces
// (EmbeddingProvider, ChatProvider) are standalone; the adapters that bridge
// them to internal types live here because this is the only file that sees
// both sides of the boundary.
package mekiki

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/joho/godotenv"
	"github.com/pgvector/pgvector-go"

	"github.com/ashita-ai/mekiki/api"
	"github.com/ashita-ai/mekiki/internal/config"
	"github.com/ashita-ai/mekiki/internal/mcp"
	"github.com/ashita-ai/mekiki/internal/ratelimit"
	"github.com/ashita-ai/mekiki/internal/search"
	"github.com/ashita-ai/mekiki/internal/server"
	"github.com/ashita-ai/mekiki/internal/service/backlog"
	"github.com/ashita-ai/mekiki/internal/service/embedding"
	"github.com/ashita-ai/mekiki/internal/service/llm"
	"github.com/ashita-ai/mekiki/internal/service/match"
	"github.com/ashita-ai/mekiki/internal/storage"
	"github.com/ashita-ai/mekiki/internal/telemetry"
	"github.com/ashita-ai/mekiki/migrations"
)

// App is the Mekiki server lifecycle. Construct with New(), run with Run().
// App has no public fields — use New() options to configure it.
type App struct {
	cfg          config.Config
	db           *storage.DB
	srv          *server.Server
	reindexer    *search.Reindexer   // nil when Qdrant is not configured
	qdrantIndex  *search.QdrantIndex // nil when Qdrant is not configured
	otelShutdown telemetry.Shutdown
	logger       *slog.Logger
	version      string
}

// New initialises the Mekiki server. It connects to the database, runs
// migrations, wires all subsystems, and returns a ready-to-run App.
// It does NOT start any goroutines or accept HTTP connections — call Run().
func New(opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	// Load configuration (env vars), then apply option overrides.
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.port != 0 {
		cfg.Port = o.port
	}
	if o.databaseURL != "" {
		cfg.DatabaseURL = o.databaseURL
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	logger.Info("mekiki starting", "version", version, "port", cfg.Port)

	// Initialize OpenTelemetry.
	otelShutdown, err := telemetry.Init(context.Background(), cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	// Connect to database.
	db, err := storage.New(context.Background(), cfg.DatabaseURL, logger)
	if err != nil {
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("storage: %w", err)
	}

	fail := func(err error) (*App, error) {
		db.Close()
		_ = otelShutdown(context.Background())
		return nil, err
	}

	// Run embedded migrations, then any extra filesystems.
	if err := db.RunMigrations(context.Background(), migrations.FS); err != nil {
		return fail(fmt.Errorf("migrations: %w", err))
	}
	for i, extraFS := range o.extraMigrations {
		if err := db.RunMigrations(context.Background(), extraFS); err != nil {
			return fail(fmt.Errorf("extra migrations[%d]: %w", i, err))
		}
	}

	// Embedding provider — external override takes priority over auto-detect.
	var embedder embedding.Provider
	if o.embeddingProvider != nil {
		embedder = &embeddingAdapter{p: o.embeddingProvider}
	} else {
		embedder = newEmbeddingProvider(cfg, logger)
	}

	// Chat gateway. A nil provider degrades the gateway instead of failing.
	var chat llm.Provider
	if o.chatProvider != nil {
		chat = &chatAdapter{p: o.chatProvider}
	} else {
		chat = newChatProvider(cfg, logger)
	}
	gateway := llm.NewGateway(chat)
	if gateway.Degraded() {
		logger.Warn("chat gateway degraded: no provider configured, translation and extraction disabled")
	}

	// Qdrant mirror. Candidate retrieval falls back to pgvector without it.
	var qdrantIndex *search.QdrantIndex
	var reindexer *search.Reindexer
	candidates := match.CandidateSource(db)
	if cfg.QdrantURL != "" {
		qdrantIndex, err = search.NewQdrantIndex(search.QdrantConfig{
			URL:        cfg.QdrantURL,
			APIKey:     cfg.QdrantAPIKey,
			Collection: cfg.QdrantCollection,
			Dims:       uint64(cfg.EmbeddingDimensions), //nolint:gosec // validated positive in config.Validate
		}, logger)
		if err != nil {
			return fail(fmt.Errorf("qdrant: %w", err))
		}
		if err := qdrantIndex.EnsureCollection(context.Background()); err != nil {
			_ = qdrantIndex.Close()
			return fail(fmt.Errorf("qdrant ensure collection: %w", err))
		}
		candidates = qdrantIndex
		reindexer = search.NewReindexer(db, qdrantIndex, logger, cfg.ReindexInterval, cfg.ReindexBatch)
		logger.Info("qdrant: enabled", "collection", cfg.QdrantCollection)
	} else {
		logger.Info("qdrant: disabled (no QDRANT_URL), candidate retrieval uses pgvector")
	}

	// Services.
	matchSvc := match.New(gateway, embedder, db, candidates, match.Thresholds{
		MinLabels:       cfg.MinLabels,
		MinTags:         cfg.MinTags,
		MinIntegrations: cfg.MinIntegrations,
	}, match.Depth{TopK: cfg.TopK, TopN: cfg.TopN}, logger)
	backlogSvc := backlog.New(gateway, embedder, db, cfg.DedupThreshold, logger)

	// MCP server.
	mcpSrv := mcp.New(matchSvc, backlogSvc, logger)

	// Rate limiter.
	var limiter ratelimit.Limiter
	if cfg.RateLimitEnabled {
		limiter = ratelimit.NewMemoryLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
		logger.Info("rate limiting: memory (in-process token bucket)",
			"rps", cfg.RateLimitRPS, "burst", cfg.RateLimitBurst)
	} else {
		logger.Info("rate limiting: disabled")
	}

	srvCfg := server.ServerConfig{
		DB:                  db,
		MatchSvc:            matchSvc,
		BacklogSvc:          backlogSvc,
		Logger:              logger,
		Limiter:             limiter,
		MCPServer:           mcpSrv.MCPServer(),
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		OpenAPISpec:         api.OpenAPISpec,
	}
	if qdrantIndex != nil {
		srvCfg.Searcher = qdrantIndex
	}
	srv := server.New(srvCfg)

	return &App{
		cfg:          cfg,
		db:           db,
		srv:          srv,
		reindexer:    reindexer,
		qdrantIndex:  qdrantIndex,
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      version,
	}, nil
}

// Run starts the background reindexer and the HTTP server, then blocks until
// ctx is cancelled or a fatal server error occurs. On return, Shutdown is
// called automatically — callers should not call Shutdown separately.
func (a *App) Run(ctx context.Context) error {
	if a.reindexer != nil {
		a.reindexer.Start(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := a.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	return a.Shutdown(context.Background())
}

// Shutdown performs a graceful shutdown: stop accepting HTTP requests and
// drain in-flight ones, let the reindexer finish its pass, then close the
// Qdrant connection, the database pool, and the OTEL providers.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("mekiki shutting down")

	httpCtx, httpCancel := context.WithTimeout(ctx, 15*time.Second)
	if err := a.srv.Shutdown(httpCtx); err != nil {
		a.logger.Error("http shutdown error", "error", err)
	}
	httpCancel()

	if a.reindexer != nil {
		drainCtx, drainCancel := context.WithTimeout(ctx, 30*time.Second)
		a.reindexer.Drain(drainCtx)
		drainCancel()
	}

	if a.qdrantIndex != nil {
		_ = a.qdrantIndex.Close()
	}
	_ = a.otelShutdown(context.Background())
	a.db.Close()

	a.logger.Info("mekiki stopped")
	return nil
}

// ── Adapters (defined here because this file imports both sides) ───────────────

// embeddingAdapter bridges the public EmbeddingProvider to the internal
// pgvector-typed interface.
type embeddingAdapter struct {
	p EmbeddingProvider
}

func (a *embeddingAdapter) Embed(ctx context.Context, text string) (pgvector.Vector, error) {
	v, err := a.p.Embed(ctx, text)
	if err != nil {
		return pgvector.Vector{}, err
	}
	return pgvector.NewVector(v), nil
}

func (a *embeddingAdapter) EmbedBatch(ctx context.Context, texts []string) ([]pgvector.Vector, error) {
	vs, err := a.p.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}
	out := make([]pgvector.Vector, len(vs))
	for i, v := range vs {
		out[i] = pgvector.NewVector(v)
	}
	return out, nil
}

func (a *embeddingAdapter) Dimensions() int {
	return a.p.Dimensions()
}

// chatAdapter bridges the public ChatProvider to the internal llm.Provider.
type chatAdapter struct {
	p ChatProvider
}

func (a *chatAdapter) Complete(ctx context.Context, req llm.CompletionRequest) (string, error) {
	return a.p.Complete(ctx, Completion{
		System:      req.System,
		User:        req.User,
		Temperature: req.Temperature,
		JSONMode:    req.JSONMode,
	})
}

// ── Provider auto-detection ────────────────────────────────────────────────────

func newEmbeddingProvider(cfg config.Config, logger *slog.Logger) embedding.Provider {
	dims := cfg.EmbeddingDimensions

	switch cfg.EmbeddingProvider {
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			logger.Error("OPENAI_API_KEY required when MEKIKI_EMBEDDING_PROVIDER=openai")
			return embedding.NewNoopProvider(dims)
		}
		logger.Info("embedding provider: openai", "model", cfg.EmbeddingModel, "dimensions", dims)
		return embedding.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.EmbeddingModel)
	case "ollama":
		logger.Info("embedding provider: ollama", "url", cfg.OllamaURL, "model", cfg.OllamaModel, "dimensions", dims)
		return embedding.NewOllamaProvider(cfg.OllamaURL, cfg.OllamaModel, dims)
	case "noop":
		logger.Info("embedding provider: noop (matching quality degraded)")
		return embedding.NewNoopProvider(dims)
	case "auto":
		fallthrough
	default:
		if ollamaReachable(cfg.OllamaURL) {
			logger.Info("embedding provider: ollama (auto-detected)", "url", cfg.OllamaURL, "model", cfg.OllamaModel, "dimensions", dims)
			return embedding.NewOllamaProvider(cfg.OllamaURL, cfg.OllamaModel, dims)
		}
		if cfg.OpenAIAPIKey != "" {
			logger.Info("embedding provider: openai (auto-detected)", "model", cfg.EmbeddingModel, "dimensions", dims)
			return embedding.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.EmbeddingModel)
		}
		logger.Warn("no embedding provider available, using noop (matching quality degraded)")
		return embedding.NewNoopProvider(dims)
	}
}

// newChatProvider returns nil when nothing is configured; the gateway then
// degrades instead of failing.
func newChatProvider(cfg config.Config, logger *slog.Logger) llm.Provider {
	switch cfg.ChatProvider {
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			logger.Error("OPENAI_API_KEY required when MEKIKI_CHAT_PROVIDER=openai")
			return nil
		}
		logger.Info("chat provider: openai", "model", cfg.ChatModel)
		return llm.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.ChatModel)
	case "ollama":
		logger.Info("chat provider: ollama", "url", cfg.OllamaURL, "model", cfg.OllamaChatModel)
		return llm.NewOllamaProvider(cfg.OllamaURL, cfg.OllamaChatModel)
	case "noop":
		logger.Info("chat provider: noop")
		return nil
	case "auto":
		fallthrough
	default:
		if ollamaReachable(cfg.OllamaURL) {
			logger.Info("chat provider: ollama (auto-detected)", "url", cfg.OllamaURL, "model", cfg.OllamaChatModel)
			return llm.NewOllamaProvider(cfg.OllamaURL, cfg.OllamaChatModel)
		}
		if cfg.OpenAIAPIKey != "" {
			logger.Info("chat provider: openai (auto-detected)", "model", cfg.ChatModel)
			return llm.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.ChatModel)
		}
		return nil
	}
}

func ollamaReachable(baseURL string) bool {
	c, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(c, http.MethodGet, baseURL+"/api/tags", nil)
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
