// Command lexrag starts the retrieval-augmented generation HTTP service.
//
// The service loads the persisted index, then serves document ingest at
// POST /api/v1/documents, hybrid search at GET /api/v1/search, question
// answering at POST /api/v1/ask, cache administration, and health probes.
// With Kafka enabled, ingest requests are enqueued for the ingest-worker
// instead of being indexed in-process.
//
// Usage:
//
//	go run ./cmd/lexrag [-config configs/development.yaml]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/lexigraph/lexrag/internal/archive"
	"github.com/lexigraph/lexrag/internal/ingest"
	"github.com/lexigraph/lexrag/internal/rag"
	"github.com/lexigraph/lexrag/internal/rag/cache"
	"github.com/lexigraph/lexrag/internal/rag/capability"
	"github.com/lexigraph/lexrag/internal/server"
	"github.com/lexigraph/lexrag/pkg/config"
	"github.com/lexigraph/lexrag/pkg/health"
	"github.com/lexigraph/lexrag/pkg/kafka"
	"github.com/lexigraph/lexrag/pkg/logger"
	"github.com/lexigraph/lexrag/pkg/metrics"
	"github.com/lexigraph/lexrag/pkg/middleware"
	"github.com/lexigraph/lexrag/pkg/postgres"
	pkgredis "github.com/lexigraph/lexrag/pkg/redis"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting lexrag service", "port", cfg.Server.Port)

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	openaiClient, err := capability.NewOpenAIClient(os.Getenv("OPENAI_API_KEY"), cfg.OpenAI)
	if err != nil {
		slog.Error("failed to create openai client", "error", err)
		os.Exit(1)
	}

	engine, err := rag.NewEngine(cfg.Engine, cfg.Retrieval, cfg.Answer, rag.Options{
		Embedder:  openaiClient,
		Reranker:  openaiClient,
		Generator: openaiClient,
		Metrics:   m,
	})
	if err != nil {
		slog.Error("failed to create engine", "error", err)
		os.Exit(1)
	}
	slog.Info("engine ready", "chunks", engine.Size(), "data_dir", cfg.Engine.DataDir)

	var arch *archive.Archive
	var db *postgres.Client
	if cfg.Postgres.Enabled {
		db, err = postgres.New(cfg.Postgres)
		if err != nil {
			slog.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		arch = archive.New(db)
		if err := arch.EnsureSchema(context.Background()); err != nil {
			slog.Error("failed to prepare archive schema", "error", err)
			os.Exit(1)
		}
		slog.Info("document archive enabled")
	}

	var searchCache *cache.SearchCache
	var redisClient *pkgredis.Client
	if cfg.Redis.Enabled {
		redisClient, err = pkgredis.NewClient(cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, search caching disabled", "error", err)
		} else {
			defer redisClient.Close()
			searchCache = cache.New(redisClient, cfg.Redis, m)
			slog.Info("search cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
		}
	}

	var queue *ingest.Queue
	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.DocumentIngest)
		defer producer.Close()
		queue = ingest.NewQueue(producer)
		slog.Info("async ingest enabled", "topic", cfg.Kafka.Topics.DocumentIngest)
	}

	checker := health.NewChecker()
	checker.Register("index", func(ctx context.Context) health.ComponentHealth {
		return health.ComponentHealth{
			Status:  health.StatusUp,
			Message: fmt.Sprintf("%d chunks indexed", engine.Size()),
		}
	})
	checker.Register("redis", func(ctx context.Context) health.ComponentHealth {
		if redisClient == nil {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: "not configured"}
		}
		if err := redisClient.Ping(ctx); err != nil {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: err.Error()}
		}
		return health.ComponentHealth{Status: health.StatusUp}
	})
	checker.Register("postgres", func(ctx context.Context) health.ComponentHealth {
		if db == nil {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: "not configured"}
		}
		if err := db.Ping(ctx); err != nil {
			return health.ComponentHealth{Status: health.StatusDown, Message: err.Error()}
		}
		return health.ComponentHealth{Status: health.StatusUp}
	})

	h := server.New(engine, queue, arch, searchCache, cfg.Retrieval, m)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/documents", h.Ingest)
	mux.HandleFunc("GET /api/v1/search", h.Search)
	mux.HandleFunc("POST /api/v1/ask", h.Ask)
	mux.HandleFunc("GET /api/v1/index/stats", h.IndexStats)
	mux.HandleFunc("POST /api/v1/index/reload", h.IndexReload)
	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.CacheInvalidate)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	chain = middleware.Timeout(cfg.Server.WriteTimeout)(chain)
	if m != nil {
		chain = middleware.Metrics(m)(chain)
	}
	chain = middleware.RequestID(chain)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// With queued ingest the worker process owns the index files; poll them
	// so its writes become searchable here without a restart.
	if cfg.Kafka.Enabled {
		go engine.WatchPersisted(ctx, cfg.Engine.ReloadInterval)
		slog.Info("index watcher started", "interval", cfg.Engine.ReloadInterval)
	}

	if cfg.Metrics.Enabled {
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			_ = shutdownMetrics(shutdownCtx)
		}()
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("lexrag service listening", "addr", httpServer.Addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("lexrag service stopped")
}
