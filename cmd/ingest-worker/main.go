// Command ingest-worker drains the document-ingest Kafka topic into the
// engine. It consumes one message at a time: appends are strictly ordered and
// a failed document is redelivered without affecting its neighbors. Raw
// documents are archived to PostgreSQL when configured.
//
// Usage:
//
//	go run ./cmd/ingest-worker [-config configs/development.yaml]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/lexigraph/lexrag/internal/archive"
	"github.com/lexigraph/lexrag/internal/ingest"
	"github.com/lexigraph/lexrag/internal/rag"
	"github.com/lexigraph/lexrag/internal/rag/cache"
	"github.com/lexigraph/lexrag/internal/rag/capability"
	"github.com/lexigraph/lexrag/pkg/config"
	"github.com/lexigraph/lexrag/pkg/kafka"
	"github.com/lexigraph/lexrag/pkg/logger"
	"github.com/lexigraph/lexrag/pkg/metrics"
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
	slog.Info("starting ingest worker",
		"topic", cfg.Kafka.Topics.DocumentIngest,
		"group", cfg.Kafka.ConsumerGroup,
	)

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	openaiClient, err := capability.NewOpenAIClient(os.Getenv("OPENAI_API_KEY"), cfg.OpenAI)
	if err != nil {
		slog.Error("failed to create openai client", "error", err)
		os.Exit(1)
	}

	// The worker only writes; it never reranks or generates.
	engine, err := rag.NewEngine(cfg.Engine, cfg.Retrieval, cfg.Answer, rag.Options{
		Embedder: openaiClient,
		Metrics:  m,
	})
	if err != nil {
		slog.Error("failed to create engine", "error", err)
		os.Exit(1)
	}
	slog.Info("engine ready", "chunks", engine.Size(), "data_dir", cfg.Engine.DataDir)

	var arch *archive.Archive
	if cfg.Postgres.Enabled {
		db, err := postgres.New(cfg.Postgres)
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
	if cfg.Redis.Enabled {
		redisClient, err := pkgredis.NewClient(cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, cache invalidation disabled", "error", err)
		} else {
			defer redisClient.Close()
			searchCache = cache.New(redisClient, cfg.Redis, m)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.Enabled {
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			_ = shutdownMetrics(shutdownCtx)
		}()
	}

	handler := ingest.HandleMessage(engine, arch, searchCache)
	kafkaConsumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.DocumentIngest, handler)
	consumer := ingest.NewConsumer(kafkaConsumer)

	slog.Info("ingest worker ready, consuming from kafka")
	if err := consumer.Start(ctx); err != nil {
		slog.Error("consumer error", "error", err)
	}
	slog.Info("ingest worker stopped", "chunks", engine.Size())
}
