// Command loadcorpus bulk-loads a directory of .txt files into the index.
// Files are ingested one at a time in name order; a file that fails is
// counted and skipped so one bad document never aborts a corpus load.
//
// Usage:
//
//	go run ./cmd/loadcorpus -dir corpus/ [-config configs/development.yaml]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/lexigraph/lexrag/internal/archive"
	"github.com/lexigraph/lexrag/internal/rag"
	"github.com/lexigraph/lexrag/internal/rag/capability"
	"github.com/lexigraph/lexrag/pkg/config"
	apperrors "github.com/lexigraph/lexrag/pkg/errors"
	"github.com/lexigraph/lexrag/pkg/logger"
	"github.com/lexigraph/lexrag/pkg/postgres"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	dir := flag.String("dir", "", "directory of .txt files to ingest")
	flag.Parse()
	_ = godotenv.Load()

	if *dir == "" {
		fmt.Fprintln(os.Stderr, "usage: loadcorpus -dir <corpus directory> [-config <path>]")
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)

	openaiClient, err := capability.NewOpenAIClient(os.Getenv("OPENAI_API_KEY"), cfg.OpenAI)
	if err != nil {
		slog.Error("failed to create openai client", "error", err)
		os.Exit(1)
	}
	engine, err := rag.NewEngine(cfg.Engine, cfg.Retrieval, cfg.Answer, rag.Options{
		Embedder: openaiClient,
	})
	if err != nil {
		slog.Error("failed to create engine", "error", err)
		os.Exit(1)
	}

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
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	files, err := listTextFiles(*dir)
	if err != nil {
		slog.Error("failed to list corpus directory", "dir", *dir, "error", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		slog.Warn("no .txt files found", "dir", *dir)
		return
	}
	slog.Info("loading corpus", "dir", *dir, "files", len(files), "existing_chunks", engine.Size())

	start := time.Now()
	loaded, skipped, failed := 0, 0, 0
	for _, path := range files {
		if ctx.Err() != nil {
			slog.Warn("interrupted, stopping corpus load")
			break
		}
		name := filepath.Base(path)
		data, err := os.ReadFile(path)
		if err != nil {
			slog.Error("failed to read file", "file", name, "error", err)
			failed++
			continue
		}
		content := string(data)

		var docID string
		if arch != nil {
			id, err := arch.Store(ctx, name, content)
			switch {
			case errors.Is(err, apperrors.ErrDocumentExists):
				if rec, recErr := arch.Get(ctx, id); recErr == nil && rec != nil && rec.Status == "INDEXED" {
					slog.Info("already indexed, skipping", "file", name, "doc_id", id)
					skipped++
					continue
				}
			case err != nil:
				slog.Error("failed to archive file", "file", name, "error", err)
				failed++
				continue
			}
			docID = id
		}

		chunks, err := engine.AddDocument(ctx, content, name)
		if err != nil {
			if arch != nil && docID != "" {
				arch.MarkFailed(ctx, docID)
			}
			slog.Error("failed to index file", "file", name, "error", err)
			failed++
			continue
		}
		if arch != nil && docID != "" {
			arch.MarkIndexed(ctx, docID, chunks)
		}
		slog.Info("file indexed", "file", name, "chunks", chunks)
		loaded++
	}

	slog.Info("corpus load finished",
		"loaded", loaded,
		"skipped", skipped,
		"failed", failed,
		"total_chunks", engine.Size(),
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	if failed > 0 {
		os.Exit(1)
	}
}

// listTextFiles returns the .txt files directly under dir, sorted by name.
func listTextFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.EqualFold(filepath.Ext(entry.Name()), ".txt") {
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}
