package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lexigraph/lexrag/internal/archive"
	"github.com/lexigraph/lexrag/internal/rag"
	"github.com/lexigraph/lexrag/internal/rag/cache"
	apperrors "github.com/lexigraph/lexrag/pkg/errors"
	"github.com/lexigraph/lexrag/pkg/kafka"
	"github.com/lexigraph/lexrag/pkg/logger"
)

// Consumer wraps a Kafka consumer to drive the indexing pipeline.
type Consumer struct {
	consumer *kafka.Consumer
	logger   *slog.Logger
}

// NewConsumer creates a Consumer backed by the given Kafka consumer.
func NewConsumer(kafkaConsumer *kafka.Consumer) *Consumer {
	return &Consumer{
		consumer: kafkaConsumer,
		logger:   logger.WithComponent("ingest-consumer"),
	}
}

// Start begins consuming document events. It blocks until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("ingest consumer starting")
	return c.consumer.Start(ctx)
}

// HandleMessage returns a Kafka MessageHandler that archives and indexes each
// document event. arch and searchCache may be nil. Malformed events and
// invalid documents are logged and committed, never redelivered; transient
// failures (embedding, persistence) return an error so the message is
// redelivered.
func HandleMessage(engine *rag.Engine, arch *archive.Archive, searchCache *cache.SearchCache) kafka.MessageHandler {
	log := logger.WithComponent("ingest-consumer")
	return func(ctx context.Context, key []byte, value []byte) error {
		event, err := kafka.DecodeJSON[DocumentEvent](value)
		if err != nil {
			log.Error("failed to decode document event",
				"error", err,
				"key", string(key),
			)
			return nil
		}

		var docID string
		if arch != nil {
			id, err := arch.Store(ctx, event.Filename, event.Content)
			switch {
			case errors.Is(err, apperrors.ErrDocumentExists):
				if rec, recErr := arch.Get(ctx, id); recErr == nil && rec != nil && rec.Status == "INDEXED" {
					log.Info("document already indexed, skipping",
						"filename", event.Filename,
						"doc_id", id,
					)
					return nil
				}
			case err != nil:
				return fmt.Errorf("archiving %s: %w", event.Filename, err)
			}
			docID = id
		}

		chunks, err := engine.AddDocument(ctx, event.Content, event.Filename)
		if err != nil {
			if arch != nil && docID != "" {
				arch.MarkFailed(ctx, docID)
			}
			if errors.Is(err, apperrors.ErrInvalidInput) {
				log.Error("document rejected", "filename", event.Filename, "error", err)
				return nil
			}
			return fmt.Errorf("indexing %s: %w", event.Filename, err)
		}

		if arch != nil && docID != "" {
			arch.MarkIndexed(ctx, docID, chunks)
		}
		if searchCache != nil {
			if err := searchCache.Invalidate(ctx); err != nil {
				log.Error("cache invalidation after ingest failed", "error", err)
			}
		}

		log.Info("document indexed from queue",
			"filename", event.Filename,
			"doc_id", docID,
			"chunks", chunks,
			"total_chunks", engine.Size(),
		)
		return nil
	}
}
