package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lexigraph/lexrag/internal/archive"
	"github.com/lexigraph/lexrag/pkg/kafka"
	"github.com/lexigraph/lexrag/pkg/logger"
)

// Queue publishes document events to the ingest topic. The event key is the
// content hash, so retried enqueues of the same document land on the same
// partition.
type Queue struct {
	producer *kafka.Producer
	logger   *slog.Logger
}

// NewQueue creates a Queue over a Kafka producer.
func NewQueue(producer *kafka.Producer) *Queue {
	return &Queue{
		producer: producer,
		logger:   logger.WithComponent("ingest-queue"),
	}
}

// Enqueue publishes a document for asynchronous indexing.
func (q *Queue) Enqueue(ctx context.Context, req *DocumentRequest) error {
	event := kafka.Event{
		Key: archive.ContentHash(req.Content),
		Value: DocumentEvent{
			Filename:   req.Filename,
			Content:    req.Content,
			EnqueuedAt: time.Now().UTC(),
		},
	}
	if err := q.producer.Publish(ctx, event); err != nil {
		return fmt.Errorf("enqueueing document %s: %w", req.Filename, err)
	}
	q.logger.Info("document enqueued", "filename", req.Filename, "size", len(req.Content))
	return nil
}
