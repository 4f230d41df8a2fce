// Package archive persists raw ingested documents to PostgreSQL. The index
// on disk stores only chunks; the archive keeps the full original text so the
// corpus can be re-chunked and re-indexed after a parameter change. Writes
// are idempotent on the SHA-256 content hash: re-ingesting identical text is
// detected and skipped rather than duplicated in the index.
package archive

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	apperrors "github.com/lexigraph/lexrag/pkg/errors"
	"github.com/lexigraph/lexrag/pkg/logger"
	"github.com/lexigraph/lexrag/pkg/postgres"
)

// Record describes an archived document row.
type Record struct {
	ID          string
	Filename    string
	ContentHash string
	ContentSize int
	Status      string
	ChunkCount  int
	IngestedAt  time.Time
}

// Archive stores raw documents with content-hash idempotency.
type Archive struct {
	db     *postgres.Client
	logger *slog.Logger
}

// New creates an Archive over an open Postgres client.
func New(db *postgres.Client) *Archive {
	return &Archive{
		db:     db,
		logger: logger.WithComponent("archive"),
	}
}

// EnsureSchema creates the documents table if it does not exist.
func (a *Archive) EnsureSchema(ctx context.Context) error {
	_, err := a.db.DB.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS documents (
			id           BIGSERIAL PRIMARY KEY,
			filename     TEXT NOT NULL,
			content      TEXT NOT NULL,
			content_hash CHAR(64) NOT NULL UNIQUE,
			content_size INTEGER NOT NULL,
			status       TEXT NOT NULL DEFAULT 'PENDING',
			chunk_count  INTEGER NOT NULL DEFAULT 0,
			ingested_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			indexed_at   TIMESTAMPTZ
		)`)
	if err != nil {
		return fmt.Errorf("creating documents table: %w", err)
	}
	return nil
}

// Store inserts the document unless an identical one (by content hash) is
// already archived. A duplicate returns the existing row ID together with an
// error wrapping ErrDocumentExists; callers decide whether to skip or
// re-index based on the record's status.
func (a *Archive) Store(ctx context.Context, filename, content string) (string, error) {
	hash := ContentHash(content)

	var id string
	duplicate := false
	err := a.db.InTx(ctx, func(tx *sql.Tx) error {
		scanErr := tx.QueryRowContext(ctx,
			`INSERT INTO documents (filename, content, content_hash, content_size)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (content_hash) DO NOTHING
			 RETURNING id`,
			filename, content, hash, len(content)).Scan(&id)
		if scanErr == sql.ErrNoRows {
			duplicate = true
			return tx.QueryRowContext(ctx,
				`SELECT id FROM documents WHERE content_hash = $1`, hash).Scan(&id)
		}
		return scanErr
	})
	if err != nil {
		return "", fmt.Errorf("archiving document %s: %w", filename, err)
	}
	if duplicate {
		a.logger.Info("duplicate content detected, skipping archive insert",
			"filename", filename,
			"existing_id", id,
		)
		return id, fmt.Errorf("%w: content hash %s", apperrors.ErrDocumentExists, hash)
	}
	return id, nil
}

// MarkIndexed records a successful index pass for the document.
func (a *Archive) MarkIndexed(ctx context.Context, id string, chunkCount int) {
	a.setStatus(ctx, id, "INDEXED", chunkCount)
}

// MarkFailed records an indexing failure for the document.
func (a *Archive) MarkFailed(ctx context.Context, id string) {
	a.setStatus(ctx, id, "FAILED", 0)
}

func (a *Archive) setStatus(ctx context.Context, id, status string, chunkCount int) {
	_, err := a.db.DB.ExecContext(ctx,
		`UPDATE documents SET status = $1, chunk_count = $2, indexed_at = NOW() WHERE id = $3`,
		status, chunkCount, id,
	)
	if err != nil {
		a.logger.Error("failed to update document status",
			"doc_id", id,
			"status", status,
			"error", err,
		)
	}
}

// Get returns the archived record for a document ID, without its content.
func (a *Archive) Get(ctx context.Context, id string) (*Record, error) {
	var rec Record
	err := a.db.DB.QueryRowContext(ctx,
		`SELECT id, filename, content_hash, content_size, status, chunk_count, ingested_at
		 FROM documents WHERE id = $1`, id).
		Scan(&rec.ID, &rec.Filename, &rec.ContentHash, &rec.ContentSize, &rec.Status, &rec.ChunkCount, &rec.IngestedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying document %s: %w", id, err)
	}
	return &rec, nil
}

// ContentHash returns the hex SHA-256 of the document text.
func ContentHash(content string) string {
	return fmt.Sprintf("%x", sha256.Sum256([]byte(content)))
}
