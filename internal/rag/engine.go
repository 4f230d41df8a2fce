// Package rag wires the chunker, ledger, retriever, and answerer into the
// retrieval-augmented generation engine. The engine owns the only writer
// lock: appends to the position-aligned triple are serialized against index
// reads, while the slow external calls (embedding, reranking, generation)
// always run outside that lock.
package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/lexigraph/lexrag/internal/rag/answer"
	"github.com/lexigraph/lexrag/internal/rag/capability"
	"github.com/lexigraph/lexrag/internal/rag/chunker"
	"github.com/lexigraph/lexrag/internal/rag/ledger"
	"github.com/lexigraph/lexrag/internal/rag/retriever"
	"github.com/lexigraph/lexrag/internal/rag/tokenizer"
	"github.com/lexigraph/lexrag/pkg/config"
	apperrors "github.com/lexigraph/lexrag/pkg/errors"
	"github.com/lexigraph/lexrag/pkg/logger"
	"github.com/lexigraph/lexrag/pkg/metrics"
)

// Engine is the retrieval-augmented generation engine.
type Engine struct {
	mu        sync.RWMutex
	ledger    *ledger.Ledger
	chunker   *chunker.Chunker
	retriever *retriever.Retriever
	answerer  *answer.Answerer
	embedder  capability.Embedder
	retCfg    config.RetrievalConfig
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// Options carries the injected capabilities and optional collaborators.
// Reranker and Metrics may be nil.
type Options struct {
	Embedder  capability.Embedder
	Reranker  capability.Reranker
	Generator capability.Generator
	Metrics   *metrics.Metrics
}

// NewEngine builds an engine from config and capabilities, loading any
// persisted index. Corrupted or inconsistent persisted files are logged and
// discarded: the engine starts empty rather than serve misaligned results.
func NewEngine(engCfg config.EngineConfig, retCfg config.RetrievalConfig, ansCfg config.AnswerConfig, opts Options) (*Engine, error) {
	if opts.Embedder == nil {
		return nil, fmt.Errorf("embedder capability is required")
	}

	lg := ledger.New(engCfg.DataDir, engCfg.BM25K1, engCfg.BM25B)
	log := logger.WithComponent("rag-engine")
	if err := lg.Load(); err != nil {
		if errors.Is(err, apperrors.ErrIndexUnavailable) {
			log.Warn("persisted index refused, starting empty", "error", err)
		} else {
			return nil, fmt.Errorf("loading persisted index: %w", err)
		}
	}

	e := &Engine{
		ledger:    lg,
		chunker:   chunker.New(engCfg.ChunkMaxChars, engCfg.ChunkMinChars),
		retriever: retriever.New(lg, opts.Reranker, retCfg),
		answerer:  answer.New(opts.Generator, ansCfg),
		embedder:  opts.Embedder,
		retCfg:    retCfg,
		metrics:   opts.Metrics,
		logger:    log,
	}
	if e.metrics != nil {
		e.metrics.IndexChunks.Set(float64(lg.Len()))
	}
	log.Info("engine initialized", "chunks", lg.Len(), "data_dir", engCfg.DataDir)
	return e, nil
}

// AddDocument chunks, embeds, and indexes one document's text, then persists
// the index. It returns the number of chunks indexed. Empty input and
// embedding failures leave the index untouched; batch loaders count the
// returned error rather than abort.
func (e *Engine) AddDocument(ctx context.Context, text, filename string) (int, error) {
	start := time.Now()
	if filename == "" {
		filename = ledger.UnknownDocument
	}

	pieces, err := e.chunker.Split(text)
	if err != nil {
		e.countIngestFailure("invalid_input")
		return 0, fmt.Errorf("chunking %s: %w", filename, err)
	}

	// Embedding is the slow call; it happens before any lock is taken so a
	// multi-second model round trip never blocks searches.
	embeddings, err := e.embedder.Embed(ctx, pieces)
	if err != nil {
		e.countIngestFailure("embedding")
		e.countEmbed("error")
		return 0, fmt.Errorf("embedding %s: %w", filename, err)
	}
	e.countEmbed("ok")

	chunks := make([]ledger.Chunk, len(pieces))
	for i, p := range pieces {
		chunks[i] = ledger.Chunk{Filename: filename, Content: p}
	}

	e.mu.Lock()
	positions, err := e.ledger.Append(chunks, embeddings)
	if err != nil {
		e.mu.Unlock()
		e.countIngestFailure("append")
		return 0, fmt.Errorf("appending %s: %w", filename, err)
	}
	// Save stays inside the critical section: it must observe the
	// fully-appended state, never one with a concurrent append in flight.
	saveErr := e.ledger.Save()
	size := e.ledger.Len()
	e.mu.Unlock()

	if saveErr != nil {
		e.countIngestFailure("persistence")
		e.countSave("error")
		return 0, fmt.Errorf("persisting index after %s: %w", filename, saveErr)
	}
	e.countSave("ok")

	if e.metrics != nil {
		e.metrics.DocsIngestedTotal.Inc()
		e.metrics.ChunksIndexedTotal.Add(float64(len(positions)))
		e.metrics.IndexChunks.Set(float64(size))
		e.metrics.IngestDuration.Observe(time.Since(start).Seconds())
	}
	e.logger.Info("document indexed",
		"filename", filename,
		"chunks", len(positions),
		"total_chunks", size,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	return len(positions), nil
}

// Search runs hybrid retrieval for the query. topK is clamped to the
// configured bounds; a semanticWeight outside [0,1] selects the configured
// default. An empty corpus returns an empty list and no error.
func (e *Engine) Search(ctx context.Context, query string, topK int, semanticWeight float64) ([]retriever.Candidate, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: empty query", apperrors.ErrInvalidInput)
	}
	topK = e.clampTopK(topK)
	if semanticWeight < 0 || semanticWeight > 1 {
		semanticWeight = e.retCfg.SemanticWeight
	}

	if e.ledger.Len() == 0 {
		e.countSearch("empty_corpus")
		return []retriever.Candidate{}, nil
	}

	vecs, err := e.embedder.Embed(ctx, []string{query})
	if err != nil {
		e.countSearch("error")
		e.countEmbed("error")
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	e.countEmbed("ok")
	if len(vecs) != 1 {
		e.countSearch("error")
		return nil, fmt.Errorf("%w: embedder returned %d vectors for one query", apperrors.ErrCapabilityFailure, len(vecs))
	}

	queryTokens := tokenizer.Tokenize(query)

	e.mu.RLock()
	candidates, err := e.retriever.Retrieve(vecs[0], queryTokens, topK, semanticWeight)
	e.mu.RUnlock()
	if err != nil {
		e.countSearch("error")
		return nil, fmt.Errorf("retrieving candidates: %w", err)
	}

	candidates, degraded := e.retriever.Rerank(ctx, query, candidates, topK)
	if degraded && e.metrics != nil {
		e.metrics.RerankDegradedTotal.Inc()
	}

	if len(candidates) == 0 {
		e.countSearch("zero_result")
	} else {
		e.countSearch("ok")
	}
	return candidates, nil
}

// Answer retrieves candidates for the query and synthesizes an answer over
// them. The result is always non-empty: an empty corpus or retrieval with no
// hits yields the fixed no-context message, and generation failures resolve
// to the structured fallback.
func (e *Engine) Answer(ctx context.Context, query string, topK int) (answer.Result, []retriever.Candidate, error) {
	candidates, err := e.Search(ctx, query, topK, e.retCfg.SemanticWeight)
	if err != nil {
		return answer.Result{}, nil, err
	}
	result := e.answerer.Answer(ctx, query, candidates)
	if e.metrics != nil {
		e.metrics.AnswersTotal.WithLabelValues(string(result.Mode)).Inc()
	}
	return result, candidates, nil
}

// Reload re-reads the persisted index, replacing the in-memory snapshot. It
// serves deployments where a separate worker process writes the index files
// this engine searches. A refused on-disk pair keeps the current snapshot
// and returns the error.
func (e *Engine) Reload() (int, error) {
	e.mu.Lock()
	size, err := e.ledger.Reload()
	e.mu.Unlock()
	if err != nil {
		return size, fmt.Errorf("reloading persisted index: %w", err)
	}
	if e.metrics != nil {
		e.metrics.IndexChunks.Set(float64(size))
	}
	return size, nil
}

// WatchPersisted polls the persisted generation every interval and reloads
// when another process has saved a new index. It blocks until ctx is
// cancelled. The queued-ingest topology runs this in the serving process so
// documents indexed by the worker become searchable without a restart.
func (e *Engine) WatchPersisted(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	gen := e.ledger.Generation()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			next := e.ledger.Generation()
			if next == gen {
				continue
			}
			size, err := e.Reload()
			if err != nil {
				// A torn write between the two renames resolves on a
				// later tick; gen stays unchanged so the reload retries.
				e.logger.Warn("index reload failed, keeping current snapshot", "error", err)
				continue
			}
			gen = e.ledger.Generation()
			e.logger.Info("index reloaded from disk", "chunks", size)
		}
	}
}

// Size returns the number of indexed chunks.
func (e *Engine) Size() int {
	return e.ledger.Len()
}

// Chunks returns a copy of the document store, for diagnostics and tests.
func (e *Engine) Chunks() []ledger.Chunk {
	return e.ledger.Chunks()
}

func (e *Engine) clampTopK(topK int) int {
	if topK <= 0 {
		topK = e.retCfg.DefaultTopK
	}
	if topK <= 0 {
		topK = 3
	}
	if e.retCfg.MaxTopK > 0 && topK > e.retCfg.MaxTopK {
		topK = e.retCfg.MaxTopK
	}
	return topK
}

func (e *Engine) countIngestFailure(reason string) {
	if e.metrics != nil {
		e.metrics.IngestFailuresTotal.WithLabelValues(reason).Inc()
	}
}

func (e *Engine) countSearch(outcome string) {
	if e.metrics != nil {
		e.metrics.SearchesTotal.WithLabelValues(outcome).Inc()
	}
}

func (e *Engine) countEmbed(status string) {
	if e.metrics != nil {
		e.metrics.EmbedCallsTotal.WithLabelValues(status).Inc()
	}
}

func (e *Engine) countSave(status string) {
	if e.metrics != nil {
		e.metrics.IndexSaveTotal.WithLabelValues(status).Inc()
	}
}
