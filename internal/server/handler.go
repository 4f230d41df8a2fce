// Package server exposes the engine over HTTP: document ingest (synchronous
// or queued), hybrid search, question answering, and cache administration.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/lexigraph/lexrag/internal/archive"
	"github.com/lexigraph/lexrag/internal/ingest"
	"github.com/lexigraph/lexrag/internal/rag"
	"github.com/lexigraph/lexrag/internal/rag/answer"
	"github.com/lexigraph/lexrag/internal/rag/cache"
	"github.com/lexigraph/lexrag/internal/rag/retriever"
	"github.com/lexigraph/lexrag/pkg/config"
	apperrors "github.com/lexigraph/lexrag/pkg/errors"
	"github.com/lexigraph/lexrag/pkg/logger"
	"github.com/lexigraph/lexrag/pkg/metrics"
)

// Handler serves the engine's HTTP API. queue, arch, searchCache, and m may
// all be nil; each absent collaborator degrades its feature rather than the
// whole service.
type Handler struct {
	engine      *rag.Engine
	queue       *ingest.Queue
	arch        *archive.Archive
	searchCache *cache.SearchCache
	retCfg      config.RetrievalConfig
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

// New creates a Handler.
func New(engine *rag.Engine, queue *ingest.Queue, arch *archive.Archive, searchCache *cache.SearchCache, retCfg config.RetrievalConfig, m *metrics.Metrics) *Handler {
	return &Handler{
		engine:      engine,
		queue:       queue,
		arch:        arch,
		searchCache: searchCache,
		retCfg:      retCfg,
		metrics:     m,
		logger:      logger.WithComponent("http-handler"),
	}
}

// Ingest accepts a document. With a queue configured it enqueues and returns
// 202; otherwise the document is archived and indexed synchronously.
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	var req ingest.DocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := ingest.ValidateDocumentRequest(&req); err != nil {
		var validationErr *ingest.ValidationError
		if errors.As(err, &validationErr) {
			h.writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":  "validation failed",
				"fields": validationErr.Fields,
			})
			return
		}
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if h.queue != nil {
		if err := h.queue.Enqueue(ctx, &req); err != nil {
			log.Error("enqueue failed", "filename", req.Filename, "error", err)
			h.writeError(w, http.StatusServiceUnavailable, "ingest queue unavailable")
			return
		}
		h.writeJSON(w, http.StatusAccepted, ingest.DocumentResponse{
			Filename: req.Filename,
			Status:   "QUEUED",
		})
		return
	}

	var docID string
	if h.arch != nil {
		id, err := h.arch.Store(ctx, req.Filename, req.Content)
		switch {
		case errors.Is(err, apperrors.ErrDocumentExists):
			// A duplicate that already indexed is acknowledged; one stuck in
			// PENDING or FAILED falls through and is indexed again.
			if rec, recErr := h.arch.Get(ctx, id); recErr == nil && rec != nil && rec.Status == "INDEXED" {
				h.writeJSON(w, http.StatusOK, ingest.DocumentResponse{
					DocumentID: id,
					Filename:   req.Filename,
					Status:     rec.Status,
					Chunks:     rec.ChunkCount,
					Duplicate:  true,
				})
				return
			}
		case err != nil:
			log.Error("archiving failed", "filename", req.Filename, "error", err)
			h.writeError(w, http.StatusInternalServerError, "archiving failed")
			return
		}
		docID = id
	}

	chunks, err := h.engine.AddDocument(ctx, req.Content, req.Filename)
	if err != nil {
		if h.arch != nil && docID != "" {
			h.arch.MarkFailed(ctx, docID)
		}
		statusCode := apperrors.HTTPStatusCode(err)
		log.Error("ingest failed",
			"filename", req.Filename,
			"status_code", statusCode,
			"error", err,
		)
		h.writeError(w, statusCode, "ingest failed")
		return
	}
	if h.arch != nil && docID != "" {
		h.arch.MarkIndexed(ctx, docID, chunks)
	}
	h.invalidateCache(r)

	log.Info("document ingested",
		"filename", req.Filename,
		"chunks", chunks,
		"total_chunks", h.engine.Size(),
	)
	h.writeJSON(w, http.StatusCreated, ingest.DocumentResponse{
		DocumentID: docID,
		Filename:   req.Filename,
		Status:     "INDEXED",
		Chunks:     chunks,
	})
}

// searchResponse is the JSON body for GET /api/v1/search.
type searchResponse struct {
	Query   string                `json:"query"`
	Results []retriever.Candidate `json:"results"`
	Total   int                   `json:"total"`
}

// Search runs hybrid retrieval. Query parameters: q (required), top_k,
// weight.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	log := logger.FromContext(ctx)

	query := r.URL.Query().Get("q")
	if query == "" {
		h.writeError(w, http.StatusBadRequest, "query parameter 'q' is required")
		return
	}
	topK, ok := h.parseTopK(w, r)
	if !ok {
		return
	}
	weight := h.retCfg.SemanticWeight
	if weightStr := r.URL.Query().Get("weight"); weightStr != "" {
		parsed, err := strconv.ParseFloat(weightStr, 64)
		if err != nil || parsed < 0 || parsed > 1 {
			h.writeError(w, http.StatusBadRequest, "weight must be a number in [0,1]")
			return
		}
		weight = parsed
	}

	var candidates []retriever.Candidate
	var err error
	cacheHit := false

	if h.searchCache != nil {
		candidates, cacheHit, err = h.searchCache.GetOrCompute(ctx, query, topK, weight, func() ([]retriever.Candidate, error) {
			return h.engine.Search(ctx, query, topK, weight)
		})
	} else {
		candidates, err = h.engine.Search(ctx, query, topK, weight)
	}
	if err != nil {
		statusCode := apperrors.HTTPStatusCode(err)
		log.Error("search failed", "query", query, "status_code", statusCode, "error", err)
		h.writeError(w, statusCode, "search failed")
		return
	}

	h.observeSearchLatency(cacheHit, time.Since(start))
	log.Info("search completed",
		"query", query,
		"returned", len(candidates),
		"cache_hit", cacheHit,
		"latency_ms", time.Since(start).Milliseconds(),
	)
	h.writeJSON(w, http.StatusOK, searchResponse{
		Query:   query,
		Results: candidates,
		Total:   len(candidates),
	})
}

// askRequest is the JSON body for POST /api/v1/ask.
type askRequest struct {
	Question string `json:"question"`
	TopK     int    `json:"top_k"`
}

// askResponse pairs the answer with the candidates it was grounded in.
type askResponse struct {
	Answer  string                `json:"answer"`
	Mode    answer.Mode           `json:"mode"`
	Sources []retriever.Candidate `json:"sources"`
}

// Ask retrieves candidates for the question and returns a grounded answer.
func (h *Handler) Ask(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	log := logger.FromContext(ctx)

	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Question == "" {
		h.writeError(w, http.StatusBadRequest, "question is required")
		return
	}

	result, sources, err := h.engine.Answer(ctx, req.Question, req.TopK)
	if err != nil {
		statusCode := apperrors.HTTPStatusCode(err)
		log.Error("ask failed", "question", req.Question, "status_code", statusCode, "error", err)
		h.writeError(w, statusCode, "ask failed")
		return
	}

	log.Info("question answered",
		"question", req.Question,
		"mode", result.Mode,
		"sources", len(sources),
		"latency_ms", time.Since(start).Milliseconds(),
	)
	h.writeJSON(w, http.StatusOK, askResponse{
		Answer:  result.Answer,
		Mode:    result.Mode,
		Sources: sources,
	})
}

// IndexReload re-reads the persisted index from disk, picking up documents
// indexed by another process.
func (h *Handler) IndexReload(w http.ResponseWriter, r *http.Request) {
	chunks, err := h.engine.Reload()
	if err != nil {
		h.logger.Error("index reload failed", "error", err)
		h.writeError(w, apperrors.HTTPStatusCode(err), "index reload failed")
		return
	}
	h.invalidateCache(r)
	h.writeJSON(w, http.StatusOK, map[string]any{"chunks": chunks})
}

// IndexStats reports the current index size.
func (h *Handler) IndexStats(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{
		"chunks": h.engine.Size(),
	})
}

// CacheStats reports search-cache hit/miss counters.
func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.searchCache == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}
	hits, misses := h.searchCache.Stats()
	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"hits":     hits,
		"misses":   misses,
		"total":    total,
		"hit_rate": strconv.FormatFloat(hitRate, 'f', 1, 64) + "%",
	})
}

// CacheInvalidate drops every cached search result.
func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.searchCache == nil {
		h.writeError(w, http.StatusServiceUnavailable, "caching is disabled")
		return
	}
	if err := h.searchCache.Invalidate(r.Context()); err != nil {
		h.logger.Error("cache invalidation failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "cache invalidation failed")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

func (h *Handler) parseTopK(w http.ResponseWriter, r *http.Request) (int, bool) {
	topK := 0
	if topKStr := r.URL.Query().Get("top_k"); topKStr != "" {
		parsed, err := strconv.Atoi(topKStr)
		if err != nil || parsed < 1 {
			h.writeError(w, http.StatusBadRequest, "top_k must be a positive integer")
			return 0, false
		}
		topK = parsed
	}
	return topK, true
}

func (h *Handler) invalidateCache(r *http.Request) {
	if h.searchCache == nil {
		return
	}
	if err := h.searchCache.Invalidate(r.Context()); err != nil {
		h.logger.Error("cache invalidation after ingest failed", "error", err)
	}
}

func (h *Handler) observeSearchLatency(cacheHit bool, elapsed time.Duration) {
	if h.metrics == nil {
		return
	}
	status := "miss"
	if cacheHit {
		status = "hit"
	}
	h.metrics.SearchLatency.WithLabelValues(status).Observe(elapsed.Seconds())
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
