// Package retriever implements hybrid retrieval: dense-vector candidates are
// fetched with over-sampling, scored lexically with BM25, and the two signals
// are fused into one ranking. An optional reranker re-scores the head of the
// fused list; reranker failure silently degrades to the fused order.
package retriever

import (
	"context"
	"log/slog"
	"sort"

	"github.com/lexigraph/lexrag/internal/rag/capability"
	"github.com/lexigraph/lexrag/internal/rag/ledger"
	"github.com/lexigraph/lexrag/pkg/config"
	"github.com/lexigraph/lexrag/pkg/logger"
	"github.com/lexigraph/lexrag/pkg/resilience"
)

// Candidate is a transient retrieval result. Score semantics change across
// pipeline stages (raw similarity, fused hybrid score, reranker score) and
// must not be compared across stages.
type Candidate struct {
	Content  string  `json:"content"`
	Filename string  `json:"filename"`
	Score    float64 `json:"score"`
	Position int     `json:"position"`
}

// overFetchFactor controls how many fused candidates are produced per
// requested result, leaving headroom for the reranker to reorder.
const overFetchFactor = 3

// Retriever fuses vector and lexical rankings over a ledger. It holds no
// locks of its own: the engine serializes Retrieve against appends.
type Retriever struct {
	ledger   *ledger.Ledger
	reranker capability.Reranker
	cfg      config.RetrievalConfig
	logger   *slog.Logger
}

// New creates a Retriever. reranker may be nil, in which case the fused
// order is final.
func New(lg *ledger.Ledger, reranker capability.Reranker, cfg config.RetrievalConfig) *Retriever {
	return &Retriever{
		ledger:   lg,
		reranker: reranker,
		cfg:      cfg,
		logger:   logger.WithComponent("retriever"),
	}
}

// Retrieve returns fused candidates for an already-embedded query, sorted by
// fused score descending with ties broken by position. The list is
// over-fetched (up to 3·topK) and NOT truncated; Rerank finishes the
// pipeline. An empty corpus yields an empty list and no error.
func (r *Retriever) Retrieve(queryVec []float32, queryTokens []string, topK int, semanticWeight float64) ([]Candidate, error) {
	corpusSize := r.ledger.Len()
	if corpusSize == 0 || topK <= 0 {
		return []Candidate{}, nil
	}

	candidateK := topK * overFetchFactor
	if candidateK > corpusSize {
		candidateK = corpusSize
	}

	hits, err := r.ledger.Vectors().Search(queryVec, candidateK)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return []Candidate{}, nil
	}

	// Per-query normalization: distances scale to [0,1] similarity against
	// the batch maximum, never a global constant.
	maxDist := 0.0
	for _, h := range hits {
		if h.Distance > maxDist {
			maxDist = h.Distance
		}
	}

	positions := make([]int, len(hits))
	for i, h := range hits {
		positions[i] = h.Position
	}
	bm25 := r.ledger.Lexical().ScoreBatch(queryTokens, positions)
	maxBM25 := 0.0
	for _, s := range bm25 {
		if s > maxBM25 {
			maxBM25 = s
		}
	}

	candidates := make([]Candidate, 0, len(hits))
	for i, h := range hits {
		similarity := 1.0
		if maxDist > 0 {
			similarity = 1 - h.Distance/maxDist
		}
		bmNorm := 0.0
		if maxBM25 > 0 {
			bmNorm = bm25[i] / maxBM25
		}
		fused := semanticWeight*similarity + (1-semanticWeight)*bmNorm

		chunk, ok := r.ledger.Chunk(h.Position)
		if !ok {
			continue
		}
		candidates = append(candidates, Candidate{
			Content:  chunk.Content,
			Filename: chunk.Filename,
			Score:    fused,
			Position: h.Position,
		})
	}
	sortByScore(candidates)
	return candidates, nil
}

// Rerank re-scores the top candidates via the external reranker, REPLACING
// their fused scores, then re-sorts and truncates to topK. The call is
// bounded by the configured rerank timeout. When the reranker is absent,
// fails, or times out, the fused order stands; the degrade is logged, never
// surfaced as an error.
func (r *Retriever) Rerank(ctx context.Context, query string, candidates []Candidate, topK int) ([]Candidate, bool) {
	if len(candidates) == 0 {
		return candidates, false
	}
	degraded := false
	if r.reranker != nil && r.cfg.RerankEnabled {
		depth := r.cfg.RerankDepth
		if depth <= 0 {
			depth = 10
		}
		if depth > len(candidates) {
			depth = len(candidates)
		}
		passages := make([]string, depth)
		for i := 0; i < depth; i++ {
			passages[i] = candidates[i].Content
		}
		var scores []float64
		err := resilience.WithTimeout(ctx, r.cfg.RerankTimeout, "rerank", func(ctx context.Context) error {
			var rerankErr error
			scores, rerankErr = r.reranker.Rerank(ctx, query, passages)
			return rerankErr
		})
		switch {
		case err != nil:
			r.logger.Warn("reranker failed, serving fused order", "error", err)
			degraded = true
		case len(scores) != depth:
			r.logger.Warn("reranker returned wrong score count, serving fused order",
				"want", depth, "got", len(scores))
			degraded = true
		default:
			for i := 0; i < depth; i++ {
				candidates[i].Score = scores[i]
			}
			sortByScore(candidates)
		}
	}
	if topK > 0 && len(candidates) > topK {
		candidates = candidates[:topK]
	}
	return candidates, degraded
}

// sortByScore sorts descending by score with ties broken by original
// position, keeping rankings deterministic for identical index state.
func sortByScore(candidates []Candidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].Position < candidates[j].Position
	})
}
