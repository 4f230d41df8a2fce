// Package lexical implements an append-only inverted index with BM25 scoring
// over chunk positions. Document frequency comes from posting-list length, so
// scoring a candidate costs O(query terms · log postings) rather than a scan
// of the corpus.
package lexical

import (
	"math"
	"sort"
	"sync"
)

// Default BM25 parameters.
const (
	DefaultK1 = 1.5
	DefaultB  = 0.75
)

type posting struct {
	position int
	termFreq int
}

// Index maps terms to postings over chunk positions. Positions are assigned
// sequentially by Add and must stay aligned with the document store and the
// vector index.
type Index struct {
	mu          sync.RWMutex
	postings    map[string][]posting
	docLens     []int
	totalTokens int64
	k1          float64
	b           float64
}

// New creates an empty Index with the given BM25 parameters, substituting
// defaults for non-positive values.
func New(k1, b float64) *Index {
	if k1 <= 0 {
		k1 = DefaultK1
	}
	if b <= 0 {
		b = DefaultB
	}
	return &Index{
		postings: make(map[string][]posting),
		k1:       k1,
		b:        b,
	}
}

// Add appends one chunk's token bag at the next sequential position and
// returns that position.
func (ix *Index) Add(tokens []string) int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.addLocked(tokens)
}

// AddBatch appends several chunks' token bags in order.
func (ix *Index) AddBatch(tokenBags [][]string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	for _, tokens := range tokenBags {
		ix.addLocked(tokens)
	}
}

func (ix *Index) addLocked(tokens []string) int {
	position := len(ix.docLens)
	counts := make(map[string]int, len(tokens))
	for _, t := range tokens {
		counts[t]++
	}
	for term, tf := range counts {
		ix.postings[term] = append(ix.postings[term], posting{position: position, termFreq: tf})
	}
	ix.docLens = append(ix.docLens, len(tokens))
	ix.totalTokens += int64(len(tokens))
	return position
}

// Score computes the BM25 score of the chunk at the given position against
// the query tokens. Duplicate query terms are counted once. An empty corpus
// or unknown position scores 0; this is a normal state, not an error.
func (ix *Index) Score(queryTokens []string, position int) float64 {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.scoreLocked(queryTokens, position)
}

// ScoreBatch computes BM25 scores for several positions under one read lock.
// The result is index-aligned with positions.
func (ix *Index) ScoreBatch(queryTokens []string, positions []int) []float64 {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	scores := make([]float64, len(positions))
	for i, pos := range positions {
		scores[i] = ix.scoreLocked(queryTokens, pos)
	}
	return scores
}

func (ix *Index) scoreLocked(queryTokens []string, position int) float64 {
	n := len(ix.docLens)
	if n == 0 || position < 0 || position >= n {
		return 0
	}
	avgdl := float64(ix.totalTokens) / float64(n)
	docLen := float64(ix.docLens[position])

	var score float64
	seen := make(map[string]struct{}, len(queryTokens))
	for _, term := range queryTokens {
		if _, dup := seen[term]; dup {
			continue
		}
		seen[term] = struct{}{}

		plist := ix.postings[term]
		if len(plist) == 0 {
			continue
		}
		tf := findTermFreq(plist, position)
		if tf == 0 {
			continue
		}
		idf := computeIDF(n, len(plist))
		score += idf * computeTFNorm(float64(tf), docLen, avgdl, ix.k1, ix.b)
	}
	return score
}

// K1 returns the configured k1 parameter.
func (ix *Index) K1() float64 { return ix.k1 }

// B returns the configured b parameter.
func (ix *Index) B() float64 { return ix.b }

// Len returns the number of indexed chunks.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.docLens)
}

// AvgDocLength returns the mean token count across indexed chunks.
func (ix *Index) AvgDocLength() float64 {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if len(ix.docLens) == 0 {
		return 0
	}
	return float64(ix.totalTokens) / float64(len(ix.docLens))
}

// findTermFreq binary-searches the posting list (ascending by position,
// guaranteed by append-only growth) for the given position.
func findTermFreq(plist []posting, position int) int {
	i := sort.Search(len(plist), func(i int) bool {
		return plist[i].position >= position
	})
	if i < len(plist) && plist[i].position == position {
		return plist[i].termFreq
	}
	return 0
}

func computeIDF(totalDocs, docFreq int) float64 {
	numerator := float64(totalDocs) - float64(docFreq) + 0.5
	denominator := float64(docFreq) + 0.5
	return math.Log(numerator/denominator + 1)
}

func computeTFNorm(termFreq, docLength, avgDocLength, k1, b float64) float64 {
	if avgDocLength == 0 {
		return 0
	}
	lengthRatio := docLength / avgDocLength
	denominator := termFreq + k1*(1-b+b*lengthRatio)
	return (termFreq * (k1 + 1)) / denominator
}
