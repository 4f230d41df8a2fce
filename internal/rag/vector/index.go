// Package vector implements a flat, exact nearest-neighbour index over dense
// float32 embeddings. Rows are assigned sequential positions and searched by
// squared Euclidean distance; callers convert distances to similarities
// before fusing with other signals.
package vector

import (
	"fmt"
	"sort"
	"sync"
)

// Hit is a single nearest-neighbour result.
type Hit struct {
	Position int
	Distance float64
}

// Index stores embeddings row by row. Append-only.
type Index struct {
	mu      sync.RWMutex
	dim     int
	vectors [][]float32
}

// New creates an empty Index. The dimension is fixed by the first vector
// added.
func New() *Index {
	return &Index{}
}

// NewWithVectors builds an Index from pre-loaded rows, validating that all
// rows share one dimension.
func NewWithVectors(vectors [][]float32) (*Index, error) {
	ix := New()
	if err := ix.Add(vectors); err != nil {
		return nil, err
	}
	return ix, nil
}

// Add appends vectors at the next sequential positions. All vectors must
// match the index dimension; on any mismatch nothing is appended.
func (ix *Index) Add(vectors [][]float32) error {
	if len(vectors) == 0 {
		return nil
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()

	dim := ix.dim
	if dim == 0 {
		dim = len(vectors[0])
	}
	for i, v := range vectors {
		if len(v) != dim || dim == 0 {
			return fmt.Errorf("vector %d has dimension %d, index dimension is %d", i, len(v), dim)
		}
	}
	ix.dim = dim
	ix.vectors = append(ix.vectors, vectors...)
	return nil
}

// Search returns the k nearest rows to query by squared L2 distance,
// ascending. If k exceeds the number of stored vectors, all rows are
// returned. Equal distances keep position order.
func (ix *Index) Search(query []float32, k int) ([]Hit, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if len(ix.vectors) == 0 || k <= 0 {
		return nil, nil
	}
	if len(query) != ix.dim {
		return nil, fmt.Errorf("query has dimension %d, index dimension is %d", len(query), ix.dim)
	}

	hits := make([]Hit, len(ix.vectors))
	for i, v := range ix.vectors {
		hits[i] = Hit{Position: i, Distance: squaredL2(query, v)}
	}
	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Distance < hits[j].Distance
	})
	if k < len(hits) {
		hits = hits[:k]
	}
	return hits, nil
}

// Size returns the number of stored vectors.
func (ix *Index) Size() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.vectors)
}

// Dimension returns the vector dimension, or 0 for an empty index.
func (ix *Index) Dimension() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.dim
}

// Rows returns a copy of the stored rows in position order, for persistence.
func (ix *Index) Rows() [][]float32 {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	rows := make([][]float32, len(ix.vectors))
	copy(rows, ix.vectors)
	return rows
}

func squaredL2(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return sum
}
