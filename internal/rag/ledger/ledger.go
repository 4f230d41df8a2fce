// Package ledger binds the three position-aligned structures of the engine
// (chunk metadata store, vector index, lexical index) behind one append-only
// interface. A chunk appended at position i is row i in the vector index and
// entry i in the lexical index; Append performs the three inserts as one
// logical operation so a failure cannot leave them misaligned.
package ledger

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/lexigraph/lexrag/internal/rag/lexical"
	"github.com/lexigraph/lexrag/internal/rag/tokenizer"
	"github.com/lexigraph/lexrag/internal/rag/vector"
	"github.com/lexigraph/lexrag/pkg/logger"
)

// UnknownDocument is the sentinel filename recorded when a document arrives
// without one.
const UnknownDocument = "unknown_document"

// Chunk is one indexed unit of document text.
type Chunk struct {
	Filename string `json:"filename"`
	Content  string `json:"content"`
}

// Ledger owns the chunk store and both indexes. Appends must be serialized
// by the caller against searches (the engine holds a writer lock); the
// ledger's own mutex only protects the chunk slice.
type Ledger struct {
	mu      sync.RWMutex
	dataDir string
	chunks  []Chunk
	vectors *vector.Index
	lex     *lexical.Index
	logger  *slog.Logger
}

// New creates an empty Ledger persisting under dataDir with the given BM25
// parameters.
func New(dataDir string, k1, b float64) *Ledger {
	return &Ledger{
		dataDir: dataDir,
		vectors: vector.New(),
		lex:     lexical.New(k1, b),
		logger:  logger.WithComponent("ledger"),
	}
}

// Append inserts the chunks and their embeddings at the next sequential
// positions and returns those positions. Validation happens before any
// structure is touched: either every chunk of the batch lands in all three
// structures or none does.
func (l *Ledger) Append(chunks []Chunk, embeddings [][]float32) ([]int, error) {
	if len(chunks) == 0 {
		return nil, nil
	}
	if len(chunks) != len(embeddings) {
		return nil, fmt.Errorf("chunk/embedding count mismatch: %d vs %d", len(chunks), len(embeddings))
	}

	tokenBags := make([][]string, len(chunks))
	for i := range chunks {
		if chunks[i].Filename == "" {
			chunks[i].Filename = UnknownDocument
		}
		tokenBags[i] = tokenizer.Tokenize(chunks[i].Content)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	start := len(l.chunks)
	// vectors.Add validates every row before mutating, so a dimension
	// mismatch leaves the ledger untouched.
	if err := l.vectors.Add(embeddings); err != nil {
		return nil, fmt.Errorf("appending vectors: %w", err)
	}
	l.lex.AddBatch(tokenBags)
	l.chunks = append(l.chunks, chunks...)

	positions := make([]int, len(chunks))
	for i := range positions {
		positions[i] = start + i
	}
	return positions, nil
}

// Len returns the number of chunks in the ledger.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.chunks)
}

// Chunk returns the chunk at the given position.
func (l *Ledger) Chunk(position int) (Chunk, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if position < 0 || position >= len(l.chunks) {
		return Chunk{}, false
	}
	return l.chunks[position], true
}

// Chunks returns a copy of all chunks in position order.
func (l *Ledger) Chunks() []Chunk {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Chunk, len(l.chunks))
	copy(out, l.chunks)
	return out
}

// Vectors exposes the vector index for searching.
func (l *Ledger) Vectors() *vector.Index {
	return l.vectors
}

// Lexical exposes the lexical index for scoring.
func (l *Ledger) Lexical() *lexical.Index {
	return l.lex
}

// reset discards all in-memory state, used when persisted files are refused.
func (l *Ledger) reset() {
	l.chunks = nil
	l.vectors = vector.New()
	l.lex = lexical.New(l.lex.K1(), l.lex.B())
}
