// Package benchmark contains Go benchmarks for the chunker, lexical index,
// vector index, and the fused retrieval path, measuring throughput and
// allocation behaviour.
package benchmark

import (
	"fmt"
	"math/rand"
	"strings"
	"testing"

	"github.com/lexigraph/lexrag/internal/rag/chunker"
	"github.com/lexigraph/lexrag/internal/rag/ledger"
	"github.com/lexigraph/lexrag/internal/rag/lexical"
	"github.com/lexigraph/lexrag/internal/rag/retriever"
	"github.com/lexigraph/lexrag/internal/rag/tokenizer"
	"github.com/lexigraph/lexrag/internal/rag/vector"
	"github.com/lexigraph/lexrag/pkg/config"
)

var terms = []string{
	"murder", "appeal", "bail", "contract", "evidence", "verdict",
	"statute", "section", "penal", "homicide", "sentence", "acquittal",
}

func syntheticChunk(i int) string {
	return fmt.Sprintf("the %s case turned on %s and %s presented during the %s hearing",
		terms[i%len(terms)], terms[(i+3)%len(terms)], terms[(i+5)%len(terms)], terms[(i+7)%len(terms)])
}

func randomVector(rng *rand.Rand, dim int) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = rng.Float32()
	}
	return v
}

// BenchmarkLexicalAdd measures per-chunk insert throughput into the inverted
// index.
func BenchmarkLexicalAdd(b *testing.B) {
	ix := lexical.New(lexical.DefaultK1, lexical.DefaultB)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ix.Add(tokenizer.Tokenize(syntheticChunk(i)))
	}
}

// BenchmarkLexicalScore measures single-position BM25 scoring over 10 000
// chunks.
func BenchmarkLexicalScore(b *testing.B) {
	ix := lexical.New(lexical.DefaultK1, lexical.DefaultB)
	for i := 0; i < 10000; i++ {
		ix.Add(tokenizer.Tokenize(syntheticChunk(i)))
	}
	query := []string{"murder", "evidence"}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = ix.Score(query, i%10000)
	}
}

// BenchmarkLexicalScoreBatch measures candidate-set scoring under one lock.
func BenchmarkLexicalScoreBatch(b *testing.B) {
	ix := lexical.New(lexical.DefaultK1, lexical.DefaultB)
	for i := 0; i < 10000; i++ {
		ix.Add(tokenizer.Tokenize(syntheticChunk(i)))
	}
	query := []string{"murder", "evidence"}
	positions := make([]int, 30)
	for i := range positions {
		positions[i] = i * 333
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = ix.ScoreBatch(query, positions)
	}
}

// BenchmarkVectorSearch measures exact nearest-neighbour search at several
// corpus sizes.
func BenchmarkVectorSearch(b *testing.B) {
	const dim = 384
	for _, size := range []int{1000, 10000} {
		b.Run(fmt.Sprintf("corpus_%d", size), func(b *testing.B) {
			rng := rand.New(rand.NewSource(1))
			ix := vector.New()
			rows := make([][]float32, size)
			for i := range rows {
				rows[i] = randomVector(rng, dim)
			}
			if err := ix.Add(rows); err != nil {
				b.Fatal(err)
			}
			query := randomVector(rng, dim)

			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := ix.Search(query, 10); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

// BenchmarkChunkerSplit measures paragraph splitting over a multi-page
// document.
func BenchmarkChunkerSplit(b *testing.B) {
	c := chunker.New(600, 30)
	var sb strings.Builder
	for i := 0; i < 200; i++ {
		sb.WriteString(syntheticChunk(i))
		sb.WriteString("\n\n")
	}
	text := sb.String()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := c.Split(text); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkRetrieve measures the fused retrieval path (vector search, batch
// BM25, fusion, sort) over a pre-loaded ledger.
func BenchmarkRetrieve(b *testing.B) {
	const dim = 128
	rng := rand.New(rand.NewSource(1))
	l := ledger.New(b.TempDir(), 0, 0)

	const size = 5000
	chunks := make([]ledger.Chunk, size)
	rows := make([][]float32, size)
	for i := 0; i < size; i++ {
		chunks[i] = ledger.Chunk{Filename: fmt.Sprintf("doc-%d.txt", i%100), Content: syntheticChunk(i)}
		rows[i] = randomVector(rng, dim)
	}
	if _, err := l.Append(chunks, rows); err != nil {
		b.Fatal(err)
	}

	r := retriever.New(l, nil, config.RetrievalConfig{DefaultTopK: 3, MaxTopK: 50, SemanticWeight: 0.7})
	query := randomVector(rng, dim)
	queryTokens := []string{"murder", "evidence"}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := r.Retrieve(query, queryTokens, 10, 0.7); err != nil {
			b.Fatal(err)
		}
	}
}
