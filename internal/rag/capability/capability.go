// Package capability defines the narrow interfaces through which the engine
// consumes external models, and an OpenAI-backed implementation of each. The
// engine never touches a model directly: capabilities are constructed once at
// process start and injected, so tests swap in deterministic stubs and the
// reranker's optionality is a configuration fact rather than a runtime
// accident.
package capability

import "context"

// Embedder maps texts to dense vectors. Deterministic for a fixed model
// version; the result is index-aligned with the input.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Reranker scores (query, passage) relevance directly. Optional: a nil
// Reranker means retrieval serves the fused order.
type Reranker interface {
	Rerank(ctx context.Context, query string, passages []string) ([]float64, error)
}

// Generator synthesizes text from a prompt with deterministic decoding.
type Generator interface {
	Generate(ctx context.Context, prompt string, maxTokens int) (string, error)
}
