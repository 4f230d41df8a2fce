// Package answer orchestrates answer generation over retrieved candidates.
// A request moves through a single-attempt state machine: no candidates ends
// immediately with a fixed message; otherwise one generation attempt is
// made, its output validated, and anything invalid resolves to a
// deterministic structured answer built from the sources. Generation is
// never retried: decoding is deterministic, so a degenerate output would
// simply reproduce itself.
package answer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/lexigraph/lexrag/internal/rag/capability"
	"github.com/lexigraph/lexrag/internal/rag/retriever"
	"github.com/lexigraph/lexrag/pkg/config"
	"github.com/lexigraph/lexrag/pkg/logger"
	"github.com/lexigraph/lexrag/pkg/resilience"
)

// NoContextAnswer is returned when there are no candidates to ground an
// answer in.
const NoContextAnswer = "No relevant information found in the indexed corpus."

// Mode records how an answer was produced.
type Mode string

const (
	ModeGenerated Mode = "generated"
	ModeFallback  Mode = "fallback"
	ModeEmpty     Mode = "empty"
)

// Result is a produced answer plus how it was obtained.
type Result struct {
	Answer string `json:"answer"`
	Mode   Mode   `json:"mode"`
}

// Answerer builds prompts, invokes the generator, and owns the fallback.
type Answerer struct {
	generator capability.Generator
	cfg       config.AnswerConfig
	logger    *slog.Logger
}

// New creates an Answerer. generator may be nil; every request then resolves
// to the structured fallback.
func New(generator capability.Generator, cfg config.AnswerConfig) *Answerer {
	return &Answerer{
		generator: generator,
		cfg:       cfg,
		logger:    logger.WithComponent("answer"),
	}
}

// Answer produces a response for the query grounded in the candidates. It
// always returns a non-empty answer: generation failures and degenerate
// outputs fall back to labeled source excerpts, never to an error.
func (a *Answerer) Answer(ctx context.Context, query string, candidates []retriever.Candidate) Result {
	if len(candidates) == 0 {
		return Result{Answer: NoContextAnswer, Mode: ModeEmpty}
	}

	candidates = a.limit(candidates)

	if a.generator == nil {
		return Result{Answer: a.structuredAnswer(query, candidates), Mode: ModeFallback}
	}

	prompt := a.buildPrompt(query, candidates)
	var generated string
	err := resilience.WithTimeout(ctx, a.cfg.GenerateTimeout, "generate", func(ctx context.Context) error {
		var genErr error
		generated, genErr = a.generator.Generate(ctx, prompt, a.cfg.MaxTokens)
		return genErr
	})
	if err != nil {
		a.logger.Warn("generation failed, serving structured answer", "error", err)
		return Result{Answer: a.structuredAnswer(query, candidates), Mode: ModeFallback}
	}

	generated = strings.TrimSpace(generated)
	if !a.valid(generated) {
		a.logger.Warn("generated answer rejected, serving structured answer",
			"length", len(generated))
		return Result{Answer: a.structuredAnswer(query, candidates), Mode: ModeFallback}
	}
	return Result{Answer: generated, Mode: ModeGenerated}
}

func (a *Answerer) limit(candidates []retriever.Candidate) []retriever.Candidate {
	max := a.cfg.MaxContextDocs
	if max <= 0 {
		max = 5
	}
	if len(candidates) > max {
		candidates = candidates[:max]
	}
	return candidates
}

// buildPrompt concatenates labeled, length-capped excerpts under the query.
func (a *Answerer) buildPrompt(query string, candidates []retriever.Candidate) string {
	var b strings.Builder
	b.WriteString("Answer the question using only the sources below. Be concise.\n\n")
	b.WriteString("Question: ")
	b.WriteString(query)
	b.WriteString("\n\nSources:\n")
	for i, c := range candidates {
		fmt.Fprintf(&b, "[Source %d: %s] %s\n", i+1, c.Filename, a.excerpt(c.Content))
	}
	b.WriteString("\nAnswer:")
	return b.String()
}

// excerpt caps content at ExcerptMaxChars bytes, cutting back to the nearest
// rune boundary so a multi-byte character is never split.
func (a *Answerer) excerpt(content string) string {
	max := a.cfg.ExcerptMaxChars
	if max <= 0 {
		max = 400
	}
	if len(content) <= max {
		return content
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(content[cut]) {
		cut--
	}
	return content[:cut]
}

// valid rejects outputs that are too short to be an answer or that merely
// echo the source-label pattern back.
func (a *Answerer) valid(generated string) bool {
	min := a.cfg.MinAnswerChars
	if min <= 0 {
		min = 20
	}
	if len(generated) < min {
		return false
	}
	if strings.HasPrefix(generated, "[Source") || strings.HasPrefix(generated, "Question:") {
		return false
	}
	return true
}

// structuredAnswer is the deterministic fallback: a query-keyword-dependent
// introduction followed by labeled source excerpts.
func (a *Answerer) structuredAnswer(query string, candidates []retriever.Candidate) string {
	var b strings.Builder
	b.WriteString(introFor(query))
	for i, c := range candidates {
		b.WriteString("\n\n")
		fmt.Fprintf(&b, "[Source %d: %s] %s", i+1, c.Filename, a.excerpt(c.Content))
	}
	return b.String()
}

func introFor(query string) string {
	q := strings.ToLower(query)
	switch {
	case strings.Contains(q, "held") || strings.Contains(q, "holding") || strings.Contains(q, "decision"):
		return "The court's holding, per the retrieved sources:"
	case strings.Contains(q, "section") || strings.Contains(q, "act") || strings.Contains(q, "statute"):
		return "Relevant statutory material from the retrieved sources:"
	default:
		return "Based on the indexed documents:"
	}
}
