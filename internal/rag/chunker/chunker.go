// Package chunker splits raw document text into indexable chunks. Splitting
// is paragraph-first: blank-line-separated blocks become chunks, blocks over
// the size cap are re-split on whitespace token boundaries, and fragments
// under the minimum size are dropped. If nothing survives the filters the
// whole trimmed input becomes a single chunk so that a short document is
// never silently unindexed.
package chunker

import (
	"fmt"
	"strings"

	apperrors "github.com/lexigraph/lexrag/pkg/errors"
)

// Chunker holds the size bounds applied during splitting.
type Chunker struct {
	maxChars int
	minChars int
}

// New creates a Chunker with the given bounds, substituting defaults for
// non-positive values.
func New(maxChars, minChars int) *Chunker {
	if maxChars <= 0 {
		maxChars = 600
	}
	if minChars <= 0 {
		minChars = 30
	}
	return &Chunker{maxChars: maxChars, minChars: minChars}
}

// Split chunks the given document text. It returns ErrInvalidInput when the
// text is empty or whitespace-only; callers log and skip rather than abort a
// batch.
func (c *Chunker) Split(text string) ([]string, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty document text", apperrors.ErrInvalidInput)
	}

	chunks := make([]string, 0)
	for _, para := range splitParagraphs(trimmed) {
		if len(para) <= c.maxChars {
			if len(para) >= c.minChars {
				chunks = append(chunks, para)
			}
			continue
		}
		for _, frag := range c.splitOversized(para) {
			if len(frag) >= c.minChars {
				chunks = append(chunks, frag)
			}
		}
	}

	// A document made entirely of sub-minimum fragments still gets indexed
	// as one chunk.
	if len(chunks) == 0 {
		chunks = append(chunks, trimmed)
	}
	return chunks, nil
}

// splitParagraphs splits text into trimmed blank-line-separated blocks.
// Single newlines within a block are preserved as part of the paragraph.
func splitParagraphs(text string) []string {
	normalized := strings.ReplaceAll(text, "\r\n", "\n")
	blocks := strings.Split(normalized, "\n\n")
	paras := make([]string, 0, len(blocks))
	for _, block := range blocks {
		block = strings.TrimSpace(block)
		if block != "" {
			paras = append(paras, block)
		}
	}
	if len(paras) == 0 {
		return []string{strings.TrimSpace(normalized)}
	}
	return paras
}

// splitOversized re-splits a paragraph longer than maxChars on whitespace
// token boundaries, accumulating tokens until the cap would be exceeded. A
// token is never split internally, so a single token longer than maxChars
// becomes its own fragment.
func (c *Chunker) splitOversized(para string) []string {
	words := strings.Fields(para)
	frags := make([]string, 0, len(para)/c.maxChars+1)
	var b strings.Builder
	for _, word := range words {
		if b.Len() > 0 && b.Len()+1+len(word) > c.maxChars {
			frags = append(frags, b.String())
			b.Reset()
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(word)
	}
	if b.Len() > 0 {
		frags = append(frags, b.String())
	}
	return frags
}
