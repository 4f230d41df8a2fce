package chunker

import (
	"errors"
	"strings"
	"testing"

	apperrors "github.com/lexigraph/lexrag/pkg/errors"
)

func TestSplitEmptyInput(t *testing.T) {
	c := New(600, 30)
	for _, in := range []string{"", "   ", "\n\n\t"} {
		if _, err := c.Split(in); !errors.Is(err, apperrors.ErrInvalidInput) {
			t.Errorf("Split(%q) error = %v, want ErrInvalidInput", in, err)
		}
	}
}

func TestSplitParagraphs(t *testing.T) {
	c := New(600, 30)
	text := "The appellant was convicted under Section 302 of the Penal Code.\n\n" +
		"The High Court confirmed the sentence after reviewing the evidence on record."

	chunks, err := c.Split(text)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2: %v", len(chunks), chunks)
	}
	if !strings.Contains(chunks[0], "Section 302") {
		t.Errorf("first chunk missing expected content: %q", chunks[0])
	}
	if !strings.Contains(chunks[1], "High Court") {
		t.Errorf("second chunk missing expected content: %q", chunks[1])
	}
}

func TestSplitCRLFNormalized(t *testing.T) {
	c := New(600, 30)
	text := "First paragraph with enough text to pass the filter.\r\n\r\n" +
		"Second paragraph also with enough text to pass the filter."
	chunks, err := c.Split(text)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(chunks))
	}
}

func TestSplitOversizedParagraph(t *testing.T) {
	c := New(100, 10)
	word := "evidence"
	text := strings.Repeat(word+" ", 60) // well past the 100-char cap

	chunks, err := c.Split(text)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("oversized paragraph was not re-split: %d chunks", len(chunks))
	}
	for i, chunk := range chunks {
		if len(chunk) > 100 {
			t.Errorf("chunk %d is %d chars, exceeds cap", i, len(chunk))
		}
		// Token boundaries must be respected: every fragment is made of
		// whole words.
		for _, w := range strings.Fields(chunk) {
			if w != word {
				t.Errorf("chunk %d contains split token %q", i, w)
			}
		}
	}
}

func TestSplitNeverBreaksLongToken(t *testing.T) {
	c := New(50, 10)
	long := strings.Repeat("x", 80)
	chunks, err := c.Split("short words here\n\n" + long)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	found := false
	for _, chunk := range chunks {
		if chunk == long {
			found = true
		}
	}
	if !found {
		t.Errorf("80-char token should survive intact, got %v", chunks)
	}
}

func TestSplitDropsSubMinimumFragments(t *testing.T) {
	c := New(600, 30)
	text := "Too short.\n\nThis paragraph comfortably exceeds the thirty character minimum."
	chunks, err := c.Split(text)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1: %v", len(chunks), chunks)
	}
	if strings.Contains(chunks[0], "Too short") {
		t.Errorf("sub-minimum fragment was kept: %q", chunks[0])
	}
}

func TestSplitWholeInputFallback(t *testing.T) {
	c := New(600, 30)
	text := "Short doc."
	chunks, err := c.Split(text)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(chunks) != 1 || chunks[0] != "Short doc." {
		t.Errorf("expected whole trimmed input as single chunk, got %v", chunks)
	}
}

func TestNewDefaults(t *testing.T) {
	c := New(0, 0)
	if c.maxChars != 600 || c.minChars != 30 {
		t.Errorf("defaults = (%d, %d), want (600, 30)", c.maxChars, c.minChars)
	}
}
