// Package tokenizer provides text tokenisation for the retrieval engine.
// It lower-cases input and splits on non-alphanumeric boundaries. There is
// deliberately no stemming and no stop-word removal: legal citations and
// section numbers ("302", "IPC", "s") must survive verbatim so that lexical
// scoring can match them exactly.
package tokenizer

import (
	"strings"
	"unicode"
)

// Tokenize breaks text into lowercased terms, one per maximal run of letters
// and digits.
func Tokenize(text string) []string {
	text = strings.ToLower(text)
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
