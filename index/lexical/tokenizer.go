package lexical

import (
	"strings"
	"unicode"
)

// Stop words excluded from postings; they carry no retrieval signal and
// bloat the index.
var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "be": true, "is": true, "are": true,
	"was": true, "to": true, "of": true, "and": true, "in": true, "that": true,
	"have": true, "it": true, "for": true, "not": true, "on": true, "with": true,
	"as": true, "you": true, "do": true, "at": true, "this": true, "but": true,
	"by": true, "from": true,
}

// Tokenize splits text into lowercase terms, dropping punctuation and
// stop words. An empty result means the text has no searchable content.
func Tokenize(text string) []string {
	words := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})

	tokens := make([]string, 0, len(words))
	for _, word := range words {
		token := strings.ToLower(word)
		if token == "" || stopWords[token] {
			continue
		}
		tokens = append(tokens, token)
	}
	return tokens
}
