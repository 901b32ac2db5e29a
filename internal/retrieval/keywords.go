package retrieval

import (
	"strings"
	"unicode"
)

// minKeywordLen filters out short function words during lexical scoring.
const minKeywordLen = 3

// keywords extracts the set of lowercase alphabetic tokens of at least
// minKeywordLen characters from text.
func keywords(text string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, tok := range strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r)
	}) {
		if len(tok) < minKeywordLen {
			continue
		}
		out[strings.ToLower(tok)] = struct{}{}
	}
	return out
}

// lexicalScore measures how many of the question's keywords appear in the
// chunk text, as a fraction of the question keyword count. An empty keyword
// set scores zero.
func lexicalScore(questionKeywords map[string]struct{}, text string) float64 {
	if len(questionKeywords) == 0 {
		return 0
	}
	chunkKeywords := keywords(text)
	hits := 0
	for k := range questionKeywords {
		if _, ok := chunkKeywords[k]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(questionKeywords))
}
