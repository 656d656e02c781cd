// File: internal/textutil/tokens.go
package textutil

import (
	"strings"
	"unicode"
)

// stopwords are excluded from significance scoring. The list is small on
// purpose: it only needs to stop glue words from dominating short queries.
var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {},
	"by": {}, "for": {}, "from": {}, "how": {}, "in": {}, "is": {}, "it": {},
	"of": {}, "on": {}, "or": {}, "that": {}, "the": {}, "this": {}, "to": {},
	"was": {}, "what": {}, "when": {}, "where": {}, "which": {}, "who": {},
	"will": {}, "with": {}, "you": {}, "your": {},
}

// SignificantTokens lowercases, splits on non-alphanumerics, and drops
// stopwords and tokens shorter than three characters.
func SignificantTokens(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})

	seen := make(map[string]struct{}, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) < 3 {
			continue
		}
		if _, stop := stopwords[f]; stop {
			continue
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}

// Overlap returns the fraction of query tokens present in the haystack,
// in [0, 1]. An empty token set scores zero.
func Overlap(tokens []string, haystack string) float64 {
	if len(tokens) == 0 {
		return 0
	}
	lowered := strings.ToLower(haystack)
	found := 0
	for _, tok := range tokens {
		if strings.Contains(lowered, tok) {
			found++
		}
	}
	return float64(found) / float64(len(tokens))
}
