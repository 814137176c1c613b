package memory

import (
	"strings"
	"unicode"
)

var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "the": true, "of": true, "to": true,
	"in": true, "on": true, "for": true, "with": true, "is": true, "at": true,
	"by": true, "or": true, "from": true,
}

// tokenize lowercases s and splits it into a set of words, dropping
// stopwords and single characters. Underscores split words so taxonomy tags
// such as "sql_injection" match free text.
func tokenize(s string) map[string]bool {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	set := make(map[string]bool, len(fields))
	for _, f := range fields {
		if len(f) < 2 || stopwords[f] {
			continue
		}
		set[f] = true
	}
	return set
}

// similarity is the fraction of query words present in doc, in [0, 1].
func similarity(query, doc map[string]bool) float64 {
	if len(query) == 0 {
		return 0
	}
	shared := 0
	for w := range query {
		if doc[w] {
			shared++
		}
	}
	return float64(shared) / float64(len(query))
}
