package executor

import "strings"

// duplicateThreshold is the Jaccard similarity above which a proposal
// is considered a duplicate of a pending approval entry.
const duplicateThreshold = 0.7

var stopWords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true,
	"at": true, "be": true, "by": true, "for": true, "from": true,
	"has": true, "have": true, "in": true, "is": true, "it": true,
	"its": true, "of": true, "on": true, "or": true, "that": true,
	"the": true, "to": true, "was": true, "will": true, "with": true,
}

// wordSet tokenises on whitespace, lowercases and drops stop words.
func wordSet(text string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		if !stopWords[w] {
			set[w] = true
		}
	}
	return set
}

// jaccard computes |A∩B| / |A∪B| over the two texts' word sets.
func jaccard(a, b string) float64 {
	setA, setB := wordSet(a), wordSet(b)
	if len(setA) == 0 && len(setB) == 0 {
		return 0
	}
	intersection := 0
	for w := range setA {
		if setB[w] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}
