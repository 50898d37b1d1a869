package resolve

import (
	"strings"

	"github.com/agext/levenshtein"
)

// similarity scores two folded strings in [0,1]. It takes the better of
// token-set overlap (robust to word reordering, "Azadpur Delhi" vs
// "Delhi Azadpur") and edit-distance similarity (robust to misspellings,
// "Azadpoor" vs "Azadpur").
func similarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}
	j := jaccard(a, b)
	l := levenshtein.Similarity(a, b, nil)
	if l > j {
		return l
	}
	return j
}

// jaccard computes token-set overlap between two whitespace-separated strings.
func jaccard(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}

	intersection := 0
	for tok := range setA {
		if setB[tok] {
			intersection++
		}
	}
	union := len(setA)
	for tok := range setB {
		if !setA[tok] {
			union++
		}
	}
	return float64(intersection) / float64(union)
}

func tokenSet(s string) map[string]bool {
	fields := strings.Fields(s)
	set := make(map[string]bool, len(fields))
	for _, f := range fields {
		set[f] = true
	}
	return set
}
