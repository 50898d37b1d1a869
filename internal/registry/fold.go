package registry

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// foldTransform decomposes, strips combining marks, and recomposes, so
// accented and unaccented spellings collide to the same alias key.
var foldTransform = transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// FoldKey normalizes raw text into a lookup key: diacritics stripped,
// lowercased, punctuation replaced by spaces, whitespace collapsed.
// "Azadpur Mandi, Delhi" and "AZADPUR(DELHI)" do not fold equal, but both
// variants of "Azādpur" do; alias lists close the remaining gap.
func FoldKey(s string) string {
	folded, _, err := transform.String(foldTransform, s)
	if err != nil {
		folded = s
	}

	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range strings.ToLower(folded) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		default:
			b.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
