package reconstruct

import (
	"strings"
	"unicode"
)

// normalize reduces a sentence to a comparison key: lowercase, with
// whitespace and everything that is not a letter or digit stripped.
// The model occasionally re-punctuates candidate sentences it copies,
// so pool matching cannot be byte-exact.
func normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
