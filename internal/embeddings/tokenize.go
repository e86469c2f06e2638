package embeddings

import (
	"unicode/utf8"

	"github.com/kamusis/skillmatch/internal/textutil"
)

var stopwords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "with": {}, "that": {}, "this": {},
	"from": {}, "into": {}, "are": {}, "was": {}, "you": {}, "your": {},
	"can": {}, "how": {}, "what": {}, "use": {}, "using": {}, "help": {},
	"need": {}, "want": {}, "please": {}, "some": {}, "about": {},
}

// Tokenize folds text and returns the terms used for TF-IDF: words longer
// than two runes that are not stopwords.
func Tokenize(text string) []string {
	words := textutil.Words(text)
	out := words[:0]
	for _, w := range words {
		if utf8.RuneCountInString(w) <= 2 {
			continue
		}
		if _, stop := stopwords[w]; stop {
			continue
		}
		out = append(out, w)
	}
	return out
}
