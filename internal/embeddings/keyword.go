package embeddings

import (
	"math"
	"strings"
	"unicode/utf8"

	"github.com/kamusis/skillmatch/internal/textutil"
)

const (
	triggerWeight  = 0.5
	notForPenalty  = 0.5
	minPartialWord = 4
)

// KeywordMatch scores query against an entry's activation phrases.
//
// A trigger contained in the query adds 0.5; otherwise the trigger adds 0.5
// times the fraction of its words found in the query (exact word or a shared
// prefix of at least four runes). The sum saturates at 1. Each notFor phrase
// found in the query subtracts 0.5, with a floor of -1. No triggers scores 0.
func KeywordMatch(query string, triggers []string, notFor []string) float64 {
	if len(triggers) == 0 {
		return 0
	}
	q := textutil.Normalize(query)
	qWords := textutil.Words(q)

	var score float64
	for _, trig := range triggers {
		t := textutil.Normalize(trig)
		if t == "" {
			continue
		}
		if containsPhrase(q, qWords, t) {
			score += triggerWeight
			continue
		}
		tWords := textutil.Words(t)
		if len(tWords) == 0 {
			continue
		}
		hit := 0
		for _, w := range tWords {
			if matchesWord(w, qWords) {
				hit++
			}
		}
		score += triggerWeight * float64(hit) / float64(len(tWords))
	}
	score = math.Min(score, 1)

	for _, nf := range notFor {
		n := textutil.Normalize(nf)
		if n != "" && containsPhrase(q, qWords, n) {
			score -= notForPenalty
		}
	}
	return math.Max(score, -1)
}

// containsPhrase reports whether phrase occurs in q. Short single-word
// phrases ("ui", "css") must match a whole word so they do not fire inside
// unrelated words.
func containsPhrase(q string, qWords []string, phrase string) bool {
	if utf8.RuneCountInString(phrase) <= 3 && !strings.ContainsRune(phrase, ' ') {
		for _, w := range qWords {
			if w == phrase {
				return true
			}
		}
		return false
	}
	return strings.Contains(q, phrase)
}

func matchesWord(w string, qWords []string) bool {
	for _, qw := range qWords {
		if qw == w {
			return true
		}
		short, long := qw, w
		if len(short) > len(long) {
			short, long = long, short
		}
		if utf8.RuneCountInString(short) >= minPartialWord && strings.HasPrefix(long, short) {
			return true
		}
	}
	return false
}
