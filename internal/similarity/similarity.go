// Package similarity scores how alike two pieces of text are.
//
// Jaccard compares word sets and is used against multi-word titles fetched
// from the remote store. Dice compares character bigrams and is cheap enough
// to run against in-memory value lists without a round trip.
package similarity

import (
	"sort"
	"strings"
	"unicode/utf8"
)

// minTokenLen is the shortest word that takes part in Jaccard scoring.
const minTokenLen = 3

// Tokens lower-cases text, splits it on whitespace and keeps words longer
// than two characters.
func Tokens(text string) []string {
	fields := strings.Fields(strings.ToLower(text))
	out := fields[:0]
	for _, field := range fields {
		if utf8.RuneCountInString(field) >= minTokenLen {
			out = append(out, field)
		}
	}
	return out
}

// Jaccard returns |A ∩ B| / |A ∪ B| over the word sets of a and b.
// It is 0 whenever either side has no qualifying words.
func Jaccard(a, b string) float64 {
	setA := toSet(Tokens(a))
	setB := toSet(Tokens(b))
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}

	intersection := 0
	for word := range setA {
		if _, ok := setB[word]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	return float64(intersection) / float64(union)
}

// Dice returns the Sørensen–Dice coefficient over the character bigram sets
// of a and b, after lower-casing. Identical strings score 1 without building
// bigrams; an empty string on either side scores 0.
func Dice(a, b string) float64 {
	a = strings.ToLower(a)
	b = strings.ToLower(b)
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}

	bigramsA := bigrams(a)
	bigramsB := bigrams(b)
	total := len(bigramsA) + len(bigramsB)
	if total == 0 {
		return 0
	}

	intersection := 0
	for bg := range bigramsA {
		if _, ok := bigramsB[bg]; ok {
			intersection++
		}
	}
	return 2 * float64(intersection) / float64(total)
}

// Match is one value from a list scored against a probe.
type Match struct {
	Index int     `json:"index"`
	Value string  `json:"value"`
	Score float64 `json:"score"`
}

// MostSimilar scores value against every entry of existing with Dice and
// returns the entries scoring at least threshold, best first. Ties keep the
// order of existing.
func MostSimilar(value string, existing []string, threshold float64) []Match {
	matches := make([]Match, 0)
	for i, candidate := range existing {
		score := Dice(value, candidate)
		if score >= threshold && score > 0 {
			matches = append(matches, Match{Index: i, Value: candidate, Score: score})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	return matches
}

func toSet(words []string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, word := range words {
		set[word] = struct{}{}
	}
	return set
}

func bigrams(text string) map[string]struct{} {
	runes := []rune(text)
	set := make(map[string]struct{}, len(runes))
	for i := 0; i+1 < len(runes); i++ {
		set[string(runes[i:i+2])] = struct{}{}
	}
	return set
}
