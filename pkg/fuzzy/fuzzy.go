// Package fuzzy corrects misspelled words against a known vocabulary.
package fuzzy

import (
	"sort"
	"unicode/utf8"
)

// MaxEditDistance is the largest edit distance a correction may have.
const MaxEditDistance = 2

// minCorrectLen keeps very short words untouched; too many words are
// within two edits of them.
const minCorrectLen = 3

// Corrector maps unknown words to the closest vocabulary word.
//
// IMPORTANT to know:
// preference: `exact match > smallest edit distance > most frequent word > alphabetical`
type Corrector struct {
	words    []string
	wordFreq map[string]int
}

// NewCorrector builds a corrector over words and their frequencies.
// Words for which skip returns true are never suggested.
func NewCorrector(words map[string]int, skip func(string) bool) *Corrector {
	wordList := make([]string, 0, len(words))
	for word := range words {
		if skip != nil && skip(word) {
			continue
		}
		wordList = append(wordList, word)
	}
	sort.Strings(wordList)

	return &Corrector{
		words:    wordList,
		wordFreq: words,
	}
}

// Correct returns the best vocabulary word for input and whether it differs from input.
func (c *Corrector) Correct(input string) (string, bool) {
	if _, ok := c.wordFreq[input]; ok {
		return input, false
	}
	if utf8.RuneCountInString(input) < minCorrectLen {
		return input, false
	}

	src := []rune(input)
	best := ""
	bestDist := MaxEditDistance + 1
	bestFreq := -1

	for _, word := range c.words {
		dst := []rune(word)
		if abs(len(dst)-len(src)) > MaxEditDistance {
			continue
		}
		d := distance(src, dst, MaxEditDistance)
		if d > MaxEditDistance {
			continue
		}
		freq := c.wordFreq[word]
		// words are sorted, so on equal distance and frequency the first one wins
		if d < bestDist || (d == bestDist && freq > bestFreq) {
			best, bestDist, bestFreq = word, d, freq
		}
	}

	if best == "" {
		return input, false
	}
	return best, true
}

// distance is the optimal string alignment distance between a and b
// (Levenshtein plus adjacent transpositions). It stops early and returns
// limit+1 once every cell of a row exceeds limit.
func distance(a, b []rune, limit int) int {
	prev2 := make([]int, len(b)+1)
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i
		rowMin := curr[0]
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
			if i > 1 && j > 1 && a[i-1] == b[j-2] && a[i-2] == b[j-1] {
				curr[j] = min(curr[j], prev2[j-2]+1)
			}
			rowMin = min(rowMin, curr[j])
		}
		if rowMin > limit {
			return limit + 1
		}
		prev2, prev, curr = prev, curr, prev2
	}
	return prev[len(b)]
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
