// Package fuzzy ranks items against a search query with approximate matching.
//
// Matching uses the Bitap algorithm with the scoring model of the Fuse.js
// library, so rankings agree with what users of npm-facing web tools expect:
//
//   - case-insensitive
//   - a field matches when its best alignment scores at most [Threshold]
//   - the score of an alignment is errors/len(query) + offset/[Distance],
//     where offset is the distance of the match from the start of the field
//   - a field equal to the query scores 0
//   - each field is weighted equally and damped by 1/sqrt(word count), so a
//     hit in a short name outranks the same hit in a long description
//
// Lower scores are better. Items with no matching field are dropped; the rest
// are ordered by score, ties by original position.
package fuzzy

import (
	"math"
	"slices"
	"strings"
)

const (
	// Threshold is the worst alignment score still counted as a match.
	Threshold = 0.4

	// Distance is how far from the start of a field a match may drift before
	// the offset alone pushes it over the threshold.
	Distance = 100

	// Location is where in each field a match is expected.
	Location = 0

	// maxBits bounds the pattern length handled by one bit-parallel pass.
	// Longer queries are split into chunks whose scores are averaged.
	maxBits = 32
)

// Searchable is implemented by items that can be filtered.
type Searchable interface {
	// SearchFields returns the text fields to match, e.g. name and description.
	SearchFields() []string
}

// Match is a scored hit.
type Match[T any] struct {
	Item  T
	Index int     // position in the input slice
	Score float64 // 0 is a perfect match
}

// Filter returns the items matching query, best match first. A blank query
// returns items unchanged. The input slice is never modified.
func Filter[T Searchable](items []T, query string) []T {
	if strings.TrimSpace(query) == "" {
		return items
	}
	matches := Search(items, query)
	out := make([]T, len(matches))
	for i, m := range matches {
		out[i] = m.Item
	}
	return out
}

// Search scores every item against query and returns the matching ones,
// sorted by score then index.
func Search[T Searchable](items []T, query string) []Match[T] {
	if strings.TrimSpace(query) == "" {
		return nil
	}
	s := newSearcher(query)

	var matches []Match[T]
	for idx, item := range items {
		fields := item.SearchFields()
		if len(fields) == 0 {
			continue
		}
		weight := 1 / float64(len(fields))

		total, matched := 1.0, false
		for _, f := range fields {
			if strings.TrimSpace(f) == "" {
				continue
			}
			ok, score := s.searchIn(f)
			if !ok {
				continue
			}
			matched = true
			if score == 0 {
				score = epsilon
			}
			total *= math.Pow(score, weight*fieldNorm(f))
		}
		if matched {
			matches = append(matches, Match[T]{Item: item, Index: idx, Score: total})
		}
	}

	slices.SortStableFunc(matches, func(a, b Match[T]) int {
		switch {
		case a.Score < b.Score:
			return -1
		case a.Score > b.Score:
			return 1
		default:
			return a.Index - b.Index
		}
	})
	return matches
}

// epsilon stands in for a zero score so a perfect field still contributes to
// the product.
const epsilon = 2.220446049250313e-16

// fieldNorm is 1/sqrt(number of space-separated tokens), rounded to three
// decimals.
func fieldNorm(s string) float64 {
	n := len(strings.FieldsFunc(s, func(r rune) bool { return r == ' ' }))
	if n == 0 {
		n = 1
	}
	return math.Round(1/math.Sqrt(float64(n))*1000) / 1000
}

type chunk struct {
	pattern    []rune
	alphabet   map[rune]uint64
	startIndex int
}

type searcher struct {
	pattern string
	chunks  []chunk
}

func newSearcher(query string) *searcher {
	pattern := strings.ToLower(query)
	s := &searcher{pattern: pattern}

	runes := []rune(pattern)
	n := len(runes)
	if n <= maxBits {
		s.chunks = append(s.chunks, newChunk(runes, 0))
		return s
	}

	remainder := n % maxBits
	end := n - remainder
	for i := 0; i < end; i += maxBits {
		s.chunks = append(s.chunks, newChunk(runes[i:i+maxBits], i))
	}
	if remainder > 0 {
		start := n - maxBits
		s.chunks = append(s.chunks, newChunk(runes[start:], start))
	}
	return s
}

func newChunk(pattern []rune, start int) chunk {
	alphabet := make(map[rune]uint64, len(pattern))
	for i, r := range pattern {
		alphabet[r] |= 1 << (len(pattern) - i - 1)
	}
	return chunk{pattern: pattern, alphabet: alphabet, startIndex: start}
}

// searchIn matches the query against one field.
func (s *searcher) searchIn(field string) (bool, float64) {
	text := strings.ToLower(field)
	if text == s.pattern {
		return true, 0
	}

	runes := []rune(text)
	total, hit := 0.0, false
	for _, c := range s.chunks {
		ok, score := bitap(runes, c.pattern, c.alphabet, Location+c.startIndex)
		total += score
		if ok {
			hit = true
		}
	}
	if !hit {
		return false, 1
	}
	return true, total / float64(len(s.chunks))
}

func bitap(text, pattern []rune, alphabet map[rune]uint64, location int) (bool, float64) {
	patternLen, textLen := len(pattern), len(text)
	expected := max(0, min(location, textLen))
	threshold := float64(Threshold)

	// Exact occurrences tighten the threshold before the approximate pass.
	best := expected
	for {
		idx := indexFrom(text, pattern, best)
		if idx < 0 {
			break
		}
		threshold = min(alignmentScore(patternLen, 0, idx, expected), threshold)
		best = idx + patternLen
	}

	best = -1
	finalScore := 1.0
	binMax := patternLen + textLen
	mask := uint64(1) << (patternLen - 1)
	var last []uint64

	for i := 0; i < patternLen; i++ {
		// Widest window in which i errors can still beat the threshold.
		binMin, binMid := 0, binMax
		for binMin < binMid {
			if alignmentScore(patternLen, i, expected+binMid, expected) <= threshold {
				binMin = binMid
			} else {
				binMax = binMid
			}
			binMid = (binMax-binMin)/2 + binMin
		}
		binMax = binMid

		start := max(1, expected-binMid+1)
		finish := min(expected+binMid, textLen) + patternLen

		bits := make([]uint64, finish+2)
		bits[finish+1] = (1 << i) - 1
		for j := finish; j >= start; j-- {
			cur := j - 1
			var charMatch uint64
			if cur < textLen {
				charMatch = alphabet[text[cur]]
			}
			bits[j] = ((bits[j+1] << 1) | 1) & charMatch
			if i > 0 {
				bits[j] |= ((at(last, j+1) | at(last, j)) << 1) | 1 | at(last, j+1)
			}
			if bits[j]&mask != 0 {
				finalScore = alignmentScore(patternLen, i, cur, expected)
				if finalScore <= threshold {
					threshold = finalScore
					best = cur
					if best <= expected {
						break
					}
					start = max(1, 2*expected-best)
				}
			}
		}

		if alignmentScore(patternLen, i+1, expected, expected) > threshold {
			break
		}
		last = bits
	}

	return best >= 0, math.Max(0.001, finalScore)
}

func alignmentScore(patternLen, errors, current, expected int) float64 {
	accuracy := float64(errors) / float64(patternLen)
	proximity := expected - current
	if proximity < 0 {
		proximity = -proximity
	}
	return accuracy + float64(proximity)/Distance
}

func at(s []uint64, i int) uint64 {
	if i < len(s) {
		return s[i]
	}
	return 0
}

func indexFrom(text, pattern []rune, from int) int {
	if from > len(text) {
		return -1
	}
	for i := from; i+len(pattern) <= len(text); i++ {
		if slices.Equal(text[i:i+len(pattern)], pattern) {
			return i
		}
	}
	return -1
}
