// Package analyzer scores extracted article text against the topic's terms.
package analyzer

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// TermMatch represents occurrences of one topic term within an article body.
type TermMatch struct {
	Term      string   `json:"term"`
	Count     int      `json:"count"`
	Sentences []string `json:"sentences"`
}

// Relevance is the topic relevance of one article.
type Relevance struct {
	Mentions  int
	Highlight string
	Matches   []TermMatch
}

// FindTermMatches scans content for each term (case-insensitive, whole words
// only) and returns one TermMatch per term that occurs. Sentences are split on
// '.', '!' and '?'.
func FindTermMatches(content string, terms []string) []TermMatch {
	if len(content) == 0 || len(terms) == 0 {
		return nil
	}

	lowerContent := strings.ToLower(content)
	sentences := splitIntoSentences(content)

	results := make([]TermMatch, 0, len(terms))
	for _, term := range terms {
		lowerTerm := strings.ToLower(strings.TrimSpace(term))
		if lowerTerm == "" {
			continue
		}
		count := countWord(lowerContent, lowerTerm)
		if count == 0 {
			continue
		}

		var matched []string
		for _, sd := range sentences {
			if countWord(sd.lower, lowerTerm) > 0 {
				matched = append(matched, sd.original)
			}
		}
		results = append(results, TermMatch{Term: term, Count: count, Sentences: matched})
	}
	return results
}

// Score computes the total number of term mentions in content and picks the
// sentence that covers the most distinct terms as its highlight. Ties go to
// the sentence with more mentions, then to the earlier one.
func Score(content string, terms []string) Relevance {
	matches := FindTermMatches(content, terms)
	if len(matches) == 0 {
		return Relevance{}
	}

	rel := Relevance{Matches: matches}
	for _, m := range matches {
		rel.Mentions += m.Count
	}

	bestDistinct, bestCount := 0, 0
	for _, sd := range splitIntoSentences(content) {
		distinct, count := 0, 0
		for _, m := range matches {
			if n := countWord(sd.lower, strings.ToLower(m.Term)); n > 0 {
				distinct++
				count += n
			}
		}
		if distinct > bestDistinct || (distinct == bestDistinct && count > bestCount) {
			bestDistinct, bestCount = distinct, count
			rel.Highlight = sd.original
		}
	}
	return rel
}

// countWord counts occurrences of term in s that are not embedded in a
// longer word. Both arguments must already be lowercased.
func countWord(s, term string) int {
	n := 0
	for i := 0; ; {
		j := strings.Index(s[i:], term)
		if j < 0 {
			return n
		}
		start := i + j
		end := start + len(term)
		if boundaryBefore(s, start) && boundaryAfter(s, end) {
			n++
		}
		i = start + 1
		if i >= len(s) {
			return n
		}
	}
}

func boundaryBefore(s string, i int) bool {
	if i == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(s[:i])
	return !isWordRune(r)
}

func boundaryAfter(s string, i int) bool {
	if i >= len(s) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(s[i:])
	return !isWordRune(r)
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// sentenceData holds original and lowercase versions together
type sentenceData struct {
	original string
	lower    string
}

// splitIntoSentences splits text on '.', '!' or '?' while preserving the
// delimiter at the end of each sentence.
func splitIntoSentences(text string) []sentenceData {
	if len(text) == 0 {
		return nil
	}

	// Estimate sentence count: roughly 1 sentence per 50 chars average
	estimated := len(text) / 50
	if estimated < 1 {
		estimated = 1
	}

	sentences := make([]sentenceData, 0, estimated)
	add := func(s string) {
		s = strings.Join(strings.Fields(s), " ")
		if s == "" {
			return
		}
		sentences = append(sentences, sentenceData{original: s, lower: strings.ToLower(s)})
	}

	start := 0
	for i, r := range text {
		if i < start {
			continue
		}
		if r == '.' || r == '!' || r == '?' {
			end := i + 1
			for end < len(text) && unicode.IsSpace(rune(text[end])) {
				end++
			}
			add(text[start:end])
			start = end
		}
	}

	// Capture any trailing text
	if start < len(text) {
		add(text[start:])
	}

	return sentences
}
