// Package planner turns a topic into the ordered search queries issued by
// discovery.
package planner

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/FranksOps/newsbrief/internal/article"
)

var (
	ErrInvalidTopic      = fmt.Errorf("%w: topic must not be empty", article.ErrInvalidInput)
	ErrInvalidMaxQueries = fmt.Errorf("%w: max queries must be at least 1", article.ErrInvalidInput)
)

// filler is stripped from the front of a topic to recover its subject,
// longest phrases first.
var filler = []string{
	"recent advancements in",
	"recent advances in",
	"recent developments in",
	"latest developments in",
	"latest news on",
	"latest news about",
	"news about",
	"news on",
	"updates on",
	"what's new in",
	"the state of",
}

var stopWords = map[string]bool{
	"a": true, "an": true, "and": true, "the": true, "of": true, "in": true, "on": true,
	"for": true, "to": true, "with": true, "about": true, "at": true, "by": true, "from": true,
	"is": true, "are": true, "was": true, "what": true, "how": true, "why": true, "latest": true,
	"recent": true, "new": true, "news": true, "update": true, "updates": true, "today": true,
	"developments": true, "advancements": true, "advances": true,
}

var wordRe = regexp.MustCompile(`[\p{L}\p{N}][\p{L}\p{N}'+#.\-]*`)

// Plan returns up to maxQueries queries for topic. The first query is always
// the topic exactly as given; later ones broaden or narrow it. Duplicates
// are dropped case-insensitively.
func Plan(topic string, maxQueries int) ([]string, error) {
	if strings.TrimSpace(topic) == "" {
		return nil, ErrInvalidTopic
	}
	if maxQueries < 1 {
		return nil, ErrInvalidMaxQueries
	}

	subject := strings.Join(strings.Fields(topic), " ")
	core := strings.Join(Terms(topic), " ")

	variants := []string{
		topic,
		subject + " news",
		core,
		`"` + subject + `"`,
		subject + " latest developments",
	}

	seen := make(map[string]bool, len(variants))
	queries := make([]string, 0, maxQueries)
	for _, v := range variants {
		key := strings.ToLower(strings.TrimSpace(v))
		if key == "" || key == `""` || seen[key] {
			continue
		}
		seen[key] = true
		queries = append(queries, v)
		if len(queries) == maxQueries {
			break
		}
	}
	return queries, nil
}

// Terms returns the topic's content words in order, lowercased, with filler
// phrases and stop words removed. A topic made only of stop words yields its
// lowercased words unchanged.
func Terms(topic string) []string {
	lower := strings.ToLower(strings.Join(strings.Fields(topic), " "))
	for _, f := range filler {
		if strings.HasPrefix(lower, f+" ") {
			lower = strings.TrimPrefix(lower, f+" ")
			break
		}
	}

	words := wordRe.FindAllString(lower, -1)
	terms := make([]string, 0, len(words))
	seen := map[string]bool{}
	for _, w := range words {
		w = strings.TrimRight(w, ".-'")
		if w == "" || stopWords[w] || seen[w] {
			continue
		}
		seen[w] = true
		terms = append(terms, w)
	}
	if len(terms) == 0 {
		return words
	}
	return terms
}
