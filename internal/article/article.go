// Package article holds the entities that flow through a single pipeline run:
// the run request, discovered candidates, extracted content and summaries.
package article

import (
	"strings"
	"time"
)

// Request describes one pipeline run. Zero values fall back to the
// coordinator's configured defaults.
type Request struct {
	Topic      string
	MaxQueries int
	MaxResults int
	TimeBudget time.Duration
	// Recency drops candidates whose known publish date is older than now-Recency.
	Recency time.Duration
}

// Candidate is a discovered URL under consideration for fetching.
type Candidate struct {
	URL       string    `json:"url"`
	RawURL    string    `json:"raw_url"`
	Title     string    `json:"title,omitempty"`
	Snippet   string    `json:"snippet,omitempty"`
	Query     string    `json:"query"`
	Rank      int       `json:"rank"`
	Order     int       `json:"order"`
	Published time.Time `json:"published,omitempty"`
}

// Less reports whether c sorts before o: by query-result rank, then by
// discovery order.
func (c Candidate) Less(o Candidate) bool {
	if c.Rank != o.Rank {
		return c.Rank < o.Rank
	}
	return c.Order < o.Order
}

// Content is the cleaned article text extracted from one candidate's page.
type Content struct {
	Candidate Candidate
	Title     string
	Body      string
	Published time.Time
	SiteName  string
	Language  string
	Words     int
	// StrictPrompt is set once a model answer for this content could not be
	// parsed. Later summarize attempts use only the stricter prompt.
	StrictPrompt bool `json:"-"`
}

// Summary is the structured model output for one article.
type Summary struct {
	Candidate Candidate
	Title     string
	Published time.Time
	Headline  string
	Synopsis  string
	KeyFacts  []string
	Entities  []string
	Keywords  []string
	SourceURL string
	// Mentions and Highlight carry topic relevance computed from the body.
	Mentions  int
	Highlight string
}

// CountWords returns the number of whitespace separated words in s.
func CountWords(s string) int {
	return len(strings.Fields(s))
}
