// Package report assembles per-article summaries into the run's report and
// renders it in the supported output formats.
package report

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/FranksOps/newsbrief/internal/article"
	"github.com/FranksOps/newsbrief/internal/discovery"
)

// Section is one summarized article in report order.
type Section struct {
	Position  int       `json:"position" yaml:"position"`
	URL       string    `json:"url" yaml:"url"`
	Title     string    `json:"title,omitempty" yaml:"title,omitempty"`
	Query     string    `json:"query" yaml:"query"`
	Rank      int       `json:"rank" yaml:"rank"`
	Published time.Time `json:"published,omitzero" yaml:"published,omitempty"`
	Headline  string    `json:"headline" yaml:"headline"`
	Synopsis  string    `json:"synopsis" yaml:"synopsis"`
	KeyFacts  []string  `json:"key_facts" yaml:"key_facts"`
	Entities  []string  `json:"entities,omitempty" yaml:"entities,omitempty"`
	Keywords  []string  `json:"keywords" yaml:"keywords"`
	Mentions  int       `json:"mentions" yaml:"mentions"`
	Highlight string    `json:"highlight,omitempty" yaml:"highlight,omitempty"`
}

// FailureRecord describes one article that did not make it into the report.
type FailureRecord struct {
	URL      string `json:"url" yaml:"url"`
	Stage    string `json:"stage" yaml:"stage"`
	Kind     string `json:"kind" yaml:"kind"`
	Status   int    `json:"status,omitempty" yaml:"status,omitempty"`
	Attempts int    `json:"attempts" yaml:"attempts"`
	Error    string `json:"error,omitempty" yaml:"error,omitempty"`
}

// NewFailureRecord converts an item failure into its report form.
func NewFailureRecord(url string, f *article.Failure) FailureRecord {
	rec := FailureRecord{
		URL:      url,
		Stage:    string(f.Stage),
		Kind:     string(f.Kind),
		Status:   f.Status,
		Attempts: f.Attempts,
	}
	switch {
	case f.Err != nil && f.Detail != "":
		rec.Error = f.Detail + ": " + f.Err.Error()
	case f.Err != nil:
		rec.Error = f.Err.Error()
	default:
		rec.Error = f.Detail
	}
	return rec
}

// Stats are the run counters. Summarized + Failed always equals Discovered.
// TimedOut and Failures are inputs to Aggregate and are lifted onto the Report.
type Stats struct {
	Discovered int             `json:"discovered" yaml:"discovered"`
	Fetched    int             `json:"fetched" yaml:"fetched"`
	Extracted  int             `json:"extracted" yaml:"extracted"`
	Summarized int             `json:"summarized" yaml:"summarized"`
	Failed     int             `json:"failed" yaml:"failed"`
	ByKind     map[string]int  `json:"by_kind,omitempty" yaml:"by_kind,omitempty"`
	TimedOut   bool            `json:"-" yaml:"-"`
	Failures   []FailureRecord `json:"-" yaml:"-"`
}

// Report is the immutable result of one run.
type Report struct {
	ID          string          `json:"id" yaml:"id"`
	Topic       string          `json:"topic" yaml:"topic"`
	Queries     []string        `json:"queries" yaml:"queries"`
	Sections    []Section       `json:"sections" yaml:"sections"`
	Stats       Stats           `json:"stats" yaml:"stats"`
	Failures    []FailureRecord `json:"failures,omitempty" yaml:"failures,omitempty"`
	Degraded    bool            `json:"degraded" yaml:"degraded"`
	Empty       bool            `json:"empty" yaml:"empty"`
	TimedOut    bool            `json:"timed_out" yaml:"timed_out"`
	Note        string          `json:"note,omitempty" yaml:"note,omitempty"`
	GeneratedAt time.Time       `json:"generated_at" yaml:"generated_at"`
	Duration    time.Duration   `json:"duration_ns" yaml:"duration_ns"`
}

// Aggregate orders summaries by their candidate's rank, drops summaries whose
// source URLs normalize identically and fills in the run markers. It always
// returns a report.
func Aggregate(topic string, summaries []*article.Summary, stats Stats) *Report {
	ordered := make([]*article.Summary, 0, len(summaries))
	for _, s := range summaries {
		if s != nil {
			ordered = append(ordered, s)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Candidate.Less(ordered[j].Candidate)
	})

	r := &Report{
		Topic:       topic,
		Sections:    make([]Section, 0, len(ordered)),
		Failures:    stats.Failures,
		TimedOut:    stats.TimedOut,
		GeneratedAt: time.Now().UTC(),
	}

	seen := make(map[string]bool, len(ordered))
	for _, s := range ordered {
		key := s.SourceURL
		if n, err := discovery.Normalize(key); err == nil {
			key = n
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		r.Sections = append(r.Sections, newSection(len(r.Sections)+1, s))
	}

	stats.Failures = nil
	r.Stats = stats
	r.Empty = len(r.Sections) == 0
	r.Degraded = r.Empty || stats.Failed > 0 || stats.TimedOut
	r.Note = coverageNote(r)
	return r
}

func newSection(pos int, s *article.Summary) Section {
	title := s.Title
	if title == "" {
		title = s.Candidate.Title
	}
	published := s.Published
	if published.IsZero() {
		published = s.Candidate.Published
	}
	return Section{
		Position:  pos,
		URL:       s.SourceURL,
		Title:     title,
		Query:     s.Candidate.Query,
		Rank:      s.Candidate.Rank,
		Published: published,
		Headline:  s.Headline,
		Synopsis:  s.Synopsis,
		KeyFacts:  s.KeyFacts,
		Entities:  s.Entities,
		Keywords:  s.Keywords,
		Mentions:  s.Mentions,
		Highlight: s.Highlight,
	}
}

func coverageNote(r *Report) string {
	var parts []string
	switch {
	case r.Stats.Discovered == 0:
		parts = append(parts, "no articles were found")
	case r.Stats.Failed > 0:
		parts = append(parts, fmt.Sprintf("%d of %d articles failed to summarize", r.Stats.Failed, r.Stats.Discovered))
	}
	if r.TimedOut {
		parts = append(parts, "time budget exhausted before all articles completed")
	}
	return strings.Join(parts, "; ")
}
