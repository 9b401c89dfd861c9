// Package summarize produces structured per-article summaries with a
// language model.
package summarize

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/FranksOps/newsbrief/internal/article"
	"github.com/FranksOps/newsbrief/internal/llm"
)

// Config bounds the summary shape and the completion request.
type Config struct {
	MaxTokens        int
	Temperature      float64
	MaxKeyFacts      int
	MaxKeywords      int
	MaxEntities      int
	MaxSynopsisChars int
}

// DefaultConfig returns the bounds used when none are configured.
func DefaultConfig() Config {
	return Config{
		MaxTokens:        700,
		Temperature:      0.2,
		MaxKeyFacts:      5,
		MaxKeywords:      5,
		MaxEntities:      8,
		MaxSynopsisChars: 600,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxTokens <= 0 {
		c.MaxTokens = d.MaxTokens
	}
	if c.Temperature < 0 {
		c.Temperature = d.Temperature
	}
	if c.MaxKeyFacts <= 0 {
		c.MaxKeyFacts = d.MaxKeyFacts
	}
	if c.MaxKeywords <= 0 {
		c.MaxKeywords = d.MaxKeywords
	}
	if c.MaxEntities <= 0 {
		c.MaxEntities = d.MaxEntities
	}
	if c.MaxSynopsisChars <= 0 {
		c.MaxSynopsisChars = d.MaxSynopsisChars
	}
	return c
}

// Summarizer turns extracted content into an article.Summary.
type Summarizer struct {
	model  llm.Completer
	cfg    Config
	logger *slog.Logger
}

// New builds a Summarizer over model.
func New(model llm.Completer, cfg Config, logger *slog.Logger) *Summarizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Summarizer{model: model, cfg: cfg.withDefaults(), logger: logger}
}

// Summarize makes one summarization attempt. A response that cannot be
// parsed is retried once, immediately, with a stricter prompt; c records
// that, so a caller retrying a transient error never gets a second strict
// retry for the same content. Errors are *article.Failure values of the
// summarize stage.
func (s *Summarizer) Summarize(ctx context.Context, c *article.Content) (*article.Summary, error) {
	if c.StrictPrompt {
		return s.summarizeStrict(ctx, c)
	}

	resp, err := s.complete(ctx, c, false)
	if err != nil {
		return nil, err
	}
	parsed, perr := parse(resp)
	if perr == nil {
		return s.build(c, parsed), nil
	}

	s.logger.Debug("malformed summary, retrying with strict prompt", "url", c.Candidate.URL, "err", perr)
	c.StrictPrompt = true
	return s.summarizeStrict(ctx, c)
}

func (s *Summarizer) summarizeStrict(ctx context.Context, c *article.Content) (*article.Summary, error) {
	resp, err := s.complete(ctx, c, true)
	if err != nil {
		return nil, err
	}
	parsed, perr := parse(resp)
	if perr != nil {
		f := article.NewFailure(article.StageSummarize, article.KindMalformedResponse, perr)
		f.Detail = "after strict retry"
		return nil, f
	}
	return s.build(c, parsed), nil
}

func (s *Summarizer) complete(ctx context.Context, c *article.Content, strict bool) (string, error) {
	text, err := s.model.Complete(ctx, llm.Request{
		System:      systemPrompt,
		Prompt:      buildPrompt(c, strict),
		MaxTokens:   s.cfg.MaxTokens,
		Temperature: s.cfg.Temperature,
	})
	if err != nil {
		return "", classify(ctx, err)
	}
	return text, nil
}

func classify(ctx context.Context, err error) *article.Failure {
	kind := article.KindServiceUnavailable
	switch {
	case errors.Is(err, llm.ErrRateLimited):
		kind = article.KindRateLimited
	case errors.Is(err, llm.ErrRejected):
		kind = article.KindRejected
	case errors.Is(err, llm.ErrUnavailable):
		kind = article.KindServiceUnavailable
	case errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled):
		kind = article.KindCancelled
	case errors.Is(err, context.DeadlineExceeded):
		kind = article.KindTimeout
	}
	return article.NewFailure(article.StageSummarize, kind, err)
}

// stringList accepts either a JSON array of strings or one comma separated
// string.
type stringList []string

func (l *stringList) UnmarshalJSON(data []byte) error {
	var arr []string
	if err := json.Unmarshal(data, &arr); err == nil {
		*l = arr
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("expected string list: %w", err)
	}
	*l = strings.Split(s, ",")
	return nil
}

type response struct {
	Headline string     `json:"headline"`
	Synopsis string     `json:"synopsis"`
	Summary  string     `json:"summary"`
	KeyFacts stringList `json:"key_facts"`
	Entities stringList `json:"entities"`
	Keywords stringList `json:"keywords"`
}

func parse(raw string) (*response, error) {
	var r response
	if err := json.Unmarshal([]byte(cleanJSONResponse(raw)), &r); err != nil {
		return nil, fmt.Errorf("decode summary: %w", err)
	}
	if strings.TrimSpace(r.Synopsis) == "" {
		r.Synopsis = r.Summary
	}
	if strings.TrimSpace(r.Synopsis) == "" {
		return nil, errors.New("summary has no synopsis")
	}
	if len(clean(r.KeyFacts, 0)) == 0 {
		return nil, errors.New("summary has no key facts")
	}
	return &r, nil
}

// build applies the shape bounds. The source URL always comes from the
// candidate.
func (s *Summarizer) build(c *article.Content, r *response) *article.Summary {
	headline := strings.Join(strings.Fields(r.Headline), " ")
	if headline == "" {
		headline = c.Title
	}
	if headline == "" {
		headline = c.Candidate.Title
	}
	published := c.Published
	if published.IsZero() {
		published = c.Candidate.Published
	}

	return &article.Summary{
		Candidate: c.Candidate,
		Title:     c.Title,
		Published: published,
		Headline:  headline,
		Synopsis:  clip(strings.Join(strings.Fields(r.Synopsis), " "), s.cfg.MaxSynopsisChars),
		KeyFacts:  clean(r.KeyFacts, s.cfg.MaxKeyFacts),
		Entities:  clean(r.Entities, s.cfg.MaxEntities),
		Keywords:  clean(r.Keywords, s.cfg.MaxKeywords),
		SourceURL: c.Candidate.URL,
	}
}

// clean trims entries, drops empties and case-insensitive repeats, and
// keeps at most max (0 means all).
func clean(in []string, max int) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, v := range in {
		v = strings.Join(strings.Fields(v), " ")
		k := strings.ToLower(v)
		if v == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, v)
		if max > 0 && len(out) == max {
			break
		}
	}
	return out
}

const ellipsis = "…"

// clip shortens s to at most max bytes, preferring a sentence end. The
// ellipsis counts toward max.
func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if i := strings.LastIndexAny(validPrefix(s, max), ".!?"); i > max/3 {
		return s[:i+1]
	}
	limit := max - len(ellipsis)
	if limit <= 0 {
		return validPrefix(s, max)
	}
	cut := validPrefix(s, limit)
	if s[len(cut)] != ' ' {
		if i := strings.LastIndex(cut, " "); i > 0 {
			cut = cut[:i]
		}
	}
	return strings.TrimSpace(cut) + ellipsis
}

// validPrefix returns at most n bytes of s without splitting a rune.
func validPrefix(s string, n int) string {
	cut := s[:n]
	for len(cut) > 0 && !utf8.ValidString(cut) {
		cut = cut[:len(cut)-1]
	}
	return cut
}

// cleanJSONResponse strips markdown fences and prose around the first JSON
// object in a model response.
func cleanJSONResponse(content string) string {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start >= 0 && end > start {
		content = content[start : end+1]
	}
	return content
}
