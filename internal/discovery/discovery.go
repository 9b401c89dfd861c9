// Package discovery turns search queries into a ranked, deduplicated list of
// article candidates.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/FranksOps/newsbrief/internal/article"
	"github.com/FranksOps/newsbrief/internal/serp"
	"github.com/FranksOps/newsbrief/pkg/retry"
)

// ErrUnavailable is returned when no query could be answered by the search
// capability.
var ErrUnavailable = fmt.Errorf("discovery unavailable: %w", article.ErrCapabilityUnavailable)

// Options bound one discovery pass.
type Options struct {
	// MaxResults caps the returned candidates. Zero means no cap.
	MaxResults int
	// PerQuery caps results requested from the provider for each query.
	PerQuery int
	// Recency drops results with a known publish date older than now-Recency.
	Recency time.Duration
}

// Discoverer runs queries against a search provider.
type Discoverer struct {
	provider serp.Provider
	policy   retry.Policy
	logger   *slog.Logger
	now      func() time.Time
}

// New builds a Discoverer. Search calls that fail with serp.ErrUnavailable
// are retried under policy.
func New(provider serp.Provider, policy retry.Policy, logger *slog.Logger) *Discoverer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Discoverer{provider: provider, policy: policy, logger: logger, now: time.Now}
}

// Discover issues each query in order and merges the results. The first
// occurrence of a normalized URL wins. Candidates are ordered by their rank
// within their query, then by discovery order. Partial failure returns the
// union of the successful queries; only a pass where every query failed is
// an error.
func (d *Discoverer) Discover(ctx context.Context, queries []string, opts Options) ([]article.Candidate, error) {
	var (
		candidates []article.Candidate
		seen       = make(map[string]bool)
		failures   []error
		answered   int
		cutoff     time.Time
	)
	if opts.Recency > 0 {
		cutoff = d.now().Add(-opts.Recency)
	}

	for _, q := range queries {
		if ctx.Err() != nil {
			break
		}

		var results []serp.Result
		attempts, err := retry.Do(ctx, d.policy,
			func(err error) bool { return errors.Is(err, serp.ErrUnavailable) },
			func(ctx context.Context) error {
				var err error
				results, err = d.provider.Search(ctx, serp.Query{Text: q, Limit: opts.PerQuery, Recency: opts.Recency})
				return err
			},
			func(attempt int, err error, delay time.Duration) {
				d.logger.Debug("search failed, retrying", "query", q, "attempt", attempt, "delay", delay, "err", err)
			},
		)
		if err != nil {
			d.logger.Warn("search failed", "query", q, "provider", d.provider.Name(), "attempts", attempts, "err", err)
			failures = append(failures, fmt.Errorf("query %q: %w", q, err))
			continue
		}
		answered++

		for i, r := range results {
			norm, err := Normalize(r.URL)
			if err != nil {
				d.logger.Debug("dropping result", "url", r.URL, "err", err)
				continue
			}
			if seen[norm] {
				continue
			}
			if !cutoff.IsZero() && !r.Published.IsZero() && r.Published.Before(cutoff) {
				continue
			}
			seen[norm] = true
			candidates = append(candidates, article.Candidate{
				URL:       norm,
				RawURL:    r.URL,
				Title:     r.Title,
				Snippet:   r.Snippet,
				Query:     q,
				Rank:      i + 1,
				Order:     len(candidates),
				Published: r.Published,
			})
		}
	}

	if answered == 0 {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("discovery: %w", err)
		}
		if len(failures) == 0 {
			return nil, fmt.Errorf("%w: no queries", ErrUnavailable)
		}
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, errors.Join(failures...))
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Less(candidates[j])
	})
	if opts.MaxResults > 0 && len(candidates) > opts.MaxResults {
		candidates = candidates[:opts.MaxResults]
	}
	return candidates, nil
}
