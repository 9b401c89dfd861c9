// Package serp provides the search capability used to discover news
// articles for a query.
package serp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/FranksOps/newsbrief/internal/article"
)

// ErrUnavailable marks a search failure worth retrying: the provider could
// not be reached, timed out, throttled or failed server-side.
var ErrUnavailable = fmt.Errorf("search provider unavailable: %w", article.ErrCapabilityUnavailable)

// Query is one search request.
type Query struct {
	Text  string
	Limit int
	// Recency restricts results to the trailing window when the provider
	// supports it. Zero means no restriction.
	Recency time.Duration
}

// Result is one search hit in provider rank order.
type Result struct {
	URL       string    `json:"url"`
	Title     string    `json:"title"`
	Snippet   string    `json:"snippet"`
	Published time.Time `json:"published,omitempty"`
	Source    string    `json:"source"`
}

// Provider abstracts a news search backend. Zero results is not an error.
type Provider interface {
	Name() string
	Search(ctx context.Context, q Query) ([]Result, error)
}

// statusError classifies a non-2xx response from a provider.
func statusError(provider string, code int) error {
	if code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= 500 {
		return fmt.Errorf("%s: status %d: %w", provider, code, ErrUnavailable)
	}
	return fmt.Errorf("%s: unexpected status %d", provider, code)
}

// transportError wraps a failed request. A cancelled caller is not an
// availability problem.
func transportError(ctx context.Context, provider string, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%s: %w", provider, ctx.Err())
	}
	return fmt.Errorf("%s: %w: %w", provider, ErrUnavailable, err)
}

// Fallback queries providers in order and returns the first answer that is
// not an availability failure.
type Fallback []Provider

func (f Fallback) Name() string { return "fallback" }

func (f Fallback) Search(ctx context.Context, q Query) ([]Result, error) {
	var errs []error
	for _, p := range f {
		res, err := p.Search(ctx, q)
		if err == nil || !errors.Is(err, ErrUnavailable) {
			return res, err
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return nil, fmt.Errorf("no search providers configured: %w", ErrUnavailable)
	}
	return nil, errors.Join(errs...)
}

func truncate(res []Result, limit int) []Result {
	if limit > 0 && len(res) > limit {
		return res[:limit]
	}
	return res
}
