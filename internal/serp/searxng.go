package serp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/FranksOps/newsbrief/internal/metrics"
	"github.com/FranksOps/newsbrief/pkg/httpclient"
	"github.com/FranksOps/newsbrief/pkg/ratelimit"
)

// SearxNG queries a SearxNG instance's JSON API in the news category.
type SearxNG struct {
	Client  *httpclient.Client
	Limiter *ratelimit.Limiter
	BaseURL string
}

type searxResponse struct {
	Results []struct {
		URL           string `json:"url"`
		Title         string `json:"title"`
		Content       string `json:"content"`
		PublishedDate string `json:"publishedDate"`
		Engine        string `json:"engine"`
	} `json:"results"`
}

func (s *SearxNG) Name() string { return "searxng" }

func (s *SearxNG) Search(ctx context.Context, q Query) (res []Result, err error) {
	defer func() { metrics.RecordSearch(s.Name(), err) }()

	if s.BaseURL == "" {
		return nil, fmt.Errorf("searxng: base url not configured")
	}
	if err := s.Limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("searxng: %w", err)
	}

	v := url.Values{}
	v.Set("q", q.Text)
	v.Set("format", "json")
	v.Set("categories", "news")
	v.Set("pageno", "1")
	if tr := timeRange(q.Recency); tr != "" {
		v.Set("time_range", tr)
	}

	resp, err := s.Client.Get(ctx, strings.TrimRight(s.BaseURL, "/")+"/search?"+v.Encode(), http.Header{
		"Accept": {"application/json"},
	})
	if err != nil {
		return nil, transportError(ctx, s.Name(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(s.Name(), resp.StatusCode)
	}

	var payload searxResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("searxng: decode response: %w", err)
	}

	for _, r := range payload.Results {
		if r.URL == "" {
			continue
		}
		source := s.Name()
		if r.Engine != "" {
			source += "/" + r.Engine
		}
		res = append(res, Result{
			URL:       r.URL,
			Title:     strings.TrimSpace(r.Title),
			Snippet:   strings.TrimSpace(r.Content),
			Published: parseLooseTime(r.PublishedDate),
			Source:    source,
		})
	}
	return truncate(res, q.Limit), nil
}

// timeRange maps a recency window to SearxNG's coarse buckets.
func timeRange(d time.Duration) string {
	switch {
	case d <= 0:
		return ""
	case d <= 24*time.Hour:
		return "day"
	case d <= 7*24*time.Hour:
		return "week"
	case d <= 31*24*time.Hour:
		return "month"
	default:
		return "year"
	}
}

var looseLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseLooseTime(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range looseLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
