package serp

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/FranksOps/newsbrief/internal/metrics"
	"github.com/FranksOps/newsbrief/pkg/httpclient"
	"github.com/FranksOps/newsbrief/pkg/ratelimit"
	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
)

const defaultGoogleNewsURL = "https://news.google.com/rss/search"

// GoogleNews searches the Google News RSS endpoint.
type GoogleNews struct {
	Client  *httpclient.Client
	Limiter *ratelimit.Limiter
	// BaseURL overrides the RSS search endpoint.
	BaseURL string
	// SiteURL overrides https://news.google.com for resolving article links.
	SiteURL  string
	Language string
	Region   string
}

func (g *GoogleNews) Name() string { return "googlenews" }

// Search returns publisher URLs. Google News article stubs are resolved
// before they become results; stubs that cannot be resolved are dropped.
func (g *GoogleNews) Search(ctx context.Context, q Query) (res []Result, err error) {
	defer func() { metrics.RecordSearch(g.Name(), err) }()

	if err := g.Limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("googlenews: %w", err)
	}

	resp, err := g.Client.Get(ctx, g.searchURL(q), http.Header{
		"Accept": {"application/rss+xml, application/xml;q=0.9, */*;q=0.5"},
	})
	if err != nil {
		return nil, transportError(ctx, g.Name(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(g.Name(), resp.StatusCode)
	}

	feed, err := gofeed.NewParser().Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("googlenews: parse feed: %w", err)
	}

	for _, item := range feed.Items {
		if q.Limit > 0 && len(res) >= q.Limit {
			break
		}
		if item.Link == "" {
			continue
		}
		link, err := g.publisherURL(ctx, item.Link)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("googlenews: %w", ctx.Err())
			}
			// A stub that cannot be resolved leads to Google's own page,
			// never to the article.
			continue
		}
		r := Result{
			URL:     link,
			Title:   strings.TrimSpace(item.Title),
			Snippet: htmlText(item.Description),
			Source:  g.Name(),
		}
		if item.PublishedParsed != nil {
			r.Published = item.PublishedParsed.UTC()
		}
		res = append(res, r)
	}
	return truncate(res, q.Limit), nil
}

func (g *GoogleNews) searchURL(q Query) string {
	base := g.BaseURL
	if base == "" {
		base = defaultGoogleNewsURL
	}
	lang, region := g.Language, g.Region
	if lang == "" {
		lang = "en-US"
	}
	if region == "" {
		region = "US"
	}

	text := q.Text
	if w := whenOperator(q.Recency); w != "" {
		text += " " + w
	}

	v := url.Values{}
	v.Set("q", text)
	v.Set("hl", lang)
	v.Set("gl", region)
	v.Set("ceid", region+":"+strings.SplitN(lang, "-", 2)[0])
	return base + "?" + v.Encode()
}

// whenOperator renders a recency window as Google's when:Nh / when:Nd.
func whenOperator(d time.Duration) string {
	if d <= 0 {
		return ""
	}
	if d < 24*time.Hour {
		return fmt.Sprintf("when:%dh", int(math.Ceil(d.Hours())))
	}
	return fmt.Sprintf("when:%dd", int(math.Ceil(d.Hours()/24)))
}

// htmlText flattens an HTML fragment to its text.
func htmlText(fragment string) string {
	if !strings.Contains(fragment, "<") {
		return strings.TrimSpace(fragment)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return strings.TrimSpace(fragment)
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}
