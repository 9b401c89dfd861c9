package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/FranksOps/newsbrief/internal/article"
	"github.com/FranksOps/newsbrief/internal/bypass"
	"github.com/FranksOps/newsbrief/internal/fingerprint"
	"github.com/FranksOps/newsbrief/internal/metrics"
	"github.com/FranksOps/newsbrief/pkg/httpclient"
	"github.com/FranksOps/newsbrief/pkg/proxy"
	"github.com/FranksOps/newsbrief/pkg/ratelimit"
	"github.com/FranksOps/newsbrief/pkg/useragent"
	"github.com/google/uuid"
)

type contextKey string

const proxyKey contextKey = "proxy_url"

// DefaultMaxBodyBytes caps how much of an article response is kept.
const DefaultMaxBodyBytes = 5 << 20

// Page is the result of one article fetch. Exactly one of a response
// (StatusCode, Body) or Failure is meaningful.
type Page struct {
	ID           string
	URL          string
	FinalURL     string
	StatusCode   int
	Headers      http.Header
	ContentType  string
	Body         []byte
	Truncated    bool
	Duration     time.Duration
	FetchedAt    time.Time
	DetectionSrc string
	Failure      *article.Failure
}

// FetchConfig configures article fetching.
type FetchConfig struct {
	Timeout      time.Duration
	MaxRedirects int
	UseCookieJar bool
	MaxBodyBytes int64
	UAPool       *useragent.Pool
	ProxyPool    *proxy.Pool
	Fingerprint  fingerprint.Profile
	Limiter      *ratelimit.Limiter
	// RobotsAgent enables robots.txt enforcement for the given product token.
	RobotsAgent string
	Logger      *slog.Logger
}

// Fetcher performs single-attempt article fetches. Retries belong to the
// caller.
type Fetcher struct {
	config FetchConfig
	client *httpclient.Client
	robots *RobotsPolicy
	logger *slog.Logger
}

// NewFetcher builds a Fetcher. One client is held for the fetcher's life so
// connections and cookies are reused across articles.
func NewFetcher(cfg FetchConfig, opts ...fingerprint.Option) (*Fetcher, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.UAPool == nil {
		cfg.UAPool = useragent.NewPool(nil, false)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	// The proxy is chosen per request and travels in the request context.
	proxyFunc := func(req *http.Request) (*url.URL, error) {
		if u, ok := req.Context().Value(proxyKey).(*url.URL); ok && u != nil {
			return u, nil
		}
		return http.ProxyFromEnvironment(req)
	}

	transport, err := fingerprint.NewTransport(cfg.Fingerprint, append(opts, fingerprint.WithProxy(proxyFunc))...)
	if err != nil {
		return nil, fmt.Errorf("setup transport: %w", err)
	}

	client, err := httpclient.New(httpclient.Config{
		Timeout:      cfg.Timeout,
		MaxRedirects: cfg.MaxRedirects,
		UseCookieJar: cfg.UseCookieJar,
		Transport:    transport,
	})
	if err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}

	f := &Fetcher{config: cfg, client: client, logger: cfg.Logger}
	if cfg.RobotsAgent != "" {
		robotsClient, err := httpclient.New(httpclient.Config{
			Timeout:      5 * time.Second,
			MaxRedirects: 5,
			UserAgent:    cfg.UAPool.Next(),
			Transport:    transport,
		})
		if err != nil {
			return nil, fmt.Errorf("create robots client: %w", err)
		}
		f.robots = NewRobotsPolicy(robotsClient, cfg.RobotsAgent, cfg.Logger)
	}
	return f, nil
}

// Fetch retrieves targetURL in one attempt bounded by the configured
// timeout. It never returns nil; failures are carried on Page.Failure.
func (f *Fetcher) Fetch(ctx context.Context, targetURL string) *Page {
	start := time.Now()
	page := &Page{
		ID:        uuid.New().String(),
		URL:       targetURL,
		FetchedAt: start.UTC(),
	}
	defer func() {
		page.Duration = time.Since(start)
		metrics.RecordFetch(domainOf(targetURL), page.StatusCode, page.DetectionSrc, page.Duration, len(page.Body))
	}()

	u, err := url.Parse(targetURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		page.Failure = article.NewFailure(article.StageFetch, article.KindInvalidRequest,
			fmt.Errorf("unfetchable url %q", targetURL))
		return page
	}

	if f.robots != nil && !f.robots.Allowed(ctx, u) {
		page.Failure = &article.Failure{
			Stage:  article.StageFetch,
			Kind:   article.KindBlocked,
			Detail: "robots.txt",
			Err:    errors.New("disallowed by robots.txt"),
		}
		return page
	}

	if err := f.config.Limiter.Wait(ctx); err != nil {
		page.Failure = classifyError(ctx, err)
		return page
	}

	activeProxy := f.config.ProxyPool.Next()
	if activeProxy != nil {
		ctx = context.WithValue(ctx, proxyKey, activeProxy)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		page.Failure = article.NewFailure(article.StageFetch, article.KindInvalidRequest, err)
		return page
	}
	req.Header.Set("User-Agent", f.config.UAPool.Next())
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,text/plain;q=0.8,*/*;q=0.5")
	req.Header.Set("Accept-Language", "en-US,en;q=0.7")
	req.Header.Set("Accept-Encoding", acceptEncoding)

	resp, err := f.client.Do(ctx, req)
	if err != nil {
		if activeProxy != nil {
			f.config.ProxyPool.Report(activeProxy, false)
			metrics.ProxyFailures.WithLabelValues(activeProxy.Host).Inc()
		}
		page.Failure = classifyError(ctx, err)
		f.logger.Debug("fetch failed", "url", targetURL, "kind", page.Failure.Kind, "err", err)
		return page
	}
	defer resp.Body.Close()

	if activeProxy != nil {
		f.config.ProxyPool.Report(activeProxy, true)
	}

	page.StatusCode = resp.StatusCode
	page.Headers = resp.Header
	page.FinalURL = resp.Request.URL.String()
	if mt, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type")); err == nil {
		page.ContentType = mt
	}

	body, truncated, err := f.readBody(resp)
	page.Body = body
	page.Truncated = truncated
	if err != nil {
		page.Failure = classifyError(ctx, err)
		return page
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detected, src := bypass.Analyze(bypass.Response{
			StatusCode: resp.StatusCode,
			Headers:    resp.Header,
			Body:       body,
		}, bypass.DefaultDetectors())
		if detected {
			page.DetectionSrc = src
			page.Failure = &article.Failure{
				Stage:  article.StageFetch,
				Kind:   article.KindBlocked,
				Status: resp.StatusCode,
				Detail: src,
				Err:    fmt.Errorf("challenged by %s", src),
			}
			return page
		}
		page.Failure = article.HTTPFailure(resp.StatusCode)
	}
	return page
}

// Close releases idle connections held by the fetcher's client.
func (f *Fetcher) Close() {
	f.client.CloseIdleConnections()
}

func (f *Fetcher) readBody(resp *http.Response) ([]byte, bool, error) {
	r, release, err := decodeBody(resp.Header.Get("Content-Encoding"), resp.Body)
	if err != nil {
		return nil, false, err
	}
	defer release()

	body, err := io.ReadAll(io.LimitReader(r, f.config.MaxBodyBytes+1))
	if err != nil {
		return body, false, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > f.config.MaxBodyBytes {
		return body[:f.config.MaxBodyBytes], true, nil
	}
	return body, false, nil
}

// classifyError maps a transport error to a fetch failure kind.
func classifyError(ctx context.Context, err error) *article.Failure {
	kind := article.KindNetwork
	var netErr net.Error
	switch {
	case errors.Is(ctx.Err(), context.Canceled):
		kind = article.KindCancelled
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		kind = article.KindTimeout
	case errors.Is(err, httpclient.ErrTooManyRedirects):
		kind = article.KindHTTP
	}
	return article.NewFailure(article.StageFetch, kind, err)
}

func domainOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "invalid"
	}
	return u.Hostname()
}
