// Package app wires a runner configuration into a ready pipeline. It is the
// only place where configuration turns into component settings.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/FranksOps/newsbrief/internal/article"
	"github.com/FranksOps/newsbrief/internal/config"
	"github.com/FranksOps/newsbrief/internal/discovery"
	"github.com/FranksOps/newsbrief/internal/extract"
	"github.com/FranksOps/newsbrief/internal/fingerprint"
	"github.com/FranksOps/newsbrief/internal/llm"
	"github.com/FranksOps/newsbrief/internal/pipeline"
	"github.com/FranksOps/newsbrief/internal/report"
	"github.com/FranksOps/newsbrief/internal/scraper"
	"github.com/FranksOps/newsbrief/internal/serp"
	"github.com/FranksOps/newsbrief/internal/summarize"
	"github.com/FranksOps/newsbrief/pkg/httpclient"
	"github.com/FranksOps/newsbrief/pkg/proxy"
	"github.com/FranksOps/newsbrief/pkg/ratelimit"
	"github.com/FranksOps/newsbrief/pkg/retry"
	"github.com/FranksOps/newsbrief/pkg/useragent"
)

// App owns the long-lived components behind one Coordinator.
type App struct {
	Coordinator *pipeline.Coordinator
	fetcher     *scraper.Fetcher
	logger      *slog.Logger
}

// Options replaces parts of the wiring. Nil fields are built from config.
type Options struct {
	Search    serp.Provider
	Completer llm.Completer
}

// New builds the pipeline described by cfg.
func New(cfg *config.Config, logger *slog.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	policy := RetryPolicy(cfg.Retry)

	provider := opts.Search
	if provider == nil {
		p, err := SearchProvider(cfg.Search)
		if err != nil {
			return nil, err
		}
		provider = p
	}

	fetcher, err := Fetcher(cfg.Fetch, logger)
	if err != nil {
		return nil, err
	}

	completer := opts.Completer
	if completer == nil {
		c, err := llm.New(llm.Config{
			Provider:   cfg.LLM.Provider,
			Model:      cfg.LLM.Model,
			APIKey:     cfg.LLM.APIKey,
			BaseURL:    cfg.LLM.BaseURL,
			Endpoint:   cfg.LLM.Endpoint,
			APIVersion: cfg.LLM.APIVersion,
			Timeout:    cfg.LLM.Timeout,
			Limiter:    ratelimit.NewLimiter(cfg.LLM.RPS, cfg.LLM.Burst, 0),
		})
		if err != nil {
			fetcher.Close()
			return nil, fmt.Errorf("build language model client: %w", err)
		}
		completer = c
	}

	summarizer := summarize.New(completer, summarize.Config{
		MaxTokens:        cfg.Summary.MaxTokens,
		Temperature:      cfg.Summary.Temperature,
		MaxKeyFacts:      cfg.Summary.MaxKeyFacts,
		MaxKeywords:      cfg.Summary.MaxKeywords,
		MaxEntities:      cfg.Summary.MaxEntities,
		MaxSynopsisChars: cfg.Summary.MaxSynopsisChars,
	}, logger)

	coordinator := pipeline.New(pipeline.Config{
		MaxQueries:           cfg.Pipeline.MaxQueries,
		MaxResults:           cfg.Pipeline.MaxResults,
		PerQuery:             cfg.Pipeline.PerQuery,
		TimeBudget:           cfg.Pipeline.TimeBudget,
		GracePeriod:          cfg.Pipeline.GracePeriod,
		Recency:              cfg.Pipeline.Recency,
		FetchConcurrency:     cfg.Concurrency.Fetch,
		ExtractConcurrency:   cfg.Concurrency.Extract,
		SummarizeConcurrency: cfg.Concurrency.Summarize,
		Retry:                policy,
		Logger:               logger,
	},
		discovery.New(provider, policy, logger),
		fetcher,
		extract.New(cfg.Extract.MinBodyChars, cfg.Extract.MaxBodyChars),
		summarizer,
	)

	return &App{Coordinator: coordinator, fetcher: fetcher, logger: logger}, nil
}

// Run executes one pipeline run.
func (a *App) Run(ctx context.Context, req article.Request) (*report.Report, error) {
	return a.Coordinator.Run(ctx, req)
}

// Close releases network resources.
func (a *App) Close() {
	a.fetcher.Close()
}

// RetryPolicy converts the configured retry settings.
func RetryPolicy(c config.RetryConfig) retry.Policy {
	return retry.Policy{
		MaxAttempts:  c.MaxAttempts,
		InitialDelay: c.InitialDelay,
		MaxDelay:     c.MaxDelay,
		Multiplier:   c.Multiplier,
		Jitter:       c.Jitter,
	}
}

// SearchProvider builds the configured providers, chained in fallback order
// when more than one is listed. They share one client and one limiter.
func SearchProvider(c config.SearchConfig) (serp.Provider, error) {
	client, err := httpclient.New(httpclient.Config{
		Timeout:   c.Timeout,
		UserAgent: useragent.Browsers[0],
	})
	if err != nil {
		return nil, fmt.Errorf("create search client: %w", err)
	}
	limiter := ratelimit.NewLimiter(c.RPS, c.Burst, 0)

	var providers serp.Fallback
	for _, name := range c.Providers {
		switch name {
		case "googlenews":
			providers = append(providers, &serp.GoogleNews{
				Client:   client,
				Limiter:  limiter,
				BaseURL:  c.GoogleNews.BaseURL,
				Language: c.GoogleNews.Language,
				Region:   c.GoogleNews.Region,
			})
		case "searxng":
			providers = append(providers, &serp.SearxNG{Client: client, Limiter: limiter, BaseURL: c.SearxNG.BaseURL})
		default:
			return nil, fmt.Errorf("unknown search provider %q", name)
		}
	}
	switch len(providers) {
	case 0:
		return nil, errors.New("no search providers configured")
	case 1:
		return providers[0], nil
	default:
		return providers, nil
	}
}

// Fetcher builds the article fetcher with its transport, User-Agent pool,
// pacing and optional proxy rotation.
func Fetcher(c config.FetchConfig, logger *slog.Logger) (*scraper.Fetcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	profile, err := fingerprint.ParseProfile(c.Fingerprint)
	if err != nil {
		return nil, err
	}

	var proxies *proxy.Pool
	if len(c.Proxies) > 0 || c.ProxyFile != "" {
		proxies = proxy.NewPool(proxy.Config{MaxFailures: c.ProxyMaxFailures, Cooldown: c.ProxyCooldown})
		if err := proxies.Add(c.Proxies...); err != nil {
			return nil, fmt.Errorf("fetch.proxies: %w", err)
		}
		if c.ProxyFile != "" {
			if err := proxies.LoadFile(c.ProxyFile); err != nil {
				return nil, fmt.Errorf("fetch.proxy_file: %w", err)
			}
		}
		logger.Info("proxy rotation enabled", "proxies", proxies.Len())
	}

	var opts []fingerprint.Option
	if c.InsecureTLS {
		opts = append(opts, fingerprint.WithInsecureSkipVerify())
	}

	fetcher, err := scraper.NewFetcher(scraper.FetchConfig{
		Timeout:      c.Timeout,
		MaxRedirects: c.MaxRedirects,
		UseCookieJar: c.CookieJar,
		MaxBodyBytes: c.MaxBodyBytes,
		UAPool:       useragent.NewPool(c.UserAgents, c.RandomUA),
		ProxyPool:    proxies,
		Fingerprint:  profile,
		Limiter:      ratelimit.NewLimiter(c.RPS, c.Burst, c.Jitter),
		RobotsAgent:  c.RobotsAgent,
		Logger:       logger,
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("create fetcher: %w", err)
	}
	return fetcher, nil
}
