// Package pipeline coordinates one topic run: planning, discovery, then the
// per-article fetch, extract and summarize stages, and finally aggregation.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/FranksOps/newsbrief/internal/analyzer"
	"github.com/FranksOps/newsbrief/internal/article"
	"github.com/FranksOps/newsbrief/internal/discovery"
	"github.com/FranksOps/newsbrief/internal/metrics"
	"github.com/FranksOps/newsbrief/internal/planner"
	"github.com/FranksOps/newsbrief/internal/report"
	"github.com/FranksOps/newsbrief/internal/scraper"
	"github.com/FranksOps/newsbrief/pkg/retry"
)

// State is a coordinator lifecycle state.
type State string

const (
	StatePlanning    State = "planning"
	StateDiscovering State = "discovering"
	StateFetching    State = "fetching"
	StateExtracting  State = "extracting"
	StateSummarizing State = "summarizing"
	StateAggregating State = "aggregating"
	StateDone        State = "done"
	StateFailed      State = "failed"
)

// Discoverer finds candidate articles for a set of queries.
type Discoverer interface {
	Discover(ctx context.Context, queries []string, opts discovery.Options) ([]article.Candidate, error)
}

// Fetcher retrieves one article page. Failures are carried on the page.
type Fetcher interface {
	Fetch(ctx context.Context, url string) *scraper.Page
}

// Extractor turns a fetched page into article content.
type Extractor interface {
	Extract(page *scraper.Page) (*article.Content, error)
}

// Summarizer produces a structured summary of article content.
type Summarizer interface {
	Summarize(ctx context.Context, c *article.Content) (*article.Summary, error)
}

// Config holds run defaults and resource bounds. Request fields override the
// defaults for one run.
type Config struct {
	MaxQueries  int
	MaxResults  int
	PerQuery    int
	TimeBudget  time.Duration
	GracePeriod time.Duration
	Recency     time.Duration

	FetchConcurrency     int
	ExtractConcurrency   int
	SummarizeConcurrency int

	Retry  retry.Policy
	Logger *slog.Logger
}

// DefaultConfig returns the coordinator defaults.
func DefaultConfig() Config {
	return Config{
		MaxQueries:           3,
		MaxResults:           10,
		PerQuery:             10,
		TimeBudget:           5 * time.Minute,
		GracePeriod:          15 * time.Second,
		FetchConcurrency:     8,
		ExtractConcurrency:   4,
		SummarizeConcurrency: 4,
		Retry:                retry.DefaultPolicy(),
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxQueries <= 0 {
		c.MaxQueries = d.MaxQueries
	}
	if c.MaxResults <= 0 {
		c.MaxResults = d.MaxResults
	}
	if c.PerQuery <= 0 {
		c.PerQuery = d.PerQuery
	}
	if c.TimeBudget <= 0 {
		c.TimeBudget = d.TimeBudget
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = d.GracePeriod
	}
	if c.FetchConcurrency <= 0 {
		c.FetchConcurrency = d.FetchConcurrency
	}
	if c.ExtractConcurrency <= 0 {
		c.ExtractConcurrency = d.ExtractConcurrency
	}
	if c.SummarizeConcurrency <= 0 {
		c.SummarizeConcurrency = d.SummarizeConcurrency
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Coordinator runs the pipeline. It is safe to call Run concurrently; each
// run owns its own items.
type Coordinator struct {
	cfg        Config
	discoverer Discoverer
	fetcher    Fetcher
	extractor  Extractor
	summarizer Summarizer
	logger     *slog.Logger
}

// New builds a Coordinator from its stage components.
func New(cfg Config, d Discoverer, f Fetcher, e Extractor, s Summarizer) *Coordinator {
	cfg = cfg.withDefaults()
	return &Coordinator{
		cfg:        cfg,
		discoverer: d,
		fetcher:    f,
		extractor:  e,
		summarizer: s,
		logger:     cfg.Logger,
	}
}

// item is one candidate's progress through the per-article stages. Each is
// written only by the goroutine currently processing it.
type item struct {
	cand      article.Candidate
	page      *scraper.Page
	content   *article.Content
	summary   *article.Summary
	relevance analyzer.Relevance
	failure   *article.Failure
}

type run struct {
	id       string
	logger   *slog.Logger
	terms    []string
	admitCtx context.Context
	opCtx    context.Context
}

// Run executes one pipeline run. It returns an error only for invalid input,
// an entirely unreachable search capability or cancellation of ctx; every
// per-article failure is recorded in the report instead.
func (c *Coordinator) Run(ctx context.Context, req article.Request) (*report.Report, error) {
	start := time.Now()
	r := &run{id: uuid.New().String()}
	r.logger = c.logger.With("run_id", r.id, "topic", req.Topic)

	maxQueries, maxResults, budget, recency := c.resolve(req)

	c.transition(r, StatePlanning)
	if maxResults < 0 {
		return c.fail(r, fmt.Errorf("%w: max results must not be negative", article.ErrInvalidInput))
	}
	queries, err := planner.Plan(req.Topic, maxQueries)
	if err != nil {
		return c.fail(r, err)
	}
	r.terms = planner.Terms(req.Topic)
	r.logger.Debug("queries planned", "queries", queries)

	admitCtx, cancelAdmit := context.WithTimeout(ctx, budget)
	defer cancelAdmit()
	opCtx, cancelOp := context.WithTimeout(ctx, budget+c.cfg.GracePeriod)
	defer cancelOp()
	r.admitCtx, r.opCtx = admitCtx, opCtx

	c.transition(r, StateDiscovering)
	discoverStart := time.Now()
	candidates, err := c.discoverer.Discover(admitCtx, queries, discovery.Options{
		MaxResults: maxResults,
		PerQuery:   c.cfg.PerQuery,
		Recency:    recency,
	})
	metrics.StageDuration.WithLabelValues("discover").Observe(time.Since(discoverStart).Seconds())
	if err != nil {
		switch {
		case ctx.Err() != nil:
			return c.fail(r, fmt.Errorf("run cancelled: %w", ctx.Err()))
		case admitCtx.Err() != nil:
			r.logger.Warn("time budget exhausted during discovery", "err", err)
			candidates = nil
		default:
			return c.fail(r, err)
		}
	}
	r.logger.Info("candidates discovered", "count", len(candidates))

	items := make([]*item, len(candidates))
	for i, cand := range candidates {
		items[i] = &item{cand: cand}
	}

	stages := []struct {
		state State
		stage article.Stage
		limit int
		op    func(context.Context, *run, *item) error
	}{
		{StateFetching, article.StageFetch, c.cfg.FetchConcurrency, c.fetch},
		{StateExtracting, article.StageExtract, c.cfg.ExtractConcurrency, c.extract},
		{StateSummarizing, article.StageSummarize, c.cfg.SummarizeConcurrency, c.summarize},
	}
	for _, s := range stages {
		if survivors(items) == 0 {
			r.logger.Info("no surviving articles, skipping to aggregation", "at", s.state)
			break
		}
		c.transition(r, s.state)
		stageStart := time.Now()
		c.runStage(r, s.stage, s.limit, items, s.op)
		metrics.StageDuration.WithLabelValues(string(s.stage)).Observe(time.Since(stageStart).Seconds())
	}

	if ctx.Err() != nil {
		return c.fail(r, fmt.Errorf("run cancelled: %w", ctx.Err()))
	}

	c.transition(r, StateAggregating)
	stats := report.Stats{Discovered: len(items), ByKind: map[string]int{}}
	summaries := make([]*article.Summary, 0, len(items))
	for _, it := range items {
		if it.failure != nil {
			stats.Failed++
			stats.ByKind[string(it.failure.Kind)]++
			stats.Failures = append(stats.Failures, report.NewFailureRecord(it.cand.URL, it.failure))
			metrics.ArticlesTotal.WithLabelValues("failed").Inc()
			continue
		}
		summaries = append(summaries, it.summary)
		metrics.ArticlesTotal.WithLabelValues("summarized").Inc()
	}
	for _, it := range items {
		if it.failure == nil || it.failure.Stage != article.StageFetch {
			stats.Fetched++
		}
		if it.failure == nil || it.failure.Stage == article.StageSummarize {
			stats.Extracted++
		}
	}
	stats.Summarized = len(summaries)
	stats.TimedOut = admitCtx.Err() != nil

	rep := report.Aggregate(req.Topic, summaries, stats)
	rep.ID = r.id
	rep.Queries = queries
	rep.Duration = time.Since(start)

	c.transition(r, StateDone)
	metrics.RunsTotal.WithLabelValues(string(StateDone), strconv.FormatBool(rep.Degraded)).Inc()
	r.logger.Info("run complete",
		"discovered", stats.Discovered,
		"summarized", stats.Summarized,
		"failed", stats.Failed,
		"degraded", rep.Degraded,
		"timed_out", rep.TimedOut,
		"duration", rep.Duration,
	)
	return rep, nil
}

func (c *Coordinator) resolve(req article.Request) (maxQueries, maxResults int, budget, recency time.Duration) {
	maxQueries, maxResults = c.cfg.MaxQueries, c.cfg.MaxResults
	budget, recency = c.cfg.TimeBudget, c.cfg.Recency
	if req.MaxQueries != 0 {
		maxQueries = req.MaxQueries
	}
	if req.MaxResults != 0 {
		maxResults = req.MaxResults
	}
	if req.TimeBudget > 0 {
		budget = req.TimeBudget
	}
	if req.Recency > 0 {
		recency = req.Recency
	}
	return maxQueries, maxResults, budget, recency
}

func (c *Coordinator) transition(r *run, s State) {
	r.logger.Info("pipeline state", "state", s)
}

func (c *Coordinator) fail(r *run, err error) (*report.Report, error) {
	r.logger.Error("run failed", "err", err)
	c.transition(r, StateFailed)
	metrics.RunsTotal.WithLabelValues(string(StateFailed), "false").Inc()
	return nil, err
}

// runStage processes every surviving item with at most limit in flight and
// returns once each has reached a terminal state for the stage. Items not
// admitted before the time budget expires are recorded as cancelled.
func (c *Coordinator) runStage(r *run, stage article.Stage, limit int, items []*item, op func(context.Context, *run, *item) error) {
	var g errgroup.Group
	g.SetLimit(limit)

	for _, it := range items {
		if it.failure != nil {
			continue
		}
		g.Go(func() error {
			if err := r.admitCtx.Err(); err != nil {
				c.recordFailure(r, it, &article.Failure{
					Stage:  stage,
					Kind:   article.KindCancelled,
					Detail: "not admitted before time budget",
					Err:    err,
				}, 0)
				return nil
			}

			// Backoff waits stop at the budget; the operation itself may run
			// into the grace period.
			attempts, err := retry.Do(r.admitCtx, c.cfg.Retry, article.IsTransient,
				func(context.Context) error { return op(r.opCtx, r, it) },
				func(attempt int, err error, delay time.Duration) {
					r.logger.Debug("retrying", "url", it.cand.URL, "stage", stage, "attempt", attempt, "delay", delay, "err", err)
				},
			)
			if err != nil {
				kind := article.KindNetwork
				if retry.IsContextError(err) {
					kind = article.KindCancelled
				}
				c.recordFailure(r, it, article.AsFailure(err, stage, kind), attempts)
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (c *Coordinator) recordFailure(r *run, it *item, f *article.Failure, attempts int) {
	f.Attempts = attempts
	it.failure = f
	it.page, it.content = nil, nil
	metrics.ItemFailuresTotal.WithLabelValues(string(f.Stage), string(f.Kind)).Inc()
	r.logger.Warn("article failed",
		"url", it.cand.URL,
		"stage", f.Stage,
		"kind", f.Kind,
		"status", f.Status,
		"attempts", attempts,
		"err", f.Err,
	)
}

func (c *Coordinator) fetch(ctx context.Context, _ *run, it *item) error {
	page := c.fetcher.Fetch(ctx, it.cand.URL)
	if page == nil {
		return article.NewFailure(article.StageFetch, article.KindNetwork, errors.New("fetcher returned no page"))
	}
	if page.Failure != nil {
		return page.Failure
	}
	it.page = page
	return nil
}

func (c *Coordinator) extract(_ context.Context, r *run, it *item) error {
	if it.page.URL == "" {
		it.page.URL = it.cand.URL
	}
	content, err := c.extractor.Extract(it.page)
	if err != nil {
		return article.AsFailure(err, article.StageExtract, article.KindInsufficientContent)
	}
	content.Candidate = it.cand
	it.content = content
	it.page = nil
	it.relevance = analyzer.Score(content.Body, r.terms)
	return nil
}

func (c *Coordinator) summarize(ctx context.Context, _ *run, it *item) error {
	s, err := c.summarizer.Summarize(ctx, it.content)
	if err != nil {
		return article.AsFailure(err, article.StageSummarize, article.KindServiceUnavailable)
	}
	s.Candidate = it.cand
	s.SourceURL = it.cand.URL
	s.Mentions = it.relevance.Mentions
	s.Highlight = it.relevance.Highlight
	it.summary = s
	it.content = nil
	return nil
}

func survivors(items []*item) int {
	n := 0
	for _, it := range items {
		if it.failure == nil {
			n++
		}
	}
	return n
}
