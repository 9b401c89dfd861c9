package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/FranksOps/newsbrief/internal/article"
	"github.com/FranksOps/newsbrief/internal/discovery"
	"github.com/FranksOps/newsbrief/internal/llm"
	"github.com/FranksOps/newsbrief/internal/report"
	"github.com/FranksOps/newsbrief/internal/scraper"
	"github.com/FranksOps/newsbrief/internal/summarize"
	"github.com/FranksOps/newsbrief/pkg/retry"
)

type fakeDiscoverer struct {
	candidates []article.Candidate
	err        error
	calls      atomic.Int32
	queries    []string
}

func (f *fakeDiscoverer) Discover(ctx context.Context, queries []string, opts discovery.Options) ([]article.Candidate, error) {
	f.calls.Add(1)
	f.queries = queries
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.err != nil {
		return nil, f.err
	}
	if opts.MaxResults > 0 && len(f.candidates) > opts.MaxResults {
		return f.candidates[:opts.MaxResults], nil
	}
	return f.candidates, nil
}

// fakeFetcher serves a small article for every URL unless a status or delay
// is scripted for it.
type fakeFetcher struct {
	mu     sync.Mutex
	calls  map[string]int
	delay  map[string]time.Duration
	status map[string]int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{calls: map[string]int{}, delay: map[string]time.Duration{}, status: map[string]int{}}
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) *scraper.Page {
	f.mu.Lock()
	f.calls[url]++
	delay, status := f.delay[url], f.status[url]
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return &scraper.Page{URL: url, Failure: article.NewFailure(article.StageFetch, article.KindTimeout, ctx.Err())}
		}
	}
	if status != 0 && status != 200 {
		return &scraper.Page{URL: url, StatusCode: status, Failure: article.HTTPFailure(status)}
	}
	return &scraper.Page{
		URL:         url,
		StatusCode:  200,
		ContentType: "text/html",
		Body:        []byte("<p>Quantum computing news from " + url + ". Quantum error correction improved.</p>"),
	}
}

func (f *fakeFetcher) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

type fakeExtractor struct{}

func (fakeExtractor) Extract(page *scraper.Page) (*article.Content, error) {
	body := string(page.Body)
	return &article.Content{Title: "Title " + page.URL, Body: body, Words: article.CountWords(body)}, nil
}

// fakeSummarizer fails the first failures[url] calls for url with failKind.
type fakeSummarizer struct {
	mu       sync.Mutex
	calls    map[string]int
	failures map[string]int
	failKind article.Kind
	delay    map[string]time.Duration
}

func newFakeSummarizer() *fakeSummarizer {
	return &fakeSummarizer{calls: map[string]int{}, failures: map[string]int{}, delay: map[string]time.Duration{}}
}

func (f *fakeSummarizer) Summarize(ctx context.Context, c *article.Content) (*article.Summary, error) {
	url := c.Candidate.URL
	f.mu.Lock()
	f.calls[url]++
	n := f.calls[url]
	fail := n <= f.failures[url]
	delay := f.delay[url]
	f.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if fail {
		return nil, article.NewFailure(article.StageSummarize, f.failKind, errors.New("scripted"))
	}
	return &article.Summary{
		Candidate: c.Candidate,
		Headline:  "Headline " + url,
		Synopsis:  "Synopsis.",
		KeyFacts:  []string{"fact"},
		Keywords:  []string{"quantum"},
	}, nil
}

func candidates(n int) []article.Candidate {
	out := make([]article.Candidate, n)
	for i := range out {
		out[i] = article.Candidate{
			URL:   fmt.Sprintf("https://news%d.example/story", i+1),
			Query: "quantum computing",
			Rank:  i + 1,
			Order: i,
		}
	}
	return out
}

func testConfig() Config {
	return Config{
		MaxQueries: 3,
		MaxResults: 10,
		TimeBudget: 5 * time.Second,
		Retry: retry.Policy{
			MaxAttempts:  3,
			InitialDelay: time.Millisecond,
			MaxDelay:     5 * time.Millisecond,
		},
	}
}

func TestRun_QuantumComputingScenario(t *testing.T) {
	d := &fakeDiscoverer{candidates: candidates(5)}
	f := newFakeFetcher()
	f.status["https://news3.example/story"] = 404
	s := newFakeSummarizer()

	rep, err := New(testConfig(), d, f, fakeExtractor{}, s).Run(context.Background(), article.Request{Topic: "quantum computing"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(rep.Sections) != 4 {
		t.Fatalf("expected 4 sections, got %d", len(rep.Sections))
	}
	if rep.Stats.Discovered != 5 || rep.Stats.Summarized != 4 || rep.Stats.Failed != 1 {
		t.Errorf("unexpected stats %+v", rep.Stats)
	}
	if rep.Stats.Fetched != 4 || rep.Stats.Extracted != 4 {
		t.Errorf("unexpected stage counts %+v", rep.Stats)
	}
	if len(rep.Failures) != 1 {
		t.Fatalf("expected 1 failure, got %+v", rep.Failures)
	}
	fail := rep.Failures[0]
	if fail.URL != "https://news3.example/story" || fail.Stage != "fetch" || fail.Status != 404 || fail.Attempts != 1 {
		t.Errorf("unexpected failure %+v", fail)
	}
	if f.calls["https://news3.example/story"] != 1 {
		t.Errorf("404 should not be retried")
	}
	if !rep.Degraded || rep.Empty || rep.Note != "1 of 5 articles failed to summarize" {
		t.Errorf("unexpected markers degraded=%v empty=%v note=%q", rep.Degraded, rep.Empty, rep.Note)
	}
	if rep.ID == "" || len(rep.Queries) == 0 || rep.Queries[0] != "quantum computing" {
		t.Errorf("unexpected run metadata id=%q queries=%v", rep.ID, rep.Queries)
	}
	if rep.Sections[0].Mentions == 0 || rep.Sections[0].Highlight == "" {
		t.Errorf("expected relevance on sections, got %+v", rep.Sections[0])
	}
}

func TestRun_EmptyTopicMakesNoCalls(t *testing.T) {
	d := &fakeDiscoverer{candidates: candidates(2)}
	f := newFakeFetcher()

	rep, err := New(testConfig(), d, f, fakeExtractor{}, newFakeSummarizer()).Run(context.Background(), article.Request{Topic: "   "})
	if !errors.Is(err, article.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if rep != nil {
		t.Errorf("expected no report")
	}
	if d.calls.Load() != 0 || f.total() != 0 {
		t.Errorf("expected no external calls")
	}
}

func TestRun_NegativeMaxResults(t *testing.T) {
	d := &fakeDiscoverer{}
	_, err := New(testConfig(), d, newFakeFetcher(), fakeExtractor{}, newFakeSummarizer()).
		Run(context.Background(), article.Request{Topic: "x", MaxResults: -1})
	if !errors.Is(err, article.ErrInvalidInput) || d.calls.Load() != 0 {
		t.Errorf("expected invalid input without discovery, got %v", err)
	}
}

func TestRun_RateLimitedTwiceThenSuccess(t *testing.T) {
	d := &fakeDiscoverer{candidates: candidates(1)}
	s := newFakeSummarizer()
	s.failKind = article.KindRateLimited
	s.failures["https://news1.example/story"] = 2

	rep, err := New(testConfig(), d, newFakeFetcher(), fakeExtractor{}, s).Run(context.Background(), article.Request{Topic: "quantum computing"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rep.Stats.Summarized != 1 || rep.Stats.Failed != 0 || len(rep.Failures) != 0 {
		t.Errorf("expected recovered summary, got %+v", rep.Stats)
	}
	if s.calls["https://news1.example/story"] != 3 {
		t.Errorf("expected 3 summarize calls, got %d", s.calls["https://news1.example/story"])
	}
	if rep.Degraded {
		t.Errorf("recovered run should not be degraded")
	}
}

func TestRun_RetriesAreBoundedAndRecordedOnce(t *testing.T) {
	d := &fakeDiscoverer{candidates: candidates(1)}
	s := newFakeSummarizer()
	s.failKind = article.KindServiceUnavailable
	s.failures["https://news1.example/story"] = 10

	rep, err := New(testConfig(), d, newFakeFetcher(), fakeExtractor{}, s).Run(context.Background(), article.Request{Topic: "quantum computing"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.calls["https://news1.example/story"] != 3 {
		t.Errorf("expected exactly 3 attempts, got %d", s.calls["https://news1.example/story"])
	}
	if len(rep.Failures) != 1 || rep.Failures[0].Attempts != 3 || rep.Failures[0].Kind != "service_unavailable" {
		t.Errorf("expected one exhausted failure, got %+v", rep.Failures)
	}
	if rep.Stats.ByKind["service_unavailable"] != 1 {
		t.Errorf("unexpected breakdown %v", rep.Stats.ByKind)
	}
}

func TestRun_AllFetchesFail(t *testing.T) {
	d := &fakeDiscoverer{candidates: candidates(3)}
	f := newFakeFetcher()
	for _, c := range d.candidates {
		f.status[c.URL] = 503
	}
	s := newFakeSummarizer()

	rep, err := New(testConfig(), d, f, fakeExtractor{}, s).Run(context.Background(), article.Request{Topic: "quantum computing"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !rep.Empty || !rep.Degraded || len(rep.Sections) != 0 {
		t.Errorf("expected empty degraded report, got %+v", rep)
	}
	if rep.Stats.Failed != 3 || rep.Stats.Discovered != 3 || rep.Stats.Fetched != 0 {
		t.Errorf("unexpected stats %+v", rep.Stats)
	}
	for _, fr := range rep.Failures {
		if fr.Attempts != 3 {
			t.Errorf("%s: expected 3 attempts, got %d", fr.URL, fr.Attempts)
		}
	}
	if len(s.calls) != 0 {
		t.Errorf("summarizer should not be called")
	}
}

func TestRun_OrderIndependentOfCompletion(t *testing.T) {
	const n = 6
	var first *report.Report
	for seed := uint64(1); seed <= 6; seed++ {
		rng := rand.New(rand.NewPCG(seed, seed*7919))
		d := &fakeDiscoverer{candidates: candidates(n)}
		f := newFakeFetcher()
		s := newFakeSummarizer()
		fetchOrder, summarizeOrder := rng.Perm(n), rng.Perm(n)
		for i, c := range d.candidates {
			f.delay[c.URL] = time.Duration(fetchOrder[i]) * 4 * time.Millisecond
			s.delay[c.URL] = time.Duration(summarizeOrder[i]) * 4 * time.Millisecond
		}

		rep, err := New(testConfig(), d, f, fakeExtractor{}, s).Run(context.Background(), article.Request{Topic: "quantum computing"})
		if err != nil {
			t.Fatalf("seed %d: unexpected error: %v", seed, err)
		}
		if len(rep.Sections) != n {
			t.Fatalf("seed %d: expected %d sections, got %d", seed, n, len(rep.Sections))
		}
		for i, sec := range rep.Sections {
			if want := d.candidates[i].URL; sec.URL != want {
				t.Errorf("seed %d: section %d: expected %s, got %s", seed, i, want, sec.URL)
			}
		}

		if first == nil {
			first = rep
			continue
		}
		if !reflect.DeepEqual(rep.Sections, first.Sections) || !reflect.DeepEqual(rep.Stats, first.Stats) {
			t.Errorf("seed %d: report differs from the first run", seed)
		}
	}
}

// strictAwareModel answers with scripted replies and counts calls that
// carry the stricter prompt.
type strictAwareModel struct {
	mu      sync.Mutex
	replies []string
	errs    []error
	calls   int
	strict  int
}

func (m *strictAwareModel) Complete(_ context.Context, req llm.Request) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.calls
	m.calls++
	if strings.Contains(req.Prompt, "could not be parsed") {
		m.strict++
	}
	if i < len(m.errs) && m.errs[i] != nil {
		return "", m.errs[i]
	}
	if i < len(m.replies) {
		return m.replies[i], nil
	}
	return "garbage", nil
}

func TestRun_StrictPromptUsedOncePerArticle(t *testing.T) {
	d := &fakeDiscoverer{candidates: candidates(1)}
	m := &strictAwareModel{
		replies: []string{"garbage", "", "garbage", "garbage"},
		errs:    []error{nil, fmt.Errorf("openai: %w", llm.ErrRateLimited)},
	}

	rep, err := New(testConfig(), d, newFakeFetcher(), fakeExtractor{}, summarize.New(m, summarize.Config{}, nil)).
		Run(context.Background(), article.Request{Topic: "quantum computing"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if m.calls != 3 || m.strict != 2 {
		t.Errorf("expected 3 model calls with the strict prompt after the first, got calls=%d strict=%d", m.calls, m.strict)
	}
	if len(rep.Failures) != 1 {
		t.Fatalf("expected one failure, got %+v", rep.Failures)
	}
	if fr := rep.Failures[0]; fr.Kind != string(article.KindMalformedResponse) || fr.Attempts != 2 {
		t.Errorf("expected malformed_response after 2 attempts, got %+v", fr)
	}
}

func TestRun_TimeBudget(t *testing.T) {
	d := &fakeDiscoverer{candidates: candidates(4)}
	f := newFakeFetcher()
	for _, c := range d.candidates[1:] {
		f.delay[c.URL] = time.Second
	}

	cfg := testConfig()
	cfg.FetchConcurrency = 1
	cfg.GracePeriod = 10 * time.Millisecond

	start := time.Now()
	rep, err := New(cfg, d, f, fakeExtractor{}, newFakeSummarizer()).
		Run(context.Background(), article.Request{Topic: "quantum computing", TimeBudget: 100 * time.Millisecond})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("run should stop shortly after the budget, took %v", elapsed)
	}

	if !rep.TimedOut || !rep.Degraded {
		t.Errorf("expected timed out degraded report, got timed_out=%v degraded=%v", rep.TimedOut, rep.Degraded)
	}
	if rep.Stats.Summarized+rep.Stats.Failed != rep.Stats.Discovered {
		t.Errorf("every candidate must be accounted for: %+v", rep.Stats)
	}
	if rep.Stats.ByKind["cancelled"] != 3 || rep.Stats.ByKind["timeout"] != 1 {
		t.Errorf("unexpected breakdown %v", rep.Stats.ByKind)
	}
	if f.calls["https://news3.example/story"] != 0 {
		t.Errorf("items after the budget must not be fetched")
	}
}

func TestRun_DiscoveryUnavailable(t *testing.T) {
	d := &fakeDiscoverer{err: fmt.Errorf("%w: all queries failed", discovery.ErrUnavailable)}
	f := newFakeFetcher()

	rep, err := New(testConfig(), d, f, fakeExtractor{}, newFakeSummarizer()).Run(context.Background(), article.Request{Topic: "quantum computing"})
	if !errors.Is(err, article.ErrCapabilityUnavailable) {
		t.Fatalf("expected capability unavailable, got %v", err)
	}
	if rep != nil || f.total() != 0 {
		t.Errorf("expected no report and no fetches")
	}
}

func TestRun_NoCandidates(t *testing.T) {
	f := newFakeFetcher()
	rep, err := New(testConfig(), &fakeDiscoverer{}, f, fakeExtractor{}, newFakeSummarizer()).
		Run(context.Background(), article.Request{Topic: "quantum computing"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !rep.Empty || !rep.Degraded || rep.Stats.Discovered != 0 {
		t.Errorf("expected empty degraded report, got %+v", rep)
	}
	if f.total() != 0 {
		t.Errorf("fetcher should not be called")
	}
}

func TestRun_ParentCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(testConfig(), &fakeDiscoverer{candidates: candidates(2)}, newFakeFetcher(), fakeExtractor{}, newFakeSummarizer()).
		Run(ctx, article.Request{Topic: "quantum computing"})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected cancellation error, got %v", err)
	}
}

func TestRun_RequestOverridesDefaults(t *testing.T) {
	d := &fakeDiscoverer{candidates: candidates(6)}
	rep, err := New(testConfig(), d, newFakeFetcher(), fakeExtractor{}, newFakeSummarizer()).
		Run(context.Background(), article.Request{Topic: "recent advancements in quantum computing", MaxQueries: 1, MaxResults: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(d.queries) != 1 || d.queries[0] != "recent advancements in quantum computing" {
		t.Errorf("unexpected queries %v", d.queries)
	}
	if rep.Stats.Discovered != 2 {
		t.Errorf("expected max results to cap discovery, got %d", rep.Stats.Discovered)
	}
}
