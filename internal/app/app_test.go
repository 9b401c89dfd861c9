package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/FranksOps/newsbrief/internal/article"
	"github.com/FranksOps/newsbrief/internal/config"
	"github.com/FranksOps/newsbrief/internal/llm"
	"github.com/FranksOps/newsbrief/internal/report"
	"github.com/FranksOps/newsbrief/internal/serp"
	"github.com/FranksOps/newsbrief/internal/storage"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Chdir(t.TempDir())
	cfg, err := config.Load(config.Options{Overrides: map[string]any{
		"fetch.fingerprint":   "go",
		"retry.initial_delay": "1ms",
		"retry.max_delay":     "2ms",
	}})
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	return cfg
}

type staticSearch struct{ results []serp.Result }

func (s staticSearch) Name() string { return "static" }
func (s staticSearch) Search(context.Context, serp.Query) ([]serp.Result, error) {
	return s.results, nil
}

type cannedModel struct{}

func (cannedModel) Complete(context.Context, llm.Request) (string, error) {
	return `{"headline":"Qubits hold longer","synopsis":"Researchers extended coherence.","key_facts":["one second"],"entities":["Lab"],"keywords":["quantum"]}`, nil
}

func TestApp_EndToEndWithFakes(t *testing.T) {
	body := "<html><head><title>Quantum leap</title></head><body><article>" +
		strings.Repeat("<p>Quantum computing researchers extended qubit coherence past one second in a new experiment.</p>", 8) +
		"</article></body></html>"
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(body))
	}))
	defer ts.Close()

	cfg := testConfig(t)
	a, err := New(cfg, nil, Options{
		Search: staticSearch{results: []serp.Result{
			{URL: ts.URL + "/story", Title: "Story"},
			{URL: ts.URL + "/missing", Title: "Missing"},
		}},
		Completer: cannedModel{},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer a.Close()

	rep, err := a.Run(context.Background(), article.Request{Topic: "quantum computing", TimeBudget: 10 * time.Second})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rep.Sections) != 1 || rep.Sections[0].Headline != "Qubits hold longer" {
		t.Fatalf("unexpected sections %+v", rep.Sections)
	}
	if rep.Stats.Discovered != 2 || rep.Stats.Failed != 1 || rep.Failures[0].Status != 404 {
		t.Errorf("unexpected stats %+v failures %+v", rep.Stats, rep.Failures)
	}
}

func TestNew_RequiresModelCredentials(t *testing.T) {
	cfg := testConfig(t)
	cfg.LLM.APIKey = ""
	if _, err := New(cfg, nil, Options{Search: staticSearch{}}); err == nil {
		t.Fatal("expected error without an API key")
	}
}

func TestSearchProvider(t *testing.T) {
	cfg := testConfig(t)

	p, err := SearchProvider(cfg.Search)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := p.(*serp.GoogleNews); !ok {
		t.Errorf("expected a single Google News provider, got %T", p)
	}

	cfg.Search.Providers = []string{"searxng", "googlenews"}
	cfg.Search.SearxNG.BaseURL = "http://searx.local"
	p, err = SearchProvider(cfg.Search)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	chain, ok := p.(serp.Fallback)
	if !ok || len(chain) != 2 {
		t.Fatalf("expected a two-provider fallback chain, got %T", p)
	}
	if _, ok := chain[0].(*serp.SearxNG); !ok {
		t.Errorf("expected searxng first, got %T", chain[0])
	}

	cfg.Search.Providers = nil
	if _, err := SearchProvider(cfg.Search); err == nil {
		t.Error("expected error with no providers")
	}
}

func TestFetcher_ProxyFile(t *testing.T) {
	cfg := testConfig(t)
	file := filepath.Join(t.TempDir(), "proxies.txt")
	if err := os.WriteFile(file, []byte("# pool\n127.0.0.1:3128\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg.Fetch.ProxyFile = file

	f, err := Fetcher(cfg.Fetch, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f.Close()

	cfg.Fetch.ProxyFile = filepath.Join(t.TempDir(), "missing.txt")
	if _, err := Fetcher(cfg.Fetch, slog.New(slog.DiscardHandler)); err == nil {
		t.Error("expected error for missing proxy file")
	}
}

func TestOpenStorage(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	if _, err := OpenStorage(ctx, ""); !errors.Is(err, ErrNoStorage) {
		t.Errorf("expected ErrNoStorage, got %v", err)
	}

	for _, dsn := range []string{
		"json://" + filepath.Join(dir, "a.log"),
		filepath.Join(dir, "b.jsonl"),
		"sqlite://" + filepath.Join(dir, "c.db"),
		filepath.Join(dir, "d.db"),
	} {
		b, err := OpenStorage(ctx, dsn)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", dsn, err)
		}
		r := &report.Report{ID: "x", Topic: "t", GeneratedAt: time.Now().UTC()}
		if err := b.Save(ctx, r); err != nil {
			t.Errorf("%s: save: %v", dsn, err)
		}
		got, err := b.Query(ctx, storage.Filter{Topic: "t"})
		if err != nil || len(got) != 1 {
			t.Errorf("%s: query returned %d reports (%v)", dsn, len(got), err)
		}
		b.Close()
	}
}
