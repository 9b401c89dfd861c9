package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/FranksOps/newsbrief/internal/report"
	"github.com/FranksOps/newsbrief/internal/storage"
)

func TestPostgresBackend(t *testing.T) {
	// Only run this test if NEWSBRIEF_TEST_PG_DSN is set
	dsn := os.Getenv("NEWSBRIEF_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("Skipping Postgres backend test: NEWSBRIEF_TEST_PG_DSN not set")
	}

	ctx := context.Background()
	b, err := New(ctx, dsn)
	if err != nil {
		t.Fatalf("Failed to create Postgres backend: %v", err)
	}
	defer b.Close()

	now := time.Now().UTC()
	// A unique topic keeps repeated runs against the same database apart.
	topic := "pg test " + uuid.New().String()

	r := &report.Report{
		ID:          uuid.New().String(),
		Topic:       topic,
		Queries:     []string{topic},
		Sections:    []report.Section{{Position: 1, URL: "https://pg.example", Headline: "H", Synopsis: "S."}},
		Stats:       report.Stats{Discovered: 2, Summarized: 1, Failed: 1},
		Degraded:    true,
		Note:        "1 of 2 articles failed to summarize",
		GeneratedAt: now,
	}
	if err := b.Save(ctx, r); err != nil {
		t.Fatalf("Failed to save report: %v", err)
	}

	results, err := b.Query(ctx, storage.Filter{Topic: topic})
	if err != nil {
		t.Fatalf("Failed to query reports: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("Expected 1 report, got %d", len(results))
	}

	got := results[0]
	if got.ID != r.ID || got.Note != r.Note || len(got.Sections) != 1 || !got.Degraded {
		t.Errorf("Report did not round-trip: %+v", got)
	}
	// Postgres timestamps might differ slightly in sub-millisecond precision
	if got.GeneratedAt.Unix() != now.Unix() {
		t.Errorf("Expected GeneratedAt %v, got %v", now, got.GeneratedAt)
	}

	past := now.Add(-time.Hour)
	since, err := b.Query(ctx, storage.Filter{Topic: topic, Since: &past, Limit: 5})
	if err != nil {
		t.Fatalf("Failed to query with Since: %v", err)
	}
	if len(since) != 1 {
		t.Fatalf("Expected 1 result, got %d", len(since))
	}
}
