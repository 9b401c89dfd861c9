// Package sqlite stores reports in a SQLite database using the pure-Go
// modernc driver.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/FranksOps/newsbrief/internal/report"
	"github.com/FranksOps/newsbrief/internal/storage"
)

// ensure sqliteBackend implements storage.Backend
var _ storage.Backend = (*sqliteBackend)(nil)

type sqliteBackend struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS reports (
	id TEXT PRIMARY KEY,
	topic TEXT NOT NULL,
	topic_key TEXT NOT NULL,
	generated_at DATETIME NOT NULL,
	discovered INTEGER NOT NULL,
	summarized INTEGER NOT NULL,
	failed INTEGER NOT NULL,
	degraded BOOLEAN NOT NULL,
	timed_out BOOLEAN NOT NULL,
	payload TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS reports_topic_generated ON reports (topic_key, generated_at);
`

// New creates a new SQLite-backed storage.Backend.
func New(dsn string) (storage.Backend, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create sqlite schema: %w", err)
	}

	return &sqliteBackend{db: db}, nil
}

func (b *sqliteBackend) Save(ctx context.Context, r *report.Report) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}

	query := `
	INSERT INTO reports (
		id, topic, topic_key, generated_at, discovered, summarized, failed, degraded, timed_out, payload
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = b.db.ExecContext(ctx, query,
		r.ID,
		r.Topic,
		storage.TopicKey(r.Topic),
		r.GeneratedAt.UTC(),
		r.Stats.Discovered,
		r.Stats.Summarized,
		r.Stats.Failed,
		r.Degraded,
		r.TimedOut,
		string(payload),
	)
	if err != nil {
		return fmt.Errorf("insert report: %w", err)
	}
	return nil
}

func (b *sqliteBackend) Query(ctx context.Context, filter storage.Filter) ([]*report.Report, error) {
	query := `SELECT payload FROM reports WHERE 1=1`
	args := []any{}

	if filter.Topic != "" {
		query += ` AND topic_key = ?`
		args = append(args, storage.TopicKey(filter.Topic))
	}
	if filter.Since != nil {
		query += ` AND generated_at >= ?`
		args = append(args, filter.Since.UTC())
	}

	query += ` ORDER BY generated_at DESC`

	// SQLite only accepts OFFSET after a LIMIT; -1 means unbounded.
	if filter.Limit > 0 || filter.Offset > 0 {
		limit := filter.Limit
		if limit <= 0 {
			limit = -1
		}
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query reports: %w", err)
	}
	defer rows.Close()

	var results []*report.Report
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		var r report.Report
		if err := json.Unmarshal([]byte(payload), &r); err != nil {
			return nil, fmt.Errorf("decode report: %w", err)
		}
		results = append(results, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reports: %w", err)
	}
	return results, nil
}

func (b *sqliteBackend) Close() error {
	return b.db.Close()
}
