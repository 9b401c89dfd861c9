package app

import (
	"context"
	"errors"
	"path/filepath"
	"strings"

	"github.com/FranksOps/newsbrief/internal/storage"
	"github.com/FranksOps/newsbrief/internal/storage/jsonbackend"
	"github.com/FranksOps/newsbrief/internal/storage/postgres"
	"github.com/FranksOps/newsbrief/internal/storage/sqlite"
)

// ErrNoStorage is returned by OpenStorage for an empty DSN.
var ErrNoStorage = errors.New("no report storage configured")

// OpenStorage picks a backend from the DSN:
//
//	postgres://... or postgresql://...    Postgres
//	sqlite://path, file:path, *.db        SQLite
//	json://path, *.jsonl, *.ndjson        newline-delimited JSON file
func OpenStorage(ctx context.Context, dsn string) (storage.Backend, error) {
	dsn = strings.TrimSpace(dsn)
	switch {
	case dsn == "":
		return nil, ErrNoStorage
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return postgres.New(ctx, dsn)
	case strings.HasPrefix(dsn, "sqlite://"):
		return sqlite.New(strings.TrimPrefix(dsn, "sqlite://"))
	case strings.HasPrefix(dsn, "file:"):
		return sqlite.New(dsn)
	case strings.HasPrefix(dsn, "json://"):
		return jsonbackend.New(strings.TrimPrefix(dsn, "json://"))
	}

	switch strings.ToLower(filepath.Ext(dsn)) {
	case ".jsonl", ".ndjson", ".json":
		return jsonbackend.New(dsn)
	default:
		return sqlite.New(dsn)
	}
}
