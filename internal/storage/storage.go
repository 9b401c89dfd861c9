// Package storage persists generated reports so past runs can be listed.
package storage

import (
	"context"
	"strings"
	"time"

	"github.com/FranksOps/newsbrief/internal/report"
)

// Filter allows querying for specific reports. Topic matches
// case-insensitively after whitespace normalization.
type Filter struct {
	Topic  string
	Since  *time.Time
	Limit  int
	Offset int
}

// Backend defines the interface for storing and querying reports. Query
// returns the newest reports first.
type Backend interface {
	Save(ctx context.Context, r *report.Report) error
	Query(ctx context.Context, filter Filter) ([]*report.Report, error)
	Close() error
}

// TopicKey is the comparison form of a topic used by Filter.
func TopicKey(topic string) string {
	return strings.ToLower(strings.Join(strings.Fields(topic), " "))
}

// Match reports whether r satisfies the topic and time conditions of f.
// Limit and Offset are applied by the backend.
func (f Filter) Match(r *report.Report) bool {
	if f.Topic != "" && TopicKey(r.Topic) != TopicKey(f.Topic) {
		return false
	}
	if f.Since != nil && r.GeneratedAt.Before(*f.Since) {
		return false
	}
	return true
}
