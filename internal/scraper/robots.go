package scraper

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"sync"

	"github.com/FranksOps/newsbrief/pkg/httpclient"
	"github.com/temoto/robotstxt"
	"golang.org/x/sync/singleflight"
)

const maxRobotsBytes = 512 << 10

// RobotsPolicy answers whether an article URL may be fetched under its
// host's robots.txt. Results are cached per scheme+host for the life of the
// policy; concurrent lookups for one host share a single request.
type RobotsPolicy struct {
	client *httpclient.Client
	agent  string
	logger *slog.Logger

	mu    sync.RWMutex
	cache map[string]*robotstxt.RobotsData
	group singleflight.Group
}

// NewRobotsPolicy builds a policy that evaluates rules for agent, the
// product token matched against User-agent lines.
func NewRobotsPolicy(client *httpclient.Client, agent string, logger *slog.Logger) *RobotsPolicy {
	if logger == nil {
		logger = slog.Default()
	}
	if agent == "" {
		agent = "newsbrief"
	}
	return &RobotsPolicy{
		client: client,
		agent:  agent,
		logger: logger,
		cache:  make(map[string]*robotstxt.RobotsData),
	}
}

// Allowed reports whether u may be fetched. An unreachable robots.txt
// allows everything.
func (r *RobotsPolicy) Allowed(ctx context.Context, u *url.URL) bool {
	host := u.Scheme + "://" + u.Host

	data, err := r.lookup(ctx, host)
	if err != nil {
		r.logger.Debug("robots.txt unavailable, allowing", "host", host, "err", err)
		return true
	}

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return data.TestAgent(path, r.agent)
}

func (r *RobotsPolicy) lookup(ctx context.Context, host string) (*robotstxt.RobotsData, error) {
	r.mu.RLock()
	data, ok := r.cache[host]
	r.mu.RUnlock()
	if ok {
		return data, nil
	}

	v, err, _ := r.group.Do(host, func() (any, error) {
		data, err := r.fetch(ctx, host)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.cache[host] = data
		r.mu.Unlock()
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*robotstxt.RobotsData), nil
}

func (r *RobotsPolicy) fetch(ctx context.Context, host string) (*robotstxt.RobotsData, error) {
	resp, err := r.client.Get(ctx, host+"/robots.txt", nil)
	if err != nil {
		return nil, fmt.Errorf("fetch robots.txt: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsBytes))
	if err != nil {
		return nil, fmt.Errorf("read robots.txt: %w", err)
	}

	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		return nil, fmt.Errorf("parse robots.txt: %w", err)
	}
	return data, nil
}
