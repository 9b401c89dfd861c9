package proxy

import (
	"bufio"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"
)

type endpoint struct {
	url       *url.URL
	key       string
	strikes   int
	benchedTo time.Time
}

// Pool rotates outbound requests across proxies, benching a proxy for a
// cooldown after MaxFailures consecutive failures. Safe for concurrent use.
type Pool struct {
	mu          sync.Mutex
	endpoints   []*endpoint
	cursor      int
	maxFailures int
	cooldown    time.Duration
	now         func() time.Time
}

// Config defines settings for the Pool.
type Config struct {
	MaxFailures int
	Cooldown    time.Duration
}

// NewPool creates an empty pool. Zero values default to 3 failures and a
// five minute cooldown.
func NewPool(cfg Config) *Pool {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 5 * time.Minute
	}
	return &Pool{maxFailures: cfg.MaxFailures, cooldown: cfg.Cooldown, now: time.Now}
}

// LoadFile adds one proxy per line from path, skipping blanks and # comments.
func (p *Pool) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open proxy list: %w", err)
	}
	defer f.Close()

	var raw []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		raw = append(raw, line)
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read proxy list: %w", err)
	}
	return p.Add(raw...)
}

// Add parses and appends proxies. A missing scheme means http.
func (p *Pool) Add(raw ...string) error {
	parsed := make([]*endpoint, 0, len(raw))
	for _, r := range raw {
		if !strings.Contains(r, "://") {
			r = "http://" + r
		}
		u, err := url.Parse(r)
		if err != nil || u.Host == "" {
			return fmt.Errorf("invalid proxy %q", r)
		}
		parsed = append(parsed, &endpoint{url: u, key: u.String()})
	}

	p.mu.Lock()
	p.endpoints = append(p.endpoints, parsed...)
	p.mu.Unlock()
	return nil
}

// Len returns the number of configured proxies.
func (p *Pool) Len() int {
	if p == nil {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.endpoints)
}

// Next returns the next proxy that is not benched, or nil when the pool is
// empty or every proxy is cooling down.
func (p *Pool) Next() *url.URL {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	for i := 0; i < len(p.endpoints); i++ {
		ep := p.endpoints[p.cursor]
		p.cursor = (p.cursor + 1) % len(p.endpoints)

		if !ep.benchedTo.IsZero() {
			if now.Before(ep.benchedTo) {
				continue
			}
			ep.benchedTo = time.Time{}
			ep.strikes = 0
		}
		return ep.url
	}
	return nil
}

// Report records the outcome of a request made through u.
func (p *Pool) Report(u *url.URL, ok bool) {
	if p == nil || u == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	key := u.String()
	for _, ep := range p.endpoints {
		if ep.key != key {
			continue
		}
		if ok {
			ep.strikes = 0
			return
		}
		ep.strikes++
		if ep.strikes >= p.maxFailures {
			ep.benchedTo = p.now().Add(p.cooldown)
		}
		return
	}
}
