package useragent

import (
	"math/rand/v2"
	"sync/atomic"
)

// Browsers is the built-in set of current desktop browser User-Agents. News
// sites frequently serve stripped or blocked pages to unknown agents.
var Browsers = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:133.0) Gecko/20100101 Firefox/133.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 14.7; rv:133.0) Gecko/20100101 Firefox/133.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/18.1 Safari/605.1.15",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36 Edg/131.0.0.0",
}

// Pool hands out User-Agents for outgoing requests. It is safe for
// concurrent use.
type Pool struct {
	agents []string
	next   atomic.Uint64
	random bool
}

// NewPool creates a pool from agents, falling back to Browsers when empty.
// With random set, Next picks uniformly instead of rotating.
func NewPool(agents []string, random bool) *Pool {
	if len(agents) == 0 {
		agents = Browsers
	}
	return &Pool{agents: append([]string(nil), agents...), random: random}
}

// Next returns the next User-Agent.
func (p *Pool) Next() string {
	if p == nil || len(p.agents) == 0 {
		return ""
	}
	if p.random {
		return p.agents[rand.IntN(len(p.agents))]
	}
	idx := p.next.Add(1) - 1
	return p.agents[idx%uint64(len(p.agents))]
}

// Len returns the number of agents in the pool.
func (p *Pool) Len() int {
	if p == nil {
		return 0
	}
	return len(p.agents)
}
