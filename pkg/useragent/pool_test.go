package useragent

import (
	"sync"
	"testing"
)

func TestPool_Rotates(t *testing.T) {
	p := NewPool([]string{"A", "B", "C"}, false)

	for i, want := range []string{"A", "B", "C", "A"} {
		if got := p.Next(); got != want {
			t.Errorf("call %d: expected %s, got %s", i, want, got)
		}
	}
}

func TestPool_DefaultsToBrowsers(t *testing.T) {
	p := NewPool(nil, false)
	if p.Len() != len(Browsers) {
		t.Errorf("expected pool length %d, got %d", len(Browsers), p.Len())
	}
	if got := p.Next(); got != Browsers[0] {
		t.Errorf("expected %s, got %s", Browsers[0], got)
	}
}

func TestPool_CopiesInput(t *testing.T) {
	agents := []string{"A"}
	p := NewPool(agents, false)
	agents[0] = "mutated"

	if got := p.Next(); got != "A" {
		t.Errorf("pool should not observe caller mutation, got %s", got)
	}
}

func TestPool_Random(t *testing.T) {
	p := NewPool([]string{"A", "B"}, true)

	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		got := p.Next()
		if got != "A" && got != "B" {
			t.Fatalf("unexpected UA: %s", got)
		}
		seen[got] = true
	}
	if len(seen) != 2 {
		t.Errorf("expected both agents to be picked, saw %v", seen)
	}
}

func TestPool_Concurrent(t *testing.T) {
	p := NewPool([]string{"A", "B", "C"}, false)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if p.Next() == "" {
					t.Error("empty UA")
				}
			}
		}()
	}
	wg.Wait()
}

func TestPool_Nil(t *testing.T) {
	var p *Pool
	if p.Next() != "" || p.Len() != 0 {
		t.Errorf("nil pool should be empty")
	}
}
