package mcp

import (
	"sync"
	"time"
)

const (
	// sweepAbove forces a sweep of expired signatures once this many are held.
	sweepAbove = 4096
	// maxHeld bounds memory; past it every remembered signature is forgotten.
	maxHeld = 1 << 16
)

// replayGuard rejects a signature seen again from the same agent within ttl.
// A nil guard accepts everything.
type replayGuard struct {
	ttl time.Duration

	mu        sync.Mutex
	until     map[string]time.Time
	nextSweep time.Time
}

func newReplayGuard(ttl time.Duration) *replayGuard {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &replayGuard{ttl: ttl, until: make(map[string]time.Time)}
}

func (g *replayGuard) allow(agentID, signature string, now time.Time) bool {
	if g == nil || signature == "" {
		return true
	}
	key := agentID + "|" + signature

	g.mu.Lock()
	defer g.mu.Unlock()

	if len(g.until) > sweepAbove || !now.Before(g.nextSweep) {
		g.sweep(now)
	}
	if exp, ok := g.until[key]; ok && now.Before(exp) {
		return false
	}
	if len(g.until) >= maxHeld {
		clear(g.until)
	}
	g.until[key] = now.Add(g.ttl)
	return true
}

// sweep drops expired entries. Caller holds mu.
func (g *replayGuard) sweep(now time.Time) {
	for k, exp := range g.until {
		if !now.Before(exp) {
			delete(g.until, k)
		}
	}
	g.nextSweep = now.Add(g.ttl / 2)
}
