// Package ratelimit enforces per-provider call budgets so that scan
// runs degrade gracefully instead of burning through provider quotas.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Provider names a rate-limited upstream.
type Provider string

const (
	Primary   Provider = "primary"
	Secondary Provider = "secondary"
)

// Quota describes one provider's budget: Calls per Window, plus an
// optional per-minute pacing rate (the secondary's free tier allows a
// handful of calls per minute on top of its daily cap).
type Quota struct {
	Calls     int
	Window    time.Duration
	PerMinute int
}

type bucket struct {
	quota       Quota
	remaining   int
	consumed    int
	windowStart time.Time
	limiter     *rate.Limiter
}

// Governor tracks remaining call budget per provider. Safe for
// concurrent use by enrichment workers.
type Governor struct {
	mu      sync.Mutex
	buckets map[Provider]*bucket
	now     func() time.Time
}

// NewGovernor creates a governor with the given per-provider quotas.
func NewGovernor(quotas map[Provider]Quota) *Governor {
	g := &Governor{
		buckets: make(map[Provider]*bucket, len(quotas)),
		now:     time.Now,
	}
	for p, q := range quotas {
		b := &bucket{quota: q, remaining: q.Calls, windowStart: g.now()}
		if q.PerMinute > 0 {
			b.limiter = rate.NewLimiter(rate.Limit(float64(q.PerMinute)/60.0), q.PerMinute)
		}
		g.buckets[p] = b
	}
	return g
}

// TryConsume takes one call from the provider's budget. It returns
// false, without decrementing, when the budget is exhausted or the
// per-minute pacing limiter has no token available.
func (g *Governor) TryConsume(p Provider) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	b, ok := g.buckets[p]
	if !ok {
		return false
	}
	g.rollover(b)
	if b.remaining <= 0 {
		return false
	}
	if b.limiter != nil && !b.limiter.Allow() {
		return false
	}
	b.remaining--
	b.consumed++
	return true
}

// Consumed reports the total calls granted for the provider since the
// governor was created. It is monotonic and survives window rollovers,
// which makes it usable for per-run call tallies.
func (g *Governor) Consumed(p Provider) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	b, ok := g.buckets[p]
	if !ok {
		return 0
	}
	return b.consumed
}

// Remaining reports the calls left in the provider's current window.
// Advisory only: the value may be stale by the time the caller acts.
func (g *Governor) Remaining(p Provider) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	b, ok := g.buckets[p]
	if !ok {
		return 0
	}
	g.rollover(b)
	return b.remaining
}

func (g *Governor) rollover(b *bucket) {
	if b.quota.Window <= 0 {
		return
	}
	if g.now().Sub(b.windowStart) >= b.quota.Window {
		b.remaining = b.quota.Calls
		b.windowStart = g.now()
	}
}
