// Package ratelimit implements per-transport-tag token buckets with
// fixed-point arithmetic (no float drift) and periodic GC, tracked
// without any notion of player identity.
package ratelimit

import (
	"sync"
	"time"
)

// tokenScale is the fixed-point multiplier: one message costs tokenScale
// "micro-tokens", and refill accrues in the same units.
const tokenScale = 1000

const cleanupThreshold = 5 * time.Minute

type bucket struct {
	microTokens int64
	capacity    int64
	refillRate  float64 // tokens/sec
	lastRefill  time.Time
	lastSeen    time.Time
}

// Limiter tracks one bucket per transport tag.
type Limiter struct {
	mu         sync.Mutex
	buckets    map[string]*bucket
	capacity   int
	refillRate float64
}

// New creates a Limiter with the given burst capacity (messages) and
// refill rate (messages/sec).
func New(capacity int, refillRate float64) *Limiter {
	return &Limiter{
		buckets:    make(map[string]*bucket),
		capacity:   capacity,
		refillRate: refillRate,
	}
}

// Allow attempts to consume one message's worth of tokens for tag at
// time now, creating a full bucket on first use. It reports whether the
// message is allowed.
func (l *Limiter) Allow(tag string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[tag]
	if !ok {
		b = &bucket{
			microTokens: int64(l.capacity) * tokenScale,
			capacity:    int64(l.capacity) * tokenScale,
			refillRate:  l.refillRate,
			lastRefill:  now,
		}
		l.buckets[tag] = b
	}

	l.refill(b, now)
	b.lastSeen = now

	if b.microTokens >= tokenScale {
		b.microTokens -= tokenScale
		return true
	}
	return false
}

func (l *Limiter) refill(b *bucket, now time.Time) {
	elapsedMs := now.Sub(b.lastRefill).Milliseconds()
	if elapsedMs <= 0 {
		return
	}
	// microTokens added = elapsed_ms * rate * tokenScale / 1000
	added := int64(float64(elapsedMs) * b.refillRate * float64(tokenScale) / 1000.0)
	if added > 0 {
		b.microTokens += added
		if b.microTokens > b.capacity {
			b.microTokens = b.capacity
		}
		b.lastRefill = now
	}
}

// Cleanup removes buckets idle for longer than the 5-minute threshold.
func (l *Limiter) Cleanup(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for tag, b := range l.buckets {
		if now.Sub(b.lastSeen) > cleanupThreshold {
			delete(l.buckets, tag)
			removed++
		}
	}
	return removed
}

// Len reports the number of tracked buckets, for tests and metrics.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
