// Package pacing enforces minimum inter-event gaps with priority-scaled
// jitter, on both the client send path and the server processing path.
// Suspension points are cooperative: a pacer call either returns
// immediately or sleeps, and is cancellable via context.
package pacing

import (
	"context"
	"crypto/rand"
	"math/big"
	"time"

	"github.com/nymquest/nymquest/internal/protocol"
)

// Pacer enforces a minimum gap between successive calls to Wait, scaled
// by each call's priority. Not safe for concurrent use; one Pacer per
// direction per side, driven from that side's single event loop.
type Pacer struct {
	baseInterval time.Duration
	maxJitter    time.Duration
	jitterPct    int
	lastEvent    time.Time
	enabled      bool
}

// Option configures a Pacer.
type Option func(*Pacer)

// WithMaxJitter sets the absolute max jitter budget (used by the client
// send pacer, which jitters in fixed milliseconds rather than percent).
func WithMaxJitter(d time.Duration) Option {
	return func(p *Pacer) { p.maxJitter = d }
}

// WithJitterPercent sets jitter as a percentage of the base interval
// (used by the server processing pacer).
func WithJitterPercent(pct int) Option {
	return func(p *Pacer) { p.jitterPct = pct }
}

// New creates a Pacer with the given base interval. enabled mirrors the
// NYMQUEST_ENABLE_MESSAGE_PROCESSING_PACING toggle: a disabled Pacer's
// Wait returns immediately.
func New(baseInterval time.Duration, enabled bool, opts ...Option) *Pacer {
	p := &Pacer{baseInterval: baseInterval, enabled: enabled}
	for _, o := range opts {
		o(p)
	}
	return p
}

// requiredGap computes the jittered minimum gap for priority p.
func (pc *Pacer) requiredGap(p protocol.Priority) (time.Duration, error) {
	maxJitter := pc.maxJitter
	if maxJitter == 0 && pc.jitterPct > 0 {
		maxJitter = time.Duration(int64(pc.baseInterval) * int64(pc.jitterPct) / 100)
	}

	var upper time.Duration
	switch p {
	case protocol.PriorityCritical:
		upper = maxJitter / 4
	case protocol.PriorityHigh:
		upper = maxJitter / 2
	case protocol.PriorityMedium:
		upper = maxJitter * 3 / 4
	default: // PriorityLow
		upper = maxJitter
	}

	if upper <= 0 {
		return pc.baseInterval, nil
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(upper)+1))
	if err != nil {
		return pc.baseInterval, err
	}
	return pc.baseInterval + time.Duration(n.Int64()), nil
}

// Wait blocks, if necessary, until the minimum jittered gap since the
// previous Wait call has elapsed, or until ctx is cancelled. It returns
// ctx.Err() on cancellation, otherwise nil. Calling Wait records "now" as
// the new last-event time regardless of how long the caller actually
// waited.
func (pc *Pacer) Wait(ctx context.Context, p protocol.Priority) error {
	if !pc.enabled {
		return nil
	}

	now := time.Now()
	gap, err := pc.requiredGap(p)
	if err != nil {
		return err
	}

	if !pc.lastEvent.IsZero() {
		elapsed := now.Sub(pc.lastEvent)
		if remaining := gap - elapsed; remaining > 0 {
			timer := time.NewTimer(remaining)
			defer timer.Stop()
			select {
			case <-timer.C:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	pc.lastEvent = time.Now()
	return nil
}
