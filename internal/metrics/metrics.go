// Package metrics tracks atomic counters for the server event loop:
// envelope rejections, rate-limit denials, replay rejects, and session
// lifecycle events.
package metrics

import "sync/atomic"

// Counters holds lock-free counters safe for concurrent increment from
// the event loop and any worker goroutines that report back into it.
type Counters struct {
	TicksProcessed      int64
	MessagesAccepted    int64
	RateLimited         int64
	ReplayRejected      int64
	TooOldRejected      int64
	MacMismatches       int64
	MalformedFrames     int64
	ExpiredFrames       int64
	SuspectSessionsDropped int64
	SessionsReaped      int64
	OutboundDropped     int64
	PersistErrors       int64
}

func (c *Counters) IncTicksProcessed()         { atomic.AddInt64(&c.TicksProcessed, 1) }
func (c *Counters) IncMessagesAccepted()       { atomic.AddInt64(&c.MessagesAccepted, 1) }
func (c *Counters) IncRateLimited()            { atomic.AddInt64(&c.RateLimited, 1) }
func (c *Counters) IncReplayRejected()         { atomic.AddInt64(&c.ReplayRejected, 1) }
func (c *Counters) IncTooOldRejected()         { atomic.AddInt64(&c.TooOldRejected, 1) }
func (c *Counters) IncMacMismatches()          { atomic.AddInt64(&c.MacMismatches, 1) }
func (c *Counters) IncMalformedFrames()        { atomic.AddInt64(&c.MalformedFrames, 1) }
func (c *Counters) IncExpiredFrames()          { atomic.AddInt64(&c.ExpiredFrames, 1) }
func (c *Counters) IncSuspectSessionsDropped() { atomic.AddInt64(&c.SuspectSessionsDropped, 1) }
func (c *Counters) IncSessionsReaped()         { atomic.AddInt64(&c.SessionsReaped, 1) }
func (c *Counters) IncOutboundDropped()        { atomic.AddInt64(&c.OutboundDropped, 1) }
func (c *Counters) IncPersistErrors()          { atomic.AddInt64(&c.PersistErrors, 1) }

// Snapshot returns a point-in-time copy of every counter, for logging.
func (c *Counters) Snapshot() map[string]int64 {
	return map[string]int64{
		"ticks_processed":          atomic.LoadInt64(&c.TicksProcessed),
		"messages_accepted":        atomic.LoadInt64(&c.MessagesAccepted),
		"rate_limited":             atomic.LoadInt64(&c.RateLimited),
		"replay_rejected":          atomic.LoadInt64(&c.ReplayRejected),
		"too_old_rejected":         atomic.LoadInt64(&c.TooOldRejected),
		"mac_mismatches":           atomic.LoadInt64(&c.MacMismatches),
		"malformed_frames":         atomic.LoadInt64(&c.MalformedFrames),
		"expired_frames":           atomic.LoadInt64(&c.ExpiredFrames),
		"suspect_sessions_dropped": atomic.LoadInt64(&c.SuspectSessionsDropped),
		"sessions_reaped":          atomic.LoadInt64(&c.SessionsReaped),
		"outbound_dropped":         atomic.LoadInt64(&c.OutboundDropped),
		"persist_errors":           atomic.LoadInt64(&c.PersistErrors),
	}
}
