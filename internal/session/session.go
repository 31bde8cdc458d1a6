// Package session tracks the server's per-connection view of a client:
// transport tag, negotiated version, the per-direction envelope state
// (replay window, sequence counters), the outbound broadcast queue, and
// the envelope-error bookkeeping that feeds "suspect" session dropping.
package session

import (
	"time"

	"github.com/nymquest/nymquest/internal/envelope"
	"github.com/nymquest/nymquest/internal/replay"
	"github.com/nymquest/nymquest/internal/transport"
)

// OutboundQueueSize bounds each session's outbound channel; overflow
// drops the oldest queued frame per §4.8.
const OutboundQueueSize = 64

// envelopeErrorWindow is the rolling window the suspect threshold is
// evaluated over.
const envelopeErrorWindow = 60 * time.Second

// Session is the server's record for one connected client. Only the
// event-loop goroutine mutates a Session's fields; the outbound queue is
// the single piece of state another goroutine (the transport writer)
// also touches, and it does so only by receiving from Outbound.
type Session struct {
	Tag               transport.Tag
	PlayerDisplayID   string
	RegisteredAt      time.Time
	LastInboundAt     time.Time
	NegotiatedVersion uint16

	InboundWindow  *replay.Window
	OutboundCoder  *envelope.Coder
	OutboundSeq    uint64

	Outbound chan []byte

	envelopeErrorTimes []time.Time
}

// New creates a Session for tag, created at now, with a replay window
// built from windowCfg.
func New(tag transport.Tag, now time.Time, windowCfg replay.Config) *Session {
	return &Session{
		Tag:           tag,
		RegisteredAt:  now,
		LastInboundAt: now,
		InboundWindow: replay.New(windowCfg),
		OutboundCoder: envelope.NewCoder(),
		Outbound:      make(chan []byte, OutboundQueueSize),
	}
}

// NextOutboundSeq returns the next sequence number to assign to an
// outbound frame for this session, incrementing the counter.
func (s *Session) NextOutboundSeq() uint64 {
	s.OutboundSeq++
	return s.OutboundSeq
}

// Enqueue pushes an already-encoded frame onto the outbound queue,
// dropping the oldest queued frame on overflow. It reports whether a
// frame was dropped.
func (s *Session) Enqueue(frame []byte) (dropped bool) {
	select {
	case s.Outbound <- frame:
		return false
	default:
		select {
		case <-s.Outbound:
			dropped = true
		default:
		}
		select {
		case s.Outbound <- frame:
		default:
		}
		return dropped
	}
}

// RecordEnvelopeError appends an envelope-layer rejection timestamp and
// reports whether the session has now crossed threshold rejections
// within the rolling window, i.e. should be marked suspect and dropped.
func (s *Session) RecordEnvelopeError(now time.Time, threshold int) bool {
	cutoff := now.Add(-envelopeErrorWindow)
	kept := s.envelopeErrorTimes[:0]
	for _, t := range s.envelopeErrorTimes {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	kept = append(kept, now)
	s.envelopeErrorTimes = kept
	return len(s.envelopeErrorTimes) >= threshold
}
