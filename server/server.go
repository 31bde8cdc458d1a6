// Package server implements the single-threaded authoritative event
// loop: one goroutine multiplexes inbound transport frames, heartbeat,
// reap, persist, and key-rotation timers, and the shutdown signal, and
// is the only goroutine that ever mutates game state.
package server

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nymquest/nymquest/internal/config"
	"github.com/nymquest/nymquest/internal/envelope"
	"github.com/nymquest/nymquest/internal/game"
	"github.com/nymquest/nymquest/internal/keyschedule"
	"github.com/nymquest/nymquest/internal/metrics"
	"github.com/nymquest/nymquest/internal/pacing"
	"github.com/nymquest/nymquest/internal/persistence"
	"github.com/nymquest/nymquest/internal/protocol"
	"github.com/nymquest/nymquest/internal/ratelimit"
	"github.com/nymquest/nymquest/internal/replay"
	"github.com/nymquest/nymquest/internal/session"
	"github.com/nymquest/nymquest/internal/transport"
)

const keyRotationCheckInterval = time.Hour

// Server owns every piece of mutable state on the server side of the
// protocol. All fields below the construction point are touched only
// from the goroutine running Run.
type Server struct {
	cfg   config.Config
	world game.World
	state *game.State

	tr  transport.Transport
	log *zap.SugaredLogger

	keys    *keyschedule.Schedule
	limiter *ratelimit.Limiter
	pacer   *pacing.Pacer
	metrics *metrics.Counters
	store   *persistence.Store

	sessions map[transport.Tag]*session.Session

	lastSnapshot map[string]protocol.PlayerView

	inbound chan inboundFrame

	persistReq chan persistence.Snapshot
	wg         sync.WaitGroup
}

type inboundFrame struct {
	tag transport.Tag
	data []byte
}

// New constructs a Server ready to Run. masterSecret seeds the key
// schedule; store may be nil if persistence is disabled.
func New(cfg config.Config, world game.World, tr transport.Transport, log *zap.SugaredLogger, masterSecret []byte, store *persistence.Store) (*Server, error) {
	keys, err := keyschedule.New(masterSecret, time.Now())
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:      cfg,
		world:    world,
		state:    game.NewState(world),
		tr:       tr,
		log:      log,
		keys:     keys,
		limiter:  ratelimit.New(cfg.MessageBurstSize, cfg.MessageRateLimit),
		pacer: pacing.New(cfg.ProcessingInterval, cfg.EnableServerPacing,
			pacing.WithJitterPercent(cfg.ProcessingJitterPct)),
		metrics:    &metrics.Counters{},
		store:      store,
		sessions:     make(map[transport.Tag]*session.Session),
		inbound:      make(chan inboundFrame, 1024),
		persistReq:   make(chan persistence.Snapshot, 1),
		lastSnapshot: make(map[string]protocol.PlayerView),
	}
	return s, nil
}

// noteStateSnapshot resyncs the diff baseline to the current world state,
// used right after a full roster send so the next periodic diff only
// reports changes that happen from this point on.
func (s *Server) noteStateSnapshot() {
	s.lastSnapshot = viewsByDisplayID(s.state.PlayerViews())
}

func viewsByDisplayID(views []protocol.PlayerView) map[string]protocol.PlayerView {
	out := make(map[string]protocol.PlayerView, len(views))
	for _, v := range views {
		out[v.DisplayID] = v
	}
	return out
}

// broadcastStateDiff computes what changed since the last snapshot —
// updated or newly-registered players, and players who left — and
// broadcasts a GameStateDiff to every session if anything changed.
func (s *Server) broadcastStateDiff(now time.Time) {
	current := viewsByDisplayID(s.state.PlayerViews())

	var diff protocol.GameStateDiff
	for id, v := range current {
		if prev, ok := s.lastSnapshot[id]; !ok || prev != v {
			diff.Updated = append(diff.Updated, v)
		}
	}
	for id := range s.lastSnapshot {
		if _, ok := current[id]; !ok {
			diff.Removed = append(diff.Removed, id)
		}
	}

	s.lastSnapshot = current
	if len(diff.Updated) == 0 && len(diff.Removed) == 0 {
		return
	}
	s.broadcast(protocol.KindGameStateDiff, diff, now)
}

func (s *Server) replayConfig() replay.Config {
	return replay.Config{
		Initial:        uint32(s.cfg.ReplayWindowSize),
		Min:            uint32(s.cfg.ReplayMinWindow),
		Max:            uint32(s.cfg.ReplayMaxWindow),
		Adaptive:       s.cfg.ReplayAdaptive,
		ResizeCooldown: s.cfg.ReplayAdjustmentCooldown,
	}
}

func (s *Server) sessionFor(tag transport.Tag, now time.Time) *session.Session {
	sess, ok := s.sessions[tag]
	if !ok {
		sess = session.New(tag, now, s.replayConfig())
		s.sessions[tag] = sess
		s.wg.Add(1)
		go s.drainOutbound(sess)
	}
	return sess
}

// currentKey returns the MAC key and epoch number this server should
// sign outbound frames with right now.
func (s *Server) currentKey(now time.Time) ([]byte, uint32) {
	epoch := s.keys.CurrentEpoch(now)
	return s.keys.KeyFor(epoch), epoch
}

// sendTo encodes payload under kind and enqueues it on sess's outbound
// queue, using that session's own coder and sequence counter.
func (s *Server) sendTo(sess *session.Session, kind protocol.Kind, payload any, now time.Time) {
	key, epoch := s.currentKey(now)
	seq := sess.NextOutboundSeq()
	frame, err := sess.OutboundCoder.Encode(kind, payload, seq, key, epoch)
	if err != nil {
		s.log.Warnw("failed to encode outbound frame", "kind", kind, "err", err)
		return
	}
	if dropped := sess.Enqueue(frame); dropped {
		s.metrics.IncOutboundDropped()
		s.log.Debugw("dropped oldest outbound frame on overflow", "display_id", sess.PlayerDisplayID)
	}
}

// broadcast encodes and enqueues payload to every session with a live
// registered player.
func (s *Server) broadcast(kind protocol.Kind, payload any, now time.Time) {
	for _, sess := range s.sessions {
		if sess.PlayerDisplayID == "" {
			continue
		}
		s.sendTo(sess, kind, payload, now)
	}
}

func (s *Server) sendError(sess *session.Session, kind protocol.ErrorKind, message string, now time.Time) {
	s.sendTo(sess, protocol.KindErrorMessage, protocol.ErrorMessage{Kind: kind, Message: message}, now)
}

// drainOutbound is the transport-writer side: it reads from a session's
// outbound channel and writes through the transport, dropping anything
// that doesn't send. It runs as its own goroutine per session so a slow
// peer never blocks the event loop. Every code path that retires a
// session closes sess.Outbound, so ranging over the channel to
// completion is sufficient — racing that close against ctx cancellation
// would risk dropping an already-enqueued frame (e.g. the shutdown
// broadcast) when both become ready in the same instant.
func (s *Server) drainOutbound(sess *session.Session) {
	defer s.wg.Done()
	for frame := range sess.Outbound {
		if err := s.tr.Send(sess.Tag, frame); err != nil {
			s.log.Debugw("transport send failed", "display_id", sess.PlayerDisplayID, "err", err)
		}
	}
}

// recvLoop forwards inbound transport frames onto s.inbound until ctx is
// cancelled, the sole producer the event loop's select consumes from.
func (s *Server) recvLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		tag, data, err := s.tr.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.Debugw("transport recv error", "err", err)
			continue
		}
		select {
		case s.inbound <- inboundFrame{tag: tag, data: data}:
		case <-ctx.Done():
			return
		}
	}
}

// Metrics exposes the server's counters for logging/diagnostics.
func (s *Server) Metrics() *metrics.Counters { return s.metrics }

// EnvelopeLookup exposes the key lookup function used for test harnesses
// that need to decode server-produced frames.
func (s *Server) EnvelopeLookup(now time.Time) envelope.KeyLookup {
	return s.keys.Lookup(now)
}
