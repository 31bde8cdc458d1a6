package server

import (
	"context"
	"time"

	"github.com/nymquest/nymquest/internal/persistence"
	"github.com/nymquest/nymquest/internal/protocol"
)

// ShutdownCountdown is the countdown, in seconds, announced in the
// ServerShutdown broadcast. Run does not sleep for it: it flushes the
// broadcast and the final snapshot, then exits.
const ShutdownCountdown = 5

// PersistDeadline bounds how long Run waits for the final snapshot
// write during shutdown.
const PersistDeadline = 5 * time.Second

// Run drives the single-threaded event loop until ctx is cancelled. It
// multiplexes: inbound transport frames, the heartbeat tick, the reap
// tick, the persist tick, the key-rotation check, and ctx cancellation
// as the shutdown signal.
func (s *Server) Run(ctx context.Context) error {
	s.wg.Add(1)
	go s.recvLoop(ctx)
	if s.store != nil {
		s.wg.Add(1)
		go s.persistWorker(ctx)
	}

	heartbeatTicker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer heartbeatTicker.Stop()
	reapTicker := time.NewTicker(s.cfg.ReapInterval)
	defer reapTicker.Stop()
	persistTicker := time.NewTicker(2 * time.Minute)
	defer persistTicker.Stop()
	keyRotateTicker := time.NewTicker(keyRotationCheckInterval)
	defer keyRotateTicker.Stop()

	for {
		s.metrics.IncTicksProcessed()
		select {
		case frame := <-s.inbound:
			now := time.Now()
			sess, msg, ok := s.decodeInbound(frame.tag, frame.data, now)
			if !ok {
				continue
			}
			if err := s.pacer.Wait(ctx, protocol.PriorityOf(msg.Kind)); err != nil {
				continue
			}
			s.handleDecoded(sess, frame.tag, msg, now)

		case <-heartbeatTicker.C:
			now := time.Now()
			s.broadcast(protocol.KindHeartbeat, protocol.Heartbeat{}, now)
			s.broadcastStateDiff(now)

		case <-reapTicker.C:
			s.reapStaleSessions(time.Now())

		case <-persistTicker.C:
			s.requestPersist()

		case <-keyRotateTicker.C:
			s.keys.Prune(time.Now())

		case <-ctx.Done():
			s.gracefulShutdown()
			return nil
		}
	}
}

func (s *Server) reapStaleSessions(now time.Time) {
	for tag, sess := range s.sessions {
		if sess.PlayerDisplayID == "" {
			continue
		}
		if now.Sub(sess.LastInboundAt) <= s.cfg.HeartbeatTimeout {
			continue
		}
		left, err := s.state.Disconnect(tag)
		if err != nil {
			continue
		}
		s.metrics.IncSessionsReaped()
		s.broadcast(protocol.KindPlayerLeft, left, now)
		close(sess.Outbound)
		delete(s.sessions, tag)
		s.log.Infow("reaped stale session", "display_id", left.DisplayID)
	}
}

func (s *Server) requestPersist() {
	if s.store == nil {
		return
	}
	snap := persistence.FromState(s.state, persistence.WorldFingerprint(s.world), time.Now())
	select {
	case s.persistReq <- snap:
	default:
		s.log.Debugw("persist worker busy, dropping this tick's snapshot request")
	}
}

func (s *Server) persistWorker(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case snap := <-s.persistReq:
			if err := s.store.Save(snap); err != nil {
				s.metrics.IncPersistErrors()
				s.log.Warnw("persistence save failed", "err", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) gracefulShutdown() {
	now := time.Now()
	s.broadcast(protocol.KindServerShutdown, protocol.ServerShutdown{CountdownSecs: ShutdownCountdown}, now)

	if s.store != nil {
		snap := persistence.FromState(s.state, persistence.WorldFingerprint(s.world), now)
		deadline := time.Now().Add(PersistDeadline)
		done := make(chan error, 1)
		go func() { done <- s.store.Save(snap) }()
		select {
		case err := <-done:
			if err != nil {
				s.log.Warnw("final persistence save failed", "err", err)
			}
		case <-time.After(time.Until(deadline)):
			s.log.Warnw("final persistence save did not complete before deadline")
		}
	}

	for _, sess := range s.sessions {
		close(sess.Outbound)
	}
	// Wait for every drainOutbound goroutine to flush its queue — in
	// particular the shutdown broadcast just enqueued above — before
	// closing the transport out from under them.
	s.wg.Wait()
	_ = s.tr.Close()
}
