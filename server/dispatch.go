package server

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/nymquest/nymquest/internal/envelope"
	"github.com/nymquest/nymquest/internal/game"
	"github.com/nymquest/nymquest/internal/protocol"
	"github.com/nymquest/nymquest/internal/replay"
	"github.com/nymquest/nymquest/internal/session"
	"github.com/nymquest/nymquest/internal/transport"
	"github.com/nymquest/nymquest/internal/worldlore"
)

// decodeInbound runs the envelope-decode half of the inbound pipeline so
// the caller can learn a frame's real payload kind — and therefore its
// pacing priority — before the message is paced and dispatched. Decode
// failures are recorded against the session and reported via ok=false;
// they never panic and never stop the loop.
func (s *Server) decodeInbound(tag transport.Tag, data []byte, now time.Time) (sess *session.Session, msg envelope.Message, ok bool) {
	sess = s.sessionFor(tag, now)

	msg, err := envelope.Decode(data, s.keys.Lookup(now))
	if err != nil {
		s.recordEnvelopeFailure(sess, tag, err, now)
		return sess, envelope.Message{}, false
	}
	return sess, msg, true
}

// handleDecoded runs the replay-check/rate-limit/dispatch half of the
// inbound pipeline against an already-decoded message.
func (s *Server) handleDecoded(sess *session.Session, tag transport.Tag, msg envelope.Message, now time.Time) {
	if err := sess.InboundWindow.Process(msg.Sequence, now); err != nil {
		if errors.Is(err, replay.ErrTooOld) {
			s.metrics.IncTooOldRejected()
		} else {
			s.metrics.IncReplayRejected()
		}
		s.recordEnvelopeFailure(sess, tag, err, now)
		return
	}

	if !s.limiter.Allow(string(tag), now) {
		s.metrics.IncRateLimited()
		s.sendError(sess, protocol.ErrorRateLimited, "rate limited", now)
		return
	}

	sess.LastInboundAt = now
	s.metrics.IncMessagesAccepted()
	s.dispatchPayload(sess, tag, msg, now)
}

func (s *Server) recordEnvelopeFailure(sess *session.Session, tag transport.Tag, err error, now time.Time) {
	switch {
	case errors.Is(err, envelope.ErrMacMismatch):
		s.metrics.IncMacMismatches()
	case errors.Is(err, envelope.ErrMalformedFrame):
		s.metrics.IncMalformedFrames()
	case errors.Is(err, envelope.ErrExpired):
		s.metrics.IncExpiredFrames()
	}

	if sess.RecordEnvelopeError(now, s.cfg.SuspectEnvelopeErrorThreshold) {
		s.metrics.IncSuspectSessionsDropped()
		s.log.Warnw("dropping session for reaching envelope error threshold", "display_id", sess.PlayerDisplayID)
		delete(s.sessions, tag)
		close(sess.Outbound)
	}
}

func tagSuffix(tag transport.Tag) string {
	str := string(tag)
	if len(str) <= 6 {
		return str
	}
	return str[len(str)-6:]
}

func (s *Server) dispatchPayload(sess *session.Session, tag transport.Tag, msg envelope.Message, now time.Time) {
	switch msg.Kind {
	case protocol.KindRegister:
		s.handleRegister(sess, tag, msg.Payload, now)
	case protocol.KindMove:
		s.handleMove(sess, tag, msg.Payload, now)
	case protocol.KindAttack:
		s.handleAttack(sess, tag, msg.Payload, now)
	case protocol.KindChat:
		s.handleChat(sess, tag, msg.Payload, now)
	case protocol.KindEmote:
		s.handleEmote(sess, tag, msg.Payload, now)
	case protocol.KindHeartbeatResponse:
		_ = s.state.HeartbeatResponse(tag, now)
	case protocol.KindDisconnect:
		s.handleDisconnect(sess, tag, now)
	default:
		s.log.Debugw("ignoring unrecognized payload kind", "kind", msg.Kind)
	}
}

func (s *Server) handleRegister(sess *session.Session, tag transport.Tag, raw json.RawMessage, now time.Time) {
	var reg protocol.Register
	if err := json.Unmarshal(raw, &reg); err != nil {
		return
	}
	player, resp, err := s.state.Register(tag, reg.Name, worldlore.Faction(reg.Faction),
		reg.MinVersion, reg.CurrentVersion, envelope.MinSupportedVersion, envelope.CurrentVersion)
	if err != nil {
		s.sendError(sess, registerErrorKind(err), err.Error(), now)
		return
	}
	sess.PlayerDisplayID = player.DisplayID
	sess.NegotiatedVersion = resp.NegotiatedVersion
	s.sendTo(sess, protocol.KindRegisterResponse, resp, now)
	s.sendTo(sess, protocol.KindGameStateFull, protocol.GameStateFull{Players: s.state.PlayerViews()}, now)
	s.noteStateSnapshot()
}

func registerErrorKind(err error) protocol.ErrorKind {
	switch {
	case errors.Is(err, game.ErrSessionConflict):
		return protocol.ErrorSessionConflict
	case errors.Is(err, game.ErrIncompatibleVersion):
		return protocol.ErrorIncompatibleVersion
	default:
		return protocol.ErrorNameTaken
	}
}

func (s *Server) handleMove(sess *session.Session, tag transport.Tag, raw json.RawMessage, now time.Time) {
	var m protocol.Move
	if err := json.Unmarshal(raw, &m); err != nil {
		return
	}
	ev, err := s.state.Move(tag, m.Direction)
	if err != nil {
		s.sendError(sess, protocol.ErrorBlocked, "blocked", now)
		return
	}
	s.broadcast(ev.Kind, ev.Payload, now)
}

func (s *Server) handleAttack(sess *session.Session, tag transport.Tag, raw json.RawMessage, now time.Time) {
	var a protocol.Attack
	if err := json.Unmarshal(raw, &a); err != nil {
		return
	}
	outcome, err := s.state.Attack(tag, a.TargetDisplayID, now)
	if err != nil {
		s.sendError(sess, attackErrorKind(err), err.Error(), now)
		return
	}
	s.broadcast(protocol.KindAttackResolved, outcome.Resolved, now)
	if outcome.Defeated != nil {
		s.broadcast(protocol.KindPlayerDefeated, *outcome.Defeated, now)
	}
	if outcome.LevelUp != nil {
		s.broadcast(protocol.KindPlayerLevelUp, *outcome.LevelUp, now)
	}
}

func attackErrorKind(err error) protocol.ErrorKind {
	switch {
	case errors.Is(err, game.ErrOnCooldown):
		return protocol.ErrorOnCooldown
	case errors.Is(err, game.ErrOutOfRange):
		return protocol.ErrorOutOfRange
	case errors.Is(err, game.ErrNoSuchTarget):
		return protocol.ErrorNoSuchTarget
	default:
		return protocol.ErrorBlocked
	}
}

func (s *Server) handleChat(sess *session.Session, tag transport.Tag, raw json.RawMessage, now time.Time) {
	var c protocol.Chat
	if err := json.Unmarshal(raw, &c); err != nil {
		return
	}
	ev, err := s.state.Chat(tag, c.Text)
	if err != nil {
		return
	}
	s.broadcast(ev.Kind, ev.Payload, now)
}

func (s *Server) handleEmote(sess *session.Session, tag transport.Tag, raw json.RawMessage, now time.Time) {
	var e protocol.Emote
	if err := json.Unmarshal(raw, &e); err != nil {
		return
	}
	ev, err := s.state.Emote(tag, e.Kind)
	if err != nil {
		return
	}
	s.broadcast(ev.Kind, ev.Payload, now)
}

func (s *Server) handleDisconnect(sess *session.Session, tag transport.Tag, now time.Time) {
	left, err := s.state.Disconnect(tag)
	if err != nil {
		return
	}
	s.broadcast(protocol.KindPlayerLeft, left, now)
	delete(s.sessions, tag)
	close(sess.Outbound)
}
