// Package client implements the player-side mirror of the server's
// envelope codec, inbound replay window, and outbound pacing, plus a
// token-bucket precheck so a well-behaved client never trips the
// server's own rate limiter. The terminal UI and input parser that
// drive this package are external collaborators.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nymquest/nymquest/internal/config"
	"github.com/nymquest/nymquest/internal/envelope"
	"github.com/nymquest/nymquest/internal/keyschedule"
	"github.com/nymquest/nymquest/internal/pacing"
	"github.com/nymquest/nymquest/internal/protocol"
	"github.com/nymquest/nymquest/internal/ratelimit"
	"github.com/nymquest/nymquest/internal/replay"
	"github.com/nymquest/nymquest/internal/transport"
)

// ReconnectBackoff implements the exponential backoff named in the
// error-handling design: base 1s, factor 2, capped at 60s.
type ReconnectBackoff struct {
	attempt int
	Base    time.Duration
	Factor  float64
	Cap     time.Duration
	Max     int // 0 = unlimited
}

// NewReconnectBackoff returns a backoff with sensible connection defaults.
func NewReconnectBackoff(maxAttempts int) *ReconnectBackoff {
	return &ReconnectBackoff{Base: time.Second, Factor: 2, Cap: 60 * time.Second, Max: maxAttempts}
}

// Next returns the delay before the next reconnect attempt, or false if
// the attempt budget is exhausted.
func (b *ReconnectBackoff) Next() (time.Duration, bool) {
	if b.Max > 0 && b.attempt >= b.Max {
		return 0, false
	}
	d := time.Duration(float64(b.Base) * pow(b.Factor, b.attempt))
	if d > b.Cap {
		d = b.Cap
	}
	b.attempt++
	return d, true
}

// Reset zeroes the attempt counter after a successful connection.
func (b *ReconnectBackoff) Reset() { b.attempt = 0 }

func pow(base float64, exp int) float64 {
	out := 1.0
	for i := 0; i < exp; i++ {
		out *= base
	}
	return out
}

// Client is the player-side session: one outbound coder/sequence
// counter, one inbound replay window, a send pacer, and a self-throttle
// token bucket mirroring the server's limits.
type Client struct {
	cfg config.Config
	tr  transport.Transport

	masterSecret []byte
	keys         *keyschedule.Schedule

	outCoder *envelope.Coder
	outSeq   uint64
	inWindow *replay.Window

	sendPacer   *pacing.Pacer
	selfLimiter *ratelimit.Limiter

	DisplayID         string
	NegotiatedVersion uint16

	Events chan protocol.Kind
}

// New creates a Client bound to tr, deriving MAC keys from the same
// pre-shared masterSecret the server uses.
func New(cfg config.Config, tr transport.Transport, masterSecret []byte) (*Client, error) {
	keys, err := keyschedule.New(masterSecret, time.Now())
	if err != nil {
		return nil, err
	}
	return &Client{
		cfg:      cfg,
		tr:       tr,
		masterSecret: masterSecret,
		keys:     keys,
		outCoder: envelope.NewCoder(),
		inWindow: replay.New(replay.Config{
			Initial:        uint32(cfg.ReplayWindowSize),
			Min:            uint32(cfg.ReplayMinWindow),
			Max:            uint32(cfg.ReplayMaxWindow),
			Adaptive:       cfg.ReplayAdaptive,
			ResizeCooldown: cfg.ReplayAdjustmentCooldown,
		}),
		sendPacer:   pacing.New(100*time.Millisecond, cfg.EnableClientPacing, pacing.WithMaxJitter(150*time.Millisecond)),
		selfLimiter: ratelimit.New(15, 8.0),
		Events:      make(chan protocol.Kind, 32),
	}, nil
}

// Send paces, self-throttles, encodes, and transmits one payload to the
// server's transport tag.
func (c *Client) Send(ctx context.Context, serverTag transport.Tag, kind protocol.Kind, payload any) error {
	if !c.selfLimiter.Allow("self", time.Now()) {
		return fmt.Errorf("client: self-throttled, would exceed server rate limit")
	}
	if err := c.sendPacer.Wait(ctx, protocol.PriorityOf(kind)); err != nil {
		return err
	}

	c.outSeq++
	now := time.Now()
	epoch := c.keys.CurrentEpoch(now)
	key := c.keys.KeyFor(epoch)

	frame, err := c.outCoder.Encode(kind, payload, c.outSeq, key, epoch)
	if err != nil {
		return fmt.Errorf("client: encode: %w", err)
	}
	return c.tr.Send(serverTag, frame)
}

// Recv blocks for the next valid inbound frame from the server,
// rejecting replays/expired/malformed frames transparently (returning
// to the caller only once a frame passes every check, or ctx ends).
func (c *Client) Recv(ctx context.Context) (envelope.Message, error) {
	for {
		_, data, err := c.tr.Recv(ctx)
		if err != nil {
			return envelope.Message{}, err
		}
		msg, err := envelope.Decode(data, c.keys.Lookup(time.Now()))
		if err != nil {
			continue
		}
		if err := c.inWindow.Process(msg.Sequence, time.Now()); err != nil {
			continue
		}
		return msg, nil
	}
}

// Register sends a Register payload and blocks until RegisterResponse
// or ctx ends, recording DisplayID/NegotiatedVersion on success.
func (c *Client) Register(ctx context.Context, serverTag transport.Tag, name, faction string) (protocol.RegisterResponse, error) {
	if err := c.Send(ctx, serverTag, protocol.KindRegister, protocol.Register{
		Name: name, Faction: faction,
		MinVersion: envelope.MinSupportedVersion, CurrentVersion: envelope.CurrentVersion,
	}); err != nil {
		return protocol.RegisterResponse{}, err
	}

	for {
		msg, err := c.Recv(ctx)
		if err != nil {
			return protocol.RegisterResponse{}, err
		}
		if msg.Kind == protocol.KindErrorMessage {
			var em protocol.ErrorMessage
			_ = json.Unmarshal(msg.Payload, &em)
			return protocol.RegisterResponse{}, fmt.Errorf("client: register rejected: %s", em.Message)
		}
		if msg.Kind != protocol.KindRegisterResponse {
			continue
		}
		var resp protocol.RegisterResponse
		if err := json.Unmarshal(msg.Payload, &resp); err != nil {
			return protocol.RegisterResponse{}, err
		}
		c.DisplayID = resp.DisplayID
		c.NegotiatedVersion = resp.NegotiatedVersion
		return resp, nil
	}
}
