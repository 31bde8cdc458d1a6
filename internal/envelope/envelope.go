// Package envelope implements the authenticated, versioned, size-normalized
// message frame every payload travels in: serialize, pad to a jittered
// bucket, MAC, and the inverse on decode.
package envelope

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"math/big"
	"time"

	"github.com/nymquest/nymquest/internal/protocol"
)

const (
	// CurrentVersion is the protocol version this build speaks.
	CurrentVersion uint16 = 1
	// MinSupportedVersion is the oldest version this build will decode.
	MinSupportedVersion uint16 = 1

	// MaxPayloadBytes is the largest payload accepted before padding.
	MaxPayloadBytes = 4096

	macSize = sha256.Size
)

var bucketLadder = []int{128, 256, 512, 1024, 2048, 4096}

// Errors returned by Decode, matching the taxonomy in the contract.
var (
	ErrMalformedFrame      = errors.New("envelope: malformed frame")
	ErrUnknownVersion      = errors.New("envelope: unsupported protocol version")
	ErrUnknownKeyEpoch     = errors.New("envelope: no key for epoch")
	ErrMacMismatch         = errors.New("envelope: mac mismatch")
	ErrExpired             = errors.New("envelope: expired")
	ErrOversizeBeforePadding = errors.New("envelope: payload too large before padding")
)

// Message is the decoded result of a successful Decode.
type Message struct {
	Kind      protocol.Kind
	Payload   json.RawMessage
	Sequence  uint64
	KeyEpoch  uint32
	Timestamp time.Time
}

// KeyLookup resolves a key epoch to its MAC key. Callers implement this
// over their key schedule; envelope itself knows nothing about rotation.
type KeyLookup func(epoch uint32) (key []byte, ok bool)

// JitterStrategy names one of the four bucket-jitter strategies that
// rotate every R accepted messages.
type JitterStrategy int

const (
	JitterCount JitterStrategy = iota
	JitterTime
	JitterCombined
	JitterRandom
)

// Coder holds the rotating jitter-strategy state used when encoding. One
// Coder per outbound direction (one per session on the server, one on the
// client) — it is not safe for concurrent use since only a single
// event-loop goroutine ever touches a given direction's state.
type Coder struct {
	strategy      JitterStrategy
	acceptedCount uint64
	rotateAt      uint64
}

// NewCoder creates a Coder starting on the count strategy with an initial
// rotation threshold drawn from [50,150].
func NewCoder() *Coder {
	return &Coder{strategy: JitterCount, rotateAt: randRotation()}
}

func randRotation() uint64 {
	n, err := rand.Int(rand.Reader, big.NewInt(101))
	if err != nil {
		return 100
	}
	return 50 + n.Uint64()
}

func (c *Coder) tick() {
	c.acceptedCount++
	if c.acceptedCount >= c.rotateAt {
		c.acceptedCount = 0
		c.rotateAt = randRotation()
		c.strategy = (c.strategy + 1) % 4
	}
}

// jitterFraction computes the strategy-specific jitter j in [0.02, 0.08].
func (c *Coder) jitterFraction(now time.Time) (float64, error) {
	const lo, hi = 0.02, 0.08
	span := hi - lo
	switch c.strategy {
	case JitterCount:
		h := fnv.New32a()
		_, _ = h.Write([]byte(fmt.Sprintf("count:%d", c.acceptedCount)))
		return lo + span*float64(h.Sum32()%1000)/1000, nil
	case JitterTime:
		minute := now.Unix() / 60
		h := fnv.New32a()
		_, _ = h.Write([]byte(fmt.Sprintf("time:%d", minute)))
		return lo + span*float64(h.Sum32()%1000)/1000, nil
	case JitterCombined:
		hc := fnv.New32a()
		_, _ = hc.Write([]byte(fmt.Sprintf("count:%d", c.acceptedCount)))
		ht := fnv.New32a()
		_, _ = ht.Write([]byte(fmt.Sprintf("time:%d", now.Unix()/60)))
		x := hc.Sum32() ^ ht.Sum32()
		return lo + span*float64(x%1000)/1000, nil
	case JitterRandom:
		n, err := rand.Int(rand.Reader, big.NewInt(1000))
		if err != nil {
			return lo, err
		}
		return lo + span*float64(n.Int64())/1000, nil
	default:
		return lo, nil
	}
}

func targetBucketSize(base int, jitter float64) int {
	return int(float64(base) * (1 + jitter))
}

func selectBase(payloadLen int) (int, error) {
	for _, b := range bucketLadder {
		if payloadLen <= b {
			return b, nil
		}
	}
	return 0, ErrOversizeBeforePadding
}

func ttlFor(class protocol.TTLClass) time.Duration {
	switch class {
	case protocol.TTLCritical:
		return 10 * time.Second
	case protocol.TTLSocial:
		return 60 * time.Second
	default:
		return 30 * time.Second
	}
}

// Encode serializes payload under kind, pads it to a jittered bucket,
// and MACs the result with the key named by epoch.
func (c *Coder) Encode(kind protocol.Kind, payload any, seq uint64, key []byte, epoch uint32) ([]byte, error) {
	body, err := json.Marshal(struct {
		Kind protocol.Kind `json:"kind"`
		Data any           `json:"data"`
	}{kind, payload})
	if err != nil {
		return nil, fmt.Errorf("envelope: marshal payload: %w", err)
	}
	if len(body) > MaxPayloadBytes {
		return nil, ErrOversizeBeforePadding
	}

	base, err := selectBase(len(body))
	if err != nil {
		return nil, err
	}
	now := time.Now()
	jitter, err := c.jitterFraction(now)
	if err != nil {
		return nil, fmt.Errorf("envelope: jitter: %w", err)
	}
	target := targetBucketSize(base, jitter)
	padLen := target - len(body)
	if padLen < 0 {
		padLen = 0
	}
	pad := make([]byte, padLen)
	if _, err := rand.Read(pad); err != nil {
		return nil, fmt.Errorf("envelope: pad: %w", err)
	}

	header := make([]byte, 2+8+8+4+4)
	binary.BigEndian.PutUint16(header[0:2], CurrentVersion)
	binary.BigEndian.PutUint64(header[2:10], seq)
	binary.BigEndian.PutUint64(header[10:18], uint64(now.UnixMilli()))
	binary.BigEndian.PutUint32(header[18:22], epoch)
	binary.BigEndian.PutUint32(header[22:26], uint32(len(body)))

	padLenField := make([]byte, 4)
	binary.BigEndian.PutUint32(padLenField, uint32(len(pad)))

	mac := computeMAC(key, header, body, padLenField, pad)

	out := make([]byte, 0, len(header)+len(body)+len(padLenField)+len(pad)+macSize)
	out = append(out, header...)
	out = append(out, body...)
	out = append(out, padLenField...)
	out = append(out, pad...)
	out = append(out, mac...)

	c.tick()
	return out, nil
}

func computeMAC(key []byte, parts ...[]byte) []byte {
	m := hmac.New(sha256.New, key)
	for _, p := range parts {
		m.Write(p)
	}
	return m.Sum(nil)
}

// Decode parses and authenticates bytes, returning the decoded Message
// or one of the taxonomy errors. It never panics on malformed input.
func Decode(data []byte, lookup KeyLookup) (Message, error) {
	const headerLen = 2 + 8 + 8 + 4 + 4
	if len(data) < headerLen+4+macSize {
		return Message{}, ErrMalformedFrame
	}

	version := binary.BigEndian.Uint16(data[0:2])
	seq := binary.BigEndian.Uint64(data[2:10])
	tsMs := binary.BigEndian.Uint64(data[10:18])
	epoch := binary.BigEndian.Uint32(data[18:22])
	payloadLen := binary.BigEndian.Uint32(data[22:26])

	if version < MinSupportedVersion || version > CurrentVersion {
		return Message{}, ErrUnknownVersion
	}

	cursor := headerLen
	if uint64(cursor)+uint64(payloadLen) > uint64(len(data)) {
		return Message{}, ErrMalformedFrame
	}
	body := data[cursor : cursor+int(payloadLen)]
	cursor += int(payloadLen)

	if cursor+4 > len(data) {
		return Message{}, ErrMalformedFrame
	}
	padLen := binary.BigEndian.Uint32(data[cursor : cursor+4])
	padLenField := data[cursor : cursor+4]
	cursor += 4

	if uint64(cursor)+uint64(padLen) > uint64(len(data)) {
		return Message{}, ErrMalformedFrame
	}
	pad := data[cursor : cursor+int(padLen)]
	cursor += int(padLen)

	if cursor+macSize != len(data) {
		return Message{}, ErrMalformedFrame
	}
	gotMAC := data[cursor : cursor+macSize]

	key, ok := lookup(epoch)
	if !ok {
		return Message{}, ErrUnknownKeyEpoch
	}
	header := data[0:headerLen]
	wantMAC := computeMAC(key, header, body, padLenField, pad)
	if !hmac.Equal(gotMAC, wantMAC) {
		return Message{}, ErrMacMismatch
	}

	var envelope struct {
		Kind protocol.Kind   `json:"kind"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	ts := time.UnixMilli(int64(tsMs))
	ttl := ttlFor(protocol.TTLClassOf(envelope.Kind))
	if d := time.Since(ts); d > ttl || d < -ttl {
		return Message{}, ErrExpired
	}

	return Message{
		Kind:      envelope.Kind,
		Payload:   envelope.Data,
		Sequence:  seq,
		KeyEpoch:  epoch,
		Timestamp: ts,
	}, nil
}
