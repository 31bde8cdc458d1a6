// Package replay implements a per-direction sliding bitmap replay window
// with adaptive sizing driven by an EMA of out-of-order deltas.
package replay

import (
	"errors"
	"math/bits"
	"time"
)

var (
	ErrTooOld = errors.New("replay: sequence older than window")
	ErrReplay = errors.New("replay: sequence already seen")
)

const (
	DefaultMinWindow = 32
	DefaultMaxWindow = 96
	DefaultInitial   = 64

	// growThreshold/shrinkThreshold bound the EMA of out-of-order deltas
	// (in sequence numbers) that triggers a resize.
	growThreshold   = 8.0
	shrinkThreshold = 2.0
	emaAlpha        = 0.2
)

// Window tracks accepted sequence numbers for one direction of one
// session. Not safe for concurrent use; owned by the single goroutine
// that dispatches inbound (or tracks outbound) traffic for that session.
type Window struct {
	highestSeen uint64
	hasSeen     bool
	bitmap      []uint64 // little-endian bit i = offset i below highestSeen

	size uint32
	min  uint32
	max  uint32

	adaptive       bool
	ema            float64
	lastResize     time.Time
	resizeCooldown time.Duration
}

// Config configures window sizing. Zero-value fields fall back to the
// spec defaults.
type Config struct {
	Initial, Min, Max uint32
	Adaptive          bool
	ResizeCooldown    time.Duration
}

// New creates a Window using cfg, defaulting unset fields.
func New(cfg Config) *Window {
	initial := cfg.Initial
	if initial == 0 {
		initial = DefaultInitial
	}
	min := cfg.Min
	if min == 0 {
		min = DefaultMinWindow
	}
	max := cfg.Max
	if max == 0 {
		max = DefaultMaxWindow
	}
	cooldown := cfg.ResizeCooldown
	if cooldown == 0 {
		cooldown = 60 * time.Second
	}
	return &Window{
		size:           initial,
		min:            min,
		max:            max,
		adaptive:       cfg.Adaptive,
		resizeCooldown: cooldown,
		bitmap:         make([]uint64, (max/64)+1),
	}
}

func (w *Window) bitSet(offset uint32) bool {
	word, bit := offset/64, offset%64
	if int(word) >= len(w.bitmap) {
		return false
	}
	return w.bitmap[word]&(uint64(1)<<bit) != 0
}

func (w *Window) setBit(offset uint32) {
	word, bit := offset/64, offset%64
	if int(word) >= len(w.bitmap) {
		return
	}
	w.bitmap[word] |= uint64(1) << bit
}

func (w *Window) shiftBy(n uint64) {
	if n >= uint64(len(w.bitmap))*64 {
		for i := range w.bitmap {
			w.bitmap[i] = 0
		}
		return
	}
	wordShift := n / 64
	bitShift := n % 64
	words := len(w.bitmap)
	for i := words - 1; i >= 0; i-- {
		srcIdx := i - int(wordShift)
		var lo, hi uint64
		if srcIdx >= 0 {
			lo = w.bitmap[srcIdx]
		}
		if srcIdx-1 >= 0 {
			hi = w.bitmap[srcIdx-1]
		}
		if bitShift == 0 {
			w.bitmap[i] = lo
		} else {
			w.bitmap[i] = (lo << bitShift) | (hi >> (64 - bitShift))
		}
	}
}

// Process evaluates seq against the current state, returning nil if
// accepted or one of ErrTooOld/ErrReplay otherwise. now drives adaptive
// resizing timing.
func (w *Window) Process(seq uint64, now time.Time) error {
	if !w.hasSeen {
		w.hasSeen = true
		w.highestSeen = seq
		w.setBit(0)
		return nil
	}

	if seq > w.highestSeen {
		delta := seq - w.highestSeen
		w.shiftBy(delta)
		w.highestSeen = seq
		w.setBit(0)
		return nil
	}

	offset := w.highestSeen - seq
	if offset >= uint64(w.size) {
		return ErrTooOld
	}
	if w.bitSet(uint32(offset)) {
		return ErrReplay
	}
	w.setBit(uint32(offset))

	if w.adaptive {
		w.recordOutOfOrder(float64(offset), now)
	}
	return nil
}

func (w *Window) recordOutOfOrder(delta float64, now time.Time) {
	w.ema = emaAlpha*delta + (1-emaAlpha)*w.ema

	if w.lastResize.IsZero() {
		w.lastResize = now
		return
	}
	if now.Sub(w.lastResize) < w.resizeCooldown {
		return
	}

	switch {
	case w.ema > growThreshold && w.size < w.max:
		w.size++
		w.lastResize = now
	case w.ema < shrinkThreshold && w.size > w.min:
		w.size--
		w.lastResize = now
	}
}

// HighestSeen reports the highest sequence number accepted so far.
func (w *Window) HighestSeen() uint64 { return w.highestSeen }

// Size reports the current (possibly adapted) window size.
func (w *Window) Size() uint32 { return w.size }

// popcount counts the set bits across words; it is used by tests
// exercising the bitmap density directly.
func popcount(words []uint64) int {
	n := 0
	for _, w := range words {
		n += bits.OnesCount64(w)
	}
	return n
}
