// Package keyschedule derives and retains per-epoch MAC keys from a
// pre-shared master secret. Epochs roll over every 24h; the schedule
// keeps the current epoch plus the previous two for verification.
package keyschedule

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"io"
	"sync"
	"time"

	"golang.org/x/crypto/hkdf"
)

const (
	// EpochDuration is how long a single key epoch lasts.
	EpochDuration = 24 * time.Hour
	// RetainedEpochs is the number of past epochs (in addition to the
	// current one) kept available for verifying in-flight messages.
	// Resolves the "previous two epochs" vs. "time-limited retention"
	// inconsistency in favor of a fixed epoch count.
	RetainedEpochs = 2
	keyLen         = 32
)

var ErrNoMasterSecret = errors.New("keyschedule: master secret must not be empty")

// Schedule derives and caches MAC keys by epoch number. It is not
// safe for concurrent mutation beyond the read-mostly lookup path;
// rotation is expected to be driven from the single event-loop
// goroutine, matching the "timers are cases in the loop" design.
type Schedule struct {
	mu           sync.RWMutex
	masterSecret []byte
	baseline     time.Time
	cache        map[uint32][]byte
}

// New creates a Schedule rooted at baseline (the epoch-0 start time).
func New(masterSecret []byte, baseline time.Time) (*Schedule, error) {
	if len(masterSecret) == 0 {
		return nil, ErrNoMasterSecret
	}
	return &Schedule{
		masterSecret: masterSecret,
		baseline:     baseline,
		cache:        make(map[uint32][]byte),
	}, nil
}

// CurrentEpoch returns the epoch number for the given time relative to
// the schedule's baseline.
func (s *Schedule) CurrentEpoch(now time.Time) uint32 {
	elapsed := now.Sub(s.baseline)
	if elapsed < 0 {
		return 0
	}
	return uint32(elapsed / EpochDuration)
}

// KeyFor returns the derived key for epoch, deriving and caching it on
// first use.
func (s *Schedule) KeyFor(epoch uint32) []byte {
	s.mu.RLock()
	if k, ok := s.cache[epoch]; ok {
		s.mu.RUnlock()
		return k
	}
	s.mu.RUnlock()

	k := derive(s.masterSecret, epoch)

	s.mu.Lock()
	s.cache[epoch] = k
	s.mu.Unlock()
	return k
}

func derive(masterSecret []byte, epoch uint32) []byte {
	salt := make([]byte, 4)
	binary.BigEndian.PutUint32(salt, epoch)
	r := hkdf.New(sha256.New, masterSecret, salt, []byte("nymquest-mac-key"))
	out := make([]byte, keyLen)
	_, _ = io.ReadFull(r, out)
	return out
}

// Lookup implements envelope.KeyLookup: it resolves a key epoch only if
// it falls within [current-RetainedEpochs, current] relative to now.
func (s *Schedule) Lookup(now time.Time) func(epoch uint32) ([]byte, bool) {
	current := s.CurrentEpoch(now)
	return func(epoch uint32) ([]byte, bool) {
		if epoch > current {
			return nil, false
		}
		if current-epoch > RetainedEpochs {
			return nil, false
		}
		return s.KeyFor(epoch), true
	}
}

// Prune drops cached keys older than the retention window relative to
// now, bounding memory growth across a long-running process.
func (s *Schedule) Prune(now time.Time) {
	current := s.CurrentEpoch(now)
	s.mu.Lock()
	defer s.mu.Unlock()
	for epoch := range s.cache {
		if epoch <= current && current-epoch > RetainedEpochs {
			delete(s.cache, epoch)
		}
	}
}
