package session

import (
	"testing"
	"time"

	"github.com/nymquest/nymquest/internal/replay"
)

func TestEnqueueDropsOldestOnOverflow(t *testing.T) {
	s := New("tag-a", time.Now(), replay.Config{})
	for i := 0; i < OutboundQueueSize; i++ {
		if dropped := s.Enqueue([]byte{byte(i)}); dropped {
			t.Fatalf("unexpected drop while queue not yet full at i=%d", i)
		}
	}
	dropped := s.Enqueue([]byte{0xFF})
	if !dropped {
		t.Error("expected drop-oldest once queue is full")
	}
	if len(s.Outbound) != OutboundQueueSize {
		t.Errorf("queue length = %d, want %d", len(s.Outbound), OutboundQueueSize)
	}
}

func TestNextOutboundSeqIncrements(t *testing.T) {
	s := New("tag-a", time.Now(), replay.Config{})
	if s.NextOutboundSeq() != 1 {
		t.Error("first sequence should be 1")
	}
	if s.NextOutboundSeq() != 2 {
		t.Error("second sequence should be 2")
	}
}

func TestRecordEnvelopeErrorTripsThreshold(t *testing.T) {
	s := New("tag-a", time.Now(), replay.Config{})
	now := time.Now()
	tripped := false
	for i := 0; i < 5; i++ {
		tripped = s.RecordEnvelopeError(now.Add(time.Duration(i)*time.Millisecond), 5)
	}
	if !tripped {
		t.Error("expected threshold to trip after 5 errors with threshold 5")
	}
}

func TestRecordEnvelopeErrorWindowExpires(t *testing.T) {
	s := New("tag-a", time.Now(), replay.Config{})
	now := time.Now()
	for i := 0; i < 4; i++ {
		s.RecordEnvelopeError(now, 5)
	}
	later := now.Add(2 * time.Minute)
	tripped := s.RecordEnvelopeError(later, 5)
	if tripped {
		t.Error("old errors outside the rolling window should not count toward threshold")
	}
}
