package client

import (
	"testing"
	"time"
)

func TestReconnectBackoffDoublesAndCaps(t *testing.T) {
	b := NewReconnectBackoff(0)
	prev := time.Duration(0)
	for i := 0; i < 10; i++ {
		d, ok := b.Next()
		if !ok {
			t.Fatalf("unlimited backoff should never exhaust")
		}
		if d > 60*time.Second {
			t.Errorf("attempt %d delay %v exceeds cap", i, d)
		}
		if i > 0 && d != 2*prev && d != 60*time.Second {
			t.Errorf("attempt %d delay %v should double %v before hitting cap", i, d, prev)
		}
		prev = d
	}
}

func TestReconnectBackoffRespectsMaxAttempts(t *testing.T) {
	b := NewReconnectBackoff(3)
	for i := 0; i < 3; i++ {
		if _, ok := b.Next(); !ok {
			t.Fatalf("attempt %d should still be within budget", i)
		}
	}
	if _, ok := b.Next(); ok {
		t.Error("expected backoff to report exhausted after max attempts")
	}
}

func TestReconnectBackoffResetsAttemptCounter(t *testing.T) {
	b := NewReconnectBackoff(0)
	b.Next()
	b.Next()
	b.Reset()
	first, _ := b.Next()
	if first != b.Base {
		t.Errorf("first delay after reset = %v, want base %v", first, b.Base)
	}
}
