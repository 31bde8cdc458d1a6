package ratelimit

import (
	"testing"
	"time"
)

func TestBurstThenDenied(t *testing.T) {
	l := New(20, 10.0)
	now := time.Now()

	allowed := 0
	for i := 0; i < 25; i++ {
		if l.Allow("tag-a", now) {
			allowed++
		}
	}
	if allowed != 20 {
		t.Errorf("allowed = %d, want 20", allowed)
	}
}

func TestRefillOverTime(t *testing.T) {
	l := New(20, 10.0)
	now := time.Now()
	for i := 0; i < 20; i++ {
		l.Allow("tag-a", now)
	}
	if l.Allow("tag-a", now) {
		t.Fatal("expected bucket exhausted")
	}

	later := now.Add(500 * time.Millisecond)
	allowed := 0
	for i := 0; i < 10; i++ {
		if l.Allow("tag-a", later) {
			allowed++
		}
	}
	if allowed < 4 || allowed > 6 {
		t.Errorf("allowed after 500ms refill = %d, want ~5", allowed)
	}
}

func TestTagsAreIndependent(t *testing.T) {
	l := New(1, 1.0)
	now := time.Now()
	if !l.Allow("tag-a", now) {
		t.Fatal("first message on tag-a should be allowed")
	}
	if !l.Allow("tag-b", now) {
		t.Fatal("first message on tag-b should be allowed regardless of tag-a")
	}
}

func TestCleanupRemovesIdleBuckets(t *testing.T) {
	l := New(5, 1.0)
	now := time.Now()
	l.Allow("tag-a", now)
	if l.Len() != 1 {
		t.Fatalf("len = %d, want 1", l.Len())
	}
	removed := l.Cleanup(now.Add(6 * time.Minute))
	if removed != 1 || l.Len() != 0 {
		t.Errorf("removed = %d len = %d, want 1 and 0", removed, l.Len())
	}
}

func TestGrantedBoundedByCapacityPlusRefill(t *testing.T) {
	l := New(20, 10.0)
	now := time.Now()
	window := 2 * time.Second
	end := now.Add(window)

	granted := 0
	for t := now; t.Before(end); t = t.Add(10 * time.Millisecond) {
		for i := 0; i < 3; i++ {
			if l.Allow("tag-a", t) {
				granted++
			}
		}
	}
	maxGrant := 20 + int(10.0*window.Seconds()) + 1
	if granted > maxGrant {
		t.Errorf("granted %d exceeds capacity+refill bound %d", granted, maxGrant)
	}
}
