package game

import (
	"testing"
	"time"

	"github.com/nymquest/nymquest/internal/protocol"
	"github.com/nymquest/nymquest/internal/transport"
	"github.com/nymquest/nymquest/internal/worldlore"
)

func testWorld() World {
	w := DefaultWorld()
	w.MinX, w.MaxX, w.MinY, w.MaxY = 0, 100, 0, 100
	return w
}

func TestRegisterThenMove(t *testing.T) {
	s := NewState(testWorld())
	p, resp, err := s.Register("tag-alice", "Alice", worldlore.FactionNyms, 1, 1, 1, 1)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if resp.NegotiatedVersion != 1 {
		t.Errorf("negotiated version = %d, want 1", resp.NegotiatedVersion)
	}
	p.X, p.Y = 50, 50

	ev, err := s.Move("tag-alice", protocol.DirEast)
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	moved := ev.Payload.(protocol.PlayerMoved)
	if moved.X != 64 || moved.Y != 50 {
		t.Errorf("moved to (%v,%v), want (64,50)", moved.X, moved.Y)
	}
}

func TestRegisterRejectsSessionConflict(t *testing.T) {
	s := NewState(testWorld())
	if _, _, err := s.Register("tag-a", "Alice", worldlore.FactionNyms, 1, 1, 1, 1); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if _, _, err := s.Register("tag-a", "Bob", worldlore.FactionNyms, 1, 1, 1, 1); err != ErrSessionConflict {
		t.Errorf("err = %v, want ErrSessionConflict", err)
	}
}

func TestRegisterRejectsDuplicateName(t *testing.T) {
	s := NewState(testWorld())
	if _, _, err := s.Register("tag-a", "Alice", worldlore.FactionNyms, 1, 1, 1, 1); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if _, _, err := s.Register("tag-b", "Alice", worldlore.FactionNyms, 1, 1, 1, 1); err != ErrNameTaken {
		t.Errorf("err = %v, want ErrNameTaken", err)
	}
}

func TestMoveClampsAtWorldBounds(t *testing.T) {
	s := NewState(testWorld())
	p, _, _ := s.Register("tag-a", "Alice", worldlore.FactionNyms, 1, 1, 1, 1)
	p.X, p.Y = 1, 50

	ev, err := s.Move("tag-a", protocol.DirWest)
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	moved := ev.Payload.(protocol.PlayerMoved)
	if moved.X != 0 || moved.Y != 50 {
		t.Errorf("moved to (%v,%v), want clamped (0,50)", moved.X, moved.Y)
	}
	if p.X != 0 || p.Y != 50 {
		t.Errorf("player position = (%v,%v), want clamped (0,50)", p.X, p.Y)
	}
}

func TestMoveBlockedByPlayerCollision(t *testing.T) {
	s := NewState(testWorld())
	a, _, _ := s.Register("tag-a", "Alice", worldlore.FactionNyms, 1, 1, 1, 1)
	b, _, _ := s.Register("tag-b", "Bob", worldlore.FactionNyms, 1, 1, 1, 1)
	a.X, a.Y = 50, 50
	b.X, b.Y = 64, 50

	if _, err := s.Move("tag-a", protocol.DirEast); err != ErrBlocked {
		t.Errorf("err = %v, want ErrBlocked", err)
	}
	if a.X != 50 || a.Y != 50 {
		t.Errorf("player position changed on blocked move: (%v,%v)", a.X, a.Y)
	}
}

func TestAttackCooldownThenCritRange(t *testing.T) {
	s := NewState(testWorld())
	b, _, _ := s.Register(transport.Tag("tag-b"), "Bob", worldlore.FactionNyms, 1, 1, 1, 1)
	c, _, _ := s.Register(transport.Tag("tag-c"), "Carol", worldlore.FactionNyms, 1, 1, 1, 1)
	b.X, b.Y = 50, 50
	c.X, c.Y = 60, 50 // distance 10, within range 28

	t0 := time.Unix(1000, 0)
	outcome, err := s.Attack("tag-b", c.DisplayID, t0)
	if err != nil {
		t.Fatalf("first attack: %v", err)
	}
	if outcome.Resolved.Damage != 10 && outcome.Resolved.Damage != 20 {
		t.Errorf("damage = %d, want 10 or 20", outcome.Resolved.Damage)
	}

	t1 := t0.Add(1500 * time.Millisecond)
	hpBefore := c.HP
	if _, err := s.Attack("tag-b", c.DisplayID, t1); err != ErrOnCooldown {
		t.Errorf("second attack err = %v, want ErrOnCooldown", err)
	}
	if c.HP != hpBefore {
		t.Errorf("target hp changed during cooldown-rejected attack: %d -> %d", hpBefore, c.HP)
	}
}

func TestAttackOutOfRange(t *testing.T) {
	s := NewState(testWorld())
	b, _, _ := s.Register("tag-b", "Bob", worldlore.FactionNyms, 1, 1, 1, 1)
	c, _, _ := s.Register("tag-c", "Carol", worldlore.FactionNyms, 1, 1, 1, 1)
	b.X, b.Y = 0, 0
	c.X, c.Y = 90, 90

	if _, err := s.Attack("tag-b", c.DisplayID, time.Now()); err != ErrOutOfRange {
		t.Errorf("err = %v, want ErrOutOfRange", err)
	}
}

func TestLevelUpInvariant(t *testing.T) {
	p := NewPlayer("Hero100", "Hero", worldlore.FactionNyms, "tag", 0, 0)
	p.XP = 350 // two level-ups: 100 to reach level 2, 200 to reach level 3, 50 left over
	leveled, newLevel := p.ApplyLevelUps()
	if !leveled || newLevel != 3 {
		t.Errorf("leveled=%v newLevel=%d, want true,3", leveled, newLevel)
	}
	if p.XP != 50 {
		t.Errorf("remaining xp = %d, want 50", p.XP)
	}
	if p.XP >= XPToNext(p.Level) {
		t.Errorf("xp %d still exceeds threshold %d after applying level-ups", p.XP, XPToNext(p.Level))
	}
	if p.HPMax != HPMaxForLevel(3) {
		t.Errorf("hp_max = %d, want %d", p.HPMax, HPMaxForLevel(3))
	}
}

func TestWorldInvariantsHoldAfterOperations(t *testing.T) {
	s := NewState(testWorld())
	s.Register("tag-a", "Alice", worldlore.FactionNyms, 1, 1, 1, 1)
	s.Register("tag-b", "Bob", worldlore.FactionCorporate, 1, 1, 1, 1)
	s.Register("tag-c", "Carol", worldlore.FactionCipher, 1, 1, 1, 1)

	if err := s.CheckInvariants(); err != nil {
		t.Fatalf("invariants violated after registration: %v", err)
	}
}

func TestDisconnectRemovesPlayer(t *testing.T) {
	s := NewState(testWorld())
	p, _, _ := s.Register("tag-a", "Alice", worldlore.FactionNyms, 1, 1, 1, 1)

	left, err := s.Disconnect("tag-a")
	if err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if left.DisplayID != p.DisplayID {
		t.Errorf("left.DisplayID = %s, want %s", left.DisplayID, p.DisplayID)
	}
	if _, ok := s.ByTag("tag-a"); ok {
		t.Error("player still present after disconnect")
	}
}
