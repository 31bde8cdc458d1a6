// Package game implements the authoritative player and world model:
// registration, movement, combat, leveling, chat, and the invariants
// that must hold after every accepted operation. Nothing in this
// package is safe for concurrent mutation — by design, only the single
// event-loop goroutine that owns a State ever calls its methods.
package game

import (
	"time"

	"github.com/google/uuid"
	"github.com/nymquest/nymquest/internal/transport"
	"github.com/nymquest/nymquest/internal/worldlore"
)

// AttackCooldown is the minimum interval between two attacks from the
// same player.
const AttackCooldown = 3 * time.Second

// Player is the server's authoritative record for one connected
// identity. InternalID is never transmitted on the wire.
type Player struct {
	InternalID  uuid.UUID
	DisplayID   string
	Name        string
	Faction     worldlore.Faction
	X, Y        float64
	HP, HPMax   int
	Level       int
	XP          int
	LastAttackAt time.Time
	HasAttacked  bool

	LastInboundAt time.Time
	Tag           transport.Tag
}

// HPMaxForLevel computes hp_max = 100 + 5*(level-1).
func HPMaxForLevel(level int) int {
	return 100 + 5*(level-1)
}

// XPToNext computes the XP required to advance past level.
func XPToNext(level int) int {
	return level * 100
}

// NewPlayer creates a fresh level-1 player at the given spawn position.
func NewPlayer(displayID, name string, faction worldlore.Faction, tag transport.Tag, x, y float64) *Player {
	return &Player{
		InternalID: uuid.New(),
		DisplayID:  displayID,
		Name:       name,
		Faction:    faction,
		X:          x,
		Y:          y,
		HP:         HPMaxForLevel(1),
		HPMax:      HPMaxForLevel(1),
		Level:      1,
		XP:         0,
		Tag:        tag,
	}
}

// ApplyLevelUps applies the while-loop level-up rule: while xp is at
// least the threshold for the current level, consume it and level up,
// growing hp_max (and current hp) by 5 each time.
func (p *Player) ApplyLevelUps() (leveledUp bool, newLevel int) {
	for p.XP >= XPToNext(p.Level) {
		p.XP -= XPToNext(p.Level)
		p.Level++
		p.HPMax += 5
		p.HP += 5
		leveledUp = true
	}
	return leveledUp, p.Level
}

// Respawn restores full health at a new position, preserving level/xp.
func (p *Player) Respawn(x, y float64) {
	p.X, p.Y = x, y
	p.HP = p.HPMax
}
