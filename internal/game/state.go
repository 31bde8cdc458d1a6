package game

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nymquest/nymquest/internal/protocol"
	"github.com/nymquest/nymquest/internal/transport"
	"github.com/nymquest/nymquest/internal/worldlore"
)

var (
	ErrSessionConflict     = errors.New("game: session already has a live player")
	ErrNameTaken           = errors.New("game: name or display id already in use")
	ErrIncompatibleVersion = errors.New("game: client version range disjoint from server")
	ErrNoSuchTarget        = errors.New("game: no such target")
	ErrOnCooldown          = errors.New("game: attack on cooldown")
	ErrOutOfRange          = errors.New("game: target out of range")
	ErrBlocked             = errors.New("game: move blocked")
	ErrUnknownPlayer       = errors.New("game: unknown player")
	ErrInvalidChat         = errors.New("game: invalid chat text")
	ErrInvalidEmote        = errors.New("game: invalid emote kind")
)

const maxDisplayIDAttempts = 64
const maxSpawnAttempts = 64
const maxChatLength = 256

// displayAdjectives mirrors the original deployment's word pool for
// generating adjective-noun+digits display IDs.
var displayAdjectives = []string{
	"Hero", "Warrior", "Knight", "Scout", "Ranger", "Mage", "Nomad", "Shadow",
}

// Event is a broadcastable state change produced by a State operation.
type Event struct {
	Kind    protocol.Kind
	Payload any
}

// State is the authoritative game world: every live player, keyed by
// transport tag and by display ID. Only the owning event loop may call
// its methods; there is no internal locking.
type State struct {
	World World

	byTag       map[transport.Tag]*Player
	byDisplayID map[string]*Player
}

// NewState creates an empty authoritative state for the given world.
func NewState(w World) *State {
	return &State{
		World:       w,
		byTag:       make(map[transport.Tag]*Player),
		byDisplayID: make(map[string]*Player),
	}
}

// Players returns a snapshot slice of every live player, for broadcast
// and persistence.
func (s *State) Players() []*Player {
	out := make([]*Player, 0, len(s.byTag))
	for _, p := range s.byTag {
		out = append(out, p)
	}
	return out
}

// ByTag looks up the live player for a transport tag, if any.
func (s *State) ByTag(tag transport.Tag) (*Player, bool) {
	p, ok := s.byTag[tag]
	return p, ok
}

// ByDisplayID looks up a live player by its public display ID.
func (s *State) ByDisplayID(id string) (*Player, bool) {
	p, ok := s.byDisplayID[id]
	return p, ok
}

// PlayerViews returns the broadcastable view of every live player, used
// for both the full roster sent on registration and the periodic diff
// broadcast.
func (s *State) PlayerViews() []protocol.PlayerView {
	views := make([]protocol.PlayerView, 0, len(s.byTag))
	for _, p := range s.byTag {
		views = append(views, protocol.PlayerView{
			DisplayID: p.DisplayID,
			Faction:   string(p.Faction),
			X:         p.X,
			Y:         p.Y,
			HP:        p.HP,
			HPMax:     p.HPMax,
			Level:     p.Level,
		})
	}
	return views
}

func (s *State) occupiedPositions() []struct{ X, Y float64 } {
	out := make([]struct{ X, Y float64 }, 0, len(s.byTag))
	for _, p := range s.byTag {
		out = append(out, struct{ X, Y float64 }{p.X, p.Y})
	}
	return out
}

func (s *State) generateDisplayID() (string, error) {
	for i := 0; i < maxDisplayIDAttempts; i++ {
		adj := displayAdjectives[cryptoIntn(len(displayAdjectives))]
		num := 100 + cryptoIntn(900)
		id := fmt.Sprintf("%s%03d", adj, num)
		if _, taken := s.byDisplayID[id]; !taken {
			return id, nil
		}
	}
	return "", ErrNameTaken
}

// Register implements §4.7's Register operation.
func (s *State) Register(tag transport.Tag, name string, faction worldlore.Faction, clientMin, clientCurrent uint16, serverMin, serverCurrent uint16) (*Player, protocol.RegisterResponse, error) {
	if _, live := s.byTag[tag]; live {
		return nil, protocol.RegisterResponse{}, ErrSessionConflict
	}

	name = strings.TrimSpace(name)
	if name == "" || len([]rune(name)) > 32 || strings.ContainsAny(name, " \t\n\r") {
		return nil, protocol.RegisterResponse{}, fmt.Errorf("%w: invalid name", ErrNameTaken)
	}
	for _, p := range s.byTag {
		if p.Name == name {
			return nil, protocol.RegisterResponse{}, ErrNameTaken
		}
	}

	if clientCurrent < serverMin || clientMin > serverCurrent {
		return nil, protocol.RegisterResponse{}, ErrIncompatibleVersion
	}
	negotiated := clientCurrent
	if serverCurrent < negotiated {
		negotiated = serverCurrent
	}

	if !faction.Valid() {
		faction = worldlore.FactionIndependent
	}

	displayID, err := s.generateDisplayID()
	if err != nil {
		return nil, protocol.RegisterResponse{}, err
	}

	x, y := s.World.RandomFreePosition(s.occupiedPositions(), maxSpawnAttempts)
	p := NewPlayer(displayID, name, faction, tag, x, y)
	p.LastInboundAt = time.Now()

	s.byTag[tag] = p
	s.byDisplayID[displayID] = p

	resp := protocol.RegisterResponse{
		DisplayID:         displayID,
		NegotiatedVersion: negotiated,
		World: protocol.WorldConfig{
			MinX: s.World.MinX, MaxX: s.World.MaxX,
			MinY: s.World.MinY, MaxY: s.World.MaxY,
			FactionDescriptions: worldlore.FactionDescriptions(),
			RegionDescriptions:  worldlore.RegionDescriptions(),
		},
	}
	return p, resp, nil
}

// Move implements §4.7's Move operation.
func (s *State) Move(tag transport.Tag, dir protocol.Direction) (Event, error) {
	p, ok := s.byTag[tag]
	if !ok {
		return Event{}, ErrUnknownPlayer
	}

	dx, dy, ok := dir.Unit()
	if !ok {
		return Event{}, fmt.Errorf("%w: unrecognized direction", ErrBlocked)
	}

	candX, candY := s.World.Clamp(p.X+dx*s.World.Step, p.Y+dy*s.World.Step)

	for other, op := range s.byTag {
		if other == tag {
			continue
		}
		if Distance(candX, candY, op.X, op.Y) < s.World.CollisionRadius {
			return Event{}, ErrBlocked
		}
	}

	p.X, p.Y = candX, candY
	return Event{Kind: protocol.KindPlayerMoved, Payload: protocol.PlayerMoved{
		DisplayID: p.DisplayID, X: p.X, Y: p.Y,
	}}, nil
}

// AttackOutcome is the full set of events one Attack call may produce.
type AttackOutcome struct {
	Resolved protocol.AttackResolved
	Defeated *protocol.PlayerDefeated
	LevelUp  *protocol.PlayerLevelUp
}

// Attack implements §4.7's Attack operation.
func (s *State) Attack(tag transport.Tag, targetDisplayID string, now time.Time) (AttackOutcome, error) {
	attacker, ok := s.byTag[tag]
	if !ok {
		return AttackOutcome{}, ErrUnknownPlayer
	}
	target, ok := s.byDisplayID[targetDisplayID]
	if !ok {
		return AttackOutcome{}, ErrNoSuchTarget
	}
	if attacker.HasAttacked && now.Sub(attacker.LastAttackAt) < AttackCooldown {
		return AttackOutcome{}, ErrOnCooldown
	}
	if Distance(attacker.X, attacker.Y, target.X, target.Y) > s.World.AttackRange {
		return AttackOutcome{}, ErrOutOfRange
	}

	attacker.LastAttackAt = now
	attacker.HasAttacked = true

	crit := RollCrit(s.World.CritProb)
	damage := s.World.BaseDamage + 2*(attacker.Level-1)
	if crit {
		damage *= 2
	}
	if damage > target.HP {
		damage = target.HP
	}

	target.HP -= damage
	attacker.XP += damage

	outcome := AttackOutcome{
		Resolved: protocol.AttackResolved{
			AttackerDisplayID: attacker.DisplayID,
			TargetDisplayID:   target.DisplayID,
			Damage:            damage,
			Crit:              crit,
			TargetHP:          target.HP,
		},
	}

	if target.HP <= 0 {
		attacker.XP += 20
		x, y := s.World.RandomFreePosition(s.occupiedPositions(), maxSpawnAttempts)
		target.Respawn(x, y)
		defeated := protocol.PlayerDefeated{DisplayID: target.DisplayID}
		outcome.Defeated = &defeated
	}

	if leveled, newLevel := attacker.ApplyLevelUps(); leveled {
		lu := protocol.PlayerLevelUp{DisplayID: attacker.DisplayID, NewLevel: newLevel}
		outcome.LevelUp = &lu
	}

	return outcome, nil
}

// Chat implements §4.7's Chat operation.
func (s *State) Chat(tag transport.Tag, text string) (Event, error) {
	p, ok := s.byTag[tag]
	if !ok {
		return Event{}, ErrUnknownPlayer
	}
	if len([]rune(text)) == 0 || len([]rune(text)) > maxChatLength {
		return Event{}, ErrInvalidChat
	}
	return Event{Kind: protocol.KindChat, Payload: struct {
		FromDisplayID string `json:"from_display_id"`
		Text          string `json:"text"`
	}{p.DisplayID, text}}, nil
}

// Emote implements §4.7's Emote operation.
func (s *State) Emote(tag transport.Tag, kind protocol.EmoteKind) (Event, error) {
	p, ok := s.byTag[tag]
	if !ok {
		return Event{}, ErrUnknownPlayer
	}
	if !kind.Valid() {
		return Event{}, ErrInvalidEmote
	}
	return Event{Kind: protocol.KindEmote, Payload: struct {
		FromDisplayID string              `json:"from_display_id"`
		Kind          protocol.EmoteKind `json:"kind"`
	}{p.DisplayID, kind}}, nil
}

// HeartbeatResponse implements §4.7's HeartbeatResponse operation: it
// only bumps the liveness timestamp.
func (s *State) HeartbeatResponse(tag transport.Tag, now time.Time) error {
	p, ok := s.byTag[tag]
	if !ok {
		return ErrUnknownPlayer
	}
	p.LastInboundAt = now
	return nil
}

// Disconnect implements §4.7's Disconnect operation, removing the player
// and returning the broadcast event.
func (s *State) Disconnect(tag transport.Tag) (protocol.PlayerLeft, error) {
	p, ok := s.byTag[tag]
	if !ok {
		return protocol.PlayerLeft{}, ErrUnknownPlayer
	}
	delete(s.byTag, tag)
	delete(s.byDisplayID, p.DisplayID)
	return protocol.PlayerLeft{DisplayID: p.DisplayID}, nil
}

// CheckInvariants verifies the world invariants required to hold after
// every accepted operation (bounds, collision, unique display ids). It
// is intended for use from tests, not from the hot path.
func (s *State) CheckInvariants() error {
	seen := make(map[string]bool, len(s.byDisplayID))
	players := s.Players()
	for _, p := range players {
		if !s.World.InBounds(p.X, p.Y) {
			return fmt.Errorf("player %s out of bounds at (%v,%v)", p.DisplayID, p.X, p.Y)
		}
		if seen[p.DisplayID] {
			return fmt.Errorf("duplicate display id %s", p.DisplayID)
		}
		seen[p.DisplayID] = true
		if p.HP > p.HPMax {
			return fmt.Errorf("player %s hp %d exceeds hp_max %d", p.DisplayID, p.HP, p.HPMax)
		}
		if p.XP >= XPToNext(p.Level) {
			return fmt.Errorf("player %s has unconsumed level-up: xp=%d threshold=%d", p.DisplayID, p.XP, XPToNext(p.Level))
		}
	}
	for i := range players {
		for j := i + 1; j < len(players); j++ {
			if Distance(players[i].X, players[i].Y, players[j].X, players[j].Y) < s.World.CollisionRadius {
				return fmt.Errorf("players %s and %s violate collision radius", players[i].DisplayID, players[j].DisplayID)
			}
		}
	}
	return nil
}
