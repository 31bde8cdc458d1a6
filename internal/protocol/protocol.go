// Package protocol defines the typed payload union carried inside every
// envelope and the priority each payload kind is assigned for pacing.
package protocol

// Kind names a payload type. The wire representation tags each payload
// with its Kind so the receiver can decode into the right Go type.
type Kind string

const (
	KindRegister          Kind = "Register"
	KindRegisterResponse  Kind = "RegisterResponse"
	KindMove              Kind = "Move"
	KindAttack            Kind = "Attack"
	KindChat              Kind = "Chat"
	KindEmote             Kind = "Emote"
	KindHeartbeat         Kind = "Heartbeat"
	KindHeartbeatResponse Kind = "HeartbeatResponse"
	KindGameStateFull     Kind = "GameStateFull"
	KindGameStateDiff     Kind = "GameStateDiff"
	KindErrorMessage      Kind = "ErrorMessage"
	KindDisconnect        Kind = "Disconnect"
	KindServerShutdown    Kind = "ServerShutdown"
	KindPlayerMoved       Kind = "PlayerMoved"
	KindPlayerLeft        Kind = "PlayerLeft"
	KindAttackResolved    Kind = "AttackResolved"
	KindPlayerDefeated    Kind = "PlayerDefeated"
	KindPlayerLevelUp     Kind = "PlayerLevelUp"
)

// Priority orders messages for pacing jitter, per the mapping each side's
// pacer uses: lower jitter budget for more time-sensitive kinds.
type Priority int

const (
	PriorityCritical Priority = iota // Disconnect, Ack-like control
	PriorityHigh                     // Register, Heartbeat
	PriorityMedium                   // Move, Attack
	PriorityLow                      // Chat, Emote
)

// PriorityOf returns the pacing priority assigned to a payload kind.
func PriorityOf(k Kind) Priority {
	switch k {
	case KindDisconnect, KindServerShutdown, KindErrorMessage:
		return PriorityCritical
	case KindRegister, KindRegisterResponse, KindHeartbeat, KindHeartbeatResponse:
		return PriorityHigh
	case KindMove, KindAttack, KindPlayerMoved, KindAttackResolved,
		KindPlayerDefeated, KindPlayerLevelUp, KindGameStateFull, KindGameStateDiff:
		return PriorityMedium
	case KindChat, KindEmote, KindPlayerLeft:
		return PriorityLow
	default:
		return PriorityMedium
	}
}

// TTLClass groups payload kinds by their envelope expiration budget.
type TTLClass int

const (
	TTLCritical TTLClass = iota // 10s
	TTLGameplay                 // 30s
	TTLSocial                   // 60s
)

// TTLClassOf returns the expiration class a payload kind belongs to.
func TTLClassOf(k Kind) TTLClass {
	switch k {
	case KindDisconnect, KindServerShutdown, KindErrorMessage, KindHeartbeat, KindHeartbeatResponse:
		return TTLCritical
	case KindChat, KindEmote, KindPlayerLeft:
		return TTLSocial
	default:
		return TTLGameplay
	}
}

// Direction is one of the eight compass movement directions.
type Direction string

const (
	DirNorth     Direction = "N"
	DirSouth     Direction = "S"
	DirEast      Direction = "E"
	DirWest      Direction = "W"
	DirNorthEast Direction = "NE"
	DirNorthWest Direction = "NW"
	DirSouthEast Direction = "SE"
	DirSouthWest Direction = "SW"
)

// Unit returns the unit vector for a Direction, or (0,0,false) if the
// direction string is not one of the eight recognized values.
func (d Direction) Unit() (dx, dy float64, ok bool) {
	const diag = 0.70710678118654752440 // 1/sqrt(2)
	switch d {
	case DirNorth:
		return 0, 1, true
	case DirSouth:
		return 0, -1, true
	case DirEast:
		return 1, 0, true
	case DirWest:
		return -1, 0, true
	case DirNorthEast:
		return diag, diag, true
	case DirNorthWest:
		return -diag, diag, true
	case DirSouthEast:
		return diag, -diag, true
	case DirSouthWest:
		return -diag, -diag, true
	default:
		return 0, 0, false
	}
}

// EmoteKind enumerates the closed set of emotes the distilled spec allows.
type EmoteKind string

const (
	EmoteWave  EmoteKind = "wave"
	EmoteDance EmoteKind = "dance"
	EmoteTaunt EmoteKind = "taunt"
	EmoteBow   EmoteKind = "bow"
	EmoteCheer EmoteKind = "cheer"
)

var validEmotes = map[EmoteKind]bool{
	EmoteWave: true, EmoteDance: true, EmoteTaunt: true, EmoteBow: true, EmoteCheer: true,
}

// Valid reports whether kind is one of the closed set of recognized emotes.
func (k EmoteKind) Valid() bool { return validEmotes[k] }

// ErrorKind enumerates the coarse, identity-free error categories a
// server reports back to an originating session.
type ErrorKind string

const (
	ErrorAuthFailed          ErrorKind = "authentication_failed"
	ErrorRateLimited         ErrorKind = "rate_limited"
	ErrorOutOfRange          ErrorKind = "out_of_range"
	ErrorOnCooldown          ErrorKind = "on_cooldown"
	ErrorNameTaken           ErrorKind = "name_taken"
	ErrorNoSuchTarget        ErrorKind = "no_such_target"
	ErrorSessionConflict     ErrorKind = "session_conflict"
	ErrorIncompatibleVersion ErrorKind = "incompatible_version"
	ErrorBlocked             ErrorKind = "blocked"
)

// Payload types. Each carries exactly the fields named in the data model;
// JSON tags keep the wire representation stable and human-inspectable.

type Register struct {
	Name          string `json:"name"`
	Faction       string `json:"faction"`
	MinVersion    uint16 `json:"min_version"`
	CurrentVersion uint16 `json:"current_version"`
}

type WorldConfig struct {
	MinX                float64           `json:"min_x"`
	MaxX                float64           `json:"max_x"`
	MinY                float64           `json:"min_y"`
	MaxY                float64           `json:"max_y"`
	FactionDescriptions map[string]string `json:"faction_descriptions"`
	RegionDescriptions  map[string]string `json:"region_descriptions"`
}

type RegisterResponse struct {
	DisplayID         string      `json:"display_id"`
	NegotiatedVersion uint16      `json:"negotiated_version"`
	World             WorldConfig `json:"world_config"`
}

type Move struct {
	Direction Direction `json:"direction"`
}

type Attack struct {
	TargetDisplayID string `json:"target_display_id"`
}

type Chat struct {
	Text string `json:"text"`
}

type Emote struct {
	Kind EmoteKind `json:"kind"`
}

type Heartbeat struct{}

type HeartbeatResponse struct{}

type PlayerView struct {
	DisplayID string  `json:"display_id"`
	Faction   string  `json:"faction"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	HP        int     `json:"hp"`
	HPMax     int     `json:"hp_max"`
	Level     int     `json:"level"`
}

type GameStateFull struct {
	Players []PlayerView `json:"players"`
}

type GameStateDiff struct {
	Updated []PlayerView `json:"updated"`
	Removed []string     `json:"removed"`
}

type ErrorMessage struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

type Disconnect struct{}

type ServerShutdown struct {
	CountdownSecs int `json:"countdown_secs"`
}

type PlayerMoved struct {
	DisplayID string  `json:"display_id"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
}

type PlayerLeft struct {
	DisplayID string `json:"display_id"`
}

type AttackResolved struct {
	AttackerDisplayID string `json:"attacker_display_id"`
	TargetDisplayID   string `json:"target_display_id"`
	Damage            int    `json:"damage"`
	Crit              bool   `json:"crit"`
	TargetHP          int    `json:"target_hp"`
}

type PlayerDefeated struct {
	DisplayID string `json:"display_id"`
}

type PlayerLevelUp struct {
	DisplayID string `json:"display_id"`
	NewLevel  int    `json:"new_level"`
}
