// Package persistence implements crash-safe snapshot save/load for the
// authoritative game state: atomic tmp-write-fsync-rename, backup
// rotation, schema-fingerprint mismatch handling, and stale-player
// dropping on load.
package persistence

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/nymquest/nymquest/internal/game"
)

const SchemaVersion = 1

// StaleAfter is how long a persisted player's last-seen timestamp may
// lag before it is dropped on load.
const StaleAfter = 5 * time.Minute

// DefaultDirectory returns the OS-standard data directory snapshots are
// stored in when no explicit directory is configured, the same
// os.UserConfigDir-based convention internal/discovery uses for the
// server address file.
func DefaultDirectory() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		home, herr := os.UserHomeDir()
		if herr != nil {
			return "", fmt.Errorf("persistence: cannot determine user data directory: %w", err)
		}
		base = home
	}
	dir := filepath.Join(base, "nymquest", "server")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("persistence: create data dir: %w", err)
	}
	return dir, nil
}

// PersistedPlayer mirrors the data-model's persisted snapshot entry.
// Transport tags and secrets are never included.
type PersistedPlayer struct {
	Name       string  `json:"name"`
	DisplayID  string  `json:"display_id"`
	Faction    string  `json:"faction"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	HP         int     `json:"hp"`
	HPMax      int     `json:"hp_max"`
	XP         int     `json:"xp"`
	Level      int     `json:"level"`
	LastSeenMs int64   `json:"last_seen_ms"`
}

// Snapshot is the full persisted file contents.
type Snapshot struct {
	SchemaVersion           int               `json:"schema_version"`
	WorldConfigFingerprint  string            `json:"world_config_fingerprint"`
	Players                 []PersistedPlayer `json:"players"`
}

// WorldFingerprint computes a stable fingerprint of the world config, so
// a snapshot taken under a different world shape can be detected and
// refused on load.
func WorldFingerprint(w game.World) string {
	h := sha256.New()
	fmt.Fprintf(h, "%v|%v|%v|%v|%v|%v", w.MinX, w.MaxX, w.MinY, w.MaxY, w.Step, w.CollisionRadius)
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// Store manages the three well-known files (target, .bak, .tmp) inside
// dir.
type Store struct {
	dir      string
	filename string
}

// New creates a Store rooted at dir using filename as the primary
// snapshot file name.
func New(dir, filename string) *Store {
	return &Store{dir: dir, filename: filename}
}

func (s *Store) targetPath() string { return filepath.Join(s.dir, s.filename) }
func (s *Store) bakPath() string    { return s.targetPath() + ".bak" }
func (s *Store) tmpPath() string    { return s.targetPath() + ".tmp" }

// Save atomically writes snap: serialize to .tmp, fsync, move the
// current target to .bak, then rename .tmp over the target.
func (s *Store) Save(snap Snapshot) error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("persistence: mkdir: %w", err)
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("persistence: marshal: %w", err)
	}

	tmp := s.tmpPath()
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("persistence: open tmp: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("persistence: write tmp: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("persistence: fsync tmp: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("persistence: close tmp: %w", err)
	}

	target := s.targetPath()
	if _, err := os.Stat(target); err == nil {
		if err := os.Rename(target, s.bakPath()); err != nil {
			return fmt.Errorf("persistence: rotate backup: %w", err)
		}
	}

	if err := os.Rename(tmp, target); err != nil {
		return fmt.Errorf("persistence: rename tmp over target: %w", err)
	}
	return nil
}

// Load reads the primary snapshot file, falling back to .bak if the
// primary is missing or fails to parse. It drops players whose
// LastSeenMs is older than StaleAfter relative to now, and clamps
// out-of-bounds positions into w.
func (s *Store) Load(w game.World, now time.Time) (Snapshot, error) {
	snap, err := readSnapshot(s.targetPath())
	if err != nil {
		snap, err = readSnapshot(s.bakPath())
		if err != nil {
			return Snapshot{}, fmt.Errorf("persistence: no readable snapshot: %w", err)
		}
	}

	staleBefore := now.Add(-StaleAfter).UnixMilli()
	kept := make([]PersistedPlayer, 0, len(snap.Players))
	for _, p := range snap.Players {
		if p.LastSeenMs < staleBefore {
			continue
		}
		p.X, p.Y = w.Clamp(p.X, p.Y)
		kept = append(kept, p)
	}
	snap.Players = kept
	return snap, nil
}

// LoadVerifyingSchema loads the snapshot and refuses it (archiving the
// file instead) if its world fingerprint does not match w's, per the
// schema-mismatch handling rule.
func (s *Store) LoadVerifyingSchema(w game.World, now time.Time) (Snapshot, error) {
	snap, err := s.Load(w, now)
	if err != nil {
		return Snapshot{}, err
	}
	want := WorldFingerprint(w)
	if snap.WorldConfigFingerprint != "" && snap.WorldConfigFingerprint != want {
		_ = s.archiveMismatched()
		return Snapshot{SchemaVersion: SchemaVersion, WorldConfigFingerprint: want}, nil
	}
	return snap, nil
}

func (s *Store) archiveMismatched() error {
	target := s.targetPath()
	if _, err := os.Stat(target); err != nil {
		return nil
	}
	return os.Rename(target, target+fmt.Sprintf(".mismatched.%d", time.Now().UnixNano()))
}

func readSnapshot(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, err
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// FromState converts live game state into a Snapshot for Save.
func FromState(s *game.State, fingerprint string, now time.Time) Snapshot {
	players := s.Players()
	out := make([]PersistedPlayer, 0, len(players))
	for _, p := range players {
		out = append(out, PersistedPlayer{
			Name:       p.Name,
			DisplayID:  p.DisplayID,
			Faction:    string(p.Faction),
			X:          p.X,
			Y:          p.Y,
			HP:         p.HP,
			HPMax:      p.HPMax,
			XP:         p.XP,
			Level:      p.Level,
			LastSeenMs: now.UnixMilli(),
		})
	}
	return Snapshot{
		SchemaVersion:          SchemaVersion,
		WorldConfigFingerprint: fingerprint,
		Players:                out,
	}
}
