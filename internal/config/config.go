// Package config loads the frozen configuration record every other
// package is constructed from. The only environment variables read
// outside this package are the discovery file override (read by
// internal/discovery) and the log file path and master secret (read by
// the cmd binaries).
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the full set of environment-tunable knobs. It is loaded once
// at process start and passed by value into constructors; no field is
// mutated after Load returns.
type Config struct {
	MessageRateLimit   float64
	MessageBurstSize   int
	EnableServerPacing bool
	EnableClientPacing bool
	ProcessingInterval time.Duration
	ProcessingJitterPct int

	ReplayWindowSize        int
	ReplayAdaptive          bool
	ReplayMinWindow         int
	ReplayMaxWindow         int
	ReplayAdjustmentCooldown time.Duration

	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	ReapInterval      time.Duration

	StateDirectory     string
	StateFilename      string
	DisablePersistence bool

	MovementSpeed         float64
	PlayerCollisionRadius float64
	WorldMinX             float64
	WorldMaxX             float64
	WorldMinY             float64
	WorldMaxY             float64

	ServerAddressFile string

	SuspectEnvelopeErrorThreshold int
}

// Default returns the configuration with every spec-mandated default
// applied, matching original_source/server/src/config.rs's defaults.
func Default() Config {
	return Config{
		MessageRateLimit:    10.0,
		MessageBurstSize:    20,
		EnableServerPacing:  false,
		EnableClientPacing:  true,
		ProcessingInterval:  100 * time.Millisecond,
		ProcessingJitterPct: 25,

		ReplayWindowSize:         64,
		ReplayAdaptive:           true,
		ReplayMinWindow:          32,
		ReplayMaxWindow:          96,
		ReplayAdjustmentCooldown: 60 * time.Second,

		HeartbeatInterval: 30 * time.Second,
		HeartbeatTimeout:  90 * time.Second,
		ReapInterval:      15 * time.Second,

		StateFilename: "game_state.json",

		MovementSpeed:         14.0,
		PlayerCollisionRadius: 7.0,
		WorldMinX:             -100,
		WorldMaxX:             100,
		WorldMinY:             -100,
		WorldMaxY:             100,

		SuspectEnvelopeErrorThreshold: 20,
	}
}

// Load reads Config from the environment, starting from Default and
// overriding any field whose env var is set and valid. It validates
// eagerly and returns an error describing the first invalid value found.
func Load() (Config, error) {
	cfg := Default()

	if err := floatVar("NYMQUEST_MESSAGE_RATE_LIMIT", &cfg.MessageRateLimit); err != nil {
		return cfg, err
	}
	if err := intVar("NYMQUEST_MESSAGE_BURST_SIZE", &cfg.MessageBurstSize); err != nil {
		return cfg, err
	}
	if err := boolVar("NYMQUEST_ENABLE_MESSAGE_PROCESSING_PACING", &cfg.EnableServerPacing); err != nil {
		return cfg, err
	}
	if err := durationMsVar("NYMQUEST_MESSAGE_PROCESSING_INTERVAL_MS", &cfg.ProcessingInterval); err != nil {
		return cfg, err
	}
	if err := intVar("NYMQUEST_MESSAGE_PROCESSING_JITTER_PERCENT", &cfg.ProcessingJitterPct); err != nil {
		return cfg, err
	}
	if err := intVar("NYMQUEST_REPLAY_PROTECTION_WINDOW_SIZE", &cfg.ReplayWindowSize); err != nil {
		return cfg, err
	}
	if err := boolVar("NYMQUEST_REPLAY_PROTECTION_ADAPTIVE", &cfg.ReplayAdaptive); err != nil {
		return cfg, err
	}
	if err := intVar("NYMQUEST_REPLAY_PROTECTION_MIN_WINDOW", &cfg.ReplayMinWindow); err != nil {
		return cfg, err
	}
	if err := intVar("NYMQUEST_REPLAY_PROTECTION_MAX_WINDOW", &cfg.ReplayMaxWindow); err != nil {
		return cfg, err
	}
	if err := durationSecVar("NYMQUEST_REPLAY_PROTECTION_ADJUSTMENT_COOLDOWN", &cfg.ReplayAdjustmentCooldown); err != nil {
		return cfg, err
	}
	if err := durationSecVar("NYMQUEST_HEARTBEAT_INTERVAL_SECONDS", &cfg.HeartbeatInterval); err != nil {
		return cfg, err
	}
	if err := durationSecVar("NYMQUEST_HEARTBEAT_TIMEOUT_SECONDS", &cfg.HeartbeatTimeout); err != nil {
		return cfg, err
	}
	if err := durationSecVar("NYMQUEST_REAP_INTERVAL_SECONDS", &cfg.ReapInterval); err != nil {
		return cfg, err
	}
	if v, ok := os.LookupEnv("NYMQUEST_STATE_DIRECTORY"); ok {
		cfg.StateDirectory = v
	}
	if v, ok := os.LookupEnv("NYMQUEST_STATE_FILENAME"); ok {
		cfg.StateFilename = v
	}
	if err := boolVar("NYMQUEST_DISABLE_PERSISTENCE", &cfg.DisablePersistence); err != nil {
		return cfg, err
	}
	if err := floatVar("NYMQUEST_MOVEMENT_SPEED", &cfg.MovementSpeed); err != nil {
		return cfg, err
	}
	if err := floatVar("NYMQUEST_PLAYER_COLLISION_RADIUS", &cfg.PlayerCollisionRadius); err != nil {
		return cfg, err
	}
	if err := floatVar("NYMQUEST_WORLD_MIN_X", &cfg.WorldMinX); err != nil {
		return cfg, err
	}
	if err := floatVar("NYMQUEST_WORLD_MAX_X", &cfg.WorldMaxX); err != nil {
		return cfg, err
	}
	if err := floatVar("NYMQUEST_WORLD_MIN_Y", &cfg.WorldMinY); err != nil {
		return cfg, err
	}
	if err := floatVar("NYMQUEST_WORLD_MAX_Y", &cfg.WorldMaxY); err != nil {
		return cfg, err
	}
	if v, ok := os.LookupEnv("NYMQUEST_SERVER_ADDRESS_FILE"); ok {
		cfg.ServerAddressFile = v
	}
	if err := intVar("NYMQUEST_SUSPECT_ENVELOPE_ERROR_THRESHOLD", &cfg.SuspectEnvelopeErrorThreshold); err != nil {
		return cfg, err
	}

	return cfg, cfg.validate()
}

func (c Config) validate() error {
	if c.MessageRateLimit <= 0 {
		return fmt.Errorf("config: message rate limit must be positive, got %v", c.MessageRateLimit)
	}
	if c.ReplayMinWindow < 16 || c.ReplayMinWindow > 128 {
		return fmt.Errorf("config: replay min window out of range [16,128]: %d", c.ReplayMinWindow)
	}
	if c.ReplayMaxWindow < c.ReplayMinWindow {
		return fmt.Errorf("config: replay max window %d below min window %d", c.ReplayMaxWindow, c.ReplayMinWindow)
	}
	if c.ProcessingJitterPct < 0 || c.ProcessingJitterPct > 100 {
		return fmt.Errorf("config: processing jitter percent out of range [0,100]: %d", c.ProcessingJitterPct)
	}
	if c.ReapInterval <= 0 {
		return fmt.Errorf("config: reap interval must be positive, got %v", c.ReapInterval)
	}
	if c.WorldMaxX <= c.WorldMinX || c.WorldMaxY <= c.WorldMinY {
		return fmt.Errorf("config: world bounds degenerate: x[%v,%v] y[%v,%v]", c.WorldMinX, c.WorldMaxX, c.WorldMinY, c.WorldMaxY)
	}
	return nil
}

func floatVar(key string, dst *float64) error {
	v, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	*dst = f
	return nil
}

func intVar(key string, dst *int) error {
	v, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	*dst = n
	return nil
}

func boolVar(key string, dst *bool) error {
	v, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	*dst = b
	return nil
}

func durationMsVar(key string, dst *time.Duration) error {
	v, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	*dst = time.Duration(n) * time.Millisecond
	return nil
}

func durationSecVar(key string, dst *time.Duration) error {
	v, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	*dst = time.Duration(n) * time.Second
	return nil
}
