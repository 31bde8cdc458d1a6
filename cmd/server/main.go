// Command server runs the authoritative NymQuest game server: it reads
// its configuration from the environment, binds a transport, publishes
// its address for discovery, and runs until SIGINT/SIGTERM triggers a
// graceful shutdown.
package main

import (
	"context"
	"crypto/rand"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/nymquest/nymquest/internal/config"
	"github.com/nymquest/nymquest/internal/discovery"
	"github.com/nymquest/nymquest/internal/game"
	"github.com/nymquest/nymquest/internal/logging"
	"github.com/nymquest/nymquest/internal/persistence"
	"github.com/nymquest/nymquest/internal/transport"
	"github.com/nymquest/nymquest/server"
)

const defaultListenAddr = "127.0.0.1:7777"
const defaultWSPath = "/nymquest"

func main() {
	app := &cli.App{
		Name:  "nymquest-server",
		Usage: "run the authoritative NymQuest game server",
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run(*cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logPath := os.Getenv("NYMQUEST_LOG_FILE")
	if logPath == "" {
		logPath = "nymquest-server.log"
	}
	log, sync, err := logging.New(logPath)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer sync()

	masterSecret, err := loadMasterSecret()
	if err != nil {
		return fmt.Errorf("load master secret: %w", err)
	}

	world := game.World{
		MinX: cfg.WorldMinX, MaxX: cfg.WorldMaxX,
		MinY: cfg.WorldMinY, MaxY: cfg.WorldMaxY,
		Step:            cfg.MovementSpeed,
		CollisionRadius: cfg.PlayerCollisionRadius,
		AttackRange:     28.0,
		CritProb:        0.15,
		BaseDamage:      10,
	}

	var store *persistence.Store
	if !cfg.DisablePersistence {
		dir := cfg.StateDirectory
		if dir == "" {
			dir, err = persistence.DefaultDirectory()
			if err != nil {
				return fmt.Errorf("resolve state directory: %w", err)
			}
		}
		store = persistence.New(dir, cfg.StateFilename)
	}

	tr := transport.NewWebSocket(defaultListenAddr, defaultWSPath)
	srv, err := server.New(cfg, world, tr, log, masterSecret, store)
	if err != nil {
		return fmt.Errorf("construct server: %w", err)
	}

	if err := discovery.PublishAddress(tr.LocalAddress()); err != nil {
		log.Warnw("failed to publish discovery address", "err", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := tr.ListenAndServe(); err != nil {
			log.Infow("transport listener stopped", "err", err)
		}
	}()

	log.Infow("server starting", "addr", tr.LocalAddress())
	if err := srv.Run(ctx); err != nil {
		return fmt.Errorf("run server: %w", err)
	}
	log.Infow("server shut down cleanly")
	return nil
}

func loadMasterSecret() ([]byte, error) {
	if v := os.Getenv("NYMQUEST_MASTER_SECRET"); v != "" {
		return []byte(v), nil
	}
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, err
	}
	return secret, nil
}
