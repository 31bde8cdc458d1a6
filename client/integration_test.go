package client_test

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/nymquest/nymquest/client"
	"github.com/nymquest/nymquest/internal/config"
	"github.com/nymquest/nymquest/internal/game"
	"github.com/nymquest/nymquest/internal/transport"
	"github.com/nymquest/nymquest/server"
)

func TestClientRegistersAgainstRealServer(t *testing.T) {
	cfg := config.Default()
	cfg.HeartbeatInterval = time.Hour

	world := game.DefaultWorld()
	serverTr, clientTr := transport.NewLoopbackPair("server", "client")

	secret := []byte("shared-master-secret")
	srv, err := server.New(cfg, world, serverTr, zap.NewNop().Sugar(), secret, nil)
	if err != nil {
		t.Fatalf("server.New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Run(ctx)

	c, err := client.New(cfg, clientTr, secret)
	if err != nil {
		t.Fatalf("client.New: %v", err)
	}

	regCtx, regCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer regCancel()
	resp, err := c.Register(regCtx, "server", "IntegrationAlice", "Nyms")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if resp.DisplayID == "" {
		t.Fatal("expected non-empty display id")
	}
	if c.DisplayID != resp.DisplayID {
		t.Errorf("client.DisplayID = %s, want %s", c.DisplayID, resp.DisplayID)
	}
}
