// Command client connects a player to a NymQuest server discovered via
// the shared address file and runs a minimal line-oriented session:
// register, then read Move/Attack/Chat/Emote/quit commands from stdin.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/nymquest/nymquest/client"
	"github.com/nymquest/nymquest/internal/config"
	"github.com/nymquest/nymquest/internal/discovery"
	"github.com/nymquest/nymquest/internal/protocol"
	"github.com/nymquest/nymquest/internal/transport"
)

const defaultWSPath = "/nymquest"
const serverTag transport.Tag = "server"

func main() {
	app := &cli.App{
		Name:  "nymquest-client",
		Usage: "connect to a NymQuest server and play",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "name", Required: true, Usage: "display name to register with"},
			&cli.StringFlag{Name: "faction", Value: "Wanderers", Usage: "faction to join"},
			&cli.StringFlag{Name: "addr", Usage: "server address, overriding discovery"},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	addr := c.String("addr")
	if addr == "" {
		var err error
		addr, err = discovery.ReadAddress()
		if err != nil {
			return fmt.Errorf("discover server address: %w", err)
		}
	}

	cfg := config.Default()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dialCtx, dialCancel := context.WithTimeout(ctx, 5*time.Second)
	defer dialCancel()
	tr, err := transport.DialWebSocket(dialCtx, addr, defaultWSPath, serverTag)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", addr, err)
	}
	defer tr.Close()

	secret, err := loadSharedSecret()
	if err != nil {
		return err
	}

	cl, err := client.New(cfg, tr, secret)
	if err != nil {
		return fmt.Errorf("construct client: %w", err)
	}

	regCtx, regCancel := context.WithTimeout(ctx, 5*time.Second)
	defer regCancel()
	resp, err := cl.Register(regCtx, serverTag, c.String("name"), c.String("faction"))
	if err != nil {
		return fmt.Errorf("register: %w", err)
	}
	fmt.Printf("registered as %s (protocol v%d)\n", resp.DisplayID, resp.NegotiatedVersion)

	go printInbound(ctx, cl)
	return readCommands(ctx, cl)
}

func loadSharedSecret() ([]byte, error) {
	v := os.Getenv("NYMQUEST_MASTER_SECRET")
	if v == "" {
		return nil, fmt.Errorf("client: NYMQUEST_MASTER_SECRET must be set to the server's shared secret")
	}
	return []byte(v), nil
}

func printInbound(ctx context.Context, cl *client.Client) {
	for {
		msg, err := cl.Recv(ctx)
		if err != nil {
			return
		}
		fmt.Printf("<< %s %s\n", msg.Kind, string(msg.Payload))
	}
}

// readCommands implements the line-oriented command surface: move
// <dir>, attack <id>, chat <text>, emote <kind>, quit. A fuller
// terminal UI is an external collaborator; this loop exists so the
// binary is independently usable for manual testing.
func readCommands(ctx context.Context, cl *client.Client) error {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		cmd := strings.ToLower(fields[0])

		switch cmd {
		case "quit", "exit":
			_ = cl.Send(ctx, serverTag, protocol.KindDisconnect, protocol.Disconnect{})
			return nil
		case "move":
			if len(fields) < 2 {
				fmt.Println("usage: move <N|S|E|W|NE|NW|SE|SW>")
				continue
			}
			dir := protocol.Direction(strings.ToUpper(fields[1]))
			if err := cl.Send(ctx, serverTag, protocol.KindMove, protocol.Move{Direction: dir}); err != nil {
				fmt.Println("error:", err)
			}
		case "attack":
			if len(fields) < 2 {
				fmt.Println("usage: attack <display_id>")
				continue
			}
			if err := cl.Send(ctx, serverTag, protocol.KindAttack, protocol.Attack{TargetDisplayID: fields[1]}); err != nil {
				fmt.Println("error:", err)
			}
		case "chat":
			text := strings.TrimSpace(strings.TrimPrefix(line, fields[0]))
			if err := cl.Send(ctx, serverTag, protocol.KindChat, protocol.Chat{Text: text}); err != nil {
				fmt.Println("error:", err)
			}
		case "emote":
			if len(fields) < 2 {
				fmt.Println("usage: emote <wave|dance|taunt|bow|cheer>")
				continue
			}
			kind := protocol.EmoteKind(strings.ToLower(fields[1]))
			if !kind.Valid() {
				fmt.Println("unknown emote:", fields[1])
				continue
			}
			if err := cl.Send(ctx, serverTag, protocol.KindEmote, protocol.Emote{Kind: kind}); err != nil {
				fmt.Println("error:", err)
			}
		default:
			fmt.Println("unknown command:", cmd)
		}
	}
	return scanner.Err()
}
