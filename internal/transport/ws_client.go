package transport

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"
)

// WebSocketClient is the dialer-side counterpart to WebSocket: it holds
// one connection to a single server address and treats every inbound
// frame as coming from serverTag, the only peer it can reach.
type WebSocketClient struct {
	serverTag Tag
	conn      *websocket.Conn

	mu     sync.Mutex
	closed bool

	inbox chan inbound
	done  chan struct{}
}

// DialWebSocket connects to a server started with NewWebSocket/ListenAndServe.
func DialWebSocket(ctx context.Context, addr, path string, serverTag Tag) (*WebSocketClient, error) {
	u := url.URL{Scheme: "ws", Host: addr, Path: path}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", u.String(), err)
	}
	c := &WebSocketClient{
		serverTag: serverTag,
		conn:      conn,
		inbox:     make(chan inbound, 256),
		done:      make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *WebSocketClient) readLoop() {
	defer close(c.done)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		select {
		case c.inbox <- inbound{tag: c.serverTag, payload: data}:
		case <-c.done:
			return
		}
	}
}

func (c *WebSocketClient) Send(tag Tag, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("transport: client connection closed")
	}
	return c.conn.WriteMessage(websocket.BinaryMessage, payload)
}

func (c *WebSocketClient) Recv(ctx context.Context) (Tag, []byte, error) {
	select {
	case msg, ok := <-c.inbox:
		if !ok {
			return "", nil, errors.New("transport: client connection closed")
		}
		return msg.tag, msg.payload, nil
	case <-ctx.Done():
		return "", nil, ctx.Err()
	case <-c.done:
		return "", nil, errors.New("transport: client connection closed")
	}
}

func (c *WebSocketClient) LocalAddress() string { return string(c.serverTag) }

func (c *WebSocketClient) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	return c.conn.Close()
}
