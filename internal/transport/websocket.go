package transport

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocket is a concrete Transport implementation used for local
// development and integration testing: each accepted connection is
// assigned an opaque Tag in place of its network address, and frames
// are exchanged as binary websocket messages. It is not the production
// mix-network client; that remains an external collaborator.
type WebSocket struct {
	addr     string
	server   *http.Server
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[Tag]*wsConn

	inbox  chan inbound
	closed chan struct{}
}

type wsConn struct {
	tag  Tag
	conn *websocket.Conn
	send chan []byte
	die  chan struct{}
}

// NewWebSocket creates a server-side WebSocket transport listening at
// addr, upgrading connections on path.
func NewWebSocket(addr, path string) *WebSocket {
	w := &WebSocket{
		addr:  addr,
		conns: make(map[Tag]*wsConn),
		inbox: make(chan inbound, 1024),
		closed: make(chan struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	mux := http.NewServeMux()
	mux.HandleFunc(path, w.handleUpgrade)
	w.server = &http.Server{Addr: addr, Handler: mux}
	return w
}

// ListenAndServe starts accepting connections; it blocks until the
// server is closed.
func (w *WebSocket) ListenAndServe() error {
	return w.server.ListenAndServe()
}

func newTag() Tag {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return Tag(hex.EncodeToString(b))
}

func (w *WebSocket) handleUpgrade(resp http.ResponseWriter, req *http.Request) {
	conn, err := w.upgrader.Upgrade(resp, req, nil)
	if err != nil {
		return
	}
	c := &wsConn{
		tag:  newTag(),
		conn: conn,
		send: make(chan []byte, 64),
		die:  make(chan struct{}),
	}

	w.mu.Lock()
	w.conns[c.tag] = c
	w.mu.Unlock()

	go w.writePump(c)
	go w.readPump(c)
}

func (w *WebSocket) writePump(c *wsConn) {
	defer c.conn.Close()
	for {
		select {
		case msg := <-c.send:
			if err := c.conn.WriteMessage(websocket.BinaryMessage, msg); err != nil {
				return
			}
		case <-c.die:
			return
		}
	}
}

func (w *WebSocket) readPump(c *wsConn) {
	defer func() {
		w.mu.Lock()
		delete(w.conns, c.tag)
		w.mu.Unlock()
		close(c.die)
		c.conn.Close()
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		select {
		case w.inbox <- inbound{tag: c.tag, payload: data}:
		case <-w.closed:
			return
		}
	}
}

// Send enqueues payload for delivery to tag, dropping it if the
// connection's outbound buffer is full or the tag is unknown.
func (w *WebSocket) Send(tag Tag, payload []byte) error {
	w.mu.Lock()
	c, ok := w.conns[tag]
	w.mu.Unlock()
	if !ok {
		return errors.New("transport: unknown tag")
	}
	select {
	case c.send <- payload:
		return nil
	default:
		return errors.New("transport: send buffer full")
	}
}

// Recv blocks until the next inbound frame arrives, ctx is cancelled, or
// the transport is closed.
func (w *WebSocket) Recv(ctx context.Context) (Tag, []byte, error) {
	select {
	case msg, ok := <-w.inbox:
		if !ok {
			return "", nil, errors.New("transport: closed")
		}
		return msg.tag, msg.payload, nil
	case <-ctx.Done():
		return "", nil, ctx.Err()
	case <-w.closed:
		return "", nil, errors.New("transport: closed")
	}
}

func (w *WebSocket) LocalAddress() string { return w.addr }

func (w *WebSocket) Close() error {
	close(w.closed)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return w.server.Shutdown(ctx)
}
