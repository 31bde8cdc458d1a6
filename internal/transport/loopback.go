package transport

import (
	"context"
	"errors"
	"sync"
)

// inbound is one received frame, queued for Recv.
type inbound struct {
	tag     Tag
	payload []byte
}

// Loopback is an in-memory Transport pair, created by NewLoopbackPair.
// It is used by tests in place of a real mix network; the two CLI
// binaries use the WebSocket transports instead.
type Loopback struct {
	addr string

	mu     sync.Mutex
	peer   *Loopback
	inbox  chan inbound
	closed bool
}

// NewLoopbackPair creates two connected Loopback transports, addressed
// by the given local addresses.
func NewLoopbackPair(addrA, addrB string) (*Loopback, *Loopback) {
	a := &Loopback{addr: addrA, inbox: make(chan inbound, 256)}
	b := &Loopback{addr: addrB, inbox: make(chan inbound, 256)}
	a.peer = b
	b.peer = a
	return a, b
}

func (l *Loopback) Send(tag Tag, payload []byte) error {
	l.mu.Lock()
	closed := l.closed
	peer := l.peer
	l.mu.Unlock()
	if closed || peer == nil {
		return errors.New("transport: loopback closed")
	}

	cp := make([]byte, len(payload))
	copy(cp, payload)
	select {
	case peer.inbox <- inbound{tag: tag, payload: cp}:
		return nil
	default:
		return errors.New("transport: loopback peer inbox full")
	}
}

func (l *Loopback) Recv(ctx context.Context) (Tag, []byte, error) {
	select {
	case msg, ok := <-l.inbox:
		if !ok {
			return "", nil, errors.New("transport: loopback closed")
		}
		return msg.tag, msg.payload, nil
	case <-ctx.Done():
		return "", nil, ctx.Err()
	}
}

func (l *Loopback) LocalAddress() string { return l.addr }

func (l *Loopback) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	close(l.inbox)
	return nil
}
