// Package transport defines the abstract send/recv contract the rest of
// this codebase is built against. The production implementation is an
// external mix-network client; this package ships only the
// implementations needed for local development and tests (Loopback,
// WebSocket and WebSocketClient).
package transport

import "context"

// Tag is an opaque handle identifying a return path. It carries no
// identity information beyond what the underlying transport assigns.
type Tag string

// Transport is the abstract mix-network-shaped channel every component
// above it is written against: send bytes to a tag, receive the next
// (tag, bytes) pair, learn the local address once bound, and close.
type Transport interface {
	Send(tag Tag, payload []byte) error
	Recv(ctx context.Context) (Tag, []byte, error)
	LocalAddress() string
	Close() error
}
