// Package syncpeer implements the peer-to-peer sync state machine (C6):
// Hello/HelloAck handshake, per-filter RIBLT reconciliation with a
// full-exchange fallback, opsBatch delivery into the engine, and
// live subscriptions. It is transport- and codec-agnostic; cmd/treecrdtd
// supplies the one concrete Transport this module ships (gorilla/websocket).
package syncpeer

import "context"

// Transport is the abstract duplex message channel a Peer runs over. The
// concrete WebSocket/BroadcastChannel/in-memory implementations are out of
// scope for this package per the wire contract; cmd/treecrdtd wires the
// one gorilla/websocket adapter needed to run the CLI surface end to end.
type Transport interface {
	Send(ctx context.Context, data []byte) error
	Recv(ctx context.Context) ([]byte, error)
	Close() error
}
