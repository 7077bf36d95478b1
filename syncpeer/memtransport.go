package syncpeer

import (
	"context"
	"errors"
	"sync"
)

// ErrTransportClosed is returned by Send/Recv once Close has been called.
var ErrTransportClosed = errors.New("syncpeer: transport closed")

// MemTransport is an in-process Transport backed by a pair of channels,
// used by tests and by in-process peers that don't need a real network
// hop (spec's "in-memory transport" case alongside the WebSocket one).
type MemTransport struct {
	out chan []byte
	in  chan []byte

	closeOnce sync.Once
	closed    chan struct{}
}

// NewMemTransportPair returns two MemTransports wired to each other: a's
// Send feeds b's Recv and vice versa.
func NewMemTransportPair() (a, b *MemTransport) {
	ab := make(chan []byte, 64)
	ba := make(chan []byte, 64)
	a = &MemTransport{out: ab, in: ba, closed: make(chan struct{})}
	b = &MemTransport{out: ba, in: ab, closed: make(chan struct{})}
	return a, b
}

func (t *MemTransport) Send(ctx context.Context, data []byte) error {
	cp := append([]byte(nil), data...)
	select {
	case t.out <- cp:
		return nil
	case <-t.closed:
		return ErrTransportClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *MemTransport) Recv(ctx context.Context) ([]byte, error) {
	select {
	case data := <-t.in:
		return data, nil
	case <-t.closed:
		return nil, ErrTransportClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *MemTransport) Close() error {
	t.closeOnce.Do(func() { close(t.closed) })
	return nil
}
