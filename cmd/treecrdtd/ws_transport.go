package main

import (
	"context"

	"github.com/gorilla/websocket"
)

// wsTransport adapts a *websocket.Conn to syncpeer.Transport, the one
// concrete transport this module ships per spec §1 (the concrete network
// transport otherwise stays an external collaborator).
type wsTransport struct {
	conn *websocket.Conn
}

func (t *wsTransport) Send(ctx context.Context, data []byte) error {
	return t.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (t *wsTransport) Recv(ctx context.Context) ([]byte, error) {
	_, data, err := t.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (t *wsTransport) Close() error {
	return t.conn.Close()
}
