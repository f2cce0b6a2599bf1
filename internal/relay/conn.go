// Package relay is the development signaling server: a local stand-in
// for the portal's realtime endpoint. It scopes clients to rooms,
// stamps chat messages and forwards call signals to the room's other
// member.
package relay

import (
	"errors"
	"sync"

	"github.com/gorilla/websocket"
)

var ErrBackpressure = errors.New("backpressure")

type wsConn struct {
	conn *websocket.Conn
	send chan []byte

	mu     sync.RWMutex
	closed bool
}

func (c *wsConn) TrySend(data []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- data:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *wsConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}
