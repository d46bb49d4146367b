// Package panel pushes session status to control-panel clients over
// websockets and guards the start action.
package panel

import (
	"errors"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/dkeye/Concierge/internal/core"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

type StatusConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func NewStatusConn(conn *websocket.Conn, buffer int) *StatusConn {
	return &StatusConn{conn: conn, send: make(chan core.Frame, buffer)}
}

func (c *StatusConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *StatusConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close()
	}
}
