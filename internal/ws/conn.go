package ws

import (
	"errors"
	"sync"
	"time"

	"codecollab/internal/core"
	"github.com/gorilla/websocket"
)

const (
	writeWait       = 10 * time.Second
	pongWait        = 60 * time.Second
	pingPeriod      = 25 * time.Second
	maxMessageBytes = 4 << 20
)

var errSendQueueFull = errors.New("send queue full")

// Conn adapts a websocket connection to core.Conn. Outbound messages go
// through a buffered queue drained by writeLoop.
type Conn struct {
	id     string
	conn   *websocket.Conn
	send   chan core.Envelope
	closed chan struct{}
	once   sync.Once
}

func NewConn(id string, conn *websocket.Conn, buffer int) *Conn {
	if buffer <= 0 {
		buffer = 256
	}
	return &Conn{
		id:     id,
		conn:   conn,
		send:   make(chan core.Envelope, buffer),
		closed: make(chan struct{}),
	}
}

func (c *Conn) ID() string { return c.id }

// Send never blocks. A peer that lets its queue fill up is closed rather
// than silently missing updates; the read loop then reports the disconnect.
func (c *Conn) Send(msg core.Envelope) error {
	select {
	case <-c.closed:
		return websocket.ErrCloseSent
	default:
	}
	select {
	case c.send <- msg:
		return nil
	default:
		c.Close()
		return errSendQueueFull
	}
}

func (c *Conn) Close() {
	c.once.Do(func() {
		close(c.closed)
		_ = c.conn.Close()
	})
}

func (c *Conn) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.closed:
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				c.Close()
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.Close()
				return
			}
		}
	}
}
