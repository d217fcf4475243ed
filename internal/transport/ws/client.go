package ws

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	defaultSendQueueSize = 256
	defaultWriteTimeout  = 5 * time.Second

	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 16 << 20
)

var errSendQueueFull = errors.New("send queue full")

// client is one WebSocket connection. All writes go through writePump.
type client struct {
	id   string
	conn *websocket.Conn

	sendCh    chan []byte
	closeCh   chan struct{}
	closeOnce sync.Once

	writeTimeout time.Duration
}

func newClient(conn *websocket.Conn, sendQueueSize int, writeTimeout time.Duration) *client {
	if sendQueueSize <= 0 {
		sendQueueSize = defaultSendQueueSize
	}
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	return &client{
		id:           uuid.NewString(),
		conn:         conn,
		sendCh:       make(chan []byte, sendQueueSize),
		closeCh:      make(chan struct{}),
		writeTimeout: writeTimeout,
	}
}

// writePump is the only writer of conn. It exits when the client is closed
// or a write fails.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.sendCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
				slog.Warn("set write deadline failed", "client", c.id, "error", err)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				slog.Warn("write failed", "client", c.id, "error", err)
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				slog.Debug("ping failed", "client", c.id, "error", err)
				return
			}

		case <-c.closeCh:
			deadline := time.Now().Add(c.writeTimeout)
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			return
		}
	}
}

// send queues msg for async delivery. Non-blocking: a full queue means a
// slow client, which is disconnected.
func (c *client) send(msg []byte) error {
	select {
	case <-c.closeCh:
		return websocket.ErrCloseSent
	default:
	}

	select {
	case c.sendCh <- msg:
		return nil
	default:
		slog.Warn("send queue full, disconnecting slow client", "client", c.id)
		c.closeAsync()
		return errSendQueueFull
	}
}

// closeAsync signals writePump to stop. Safe to call multiple times.
func (c *client) closeAsync() {
	c.closeOnce.Do(func() {
		close(c.closeCh)
	})
}
