package registry

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"pixbridge/pkg/models"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 4096
)

// WSChannel is a Channel backed by a gorilla websocket connection. All data
// writes go through a single write pump goroutine.
type WSChannel struct {
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	remote    string
}

// NewWSChannel wraps conn with a send buffer of the given size.
func NewWSChannel(conn *websocket.Conn, buffer int) *WSChannel {
	if buffer <= 0 {
		buffer = 32
	}
	return &WSChannel{
		conn:   conn,
		send:   make(chan []byte, buffer),
		done:   make(chan struct{}),
		remote: conn.RemoteAddr().String(),
	}
}

// Start launches the pumps. onActivity is called for every pong or inbound
// message from the device.
func (c *WSChannel) Start(onActivity func()) {
	if onActivity == nil {
		onActivity = func() {}
	}
	go c.writePump()
	go c.readPump(onActivity)
}

func (c *WSChannel) readPump(onActivity func()) {
	defer c.Close()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		onActivity()
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, 4100) {
				slog.Debug("Device channel read error", "component", "WSChannel", "remote", c.remote, "error", err)
			}
			return
		}
		onActivity()
	}
}

func (c *WSChannel) writePump() {
	defer c.conn.Close()

	for {
		select {
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "closed"),
				time.Now().Add(writeWait))
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				slog.Debug("Device channel write error", "component", "WSChannel", "remote", c.remote, "error", err)
				c.Close()
				return
			}
		}
	}
}

// Send enqueues env for the write pump.
func (c *WSChannel) Send(env models.Envelope) error {
	msg, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	select {
	case <-c.done:
		return ErrChannelClosed
	default:
	}
	select {
	case c.send <- msg:
		return nil
	case <-c.done:
		return ErrChannelClosed
	default:
		return ErrBufferFull
	}
}

// Ping sends a websocket ping control frame.
func (c *WSChannel) Ping() error {
	select {
	case <-c.done:
		return ErrChannelClosed
	default:
	}
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// Close stops both pumps and closes the connection.
func (c *WSChannel) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// Done is closed when the channel has been closed.
func (c *WSChannel) Done() <-chan struct{} {
	return c.done
}

// RemoteAddr returns the peer address.
func (c *WSChannel) RemoteAddr() string {
	return c.remote
}
