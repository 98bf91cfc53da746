// Package ws serves the websocket endpoint: one reader and one writer
// goroutine per connection, presence registration, and the typing relay.
package ws

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/iliyamo/echosecure-chat/internal/event"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 << 10
	sendBuffer     = 64
)

var (
	ErrClosed   = errors.New("ws: connection closed")
	ErrSlowPeer = errors.New("ws: send buffer full")
)

// socket is the part of *websocket.Conn the client uses.
type socket interface {
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Client is one websocket connection. It implements presence.Conn: Send
// only queues, and a single writer goroutine drains the queue so events
// reach the socket in the order they were sent.
type Client struct {
	userID string
	conn   socket
	send   chan event.Event

	mu     sync.Mutex
	closed bool
	done   chan struct{}
	once   sync.Once
}

func newClient(userID string, conn socket) *Client {
	return &Client{
		userID: userID,
		conn:   conn,
		send:   make(chan event.Event, sendBuffer),
		done:   make(chan struct{}),
	}
}

// Send queues ev. A client that cannot keep up is closed rather than
// allowed to stall the sender.
func (c *Client) Send(ev event.Event) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	select {
	case c.send <- ev:
		c.mu.Unlock()
		return nil
	default:
		c.mu.Unlock()
		c.Close()
		return ErrSlowPeer
	}
}

// Close stops the writer and closes the socket, which in turn ends the
// reader. It never touches the registry.
func (c *Client) Close() {
	c.once.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.done)
		_ = c.conn.Close()
	})
}

// writePump is the only goroutine that writes to the socket.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()
	for {
		select {
		case <-c.done:
			return
		case ev := <-c.send:
			b, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump delivers inbound frames to handle until the socket fails.
func (c *Client) readPump(handle func(event.Event)) {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, b, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var in struct {
			Name string          `json:"event"`
			Data json.RawMessage `json:"data"`
		}
		if json.Unmarshal(b, &in) != nil || in.Name == "" {
			continue
		}
		handle(event.Event{Name: in.Name, Data: in.Data})
	}
}
