// Package presencetest provides a recording presence.Conn for tests.
package presencetest

import (
	"errors"
	"sync"

	"github.com/iliyamo/echosecure-chat/internal/event"
)

var ErrClosed = errors.New("presencetest: connection closed")

// Conn records every event it is sent, in order.
type Conn struct {
	mu     sync.Mutex
	events []event.Event
	closed bool
}

func NewConn() *Conn { return &Conn{} }

func (c *Conn) Send(ev event.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.events = append(c.events, ev)
	return nil
}

func (c *Conn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Events returns a copy of everything received.
func (c *Conn) Events() []event.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]event.Event(nil), c.events...)
}

// Named returns the received events with the given name.
func (c *Conn) Named(name string) []event.Event {
	var out []event.Event
	for _, ev := range c.Events() {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}

// Reset forgets recorded events.
func (c *Conn) Reset() {
	c.mu.Lock()
	c.events = nil
	c.mu.Unlock()
}
