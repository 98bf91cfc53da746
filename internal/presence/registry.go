// Package presence tracks which users currently hold a live connection.
// State is process-local and rebuilt from scratch on every start.
package presence

import (
	"context"
	"slices"
	"sync"

	"github.com/iliyamo/echosecure-chat/internal/event"
	"github.com/iliyamo/echosecure-chat/internal/logging"
)

// Conn is a registered connection. Send must not block: it queues the
// event for the connection's writer and fails if the connection is gone
// or saturated.
type Conn interface {
	Send(ev event.Event) error
	Close()
}

// Registry maps user id to that user's active connection.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]Conn

	// bmu orders online-set broadcasts so a stale snapshot is never queued
	// after a newer one.
	bmu sync.Mutex
	log logging.Logger
}

func NewRegistry(log logging.Logger) *Registry {
	return &Registry{conns: make(map[string]Conn), log: log.With("component", "presence")}
}

// Register makes c the active connection of userID. A previous connection
// for the same user is closed. Every registration broadcasts the online set.
func (r *Registry) Register(ctx context.Context, userID string, c Conn) {
	r.bmu.Lock()
	defer r.bmu.Unlock()

	r.mu.Lock()
	prev := r.conns[userID]
	r.conns[userID] = c
	r.mu.Unlock()

	if prev != nil && prev != c {
		prev.Close()
	}
	r.log.Debug(ctx, "user connected", "user_id", userID)
	r.broadcastOnline(ctx)
}

// Unregister removes userID only if c is still its registered connection,
// so a late disconnect of a replaced socket cannot evict the new one.
func (r *Registry) Unregister(ctx context.Context, userID string, c Conn) bool {
	r.bmu.Lock()
	defer r.bmu.Unlock()

	r.mu.Lock()
	cur, ok := r.conns[userID]
	if !ok || cur != c {
		r.mu.Unlock()
		return false
	}
	delete(r.conns, userID)
	r.mu.Unlock()

	r.log.Debug(ctx, "user disconnected", "user_id", userID)
	r.broadcastOnline(ctx)
	return true
}

func (r *Registry) Lookup(userID string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[userID]
	return c, ok
}

// Online returns the sorted ids of connected users.
func (r *Registry) Online() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	slices.Sort(ids)
	return ids
}

// broadcastOnline pushes the full online set to every connection. Callers
// hold bmu.
func (r *Registry) broadcastOnline(ctx context.Context) {
	r.mu.RLock()
	ids := make([]string, 0, len(r.conns))
	targets := make([]Conn, 0, len(r.conns))
	for id, c := range r.conns {
		ids = append(ids, id)
		targets = append(targets, c)
	}
	r.mu.RUnlock()
	slices.Sort(ids)

	ev := event.Event{Name: event.OnlineUsers, Data: ids}
	for _, c := range targets {
		if err := c.Send(ev); err != nil {
			r.log.Debug(ctx, "online broadcast dropped", "err", err)
		}
	}
}

// CloseAll closes every registered connection. Used on shutdown; each
// connection's reader unregisters itself as it exits.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	targets := make([]Conn, 0, len(r.conns))
	for _, c := range r.conns {
		targets = append(targets, c)
	}
	r.mu.RUnlock()
	for _, c := range targets {
		c.Close()
	}
}
