// Package dispatch routes lifecycle events to the connections of their
// recipients. Delivery is best effort: offline recipients are skipped and
// failed sends are dropped.
package dispatch

import (
	"context"

	"github.com/iliyamo/echosecure-chat/internal/event"
	"github.com/iliyamo/echosecure-chat/internal/logging"
	"github.com/iliyamo/echosecure-chat/internal/presence"
)

type Dispatcher struct {
	reg *presence.Registry
	log logging.Logger
}

func New(reg *presence.Registry, log logging.Logger) *Dispatcher {
	return &Dispatcher{reg: reg, log: log.With("component", "dispatch")}
}

// Send delivers one event to each distinct recipient that is online and
// returns how many connections accepted it.
func (d *Dispatcher) Send(ctx context.Context, name string, data any, recipients ...string) int {
	ev := event.Event{Name: name, Data: data}
	seen := make(map[string]struct{}, len(recipients))
	delivered := 0
	for _, uid := range recipients {
		if uid == "" {
			continue
		}
		if _, dup := seen[uid]; dup {
			continue
		}
		seen[uid] = struct{}{}
		c, ok := d.reg.Lookup(uid)
		if !ok {
			continue
		}
		if err := c.Send(ev); err != nil {
			d.log.Debug(ctx, "event dropped", "event", name, "user_id", uid, "err", err)
			continue
		}
		delivered++
	}
	return delivered
}

// Direct sends to both sides of a one-to-one conversation, sender included
// so the sender's own client stays in sync.
func (d *Dispatcher) Direct(ctx context.Context, name string, senderID, receiverID string, data any) {
	d.Send(ctx, name, data, senderID, receiverID)
}

// Group sends to every current member.
func (d *Dispatcher) Group(ctx context.Context, name string, members []string, data any) {
	d.Send(ctx, name, data, members...)
}
