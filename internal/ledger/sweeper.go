package ledger

import (
	"context"
	"time"

	"github.com/iliyamo/echosecure-chat/internal/logging"
)

// SweepFunc removes whatever has outlived its TTL and reports how much.
type SweepFunc func(ctx context.Context) (int64, error)

// Sweeper runs a set of sweeps on a fixed interval until its context ends.
type Sweeper struct {
	interval time.Duration
	sweeps   map[string]SweepFunc
	log      logging.Logger
}

func NewSweeper(interval time.Duration, log logging.Logger) *Sweeper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Sweeper{interval: interval, sweeps: map[string]SweepFunc{}, log: log.With("component", "sweeper")}
}

// Add registers a named sweep. Not safe to call once Run has started.
func (s *Sweeper) Add(name string, fn SweepFunc) *Sweeper {
	s.sweeps[name] = fn
	return s
}

// Run sweeps once immediately and then on every tick. It blocks until ctx
// is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	t := time.NewTicker(s.interval)
	defer t.Stop()
	s.runOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Sweeper) runOnce(ctx context.Context) {
	for name, fn := range s.sweeps {
		n, err := fn(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.Warn(ctx, "sweep failed", "sweep", name, "err", err)
			continue
		}
		if n > 0 {
			s.log.Debug(ctx, "sweep done", "sweep", name, "removed", n)
		}
	}
}
