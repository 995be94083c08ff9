package session

import (
	"context"
	"time"
)

// Broadcaster pushes interpolated positions to every active room on a fixed
// cadence. This is the only continuous traffic; full snapshots go out
// event-driven from the sessions themselves.
type Broadcaster struct {
	reg      *Registry
	notifier Notifier
	interval time.Duration
}

func NewBroadcaster(reg *Registry, notifier Notifier, interval time.Duration) *Broadcaster {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	return &Broadcaster{reg: reg, notifier: notifier, interval: interval}
}

func (b *Broadcaster) Run(ctx context.Context) {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.tickAll()
		}
	}
}

func (b *Broadcaster) tickAll() {
	for _, s := range b.reg.All() {
		if tick, ok := s.Tick(); ok {
			b.notifier.PlayerUpdate(s.GuildID(), tick)
		}
	}
}
