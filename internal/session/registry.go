package session

import (
	"context"
	"sync"

	"github.com/auxroom/auxroom/internal/audio"
)

// Registry owns all guild sessions. It is the only mutable global state in
// the engine; every lookup goes through GetOrCreate so concurrent first-touch
// never yields duplicate sessions. Sessions live for the process lifetime.
type Registry struct {
	store    QueueStore
	backend  audio.Backend
	notifier Notifier

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewRegistry(store QueueStore, backend audio.Backend, notifier Notifier) *Registry {
	return &Registry{
		store:    store,
		backend:  backend,
		notifier: notifier,
		sessions: make(map[string]*Session),
	}
}

func (r *Registry) GetOrCreate(guildID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[guildID]; ok {
		return s
	}
	s := newSession(guildID, r.store, r.backend, r.notifier)
	r.sessions[guildID] = s
	return s
}

func (r *Registry) Peek(guildID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[guildID]
}

func (r *Registry) All() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Consume routes backend events to their guild's session until ctx is done.
// Each session processes its events serially on its own goroutine, so one
// guild's backend latency never stalls another's.
func (r *Registry) Consume(ctx context.Context, events <-chan audio.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			r.GetOrCreate(ev.GuildID).deliver(ctx, ev)
		}
	}
}
