package client

import (
	"sync"
	"time"

	"github.com/auxroom/auxroom/internal/session"
)

// GraceWindow is how long after an optimistic pause or seek the server's
// periodic ticks are distrusted. Ticks emitted before the server processed
// the command would otherwise snap the UI back to the stale position.
const GraceWindow = 500 * time.Millisecond

// Reconciler merges optimistic local edits with the server's broadcasts into
// one client-side view of the room. Full snapshots are authoritative; ticks
// arriving inside the grace window are discarded; ticks identical to the
// previous one are dropped to avoid redundant repaints.
type Reconciler struct {
	mu         sync.Mutex
	now        func() time.Time
	state      session.PlaybackState
	graceUntil time.Time
	lastTick   session.Tick
	hasTick    bool
	onChange   func(session.PlaybackState)
}

func NewReconciler(onChange func(session.PlaybackState)) *Reconciler {
	if onChange == nil {
		onChange = func(session.PlaybackState) {}
	}
	return &Reconciler{
		now:      time.Now,
		state:    session.PlaybackState{Status: session.StatusIdle},
		onChange: onChange,
	}
}

func (r *Reconciler) State() session.PlaybackState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// OptimisticPause freezes the local view immediately and opens the grace
// window; the server's confirming snapshot lands later.
func (r *Reconciler) OptimisticPause() {
	r.mu.Lock()
	r.state.Status = session.StatusPaused
	r.graceUntil = r.now().Add(GraceWindow)
	snap := r.state
	r.mu.Unlock()
	r.onChange(snap)
}

// OptimisticSeek moves the local position immediately and opens the grace
// window.
func (r *Reconciler) OptimisticSeek(positionMs int64) {
	r.mu.Lock()
	r.state.PositionMs = positionMs
	r.graceUntil = r.now().Add(GraceWindow)
	snap := r.state
	r.mu.Unlock()
	r.onChange(snap)
}

// ApplyState applies a full snapshot unconditionally. Snapshots are only
// emitted after the server committed a transition, so they also close any
// open grace window.
func (r *Reconciler) ApplyState(snap session.PlaybackState) {
	r.mu.Lock()
	r.state = snap
	r.graceUntil = time.Time{}
	r.mu.Unlock()
	r.onChange(snap)
}

// ApplyTick merges a periodic position update. It reports whether the view
// changed.
func (r *Reconciler) ApplyTick(tick session.Tick) bool {
	r.mu.Lock()
	if r.now().Before(r.graceUntil) {
		r.mu.Unlock()
		return false
	}
	if r.hasTick && tick == r.lastTick {
		r.mu.Unlock()
		return false
	}
	r.lastTick = tick
	r.hasTick = true
	r.state.PositionMs = tick.PositionMs
	r.state.DurationMs = tick.DurationMs
	r.state.Status = tick.Status
	r.state.Shuffle = tick.Shuffle
	r.state.Repeat = tick.Repeat
	snap := r.state
	r.mu.Unlock()
	r.onChange(snap)
	return true
}
