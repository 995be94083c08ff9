package session

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/auxroom/auxroom/internal/audio"
	"github.com/auxroom/auxroom/internal/repository"
)

// How long after a kept-paused seek the pause state is re-asserted, covering
// nodes that asynchronously auto-resume.
const defaultReassertDelay = 100 * time.Millisecond

var (
	ErrNotPlaying     = errors.New("not playing")
	ErrNothingPlaying = errors.New("nothing is playing")
)

// Session is the per-guild playback state machine. One mutex guards all
// mutable state; the PlaybackState value is replaced wholesale on every
// transition so snapshots are always consistent.
// QueueStore is the read surface of the queue persistence service the
// engine consults when advancing.
type QueueStore interface {
	ListTracks(ctx context.Context, guild string) ([]repository.Track, error)
	FirstTrack(ctx context.Context, guild string) (*repository.Track, error)
	GetTrack(ctx context.Context, id int64) (*repository.Track, error)
}

type Session struct {
	guildID  string
	store    QueueStore
	backend  audio.Backend
	notifier Notifier

	now           func() time.Time
	rng           *rand.Rand
	reassertDelay time.Duration

	loopOnce sync.Once
	events   chan audio.Event

	mu      sync.Mutex
	state   PlaybackState
	history []int64
	played  map[int]struct{}
	clock   positionClock
}

func newSession(guildID string, store QueueStore, backend audio.Backend, notifier Notifier) *Session {
	return &Session{
		guildID:       guildID,
		store:         store,
		backend:       backend,
		notifier:      notifier,
		now:           time.Now,
		rng:           rand.New(rand.NewSource(time.Now().UnixNano())),
		reassertDelay: defaultReassertDelay,
		events:        make(chan audio.Event, 16),
		state:         PlaybackState{Status: StatusIdle},
		played:        make(map[int]struct{}),
	}
}

func (s *Session) GuildID() string { return s.guildID }

func (s *Session) snapshotLocked() PlaybackState {
	snap := s.state
	if s.state.CurrentTrack != nil {
		cp := *s.state.CurrentTrack
		snap.CurrentTrack = &cp
	}
	if snap.Status != StatusIdle {
		snap.PositionMs = clamp(s.clock.positionAt(s.now()), snap.DurationMs)
	}
	return snap
}

// Snapshot returns a consistent copy of the playback state with the position
// interpolated to now.
func (s *Session) Snapshot() PlaybackState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Position returns the live interpolated position in milliseconds.
func (s *Session) Position() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return clamp(s.clock.positionAt(s.now()), s.state.DurationMs)
}

// Tick returns the periodic broadcast payload; ok is false while idle.
func (s *Session) Tick() (Tick, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Status == StatusIdle {
		return Tick{}, false
	}
	return Tick{
		PositionMs: clamp(s.clock.positionAt(s.now()), s.state.DurationMs),
		DurationMs: s.state.DurationMs,
		Status:     s.state.Status,
		Shuffle:    s.state.Shuffle,
		Repeat:     s.state.Repeat,
	}, true
}

// Play starts the given queued track. The backend call happens before any
// state change: a failed start leaves the session exactly as it was.
func (s *Session) Play(ctx context.Context, tr repository.Track) error {
	resolved, err := s.backend.JoinAndPlay(ctx, s.guildID, tr.URL)
	if err != nil {
		return err
	}

	duration := tr.DurationMs
	if resolved.DurationMs > 0 {
		duration = resolved.DurationMs
	}

	s.mu.Lock()
	s.state = PlaybackState{
		Status:       StatusPlaying,
		CurrentTrack: &tr,
		PositionMs:   0,
		DurationMs:   duration,
		Shuffle:      s.state.Shuffle,
		Repeat:       s.state.Repeat,
	}
	s.clock.set(0, true, s.now())
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.notifier.PlaybackState(s.guildID, snap)
	return nil
}

// Pause freezes playback at the current interpolated position.
func (s *Session) Pause(ctx context.Context) error {
	s.mu.Lock()
	if s.state.Status != StatusPlaying {
		s.mu.Unlock()
		return ErrNotPlaying
	}
	// Capture before commanding the backend so in-flight progress is kept.
	pos := clamp(s.clock.positionAt(s.now()), s.state.DurationMs)
	s.mu.Unlock()

	if err := s.backend.Pause(ctx, s.guildID); err != nil {
		return err
	}

	s.mu.Lock()
	if s.state.Status != StatusPlaying {
		s.mu.Unlock()
		return nil
	}
	s.state.Status = StatusPaused
	s.state.PositionMs = pos
	s.clock.set(pos, false, s.now())
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.notifier.PlaybackState(s.guildID, snap)
	return nil
}

// Resume continues a paused session. From idle it is re-interpreted as "play
// the first queued track"; an empty queue is not an error.
func (s *Session) Resume(ctx context.Context) error {
	s.mu.Lock()
	status := s.state.Status
	pos := s.state.PositionMs
	s.mu.Unlock()

	switch status {
	case StatusPlaying:
		return nil
	case StatusIdle:
		first, err := s.store.FirstTrack(ctx, s.guildID)
		if err != nil {
			return err
		}
		if first == nil {
			return nil
		}
		return s.Play(ctx, *first)
	}

	if err := s.backend.Resume(ctx, s.guildID); err != nil {
		return err
	}

	s.mu.Lock()
	if s.state.Status == StatusPaused {
		s.state.Status = StatusPlaying
		s.clock.set(pos, true, s.now())
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.notifier.PlaybackState(s.guildID, snap)
	return nil
}

// Seek moves playback to positionMs, preserving whichever pause state the
// session was in. It reports the resulting paused flag.
func (s *Session) Seek(ctx context.Context, positionMs int64) (bool, error) {
	s.mu.Lock()
	if s.state.Status == StatusIdle {
		s.mu.Unlock()
		return false, ErrNothingPlaying
	}
	positionMs = clamp(positionMs, s.state.DurationMs)
	keepPaused := s.state.Status == StatusPaused
	s.mu.Unlock()

	pausedAfter, err := s.backend.Seek(ctx, s.guildID, positionMs, keepPaused)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	s.state.PositionMs = positionMs
	if pausedAfter {
		s.state.Status = StatusPaused
	} else {
		s.state.Status = StatusPlaying
	}
	s.clock.set(positionMs, !pausedAfter, s.now())
	snap := s.snapshotLocked()
	tick := Tick{
		PositionMs: positionMs,
		DurationMs: snap.DurationMs,
		Status:     snap.Status,
		Shuffle:    snap.Shuffle,
		Repeat:     snap.Repeat,
	}
	s.mu.Unlock()

	if pausedAfter {
		// One-shot defence against nodes that auto-resume after a seek.
		time.AfterFunc(s.reassertDelay, s.reassertPause)
	}

	s.notifier.PlayerUpdate(s.guildID, tick)
	s.notifier.PlaybackState(s.guildID, snap)
	return pausedAfter, nil
}

// reassertPause re-applies pause if the session is still paused, so a later
// legitimate resume is never clobbered.
func (s *Session) reassertPause() {
	s.mu.Lock()
	if s.state.Status != StatusPaused {
		s.mu.Unlock()
		return
	}
	pos := s.state.PositionMs
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.backend.Pause(ctx, s.guildID); err != nil {
		slog.Warn("re-assert pause", "guildID", s.guildID, "err", err)
		return
	}

	s.mu.Lock()
	if s.state.Status == StatusPaused {
		s.clock.set(pos, false, s.now())
	}
	s.mu.Unlock()
}

// Skip stops the backend; queue advancement rides the resulting track-end
// event so manual skip and natural completion share one code path.
func (s *Session) Skip(ctx context.Context) error {
	return s.backend.Stop(ctx, s.guildID)
}

// Previous replays the most recently finished track. The current track is
// not pushed anywhere: there is no forward stack.
func (s *Session) Previous(ctx context.Context) error {
	s.mu.Lock()
	n := len(s.history)
	if n == 0 {
		s.mu.Unlock()
		return nil
	}
	id := s.history[n-1]
	s.history = s.history[:n-1]
	s.mu.Unlock()

	tr, err := s.store.GetTrack(ctx, id)
	if err != nil {
		return err
	}
	if tr == nil {
		return nil
	}
	return s.Play(ctx, *tr)
}

// ToggleShuffle flips shuffle mode. Enabling it starts a fresh shuffle cycle.
func (s *Session) ToggleShuffle() bool {
	s.mu.Lock()
	s.state.Shuffle = !s.state.Shuffle
	if s.state.Shuffle {
		s.played = make(map[int]struct{})
	}
	on := s.state.Shuffle
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.notifier.PlaybackState(s.guildID, snap)
	return on
}

func (s *Session) ToggleRepeat() bool {
	s.mu.Lock()
	s.state.Repeat = !s.state.Repeat
	on := s.state.Repeat
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.notifier.PlaybackState(s.guildID, snap)
	return on
}

// Stop force-stops the backend and returns to idle. Shuffle and repeat are
// user preferences and survive.
func (s *Session) Stop(ctx context.Context) {
	if err := s.backend.Stop(ctx, s.guildID); err != nil {
		slog.Warn("backend stop", "guildID", s.guildID, "err", err)
	}
	s.toIdle()
}

func (s *Session) toIdle() {
	s.mu.Lock()
	s.state = PlaybackState{
		Status:  StatusIdle,
		Shuffle: s.state.Shuffle,
		Repeat:  s.state.Repeat,
	}
	s.clock.set(0, false, s.now())
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.notifier.PlaybackState(s.guildID, snap)
}

// ListenersLeft handles everyone leaving the voice channel: playback stops
// and the session resets, keeping the shuffle/repeat preferences.
func (s *Session) ListenersLeft(ctx context.Context) {
	slog.Info("all listeners left, stopping playback", "guildID", s.guildID)
	s.Stop(ctx)
}

// HandleTrackEnded advances the queue after a track finished. An end caused
// by an explicit replacement is a no-op so a concurrent play never
// double-advances.
func (s *Session) HandleTrackEnded(ctx context.Context, reason string) {
	if strings.EqualFold(reason, audio.EndReasonReplaced) {
		return
	}

	tracks, err := s.store.ListTracks(ctx, s.guildID)
	if err != nil {
		slog.Error("load queue after track end", "guildID", s.guildID, "err", err)
		s.toIdle()
		return
	}
	if len(tracks) == 0 {
		s.toIdle()
		return
	}

	s.mu.Lock()
	currentIdx := -1
	var currentID int64
	hasCurrent := s.state.CurrentTrack != nil
	if hasCurrent {
		currentID = s.state.CurrentTrack.ID
		for i, t := range tracks {
			if t.ID == currentID {
				currentIdx = i
				break
			}
		}
	}
	next, ok := nextIndex(len(tracks), currentIdx, s.state.Shuffle, s.state.Repeat, s.played, s.rng)
	s.mu.Unlock()

	if !ok {
		s.toIdle()
		return
	}

	if hasCurrent {
		s.mu.Lock()
		s.history = append(s.history, currentID)
		s.mu.Unlock()
	}

	if err := s.Play(ctx, tracks[next]); err != nil {
		slog.Error("play next track", "guildID", s.guildID, "title", tracks[next].Title, "err", err)
		s.toIdle()
	}
}

// deliver queues a backend event for this session, starting its serial event
// loop on first use. Events for one guild are processed in arrival order
// without blocking other guilds.
func (s *Session) deliver(ctx context.Context, ev audio.Event) {
	s.loopOnce.Do(func() {
		go s.runEvents(ctx)
	})
	select {
	case s.events <- ev:
	default:
		slog.Warn("session event buffer full, dropping", "guildID", s.guildID)
	}
}

func (s *Session) runEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-s.events:
			s.handleEvent(ctx, ev)
		}
	}
}

func (s *Session) handleEvent(ctx context.Context, ev audio.Event) {
	switch ev.Kind {
	case audio.EventTrackStart:
		s.mu.Lock()
		if s.state.Status != StatusIdle {
			s.clock.set(0, true, s.now())
		}
		s.mu.Unlock()
	case audio.EventPlayerUpdate:
		s.mu.Lock()
		if s.state.Status != StatusIdle {
			s.clock.set(ev.PositionMs, !ev.Paused, s.now())
		}
		s.mu.Unlock()
	case audio.EventTrackEnd:
		s.HandleTrackEnded(ctx, ev.Reason)
	case audio.EventTrackStuck:
		slog.Warn("track stuck", "guildID", s.guildID)
	case audio.EventTrackException:
		slog.Error("track exception", "guildID", s.guildID, "err", ev.Err)
	}
}
