package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/auxroom/auxroom/internal/audio"
	"github.com/auxroom/auxroom/internal/repository"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) advance(d time.Duration) {
	f.mu.Lock()
	f.t = f.t.Add(d)
	f.mu.Unlock()
}

type seekCall struct {
	positionMs int64
	keepPaused bool
}

type mockBackend struct {
	mu          sync.Mutex
	playCalls   []string
	playErr     error
	resolved    audio.Track
	pauseCalls  int
	resumeCalls int
	stopCalls   int
	seekCalls   []seekCall
}

func newMockBackend() *mockBackend {
	return &mockBackend{resolved: audio.Track{Title: "resolved", DurationMs: 180_000}}
}

func (b *mockBackend) Resolve(_ context.Context, query string) (*audio.Track, error) {
	t := b.resolved
	t.URI = query
	return &t, nil
}

func (b *mockBackend) ResolvePlaylist(_ context.Context, _ string) (*audio.Playlist, error) {
	return nil, audio.ErrNoTracks
}

func (b *mockBackend) JoinAndPlay(_ context.Context, _, uri string) (*audio.Track, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.playErr != nil {
		return nil, b.playErr
	}
	b.playCalls = append(b.playCalls, uri)
	t := b.resolved
	return &t, nil
}

func (b *mockBackend) Pause(_ context.Context, _ string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pauseCalls++
	return nil
}

func (b *mockBackend) Resume(_ context.Context, _ string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resumeCalls++
	return nil
}

func (b *mockBackend) Stop(_ context.Context, _ string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopCalls++
	return nil
}

func (b *mockBackend) Seek(_ context.Context, _ string, positionMs int64, keepPaused bool) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seekCalls = append(b.seekCalls, seekCall{positionMs: positionMs, keepPaused: keepPaused})
	return keepPaused, nil
}

func (b *mockBackend) Leave(_ string) error { return nil }

func (b *mockBackend) playCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.playCalls)
}

func (b *mockBackend) pauses() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pauseCalls
}

type mockStore struct {
	mu     sync.Mutex
	tracks []repository.Track
}

func (m *mockStore) ListTracks(_ context.Context, guild string) ([]repository.Track, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []repository.Track
	for _, t := range m.tracks {
		if t.GuildID == guild {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *mockStore) FirstTrack(ctx context.Context, guild string) (*repository.Track, error) {
	tracks, _ := m.ListTracks(ctx, guild)
	if len(tracks) == 0 {
		return nil, nil
	}
	return &tracks[0], nil
}

func (m *mockStore) GetTrack(_ context.Context, id int64) (*repository.Track, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tracks {
		if t.ID == id {
			cp := t
			return &cp, nil
		}
	}
	return nil, nil
}

type recordingNotifier struct {
	mu        sync.Mutex
	snapshots []PlaybackState
	ticks     []Tick
}

func (n *recordingNotifier) PlaylistUpdated(string, []repository.Track) {}
func (n *recordingNotifier) TrackAdded(string, repository.Track)        {}
func (n *recordingNotifier) TrackDeleted(string, int64)                 {}

func (n *recordingNotifier) PlaybackState(_ string, snap PlaybackState) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.snapshots = append(n.snapshots, snap)
}

func (n *recordingNotifier) PlayerUpdate(_ string, tick Tick) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ticks = append(n.ticks, tick)
}

func (n *recordingNotifier) lastSnapshot() (PlaybackState, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.snapshots) == 0 {
		return PlaybackState{}, false
	}
	return n.snapshots[len(n.snapshots)-1], true
}

func newTestSession(t *testing.T) (*Session, *mockBackend, *mockStore, *recordingNotifier, *fakeClock) {
	t.Helper()
	backend := newMockBackend()
	store := &mockStore{}
	notifier := &recordingNotifier{}
	clock := newFakeClock()
	s := newSession("g1", store, backend, notifier)
	s.now = clock.now
	s.reassertDelay = 5 * time.Millisecond
	return s, backend, store, notifier, clock
}

func track(id int64, title string) repository.Track {
	return repository.Track{ID: id, GuildID: "g1", Title: title, URL: "https://example.com/" + title, DurationMs: 60_000}
}

func TestPlay_SetsStateWithResolvedDuration(t *testing.T) {
	s, backend, _, notifier, _ := newTestSession(t)

	tr := track(1, "a")
	if err := s.Play(context.Background(), tr); err != nil {
		t.Fatalf("play: %v", err)
	}

	snap := s.Snapshot()
	if snap.Status != StatusPlaying {
		t.Fatalf("status = %v, want playing", snap.Status)
	}
	if snap.CurrentTrack == nil || snap.CurrentTrack.ID != 1 {
		t.Fatalf("current track = %+v, want id 1", snap.CurrentTrack)
	}
	if snap.PositionMs != 0 {
		t.Fatalf("position = %d, want 0", snap.PositionMs)
	}
	// Backend-resolved duration overrides the stored guess.
	if snap.DurationMs != 180_000 {
		t.Fatalf("duration = %d, want resolved 180000", snap.DurationMs)
	}
	if backend.playCount() != 1 {
		t.Fatalf("backend play calls = %d, want 1", backend.playCount())
	}
	if last, ok := notifier.lastSnapshot(); !ok || last.Status != StatusPlaying {
		t.Fatal("expected playing snapshot broadcast")
	}
}

func TestPlay_BackendFailureLeavesStateUntouched(t *testing.T) {
	s, backend, _, notifier, _ := newTestSession(t)
	backend.playErr = errors.New("no node")

	if err := s.Play(context.Background(), track(1, "a")); err == nil {
		t.Fatal("expected error from backend failure")
	}
	snap := s.Snapshot()
	if snap.Status != StatusIdle || snap.CurrentTrack != nil {
		t.Fatalf("state mutated on failed play: %+v", snap)
	}
	if _, ok := notifier.lastSnapshot(); ok {
		t.Fatal("no broadcast expected on failed play")
	}
}

func TestPause_CapturesInterpolatedPosition(t *testing.T) {
	s, backend, _, _, clock := newTestSession(t)

	if err := s.Play(context.Background(), track(1, "a")); err != nil {
		t.Fatalf("play: %v", err)
	}
	clock.advance(30 * time.Second)

	if err := s.Pause(context.Background()); err != nil {
		t.Fatalf("pause: %v", err)
	}
	snap := s.Snapshot()
	if snap.Status != StatusPaused {
		t.Fatalf("status = %v, want paused", snap.Status)
	}
	if snap.PositionMs != 30_000 {
		t.Fatalf("position = %d, want 30000", snap.PositionMs)
	}
	if backend.pauses() != 1 {
		t.Fatalf("backend pause calls = %d, want 1", backend.pauses())
	}

	// Frozen while paused.
	clock.advance(time.Minute)
	if got := s.Position(); got != 30_000 {
		t.Fatalf("paused position drifted to %d", got)
	}
}

func TestPause_WhenNotPlaying(t *testing.T) {
	s, _, _, _, _ := newTestSession(t)
	if err := s.Pause(context.Background()); !errors.Is(err, ErrNotPlaying) {
		t.Fatalf("err = %v, want ErrNotPlaying", err)
	}
}

func TestResume_FromPausedContinuesAtFrozenPosition(t *testing.T) {
	s, backend, _, _, clock := newTestSession(t)

	_ = s.Play(context.Background(), track(1, "a"))
	clock.advance(10 * time.Second)
	_ = s.Pause(context.Background())

	if err := s.Resume(context.Background()); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if backend.resumeCalls != 1 {
		t.Fatalf("backend resume calls = %d, want 1", backend.resumeCalls)
	}
	snap := s.Snapshot()
	if snap.Status != StatusPlaying {
		t.Fatalf("status = %v, want playing", snap.Status)
	}
	if snap.PositionMs != 10_000 {
		t.Fatalf("position = %d, want 10000", snap.PositionMs)
	}

	clock.advance(5 * time.Second)
	if got := s.Position(); got != 15_000 {
		t.Fatalf("interpolated position after resume = %d, want 15000", got)
	}
}

func TestResume_FromIdlePlaysFirstQueuedTrack(t *testing.T) {
	s, backend, store, _, _ := newTestSession(t)
	store.tracks = []repository.Track{track(1, "a"), track(2, "b")}

	if err := s.Resume(context.Background()); err != nil {
		t.Fatalf("resume from idle: %v", err)
	}
	snap := s.Snapshot()
	if snap.Status != StatusPlaying || snap.CurrentTrack.ID != 1 {
		t.Fatalf("expected first track playing, got %+v", snap)
	}
	if backend.playCount() != 1 {
		t.Fatalf("backend play calls = %d, want 1", backend.playCount())
	}
}

func TestResume_FromIdleEmptyQueueIsNoop(t *testing.T) {
	s, backend, _, _, _ := newTestSession(t)
	if err := s.Resume(context.Background()); err != nil {
		t.Fatalf("resume on empty queue should not error: %v", err)
	}
	if s.Snapshot().Status != StatusIdle {
		t.Fatal("expected to stay idle")
	}
	if backend.playCount() != 0 {
		t.Fatal("no play expected")
	}
}

func TestSeek_WhilePlaying(t *testing.T) {
	s, backend, _, _, _ := newTestSession(t)
	_ = s.Play(context.Background(), track(1, "a"))

	paused, err := s.Seek(context.Background(), 45_000)
	if err != nil {
		t.Fatalf("seek: %v", err)
	}
	if paused {
		t.Fatal("seek while playing should not pause")
	}
	if got := s.Position(); got != 45_000 {
		t.Fatalf("position after seek = %d, want 45000", got)
	}
	if s.Snapshot().Status != StatusPlaying {
		t.Fatal("status changed by seek")
	}
	backend.mu.Lock()
	call := backend.seekCalls[0]
	backend.mu.Unlock()
	if call.keepPaused {
		t.Fatal("keepPaused sent for a playing session")
	}
}

func TestSeek_WhilePausedStaysPausedAndReasserts(t *testing.T) {
	s, backend, _, _, clock := newTestSession(t)
	_ = s.Play(context.Background(), track(1, "a"))
	clock.advance(5 * time.Second)
	_ = s.Pause(context.Background())

	paused, err := s.Seek(context.Background(), 20_000)
	if err != nil {
		t.Fatalf("seek: %v", err)
	}
	if !paused {
		t.Fatal("seek from paused must report paused")
	}
	if s.Snapshot().Status != StatusPaused {
		t.Fatal("status must remain paused after seek")
	}
	if got := s.Position(); got != 20_000 {
		t.Fatalf("position after paused seek = %d, want 20000", got)
	}

	backend.mu.Lock()
	call := backend.seekCalls[0]
	backend.mu.Unlock()
	if !call.keepPaused {
		t.Fatal("seek must carry the pause state atomically")
	}

	// The scheduled one-shot re-asserts pause against auto-resuming nodes.
	time.Sleep(50 * time.Millisecond)
	if backend.pauses() != 2 {
		t.Fatalf("backend pause calls = %d, want 2 (initial + re-assert)", backend.pauses())
	}
	if s.Snapshot().Status != StatusPaused {
		t.Fatal("session must converge to paused")
	}
}

func TestSeek_ReassertDoesNotClobberLaterResume(t *testing.T) {
	s, backend, _, _, _ := newTestSession(t)
	s.reassertDelay = 30 * time.Millisecond
	_ = s.Play(context.Background(), track(1, "a"))
	_ = s.Pause(context.Background())

	if _, err := s.Seek(context.Background(), 20_000); err != nil {
		t.Fatalf("seek: %v", err)
	}
	if err := s.Resume(context.Background()); err != nil {
		t.Fatalf("resume: %v", err)
	}

	time.Sleep(80 * time.Millisecond)
	if s.Snapshot().Status != StatusPlaying {
		t.Fatal("re-assert clobbered a legitimate resume")
	}
	if backend.pauses() != 1 {
		t.Fatalf("backend pause calls = %d, want 1 (no re-assert after resume)", backend.pauses())
	}
}

func TestSeek_WhileIdle(t *testing.T) {
	s, _, _, _, _ := newTestSession(t)
	if _, err := s.Seek(context.Background(), 1000); !errors.Is(err, ErrNothingPlaying) {
		t.Fatalf("err = %v, want ErrNothingPlaying", err)
	}
}

func TestSkip_OnlyStopsBackend(t *testing.T) {
	s, backend, _, _, _ := newTestSession(t)
	_ = s.Play(context.Background(), track(1, "a"))

	if err := s.Skip(context.Background()); err != nil {
		t.Fatalf("skip: %v", err)
	}
	if backend.stopCalls != 1 {
		t.Fatalf("stop calls = %d, want 1", backend.stopCalls)
	}
	// Advancement rides the ended event, not the skip itself.
	if backend.playCount() != 1 {
		t.Fatalf("play calls = %d, want 1 (no advance on skip)", backend.playCount())
	}
	if s.Snapshot().Status != StatusPlaying {
		t.Fatal("skip itself must not transition state")
	}
}

func TestHandleTrackEnded_ReplacedIsNoop(t *testing.T) {
	s, backend, store, _, _ := newTestSession(t)
	store.tracks = []repository.Track{track(1, "a"), track(2, "b")}
	_ = s.Play(context.Background(), store.tracks[0])
	before := s.Snapshot()

	s.HandleTrackEnded(context.Background(), audio.EndReasonReplaced)

	if backend.playCount() != 1 {
		t.Fatalf("play calls = %d, want 1 (no advance on replaced)", backend.playCount())
	}
	after := s.Snapshot()
	if after.Status != before.Status || after.CurrentTrack.ID != before.CurrentTrack.ID {
		t.Fatal("state changed on replaced end")
	}
}

func TestHandleTrackEnded_AdvancesAndRecordsHistory(t *testing.T) {
	s, backend, store, _, _ := newTestSession(t)
	store.tracks = []repository.Track{track(1, "a"), track(2, "b")}
	_ = s.Play(context.Background(), store.tracks[0])

	s.HandleTrackEnded(context.Background(), audio.EndReasonFinished)

	snap := s.Snapshot()
	if snap.Status != StatusPlaying || snap.CurrentTrack.ID != 2 {
		t.Fatalf("expected track 2 playing, got %+v", snap.CurrentTrack)
	}
	if backend.playCount() != 2 {
		t.Fatalf("play calls = %d, want 2", backend.playCount())
	}

	// Previous pops the finished track back.
	if err := s.Previous(context.Background()); err != nil {
		t.Fatalf("previous: %v", err)
	}
	snap = s.Snapshot()
	if snap.CurrentTrack.ID != 1 {
		t.Fatalf("previous played id %d, want 1", snap.CurrentTrack.ID)
	}
}

func TestHandleTrackEnded_NoNextGoesIdle(t *testing.T) {
	s, _, store, _, _ := newTestSession(t)
	store.tracks = []repository.Track{track(1, "a")}
	_ = s.Play(context.Background(), store.tracks[0])
	s.ToggleShuffle()
	s.mu.Lock()
	s.played[0] = struct{}{} // shuffle cycle exhausted, repeat off
	s.mu.Unlock()

	s.HandleTrackEnded(context.Background(), audio.EndReasonFinished)

	snap := s.Snapshot()
	if snap.Status != StatusIdle || snap.CurrentTrack != nil || snap.PositionMs != 0 || snap.DurationMs != 0 {
		t.Fatalf("expected clean idle state, got %+v", snap)
	}
	if !snap.Shuffle {
		t.Fatal("shuffle preference lost on idle transition")
	}
}

func TestHandleTrackEnded_ClearedQueueWithRepeatStaysIdle(t *testing.T) {
	s, backend, store, _, _ := newTestSession(t)
	store.tracks = []repository.Track{track(1, "a")}
	_ = s.Play(context.Background(), store.tracks[0])
	s.ToggleRepeat()

	// Queue rows are deleted before the stop's end event lands; repeat must
	// not wrap onto the vanished queue.
	store.mu.Lock()
	store.tracks = nil
	store.mu.Unlock()
	s.Stop(context.Background())
	s.HandleTrackEnded(context.Background(), audio.EndReasonStopped)

	snap := s.Snapshot()
	if snap.Status != StatusIdle || snap.CurrentTrack != nil {
		t.Fatalf("playback restarted after clear: %+v", snap)
	}
	if backend.playCount() != 1 {
		t.Fatalf("play calls = %d, want 1 (no restart)", backend.playCount())
	}
	if !snap.Repeat {
		t.Fatal("repeat preference lost")
	}
}

func TestHandleTrackEnded_EmptyQueueGoesIdle(t *testing.T) {
	s, _, _, _, _ := newTestSession(t)
	_ = s.Play(context.Background(), track(9, "gone"))

	s.HandleTrackEnded(context.Background(), audio.EndReasonFinished)
	if s.Snapshot().Status != StatusIdle {
		t.Fatal("expected idle on empty queue")
	}
}

func TestPrevious_EmptyHistoryIsNoop(t *testing.T) {
	s, backend, _, _, _ := newTestSession(t)
	if err := s.Previous(context.Background()); err != nil {
		t.Fatalf("previous: %v", err)
	}
	if backend.playCount() != 0 {
		t.Fatal("no play expected with empty history")
	}
}

func TestToggleShuffle_ResetsBag(t *testing.T) {
	s, _, _, _, _ := newTestSession(t)
	s.mu.Lock()
	s.played[0] = struct{}{}
	s.played[1] = struct{}{}
	s.mu.Unlock()

	if on := s.ToggleShuffle(); !on {
		t.Fatal("expected shuffle on")
	}
	s.mu.Lock()
	size := len(s.played)
	s.mu.Unlock()
	if size != 0 {
		t.Fatalf("shuffle bag not reset, %d entries", size)
	}
}

func TestToggleRepeat_DoesNotResetBag(t *testing.T) {
	s, _, _, _, _ := newTestSession(t)
	s.mu.Lock()
	s.played[0] = struct{}{}
	s.mu.Unlock()

	s.ToggleRepeat()
	s.mu.Lock()
	size := len(s.played)
	s.mu.Unlock()
	if size != 1 {
		t.Fatal("toggling repeat must not reset the shuffle bag")
	}
}

func TestListenersLeft_StopsAndPreservesFlags(t *testing.T) {
	s, backend, _, notifier, _ := newTestSession(t)
	_ = s.Play(context.Background(), track(1, "a"))
	s.ToggleShuffle()
	s.ToggleRepeat()

	s.ListenersLeft(context.Background())

	snap := s.Snapshot()
	if snap.Status != StatusIdle || snap.CurrentTrack != nil {
		t.Fatalf("expected idle reset, got %+v", snap)
	}
	if !snap.Shuffle || !snap.Repeat {
		t.Fatal("shuffle/repeat preferences must survive")
	}
	if backend.stopCalls != 1 {
		t.Fatalf("stop calls = %d, want 1", backend.stopCalls)
	}
	if last, ok := notifier.lastSnapshot(); !ok || last.Status != StatusIdle {
		t.Fatal("idle snapshot must be broadcast")
	}
}

func TestPosition_MonotonicWhilePlaying(t *testing.T) {
	s, _, _, _, clock := newTestSession(t)
	_ = s.Play(context.Background(), track(1, "a"))

	prev := int64(-1)
	for i := 0; i < 20; i++ {
		clock.advance(73 * time.Millisecond)
		got := s.Position()
		if got < prev {
			t.Fatalf("position went backwards: %d after %d", got, prev)
		}
		prev = got
	}
}
