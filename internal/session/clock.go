package session

import "time"

// positionClock reconstructs a live playback position between backend
// updates: while playing, the position is the last known value plus wall
// time elapsed since it was recorded. Every state-affecting transition must
// call set so the anchor never goes stale.
type positionClock struct {
	lastKnownMs int64
	updatedAt   time.Time
	playing     bool
}

func (c *positionClock) set(positionMs int64, playing bool, now time.Time) {
	if positionMs < 0 {
		positionMs = 0
	}
	c.lastKnownMs = positionMs
	c.updatedAt = now
	c.playing = playing
}

func (c *positionClock) positionAt(now time.Time) int64 {
	if !c.playing {
		return c.lastKnownMs
	}
	if c.updatedAt.IsZero() {
		return c.lastKnownMs
	}
	return c.lastKnownMs + now.Sub(c.updatedAt).Milliseconds()
}

// clamp bounds an interpolated position to [0, durationMs]. A zero duration
// (unknown or live) leaves the position unbounded above.
func clamp(positionMs, durationMs int64) int64 {
	if positionMs < 0 {
		return 0
	}
	if durationMs > 0 && positionMs > durationMs {
		return durationMs
	}
	return positionMs
}
