package session

import (
	"encoding/json"
	"fmt"

	"github.com/auxroom/auxroom/internal/repository"
)

type Status int

const (
	StatusPlaying Status = iota
	StatusPaused
	StatusIdle
)

func (s Status) String() string {
	switch s {
	case StatusPlaying:
		return "playing"
	case StatusPaused:
		return "paused"
	default:
		return "idle"
	}
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Status) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch raw {
	case "playing":
		*s = StatusPlaying
	case "paused":
		*s = StatusPaused
	case "idle":
		*s = StatusIdle
	default:
		return fmt.Errorf("unknown status %q", raw)
	}
	return nil
}

// PlaybackState is the full per-guild snapshot. It is a value: every
// transition replaces it wholesale, so readers never observe a torn state.
type PlaybackState struct {
	Status       Status            `json:"status"`
	CurrentTrack *repository.Track `json:"currentSong"`
	PositionMs   int64             `json:"position"`
	DurationMs   int64             `json:"duration"`
	Shuffle      bool              `json:"isShuffle"`
	Repeat       bool              `json:"isRepeat"`
}

// Tick is the lightweight periodic position update.
type Tick struct {
	PositionMs int64  `json:"position"`
	DurationMs int64  `json:"duration"`
	Status     Status `json:"status"`
	Shuffle    bool   `json:"isShuffle"`
	Repeat     bool   `json:"isRepeat"`
}

// Notifier fans room-scoped updates out to the guild's connected clients.
type Notifier interface {
	PlaylistUpdated(guildID string, tracks []repository.Track)
	TrackAdded(guildID string, track repository.Track)
	TrackDeleted(guildID string, trackID int64)
	PlaybackState(guildID string, snap PlaybackState)
	PlayerUpdate(guildID string, tick Tick)
}
