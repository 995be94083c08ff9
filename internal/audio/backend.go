package audio

import (
	"context"
	"errors"
)

var (
	// ErrNoTracks is returned when the node cannot resolve a query to
	// anything playable.
	ErrNoTracks = errors.New("no tracks found")
	// ErrNoVoiceChannel is returned when no joinable voice channel with
	// listeners exists in the guild.
	ErrNoVoiceChannel = errors.New("no joinable voice channel with listeners")
	// ErrNodeUnavailable is returned when the node connection is down.
	ErrNodeUnavailable = errors.New("audio node unavailable")
)

// Backend is the narrow surface the session engine drives. Voice-channel
// membership and node selection are the backend's business; the engine never
// sees them.
type Backend interface {
	// Resolve turns a URL or search query into a single playable track.
	Resolve(ctx context.Context, query string) (*Track, error)

	// ResolvePlaylist resolves a playlist URL into its name and tracks.
	ResolvePlaylist(ctx context.Context, url string) (*Playlist, error)

	// JoinAndPlay joins a voice channel if needed and starts playback,
	// returning the resolved track. On error nothing is left playing.
	JoinAndPlay(ctx context.Context, guildID, uri string) (*Track, error)

	Pause(ctx context.Context, guildID string) error
	Resume(ctx context.Context, guildID string) error
	Stop(ctx context.Context, guildID string) error

	// Seek moves playback while keeping the given pause state in the same
	// logical operation; it reports whether the player is paused afterwards.
	Seek(ctx context.Context, guildID string, positionMs int64, keepPaused bool) (bool, error)

	// Leave disconnects the bot from the guild's voice channel.
	Leave(guildID string) error
}
