package server

import "encoding/json"

// frame is the single envelope both directions share on the wire.
type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Inbound events.
const (
	evJoinGuild       = "join_guild"
	evGetPlaylist     = "get_playlist"
	evAddSong         = "add_song"
	evImportPlaylist  = "import_playlist"
	evPlaySong        = "play_song"
	evPauseSong       = "pause_song"
	evResumeSong      = "resume_song"
	evSkipSong        = "skip_song"
	evPreviousSong    = "previous_song"
	evToggleShuffle   = "toggle_shuffle"
	evToggleRepeat    = "toggle_repeat"
	evSeekSong        = "seek_song"
	evDeleteSong      = "delete_song"
	evReorderPlaylist = "reorder_playlist"
	evClearPlaylist   = "clear_playlist"
)

// Outbound events.
const (
	evPlaylistUpdated = "playlist_updated"
	evSongAdded       = "song_added"
	evSongDeleted     = "song_deleted"
	evPlaybackState   = "playback_state"
	evPlayerUpdate    = "player_update"
	evError           = "error"
)

type joinGuildPayload struct {
	GuildID string `json:"guildId"`
}

type addSongPayload struct {
	URL       string `json:"url"`
	Title     string `json:"title"`
	Thumbnail string `json:"thumbnail"`
	Duration  int64  `json:"duration"`
	AddedBy   string `json:"addedBy"`
}

type importPlaylistPayload struct {
	URL     string `json:"url"`
	AddedBy string `json:"addedBy"`
}

type songRefPayload struct {
	SongID int64 `json:"songId"`
}

type seekPayload struct {
	Position int64 `json:"position"`
}

type reorderPayload struct {
	SongIDs []int64 `json:"songIds"`
}

type errorPayload struct {
	Message string `json:"message"`
}

func encodeFrame(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(frame{Event: event, Data: raw})
}
