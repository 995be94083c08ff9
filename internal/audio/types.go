package audio

// Track is the backend-resolved description of a playable item. Duration and
// metadata reported here are authoritative over anything a client supplied.
type Track struct {
	Encoded    string
	Identifier string
	Title      string
	Author     string
	URI        string
	ArtworkURL string
	DurationMs int64
	IsStream   bool
	SourceName string
}

type Playlist struct {
	Name   string
	Tracks []Track
}

// End reasons reported by the node. EndReasonReplaced means a new play
// superseded the track and must not trigger queue advancement.
const (
	EndReasonFinished   = "finished"
	EndReasonLoadFailed = "loadFailed"
	EndReasonStopped    = "stopped"
	EndReasonReplaced   = "replaced"
	EndReasonCleanup    = "cleanup"
)

type EventKind int

const (
	EventTrackStart EventKind = iota
	EventTrackEnd
	EventTrackStuck
	EventTrackException
	EventPlayerUpdate
)

// Event is an asynchronous notification from the node, scoped to one guild.
type Event struct {
	GuildID    string
	Kind       EventKind
	Reason     string // set for EventTrackEnd
	PositionMs int64  // set for EventPlayerUpdate
	Paused     bool   // set for EventPlayerUpdate
	Err        error  // set for EventTrackException
}
