package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/auxroom/auxroom/internal/audio"
	"github.com/auxroom/auxroom/internal/repository"
	"github.com/auxroom/auxroom/internal/session"
	"github.com/auxroom/auxroom/internal/spotify"
)

// Server owns the websocket surface: one connection per client, room
// membership by guild, command dispatch into the playback engine.
type Server struct {
	repo        *repository.Repo
	sessions    *session.Registry
	backend     audio.Backend
	spotify     *spotify.Resolver // nil when not configured
	hub         *Hub
	importLimit int
}

func New(repo *repository.Repo, sessions *session.Registry, backend audio.Backend, resolver *spotify.Resolver, hub *Hub, importLimit int) *Server {
	return &Server{
		repo:        repo,
		sessions:    sessions,
		backend:     backend,
		spotify:     resolver,
		hub:         hub,
		importLimit: importLimit,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade", "err", err)
		return
	}
	c := &client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}
	go c.writePump()
	s.readLoop(r.Context(), c)
}

func (s *Server) readLoop(ctx context.Context, c *client) {
	defer s.hub.remove(c)

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var f frame
		if err := json.Unmarshal(raw, &f); err != nil {
			s.sendError(c, errors.New("malformed frame"))
			continue
		}
		s.dispatch(ctx, c, f)
	}
}

func (s *Server) dispatch(ctx context.Context, c *client, f frame) {
	if f.Event == evJoinGuild {
		s.handleJoin(ctx, c, f.Data)
		return
	}

	guild := c.room()
	if guild == "" {
		// Commands from clients that never joined a room carry no guild
		// context and are dropped.
		slog.Debug("command before join ignored", "client", c.id, "event", f.Event)
		return
	}

	var err error
	switch f.Event {
	case evGetPlaylist:
		err = s.sendPlaylist(ctx, c, guild)
	case evAddSong:
		var p addSongPayload
		if err = json.Unmarshal(f.Data, &p); err == nil {
			err = s.addSong(ctx, guild, p)
		}
	case evImportPlaylist:
		var p importPlaylistPayload
		if err = json.Unmarshal(f.Data, &p); err == nil {
			err = s.importPlaylist(ctx, guild, p)
		}
	case evPlaySong:
		var p songRefPayload
		if err = json.Unmarshal(f.Data, &p); err == nil {
			err = s.playSong(ctx, guild, p.SongID)
		}
	case evPauseSong:
		err = s.sessions.GetOrCreate(guild).Pause(ctx)
	case evResumeSong:
		err = s.sessions.GetOrCreate(guild).Resume(ctx)
	case evSkipSong:
		err = s.sessions.GetOrCreate(guild).Skip(ctx)
	case evPreviousSong:
		err = s.sessions.GetOrCreate(guild).Previous(ctx)
	case evToggleShuffle:
		s.sessions.GetOrCreate(guild).ToggleShuffle()
	case evToggleRepeat:
		s.sessions.GetOrCreate(guild).ToggleRepeat()
	case evSeekSong:
		var p seekPayload
		if err = json.Unmarshal(f.Data, &p); err == nil {
			_, err = s.sessions.GetOrCreate(guild).Seek(ctx, p.Position)
		}
	case evDeleteSong:
		var p songRefPayload
		if err = json.Unmarshal(f.Data, &p); err == nil {
			err = s.deleteSong(ctx, guild, p.SongID)
		}
	case evReorderPlaylist:
		var p reorderPayload
		if err = json.Unmarshal(f.Data, &p); err == nil {
			err = s.reorderPlaylist(ctx, guild, p.SongIDs)
		}
	case evClearPlaylist:
		err = s.clearPlaylist(ctx, guild)
	default:
		slog.Debug("unknown event", "client", c.id, "event", f.Event)
		return
	}

	if err != nil {
		slog.Warn("command failed", "guildID", guild, "event", f.Event, "err", err)
		s.sendError(c, err)
	}
}

// handleJoin puts the client in the guild room and primes it with the
// current queue and playback snapshot.
func (s *Server) handleJoin(ctx context.Context, c *client, data json.RawMessage) {
	var p joinGuildPayload
	if err := json.Unmarshal(data, &p); err != nil || p.GuildID == "" {
		s.sendError(c, errors.New("join_guild requires a guildId"))
		return
	}
	s.hub.join(c, p.GuildID)

	if err := s.sendPlaylist(ctx, c, p.GuildID); err != nil {
		s.sendError(c, err)
		return
	}
	sendTo(c, evPlaybackState, s.sessions.GetOrCreate(p.GuildID).Snapshot())
}

func (s *Server) sendPlaylist(ctx context.Context, c *client, guild string) error {
	tracks, err := s.repo.ListTracks(ctx, guild)
	if err != nil {
		return err
	}
	if tracks == nil {
		tracks = []repository.Track{}
	}
	sendTo(c, evPlaylistUpdated, tracks)
	return nil
}

// addSong resolves the query, persists the enriched track, and starts
// playback if the room is idle. Spotify links fan out into one search per
// track.
func (s *Server) addSong(ctx context.Context, guild string, p addSongPayload) error {
	if p.URL == "" {
		return errors.New("add_song requires a url")
	}

	if s.spotify != nil && spotify.IsSpotifyLink(p.URL) {
		queries, _, err := s.spotify.Expand(ctx, p.URL, s.importLimit)
		if err != nil {
			return err
		}
		if len(queries) == 0 {
			return errors.New("spotify link resolved to no tracks")
		}
		added, skipped := 0, 0
		for _, q := range queries {
			if _, err := s.resolveAndAdd(ctx, guild, q, p); err != nil {
				skipped++
				continue
			}
			added++
		}
		if added == 0 {
			return errors.New("no tracks could be resolved")
		}
		if skipped > 0 {
			slog.Info("spotify add finished with skips", "guildID", guild, "added", added, "skipped", skipped)
		}
		return nil
	}

	_, err := s.resolveAndAdd(ctx, guild, p.URL, p)
	return err
}

func (s *Server) resolveAndAdd(ctx context.Context, guild, query string, p addSongPayload) (repository.Track, error) {
	query = audio.SanitizeYouTubeURL(query)
	resolved, err := s.backend.Resolve(ctx, query)
	if err != nil {
		return repository.Track{}, err
	}
	stored, err := s.insertResolved(ctx, guild, *resolved, p.AddedBy, p)
	if err != nil {
		return repository.Track{}, err
	}
	s.autoplay(ctx, guild, stored)
	return stored, nil
}

// insertResolved builds the row from the backend's metadata, falling back to
// the client's guesses only where the backend reported nothing.
func (s *Server) insertResolved(ctx context.Context, guild string, resolved audio.Track, addedBy string, hint addSongPayload) (repository.Track, error) {
	tr := repository.Track{
		GuildID:    guild,
		Title:      resolved.Title,
		URL:        resolved.URI,
		URI:        resolved.URI,
		Author:     resolved.Author,
		Thumbnail:  resolved.ArtworkURL,
		DurationMs: resolved.DurationMs,
		IsStream:   resolved.IsStream,
		SourceName: resolved.SourceName,
		Identifier: resolved.Identifier,
		AddedBy:    addedBy,
	}
	if tr.Title == "" {
		tr.Title = hint.Title
	}
	if tr.URL == "" {
		tr.URL = hint.URL
	}
	if tr.Thumbnail == "" {
		tr.Thumbnail = hint.Thumbnail
	}
	if tr.DurationMs == 0 {
		tr.DurationMs = hint.Duration
	}

	stored, err := s.repo.AddTrack(ctx, tr)
	if err != nil {
		return repository.Track{}, err
	}
	s.hub.TrackAdded(guild, stored)
	return stored, nil
}

func (s *Server) autoplay(ctx context.Context, guild string, tr repository.Track) {
	sess := s.sessions.GetOrCreate(guild)
	if sess.Snapshot().Status != session.StatusIdle {
		return
	}
	if err := sess.Play(ctx, tr); err != nil {
		slog.Warn("autoplay after add", "guildID", guild, "title", tr.Title, "err", err)
	}
}

// importPlaylist bulk-inserts a playlist's tracks in order. Per-track
// failures are skipped, not fatal.
func (s *Server) importPlaylist(ctx context.Context, guild string, p importPlaylistPayload) error {
	if p.URL == "" {
		return errors.New("import_playlist requires a url")
	}

	hint := addSongPayload{AddedBy: p.AddedBy}
	added, skipped := 0, 0

	if s.spotify != nil && spotify.IsSpotifyLink(p.URL) {
		queries, name, err := s.spotify.Expand(ctx, p.URL, s.importLimit)
		if err != nil {
			return err
		}
		for _, q := range queries {
			if _, err := s.resolveAndAdd(ctx, guild, q, hint); err != nil {
				skipped++
				continue
			}
			added++
		}
		slog.Info("playlist imported", "guildID", guild, "name", name, "added", added, "skipped", skipped)
	} else {
		pl, err := s.backend.ResolvePlaylist(ctx, p.URL)
		if err != nil {
			return err
		}
		for _, t := range pl.Tracks {
			if s.importLimit > 0 && added >= s.importLimit {
				break
			}
			stored, err := s.insertResolved(ctx, guild, t, p.AddedBy, hint)
			if err != nil {
				skipped++
				continue
			}
			added++
			s.autoplay(ctx, guild, stored)
		}
		slog.Info("playlist imported", "guildID", guild, "name", pl.Name, "added", added, "skipped", skipped)
	}

	if added == 0 {
		return errors.New("no tracks could be imported")
	}
	tracks, err := s.repo.ListTracks(ctx, guild)
	if err != nil {
		return err
	}
	s.hub.PlaylistUpdated(guild, tracks)
	return nil
}

func (s *Server) playSong(ctx context.Context, guild string, id int64) error {
	tr, err := s.repo.GetTrack(ctx, id)
	if err != nil {
		return err
	}
	if tr == nil || tr.GuildID != guild {
		return errors.New("song not found")
	}
	return s.sessions.GetOrCreate(guild).Play(ctx, *tr)
}

func (s *Server) deleteSong(ctx context.Context, guild string, id int64) error {
	tr, err := s.repo.GetTrack(ctx, id)
	if err != nil {
		return err
	}
	if tr == nil || tr.GuildID != guild {
		return errors.New("song not found")
	}
	if err := s.repo.DeleteTrack(ctx, id); err != nil {
		return err
	}
	s.hub.TrackDeleted(guild, id)
	tracks, err := s.repo.ListTracks(ctx, guild)
	if err != nil {
		return err
	}
	s.hub.PlaylistUpdated(guild, tracks)
	return nil
}

// reorderPlaylist applies the new order transactionally; a failed reorder
// broadcasts nothing, so clients keep the last good order.
func (s *Server) reorderPlaylist(ctx context.Context, guild string, ids []int64) error {
	if len(ids) == 0 {
		return errors.New("reorder_playlist requires songIds")
	}
	if err := s.repo.Reorder(ctx, guild, ids); err != nil {
		return err
	}
	tracks, err := s.repo.ListTracks(ctx, guild)
	if err != nil {
		return err
	}
	s.hub.PlaylistUpdated(guild, tracks)
	return nil
}

// clearPlaylist empties the queue before stopping playback. The stop's async
// track-end event must observe an empty queue, otherwise a repeat-enabled
// session would advance onto rows that are about to vanish.
func (s *Server) clearPlaylist(ctx context.Context, guild string) error {
	if err := s.repo.ClearTracks(ctx, guild); err != nil {
		return err
	}
	s.sessions.GetOrCreate(guild).Stop(ctx)
	s.hub.PlaylistUpdated(guild, nil)
	return nil
}

func (s *Server) sendError(c *client, err error) {
	sendTo(c, evError, errorPayload{Message: err.Error()})
}
