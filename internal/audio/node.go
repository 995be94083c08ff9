package audio

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/gorilla/websocket"

	"github.com/auxroom/auxroom/internal/config"
)

const clientName = "auxroom/1.0"

// Node talks to a Lavalink-compatible audio node: track resolution and player
// commands over REST, lifecycle events over the node websocket. It also owns
// voice-channel membership for the bot, forwarding Discord voice credentials
// to the node.
type Node struct {
	cfg    *config.Config
	dg     *discordgo.Session
	httpc  *http.Client
	events chan Event

	mu        sync.Mutex
	sessionID string
	voice     map[string]*voiceCreds
	paused    map[string]bool
}

type voiceCreds struct {
	token     string
	endpoint  string
	sessionID string
}

func NewNode(cfg *config.Config, dg *discordgo.Session) *Node {
	n := &Node{
		cfg:    cfg,
		dg:     dg,
		httpc:  &http.Client{Timeout: 10 * time.Second},
		events: make(chan Event, 64),
		voice:  make(map[string]*voiceCreds),
		paused: make(map[string]bool),
	}
	dg.AddHandler(n.onVoiceServerUpdate)
	dg.AddHandler(n.onVoiceStateUpdate)
	return n
}

// Events is the channel the session engine consumes. It is never closed.
func (n *Node) Events() <-chan Event { return n.events }

// Run maintains the node websocket, reconnecting until ctx is done.
func (n *Node) Run(ctx context.Context) {
	backoff := time.Second
	for {
		if err := n.connectAndRead(ctx); err != nil && ctx.Err() == nil {
			slog.Warn("node connection lost", "err", err)
		}
		n.mu.Lock()
		n.sessionID = ""
		n.mu.Unlock()

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func (n *Node) connectAndRead(ctx context.Context) error {
	scheme := "ws"
	if n.cfg.LavalinkSecure {
		scheme = "wss"
	}
	u := url.URL{Scheme: scheme, Host: n.cfg.LavalinkHost, Path: "/v4/websocket"}
	hdr := http.Header{}
	hdr.Set("Authorization", n.cfg.LavalinkPassword)
	hdr.Set("User-Id", n.dg.State.User.ID)
	hdr.Set("Client-Name", clientName)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), hdr)
	if err != nil {
		return err
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		n.handleMessage(data)
	}
}

type nodeMessage struct {
	Op        string `json:"op"`
	SessionID string `json:"sessionId"`
	GuildID   string `json:"guildId"`
	Type      string `json:"type"`
	Reason    string `json:"reason"`
	State     struct {
		Position  int64 `json:"position"`
		Connected bool  `json:"connected"`
	} `json:"state"`
	Exception struct {
		Message string `json:"message"`
	} `json:"exception"`
}

func (n *Node) handleMessage(data []byte) {
	var msg nodeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		slog.Warn("bad node message", "err", err)
		return
	}

	switch msg.Op {
	case "ready":
		n.mu.Lock()
		n.sessionID = msg.SessionID
		n.mu.Unlock()
		slog.Info("node ready", "sessionID", msg.SessionID)
	case "playerUpdate":
		n.emit(Event{
			GuildID:    msg.GuildID,
			Kind:       EventPlayerUpdate,
			PositionMs: msg.State.Position,
			Paused:     n.isPaused(msg.GuildID),
		})
	case "event":
		switch msg.Type {
		case "TrackStartEvent":
			n.emit(Event{GuildID: msg.GuildID, Kind: EventTrackStart})
		case "TrackEndEvent":
			n.emit(Event{GuildID: msg.GuildID, Kind: EventTrackEnd, Reason: msg.Reason})
		case "TrackStuckEvent":
			n.emit(Event{GuildID: msg.GuildID, Kind: EventTrackStuck})
		case "TrackExceptionEvent":
			n.emit(Event{
				GuildID: msg.GuildID,
				Kind:    EventTrackException,
				Err:     fmt.Errorf("track exception: %s", msg.Exception.Message),
			})
		}
	}
}

func (n *Node) emit(ev Event) {
	select {
	case n.events <- ev:
	default:
		slog.Warn("event buffer full, dropping", "guildID", ev.GuildID, "kind", ev.Kind)
	}
}

func (n *Node) isPaused(guildID string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.paused[guildID]
}

func (n *Node) setPaused(guildID string, paused bool) {
	n.mu.Lock()
	n.paused[guildID] = paused
	n.mu.Unlock()
}

// --- Discord voice plumbing ---

func (n *Node) onVoiceServerUpdate(_ *discordgo.Session, e *discordgo.VoiceServerUpdate) {
	n.mu.Lock()
	c := n.voice[e.GuildID]
	if c == nil {
		c = &voiceCreds{}
		n.voice[e.GuildID] = c
	}
	c.token = e.Token
	c.endpoint = e.Endpoint
	ready := c.sessionID != ""
	n.mu.Unlock()

	if ready {
		n.pushVoice(e.GuildID)
	}
}

func (n *Node) onVoiceStateUpdate(s *discordgo.Session, e *discordgo.VoiceStateUpdate) {
	if s.State.User == nil || e.UserID != s.State.User.ID {
		return
	}
	n.mu.Lock()
	if e.ChannelID == "" {
		delete(n.voice, e.GuildID)
		n.mu.Unlock()
		return
	}
	c := n.voice[e.GuildID]
	if c == nil {
		c = &voiceCreds{}
		n.voice[e.GuildID] = c
	}
	c.sessionID = e.SessionID
	ready := c.token != "" && c.endpoint != ""
	n.mu.Unlock()

	if ready {
		n.pushVoice(e.GuildID)
	}
}

func (n *Node) pushVoice(guildID string) {
	n.mu.Lock()
	c := n.voice[guildID]
	if c == nil || n.sessionID == "" {
		n.mu.Unlock()
		return
	}
	body := map[string]any{"voice": map[string]string{
		"token":     c.token,
		"endpoint":  c.endpoint,
		"sessionId": c.sessionID,
	}}
	n.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := n.updatePlayer(ctx, guildID, body); err != nil {
		slog.Warn("push voice update", "guildID", guildID, "err", err)
	}
}

// botVoiceChannel returns the channel the bot currently occupies, if any.
func (n *Node) botVoiceChannel(guildID string) string {
	g, err := n.dg.State.Guild(guildID)
	if err != nil || g == nil {
		return ""
	}
	for _, vs := range g.VoiceStates {
		if vs.UserID == n.dg.State.User.ID {
			return vs.ChannelID
		}
	}
	return ""
}

// pickVoiceChannel finds a voice channel with at least one non-bot member.
func (n *Node) pickVoiceChannel(guildID string) string {
	g, err := n.dg.State.Guild(guildID)
	if err != nil || g == nil {
		return ""
	}
	for _, vs := range g.VoiceStates {
		m, _ := n.dg.State.Member(guildID, vs.UserID)
		if m != nil && m.User != nil && !m.User.Bot {
			return vs.ChannelID
		}
	}
	return ""
}

func (n *Node) ensureVoice(ctx context.Context, guildID string) error {
	if n.botVoiceChannel(guildID) != "" {
		return nil
	}
	// A node player without a voice channel is stale; tear it down first.
	_ = n.destroyPlayer(ctx, guildID)

	chID := n.pickVoiceChannel(guildID)
	if chID == "" {
		return ErrNoVoiceChannel
	}
	slog.Info("joining voice channel", "guildID", guildID, "channelID", chID)
	if err := n.dg.ChannelVoiceJoinManual(guildID, chID, false, true); err != nil {
		return err
	}

	// Wait until Discord handed us voice credentials; the node needs them
	// before it can start playing.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		n.mu.Lock()
		c := n.voice[guildID]
		ready := c != nil && c.token != "" && c.sessionID != ""
		n.mu.Unlock()
		if ready {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
	return ErrNoVoiceChannel
}

// --- REST ---

func (n *Node) restURL(path string) string {
	scheme := "http"
	if n.cfg.LavalinkSecure {
		scheme = "https"
	}
	return scheme + "://" + n.cfg.LavalinkHost + "/v4" + path
}

func (n *Node) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, n.restURL(path), rd)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", n.cfg.LavalinkPassword)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := n.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("node %s %s: status %d: %s", method, path, resp.StatusCode, data)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (n *Node) currentSession() (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.sessionID == "" {
		return "", ErrNodeUnavailable
	}
	return n.sessionID, nil
}

func (n *Node) updatePlayer(ctx context.Context, guildID string, body map[string]any) error {
	sid, err := n.currentSession()
	if err != nil {
		return err
	}
	path := fmt.Sprintf("/sessions/%s/players/%s?noReplace=false", sid, guildID)
	return n.do(ctx, http.MethodPatch, path, body, nil)
}

func (n *Node) destroyPlayer(ctx context.Context, guildID string) error {
	sid, err := n.currentSession()
	if err != nil {
		return err
	}
	return n.do(ctx, http.MethodDelete, fmt.Sprintf("/sessions/%s/players/%s", sid, guildID), nil, nil)
}

type restTrack struct {
	Encoded string `json:"encoded"`
	Info    struct {
		Identifier string `json:"identifier"`
		Author     string `json:"author"`
		Length     int64  `json:"length"`
		IsStream   bool   `json:"isStream"`
		Title      string `json:"title"`
		URI        string `json:"uri"`
		SourceName string `json:"sourceName"`
		ArtworkURL string `json:"artworkUrl"`
	} `json:"info"`
}

func (rt restTrack) toTrack() Track {
	return Track{
		Encoded:    rt.Encoded,
		Identifier: rt.Info.Identifier,
		Title:      rt.Info.Title,
		Author:     rt.Info.Author,
		URI:        rt.Info.URI,
		ArtworkURL: rt.Info.ArtworkURL,
		DurationMs: rt.Info.Length,
		IsStream:   rt.Info.IsStream,
		SourceName: rt.Info.SourceName,
	}
}

type loadResult struct {
	LoadType string          `json:"loadType"`
	Data     json.RawMessage `json:"data"`
}

func (n *Node) loadTracks(ctx context.Context, identifier string) (*loadResult, error) {
	path := "/loadtracks?identifier=" + url.QueryEscape(identifier)
	var res loadResult
	if err := n.do(ctx, http.MethodGet, path, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (n *Node) Resolve(ctx context.Context, query string) (*Track, error) {
	res, err := n.loadTracks(ctx, SanitizeYouTubeURL(query))
	if err != nil {
		return nil, err
	}
	switch res.LoadType {
	case "track":
		var rt restTrack
		if err := json.Unmarshal(res.Data, &rt); err != nil {
			return nil, err
		}
		t := rt.toTrack()
		return &t, nil
	case "search":
		var rts []restTrack
		if err := json.Unmarshal(res.Data, &rts); err != nil {
			return nil, err
		}
		if len(rts) == 0 {
			return nil, ErrNoTracks
		}
		t := rts[0].toTrack()
		return &t, nil
	case "playlist":
		var pl struct {
			Tracks []restTrack `json:"tracks"`
		}
		if err := json.Unmarshal(res.Data, &pl); err != nil {
			return nil, err
		}
		if len(pl.Tracks) == 0 {
			return nil, ErrNoTracks
		}
		t := pl.Tracks[0].toTrack()
		return &t, nil
	default: // "empty", "error"
		return nil, ErrNoTracks
	}
}

func (n *Node) ResolvePlaylist(ctx context.Context, rawURL string) (*Playlist, error) {
	res, err := n.loadTracks(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	if res.LoadType != "playlist" {
		return nil, ErrNoTracks
	}
	var pl struct {
		Info struct {
			Name string `json:"name"`
		} `json:"info"`
		Tracks []restTrack `json:"tracks"`
	}
	if err := json.Unmarshal(res.Data, &pl); err != nil {
		return nil, err
	}
	out := &Playlist{Name: pl.Info.Name}
	if out.Name == "" {
		out.Name = "Unknown Playlist"
	}
	for _, rt := range pl.Tracks {
		out.Tracks = append(out.Tracks, rt.toTrack())
	}
	if len(out.Tracks) == 0 {
		return nil, ErrNoTracks
	}
	return out, nil
}

func (n *Node) JoinAndPlay(ctx context.Context, guildID, uri string) (*Track, error) {
	if _, err := n.currentSession(); err != nil {
		return nil, err
	}
	tr, err := n.Resolve(ctx, uri)
	if err != nil {
		return nil, err
	}
	if err := n.ensureVoice(ctx, guildID); err != nil {
		return nil, err
	}
	body := map[string]any{
		"track":    map[string]any{"encoded": tr.Encoded},
		"position": 0,
		"paused":   false,
	}
	if err := n.updatePlayer(ctx, guildID, body); err != nil {
		return nil, err
	}
	n.setPaused(guildID, false)
	slog.Info("playing track", "guildID", guildID, "title", tr.Title)
	return tr, nil
}

func (n *Node) Pause(ctx context.Context, guildID string) error {
	if err := n.updatePlayer(ctx, guildID, map[string]any{"paused": true}); err != nil {
		return err
	}
	n.setPaused(guildID, true)
	return nil
}

func (n *Node) Resume(ctx context.Context, guildID string) error {
	if err := n.updatePlayer(ctx, guildID, map[string]any{"paused": false}); err != nil {
		return err
	}
	n.setPaused(guildID, false)
	return nil
}

func (n *Node) Stop(ctx context.Context, guildID string) error {
	return n.updatePlayer(ctx, guildID, map[string]any{
		"track": map[string]any{"encoded": nil},
	})
}

func (n *Node) Seek(ctx context.Context, guildID string, positionMs int64, keepPaused bool) (bool, error) {
	// Position and pause state must go out in one update; a bare seek can
	// implicitly resume on some nodes.
	err := n.updatePlayer(ctx, guildID, map[string]any{
		"position": positionMs,
		"paused":   keepPaused,
	})
	if err != nil {
		return false, err
	}
	if keepPaused {
		// Some nodes auto-resume after a seek; force pause once more.
		if err := n.updatePlayer(ctx, guildID, map[string]any{"paused": true}); err != nil {
			return false, err
		}
	}
	n.setPaused(guildID, keepPaused)
	return keepPaused, nil
}

func (n *Node) Leave(guildID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = n.destroyPlayer(ctx, guildID)
	return n.dg.ChannelVoiceJoinManual(guildID, "", false, true)
}

// SanitizeYouTubeURL strips playlist parameters from YouTube watch URLs so a
// single video resolves instead of its surrounding playlist.
func SanitizeYouTubeURL(raw string) string {
	if !strings.Contains(raw, "youtube.com") && !strings.Contains(raw, "youtu.be") {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if v := u.Query().Get("v"); v != "" {
		return "https://www.youtube.com/watch?v=" + v
	}
	return raw
}
