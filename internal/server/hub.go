package server

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/auxroom/auxroom/internal/repository"
	"github.com/auxroom/auxroom/internal/session"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte

	mu      sync.Mutex
	guildID string
}

func (c *client) room() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.guildID
}

// writePump drains the send channel onto the connection and keeps the
// connection alive with pings. It owns all writes to the socket.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Hub tracks which clients are in which guild room and fans room-scoped
// events out to them. It is the engine's Notifier.
type Hub struct {
	mu    sync.Mutex
	rooms map[string]map[*client]struct{}
}

func NewHub() *Hub {
	return &Hub{rooms: make(map[string]map[*client]struct{})}
}

// join moves the client into the guild's room, leaving any previous room.
func (h *Hub) join(c *client, guildID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c.mu.Lock()
	prev := c.guildID
	c.guildID = guildID
	c.mu.Unlock()

	if prev != "" {
		delete(h.rooms[prev], c)
		if len(h.rooms[prev]) == 0 {
			delete(h.rooms, prev)
		}
	}
	if h.rooms[guildID] == nil {
		h.rooms[guildID] = make(map[*client]struct{})
	}
	h.rooms[guildID][c] = struct{}{}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room := c.room()
	if room != "" {
		delete(h.rooms[room], c)
		if len(h.rooms[room]) == 0 {
			delete(h.rooms, room)
		}
	}
	close(c.send)
}

// RoomSize reports the number of clients joined to a guild's room.
func (h *Hub) RoomSize(guildID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[guildID])
}

func (h *Hub) broadcast(guildID, event string, data any) {
	msg, err := encodeFrame(event, data)
	if err != nil {
		slog.Error("encode broadcast frame", "event", event, "err", err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.rooms[guildID] {
		sendRaw(c, msg)
	}
}

func sendTo(c *client, event string, data any) {
	msg, err := encodeFrame(event, data)
	if err != nil {
		slog.Error("encode frame", "event", event, "err", err)
		return
	}
	sendRaw(c, msg)
}

// sendRaw never blocks; a client that cannot keep up loses frames rather
// than stalling the room.
func sendRaw(c *client, msg []byte) {
	select {
	case c.send <- msg:
	default:
		slog.Warn("client send buffer full, dropping frame", "client", c.id)
	}
}

func (h *Hub) PlaylistUpdated(guildID string, tracks []repository.Track) {
	if tracks == nil {
		tracks = []repository.Track{}
	}
	h.broadcast(guildID, evPlaylistUpdated, tracks)
}

func (h *Hub) TrackAdded(guildID string, track repository.Track) {
	h.broadcast(guildID, evSongAdded, track)
}

func (h *Hub) TrackDeleted(guildID string, trackID int64) {
	h.broadcast(guildID, evSongDeleted, songRefPayload{SongID: trackID})
}

func (h *Hub) PlaybackState(guildID string, snap session.PlaybackState) {
	h.broadcast(guildID, evPlaybackState, snap)
}

func (h *Hub) PlayerUpdate(guildID string, tick session.Tick) {
	h.broadcast(guildID, evPlayerUpdate, tick)
}
