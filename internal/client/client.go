package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/auxroom/auxroom/internal/repository"
	"github.com/auxroom/auxroom/internal/session"
)

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Client is a programmatic room participant: it speaks the websocket
// protocol and keeps a reconciled local view of the playback state.
type Client struct {
	conn *websocket.Conn
	rec  *Reconciler

	writeMu sync.Mutex

	// Optional callbacks, invoked from Run's goroutine.
	OnPlaylist    func([]repository.Track)
	OnTrackAdded  func(repository.Track)
	OnTrackGone   func(int64)
	OnServerError func(string)
}

// Dial connects to a room server at url (e.g. ws://host:3000/ws).
func Dial(ctx context.Context, url string, rec *Reconciler) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		rec = NewReconciler(nil)
	}
	return &Client{conn: conn, rec: rec}, nil
}

func (c *Client) Close() error { return c.conn.Close() }

func (c *Client) State() session.PlaybackState { return c.rec.State() }

func (c *Client) write(event string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	msg, err := json.Marshal(frame{Event: event, Data: raw})
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, msg)
}

func (c *Client) Join(guildID string) error {
	return c.write("join_guild", map[string]string{"guildId": guildID})
}

func (c *Client) AddSong(url, addedBy string) error {
	return c.write("add_song", map[string]string{"url": url, "addedBy": addedBy})
}

func (c *Client) ImportPlaylist(url, addedBy string) error {
	return c.write("import_playlist", map[string]string{"url": url, "addedBy": addedBy})
}

func (c *Client) PlaySong(id int64) error {
	return c.write("play_song", map[string]int64{"songId": id})
}

// Pause applies optimistically before the server confirms.
func (c *Client) Pause() error {
	c.rec.OptimisticPause()
	return c.write("pause_song", struct{}{})
}

func (c *Client) Resume() error {
	return c.write("resume_song", struct{}{})
}

func (c *Client) Skip() error {
	return c.write("skip_song", struct{}{})
}

func (c *Client) Previous() error {
	return c.write("previous_song", struct{}{})
}

func (c *Client) ToggleShuffle() error {
	return c.write("toggle_shuffle", struct{}{})
}

func (c *Client) ToggleRepeat() error {
	return c.write("toggle_repeat", struct{}{})
}

// Seek applies optimistically before the server confirms.
func (c *Client) Seek(positionMs int64) error {
	c.rec.OptimisticSeek(positionMs)
	return c.write("seek_song", map[string]int64{"position": positionMs})
}

func (c *Client) DeleteSong(id int64) error {
	return c.write("delete_song", map[string]int64{"songId": id})
}

func (c *Client) Reorder(ids []int64) error {
	return c.write("reorder_playlist", map[string][]int64{"songIds": ids})
}

func (c *Client) ClearPlaylist() error {
	return c.write("clear_playlist", struct{}{})
}

// Run reads server frames until the connection drops or ctx is done.
func (c *Client) Run(ctx context.Context) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			c.conn.Close()
		case <-done:
		}
	}()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		var f frame
		if err := json.Unmarshal(raw, &f); err != nil {
			return fmt.Errorf("malformed server frame: %w", err)
		}
		if err := c.handle(f); err != nil {
			return err
		}
	}
}

func (c *Client) handle(f frame) error {
	switch f.Event {
	case "playback_state":
		var snap session.PlaybackState
		if err := json.Unmarshal(f.Data, &snap); err != nil {
			return err
		}
		c.rec.ApplyState(snap)
	case "player_update":
		var tick session.Tick
		if err := json.Unmarshal(f.Data, &tick); err != nil {
			return err
		}
		c.rec.ApplyTick(tick)
	case "playlist_updated":
		var tracks []repository.Track
		if err := json.Unmarshal(f.Data, &tracks); err != nil {
			return err
		}
		if c.OnPlaylist != nil {
			c.OnPlaylist(tracks)
		}
	case "song_added":
		var tr repository.Track
		if err := json.Unmarshal(f.Data, &tr); err != nil {
			return err
		}
		if c.OnTrackAdded != nil {
			c.OnTrackAdded(tr)
		}
	case "song_deleted":
		var p struct {
			SongID int64 `json:"songId"`
		}
		if err := json.Unmarshal(f.Data, &p); err != nil {
			return err
		}
		if c.OnTrackGone != nil {
			c.OnTrackGone(p.SongID)
		}
	case "error":
		var p struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(f.Data, &p); err != nil {
			return err
		}
		if c.OnServerError != nil {
			c.OnServerError(p.Message)
		}
	}
	return nil
}
