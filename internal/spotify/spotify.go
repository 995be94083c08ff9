package spotify

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2/clientcredentials"
)

// Resolver expands spotify links into per-track search queries the audio
// node can load. The node never talks to spotify itself.
type Resolver struct {
	raw *spotify.Client
}

func New(clientID, clientSecret string) *Resolver {
	cfg := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     spotifyauth.TokenURL,
	}
	httpClient := cfg.Client(context.Background())
	return &Resolver{raw: spotify.New(httpClient, spotify.WithRetry(true))}
}

// IsSpotifyLink reports whether raw looks like a spotify URL or URI, without
// validating the referenced resource.
func IsSpotifyLink(raw string) bool {
	if strings.HasPrefix(raw, "spotify:") {
		return true
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return u.Host == "open.spotify.com" || u.Host == "www.open.spotify.com"
}

// ParseLink extracts the resource kind and id from a spotify URL or
// spotify: URI.
func ParseLink(raw string) (kind string, id spotify.ID, err error) {
	if strings.HasPrefix(raw, "spotify:") {
		parts := strings.Split(raw, ":")
		if len(parts) == 3 {
			return parts[1], spotify.ID(parts[2]), nil
		}
		return "", "", fmt.Errorf("invalid spotify URI %q", raw)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", err
	}
	if u.Host != "open.spotify.com" && u.Host != "www.open.spotify.com" {
		return "", "", fmt.Errorf("not a spotify URL")
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 {
		return "", "", fmt.Errorf("invalid spotify URL path")
	}
	switch parts[0] {
	case "track", "playlist", "album":
		return parts[0], spotify.ID(parts[1]), nil
	}
	return "", "", fmt.Errorf("unsupported spotify type %q", parts[0])
}

// Expand resolves a spotify link to search queries, one per track, capped at
// limit (0 means uncapped). The returned name is the playlist or album title,
// empty for single tracks.
func (r *Resolver) Expand(ctx context.Context, raw string, limit int) (queries []string, name string, err error) {
	kind, id, err := ParseLink(raw)
	if err != nil {
		return nil, "", err
	}
	switch kind {
	case "track":
		t, err := r.raw.GetTrack(ctx, id)
		if err != nil {
			return nil, "", err
		}
		return []string{searchQuery(t.Name, firstArtist(t.Artists))}, "", nil
	case "album":
		return r.expandAlbum(ctx, id, limit)
	case "playlist":
		return r.expandPlaylist(ctx, id, limit)
	}
	return nil, "", fmt.Errorf("unsupported spotify type %q", kind)
}

func (r *Resolver) expandAlbum(ctx context.Context, id spotify.ID, limit int) ([]string, string, error) {
	alb, err := r.raw.GetAlbum(ctx, id)
	if err != nil {
		return nil, "", err
	}
	page, err := r.raw.GetAlbumTracks(ctx, id)
	if err != nil {
		return nil, "", err
	}
	out := make([]string, 0, page.Total)
	for {
		for _, t := range page.Tracks {
			if limit > 0 && len(out) >= limit {
				return out, alb.Name, nil
			}
			out = append(out, searchQuery(t.Name, firstArtist(t.Artists)))
		}
		if page.Next == "" {
			break
		}
		if err := r.raw.NextPage(ctx, page); err != nil {
			break
		}
	}
	return out, alb.Name, nil
}

func (r *Resolver) expandPlaylist(ctx context.Context, id spotify.ID, limit int) ([]string, string, error) {
	pl, err := r.raw.GetPlaylist(ctx, id)
	if err != nil {
		return nil, "", err
	}
	page, err := r.raw.GetPlaylistItems(ctx, id)
	if err != nil {
		return nil, "", err
	}
	out := make([]string, 0, page.Total)
	for {
		for _, it := range page.Items {
			// Episodes and removed tracks come back with a nil track.
			if it.Track.Track == nil {
				continue
			}
			if limit > 0 && len(out) >= limit {
				return out, pl.Name, nil
			}
			t := it.Track.Track
			out = append(out, searchQuery(t.Name, firstArtist(t.Artists)))
		}
		if page.Next == "" {
			break
		}
		if err := r.raw.NextPage(ctx, page); err != nil {
			break
		}
	}
	return out, pl.Name, nil
}

func searchQuery(name, artist string) string {
	if artist == "" {
		return "ytsearch:" + name
	}
	return "ytsearch:" + name + " " + artist
}

func firstArtist(artists []spotify.SimpleArtist) string {
	if len(artists) == 0 {
		return ""
	}
	return artists[0].Name
}
