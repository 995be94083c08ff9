package config

import (
	"errors"
	"os"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	DiscordToken string `env:"DISCORD_TOKEN"`

	// Lavalink-compatible node the audio is rendered on.
	LavalinkHost     string `env:"LAVALINK_HOST" envDefault:"localhost:2333"`
	LavalinkPassword string `env:"LAVALINK_PASSWORD" envDefault:"youshallnotpass"`
	LavalinkSecure   bool   `env:"LAVALINK_SECURE" envDefault:"false"`

	SpotifyClientID     string `env:"SPOTIFY_CLIENT_ID"`
	SpotifyClientSecret string `env:"SPOTIFY_CLIENT_SECRET"`

	DataDir    string `env:"DATA_DIR" envDefault:"./data"`
	ListenAddr string `env:"LISTEN_ADDR" envDefault:":3000"`

	// Cadence of the position broadcast loop, in milliseconds.
	BroadcastIntervalMs int `env:"BROADCAST_INTERVAL_MS" envDefault:"100"`

	PlaylistImportLimit int `env:"PLAYLIST_IMPORT_LIMIT" envDefault:"200"`
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	_ = os.MkdirAll(cfg.DataDir, 0o755)
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.DiscordToken == "" {
		return errors.New("DISCORD_TOKEN required")
	}
	if c.LavalinkHost == "" {
		return errors.New("LAVALINK_HOST required")
	}
	if c.BroadcastIntervalMs <= 0 {
		return errors.New("BROADCAST_INTERVAL_MS must be positive")
	}
	return nil
}

// SpotifyEnabled reports whether spotify link expansion is configured.
func (c *Config) SpotifyEnabled() bool {
	return c.SpotifyClientID != "" && c.SpotifyClientSecret != ""
}
