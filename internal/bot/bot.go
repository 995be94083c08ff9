package bot

import (
	"context"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/auxroom/auxroom/internal/audio"
	"github.com/auxroom/auxroom/internal/session"
)

// Bot runs the discord gateway side: it keeps the connection open and tears
// playback down when the voice channel empties out.
type Bot struct {
	dg       *discordgo.Session
	backend  audio.Backend
	sessions *session.Registry
}

func New(dg *discordgo.Session, backend audio.Backend, sessions *session.Registry) *Bot {
	return &Bot{dg: dg, backend: backend, sessions: sessions}
}

func (b *Bot) Run(ctx context.Context) error {
	b.dg.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildVoiceStates

	b.dg.AddHandler(func(s *discordgo.Session, _ *discordgo.Ready) {
		slog.Info("connected to discord", "user", s.State.User.Username)
	})
	b.dg.AddHandler(b.onVoiceStateUpdate)

	if err := b.dg.Open(); err != nil {
		return err
	}
	defer b.dg.Close()

	<-ctx.Done()
	return nil
}

// onVoiceStateUpdate stops playback and leaves when the last human listener
// leaves the bot's channel.
func (b *Bot) onVoiceStateUpdate(s *discordgo.Session, vs *discordgo.VoiceStateUpdate) {
	gid := vs.GuildID
	chID := botChannel(s, gid)
	if chID == "" {
		return
	}
	if nonBotListeners(s, gid, chID) > 0 {
		return
	}

	if sess := b.sessions.Peek(gid); sess != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		sess.ListenersLeft(ctx)
	}
	if err := b.backend.Leave(gid); err != nil {
		slog.Warn("leave voice", "guildID", gid, "err", err)
	}
}

func botChannel(s *discordgo.Session, guildID string) string {
	if s.State == nil || s.State.User == nil {
		return ""
	}
	vs, err := s.State.VoiceState(guildID, s.State.User.ID)
	if err != nil || vs == nil {
		return ""
	}
	return vs.ChannelID
}

func nonBotListeners(s *discordgo.Session, guildID, channelID string) int {
	g, _ := s.State.Guild(guildID)
	if g == nil {
		return 0
	}
	n := 0
	for _, vs := range g.VoiceStates {
		if vs.ChannelID != channelID {
			continue
		}
		m, _ := s.State.Member(guildID, vs.UserID)
		if m != nil && m.User != nil && !m.User.Bot {
			n++
		}
	}
	return n
}
