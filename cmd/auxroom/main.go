package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"
	_ "github.com/mattn/go-sqlite3"

	"github.com/auxroom/auxroom/internal/audio"
	"github.com/auxroom/auxroom/internal/bot"
	"github.com/auxroom/auxroom/internal/config"
	"github.com/auxroom/auxroom/internal/repository"
	"github.com/auxroom/auxroom/internal/server"
	"github.com/auxroom/auxroom/internal/session"
	"github.com/auxroom/auxroom/internal/spotify"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	db, err := repository.OpenDB(cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()
	repo := repository.NewRepo(db)

	dg, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		log.Fatal(err)
	}

	node := audio.NewNode(cfg, dg)
	hub := server.NewHub()
	sessions := session.NewRegistry(repo, node, hub)

	var resolver *spotify.Resolver
	if cfg.SpotifyEnabled() {
		resolver = spotify.New(cfg.SpotifyClientID, cfg.SpotifyClientSecret)
		slog.Info("spotify link expansion enabled")
	}

	srv := server.New(repo, sessions, node, resolver, hub, cfg.PlaylistImportLimit)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go node.Run(ctx)
	go sessions.Consume(ctx, node.Events())

	broadcaster := session.NewBroadcaster(sessions, hub,
		time.Duration(cfg.BroadcastIntervalMs)*time.Millisecond)
	go broadcaster.Run(ctx)

	httpSrv := &http.Server{Addr: cfg.ListenAddr, Handler: srv.Handler()}
	go func() {
		slog.Info("listening", "addr", cfg.ListenAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server", "err", err)
			cancel()
		}
	}()

	if err := bot.New(dg, node, sessions).Run(ctx); err != nil {
		slog.Error("discord gateway", "err", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = httpSrv.Shutdown(shutdownCtx)
}
