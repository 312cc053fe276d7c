package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"callroom/native/internal/config"
	"callroom/native/internal/relay"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly})

	cfg, err := config.LoadRelay()
	if err != nil {
		log.Fatal().Str("component", "main").Err(err).Msg("load config")
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	store := relay.NewStore()
	hub := relay.NewHub(store)
	go hub.Run()

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           relay.NewServer(store, hub, cfg.PublicURL).NewRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("component", "main").Str("addr", cfg.ListenAddr).Str("public_url", cfg.PublicURL).Msg("starting relay")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Str("component", "main").Err(err).Msg("listen")
		}
	}()

	quit := make(chan os.Signal, 1)
	ossignal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	log.Info().Str("component", "main").Msg("shutting down relay")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Str("component", "main").Err(err).Msg("forced shutdown")
	}

	hub.Stop()
	log.Info().Str("component", "main").Msg("relay exited")
}
