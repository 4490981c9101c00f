package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/kritsadaz/sketchduel/go/internal/config"
	"github.com/kritsadaz/sketchduel/go/internal/gateway"
	"github.com/kritsadaz/sketchduel/go/internal/reaper"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs

	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("no .env file loaded")
	}

	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	clock := clockwork.NewRealClock()

	store, cleanup, err := setupStore(cfg)
	if err != nil {
		log.Fatal().Err(err).Str("store", cfg.Store).Msg("failed to set up room store")
	}
	defer cleanup()

	sweeper := reaper.New(store, clock, cfg.RoomTTL)
	sched, err := sweeper.StartPeriodic(cfg.ReaperInterval)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start background reaper")
	}
	defer func() {
		if err := sched.Shutdown(); err != nil {
			log.Warn().Err(err).Msg("reaper scheduler shutdown failed")
		}
	}()

	gw := gateway.New(store, clock, cfg, gateway.DefaultConnectionConfig())
	server := gateway.NewServer(gw, cfg.Port)

	go func() {
		log.Info().Str("addr", server.Addr).Str("store", cfg.Store).Msg("sketchduel gateway listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Forfeit writes for live matches happen here; server.Shutdown leaves
	// upgraded WebSocket connections alone.
	gw.Shutdown(shutdownCtx)

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}
}
