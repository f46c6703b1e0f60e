package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/socrefy/matchdesk/go/internal/config"
)

func main() {
	setupLogging(config.LogConfig{Level: "info", Console: true})

	cfg, err := config.Load(getEnv("MATCHDESK_CONFIG", ""))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	setupLogging(cfg.Log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	recorder, db := setupJournal(ctx, cfg)
	if db != nil {
		defer db.Close()
	}

	services := setupServices(cfg, recorder)
	defer services.Close()

	server := setupServer(cfg, services)

	log.Info().
		Str("environment", cfg.Environment).
		Str("api_base_url", cfg.API.BaseURL).
		Str("realtime_driver", services.RealtimeDriver).
		Bool("journal", db != nil).
		Str("port", cfg.Server.Port).
		Msg("starting matchdesk console")

	consoleDone := make(chan struct{})
	go func() {
		defer close(consoleDone)
		services.Console.Start(ctx)
	}()

	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan

	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	// Closes every viewer and control room before the realtime connection goes away.
	cancel()
	<-consoleDone

	log.Info().Msg("matchdesk shutdown complete")
}
