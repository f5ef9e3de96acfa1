package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("Could not load .env file")
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})

	config, err := loadConfig(getEnv("CONFIG_PATH", "config.yaml"))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	zerolog.SetGlobalLevel(config.logLevel())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clock := clockwork.NewRealClock()
	repo, pool, err := setupRepository(ctx, clock)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to set up game store")
	}
	if pool != nil {
		defer pool.Close()
	}

	services := setupServices(repo, config, clock)
	server := setupServer(services, config, pool)

	go func() {
		log.Info().
			Str("addr", server.Addr).
			Int("target_score", config.Game.TargetScore).
			Int("max_steps", config.Runner.MaxSteps).
			Msg("Starting game server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down game server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(getEnvAsInt("SHUTDOWN_TIMEOUT_SEC", 10))*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Graceful shutdown failed")
	}
}
