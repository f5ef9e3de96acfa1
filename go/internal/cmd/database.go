package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/bideuchre/go/internal/dbconfig"
	"github.com/mcdev12/bideuchre/go/internal/games"
)

// setupRepository connects to Postgres, or keeps games in memory when
// GAME_STORE=memory. The returned pool is nil for the memory store.
func setupRepository(ctx context.Context, clock clockwork.Clock) (games.GameRepository, *pgxpool.Pool, error) {
	if getEnv("GAME_STORE", "postgres") == "memory" {
		log.Warn().Msg("Using in-memory game store; games are lost on restart and no outbox is relayed")
		return games.NewMemoryRepository(clock), nil, nil
	}

	dbConfig := dbconfig.NewConfigFromEnv()
	pool, err := dbConfig.NewPool(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	log.Info().
		Str("user", dbConfig.User).
		Str("host", dbConfig.Host).
		Int("port", dbConfig.Port).
		Str("database", dbConfig.Database).
		Msg("Connected to database")
	return games.NewRepository(pool, clock), pool, nil
}
