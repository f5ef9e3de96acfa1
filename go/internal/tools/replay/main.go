// Command replay re-runs a game's event log through the runner and
// reports the first snapshot that differs from what was stored.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/bideuchre/go/internal/dbconfig"
	"github.com/mcdev12/bideuchre/go/internal/game/runner"
	"github.com/mcdev12/bideuchre/go/internal/games"
)

func main() {
	gameFlag := flag.String("game", "", "game id to replay")
	republish := flag.Bool("republish", false, "rewrite the game's projections from the current state")
	maxSteps := flag.Int("max-steps", runner.DefaultMaxSteps, "runner step bound")
	verbose := flag.Bool("v", false, "log every replayed transition")
	flag.Parse()

	_ = godotenv.Load()
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	gameID, err := uuid.Parse(*gameFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid -game: %v\n", err)
		os.Exit(2)
	}

	ctx := context.Background()
	pool, err := dbconfig.NewConfigFromEnv().NewPool(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	clock := clockwork.NewRealClock()
	r := runner.New(runner.Config{MaxSteps: *maxSteps, Mode: runner.DefaultConfig().Mode})
	app := games.NewApp(games.NewRepository(pool, clock), games.Options{Runner: r, Clock: clock})

	report, err := replayGame(ctx, app, r, gameID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "replay failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Replay of %s: %d events, %d stored snapshots, %d replayed\n",
		gameID, report.Events, report.Snapshots, report.Replayed)

	exit := 0
	if d := report.Divergence; d != nil {
		fmt.Printf("First divergence at event count %d\n  stored:   %s\n  replayed: %s\n", d.EventCount, d.Stored, d.Replayed)
		exit = 3
	} else {
		fmt.Println("Replay matches stored snapshots")
	}

	if *republish {
		if err := app.RepublishProjections(ctx, gameID); err != nil {
			fmt.Fprintf(os.Stderr, "republish failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Projections republished")
	}
	os.Exit(exit)
}
