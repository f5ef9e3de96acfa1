package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/jonboulle/clockwork"

	"github.com/mcdev12/bideuchre/go/internal/dbconfig"
	"github.com/mcdev12/bideuchre/go/internal/games"
	"github.com/mcdev12/bideuchre/go/internal/models"
)

// Table mirrors one entry of the tables JSON: a friendly name per seat.
// Tables with fewer than four seats stay waiting for players.
type Table struct {
	Seats map[models.Position]string `json:"seats"`
}

func main() {
	path := "go/internal/assets/tables.json"
	if len(os.Args) > 1 {
		path = os.Args[1]
	}

	// 1) Load the tables
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read JSON: %v\n", err)
		os.Exit(1)
	}
	var tables []Table
	if err := json.Unmarshal(data, &tables); err != nil {
		fmt.Fprintf(os.Stderr, "unmarshal JSON: %v\n", err)
		os.Exit(1)
	}

	// 2) Connect using shared dbconfig
	ctx := context.Background()
	pool, err := dbconfig.NewConfigFromEnv().NewPool(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	clock := clockwork.NewRealClock()
	app := games.NewApp(games.NewRepository(pool, clock), games.Options{Clock: clock})

	// 3) Create and seat
	var started, waiting, errs int
	for i, table := range tables {
		cfg, err := seedTable(ctx, app, table)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error seeding table %d: %v\n", i, err)
			errs++
			continue
		}
		if cfg.Status == models.GameStatusStarted {
			started++
		} else {
			waiting++
		}
		fmt.Printf("%s %s\n", cfg.ID, cfg.Status)
	}

	// 4) Print summary
	fmt.Printf(
		"Games seed complete: %d total, %d started, %d waiting, %d errors\n",
		len(tables), started, waiting, errs,
	)
}

func seedTable(ctx context.Context, app *games.App, table Table) (*models.GameConfig, error) {
	cfg, err := app.NewGame(ctx)
	if err != nil {
		return nil, err
	}
	for _, pos := range models.Positions {
		name, ok := table.Seats[pos]
		if !ok {
			continue
		}
		resp, err := app.JoinGame(ctx, games.JoinGameRequest{GameID: cfg.ID, Position: pos, FriendlyName: name})
		if err != nil {
			return nil, fmt.Errorf("seat %s: %w", pos, err)
		}
		cfg = resp.Config
	}
	return cfg, nil
}
