package main

import (
	"github.com/jonboulle/clockwork"

	"github.com/mcdev12/bideuchre/go/internal/game/runner"
	"github.com/mcdev12/bideuchre/go/internal/games"
)

type Services struct {
	Games    *games.Service
	GamesApp *games.App
}

func setupServices(repo games.GameRepository, config *Config, clock clockwork.Clock) *Services {
	// Repository layer → App layer → Service layer
	gamesApp := games.NewApp(repo, games.Options{
		TargetScore: config.Game.TargetScore,
		Runner:      runner.New(config.runnerConfig()),
		Clock:       clock,
	})
	gamesService := games.NewService(gamesApp)

	return &Services{
		Games:    gamesService,
		GamesApp: gamesApp,
	}
}
