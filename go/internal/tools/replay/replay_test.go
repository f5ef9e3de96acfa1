package main

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/bideuchre/go/internal/game/machine"
	"github.com/mcdev12/bideuchre/go/internal/game/runner"
	"github.com/mcdev12/bideuchre/go/internal/games"
	"github.com/mcdev12/bideuchre/go/internal/models"
)

func playedGame(t *testing.T) (*games.App, uuid.UUID) {
	t.Helper()
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	app := games.NewApp(games.NewMemoryRepository(clock), games.Options{
		Clock:   clock,
		NewSeed: func() int64 { return 31 },
	})
	cfg, err := app.NewGame(ctx)
	require.NoError(t, err)

	players := make(map[models.Position]uuid.UUID)
	for _, pos := range models.Positions {
		resp, err := app.JoinGame(ctx, games.JoinGameRequest{GameID: cfg.ID, Position: pos, FriendlyName: string(pos)})
		require.NoError(t, err)
		players[pos] = resp.PlayerID
	}

	for i := 0; i < 2; i++ {
		pub, err := app.GetPublicState(ctx, cfg.ID)
		require.NoError(t, err)
		pos := pub.Context.AwaitedPlayer
		_, err = app.SendGameEvent(ctx, games.SendGameEventRequest{
			GameID:             cfg.ID,
			PlayerID:           players[pos],
			Event:              machine.PlayerBid(pos, machine.Pass),
			ExistingEventCount: pub.Context.EventCount,
		})
		require.NoError(t, err)
	}
	return app, cfg.ID
}

func TestReplayMatchesStoredGame(t *testing.T) {
	app, id := playedGame(t)

	report, err := replayGame(context.Background(), app, runner.New(runner.DefaultConfig()), id)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Events)
	assert.Equal(t, 4, report.Snapshots)
	assert.Equal(t, 4, report.Replayed)
	assert.Nil(t, report.Divergence)
}

type tamperedSource struct {
	*games.App
	at int
}

func (s tamperedSource) GetSnapshots(ctx context.Context, id uuid.UUID) ([]machine.Snapshot, error) {
	snaps, err := s.App.GetSnapshots(ctx, id)
	if err != nil {
		return nil, err
	}
	snaps[s.at].Context.RoundNumber += 10
	return snaps, nil
}

func TestReplayReportsFirstDivergence(t *testing.T) {
	app, id := playedGame(t)

	report, err := replayGame(context.Background(), tamperedSource{App: app, at: 2}, runner.New(runner.DefaultConfig()), id)
	require.NoError(t, err)
	require.NotNil(t, report.Divergence)
	assert.Equal(t, 3, report.Divergence.EventCount)
	assert.NotEqual(t, report.Divergence.Stored, report.Divergence.Replayed)
}

func TestReplayWithoutHistory(t *testing.T) {
	ctx := context.Background()
	app := games.NewApp(games.NewMemoryRepository(clockwork.NewFakeClock()), games.Options{})
	cfg, err := app.NewGame(ctx)
	require.NoError(t, err)

	_, err = replayGame(ctx, app, runner.New(runner.DefaultConfig()), cfg.ID)
	assert.ErrorIs(t, err, errNoHistory)
}

func TestFirstDivergenceOnLengthMismatch(t *testing.T) {
	s := machine.Initial(1, models.PositionNorth, 32)
	s.Context.EventCount = 1

	d, err := firstDivergence([]machine.Snapshot{s}, nil)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, 1, d.EventCount)
	assert.Nil(t, d.Replayed)
}
