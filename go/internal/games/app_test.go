package games

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/bideuchre/go/internal/game/machine"
	"github.com/mcdev12/bideuchre/go/internal/models"
	"github.com/mcdev12/bideuchre/go/internal/outbox"
)

type testGame struct {
	app     *App
	repo    *MemoryRepository
	id      uuid.UUID
	players map[models.Position]uuid.UUID
}

func newTestApp(t *testing.T, opts Options) (*App, *MemoryRepository) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	repo := NewMemoryRepository(clock)
	opts.Clock = clock
	if opts.NewSeed == nil {
		opts.NewSeed = func() int64 { return 1234 }
	}
	return NewApp(repo, opts), repo
}

// startedTestGame creates a game and seats all four players.
func startedTestGame(t *testing.T) *testGame {
	t.Helper()
	ctx := context.Background()
	app, repo := newTestApp(t, Options{})

	cfg, err := app.NewGame(ctx)
	require.NoError(t, err)

	g := &testGame{app: app, repo: repo, id: cfg.ID, players: make(map[models.Position]uuid.UUID)}
	for _, pos := range models.Positions {
		resp, err := app.JoinGame(ctx, JoinGameRequest{GameID: cfg.ID, Position: pos, FriendlyName: "player " + string(pos)})
		require.NoError(t, err)
		g.players[pos] = resp.PlayerID
	}
	return g
}

func (g *testGame) awaited(t *testing.T) models.Position {
	t.Helper()
	pub, err := g.app.GetPublicState(context.Background(), g.id)
	require.NoError(t, err)
	require.NotNil(t, pub)
	return pub.Context.AwaitedPlayer
}

func (g *testGame) bid(pos models.Position, bid machine.Bid, existing int) (*SendGameEventResponse, error) {
	return g.app.SendGameEvent(context.Background(), SendGameEventRequest{
		GameID:             g.id,
		PlayerID:           g.players[pos],
		Event:              machine.PlayerBid(pos, bid),
		ExistingEventCount: existing,
	})
}

func TestNewGameWaitsForPlayers(t *testing.T) {
	ctx := context.Background()
	app, repo := newTestApp(t, Options{})

	cfg, err := app.NewGame(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.GameStatusWaitingToStart, cfg.Status)
	assert.Empty(t, cfg.Players)

	pub, err := app.GetPublicState(ctx, cfg.ID)
	require.NoError(t, err)
	assert.Nil(t, pub)

	stored, err := app.GetFullState(ctx, cfg.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.EventCount)
	assert.Equal(t, 0, *stored.EventCount)
	assert.Equal(t, "runGame.entry", stored.Snapshot.Value.String())

	assert.Len(t, repo.OutboxOfType(outbox.EventTypeGameConfigChanged), 1)
}

func TestNewGameRetriesIDCollision(t *testing.T) {
	ctx := context.Background()
	taken := uuid.New()
	fresh := uuid.New()
	ids := []uuid.UUID{taken, taken, fresh}
	app, _ := newTestApp(t, Options{NewID: func() uuid.UUID {
		id := ids[0]
		ids = ids[1:]
		return id
	}})

	first, err := app.NewGame(ctx)
	require.NoError(t, err)
	assert.Equal(t, taken, first.ID)

	second, err := app.NewGame(ctx)
	require.NoError(t, err)
	assert.Equal(t, fresh, second.ID)
}

func TestNewGameGivesUpAfterRepeatedCollisions(t *testing.T) {
	ctx := context.Background()
	taken := uuid.New()
	app, _ := newTestApp(t, Options{NewID: func() uuid.UUID { return taken }})

	_, err := app.NewGame(ctx)
	require.NoError(t, err)

	_, err = app.NewGame(ctx)
	assert.ErrorIs(t, err, ErrTransaction)
}

func TestJoinGameStartsWhenFull(t *testing.T) {
	ctx := context.Background()
	g := startedTestGame(t)

	cfg, err := g.app.GetGameConfig(ctx, g.id)
	require.NoError(t, err)
	assert.Equal(t, models.GameStatusStarted, cfg.Status)
	require.Len(t, cfg.Players, 4)
	for i, pos := range models.Positions {
		assert.Equal(t, pos, cfg.Players[i].Position)
	}

	pub, err := g.app.GetPublicState(ctx, g.id)
	require.NoError(t, err)
	require.NotNil(t, pub)
	assert.Equal(t, 2, pub.Context.EventCount)
	assert.Equal(t, 1, pub.Context.PreviousEventCount)
	assert.Equal(t, "runGame.round.bidding.waitForPlayerToBid", pub.Value.String())
	assert.Equal(t, pub.Context.Dealer.Next(), pub.Context.AwaitedPlayer)

	for pos, id := range g.players {
		priv, err := g.app.GetPrivateState(ctx, g.id, id)
		require.NoError(t, err)
		require.NotNil(t, priv)
		assert.Equal(t, pos, priv.Position)
		assert.Equal(t, 2, priv.EventCount)
		assert.Len(t, priv.Hand, 6)
	}

	log, err := g.app.GetEventLog(ctx, g.id)
	require.NoError(t, err)
	require.Len(t, log, 1)
	assert.Equal(t, machine.EventStartGame, log[0].Event.Type)
	assert.Nil(t, log[0].PlayerID)
	assert.Equal(t, 0, log[0].ExistingEventCount)
	assert.Equal(t, 2, log[0].ResultEventCount)
}

func TestJoinGameValidation(t *testing.T) {
	ctx := context.Background()
	app, _ := newTestApp(t, Options{})
	cfg, err := app.NewGame(ctx)
	require.NoError(t, err)

	tests := []struct {
		name string
		req  JoinGameRequest
		want error
	}{
		{"missing game", JoinGameRequest{Position: models.PositionNorth, FriendlyName: "a"}, ErrInvalidArgument},
		{"bad position", JoinGameRequest{GameID: cfg.ID, Position: "center", FriendlyName: "a"}, ErrInvalidArgument},
		{"blank name", JoinGameRequest{GameID: cfg.ID, Position: models.PositionNorth, FriendlyName: "   "}, ErrInvalidArgument},
		{"unknown game", JoinGameRequest{GameID: uuid.New(), Position: models.PositionNorth, FriendlyName: "a"}, ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := app.JoinGame(ctx, tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestJoinGameSeatTaken(t *testing.T) {
	ctx := context.Background()
	app, _ := newTestApp(t, Options{})
	cfg, err := app.NewGame(ctx)
	require.NoError(t, err)

	_, err = app.JoinGame(ctx, JoinGameRequest{GameID: cfg.ID, Position: models.PositionEast, FriendlyName: "ann"})
	require.NoError(t, err)

	_, err = app.JoinGame(ctx, JoinGameRequest{GameID: cfg.ID, Position: models.PositionEast, FriendlyName: "bob"})
	assert.ErrorIs(t, err, ErrSeatTaken)
}

func TestJoinGameReturnsSeat(t *testing.T) {
	ctx := context.Background()
	app, _ := newTestApp(t, Options{})
	cfg, err := app.NewGame(ctx)
	require.NoError(t, err)

	resp, err := app.JoinGame(ctx, JoinGameRequest{GameID: cfg.ID, Position: models.PositionSouth, FriendlyName: "  ann  "})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, resp.PlayerID)
	assert.Equal(t, cfg.ID, resp.GameID)
	assert.Equal(t, models.PositionSouth, resp.Position)
	assert.Equal(t, "ann", resp.FriendlyName)
	require.Len(t, resp.Config.Players, 1)
}

func TestJoinGameRetriesPlayerIDCollision(t *testing.T) {
	ctx := context.Background()
	gameID, taken, fresh := uuid.New(), uuid.New(), uuid.New()
	ids := []uuid.UUID{gameID, taken, taken, fresh}
	app, repo := newTestApp(t, Options{NewID: func() uuid.UUID {
		id := ids[0]
		ids = ids[1:]
		return id
	}})
	_, err := app.NewGame(ctx)
	require.NoError(t, err)

	first, err := app.JoinGame(ctx, JoinGameRequest{GameID: gameID, Position: models.PositionNorth, FriendlyName: "ann"})
	require.NoError(t, err)
	assert.Equal(t, taken, first.PlayerID)

	second, err := app.JoinGame(ctx, JoinGameRequest{GameID: gameID, Position: models.PositionEast, FriendlyName: "bob"})
	require.NoError(t, err)
	assert.Equal(t, fresh, second.PlayerID)

	players, err := repo.GetPlayers(ctx, gameID)
	require.NoError(t, err)
	assert.Len(t, players, 2)
}

// failingStartRepository fails the first StartGame calls the way a dropped
// database connection would.
type failingStartRepository struct {
	*MemoryRepository
	failures int
}

func (r *failingStartRepository) StartGame(ctx context.Context, id uuid.UUID, expected int, next machine.Snapshot) (*models.GameConfig, error) {
	if r.failures > 0 {
		r.failures--
		return nil, errors.New("connection reset")
	}
	return r.MemoryRepository.StartGame(ctx, id, expected, next)
}

func TestFailedStartLeavesGameJoinable(t *testing.T) {
	ctx := context.Background()
	repo := &failingStartRepository{MemoryRepository: NewMemoryRepository(clockwork.NewFakeClock()), failures: 1}
	app := NewApp(repo, Options{Clock: clockwork.NewFakeClock(), NewSeed: func() int64 { return 1234 }})

	cfg, err := app.NewGame(ctx)
	require.NoError(t, err)
	for _, pos := range models.Positions[:3] {
		_, err := app.JoinGame(ctx, JoinGameRequest{GameID: cfg.ID, Position: pos, FriendlyName: "player " + string(pos)})
		require.NoError(t, err)
	}
	last := models.Positions[3]

	_, err = app.JoinGame(ctx, JoinGameRequest{GameID: cfg.ID, Position: last, FriendlyName: "late"})
	require.ErrorIs(t, err, ErrTransaction)

	cfg, err = app.GetGameConfig(ctx, cfg.ID)
	require.NoError(t, err)
	assert.Equal(t, models.GameStatusWaitingToStart, cfg.Status)
	assert.Len(t, cfg.Players, 3)
	stored, err := app.GetFullState(ctx, cfg.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, *stored.EventCount)
	assert.Equal(t, "runGame.entry", stored.Snapshot.Value.String())

	resp, err := app.JoinGame(ctx, JoinGameRequest{GameID: cfg.ID, Position: last, FriendlyName: "late"})
	require.NoError(t, err)
	assert.Equal(t, models.GameStatusStarted, resp.Config.Status)
	assert.Len(t, resp.Config.Players, 4)

	pub, err := app.GetPublicState(ctx, cfg.ID)
	require.NoError(t, err)
	require.NotNil(t, pub)
	assert.Equal(t, 2, pub.Context.EventCount)
}

func TestJoinStartedGame(t *testing.T) {
	g := startedTestGame(t)

	_, err := g.app.JoinGame(context.Background(), JoinGameRequest{GameID: g.id, Position: models.PositionNorth, FriendlyName: "late"})
	assert.ErrorIs(t, err, ErrInvalidPhase)
}

func TestSendGameEventAppliesBid(t *testing.T) {
	ctx := context.Background()
	g := startedTestGame(t)
	pos := g.awaited(t)

	resp, err := g.bid(pos, 3, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, resp.EventCount)

	pub, err := g.app.GetPublicState(ctx, g.id)
	require.NoError(t, err)
	assert.Equal(t, 3, pub.Context.EventCount)
	assert.Equal(t, 2, pub.Context.PreviousEventCount)
	require.NotNil(t, pub.Context.Bids[pos])
	assert.Equal(t, machine.Bid(3), *pub.Context.Bids[pos])
	assert.Equal(t, pos.Next(), pub.Context.AwaitedPlayer)

	log, err := g.app.GetEventLog(ctx, g.id)
	require.NoError(t, err)
	require.Len(t, log, 2)
	assert.Equal(t, g.players[pos], *log[1].PlayerID)
	assert.Equal(t, 2, log[1].ExistingEventCount)
	assert.Equal(t, 3, log[1].ResultEventCount)
}

func TestSendGameEventStaleState(t *testing.T) {
	ctx := context.Background()
	g := startedTestGame(t)
	pos := g.awaited(t)

	before, err := g.app.GetFullState(ctx, g.id)
	require.NoError(t, err)

	_, err = g.bid(pos, 3, 1)
	assert.ErrorIs(t, err, ErrStaleState)

	after, err := g.app.GetFullState(ctx, g.id)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

// racingRepository commits another writer's event between the stale check
// and the compare-and-swap.
type racingRepository struct {
	*MemoryRepository
	before func()
}

func (r *racingRepository) CompareAndSwapState(ctx context.Context, id uuid.UUID, expected int, next machine.Snapshot) error {
	if f := r.before; f != nil {
		r.before = nil
		f()
	}
	return r.MemoryRepository.CompareAndSwapState(ctx, id, expected, next)
}

func TestSendGameEventLosesRaceToConcurrentWriter(t *testing.T) {
	ctx := context.Background()
	g := startedTestGame(t)
	pos := g.awaited(t)

	racing := &racingRepository{MemoryRepository: g.repo}
	racing.before = func() {
		_, err := g.bid(pos, 2, 2)
		require.NoError(t, err)
	}
	app := NewApp(racing, Options{Clock: clockwork.NewFakeClock()})

	_, err := app.SendGameEvent(ctx, SendGameEventRequest{
		GameID:             g.id,
		PlayerID:           g.players[pos],
		Event:              machine.PlayerBid(pos, 3),
		ExistingEventCount: 2,
	})
	assert.ErrorIs(t, err, ErrStaleState)

	stored, err := g.app.GetFullState(ctx, g.id)
	require.NoError(t, err)
	assert.Equal(t, 3, *stored.EventCount)

	pub, err := g.app.GetPublicState(ctx, g.id)
	require.NoError(t, err)
	require.NotNil(t, pub.Context.Bids[pos])
	assert.Equal(t, machine.Bid(2), *pub.Context.Bids[pos])

	log, err := g.app.GetEventLog(ctx, g.id)
	require.NoError(t, err)
	assert.Len(t, log, 2)
}

func TestLateProjectionWriteDoesNotRegress(t *testing.T) {
	ctx := context.Background()
	g := startedTestGame(t)
	pos := g.awaited(t)
	_, err := g.bid(pos, 3, 2)
	require.NoError(t, err)

	history, err := g.repo.GetHistory(ctx, g.id)
	require.NoError(t, err)
	require.Len(t, history, 3)

	err = g.repo.WriteProjections(ctx, ProjectionWrite{
		GameID:    g.id,
		Snapshots: []EncodedSnapshot{history[0]},
	})
	require.NoError(t, err)

	pub, err := g.app.GetPublicState(ctx, g.id)
	require.NoError(t, err)
	assert.Equal(t, 3, pub.Context.EventCount)
	priv, err := g.app.GetPrivateState(ctx, g.id, g.players[pos])
	require.NoError(t, err)
	assert.Equal(t, 3, priv.EventCount)
}

func TestSendGameEventUnauthorized(t *testing.T) {
	ctx := context.Background()
	g := startedTestGame(t)
	pos := g.awaited(t)
	other := pos.Next()

	t.Run("acting for another seat", func(t *testing.T) {
		_, err := g.app.SendGameEvent(ctx, SendGameEventRequest{
			GameID:             g.id,
			PlayerID:           g.players[other],
			Event:              machine.PlayerBid(pos, 3),
			ExistingEventCount: 2,
		})
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("unknown player", func(t *testing.T) {
		_, err := g.app.SendGameEvent(ctx, SendGameEventRequest{
			GameID:             g.id,
			PlayerID:           uuid.New(),
			Event:              machine.PlayerBid(pos, 3),
			ExistingEventCount: 2,
		})
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	stored, err := g.app.GetFullState(ctx, g.id)
	require.NoError(t, err)
	assert.Equal(t, 2, *stored.EventCount)
}

func TestSendGameEventInvalidTransition(t *testing.T) {
	g := startedTestGame(t)
	pos := g.awaited(t)

	tests := []struct {
		name string
		pos  models.Position
		bid  machine.Bid
	}{
		{"out of turn", pos.Next(), 3},
		{"not a bid", pos, 7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := g.bid(tt.pos, tt.bid, 2)
			assert.ErrorIs(t, err, ErrInvalidTransition)
		})
	}

	t.Run("system event", func(t *testing.T) {
		_, err := g.app.SendGameEvent(context.Background(), SendGameEventRequest{
			GameID:             g.id,
			PlayerID:           g.players[pos],
			Event:              machine.Event{Type: machine.EventStartGame, Position: pos},
			ExistingEventCount: 2,
		})
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})
}

func TestSendGameEventBeforeStart(t *testing.T) {
	ctx := context.Background()
	app, _ := newTestApp(t, Options{})
	cfg, err := app.NewGame(ctx)
	require.NoError(t, err)
	joined, err := app.JoinGame(ctx, JoinGameRequest{GameID: cfg.ID, Position: models.PositionNorth, FriendlyName: "ann"})
	require.NoError(t, err)

	_, err = app.SendGameEvent(ctx, SendGameEventRequest{
		GameID:   cfg.ID,
		PlayerID: joined.PlayerID,
		Event:    machine.PlayerBid(models.PositionNorth, 3),
	})
	assert.ErrorIs(t, err, ErrInvalidPhase)
}

func TestProjectionFailureIsRepairable(t *testing.T) {
	ctx := context.Background()
	g := startedTestGame(t)
	pos := g.awaited(t)

	g.repo.FailProjections = true
	resp, err := g.bid(pos, 3, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, resp.EventCount)

	g.repo.FailProjections = false
	pub, err := g.app.GetPublicState(ctx, g.id)
	require.NoError(t, err)
	assert.Equal(t, 2, pub.Context.EventCount, "projection lags the full snapshot")

	require.NoError(t, g.app.RepublishProjections(ctx, g.id))

	pub, err = g.app.GetPublicState(ctx, g.id)
	require.NoError(t, err)
	assert.Equal(t, 3, pub.Context.EventCount)

	log, err := g.app.GetEventLog(ctx, g.id)
	require.NoError(t, err)
	assert.Len(t, log, 1, "republishing does not append to the event log")
}

func TestStoredNullCountsAreIntegrityErrors(t *testing.T) {
	g := startedTestGame(t)
	pos := g.awaited(t)

	g.repo.mu.Lock()
	g.repo.games[g.id].eventCount = nil
	g.repo.mu.Unlock()

	_, err := g.bid(pos, 3, 2)
	assert.ErrorIs(t, err, ErrIntegrity)
}

func TestGetHistory(t *testing.T) {
	ctx := context.Background()
	g := startedTestGame(t)
	pos := g.awaited(t)
	_, err := g.bid(pos, 3, 2)
	require.NoError(t, err)

	t.Run("spectator", func(t *testing.T) {
		h, err := g.app.GetHistory(ctx, g.id, nil)
		require.NoError(t, err)
		require.Len(t, h.Public, 3)
		for i, pub := range h.Public {
			assert.Equal(t, i+1, pub.Context.EventCount)
		}
		assert.Empty(t, h.Private)
	})

	t.Run("player", func(t *testing.T) {
		id := g.players[pos]
		h, err := g.app.GetHistory(ctx, g.id, &id)
		require.NoError(t, err)
		require.Len(t, h.Private, 3)
		for i, priv := range h.Private {
			assert.Equal(t, i+1, priv.EventCount)
			assert.Equal(t, pos, priv.Position)
		}
	})

	t.Run("stranger", func(t *testing.T) {
		id := uuid.New()
		_, err := g.app.GetHistory(ctx, g.id, &id)
		assert.ErrorIs(t, err, ErrUnauthorized)
	})
}

func TestGetSnapshotsMatchFullState(t *testing.T) {
	ctx := context.Background()
	g := startedTestGame(t)

	snaps, err := g.app.GetSnapshots(ctx, g.id)
	require.NoError(t, err)
	require.Len(t, snaps, 2)

	stored, err := g.app.GetFullState(ctx, g.id)
	require.NoError(t, err)
	assert.Equal(t, stored.Snapshot.Context.EventCount, snaps[1].Context.EventCount)
	assert.Equal(t, stored.Snapshot.Value, snaps[1].Value)
}

func TestPrivateStateRequiresSeat(t *testing.T) {
	g := startedTestGame(t)

	_, err := g.app.GetPrivateState(context.Background(), g.id, uuid.New())
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestOutboxCarriesPrivatePayloads(t *testing.T) {
	g := startedTestGame(t)

	private := g.repo.OutboxOfType(outbox.EventTypePrivateStateChanged)
	require.Len(t, private, 8, "two snapshots for four players")

	seen := make(map[uuid.UUID]int)
	for _, rec := range private {
		var payload PrivateStatePayload
		require.NoError(t, json.Unmarshal(rec.Payload, &payload))
		seen[payload.PlayerID]++
		assert.NotContains(t, string(g.repo.OutboxOfType(outbox.EventTypePublicStateChanged)[0].Payload), `"hand"`)
	}
	for _, id := range g.players {
		assert.Equal(t, 2, seen[id])
	}
}
