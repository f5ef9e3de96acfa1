package games

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/bideuchre/go/internal/game/machine"
	"github.com/mcdev12/bideuchre/go/internal/game/projection"
	"github.com/mcdev12/bideuchre/go/internal/game/runner"
	"github.com/mcdev12/bideuchre/go/internal/models"
)

const (
	maxCreateAttempts  = 3
	maxFriendlyNameLen = 32
)

// GameRepository defines what the app layer needs from storage.
type GameRepository interface {
	// CreateGame stores a new game and its initial snapshot. It returns
	// ErrIDCollision if the id is taken.
	CreateGame(ctx context.Context, id uuid.UUID, initial machine.Snapshot) (*models.GameConfig, error)
	GetGameConfig(ctx context.Context, id uuid.UUID) (*models.GameConfig, error)
	GetPlayers(ctx context.Context, gameID uuid.UUID) ([]models.Player, error)
	// SeatPlayer returns ErrSeatTaken if the position is occupied and
	// ErrIDCollision if the player id is taken.
	SeatPlayer(ctx context.Context, player models.Player) (*models.GameConfig, error)
	// UnseatPlayer removes a player from a game that has not started.
	UnseatPlayer(ctx context.Context, gameID, playerID uuid.UUID) (*models.GameConfig, error)
	// UpdateGameStatus changes the status only if it currently equals from,
	// returning ErrInvalidPhase otherwise.
	UpdateGameStatus(ctx context.Context, id uuid.UUID, from, to models.GameStatus) (*models.GameConfig, error)
	GetFullState(ctx context.Context, id uuid.UUID) (*StoredState, error)
	// CompareAndSwapState replaces the full snapshot if the stored event
	// count still equals expected, returning ErrStaleState otherwise.
	CompareAndSwapState(ctx context.Context, id uuid.UUID, expected int, next machine.Snapshot) error
	// StartGame moves the game from waitingToStart to started and swaps in
	// next in one transaction. It returns ErrInvalidPhase if the game is
	// not waiting and ErrStaleState if the event count moved.
	StartGame(ctx context.Context, id uuid.UUID, expected int, next machine.Snapshot) (*models.GameConfig, error)
	WriteProjections(ctx context.Context, w ProjectionWrite) error
	GetPublicState(ctx context.Context, id uuid.UUID) (*projection.PublicSnapshot, error)
	GetPrivateState(ctx context.Context, id, playerID uuid.UUID) (*projection.PrivateContext, error)
	GetHistory(ctx context.Context, id uuid.UUID) ([]EncodedSnapshot, error)
	GetEventLog(ctx context.Context, id uuid.UUID) ([]LoggedEvent, error)
}

// Options configures an App.
type Options struct {
	TargetScore int
	Runner      *runner.Runner
	Clock       clockwork.Clock
	// NewID and NewSeed default to random sources.
	NewID   func() uuid.UUID
	NewSeed func() int64
}

// App runs the read-compute-write loop for games.
type App struct {
	repo        GameRepository
	runner      *runner.Runner
	clock       clockwork.Clock
	newID       func() uuid.UUID
	newSeed     func() int64
	targetScore int
}

// NewApp creates a new games App
func NewApp(repo GameRepository, opts Options) *App {
	if opts.Runner == nil {
		opts.Runner = runner.New(runner.DefaultConfig())
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.NewID == nil {
		opts.NewID = uuid.New
	}
	if opts.NewSeed == nil {
		opts.NewSeed = rand.Int64
	}
	if opts.TargetScore <= 0 {
		opts.TargetScore = machine.DefaultTargetScore
	}
	return &App{
		repo:        repo,
		runner:      opts.Runner,
		clock:       opts.Clock,
		newID:       opts.NewID,
		newSeed:     opts.NewSeed,
		targetScore: opts.TargetScore,
	}
}

// NewGame creates a game waiting for four players. Id collisions are
// retried a fixed number of times.
func (a *App) NewGame(ctx context.Context) (*models.GameConfig, error) {
	for attempt := 1; attempt <= maxCreateAttempts; attempt++ {
		id := a.newID()
		seed := a.newSeed()
		dealer := models.Positions[uint64(seed)%uint64(len(models.Positions))]

		cfg, err := a.repo.CreateGame(ctx, id, machine.Initial(seed, dealer, a.targetScore))
		if errors.Is(err, ErrIDCollision) {
			log.Warn().
				Str("game_id", id.String()).
				Int("attempt", attempt).
				Msg("Game id collision, retrying")
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%w: failed to create game: %w", ErrTransaction, err)
		}

		log.Info().Str("game_id", id.String()).Msg("Created game")
		return cfg, nil
	}
	return nil, fmt.Errorf("%w: no free game id after %d attempts", ErrTransaction, maxCreateAttempts)
}

// JoinGame seats a player. When the last seat fills the game starts.
func (a *App) JoinGame(ctx context.Context, req JoinGameRequest) (*JoinGameResponse, error) {
	if err := a.validateJoinGameRequest(&req); err != nil {
		return nil, err
	}

	cfg, err := a.repo.GetGameConfig(ctx, req.GameID)
	if err != nil {
		return nil, err
	}
	if cfg.Status != models.GameStatusWaitingToStart {
		return nil, fmt.Errorf("%w: game is %s", ErrInvalidPhase, cfg.Status)
	}
	if _, taken := cfg.Seat(req.Position); taken {
		return nil, fmt.Errorf("%w: %s", ErrSeatTaken, req.Position)
	}

	player := models.Player{
		GameID:       req.GameID,
		Position:     req.Position,
		FriendlyName: req.FriendlyName,
		JoinedAt:     a.clock.Now(),
	}
	for attempt := 1; ; attempt++ {
		player.ID = a.newID()
		cfg, err = a.repo.SeatPlayer(ctx, player)
		if !errors.Is(err, ErrIDCollision) || attempt == maxCreateAttempts {
			break
		}
		log.Warn().Str("player_id", player.ID.String()).Int("attempt", attempt).Msg("Player id collision, retrying")
	}
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("game_id", req.GameID.String()).
		Str("position", string(req.Position)).
		Msg("Player joined game")

	if cfg.Full() {
		if cfg, err = a.startGame(ctx, req.GameID); err != nil {
			// Free the seat so the whole join can be retried.
			if _, uerr := a.repo.UnseatPlayer(ctx, req.GameID, player.ID); uerr != nil {
				log.Error().Err(uerr).
					Str("game_id", req.GameID.String()).
					Str("player_id", player.ID.String()).
					Msg("Failed to release seat after failed start")
			}
			return nil, err
		}
	}
	return &JoinGameResponse{
		PlayerID:     player.ID,
		GameID:       req.GameID,
		Position:     player.Position,
		FriendlyName: player.FriendlyName,
		Config:       cfg,
	}, nil
}

func (a *App) validateJoinGameRequest(req *JoinGameRequest) error {
	if req.GameID == uuid.Nil {
		return fmt.Errorf("%w: game id is required", ErrInvalidArgument)
	}
	if !req.Position.Valid() {
		return fmt.Errorf("%w: invalid position %q", ErrInvalidArgument, req.Position)
	}
	req.FriendlyName = strings.TrimSpace(req.FriendlyName)
	if req.FriendlyName == "" {
		return fmt.Errorf("%w: friendly name is required", ErrInvalidArgument)
	}
	if len(req.FriendlyName) > maxFriendlyNameLen {
		return fmt.Errorf("%w: friendly name longer than %d characters", ErrInvalidArgument, maxFriendlyNameLen)
	}
	return nil
}

// startGame runs START_GAME on a full game. The status change commits with
// the state, so a failed start leaves the game waiting. Losing the race to
// a concurrent join is not an error.
func (a *App) startGame(ctx context.Context, gameID uuid.UUID) (*models.GameConfig, error) {
	players, err := a.repo.GetPlayers(ctx, gameID)
	if err != nil {
		return nil, err
	}
	_, err = a.apply(ctx, gameID, nil, players, machine.StartGame(), 0)
	switch {
	case errors.Is(err, ErrInvalidPhase), errors.Is(err, ErrStaleState):
		return a.repo.GetGameConfig(ctx, gameID)
	case err != nil:
		return nil, err
	}

	log.Info().Str("game_id", gameID.String()).Msg("Game started")
	return a.repo.GetGameConfig(ctx, gameID)
}

// SendGameEvent applies a player's event to the game.
func (a *App) SendGameEvent(ctx context.Context, req SendGameEventRequest) (*SendGameEventResponse, error) {
	cfg, err := a.repo.GetGameConfig(ctx, req.GameID)
	if err != nil {
		return nil, err
	}
	if cfg.Status != models.GameStatusStarted {
		return nil, fmt.Errorf("%w: game is %s", ErrInvalidPhase, cfg.Status)
	}

	players, err := a.repo.GetPlayers(ctx, req.GameID)
	if err != nil {
		return nil, err
	}
	seat, ok := seatOf(players, req.PlayerID)
	if !ok {
		return nil, fmt.Errorf("%w: player %s is not seated", ErrUnauthorized, req.PlayerID)
	}
	if !req.Event.PlayerEvent() {
		return nil, fmt.Errorf("%w: %s may not be sent by players", ErrInvalidTransition, req.Event.Type)
	}
	if req.Event.Position != seat {
		log.Warn().
			Str("game_id", req.GameID.String()).
			Str("player_id", req.PlayerID.String()).
			Str("seat", string(seat)).
			Str("claimed", string(req.Event.Position)).
			Msg("Player sent event for another position")
		return nil, fmt.Errorf("%w: seated at %s, event for %s", ErrUnauthorized, seat, req.Event.Position)
	}

	count, err := a.apply(ctx, req.GameID, &req.PlayerID, players, req.Event, req.ExistingEventCount)
	if err != nil {
		return nil, err
	}
	return &SendGameEventResponse{EventCount: count}, nil
}

// apply reads the full snapshot, runs the event, swaps the result in and
// then writes the projections. A failed projection write leaves the full
// snapshot authoritative and is only logged; RepublishProjections repairs it.
func (a *App) apply(ctx context.Context, gameID uuid.UUID, playerID *uuid.UUID, players []models.Player, ev machine.Event, existing int) (int, error) {
	logger := log.With().Str("game_id", gameID.String()).Str("event", ev.String()).Logger()

	stored, err := a.repo.GetFullState(ctx, gameID)
	if err != nil {
		return 0, err
	}
	if err := checkCounts(stored); err != nil {
		logger.Error().Err(err).Msg("Stored state has invalid event counts")
		return 0, err
	}
	current := *stored.EventCount
	if current != existing {
		return 0, fmt.Errorf("%w: client has %d, store has %d", ErrStaleState, existing, current)
	}

	snaps, err := a.runner.Run(stored.Snapshot, ev)
	switch {
	case errors.Is(err, runner.ErrInvalidTransition):
		logger.Debug().Err(err).Msg("Event rejected")
		return 0, fmt.Errorf("%w: %w", ErrInvalidTransition, err)
	case err != nil:
		logger.Error().Err(err).Msg("Runner failed")
		return 0, fmt.Errorf("%w: %w", ErrIntegrity, err)
	}
	final := snaps[len(snaps)-1]

	if err := a.commit(ctx, gameID, ev, current, final); err != nil {
		switch {
		case errors.Is(err, ErrStaleState):
			logger.Warn().Int("expected", current).Msg("Concurrent update detected")
			return 0, err
		case errors.Is(err, ErrInvalidPhase):
			return 0, err
		}
		return 0, fmt.Errorf("%w: %w", ErrTransaction, err)
	}

	write, err := a.encode(gameID, playerID, players, ev, current, snaps)
	if err == nil {
		err = a.repo.WriteProjections(ctx, write)
	}
	if err != nil {
		logger.Error().Err(err).Int("event_count", final.Context.EventCount).
			Msg("Projection write failed, projections are stale")
	}

	if final.Meta().Final {
		if _, err := a.repo.UpdateGameStatus(ctx, gameID, models.GameStatusStarted, models.GameStatusComplete); err != nil {
			logger.Error().Err(err).Msg("Failed to mark game complete")
		} else {
			logger.Info().Str("winner", string(final.Context.Winner)).Msg("Game complete")
		}
	}

	logger.Debug().
		Int("from", current).
		Int("event_count", final.Context.EventCount).
		Int("snapshots", len(snaps)).
		Msg("Applied event")
	return final.Context.EventCount, nil
}

// commit swaps in the new full snapshot. START_GAME also moves the status
// in the same transaction.
func (a *App) commit(ctx context.Context, gameID uuid.UUID, ev machine.Event, expected int, next machine.Snapshot) error {
	if ev.Type == machine.EventStartGame {
		_, err := a.repo.StartGame(ctx, gameID, expected, next)
		return err
	}
	return a.repo.CompareAndSwapState(ctx, gameID, expected, next)
}

func checkCounts(s *StoredState) error {
	if s.EventCount == nil || s.PreviousEventCount == nil {
		return fmt.Errorf("%w: null event count", ErrIntegrity)
	}
	if *s.EventCount != s.Snapshot.Context.EventCount {
		return fmt.Errorf("%w: stored count %d, snapshot count %d",
			ErrIntegrity, *s.EventCount, s.Snapshot.Context.EventCount)
	}
	return nil
}

func (a *App) encode(gameID uuid.UUID, playerID *uuid.UUID, players []models.Player, ev machine.Event, existing int, snaps []machine.Snapshot) (ProjectionWrite, error) {
	identities := identitiesOf(players)
	w := ProjectionWrite{
		GameID: gameID,
		Event: LoggedEvent{
			PlayerID:           playerID,
			Event:              ev,
			ExistingEventCount: existing,
			ResultEventCount:   snaps[len(snaps)-1].Context.EventCount,
			CreatedAt:          a.clock.Now(),
		},
	}
	for _, s := range snaps {
		enc, err := encodeSnapshot(s, identities)
		if err != nil {
			return ProjectionWrite{}, err
		}
		w.Snapshots = append(w.Snapshots, enc)
	}
	return w, nil
}

func encodeSnapshot(s machine.Snapshot, identities map[models.Position]uuid.UUID) (EncodedSnapshot, error) {
	full, err := json.Marshal(s)
	if err != nil {
		return EncodedSnapshot{}, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	split := projection.SplitSnapshot(s, identities)
	pub, err := projection.Encode(split.Public)
	if err != nil {
		return EncodedSnapshot{}, fmt.Errorf("failed to encode public state: %w", err)
	}
	enc := EncodedSnapshot{
		EventCount: s.Context.EventCount,
		Full:       full,
		Public:     pub,
		Private:    make(map[uuid.UUID][]byte, len(split.Private)),
	}
	for id, priv := range split.Private {
		b, err := projection.Encode(priv)
		if err != nil {
			return EncodedSnapshot{}, fmt.Errorf("failed to encode private state: %w", err)
		}
		enc.Private[id] = b
	}
	return enc, nil
}

// RepublishProjections rewrites the projections of the current full
// snapshot. It repairs games whose projection write failed.
func (a *App) RepublishProjections(ctx context.Context, gameID uuid.UUID) error {
	stored, err := a.repo.GetFullState(ctx, gameID)
	if err != nil {
		return err
	}
	if err := checkCounts(stored); err != nil {
		return err
	}
	players, err := a.repo.GetPlayers(ctx, gameID)
	if err != nil {
		return err
	}
	enc, err := encodeSnapshot(stored.Snapshot, identitiesOf(players))
	if err != nil {
		return err
	}
	return a.repo.WriteProjections(ctx, ProjectionWrite{GameID: gameID, Snapshots: []EncodedSnapshot{enc}})
}

// GetGameConfig returns the public configuration of a game.
func (a *App) GetGameConfig(ctx context.Context, id uuid.UUID) (*models.GameConfig, error) {
	return a.repo.GetGameConfig(ctx, id)
}

// GetPublicState returns the latest public snapshot, or nil before the
// game starts.
func (a *App) GetPublicState(ctx context.Context, id uuid.UUID) (*projection.PublicSnapshot, error) {
	if _, err := a.repo.GetGameConfig(ctx, id); err != nil {
		return nil, err
	}
	return a.repo.GetPublicState(ctx, id)
}

// GetPrivateState returns the player's latest private context, or nil
// before the game starts.
func (a *App) GetPrivateState(ctx context.Context, id, playerID uuid.UUID) (*projection.PrivateContext, error) {
	players, err := a.repo.GetPlayers(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, ok := seatOf(players, playerID); !ok {
		return nil, fmt.Errorf("%w: player %s is not seated", ErrUnauthorized, playerID)
	}
	return a.repo.GetPrivateState(ctx, id, playerID)
}

// GetHistory returns every snapshot's public projection and, for a seated
// player, their private projection.
func (a *App) GetHistory(ctx context.Context, id uuid.UUID, playerID *uuid.UUID) (*GetHistoryResponse, error) {
	if _, err := a.repo.GetGameConfig(ctx, id); err != nil {
		return nil, err
	}
	if playerID != nil {
		players, err := a.repo.GetPlayers(ctx, id)
		if err != nil {
			return nil, err
		}
		if _, ok := seatOf(players, *playerID); !ok {
			return nil, fmt.Errorf("%w: player %s is not seated", ErrUnauthorized, *playerID)
		}
	}

	history, err := a.repo.GetHistory(ctx, id)
	if err != nil {
		return nil, err
	}
	resp := &GetHistoryResponse{
		Public:  make([]projection.PublicSnapshot, 0, len(history)),
		Private: []projection.PrivateContext{},
	}
	for _, h := range history {
		var pub projection.PublicSnapshot
		if err := json.Unmarshal(h.Public, &pub); err != nil {
			return nil, fmt.Errorf("%w: snapshot %d: %w", ErrIntegrity, h.EventCount, err)
		}
		resp.Public = append(resp.Public, pub)
		if playerID == nil {
			continue
		}
		raw, ok := h.Private[*playerID]
		if !ok {
			continue
		}
		var priv projection.PrivateContext
		if err := json.Unmarshal(raw, &priv); err != nil {
			return nil, fmt.Errorf("%w: snapshot %d: %w", ErrIntegrity, h.EventCount, err)
		}
		resp.Private = append(resp.Private, priv)
	}
	return resp, nil
}

// GetEventLog returns the accepted events of a game in order.
func (a *App) GetEventLog(ctx context.Context, id uuid.UUID) ([]LoggedEvent, error) {
	return a.repo.GetEventLog(ctx, id)
}

// GetSnapshots returns every full snapshot of a game in order.
func (a *App) GetSnapshots(ctx context.Context, id uuid.UUID) ([]machine.Snapshot, error) {
	history, err := a.repo.GetHistory(ctx, id)
	if err != nil {
		return nil, err
	}
	out := make([]machine.Snapshot, 0, len(history))
	for _, h := range history {
		var s machine.Snapshot
		if err := json.Unmarshal(h.Full, &s); err != nil {
			return nil, fmt.Errorf("%w: snapshot %d: %w", ErrIntegrity, h.EventCount, err)
		}
		out = append(out, s)
	}
	return out, nil
}

// GetFullState returns the canonical snapshot. Server-side use only.
func (a *App) GetFullState(ctx context.Context, id uuid.UUID) (*StoredState, error) {
	return a.repo.GetFullState(ctx, id)
}

func seatOf(players []models.Player, id uuid.UUID) (models.Position, bool) {
	for _, p := range players {
		if p.ID == id {
			return p.Position, true
		}
	}
	return "", false
}

func identitiesOf(players []models.Player) map[models.Position]uuid.UUID {
	ids := make(map[models.Position]uuid.UUID, len(players))
	for _, p := range players {
		ids[p.Position] = p.ID
	}
	return ids
}
