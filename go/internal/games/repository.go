package games

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"

	"github.com/mcdev12/bideuchre/go/internal/game/machine"
	"github.com/mcdev12/bideuchre/go/internal/game/projection"
	"github.com/mcdev12/bideuchre/go/internal/models"
	"github.com/mcdev12/bideuchre/go/internal/outbox"
	"github.com/mcdev12/bideuchre/go/internal/sqlutil"
)

const (
	gamesPrimaryKey = "games_pkey"
	seatConstraint  = "game_players_seat_key"
)

// querier is the query surface shared by the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository is the Postgres GameRepository.
type Repository struct {
	pool  *pgxpool.Pool
	clock clockwork.Clock
}

func NewRepository(pool *pgxpool.Pool, clock clockwork.Clock) *Repository {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Repository{
		pool:  pool,
		clock: clock,
	}
}

var _ GameRepository = (*Repository)(nil)

func (r *Repository) CreateGame(ctx context.Context, id uuid.UUID, initial machine.Snapshot) (*models.GameConfig, error) {
	full, err := json.Marshal(initial)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal initial snapshot: %w", err)
	}

	now := r.clock.Now()
	var cfg *models.GameConfig
	err = sqlutil.RunTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO games (id, status, created_at, updated_at) VALUES ($1, $2, $3, $3)`,
			id, models.GameStatusWaitingToStart, now); err != nil {
			if sqlutil.IsUniqueViolation(err, gamesPrimaryKey) {
				return ErrIDCollision
			}
			return fmt.Errorf("failed to insert game: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO game_state (game_id, full_json, event_count, previous_event_count, updated_at)
			 VALUES ($1, $2, $3, $4, $5)`,
			id, full, initial.Context.EventCount, initial.Context.PreviousEventCount, now); err != nil {
			return fmt.Errorf("failed to insert game state: %w", err)
		}

		cfg, err = r.configChanged(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func (r *Repository) GetGameConfig(ctx context.Context, id uuid.UUID) (*models.GameConfig, error) {
	return loadConfig(ctx, r.pool, id)
}

func (r *Repository) GetPlayers(ctx context.Context, gameID uuid.UUID) ([]models.Player, error) {
	if err := gameExists(ctx, r.pool, gameID); err != nil {
		return nil, err
	}
	return loadPlayers(ctx, r.pool, gameID)
}

func (r *Repository) SeatPlayer(ctx context.Context, player models.Player) (*models.GameConfig, error) {
	var cfg *models.GameConfig
	err := sqlutil.RunTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO game_players (id, game_id, position, friendly_name, joined_at)
			 VALUES ($1, $2, $3, $4, $5)`,
			player.ID, player.GameID, player.Position, player.FriendlyName, player.JoinedAt); err != nil {
			switch {
			case sqlutil.IsUniqueViolation(err, seatConstraint):
				return fmt.Errorf("%w: %s", ErrSeatTaken, player.Position)
			case sqlutil.IsUniqueViolation(err, ""):
				return ErrIDCollision
			}
			return fmt.Errorf("failed to seat player: %w", err)
		}

		var err error
		cfg, err = r.configChanged(ctx, tx, player.GameID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func (r *Repository) UnseatPlayer(ctx context.Context, gameID, playerID uuid.UUID) (*models.GameConfig, error) {
	var cfg *models.GameConfig
	err := sqlutil.RunTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`DELETE FROM game_players p USING games g
			 WHERE p.id = $2 AND p.game_id = $1 AND g.id = p.game_id AND g.status = $3`,
			gameID, playerID, models.GameStatusWaitingToStart); err != nil {
			return fmt.Errorf("failed to unseat player: %w", err)
		}

		var err error
		cfg, err = r.configChanged(ctx, tx, gameID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func (r *Repository) UpdateGameStatus(ctx context.Context, id uuid.UUID, from, to models.GameStatus) (*models.GameConfig, error) {
	var cfg *models.GameConfig
	err := sqlutil.RunTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE games SET status = $3 WHERE id = $1 AND status = $2`, id, from, to)
		if err != nil {
			return fmt.Errorf("failed to update game status: %w", err)
		}
		if tag.RowsAffected() == 0 {
			if err := gameExists(ctx, tx, id); err != nil {
				return err
			}
			return fmt.Errorf("%w: game is not %s", ErrInvalidPhase, from)
		}

		cfg, err = r.configChanged(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func (r *Repository) GetFullState(ctx context.Context, id uuid.UUID) (*StoredState, error) {
	var (
		full        []byte
		count, prev pgtype.Int4
	)
	err := r.pool.QueryRow(ctx,
		`SELECT full_json, event_count, previous_event_count FROM game_state WHERE game_id = $1`,
		id).Scan(&full, &count, &prev)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get game state: %w", err)
	}

	var s machine.Snapshot
	if err := json.Unmarshal(full, &s); err != nil {
		return nil, fmt.Errorf("%w: failed to decode game state: %w", ErrIntegrity, err)
	}
	return &StoredState{
		Snapshot:           s,
		EventCount:         sqlutil.FromInt4(count),
		PreviousEventCount: sqlutil.FromInt4(prev),
	}, nil
}

func (r *Repository) StartGame(ctx context.Context, id uuid.UUID, expected int, next machine.Snapshot) (*models.GameConfig, error) {
	full, err := json.Marshal(next)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	var cfg *models.GameConfig
	err = sqlutil.RunTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE games SET status = $3 WHERE id = $1 AND status = $2`,
			id, models.GameStatusWaitingToStart, models.GameStatusStarted)
		if err != nil {
			return fmt.Errorf("failed to update game status: %w", err)
		}
		if tag.RowsAffected() == 0 {
			if err := gameExists(ctx, tx, id); err != nil {
				return err
			}
			return fmt.Errorf("%w: game is not %s", ErrInvalidPhase, models.GameStatusWaitingToStart)
		}

		if err := swapState(ctx, tx, id, expected, full, next, r.clock.Now()); err != nil {
			return err
		}
		cfg, err = r.configChanged(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func (r *Repository) CompareAndSwapState(ctx context.Context, id uuid.UUID, expected int, next machine.Snapshot) error {
	full, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	return sqlutil.RunTx(ctx, r.pool, func(tx pgx.Tx) error {
		return swapState(ctx, tx, id, expected, full, next, r.clock.Now())
	})
}

func swapState(ctx context.Context, tx pgx.Tx, id uuid.UUID, expected int, full []byte, next machine.Snapshot, now time.Time) error {
	tag, err := tx.Exec(ctx,
		`UPDATE game_state
		 SET full_json = $3, event_count = $4, previous_event_count = $5, updated_at = $6
		 WHERE game_id = $1 AND event_count = $2`,
		id, expected, full, next.Context.EventCount, next.Context.PreviousEventCount, now)
	if err != nil {
		return fmt.Errorf("failed to update game state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: expected event count %d", ErrStaleState, expected)
	}
	return nil
}

func (r *Repository) WriteProjections(ctx context.Context, w ProjectionWrite) error {
	now := r.clock.Now()
	return sqlutil.RunTx(ctx, r.pool, func(tx pgx.Tx) error {
		for _, s := range w.Snapshots {
			if err := writeSnapshot(ctx, tx, w.GameID, s, w.Event.ResultEventCount > 0, now); err != nil {
				return err
			}
		}

		if w.Event.ResultEventCount == 0 {
			return nil
		}
		event, err := json.Marshal(w.Event.Event)
		if err != nil {
			return fmt.Errorf("failed to marshal event: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO game_events (game_id, player_id, event, existing_event_count, result_event_count, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			w.GameID, sqlutil.ToNullUUID(w.Event.PlayerID), event,
			w.Event.ExistingEventCount, w.Event.ResultEventCount, now); err != nil {
			return fmt.Errorf("failed to append event: %w", err)
		}
		return nil
	})
}

func writeSnapshot(ctx context.Context, tx pgx.Tx, gameID uuid.UUID, s EncodedSnapshot, record bool, now time.Time) error {
	if _, err := tx.Exec(ctx,
		`INSERT INTO game_public_state (game_id, event_count, public_json, updated_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (game_id) DO UPDATE
		 SET event_count = EXCLUDED.event_count, public_json = EXCLUDED.public_json, updated_at = EXCLUDED.updated_at
		 WHERE game_public_state.event_count <= EXCLUDED.event_count`,
		gameID, s.EventCount, s.Public, now); err != nil {
		return fmt.Errorf("failed to upsert public state: %w", err)
	}
	if err := insertOutbox(ctx, tx, now, outbox.Record{
		GameID:    gameID,
		EventType: outbox.EventTypePublicStateChanged,
		Payload:   s.Public,
	}); err != nil {
		return err
	}

	for playerID, priv := range s.Private {
		if _, err := tx.Exec(ctx,
			`INSERT INTO game_private_state (game_id, player_id, event_count, private_json, updated_at)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (game_id, player_id) DO UPDATE
			 SET event_count = EXCLUDED.event_count, private_json = EXCLUDED.private_json, updated_at = EXCLUDED.updated_at
			 WHERE game_private_state.event_count <= EXCLUDED.event_count`,
			gameID, playerID, s.EventCount, priv, now); err != nil {
			return fmt.Errorf("failed to upsert private state: %w", err)
		}
		payload, err := json.Marshal(PrivateStatePayload{PlayerID: playerID, State: priv})
		if err != nil {
			return fmt.Errorf("failed to marshal private payload: %w", err)
		}
		if err := insertOutbox(ctx, tx, now, outbox.Record{
			GameID:    gameID,
			EventType: outbox.EventTypePrivateStateChanged,
			Payload:   payload,
		}); err != nil {
			return err
		}
	}

	if !record {
		return nil
	}
	private, err := json.Marshal(rawPrivate(s.Private))
	if err != nil {
		return fmt.Errorf("failed to marshal private snapshots: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO game_snapshots (game_id, event_count, full_json, public_json, private_json, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		gameID, s.EventCount, s.Full, s.Public, private, now); err != nil {
		return fmt.Errorf("failed to append snapshot: %w", err)
	}
	return nil
}

func rawPrivate(in map[uuid.UUID][]byte) map[uuid.UUID]json.RawMessage {
	out := make(map[uuid.UUID]json.RawMessage, len(in))
	for id, b := range in {
		out[id] = b
	}
	return out
}

func (r *Repository) GetPublicState(ctx context.Context, id uuid.UUID) (*projection.PublicSnapshot, error) {
	var raw []byte
	err := r.pool.QueryRow(ctx,
		`SELECT p.public_json FROM games g
		 LEFT JOIN game_public_state p ON p.game_id = g.id
		 WHERE g.id = $1`, id).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get public state: %w", err)
	}
	if raw == nil {
		return nil, nil
	}

	var pub projection.PublicSnapshot
	if err := json.Unmarshal(raw, &pub); err != nil {
		return nil, fmt.Errorf("%w: failed to decode public state: %w", ErrIntegrity, err)
	}
	return &pub, nil
}

func (r *Repository) GetPrivateState(ctx context.Context, id, playerID uuid.UUID) (*projection.PrivateContext, error) {
	var raw []byte
	err := r.pool.QueryRow(ctx,
		`SELECT p.private_json FROM games g
		 LEFT JOIN game_private_state p ON p.game_id = g.id AND p.player_id = $2
		 WHERE g.id = $1`, id, playerID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get private state: %w", err)
	}
	if raw == nil {
		return nil, nil
	}

	var priv projection.PrivateContext
	if err := json.Unmarshal(raw, &priv); err != nil {
		return nil, fmt.Errorf("%w: failed to decode private state: %w", ErrIntegrity, err)
	}
	return &priv, nil
}

func (r *Repository) GetHistory(ctx context.Context, id uuid.UUID) ([]EncodedSnapshot, error) {
	if err := gameExists(ctx, r.pool, id); err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT event_count, full_json, public_json, private_json
		 FROM game_snapshots WHERE game_id = $1 ORDER BY event_count`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get history: %w", err)
	}
	defer rows.Close()

	var out []EncodedSnapshot
	for rows.Next() {
		var (
			s       EncodedSnapshot
			private []byte
		)
		if err := rows.Scan(&s.EventCount, &s.Full, &s.Public, &private); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		var byPlayer map[uuid.UUID]json.RawMessage
		if err := json.Unmarshal(private, &byPlayer); err != nil {
			return nil, fmt.Errorf("%w: failed to decode private snapshots: %w", ErrIntegrity, err)
		}
		s.Private = make(map[uuid.UUID][]byte, len(byPlayer))
		for playerID, raw := range byPlayer {
			s.Private[playerID] = raw
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *Repository) GetEventLog(ctx context.Context, id uuid.UUID) ([]LoggedEvent, error) {
	if err := gameExists(ctx, r.pool, id); err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT seq, player_id, event, existing_event_count, result_event_count, created_at
		 FROM game_events WHERE game_id = $1 ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get event log: %w", err)
	}
	defer rows.Close()

	var out []LoggedEvent
	for rows.Next() {
		var (
			ev       LoggedEvent
			playerID uuid.NullUUID
			raw      []byte
		)
		if err := rows.Scan(&ev.Seq, &playerID, &raw, &ev.ExistingEventCount, &ev.ResultEventCount, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		if err := json.Unmarshal(raw, &ev.Event); err != nil {
			return nil, fmt.Errorf("%w: failed to decode event %d: %w", ErrIntegrity, ev.Seq, err)
		}
		ev.PlayerID = sqlutil.FromNullUUID(playerID)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// configChanged bumps updated_at, reloads the config and queues a
// GameConfigChanged outbox row inside tx.
func (r *Repository) configChanged(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.GameConfig, error) {
	now := r.clock.Now()
	if _, err := tx.Exec(ctx, `UPDATE games SET updated_at = $2 WHERE id = $1`, id, now); err != nil {
		return nil, fmt.Errorf("failed to touch game: %w", err)
	}
	cfg, err := loadConfig(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal game config: %w", err)
	}
	if err := insertOutbox(ctx, tx, now, outbox.Record{
		GameID:    id,
		EventType: outbox.EventTypeGameConfigChanged,
		Payload:   payload,
	}); err != nil {
		return nil, err
	}
	return cfg, nil
}

func insertOutbox(ctx context.Context, tx pgx.Tx, now time.Time, rec outbox.Record) error {
	if _, err := tx.Exec(ctx,
		`INSERT INTO game_outbox (id, game_id, event_type, payload, created_at) VALUES ($1, $2, $3, $4, $5)`,
		uuid.New(), rec.GameID, rec.EventType, []byte(rec.Payload), now); err != nil {
		return fmt.Errorf("failed to insert outbox event: %w", err)
	}
	return nil
}

func gameExists(ctx context.Context, q querier, id uuid.UUID) error {
	var exists bool
	if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM games WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check game: %w", err)
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func loadConfig(ctx context.Context, q querier, id uuid.UUID) (*models.GameConfig, error) {
	cfg := models.GameConfig{ID: id, Players: []models.SeatedPlayer{}}
	err := q.QueryRow(ctx,
		`SELECT status, created_at, updated_at FROM games WHERE id = $1`, id).
		Scan(&cfg.Status, &cfg.CreatedAt, &cfg.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get game: %w", err)
	}

	players, err := loadPlayers(ctx, q, id)
	if err != nil {
		return nil, err
	}
	for _, p := range players {
		cfg.Players = append(cfg.Players, models.SeatedPlayer{Position: p.Position, FriendlyName: p.FriendlyName})
	}
	return &cfg, nil
}

func loadPlayers(ctx context.Context, q querier, gameID uuid.UUID) ([]models.Player, error) {
	rows, err := q.Query(ctx,
		`SELECT id, game_id, position, friendly_name, joined_at FROM game_players WHERE game_id = $1`, gameID)
	if err != nil {
		return nil, fmt.Errorf("failed to get players: %w", err)
	}
	defer rows.Close()

	var players []models.Player
	for rows.Next() {
		var p models.Player
		if err := rows.Scan(&p.ID, &p.GameID, &p.Position, &p.FriendlyName, &p.JoinedAt); err != nil {
			return nil, fmt.Errorf("failed to scan player: %w", err)
		}
		players = append(players, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to get players: %w", err)
	}
	sort.Slice(players, func(i, j int) bool {
		return seatIndex(players[i].Position) < seatIndex(players[j].Position)
	})
	return players, nil
}
