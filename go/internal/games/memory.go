package games

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/mcdev12/bideuchre/go/internal/game/machine"
	"github.com/mcdev12/bideuchre/go/internal/game/projection"
	"github.com/mcdev12/bideuchre/go/internal/models"
	"github.com/mcdev12/bideuchre/go/internal/outbox"
)

// MemoryRepository is a GameRepository kept in process memory. It backs
// tests and single-process development runs; outbox records are kept in
// a slice instead of being relayed.
type MemoryRepository struct {
	mu    sync.Mutex
	clock clockwork.Clock
	games map[uuid.UUID]*memoryGame
	seq   int64

	Outbox []outbox.Record
	// FailProjections makes WriteProjections fail, for tests.
	FailProjections bool
}

type memoryGame struct {
	config     models.GameConfig
	players    []models.Player
	full       []byte
	eventCount *int
	prevCount  *int
	public     []byte
	publicAt   int
	private    map[uuid.UUID][]byte
	privateAt  map[uuid.UUID]int
	history    []EncodedSnapshot
	events     []LoggedEvent
}

// NewMemoryRepository creates an empty MemoryRepository.
func NewMemoryRepository(clock clockwork.Clock) *MemoryRepository {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryRepository{clock: clock, games: make(map[uuid.UUID]*memoryGame)}
}

var _ GameRepository = (*MemoryRepository)(nil)

func (r *MemoryRepository) game(id uuid.UUID) (*memoryGame, error) {
	g, ok := r.games[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return g, nil
}

func (r *MemoryRepository) configChanged(g *memoryGame) {
	g.config.UpdatedAt = r.clock.Now()
	payload, _ := json.Marshal(g.config)
	r.Outbox = append(r.Outbox, outbox.Record{
		GameID:    g.config.ID,
		EventType: outbox.EventTypeGameConfigChanged,
		Payload:   payload,
	})
}

func copyConfig(c models.GameConfig) *models.GameConfig {
	c.Players = append([]models.SeatedPlayer{}, c.Players...)
	return &c
}

func (r *MemoryRepository) CreateGame(ctx context.Context, id uuid.UUID, initial machine.Snapshot) (*models.GameConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.games[id]; exists {
		return nil, ErrIDCollision
	}
	full, err := json.Marshal(initial)
	if err != nil {
		return nil, err
	}
	zero, prev := initial.Context.EventCount, initial.Context.PreviousEventCount
	now := r.clock.Now()
	g := &memoryGame{
		config: models.GameConfig{
			ID:        id,
			Status:    models.GameStatusWaitingToStart,
			Players:   []models.SeatedPlayer{},
			CreatedAt: now,
		},
		full:       full,
		eventCount: &zero,
		prevCount:  &prev,
		private:    make(map[uuid.UUID][]byte),
		privateAt:  make(map[uuid.UUID]int),
	}
	r.games[id] = g
	r.configChanged(g)
	return copyConfig(g.config), nil
}

func (r *MemoryRepository) GetGameConfig(ctx context.Context, id uuid.UUID) (*models.GameConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, err := r.game(id)
	if err != nil {
		return nil, err
	}
	return copyConfig(g.config), nil
}

func (r *MemoryRepository) GetPlayers(ctx context.Context, gameID uuid.UUID) ([]models.Player, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, err := r.game(gameID)
	if err != nil {
		return nil, err
	}
	return append([]models.Player(nil), g.players...), nil
}

func (r *MemoryRepository) SeatPlayer(ctx context.Context, player models.Player) (*models.GameConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, err := r.game(player.GameID)
	if err != nil {
		return nil, err
	}
	if _, taken := g.config.Seat(player.Position); taken {
		return nil, fmt.Errorf("%w: %s", ErrSeatTaken, player.Position)
	}
	for _, other := range r.games {
		for _, p := range other.players {
			if p.ID == player.ID {
				return nil, ErrIDCollision
			}
		}
	}
	g.players = append(g.players, player)
	g.config.Players = append(g.config.Players, models.SeatedPlayer{
		Position:     player.Position,
		FriendlyName: player.FriendlyName,
	})
	sort.Slice(g.config.Players, func(i, j int) bool {
		return seatIndex(g.config.Players[i].Position) < seatIndex(g.config.Players[j].Position)
	})
	r.configChanged(g)
	return copyConfig(g.config), nil
}

func (r *MemoryRepository) UnseatPlayer(ctx context.Context, gameID, playerID uuid.UUID) (*models.GameConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, err := r.game(gameID)
	if err != nil {
		return nil, err
	}
	if g.config.Status != models.GameStatusWaitingToStart {
		return nil, fmt.Errorf("%w: game is %s", ErrInvalidPhase, g.config.Status)
	}
	for i, p := range g.players {
		if p.ID != playerID {
			continue
		}
		g.players = append(g.players[:i], g.players[i+1:]...)
		seated := g.config.Players[:0]
		for _, sp := range g.config.Players {
			if sp.Position != p.Position {
				seated = append(seated, sp)
			}
		}
		g.config.Players = seated
		r.configChanged(g)
		break
	}
	return copyConfig(g.config), nil
}

func seatIndex(p models.Position) int {
	for i, pos := range models.Positions {
		if pos == p {
			return i
		}
	}
	return len(models.Positions)
}

func (r *MemoryRepository) UpdateGameStatus(ctx context.Context, id uuid.UUID, from, to models.GameStatus) (*models.GameConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, err := r.game(id)
	if err != nil {
		return nil, err
	}
	if g.config.Status != from {
		return nil, fmt.Errorf("%w: game is %s", ErrInvalidPhase, g.config.Status)
	}
	g.config.Status = to
	r.configChanged(g)
	return copyConfig(g.config), nil
}

func (r *MemoryRepository) GetFullState(ctx context.Context, id uuid.UUID) (*StoredState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, err := r.game(id)
	if err != nil {
		return nil, err
	}
	var s machine.Snapshot
	if err := json.Unmarshal(g.full, &s); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIntegrity, err)
	}
	return &StoredState{Snapshot: s, EventCount: copyInt(g.eventCount), PreviousEventCount: copyInt(g.prevCount)}, nil
}

func copyInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func (r *MemoryRepository) CompareAndSwapState(ctx context.Context, id uuid.UUID, expected int, next machine.Snapshot) error {
	full, err := json.Marshal(next)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	g, err := r.game(id)
	if err != nil {
		return err
	}
	if g.eventCount == nil || *g.eventCount != expected {
		return fmt.Errorf("%w: expected event count %d", ErrStaleState, expected)
	}
	count, prev := next.Context.EventCount, next.Context.PreviousEventCount
	g.full, g.eventCount, g.prevCount = full, &count, &prev
	return nil
}

func (r *MemoryRepository) StartGame(ctx context.Context, id uuid.UUID, expected int, next machine.Snapshot) (*models.GameConfig, error) {
	full, err := json.Marshal(next)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	g, err := r.game(id)
	if err != nil {
		return nil, err
	}
	if g.config.Status != models.GameStatusWaitingToStart {
		return nil, fmt.Errorf("%w: game is %s", ErrInvalidPhase, g.config.Status)
	}
	if g.eventCount == nil || *g.eventCount != expected {
		return nil, fmt.Errorf("%w: expected event count %d", ErrStaleState, expected)
	}
	count, prev := next.Context.EventCount, next.Context.PreviousEventCount
	g.full, g.eventCount, g.prevCount = full, &count, &prev
	g.config.Status = models.GameStatusStarted
	r.configChanged(g)
	return copyConfig(g.config), nil
}

func (r *MemoryRepository) WriteProjections(ctx context.Context, w ProjectionWrite) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailProjections {
		return fmt.Errorf("projection store unavailable")
	}
	g, err := r.game(w.GameID)
	if err != nil {
		return err
	}
	for _, s := range w.Snapshots {
		// Projections only move forward; a late write of an older
		// snapshot still notifies but does not replace the stored value.
		if s.EventCount >= g.publicAt {
			g.public, g.publicAt = s.Public, s.EventCount
		}
		for id, priv := range s.Private {
			if s.EventCount >= g.privateAt[id] {
				g.private[id], g.privateAt[id] = priv, s.EventCount
			}
		}
		if w.Event.ResultEventCount > 0 {
			g.history = append(g.history, s)
		}
		r.Outbox = append(r.Outbox, outbox.Record{
			GameID:    w.GameID,
			EventType: outbox.EventTypePublicStateChanged,
			Payload:   s.Public,
		})
		for id, priv := range s.Private {
			payload, _ := json.Marshal(PrivateStatePayload{PlayerID: id, State: priv})
			r.Outbox = append(r.Outbox, outbox.Record{
				GameID:    w.GameID,
				EventType: outbox.EventTypePrivateStateChanged,
				Payload:   payload,
			})
		}
	}
	if w.Event.ResultEventCount > 0 {
		r.seq++
		ev := w.Event
		ev.Seq = r.seq
		g.events = append(g.events, ev)
	}
	return nil
}

func (r *MemoryRepository) GetPublicState(ctx context.Context, id uuid.UUID) (*projection.PublicSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, err := r.game(id)
	if err != nil {
		return nil, err
	}
	if g.public == nil {
		return nil, nil
	}
	var pub projection.PublicSnapshot
	if err := json.Unmarshal(g.public, &pub); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIntegrity, err)
	}
	return &pub, nil
}

func (r *MemoryRepository) GetPrivateState(ctx context.Context, id, playerID uuid.UUID) (*projection.PrivateContext, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, err := r.game(id)
	if err != nil {
		return nil, err
	}
	raw, ok := g.private[playerID]
	if !ok {
		return nil, nil
	}
	var priv projection.PrivateContext
	if err := json.Unmarshal(raw, &priv); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIntegrity, err)
	}
	return &priv, nil
}

func (r *MemoryRepository) GetHistory(ctx context.Context, id uuid.UUID) ([]EncodedSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, err := r.game(id)
	if err != nil {
		return nil, err
	}
	return append([]EncodedSnapshot(nil), g.history...), nil
}

func (r *MemoryRepository) GetEventLog(ctx context.Context, id uuid.UUID) ([]LoggedEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, err := r.game(id)
	if err != nil {
		return nil, err
	}
	return append([]LoggedEvent(nil), g.events...), nil
}

// OutboxOfType returns the recorded outbox entries of one type.
func (r *MemoryRepository) OutboxOfType(t outbox.EventType) []outbox.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []outbox.Record
	for _, rec := range r.Outbox {
		if rec.EventType == t {
			out = append(out, rec)
		}
	}
	return out
}
