package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// OutboxRepository defines what the app layer needs from the repository
type OutboxRepository interface {
	FetchUnsentOutbox(ctx context.Context, limit int) ([]Event, error)
	FetchOutboxByID(ctx context.Context, id uuid.UUID) (*Event, error)
	MarkOutboxSent(ctx context.Context, id uuid.UUID, at time.Time) error
	CountUnsentOutbox(ctx context.Context) (int, error)
}

// Publisher delivers an envelope to subscribers.
type Publisher interface {
	Publish(ctx context.Context, env Envelope) error
}

type RelayConfig struct {
	BatchSize  int
	MaxRetries int
	RetryDelay time.Duration
}

func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		BatchSize:  100,
		MaxRetries: 5,
		RetryDelay: 200 * time.Millisecond,
	}
}

// App publishes outbox rows and marks them sent.
type App struct {
	repo      OutboxRepository
	publisher Publisher
	clock     clockwork.Clock
	cfg       RelayConfig

	mu        sync.Mutex
	processed uint64
	lastEvent time.Time
}

// NewApp creates a new outbox App
func NewApp(repo OutboxRepository, publisher Publisher, clock clockwork.Clock, cfg RelayConfig) *App {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &App{repo: repo, publisher: publisher, clock: clock, cfg: cfg}
}

// RelayByID publishes one row announced by a notification. Rows already
// sent by the fallback poll are skipped.
func (a *App) RelayByID(ctx context.Context, id uuid.UUID) error {
	ev, err := a.repo.FetchOutboxByID(ctx, id)
	if errors.Is(err, ErrEventNotFound) {
		log.Debug().Str("event_id", id.String()).Msg("outbox event already sent")
		return nil
	}
	if err != nil {
		return err
	}
	return a.relay(ctx, *ev)
}

// RelayUnsent publishes up to one batch of unsent rows in insertion order.
// It stops at the first row that can not be published so later rows are
// not delivered ahead of it.
func (a *App) RelayUnsent(ctx context.Context) (int, error) {
	unsent, err := a.repo.FetchUnsentOutbox(ctx, a.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	for i, ev := range unsent {
		if err := a.relay(ctx, ev); err != nil {
			return i, err
		}
	}
	return len(unsent), nil
}

func (a *App) relay(ctx context.Context, ev Event) error {
	if err := validateEvent(ev); err != nil {
		return fmt.Errorf("invalid outbox event %s: %w", ev.ID, err)
	}

	env := Envelope{
		EventID:   ev.ID,
		EventType: ev.EventType,
		GameID:    ev.GameID,
		Timestamp: a.clock.Now().UTC(),
		Payload:   ev.Payload,
	}
	if err := a.publishWithRetry(ctx, env); err != nil {
		return err
	}
	if err := a.repo.MarkOutboxSent(ctx, ev.ID, a.clock.Now()); err != nil {
		log.Error().Err(err).Str("event_id", ev.ID.String()).Msg("failed to mark outbox event as sent")
		return err
	}

	a.mu.Lock()
	a.processed++
	a.lastEvent = a.clock.Now()
	a.mu.Unlock()

	log.Debug().
		Str("event_id", ev.ID.String()).
		Str("game_id", ev.GameID.String()).
		Str("event_type", string(ev.EventType)).
		Msg("published and marked event as sent")
	return nil
}

func validateEvent(ev Event) error {
	if !ev.EventType.Valid() {
		return fmt.Errorf("unknown event type %q", ev.EventType)
	}
	if len(ev.Payload) > 0 && !json.Valid(ev.Payload) {
		return fmt.Errorf("payload is not valid JSON")
	}
	return nil
}

// publishWithRetry attempts to publish with a linearly growing delay.
func (a *App) publishWithRetry(ctx context.Context, env Envelope) error {
	var lastErr error
	for attempt := 0; attempt <= a.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-a.clock.After(a.cfg.RetryDelay * time.Duration(attempt)):
			}
		}

		if err := a.publisher.Publish(ctx, env); err != nil {
			lastErr = err
			log.Error().
				Err(err).
				Int("attempt", attempt+1).
				Str("event_id", env.EventID.String()).
				Msg("failed to publish, retrying")
			continue
		}

		if attempt > 0 {
			log.Info().
				Int("attempt", attempt+1).
				Str("event_id", env.EventID.String()).
				Msg("publish succeeded after retry")
		}
		return nil
	}
	return fmt.Errorf("publish failed after %d attempts: %w", a.cfg.MaxRetries+1, lastErr)
}

// Stats returns the number of relayed events and when the last one went out.
func (a *App) Stats() (uint64, time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.processed, a.lastEvent
}

// Pending counts rows not yet sent.
func (a *App) Pending(ctx context.Context) (int, error) {
	return a.repo.CountUnsentOutbox(ctx)
}
