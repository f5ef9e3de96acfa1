package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/bideuchre/go/internal/game/projection"
	"github.com/mcdev12/bideuchre/go/internal/models"
)

// StateProvider supplies the current values sent to a client when it
// connects. A nil slice means the value does not exist yet.
type StateProvider interface {
	GameConfig(ctx context.Context, gameID uuid.UUID) ([]byte, error)
	PublicState(ctx context.Context, gameID uuid.UUID) ([]byte, error)
	PrivateState(ctx context.Context, gameID, playerID uuid.UUID) ([]byte, error)
}

// GameReader is the part of the games app the gateway reads from.
type GameReader interface {
	GetGameConfig(ctx context.Context, id uuid.UUID) (*models.GameConfig, error)
	GetPublicState(ctx context.Context, id uuid.UUID) (*projection.PublicSnapshot, error)
	GetPrivateState(ctx context.Context, id, playerID uuid.UUID) (*projection.PrivateContext, error)
}

// PublicCache holds the latest public projection per game.
type PublicCache interface {
	Get(ctx context.Context, gameID uuid.UUID) ([]byte, error)
	Set(ctx context.Context, gameID uuid.UUID, state []byte) error
}

// GameStateProvider implements StateProvider over the games app, with an
// optional cache in front of public state reads.
type GameStateProvider struct {
	games GameReader
	cache PublicCache
}

// NewGameStateProvider creates a new state provider. cache may be nil.
func NewGameStateProvider(games GameReader, cache PublicCache) *GameStateProvider {
	return &GameStateProvider{games: games, cache: cache}
}

func (p *GameStateProvider) GameConfig(ctx context.Context, gameID uuid.UUID) ([]byte, error) {
	cfg, err := p.games.GetGameConfig(ctx, gameID)
	if err != nil {
		return nil, err
	}
	return json.Marshal(cfg)
}

func (p *GameStateProvider) PublicState(ctx context.Context, gameID uuid.UUID) ([]byte, error) {
	if p.cache != nil {
		cached, err := p.cache.Get(ctx, gameID)
		if err != nil {
			log.Warn().Err(err).Str("game_id", gameID.String()).Msg("public state cache read failed")
		} else if cached != nil {
			return cached, nil
		}
	}

	state, err := p.games.GetPublicState(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if state == nil {
		return nil, nil
	}
	data, err := projection.Encode(state)
	if err != nil {
		return nil, fmt.Errorf("failed to encode public state: %w", err)
	}
	if p.cache != nil {
		if err := p.cache.Set(ctx, gameID, data); err != nil {
			log.Warn().Err(err).Str("game_id", gameID.String()).Msg("public state cache write failed")
		}
	}
	return data, nil
}

func (p *GameStateProvider) PrivateState(ctx context.Context, gameID, playerID uuid.UUID) ([]byte, error) {
	state, err := p.games.GetPrivateState(ctx, gameID, playerID)
	if err != nil {
		return nil, err
	}
	if state == nil {
		return nil, nil
	}
	return projection.Encode(state)
}

// RedisPublicCache stores public projections in Redis. Set keeps the
// entry with the highest event count so out-of-order writers cannot roll
// the cache back.
type RedisPublicCache struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisPublicCache creates a cache with keys "<prefix>:<game id>:public".
func NewRedisPublicCache(rdb *redis.Client, prefix string, ttl time.Duration) *RedisPublicCache {
	if prefix == "" {
		prefix = "bideuchre:game"
	}
	return &RedisPublicCache{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (c *RedisPublicCache) key(gameID uuid.UUID) string {
	return fmt.Sprintf("%s:%s:public", c.prefix, gameID)
}

func (c *RedisPublicCache) Get(ctx context.Context, gameID uuid.UUID) ([]byte, error) {
	data, err := c.rdb.HGet(ctx, c.key(gameID), "state").Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get public state: %w", err)
	}
	return data, nil
}

// setIfNewer writes state only when its event count is above the stored one.
var setIfNewer = redis.NewScript(`
local current = tonumber(redis.call('HGET', KEYS[1], 'eventCount') or '-1')
if tonumber(ARGV[1]) <= current then
  return 0
end
redis.call('HSET', KEYS[1], 'eventCount', ARGV[1], 'state', ARGV[2])
if tonumber(ARGV[3]) > 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[3])
end
return 1
`)

func (c *RedisPublicCache) Set(ctx context.Context, gameID uuid.UUID, state []byte) error {
	var head struct {
		Context struct {
			EventCount int `json:"eventCount"`
		} `json:"context"`
	}
	if err := json.Unmarshal(state, &head); err != nil {
		return fmt.Errorf("decode public state: %w", err)
	}
	if err := setIfNewer.Run(ctx, c.rdb, []string{c.key(gameID)},
		head.Context.EventCount, string(state), c.ttl.Milliseconds()).Err(); err != nil {
		return fmt.Errorf("redis set public state: %w", err)
	}
	return nil
}

// Ping checks the Redis connection.
func (c *RedisPublicCache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}
