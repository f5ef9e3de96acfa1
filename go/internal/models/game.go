package models

import (
	"time"

	"github.com/google/uuid"
)

// GameStatus defines the lifecycle phase of a game.
type GameStatus string

const (
	GameStatusWaitingToStart GameStatus = "waitingToStart"
	GameStatusStarted        GameStatus = "started"
	GameStatusComplete       GameStatus = "complete"
)

// SeatedPlayer is the public view of a player at the table.
type SeatedPlayer struct {
	Position     Position `json:"position"`
	FriendlyName string   `json:"friendlyName"`
}

// GameConfig is the publicly visible configuration of a game.
type GameConfig struct {
	ID        uuid.UUID      `json:"id"`
	Status    GameStatus     `json:"status"`
	Players   []SeatedPlayer `json:"players"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// Seat returns the player sitting at pos, if any.
func (c *GameConfig) Seat(pos Position) (SeatedPlayer, bool) {
	for _, p := range c.Players {
		if p.Position == pos {
			return p, true
		}
	}
	return SeatedPlayer{}, false
}

// Full reports whether every seat is taken.
func (c *GameConfig) Full() bool {
	return len(c.Players) == len(Positions)
}

// Player is a seated player including the server-side identity.
// The ID is a capability: whoever holds it acts for the seat.
type Player struct {
	ID           uuid.UUID `json:"id"`
	GameID       uuid.UUID `json:"game_id"`
	Position     Position  `json:"position"`
	FriendlyName string    `json:"friendly_name"`
	JoinedAt     time.Time `json:"joined_at"`
}
