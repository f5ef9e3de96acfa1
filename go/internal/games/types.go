package games

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/mcdev12/bideuchre/go/internal/game/machine"
	"github.com/mcdev12/bideuchre/go/internal/game/projection"
	"github.com/mcdev12/bideuchre/go/internal/models"
)

type NewGameRequest struct{}

type NewGameResponse struct {
	GameID uuid.UUID          `json:"gameId"`
	Config *models.GameConfig `json:"config"`
}

type JoinGameRequest struct {
	GameID       uuid.UUID       `json:"gameId"`
	Position     models.Position `json:"position"`
	FriendlyName string          `json:"friendlyName"`
}

type JoinGameResponse struct {
	PlayerID     uuid.UUID          `json:"playerId"`
	GameID       uuid.UUID          `json:"gameId"`
	Position     models.Position    `json:"position"`
	FriendlyName string             `json:"friendlyName"`
	Config       *models.GameConfig `json:"config"`
}

type SendGameEventRequest struct {
	GameID             uuid.UUID     `json:"gameId"`
	PlayerID           uuid.UUID     `json:"playerId"`
	Event              machine.Event `json:"event"`
	ExistingEventCount int           `json:"existingEventCount"`
}

type SendGameEventResponse struct {
	EventCount int `json:"eventCount"`
}

type GetGameConfigRequest struct {
	GameID uuid.UUID `json:"gameId"`
}

type GetGameConfigResponse struct {
	Config *models.GameConfig `json:"config"`
}

type GetPublicStateRequest struct {
	GameID uuid.UUID `json:"gameId"`
}

// GetPublicStateResponse carries a null state until the game has started.
type GetPublicStateResponse struct {
	State *projection.PublicSnapshot `json:"state"`
}

type GetPrivateStateRequest struct {
	GameID   uuid.UUID `json:"gameId"`
	PlayerID uuid.UUID `json:"playerId"`
}

type GetPrivateStateResponse struct {
	State *projection.PrivateContext `json:"state"`
}

// GetHistoryRequest omits PlayerID for spectators.
type GetHistoryRequest struct {
	GameID   uuid.UUID  `json:"gameId"`
	PlayerID *uuid.UUID `json:"playerId,omitempty"`
}

// GetHistoryResponse lists every snapshot's projections in event-count
// order. Private is empty for spectators.
type GetHistoryResponse struct {
	Public  []projection.PublicSnapshot `json:"public"`
	Private []projection.PrivateContext `json:"private"`
}

// StoredState is the canonical full snapshot with the counts stored
// alongside it. The counts are nullable in storage; nil is an integrity
// violation.
type StoredState struct {
	Snapshot           machine.Snapshot
	EventCount         *int
	PreviousEventCount *int
}

// LoggedEvent is one accepted event of the game's event log.
type LoggedEvent struct {
	Seq                int64         `json:"seq"`
	PlayerID           *uuid.UUID    `json:"playerId,omitempty"`
	Event              machine.Event `json:"event"`
	ExistingEventCount int           `json:"existingEventCount"`
	ResultEventCount   int           `json:"resultEventCount"`
	CreatedAt          time.Time     `json:"createdAt"`
}

// EncodedSnapshot is one emitted snapshot ready to store.
type EncodedSnapshot struct {
	EventCount int
	Full       []byte
	Public     []byte
	Private    map[uuid.UUID][]byte
}

// ProjectionWrite is everything written after a successful state update.
type ProjectionWrite struct {
	GameID    uuid.UUID
	Event     LoggedEvent
	Snapshots []EncodedSnapshot
}

// PrivateStatePayload is the outbox payload of a private state change.
type PrivateStatePayload struct {
	PlayerID uuid.UUID       `json:"playerId"`
	State    json.RawMessage `json:"state"`
}
