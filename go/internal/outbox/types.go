// Package outbox relays rows of the game_outbox table to NATS JetStream.
// Rows are written in the same transaction as the state they describe; a
// Postgres trigger NOTIFYs the listener, which publishes and marks them sent.
package outbox

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType names the kind of change an outbox row announces.
type EventType string

const (
	EventTypeGameConfigChanged   EventType = "GameConfigChanged"
	EventTypePublicStateChanged  EventType = "PublicStateChanged"
	EventTypePrivateStateChanged EventType = "PrivateStateChanged"
)

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	switch t {
	case EventTypeGameConfigChanged, EventTypePublicStateChanged, EventTypePrivateStateChanged:
		return true
	}
	return false
}

// Record is an outbox row to be inserted.
type Record struct {
	GameID    uuid.UUID
	EventType EventType
	Payload   json.RawMessage
}

// Event is a stored outbox row.
type Event struct {
	ID        uuid.UUID       `json:"id"`
	Seq       int64           `json:"seq"`
	GameID    uuid.UUID       `json:"game_id"`
	EventType EventType       `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	SentAt    *time.Time      `json:"sent_at,omitempty"`
}

// Envelope is the message published for each outbox event. Subscribers
// decode this shape.
type Envelope struct {
	EventID   uuid.UUID       `json:"eventId"`
	EventType EventType       `json:"eventType"`
	GameID    uuid.UUID       `json:"gameId"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// Table and channel names shared with the migrations.
const (
	TableName     = "game_outbox"
	NotifyChannel = "game_outbox_events"
)
