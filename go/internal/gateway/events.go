package gateway

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/mcdev12/bideuchre/go/internal/outbox"
)

// MessageType is the type of a message pushed to websocket clients. It
// matches the outbox event type that produced it.
type MessageType string

const (
	MessageTypeGameConfig   MessageType = MessageType(outbox.EventTypeGameConfigChanged)
	MessageTypePublicState  MessageType = MessageType(outbox.EventTypePublicStateChanged)
	MessageTypePrivateState MessageType = MessageType(outbox.EventTypePrivateStateChanged)
)

// Message is the frame written to websocket clients. Data is JSON null
// when the value does not exist yet.
type Message struct {
	ID        string          `json:"id,omitempty"`
	GameID    uuid.UUID       `json:"gameId"`
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

var nullData = json.RawMessage("null")

func dataOrNull(b []byte) json.RawMessage {
	if len(b) == 0 {
		return nullData
	}
	return b
}
