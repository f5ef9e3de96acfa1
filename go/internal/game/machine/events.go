package machine

import (
	"fmt"

	"github.com/mcdev12/bideuchre/go/internal/game/cards"
	"github.com/mcdev12/bideuchre/go/internal/models"
)

// EventType names an external event.
type EventType string

const (
	EventStartGame EventType = "START_GAME"
	EventPlayerBid EventType = "PLAYER_BID"
	EventNameTrump EventType = "NAME_TRUMP"
	EventPlayCard  EventType = "PLAY_CARD"
)

// Event is an externally supplied event. Only the fields of its type are set.
type Event struct {
	Type     EventType       `json:"type"`
	Position models.Position `json:"position,omitempty"`
	Bid      *Bid            `json:"bid,omitempty"`
	Suit     cards.Suit      `json:"suit,omitempty"`
	Card     *cards.Card     `json:"card,omitempty"`
}

// PlayerEvent reports whether the event is sent by a seated player, as
// opposed to the server.
func (e Event) PlayerEvent() bool {
	switch e.Type {
	case EventPlayerBid, EventNameTrump, EventPlayCard:
		return true
	}
	return false
}

func (e Event) String() string {
	switch e.Type {
	case EventPlayerBid:
		if e.Bid != nil {
			return fmt.Sprintf("%s{%s %s}", e.Type, e.Position, e.Bid)
		}
	case EventNameTrump:
		return fmt.Sprintf("%s{%s %s}", e.Type, e.Position, e.Suit)
	case EventPlayCard:
		if e.Card != nil {
			return fmt.Sprintf("%s{%s %s}", e.Type, e.Position, e.Card)
		}
	}
	return string(e.Type)
}

// StartGame builds a START_GAME event.
func StartGame() Event { return Event{Type: EventStartGame} }

// PlayerBid builds a PLAYER_BID event.
func PlayerBid(pos models.Position, bid Bid) Event {
	return Event{Type: EventPlayerBid, Position: pos, Bid: &bid}
}

// NameTrump builds a NAME_TRUMP event.
func NameTrump(pos models.Position, suit cards.Suit) Event {
	return Event{Type: EventNameTrump, Position: pos, Suit: suit}
}

// PlayCard builds a PLAY_CARD event.
func PlayCard(pos models.Position, card cards.Card) Event {
	return Event{Type: EventPlayCard, Position: pos, Card: &card}
}
