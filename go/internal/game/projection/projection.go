// Package projection splits a full game snapshot into the public part and
// one private part per seated player, and merges them back on the client.
//
// Visibility is fixed by the machine.Context type: Public fields go to
// everyone, Hands is a per-seat record visible only to its seat, and
// Server is dropped.
package projection

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/mcdev12/bideuchre/go/internal/game/cards"
	"github.com/mcdev12/bideuchre/go/internal/game/machine"
	"github.com/mcdev12/bideuchre/go/internal/models"
)

// ErrEventCountMismatch means the public and private parts describe
// different snapshots. The merge should be retried once both streams
// catch up.
var ErrEventCountMismatch = errors.New("public and private event counts differ")

// PublicSnapshot is the part of a snapshot visible to everyone.
type PublicSnapshot struct {
	Value   machine.State  `json:"value"`
	Context machine.Public `json:"context"`
	Event   *machine.Event `json:"event,omitempty"`
}

// PrivateContext is one seat's slice of the per-seat records plus the
// event counts needed to pair it with a public snapshot.
type PrivateContext struct {
	EventCount         int             `json:"eventCount"`
	PreviousEventCount int             `json:"previousEventCount"`
	Position           models.Position `json:"position"`
	Hand               cards.Hand      `json:"hand"`
}

// PlayerContext is the context as seen by one seat.
type PlayerContext struct {
	machine.Public
	Position models.Position `json:"position"`
	Hand     cards.Hand      `json:"hand"`
}

// PlayerSnapshot is a snapshot as seen by one seat.
type PlayerSnapshot struct {
	Value   machine.State  `json:"value"`
	Context PlayerContext  `json:"context"`
	Event   *machine.Event `json:"event,omitempty"`
}

// Split is the result of splitting one snapshot.
type Split struct {
	Public  PublicSnapshot
	Private map[uuid.UUID]PrivateContext
}

// SplitSnapshot partitions s. identities maps each seat to the player
// holding it; seats without a player get no private part.
func SplitSnapshot(s machine.Snapshot, identities map[models.Position]uuid.UUID) Split {
	out := Split{
		Public:  Public(s),
		Private: make(map[uuid.UUID]PrivateContext, len(identities)),
	}
	for _, pos := range models.Positions {
		id, ok := identities[pos]
		if !ok {
			continue
		}
		out.Private[id] = Private(s, pos)
	}
	return out
}

// Public extracts the public part of s.
func Public(s machine.Snapshot) PublicSnapshot {
	var ev *machine.Event
	if s.Event != nil {
		e := *s.Event
		ev = &e
	}
	return PublicSnapshot{Value: s.Value, Context: s.Context.Public.Clone(), Event: ev}
}

// Private extracts the part of s that only pos may see.
func Private(s machine.Snapshot, pos models.Position) PrivateContext {
	hand := s.Context.Hands[pos].Clone()
	if hand == nil {
		hand = cards.Hand{}
	}
	return PrivateContext{
		EventCount:         s.Context.EventCount,
		PreviousEventCount: s.Context.PreviousEventCount,
		Position:           pos,
		Hand:               hand,
	}
}

// View is the subset of s visible to pos.
func View(s machine.Snapshot, pos models.Position) PlayerSnapshot {
	pub := Public(s)
	priv := Private(s, pos)
	return PlayerSnapshot{
		Value:   pub.Value,
		Context: PlayerContext{Public: pub.Context, Position: pos, Hand: priv.Hand},
		Event:   pub.Event,
	}
}

// Merge combines a public snapshot with one seat's private context. It
// returns ErrEventCountMismatch unless both carry the same eventCount.
func Merge(pub PublicSnapshot, priv PrivateContext) (PlayerSnapshot, error) {
	if pub.Context.EventCount != priv.EventCount {
		return PlayerSnapshot{}, fmt.Errorf("%w: public=%d private=%d",
			ErrEventCountMismatch, pub.Context.EventCount, priv.EventCount)
	}
	return PlayerSnapshot{
		Value: pub.Value,
		Context: PlayerContext{
			Public:   pub.Context.Clone(),
			Position: priv.Position,
			Hand:     priv.Hand.Clone(),
		},
		Event: pub.Event,
	}, nil
}

// Encode serializes a projection canonically: struct fields in declaration
// order and map keys sorted, so equal values encode to equal bytes.
func Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

// EventCount implements the client buffer's snapshot interface.
func (s PublicSnapshot) EventCount() int { return s.Context.EventCount }

// Blocking implements the client buffer's snapshot interface.
func (s PublicSnapshot) Blocking() bool { return machine.MetaOf(s.Value).Blocking }

// EventCount implements the client buffer's snapshot interface.
func (s PlayerSnapshot) EventCount() int { return s.Context.EventCount }

// Blocking implements the client buffer's snapshot interface.
func (s PlayerSnapshot) Blocking() bool { return machine.MetaOf(s.Value).Blocking }
