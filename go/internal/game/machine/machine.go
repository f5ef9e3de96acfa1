// Package machine implements the bid euchre game state machine as a set of
// pure reducers, one per composite level (game, round, bidding, play).
//
// Transition applies one external event; Step applies one automatic
// transition. Neither mutates its input.
package machine

import (
	"errors"
	"fmt"

	"github.com/mcdev12/bideuchre/go/internal/models"
)

// Mode selects how unrecognized events are treated.
type Mode int

const (
	// Lenient treats every unusable event as a no-op.
	Lenient Mode = iota
	// Strict fails on events the current state has no transition for.
	Strict
)

// ErrUnrecognizedEvent is returned in strict mode for an event the active
// state does not handle.
var ErrUnrecognizedEvent = errors.New("event not recognized in current state")

// Snapshot is one point of the machine history.
type Snapshot struct {
	Value   State   `json:"value"`
	Context Context `json:"context"`
	// Event is the external event whose processing produced the snapshot.
	Event *Event `json:"event,omitempty"`
}

// Meta returns the metadata of the snapshot's state node.
func (s Snapshot) Meta() Meta {
	return MetaOf(s.Value)
}

// Clone deep-copies the snapshot.
func (s Snapshot) Clone() Snapshot {
	out := s
	out.Context = s.Context.Clone()
	if s.Event != nil {
		ev := *s.Event
		out.Event = &ev
	}
	return out
}

// Initial returns the snapshot of a new game waiting for START_GAME.
func Initial(seed int64, dealer models.Position, targetScore int) Snapshot {
	return Snapshot{
		Value:   entryState(),
		Context: NewContext(seed, dealer, targetScore),
	}
}

// Result describes what Transition did with an event.
type Result struct {
	Changed bool
	// Reason explains why the event left the snapshot unchanged.
	Reason string
}

// Transition applies one external event. Events that fail a guard leave
// the snapshot unchanged. In strict mode, events the current state has no
// transition for return ErrUnrecognizedEvent.
func Transition(s Snapshot, ev Event, mode Mode) (Snapshot, Result, error) {
	ctx := s.Context.Clone()
	next, v := reduceGame(s.Value, &ctx, ev)
	switch v.outcome {
	case handled:
		return Snapshot{Value: next, Context: ctx, Event: s.Event}, Result{Changed: true}, nil
	case unhandled:
		if mode == Strict {
			return s, Result{Reason: v.reason}, fmt.Errorf("%w: %s", ErrUnrecognizedEvent, v.reason)
		}
	}
	return s, Result{Reason: v.reason}, nil
}

// Step applies the pending automatic transition, if any.
func Step(s Snapshot) (Snapshot, bool) {
	if !Pending(s.Value) {
		return s, false
	}
	ctx := s.Context.Clone()
	next, ok := stepGame(s.Value, &ctx)
	if !ok {
		return s, false
	}
	return Snapshot{Value: next, Context: ctx, Event: s.Event}, true
}

// Settle applies automatic transitions until none is pending or limit
// steps have run. It does no event-count bookkeeping.
func Settle(s Snapshot, limit int) (Snapshot, bool) {
	for i := 0; i < limit; i++ {
		next, ok := Step(s)
		if !ok {
			return s, true
		}
		s = next
	}
	return s, !Pending(s.Value)
}
