package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/bideuchre/go/internal/game/machine"
	"github.com/mcdev12/bideuchre/go/internal/game/runner"
	"github.com/mcdev12/bideuchre/go/internal/games"
)

var errNoHistory = errors.New("game has no stored snapshots")

// gameSource is the part of games.App the replay needs.
type gameSource interface {
	GetSnapshots(ctx context.Context, id uuid.UUID) ([]machine.Snapshot, error)
	GetEventLog(ctx context.Context, id uuid.UUID) ([]games.LoggedEvent, error)
}

// Divergence is the first stored snapshot the replay does not reproduce.
type Divergence struct {
	EventCount int
	Stored     []byte
	Replayed   []byte
}

type Report struct {
	Events     int
	Snapshots  int
	Replayed   int
	Divergence *Divergence
}

// initialOf rebuilds the snapshot a game started from. The first stored
// snapshot still carries the game's seed, dealer and target.
func initialOf(first machine.Snapshot) machine.Snapshot {
	return machine.Initial(first.Context.Server.Seed, first.Context.Public.Dealer, first.Context.Public.TargetScore)
}

func replayGame(ctx context.Context, src gameSource, r *runner.Runner, id uuid.UUID) (*Report, error) {
	stored, err := src.GetSnapshots(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load snapshots: %w", err)
	}
	if len(stored) == 0 {
		return nil, errNoHistory
	}
	logged, err := src.GetEventLog(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load event log: %w", err)
	}
	events := make([]machine.Event, len(logged))
	for i, ev := range logged {
		events[i] = ev.Event
	}

	replayed, replayErr := r.Replay(initialOf(stored[0]), events)
	for _, s := range replayed {
		log.Debug().
			Int("event_count", s.Context.EventCount).
			Str("state", s.Value.String()).
			Msg("Replayed transition")
	}

	report := &Report{Events: len(events), Snapshots: len(stored), Replayed: len(replayed)}
	div, err := firstDivergence(stored, replayed)
	if err != nil {
		return nil, err
	}
	report.Divergence = div
	if replayErr != nil && div == nil {
		return report, fmt.Errorf("replay stopped early: %w", replayErr)
	}
	return report, nil
}

// firstDivergence compares snapshots by their encoding. A missing
// snapshot on either side is a divergence at that count.
func firstDivergence(stored, replayed []machine.Snapshot) (*Divergence, error) {
	n := max(len(stored), len(replayed))
	for i := 0; i < n; i++ {
		var a, b []byte
		var err error
		count := i + 1
		if i < len(stored) {
			if a, err = json.Marshal(stored[i]); err != nil {
				return nil, fmt.Errorf("encode stored snapshot %d: %w", count, err)
			}
			count = stored[i].Context.EventCount
		}
		if i < len(replayed) {
			if b, err = json.Marshal(replayed[i]); err != nil {
				return nil, fmt.Errorf("encode replayed snapshot %d: %w", count, err)
			}
			count = replayed[i].Context.EventCount
		}
		if !bytes.Equal(a, b) {
			return &Divergence{EventCount: count, Stored: a, Replayed: b}, nil
		}
	}
	return nil, nil
}
