// Package runner drives the game machine from one external event to
// quiescence, emitting a snapshot for every externally visible transition.
package runner

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/bideuchre/go/internal/game/machine"
)

// DefaultMaxSteps bounds the automatic transitions of one run.
const DefaultMaxSteps = 256

var (
	// ErrInvalidTransition means the machine did not accept the event.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrStepLimit means the machine never became quiescent.
	ErrStepLimit = errors.New("transition step limit exceeded")
	// ErrEventCount means the prior snapshot's counts are inconsistent.
	ErrEventCount = errors.New("inconsistent event count")
)

// Config configures a Runner.
type Config struct {
	MaxSteps int
	Mode     machine.Mode
}

// DefaultConfig returns the server configuration: strict mode with the
// default step bound.
func DefaultConfig() Config {
	return Config{MaxSteps: DefaultMaxSteps, Mode: machine.Strict}
}

// Runner runs the machine to quiescence.
type Runner struct {
	maxSteps int
	mode     machine.Mode
}

// New creates a Runner.
func New(cfg Config) *Runner {
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = DefaultMaxSteps
	}
	return &Runner{maxSteps: cfg.MaxSteps, mode: cfg.Mode}
}

// Run applies ev to prior and every automatic transition that follows.
// Each emitted snapshot has eventCount one higher than its predecessor.
// On error no snapshot is returned.
func (r *Runner) Run(prior machine.Snapshot, ev machine.Event) ([]machine.Snapshot, error) {
	if prior.Context.EventCount < 0 || prior.Context.PreviousEventCount > prior.Context.EventCount {
		return nil, fmt.Errorf("%w: eventCount=%d previousEventCount=%d",
			ErrEventCount, prior.Context.EventCount, prior.Context.PreviousEventCount)
	}

	cur, res, err := machine.Transition(prior, ev, r.mode)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTransition, err)
	}
	if !res.Changed {
		return nil, fmt.Errorf("%w: %s", ErrInvalidTransition, res.Reason)
	}
	applied := ev
	cur.Event = &applied

	count := prior.Context.EventCount
	var out []machine.Snapshot
	dirty := true
	emit := func() {
		cur.Context.PreviousEventCount = count
		count++
		cur.Context.EventCount = count
		out = append(out, cur)
		dirty = false
		log.Debug().
			Str("state", cur.Value.String()).
			Int("event_count", count).
			Str("event", ev.String()).
			Msg("Emitted snapshot")
	}

	if cur.Meta().Emits {
		emit()
	}
	for steps := 0; machine.Pending(cur.Value); steps++ {
		if steps >= r.maxSteps {
			log.Error().
				Str("state", cur.Value.String()).
				Str("event", ev.String()).
				Int("max_steps", r.maxSteps).
				Msg("Machine did not reach quiescence")
			return nil, fmt.Errorf("%w: %d steps from %s", ErrStepLimit, r.maxSteps, prior.Value)
		}
		next, ok := machine.Step(cur)
		if !ok {
			break
		}
		cur = next
		dirty = true
		if cur.Meta().Emits {
			emit()
		}
	}
	if dirty {
		emit()
	}
	return out, nil
}

// Replay feeds events through the runner starting at initial and returns
// every emitted snapshot in order.
func (r *Runner) Replay(initial machine.Snapshot, events []machine.Event) ([]machine.Snapshot, error) {
	var all []machine.Snapshot
	cur := initial
	for i, ev := range events {
		snaps, err := r.Run(cur, ev)
		if err != nil {
			return all, fmt.Errorf("replay event %d (%s): %w", i, ev, err)
		}
		all = append(all, snaps...)
		cur = snaps[len(snaps)-1]
	}
	return all, nil
}
