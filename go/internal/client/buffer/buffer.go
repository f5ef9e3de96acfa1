// Package buffer paces a stream of game snapshots into UI transitions.
//
// Snapshots are stored by event count. The head is the newest snapshot
// revealed so far and only moves forward one count at a time, so every
// index in [1, head] is always present. Blocking snapshots wait for an
// explicit Unblock; other snapshots linger for a fixed delay when a newer
// one is already queued.
package buffer

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// DefaultLinger is how long a non-blocking snapshot stays on screen
// before the next queued one replaces it.
const DefaultLinger = 500 * time.Millisecond

// Snapshot is what the buffer needs to know about a stored snapshot.
type Snapshot interface {
	EventCount() int
	Blocking() bool
}

// State is the buffer's position in its own state machine.
type State string

const (
	StateLoading   State = "loading"
	StateLingering State = "loaded.showHead.lingering"
	StateBlocked   State = "loaded.showHead.blocked"
	StateUnblocked State = "loaded.showHead.unblocked"
	StateDetached  State = "loaded.showSnapshotDetached"
	StateSending   State = "loaded.sendingGameEvent"
)

// Loaded reports whether the state is any of the loaded sub-states.
func (s State) Loaded() bool { return s != StateLoading }

var (
	ErrLoading      = errors.New("buffer is still loading")
	ErrNotBlocked   = errors.New("head is not blocked")
	ErrOutOfRange   = errors.New("snapshot index out of range")
	ErrSendInFlight = errors.New("a game event is already being sent")
	ErrNotAtHead    = errors.New("buffer is not idle at head")
	ErrNotSending   = errors.New("no game event is being sent")
	ErrInvalidCount = errors.New("snapshot event count must be positive")
)

// View is what the UI renders. Current is the zero value when nothing is
// shown yet.
type View[S Snapshot] struct {
	State   State
	Head    int
	Showing int
	Latest  int
	Current S
}

// Listener is called with the new view after every change. It runs with
// the buffer locked and must not call back into the buffer.
type Listener[S Snapshot] func(View[S])

// Config configures a Buffer.
type Config struct {
	Linger time.Duration
	Clock  clockwork.Clock
}

// Buffer is the client state buffer.
type Buffer[S Snapshot] struct {
	mu        sync.Mutex
	clock     clockwork.Clock
	linger    time.Duration
	listener  Listener[S]
	snapshots map[int]S
	state     State
	head      int
	showing   int
	latest    int
	// acked is set once the head has been lingered on or unblocked.
	acked bool
	timer clockwork.Timer
}

// New creates a Buffer in the loading state. listener may be nil.
func New[S Snapshot](cfg Config, listener Listener[S]) *Buffer[S] {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Linger <= 0 {
		cfg.Linger = DefaultLinger
	}
	return &Buffer[S]{
		clock:     cfg.Clock,
		linger:    cfg.Linger,
		listener:  listener,
		snapshots: make(map[int]S),
		state:     StateLoading,
	}
}

// Add stores a snapshot. Duplicates of a stored count are ignored.
func (b *Buffer[S]) Add(s S) error {
	return b.AddAll(s)
}

// AddAll stores a batch of snapshots before routing the head once, so a
// loaded history reveals its latest snapshot directly.
func (b *Buffer[S]) AddAll(snaps ...S) error {
	for _, s := range snaps {
		if count := s.EventCount(); count <= 0 {
			return fmt.Errorf("%w: %d", ErrInvalidCount, count)
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	added := false
	for _, s := range snaps {
		count := s.EventCount()
		if _, ok := b.snapshots[count]; ok {
			continue
		}
		b.snapshots[count] = s
		added = true
		if count > b.latest {
			b.latest = count
		}
	}
	if !added {
		return nil
	}

	switch b.state {
	case StateLoading:
		b.tryLoad()
	case StateUnblocked:
		b.tryAdvance()
	case StateLingering:
		// linger timer advances
	}
	b.notify()
	return nil
}

// tryLoad finishes loading once every count up to the latest is present
// and reveals the latest snapshot.
func (b *Buffer[S]) tryLoad() {
	for i := 1; i <= b.latest; i++ {
		if _, ok := b.snapshots[i]; !ok {
			return
		}
	}
	b.head = b.latest
	b.showing = b.head
	log.Debug().Int("head", b.head).Msg("buffer loaded")
	b.enterHead()
}

// enterHead routes a newly revealed head.
func (b *Buffer[S]) enterHead() {
	b.acked = false
	switch {
	case b.snapshots[b.head].Blocking():
		b.state = StateBlocked
	case b.hasNext():
		b.state = StateLingering
		b.startLinger()
	default:
		b.acked = true
		b.state = StateUnblocked
	}
}

func (b *Buffer[S]) hasNext() bool {
	_, ok := b.snapshots[b.head+1]
	return ok
}

func (b *Buffer[S]) startLinger() {
	b.stopLinger()
	var timer clockwork.Timer
	timer = b.clock.AfterFunc(b.linger, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.timer != timer || b.state != StateLingering {
			return
		}
		b.timer = nil
		b.acked = true
		b.state = StateUnblocked
		b.tryAdvance()
		b.notify()
	})
	b.timer = timer
}

func (b *Buffer[S]) stopLinger() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}

// tryAdvance reveals head+1 when unblocked.
func (b *Buffer[S]) tryAdvance() {
	if b.state != StateUnblocked || !b.hasNext() {
		return
	}
	b.head++
	b.showing = b.head
	b.enterHead()
}

// Unblock acknowledges a blocking head.
func (b *Buffer[S]) Unblock() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateBlocked {
		return ErrNotBlocked
	}
	b.acked = true
	b.state = StateUnblocked
	b.tryAdvance()
	b.notify()
	return nil
}

// Show moves the displayed snapshot within [1, head]. Showing the head
// returns to head tracking.
func (b *Buffer[S]) Show(index int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateLoading:
		return ErrLoading
	case StateSending:
		return ErrSendInFlight
	}
	if index < 1 || index > b.head {
		return fmt.Errorf("%w: %d not in [1, %d]", ErrOutOfRange, index, b.head)
	}

	b.showing = index
	switch {
	case index < b.head:
		b.stopLinger()
		b.state = StateDetached
	case b.state == StateDetached:
		b.returnToHead()
	}
	b.notify()
	return nil
}

// ShowHead leaves detached mode.
func (b *Buffer[S]) ShowHead() error {
	b.mu.Lock()
	head := b.head
	b.mu.Unlock()
	return b.Show(head)
}

func (b *Buffer[S]) returnToHead() {
	b.showing = b.head
	if b.acked {
		b.state = StateUnblocked
		b.tryAdvance()
		return
	}
	b.enterHead()
}

// BeginSend marks a game event as in flight. Only one may be outstanding,
// and only from an idle head.
func (b *Buffer[S]) BeginSend() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateSending:
		return ErrSendInFlight
	case StateUnblocked:
	default:
		return fmt.Errorf("%w: %s", ErrNotAtHead, b.state)
	}
	b.state = StateSending
	b.notify()
	return nil
}

// EndSend returns to head tracking after a send completes or fails.
func (b *Buffer[S]) EndSend() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateSending {
		return ErrNotSending
	}
	b.state = StateUnblocked
	b.tryAdvance()
	b.notify()
	return nil
}

// View returns the current view.
func (b *Buffer[S]) View() View[S] {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.view()
}

// Snapshot returns the stored snapshot for a count.
func (b *Buffer[S]) Snapshot(count int) (S, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.snapshots[count]
	return s, ok
}

func (b *Buffer[S]) view() View[S] {
	return View[S]{
		State:   b.state,
		Head:    b.head,
		Showing: b.showing,
		Latest:  b.latest,
		Current: b.snapshots[b.showing],
	}
}

func (b *Buffer[S]) notify() {
	if b.listener != nil {
		b.listener(b.view())
	}
}

// Close stops the linger timer.
func (b *Buffer[S]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopLinger()
}
