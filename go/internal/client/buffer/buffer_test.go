package buffer

import (
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type snap struct {
	count    int
	blocking bool
}

func (s snap) EventCount() int { return s.count }
func (s snap) Blocking() bool  { return s.blocking }

type recorder struct {
	mu    sync.Mutex
	views []View[snap]
}

func (r *recorder) listen(v View[snap]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.views = append(r.views, v)
}

func (r *recorder) shownCounts() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []int
	last := 0
	for _, v := range r.views {
		if v.Showing != 0 && v.Showing != last {
			out = append(out, v.Showing)
			last = v.Showing
		}
	}
	return out
}

func newTestBuffer(t *testing.T) (*Buffer[snap], *clockwork.FakeClock, *recorder) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	rec := &recorder{}
	b := New[snap](Config{Clock: clock, Linger: DefaultLinger}, rec.listen)
	t.Cleanup(b.Close)
	return b, clock, rec
}

func addAll(t *testing.T, b *Buffer[snap], snaps ...snap) {
	t.Helper()
	for _, s := range snaps {
		require.NoError(t, b.Add(s))
	}
}

func requireState(t *testing.T, b *Buffer[snap], want State) {
	t.Helper()
	require.Eventually(t, func() bool { return b.View().State == want },
		time.Second, time.Millisecond, "want %s, have %s", want, b.View().State)
}

func TestLoadingWaitsForGaps(t *testing.T) {
	b, _, _ := newTestBuffer(t)

	addAll(t, b, snap{count: 3}, snap{count: 1})
	v := b.View()
	assert.Equal(t, StateLoading, v.State)
	assert.Equal(t, 0, v.Head)
	assert.Equal(t, 0, v.Showing)

	addAll(t, b, snap{count: 2})
	v = b.View()
	assert.True(t, v.State.Loaded())
	assert.Equal(t, 3, v.Head)
	assert.Equal(t, 3, v.Showing)
	assert.Equal(t, StateUnblocked, v.State)
}

func TestRejectsNonPositiveCounts(t *testing.T) {
	b, _, _ := newTestBuffer(t)
	assert.ErrorIs(t, b.Add(snap{count: 0}), ErrInvalidCount)
}

func TestUnblockedAdvancesImmediately(t *testing.T) {
	b, _, _ := newTestBuffer(t)
	addAll(t, b, snap{count: 1})
	require.Equal(t, StateUnblocked, b.View().State)

	addAll(t, b, snap{count: 2})
	v := b.View()
	assert.Equal(t, 2, v.Head)
	assert.Equal(t, StateUnblocked, v.State)
}

func TestLingerBeforeNextSnapshot(t *testing.T) {
	b, clock, rec := newTestBuffer(t)
	addAll(t, b, snap{count: 1, blocking: true})
	require.Equal(t, StateBlocked, b.View().State)

	addAll(t, b, snap{count: 2}, snap{count: 3}, snap{count: 4})
	require.Equal(t, 1, b.View().Head, "blocked head does not advance")

	require.NoError(t, b.Unblock())
	v := b.View()
	assert.Equal(t, 2, v.Head)
	assert.Equal(t, StateLingering, v.State)

	require.NoError(t, clock.BlockUntilContext(t.Context(), 1))
	clock.Advance(DefaultLinger - time.Millisecond)
	assert.Equal(t, 2, b.View().Head)

	clock.Advance(time.Millisecond)
	require.Eventually(t, func() bool { return b.View().Head == 3 }, time.Second, time.Millisecond)
	requireState(t, b, StateLingering)

	require.NoError(t, clock.BlockUntilContext(t.Context(), 1))
	clock.Advance(DefaultLinger)
	require.Eventually(t, func() bool { return b.View().Head == 4 }, time.Second, time.Millisecond)
	requireState(t, b, StateUnblocked)

	assert.Equal(t, []int{1, 2, 3, 4}, rec.shownCounts())
}

func TestBlockingRequiresUnblock(t *testing.T) {
	b, _, _ := newTestBuffer(t)
	addAll(t, b, snap{count: 1})
	assert.ErrorIs(t, b.Unblock(), ErrNotBlocked)

	addAll(t, b, snap{count: 2, blocking: true}, snap{count: 3})
	v := b.View()
	assert.Equal(t, 2, v.Head)
	assert.Equal(t, StateBlocked, v.State)

	require.NoError(t, b.Unblock())
	v = b.View()
	assert.Equal(t, 3, v.Head)
	assert.Equal(t, StateUnblocked, v.State)
}

func TestDetachedBrowsing(t *testing.T) {
	b, _, _ := newTestBuffer(t)
	addAll(t, b, snap{count: 1}, snap{count: 2}, snap{count: 3})
	require.Equal(t, 3, b.View().Head)

	require.NoError(t, b.Show(1))
	v := b.View()
	assert.Equal(t, StateDetached, v.State)
	assert.Equal(t, 1, v.Showing)
	assert.Equal(t, 1, v.Current.count)
	assert.Equal(t, 3, v.Head)

	// arrivals while detached do not move the head
	addAll(t, b, snap{count: 4})
	assert.Equal(t, 3, b.View().Head)

	assert.ErrorIs(t, b.Show(4), ErrOutOfRange)
	assert.ErrorIs(t, b.Show(0), ErrOutOfRange)

	require.NoError(t, b.ShowHead())
	v = b.View()
	assert.Equal(t, 4, v.Head, "acknowledged head resumes and reveals the queued snapshot")
	assert.Equal(t, 4, v.Showing)
	assert.Equal(t, StateUnblocked, v.State)
}

func TestDetachFromBlockedHeadReturnsBlocked(t *testing.T) {
	b, _, _ := newTestBuffer(t)
	addAll(t, b, snap{count: 1}, snap{count: 2, blocking: true})
	require.Equal(t, StateBlocked, b.View().State)

	require.NoError(t, b.Show(1))
	require.NoError(t, b.Show(2))
	assert.Equal(t, StateBlocked, b.View().State)
}

func TestShowWhileLoading(t *testing.T) {
	b, _, _ := newTestBuffer(t)
	assert.ErrorIs(t, b.Show(1), ErrLoading)
}

func TestSendingIsDebounced(t *testing.T) {
	b, _, _ := newTestBuffer(t)
	addAll(t, b, snap{count: 1, blocking: true})
	assert.ErrorIs(t, b.BeginSend(), ErrNotAtHead)
	require.NoError(t, b.Unblock())

	require.NoError(t, b.BeginSend())
	assert.ErrorIs(t, b.BeginSend(), ErrSendInFlight)
	assert.ErrorIs(t, b.Show(1), ErrSendInFlight)

	// the result can arrive before the send returns
	addAll(t, b, snap{count: 2})
	assert.Equal(t, 1, b.View().Head)

	require.NoError(t, b.EndSend())
	v := b.View()
	assert.Equal(t, 2, v.Head)
	assert.Equal(t, StateUnblocked, v.State)
	assert.ErrorIs(t, b.EndSend(), ErrNotSending)
}

func TestHeadNeverSkipsMissingSnapshots(t *testing.T) {
	b, _, _ := newTestBuffer(t)
	addAll(t, b, snap{count: 3}, snap{count: 1})
	assert.Equal(t, StateLoading, b.View().State)

	addAll(t, b, snap{count: 2}, snap{count: 5})
	v := b.View()
	assert.Equal(t, 3, v.Head)
	for i := 1; i <= v.Head; i++ {
		_, ok := b.Snapshot(i)
		assert.True(t, ok, "missing %d", i)
	}

	// 4 fills the gap and lingers because 5 is already queued
	addAll(t, b, snap{count: 4})
	v = b.View()
	assert.Equal(t, 4, v.Head)
	assert.Equal(t, StateLingering, v.State)
}

func TestAddAllRevealsLatest(t *testing.T) {
	b, _, _ := newTestBuffer(t)
	require.NoError(t, b.AddAll(snap{count: 1, blocking: true}, snap{count: 2}))

	v := b.View()
	assert.Equal(t, 2, v.Head)
	assert.Equal(t, StateUnblocked, v.State)

	assert.ErrorIs(t, b.AddAll(snap{count: 3}, snap{count: -1}), ErrInvalidCount)
	assert.Equal(t, 2, b.View().Latest)
}
