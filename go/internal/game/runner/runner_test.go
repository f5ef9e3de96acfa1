package runner

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/bideuchre/go/internal/game/cards"
	"github.com/mcdev12/bideuchre/go/internal/game/machine"
	"github.com/mcdev12/bideuchre/go/internal/models"
)

func assertCounts(t *testing.T, prior machine.Snapshot, snaps []machine.Snapshot) {
	t.Helper()
	prev := prior.Context.EventCount
	for _, s := range snaps {
		assert.Equal(t, prev+1, s.Context.EventCount)
		assert.Equal(t, prev, s.Context.PreviousEventCount)
		prev = s.Context.EventCount
	}
}

// nextEvent picks a legal move for whoever is awaited: the first bidder
// bids 1, everyone else passes, trump is hearts and the first legal card
// is played.
func nextEvent(s machine.Snapshot) machine.Event {
	ctx := s.Context
	switch {
	case s.Value.Matches("runGame.round.bidding.waitForPlayerToBid"):
		if ctx.HighBid() == machine.Pass {
			return machine.PlayerBid(ctx.AwaitedPlayer, 1)
		}
		return machine.PlayerBid(ctx.AwaitedPlayer, machine.Pass)
	case s.Value.Matches("runGame.round.bidding.waitForPlayerToNameTrump"):
		return machine.NameTrump(ctx.AwaitedPlayer, cards.SuitHearts)
	default:
		hand := ctx.Hands[ctx.AwaitedPlayer]
		for _, c := range hand {
			if hand.CanPlay(c, ctx.LedSuit, ctx.Trump) {
				return machine.PlayCard(ctx.AwaitedPlayer, c)
			}
		}
	}
	panic("no move for " + s.Value.String())
}

func TestRunStartGame(t *testing.T) {
	r := New(DefaultConfig())
	prior := machine.Initial(99, models.PositionNorth, 0)

	snaps, err := r.Run(prior, machine.StartGame())
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, "runGame.round.dealDone", snaps[0].Value.String())
	assert.Equal(t, "runGame.round.bidding.waitForPlayerToBid", snaps[1].Value.String())
	assert.Equal(t, 1, snaps[0].Context.EventCount)
	assertCounts(t, prior, snaps)
	for _, s := range snaps {
		require.NotNil(t, s.Event)
		assert.Equal(t, machine.EventStartGame, s.Event.Type)
	}
}

func TestRunBidEmitsOneSnapshot(t *testing.T) {
	r := New(DefaultConfig())
	start, err := r.Run(machine.Initial(99, models.PositionNorth, 0), machine.StartGame())
	require.NoError(t, err)
	prior := start[len(start)-1]

	snaps, err := r.Run(prior, machine.PlayerBid(models.PositionEast, 2))
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, models.PositionSouth, snaps[0].Context.AwaitedPlayer)
	assertCounts(t, prior, snaps)
}

func TestRunIsDeterministic(t *testing.T) {
	r := New(DefaultConfig())
	prior := machine.Initial(5, models.PositionWest, 0)

	a, err := r.Run(prior, machine.StartGame())
	require.NoError(t, err)
	b, err := r.Run(prior, machine.StartGame())
	require.NoError(t, err)

	ja, err := json.Marshal(a)
	require.NoError(t, err)
	jb, err := json.Marshal(b)
	require.NoError(t, err)
	assert.Equal(t, ja, jb)
}

func TestRunRejects(t *testing.T) {
	r := New(DefaultConfig())
	start, err := r.Run(machine.Initial(1, models.PositionNorth, 0), machine.StartGame())
	require.NoError(t, err)
	prior := start[len(start)-1]

	snaps, err := r.Run(prior, machine.PlayerBid(models.PositionWest, 2))
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Empty(t, snaps)

	snaps, err = r.Run(prior, machine.NameTrump(models.PositionEast, cards.SuitClubs))
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Empty(t, snaps)

	lenient := New(Config{Mode: machine.Lenient})
	snaps, err = lenient.Run(prior, machine.NameTrump(models.PositionEast, cards.SuitClubs))
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Empty(t, snaps)
}

func TestRunStepLimit(t *testing.T) {
	r := New(Config{MaxSteps: 2, Mode: machine.Strict})
	snaps, err := r.Run(machine.Initial(1, models.PositionNorth, 0), machine.StartGame())
	assert.ErrorIs(t, err, ErrStepLimit)
	assert.Empty(t, snaps)
}

func TestRunRejectsBadCounts(t *testing.T) {
	prior := machine.Initial(1, models.PositionNorth, 0)
	prior.Context.PreviousEventCount = 3
	_, err := New(DefaultConfig()).Run(prior, machine.StartGame())
	assert.ErrorIs(t, err, ErrEventCount)
}

func TestLastTrickEmitsIntermediateStates(t *testing.T) {
	r := New(DefaultConfig())
	cur := machine.Initial(8, models.PositionNorth, 0)
	snaps, err := r.Run(cur, machine.StartGame())
	require.NoError(t, err)
	cur = snaps[len(snaps)-1]

	for cur.Context.RoundNumber == 1 {
		ev := nextEvent(cur)
		snaps, err = r.Run(cur, ev)
		require.NoError(t, err)
		assertCounts(t, cur, snaps)
		cur = snaps[len(snaps)-1]
	}

	var states []string
	for _, s := range snaps {
		states = append(states, s.Value.String())
	}
	assert.Equal(t, []string{
		"runGame.round.thePlay.trickComplete",
		"runGame.round.roundComplete",
		"runGame.round.dealDone",
		"runGame.round.bidding.waitForPlayerToBid",
	}, states)
}

func TestReplayReproducesGame(t *testing.T) {
	r := New(DefaultConfig())
	initial := machine.Initial(2024, models.PositionSouth, 10)

	var events []machine.Event
	var live []machine.Snapshot
	cur := initial
	ev := machine.StartGame()
	for i := 0; i < 2000; i++ {
		snaps, err := r.Run(cur, ev)
		require.NoError(t, err)
		events = append(events, ev)
		live = append(live, snaps...)
		cur = snaps[len(snaps)-1]
		if cur.Meta().Final {
			break
		}
		ev = nextEvent(cur)
	}
	require.True(t, cur.Meta().Final, "game did not finish")

	replayed, err := r.Replay(initial, events)
	require.NoError(t, err)
	require.Len(t, replayed, len(live))

	a, err := json.Marshal(live)
	require.NoError(t, err)
	b, err := json.Marshal(replayed)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, len(live), cur.Context.EventCount)
}
