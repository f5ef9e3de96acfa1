package machine

import (
	"fmt"
	"strings"
)

// GamePhase is the top level of the machine under runGame.
type GamePhase string

const (
	GameEntry    GamePhase = "entry"
	GameRound    GamePhase = "round"
	GameComplete GamePhase = "gameComplete"
)

// RoundPhase is the state within a round.
type RoundPhase string

const (
	RoundWaitForDeal   RoundPhase = "waitForDeal"
	RoundDoDeal        RoundPhase = "doDeal"
	RoundDealDone      RoundPhase = "dealDone"
	RoundBidding       RoundPhase = "bidding"
	RoundThePlay       RoundPhase = "thePlay"
	RoundRoundComplete RoundPhase = "roundComplete"
)

// BiddingPhase is the state within the bidding sub-machine.
type BiddingPhase string

const (
	BiddingWaitForPlayerToBid       BiddingPhase = "waitForPlayerToBid"
	BiddingCheckIfComplete          BiddingPhase = "checkIfBiddingIsComplete"
	BiddingMisdeal                  BiddingPhase = "misdeal"
	BiddingWaitForPlayerToNameTrump BiddingPhase = "waitForPlayerToNameTrump"
	BiddingComplete                 BiddingPhase = "biddingComplete"
)

// PlayPhase is the state within the trick-play sub-machine.
type PlayPhase string

const (
	PlayWaitForPlayerToPlayCard PlayPhase = "waitForPlayerToPlayCard"
	PlayCheckIfTrickIsComplete  PlayPhase = "checkIfTrickIsComplete"
	PlayTrickComplete           PlayPhase = "trickComplete"
	PlayComplete                PlayPhase = "playComplete"
)

const rootNode = "runGame"

// State is the composite state value. Only the fields for the active
// branch are set; the others are empty.
type State struct {
	Game    GamePhase
	Round   RoundPhase
	Bidding BiddingPhase
	Play    PlayPhase
}

func entryState() State { return State{Game: GameEntry} }

func completeState() State { return State{Game: GameComplete} }

func inRound(r RoundPhase) State { return State{Game: GameRound, Round: r} }

func inBidding(b BiddingPhase) State {
	return State{Game: GameRound, Round: RoundBidding, Bidding: b}
}

func inPlay(p PlayPhase) State {
	return State{Game: GameRound, Round: RoundThePlay, Play: p}
}

// String renders the dotted path, e.g. runGame.round.bidding.misdeal.
func (s State) String() string {
	parts := []string{rootNode, string(s.Game)}
	if s.Game == GameRound {
		parts = append(parts, string(s.Round))
		switch s.Round {
		case RoundBidding:
			parts = append(parts, string(s.Bidding))
		case RoundThePlay:
			parts = append(parts, string(s.Play))
		}
	}
	return strings.Join(parts, ".")
}

// Matches reports whether the dotted path prefix is active, e.g.
// "runGame.round.bidding".
func (s State) Matches(prefix string) bool {
	v := s.String()
	return v == prefix || strings.HasPrefix(v, prefix+".")
}

func (s State) MarshalText() ([]byte, error) {
	if _, ok := nodes[s]; !ok {
		return nil, fmt.Errorf("unknown state %+v", s)
	}
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(b []byte) error {
	st, err := ParseState(string(b))
	if err != nil {
		return err
	}
	*s = st
	return nil
}

// ParseState parses a dotted state path.
func ParseState(v string) (State, error) {
	for st := range nodes {
		if st.String() == v {
			return st, nil
		}
	}
	return State{}, fmt.Errorf("unknown state %q", v)
}

// Meta is the static metadata attached to a state node.
type Meta struct {
	// Blocking nodes wait for a UI acknowledgment before the client moves on.
	Blocking bool
	// Emits marks entering the node as an externally visible transition.
	Emits bool
	// Final marks the terminal node.
	Final bool

	auto bool
}

var nodes = map[State]Meta{
	entryState():    {},
	completeState(): {Emits: true, Final: true},

	inRound(RoundWaitForDeal):   {auto: true},
	inRound(RoundDoDeal):        {auto: true},
	inRound(RoundDealDone):      {Blocking: true, Emits: true, auto: true},
	inRound(RoundRoundComplete): {Blocking: true, Emits: true, auto: true},

	inBidding(BiddingWaitForPlayerToBid):       {Emits: true},
	inBidding(BiddingCheckIfComplete):          {auto: true},
	inBidding(BiddingMisdeal):                  {Blocking: true, Emits: true, auto: true},
	inBidding(BiddingWaitForPlayerToNameTrump): {Emits: true},
	inBidding(BiddingComplete):                 {auto: true},

	inPlay(PlayWaitForPlayerToPlayCard): {Emits: true},
	inPlay(PlayCheckIfTrickIsComplete):  {auto: true},
	inPlay(PlayTrickComplete):           {Blocking: true, Emits: true, auto: true},
	inPlay(PlayComplete):                {auto: true},
}

// MetaOf returns the metadata of a state node.
func MetaOf(s State) Meta {
	return nodes[s]
}

// Pending reports whether an automatic transition is pending in s.
func Pending(s State) bool {
	return nodes[s].auto
}
