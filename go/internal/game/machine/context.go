package machine

import (
	"github.com/mcdev12/bideuchre/go/internal/game/cards"
	"github.com/mcdev12/bideuchre/go/internal/models"
)

// DefaultTargetScore ends the game when a partnership reaches it (or its
// negative).
const DefaultTargetScore = 32

// PerPosition is a record keyed by seat. It is the only shape allowed for
// private data.
type PerPosition[T any] map[models.Position]T

func newPerPosition[T any](zero T) PerPosition[T] {
	m := make(PerPosition[T], len(models.Positions))
	for _, p := range models.Positions {
		m[p] = zero
	}
	return m
}

// Context is the full game context. Its visibility is fixed by type:
// Public is sent to everyone, Hands only to the owning seat, and Server
// never leaves the server.
type Context struct {
	Public
	Hands  PerPosition[cards.Hand] `json:"hands"`
	Server Server                  `json:"server"`
}

// Public is the part of the context every participant may see.
type Public struct {
	EventCount         int                        `json:"eventCount"`
	PreviousEventCount int                        `json:"previousEventCount"`
	TargetScore        int                        `json:"targetScore"`
	RoundNumber        int                        `json:"roundNumber"`
	Dealer             models.Position            `json:"dealer"`
	AwaitedPlayer      models.Position            `json:"awaitedPlayer"`
	Bids               PerPosition[*Bid]          `json:"bids"`
	BidWinner          models.Position            `json:"bidWinner,omitempty"`
	WinningBid         Bid                        `json:"winningBid,omitempty"`
	Trump              cards.Suit                 `json:"trump,omitempty"`
	LedSuit            cards.Suit                 `json:"ledSuit,omitempty"`
	Trick              []PlayedCard               `json:"trick"`
	LastTrick          *CompletedTrick            `json:"lastTrick,omitempty"`
	TrickCount         PerPosition[int]           `json:"trickCount"`
	HandSizes          PerPosition[int]           `json:"handSizes"`
	Score              map[models.Partnership]int `json:"score"`
	LastRound          *RoundResult               `json:"lastRound,omitempty"`
	Winner             models.Partnership         `json:"winner,omitempty"`
}

// Server holds data that would reveal hidden cards.
type Server struct {
	Seed       int64 `json:"seed"`
	DealNumber int   `json:"dealNumber"`
}

// PlayedCard is one card of a trick.
type PlayedCard struct {
	Position models.Position `json:"position"`
	Card     cards.Card      `json:"card"`
}

// CompletedTrick is the last resolved trick.
type CompletedTrick struct {
	Cards  []PlayedCard    `json:"cards"`
	Winner models.Position `json:"winner"`
}

// RoundResult summarizes the scoring of a finished round.
type RoundResult struct {
	BidWinner models.Position            `json:"bidWinner"`
	Bid       Bid                        `json:"bid"`
	Made      bool                       `json:"made"`
	Tricks    map[models.Partnership]int `json:"tricks"`
	Points    map[models.Partnership]int `json:"points"`
}

// NewContext returns the context of a game that has not started.
func NewContext(seed int64, dealer models.Position, targetScore int) Context {
	if targetScore <= 0 {
		targetScore = DefaultTargetScore
	}
	return Context{
		Public: Public{
			TargetScore: targetScore,
			Dealer:      dealer,
			Bids:        newPerPosition[*Bid](nil),
			Trick:       []PlayedCard{},
			TrickCount:  newPerPosition(0),
			HandSizes:   newPerPosition(0),
			Score: map[models.Partnership]int{
				models.PartnershipNorthSouth: 0,
				models.PartnershipEastWest:   0,
			},
		},
		Hands:  newPerPosition[cards.Hand](cards.Hand{}),
		Server: Server{Seed: seed},
	}
}

// HighBid is the highest numeric bid so far, or Pass.
func (p *Public) HighBid() Bid {
	high := Pass
	for _, b := range p.Bids {
		if b != nil && *b > high {
			high = *b
		}
	}
	return high
}

// highBidder returns the seat holding the high bid.
func (p *Public) highBidder() (models.Position, bool) {
	high := p.HighBid()
	if high == Pass {
		return "", false
	}
	for _, pos := range models.Positions {
		if b := p.Bids[pos]; b != nil && *b == high {
			return pos, true
		}
	}
	return "", false
}

func (p *Public) allBid() bool {
	for _, pos := range models.Positions {
		if p.Bids[pos] == nil {
			return false
		}
	}
	return true
}

func (p *Public) tricksPlayed() int {
	n := 0
	for _, c := range p.TrickCount {
		n += c
	}
	return n
}

// Clone deep-copies the context.
func (c Context) Clone() Context {
	out := c
	out.Public = c.Public.Clone()
	out.Hands = make(PerPosition[cards.Hand], len(c.Hands))
	for p, h := range c.Hands {
		out.Hands[p] = h.Clone()
	}
	return out
}

// Clone deep-copies the public context.
func (p Public) Clone() Public {
	out := p
	out.Bids = make(PerPosition[*Bid], len(p.Bids))
	for pos, b := range p.Bids {
		if b != nil {
			v := *b
			out.Bids[pos] = &v
		} else {
			out.Bids[pos] = nil
		}
	}
	out.Trick = append([]PlayedCard{}, p.Trick...)
	if p.LastTrick != nil {
		lt := *p.LastTrick
		lt.Cards = append([]PlayedCard(nil), p.LastTrick.Cards...)
		out.LastTrick = &lt
	}
	out.TrickCount = clonePerPosition(p.TrickCount)
	out.HandSizes = clonePerPosition(p.HandSizes)
	out.Score = cloneScore(p.Score)
	if p.LastRound != nil {
		lr := *p.LastRound
		lr.Tricks = cloneScore(p.LastRound.Tricks)
		lr.Points = cloneScore(p.LastRound.Points)
		out.LastRound = &lr
	}
	return out
}

func clonePerPosition(m PerPosition[int]) PerPosition[int] {
	out := make(PerPosition[int], len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneScore(m map[models.Partnership]int) map[models.Partnership]int {
	if m == nil {
		return nil
	}
	out := make(map[models.Partnership]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
