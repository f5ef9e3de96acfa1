// Package cards holds the 24-card euchre deck, effective-suit rules and the
// seeded deal.
package cards

import (
	"fmt"
	"strings"
)

// Suit is a card suit.
type Suit string

const (
	SuitClubs    Suit = "clubs"
	SuitDiamonds Suit = "diamonds"
	SuitHearts   Suit = "hearts"
	SuitSpades   Suit = "spades"
)

// Suits lists all four suits in deck order.
var Suits = []Suit{SuitClubs, SuitDiamonds, SuitHearts, SuitSpades}

// Valid reports whether s is a known suit.
func (s Suit) Valid() bool {
	switch s {
	case SuitClubs, SuitDiamonds, SuitHearts, SuitSpades:
		return true
	}
	return false
}

// Red reports whether the suit is red.
func (s Suit) Red() bool {
	return s == SuitDiamonds || s == SuitHearts
}

// SameColor returns the other suit of the same colour.
func (s Suit) SameColor() Suit {
	switch s {
	case SuitClubs:
		return SuitSpades
	case SuitSpades:
		return SuitClubs
	case SuitDiamonds:
		return SuitHearts
	case SuitHearts:
		return SuitDiamonds
	}
	return ""
}

// Rank is a card rank. Only 9 through ace are in the deck.
type Rank string

const (
	RankNine  Rank = "9"
	RankTen   Rank = "10"
	RankJack  Rank = "J"
	RankQueen Rank = "Q"
	RankKing  Rank = "K"
	RankAce   Rank = "A"
)

// Ranks lists the ranks from low to high.
var Ranks = []Rank{RankNine, RankTen, RankJack, RankQueen, RankKing, RankAce}

// Valid reports whether r is a known rank.
func (r Rank) Valid() bool {
	return r.order() >= 0
}

func (r Rank) order() int {
	for i, rank := range Ranks {
		if rank == r {
			return i
		}
	}
	return -1
}

// Card is a single playing card.
type Card struct {
	Rank Rank `json:"rank"`
	Suit Suit `json:"suit"`
}

// Valid reports whether c is a card of the deck.
func (c Card) Valid() bool {
	return c.Rank.Valid() && c.Suit.Valid()
}

func (c Card) String() string {
	return string(c.Rank) + strings.ToUpper(string(c.Suit)[:1])
}

// ParseCard parses the short form produced by String, e.g. "JH" or "10S".
func ParseCard(s string) (Card, error) {
	if len(s) < 2 {
		return Card{}, fmt.Errorf("invalid card %q", s)
	}
	rank := Rank(strings.ToUpper(s[:len(s)-1]))
	var suit Suit
	switch strings.ToUpper(s[len(s)-1:]) {
	case "C":
		suit = SuitClubs
	case "D":
		suit = SuitDiamonds
	case "H":
		suit = SuitHearts
	case "S":
		suit = SuitSpades
	}
	c := Card{Rank: rank, Suit: suit}
	if !c.Valid() {
		return Card{}, fmt.Errorf("invalid card %q", s)
	}
	return c, nil
}

// IsRightBower reports whether c is the jack of trump.
func (c Card) IsRightBower(trump Suit) bool {
	return c.Rank == RankJack && c.Suit == trump
}

// IsLeftBower reports whether c is the jack of the same colour as trump.
func (c Card) IsLeftBower(trump Suit) bool {
	return c.Rank == RankJack && c.Suit == trump.SameColor()
}

// EffectiveSuit is the suit c counts as once trump is known.
func (c Card) EffectiveSuit(trump Suit) Suit {
	if c.IsLeftBower(trump) {
		return trump
	}
	return c.Suit
}

// Power ranks c within a trick. Cards that can not win score zero.
func (c Card) Power(led, trump Suit) int {
	switch {
	case c.IsRightBower(trump):
		return 100
	case c.IsLeftBower(trump):
		return 99
	case c.Suit == trump:
		return 50 + c.Rank.order()
	case c.Suit == led:
		return 10 + c.Rank.order()
	}
	return 0
}

// Winner returns the index of the winning card of a trick.
func Winner(trick []Card, trump Suit) int {
	if len(trick) == 0 {
		return -1
	}
	led := trick[0].EffectiveSuit(trump)
	best := 0
	for i := 1; i < len(trick); i++ {
		if trick[i].Power(led, trump) > trick[best].Power(led, trump) {
			best = i
		}
	}
	return best
}
