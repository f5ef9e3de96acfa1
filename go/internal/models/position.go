package models

import "fmt"

// Position is one of the four fixed table seats.
type Position string

const (
	PositionNorth Position = "north"
	PositionEast  Position = "east"
	PositionSouth Position = "south"
	PositionWest  Position = "west"
)

// Positions lists every seat in clockwise rotation order.
var Positions = []Position{PositionNorth, PositionEast, PositionSouth, PositionWest}

// Valid reports whether p is a known seat.
func (p Position) Valid() bool {
	switch p {
	case PositionNorth, PositionEast, PositionSouth, PositionWest:
		return true
	}
	return false
}

// Next returns the seat to the left (clockwise) of p.
func (p Position) Next() Position {
	for i, pos := range Positions {
		if pos == p {
			return Positions[(i+1)%len(Positions)]
		}
	}
	panic(fmt.Sprintf("models: unknown position %q", string(p)))
}

// Partner returns the seat opposite p.
func (p Position) Partner() Position {
	return p.Next().Next()
}

// Partnership returns the team p plays for.
func (p Position) Partnership() Partnership {
	switch p {
	case PositionNorth, PositionSouth:
		return PartnershipNorthSouth
	default:
		return PartnershipEastWest
	}
}

// ParsePosition validates a seat name.
func ParsePosition(s string) (Position, error) {
	p := Position(s)
	if !p.Valid() {
		return "", fmt.Errorf("invalid position %q", s)
	}
	return p, nil
}

// Partnership is a team of two opposite seats.
type Partnership string

const (
	PartnershipNorthSouth Partnership = "northSouth"
	PartnershipEastWest   Partnership = "eastWest"
)

// Partnerships lists both teams.
var Partnerships = []Partnership{PartnershipNorthSouth, PartnershipEastWest}

// Other returns the opposing team.
func (p Partnership) Other() Partnership {
	if p == PartnershipNorthSouth {
		return PartnershipEastWest
	}
	return PartnershipNorthSouth
}

// Members returns the two seats of the team.
func (p Partnership) Members() [2]Position {
	if p == PartnershipNorthSouth {
		return [2]Position{PositionNorth, PositionSouth}
	}
	return [2]Position{PositionEast, PositionWest}
}
