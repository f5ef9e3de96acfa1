package cards

// Hand is the set of cards held by one position.
type Hand []Card

// Contains reports whether the hand holds c.
func (h Hand) Contains(c Card) bool {
	return h.index(c) >= 0
}

func (h Hand) index(c Card) int {
	for i, card := range h {
		if card == c {
			return i
		}
	}
	return -1
}

// Without returns a copy of the hand with c removed.
func (h Hand) Without(c Card) Hand {
	out := make(Hand, 0, len(h))
	for _, card := range h {
		if card != c {
			out = append(out, card)
		}
	}
	return out
}

// HasSuit reports whether any card counts as suit s under trump.
func (h Hand) HasSuit(s, trump Suit) bool {
	for _, card := range h {
		if card.EffectiveSuit(trump) == s {
			return true
		}
	}
	return false
}

// CanPlay reports whether c may be played. The led suit is empty when
// leading. A card must follow the led suit if the hand holds one.
func (h Hand) CanPlay(c Card, led, trump Suit) bool {
	if !h.Contains(c) {
		return false
	}
	if led == "" || c.EffectiveSuit(trump) == led {
		return true
	}
	return !h.HasSuit(led, trump)
}

// Clone copies the hand.
func (h Hand) Clone() Hand {
	if h == nil {
		return nil
	}
	return append(make(Hand, 0, len(h)), h...)
}

func (h Hand) countRank(r Rank) int {
	n := 0
	for _, card := range h {
		if card.Rank == r {
			n++
		}
	}
	return n
}
