package cards

import (
	"math/rand"

	"github.com/mcdev12/bideuchre/go/internal/models"
)

// HandSize is the number of cards dealt to each position.
const HandSize = 6

// maxReshuffles bounds the redeal loop; a four-nines hand is rare enough
// that hitting this means the shuffle is broken.
const maxReshuffles = 1000

// NewDeck returns the 24-card deck in suit then rank order.
func NewDeck() []Card {
	deck := make([]Card, 0, len(Suits)*len(Ranks))
	for _, s := range Suits {
		for _, r := range Ranks {
			deck = append(deck, Card{Rank: r, Suit: s})
		}
	}
	return deck
}

// Shuffle returns a shuffled copy of deck. The result depends only on seed.
func Shuffle(deck []Card, seed int64) []Card {
	shuffled := make([]Card, len(deck))
	copy(shuffled, deck)
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	return shuffled
}

// Deal deals a full deck to the four positions, starting with the seat after
// dealer. The shuffle is derived from (seed, dealNumber) and the deck is
// reshuffled while any hand holds all four nines.
func Deal(seed int64, dealNumber int, dealer models.Position) map[models.Position]Hand {
	base := seed*1_000_003 + int64(dealNumber)*7_919
	for attempt := int64(0); attempt < maxReshuffles; attempt++ {
		deck := Shuffle(NewDeck(), base+attempt)
		hands := make(map[models.Position]Hand, len(models.Positions))
		pos := dealer.Next()
		for i := range models.Positions {
			hands[pos] = Hand(deck[i*HandSize : (i+1)*HandSize : (i+1)*HandSize])
			pos = pos.Next()
		}
		if !anyFourNines(hands) {
			return hands
		}
	}
	panic("cards: could not produce a legal deal")
}

func anyFourNines(hands map[models.Position]Hand) bool {
	for _, h := range hands {
		if h.countRank(RankNine) == len(Suits) {
			return true
		}
	}
	return false
}
