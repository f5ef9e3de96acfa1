package machine

import (
	"fmt"

	"github.com/mcdev12/bideuchre/go/internal/game/cards"
	"github.com/mcdev12/bideuchre/go/internal/models"
)

func reducePlay(s PlayPhase, ctx *Context, ev Event) (PlayPhase, verdict) {
	if s != PlayWaitForPlayerToPlayCard || ev.Type != EventPlayCard {
		return s, notHandled(ev, inPlay(s))
	}
	if ev.Position != ctx.AwaitedPlayer {
		return s, reject(fmt.Sprintf("%s played but %s is awaited", ev.Position, ctx.AwaitedPlayer))
	}
	if ev.Card == nil {
		return s, reject("card missing")
	}
	card := *ev.Card
	hand := ctx.Hands[ev.Position]
	if !hand.CanPlay(card, ctx.LedSuit, ctx.Trump) {
		return s, reject(fmt.Sprintf("%s may not play %s", ev.Position, card))
	}

	if len(ctx.Trick) == 0 {
		ctx.LedSuit = card.EffectiveSuit(ctx.Trump)
	}
	ctx.Hands[ev.Position] = hand.Without(card)
	ctx.HandSizes[ev.Position] = len(ctx.Hands[ev.Position])
	ctx.Trick = append(ctx.Trick, PlayedCard{Position: ev.Position, Card: card})
	return PlayCheckIfTrickIsComplete, accepted
}

// startPlay hands the lead to the bid winner.
func startPlay(ctx *Context) {
	ctx.AwaitedPlayer = ctx.BidWinner
	ctx.Trick = []PlayedCard{}
	ctx.LedSuit = ""
}

// stepPlay returns done when the last trick of the hand has been shown.
func stepPlay(s PlayPhase, ctx *Context) (next PlayPhase, done bool, ok bool) {
	switch s {
	case PlayCheckIfTrickIsComplete:
		if len(ctx.Trick) < len(models.Positions) {
			ctx.AwaitedPlayer = ctx.AwaitedPlayer.Next()
			return PlayWaitForPlayerToPlayCard, false, true
		}
		winner := trickWinner(ctx.Trick, ctx.Trump)
		ctx.TrickCount[winner]++
		ctx.LastTrick = &CompletedTrick{
			Cards:  append([]PlayedCard(nil), ctx.Trick...),
			Winner: winner,
		}
		ctx.AwaitedPlayer = winner
		return PlayTrickComplete, false, true
	case PlayTrickComplete:
		ctx.Trick = []PlayedCard{}
		ctx.LedSuit = ""
		if ctx.tricksPlayed() == cards.HandSize {
			ctx.AwaitedPlayer = ""
			return PlayComplete, false, true
		}
		return PlayWaitForPlayerToPlayCard, false, true
	case PlayComplete:
		return s, true, true
	}
	return s, false, false
}

func trickWinner(trick []PlayedCard, trump cards.Suit) models.Position {
	played := make([]cards.Card, len(trick))
	for i, pc := range trick {
		played[i] = pc.Card
	}
	return trick[cards.Winner(played, trump)].Position
}
