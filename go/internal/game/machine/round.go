package machine

import (
	"github.com/mcdev12/bideuchre/go/internal/game/cards"
	"github.com/mcdev12/bideuchre/go/internal/models"
)

func deal(ctx *Context) {
	ctx.Server.DealNumber++
	ctx.RoundNumber++
	hands := cards.Deal(ctx.Server.Seed, ctx.Server.DealNumber, ctx.Dealer)
	for _, pos := range models.Positions {
		ctx.Hands[pos] = hands[pos]
		ctx.HandSizes[pos] = len(hands[pos])
	}
}

// resetRound clears everything a new deal starts from scratch.
func resetRound(ctx *Context) {
	for _, pos := range models.Positions {
		ctx.Bids[pos] = nil
		ctx.TrickCount[pos] = 0
		ctx.HandSizes[pos] = 0
		ctx.Hands[pos] = cards.Hand{}
	}
	ctx.AwaitedPlayer = ""
	ctx.BidWinner = ""
	ctx.WinningBid = Pass
	ctx.Trump = ""
	ctx.LedSuit = ""
	ctx.Trick = []PlayedCard{}
	ctx.LastTrick = nil
}

// scoreRound applies the result of the finished round to the score.
func scoreRound(ctx *Context) {
	bidders := ctx.BidWinner.Partnership()
	defenders := bidders.Other()

	tricks := map[models.Partnership]int{}
	for _, pos := range models.Positions {
		tricks[pos.Partnership()] += ctx.TrickCount[pos]
	}

	made := tricks[bidders] >= ctx.WinningBid.TricksNeeded()
	points := map[models.Partnership]int{
		bidders:   -int(ctx.WinningBid),
		defenders: tricks[defenders],
	}
	if made {
		points[bidders] = int(ctx.WinningBid)
	}
	for team, pts := range points {
		ctx.Score[team] += pts
	}
	ctx.LastRound = &RoundResult{
		BidWinner: ctx.BidWinner,
		Bid:       ctx.WinningBid,
		Made:      made,
		Tricks:    tricks,
		Points:    points,
	}
	ctx.AwaitedPlayer = ""
}

// gameWinner reports the winning partnership once either score crosses
// the target in either direction.
func gameWinner(p *Public) (models.Partnership, bool) {
	over := false
	for _, team := range models.Partnerships {
		if s := p.Score[team]; s >= p.TargetScore || s <= -p.TargetScore {
			over = true
		}
	}
	if !over {
		return "", false
	}
	ns, ew := p.Score[models.PartnershipNorthSouth], p.Score[models.PartnershipEastWest]
	switch {
	case ns > ew:
		return models.PartnershipNorthSouth, true
	case ew > ns:
		return models.PartnershipEastWest, true
	}
	// A tie across the line goes to the side that did not hold the bid.
	if p.LastRound != nil {
		return p.LastRound.BidWinner.Partnership().Other(), true
	}
	return models.PartnershipNorthSouth, true
}
