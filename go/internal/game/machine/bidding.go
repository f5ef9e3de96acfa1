package machine

import (
	"fmt"
)

type biddingExit int

const (
	biddingExitNone biddingExit = iota
	biddingExitMisdeal
	biddingExitComplete
)

func reduceBidding(s BiddingPhase, ctx *Context, ev Event) (BiddingPhase, verdict) {
	switch s {
	case BiddingWaitForPlayerToBid:
		if ev.Type != EventPlayerBid {
			break
		}
		if v := guardBid(&ctx.Public, ev); v.outcome != handled {
			return s, v
		}
		bid := *ev.Bid
		ctx.Bids[ev.Position] = &bid
		return BiddingCheckIfComplete, accepted

	case BiddingWaitForPlayerToNameTrump:
		if ev.Type != EventNameTrump {
			break
		}
		if ev.Position != ctx.AwaitedPlayer {
			return s, reject(fmt.Sprintf("%s named trump but %s is awaited", ev.Position, ctx.AwaitedPlayer))
		}
		if !ev.Suit.Valid() {
			return s, reject(fmt.Sprintf("invalid suit %q", ev.Suit))
		}
		ctx.Trump = ev.Suit
		return BiddingComplete, accepted
	}
	return s, notHandled(ev, inBidding(s))
}

// guardBid accepts a bid only from the awaited seat, and only pass or a
// numeric bid above the high bid and within its ceiling.
func guardBid(p *Public, ev Event) verdict {
	if ev.Position != p.AwaitedPlayer {
		return reject(fmt.Sprintf("%s bid but %s is awaited", ev.Position, p.AwaitedPlayer))
	}
	if ev.Bid == nil {
		return reject("bid missing")
	}
	if p.Bids[ev.Position] != nil {
		return reject(fmt.Sprintf("%s already bid", ev.Position))
	}
	if high := p.HighBid(); !BidAllowed(high, *ev.Bid) {
		return reject(fmt.Sprintf("bid %s not allowed over %s (ceiling %d)", *ev.Bid, high, Ceiling(high)))
	}
	return accepted
}

func stepBidding(s BiddingPhase, ctx *Context) (BiddingPhase, biddingExit, bool) {
	switch s {
	case BiddingCheckIfComplete:
		if !ctx.allBid() {
			ctx.AwaitedPlayer = ctx.AwaitedPlayer.Next()
			return BiddingWaitForPlayerToBid, biddingExitNone, true
		}
		winner, ok := ctx.highBidder()
		if !ok {
			ctx.AwaitedPlayer = ""
			return BiddingMisdeal, biddingExitNone, true
		}
		ctx.BidWinner = winner
		ctx.WinningBid = *ctx.Bids[winner]
		ctx.AwaitedPlayer = winner
		return BiddingWaitForPlayerToNameTrump, biddingExitNone, true
	case BiddingMisdeal:
		return s, biddingExitMisdeal, true
	case BiddingComplete:
		return s, biddingExitComplete, true
	}
	return s, biddingExitNone, false
}
