package machine

// outcome is the result of offering an event to one level of the machine.
type outcome int

const (
	// unhandled means the active state has no transition for the event.
	unhandled outcome = iota
	// rejected means a transition exists but its guard failed.
	rejected
	handled
)

// verdict carries the outcome plus, for rejections, the failed guard.
type verdict struct {
	outcome outcome
	reason  string
}

var accepted = verdict{outcome: handled}

func reject(reason string) verdict {
	return verdict{outcome: rejected, reason: reason}
}

func notHandled(ev Event, s State) verdict {
	return verdict{outcome: unhandled, reason: string(ev.Type) + " not handled in " + s.String()}
}

// reduceGame is the top-level reducer for external events.
func reduceGame(s State, ctx *Context, ev Event) (State, verdict) {
	switch s.Game {
	case GameEntry:
		if ev.Type == EventStartGame {
			return inRound(RoundWaitForDeal), accepted
		}
	case GameRound:
		return reduceRound(s, ctx, ev)
	}
	return s, notHandled(ev, s)
}

func reduceRound(s State, ctx *Context, ev Event) (State, verdict) {
	switch s.Round {
	case RoundBidding:
		next, v := reduceBidding(s.Bidding, ctx, ev)
		return inBidding(next), v
	case RoundThePlay:
		next, v := reducePlay(s.Play, ctx, ev)
		return inPlay(next), v
	}
	return s, notHandled(ev, s)
}

// stepGame applies at most one automatic transition.
func stepGame(s State, ctx *Context) (State, bool) {
	if s.Game != GameRound {
		return s, false
	}
	next, finished, ok := stepRound(s, ctx)
	if !finished {
		return next, ok
	}
	if winner, over := gameWinner(&ctx.Public); over {
		ctx.Winner = winner
		ctx.AwaitedPlayer = ""
		return completeState(), true
	}
	ctx.Dealer = ctx.Dealer.Next()
	resetRound(ctx)
	return inRound(RoundWaitForDeal), true
}

// stepRound returns finished once roundComplete has been acknowledged by
// the automatic step, leaving the next move to the game level.
func stepRound(s State, ctx *Context) (next State, finished bool, ok bool) {
	switch s.Round {
	case RoundWaitForDeal:
		return inRound(RoundDoDeal), false, true
	case RoundDoDeal:
		deal(ctx)
		return inRound(RoundDealDone), false, true
	case RoundDealDone:
		ctx.AwaitedPlayer = ctx.Dealer.Next()
		return inBidding(BiddingWaitForPlayerToBid), false, true
	case RoundBidding:
		b, exit, ok := stepBidding(s.Bidding, ctx)
		switch exit {
		case biddingExitMisdeal:
			ctx.Dealer = ctx.Dealer.Next()
			resetRound(ctx)
			return inRound(RoundWaitForDeal), false, true
		case biddingExitComplete:
			startPlay(ctx)
			return inPlay(PlayWaitForPlayerToPlayCard), false, true
		}
		return inBidding(b), false, ok
	case RoundThePlay:
		p, done, ok := stepPlay(s.Play, ctx)
		if done {
			scoreRound(ctx)
			return inRound(RoundRoundComplete), false, true
		}
		return inPlay(p), false, ok
	case RoundRoundComplete:
		return s, true, true
	}
	return s, false, false
}
