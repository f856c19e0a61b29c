package orchestrator

import (
	"context"
	"time"

	"github.com/lonestarx1/debatearena/internal/rating"
	"github.com/lonestarx1/debatearena/internal/store"
	"github.com/lonestarx1/debatearena/internal/wire"
)

// completeContest settles a contest that ran every round to the end
// (spec §4.7 "Completion", §4.3 "Rating and settlement").
func (o *Orchestrator) completeContest(ctx context.Context, rc *runningContest) {
	proWins, conWins := rc.wins()
	winner := decideSide(proWins, conWins)

	proDelta, conDelta := o.applyRatings(ctx, rc, winner)
	payouts := o.settleBets(ctx, rc.id, winner)

	if err := o.store.CompleteContest(ctx, rc.id, winner, time.Now()); err != nil {
		o.emitError(rc.id, wire.ErrCodeVoteFailed, "failed to persist completion")
		return
	}

	o.emit(rc.id, wire.EventDebateEnded, wire.DebateEndedPayload{
		Winner:         string(winner),
		OverallProWins: proWins,
		OverallConWins: conWins,
		ProEloDelta:    proDelta,
		ConEloDelta:    conDelta,
		Payouts:        payouts,
	})

	o.router.NotifyComplete(rc.proAgentID, wire.DebateComplete{
		Type: wire.AgentDebateComplete, DebateID: rc.id, Won: wonPtr(winner, store.SidePro), EloChange: proDelta,
	})
	o.router.NotifyComplete(rc.conAgentID, wire.DebateComplete{
		Type: wire.AgentDebateComplete, DebateID: rc.id, Won: wonPtr(winner, store.SideCon), EloChange: conDelta,
	})
}

// completeForfeit settles a contest ended early by a forfeit (spec
// §4.7 "Forfeit"): the non-forfeiting side always wins, regardless of
// the round tally so far.
func (o *Orchestrator) completeForfeit(ctx context.Context, rc *runningContest, forfeitedBy store.Side) {
	winner := store.SideCon
	if forfeitedBy == store.SideCon {
		winner = store.SidePro
	}

	proDelta, conDelta := o.applyRatings(ctx, rc, winner)
	payouts := o.settleBets(ctx, rc.id, winner)

	if err := o.store.CompleteContest(ctx, rc.id, winner, time.Now()); err != nil {
		o.emitError(rc.id, wire.ErrCodeVoteFailed, "failed to persist completion")
		return
	}

	o.emit(rc.id, wire.EventDebateForfeit, wire.DebateForfeitPayload{
		ForfeitedBy: string(forfeitedBy),
		Winner:      string(winner),
		ProEloDelta: proDelta,
		ConEloDelta: conDelta,
		Payouts:     payouts,
	})

	o.router.NotifyComplete(rc.proAgentID, wire.DebateComplete{
		Type: wire.AgentDebateComplete, DebateID: rc.id, Won: wonPtr(winner, store.SidePro), EloChange: proDelta,
	})
	o.router.NotifyComplete(rc.conAgentID, wire.DebateComplete{
		Type: wire.AgentDebateComplete, DebateID: rc.id, Won: wonPtr(winner, store.SideCon), EloChange: conDelta,
	})
}

// handleCancellation ends a contest with no winner, no rating change,
// and a full refund of every bet (spec §4.7 "Cancellation").
func (o *Orchestrator) handleCancellation(ctx context.Context, rc *runningContest) {
	contest, ok, err := o.store.FindContest(ctx, rc.id)
	if err != nil || !ok {
		return
	}
	if err := o.store.CancelContest(ctx, rc.id, contest.Status); err != nil {
		return
	}
	o.settleBets(ctx, rc.id, store.SideNone)
	o.emitError(rc.id, wire.ErrCodeDebateCancelled, "contest cancelled")
}

// applyRatings computes and persists both sides' Elo deltas. A tie
// (winner == store.SideNone) leaves ratings unchanged (spec §4.3).
func (o *Orchestrator) applyRatings(ctx context.Context, rc *runningContest, winner store.Side) (proDelta, conDelta int) {
	switch winner {
	case store.SidePro:
		res := rating.UpdateElo(rc.proRating, rc.conRating, false)
		o.store.UpdateAgentRating(ctx, rc.proAgentID, res.Winner.New, true)
		o.store.UpdateAgentRating(ctx, rc.conAgentID, res.Loser.New, false)
		return res.Winner.Delta, res.Loser.Delta
	case store.SideCon:
		res := rating.UpdateElo(rc.conRating, rc.proRating, false)
		o.store.UpdateAgentRating(ctx, rc.conAgentID, res.Winner.New, true)
		o.store.UpdateAgentRating(ctx, rc.proAgentID, res.Loser.New, false)
		return res.Loser.Delta, res.Winner.Delta
	default:
		return 0, 0
	}
}

// settleBets persists parimutuel payouts for every bet on a contest
// and returns the spectator-facing payout list. winner of
// store.SideNone refunds every bet in full (spec §4.3).
func (o *Orchestrator) settleBets(ctx context.Context, contestID string, winner store.Side) []wire.PayoutEntry {
	bets, err := o.store.ListBetsForContest(ctx, contestID)
	if err != nil {
		return nil
	}

	ratingBets := make([]rating.Bet, len(bets))
	for i, b := range bets {
		ratingBets[i] = rating.Bet{ID: b.ID, Side: string(b.Side), Amount: b.Amount}
	}
	winnerStr := string(winner)
	if winner == store.SideNone {
		winnerStr = ""
	}
	payouts := rating.Settle(ratingBets, winnerStr)

	payoutByBet := make(map[string]int, len(payouts))
	for _, p := range payouts {
		payoutByBet[p.BetID] = p.Amount
		o.store.SettleBet(ctx, p.BetID, p.Amount)
	}

	entries := make([]wire.PayoutEntry, 0, len(bets))
	for _, b := range bets {
		entries = append(entries, wire.PayoutEntry{
			BettorID: b.BettorID,
			Side:     string(b.Side),
			Amount:   b.Amount,
			Payout:   payoutByBet[b.ID],
		})
	}
	return entries
}

// wonPtr reports whether side won, or nil if the contest tied.
func wonPtr(winner, side store.Side) *bool {
	if winner == store.SideNone {
		return nil
	}
	return boolPtr(winner == side)
}
