package orchestrator

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/lonestarx1/debatearena/internal/config"
	"github.com/lonestarx1/debatearena/internal/store"
	"github.com/lonestarx1/debatearena/internal/wire"
)

// driveRounds runs every round from startIndex through the end of the
// preset, in order, stopping at the first error (cancellation or
// forfeit signalled via ctx).
func (o *Orchestrator) driveRounds(ctx context.Context, rc *runningContest, preset config.FormatPreset, startIndex int) error {
	for i := startIndex; i < len(preset.Rounds); i++ {
		if err := o.runRound(ctx, rc, preset, i); err != nil {
			return err
		}
	}
	return nil
}

// runRound drives a single round to completion (spec §4.7 "Running one
// round"). Each stage checks persisted state before acting, so the
// same code path serves both a fresh round and resuming one that
// crashed partway through (spec §4.7 "Recovery").
func (o *Orchestrator) runRound(ctx context.Context, rc *runningContest, preset config.FormatPreset, roundIndex int) error {
	if outcome, ok, err := o.store.GetRoundOutcome(ctx, rc.id, roundIndex); err == nil && ok {
		rc.recordRoundWin(outcome.Winner)
		rc.setRoundStatus(roundIndex, store.RoundCompleted)
		return nil
	}

	roundSpec := preset.Rounds[roundIndex]
	ctx, span := o.tracer.StartSpan(ctx, "debate.round")
	span.SetAttribute("debate.preset", preset.ID)
	span.SetAttribute("debate.round", strconv.Itoa(roundIndex))
	defer o.tracer.EndSpan(span)

	status := rc.roundStatusFor(roundIndex)

	if status == store.RoundPending {
		o.emit(rc.id, wire.EventRoundStarted, wire.RoundStartedPayload{
			RoundIndex: roundIndex,
			Name:       roundSpec.Name,
			Speaker:    roundSpec.Speaker,
		})
		if err := o.store.AdvanceRound(ctx, rc.id, roundIndex, store.RoundPending, store.RoundBotResponding); err != nil {
			span.SetError(err)
			return err
		}
		rc.setRoundStatus(roundIndex, store.RoundBotResponding)
		status = store.RoundBotResponding
	}

	if status == store.RoundBotResponding {
		if err := o.runTurns(ctx, rc, roundSpec, roundIndex); err != nil {
			span.SetError(err)
			return err
		}
		if err := o.store.AdvanceRound(ctx, rc.id, roundIndex, store.RoundBotResponding, store.RoundVoting); err != nil {
			span.SetError(err)
			return err
		}
		rc.setRoundStatus(roundIndex, store.RoundVoting)
		o.emit(rc.id, wire.EventVotingStarted, wire.VotingStartedPayload{
			RoundIndex:        roundIndex,
			VoteWindowSeconds: int(preset.VoteWindow.Seconds()),
		})
	}

	if err := o.runVotingWindow(ctx, rc, roundIndex, preset.VoteWindow.Duration); err != nil {
		span.SetError(err)
		return err
	}

	pro, con, err := o.store.TallyRoundVotes(ctx, rc.id, roundIndex)
	if err != nil {
		span.SetError(err)
		return err
	}
	winner := decideSide(pro, con)
	if err := o.store.AppendRoundOutcome(ctx, store.RoundOutcome{
		ContestID: rc.id, RoundIndex: roundIndex, ProVotes: pro, ConVotes: con, Winner: winner,
	}); err != nil {
		span.SetError(err)
		return err
	}
	rc.recordRoundWin(winner)

	if err := o.store.AdvanceRound(ctx, rc.id, roundIndex, store.RoundVoting, store.RoundCompleted); err != nil {
		span.SetError(err)
		return err
	}
	rc.setRoundStatus(roundIndex, store.RoundCompleted)

	overallPro, overallCon := rc.wins()
	o.emit(rc.id, wire.EventRoundEnded, wire.RoundEndedPayload{
		RoundIndex:     roundIndex,
		ProVotes:       pro,
		ConVotes:       con,
		Winner:         string(winner),
		OverallProWins: overallPro,
		OverallConWins: overallCon,
	})
	return nil
}

// runTurns performs every exchange of a round's bot_responding phase
// (spec §4.7: "both" speaks pro then con, strictly sequentially).
func (o *Orchestrator) runTurns(ctx context.Context, rc *runningContest, roundSpec config.RoundSpec, roundIndex int) error {
	for e := 0; e < roundSpec.ExchangeCount(); e++ {
		switch roundSpec.Speaker {
		case "pro":
			if err := o.runTurn(ctx, rc, roundSpec, roundIndex, e, store.SidePro); err != nil {
				return err
			}
		case "con":
			if err := o.runTurn(ctx, rc, roundSpec, roundIndex, e, store.SideCon); err != nil {
				return err
			}
		default: // "both"
			if err := o.runTurn(ctx, rc, roundSpec, roundIndex, e, store.SidePro); err != nil {
				return err
			}
			if err := o.runTurn(ctx, rc, roundSpec, roundIndex, e, store.SideCon); err != nil {
				return err
			}
		}
	}
	return nil
}

// runTurn produces (or replays) a single Turn. If a Turn already
// exists for this (round, position, exchange) it is replayed to
// spectators rather than re-requested (spec §4.7 "Resume behavior",
// §8 invariant "emitted exactly once per persisted Turn").
func (o *Orchestrator) runTurn(ctx context.Context, rc *runningContest, roundSpec config.RoundSpec, roundIndex, exchangeIndex int, position store.Side) error {
	if existing, ok, err := o.store.FindTurn(ctx, rc.id, roundIndex, position, exchangeIndex); err == nil && ok {
		rc.appendMessage(roundIndex, position, existing.Content)
		o.emit(rc.id, wire.EventBotMessage, wire.BotMessagePayload{
			RoundIndex: roundIndex, Position: string(position), AgentID: existing.AgentID, Content: existing.Content,
		})
		return nil
	}

	agentID := rc.agentIDFor(position)
	o.emit(rc.id, wire.EventBotTyping, wire.BotTypingPayload{RoundIndex: roundIndex, Position: string(position)})

	req := wire.DebateRequest{
		Type:                wire.AgentDebateRequest,
		DebateID:            rc.id,
		Round:               roundSpec.Name,
		Topic:               rc.topic,
		Position:            string(position),
		OpponentLastMessage: rc.lastOpponentMessage(position),
		TimeLimitSeconds:    int(roundSpec.TurnTimeLimit.Seconds()),
		WordLimit:           wire.WordLimit{Min: roundSpec.WordLimit.Min, Max: roundSpec.WordLimit.Max},
		CharLimit:           wire.CharLimit{Min: roundSpec.CharLimit.Min, Max: roundSpec.CharLimit.Max},
		MessagesSoFar:       rc.messagesSoFar(),
	}

	resp, err := o.router.SendRequest(ctx, agentID, req, roundSpec.TurnTimeLimit.Duration)
	content := resp.Message
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		content = fmt.Sprintf("[Bot failed to respond: %s]", err)
	}

	if err := o.store.AppendTurn(ctx, store.Turn{
		ContestID: rc.id, RoundIndex: roundIndex, Position: position, ExchangeIndex: exchangeIndex,
		AgentID: agentID, Content: content, CreatedAt: time.Now(),
	}); err != nil {
		return err
	}
	rc.appendMessage(roundIndex, position, content)
	o.emit(rc.id, wire.EventBotMessage, wire.BotMessagePayload{
		RoundIndex: roundIndex, Position: string(position), AgentID: agentID, Content: content,
	})
	return nil
}

// runVotingWindow holds the round open for voting, emitting a coarse
// tally tick roughly every second (spec §4.7 "Voting phase").
func (o *Orchestrator) runVotingWindow(ctx context.Context, rc *runningContest, roundIndex int, window time.Duration) error {
	deadline := time.NewTimer(window)
	defer deadline.Stop()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			pro, con, err := o.store.TallyRoundVotes(ctx, rc.id, roundIndex)
			if err == nil {
				o.emit(rc.id, wire.EventVoteUpdate, wire.VoteUpdatePayload{RoundIndex: roundIndex, ProVotes: pro, ConVotes: con})
			}
		case <-deadline.C:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
