package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/lonestarx1/debatearena/internal/bus"
	"github.com/lonestarx1/debatearena/internal/store"
	"github.com/lonestarx1/debatearena/internal/wire"
)

const (
	reconnectWaitTimeout  = 60 * time.Second
	reconnectPollInterval = 2 * time.Second
)

// Recover rebuilds in-memory state for every contest this fleet left
// in ContestInProgress (spec §4.7 "Recovery"), normally called once at
// replica startup. Each candidate recovers on its own goroutine so one
// stuck contest cannot delay the others.
func (o *Orchestrator) Recover(ctx context.Context) error {
	contests, err := o.store.ListInProgressContests(ctx)
	if err != nil {
		return fmt.Errorf("orchestrator: list in-progress contests: %w", err)
	}
	for _, c := range contests {
		go o.recoverContest(context.Background(), c)
	}
	return nil
}

// tryAcquireRecoveryLock arbitrates which replica recovers a contest
// via a short-TTL bus key, so a fleet restart doesn't race every
// replica into recovering the same contest (spec §4.7).
func (o *Orchestrator) tryAcquireRecoveryLock(ctx context.Context, contestID string) bool {
	key := bus.RecoveryLockKey(contestID)
	if _, ok, _ := o.bus.GetKey(ctx, key); ok {
		return false
	}
	if err := o.bus.SetKey(ctx, key, o.replicaID, recoveryLockTTL); err != nil {
		return false
	}
	return true
}

// recoverContest rebuilds a single contest's in-memory state from the
// persistence gateway, waits for both agents to reconnect, and either
// resumes driving it or cancels it with a full refund.
func (o *Orchestrator) recoverContest(ctx context.Context, c store.Contest) {
	ctx, span := o.tracer.StartSpan(ctx, "orchestrator.recover")
	defer o.tracer.EndSpan(span)

	if !o.tryAcquireRecoveryLock(ctx, c.ID) {
		return
	}

	preset, ok := o.presets.Get(c.PresetID)
	if !ok {
		span.SetError(fmt.Errorf("orchestrator: unknown preset %q", c.PresetID))
		return
	}
	proAgent, ok, err := o.store.GetAgent(ctx, c.ProAgentID)
	if err != nil || !ok {
		span.SetError(fmt.Errorf("orchestrator: look up pro agent %q: %w", c.ProAgentID, err))
		return
	}
	conAgent, ok, err := o.store.GetAgent(ctx, c.ConAgentID)
	if err != nil || !ok {
		span.SetError(fmt.Errorf("orchestrator: look up con agent %q: %w", c.ConAgentID, err))
		return
	}

	rc := newRunningContest(c.ID, c.TopicRef, proAgent, conAgent)
	if err := o.seedRunningContest(ctx, rc, c); err != nil {
		span.SetError(err)
		return
	}

	if !o.waitForReconnect(ctx, c.ProAgentID, c.ConAgentID) {
		o.handleCancellation(context.Background(), rc)
		return
	}

	o.emit(c.ID, wire.EventDebateResumed, wire.DebateStartedPayload{
		ProAgentID:  c.ProAgentID,
		ConAgentID:  c.ConAgentID,
		Topic:       c.TopicRef,
		PresetID:    c.PresetID,
		ResumePoint: fmt.Sprintf("round %d (%s)", c.CurrentRoundIndex, c.RoundStatus),
	})

	go o.runContest(context.Background(), c.ID, preset, rc, true)
}

// seedRunningContest populates rc's in-memory round state and prior
// messages from what was durably persisted before the crash, so
// driveRounds resumes exactly where the previous driver left off (spec
// §4.7 "Resume behavior"):
//
//	round status    -> resume action
//	pending          re-announce round_started, request turns fresh
//	bot_responding   replay persisted turns, request only the missing ones
//	voting           reopen the vote window for its full preset duration
//	completed        move straight to the next round
func (o *Orchestrator) seedRunningContest(ctx context.Context, rc *runningContest, c store.Contest) error {
	outcomes, err := o.store.ListRoundOutcomes(ctx, c.ID)
	if err != nil {
		return fmt.Errorf("orchestrator: list round outcomes: %w", err)
	}
	for _, outcome := range outcomes {
		// Win tallying happens exactly once, in runRound's own
		// GetRoundOutcome early-return path when driveRounds reaches
		// this round — recording it here too would double-count every
		// round completed before the crash (spec §8 "recovery
		// equivalence").
		rc.setRoundStatus(outcome.RoundIndex, store.RoundCompleted)
	}

	turns, err := o.store.ListTurns(ctx, c.ID)
	if err != nil {
		return fmt.Errorf("orchestrator: list turns: %w", err)
	}
	for _, t := range turns {
		rc.appendMessage(t.RoundIndex, t.Position, t.Content)
	}

	rc.setRoundStatus(c.CurrentRoundIndex, c.RoundStatus)
	return nil
}

// waitForReconnect polls the bus for up to reconnectWaitTimeout for
// both agents to re-establish their socket (spec §4.7 "Recovery": "if
// either agent fails to reconnect within 60 seconds, the contest is
// cancelled").
func (o *Orchestrator) waitForReconnect(ctx context.Context, proAgentID, conAgentID string) bool {
	deadline := time.NewTimer(reconnectWaitTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(reconnectPollInterval)
	defer ticker.Stop()

	for {
		_, proConnected, _ := o.bus.GetKey(ctx, bus.AgentConnectedKey(proAgentID))
		_, conConnected, _ := o.bus.GetKey(ctx, bus.AgentConnectedKey(conAgentID))
		if proConnected && conConnected {
			return true
		}

		select {
		case <-ticker.C:
		case <-deadline.C:
			return false
		case <-ctx.Done():
			return false
		}
	}
}
