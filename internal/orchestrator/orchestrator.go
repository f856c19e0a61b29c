// Package orchestrator is the Debate Orchestrator (C7): the contest
// state machine. It drives each owned contest through its rounds,
// persists every transition through internal/store with an optimistic
// status fence, and broadcasts lifecycle events through internal/bus
// for internal/spectator to relay (spec §4.7). It also implements the
// seams internal/matchmaker and internal/spectator depend on:
// matchmaker.Pairer (start a contest once two entries are paired) and
// spectator.VoteAdmitter (accept or reject a submitted vote).
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lonestarx1/debatearena/internal/bus"
	"github.com/lonestarx1/debatearena/internal/config"
	"github.com/lonestarx1/debatearena/internal/id"
	"github.com/lonestarx1/debatearena/internal/matchmaker"
	"github.com/lonestarx1/debatearena/internal/rating"
	"github.com/lonestarx1/debatearena/internal/store"
	"github.com/lonestarx1/debatearena/internal/wire"
	"github.com/lonestarx1/debatearena/pkg/trace"
)

const recoveryLockTTL = 30 * time.Second

// Sentinel errors surfaced by the orchestrator's public API (spec §7,
// "invalid-client-request" and "ownership-violation" error kinds).
var (
	ErrContestNotFound    = errors.New("orchestrator: contest not found")
	ErrWrongRound         = errors.New("orchestrator: vote round does not match current round")
	ErrVotingNotOpen      = errors.New("orchestrator: round is not open for voting")
	ErrOwnershipViolation = errors.New("orchestrator: requester does not own either side of this contest")
)

// RequestSender is the turn request/response and notification surface
// the orchestrator drives. Implemented by *internal/router.Router.
type RequestSender interface {
	SendRequest(ctx context.Context, agentID string, req wire.DebateRequest, timeout time.Duration) (wire.DebateResponse, error)
	NotifyComplete(agentID string, msg wire.DebateComplete)
}

// TopicSource supplies a topic reference for a new contest. The spec
// leaves topic curation unspecified beyond "topic reference" being a
// Contest field; this is the seam a real topic bank would implement.
type TopicSource interface {
	NextTopic(ctx context.Context) (string, error)
}

// Orchestrator owns every contest this replica is actively driving.
type Orchestrator struct {
	store   store.Gateway
	bus     bus.Bus
	router  RequestSender
	presets *config.PresetRegistry
	topics  TopicSource
	tracer  trace.Tracer

	replicaID string

	mu       sync.RWMutex
	contests map[string]*runningContest
}

// New creates an Orchestrator. tracer defaults to trace.Noop{} if nil.
func New(gateway store.Gateway, b bus.Bus, router RequestSender, presets *config.PresetRegistry, topics TopicSource, tracer trace.Tracer, replicaID string) *Orchestrator {
	if tracer == nil {
		tracer = trace.Noop{}
	}
	return &Orchestrator{
		store:     gateway,
		bus:       b,
		router:    router,
		presets:   presets,
		topics:    topics,
		tracer:    tracer,
		replicaID: replicaID,
		contests:  make(map[string]*runningContest),
	}
}

// StartContest implements matchmaker.Pairer: it creates the durable
// contest row for a freshly paired queue entry and begins driving it
// in the background (spec §4.6 "the matchmaker calls the orchestrator
// to create and start the contest").
func (o *Orchestrator) StartContest(ctx context.Context, p matchmaker.Pairing) error {
	preset, ok := o.presets.Get(p.PresetID)
	if !ok {
		return fmt.Errorf("orchestrator: unknown preset %q", p.PresetID)
	}
	proAgent, ok, err := o.store.GetAgent(ctx, p.ProAgentID)
	if err != nil {
		return fmt.Errorf("orchestrator: look up pro agent: %w", err)
	}
	if !ok {
		return fmt.Errorf("orchestrator: unknown pro agent %q", p.ProAgentID)
	}
	conAgent, ok, err := o.store.GetAgent(ctx, p.ConAgentID)
	if err != nil {
		return fmt.Errorf("orchestrator: look up con agent: %w", err)
	}
	if !ok {
		return fmt.Errorf("orchestrator: unknown con agent %q", p.ConAgentID)
	}

	topic, err := o.topics.NextTopic(ctx)
	if err != nil {
		return fmt.Errorf("orchestrator: pick topic: %w", err)
	}

	contestID := id.New()
	contest := store.Contest{
		ID:          contestID,
		TopicRef:    topic,
		PresetID:    p.PresetID,
		ProAgentID:  p.ProAgentID,
		ConAgentID:  p.ConAgentID,
		Status:      store.ContestPending,
		RoundStatus: store.RoundPending,
		StakeAmount: p.Stake,
		CreatedAt:   time.Now(),
	}
	if err := o.store.CreateContest(ctx, contest); err != nil {
		return fmt.Errorf("orchestrator: create contest: %w", err)
	}

	rc := newRunningContest(contestID, topic, proAgent, conAgent)
	go o.runContest(context.Background(), contestID, preset, rc, false)
	return nil
}

// Forfeit implements an owner's request to concede their agent's side
// (spec §4.7 "Forfeit"). Only the owner of one of the two agents may
// call this successfully.
func (o *Orchestrator) Forfeit(requestingOwnerID, contestID string) error {
	o.mu.RLock()
	rc, ok := o.contests[contestID]
	o.mu.RUnlock()
	if !ok {
		return ErrContestNotFound
	}

	var side store.Side
	switch requestingOwnerID {
	case rc.proOwnerID:
		side = store.SidePro
	case rc.conOwnerID:
		side = store.SideCon
	default:
		return ErrOwnershipViolation
	}

	rc.signalForfeit(side)
	rc.cancel()
	return nil
}

// Cancel ends an in-progress contest with no winner and no rating
// change (spec §4.7 "Cancellation").
func (o *Orchestrator) Cancel(contestID string) error {
	o.mu.RLock()
	rc, ok := o.contests[contestID]
	o.mu.RUnlock()
	if !ok {
		return ErrContestNotFound
	}
	rc.cancel()
	return nil
}

// AdmitVote implements spectator.VoteAdmitter (spec §4.7 "Vote
// admission"). It takes the fast path against this replica's
// in-memory round state when the contest is owned locally, and falls
// back to a fresh read through the persistence gateway otherwise.
func (o *Orchestrator) AdmitVote(ctx context.Context, contestID string, roundIndex int, voterID string, choice store.Side) (store.VoteResult, error) {
	ctx, span := o.tracer.StartSpan(ctx, "orchestrator.vote_admit")
	defer o.tracer.EndSpan(span)
	span.SetAttribute("debate.round", fmt.Sprintf("%d", roundIndex))

	o.mu.RLock()
	rc, local := o.contests[contestID]
	o.mu.RUnlock()

	if local {
		idx, status := rc.roundPosition()
		if idx != roundIndex {
			span.SetAttribute("vote.reject_reason", "wrong_round")
			err := ErrWrongRound
			span.SetError(err)
			return 0, err
		}
		if status != store.RoundVoting {
			span.SetAttribute("vote.reject_reason", "not_open")
			err := ErrVotingNotOpen
			span.SetError(err)
			return 0, err
		}
	} else {
		contest, ok, err := o.store.FindContest(ctx, contestID)
		if err != nil {
			span.SetError(err)
			return 0, err
		}
		if !ok {
			span.SetAttribute("vote.reject_reason", "not_found")
			err := ErrContestNotFound
			span.SetError(err)
			return 0, err
		}
		if contest.CurrentRoundIndex != roundIndex {
			span.SetAttribute("vote.reject_reason", "wrong_round")
			err := ErrWrongRound
			span.SetError(err)
			return 0, err
		}
		if contest.RoundStatus != store.RoundVoting {
			span.SetAttribute("vote.reject_reason", "not_open")
			err := ErrVotingNotOpen
			span.SetError(err)
			return 0, err
		}
	}

	result, err := o.store.CastVote(ctx, store.Vote{
		ContestID:  contestID,
		RoundIndex: roundIndex,
		VoterID:    voterID,
		Choice:     choice,
	})
	if err != nil {
		span.SetError(err)
		return 0, err
	}
	if result == store.VoteAlreadyCastDifferentChoice {
		span.SetAttribute("vote.reject_reason", "already_voted")
		span.SetError(fmt.Errorf("orchestrator: already voted differently this round"))
	}
	return result, nil
}

func (o *Orchestrator) registerRunning(contestID string, rc *runningContest) {
	o.mu.Lock()
	o.contests[contestID] = rc
	o.mu.Unlock()
}

func (o *Orchestrator) unregisterRunning(contestID string) {
	o.mu.Lock()
	delete(o.contests, contestID)
	o.mu.Unlock()
}

// emit publishes a spectator event for a contest on its bus channel.
// Every call is its own "bus.publish" span so the metrics collector's
// bus-operation counters (already keyed on that span name) stay
// populated without internal/bus itself needing a tracer dependency.
func (o *Orchestrator) emit(contestID string, evType wire.SpectatorEventType, payload any) {
	data, err := wire.EncodeSpectatorEvent(evType, contestID, payload)
	if err != nil {
		return
	}
	_, span := o.tracer.StartSpan(context.Background(), "bus.publish")
	defer o.tracer.EndSpan(span)
	if err := o.bus.Publish(context.Background(), bus.ContestChannel(contestID), data); err != nil {
		span.SetError(err)
	}
}

func (o *Orchestrator) emitError(contestID string, code wire.ErrorCode, message string) {
	o.emit(contestID, wire.EventError, wire.ErrorPayload{Code: code, Message: message})
}

func decideSide(proVotes, conVotes int) store.Side {
	switch {
	case proVotes > conVotes:
		return store.SidePro
	case conVotes > proVotes:
		return store.SideCon
	default:
		return store.SideNone
	}
}

func boolPtr(b bool) *bool { return &b }

// runContest is the single logical driver task for one contest (spec
// §5). It owns the contest's lifecycle from in_progress through
// completion, forfeit, or cancellation, and is the only goroutine that
// advances rc's round state via o.store's fenced writes. resume is
// true when this call is resuming a recovered contest rather than
// starting a freshly paired one: the pending->in_progress transition
// and prep-time wait are skipped since both already happened before
// the crash.
func (o *Orchestrator) runContest(ctx context.Context, contestID string, preset config.FormatPreset, rc *runningContest, resume bool) {
	ctx, cancel := context.WithCancel(ctx)
	rc.cancel = cancel
	o.registerRunning(contestID, rc)
	defer o.unregisterRunning(contestID)
	defer cancel()

	ctx, span := o.tracer.StartSpan(ctx, "debate.run")
	span.SetAttribute("debate.preset", preset.ID)
	defer o.tracer.EndSpan(span)

	if !resume {
		if err := o.store.UpdateContestStatus(ctx, contestID, store.ContestPending, store.ContestInProgress); err != nil {
			span.SetError(err)
			return
		}
		o.emit(contestID, wire.EventDebateStarted, wire.DebateStartedPayload{
			ProAgentID: rc.proAgentID, ConAgentID: rc.conAgentID, Topic: rc.topic, PresetID: preset.ID,
		})

		if preset.PrepTime.Duration > 0 {
			select {
			case <-time.After(preset.PrepTime.Duration):
			case <-ctx.Done():
			}
		}
	}

	err := o.driveRounds(ctx, rc, preset, 0)

	if forfeitedBy, ok := rc.takeForfeit(); ok {
		o.completeForfeit(context.Background(), rc, forfeitedBy)
		return
	}
	if err != nil {
		if ctx.Err() != nil {
			o.handleCancellation(context.Background(), rc)
			return
		}
		span.SetError(err)
		o.emitError(contestID, wire.ErrCodeVoteFailed, err.Error())
		return
	}

	o.completeContest(context.Background(), rc)
}
