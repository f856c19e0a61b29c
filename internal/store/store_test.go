package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestContestLifecycle(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	c := Contest{ID: "c1", TopicRef: "t1", PresetID: "classic", ProAgentID: "a1", ConAgentID: "a2",
		Status: ContestPending, RoundStatus: RoundPending}
	if err := m.CreateContest(ctx, c); err != nil {
		t.Fatalf("CreateContest: %v", err)
	}

	if err := m.UpdateContestStatus(ctx, "c1", ContestPending, ContestInProgress); err != nil {
		t.Fatalf("UpdateContestStatus: %v", err)
	}

	got, ok, err := m.FindContest(ctx, "c1")
	if err != nil || !ok {
		t.Fatalf("FindContest: got=%v ok=%v err=%v", got, ok, err)
	}
	if got.Status != ContestInProgress {
		t.Errorf("status = %v, want in_progress", got.Status)
	}
	if got.StartedAt == nil {
		t.Error("StartedAt not set on transition to in_progress")
	}
}

func TestUpdateContestStatus_FenceMismatch(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	c := Contest{ID: "c1", Status: ContestPending}
	_ = m.CreateContest(ctx, c)

	err := m.UpdateContestStatus(ctx, "c1", ContestInProgress, ContestCompleted)
	if !errors.Is(err, ErrStatusMismatch) {
		t.Fatalf("err = %v, want ErrStatusMismatch", err)
	}
}

func TestUpdateContestStatus_NotFound(t *testing.T) {
	m := NewMemory()
	err := m.UpdateContestStatus(context.Background(), "nope", ContestPending, ContestInProgress)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestAdvanceRound(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_ = m.CreateContest(ctx, Contest{ID: "c1", Status: ContestInProgress, RoundStatus: RoundPending})

	if err := m.AdvanceRound(ctx, "c1", 1, RoundPending, RoundBotResponding); err != nil {
		t.Fatalf("AdvanceRound: %v", err)
	}
	got, _, _ := m.FindContest(ctx, "c1")
	if got.CurrentRoundIndex != 1 || got.RoundStatus != RoundBotResponding {
		t.Errorf("unexpected contest state: %+v", got)
	}

	if err := m.AdvanceRound(ctx, "c1", 1, RoundPending, RoundVoting); !errors.Is(err, ErrStatusMismatch) {
		t.Fatalf("err = %v, want ErrStatusMismatch", err)
	}
}

func TestCompleteContest(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_ = m.CreateContest(ctx, Contest{ID: "c1", Status: ContestInProgress})

	end := time.Now()
	if err := m.CompleteContest(ctx, "c1", SidePro, end); err != nil {
		t.Fatalf("CompleteContest: %v", err)
	}
	got, _, _ := m.FindContest(ctx, "c1")
	if got.Status != ContestCompleted || got.Winner != SidePro || got.EndedAt == nil {
		t.Errorf("unexpected contest state: %+v", got)
	}

	if err := m.CompleteContest(ctx, "c1", SidePro, end); !errors.Is(err, ErrStatusMismatch) {
		t.Fatalf("completing an already-completed contest should fence, got %v", err)
	}
}

func TestCancelContest(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_ = m.CreateContest(ctx, Contest{ID: "c1", Status: ContestPending})

	if err := m.CancelContest(ctx, "c1", ContestPending); err != nil {
		t.Fatalf("CancelContest: %v", err)
	}
	got, _, _ := m.FindContest(ctx, "c1")
	if got.Status != ContestCancelled || got.EndedAt == nil {
		t.Errorf("unexpected contest state: %+v", got)
	}
}

func TestTurnsAppendAndFind(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	t1 := Turn{ContestID: "c1", RoundIndex: 0, Position: SidePro, ExchangeIndex: 0, AgentID: "a1", Content: "opening"}
	if err := m.AppendTurn(ctx, t1); err != nil {
		t.Fatalf("AppendTurn: %v", err)
	}

	found, ok, err := m.FindTurn(ctx, "c1", 0, SidePro, 0)
	if err != nil || !ok {
		t.Fatalf("FindTurn: ok=%v err=%v", ok, err)
	}
	if found.Content != "opening" {
		t.Errorf("content = %q, want opening", found.Content)
	}

	_, ok, err = m.FindTurn(ctx, "c1", 0, SideCon, 0)
	if err != nil || ok {
		t.Fatalf("expected no con turn yet, got ok=%v err=%v", ok, err)
	}

	all, err := m.ListTurns(ctx, "c1")
	if err != nil || len(all) != 1 {
		t.Fatalf("ListTurns: got %d turns, err=%v", len(all), err)
	}
}

func TestRoundOutcomes(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_ = m.AppendRoundOutcome(ctx, RoundOutcome{ContestID: "c1", RoundIndex: 0, ProVotes: 5, ConVotes: 3, Winner: SidePro})
	_ = m.AppendRoundOutcome(ctx, RoundOutcome{ContestID: "c1", RoundIndex: 1, ProVotes: 2, ConVotes: 4, Winner: SideCon})

	out, ok, err := m.GetRoundOutcome(ctx, "c1", 0)
	if err != nil || !ok || out.Winner != SidePro {
		t.Fatalf("GetRoundOutcome: out=%+v ok=%v err=%v", out, ok, err)
	}

	all, err := m.ListRoundOutcomes(ctx, "c1")
	if err != nil || len(all) != 2 {
		t.Fatalf("ListRoundOutcomes: got %d, err=%v", len(all), err)
	}
	if all[0].RoundIndex != 0 || all[1].RoundIndex != 1 {
		t.Errorf("round outcomes not sorted by index: %+v", all)
	}
}

func TestCastVote_IdempotentSameChoice(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	v := Vote{ContestID: "c1", RoundIndex: 0, VoterID: "u1", Choice: SidePro}

	res, err := m.CastVote(ctx, v)
	if err != nil || res != VoteRecorded {
		t.Fatalf("first cast: res=%v err=%v", res, err)
	}

	res, err = m.CastVote(ctx, v)
	if err != nil || res != VoteAlreadyCastSameChoice {
		t.Fatalf("resubmit same choice: res=%v err=%v", res, err)
	}
}

func TestCastVote_RejectsChoiceChange(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_, _ = m.CastVote(ctx, Vote{ContestID: "c1", RoundIndex: 0, VoterID: "u1", Choice: SidePro})

	res, err := m.CastVote(ctx, Vote{ContestID: "c1", RoundIndex: 0, VoterID: "u1", Choice: SideCon})
	if err != nil || res != VoteAlreadyCastDifferentChoice {
		t.Fatalf("res=%v err=%v, want VoteAlreadyCastDifferentChoice", res, err)
	}

	pro, con, err := m.TallyRoundVotes(ctx, "c1", 0)
	if err != nil || pro != 1 || con != 0 {
		t.Fatalf("tally should still reflect first vote: pro=%d con=%d err=%v", pro, con, err)
	}
}

func TestTallyRoundVotes(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_, _ = m.CastVote(ctx, Vote{ContestID: "c1", RoundIndex: 0, VoterID: "u1", Choice: SidePro})
	_, _ = m.CastVote(ctx, Vote{ContestID: "c1", RoundIndex: 0, VoterID: "u2", Choice: SidePro})
	_, _ = m.CastVote(ctx, Vote{ContestID: "c1", RoundIndex: 0, VoterID: "u3", Choice: SideCon})

	pro, con, err := m.TallyRoundVotes(ctx, "c1", 0)
	if err != nil || pro != 2 || con != 1 {
		t.Fatalf("pro=%d con=%d err=%v, want 2/1", pro, con, err)
	}
}

func TestListRecentContests_LimitAndOrder(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	base := time.Now()
	_ = m.CreateContest(ctx, Contest{ID: "old", CreatedAt: base.Add(-time.Hour)})
	_ = m.CreateContest(ctx, Contest{ID: "new", CreatedAt: base})

	out, err := m.ListRecentContests(ctx, 1)
	if err != nil || len(out) != 1 {
		t.Fatalf("ListRecentContests: got %d, err=%v", len(out), err)
	}
	if out[0].ID != "new" {
		t.Errorf("expected newest first, got %s", out[0].ID)
	}
}

func TestListInProgressContests(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_ = m.CreateContest(ctx, Contest{ID: "c1", Status: ContestInProgress})
	_ = m.CreateContest(ctx, Contest{ID: "c2", Status: ContestCompleted})

	out, err := m.ListInProgressContests(ctx)
	if err != nil || len(out) != 1 || out[0].ID != "c1" {
		t.Fatalf("ListInProgressContests: got %+v, err=%v", out, err)
	}
}

func TestAgentRatingUpdate(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.SeedAgent(Agent{ID: "a1", Rating: 1500})

	if err := m.UpdateAgentRating(ctx, "a1", 1516, true); err != nil {
		t.Fatalf("UpdateAgentRating: %v", err)
	}
	got, ok, err := m.GetAgent(ctx, "a1")
	if err != nil || !ok || got.Rating != 1516 || got.Wins != 1 {
		t.Fatalf("unexpected agent state: %+v ok=%v err=%v", got, ok, err)
	}
}

func TestFindAgentByToken(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.SeedAgent(Agent{ID: "a1", ConnectionToken: "deadbeef"})

	got, ok, err := m.FindAgentByToken(ctx, "deadbeef")
	if err != nil || !ok || got.ID != "a1" {
		t.Fatalf("FindAgentByToken: got=%+v ok=%v err=%v", got, ok, err)
	}

	_, ok, err = m.FindAgentByToken(ctx, "no-such-token")
	if err != nil || ok {
		t.Fatalf("expected not found, got ok=%v err=%v", ok, err)
	}
}

func TestBetCreateAndSettle(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	b, err := m.CreateBet(ctx, Bet{ContestID: "c1", BettorID: "u1", Side: SidePro, Amount: 100})
	if err != nil || b.ID == "" {
		t.Fatalf("CreateBet: b=%+v err=%v", b, err)
	}

	if err := m.SettleBet(ctx, b.ID, 180); err != nil {
		t.Fatalf("SettleBet: %v", err)
	}

	bets, err := m.ListBetsForContest(ctx, "c1")
	if err != nil || len(bets) != 1 || !bets[0].Settled || bets[0].Payout != 180 {
		t.Fatalf("unexpected bets: %+v err=%v", bets, err)
	}
}

func TestSettleBet_NotFound(t *testing.T) {
	m := NewMemory()
	err := m.SettleBet(context.Background(), "nope", 0)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
