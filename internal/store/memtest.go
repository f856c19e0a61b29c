package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-process Gateway implementation backing unit tests
// for the orchestrator, router, and spectator layer without a live
// Postgres. It applies the same expected-prior-status fencing as
// Postgres.
type Memory struct {
	mu sync.Mutex

	contests map[string]Contest
	turns    map[string][]Turn
	outcomes map[string]map[int]RoundOutcome
	votes    map[string]map[int]map[string]Side
	agents   map[string]Agent
	bets     map[string]Bet
}

// NewMemory creates an empty in-memory Gateway.
func NewMemory() *Memory {
	return &Memory{
		contests: make(map[string]Contest),
		turns:    make(map[string][]Turn),
		outcomes: make(map[string]map[int]RoundOutcome),
		votes:    make(map[string]map[int]map[string]Side),
		agents:   make(map[string]Agent),
		bets:     make(map[string]Bet),
	}
}

// SeedAgent inserts an agent directly, bypassing the Gateway
// interface, for test fixture setup.
func (m *Memory) SeedAgent(a Agent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.agents[a.ID] = a
}

func (m *Memory) CreateContest(ctx context.Context, c Contest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.Winner == "" {
		c.Winner = SideNone
	}
	m.contests[c.ID] = c
	return nil
}

func (m *Memory) UpdateContestStatus(ctx context.Context, contestID string, expected, next ContestStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contests[contestID]
	if !ok {
		return ErrNotFound
	}
	if c.Status != expected {
		return ErrStatusMismatch
	}
	c.Status = next
	if next == ContestInProgress {
		now := time.Now()
		c.StartedAt = &now
	}
	m.contests[contestID] = c
	return nil
}

func (m *Memory) AdvanceRound(ctx context.Context, contestID string, roundIndex int, expectedRoundStatus, nextRoundStatus RoundStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contests[contestID]
	if !ok {
		return ErrNotFound
	}
	if c.RoundStatus != expectedRoundStatus {
		return ErrStatusMismatch
	}
	c.CurrentRoundIndex = roundIndex
	c.RoundStatus = nextRoundStatus
	m.contests[contestID] = c
	return nil
}

func (m *Memory) CompleteContest(ctx context.Context, contestID string, winner Side, endedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contests[contestID]
	if !ok {
		return ErrNotFound
	}
	if c.Status != ContestInProgress {
		return ErrStatusMismatch
	}
	c.Status = ContestCompleted
	c.Winner = winner
	c.EndedAt = &endedAt
	m.contests[contestID] = c
	return nil
}

func (m *Memory) CancelContest(ctx context.Context, contestID string, expected ContestStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contests[contestID]
	if !ok {
		return ErrNotFound
	}
	if c.Status != expected {
		return ErrStatusMismatch
	}
	c.Status = ContestCancelled
	now := time.Now()
	c.EndedAt = &now
	m.contests[contestID] = c
	return nil
}

func (m *Memory) SetSpectatorCount(ctx context.Context, contestID string, count int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contests[contestID]
	if !ok {
		return ErrNotFound
	}
	c.SpectatorCount = count
	m.contests[contestID] = c
	return nil
}

func (m *Memory) AppendTurn(ctx context.Context, t Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	m.turns[t.ContestID] = append(m.turns[t.ContestID], t)
	return nil
}

func (m *Memory) FindTurn(ctx context.Context, contestID string, roundIndex int, position Side, exchangeIndex int) (Turn, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.turns[contestID] {
		if t.RoundIndex == roundIndex && t.Position == position && t.ExchangeIndex == exchangeIndex {
			return t, true, nil
		}
	}
	return Turn{}, false, nil
}

func (m *Memory) ListTurns(ctx context.Context, contestID string) ([]Turn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Turn, len(m.turns[contestID]))
	copy(out, m.turns[contestID])
	return out, nil
}

func (m *Memory) AppendRoundOutcome(ctx context.Context, o RoundOutcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.outcomes[o.ContestID] == nil {
		m.outcomes[o.ContestID] = make(map[int]RoundOutcome)
	}
	m.outcomes[o.ContestID][o.RoundIndex] = o
	return nil
}

func (m *Memory) GetRoundOutcome(ctx context.Context, contestID string, roundIndex int) (RoundOutcome, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.outcomes[contestID][roundIndex]
	return o, ok, nil
}

func (m *Memory) ListRoundOutcomes(ctx context.Context, contestID string) ([]RoundOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []RoundOutcome
	for _, o := range m.outcomes[contestID] {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RoundIndex < out[j].RoundIndex })
	return out, nil
}

func (m *Memory) CastVote(ctx context.Context, v Vote) (VoteResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.votes[v.ContestID] == nil {
		m.votes[v.ContestID] = make(map[int]map[string]Side)
	}
	if m.votes[v.ContestID][v.RoundIndex] == nil {
		m.votes[v.ContestID][v.RoundIndex] = make(map[string]Side)
	}
	round := m.votes[v.ContestID][v.RoundIndex]
	existing, cast := round[v.VoterID]
	if !cast {
		round[v.VoterID] = v.Choice
		return VoteRecorded, nil
	}
	if existing == v.Choice {
		return VoteAlreadyCastSameChoice, nil
	}
	return VoteAlreadyCastDifferentChoice, nil
}

func (m *Memory) TallyRoundVotes(ctx context.Context, contestID string, roundIndex int) (int, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var pro, con int
	for _, choice := range m.votes[contestID][roundIndex] {
		switch choice {
		case SidePro:
			pro++
		case SideCon:
			con++
		}
	}
	return pro, con, nil
}

func (m *Memory) FindContest(ctx context.Context, contestID string) (Contest, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contests[contestID]
	return c, ok, nil
}

func (m *Memory) ListRecentContests(ctx context.Context, limit int) ([]Contest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Contest
	for _, c := range m.contests {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) ListInProgressContests(ctx context.Context) ([]Contest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Contest
	for _, c := range m.contests {
		if c.Status == ContestInProgress {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *Memory) GetAgent(ctx context.Context, agentID string) (Agent, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[agentID]
	return a, ok, nil
}

func (m *Memory) FindAgentByToken(ctx context.Context, token string) (Agent, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.agents {
		if a.ConnectionToken == token {
			return a, true, nil
		}
	}
	return Agent{}, false, nil
}

func (m *Memory) UpdateAgentRating(ctx context.Context, agentID string, newRating int, won bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[agentID]
	if !ok {
		return ErrNotFound
	}
	a.Rating = newRating
	if won {
		a.Wins++
	} else {
		a.Losses++
	}
	m.agents[agentID] = a
	return nil
}

func (m *Memory) CreateBet(ctx context.Context, b Bet) (Bet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b.ID = uuid.New().String()
	m.bets[b.ID] = b
	return b, nil
}

func (m *Memory) ListBetsForContest(ctx context.Context, contestID string) ([]Bet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Bet
	for _, b := range m.bets {
		if b.ContestID == contestID {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *Memory) SettleBet(ctx context.Context, betID string, payout int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bets[betID]
	if !ok {
		return ErrNotFound
	}
	b.Settled = true
	b.Payout = payout
	m.bets[betID] = b
	return nil
}

var _ Gateway = (*Memory)(nil)
