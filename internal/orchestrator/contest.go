package orchestrator

import (
	"context"
	"sync"

	"github.com/lonestarx1/debatearena/internal/store"
	"github.com/lonestarx1/debatearena/internal/wire"
)

// runningContest is the in-memory state a single driver goroutine
// maintains for one contest (spec §5 "a single logical driver task").
// Every field is guarded by mu since the vote admission fast path
// reads it from a different goroutine than the one driving the
// contest.
type runningContest struct {
	id         string
	topic      string
	proAgentID string
	conAgentID string
	proOwnerID string
	conOwnerID string
	proRating  int
	conRating  int

	cancel context.CancelFunc

	mu            sync.Mutex
	roundIndex    int
	roundStatus   store.RoundStatus
	roundStatuses map[int]store.RoundStatus
	proWins       int
	conWins       int
	messages      []wire.PriorMessage
	forfeitedBy   *store.Side
}

func newRunningContest(contestID, topic string, pro, con store.Agent) *runningContest {
	return &runningContest{
		id:            contestID,
		topic:         topic,
		proAgentID:    pro.ID,
		conAgentID:    con.ID,
		proOwnerID:    pro.OwnerID,
		conOwnerID:    con.OwnerID,
		proRating:     pro.Rating,
		conRating:     con.Rating,
		roundStatus:   store.RoundPending,
		roundStatuses: make(map[int]store.RoundStatus),
	}
}

func (rc *runningContest) agentIDFor(position store.Side) string {
	if position == store.SidePro {
		return rc.proAgentID
	}
	return rc.conAgentID
}

func (rc *runningContest) roundStatusFor(roundIndex int) store.RoundStatus {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if st, ok := rc.roundStatuses[roundIndex]; ok {
		return st
	}
	return store.RoundPending
}

func (rc *runningContest) setRoundStatus(roundIndex int, status store.RoundStatus) {
	rc.mu.Lock()
	rc.roundIndex = roundIndex
	rc.roundStatus = status
	rc.roundStatuses[roundIndex] = status
	rc.mu.Unlock()
}

// roundPosition reports the round index and status the vote admission
// fast path checks a submitted vote against.
func (rc *runningContest) roundPosition() (int, store.RoundStatus) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.roundIndex, rc.roundStatus
}

func (rc *runningContest) recordRoundWin(winner store.Side) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	switch winner {
	case store.SidePro:
		rc.proWins++
	case store.SideCon:
		rc.conWins++
	}
}

func (rc *runningContest) wins() (pro, con int) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.proWins, rc.conWins
}

func (rc *runningContest) appendMessage(roundIndex int, position store.Side, content string) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.messages = append(rc.messages, wire.PriorMessage{
		RoundIndex: roundIndex,
		Position:   string(position),
		Content:    content,
	})
}

func (rc *runningContest) messagesSoFar() []wire.PriorMessage {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	out := make([]wire.PriorMessage, len(rc.messages))
	copy(out, rc.messages)
	return out
}

// lastOpponentMessage finds the most recent message from the side
// opposite position, or nil if neither side has spoken yet.
func (rc *runningContest) lastOpponentMessage(position store.Side) *string {
	opponent := string(store.SideCon)
	if position == store.SideCon {
		opponent = string(store.SidePro)
	}

	rc.mu.Lock()
	defer rc.mu.Unlock()
	for i := len(rc.messages) - 1; i >= 0; i-- {
		if rc.messages[i].Position == opponent {
			content := rc.messages[i].Content
			return &content
		}
	}
	return nil
}

func (rc *runningContest) signalForfeit(side store.Side) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.forfeitedBy == nil {
		s := side
		rc.forfeitedBy = &s
	}
}

// takeForfeit reports whether Forfeit was called before cancellation,
// and if so which side forfeited.
func (rc *runningContest) takeForfeit() (store.Side, bool) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.forfeitedBy == nil {
		return store.SideNone, false
	}
	return *rc.forfeitedBy, true
}
