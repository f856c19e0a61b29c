// Package matchmaker implements the Matchmaker (C6): an in-memory,
// ELO/stake-bucketed pairing queue that expands its acceptable rating
// gap the longer an entry waits (spec §4.6). No durable row backs a
// QueueEntry — it lives only in this process's memory, same as the
// teacher's mutex-guarded in-memory collections
// (`pkg/tool/registry.go`).
package matchmaker

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/lonestarx1/debatearena/pkg/trace"
)

const (
	// baseTolerance is the starting effective tolerance for a freshly
	// queued entry.
	baseTolerance = 100
	// toleranceStep is how much the effective tolerance grows per
	// expansion interval.
	toleranceStep = 100
	// toleranceInterval is how often the effective tolerance expands.
	toleranceInterval = 30 * time.Second
	// toleranceCeiling bounds how far the effective tolerance can grow.
	toleranceCeiling = 1000
)

// QueueEntry is one agent's outstanding request to be paired (spec
// §4.6). Rating is captured at enqueue time; it is not re-read from
// the store during the entry's time in the queue.
type QueueEntry struct {
	AgentID        string
	OwnerID        string
	Rating         int
	Stake          int
	PresetID       string
	AllowSameOwner bool
	EnqueuedAt     time.Time
}

// Pairing is the result of a successful pairing: which agent is
// assigned pro and which is con.
type Pairing struct {
	ProAgentID string
	ConAgentID string
	PresetID   string
	Stake      int
}

// Pairer is called once two compatible entries are found and have
// already been atomically removed from the queue (spec §4.6,
// "Lifecycle"). Implemented by internal/orchestrator.
type Pairer interface {
	StartContest(ctx context.Context, p Pairing) error
}

// Matchmaker holds the live queue and runs the periodic pairing scan.
type Matchmaker struct {
	pairer Pairer
	tracer trace.Tracer

	mu      sync.Mutex
	entries map[string]QueueEntry // agentID -> entry
}

// New creates an empty Matchmaker.
func New(pairer Pairer, tracer trace.Tracer) *Matchmaker {
	if tracer == nil {
		tracer = trace.Noop{}
	}
	return &Matchmaker{
		pairer:  pairer,
		tracer:  tracer,
		entries: make(map[string]QueueEntry),
	}
}

// Enqueue adds or replaces the entry for e.AgentID (spec §4.6, "the
// same agent may not be double-queued"). Replacing resets EnqueuedAt,
// and therefore the entry's effective tolerance.
func (m *Matchmaker) Enqueue(e QueueEntry) {
	if e.EnqueuedAt.IsZero() {
		e.EnqueuedAt = time.Now()
	}
	m.mu.Lock()
	m.entries[e.AgentID] = e
	m.mu.Unlock()
}

// Dequeue removes an agent's queue entry, e.g. on queue_leave. It
// reports whether an entry was present.
func (m *Matchmaker) Dequeue(agentID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entries[agentID]
	delete(m.entries, agentID)
	return ok
}

// Evict removes an agent's queue entry because the agent itself was
// deleted or deactivated (spec §4.6, "Lifecycle"). Semantically
// identical to Dequeue; kept as a distinct name for call-site clarity.
func (m *Matchmaker) Evict(agentID string) {
	m.Dequeue(agentID)
}

// Stats is a snapshot of queue size and average wait time, used for
// operational visibility.
type Stats struct {
	QueueSize      int
	AverageWaitSec float64
}

// Stats computes the current queue stats.
func (m *Matchmaker) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.entries) == 0 {
		return Stats{}
	}
	now := time.Now()
	var totalWait time.Duration
	for _, e := range m.entries {
		totalWait += now.Sub(e.EnqueuedAt)
	}
	return Stats{
		QueueSize:      len(m.entries),
		AverageWaitSec: totalWait.Seconds() / float64(len(m.entries)),
	}
}

// Run starts the periodic pairing scan, ticking at interval, until ctx
// is cancelled.
func (m *Matchmaker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.scanOnce(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// scanOnce runs a single pairing pass, pairing as many compatible
// entries as it can find (spec §4.6, "Pairing").
func (m *Matchmaker) scanOnce(ctx context.Context) {
	now := time.Now()

	m.mu.Lock()
	sorted := make([]QueueEntry, 0, len(m.entries))
	for _, e := range m.entries {
		sorted = append(sorted, e)
	}
	m.mu.Unlock()

	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].EnqueuedAt.Before(sorted[j].EnqueuedAt)
	})

	paired := make(map[string]bool, len(sorted))
	for i, older := range sorted {
		if paired[older.AgentID] {
			continue
		}
		tolerance := effectiveTolerance(older, now)

		bestIdx := -1
		bestGap := -1
		for j := i + 1; j < len(sorted); j++ {
			candidate := sorted[j]
			if paired[candidate.AgentID] {
				continue
			}
			if !compatible(older, candidate, tolerance) {
				continue
			}
			gap := ratingGap(older, candidate)
			if bestIdx == -1 || gap < bestGap {
				bestIdx = j
				bestGap = gap
			}
		}
		if bestIdx == -1 {
			continue
		}

		partner := sorted[bestIdx]
		paired[older.AgentID] = true
		paired[partner.AgentID] = true
		m.pair(ctx, older, partner)
	}
}

func effectiveTolerance(e QueueEntry, now time.Time) int {
	waited := now.Sub(e.EnqueuedAt)
	expansions := int(waited / toleranceInterval)
	tol := baseTolerance + expansions*toleranceStep
	if tol > toleranceCeiling {
		return toleranceCeiling
	}
	return tol
}

func compatible(a, b QueueEntry, tolerance int) bool {
	if a.OwnerID == b.OwnerID && !a.AllowSameOwner && !b.AllowSameOwner {
		return false
	}
	if a.PresetID != b.PresetID {
		return false
	}
	if a.Stake != b.Stake {
		return false
	}
	return ratingGap(a, b) <= tolerance
}

func ratingGap(a, b QueueEntry) int {
	gap := a.Rating - b.Rating
	if gap < 0 {
		return -gap
	}
	return gap
}

// pair removes both entries from the queue, then hands the pairing to
// the orchestrator. Both removals happen before StartContest is
// called, so a failed contest creation cannot leave a stale pair
// re-matched on the next scan (spec §4.6: "both entries are atomically
// removed from the queue before the contest is announced").
func (m *Matchmaker) pair(ctx context.Context, a, b QueueEntry) {
	m.mu.Lock()
	delete(m.entries, a.AgentID)
	delete(m.entries, b.AgentID)
	m.mu.Unlock()

	pro, con := a, b
	if b.AgentID < a.AgentID {
		pro, con = b, a
	}

	_, span := m.tracer.StartSpan(ctx, "matchmaker.pair")
	span.SetAttribute("matchmaker.pro_agent_id", pro.AgentID)
	span.SetAttribute("matchmaker.con_agent_id", con.AgentID)
	defer m.tracer.EndSpan(span)

	if err := m.pairer.StartContest(ctx, Pairing{
		ProAgentID: pro.AgentID,
		ConAgentID: con.AgentID,
		PresetID:   pro.PresetID,
		Stake:      pro.Stake,
	}); err != nil {
		span.SetError(err)
	}
}
