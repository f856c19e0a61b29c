package matchmaker

import (
	"context"
	"sync"
	"testing"
	"time"
)

type stubPairer struct {
	mu       sync.Mutex
	pairings []Pairing
}

func (p *stubPairer) StartContest(ctx context.Context, pairing Pairing) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pairings = append(p.pairings, pairing)
	return nil
}

func (p *stubPairer) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pairings)
}

func TestEnqueueReplacesExistingEntry(t *testing.T) {
	m := New(&stubPairer{}, nil)
	m.Enqueue(QueueEntry{AgentID: "a1", OwnerID: "o1", Rating: 1500, Stake: 10, PresetID: "classic"})
	m.Enqueue(QueueEntry{AgentID: "a1", OwnerID: "o1", Rating: 1600, Stake: 20, PresetID: "classic"})

	if got := m.Stats().QueueSize; got != 1 {
		t.Fatalf("QueueSize = %d, want 1", got)
	}
}

func TestDequeueRemovesEntry(t *testing.T) {
	m := New(&stubPairer{}, nil)
	m.Enqueue(QueueEntry{AgentID: "a1", OwnerID: "o1", Rating: 1500, Stake: 10, PresetID: "classic"})

	if !m.Dequeue("a1") {
		t.Fatal("Dequeue reported no entry present")
	}
	if m.Dequeue("a1") {
		t.Fatal("second Dequeue should report no entry present")
	}
}

func TestScanPairsCompatibleEntries(t *testing.T) {
	pairer := &stubPairer{}
	m := New(pairer, nil)
	now := time.Now()
	m.Enqueue(QueueEntry{AgentID: "a1", OwnerID: "o1", Rating: 1500, Stake: 10, PresetID: "classic", EnqueuedAt: now})
	m.Enqueue(QueueEntry{AgentID: "a2", OwnerID: "o2", Rating: 1550, Stake: 10, PresetID: "classic", EnqueuedAt: now})

	m.scanOnce(context.Background())

	if got := pairer.count(); got != 1 {
		t.Fatalf("pairings = %d, want 1", got)
	}
	if got := m.Stats().QueueSize; got != 0 {
		t.Fatalf("QueueSize after pairing = %d, want 0", got)
	}
	p := pairer.pairings[0]
	if p.ProAgentID != "a1" || p.ConAgentID != "a2" {
		t.Errorf("pairing = %+v, want pro=a1 con=a2 (lexical tie-break)", p)
	}
}

func TestScanSkipsSameOwnerUnlessAllowed(t *testing.T) {
	pairer := &stubPairer{}
	m := New(pairer, nil)
	now := time.Now()
	m.Enqueue(QueueEntry{AgentID: "a1", OwnerID: "shared", Rating: 1500, Stake: 10, PresetID: "classic", EnqueuedAt: now})
	m.Enqueue(QueueEntry{AgentID: "a2", OwnerID: "shared", Rating: 1500, Stake: 10, PresetID: "classic", EnqueuedAt: now})

	m.scanOnce(context.Background())
	if got := pairer.count(); got != 0 {
		t.Fatalf("pairings = %d, want 0 (same owner, not allowed)", got)
	}

	m.Enqueue(QueueEntry{AgentID: "a1", OwnerID: "shared", Rating: 1500, Stake: 10, PresetID: "classic", AllowSameOwner: true, EnqueuedAt: now})
	m.Enqueue(QueueEntry{AgentID: "a2", OwnerID: "shared", Rating: 1500, Stake: 10, PresetID: "classic", AllowSameOwner: true, EnqueuedAt: now})

	m.scanOnce(context.Background())
	if got := pairer.count(); got != 1 {
		t.Fatalf("pairings = %d, want 1 once both sides allow same owner", got)
	}
}

func TestScanRequiresMatchingPresetAndStake(t *testing.T) {
	pairer := &stubPairer{}
	m := New(pairer, nil)
	now := time.Now()
	m.Enqueue(QueueEntry{AgentID: "a1", OwnerID: "o1", Rating: 1500, Stake: 10, PresetID: "classic", EnqueuedAt: now})
	m.Enqueue(QueueEntry{AgentID: "a2", OwnerID: "o2", Rating: 1500, Stake: 20, PresetID: "classic", EnqueuedAt: now})
	m.Enqueue(QueueEntry{AgentID: "a3", OwnerID: "o3", Rating: 1500, Stake: 10, PresetID: "lightning", EnqueuedAt: now})

	m.scanOnce(context.Background())
	if got := pairer.count(); got != 0 {
		t.Fatalf("pairings = %d, want 0 (mismatched stake/preset)", got)
	}
}

func TestScanRejectsGapBeyondTolerance(t *testing.T) {
	pairer := &stubPairer{}
	m := New(pairer, nil)
	now := time.Now()
	m.Enqueue(QueueEntry{AgentID: "a1", OwnerID: "o1", Rating: 1500, Stake: 10, PresetID: "classic", EnqueuedAt: now})
	m.Enqueue(QueueEntry{AgentID: "a2", OwnerID: "o2", Rating: 1700, Stake: 10, PresetID: "classic", EnqueuedAt: now})

	m.scanOnce(context.Background())
	if got := pairer.count(); got != 0 {
		t.Fatalf("pairings = %d, want 0 (gap of 200 exceeds base tolerance of 100)", got)
	}
}

func TestEffectiveToleranceExpandsOverTime(t *testing.T) {
	old := QueueEntry{AgentID: "a1", EnqueuedAt: time.Now().Add(-90 * time.Second)}
	got := effectiveTolerance(old, time.Now())
	want := baseTolerance + 3*toleranceStep
	if got != want {
		t.Errorf("effectiveTolerance after 90s = %d, want %d", got, want)
	}
}

func TestEffectiveToleranceCapsAtCeiling(t *testing.T) {
	ancient := QueueEntry{AgentID: "a1", EnqueuedAt: time.Now().Add(-1 * time.Hour)}
	if got := effectiveTolerance(ancient, time.Now()); got != toleranceCeiling {
		t.Errorf("effectiveTolerance after 1h = %d, want ceiling %d", got, toleranceCeiling)
	}
}

func TestScanPrefersOldestEntryThenSmallestGap(t *testing.T) {
	pairer := &stubPairer{}
	m := New(pairer, nil)
	oldest := time.Now().Add(-10 * time.Second)
	newer := time.Now()

	m.Enqueue(QueueEntry{AgentID: "old", OwnerID: "o1", Rating: 1500, Stake: 10, PresetID: "classic", EnqueuedAt: oldest})
	m.Enqueue(QueueEntry{AgentID: "near", OwnerID: "o2", Rating: 1510, Stake: 10, PresetID: "classic", EnqueuedAt: newer})
	m.Enqueue(QueueEntry{AgentID: "far", OwnerID: "o3", Rating: 1560, Stake: 10, PresetID: "classic", EnqueuedAt: newer})

	m.scanOnce(context.Background())

	if got := pairer.count(); got != 1 {
		t.Fatalf("pairings = %d, want 1", got)
	}
	p := pairer.pairings[0]
	paired := map[string]bool{p.ProAgentID: true, p.ConAgentID: true}
	if !paired["old"] || !paired["near"] {
		t.Errorf("pairing = %+v, want old+near (smallest gap for the oldest entry)", p)
	}
}

func TestEvictRemovesAgentFromQueue(t *testing.T) {
	m := New(&stubPairer{}, nil)
	m.Enqueue(QueueEntry{AgentID: "a1", OwnerID: "o1", Rating: 1500, Stake: 10, PresetID: "classic"})
	m.Evict("a1")

	if got := m.Stats().QueueSize; got != 0 {
		t.Fatalf("QueueSize after evict = %d, want 0", got)
	}
}

func TestStatsReportsQueueSizeAndWait(t *testing.T) {
	m := New(&stubPairer{}, nil)
	if got := m.Stats(); got.QueueSize != 0 || got.AverageWaitSec != 0 {
		t.Fatalf("empty stats = %+v, want zero value", got)
	}

	m.Enqueue(QueueEntry{AgentID: "a1", EnqueuedAt: time.Now().Add(-5 * time.Second)})
	got := m.Stats()
	if got.QueueSize != 1 {
		t.Errorf("QueueSize = %d, want 1", got.QueueSize)
	}
	if got.AverageWaitSec < 4 || got.AverageWaitSec > 10 {
		t.Errorf("AverageWaitSec = %v, want roughly 5", got.AverageWaitSec)
	}
}
