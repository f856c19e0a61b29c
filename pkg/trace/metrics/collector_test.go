package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/lonestarx1/debatearena/pkg/trace"
)

func TestCollectorDelegatesSpans(t *testing.T) {
	inner := trace.NewInMemory()
	reg := NewRegistry()
	c := NewCollector(inner, reg)

	ctx, span := c.StartSpan(context.Background(), "test.span")
	if span == nil {
		t.Fatal("span is nil")
	}
	if ctx == nil {
		t.Fatal("ctx is nil")
	}
	c.EndSpan(span)

	spans := inner.Spans()
	if len(spans) != 1 {
		t.Fatalf("inner spans = %d, want 1", len(spans))
	}
	if spans[0].Name != "test.span" {
		t.Errorf("span name = %q, want %q", spans[0].Name, "test.span")
	}
}

func TestCollectorContestMetrics(t *testing.T) {
	inner := trace.NewInMemory()
	reg := NewRegistry()
	c := NewCollector(inner, reg)

	_, span := c.StartSpan(context.Background(), "debate.run")
	span.SetAttribute("debate.preset", "classic")
	span.StartTime = time.Now().Add(-2 * time.Second)
	c.EndSpan(span)

	started := c.contestsStarted.Value(map[string]string{"preset": "classic", "status": "ok"})
	if started != 1 {
		t.Errorf("contests started = %f, want 1", started)
	}

	count := c.contestDuration.Count(map[string]string{"preset": "classic"})
	if count != 1 {
		t.Errorf("contest duration count = %d, want 1", count)
	}
}

func TestCollectorContestError(t *testing.T) {
	inner := trace.NewInMemory()
	reg := NewRegistry()
	c := NewCollector(inner, reg)

	_, span := c.StartSpan(context.Background(), "debate.run")
	span.SetAttribute("debate.preset", "classic")
	span.Status = trace.StatusError
	c.EndSpan(span)

	errRuns := c.contestsStarted.Value(map[string]string{"preset": "classic", "status": "error"})
	if errRuns != 1 {
		t.Errorf("error contest starts = %f, want 1", errRuns)
	}
}

func TestCollectorRoundMetrics(t *testing.T) {
	inner := trace.NewInMemory()
	reg := NewRegistry()
	c := NewCollector(inner, reg)

	_, span := c.StartSpan(context.Background(), "debate.round")
	span.SetAttribute("debate.preset", "classic")
	c.EndSpan(span)

	completed := c.roundsCompleted.Value(map[string]string{"preset": "classic", "status": "ok"})
	if completed != 1 {
		t.Errorf("rounds completed = %f, want 1", completed)
	}
}

func TestCollectorTurnMetrics(t *testing.T) {
	inner := trace.NewInMemory()
	reg := NewRegistry()
	c := NewCollector(inner, reg)

	_, span := c.StartSpan(context.Background(), "router.send_request")
	span.StartTime = time.Now().Add(-500 * time.Millisecond)
	c.EndSpan(span)

	requested := c.turnsRequested.Value(map[string]string{"status": "ok"})
	if requested != 1 {
		t.Errorf("turns requested = %f, want 1", requested)
	}

	count := c.turnDuration.Count(map[string]string{"status": "ok"})
	if count != 1 {
		t.Errorf("turn duration count = %d, want 1", count)
	}
}

func TestCollectorTurnFailure(t *testing.T) {
	inner := trace.NewInMemory()
	reg := NewRegistry()
	c := NewCollector(inner, reg)

	_, span := c.StartSpan(context.Background(), "router.send_request")
	span.SetAttribute("error.reason", "timeout")
	span.Status = trace.StatusError
	c.EndSpan(span)

	failures := c.turnFailures.Value(map[string]string{"reason": "timeout"})
	if failures != 1 {
		t.Errorf("turn failures = %f, want 1", failures)
	}
}

func TestCollectorVoteMetrics(t *testing.T) {
	inner := trace.NewInMemory()
	reg := NewRegistry()
	c := NewCollector(inner, reg)

	_, accepted := c.StartSpan(context.Background(), "orchestrator.vote_admit")
	accepted.SetAttribute("debate.round", "2")
	c.EndSpan(accepted)

	_, rejected := c.StartSpan(context.Background(), "orchestrator.vote_admit")
	rejected.SetAttribute("vote.reject_reason", "already-voted")
	rejected.Status = trace.StatusError
	c.EndSpan(rejected)

	acceptedCount := c.votesAccepted.Value(map[string]string{"round": "2"})
	if acceptedCount != 1 {
		t.Errorf("votes accepted = %f, want 1", acceptedCount)
	}

	rejectedCount := c.votesRejected.Value(map[string]string{"reason": "already-voted"})
	if rejectedCount != 1 {
		t.Errorf("votes rejected = %f, want 1", rejectedCount)
	}
}

func TestCollectorBusMetrics(t *testing.T) {
	inner := trace.NewInMemory()
	reg := NewRegistry()
	c := NewCollector(inner, reg)

	_, pub := c.StartSpan(context.Background(), "bus.publish")
	c.EndSpan(pub)

	pubs := c.busOps.Value(map[string]string{"op": "bus.publish", "status": "ok"})
	if pubs != 1 {
		t.Errorf("bus publish ops = %f, want 1", pubs)
	}
}

func TestCollectorRecoveryMetrics(t *testing.T) {
	inner := trace.NewInMemory()
	reg := NewRegistry()
	c := NewCollector(inner, reg)

	_, span := c.StartSpan(context.Background(), "orchestrator.recover")
	c.EndSpan(span)

	attempts := c.recoveryAttempts.Value(map[string]string{"status": "ok"})
	if attempts != 1 {
		t.Errorf("recovery attempts = %f, want 1", attempts)
	}
}

func TestCollectorUnknownSpanName(t *testing.T) {
	inner := trace.NewInMemory()
	reg := NewRegistry()
	c := NewCollector(inner, reg)

	_, span := c.StartSpan(context.Background(), "unknown.operation")
	c.EndSpan(span)

	// Should not panic, no metrics recorded.
	out := reg.Export()
	if out != "" {
		t.Errorf("expected empty export for unknown span, got: %q", out)
	}
}

func TestCollectorMetricsViaExport(t *testing.T) {
	inner := trace.NewInMemory()
	reg := NewRegistry()
	c := NewCollector(inner, reg)

	_, span := c.StartSpan(context.Background(), "debate.run")
	span.SetAttribute("debate.preset", "classic")
	c.EndSpan(span)

	out := reg.Export()
	if out == "" {
		t.Error("expected non-empty export after recording metrics")
	}
}
