package metrics

import (
	"context"

	"github.com/lonestarx1/debatearena/pkg/trace"
)

// Collector wraps a trace.Tracer and automatically populates metrics
// from DebateArena trace spans. Use it as a drop-in replacement for any
// tracer to gain automatic metrics collection.
type Collector struct {
	inner trace.Tracer
	reg   *Registry

	contestsStarted  *Counter
	contestDuration  *Histogram
	roundsCompleted  *Counter
	turnsRequested   *Counter
	turnDuration     *Histogram
	turnFailures     *Counter
	votesAccepted    *Counter
	votesRejected    *Counter
	busOps           *Counter
	recoveryAttempts *Counter
}

// NewCollector creates a Collector that delegates span management to
// inner and records metrics in reg.
func NewCollector(inner trace.Tracer, reg *Registry) *Collector {
	return &Collector{
		inner:            inner,
		reg:              reg,
		contestsStarted:  reg.Counter("debatearena_contests_started_total", "Total number of contests started"),
		contestDuration:  reg.Histogram("debatearena_contest_duration_seconds", "Contest wall-clock duration in seconds"),
		roundsCompleted:  reg.Counter("debatearena_rounds_completed_total", "Total number of rounds completed"),
		turnsRequested:   reg.Counter("debatearena_turns_requested_total", "Total number of agent turns requested"),
		turnDuration:     reg.Histogram("debatearena_turn_duration_seconds", "Agent turn round-trip duration in seconds"),
		turnFailures:     reg.Counter("debatearena_turn_failures_total", "Total number of failed agent turns"),
		votesAccepted:    reg.Counter("debatearena_votes_accepted_total", "Total number of accepted spectator votes"),
		votesRejected:    reg.Counter("debatearena_votes_rejected_total", "Total number of rejected spectator votes"),
		busOps:           reg.Counter("debatearena_bus_operations_total", "Total event bus publish/subscribe operations"),
		recoveryAttempts: reg.Counter("debatearena_recovery_attempts_total", "Total number of contest recovery attempts"),
	}
}

// StartSpan delegates to the inner tracer.
func (c *Collector) StartSpan(ctx context.Context, name string) (context.Context, *trace.Span) {
	return c.inner.StartSpan(ctx, name)
}

// EndSpan delegates to the inner tracer and records metrics.
func (c *Collector) EndSpan(span *trace.Span) {
	c.inner.EndSpan(span)
	c.record(span)
}

func (c *Collector) record(span *trace.Span) {
	duration := span.EndTime.Sub(span.StartTime).Seconds()
	status := "ok"
	if span.Status == trace.StatusError {
		status = "error"
	}

	switch span.Name {
	case "debate.run":
		preset := span.Attributes["debate.preset"]
		c.contestsStarted.Inc(map[string]string{"preset": preset, "status": status})
		c.contestDuration.Observe(duration, map[string]string{"preset": preset})

	case "debate.round":
		preset := span.Attributes["debate.preset"]
		c.roundsCompleted.Inc(map[string]string{"preset": preset, "status": status})

	case "router.send_request":
		c.turnsRequested.Inc(map[string]string{"status": status})
		c.turnDuration.Observe(duration, map[string]string{"status": status})
		if status == "error" {
			c.turnFailures.Inc(map[string]string{"reason": span.Attributes["error.reason"]})
		}

	case "orchestrator.vote_admit":
		if status == "ok" {
			c.votesAccepted.Inc(map[string]string{"round": span.Attributes["debate.round"]})
		} else {
			c.votesRejected.Inc(map[string]string{"reason": span.Attributes["vote.reject_reason"]})
		}

	case "bus.publish", "bus.subscribe":
		c.busOps.Inc(map[string]string{"op": span.Name, "status": status})

	case "orchestrator.recover":
		c.recoveryAttempts.Inc(map[string]string{"status": status})
	}
}
