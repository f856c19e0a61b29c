// Package bus is the Event Bus (C2): a publish/subscribe abstraction
// over three channel key spaces and two TTL key spaces (spec §4.2).
// The bus is never authoritative state — internal/store is — so every
// implementation may be lost and rebuilt without data loss.
package bus

import (
	"context"
	"time"
)

// Message is a single envelope published on a channel. Payload is the
// raw JSON body produced by internal/wire; the bus never interprets it.
type Message struct {
	Channel   string
	Payload   []byte
	Timestamp time.Time
}

// ContestChannel is the fan-out channel for a contest's lifecycle
// events, consumed by every replica with a locally attached spectator.
func ContestChannel(contestID string) string {
	return "channel:contest:" + contestID
}

// AgentResponseChannel is the short-lived, request-scoped reply path
// used when a router's sendRequest must cross replicas.
func AgentResponseChannel(requestID string) string {
	return "channel:agent_response:" + requestID
}

// ReplicaInbox is a replica's inbox for cross-replica agent requests.
func ReplicaInbox(replicaID string) string {
	return "inbox:replica:" + replicaID
}

// AgentConnectedKey locates the replica currently holding an agent's
// live socket. TTL 120s, refreshed by router heartbeat (spec §4.4).
func AgentConnectedKey(agentID string) string {
	return "key:agent_connected:" + agentID
}

// SpectatorCountKey holds one replica's local viewer count for a
// contest. TTL 60s (spec §4.2, §4.5).
func SpectatorCountKey(contestID, replicaID string) string {
	return "key:spectators:" + contestID + ":" + replicaID
}

// RecoveryLockKey arbitrates which replica owns recovering a stuck
// contest. Short TTL (spec §4.7: "ownership is arbitrated via a bus
// lock keyed by contest id with a short TTL").
func RecoveryLockKey(contestID string) string {
	return "key:recovery_lock:" + contestID
}

// Bus is the pub/sub plus TTL-key abstraction every component depends
// on through this interface rather than a concrete backend, so that
// the in-process and Redis implementations are interchangeable.
type Bus interface {
	// Publish sends payload to every current subscriber of channel.
	// Non-blocking per subscriber: a slow subscriber drops the message
	// rather than stalling the publisher.
	Publish(ctx context.Context, channel string, payload []byte) error

	// Subscribe registers for channel and returns a receive-only
	// stream plus an unsubscribe function. bufferSize bounds how many
	// messages may queue before drops occur for this subscriber.
	Subscribe(ctx context.Context, channel string, bufferSize int) (<-chan Message, func(), error)

	// SetKey writes key=value with the given TTL, overwriting any
	// prior value and resetting the TTL (used for heartbeat refresh).
	SetKey(ctx context.Context, key, value string, ttl time.Duration) error

	// GetKey reads a key's current value. ok is false if the key is
	// absent or its TTL has expired.
	GetKey(ctx context.Context, key string) (value string, ok bool, err error)

	// DeleteKey removes a key immediately, used on graceful agent
	// disconnect so a stale locator doesn't wait out its TTL.
	DeleteKey(ctx context.Context, key string) error

	// Degraded reports whether the bus has fallen back to
	// single-replica mode (spec §4.2): cross-replica routing and
	// fleet-wide spectator totals are unavailable while true.
	Degraded() bool

	// Close releases any held resources (connections, goroutines).
	Close() error
}
