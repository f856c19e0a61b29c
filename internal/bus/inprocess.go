package bus

import (
	"context"
	"sync"
	"time"
)

// InProcess is a single-replica Bus: channel fan-out and TTL keys
// implemented entirely with an in-memory map and goroutine-safe
// channels. It is always "degraded" in the cross-replica sense — there
// is only one replica — and is what a single-node deployment uses
// directly, or what a Redis-backed bus substitutes when Redis is
// unreachable (spec §4.2). Grounded on
// pkg/orchestrator/team/bus.go's Publish/Subscribe shape.
type InProcess struct {
	mu          sync.RWMutex
	subscribers map[string][]chan Message
	keys        map[string]ttlValue
}

type ttlValue struct {
	value   string
	expires time.Time
}

// NewInProcess creates an empty in-process bus.
func NewInProcess() *InProcess {
	return &InProcess{
		subscribers: make(map[string][]chan Message),
		keys:        make(map[string]ttlValue),
	}
}

func (b *InProcess) Publish(ctx context.Context, channel string, payload []byte) error {
	msg := Message{Channel: channel, Payload: payload, Timestamp: time.Now()}

	b.mu.RLock()
	subs := make([]chan Message, len(b.subscribers[channel]))
	copy(subs, b.subscribers[channel])
	b.mu.RUnlock()

	for _, ch := range subs {
		select {
		case ch <- msg:
		default:
		}
	}
	return nil
}

func (b *InProcess) Subscribe(ctx context.Context, channel string, bufferSize int) (<-chan Message, func(), error) {
	ch := make(chan Message, bufferSize)

	b.mu.Lock()
	b.subscribers[channel] = append(b.subscribers[channel], ch)
	b.mu.Unlock()

	unsub := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subscribers[channel]
		for i, s := range subs {
			if s == ch {
				b.subscribers[channel] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
	}
	return ch, unsub, nil
}

func (b *InProcess) SetKey(ctx context.Context, key, value string, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.keys[key] = ttlValue{value: value, expires: time.Now().Add(ttl)}
	return nil
}

func (b *InProcess) GetKey(ctx context.Context, key string) (string, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.keys[key]
	if !ok {
		return "", false, nil
	}
	if time.Now().After(v.expires) {
		delete(b.keys, key)
		return "", false, nil
	}
	return v.value, true, nil
}

func (b *InProcess) DeleteKey(ctx context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.keys, key)
	return nil
}

// Degraded always reports true: an in-process bus is by definition a
// single replica's worth of state.
func (b *InProcess) Degraded() bool { return true }

func (b *InProcess) Close() error { return nil }

var _ Bus = (*InProcess)(nil)
