package bus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a cross-replica Bus backed by Redis pub/sub channels and
// Redis keys with TTL. Grounded on the raw go-redis client usage in
// vasic-digital-SuperAgent/internal/cache/redis.go (redis.NewClient,
// Set/Get/Del/Ping against *redis.Client).
//
// If Dial cannot reach Redis, or an operation later fails, the bus
// flips into single-replica degrade mode (spec §4.2): it falls back to
// an InProcess bus for the remainder of its life rather than
// propagating errors to every caller. Degraded() reports this.
type Redis struct {
	client *redis.Client
	local  *InProcess

	degraded atomic.Bool

	mu   sync.Mutex
	subs map[string]*redisSub
}

type redisSub struct {
	pubsub *redis.PubSub
	outs   []chan Message
}

// Dial connects to addr and verifies connectivity with Ping. On
// failure it does not return an error: it returns a Redis bus already
// in degrade mode, since a broker that is down at boot should not
// prevent a single replica from serving contests.
func Dial(ctx context.Context, addr, password string, db int) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	r := &Redis{
		client: client,
		local:  NewInProcess(),
		subs:   make(map[string]*redisSub),
	}

	if err := client.Ping(ctx).Err(); err != nil {
		r.degraded.Store(true)
	}
	return r
}

func (r *Redis) Publish(ctx context.Context, channel string, payload []byte) error {
	if r.degraded.Load() {
		return r.local.Publish(ctx, channel, payload)
	}
	if err := r.client.Publish(ctx, channel, payload).Err(); err != nil {
		r.degrade()
		return r.local.Publish(ctx, channel, payload)
	}
	return nil
}

func (r *Redis) Subscribe(ctx context.Context, channel string, bufferSize int) (<-chan Message, func(), error) {
	if r.degraded.Load() {
		return r.local.Subscribe(ctx, channel, bufferSize)
	}

	pubsub := r.client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		r.degrade()
		return r.local.Subscribe(ctx, channel, bufferSize)
	}

	out := make(chan Message, bufferSize)
	done := make(chan struct{})
	go func() {
		ch := pubsub.Channel()
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- Message{Channel: msg.Channel, Payload: []byte(msg.Payload), Timestamp: time.Now()}:
				default:
				}
			case <-done:
				return
			}
		}
	}()

	unsub := func() {
		close(done)
		pubsub.Close()
	}
	return out, unsub, nil
}

func (r *Redis) SetKey(ctx context.Context, key, value string, ttl time.Duration) error {
	if r.degraded.Load() {
		return r.local.SetKey(ctx, key, value, ttl)
	}
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		r.degrade()
		return r.local.SetKey(ctx, key, value, ttl)
	}
	return nil
}

func (r *Redis) GetKey(ctx context.Context, key string) (string, bool, error) {
	if r.degraded.Load() {
		return r.local.GetKey(ctx, key)
	}
	val, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		r.degrade()
		return r.local.GetKey(ctx, key)
	}
	return val, true, nil
}

func (r *Redis) DeleteKey(ctx context.Context, key string) error {
	if r.degraded.Load() {
		return r.local.DeleteKey(ctx, key)
	}
	if err := r.client.Del(ctx, key).Err(); err != nil {
		r.degrade()
		return r.local.DeleteKey(ctx, key)
	}
	return nil
}

// Degraded reports whether this bus has fallen back to single-replica
// mode, either at Dial time or after a subsequent operation failure.
func (r *Redis) Degraded() bool {
	return r.degraded.Load()
}

func (r *Redis) degrade() {
	r.degraded.Store(true)
}

func (r *Redis) Close() error {
	return r.client.Close()
}

var _ Bus = (*Redis)(nil)
