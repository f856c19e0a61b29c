package bus

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupMiniRedis(t *testing.T) (*miniredis.Miniredis, *Redis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run: %v", err)
	}
	t.Cleanup(mr.Close)

	r := Dial(context.Background(), mr.Addr(), "", 0)
	t.Cleanup(func() { _ = r.Close() })
	if r.Degraded() {
		t.Fatal("expected a live miniredis to connect without degrading")
	}
	return mr, r
}

func TestRedisPublishSubscribe(t *testing.T) {
	_, r := setupMiniRedis(t)
	ctx := context.Background()

	ch, unsub, err := r.Subscribe(ctx, ContestChannel("c1"), 4)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer unsub()

	if err := r.Publish(ctx, ContestChannel("c1"), []byte("hello")); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case msg := <-ch:
		if string(msg.Payload) != "hello" {
			t.Errorf("payload = %s, want hello", msg.Payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for published message")
	}
}

func TestRedisKeyTTL(t *testing.T) {
	mr, r := setupMiniRedis(t)
	ctx := context.Background()

	if err := r.SetKey(ctx, AgentConnectedKey("a1"), "replica-a", time.Minute); err != nil {
		t.Fatalf("SetKey: %v", err)
	}
	val, ok, err := r.GetKey(ctx, AgentConnectedKey("a1"))
	if err != nil || !ok || val != "replica-a" {
		t.Fatalf("GetKey: val=%q ok=%v err=%v", val, ok, err)
	}

	mr.FastForward(2 * time.Minute)

	_, ok, err = r.GetKey(ctx, AgentConnectedKey("a1"))
	if err != nil || ok {
		t.Fatalf("expected key expired after TTL: ok=%v err=%v", ok, err)
	}
}

func TestRedisDeleteKey(t *testing.T) {
	_, r := setupMiniRedis(t)
	ctx := context.Background()
	_ = r.SetKey(ctx, "k", "v", time.Minute)

	if err := r.DeleteKey(ctx, "k"); err != nil {
		t.Fatalf("DeleteKey: %v", err)
	}
	_, ok, _ := r.GetKey(ctx, "k")
	if ok {
		t.Fatal("key should be gone after delete")
	}
}

func TestRedisDialUnreachableDegradesImmediately(t *testing.T) {
	r := Dial(context.Background(), "127.0.0.1:1", "", 0)
	defer r.Close()

	if !r.Degraded() {
		t.Fatal("Dial against an unreachable address should degrade rather than error")
	}

	// Degraded mode must still behave like a working bus, just local-only.
	ctx := context.Background()
	ch, unsub, err := r.Subscribe(ctx, "topic", 1)
	if err != nil {
		t.Fatalf("Subscribe while degraded: %v", err)
	}
	defer unsub()

	if err := r.Publish(ctx, "topic", []byte("x")); err != nil {
		t.Fatalf("Publish while degraded: %v", err)
	}
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("degraded bus should still fan out locally")
	}
}
