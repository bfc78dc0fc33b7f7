package storage

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func getRedisClient(t *testing.T) *redis.Client {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	return client
}

func TestAcquireLock_Success(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	adapter := NewRedisAdapter(client)
	name := "lock:test-" + uuid.NewString()
	defer client.Del(ctx, name)

	token, ok, err := adapter.AcquireLock(ctx, name, 10*time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok || token == "" {
		t.Fatal("expected lock to be acquired with a token")
	}

	ttl := client.PTTL(ctx, name).Val()
	if ttl <= 0 || ttl > 10*time.Second {
		t.Errorf("expected ttl within 10s, got %v", ttl)
	}
}

func TestAcquireLock_Contended(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	adapter := NewRedisAdapter(client)
	name := "lock:test-" + uuid.NewString()
	defer client.Del(ctx, name)

	if _, ok, _ := adapter.AcquireLock(ctx, name, 10*time.Second); !ok {
		t.Fatal("expected first acquire to succeed")
	}

	token, ok, err := adapter.AcquireLock(ctx, name, 10*time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok || token != "" {
		t.Error("expected second acquire to report contention")
	}
}

func TestAcquireLock_Concurrent(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	adapter := NewRedisAdapter(client)
	name := "lock:test-" + uuid.NewString()
	defer client.Del(ctx, name)

	var acquired atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := adapter.AcquireLock(ctx, name, 10*time.Second)
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			if ok {
				acquired.Add(1)
			}
		}()
	}

	wg.Wait()

	if acquired.Load() != 1 {
		t.Errorf("expected exactly 1 holder, got %d", acquired.Load())
	}
}

func TestReleaseLock_TokenMismatch(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	adapter := NewRedisAdapter(client)
	name := "lock:test-" + uuid.NewString()
	defer client.Del(ctx, name)

	token, _, _ := adapter.AcquireLock(ctx, name, 10*time.Second)

	released, err := adapter.ReleaseLock(ctx, name, "someone-else")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if released {
		t.Error("expected release with a foreign token to be refused")
	}
	if client.Get(ctx, name).Val() != token {
		t.Error("lock must still be held by the original token")
	}

	released, err = adapter.ReleaseLock(ctx, name, token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !released {
		t.Error("expected owner release to succeed")
	}
	if client.Exists(ctx, name).Val() != 0 {
		t.Error("expected lock key to be gone")
	}
}

func TestReleaseLock_AfterExpiry(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	adapter := NewRedisAdapter(client)
	name := "lock:test-" + uuid.NewString()
	defer client.Del(ctx, name)

	stale, _, _ := adapter.AcquireLock(ctx, name, 50*time.Millisecond)
	time.Sleep(100 * time.Millisecond)

	fresh, ok, _ := adapter.AcquireLock(ctx, name, 10*time.Second)
	if !ok {
		t.Fatal("expected lock to be free after ttl")
	}

	released, _ := adapter.ReleaseLock(ctx, name, stale)
	if released {
		t.Error("stale holder must not release the new holder's lock")
	}
	if client.Get(ctx, name).Val() != fresh {
		t.Error("new holder lost its lock")
	}
}

func TestIdempotencyResult_RoundTrip(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	adapter := NewRedisAdapter(client)
	fingerprint := uuid.NewString()
	defer client.Del(ctx, idempotencyKeyPrefix+fingerprint)

	_, found, err := adapter.GetResult(ctx, fingerprint)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found {
		t.Fatal("expected no result before save")
	}

	if err := adapter.SaveResult(ctx, fingerprint, []byte(`{"id":"o-1"}`), time.Hour); err != nil {
		t.Fatalf("SaveResult failed: %v", err)
	}

	payload, found, err := adapter.GetResult(ctx, fingerprint)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !found || string(payload) != `{"id":"o-1"}` {
		t.Errorf("unexpected payload %q (found=%v)", payload, found)
	}
}

func TestIncrementRetry(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	adapter := NewRedisAdapter(client)
	orderID := uuid.NewString()
	defer client.Del(ctx, retryKeyPrefix+orderID)

	for want := 1; want <= 3; want++ {
		got, err := adapter.IncrementRetry(ctx, orderID, time.Hour)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != want {
			t.Errorf("expected count %d, got %d", want, got)
		}
	}

	if ttl := client.TTL(ctx, retryKeyPrefix+orderID).Val(); ttl <= 0 {
		t.Errorf("expected retry counter to expire, ttl %v", ttl)
	}

	if err := adapter.ClearRetry(ctx, orderID); err != nil {
		t.Fatalf("ClearRetry failed: %v", err)
	}
	if client.Exists(ctx, retryKeyPrefix+orderID).Val() != 0 {
		t.Error("expected retry counter to be cleared")
	}
}
