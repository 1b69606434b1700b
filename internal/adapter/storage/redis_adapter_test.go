package storage

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
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

func TestReserve_OnlyOnce(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	adapter := NewRedisAdapter(client, time.Minute)
	client.Del(ctx, codeKeyPrefix+"ABC-240101-XXXXXX")

	ok, err := adapter.Reserve(ctx, "ABC-240101-XXXXXX")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Error("expected first reservation to succeed")
	}

	ok, err = adapter.Reserve(ctx, "ABC-240101-XXXXXX")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected second reservation to fail")
	}

	ttl := client.TTL(ctx, codeKeyPrefix+"ABC-240101-XXXXXX").Val()
	if ttl <= 0 || ttl > time.Minute {
		t.Errorf("expected ttl within a minute, got %v", ttl)
	}
}

func TestReserve_Concurrent(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	adapter := NewRedisAdapter(client, time.Minute)
	client.Del(ctx, codeKeyPrefix+"concurrent-code")

	var successCount atomic.Int32
	var wg sync.WaitGroup
	concurrency := 100

	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := adapter.Reserve(ctx, "concurrent-code")
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			if ok {
				successCount.Add(1)
			}
		}()
	}

	wg.Wait()

	if successCount.Load() != 1 {
		t.Errorf("expected exactly 1 success, got %d", successCount.Load())
	}
}

func TestRelease(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	adapter := NewRedisAdapter(client, time.Minute)
	client.Del(ctx, codeKeyPrefix+"released-code")

	if ok, _ := adapter.Reserve(ctx, "released-code"); !ok {
		t.Fatal("expected reservation to succeed")
	}
	if err := adapter.Release(ctx, "released-code"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ok, err := adapter.Reserve(ctx, "released-code")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Error("expected reservation after release to succeed")
	}
}

func TestSnapshot(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	adapter := NewRedisAdapter(client, time.Minute)
	client.Del(ctx, cartCodesPrefix+"test-product", cartReservedPrefix+"test-product")

	adapter.HoldCode(ctx, "test-product", "code-1")
	adapter.HoldCode(ctx, "test-product", "code-2")
	adapter.SetReserved(ctx, "test-product", "cart-a", decimal.RequireFromString("1.5"))
	adapter.SetReserved(ctx, "test-product", "cart-b", decimal.NewFromInt(2))

	snap, err := adapter.Snapshot(ctx, "test-product")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !snap.Holds("code-1") || !snap.Holds("code-2") {
		t.Errorf("expected both codes held, got %v", snap.Codes)
	}
	if !snap.Reserved.Equal(decimal.RequireFromString("3.5")) {
		t.Errorf("expected reserved 3.5, got %s", snap.Reserved)
	}
}

func TestSnapshot_Empty(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	adapter := NewRedisAdapter(client, time.Minute)
	client.Del(ctx, cartCodesPrefix+"empty-product", cartReservedPrefix+"empty-product")

	snap, err := adapter.Snapshot(ctx, "empty-product")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(snap.Codes) != 0 {
		t.Errorf("expected no codes, got %d", len(snap.Codes))
	}
	if !snap.Reserved.IsZero() {
		t.Errorf("expected zero reserved, got %s", snap.Reserved)
	}
}

func TestDropCode_RemovesEmptySet(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	adapter := NewRedisAdapter(client, time.Minute)
	key := cartCodesPrefix + "drop-product"
	client.Del(ctx, key)

	adapter.HoldCode(ctx, "drop-product", "code-1")
	if err := adapter.DropCode(ctx, "drop-product", "code-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if n := client.Exists(ctx, key).Val(); n != 0 {
		t.Errorf("expected set to be deleted, exists=%d", n)
	}
}

func TestSetReserved_ZeroClears(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	adapter := NewRedisAdapter(client, time.Minute)
	key := cartReservedPrefix + "clear-product"
	client.Del(ctx, key)

	adapter.SetReserved(ctx, "clear-product", "cart-a", decimal.NewFromInt(4))
	adapter.SetReserved(ctx, "clear-product", "cart-a", decimal.Zero)

	if n := client.HLen(ctx, key).Val(); n != 0 {
		t.Errorf("expected no reserved entries, got %d", n)
	}
}

func TestSnapshot_IgnoresNegativeReservations(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	adapter := NewRedisAdapter(client, time.Minute)
	key := cartReservedPrefix + "negative-product"
	client.Del(ctx, key)
	defer client.Del(ctx, key)

	adapter.SetReserved(ctx, "negative-product", "cart-a", decimal.NewFromInt(2))
	client.HSet(ctx, key, "cart-b", "-5")

	snap, err := adapter.Snapshot(ctx, "negative-product")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !snap.Reserved.Equal(decimal.NewFromInt(2)) {
		t.Errorf("expected reserved 2, got %s", snap.Reserved)
	}

	adapter.SetReserved(ctx, "negative-product", "cart-a", decimal.NewFromInt(-1))
	if client.HExists(ctx, key, "cart-a").Val() {
		t.Error("expected negative quantity to clear cart-a")
	}
}
