package cache

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupTestStore(t *testing.T, ttl time.Duration) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return New(client, "test:", ttl), mr
}

type payload struct {
	Codes []string `json:"codes"`
	Total int      `json:"total"`
}

func TestStore_SetGet(t *testing.T) {
	store, mr := setupTestStore(t, time.Minute)
	ctx := context.Background()

	if err := store.Set(ctx, "k", payload{Codes: []string{"E119"}, Total: 1}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if !mr.Exists("test:k") {
		t.Error("expected prefixed key in redis")
	}
	if ttl := mr.TTL("test:k"); ttl != time.Minute {
		t.Errorf("expected TTL 1m, got %v", ttl)
	}

	var got payload
	if err := store.Get(ctx, "k", &got); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Total != 1 || len(got.Codes) != 1 || got.Codes[0] != "E119" {
		t.Errorf("unexpected value %+v", got)
	}
}

func TestStore_Miss(t *testing.T) {
	store, _ := setupTestStore(t, time.Minute)
	var got payload
	if err := store.Get(context.Background(), "absent", &got); !errors.Is(err, ErrMiss) {
		t.Errorf("expected ErrMiss, got %v", err)
	}
}

func TestStore_Expiry(t *testing.T) {
	store, mr := setupTestStore(t, time.Minute)
	ctx := context.Background()

	if err := store.Set(ctx, "k", payload{Total: 2}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	mr.FastForward(2 * time.Minute)

	var got payload
	if err := store.Get(ctx, "k", &got); !errors.Is(err, ErrMiss) {
		t.Errorf("expected ErrMiss after expiry, got %v", err)
	}
}

func TestStore_Corrupt(t *testing.T) {
	store, mr := setupTestStore(t, time.Minute)
	mr.Set("test:bad", "not json")

	var got payload
	err := store.Get(context.Background(), "bad", &got)
	if err == nil || errors.Is(err, ErrMiss) {
		t.Errorf("expected decode error, got %v", err)
	}
}

func TestConnect(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	defer mr.Close()

	client, err := Connect(context.Background(), "redis://"+mr.Addr()+"/0")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	client.Close()

	if _, err := Connect(context.Background(), "not-a-url"); err == nil {
		t.Error("expected error for invalid url")
	}
}

func TestStore_Flush(t *testing.T) {
	store, mr := setupTestStore(t, time.Minute)
	ctx := context.Background()

	for i := 0; i < scanBatch+7; i++ {
		if err := store.Set(ctx, fmt.Sprintf("page:%d", i), payload{Total: i}); err != nil {
			t.Fatalf("Set: %v", err)
		}
	}
	if err := mr.Set("other:keep", "1"); err != nil {
		t.Fatal(err)
	}

	n, err := store.Flush(ctx)
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if n != scanBatch+7 {
		t.Errorf("expected %d keys removed, got %d", scanBatch+7, n)
	}
	var got payload
	if err := store.Get(ctx, "page:0", &got); !errors.Is(err, ErrMiss) {
		t.Errorf("expected miss after flush, got %v", err)
	}
	if !mr.Exists("other:keep") {
		t.Error("keys outside the prefix must survive")
	}
}

func TestStore_FlushWithoutPrefix(t *testing.T) {
	store, _ := setupTestStore(t, time.Minute)
	store.prefix = ""
	if _, err := store.Flush(context.Background()); err == nil {
		t.Fatal("expected error flushing an unprefixed store")
	}
}
