package access

import (
	"context"
	"testing"
	"time"
)

func TestMemoryCacheSetGet(t *testing.T) {
	cache := NewMemoryCache()
	ctx := context.Background()

	if err := cache.Set(ctx, "k1", []byte("v1"), time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	value, ok, err := cache.Get(ctx, "k1")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if string(value) != "v1" {
		t.Fatalf("got %q", value)
	}
	if _, ok, _ := cache.Get(ctx, "missing"); ok {
		t.Fatal("missing key must be a miss")
	}
}

func TestMemoryCacheCopiesValues(t *testing.T) {
	cache := NewMemoryCache()
	ctx := context.Background()

	buf := []byte("original")
	if err := cache.Set(ctx, "k1", buf, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	buf[0] = 'X'

	value, ok, _ := cache.Get(ctx, "k1")
	if !ok || string(value) != "original" {
		t.Fatalf("stored value aliased the caller's buffer: %q", value)
	}
	value[0] = 'Y'
	again, _, _ := cache.Get(ctx, "k1")
	if string(again) != "original" {
		t.Fatalf("returned value aliased the entry: %q", again)
	}
}

func TestMemoryCacheLazyExpiry(t *testing.T) {
	cache := NewMemoryCache()
	ctx := context.Background()

	current := time.Now()
	cache.now = func() time.Time { return current }

	if err := cache.Set(ctx, "k1", []byte("v1"), time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, ok, _ := cache.Get(ctx, "k1"); !ok {
		t.Fatal("fresh entry must hit")
	}

	current = current.Add(2 * time.Minute)
	if _, ok, _ := cache.Get(ctx, "k1"); ok {
		t.Fatal("expired entry must miss")
	}
	if cache.Len() != 0 {
		t.Fatalf("expired entry must be dropped on Get, %d left", cache.Len())
	}
}

func TestMemoryCacheDeletePattern(t *testing.T) {
	cache := NewMemoryCache()
	ctx := context.Background()

	keys := []string{"user:permissions:a", "user:permissions:b", "other:x"}
	for _, key := range keys {
		if err := cache.Set(ctx, key, []byte("v"), time.Minute); err != nil {
			t.Fatalf("set %s: %v", key, err)
		}
	}
	if err := cache.DeletePattern(ctx, "user:permissions:"); err != nil {
		t.Fatalf("delete pattern: %v", err)
	}
	if cache.Len() != 1 {
		t.Fatalf("expected only the unrelated key to survive, %d left", cache.Len())
	}
	if _, ok, _ := cache.Get(ctx, "other:x"); !ok {
		t.Fatal("unrelated key must survive")
	}
}

func TestMemoryCacheCleanupExpired(t *testing.T) {
	cache := NewMemoryCache()
	ctx := context.Background()

	current := time.Now()
	cache.now = func() time.Time { return current }

	cache.Set(ctx, "short", []byte("v"), time.Second)
	cache.Set(ctx, "long", []byte("v"), time.Hour)

	current = current.Add(time.Minute)
	removed, err := cache.CleanupExpired(ctx)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}
	if cache.Len() != 1 {
		t.Fatalf("expected 1 entry left, got %d", cache.Len())
	}
}
