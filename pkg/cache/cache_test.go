package cache

import (
	"context"
	"sync"
	"testing"
	"time"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestCache(max int) (*Cache, *clock) {
	clk := &clock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := New(max)
	c.now = clk.now
	return c, clk
}

func TestSetGetAndExpire(t *testing.T) {
	c, clk := newTestCache(0)
	key := KeyFromStrings("unit", "expire")

	if _, ok := c.Get(key); ok {
		t.Fatalf("expected no value initially")
	}

	c.Set(key, "hello", 50*time.Millisecond)
	if v, ok := c.Get(key); !ok || v.(string) != "hello" {
		t.Fatalf("expected value 'hello', got %v ok=%v", v, ok)
	}

	clk.advance(80 * time.Millisecond)
	if _, ok := c.Get(key); ok {
		t.Fatalf("expected expired value to be gone")
	}
	if c.Len() != 0 {
		t.Fatalf("expected lazy delete, len=%d", c.Len())
	}
}

func TestNoExpiry(t *testing.T) {
	c, clk := newTestCache(0)
	c.Set("k", 1, 0)
	clk.advance(24 * time.Hour)
	if _, ok := c.Get("k"); !ok {
		t.Fatalf("ttl<=0 must never expire")
	}
}

func TestDelete(t *testing.T) {
	c, _ := newTestCache(0)
	key := KeyFromStrings("unit", "delete")
	c.Set(key, 42, time.Second)
	if v, ok := c.Get(key); !ok || v.(int) != 42 {
		t.Fatalf("expected 42 present before delete, got %v ok=%v", v, ok)
	}
	c.Delete(key)
	if _, ok := c.Get(key); ok {
		t.Fatalf("expected deleted value to be absent")
	}
}

func TestEvictsLeastRecentlyUsed(t *testing.T) {
	c, _ := newTestCache(2)
	c.Set("a", 1, time.Minute)
	c.Set("b", 2, time.Minute)
	c.Get("a") // b is now LRU
	c.Set("c", 3, time.Minute)

	if _, ok := c.Get("b"); ok {
		t.Fatalf("expected b to be evicted")
	}
	if _, ok := c.Get("a"); !ok {
		t.Fatalf("expected a to survive")
	}
	if _, ok := c.Get("c"); !ok {
		t.Fatalf("expected c to be present")
	}
	if c.Len() != 2 {
		t.Fatalf("expected 2 items, got %d", c.Len())
	}
}

func TestOverwriteKeepsSingleEntry(t *testing.T) {
	c, _ := newTestCache(2)
	c.Set("a", 1, time.Minute)
	c.Set("a", 2, time.Minute)
	if v, _ := c.Get("a"); v.(int) != 2 {
		t.Fatalf("expected overwritten value, got %v", v)
	}
	if c.Len() != 1 {
		t.Fatalf("expected 1 item, got %d", c.Len())
	}
}

func TestJanitorPurgesExpired(t *testing.T) {
	c, clk := newTestCache(0)
	c.Set("short", 1, time.Second)
	c.Set("long", 2, time.Hour)
	clk.advance(2 * time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.StartJanitor(ctx, 5*time.Millisecond)

	deadline := time.Now().Add(time.Second)
	for c.Len() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("janitor did not purge, len=%d", c.Len())
		}
		time.Sleep(5 * time.Millisecond)
	}
	if _, ok := c.Get("long"); !ok {
		t.Fatalf("unexpired item must survive the janitor")
	}
}

func TestKeyFromStringsStability(t *testing.T) {
	k1 := KeyFromStrings("a", "b", "c")
	k2 := KeyFromStrings("a", "b", "c")
	if k1 != k2 {
		t.Fatalf("expected same inputs to yield same key")
	}
	k3 := KeyFromStrings("a", "b", "d")
	if k1 == k3 {
		t.Fatalf("expected different inputs to yield different key")
	}
	if KeyFromStrings("ab", "c") == KeyFromStrings("a", "bc") {
		t.Fatalf("expected part boundaries to matter")
	}
}

func TestNilCacheIsInert(t *testing.T) {
	var c *Cache
	c.Set("k", 1, time.Second)
	if _, ok := c.Get("k"); ok {
		t.Fatalf("nil cache must not store values")
	}
	c.Delete("k")
}
