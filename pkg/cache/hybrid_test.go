package cache

import (
	"bytes"
	"fmt"
	"testing"
	"time"

	"github.com/orneryd/joernmcp/pkg/query"
)

func cheap() query.Complexity {
	return query.Estimate("cpg.method.l")
}

func costly() query.Complexity {
	return query.Estimate("sinks.reachableBy(sources).flows.repeat(((x)))" +
		string(bytes.Repeat([]byte{'a'}, 400)))
}

// ============================================================================
// KEYING
// ============================================================================

func TestKey(t *testing.T) {
	t.Run("whitespace variants share a key", func(t *testing.T) {
		a := Key("cpg.method\n  .name\t.l")
		b := Key("cpg.method .name .l")
		if a != b {
			t.Errorf("keys differ: %d vs %d", a, b)
		}
	})

	t.Run("different queries get different keys", func(t *testing.T) {
		if Key("cpg.method.l") == Key("cpg.call.l") {
			t.Error("distinct queries should not collide")
		}
	})
}

// ============================================================================
// TIER PLACEMENT
// ============================================================================

func TestTierPlacement(t *testing.T) {
	t.Run("cheap query lands hot", func(t *testing.T) {
		c := New(Options{})
		c.Put(1, []byte("result"), cheap())

		s := c.Stats()
		if s.HotSize != 1 || s.ColdSize != 0 {
			t.Errorf("hot=%d cold=%d, want 1/0", s.HotSize, s.ColdSize)
		}
	})

	t.Run("costly query lands cold", func(t *testing.T) {
		c := New(Options{})
		c.Put(1, []byte("result"), costly())

		s := c.Stats()
		if s.HotSize != 0 || s.ColdSize != 1 {
			t.Errorf("hot=%d cold=%d, want 0/1", s.HotSize, s.ColdSize)
		}
	})

	t.Run("large value lands cold compressed regardless of complexity", func(t *testing.T) {
		c := New(Options{CompressMin: 64})
		big := bytes.Repeat([]byte("abcdefgh"), 100)
		c.Put(1, big, cheap())

		s := c.Stats()
		if s.ColdSize != 1 {
			t.Errorf("ColdSize = %d, want 1", s.ColdSize)
		}
		if s.Compressed != 1 {
			t.Errorf("Compressed = %d, want 1", s.Compressed)
		}

		got, ok := c.Get(1)
		if !ok {
			t.Fatal("expected hit")
		}
		if !bytes.Equal(got, big) {
			t.Error("round-trip through compression lost data")
		}
	})

	t.Run("overwrite leaves the key in exactly one tier", func(t *testing.T) {
		c := New(Options{})
		c.Put(1, []byte("v1"), cheap())
		c.Put(1, []byte("v2"), costly())

		s := c.Stats()
		if s.HotSize+s.ColdSize != 1 {
			t.Errorf("entry count = %d, want 1", s.HotSize+s.ColdSize)
		}
		got, _ := c.Get(1)
		if string(got) != "v2" {
			t.Errorf("Get = %q, want v2", got)
		}
	})
}

// ============================================================================
// HIT / MISS / EXPIRY
// ============================================================================

func TestGetPaths(t *testing.T) {
	t.Run("miss on absent key", func(t *testing.T) {
		c := New(Options{})
		if _, ok := c.Get(99); ok {
			t.Error("expected miss")
		}
		if s := c.Stats(); s.Misses != 1 {
			t.Errorf("Misses = %d, want 1", s.Misses)
		}
	})

	t.Run("hot hit returns stored bytes", func(t *testing.T) {
		c := New(Options{})
		c.Put(1, []byte("hello"), cheap())

		got, ok := c.Get(1)
		if !ok || string(got) != "hello" {
			t.Errorf("Get = %q, %v", got, ok)
		}
		if s := c.Stats(); s.Hits != 1 {
			t.Errorf("Hits = %d, want 1", s.Hits)
		}
	})

	t.Run("expired cold entry is a miss and gets deleted", func(t *testing.T) {
		c := New(Options{TTL: 10 * time.Millisecond})
		c.Put(1, []byte("stale"), costly())

		time.Sleep(25 * time.Millisecond)

		if _, ok := c.Get(1); ok {
			t.Error("expected expired entry to miss")
		}
		if s := c.Stats(); s.ColdSize != 0 {
			t.Errorf("ColdSize = %d after expiry, want 0", s.ColdSize)
		}
	})

	t.Run("hit rate reflects lookups", func(t *testing.T) {
		c := New(Options{})
		c.Put(1, []byte("x"), cheap())
		c.Get(1)
		c.Get(2)

		s := c.Stats()
		if s.HitRate != 50.0 {
			t.Errorf("HitRate = %.1f, want 50.0", s.HitRate)
		}
	})
}

// ============================================================================
// PROMOTION / DEMOTION / EVICTION
// ============================================================================

func TestPromotion(t *testing.T) {
	t.Run("cold entry promotes after threshold accesses", func(t *testing.T) {
		c := New(Options{PromoteThreshold: 3})
		c.Put(1, []byte("warm"), costly())

		for i := 0; i < 3; i++ {
			if _, ok := c.Get(1); !ok {
				t.Fatalf("Get %d missed", i)
			}
		}

		s := c.Stats()
		if s.Promotions != 1 {
			t.Errorf("Promotions = %d, want 1", s.Promotions)
		}
		if s.HotSize != 1 || s.ColdSize != 0 {
			t.Errorf("hot=%d cold=%d after promotion, want 1/0", s.HotSize, s.ColdSize)
		}
	})

	t.Run("compressed entry is raw after promotion", func(t *testing.T) {
		c := New(Options{CompressMin: 32, PromoteThreshold: 2})
		big := bytes.Repeat([]byte("pattern!"), 64)
		c.Put(1, big, costly())

		c.Get(1)
		got, ok := c.Get(1) // promotion happens here
		if !ok || !bytes.Equal(got, big) {
			t.Fatal("promoted entry corrupted")
		}
		s := c.Stats()
		if s.HotSize != 1 {
			t.Errorf("HotSize = %d, want 1", s.HotSize)
		}
		if s.Compressed != 0 {
			t.Errorf("Compressed = %d after promotion, want 0", s.Compressed)
		}
	})

	t.Run("full hot tier demotes LRU to cold", func(t *testing.T) {
		c := New(Options{HotSize: 2})
		c.Put(1, []byte("a"), cheap())
		c.Put(2, []byte("b"), cheap())
		c.Get(1) // make key 2 the LRU
		c.Put(3, []byte("c"), cheap())

		s := c.Stats()
		if s.HotSize != 2 || s.ColdSize != 1 {
			t.Errorf("hot=%d cold=%d, want 2/1", s.HotSize, s.ColdSize)
		}
		if s.Demotions != 1 {
			t.Errorf("Demotions = %d, want 1", s.Demotions)
		}
		// Demoted entry must still be readable.
		if got, ok := c.Get(2); !ok || string(got) != "b" {
			t.Errorf("demoted Get = %q, %v", got, ok)
		}
	})
}

func TestColdEviction(t *testing.T) {
	t.Run("over-capacity cold tier evicts least recently used", func(t *testing.T) {
		c := New(Options{ColdSize: 3})
		for i := uint64(1); i <= 4; i++ {
			c.Put(i, []byte(fmt.Sprintf("v%d", i)), costly())
		}

		s := c.Stats()
		if s.ColdSize != 3 {
			t.Errorf("ColdSize = %d, want 3", s.ColdSize)
		}
		if _, ok := c.Get(1); ok {
			t.Error("oldest entry should have been evicted")
		}
		if _, ok := c.Get(4); !ok {
			t.Error("newest entry should survive")
		}
	})

	t.Run("cold hit refreshes recency without promoting", func(t *testing.T) {
		c := New(Options{ColdSize: 2, PromoteThreshold: 3})
		c.Put(1, []byte("a"), costly())
		c.Put(2, []byte("b"), costly())

		// One access keeps key 1 cold but makes key 2 the LRU.
		if _, ok := c.Get(1); !ok {
			t.Fatal("cold Get missed")
		}
		c.Put(3, []byte("c"), costly())

		s := c.Stats()
		if s.Promotions != 0 {
			t.Errorf("Promotions = %d, want 0", s.Promotions)
		}
		if _, ok := c.Get(2); ok {
			t.Error("least recently used entry should have been evicted")
		}
		if got, ok := c.Get(1); !ok || string(got) != "a" {
			t.Errorf("recently used entry lost: %q, %v", got, ok)
		}
	})

	t.Run("expired entries evicted before live ones", func(t *testing.T) {
		c := New(Options{ColdSize: 2, TTL: 15 * time.Millisecond})
		c.Put(1, []byte("old"), costly())
		time.Sleep(30 * time.Millisecond)
		c.Put(2, []byte("live"), costly())
		c.Put(3, []byte("new"), costly())

		if _, ok := c.Get(2); !ok {
			t.Error("live entry lost while an expired one was available to evict")
		}
	})
}

// ============================================================================
// MAINTENANCE
// ============================================================================

func TestMaintenance(t *testing.T) {
	t.Run("SweepExpired drops only expired entries", func(t *testing.T) {
		c := New(Options{TTL: 20 * time.Millisecond})
		c.Put(1, []byte("short"), costly())
		time.Sleep(40 * time.Millisecond)
		c.Put(2, []byte("fresh"), costly())

		if n := c.SweepExpired(); n != 1 {
			t.Errorf("SweepExpired = %d, want 1", n)
		}
		if _, ok := c.Get(2); !ok {
			t.Error("fresh entry swept")
		}
	})

	t.Run("Clear empties both tiers but keeps counters", func(t *testing.T) {
		c := New(Options{})
		c.Put(1, []byte("a"), cheap())
		c.Put(2, []byte("b"), costly())
		c.Get(1)
		c.Clear()

		s := c.Stats()
		if s.HotSize != 0 || s.ColdSize != 0 {
			t.Errorf("hot=%d cold=%d after Clear, want 0/0", s.HotSize, s.ColdSize)
		}
		if s.Hits != 1 {
			t.Errorf("Hits = %d, counters should survive Clear", s.Hits)
		}
	})

	t.Run("disabled cache misses and drops writes", func(t *testing.T) {
		c := New(Options{})
		c.Put(1, []byte("a"), cheap())
		c.SetEnabled(false)

		if _, ok := c.Get(1); ok {
			t.Error("disabled cache should miss")
		}
		c.Put(2, []byte("b"), cheap())
		c.SetEnabled(true)
		if _, ok := c.Get(2); ok {
			t.Error("write while disabled should not be stored")
		}
	})
}

// ============================================================================
// CONCURRENCY
// ============================================================================

func TestConcurrentAccess(t *testing.T) {
	c := New(Options{HotSize: 8, ColdSize: 32})
	done := make(chan struct{})

	for g := 0; g < 8; g++ {
		go func(g int) {
			defer func() { done <- struct{}{} }()
			for i := 0; i < 200; i++ {
				k := uint64(g*10 + i%10)
				if i%3 == 0 {
					c.Put(k, []byte("payload"), cheap())
				} else {
					c.Get(k)
				}
			}
		}(g)
	}
	for g := 0; g < 8; g++ {
		<-done
	}

	s := c.Stats()
	if s.HotSize > 8 {
		t.Errorf("HotSize = %d exceeds capacity", s.HotSize)
	}
	if s.ColdSize > 32 {
		t.Errorf("ColdSize = %d exceeds capacity", s.ColdSize)
	}
}
