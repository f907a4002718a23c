package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

// fakeClock lets TTL tests advance time without sleeping.
type fakeClock struct{ t time.Time }

func (f *fakeClock) now() time.Time          { return f.t }
func (f *fakeClock) advance(d time.Duration) { f.t = f.t.Add(d) }

func newTestCache(maxSize int, ttl time.Duration) (*QueryCache[string], *fakeClock) {
	c := NewQueryCache[string](maxSize, ttl)
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	c.now = clock.now
	return c, clock
}

// =============================================================================
// Construction and keys
// =============================================================================

func TestNewQueryCache(t *testing.T) {
	t.Run("valid parameters", func(t *testing.T) {
		c := NewQueryCache[int](100, 5*time.Minute)
		if c.maxSize != 100 {
			t.Errorf("maxSize = %d, want 100", c.maxSize)
		}
		if c.ttl != 5*time.Minute {
			t.Errorf("ttl = %v, want 5m", c.ttl)
		}
		if !c.enabled {
			t.Error("cache should be enabled by default")
		}
	})

	t.Run("non-positive maxSize uses default", func(t *testing.T) {
		for _, size := range []int{0, -10} {
			if c := NewQueryCache[int](size, time.Minute); c.maxSize != DefaultMaxSize {
				t.Errorf("maxSize(%d) = %d, want %d", size, c.maxSize, DefaultMaxSize)
			}
		}
	})
}

func TestQueryCache_Key(t *testing.T) {
	c := NewQueryCache[int](10, 0)
	q := "SELECT * FROM <http://example.org/g> WHERE { ?s ?p ?o }"
	if c.Key(q) != c.Key(q) {
		t.Error("same query produced different keys")
	}
	if c.Key(q) == c.Key(q+" LIMIT 1") {
		t.Error("different queries produced same key")
	}
}

// =============================================================================
// Get / Put
// =============================================================================

func TestQueryCache_GetPut(t *testing.T) {
	t.Run("put and get", func(t *testing.T) {
		c, _ := newTestCache(10, 0)
		c.Put(1, "a")
		got, ok := c.Get(1)
		if !ok || got != "a" {
			t.Errorf("Get(1) = %q, %v; want a, true", got, ok)
		}
	})

	t.Run("get non-existent key", func(t *testing.T) {
		c, _ := newTestCache(10, 0)
		if got, ok := c.Get(42); ok || got != "" {
			t.Errorf("Get(42) = %q, %v; want zero, false", got, ok)
		}
	})

	t.Run("update existing key", func(t *testing.T) {
		c, _ := newTestCache(10, 0)
		c.Put(1, "a")
		c.Put(1, "b")
		if got, _ := c.Get(1); got != "b" {
			t.Errorf("Get(1) = %q, want b", got)
		}
		if c.Len() != 1 {
			t.Errorf("Len() = %d, want 1", c.Len())
		}
	})
}

func TestQueryCache_TTL(t *testing.T) {
	t.Run("entry expires after TTL", func(t *testing.T) {
		c, clock := newTestCache(10, time.Minute)
		c.Put(1, "a")
		clock.advance(61 * time.Second)
		if _, ok := c.Get(1); ok {
			t.Error("expired entry returned")
		}
		if c.Len() != 0 {
			t.Errorf("expired entry not removed, Len() = %d", c.Len())
		}
	})

	t.Run("zero TTL means no expiration", func(t *testing.T) {
		c, clock := newTestCache(10, 0)
		c.Put(1, "a")
		clock.advance(24 * time.Hour)
		if _, ok := c.Get(1); !ok {
			t.Error("entry expired with zero TTL")
		}
	})

	t.Run("update refreshes TTL", func(t *testing.T) {
		c, clock := newTestCache(10, time.Minute)
		c.Put(1, "a")
		clock.advance(40 * time.Second)
		c.Put(1, "b")
		clock.advance(40 * time.Second)
		if got, ok := c.Get(1); !ok || got != "b" {
			t.Errorf("Get(1) = %q, %v; want b, true", got, ok)
		}
	})
}

func TestQueryCache_LRUEviction(t *testing.T) {
	t.Run("evicts oldest when full", func(t *testing.T) {
		c, _ := newTestCache(3, 0)
		for i := uint64(1); i <= 4; i++ {
			c.Put(i, fmt.Sprint(i))
		}
		if _, ok := c.Get(1); ok {
			t.Error("oldest entry should have been evicted")
		}
		for i := uint64(2); i <= 4; i++ {
			if _, ok := c.Get(i); !ok {
				t.Errorf("entry %d missing", i)
			}
		}
	})

	t.Run("access promotes entry", func(t *testing.T) {
		c, _ := newTestCache(3, 0)
		c.Put(1, "1")
		c.Put(2, "2")
		c.Put(3, "3")
		c.Get(1)
		c.Put(4, "4")
		if _, ok := c.Get(1); !ok {
			t.Error("recently used entry was evicted")
		}
		if _, ok := c.Get(2); ok {
			t.Error("least recently used entry survived")
		}
	})
}

func TestQueryCache_RemoveClear(t *testing.T) {
	c, _ := newTestCache(10, 0)
	c.Put(1, "a")
	c.Put(2, "b")
	c.Remove(1)
	if _, ok := c.Get(1); ok {
		t.Error("removed entry returned")
	}
	c.Remove(99)
	c.Clear()
	if c.Len() != 0 {
		t.Errorf("Len() after Clear = %d", c.Len())
	}
}

func TestQueryCache_Stats(t *testing.T) {
	c, _ := newTestCache(10, 0)
	if s := c.Stats(); s.HitRate != 0 {
		t.Errorf("HitRate with no lookups = %v, want 0", s.HitRate)
	}
	c.Put(1, "a")
	c.Get(1)
	c.Get(1)
	c.Get(1)
	c.Get(2)

	s := c.Stats()
	if s.Hits != 3 || s.Misses != 1 {
		t.Errorf("hits/misses = %d/%d, want 3/1", s.Hits, s.Misses)
	}
	if s.HitRate != 75 {
		t.Errorf("HitRate = %v, want 75", s.HitRate)
	}
	if s.Size != 1 || s.MaxSize != 10 {
		t.Errorf("Size/MaxSize = %d/%d, want 1/10", s.Size, s.MaxSize)
	}
}

func TestQueryCache_SetEnabled(t *testing.T) {
	c, _ := newTestCache(10, 0)
	c.Put(1, "a")

	c.SetEnabled(false)
	if c.Len() != 0 {
		t.Error("disabling should clear the cache")
	}
	c.Put(2, "b")
	if _, ok := c.Get(2); ok {
		t.Error("disabled cache returned a hit")
	}

	c.SetEnabled(true)
	c.Put(3, "c")
	if _, ok := c.Get(3); !ok {
		t.Error("re-enabled cache missed")
	}
}

func TestQueryCache_Concurrent(t *testing.T) {
	c := NewQueryCache[int](64, time.Minute)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				key := uint64((w*31 + i) % 100)
				c.Put(key, i)
				c.Get(key)
			}
		}(w)
	}
	wg.Wait()
	if c.Len() > 64 {
		t.Errorf("Len() = %d exceeds maxSize", c.Len())
	}
}
