package embedding

import (
	"fmt"
	"sync"
	"testing"
)

func TestEmbeddingCache_LRU(t *testing.T) {
	c := NewEmbeddingCache(2)
	if v, ok := c.Get("치킨"); ok || v != nil {
		t.Fatal("expected miss")
	}
	c.Set("치킨", []float32{1, 2, 3})
	c.Set("갈비", []float32{4, 5})
	if _, ok := c.Get("치킨"); !ok {
		t.Fatal("expected hit")
	}
	c.Set("통닭", []float32{6}) // evicts 갈비, the least recently used
	if _, ok := c.Get("갈비"); ok {
		t.Error("expected 갈비 to be evicted")
	}
	if v, ok := c.Get("치킨"); !ok || v[0] != 1 {
		t.Errorf("치킨: got %v, %v", v, ok)
	}
	if c.Len() != 2 {
		t.Errorf("Len = %d, want 2", c.Len())
	}
}

func TestEmbeddingCache_SetReplaces(t *testing.T) {
	c := NewEmbeddingCache(2)
	c.Set("a", []float32{1})
	c.Set("a", []float32{2})
	if v, _ := c.Get("a"); len(v) != 1 || v[0] != 2 {
		t.Errorf("Get(a) = %v, want [2]", v)
	}
	if c.Len() != 1 {
		t.Errorf("Len = %d, want 1", c.Len())
	}
}

func TestEmbeddingCache_Stats(t *testing.T) {
	c := NewEmbeddingCache(4)
	c.Set("a", []float32{1})
	c.Get("a")
	c.Get("a")
	c.Get("b")
	got := c.Stats()
	want := CacheStats{Entries: 1, Capacity: 4, Hits: 2, Misses: 1}
	if got != want {
		t.Errorf("Stats() = %+v, want %+v", got, want)
	}
}

func TestEmbeddingCache_disabled(t *testing.T) {
	c := NewEmbeddingCache(0)
	c.Set("a", []float32{1})
	if _, ok := c.Get("a"); ok {
		t.Error("zero-capacity cache should never hit")
	}
	if s := c.Stats(); s.Entries != 0 || s.Misses != 1 {
		t.Errorf("Stats() = %+v", s)
	}
}

func TestEmbeddingCache_concurrent(t *testing.T) {
	c := NewEmbeddingCache(16)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				key := fmt.Sprintf("k%d", (g+i)%32)
				c.Set(key, []float32{float32(i)})
				c.Get(key)
			}
		}(g)
	}
	wg.Wait()
	if c.Len() > 16 {
		t.Errorf("Len = %d exceeds capacity", c.Len())
	}
	if s := c.Stats(); s.Hits+s.Misses != 800 {
		t.Errorf("hits+misses = %d, want 800", s.Hits+s.Misses)
	}
}
