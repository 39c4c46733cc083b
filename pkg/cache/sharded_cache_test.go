package cache

import (
	"fmt"
	"sync"
	"testing"
)

func TestShardedSetGetDelete(t *testing.T) {
	c := NewSharded[int]()

	if _, ok := c.Get("BTCUSDT"); ok {
		t.Fatalf("empty cache returned a value")
	}
	c.Set("BTCUSDT", 3)
	c.Set("ETHUSDT", 2)

	if v, ok := c.Get("BTCUSDT"); !ok || v != 3 {
		t.Fatalf("Get(BTCUSDT)=%v,%v", v, ok)
	}
	if _, age, ok := c.GetWithAge("ETHUSDT"); !ok || age < 0 {
		t.Fatalf("GetWithAge failed: age=%v ok=%v", age, ok)
	}
	c.Delete("BTCUSDT")
	if c.Len() != 1 {
		t.Fatalf("Len=%d, expected 1", c.Len())
	}
	if snap := c.Snapshot(); snap["ETHUSDT"] != 2 || len(snap) != 1 {
		t.Fatalf("unexpected snapshot %v", snap)
	}
}

func TestShardedConcurrentWriters(t *testing.T) {
	c := NewSharded[string]()
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("SYM%dUSDT", i)
			c.Set(key, key)
			_, _ = c.Get(key)
		}(i)
	}
	wg.Wait()
	if c.Len() != 64 {
		t.Fatalf("Len=%d, expected 64", c.Len())
	}
}
