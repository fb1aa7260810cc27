package challenge

import (
	"fmt"
	"math/rand/v2"
	"sync"
	"testing"
	"time"
)

func mkRecord(key string, retention time.Duration, ctx any) Record {
	return Record{
		Key:       key,
		Random:    "rand-" + key,
		Context:   ctx,
		Retention: retention,
	}
}

func TestCacheAddGetRemove(t *testing.T) {
	c := NewCache()

	c.Add(mkRecord("abc0", 10*time.Second, map[string]string{"a": "rec0"}))
	c.Add(mkRecord("abc1", time.Minute, map[string]string{"a": "rec1"}))
	c.Add(mkRecord("abc2", time.Minute, map[string]string{"a": "rec2"}))

	got, ok := c.Get("abc2")
	if !ok {
		t.Fatal("abc2 should be cached")
	}
	if got.Context.(map[string]string)["a"] != "rec2" {
		t.Errorf("wrong context for abc2: %v", got.Context)
	}
	if got.CreatedAt.IsZero() {
		t.Error("Add did not stamp CreatedAt")
	}

	if _, ok := c.Remove("abc2"); !ok {
		t.Fatal("Remove should find abc2")
	}
	if _, ok := c.Get("abc2"); ok {
		t.Error("abc2 still visible after Remove")
	}
	if _, ok := c.Remove("abc2"); ok {
		t.Error("second Remove of abc2 should find nothing")
	}

	if n := c.Len(); n != 2 {
		t.Errorf("Len() = %d, want 2", n)
	}
}

func TestCacheOverwrite(t *testing.T) {
	c := NewCache()

	if _, replaced := c.Add(mkRecord("k", time.Minute, "first")); replaced {
		t.Fatal("first Add reported a replaced record")
	}

	old, replaced := c.Add(mkRecord("k", time.Minute, "second"))
	if !replaced {
		t.Fatal("second Add did not report the replaced record")
	}
	if old.Context != "first" {
		t.Errorf("replaced record context = %v, want first", old.Context)
	}

	got, ok := c.Get("k")
	if !ok || got.Context != "second" {
		t.Errorf("Get(k) = %v, %v; want second, true", got.Context, ok)
	}

	if n := c.Len(); n != 1 {
		t.Errorf("Len() = %d after overwrite, want 1", n)
	}
}

func TestCacheTakeOnlyMatchingIssuance(t *testing.T) {
	c := NewCache()

	c.Add(mkRecord("k", time.Minute, "first"))
	first, _ := c.Get("k")

	c.Add(mkRecord("k", time.Minute, "second"))

	if c.Take(first) {
		t.Fatal("Take removed a record that was re-issued after it was read")
	}

	second, _ := c.Get("k")
	if !c.Take(second) {
		t.Fatal("Take did not remove the current issuance")
	}
	if c.Take(second) {
		t.Fatal("Take succeeded twice for the same record")
	}
}

func TestCacheSweepExpired(t *testing.T) {
	c := NewCache()

	c.Add(mkRecord("abc0", 10*time.Second, "rec0"))
	c.Add(mkRecord("abc1", time.Minute, "rec1"))
	c.Add(mkRecord("abc2", time.Minute, "rec2"))
	c.Add(mkRecord("abc3", 10*time.Second, "rec3"))

	if got := c.SweepExpired(time.Now()); len(got) != 0 {
		t.Fatalf("nothing should be expired yet, got %d records", len(got))
	}

	if _, ok := c.Get("abc0"); !ok {
		t.Fatal("abc0 should still be visible before its retention ends")
	}

	obsolete := c.SweepExpired(time.Now().Add(11 * time.Second))
	if len(obsolete) != 2 {
		t.Fatalf("wanted 2 expired records, got %d", len(obsolete))
	}
	if obsolete[0].Context != "rec0" || obsolete[1].Context != "rec3" {
		t.Errorf("expired contexts out of insertion order: %v, %v", obsolete[0].Context, obsolete[1].Context)
	}

	for _, key := range []string{"abc0", "abc3"} {
		if _, ok := c.Get(key); ok {
			t.Errorf("%s still visible after sweep", key)
		}
	}
	for _, key := range []string{"abc1", "abc2"} {
		if _, ok := c.Get(key); !ok {
			t.Errorf("%s should survive the sweep", key)
		}
	}

	if again := c.SweepExpired(time.Now().Add(11 * time.Second)); len(again) != 0 {
		t.Errorf("records evicted twice: %d", len(again))
	}
}

func TestCacheExpiryBoundary(t *testing.T) {
	c := NewCache()
	c.Add(mkRecord("zero", 0, "ctx"))
	c.Add(mkRecord("negative", -time.Second, "ctx"))

	rec, _ := c.Get("negative")
	if rec.Retention != 0 {
		t.Errorf("negative retention should be clamped to 0, got %s", rec.Retention)
	}

	if got := c.SweepExpired(rec.ExpiresAt()); len(got) != 2 {
		t.Errorf("records with zero retention should expire at their creation time, got %d", len(got))
	}
}

func TestCacheSweepOrderAfterOverwrite(t *testing.T) {
	c := NewCache()

	c.Add(mkRecord("a", 0, "a1"))
	c.Add(mkRecord("b", 0, "b"))
	c.Add(mkRecord("a", 0, "a2"))

	got := c.SweepExpired(time.Now().Add(time.Second))
	if len(got) != 2 {
		t.Fatalf("wanted 2 records, got %d", len(got))
	}
	if got[0].Context != "b" || got[1].Context != "a2" {
		t.Errorf("overwritten record should sweep in its new position, got %v then %v", got[0].Context, got[1].Context)
	}
}

func TestCacheConcurrentAccess(t *testing.T) {
	const (
		workers = 16
		keys    = 64
		ops     = 500
	)

	c := NewCache()
	var (
		wg      sync.WaitGroup
		lock    sync.Mutex
		evicted = map[string]int{}
	)

	record := func(recs []Record) {
		lock.Lock()
		defer lock.Unlock()
		for _, rec := range recs {
			evicted[fmt.Sprintf("%s/%d", rec.Key, rec.gen)]++
		}
	}

	for w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rng := rand.New(rand.NewPCG(uint64(w), 42))

			for range ops {
				key := fmt.Sprintf("k%d", rng.IntN(keys))
				switch rng.IntN(5) {
				case 0:
					c.Add(mkRecord(key, time.Duration(rng.IntN(3))*time.Millisecond, key))
				case 1:
					if rec, ok := c.Get(key); ok && rec.Key != key {
						t.Errorf("Get(%s) returned record for %s", key, rec.Key)
					}
				case 2:
					if rec, ok := c.Remove(key); ok {
						record([]Record{rec})
					}
				case 3:
					if rec, ok := c.Get(key); ok && c.Take(rec) {
						record([]Record{rec})
					}
				case 4:
					record(c.SweepExpired(time.Now().Add(time.Millisecond)))
				}
			}
		}()
	}

	wg.Wait()
	record(c.SweepExpired(time.Now().Add(time.Hour)))

	for id, n := range evicted {
		if n != 1 {
			t.Errorf("record %s left the cache %d times", id, n)
		}
	}

	if n := c.Len(); n != 0 {
		t.Errorf("Len() = %d after final sweep, want 0", n)
	}
	if len(c.byKey) != 0 || c.order.Len() != 0 {
		t.Errorf("index and order list disagree: %d keys, %d list entries", len(c.byKey), c.order.Len())
	}
}

func TestRecordExpired(t *testing.T) {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rec := Record{CreatedAt: created, Retention: 10 * time.Second}

	for _, tt := range []struct {
		at   time.Duration
		want bool
	}{
		{0, false},
		{10*time.Second - time.Nanosecond, false},
		{10 * time.Second, true},
		{11 * time.Second, true},
	} {
		if got := rec.Expired(created.Add(tt.at)); got != tt.want {
			t.Errorf("Expired(created+%s) = %v, want %v", tt.at, got, tt.want)
		}
	}
}
