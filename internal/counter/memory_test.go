package counter

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestMemoryIncrementWindow(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	store := NewMemoryStore(func() time.Time { return now })
	ctx := context.Background()

	res, errIncr := store.Increment(ctx, "global:a", time.Minute)
	if errIncr != nil {
		t.Fatalf("expected no error, got %v", errIncr)
	}
	if res.Count != 1 || res.TTL != time.Minute {
		t.Fatalf("expected count=1 ttl=1m, got count=%d ttl=%s", res.Count, res.TTL)
	}

	now = now.Add(30 * time.Second)
	res, _ = store.Increment(ctx, "global:a", time.Minute)
	if res.Count != 2 || res.TTL != 30*time.Second {
		t.Fatalf("expected count=2 ttl=30s, got count=%d ttl=%s", res.Count, res.TTL)
	}
}

func TestMemoryWindowReset(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	store := NewMemoryStore(func() time.Time { return now })
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, errIncr := store.Increment(ctx, "k", time.Minute); errIncr != nil {
			t.Fatalf("expected no error, got %v", errIncr)
		}
	}

	now = now.Add(61 * time.Second)
	res, _ := store.Increment(ctx, "k", time.Minute)
	if res.Count != 1 {
		t.Fatalf("expected fresh window count=1, got %d", res.Count)
	}
	if res.TTL != time.Minute {
		t.Fatalf("expected fresh window ttl=1m, got %s", res.TTL)
	}
}

func TestMemoryKeysIndependent(t *testing.T) {
	store := NewMemoryStore(nil)
	ctx := context.Background()

	resA, _ := store.Increment(ctx, "global:a", time.Minute)
	resB, _ := store.Increment(ctx, "global:b", time.Minute)
	if resA.Count != 1 || resB.Count != 1 {
		t.Fatalf("expected independent counters, got a=%d b=%d", resA.Count, resB.Count)
	}
}

func TestMemoryConcurrentIncrementsNeverUndercount(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	store := NewMemoryStore(func() time.Time { return now })
	ctx := context.Background()

	const workers = 32
	const perWorker = 50

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				if _, errIncr := store.Increment(ctx, "hot", time.Hour); errIncr != nil {
					t.Errorf("increment failed: %v", errIncr)
					return
				}
			}
		}()
	}
	wg.Wait()

	res, _ := store.Increment(ctx, "hot", time.Hour)
	if res.Count != workers*perWorker+1 {
		t.Fatalf("expected count=%d, got %d", workers*perWorker+1, res.Count)
	}
}

func TestMemorySweepEvictsOnlyExpired(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	store := NewMemoryStore(func() time.Time { return now })
	ctx := context.Background()

	store.Increment(ctx, "short", time.Second)
	store.Increment(ctx, "long", time.Hour)

	now = now.Add(2 * time.Second)
	if evicted := store.Sweep(100); evicted != 1 {
		t.Fatalf("expected 1 evicted, got %d", evicted)
	}
	if store.Len() != 1 {
		t.Fatalf("expected 1 live key, got %d", store.Len())
	}

	// The evicted key starts a fresh window on the next request.
	res, _ := store.Increment(ctx, "short", time.Second)
	if res.Count != 1 {
		t.Fatalf("expected recreated counter count=1, got %d", res.Count)
	}
}

func TestMemoryStaleEvictionNeverRemovesFreshCounter(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	store := NewMemoryStore(func() time.Time { return now })
	ctx := context.Background()

	store.Increment(ctx, "k", time.Second)

	// A request goroutine loads the entry, then stalls while the window
	// expires and the sweep evicts it.
	stale, _ := store.entries.Load("k")
	now = now.Add(2 * time.Second)
	if evicted := store.Sweep(10); evicted != 1 {
		t.Fatalf("expected 1 evicted, got %d", evicted)
	}

	// Meanwhile fresh requests recreate the key and count into it.
	store.Increment(ctx, "k", time.Minute)
	store.Increment(ctx, "k", time.Minute)

	// The stalled goroutine resumes its eviction cleanup. It must only
	// remove the entry it loaded, never the recreated live counter.
	store.releaseEvicted("k", stale)

	res, _ := store.Increment(ctx, "k", time.Minute)
	if res.Count != 3 {
		t.Fatalf("expected count=3 after stale cleanup, got %d", res.Count)
	}
}

func TestMemorySweepDuringIncrements(t *testing.T) {
	store := NewMemoryStore(nil)
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			store.Increment(ctx, "live", time.Hour)
		}
	}()
	for i := 0; i < 20; i++ {
		store.Sweep(64)
	}
	<-done

	res, _ := store.Increment(ctx, "live", time.Hour)
	if res.Count != 201 {
		t.Fatalf("expected count=201 after concurrent sweeps, got %d", res.Count)
	}
}
