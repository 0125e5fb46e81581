package counter

import (
	"context"
	"sync"
	"time"
)

// memoryEntry is one fixed-window counter. evicted marks entries removed
// by a sweep so that a racing increment re-creates the key instead of
// counting into a dead record.
type memoryEntry struct {
	mu        sync.Mutex
	count     int64
	windowEnd time.Time
	evicted   bool
}

// MemoryStore is the in-process counter store. Entries live in a sync.Map
// with per-entry locks so a sweep never blocks increments on other keys.
type MemoryStore struct {
	nowFn   func() time.Time
	entries sync.Map
}

// NewMemoryStore constructs a MemoryStore. nowFn defaults to time.Now.
func NewMemoryStore(nowFn func() time.Time) *MemoryStore {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &MemoryStore{nowFn: nowFn}
}

// Increment counts one request against key in its current window.
func (s *MemoryStore) Increment(_ context.Context, key string, window time.Duration) (Result, error) {
	if window <= 0 {
		window = time.Second
	}
	now := s.nowFn()

	for {
		v, _ := s.entries.LoadOrStore(key, &memoryEntry{})
		entry := v.(*memoryEntry)

		entry.mu.Lock()
		if entry.evicted {
			entry.mu.Unlock()
			s.releaseEvicted(key, v)
			continue
		}
		if entry.windowEnd.IsZero() || !now.Before(entry.windowEnd) {
			entry.count = 1
			entry.windowEnd = now.Add(window)
		} else {
			entry.count++
		}
		res := Result{Count: entry.count, TTL: entry.windowEnd.Sub(now)}
		entry.mu.Unlock()
		return res, nil
	}
}

// releaseEvicted removes an evicted entry from the map. Only the exact
// entry the caller loaded is removed: a plain Delete here could tear down
// a fresh counter another goroutine has already stored under the key,
// dropping its counts.
func (s *MemoryStore) releaseEvicted(key string, v any) {
	s.entries.CompareAndDelete(key, v)
}

// Sweep removes up to max expired entries and reports how many were
// evicted. Callers run it on a timer; it never touches live windows.
func (s *MemoryStore) Sweep(max int) int {
	if max <= 0 {
		max = 256
	}
	now := s.nowFn()
	evicted := 0
	s.entries.Range(func(k, v any) bool {
		entry := v.(*memoryEntry)
		entry.mu.Lock()
		expired := !entry.windowEnd.IsZero() && !now.Before(entry.windowEnd)
		if expired {
			entry.evicted = true
		}
		entry.mu.Unlock()
		if expired {
			s.releaseEvicted(k.(string), v)
			evicted++
		}
		return evicted < max
	})
	return evicted
}

// Len reports the number of tracked keys, expired or not.
func (s *MemoryStore) Len() int {
	n := 0
	s.entries.Range(func(any, any) bool {
		n++
		return true
	})
	return n
}

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }
