package cache

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"lunnar/pkg/keymatch"
)

// DefaultTTL is applied by Set when no positive ttl is given.
const DefaultTTL = 5 * time.Minute

// Entry is a snapshot of a cached value and its timing metadata.
type Entry struct {
	Value     any           `json:"value"`
	StoredAt  time.Time     `json:"stored_at"`
	TTL       time.Duration `json:"ttl"`
	ExpiresAt time.Time     `json:"expires_at"`
}

type entry struct {
	value    any
	storedAt time.Time
	ttl      time.Duration
}

// expired reports whether the entry's age exceeds its ttl. An entry whose age
// equals its ttl is still valid.
func (e *entry) expired(now time.Time) bool {
	return now.Sub(e.storedAt) > e.ttl
}

func (e *entry) snapshot() Entry {
	return Entry{
		Value:     e.value,
		StoredAt:  e.storedAt,
		TTL:       e.ttl,
		ExpiresAt: e.storedAt.Add(e.ttl),
	}
}

// Stats reports lookup counters since creation or the last Clear.
type Stats struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

// HitRate returns hits/(hits+misses), or 0 when there were no lookups.
func HitRate(hits, misses int64) float64 {
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

// Store is a thread-safe key→value map with per-entry TTL.
//
// Expired entries are removed lazily when read and in bulk by Sweep. There is
// no size bound; callers that cache unbounded key sets must invalidate.
//
// Trade-offs:
//   - One RWMutex guards the map; lookups of live keys take only the read lock.
//   - Hit/miss counters are atomics so Stats never blocks writers.
type Store struct {
	mu         sync.RWMutex
	entries    map[string]*entry
	defaultTTL time.Duration
	now        func() time.Time

	hits   atomic.Int64
	misses atomic.Int64
}

// NewStore creates an empty store. A non-positive defaultTTL falls back to
// DefaultTTL; a nil clock uses time.Now.
func NewStore(defaultTTL time.Duration, now func() time.Time) *Store {
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}
	if now == nil {
		now = time.Now
	}
	return &Store{
		entries:    make(map[string]*entry),
		defaultTTL: defaultTTL,
		now:        now,
	}
}

// Get returns the value for key and records a hit, or records a miss when the
// key is absent or expired. Expired entries are purged on this path.
// Complexity: O(1) average.
func (s *Store) Get(key string) (any, bool) {
	e, ok := s.GetEntry(key)
	if !ok {
		return nil, false
	}
	return e.Value, true
}

// GetEntry is Get returning the entry metadata as well.
func (s *Store) GetEntry(key string) (Entry, bool) {
	now := s.now()

	s.mu.RLock()
	e, exists := s.entries[key]
	s.mu.RUnlock()

	if !exists {
		s.misses.Add(1)
		return Entry{}, false
	}

	if e.expired(now) {
		s.mu.Lock()
		// Only purge if nobody replaced the entry in between.
		if cur, ok := s.entries[key]; ok && cur == e {
			delete(s.entries, key)
		}
		s.mu.Unlock()
		s.misses.Add(1)
		return Entry{}, false
	}

	s.hits.Add(1)
	return e.snapshot(), true
}

// peek returns a live entry without touching the counters.
func (s *Store) peek(key string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[key]
	if !ok || e.expired(s.now()) {
		return Entry{}, false
	}
	return e.snapshot(), true
}

// Set inserts or overwrites key, stamping it with the current time.
// A non-positive ttl uses the store's default.
func (s *Store) Set(key string, value any, ttl time.Duration) Entry {
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	e := &entry{value: value, storedAt: s.now(), ttl: ttl}

	s.mu.Lock()
	s.entries[key] = e
	s.mu.Unlock()

	return e.snapshot()
}

// Invalidate removes key unconditionally. It reports whether the key existed.
func (s *Store) Invalidate(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[key]; !ok {
		return false
	}
	delete(s.entries, key)
	return true
}

// InvalidatePattern removes every key matching pattern and returns how many
// were removed.
// Complexity: O(n) in the number of stored keys.
func (s *Store) InvalidatePattern(pattern string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key := range s.entries {
		ok, err := keymatch.Match(pattern, key)
		if err != nil {
			return removed, err
		}
		if ok {
			delete(s.entries, key)
			removed++
		}
	}
	return removed, nil
}

// Clear removes all entries and resets the hit/miss counters.
func (s *Store) Clear() {
	s.mu.Lock()
	s.entries = make(map[string]*entry)
	s.mu.Unlock()

	s.hits.Store(0)
	s.misses.Store(0)
}

// Sweep removes every entry expired as of now and returns how many were removed.
func (s *Store) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, e := range s.entries {
		if e.expired(now) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}

// Stats returns the current hit/miss counters and hit rate.
func (s *Store) Stats() Stats {
	hits := s.hits.Load()
	misses := s.misses.Load()
	return Stats{Hits: hits, Misses: misses, HitRate: HitRate(hits, misses)}
}

// Len returns the number of stored entries, including expired ones not yet swept.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Keys returns the stored keys in sorted order.
func (s *Store) Keys() []string {
	s.mu.RLock()
	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	s.mu.RUnlock()

	sort.Strings(keys)
	return keys
}
