package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultMaxEntries bounds a MemoryStore when no limit is given.
const DefaultMaxEntries = 64

// Clock returns the current time. Tests inject a controllable clock.
type Clock func() time.Time

// Stats reports MemoryStore activity counters.
type Stats struct {
	Entries int
	Hits    uint64
	Misses  uint64
	Expired uint64
	Evicted uint64
}

// MemoryStore is a bounded in-memory Store.
//
// Freshness is checked on read; there is no background sweep. When the store
// is full, the oldest insertion is evicted.
type MemoryStore struct {
	mu         sync.RWMutex
	entries    map[string]*memoryEntry
	seq        uint64
	maxEntries int
	now        Clock

	hits    atomic.Uint64
	misses  atomic.Uint64
	expired atomic.Uint64
	evicted atomic.Uint64
}

type memoryEntry struct {
	entry Entry
	seq   uint64
}

// Option configures a MemoryStore.
type Option func(*MemoryStore)

// WithMaxEntries bounds the number of stored entries. Values <= 0 use DefaultMaxEntries.
func WithMaxEntries(n int) Option {
	return func(s *MemoryStore) {
		if n > 0 {
			s.maxEntries = n
		}
	}
}

// WithClock sets the time source used for CreatedAt and expiry checks.
func WithClock(now Clock) Option {
	return func(s *MemoryStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewMemoryStore creates an empty store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	s := &MemoryStore{
		entries:    make(map[string]*memoryEntry),
		maxEntries: DefaultMaxEntries,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get retrieves an entry. Returns (Entry{}, false) on miss or expiry.
func (s *MemoryStore) Get(_ context.Context, key Key) (Entry, bool) {
	id := key.String()

	s.mu.RLock()
	stored, ok := s.entries[id]
	s.mu.RUnlock()

	// The short digest may collide; the full key decides.
	if !ok || stored.entry.Key != key {
		s.misses.Add(1)
		return Entry{}, false
	}

	if stored.entry.Expired(s.now()) {
		// Expired - clean up lazily, unless a writer already replaced it
		s.mu.Lock()
		if current, ok := s.entries[id]; ok && current == stored {
			delete(s.entries, id)
		}
		s.mu.Unlock()
		s.expired.Add(1)
		s.misses.Add(1)
		return Entry{}, false
	}

	s.hits.Add(1)
	return stored.entry, true
}

// Put stores a result. TTL<=0 means no caching.
func (s *MemoryStore) Put(_ context.Context, key Key, result Result, ttl time.Duration, scope Scope) error {
	if ttl <= 0 {
		return nil
	}
	id := key.String()
	if err := ValidateKey(id); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	stored := &memoryEntry{
		entry: Entry{
			Key:       key,
			Result:    result,
			CreatedAt: s.now(),
			TTL:       ttl,
			Scope:     scope,
		},
		seq: s.seq,
	}

	if _, exists := s.entries[id]; !exists {
		for len(s.entries) >= s.maxEntries {
			s.evictOldestLocked()
		}
	}
	s.entries[id] = stored
	return nil
}

// Delete removes an entry. Idempotent - no error on miss.
func (s *MemoryStore) Delete(_ context.Context, key Key) error {
	s.mu.Lock()
	delete(s.entries, key.String())
	s.mu.Unlock()
	return nil
}

// EvictTurn removes every turn-scoped entry belonging to turn.
func (s *MemoryStore) EvictTurn(turn string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, stored := range s.entries {
		if stored.entry.Scope == ScopeTurn && stored.entry.Key.Turn == turn {
			delete(s.entries, id)
		}
	}
}

// EvictSession removes every entry belonging to session.
func (s *MemoryStore) EvictSession(session string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, stored := range s.entries {
		if stored.entry.Key.Session == session {
			delete(s.entries, id)
		}
	}
}

// Len returns the number of stored entries.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Stats returns a snapshot of the store counters.
func (s *MemoryStore) Stats() Stats {
	return Stats{
		Entries: s.Len(),
		Hits:    s.hits.Load(),
		Misses:  s.misses.Load(),
		Expired: s.expired.Load(),
		Evicted: s.evicted.Load(),
	}
}

func (s *MemoryStore) evictOldestLocked() {
	var (
		oldestID  string
		oldestSeq uint64
		found     bool
	)
	for id, stored := range s.entries {
		if !found || stored.seq < oldestSeq {
			oldestID, oldestSeq, found = id, stored.seq, true
		}
	}
	if !found {
		return
	}
	delete(s.entries, oldestID)
	s.evicted.Add(1)
}

// Ensure MemoryStore implements Store
var _ Store = (*MemoryStore)(nil)
