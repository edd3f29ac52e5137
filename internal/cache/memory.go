package cache

import (
	"sync"
	"time"
)

type entry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryStore is a concurrency-safe in-memory Store with per-entry TTL.
// Expiry is lazy: an entry past its deadline is treated as absent on read
// and removed by the read that observes it. There is no background sweep.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]entry

	// now is injectable so TTL behaviour can be tested with a fake clock.
	now func() time.Time
}

// NewMemoryStore creates an empty MemoryStore using the wall clock.
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithClock(time.Now)
}

// NewMemoryStoreWithClock creates a MemoryStore reading time from now.
func NewMemoryStoreWithClock(now func() time.Time) *MemoryStore {
	return &MemoryStore{
		data: make(map[string]entry),
		now:  now,
	}
}

func (s *MemoryStore) Get(key string) ([]byte, bool) {
	s.mu.RLock()
	e, ok := s.data[key]
	s.mu.RUnlock()

	if !ok {
		return nil, false
	}
	if s.now().After(e.expiresAt) {
		s.evict(key, e.expiresAt)
		return nil, false
	}
	return e.value, true
}

func (s *MemoryStore) Set(key string, value []byte, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = entry{
		value:     value,
		expiresAt: s.now().Add(ttl),
	}
}

func (s *MemoryStore) Has(key string) bool {
	_, ok := s.Get(key)
	return ok
}

func (s *MemoryStore) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
}

// evict removes key only if it still holds the same stale entry, so a
// concurrent Set between the read and the eviction is never clobbered.
func (s *MemoryStore) evict(key string, expiresAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.data[key]; ok && e.expiresAt.Equal(expiresAt) {
		delete(s.data, key)
	}
}
