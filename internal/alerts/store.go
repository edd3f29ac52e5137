// Package alerts persists push-notification registrations and scans the
// watched cities for severe weather.
package alerts

import (
	"context"
	"sync"
	"time"
)

// City is one watched location.
type City struct {
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
	Name string  `json:"name"`
}

// Subscription is one persisted push registration, upserted by token.
type Subscription struct {
	Token     string    `json:"token"`
	Cities    []City    `json:"cities"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Store is the persistence contract for alert subscriptions.
type Store interface {
	List(ctx context.Context) ([]Subscription, error)
	Upsert(ctx context.Context, sub Subscription) error
	DeleteByTokens(ctx context.Context, tokens []string) error
}

// MemoryStore is an in-memory Store for development and tests.
type MemoryStore struct {
	mu   sync.RWMutex
	subs map[string]Subscription
	now  func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		subs: make(map[string]Subscription),
		now:  time.Now,
	}
}

func (s *MemoryStore) List(ctx context.Context) ([]Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		out = append(out, sub)
	}
	return out, nil
}

func (s *MemoryStore) Upsert(ctx context.Context, sub Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	if existing, ok := s.subs[sub.Token]; ok {
		sub.CreatedAt = existing.CreatedAt
	} else {
		sub.CreatedAt = now
	}
	sub.UpdatedAt = now
	s.subs[sub.Token] = sub
	return nil
}

func (s *MemoryStore) DeleteByTokens(ctx context.Context, tokens []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range tokens {
		delete(s.subs, t)
	}
	return nil
}
