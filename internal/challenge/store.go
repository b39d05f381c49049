// Package challenge tracks in-flight signing ceremonies: an unsigned
// envelope handed to a wallet, waiting for the signed copy to come back.
package challenge

import (
	"sync"
	"time"

	clierr "github.com/dev-tnsq/verbex/internal/errors"
	"github.com/dev-tnsq/verbex/internal/model"
)

// DefaultTTL bounds how long a wallet has to return a signature before the
// ceremony is forgotten.
const DefaultTTL = 15 * time.Minute

// Store correlates a NEEDS_SIGNATURE outcome with the later signed-envelope
// submission. Take is one-shot: a ceremony can be redeemed exactly once.
type Store interface {
	Put(env model.PendingEnvelope)
	Take(id string) (model.PendingEnvelope, error)
	SweepExpired() int
}

type entry struct {
	env     model.PendingEnvelope
	expires time.Time
}

// MemoryStore is a mutex-guarded TTL map. Ceremonies are short-lived so
// they never need to survive a restart; durable deferred envelopes go to
// the pending store instead.
type MemoryStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]entry
	now     func() time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{
		ttl:     ttl,
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

func (s *MemoryStore) Put(env model.PendingEnvelope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[env.ID] = entry{env: env, expires: s.now().Add(s.ttl)}
}

func (s *MemoryStore) Take(id string) (model.PendingEnvelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return model.PendingEnvelope{}, clierr.New(clierr.CodeUsage, "unknown or already-completed signing ceremony: "+id)
	}
	delete(s.entries, id)
	if s.now().After(e.expires) {
		return model.PendingEnvelope{}, clierr.New(clierr.CodeStale, "signing ceremony expired: "+id)
	}
	return e.env, nil
}

// SweepExpired drops expired ceremonies and reports how many were removed.
func (s *MemoryStore) SweepExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	removed := 0
	for id, e := range s.entries {
		if now.After(e.expires) {
			delete(s.entries, id)
			removed++
		}
	}
	return removed
}
