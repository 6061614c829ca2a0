// Package cache provides session cache implementations for single-node
// deployments. Multi-node deployments should use the redis subpackage so
// eviction reaches every node.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/sunbeamfin/beacon/domain"
)

// MemorySessionStore caches sessions in process memory using ttlcache.
// A reverse index maps session ids to cache keys so revocation can evict
// without knowing the token value.
type MemorySessionStore struct {
	cache *ttlcache.Cache[string, *domain.Session]
	ttl   time.Duration

	mu    sync.Mutex
	bySID map[string]string
}

// NewMemorySessionStore creates an in-memory session store. The ttl bounds
// how stale a cached session can get; entries also expire when the session
// itself does, whichever comes first.
func NewMemorySessionStore(ttl time.Duration) *MemorySessionStore {
	s := &MemorySessionStore{
		ttl:   ttl,
		bySID: make(map[string]string),
	}

	s.cache = ttlcache.New(
		ttlcache.WithTTL[string, *domain.Session](ttl),
		ttlcache.WithDisableTouchOnHit[string, *domain.Session](),
	)
	s.cache.OnEviction(func(_ context.Context, _ ttlcache.EvictionReason, item *ttlcache.Item[string, *domain.Session]) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.bySID[item.Value().ID] == item.Key() {
			delete(s.bySID, item.Value().ID)
		}
	})

	go s.cache.Start()

	return s
}

// Set implements SessionStore.Set.
func (s *MemorySessionStore) Set(_ context.Context, tokenHash string, session *domain.Session) error {
	ttl := s.ttl
	if until := time.Until(session.ExpiresAt); until < ttl {
		ttl = until
	}
	if ttl <= 0 {
		return nil
	}

	s.mu.Lock()
	s.bySID[session.ID] = tokenHash
	s.mu.Unlock()

	s.cache.Set(tokenHash, session, ttl)
	return nil
}

// Get implements SessionStore.Get.
func (s *MemorySessionStore) Get(_ context.Context, tokenHash string) (*domain.Session, bool) {
	item := s.cache.Get(tokenHash)
	if item == nil {
		return nil, false
	}
	return item.Value(), true
}

// Delete implements SessionStore.Delete.
func (s *MemorySessionStore) Delete(_ context.Context, tokenHash string) error {
	s.cache.Delete(tokenHash)
	return nil
}

// DeleteBySession implements SessionStore.DeleteBySession.
func (s *MemorySessionStore) DeleteBySession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	key, ok := s.bySID[sessionID]
	s.mu.Unlock()
	if ok {
		s.cache.Delete(key)
	}
	return nil
}

// Clear implements SessionStore.Clear.
func (s *MemorySessionStore) Clear(_ context.Context) error {
	s.cache.DeleteAll()
	return nil
}

// DeleteExpired implements SessionStore.DeleteExpired.
func (s *MemorySessionStore) DeleteExpired(_ context.Context) error {
	s.cache.DeleteExpired()
	return nil
}

// Count implements SessionStore.Count.
func (s *MemorySessionStore) Count(_ context.Context) int {
	return s.cache.Len()
}

// Close stops the background expirer.
func (s *MemorySessionStore) Close() error {
	s.cache.Stop()
	return nil
}
