// Package redis provides a Redis-backed session cache for multi-node
// deployments, where an eviction on one node must be visible to all.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sunbeamfin/beacon/domain"
)

// SessionStore caches sessions in Redis, keyed by token hash, with a
// secondary key per session id so revocation can evict by id alone.
type SessionStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewSessionStore creates a new SessionStore instance. The client is owned
// by the caller and stays open after Close.
func NewSessionStore(client *redis.Client, prefix string, ttl time.Duration) *SessionStore {
	return &SessionStore{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

func (r *SessionStore) sessKey(tokenHash string) string {
	return fmt.Sprintf("%s:sess:%s", r.prefix, tokenHash)
}

func (r *SessionStore) sidKey(sessionID string) string {
	return fmt.Sprintf("%s:sid:%s", r.prefix, sessionID)
}

// Set implements SessionStore.Set.
func (r *SessionStore) Set(ctx context.Context, tokenHash string, session *domain.Session) error {
	ttl := r.ttl
	if until := time.Until(session.ExpiresAt); until < ttl {
		ttl = until
	}
	if ttl <= 0 {
		return nil
	}

	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.sessKey(tokenHash), payload, ttl)
	pipe.Set(ctx, r.sidKey(session.ID), tokenHash, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to cache session in redis: %w", err)
	}
	return nil
}

// Get implements SessionStore.Get.
func (r *SessionStore) Get(ctx context.Context, tokenHash string) (*domain.Session, bool) {
	payload, err := r.client.Get(ctx, r.sessKey(tokenHash)).Bytes()
	if err != nil {
		return nil, false
	}

	var session domain.Session
	if err := json.Unmarshal(payload, &session); err != nil {
		return nil, false
	}
	return &session, true
}

// Delete implements SessionStore.Delete.
func (r *SessionStore) Delete(ctx context.Context, tokenHash string) error {
	if session, ok := r.Get(ctx, tokenHash); ok {
		return r.client.Del(ctx, r.sessKey(tokenHash), r.sidKey(session.ID)).Err()
	}
	return r.client.Del(ctx, r.sessKey(tokenHash)).Err()
}

// DeleteBySession implements SessionStore.DeleteBySession.
func (r *SessionStore) DeleteBySession(ctx context.Context, sessionID string) error {
	tokenHash, err := r.client.Get(ctx, r.sidKey(sessionID)).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to look up session cache key: %w", err)
	}
	return r.client.Del(ctx, r.sessKey(tokenHash), r.sidKey(sessionID)).Err()
}

// Clear implements SessionStore.Clear.
func (r *SessionStore) Clear(ctx context.Context) error {
	var cursor uint64
	pattern := fmt.Sprintf("%s:*", r.prefix)
	for {
		keys, next, err := r.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return fmt.Errorf("failed to scan session cache keys: %w", err)
		}
		if len(keys) > 0 {
			if err := r.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("failed to delete session cache keys: %w", err)
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

// DeleteExpired implements SessionStore.DeleteExpired. Redis expires keys
// on its own.
func (r *SessionStore) DeleteExpired(context.Context) error {
	return nil
}

// Count implements SessionStore.Count.
func (r *SessionStore) Count(ctx context.Context) int {
	var count int
	var cursor uint64
	pattern := fmt.Sprintf("%s:sess:*", r.prefix)
	for {
		keys, next, err := r.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return count
		}
		count += len(keys)
		if next == 0 {
			return count
		}
		cursor = next
	}
}

// Close implements io.Closer. The Redis client belongs to the caller, so
// there is nothing to release here.
func (r *SessionStore) Close() error {
	return nil
}
