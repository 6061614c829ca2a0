package beacon

import (
	"context"
	"io"

	"github.com/sunbeamfin/beacon/domain"
)

// SessionStore is a short-lived read cache in front of the session
// repository, keyed by the hash of the presented token value. Entries are
// advisory: revocation and touch invalidate them eagerly, and a small TTL
// bounds staleness when invalidation is missed.
type SessionStore interface {
	// Close closes the session store.
	io.Closer

	// Set caches a session under the hash of its presented token value.
	Set(ctx context.Context, tokenHash string, session *domain.Session) error

	// Get retrieves a cached session by token hash.
	// Returns the session and true if found, or nil and false if not.
	Get(ctx context.Context, tokenHash string) (*domain.Session, bool)

	// Delete removes one cached entry by token hash.
	Delete(ctx context.Context, tokenHash string) error

	// DeleteBySession removes whatever entry is cached for the session id.
	// Used on revoke and touch, where only the session id is at hand.
	DeleteBySession(ctx context.Context, sessionID string) error

	// Clear removes all cached sessions.
	Clear(ctx context.Context) error

	// DeleteExpired removes entries whose sessions have expired.
	DeleteExpired(ctx context.Context) error

	// Count returns the number of sessions currently cached.
	Count(ctx context.Context) int
}
