package memstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sunbeamfin/beacon/domain"
	serrors "github.com/sunbeamfin/beacon/errors"
)

// SessionStore keeps sessions in memory.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]domain.Session
}

// NewSessionStore creates a new SessionStore.
func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string]domain.Session)}
}

func (s *SessionStore) CreateSession(ctx context.Context, session *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[session.ID]; exists {
		return fmt.Errorf("session %s already exists", session.ID)
	}
	s.sessions[session.ID] = *session
	return nil
}

func (s *SessionStore) GetSessionByID(ctx context.Context, id string) (*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, serrors.ErrNotFound
	}
	return &session, nil
}

func (s *SessionStore) TouchSession(ctx context.Context, id string, lastActivity, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return serrors.ErrNotFound
	}
	session.LastActivityAt = lastActivity
	session.ExpiresAt = expiresAt
	s.sessions[id] = session
	return nil
}

func (s *SessionStore) RevokeSession(ctx context.Context, id, reason string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return serrors.ErrNotFound
	}
	if session.RevokedAt != nil {
		return nil
	}
	session.RevokedAt = &at
	session.RevokedReason = reason
	s.sessions[id] = session
	return nil
}

func (s *SessionStore) RevokeUserSessions(ctx context.Context, userID, reason string, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, session := range s.sessions {
		if session.UserID != userID || session.RevokedAt != nil {
			continue
		}
		session.RevokedAt = &at
		session.RevokedReason = reason
		s.sessions[id] = session
		n++
	}
	return n, nil
}

func (s *SessionStore) ListUserSessions(ctx context.Context, userID string) ([]*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.Session
	for _, session := range s.sessions {
		if session.UserID == userID {
			session := session
			out = append(out, &session)
		}
	}
	return out, nil
}

func (s *SessionStore) DeleteExpiredSessions(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, session := range s.sessions {
		if !session.ExpiresAt.After(before) {
			delete(s.sessions, id)
			n++
		}
	}
	return n, nil
}
