package beacon

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sunbeamfin/beacon/domain"
	serrors "github.com/sunbeamfin/beacon/errors"
	"github.com/sunbeamfin/beacon/internal/audit"
)

// SessionPolicy sets the expiry windows applied to new sessions.
type SessionPolicy struct {
	// RollingWindow is the inactivity window for ordinary sessions.
	RollingWindow time.Duration
	// RememberMeWindow replaces RollingWindow when the user opts in.
	RememberMeWindow time.Duration
	// AbsoluteCap is the hard ceiling no amount of activity extends past.
	AbsoluteCap time.Duration
}

// DefaultSessionPolicy returns the windows used when none are configured.
func DefaultSessionPolicy() SessionPolicy {
	return SessionPolicy{
		RollingWindow:    24 * time.Hour,
		RememberMeWindow: 30 * 24 * time.Hour,
		AbsoluteCap:      180 * 24 * time.Hour,
	}
}

func (p SessionPolicy) normalized() SessionPolicy {
	def := DefaultSessionPolicy()
	if p.RollingWindow <= 0 {
		p.RollingWindow = def.RollingWindow
	}
	if p.RememberMeWindow <= 0 {
		p.RememberMeWindow = def.RememberMeWindow
	}
	if p.AbsoluteCap <= 0 {
		p.AbsoluteCap = def.AbsoluteCap
	}
	return p
}

// CreateSessionInput carries everything needed to open a session.
type CreateSessionInput struct {
	UserID     string
	ClientType domain.ClientType
	MFALevel   domain.MFALevel
	RememberMe bool
	IPAddress  string
	UserAgent  string
}

// SessionService manages the session lifecycle: creation, validation with
// rolling extension, and revocation.
type SessionService struct {
	sessions domain.SessionRepository
	users    domain.UserRepository
	hasher   *TokenHasher
	cache    SessionStore
	sink     audit.Sink
	policy   SessionPolicy
}

// NewSessionService creates a new SessionService instance.
func NewSessionService(
	sessions domain.SessionRepository,
	users domain.UserRepository,
	hasher *TokenHasher,
	cache SessionStore,
	sink audit.Sink,
	policy SessionPolicy,
) *SessionService {
	if sink == nil {
		sink = audit.NopSink{}
	}
	return &SessionService{
		sessions: sessions,
		users:    users,
		hasher:   hasher,
		cache:    cache,
		sink:     sink,
		policy:   policy.normalized(),
	}
}

// CreateSession opens a session for the user and returns it together with
// the opaque token value the client must present. The token value exists
// only in the return value; the record keeps its hash envelope.
func (s *SessionService) CreateSession(ctx context.Context, in CreateSessionInput) (*domain.Session, string, error) {
	tok, err := GenerateToken(TokenKindSession)
	if err != nil {
		return nil, "", err
	}
	envelope, err := s.hasher.Hash(tok.Secret)
	if err != nil {
		return nil, "", err
	}

	window := s.policy.RollingWindow
	if in.RememberMe {
		window = s.policy.RememberMeWindow
	}

	now := time.Now().UTC()
	session := &domain.Session{
		ID:                tok.ID,
		UserID:            in.UserID,
		TokenEnvelope:     envelope,
		ClientType:        in.ClientType,
		MFALevel:          in.MFALevel,
		IPAddress:         in.IPAddress,
		UserAgent:         in.UserAgent,
		RollingWindow:     int64(window),
		CreatedAt:         now,
		LastActivityAt:    now,
		ExpiresAt:         now.Add(window),
		AbsoluteExpiresAt: now.Add(s.policy.AbsoluteCap),
	}
	if session.ExpiresAt.After(session.AbsoluteExpiresAt) {
		session.ExpiresAt = session.AbsoluteExpiresAt
	}

	if err := s.sessions.CreateSession(ctx, session); err != nil {
		return nil, "", fmt.Errorf("failed to create session: %w", err)
	}

	raw := tok.String()
	if s.cache != nil {
		if err := s.cache.Set(ctx, HashToken(raw), session); err != nil {
			log.Warn().Err(err).Msg("failed to cache session")
		}
	}

	return session, raw, nil
}

// ValidateSessionToken resolves a presented session token to its live
// session. Cache hits skip the envelope check; the cache only ever holds
// sessions that already passed it.
func (s *SessionService) ValidateSessionToken(ctx context.Context, raw string) (*domain.Session, error) {
	tok, err := ParseTokenAs(raw, TokenKindSession)
	if err != nil {
		return nil, serrors.ErrSessionNotFound
	}

	now := time.Now().UTC()
	key := HashToken(raw)

	if s.cache != nil {
		if session, found := s.cache.Get(ctx, key); found {
			if session.IsActive(now) {
				return session, nil
			}
			if err := s.cache.Delete(ctx, key); err != nil {
				log.Warn().Err(err).Msg("failed to evict session cache entry")
			}
		}
	}

	session, err := s.sessions.GetSessionByID(ctx, tok.ID)
	if err != nil {
		return nil, serrors.ErrSessionNotFound
	}
	if !s.hasher.Verify(session.TokenEnvelope, tok.Secret) {
		return nil, serrors.ErrSessionNotFound
	}
	if session.IsRevoked() {
		return nil, serrors.ErrSessionRevoked
	}
	if session.IsExpired(now) {
		return nil, serrors.ErrSessionExpired
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, session); err != nil {
			log.Warn().Err(err).Msg("failed to cache session")
		}
	}

	return session, nil
}

// ResolveUser validates the token and loads its user, rejecting sessions
// whose account is no longer active.
func (s *SessionService) ResolveUser(ctx context.Context, raw string) (*domain.Session, *domain.User, error) {
	session, err := s.ValidateSessionToken(ctx, raw)
	if err != nil {
		return nil, nil, err
	}
	user, err := s.users.GetUserByID(ctx, session.UserID)
	if err != nil {
		return nil, nil, serrors.ErrSessionNotFound
	}
	if !user.IsActive() {
		return nil, nil, serrors.ErrUserInactive
	}
	return session, user, nil
}

// TouchSession extends the rolling deadline after activity, clamped to the
// absolute ceiling, and records the activity time. The passed session is
// updated in place.
func (s *SessionService) TouchSession(ctx context.Context, session *domain.Session) error {
	now := time.Now().UTC()
	next := session.NextExpiry(now)

	if err := s.sessions.TouchSession(ctx, session.ID, now, next); err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}
	session.LastActivityAt = now
	session.ExpiresAt = next

	if s.cache != nil {
		if err := s.cache.DeleteBySession(ctx, session.ID); err != nil {
			log.Warn().Err(err).Msg("failed to evict session cache entry")
		}
	}
	return nil
}

// RevokeSession terminally revokes one session. Idempotent: revoking a
// session that is already revoked keeps the original reason and time.
func (s *SessionService) RevokeSession(ctx context.Context, sessionID, reason string) error {
	now := time.Now().UTC()
	if err := s.sessions.RevokeSession(ctx, sessionID, reason, now); err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.DeleteBySession(ctx, sessionID); err != nil {
			log.Warn().Err(err).Msg("failed to evict session cache entry")
		}
	}

	s.sink.Emit(ctx, audit.Event{
		Action:    audit.ActionSessionRevoked,
		SessionID: sessionID,
		Details:   reason,
		Success:   true,
	})
	return nil
}

// RevokeUserSessions revokes every live session of a user, for password
// changes and account lockouts.
func (s *SessionService) RevokeUserSessions(ctx context.Context, userID, reason string) (int64, error) {
	now := time.Now().UTC()
	n, err := s.sessions.RevokeUserSessions(ctx, userID, reason, now)
	if err != nil {
		return 0, fmt.Errorf("failed to revoke sessions for user: %w", err)
	}

	if s.cache != nil {
		sessions, listErr := s.sessions.ListUserSessions(ctx, userID)
		if listErr != nil {
			log.Warn().Err(listErr).Msg("failed to list sessions for cache eviction")
		} else {
			for _, sess := range sessions {
				if err := s.cache.DeleteBySession(ctx, sess.ID); err != nil {
					log.Warn().Err(err).Msg("failed to evict session cache entry")
				}
			}
		}
	}

	s.sink.Emit(ctx, audit.Event{
		Action:  audit.ActionSessionRevoked,
		UserID:  userID,
		Details: fmt.Sprintf("%s (%d sessions)", reason, n),
		Success: true,
	})
	return n, nil
}

// ListUserSessions returns every stored session of the user, live or not.
func (s *SessionService) ListUserSessions(ctx context.Context, userID string) ([]*domain.Session, error) {
	return s.sessions.ListUserSessions(ctx, userID)
}

// GetSession loads one session by id without validating a token.
func (s *SessionService) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	session, err := s.sessions.GetSessionByID(ctx, sessionID)
	if err != nil {
		return nil, serrors.ErrSessionNotFound
	}
	return session, nil
}
