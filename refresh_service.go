package beacon

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/sunbeamfin/beacon/domain"
	serrors "github.com/sunbeamfin/beacon/errors"
	"github.com/sunbeamfin/beacon/internal/audit"
)

// DefaultRefreshTokenTTL is the lifetime of one refresh token. Rotation
// mints a successor with a fresh window, so an active session slides along
// indefinitely until the session's absolute cap cuts it off.
const DefaultRefreshTokenTTL = 30 * 24 * time.Hour

// IssueRefreshInput carries everything needed to mint a refresh token.
type IssueRefreshInput struct {
	UserID      string
	SessionID   string
	ClientID    string
	WorkspaceID string
	Scopes      []string
	// FamilyID links the token into an existing rotation chain. Empty
	// starts a new family.
	FamilyID string
}

// RotateResult is what a successful rotation hands back to the caller.
type RotateResult struct {
	Token    *domain.RefreshToken
	RawToken string
	Session  *domain.Session
	User     *domain.User
}

// RefreshService issues and rotates refresh tokens and runs reuse
// detection. Every refresh token belongs to a family; presenting a member
// that was already rotated out burns the whole family and its session.
type RefreshService struct {
	tokens   domain.RefreshTokenRepository
	users    domain.UserRepository
	hasher   *TokenHasher
	sessions *SessionService
	sink     audit.Sink
	ttl      time.Duration
}

// NewRefreshService creates a new RefreshService instance.
func NewRefreshService(
	tokens domain.RefreshTokenRepository,
	users domain.UserRepository,
	hasher *TokenHasher,
	sessions *SessionService,
	sink audit.Sink,
	ttl time.Duration,
) *RefreshService {
	if sink == nil {
		sink = audit.NopSink{}
	}
	if ttl <= 0 {
		ttl = DefaultRefreshTokenTTL
	}
	return &RefreshService{
		tokens:   tokens,
		users:    users,
		hasher:   hasher,
		sessions: sessions,
		sink:     sink,
		ttl:      ttl,
	}
}

// Issue mints a refresh token. The raw value is returned once and never
// stored; the record carries only the hash envelope.
func (s *RefreshService) Issue(ctx context.Context, in IssueRefreshInput) (*domain.RefreshToken, string, error) {
	tok, err := GenerateToken(TokenKindRefresh)
	if err != nil {
		return nil, "", err
	}
	envelope, err := s.hasher.Hash(tok.Secret)
	if err != nil {
		return nil, "", err
	}

	familyID := in.FamilyID
	if familyID == "" {
		familyID = uuid.NewString()
	}

	now := time.Now().UTC()
	record := &domain.RefreshToken{
		ID:            tok.ID,
		SessionID:     in.SessionID,
		UserID:        in.UserID,
		ClientID:      in.ClientID,
		FamilyID:      familyID,
		TokenEnvelope: envelope,
		Scopes:        in.Scopes,
		WorkspaceID:   in.WorkspaceID,
		IssuedAt:      now,
		ExpiresAt:     now.Add(s.ttl),
	}

	if err := s.tokens.CreateRefreshToken(ctx, record); err != nil {
		return nil, "", fmt.Errorf("failed to store refresh token: %w", err)
	}

	return record, tok.String(), nil
}

// Rotate exchanges a presented refresh token for its successor. The old
// token is revoked, the successor inherits the family and scopes, and the
// owning session is extended. A non-empty clientID pins the token to the
// client presenting it. Every failure is deliberately indistinguishable to
// the caller; detail goes to telemetry only.
func (s *RefreshService) Rotate(ctx context.Context, raw, clientID, ip string) (*RotateResult, error) {
	tok, err := ParseTokenAs(raw, TokenKindRefresh)
	if err != nil {
		return nil, serrors.ErrTokenMalformed
	}

	record, err := s.tokens.GetRefreshTokenByID(ctx, tok.ID)
	if err != nil {
		return nil, serrors.ErrTokenNotFound
	}
	if !s.hasher.Verify(record.TokenEnvelope, tok.Secret) {
		return nil, serrors.ErrTokenNotFound
	}
	if clientID != "" && record.ClientID != clientID {
		return nil, serrors.ErrTokenNotFound
	}

	now := time.Now().UTC()
	if record.IsExpired(now) {
		return nil, serrors.ErrTokenExpired
	}
	if record.IsRevoked() {
		return nil, s.handleReuse(ctx, record, ip)
	}

	session, err := s.sessions.GetSession(ctx, record.SessionID)
	if err != nil {
		return nil, serrors.ErrSessionNotFound
	}
	if session.IsRevoked() {
		return nil, serrors.ErrSessionRevoked
	}
	if session.IsExpired(now) {
		return nil, serrors.ErrSessionExpired
	}

	user, err := s.users.GetUserByID(ctx, record.UserID)
	if err != nil {
		return nil, serrors.ErrSessionNotFound
	}
	if !user.IsActive() {
		return nil, serrors.ErrUserInactive
	}

	// The conditional revoke is the serialization point: when two requests
	// present the same token, exactly one lands here first. The loser sees
	// zero rows affected and is handled as a reuse.
	transitioned, err := s.tokens.RevokeRefreshToken(ctx, record.ID, domain.RefreshRevokedRotated, now)
	if err != nil {
		return nil, fmt.Errorf("failed to revoke refresh token: %w", err)
	}
	if !transitioned {
		return nil, s.handleReuse(ctx, record, ip)
	}

	if err := s.tokens.TouchRefreshTokenUsage(ctx, record.ID, now, ip); err != nil {
		log.Warn().Err(err).Str("token_id", record.ID).Msg("failed to stamp refresh token usage")
	}

	successor, rawSuccessor, err := s.Issue(ctx, IssueRefreshInput{
		UserID:      record.UserID,
		SessionID:   record.SessionID,
		ClientID:    record.ClientID,
		WorkspaceID: record.WorkspaceID,
		Scopes:      record.Scopes,
		FamilyID:    record.FamilyID,
	})
	if err != nil {
		return nil, err
	}

	if err := s.tokens.MarkRefreshTokenReplaced(ctx, record.ID, successor.ID); err != nil {
		log.Warn().Err(err).Str("token_id", record.ID).Msg("failed to link rotated refresh token to successor")
	}

	if err := s.sessions.TouchSession(ctx, session); err != nil {
		log.Warn().Err(err).Str("session_id", session.ID).Msg("failed to extend session on rotation")
	}

	s.sink.Emit(ctx, audit.Event{
		Action:    audit.ActionRefreshRotated,
		UserID:    record.UserID,
		SessionID: record.SessionID,
		ClientID:  record.ClientID,
		TokenID:   record.ID,
		FamilyID:  record.FamilyID,
		IP:        ip,
		Details:   fmt.Sprintf("replaced_by=%s", successor.ID),
		Success:   true,
	})

	return &RotateResult{
		Token:    successor,
		RawToken: rawSuccessor,
		Session:  session,
		User:     user,
	}, nil
}

// handleReuse runs when an already-revoked token is presented. If any other
// family member is still live the replay means the chain forked, so the
// whole family and the owning session are burned. If nothing is live the
// replay is stale noise and nothing needs revoking. Either way the caller
// gets the same error.
func (s *RefreshService) handleReuse(ctx context.Context, record *domain.RefreshToken, ip string) error {
	now := time.Now().UTC()
	cascaded := false

	live, err := s.tokens.CountActiveInFamily(ctx, record.FamilyID, now)
	if err != nil {
		log.Error().Err(err).Str("family_id", record.FamilyID).Msg("failed to inspect refresh token family")
	} else if live > 0 {
		cascaded = true
		if _, err := s.tokens.RevokeFamily(ctx, record.FamilyID, domain.RefreshRevokedReuse, now); err != nil {
			log.Error().Err(err).Str("family_id", record.FamilyID).Msg("failed to revoke refresh token family")
		}
		if record.SessionID != "" {
			if err := s.sessions.RevokeSession(ctx, record.SessionID, domain.SessionRevokedTokenReuse); err != nil {
				log.Error().Err(err).Str("session_id", record.SessionID).Msg("failed to revoke session after token reuse")
			}
		}
	}

	s.sink.Emit(ctx, audit.Event{
		Action:    audit.ActionRefreshReuse,
		UserID:    record.UserID,
		SessionID: record.SessionID,
		ClientID:  record.ClientID,
		TokenID:   record.ID,
		FamilyID:  record.FamilyID,
		IP:        ip,
		Details:   fmt.Sprintf("cascaded=%t", cascaded),
		Success:   true,
	})

	return serrors.ErrTokenRevoked
}

// RevokeByValue revokes the token a client handed back, cascading to its
// family and session. Lookup failures are not reported to the caller;
// revocation is an information-hiding endpoint.
func (s *RefreshService) RevokeByValue(ctx context.Context, raw, ip string) {
	tok, err := ParseTokenAs(raw, TokenKindRefresh)
	if err != nil {
		return
	}
	record, err := s.tokens.GetRefreshTokenByID(ctx, tok.ID)
	if err != nil {
		return
	}
	if !s.hasher.Verify(record.TokenEnvelope, tok.Secret) {
		return
	}

	now := time.Now().UTC()
	if _, err := s.tokens.RevokeFamily(ctx, record.FamilyID, domain.RefreshRevokedClient, now); err != nil {
		log.Error().Err(err).Str("family_id", record.FamilyID).Msg("failed to revoke refresh token family")
		return
	}
	if record.SessionID != "" {
		if err := s.sessions.RevokeSession(ctx, record.SessionID, domain.SessionRevokedUserRequested); err != nil {
			log.Error().Err(err).Str("session_id", record.SessionID).Msg("failed to revoke session for returned token")
		}
	}

	s.sink.Emit(ctx, audit.Event{
		Action:    audit.ActionTokenRevoked,
		UserID:    record.UserID,
		SessionID: record.SessionID,
		ClientID:  record.ClientID,
		TokenID:   record.ID,
		FamilyID:  record.FamilyID,
		IP:        ip,
		Success:   true,
	})
}

// RevokeSessionTokens revokes every refresh family attached to a session.
// Used when a session ends by logout rather than by reuse detection.
func (s *RefreshService) RevokeSessionTokens(ctx context.Context, sessionID, reason string) error {
	records, err := s.tokens.ListSessionRefreshTokens(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to list session refresh tokens: %w", err)
	}

	now := time.Now().UTC()
	seen := make(map[string]struct{}, len(records))
	for _, record := range records {
		if _, done := seen[record.FamilyID]; done {
			continue
		}
		seen[record.FamilyID] = struct{}{}
		if _, err := s.tokens.RevokeFamily(ctx, record.FamilyID, reason, now); err != nil {
			return fmt.Errorf("failed to revoke refresh token family: %w", err)
		}
	}
	return nil
}
