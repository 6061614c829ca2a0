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

// CreatePATInput describes a personal access token to mint.
type CreatePATInput struct {
	UserID      string
	Name        string
	Scopes      []string
	WorkspaceID string
	// ExpiresIn bounds the token lifetime. Zero means no expiry.
	ExpiresIn time.Duration
}

// PATService mints and verifies personal access tokens. A PAT authenticates
// as the owning user without a session, scoped to what the owner granted it.
type PATService struct {
	pats     domain.PATRepository
	users    domain.UserRepository
	hasher   *TokenHasher
	resolver *WorkspaceResolver
	sink     audit.Sink
}

// NewPATService creates a new PATService instance.
func NewPATService(pats domain.PATRepository, users domain.UserRepository, hasher *TokenHasher, resolver *WorkspaceResolver, sink audit.Sink) *PATService {
	if sink == nil {
		sink = audit.NopSink{}
	}
	return &PATService{pats: pats, users: users, hasher: hasher, resolver: resolver, sink: sink}
}

// Create mints a new token. The raw value is returned exactly once; only
// its hash envelope is stored.
func (s *PATService) Create(ctx context.Context, in CreatePATInput) (*domain.PersonalAccessToken, string, error) {
	if in.WorkspaceID != "" {
		if _, err := s.resolver.ResolveForUser(ctx, in.UserID, in.WorkspaceID); err != nil {
			return nil, "", err
		}
	}

	tok, err := GenerateToken(TokenKindPAT)
	if err != nil {
		return nil, "", err
	}
	envelope, err := s.hasher.Hash(tok.Secret)
	if err != nil {
		return nil, "", err
	}

	now := time.Now().UTC()
	pat := &domain.PersonalAccessToken{
		ID:            tok.ID,
		UserID:        in.UserID,
		Name:          in.Name,
		TokenEnvelope: envelope,
		Scopes:        append([]string(nil), in.Scopes...),
		WorkspaceID:   in.WorkspaceID,
		CreatedAt:     now,
	}
	if in.ExpiresIn > 0 {
		exp := now.Add(in.ExpiresIn)
		pat.ExpiresAt = &exp
	}

	if err := s.pats.CreatePAT(ctx, pat); err != nil {
		return nil, "", fmt.Errorf("failed to store personal access token: %w", err)
	}

	s.sink.Emit(ctx, audit.Event{
		Action:  audit.ActionPATCreated,
		UserID:  in.UserID,
		TokenID: pat.ID,
		Success: true,
	})
	return pat, tok.String(), nil
}

// Verify authenticates a raw PAT and returns the auth context it grants.
// The token's own scope set applies; when pinned to a workspace the owner
// must still be a member of it.
func (s *PATService) Verify(ctx context.Context, raw string) (*domain.AuthContext, error) {
	tok, err := ParseTokenAs(raw, TokenKindPAT)
	if err != nil {
		return nil, serrors.ErrTokenMalformed
	}

	pat, err := s.pats.GetPATByID(ctx, tok.ID)
	if err != nil {
		return nil, serrors.ErrTokenNotFound
	}
	if !s.hasher.Verify(pat.TokenEnvelope, tok.Secret) {
		return nil, serrors.ErrTokenNotFound
	}
	if pat.IsRevoked() {
		return nil, serrors.ErrTokenRevoked
	}
	if pat.IsExpired(time.Now().UTC()) {
		return nil, serrors.ErrTokenExpired
	}

	user, err := s.users.GetUserByID(ctx, pat.UserID)
	if err != nil {
		return nil, serrors.ErrTokenNotFound
	}
	if !user.IsActive() {
		return nil, serrors.ErrUserInactive
	}

	resolved, err := s.resolver.ResolveForToken(ctx, user.ID, pat.WorkspaceID)
	if err != nil {
		return nil, err
	}

	if err := s.pats.TouchPATUsage(ctx, pat.ID, time.Now().UTC()); err != nil {
		log.Warn().Err(err).Str("token_id", pat.ID).Msg("failed to record pat usage")
	}

	scopes := pat.Scopes
	if len(scopes) == 0 {
		scopes = resolved.Scopes
	}

	return &domain.AuthContext{
		PrincipalType:     domain.PrincipalUser,
		UserID:            user.ID,
		ActiveWorkspaceID: resolved.ActiveWorkspaceID,
		AllowedWorkspaces: resolved.AllowedWorkspaces,
		Roles:             resolved.Roles,
		Scopes:            scopes,
		MFALevel:          domain.MFALevelAAL1,
	}, nil
}

// Revoke kills a token by ID. Only the owner may revoke; revocation is
// terminal and repeat calls are no-ops.
func (s *PATService) Revoke(ctx context.Context, userID, patID string) error {
	pat, err := s.pats.GetPATByID(ctx, patID)
	if err != nil {
		return serrors.ErrTokenNotFound
	}
	if pat.UserID != userID {
		return serrors.ErrTokenNotFound
	}

	revoked, err := s.pats.RevokePAT(ctx, patID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to revoke personal access token: %w", err)
	}
	if revoked {
		s.sink.Emit(ctx, audit.Event{
			Action:  audit.ActionPATRevoked,
			UserID:  userID,
			TokenID: patID,
			Success: true,
		})
	}
	return nil
}

// List returns the user's tokens, live and dead.
func (s *PATService) List(ctx context.Context, userID string) ([]*domain.PersonalAccessToken, error) {
	return s.pats.ListUserPATs(ctx, userID)
}
