package beacon

import (
	"context"
	"fmt"
	"time"

	"github.com/sunbeamfin/beacon/domain"
	serrors "github.com/sunbeamfin/beacon/errors"
	"github.com/sunbeamfin/beacon/internal/audit"
)

// DefaultAuthCodeTTL bounds how long an issued authorization code can wait
// before the client exchanges it.
const DefaultAuthCodeTTL = 5 * time.Minute

// IssueCodeInput carries everything bound into one authorization code.
type IssueCodeInput struct {
	UserID              string
	SessionID           string
	ClientID            string
	RedirectURI         string
	Scopes              []string
	WorkspaceID         string
	CodeChallenge       string
	CodeChallengeMethod string
	Nonce               string
}

// AuthCodeService issues and consumes single-use authorization codes.
type AuthCodeService struct {
	codes  domain.AuthCodeRepository
	hasher *TokenHasher
	sink   audit.Sink
	ttl    time.Duration
}

// NewAuthCodeService creates a new AuthCodeService instance.
func NewAuthCodeService(codes domain.AuthCodeRepository, hasher *TokenHasher, sink audit.Sink, ttl time.Duration) *AuthCodeService {
	if sink == nil {
		sink = audit.NopSink{}
	}
	if ttl <= 0 {
		ttl = DefaultAuthCodeTTL
	}
	return &AuthCodeService{
		codes:  codes,
		hasher: hasher,
		sink:   sink,
		ttl:    ttl,
	}
}

// Issue mints an authorization code bound to the user, client, redirect URI
// and PKCE challenge. The raw code goes back to the client; the record keeps
// the hash envelope.
func (s *AuthCodeService) Issue(ctx context.Context, in IssueCodeInput) (*domain.AuthCode, string, error) {
	tok, err := GenerateToken(TokenKindAuthCode)
	if err != nil {
		return nil, "", err
	}
	envelope, err := s.hasher.Hash(tok.Secret)
	if err != nil {
		return nil, "", err
	}

	now := time.Now().UTC()
	record := &domain.AuthCode{
		ID:                  tok.ID,
		TokenEnvelope:       envelope,
		ClientID:            in.ClientID,
		UserID:              in.UserID,
		SessionID:           in.SessionID,
		RedirectURI:         in.RedirectURI,
		Scopes:              in.Scopes,
		WorkspaceID:         in.WorkspaceID,
		CodeChallenge:       in.CodeChallenge,
		CodeChallengeMethod: in.CodeChallengeMethod,
		Nonce:               in.Nonce,
		CreatedAt:           now,
		ExpiresAt:           now.Add(s.ttl),
	}

	if err := s.codes.CreateAuthCode(ctx, record); err != nil {
		return nil, "", fmt.Errorf("failed to store authorization code: %w", err)
	}

	s.sink.Emit(ctx, audit.Event{
		Action:   audit.ActionCodeIssued,
		UserID:   in.UserID,
		ClientID: in.ClientID,
		TokenID:  record.ID,
		Success:  true,
	})

	return record, tok.String(), nil
}

// Consume exchanges a presented code for its record, exactly once. The
// caller-supplied validate hook checks what only the caller knows: client
// identity, redirect URI and the PKCE verifier. A failed validation leaves
// the record consumable, so a client that retries with corrected parameters
// before expiry can still succeed; only a successful validation deletes it.
// The conditional delete makes concurrent exchanges of the same code pick
// exactly one winner.
func (s *AuthCodeService) Consume(ctx context.Context, raw string, validate func(*domain.AuthCode) error) (*domain.AuthCode, error) {
	tok, err := ParseTokenAs(raw, TokenKindAuthCode)
	if err != nil {
		return nil, serrors.ErrTokenMalformed
	}

	record, err := s.codes.GetAuthCodeByID(ctx, tok.ID)
	if err != nil {
		return nil, serrors.ErrTokenNotFound
	}

	if !s.hasher.Verify(record.TokenEnvelope, tok.Secret) {
		return nil, serrors.ErrTokenNotFound
	}
	now := time.Now().UTC()
	if record.IsExpired(now) {
		return nil, serrors.ErrTokenExpired
	}

	if validate != nil {
		if err := validate(record); err != nil {
			return nil, err
		}
	}

	deleted, err := s.codes.ConsumeAuthCode(ctx, record.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to consume authorization code: %w", err)
	}
	if !deleted {
		s.sink.Emit(ctx, audit.Event{
			Action:   audit.ActionCodeReplayed,
			UserID:   record.UserID,
			ClientID: record.ClientID,
			TokenID:  record.ID,
			Success:  true,
		})
		return nil, serrors.ErrTokenConsumed
	}

	consumedAt := now
	record.ConsumedAt = &consumedAt

	s.sink.Emit(ctx, audit.Event{
		Action:   audit.ActionCodeConsumed,
		UserID:   record.UserID,
		ClientID: record.ClientID,
		TokenID:  record.ID,
		Success:  true,
	})

	return record, nil
}
