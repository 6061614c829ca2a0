package beacon

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/sunbeamfin/beacon/domain"
	serrors "github.com/sunbeamfin/beacon/errors"
	"github.com/sunbeamfin/beacon/internal/audit"
	"github.com/sunbeamfin/beacon/internal/auth"
)

// One-shot login token lifetimes.
const (
	DefaultMagicLinkTTL       = 15 * time.Minute
	DefaultSessionTransferTTL = 60 * time.Second
)

// Mailer delivers magic link mail. Delivery is an external collaborator;
// the auth core only builds the link.
type Mailer interface {
	SendMagicLink(ctx context.Context, email, link string) error
}

// NopMailer drops mail. Useful in tests and local setups.
type NopMailer struct{}

func (NopMailer) SendMagicLink(context.Context, string, string) error { return nil }

// LoginInput carries a password login attempt.
type LoginInput struct {
	Email      string
	Password   string
	TOTPCode   string
	ClientType domain.ClientType
	RememberMe bool
	IPAddress  string
	UserAgent  string
}

// IdentityLoginInput carries a login through an external identity provider,
// after the federation layer has verified it.
type IdentityLoginInput struct {
	Provider   string
	Subject    string
	Email      string
	FirstName  string
	LastName   string
	ClientType domain.ClientType
	IPAddress  string
	UserAgent  string
}

// LoginResult is what every successful sign-in hands back: the session
// cookie value, the first refresh token of a fresh family, and a signed
// access token.
type LoginResult struct {
	User         *domain.User
	Session      *domain.Session
	SessionToken string
	RefreshToken string
	AccessToken  string
	ExpiresIn    int
}

// AuthService implements first-party sign-in: password, magic link,
// federated identity and session transfer, plus logout and session refresh.
type AuthService struct {
	users       domain.UserRepository
	identities  domain.FederatedIdentityRepository
	loginTokens domain.LoginTokenRepository
	sessions    *SessionService
	refresh     *RefreshService
	issuer      *TokenIssuer
	resolver    *WorkspaceResolver
	hasher      *TokenHasher
	passwords   auth.PasswordHasher
	mailer      Mailer
	sink        audit.Sink

	baseURL      string
	magicLinkTTL time.Duration
	transferTTL  time.Duration
}

// NewAuthService creates a new AuthService instance.
func NewAuthService(
	users domain.UserRepository,
	identities domain.FederatedIdentityRepository,
	loginTokens domain.LoginTokenRepository,
	sessions *SessionService,
	refresh *RefreshService,
	issuer *TokenIssuer,
	resolver *WorkspaceResolver,
	hasher *TokenHasher,
	passwords auth.PasswordHasher,
	mailer Mailer,
	sink audit.Sink,
	baseURL string,
) *AuthService {
	if mailer == nil {
		mailer = NopMailer{}
	}
	if sink == nil {
		sink = audit.NopSink{}
	}
	return &AuthService{
		users:        users,
		identities:   identities,
		loginTokens:  loginTokens,
		sessions:     sessions,
		refresh:      refresh,
		issuer:       issuer,
		resolver:     resolver,
		hasher:       hasher,
		passwords:    passwords,
		mailer:       mailer,
		sink:         sink,
		baseURL:      baseURL,
		magicLinkTTL: DefaultMagicLinkTTL,
		transferTTL:  DefaultSessionTransferTTL,
	}
}

// SetMagicLinkTTL overrides the magic link lifetime. Startup only;
// non-positive values keep the default.
func (s *AuthService) SetMagicLinkTTL(ttl time.Duration) {
	if ttl > 0 {
		s.magicLinkTTL = ttl
	}
}

// LoginWithPassword verifies the credentials and opens a session. Users
// enrolled in MFA must supply a valid TOTP code and get an aal2 session for
// it; everyone else lands on aal1.
func (s *AuthService) LoginWithPassword(ctx context.Context, in LoginInput) (*LoginResult, error) {
	user, err := s.users.GetUserByEmail(ctx, in.Email)
	if err != nil {
		s.auditLoginFailure(ctx, "", in.IPAddress, "unknown email")
		return nil, serrors.ErrInvalidCredentials
	}
	if !user.IsActive() {
		s.auditLoginFailure(ctx, user.ID, in.IPAddress, "account inactive")
		return nil, serrors.ErrUserInactive
	}

	if err := s.passwords.Verify(user.PasswordHash, in.Password); err != nil {
		if err := s.users.RecordLoginFailure(ctx, user.ID); err != nil {
			log.Warn().Err(err).Str("user_id", user.ID).Msg("failed to record login failure")
		}
		s.auditLoginFailure(ctx, user.ID, in.IPAddress, "bad password")
		return nil, serrors.ErrInvalidCredentials
	}

	mfa := domain.MFALevelAAL1
	if user.MFAEnrolled {
		if in.TOTPCode == "" {
			return nil, serrors.ErrMFARequired
		}
		if !auth.ValidateTOTPCode(user.TOTPSecret, in.TOTPCode) {
			s.auditLoginFailure(ctx, user.ID, in.IPAddress, "bad totp code")
			return nil, serrors.ErrInvalidCredentials
		}
		mfa = domain.MFALevelAAL2
	}

	return s.establishSession(ctx, user, in.ClientType, mfa, in.RememberMe, in.IPAddress, in.UserAgent)
}

// Logout revokes the presented session and its refresh token families. An
// unknown or already dead token still logs out successfully.
func (s *AuthService) Logout(ctx context.Context, sessionToken, ip string) error {
	session, err := s.sessions.ValidateSessionToken(ctx, sessionToken)
	if err != nil {
		return nil
	}

	if err := s.refresh.RevokeSessionTokens(ctx, session.ID, domain.RefreshRevokedLogout); err != nil {
		log.Warn().Err(err).Str("session_id", session.ID).Msg("failed to revoke refresh tokens on logout")
	}
	if err := s.sessions.RevokeSession(ctx, session.ID, domain.SessionRevokedLogout); err != nil {
		return err
	}

	s.sink.Emit(ctx, audit.Event{
		Action:    audit.ActionLogout,
		UserID:    session.UserID,
		SessionID: session.ID,
		IP:        ip,
		Success:   true,
	})
	return nil
}

// RefreshSession rotates a first-party refresh token and signs a fresh
// access token for its session.
func (s *AuthService) RefreshSession(ctx context.Context, refreshToken, ip string) (*LoginResult, error) {
	result, err := s.refresh.Rotate(ctx, refreshToken, "", ip)
	if err != nil {
		return nil, err
	}

	access, expiresIn, err := s.signForSession(ctx, result.User, result.Session)
	if err != nil {
		return nil, err
	}

	return &LoginResult{
		User:         result.User,
		Session:      result.Session,
		RefreshToken: result.RawToken,
		AccessToken:  access,
		ExpiresIn:    expiresIn,
	}, nil
}

// IssueMagicLink mails a one-shot sign-in link. Unknown addresses succeed
// silently so the endpoint cannot be used to probe for accounts.
func (s *AuthService) IssueMagicLink(ctx context.Context, email, redirectTo, ip string) error {
	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		s.sink.Emit(ctx, audit.Event{
			Action:  audit.ActionMagicLinkIssued,
			IP:      ip,
			Details: "unknown email",
			Success: false,
		})
		return nil
	}

	tok, err := GenerateToken(TokenKindMagicLink)
	if err != nil {
		return err
	}
	envelope, err := s.hasher.Hash(tok.Secret)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	record := &domain.LoginToken{
		ID:            tok.ID,
		Kind:          domain.LoginTokenMagicLink,
		UserID:        user.ID,
		TokenEnvelope: envelope,
		RedirectTo:    redirectTo,
		CreatedAt:     now,
		ExpiresAt:     now.Add(s.magicLinkTTL),
	}
	if err := s.loginTokens.CreateLoginToken(ctx, record); err != nil {
		return fmt.Errorf("failed to store magic link token: %w", err)
	}

	link := fmt.Sprintf("%s/auth/magic-link/verify?token=%s", s.baseURL, url.QueryEscape(tok.String()))
	if err := s.mailer.SendMagicLink(ctx, user.Email, link); err != nil {
		return fmt.Errorf("failed to send magic link: %w", err)
	}

	s.sink.Emit(ctx, audit.Event{
		Action:  audit.ActionMagicLinkIssued,
		UserID:  user.ID,
		TokenID: record.ID,
		IP:      ip,
		Success: true,
	})
	return nil
}

// VerifyMagicLink consumes a mailed link token and signs the user in. A
// link verifies at most once; replays fail like any other bad token.
func (s *AuthService) VerifyMagicLink(ctx context.Context, raw string, clientType domain.ClientType, ip, userAgent string) (*LoginResult, error) {
	record, err := s.consumeLoginToken(ctx, raw, TokenKindMagicLink, domain.LoginTokenMagicLink)
	if err != nil {
		return nil, err
	}

	user, err := s.users.GetUserByID(ctx, record.UserID)
	if err != nil {
		return nil, serrors.ErrTokenNotFound
	}
	if !user.IsActive() {
		return nil, serrors.ErrUserInactive
	}

	result, err := s.establishSession(ctx, user, clientType, domain.MFALevelAAL1, false, ip, userAgent)
	if err != nil {
		return nil, err
	}

	s.sink.Emit(ctx, audit.Event{
		Action:  audit.ActionMagicLinkVerified,
		UserID:  user.ID,
		TokenID: record.ID,
		IP:      ip,
		Success: true,
	})
	return result, nil
}

// CreateSessionTransfer mints a short-lived one-shot token that moves the
// caller's session onto another device.
func (s *AuthService) CreateSessionTransfer(ctx context.Context, sessionToken, ip string) (string, error) {
	session, _, err := s.sessions.ResolveUser(ctx, sessionToken)
	if err != nil {
		return "", err
	}

	tok, err := GenerateToken(TokenKindSessionTransfer)
	if err != nil {
		return "", err
	}
	envelope, err := s.hasher.Hash(tok.Secret)
	if err != nil {
		return "", err
	}

	now := time.Now().UTC()
	record := &domain.LoginToken{
		ID:            tok.ID,
		Kind:          domain.LoginTokenSessionTransfer,
		UserID:        session.UserID,
		SessionID:     session.ID,
		TokenEnvelope: envelope,
		CreatedAt:     now,
		ExpiresAt:     now.Add(s.transferTTL),
	}
	if err := s.loginTokens.CreateLoginToken(ctx, record); err != nil {
		return "", fmt.Errorf("failed to store session transfer token: %w", err)
	}

	s.sink.Emit(ctx, audit.Event{
		Action:    audit.ActionSessionTransfer,
		UserID:    session.UserID,
		SessionID: session.ID,
		TokenID:   record.ID,
		IP:        ip,
		Details:   "issued",
		Success:   true,
	})
	return tok.String(), nil
}

// ConsumeSessionTransfer redeems a transfer token on the new device. The
// originating session has to still be live; the new session inherits its
// assurance level.
func (s *AuthService) ConsumeSessionTransfer(ctx context.Context, raw string, clientType domain.ClientType, ip, userAgent string) (*LoginResult, error) {
	record, err := s.consumeLoginToken(ctx, raw, TokenKindSessionTransfer, domain.LoginTokenSessionTransfer)
	if err != nil {
		return nil, err
	}

	origin, err := s.sessions.GetSession(ctx, record.SessionID)
	if err != nil {
		return nil, serrors.ErrTokenNotFound
	}
	if !origin.IsActive(time.Now().UTC()) {
		return nil, serrors.ErrSessionExpired
	}

	user, err := s.users.GetUserByID(ctx, record.UserID)
	if err != nil {
		return nil, serrors.ErrTokenNotFound
	}
	if !user.IsActive() {
		return nil, serrors.ErrUserInactive
	}

	result, err := s.establishSession(ctx, user, clientType, origin.MFALevel, false, ip, userAgent)
	if err != nil {
		return nil, err
	}

	s.sink.Emit(ctx, audit.Event{
		Action:    audit.ActionSessionTransfer,
		UserID:    user.ID,
		SessionID: result.Session.ID,
		TokenID:   record.ID,
		IP:        ip,
		Details:   fmt.Sprintf("from_session=%s", origin.ID),
		Success:   true,
	})
	return result, nil
}

// LoginWithIdentity signs in a user through a verified external identity,
// linking or provisioning the local account as needed.
func (s *AuthService) LoginWithIdentity(ctx context.Context, in IdentityLoginInput) (*LoginResult, error) {
	var user *domain.User

	identity, err := s.identities.GetByProviderSubject(ctx, in.Provider, in.Subject)
	switch {
	case err == nil:
		user, err = s.users.GetUserByID(ctx, identity.UserID)
		if err != nil {
			return nil, serrors.ErrInvalidCredentials
		}
	default:
		user, err = s.users.GetUserByEmail(ctx, in.Email)
		if err != nil {
			user = &domain.User{
				ID:        uuid.NewString(),
				Email:     in.Email,
				Status:    domain.UserStatusActive,
				FirstName: in.FirstName,
				LastName:  in.LastName,
				CreatedAt: time.Now().UTC(),
				UpdatedAt: time.Now().UTC(),
			}
			if err := s.users.CreateUser(ctx, user); err != nil {
				return nil, fmt.Errorf("failed to provision user: %w", err)
			}
		}
		link := &domain.FederatedIdentity{
			ID:        uuid.NewString(),
			UserID:    user.ID,
			Provider:  in.Provider,
			Subject:   in.Subject,
			Email:     in.Email,
			CreatedAt: time.Now().UTC(),
			UpdatedAt: time.Now().UTC(),
		}
		if err := s.identities.LinkIdentity(ctx, link); err != nil {
			return nil, fmt.Errorf("failed to link identity: %w", err)
		}
	}

	if !user.IsActive() {
		return nil, serrors.ErrUserInactive
	}

	return s.establishSession(ctx, user, in.ClientType, domain.MFALevelAAL1, false, in.IPAddress, in.UserAgent)
}

// consumeLoginToken runs the shared one-shot redemption path: parse, fetch,
// verify envelope, check expiry, then conditionally delete so exactly one
// redemption wins.
func (s *AuthService) consumeLoginToken(ctx context.Context, raw string, kind TokenKind, recordKind domain.LoginTokenKind) (*domain.LoginToken, error) {
	tok, err := ParseTokenAs(raw, kind)
	if err != nil {
		return nil, serrors.ErrTokenMalformed
	}

	record, err := s.loginTokens.GetLoginTokenByID(ctx, tok.ID)
	if err != nil {
		return nil, serrors.ErrTokenNotFound
	}
	if record.Kind != recordKind {
		return nil, serrors.ErrTokenNotFound
	}
	if !s.hasher.Verify(record.TokenEnvelope, tok.Secret) {
		return nil, serrors.ErrTokenNotFound
	}
	if record.IsExpired(time.Now().UTC()) {
		return nil, serrors.ErrTokenExpired
	}

	consumed, err := s.loginTokens.ConsumeLoginToken(ctx, record.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to consume login token: %w", err)
	}
	if !consumed {
		return nil, serrors.ErrTokenConsumed
	}
	return record, nil
}

// establishSession opens the session, starts a refresh family and signs the
// first access token.
func (s *AuthService) establishSession(ctx context.Context, user *domain.User, clientType domain.ClientType, mfa domain.MFALevel, rememberMe bool, ip, userAgent string) (*LoginResult, error) {
	session, sessionToken, err := s.sessions.CreateSession(ctx, CreateSessionInput{
		UserID:     user.ID,
		ClientType: clientType,
		MFALevel:   mfa,
		RememberMe: rememberMe,
		IPAddress:  ip,
		UserAgent:  userAgent,
	})
	if err != nil {
		return nil, err
	}

	_, rawRefresh, err := s.refresh.Issue(ctx, IssueRefreshInput{
		UserID:    user.ID,
		SessionID: session.ID,
	})
	if err != nil {
		return nil, err
	}

	access, expiresIn, err := s.signForSession(ctx, user, session)
	if err != nil {
		return nil, err
	}

	if err := s.users.RecordLogin(ctx, user.ID, time.Now().UTC()); err != nil {
		log.Warn().Err(err).Str("user_id", user.ID).Msg("failed to record login time")
	}

	s.sink.Emit(ctx, audit.Event{
		Action:    audit.ActionLogin,
		UserID:    user.ID,
		SessionID: session.ID,
		IP:        ip,
		Success:   true,
	})

	return &LoginResult{
		User:         user,
		Session:      session,
		SessionToken: sessionToken,
		RefreshToken: rawRefresh,
		AccessToken:  access,
		ExpiresIn:    expiresIn,
	}, nil
}

// signForSession signs a first-party access token: the scope set comes from
// the user's workspace role rather than an OAuth consent.
func (s *AuthService) signForSession(ctx context.Context, user *domain.User, session *domain.Session) (string, int, error) {
	resolved, err := s.resolver.ResolveForToken(ctx, user.ID, "")
	if err != nil {
		return "", 0, err
	}

	access, _, err := s.issuer.SignAccessToken(AccessTokenInput{
		Subject:           user.ID,
		PrincipalType:     domain.PrincipalUser,
		SessionID:         session.ID,
		WorkspaceID:       resolved.ActiveWorkspaceID,
		AllowedWorkspaces: resolved.AllowedWorkspaces,
		ClientType:        session.ClientType,
		MFALevel:          session.MFALevel,
		ReauthAt:          session.ReauthAt,
		Scopes:            resolved.Scopes,
	})
	if err != nil {
		return "", 0, fmt.Errorf("failed to sign access token: %w", err)
	}
	return access, int(s.issuer.AccessTokenTTL().Seconds()), nil
}

func (s *AuthService) auditLoginFailure(ctx context.Context, userID, ip, detail string) {
	s.sink.Emit(ctx, audit.Event{
		Action:  audit.ActionLoginFailed,
		UserID:  userID,
		IP:      ip,
		Details: detail,
		Success: false,
	})
}
