package beacon

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/sunbeamfin/beacon/domain"
	serrors "github.com/sunbeamfin/beacon/errors"
	"github.com/sunbeamfin/beacon/internal/audit"
)

// Grant types served by the token endpoint.
const (
	GrantTypeAuthorizationCode = "authorization_code"
	GrantTypeRefreshToken      = "refresh_token"
	GrantTypeClientCredentials = "client_credentials"
)

// ScopeOpenID requests an id token alongside the access token.
const ScopeOpenID = "openid"

// GrantService orchestrates the OAuth2 token endpoint across client
// authentication, code consumption, refresh rotation and token signing.
type GrantService struct {
	clients  domain.ClientRepository
	users    domain.UserRepository
	codes    *AuthCodeService
	refresh  *RefreshService
	sessions *SessionService
	issuer   *TokenIssuer
	resolver *WorkspaceResolver
	hasher   *TokenHasher
	sink     audit.Sink
}

// NewGrantService creates a new GrantService instance.
func NewGrantService(
	clients domain.ClientRepository,
	users domain.UserRepository,
	codes *AuthCodeService,
	refresh *RefreshService,
	sessions *SessionService,
	issuer *TokenIssuer,
	resolver *WorkspaceResolver,
	hasher *TokenHasher,
	sink audit.Sink,
) *GrantService {
	if sink == nil {
		sink = audit.NopSink{}
	}
	return &GrantService{
		clients:  clients,
		users:    users,
		codes:    codes,
		refresh:  refresh,
		sessions: sessions,
		issuer:   issuer,
		resolver: resolver,
		hasher:   hasher,
		sink:     sink,
	}
}

// AuthorizeInput is a validated authorization request from a signed-in
// user. The API layer resolves the session before calling Authorize.
type AuthorizeInput struct {
	UserID              string
	SessionID           string
	ResponseType        string
	ClientID            string
	RedirectURI         string
	Scope               string
	State               string
	Nonce               string
	WorkspaceID         string
	CodeChallenge       string
	CodeChallengeMethod string
}

// AuthorizeResult carries the issued code and where to send it.
type AuthorizeResult struct {
	Code        string
	State       string
	RedirectURI string
}

// Authorize validates an authorization request and issues a single-use
// code. Errors split on type: a *errors.OAuth2Error is safe to redirect
// back to the validated redirect URI, while a plain error means the client
// or redirect URI itself did not check out and the caller must render the
// failure instead of redirecting.
func (s *GrantService) Authorize(ctx context.Context, in AuthorizeInput) (*AuthorizeResult, error) {
	if in.ClientID == "" {
		return nil, serrors.ErrClientNotFound
	}
	client, err := s.clients.GetClient(ctx, in.ClientID)
	if err != nil || client.IsDisabled() {
		return nil, serrors.ErrClientNotFound
	}
	if in.RedirectURI == "" || !client.HasRedirectURI(in.RedirectURI) {
		return nil, fmt.Errorf("redirect_uri is not registered for client %s", client.ID)
	}

	// From here on the redirect target is trusted, so protocol errors go
	// back to the client.
	if in.ResponseType != "code" {
		return nil, serrors.NewUnsupportedResponseType()
	}
	if !client.AllowsGrantType(GrantTypeAuthorizationCode) {
		return nil, serrors.NewUnauthorizedClient("client may not use this grant type")
	}

	scopes, scopeErr := narrowScopes(client.AllowedScopes, in.Scope)
	if scopeErr != nil {
		return nil, scopeErr
	}

	method := in.CodeChallengeMethod
	if in.CodeChallenge != "" {
		if method == "" {
			method = PKCEMethodPlain
		}
		if method != PKCEMethodS256 && method != PKCEMethodPlain {
			return nil, serrors.NewInvalidPKCE("unsupported code_challenge_method")
		}
		// Clients that must use PKCE must use the S256 method.
		if method == PKCEMethodPlain && (client.IsPublic() || client.RequirePKCE) {
			return nil, serrors.NewInvalidPKCE("this client must use the S256 method")
		}
		if len(in.CodeChallenge) < minVerifierLen || len(in.CodeChallenge) > maxVerifierLen {
			return nil, serrors.NewInvalidPKCE("code_challenge length out of range")
		}
	} else {
		if client.IsPublic() || client.RequirePKCE {
			return nil, serrors.NewPKCERequired()
		}
		method = ""
	}

	if in.WorkspaceID != "" {
		if _, err := s.resolver.ResolveForUser(ctx, in.UserID, in.WorkspaceID); err != nil {
			if serrors.Is(err, serrors.ErrNotMember) {
				return nil, serrors.NewAccessDenied("workspace not permitted")
			}
			log.Error().Err(err).Msg("failed to resolve workspace for authorization")
			return nil, serrors.NewServerError("could not complete authorization")
		}
	}

	_, rawCode, err := s.codes.Issue(ctx, IssueCodeInput{
		UserID:              in.UserID,
		SessionID:           in.SessionID,
		ClientID:            client.ID,
		RedirectURI:         in.RedirectURI,
		Scopes:              scopes,
		WorkspaceID:         in.WorkspaceID,
		CodeChallenge:       in.CodeChallenge,
		CodeChallengeMethod: method,
		Nonce:               in.Nonce,
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to issue authorization code")
		return nil, serrors.NewServerError("could not complete authorization")
	}

	return &AuthorizeResult{
		Code:        rawCode,
		State:       in.State,
		RedirectURI: in.RedirectURI,
	}, nil
}

// Token processes one token endpoint request. Every returned error is a
// *errors.OAuth2Error ready for serialization; no internal detail leaks
// into the response body.
func (s *GrantService) Token(ctx context.Context, req *TokenRequest, ip string) (*TokenResponse, error) {
	switch req.GrantType {
	case GrantTypeAuthorizationCode:
		return s.handleAuthorizationCode(ctx, req, ip)
	case GrantTypeRefreshToken:
		return s.handleRefreshToken(ctx, req, ip)
	case GrantTypeClientCredentials:
		return s.handleClientCredentials(ctx, req, ip)
	default:
		return nil, serrors.NewUnsupportedGrantType()
	}
}

// authenticateClient resolves the client and, for confidential clients,
// verifies the presented secret against its hash envelope. Failures all
// collapse into invalid_client.
func (s *GrantService) authenticateClient(ctx context.Context, clientID, clientSecret string) (*domain.Client, *serrors.OAuth2Error) {
	if clientID == "" {
		return nil, serrors.NewInvalidRequest("client_id is required")
	}

	client, err := s.clients.GetClient(ctx, clientID)
	if err != nil {
		return nil, serrors.NewInvalidClient("client authentication failed")
	}
	if client.IsDisabled() {
		return nil, serrors.NewInvalidClient("client authentication failed")
	}

	if client.Kind == domain.ClientKindConfidential {
		if clientSecret == "" {
			return nil, serrors.NewInvalidClient("client authentication failed")
		}
		if !s.hasher.Verify(client.SecretEnvelope, clientSecret) {
			return nil, serrors.NewInvalidClient("client authentication failed")
		}
	}

	return client, nil
}

func (s *GrantService) handleAuthorizationCode(ctx context.Context, req *TokenRequest, ip string) (*TokenResponse, error) {
	client, authErr := s.authenticateClient(ctx, req.ClientID, req.ClientSecret)
	if authErr != nil {
		return nil, authErr
	}
	if !client.AllowsGrantType(GrantTypeAuthorizationCode) {
		return nil, serrors.NewUnauthorizedClient("client may not use this grant type")
	}
	if req.Code == "" {
		return nil, serrors.NewInvalidRequest("code is required")
	}
	if req.RedirectURI == "" {
		return nil, serrors.NewInvalidRequest("redirect_uri is required")
	}

	// Binding mismatches surface as the same generic failure as an unknown
	// code; only PKCE problems get a specific protocol error.
	code, err := s.codes.Consume(ctx, req.Code, func(record *domain.AuthCode) error {
		if record.ClientID != client.ID {
			return serrors.ErrTokenNotFound
		}
		if record.RedirectURI != req.RedirectURI {
			return serrors.ErrTokenNotFound
		}
		if record.CodeChallenge != "" {
			if req.CodeVerifier == "" {
				return serrors.NewPKCERequired()
			}
			return VerifyPKCE(req.CodeVerifier, record.CodeChallenge, record.CodeChallengeMethod)
		}
		if req.CodeVerifier != "" {
			return serrors.ErrTokenNotFound
		}
		return nil
	})
	if err != nil {
		return nil, s.asOAuthError(err, "authorization code exchange failed")
	}

	user, err := s.users.GetUserByID(ctx, code.UserID)
	if err != nil {
		if serrors.Is(err, serrors.ErrNotFound) {
			err = serrors.ErrTokenNotFound
		}
		return nil, s.asOAuthError(err, "authorization code exchange failed")
	}
	if !user.IsActive() {
		return nil, s.asOAuthError(serrors.ErrUserInactive, "authorization code exchange failed")
	}

	// The granted session inherits the assurance level the user had when
	// they approved the authorization request.
	mfa := domain.MFALevelAAL1
	authTime := code.CreatedAt
	if code.SessionID != "" {
		if origin, err := s.sessions.GetSession(ctx, code.SessionID); err == nil {
			if origin.MFALevel != "" {
				mfa = origin.MFALevel
			}
			authTime = origin.CreatedAt
		}
	}

	session, _, err := s.sessions.CreateSession(ctx, CreateSessionInput{
		UserID:     user.ID,
		ClientType: domain.ClientTypeWeb,
		MFALevel:   mfa,
		IPAddress:  ip,
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to create session for code exchange")
		return nil, serrors.NewServerError("could not complete token exchange")
	}

	_, rawRefresh, err := s.refresh.Issue(ctx, IssueRefreshInput{
		UserID:      user.ID,
		SessionID:   session.ID,
		ClientID:    client.ID,
		WorkspaceID: code.WorkspaceID,
		Scopes:      code.Scopes,
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to issue refresh token for code exchange")
		return nil, serrors.NewServerError("could not complete token exchange")
	}

	resolved, err := s.resolver.ResolveForToken(ctx, user.ID, code.WorkspaceID)
	if err != nil {
		return nil, s.asOAuthError(err, "authorization code exchange failed")
	}

	access, _, err := s.issuer.SignAccessToken(AccessTokenInput{
		Subject:           user.ID,
		PrincipalType:     domain.PrincipalUser,
		SessionID:         session.ID,
		ClientID:          client.ID,
		WorkspaceID:       resolved.ActiveWorkspaceID,
		AllowedWorkspaces: resolved.AllowedWorkspaces,
		ClientType:        session.ClientType,
		MFALevel:          session.MFALevel,
		Scopes:            code.Scopes,
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to sign access token")
		return nil, serrors.NewServerError("could not complete token exchange")
	}

	resp := &TokenResponse{
		AccessToken:  access,
		TokenType:    "Bearer",
		ExpiresIn:    int(s.issuer.AccessTokenTTL().Seconds()),
		RefreshToken: rawRefresh,
		Scope:        strings.Join(code.Scopes, " "),
		User:         NewUserSummary(user),
	}

	if hasScope(code.Scopes, ScopeOpenID) {
		idToken, err := s.issuer.SignIDToken(user, client.ID, code.Nonce, authTime)
		if err != nil {
			log.Error().Err(err).Msg("failed to sign id token")
			return nil, serrors.NewServerError("could not complete token exchange")
		}
		resp.IDToken = idToken
	}

	return resp, nil
}

func (s *GrantService) handleRefreshToken(ctx context.Context, req *TokenRequest, ip string) (*TokenResponse, error) {
	client, authErr := s.authenticateClient(ctx, req.ClientID, req.ClientSecret)
	if authErr != nil {
		return nil, authErr
	}
	if !client.AllowsGrantType(GrantTypeRefreshToken) {
		return nil, serrors.NewUnauthorizedClient("client may not use this grant type")
	}
	if req.RefreshToken == "" {
		return nil, serrors.NewInvalidRequest("refresh_token is required")
	}

	result, err := s.refresh.Rotate(ctx, req.RefreshToken, client.ID, ip)
	if err != nil {
		return nil, s.asOAuthError(err, "refresh token exchange failed")
	}

	resolved, err := s.resolver.ResolveForToken(ctx, result.User.ID, result.Token.WorkspaceID)
	if err != nil {
		return nil, s.asOAuthError(err, "refresh token exchange failed")
	}

	access, _, err := s.issuer.SignAccessToken(AccessTokenInput{
		Subject:           result.User.ID,
		PrincipalType:     domain.PrincipalUser,
		SessionID:         result.Session.ID,
		ClientID:          client.ID,
		WorkspaceID:       resolved.ActiveWorkspaceID,
		AllowedWorkspaces: resolved.AllowedWorkspaces,
		ClientType:        result.Session.ClientType,
		MFALevel:          result.Session.MFALevel,
		ReauthAt:          result.Session.ReauthAt,
		Scopes:            result.Token.Scopes,
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to sign access token")
		return nil, serrors.NewServerError("could not complete token exchange")
	}

	return &TokenResponse{
		AccessToken:  access,
		TokenType:    "Bearer",
		ExpiresIn:    int(s.issuer.AccessTokenTTL().Seconds()),
		RefreshToken: result.RawToken,
		Scope:        strings.Join(result.Token.Scopes, " "),
		User:         NewUserSummary(result.User),
	}, nil
}

func (s *GrantService) handleClientCredentials(ctx context.Context, req *TokenRequest, ip string) (*TokenResponse, error) {
	client, authErr := s.authenticateClient(ctx, req.ClientID, req.ClientSecret)
	if authErr != nil {
		return nil, authErr
	}
	if client.IsPublic() {
		return nil, serrors.NewUnauthorizedClient("public clients may not use client_credentials")
	}
	if !client.AllowsGrantType(GrantTypeClientCredentials) {
		return nil, serrors.NewUnauthorizedClient("client may not use this grant type")
	}

	scopes, scopeErr := narrowScopes(client.AllowedScopes, req.Scope)
	if scopeErr != nil {
		return nil, scopeErr
	}

	resolved, err := s.resolver.ResolveForClient(ctx, client, req.WorkspaceID)
	if err != nil {
		switch {
		case serrors.Is(err, serrors.ErrWorkspaceRequired):
			return nil, serrors.NewInvalidRequest("workspace_id is required for this client")
		case serrors.Is(err, serrors.ErrNotMember):
			return nil, serrors.NewUnauthorizedClient("workspace not permitted for this client")
		default:
			log.Error().Err(err).Msg("failed to resolve client workspace")
			return nil, serrors.NewServerError("could not complete token exchange")
		}
	}

	access, _, err := s.issuer.SignAccessToken(AccessTokenInput{
		Subject:           client.ID,
		PrincipalType:     domain.PrincipalClient,
		ClientID:          client.ID,
		WorkspaceID:       resolved.ActiveWorkspaceID,
		AllowedWorkspaces: resolved.AllowedWorkspaces,
		Scopes:            scopes,
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to sign access token")
		return nil, serrors.NewServerError("could not complete token exchange")
	}

	s.sink.Emit(ctx, audit.Event{
		Action:   audit.ActionClientGrant,
		ClientID: client.ID,
		IP:       ip,
		Details:  strings.Join(scopes, " "),
		Success:  true,
	})

	return &TokenResponse{
		AccessToken: access,
		TokenType:   "Bearer",
		ExpiresIn:   int(s.issuer.AccessTokenTTL().Seconds()),
		Scope:       strings.Join(scopes, " "),
	}, nil
}

// Revoke implements the revocation endpoint contract: it makes a best
// effort to revoke whatever the caller handed back and never reports
// whether anything matched.
func (s *GrantService) Revoke(ctx context.Context, req *RevocationRequest, ip string) {
	if req.Token == "" {
		return
	}
	if req.ClientID != "" {
		// Confidential callers still have to authenticate; a failed
		// authentication is the only visible rejection.
		if _, authErr := s.authenticateClient(ctx, req.ClientID, req.ClientSecret); authErr != nil {
			return
		}
	}
	s.refresh.RevokeByValue(ctx, req.Token, ip)

	// Token kinds carry disjoint prefixes, so at most one branch can match
	// and the advisory token_type_hint adds nothing. A session token tears
	// down the session together with its refresh tokens.
	if session, err := s.sessions.ValidateSessionToken(ctx, req.Token); err == nil {
		if err := s.refresh.RevokeSessionTokens(ctx, session.ID, domain.RefreshRevokedClient); err != nil {
			log.Warn().Err(err).Str("session_id", session.ID).Msg("failed to revoke session refresh tokens")
		}
		if err := s.sessions.RevokeSession(ctx, session.ID, domain.SessionRevokedUserRequested); err != nil {
			log.Warn().Err(err).Str("session_id", session.ID).Msg("failed to revoke session")
		}
	}
}

// asOAuthError folds service errors into protocol errors. OAuth2 errors
// pass through; expected sentinels become a generic invalid_grant; anything
// else is a server error worth logging.
func (s *GrantService) asOAuthError(err error, logMsg string) error {
	var oauthErr *serrors.OAuth2Error
	if serrors.As(err, &oauthErr) {
		return oauthErr
	}
	switch {
	case serrors.Is(err, serrors.ErrTokenMalformed),
		serrors.Is(err, serrors.ErrTokenNotFound),
		serrors.Is(err, serrors.ErrTokenExpired),
		serrors.Is(err, serrors.ErrTokenRevoked),
		serrors.Is(err, serrors.ErrTokenConsumed),
		serrors.Is(err, serrors.ErrSessionNotFound),
		serrors.Is(err, serrors.ErrSessionExpired),
		serrors.Is(err, serrors.ErrSessionRevoked),
		serrors.Is(err, serrors.ErrUserInactive),
		serrors.Is(err, serrors.ErrNotMember):
		return serrors.NewInvalidGrant("the provided grant is invalid, expired, or revoked")
	default:
		log.Error().Err(err).Msg(logMsg)
		return serrors.NewServerError("could not complete token exchange")
	}
}

// narrowScopes intersects the requested scope string with what the client
// is allowed. An empty request grants the full allowed set.
func narrowScopes(allowed []string, requested string) ([]string, *serrors.OAuth2Error) {
	if requested == "" {
		return append([]string(nil), allowed...), nil
	}
	var out []string
	for _, scope := range strings.Fields(requested) {
		if !hasScope(allowed, scope) {
			return nil, serrors.NewInvalidScope("requested scope is not allowed for this client")
		}
		out = append(out, scope)
	}
	return out, nil
}

func hasScope(scopes []string, want string) bool {
	for _, s := range scopes {
		if s == want {
			return true
		}
	}
	return false
}
