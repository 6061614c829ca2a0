// Package middleware authenticates API requests. Bearer access tokens,
// personal access tokens and session cookies all resolve to the same
// domain.AuthContext, stored on the request context for handlers and
// scope gates downstream.
package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/sunbeamfin/beacon"
	"github.com/sunbeamfin/beacon/domain"
	serrors "github.com/sunbeamfin/beacon/errors"
)

// WorkspaceHeader carries the workspace hint for cookie-authenticated
// requests. Token-authenticated requests carry their workspace in the
// token claims instead.
const WorkspaceHeader = "X-Workspace-Id"

var errNoCredentials = errors.New("no credentials presented")

// Authenticator resolves request credentials into auth contexts.
type Authenticator struct {
	issuer     *beacon.TokenIssuer
	sessions   *beacon.SessionService
	pats       *beacon.PATService
	resolver   *beacon.WorkspaceResolver
	cookieName string
}

// NewAuthenticator creates a new Authenticator instance.
func NewAuthenticator(
	issuer *beacon.TokenIssuer,
	sessions *beacon.SessionService,
	pats *beacon.PATService,
	resolver *beacon.WorkspaceResolver,
	cookieName string,
) *Authenticator {
	return &Authenticator{
		issuer:     issuer,
		sessions:   sessions,
		pats:       pats,
		resolver:   resolver,
		cookieName: cookieName,
	}
}

// Middleware rejects requests without a valid credential. Handlers behind
// it can rely on domain.AuthContextFrom succeeding.
func (a *Authenticator) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ac, err := a.authenticate(c)
			if err != nil {
				return authnFailure(c, err)
			}
			ctx := domain.WithAuthContext(c.Request().Context(), ac)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

// authenticate tries the Authorization header first, then the session
// cookie. A present Authorization header has to validate; there is no
// fallthrough from a bad bearer token to the cookie.
func (a *Authenticator) authenticate(c echo.Context) (*domain.AuthContext, error) {
	ctx := c.Request().Context()

	if header := c.Request().Header.Get(echo.HeaderAuthorization); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
			return nil, serrors.ErrTokenMalformed
		}
		token := parts[1]
		if strings.HasPrefix(token, beacon.TokenKindPAT.Prefix()+"_") {
			return a.pats.Verify(ctx, token)
		}
		return a.fromAccessToken(token)
	}

	cookie, err := c.Cookie(a.cookieName)
	if err != nil || cookie.Value == "" {
		return nil, errNoCredentials
	}
	session, user, err := a.sessions.ResolveUser(ctx, cookie.Value)
	if err != nil {
		return nil, err
	}
	if err := a.sessions.TouchSession(ctx, session); err != nil {
		log.Warn().Err(err).Str("session_id", session.ID).Msg("failed to touch session")
	}
	return a.resolver.BuildAuthContext(ctx, user, session, c.Request().Header.Get(WorkspaceHeader))
}

func (a *Authenticator) fromAccessToken(raw string) (*domain.AuthContext, error) {
	claims, err := a.issuer.VerifyAccessToken(raw)
	if err != nil {
		return nil, serrors.ErrTokenMalformed
	}

	ac := &domain.AuthContext{
		PrincipalType:     domain.PrincipalType(claims.PrincipalType),
		SessionID:         claims.SessionID,
		ClientID:          claims.ClientID,
		ActiveWorkspaceID: claims.WorkspaceID,
		AllowedWorkspaces: claims.AllowedWorkspaces,
		Scopes:            claims.Scopes,
		MFALevel:          domain.MFALevel(claims.MFALevel),
		ActorSub:          claims.ActorSub,
	}
	if ac.PrincipalType == domain.PrincipalUser {
		ac.UserID = claims.Subject
	}
	return ac, nil
}

func authnFailure(c echo.Context, err error) error {
	switch {
	case errors.Is(err, errNoCredentials):
		c.Response().Header().Set(echo.HeaderWWWAuthenticate, `Bearer realm="beacon"`)
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	case serrors.Is(err, serrors.ErrUserInactive):
		return c.JSON(http.StatusForbidden, echo.Map{"error": "account_inactive"})
	case serrors.Is(err, serrors.ErrWorkspaceRequired):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "workspace_required"})
	case serrors.Is(err, serrors.ErrNotMember):
		return c.JSON(http.StatusForbidden, echo.Map{"error": "not_a_member"})
	default:
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid_token"})
	}
}
