// Package echo exposes Beacon over HTTP: the OAuth2/OIDC endpoints, the
// first-party auth endpoints (password, magic link, federation, session
// transfer) and the account routes for sessions and personal access tokens.
package echo

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/sunbeamfin/beacon"
	"github.com/sunbeamfin/beacon/domain"
	serrors "github.com/sunbeamfin/beacon/errors"
	"github.com/sunbeamfin/beacon/internal/federation"
)

// SessionCookieName is the cookie carrying the opaque session token.
const SessionCookieName = "sb.session-token"

// stateCookieName pins the OAuth state of an in-flight federated login to
// the browser that started it.
const stateCookieName = "sb.oauth-state"

// Config carries the deployment-specific knobs of the HTTP layer.
type Config struct {
	// PublicURL is the externally visible base URL, used to assemble the
	// discovery document.
	PublicURL string
	// SecureCookies marks every cookie Secure. Disable only for local
	// plain-HTTP setups.
	SecureCookies bool
}

// API bundles the services behind the HTTP surface.
type API struct {
	grants    *beacon.GrantService
	auth      *beacon.AuthService
	sessions  *beacon.SessionService
	pats      *beacon.PATService
	users     domain.UserRepository
	issuer    *beacon.TokenIssuer
	keys      *beacon.KeyStore
	providers *federation.Registry
	config    Config
}

// NewAPI creates a new API instance. The provider registry may be nil when
// no federated identity providers are configured.
func NewAPI(
	grants *beacon.GrantService,
	auth *beacon.AuthService,
	sessions *beacon.SessionService,
	pats *beacon.PATService,
	users domain.UserRepository,
	issuer *beacon.TokenIssuer,
	keys *beacon.KeyStore,
	providers *federation.Registry,
	config Config,
) *API {
	if providers == nil {
		providers = federation.NewRegistry()
	}
	return &API{
		grants:    grants,
		auth:      auth,
		sessions:  sessions,
		pats:      pats,
		users:     users,
		issuer:    issuer,
		keys:      keys,
		providers: providers,
		config:    config,
	}
}

// RegisterRoutes mounts every endpoint on the Echo instance. The authn
// middleware guards the account routes; everything else authenticates
// inline (cookie, bearer token or client credentials).
func (a *API) RegisterRoutes(e *echo.Echo, authn echo.MiddlewareFunc) {
	e.GET("/healthz", a.HealthHandler)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	e.GET("/.well-known/openid-configuration", a.OpenIDConfigurationHandler)
	e.GET("/.well-known/jwks.json", a.JWKSHandler)

	e.GET("/oauth2/authorize", a.AuthorizeHandler)
	e.POST("/oauth2/token", a.TokenHandler)
	e.POST("/oauth2/revoke", a.RevokeHandler)
	e.GET("/oauth2/userinfo", a.UserInfoHandler)

	auth := e.Group("/auth")
	auth.POST("/login", a.LoginHandler)
	auth.POST("/logout", a.LogoutHandler)
	auth.POST("/refresh", a.RefreshHandler)
	auth.POST("/magic-link", a.MagicLinkRequestHandler)
	// The emailed link is a GET; clients redeeming programmatically POST.
	auth.GET("/magic-link/verify", a.MagicLinkVerifyHandler)
	auth.POST("/magic-link/verify", a.MagicLinkVerifyHandler)
	auth.POST("/transfer", a.TransferCreateHandler)
	auth.POST("/transfer/consume", a.TransferConsumeHandler)
	auth.GET("/federation/:provider", a.FederationStartHandler)
	auth.GET("/federation/:provider/callback", a.FederationCallbackHandler)

	account := e.Group("", authn)
	account.GET("/sessions", a.ListSessionsHandler)
	account.DELETE("/sessions/:id", a.RevokeSessionHandler)
	account.POST("/pats", a.CreatePATHandler)
	account.GET("/pats", a.ListPATsHandler)
	account.DELETE("/pats/:id", a.RevokePATHandler)
}

// HealthHandler reports liveness.
func (a *API) HealthHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
}

func (a *API) setSessionCookie(c echo.Context, token string, expires time.Time) {
	c.SetCookie(&http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   a.config.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func (a *API) clearSessionCookie(c echo.Context) {
	c.SetCookie(&http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   a.config.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

// sessionTokenFromRequest pulls the raw session token off the cookie.
func sessionTokenFromRequest(c echo.Context) (string, bool) {
	cookie, err := c.Cookie(SessionCookieName)
	if err != nil || cookie.Value == "" {
		return "", false
	}
	return cookie.Value, true
}

// authError translates service errors from the first-party auth endpoints
// into JSON responses. Unknown errors become an opaque 500.
func authError(c echo.Context, err error) error {
	switch {
	case serrors.Is(err, serrors.ErrInvalidCredentials):
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid_credentials"})
	case serrors.Is(err, serrors.ErrMFARequired):
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "mfa_required"})
	case serrors.Is(err, serrors.ErrUserInactive):
		return c.JSON(http.StatusForbidden, echo.Map{"error": "account_inactive"})
	case serrors.Is(err, serrors.ErrSessionNotFound),
		serrors.Is(err, serrors.ErrSessionExpired),
		serrors.Is(err, serrors.ErrSessionRevoked):
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid_session"})
	case serrors.Is(err, serrors.ErrTokenMalformed),
		serrors.Is(err, serrors.ErrTokenNotFound),
		serrors.Is(err, serrors.ErrTokenExpired),
		serrors.Is(err, serrors.ErrTokenRevoked),
		serrors.Is(err, serrors.ErrTokenConsumed):
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid_token"})
	case serrors.Is(err, serrors.ErrWorkspaceRequired):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "workspace_required"})
	case serrors.Is(err, serrors.ErrNotMember):
		return c.JSON(http.StatusForbidden, echo.Map{"error": "not_a_member"})
	default:
		log.Error().Err(err).Msg("auth request failed")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal_error"})
	}
}

// loginResponse is the JSON body returned by every endpoint that opens a
// session. The session token itself travels only in the cookie.
type loginResponse struct {
	User         *beacon.UserSummary `json:"user"`
	AccessToken  string              `json:"access_token"`
	TokenType    string              `json:"token_type"`
	ExpiresIn    int                 `json:"expires_in"`
	RefreshToken string              `json:"refresh_token"`
}

func (a *API) loginSuccess(c echo.Context, result *beacon.LoginResult) error {
	a.setSessionCookie(c, result.SessionToken, result.Session.ExpiresAt)
	return c.JSON(http.StatusOK, loginResponse{
		User:         beacon.NewUserSummary(result.User),
		AccessToken:  result.AccessToken,
		TokenType:    "Bearer",
		ExpiresIn:    result.ExpiresIn,
		RefreshToken: result.RefreshToken,
	})
}
