package echo

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/sunbeamfin/beacon"
	"github.com/sunbeamfin/beacon/domain"
	serrors "github.com/sunbeamfin/beacon/errors"
)

// AuthorizeHandler serves GET /oauth2/authorize. The user authenticates via
// the session cookie; errors before the redirect URI is validated render as
// JSON, everything after redirects back to the client per RFC 6749.
func (a *API) AuthorizeHandler(c echo.Context) error {
	ctx := c.Request().Context()

	raw, ok := sessionTokenFromRequest(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "login_required"})
	}
	session, err := a.sessions.ValidateSessionToken(ctx, raw)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "login_required"})
	}

	in := beacon.AuthorizeInput{
		UserID:              session.UserID,
		SessionID:           session.ID,
		ResponseType:        c.QueryParam("response_type"),
		ClientID:            c.QueryParam("client_id"),
		RedirectURI:         c.QueryParam("redirect_uri"),
		Scope:               c.QueryParam("scope"),
		State:               c.QueryParam("state"),
		Nonce:               c.QueryParam("nonce"),
		WorkspaceID:         c.QueryParam("workspace_id"),
		CodeChallenge:       c.QueryParam("code_challenge"),
		CodeChallengeMethod: c.QueryParam("code_challenge_method"),
	}

	result, err := a.grants.Authorize(ctx, in)
	if err != nil {
		var oauthErr *serrors.OAuth2Error
		if serrors.As(err, &oauthErr) {
			// The redirect URI checked out before this error was raised.
			return c.Redirect(http.StatusFound, errorRedirectURL(in.RedirectURI, in.State, oauthErr))
		}
		return c.JSON(http.StatusBadRequest, serrors.NewInvalidRequest("invalid client_id or redirect_uri"))
	}

	return c.Redirect(http.StatusFound, codeRedirectURL(result))
}

func codeRedirectURL(result *beacon.AuthorizeResult) string {
	u, err := url.Parse(result.RedirectURI)
	if err != nil {
		return result.RedirectURI
	}
	q := u.Query()
	q.Set("code", result.Code)
	if result.State != "" {
		q.Set("state", result.State)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func errorRedirectURL(redirectURI, state string, oauthErr *serrors.OAuth2Error) string {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return redirectURI
	}
	q := u.Query()
	q.Set("error", oauthErr.Code)
	if oauthErr.Description != "" {
		q.Set("error_description", oauthErr.Description)
	}
	if state != "" {
		q.Set("state", state)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// TokenHandler serves POST /oauth2/token. Client credentials arrive via
// Basic auth or the form body; Basic wins when both are present.
func (a *API) TokenHandler(c echo.Context) error {
	ctx := c.Request().Context()

	req := &beacon.TokenRequest{
		GrantType:    c.FormValue("grant_type"),
		Code:         c.FormValue("code"),
		RedirectURI:  c.FormValue("redirect_uri"),
		ClientID:     c.FormValue("client_id"),
		ClientSecret: c.FormValue("client_secret"),
		CodeVerifier: c.FormValue("code_verifier"),
		RefreshToken: c.FormValue("refresh_token"),
		Scope:        c.FormValue("scope"),
		WorkspaceID:  c.FormValue("workspace_id"),
	}
	if id, secret, ok := c.Request().BasicAuth(); ok {
		req.ClientID = id
		req.ClientSecret = secret
	}

	resp, err := a.grants.Token(ctx, req, c.RealIP())
	if err != nil {
		return oauthErrorResponse(c, err)
	}

	c.Response().Header().Set("Cache-Control", "no-store")
	return c.JSON(http.StatusOK, resp)
}

// RevokeHandler serves POST /oauth2/revoke. Per RFC 7009 the endpoint
// reports success whether or not the token was live.
func (a *API) RevokeHandler(c echo.Context) error {
	ctx := c.Request().Context()

	token := c.FormValue("token")
	if token == "" {
		return c.JSON(http.StatusBadRequest, serrors.NewInvalidRequest("token parameter is required"))
	}

	req := &beacon.RevocationRequest{
		Token:         token,
		TokenTypeHint: c.FormValue("token_type_hint"),
		ClientID:      c.FormValue("client_id"),
		ClientSecret:  c.FormValue("client_secret"),
	}
	if id, secret, ok := c.Request().BasicAuth(); ok {
		req.ClientID = id
		req.ClientSecret = secret
	}

	a.grants.Revoke(ctx, req, c.RealIP())
	return c.JSON(http.StatusOK, echo.Map{})
}

// UserInfoHandler serves GET /oauth2/userinfo for bearer access tokens of
// user principals.
func (a *API) UserInfoHandler(c echo.Context) error {
	ctx := c.Request().Context()

	token, ok := bearerToken(c)
	if !ok {
		c.Response().Header().Set(echo.HeaderWWWAuthenticate, `Bearer realm="beacon"`)
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing_token"})
	}
	claims, err := a.issuer.VerifyAccessToken(token)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid_token"})
	}
	if claims.PrincipalType != string(domain.PrincipalUser) {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "access_denied"})
	}

	user, err := a.users.GetUserByID(ctx, claims.Subject)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid_token"})
	}

	info := echo.Map{
		"sub":            user.ID,
		"email":          user.Email,
		"email_verified": user.IsActive(),
	}
	if name := beacon.NewUserSummary(user).Name; name != "" {
		info["name"] = name
	}
	if user.FirstName != "" {
		info["given_name"] = user.FirstName
	}
	if user.LastName != "" {
		info["family_name"] = user.LastName
	}
	if claims.WorkspaceID != "" {
		info["wid"] = claims.WorkspaceID
	}
	return c.JSON(http.StatusOK, info)
}

// JWKSHandler serves the public signing keys.
func (a *API) JWKSHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, a.keys.JWKS())
}

// OpenIDConfigurationHandler serves the OIDC discovery document.
func (a *API) OpenIDConfigurationHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, beacon.NewOpenIDConfiguration(a.config.PublicURL))
}

func bearerToken(c echo.Context) (string, bool) {
	header := c.Request().Header.Get(echo.HeaderAuthorization)
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

func oauthErrorResponse(c echo.Context, err error) error {
	var oauthErr *serrors.OAuth2Error
	if !serrors.As(err, &oauthErr) {
		log.Error().Err(err).Msg("token endpoint failed")
		oauthErr = serrors.NewServerError("request could not be processed")
	}
	if oauthErr.HTTPStatus() == http.StatusUnauthorized {
		c.Response().Header().Set(echo.HeaderWWWAuthenticate, `Basic realm="beacon"`)
	}
	return c.JSON(oauthErr.HTTPStatus(), oauthErr)
}
