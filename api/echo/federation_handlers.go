package echo

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/sunbeamfin/beacon"
	"github.com/sunbeamfin/beacon/domain"
	"github.com/sunbeamfin/beacon/internal/federation"
)

// FederationStartHandler serves GET /auth/federation/:provider. It parks a
// random state value in a cookie and sends the browser to the provider's
// consent screen.
func (a *API) FederationStartHandler(c echo.Context) error {
	provider, err := a.providers.Get(c.Param("provider"))
	if err != nil {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "unknown_provider"})
	}

	state, err := federation.NewState()
	if err != nil {
		log.Error().Err(err).Msg("failed to generate oauth state")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal_error"})
	}

	c.SetCookie(&http.Cookie{
		Name:     stateCookieName,
		Value:    state,
		Path:     "/auth/federation",
		MaxAge:   600,
		HttpOnly: true,
		Secure:   a.config.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	return c.Redirect(http.StatusFound, provider.AuthCodeURL(state))
}

// FederationCallbackHandler serves GET /auth/federation/:provider/callback.
// The state cookie has to match the state echoed by the provider before the
// code is exchanged.
func (a *API) FederationCallbackHandler(c echo.Context) error {
	ctx := c.Request().Context()

	provider, err := a.providers.Get(c.Param("provider"))
	if err != nil {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "unknown_provider"})
	}
	if errCode := c.QueryParam("error"); errCode != "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": errCode})
	}

	state := c.QueryParam("state")
	cookie, err := c.Cookie(stateCookieName)
	if err != nil || state == "" || cookie.Value != state {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "state_mismatch"})
	}
	c.SetCookie(&http.Cookie{
		Name:     stateCookieName,
		Value:    "",
		Path:     "/auth/federation",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   a.config.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})

	code := c.QueryParam("code")
	if code == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid_request"})
	}

	token, err := provider.Exchange(ctx, code)
	if err != nil {
		log.Warn().Err(err).Str("provider", provider.Name()).Msg("code exchange failed")
		return c.JSON(http.StatusBadGateway, echo.Map{"error": "federation_failed"})
	}
	info, err := provider.FetchUserInfo(ctx, token)
	if err != nil {
		log.Warn().Err(err).Str("provider", provider.Name()).Msg("user info fetch failed")
		return c.JSON(http.StatusBadGateway, echo.Map{"error": "federation_failed"})
	}

	result, err := a.auth.LoginWithIdentity(ctx, beacon.IdentityLoginInput{
		Provider:   provider.Name(),
		Subject:    info.Subject,
		Email:      info.Email,
		FirstName:  info.FirstName,
		LastName:   info.LastName,
		ClientType: domain.ClientTypeWeb,
		IPAddress:  c.RealIP(),
		UserAgent:  c.Request().UserAgent(),
	})
	if err != nil {
		return authError(c, err)
	}
	return a.loginSuccess(c, result)
}
