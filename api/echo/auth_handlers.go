package echo

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sunbeamfin/beacon"
	"github.com/sunbeamfin/beacon/domain"
)

type loginRequest struct {
	Email      string `json:"email" form:"email"`
	Password   string `json:"password" form:"password"`
	TOTPCode   string `json:"totp_code" form:"totp_code"`
	ClientType string `json:"client_type" form:"client_type"`
	RememberMe bool   `json:"remember_me" form:"remember_me"`
}

// LoginHandler serves POST /auth/login.
func (a *API) LoginHandler(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid_request"})
	}
	if req.Email == "" || req.Password == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid_request"})
	}

	result, err := a.auth.LoginWithPassword(c.Request().Context(), beacon.LoginInput{
		Email:      req.Email,
		Password:   req.Password,
		TOTPCode:   req.TOTPCode,
		ClientType: parseClientType(req.ClientType),
		RememberMe: req.RememberMe,
		IPAddress:  c.RealIP(),
		UserAgent:  c.Request().UserAgent(),
	})
	if err != nil {
		return authError(c, err)
	}
	return a.loginSuccess(c, result)
}

// LogoutHandler serves POST /auth/logout. Logging out an unknown or dead
// session still succeeds; the cookie is cleared either way.
func (a *API) LogoutHandler(c echo.Context) error {
	if raw, ok := sessionTokenFromRequest(c); ok {
		if err := a.auth.Logout(c.Request().Context(), raw, c.RealIP()); err != nil {
			return authError(c, err)
		}
	}
	a.clearSessionCookie(c)
	return c.NoContent(http.StatusNoContent)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" form:"refresh_token"`
}

// RefreshHandler serves POST /auth/refresh: rotates the presented refresh
// token and returns a fresh access token. The session cookie is untouched.
func (a *API) RefreshHandler(c echo.Context) error {
	var req refreshRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid_request"})
	}
	if req.RefreshToken == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid_request"})
	}

	result, err := a.auth.RefreshSession(c.Request().Context(), req.RefreshToken, c.RealIP())
	if err != nil {
		return authError(c, err)
	}
	return c.JSON(http.StatusOK, loginResponse{
		User:         beacon.NewUserSummary(result.User),
		AccessToken:  result.AccessToken,
		TokenType:    "Bearer",
		ExpiresIn:    result.ExpiresIn,
		RefreshToken: result.RefreshToken,
	})
}

type magicLinkRequest struct {
	Email      string `json:"email" form:"email"`
	RedirectTo string `json:"redirect_to" form:"redirect_to"`
}

// MagicLinkRequestHandler serves POST /auth/magic-link. The response never
// reveals whether the address belongs to an account.
func (a *API) MagicLinkRequestHandler(c echo.Context) error {
	var req magicLinkRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid_request"})
	}
	if req.Email == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid_request"})
	}

	if err := a.auth.IssueMagicLink(c.Request().Context(), req.Email, req.RedirectTo, c.RealIP()); err != nil {
		return authError(c, err)
	}
	return c.JSON(http.StatusAccepted, echo.Map{"status": "ok"})
}

// MagicLinkVerifyHandler redeems a mailed link token. Mounted on GET for the
// link itself and on POST for programmatic redemption.
func (a *API) MagicLinkVerifyHandler(c echo.Context) error {
	token := c.FormValue("token")
	if token == "" {
		token = c.QueryParam("token")
	}
	if token == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid_request"})
	}

	result, err := a.auth.VerifyMagicLink(c.Request().Context(), token,
		parseClientType(c.FormValue("client_type")), c.RealIP(), c.Request().UserAgent())
	if err != nil {
		return authError(c, err)
	}
	return a.loginSuccess(c, result)
}

// TransferCreateHandler serves POST /auth/transfer: mints a one-shot token
// that moves the caller's session onto another device.
func (a *API) TransferCreateHandler(c echo.Context) error {
	raw, ok := sessionTokenFromRequest(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid_session"})
	}

	token, err := a.auth.CreateSessionTransfer(c.Request().Context(), raw, c.RealIP())
	if err != nil {
		return authError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"transfer_token": token,
		"expires_in":     int(beacon.DefaultSessionTransferTTL.Seconds()),
	})
}

type transferConsumeRequest struct {
	Token      string `json:"token" form:"token"`
	ClientType string `json:"client_type" form:"client_type"`
}

// TransferConsumeHandler serves POST /auth/transfer/consume on the new
// device.
func (a *API) TransferConsumeHandler(c echo.Context) error {
	var req transferConsumeRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid_request"})
	}
	if req.Token == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid_request"})
	}

	result, err := a.auth.ConsumeSessionTransfer(c.Request().Context(), req.Token,
		parseClientType(req.ClientType), c.RealIP(), c.Request().UserAgent())
	if err != nil {
		return authError(c, err)
	}
	return a.loginSuccess(c, result)
}

func parseClientType(value string) domain.ClientType {
	switch value {
	case string(domain.ClientTypeMobile):
		return domain.ClientTypeMobile
	case string(domain.ClientTypeCLI):
		return domain.ClientTypeCLI
	default:
		return domain.ClientTypeWeb
	}
}
