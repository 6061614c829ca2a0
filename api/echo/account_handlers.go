package echo

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/sunbeamfin/beacon"
	"github.com/sunbeamfin/beacon/domain"
	serrors "github.com/sunbeamfin/beacon/errors"
)

// userFromContext returns the authenticated user principal, or writes the
// failure response and returns false. Client principals cannot manage
// sessions or personal access tokens.
func userFromContext(c echo.Context) (*domain.AuthContext, bool) {
	ac, ok := domain.AuthContextFrom(c.Request().Context())
	if !ok {
		_ = c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
		return nil, false
	}
	if ac.PrincipalType != domain.PrincipalUser || ac.UserID == "" {
		_ = c.JSON(http.StatusForbidden, echo.Map{"error": "user_principal_required"})
		return nil, false
	}
	return ac, true
}

type createPATRequest struct {
	Name          string   `json:"name"`
	Scopes        []string `json:"scopes"`
	WorkspaceID   string   `json:"workspace_id"`
	ExpiresInDays int      `json:"expires_in_days"`
}

type createPATResponse struct {
	// Token is the raw value, shown exactly once.
	Token string                      `json:"token"`
	PAT   *domain.PersonalAccessToken `json:"pat"`
}

// CreatePATHandler serves POST /pats.
func (a *API) CreatePATHandler(c echo.Context) error {
	ac, ok := userFromContext(c)
	if !ok {
		return nil
	}

	var req createPATRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid_request"})
	}
	if req.Name == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid_request"})
	}

	pat, raw, err := a.pats.Create(c.Request().Context(), beacon.CreatePATInput{
		UserID:      ac.UserID,
		Name:        req.Name,
		Scopes:      req.Scopes,
		WorkspaceID: req.WorkspaceID,
		ExpiresIn:   time.Duration(req.ExpiresInDays) * 24 * time.Hour,
	})
	if err != nil {
		return authError(c, err)
	}
	return c.JSON(http.StatusCreated, createPATResponse{Token: raw, PAT: pat})
}

// ListPATsHandler serves GET /pats. Revoked and expired tokens stay listed
// so the owner can audit them.
func (a *API) ListPATsHandler(c echo.Context) error {
	ac, ok := userFromContext(c)
	if !ok {
		return nil
	}

	pats, err := a.pats.List(c.Request().Context(), ac.UserID)
	if err != nil {
		return authError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"pats": pats})
}

// RevokePATHandler serves DELETE /pats/:id.
func (a *API) RevokePATHandler(c echo.Context) error {
	ac, ok := userFromContext(c)
	if !ok {
		return nil
	}

	if err := a.pats.Revoke(c.Request().Context(), ac.UserID, c.Param("id")); err != nil {
		if serrors.Is(err, serrors.ErrTokenNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "not_found"})
		}
		return authError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// ListSessionsHandler serves GET /sessions for the authenticated user.
func (a *API) ListSessionsHandler(c echo.Context) error {
	ac, ok := userFromContext(c)
	if !ok {
		return nil
	}

	sessions, err := a.sessions.ListUserSessions(c.Request().Context(), ac.UserID)
	if err != nil {
		return authError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"sessions": sessions})
}

// RevokeSessionHandler serves DELETE /sessions/:id. Only the owner may
// revoke, and a foreign session id looks identical to a missing one.
func (a *API) RevokeSessionHandler(c echo.Context) error {
	ac, ok := userFromContext(c)
	if !ok {
		return nil
	}
	ctx := c.Request().Context()

	session, err := a.sessions.GetSession(ctx, c.Param("id"))
	if err != nil || session.UserID != ac.UserID {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "not_found"})
	}

	if err := a.sessions.RevokeSession(ctx, session.ID, domain.SessionRevokedUserRequested); err != nil {
		return authError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
