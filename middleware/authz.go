package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sunbeamfin/beacon/domain"
)

// RequireScope gates a route on one granted scope. It has to run behind
// the Authenticator middleware.
func RequireScope(scope string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ac, ok := domain.AuthContextFrom(c.Request().Context())
			if !ok {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
			}
			if !ac.HasScope(scope) {
				return c.JSON(http.StatusForbidden, echo.Map{"error": "insufficient_scope"})
			}
			return next(c)
		}
	}
}

// RequireWorkspace rejects requests whose principal has not resolved an
// active workspace.
func RequireWorkspace() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ac, ok := domain.AuthContextFrom(c.Request().Context())
			if !ok {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
			}
			if ac.ActiveWorkspaceID == "" {
				return c.JSON(http.StatusBadRequest, echo.Map{"error": "workspace_required"})
			}
			return next(c)
		}
	}
}
