package echo

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPATLifecycleOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	user := ts.addUser(t, "pat@sunbeam.test")
	login := ts.login(t, user)

	req := jsonRequest(http.MethodPost, "/pats", map[string]any{
		"name":            "ci exporter",
		"scopes":          []string{"workspace:read"},
		"expires_in_days": 30,
	})
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+login.AccessToken)
	rec := ts.do(req)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	rawPAT := body["token"].(string)
	patID := body["pat"].(map[string]any)["id"].(string)
	require.NotEmpty(t, rawPAT)
	assert.Contains(t, rawPAT, "sbf_")

	// The PAT itself authenticates API requests.
	req = httptest.NewRequest(http.MethodGet, "/pats", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+rawPAT)
	rec = ts.do(req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody(t, rec)["pats"], 1)

	req = httptest.NewRequest(http.MethodDelete, "/pats/"+patID, nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+login.AccessToken)
	rec = ts.do(req)
	require.Equal(t, http.StatusNoContent, rec.Code)

	// Revoked tokens no longer authenticate but stay listed.
	req = httptest.NewRequest(http.MethodGet, "/pats", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+rawPAT)
	rec = ts.do(req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/pats", nil)
	req.AddCookie(sessionCookie(login))
	rec = ts.do(req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody(t, rec)["pats"], 1)
}

func TestCreatePATValidation(t *testing.T) {
	ts := newTestServer(t)
	user := ts.addUser(t, "patv@sunbeam.test")
	login := ts.login(t, user)

	req := jsonRequest(http.MethodPost, "/pats", map[string]any{"scopes": []string{"workspace:read"}})
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+login.AccessToken)
	rec := ts.do(req)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	// No credential at all gets cut off by the middleware.
	rec = ts.do(jsonRequest(http.MethodPost, "/pats", map[string]any{"name": "x"}))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRevokePATNotFound(t *testing.T) {
	ts := newTestServer(t)
	userA := ts.addUser(t, "owner@sunbeam.test")
	userB := ts.addUser(t, "other@sunbeam.test")
	loginA := ts.login(t, userA)
	loginB := ts.login(t, userB)

	req := jsonRequest(http.MethodPost, "/pats", map[string]any{"name": "mine"})
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+loginA.AccessToken)
	rec := ts.do(req)
	require.Equal(t, http.StatusCreated, rec.Code)
	patID := decodeBody(t, rec)["pat"].(map[string]any)["id"].(string)

	// Someone else's token id reads as missing.
	req = httptest.NewRequest(http.MethodDelete, "/pats/"+patID, nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+loginB.AccessToken)
	rec = ts.do(req)
	require.Equal(t, http.StatusNotFound, rec.Code)

	req = httptest.NewRequest(http.MethodDelete, "/pats/unknown-id", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+loginA.AccessToken)
	rec = ts.do(req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSessionManagementOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	user := ts.addUser(t, "sessions@sunbeam.test")
	first := ts.login(t, user)
	second := ts.login(t, user)

	req := httptest.NewRequest(http.MethodGet, "/sessions", nil)
	req.AddCookie(sessionCookie(first))
	rec := ts.do(req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody(t, rec)["sessions"], 2)

	// Revoke the other device's session.
	req = httptest.NewRequest(http.MethodDelete, "/sessions/"+second.Session.ID, nil)
	req.AddCookie(sessionCookie(first))
	rec = ts.do(req)
	require.Equal(t, http.StatusNoContent, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/sessions", nil)
	req.AddCookie(sessionCookie(second))
	rec = ts.do(req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRevokeSessionForeignID(t *testing.T) {
	ts := newTestServer(t)
	userA := ts.addUser(t, "sa@sunbeam.test")
	userB := ts.addUser(t, "sb@sunbeam.test")
	loginA := ts.login(t, userA)
	loginB := ts.login(t, userB)

	req := httptest.NewRequest(http.MethodDelete, "/sessions/"+loginB.Session.ID, nil)
	req.AddCookie(sessionCookie(loginA))
	rec := ts.do(req)
	require.Equal(t, http.StatusNotFound, rec.Code)

	// The target session is untouched.
	req = httptest.NewRequest(http.MethodGet, "/sessions", nil)
	req.AddCookie(sessionCookie(loginB))
	require.Equal(t, http.StatusOK, ts.do(req).Code)
}
