package echo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sunbeamfin/beacon/internal/auth"
)

func TestLoginHandler(t *testing.T) {
	ts := newTestServer(t)
	user := ts.addUser(t, "login@sunbeam.test")

	rec := ts.do(jsonRequest(http.MethodPost, "/auth/login", map[string]any{
		"email":    user.Email,
		"password": testPassword,
	}))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.NotEmpty(t, body["access_token"])
	assert.NotEmpty(t, body["refresh_token"])
	assert.Equal(t, "Bearer", body["token_type"])
	assert.Equal(t, user.Email, body["user"].(map[string]any)["email"])

	cookie := responseCookie(rec, SessionCookieName)
	require.NotNil(t, cookie)
	assert.NotEmpty(t, cookie.Value)
	assert.True(t, cookie.HttpOnly)
	assert.Equal(t, "/", cookie.Path)

	// The cookie authenticates follow-up requests.
	req := httptest.NewRequest(http.MethodGet, "/sessions", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: cookie.Value})
	rec = ts.do(req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestLoginHandlerBadCredentials(t *testing.T) {
	ts := newTestServer(t)
	user := ts.addUser(t, "badpw@sunbeam.test")

	rec := ts.do(jsonRequest(http.MethodPost, "/auth/login", map[string]any{
		"email":    user.Email,
		"password": "wrong",
	}))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid_credentials", decodeBody(t, rec)["error"])

	// Unknown accounts fail the same way.
	rec = ts.do(jsonRequest(http.MethodPost, "/auth/login", map[string]any{
		"email":    "nobody@sunbeam.test",
		"password": testPassword,
	}))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid_credentials", decodeBody(t, rec)["error"])

	rec = ts.do(jsonRequest(http.MethodPost, "/auth/login", map[string]any{"email": user.Email}))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLoginHandlerTOTP(t *testing.T) {
	ts := newTestServer(t)
	user := ts.addUser(t, "mfa@sunbeam.test")

	secret, _, err := auth.GenerateTOTPSecret("beacon", user.Email)
	require.NoError(t, err)
	user.MFAEnrolled = true
	user.TOTPSecret = secret
	require.NoError(t, ts.users.UpdateUser(context.Background(), user))

	rec := ts.do(jsonRequest(http.MethodPost, "/auth/login", map[string]any{
		"email":    user.Email,
		"password": testPassword,
	}))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "mfa_required", decodeBody(t, rec)["error"])

	code, err := totp.GenerateCode(secret, time.Now())
	require.NoError(t, err)
	rec = ts.do(jsonRequest(http.MethodPost, "/auth/login", map[string]any{
		"email":     user.Email,
		"password":  testPassword,
		"totp_code": code,
	}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestLogoutHandler(t *testing.T) {
	ts := newTestServer(t)
	user := ts.addUser(t, "logout@sunbeam.test")
	login := ts.login(t, user)

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.AddCookie(sessionCookie(login))
	rec := ts.do(req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	cleared := responseCookie(rec, SessionCookieName)
	require.NotNil(t, cleared)
	assert.Empty(t, cleared.Value)

	// The session is dead now.
	_, err := ts.sessionSvc.ValidateSessionToken(context.Background(), login.SessionToken)
	require.Error(t, err)

	// Logging out again, or without a cookie, still succeeds.
	req = httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.AddCookie(sessionCookie(login))
	require.Equal(t, http.StatusNoContent, ts.do(req).Code)
	require.Equal(t, http.StatusNoContent, ts.do(httptest.NewRequest(http.MethodPost, "/auth/logout", nil)).Code)
}

func TestRefreshHandlerRotates(t *testing.T) {
	ts := newTestServer(t)
	user := ts.addUser(t, "refresh@sunbeam.test")
	login := ts.login(t, user)

	rec := ts.do(jsonRequest(http.MethodPost, "/auth/refresh", map[string]string{
		"refresh_token": login.RefreshToken,
	}))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	next := body["refresh_token"].(string)
	assert.NotEmpty(t, body["access_token"])
	assert.NotEqual(t, login.RefreshToken, next)
	// Rotation does not reissue the session cookie.
	assert.Nil(t, responseCookie(rec, SessionCookieName))

	// Replaying the rotated-out token trips reuse detection and kills the
	// whole family, so the successor dies with it.
	rec = ts.do(jsonRequest(http.MethodPost, "/auth/refresh", map[string]string{
		"refresh_token": login.RefreshToken,
	}))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid_token", decodeBody(t, rec)["error"])

	rec = ts.do(jsonRequest(http.MethodPost, "/auth/refresh", map[string]string{
		"refresh_token": next,
	}))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMagicLinkFlowOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	user := ts.addUser(t, "magic@sunbeam.test")

	rec := ts.do(jsonRequest(http.MethodPost, "/auth/magic-link", map[string]string{
		"email": user.Email,
	}))
	require.Equal(t, http.StatusAccepted, rec.Code)

	link := ts.mailer.lastLink()
	require.NotEmpty(t, link)
	require.True(t, strings.HasPrefix(link, testIssuer+"/auth/magic-link/verify?token="))

	linkURL, err := url.Parse(link)
	require.NoError(t, err)
	verifyPath := linkURL.Path + "?" + linkURL.RawQuery

	rec = ts.do(httptest.NewRequest(http.MethodGet, verifyPath, nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.Equal(t, user.Email, body["user"].(map[string]any)["email"])
	require.NotNil(t, responseCookie(rec, SessionCookieName))

	// A link redeems exactly once.
	rec = ts.do(httptest.NewRequest(http.MethodGet, verifyPath, nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid_token", decodeBody(t, rec)["error"])
}

func TestMagicLinkRequestNeverRevealsAccounts(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(jsonRequest(http.MethodPost, "/auth/magic-link", map[string]string{
		"email": "ghost@sunbeam.test",
	}))
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Empty(t, ts.mailer.lastLink())
}

func TestSessionTransferFlowOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	user := ts.addUser(t, "transfer@sunbeam.test")
	login := ts.login(t, user)

	req := httptest.NewRequest(http.MethodPost, "/auth/transfer", nil)
	req.AddCookie(sessionCookie(login))
	rec := ts.do(req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	transferToken := body["transfer_token"].(string)
	require.NotEmpty(t, transferToken)
	assert.EqualValues(t, 60, body["expires_in"])

	rec = ts.do(jsonRequest(http.MethodPost, "/auth/transfer/consume", map[string]string{
		"token":       transferToken,
		"client_type": "mobile",
	}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	cookie := responseCookie(rec, SessionCookieName)
	require.NotNil(t, cookie)
	assert.NotEqual(t, login.SessionToken, cookie.Value)

	// One-shot: the second device cannot redeem it again.
	rec = ts.do(jsonRequest(http.MethodPost, "/auth/transfer/consume", map[string]string{
		"token": transferToken,
	}))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestTransferRequiresSession(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(httptest.NewRequest(http.MethodPost, "/auth/transfer", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid_session", decodeBody(t, rec)["error"])
}
