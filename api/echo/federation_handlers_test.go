package echo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/sunbeamfin/beacon/internal/federation"
)

type stubProvider struct {
	name string
	info *federation.ExternalUserInfo
}

func (p *stubProvider) Name() string { return p.name }

func (p *stubProvider) AuthCodeURL(state string) string {
	return "https://idp.test/authorize?state=" + url.QueryEscape(state)
}

func (p *stubProvider) Exchange(_ context.Context, code string) (*oauth2.Token, error) {
	return &oauth2.Token{AccessToken: "upstream-" + code}, nil
}

func (p *stubProvider) FetchUserInfo(_ context.Context, _ *oauth2.Token) (*federation.ExternalUserInfo, error) {
	return p.info, nil
}

func googleStub() *stubProvider {
	return &stubProvider{
		name: "google",
		info: &federation.ExternalUserInfo{
			Subject:   "gsub-1001",
			Email:     "fed@sunbeam.test",
			FirstName: "Fede",
			LastName:  "Rated",
		},
	}
}

func TestFederationStartHandler(t *testing.T) {
	ts := newTestServer(t, googleStub())

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/auth/federation/google", nil))
	require.Equal(t, http.StatusFound, rec.Code)

	location := rec.Header().Get("Location")
	require.True(t, strings.HasPrefix(location, "https://idp.test/authorize?state="))

	cookie := responseCookie(rec, stateCookieName)
	require.NotNil(t, cookie)
	loc, err := url.Parse(location)
	require.NoError(t, err)
	assert.Equal(t, cookie.Value, loc.Query().Get("state"))

	rec = ts.do(httptest.NewRequest(http.MethodGet, "/auth/federation/okta", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFederationCallbackHandler(t *testing.T) {
	ts := newTestServer(t, googleStub())

	start := ts.do(httptest.NewRequest(http.MethodGet, "/auth/federation/google", nil))
	stateCookie := responseCookie(start, stateCookieName)
	require.NotNil(t, stateCookie)

	q := url.Values{}
	q.Set("state", stateCookie.Value)
	q.Set("code", "abc123")
	req := httptest.NewRequest(http.MethodGet, "/auth/federation/google/callback?"+q.Encode(), nil)
	req.AddCookie(&http.Cookie{Name: stateCookieName, Value: stateCookie.Value})
	rec := ts.do(req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.Equal(t, "fed@sunbeam.test", body["user"].(map[string]any)["email"])
	require.NotNil(t, responseCookie(rec, SessionCookieName))

	// The identity was linked; the account exists now.
	user, err := ts.users.GetUserByEmail(context.Background(), "fed@sunbeam.test")
	require.NoError(t, err)
	assert.Equal(t, "Fede", user.FirstName)
}

func TestFederationCallbackStateMismatch(t *testing.T) {
	ts := newTestServer(t, googleStub())

	start := ts.do(httptest.NewRequest(http.MethodGet, "/auth/federation/google", nil))
	stateCookie := responseCookie(start, stateCookieName)
	require.NotNil(t, stateCookie)

	q := url.Values{}
	q.Set("state", "forged-state")
	q.Set("code", "abc123")
	req := httptest.NewRequest(http.MethodGet, "/auth/federation/google/callback?"+q.Encode(), nil)
	req.AddCookie(&http.Cookie{Name: stateCookieName, Value: stateCookie.Value})
	rec := ts.do(req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "state_mismatch", decodeBody(t, rec)["error"])

	// No cookie at all fails the same check.
	req = httptest.NewRequest(http.MethodGet, "/auth/federation/google/callback?"+q.Encode(), nil)
	rec = ts.do(req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFederationCallbackProviderDenied(t *testing.T) {
	ts := newTestServer(t, googleStub())

	req := httptest.NewRequest(http.MethodGet, "/auth/federation/google/callback?error=access_denied", nil)
	rec := ts.do(req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "access_denied", decodeBody(t, rec)["error"])
}

func TestFederationCallbackMissingCode(t *testing.T) {
	ts := newTestServer(t, googleStub())

	start := ts.do(httptest.NewRequest(http.MethodGet, "/auth/federation/google", nil))
	stateCookie := responseCookie(start, stateCookieName)

	q := url.Values{}
	q.Set("state", stateCookie.Value)
	req := httptest.NewRequest(http.MethodGet, "/auth/federation/google/callback?"+q.Encode(), nil)
	req.AddCookie(&http.Cookie{Name: stateCookieName, Value: stateCookie.Value})
	rec := ts.do(req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_request", decodeBody(t, rec)["error"])
}
