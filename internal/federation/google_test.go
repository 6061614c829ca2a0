package federation_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/sunbeamfin/beacon/internal/federation"
)

func TestGoogleProviderFetchUserInfo(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"sub": "1234567890",
			"name": "Ana Sol",
			"given_name": "Ana",
			"family_name": "Sol",
			"email": "ana@sunbeam.test",
			"email_verified": true
		}`))
	}))
	defer server.Close()

	original := federation.GoogleUserInfoEndpoint
	federation.GoogleUserInfoEndpoint = server.URL
	defer func() { federation.GoogleUserInfoEndpoint = original }()

	provider := federation.NewGoogleProvider("client-id", "client-secret", "https://auth.test/callback")
	token := &oauth2.Token{AccessToken: "dummy-access-token"}

	info, err := provider.FetchUserInfo(context.Background(), token)
	require.NoError(t, err)

	assert.Equal(t, "1234567890", info.Subject)
	assert.Equal(t, "ana@sunbeam.test", info.Email)
	assert.Equal(t, "Ana", info.FirstName)
	assert.Equal(t, "Sol", info.LastName)
}

func TestGoogleProviderFetchUserInfoError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	original := federation.GoogleUserInfoEndpoint
	federation.GoogleUserInfoEndpoint = server.URL
	defer func() { federation.GoogleUserInfoEndpoint = original }()

	provider := federation.NewGoogleProvider("client-id", "client-secret", "https://auth.test/callback")
	_, err := provider.FetchUserInfo(context.Background(), &oauth2.Token{AccessToken: "dummy"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
}

func TestGoogleProviderAuthCodeURL(t *testing.T) {
	provider := federation.NewGoogleProvider("client-id", "client-secret", "https://auth.test/callback")
	url := provider.AuthCodeURL("st-123")
	assert.Contains(t, url, "accounts.google.com")
	assert.Contains(t, url, "state=st-123")
	assert.Contains(t, url, "client_id=client-id")
}

func TestRegistry(t *testing.T) {
	google := federation.NewGoogleProvider("id", "secret", "https://auth.test/callback")
	github := federation.NewGitHubProvider("id", "secret", "https://auth.test/callback")
	registry := federation.NewRegistry(google, github)

	p, err := registry.Get("google")
	require.NoError(t, err)
	assert.Equal(t, "google", p.Name())

	_, err = registry.Get("gitlab")
	assert.ErrorIs(t, err, federation.ErrProviderNotFound)

	assert.Equal(t, []string{"github", "google"}, registry.Names())
}

func TestNewState(t *testing.T) {
	a, err := federation.NewState()
	require.NoError(t, err)
	b, err := federation.NewState()
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.GreaterOrEqual(t, len(a), 32)
}
