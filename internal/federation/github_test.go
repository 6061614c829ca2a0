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

func TestGitHubProviderFetchUserInfo(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/user":
			_, _ = w.Write([]byte(`{
				"id": 42,
				"login": "anasol",
				"name": "Ana Sol",
				"email": "ana@sunbeam.test"
			}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	original := federation.GithubUserInfoEndpoint
	federation.GithubUserInfoEndpoint = server.URL + "/user"
	defer func() { federation.GithubUserInfoEndpoint = original }()

	provider := federation.NewGitHubProvider("client-id", "client-secret", "https://auth.test/callback")
	info, err := provider.FetchUserInfo(context.Background(), &oauth2.Token{AccessToken: "dummy"})
	require.NoError(t, err)

	assert.Equal(t, "42", info.Subject)
	assert.Equal(t, "ana@sunbeam.test", info.Email)
	assert.Equal(t, "Ana", info.FirstName)
	assert.Equal(t, "Sol", info.LastName)
}

func TestGitHubProviderPrivateEmailFallback(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/user":
			// Email hidden on the profile.
			_, _ = w.Write([]byte(`{"id": 42, "login": "anasol", "name": ""}`))
		case "/user/emails":
			_, _ = w.Write([]byte(`[
				{"email": "old@sunbeam.test", "primary": false, "verified": true},
				{"email": "ana@sunbeam.test", "primary": true, "verified": true}
			]`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	originalInfo := federation.GithubUserInfoEndpoint
	originalEmails := federation.GithubUserEmailsEndpoint
	federation.GithubUserInfoEndpoint = server.URL + "/user"
	federation.GithubUserEmailsEndpoint = server.URL + "/user/emails"
	defer func() {
		federation.GithubUserInfoEndpoint = originalInfo
		federation.GithubUserEmailsEndpoint = originalEmails
	}()

	provider := federation.NewGitHubProvider("client-id", "client-secret", "https://auth.test/callback")
	info, err := provider.FetchUserInfo(context.Background(), &oauth2.Token{AccessToken: "dummy"})
	require.NoError(t, err)

	assert.Equal(t, "ana@sunbeam.test", info.Email)
	// Display name missing, the login fills in.
	assert.Equal(t, "anasol", info.FirstName)
	assert.Empty(t, info.LastName)
}

func TestGitHubProviderAuthCodeURL(t *testing.T) {
	provider := federation.NewGitHubProvider("client-id", "client-secret", "https://auth.test/callback")
	url := provider.AuthCodeURL("st-456")
	assert.Contains(t, url, "github.com")
	assert.Contains(t, url, "state=st-456")
}
