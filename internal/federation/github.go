package federation

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	githubOAuth2 "golang.org/x/oauth2/github"
)

// Endpoints are package variables so tests can point them at a stub server.
var (
	GithubUserInfoEndpoint   = "https://api.github.com/user"
	GithubUserEmailsEndpoint = "https://api.github.com/user/emails"
)

// GitHubProvider implements Provider for GitHub accounts.
type GitHubProvider struct {
	cfg *oauth2.Config
}

// NewGitHubProvider configures GitHub sign-in. redirectURL is the callback
// this server registers with GitHub.
func NewGitHubProvider(clientID, clientSecret, redirectURL string) *GitHubProvider {
	return &GitHubProvider{
		cfg: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{"read:user", "user:email"},
			Endpoint:     githubOAuth2.Endpoint,
		},
	}
}

func (g *GitHubProvider) Name() string { return "github" }

func (g *GitHubProvider) AuthCodeURL(state string) string {
	return g.cfg.AuthCodeURL(state)
}

func (g *GitHubProvider) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	return g.cfg.Exchange(ctx, code)
}

// FetchUserInfo loads the profile and, when the profile email is private,
// falls back to the primary verified address from the emails endpoint.
func (g *GitHubProvider) FetchUserInfo(ctx context.Context, token *oauth2.Token) (*ExternalUserInfo, error) {
	client := g.cfg.Client(ctx, token)

	resp, err := client.Get(GithubUserInfoEndpoint)
	if err != nil {
		return nil, fmt.Errorf("github: failed to get user info: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("github: user info returned status %d: %s", resp.StatusCode, body)
	}

	var raw struct {
		ID    json.Number `json:"id"`
		Login string      `json:"login"`
		Name  string      `json:"name"`
		Email string      `json:"email"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("github: failed to decode user info: %w", err)
	}
	if raw.ID.String() == "" {
		return nil, fmt.Errorf("github: user info carries no id")
	}

	first, last := splitName(raw.Name)
	if first == "" {
		first = raw.Login
	}

	email := raw.Email
	if email == "" {
		email = g.fetchPrimaryEmail(ctx, client)
	}

	return &ExternalUserInfo{
		Subject:   raw.ID.String(),
		Email:     email,
		FirstName: first,
		LastName:  last,
	}, nil
}

// fetchPrimaryEmail returns the primary verified address, or the first
// verified one, or empty. Email lookup failures are not fatal: the caller
// can still link the identity by subject.
func (g *GitHubProvider) fetchPrimaryEmail(ctx context.Context, client *http.Client) string {
	resp, err := client.Get(GithubUserEmailsEndpoint)
	if err != nil {
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ""
	}

	var emails []struct {
		Email    string `json:"email"`
		Primary  bool   `json:"primary"`
		Verified bool   `json:"verified"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&emails); err != nil {
		return ""
	}

	for _, e := range emails {
		if e.Primary && e.Verified {
			return e.Email
		}
	}
	for _, e := range emails {
		if e.Verified {
			return e.Email
		}
	}
	return ""
}

func splitName(name string) (string, string) {
	parts := strings.SplitN(strings.TrimSpace(name), " ", 2)
	if len(parts) == 0 || parts[0] == "" {
		return "", ""
	}
	if len(parts) == 1 {
		return parts[0], ""
	}
	return parts[0], parts[1]
}

var _ Provider = (*GitHubProvider)(nil)
