// Package federation implements sign-in with external identity providers.
// Each provider wraps an oauth2.Config with well-known endpoints and
// normalizes the profile it returns, which the auth service then links to
// a local account.
package federation

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"sort"

	"golang.org/x/oauth2"
)

var (
	ErrProviderNotFound = errors.New("identity provider not found or not enabled")
	ErrStateMismatch    = errors.New("oauth state parameter mismatch")
)

// ExternalUserInfo is the provider-independent slice of a user profile.
// Subject is the provider's stable user id, never the email.
type ExternalUserInfo struct {
	Subject   string
	Email     string
	FirstName string
	LastName  string
}

// Provider is one external OAuth2 identity provider.
type Provider interface {
	// Name returns the provider key, e.g. "google".
	Name() string
	// AuthCodeURL builds the URL the browser is sent to.
	AuthCodeURL(state string) string
	// Exchange redeems the callback code for a token.
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
	// FetchUserInfo loads the normalized profile behind the token.
	FetchUserInfo(ctx context.Context, token *oauth2.Token) (*ExternalUserInfo, error)
}

// Registry holds the configured providers by name.
type Registry struct {
	providers map[string]Provider
}

// NewRegistry creates a registry over the given providers.
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		r.providers[p.Name()] = p
	}
	return r
}

// Get returns the named provider.
func (r *Registry) Get(name string) (Provider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, ErrProviderNotFound
	}
	return p, nil
}

// Names lists the registered provider names in stable order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewState returns a random state parameter for CSRF protection.
func NewState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
