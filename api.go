package beacon

import (
	"strings"

	"github.com/sunbeamfin/beacon/domain"
)

// AuthorizeRequest represents an OAuth 2.0 authorization request.
type AuthorizeRequest struct {
	ResponseType        string
	ClientID            string
	RedirectURI         string
	Scope               string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
	Nonce               string
	WorkspaceID         string
}

// Scopes splits the space-delimited scope parameter.
func (r *AuthorizeRequest) Scopes() []string {
	return strings.Fields(r.Scope)
}

// TokenRequest represents an OAuth 2.0 token request. Client credentials are
// already resolved here: when the HTTP layer sees both Basic auth and form
// fields, Basic wins.
type TokenRequest struct {
	GrantType    string
	Code         string
	RedirectURI  string
	ClientID     string
	ClientSecret string
	CodeVerifier string
	RefreshToken string
	Scope        string
	WorkspaceID  string
}

// TokenResponse represents an OAuth 2.0 token response.
type TokenResponse struct {
	AccessToken  string       `json:"access_token"`
	TokenType    string       `json:"token_type"`
	ExpiresIn    int          `json:"expires_in"`
	RefreshToken string       `json:"refresh_token,omitempty"`
	IDToken      string       `json:"id_token,omitempty"`
	Scope        string       `json:"scope,omitempty"`
	User         *UserSummary `json:"user,omitempty"`
}

// RevocationRequest represents an RFC 7009 revocation request.
type RevocationRequest struct {
	Token         string
	TokenTypeHint string
	ClientID      string
	ClientSecret  string
}

// UserSummary is the user object embedded in user-facing token responses.
type UserSummary struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// NewUserSummary builds the embedded user object from a user record.
func NewUserSummary(user *domain.User) *UserSummary {
	name := user.FirstName
	if user.LastName != "" {
		if name != "" {
			name += " "
		}
		name += user.LastName
	}
	return &UserSummary{
		ID:    user.ID,
		Email: user.Email,
		Name:  name,
	}
}

// OpenIDConfiguration represents the OpenID Connect discovery document.
//
//nolint:tagliatelle
type OpenIDConfiguration struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	UserInfoEndpoint                  string   `json:"userinfo_endpoint"`
	JwksURI                           string   `json:"jwks_uri"`
	RevocationEndpoint                string   `json:"revocation_endpoint,omitempty"`
	ScopesSupported                   []string `json:"scopes_supported"`
	ResponseTypesSupported            []string `json:"response_types_supported"`
	GrantTypesSupported               []string `json:"grant_types_supported"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported"`
	CodeChallengeMethodsSupported     []string `json:"code_challenge_methods_supported"`
	SubjectTypesSupported             []string `json:"subject_types_supported"`
	IDTokenSigningAlgValuesSupported  []string `json:"id_token_signing_alg_values_supported"`
	ClaimsSupported                   []string `json:"claims_supported,omitempty"`
}

// NewOpenIDConfiguration assembles the discovery document for the issuer.
func NewOpenIDConfiguration(issuer string) *OpenIDConfiguration {
	base := strings.TrimRight(issuer, "/")
	return &OpenIDConfiguration{
		Issuer:                base,
		AuthorizationEndpoint: base + "/oauth2/authorize",
		TokenEndpoint:         base + "/oauth2/token",
		UserInfoEndpoint:      base + "/oauth2/userinfo",
		JwksURI:               base + "/.well-known/jwks.json",
		RevocationEndpoint:    base + "/oauth2/revoke",
		ScopesSupported: []string{
			ScopeOpenID,
			domain.ScopeWorkspaceRead,
			domain.ScopeWorkspaceWrite,
			domain.ScopeWorkspaceAdmin,
			domain.ScopeBillingRead,
			domain.ScopeBillingWrite,
			domain.ScopeMembersRead,
			domain.ScopeMembersWrite,
			domain.ScopeReportsGenerate,
		},
		ResponseTypesSupported: []string{"code"},
		GrantTypesSupported: []string{
			GrantTypeAuthorizationCode,
			GrantTypeRefreshToken,
			GrantTypeClientCredentials,
		},
		TokenEndpointAuthMethodsSupported: []string{"client_secret_basic", "client_secret_post"},
		CodeChallengeMethodsSupported:     []string{PKCEMethodS256, PKCEMethodPlain},
		SubjectTypesSupported:             []string{"public"},
		IDTokenSigningAlgValuesSupported:  []string{"RS256"},
		ClaimsSupported: []string{
			"sub", "sid", "pty", "client_id", "awp", "wid", "act",
			"token_use", "client_type", "mfa_level", "reauth_at", "scp",
			"iss", "aud", "exp", "iat", "jti",
		},
	}
}
