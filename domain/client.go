package domain

import "time"

// ClientKind defines the kind of client application. Confidential or Public.
type ClientKind string

const (
	// ClientKindConfidential clients can securely store secrets.
	ClientKindConfidential ClientKind = "confidential"
	// ClientKindPublic clients cannot securely store secrets (mobile apps, SPAs).
	ClientKindPublic ClientKind = "public"
)

// Client represents an OAuth2 client application registered with the
// authorization server. Confidential clients carry the hash envelope of
// their secret; public clients have none and must use PKCE.
//
//nolint:tagliatelle
type Client struct {
	ID                string     `bson:"client_id" json:"client_id"`
	SecretEnvelope    string     `bson:"secret_envelope,omitempty" json:"-"`
	Kind              ClientKind `bson:"client_kind" json:"kind"`
	Name              string     `bson:"client_name" json:"name"`
	Description       string     `bson:"description,omitempty" json:"description,omitempty"`
	RedirectURIs      []string   `bson:"redirect_uris,omitempty" json:"redirect_uris,omitempty"`
	AllowedScopes     []string   `bson:"allowed_scopes,omitempty" json:"allowed_scopes,omitempty"`
	AllowedGrantTypes []string   `bson:"allowed_grant_types,omitempty" json:"allowed_grant_types,omitempty"`
	AllowedWorkspaces []string   `bson:"allowed_workspaces,omitempty" json:"allowed_workspaces,omitempty"`
	RequirePKCE       bool       `bson:"require_pkce" json:"require_pkce"`
	CreatedAt         time.Time  `bson:"created_at" json:"created_at"`
	UpdatedAt         time.Time  `bson:"updated_at" json:"updated_at"`
	DisabledAt        *time.Time `bson:"disabled_at,omitempty" json:"disabled_at,omitempty"`
}

// IsPublic reports whether the client is a public client.
func (c *Client) IsPublic() bool {
	return c.Kind == ClientKindPublic
}

// IsDisabled reports whether the client has been administratively disabled.
func (c *Client) IsDisabled() bool {
	return c.DisabledAt != nil
}

// HasRedirectURI reports whether uri exactly matches a registered redirect URI.
func (c *Client) HasRedirectURI(uri string) bool {
	for _, u := range c.RedirectURIs {
		if u == uri {
			return true
		}
	}
	return false
}

// AllowsGrantType reports whether the client may use the given grant type.
// A client with no explicit list is limited to the authorization code grant.
func (c *Client) AllowsGrantType(grantType string) bool {
	if len(c.AllowedGrantTypes) == 0 {
		return grantType == "authorization_code"
	}
	for _, g := range c.AllowedGrantTypes {
		if g == grantType {
			return true
		}
	}
	return false
}

// AllowsWorkspace reports whether the client may act within the workspace.
func (c *Client) AllowsWorkspace(workspaceID string) bool {
	for _, w := range c.AllowedWorkspaces {
		if w == workspaceID {
			return true
		}
	}
	return false
}
