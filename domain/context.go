package domain

import "context"

// PrincipalType says what kind of actor a credential represents.
type PrincipalType string

const (
	PrincipalUser   PrincipalType = "user"
	PrincipalClient PrincipalType = "client"
)

// AuthContext is the resolved identity attached to a request after its
// credential has been verified. Built fresh per request, never persisted.
type AuthContext struct {
	PrincipalType     PrincipalType
	UserID            string
	SessionID         string
	ClientID          string
	ActiveWorkspaceID string
	AllowedWorkspaces []string
	Roles             []Role
	Scopes            []string
	MFALevel          MFALevel
	ActorSub          string
}

// HasScope reports whether the request was granted the given scope.
func (a *AuthContext) HasScope(scope string) bool {
	for _, s := range a.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

type contextKey string

// authContextKey is the key used to store the AuthContext in a request context.
const authContextKey contextKey = "beacon_auth_context"

// WithAuthContext returns a child context carrying the resolved identity.
func WithAuthContext(ctx context.Context, ac *AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey, ac)
}

// AuthContextFrom retrieves the resolved identity from the context.
func AuthContextFrom(ctx context.Context) (*AuthContext, bool) {
	ac, ok := ctx.Value(authContextKey).(*AuthContext)
	return ac, ok
}
