package beacon

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/sunbeamfin/beacon/domain"
)

// TokenUseAccess is the token_use value stamped into every access token.
// Verifiers reject anything else, so an id token can never pass as an
// access token.
const TokenUseAccess = "access"

// Default lifetimes, overridable through TokenIssuer configuration.
const (
	DefaultAccessTokenTTL = 10 * time.Minute
	DefaultIDTokenTTL     = time.Hour
)

// AccessTokenClaims is the claim set carried by Sunbeam access tokens.
type AccessTokenClaims struct {
	PrincipalType     string           `json:"pty"`
	SessionID         string           `json:"sid,omitempty"`
	ClientID          string           `json:"client_id,omitempty"`
	AllowedWorkspaces []string         `json:"awp,omitempty"`
	WorkspaceID       string           `json:"wid,omitempty"`
	ActorSub          string           `json:"act,omitempty"`
	TokenUse          string           `json:"token_use"`
	ClientType        string           `json:"client_type,omitempty"`
	MFALevel          string           `json:"mfa_level,omitempty"`
	ReauthAt          *jwt.NumericDate `json:"reauth_at,omitempty"`
	Scopes            []string         `json:"scp,omitempty"`
	jwt.RegisteredClaims
}

// IDTokenClaims is the OIDC id token claim set, signed for the requesting
// client as audience.
type IDTokenClaims struct {
	AuthTime      *jwt.NumericDate `json:"auth_time,omitempty"`
	Nonce         string           `json:"nonce,omitempty"`
	Email         string           `json:"email,omitempty"`
	EmailVerified bool             `json:"email_verified"`
	Name          string           `json:"name,omitempty"`
	Picture       string           `json:"picture,omitempty"`
	jwt.RegisteredClaims
}

// AccessTokenInput carries everything the issuer stamps into one access token.
type AccessTokenInput struct {
	Subject           string
	PrincipalType     domain.PrincipalType
	SessionID         string
	ClientID          string
	WorkspaceID       string
	AllowedWorkspaces []string
	ActorSub          string
	ClientType        domain.ClientType
	MFALevel          domain.MFALevel
	ReauthAt          *time.Time
	Scopes            []string
}

// TokenIssuer builds and signs JWT access and id tokens.
type TokenIssuer struct {
	keys       *KeyStore
	issuer     string
	audience   string
	accessTTL  time.Duration
	idTokenTTL time.Duration
}

// NewTokenIssuer creates a new TokenIssuer instance. Zero TTLs fall back to
// the defaults.
func NewTokenIssuer(keys *KeyStore, issuer, audience string, accessTTL, idTokenTTL time.Duration) *TokenIssuer {
	if accessTTL <= 0 {
		accessTTL = DefaultAccessTokenTTL
	}
	if idTokenTTL <= 0 {
		idTokenTTL = DefaultIDTokenTTL
	}
	return &TokenIssuer{
		keys:       keys,
		issuer:     issuer,
		audience:   audience,
		accessTTL:  accessTTL,
		idTokenTTL: idTokenTTL,
	}
}

// AccessTokenTTL returns the configured access token lifetime.
func (i *TokenIssuer) AccessTokenTTL() time.Duration {
	return i.accessTTL
}

// SignAccessToken mints a signed access token and returns it with its claims.
func (i *TokenIssuer) SignAccessToken(in AccessTokenInput) (string, *AccessTokenClaims, error) {
	now := time.Now()

	claims := &AccessTokenClaims{
		PrincipalType:     string(in.PrincipalType),
		SessionID:         in.SessionID,
		ClientID:          in.ClientID,
		AllowedWorkspaces: in.AllowedWorkspaces,
		WorkspaceID:       in.WorkspaceID,
		ActorSub:          in.ActorSub,
		TokenUse:          TokenUseAccess,
		ClientType:        string(in.ClientType),
		MFALevel:          string(in.MFALevel),
		Scopes:            in.Scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Audience:  jwt.ClaimStrings{i.audience},
			Subject:   in.Subject,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.accessTTL)),
		},
	}
	if in.ReauthAt != nil {
		claims.ReauthAt = jwt.NewNumericDate(*in.ReauthAt)
	}

	signed, err := i.keys.Sign(claims)
	if err != nil {
		return "", nil, fmt.Errorf("failed to sign access token: %w", err)
	}
	return signed, claims, nil
}

// SignIDToken mints an OIDC id token for the user, addressed to the
// requesting client.
func (i *TokenIssuer) SignIDToken(user *domain.User, clientID, nonce string, authTime time.Time) (string, error) {
	now := time.Now()

	name := user.FirstName
	if user.LastName != "" {
		if name != "" {
			name += " "
		}
		name += user.LastName
	}

	claims := &IDTokenClaims{
		AuthTime:      jwt.NewNumericDate(authTime),
		Nonce:         nonce,
		Email:         user.Email,
		EmailVerified: user.Status == domain.UserStatusActive,
		Name:          name,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Audience:  jwt.ClaimStrings{clientID},
			Subject:   user.ID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.idTokenTTL)),
		},
	}

	signed, err := i.keys.Sign(claims)
	if err != nil {
		return "", fmt.Errorf("failed to sign id token: %w", err)
	}
	return signed, nil
}

// VerifyAccessToken parses and validates a signed access token: signature by
// kid, issuer, audience, expiry and token_use all have to line up.
func (i *TokenIssuer) VerifyAccessToken(raw string) (*AccessTokenClaims, error) {
	claims := &AccessTokenClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, i.keys.Keyfunc,
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithIssuer(i.issuer),
		jwt.WithAudience(i.audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid access token: %w", err)
	}
	if claims.TokenUse != TokenUseAccess {
		return nil, fmt.Errorf("unexpected token_use %q", claims.TokenUse)
	}
	return claims, nil
}
