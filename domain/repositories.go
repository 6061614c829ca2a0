package domain

import (
	"context"
	"time"
)

// UserRepository defines methods for user account storage.
type UserRepository interface {
	CreateUser(ctx context.Context, user *User) error
	GetUserByID(ctx context.Context, id string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	UpdateUser(ctx context.Context, user *User) error
	// RecordLogin stamps last_login_at and resets the failed-attempt counter.
	RecordLogin(ctx context.Context, id string, at time.Time) error

	// RecordLoginFailure bumps the failed-attempt counter.
	RecordLoginFailure(ctx context.Context, id string) error
}

// SessionRepository defines methods for session storage.
type SessionRepository interface {
	CreateSession(ctx context.Context, session *Session) error
	GetSessionByID(ctx context.Context, id string) (*Session, error)

	// TouchSession advances last_activity_at and the rolling deadline.
	TouchSession(ctx context.Context, id string, lastActivity, expiresAt time.Time) error

	// RevokeSession marks the session revoked. Revoking an already revoked
	// session is a no-op; the original reason and timestamp are kept.
	RevokeSession(ctx context.Context, id, reason string, at time.Time) error

	// RevokeUserSessions revokes every live session of the user and returns
	// how many were transitioned.
	RevokeUserSessions(ctx context.Context, userID, reason string, at time.Time) (int64, error)

	ListUserSessions(ctx context.Context, userID string) ([]*Session, error)
	DeleteExpiredSessions(ctx context.Context, before time.Time) (int64, error)
}

// RefreshTokenRepository defines methods for refresh token storage.
type RefreshTokenRepository interface {
	CreateRefreshToken(ctx context.Context, token *RefreshToken) error
	GetRefreshTokenByID(ctx context.Context, id string) (*RefreshToken, error)

	// RevokeRefreshToken conditionally revokes a live token. It returns true
	// only when this call performed the transition; false means the token
	// was already revoked (or does not exist). Rotation relies on this to
	// serialize concurrent uses of the same token.
	RevokeRefreshToken(ctx context.Context, id, reason string, at time.Time) (bool, error)

	// MarkRefreshTokenReplaced records the successor token id on a rotated token.
	MarkRefreshTokenReplaced(ctx context.Context, id, replacedBy string) error

	// TouchRefreshTokenUsage stamps when and from where a token was presented.
	TouchRefreshTokenUsage(ctx context.Context, id string, at time.Time, ip string) error

	// RevokeFamily revokes every live token in the family and returns how
	// many were transitioned.
	RevokeFamily(ctx context.Context, familyID, reason string, at time.Time) (int64, error)

	// CountActiveInFamily counts family members that are neither revoked nor
	// expired at the given instant.
	CountActiveInFamily(ctx context.Context, familyID string, now time.Time) (int64, error)

	ListSessionRefreshTokens(ctx context.Context, sessionID string) ([]*RefreshToken, error)
	DeleteExpiredRefreshTokens(ctx context.Context, before time.Time) (int64, error)
}

// AuthCodeRepository defines methods for authorization code storage.
type AuthCodeRepository interface {
	CreateAuthCode(ctx context.Context, code *AuthCode) error
	GetAuthCodeByID(ctx context.Context, id string) (*AuthCode, error)

	// ConsumeAuthCode deletes the code record. It returns true only when this
	// call performed the delete; false means another exchange got there first.
	ConsumeAuthCode(ctx context.Context, id string) (bool, error)

	DeleteExpiredAuthCodes(ctx context.Context, before time.Time) (int64, error)
}

// ClientFilter defines filtering options for listing clients.
type ClientFilter struct {
	Kind   ClientKind
	Search string
}

// ClientRepository defines methods for OAuth2 client storage.
type ClientRepository interface {
	CreateClient(ctx context.Context, client *Client) error
	GetClient(ctx context.Context, clientID string) (*Client, error)
	UpdateClient(ctx context.Context, client *Client) error
	DeleteClient(ctx context.Context, clientID string) error
	ListClients(ctx context.Context, filter ClientFilter) ([]*Client, error)
}

// WorkspaceRepository defines methods for workspace and membership storage.
type WorkspaceRepository interface {
	CreateWorkspace(ctx context.Context, ws *Workspace) error
	GetWorkspaceByID(ctx context.Context, id string) (*Workspace, error)
	AddMembership(ctx context.Context, m *WorkspaceMembership) error
	GetMembership(ctx context.Context, workspaceID, userID string) (*WorkspaceMembership, error)
	ListUserMemberships(ctx context.Context, userID string) ([]*WorkspaceMembership, error)
}

// PATRepository defines methods for personal access token storage.
type PATRepository interface {
	CreatePAT(ctx context.Context, pat *PersonalAccessToken) error
	GetPATByID(ctx context.Context, id string) (*PersonalAccessToken, error)
	ListUserPATs(ctx context.Context, userID string) ([]*PersonalAccessToken, error)

	// RevokePAT conditionally revokes a live token, reporting whether this
	// call performed the transition.
	RevokePAT(ctx context.Context, id string, at time.Time) (bool, error)

	TouchPATUsage(ctx context.Context, id string, at time.Time) error
}

// LoginTokenRepository defines methods for one-shot login token storage.
type LoginTokenRepository interface {
	CreateLoginToken(ctx context.Context, token *LoginToken) error
	GetLoginTokenByID(ctx context.Context, id string) (*LoginToken, error)

	// ConsumeLoginToken deletes the token record, reporting whether this call
	// performed the delete. A second verify of the same link gets false.
	ConsumeLoginToken(ctx context.Context, id string) (bool, error)

	DeleteExpiredLoginTokens(ctx context.Context, before time.Time) (int64, error)
}

// FederatedIdentityRepository defines methods for external identity links.
type FederatedIdentityRepository interface {
	LinkIdentity(ctx context.Context, identity *FederatedIdentity) error
	GetByProviderSubject(ctx context.Context, provider, subject string) (*FederatedIdentity, error)
	ListUserIdentities(ctx context.Context, userID string) ([]*FederatedIdentity, error)
}
